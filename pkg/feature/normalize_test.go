package feature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunogya/tkg/pkg/model"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func bar(ticker string, n int, open, high, low, close float64, volume int64) model.RawBar {
	return model.RawBar{Ticker: ticker, Date: day(n), Open: open, High: high, Low: low, Close: close, Volume: volume}
}

func TestMinMaxNormalize(t *testing.T) {
	t.Run("scales into unit range", func(t *testing.T) {
		got := MinMaxNormalize([]float64{2, 4, 3})
		assert.InDeltaSlice(t, []float64{0, 1, 0.5}, got, 1e-12)
	})

	t.Run("constant series is all zero", func(t *testing.T) {
		got := MinMaxNormalize([]float64{7, 7, 7})
		assert.Equal(t, []float64{0, 0, 0}, got)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, MinMaxNormalize(nil))
	})
}

func TestExtractRatios(t *testing.T) {
	bars := []model.RawBar{
		bar("AAPL", 0, 99, 101, 98, 100, 1000),
		bar("AAPL", 1, 105, 112, 104, 110, 0),
		bar("AAPL", 2, 108, 109, 97, 99, 500),
	}

	r := ExtractRatios(bars)
	require.Equal(t, 3, r.Len())

	assert.InDeltaSlice(t, []float64{0, 0.10, -0.1}, r.RetClose, 1e-12)
	assert.InDelta(t, -0.01, r.ROpen[0], 1e-12)
	assert.InDelta(t, 0.01, r.RHigh[0], 1e-12)
	assert.InDelta(t, -0.02, r.RLow[0], 1e-12)

	// First bar has no predecessor; a zero previous volume is undefined
	assert.Equal(t, 0.0, r.RetVolume[0])
	assert.InDelta(t, -1.0, r.RetVolume[1], 1e-12)
	assert.Equal(t, 0.0, r.RetVolume[2])
}

func TestExtractRatiosZeroClose(t *testing.T) {
	r := ExtractRatios([]model.RawBar{
		{Ticker: "X", Date: day(0), Open: 1, High: 1, Low: 1, Close: 0},
		{Ticker: "X", Date: day(1), Open: 1, High: 1, Low: 1, Close: 1},
	})
	assert.Equal(t, 0.0, r.ROpen[0])
	assert.Equal(t, 0.0, r.RetClose[1])
}

func TestNormalize(t *testing.T) {
	bars := []model.RawBar{
		bar("AAPL", 0, 99, 101, 98, 100, 1000),
		bar("AAPL", 1, 105, 112, 104, 110, 1200),
		bar("AAPL", 2, 108, 109, 97, 99, 600),
	}

	obs := Normalize(bars)
	require.Len(t, obs, len(bars))

	for i, o := range obs {
		assert.Equal(t, bars[i].Date, o.Date)
		assert.Equal(t, bars[i].Close, o.Close)
		assert.Empty(t, o.ID)
		for c, v := range o.State {
			assert.GreaterOrEqual(t, v, 0.0, "component %d of row %d", c, i)
			assert.LessOrEqual(t, v, 1.0, "component %d of row %d", c, i)
		}
	}

	assert.Equal(t, 0.0, obs[0].RetClose)
	assert.Equal(t, 0.0, obs[0].RetVolume)
	assert.InDelta(t, 0.10, obs[1].RetClose, 1e-12)
	assert.InDelta(t, -0.5, obs[2].RetVolume, 1e-12)

	// ret_close raw series is [0, 0.1, -0.1]: the max maps to 1, the min to 0
	assert.InDelta(t, 0.5, obs[0].State[model.ComponentRetClose], 1e-12)
	assert.InDelta(t, 1.0, obs[1].State[model.ComponentRetClose], 1e-12)
	assert.InDelta(t, 0.0, obs[2].State[model.ComponentRetClose], 1e-12)
}

func TestNormalizeScaleInvariant(t *testing.T) {
	base := []model.RawBar{
		bar("A", 0, 10, 11, 9, 10, 100),
		bar("A", 1, 10.5, 12, 10, 11, 100),
		bar("A", 2, 11, 11.5, 9.5, 10, 100),
	}
	scaled := make([]model.RawBar, len(base))
	for i, b := range base {
		scaled[i] = bar("A", i, b.Open*1000, b.High*1000, b.Low*1000, b.Close*1000, b.Volume)
	}

	a, b := Normalize(base), Normalize(scaled)
	for i := range a {
		assert.InDeltaSlice(t, a[i].State[:], b[i].State[:], 1e-9)
	}
}

func TestNormalizeConstantSeries(t *testing.T) {
	bars := []model.RawBar{
		bar("FLAT", 0, 10, 10, 10, 10, 5),
		bar("FLAT", 1, 10, 10, 10, 10, 5),
	}

	for _, o := range Normalize(bars) {
		assert.Equal(t, model.StateVector{}, o.State)
	}
}

func TestNormalizeEmpty(t *testing.T) {
	assert.Empty(t, Normalize(nil))
}

func TestNormalizeIdempotent(t *testing.T) {
	bars := []model.RawBar{
		bar("AAPL", 0, 99, 101, 98, 100, 1000),
		bar("AAPL", 1, 105, 112, 104, 110, 1200),
		bar("AAPL", 2, 108, 109, 97, 99, 600),
		bar("AAPL", 3, 100, 104, 96, 103, 900),
	}

	first, second := Normalize(bars), Normalize(bars)
	for i := range first {
		assert.InDeltaSlice(t, first[i].State[:], second[i].State[:], 1e-12)
	}
}

func TestNormalizeAll(t *testing.T) {
	bars := []model.RawBar{
		bar("MSFT", 1, 10, 11, 9, 10, 10),
		bar("AAPL", 0, 1, 1, 1, 1, 1),
		bar("MSFT", 0, 10, 12, 9, 11, 10),
	}

	out := NormalizeAll(bars)
	require.Len(t, out, 2)
	require.Len(t, out["MSFT"], 2)
	assert.Equal(t, day(0), out["MSFT"][0].Date)
	assert.Equal(t, 0.0, out["MSFT"][0].RetClose)
	assert.InDelta(t, (10.0-11.0)/11.0, out["MSFT"][1].RetClose, 1e-12)
	assert.Len(t, out["AAPL"], 1)
}
