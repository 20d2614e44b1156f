package data

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunogya/tkg/pkg/model"
	"github.com/tunogya/tkg/pkg/store"
	"github.com/tunogya/tkg/pkg/store/memory"
)

const sampleCSV = `Date,Open,High,Low,Close,Volume,Ticker
2024-01-03,11,12,10,11.5,2000,aapl
2024-01-02,10,11,9,10.5,1000.0,AAPL
2024-01-02,200,210,190,205,300,TSLA
not-a-date,1,1,1,1,1,AAPL
2024-01-04,abc,1,1,1,1,AAPL
2024-01-05,-1,1,1,1,1,AAPL
2024-01-06,1,1,1,1,1,
`

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseCSV(t *testing.T) {
	bars, stats, err := ParseCSV(strings.NewReader(sampleCSV), zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, ParseStats{Rows: 7, Parsed: 3, Skipped: 4}, stats)
	require.Len(t, bars, 3)

	assert.Equal(t, model.RawBar{
		Ticker: "AAPL", Date: day(2024, 1, 3),
		Open: 11, High: 12, Low: 10, Close: 11.5, Volume: 2000,
	}, bars[0])
	assert.Equal(t, int64(1000), bars[1].Volume)
	assert.Equal(t, "TSLA", bars[2].Ticker)
}

func TestParseCSVDateLayouts(t *testing.T) {
	in := "ticker,date,open,high,low,close,volume\n" +
		"X,2024-02-01T15:30:00Z,1,1,1,1,1\n" +
		"X,2024-02-02 09:00:00,1,1,1,1,1\n" +
		"X,2024/02/03,1,1,1,1,1\n"

	bars, stats, err := ParseCSV(strings.NewReader(in), zerolog.Nop())
	require.NoError(t, err)
	assert.Zero(t, stats.Skipped)
	require.Len(t, bars, 3)
	assert.Equal(t, day(2024, 2, 1), bars[0].Date)
	assert.Equal(t, day(2024, 2, 2), bars[1].Date)
	assert.Equal(t, day(2024, 2, 3), bars[2].Date)
}

func TestParseCSVMissingColumn(t *testing.T) {
	_, _, err := ParseCSV(strings.NewReader("ticker,date,open\nX,2024-01-01,1\n"), zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "high")
}

func TestParseCSVByteOrderMark(t *testing.T) {
	in := "\ufeffticker,date,open,high,low,close,volume\nX,2024-01-01,1,1,1,1,1\n"
	bars, _, err := ParseCSV(strings.NewReader(in), zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, bars, 1)
}

func TestCSVProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	p := NewCSVProvider(path, zerolog.Nop())
	ctx := context.Background()

	tickers, err := p.Tickers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "TSLA"}, tickers)

	bars, err := p.FetchBars(ctx, "aapl", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, day(2024, 1, 2), bars[0].Date)
	assert.Equal(t, day(2024, 1, 3), bars[1].Date)

	bars, err = p.FetchBars(ctx, "", day(2024, 1, 3), time.Time{})
	require.NoError(t, err)
	assert.Len(t, bars, 1)

	stats, err := p.Stats()
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Skipped)
}

func TestCSVProviderMissingFile(t *testing.T) {
	p := NewCSVProvider(filepath.Join(t.TempDir(), "missing.csv"), zerolog.Nop())
	_, err := p.Tickers(context.Background())
	assert.Error(t, err)
}

func makeBars(ticker string, n int) []model.RawBar {
	bars := make([]model.RawBar, n)
	for i := range bars {
		bars[i] = model.RawBar{
			Ticker: ticker,
			Date:   day(2020, 1, 1).AddDate(0, 0, i),
			Open:   10, High: 11, Low: 9, Close: 10,
			Volume: 100,
		}
	}
	return bars
}

func TestIngestChunks(t *testing.T) {
	s := memory.New()
	var sizes []int
	var last IngestProgress

	ing := NewIngester(StoreSink(s),
		WithChunkHook(func(n int) { sizes = append(sizes, n) }),
		WithProgress(func(p IngestProgress) { last = p }),
	)

	progress, err := ing.Ingest(context.Background(), makeBars("AAPL", 2500))
	require.NoError(t, err)
	assert.Equal(t, []int{1000, 1000, 500}, sizes)
	assert.Equal(t, IngestProgress{TotalBars: 2500, WrittenBars: 2500, Chunks: 3}, progress)
	assert.Equal(t, progress, last)

	bars, err := store.FetchBars(context.Background(), s, "AAPL", 0)
	require.NoError(t, err)
	assert.Len(t, bars, 2500)
}

func TestIngestStopsOnFailedChunk(t *testing.T) {
	calls := 0
	sink := SinkFunc(func(ctx context.Context, bars []model.RawBar) error {
		calls++
		if calls == 2 {
			return errors.New("disk full")
		}
		return nil
	})

	progress, err := NewIngester(sink, WithChunkSize(10)).Ingest(context.Background(), makeBars("X", 35))
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 10, progress.WrittenBars)
}

func TestIngestProvider(t *testing.T) {
	p := NewMemoryProvider(append(makeBars("B", 3), makeBars("A", 2)...))
	var written []model.RawBar
	sink := SinkFunc(func(ctx context.Context, bars []model.RawBar) error {
		written = append(written, bars...)
		return nil
	})

	progress, err := NewIngester(sink).IngestProvider(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 5, progress.WrittenBars)
	assert.Equal(t, "A", written[0].Ticker)
}

func TestDedupeBars(t *testing.T) {
	a := makeBars("X", 2)
	dup := a[0]
	dup.Close = 99

	out := DedupeBars([]model.RawBar{a[0], a[1], dup})
	require.Len(t, out, 2)
	assert.Equal(t, 99.0, out[0].Close)
}
