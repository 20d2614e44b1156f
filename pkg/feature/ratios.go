package feature

import "github.com/tunogya/tkg/pkg/model"

// Ratios holds the unscaled series derived from one ticker's bars
type Ratios struct {
	ROpen     []float64
	RHigh     []float64
	RLow      []float64
	RetClose  []float64
	RetVolume []float64
}

// Len returns the number of rows
func (r *Ratios) Len() int {
	return len(r.RetClose)
}

// RelativeToClose returns (x - close) / close, or 0 when close is 0
func RelativeToClose(x, close float64) float64 {
	if close == 0 {
		return 0
	}
	return (x - close) / close
}

// Change returns (cur - prev) / prev, or 0 when prev is 0
func Change(cur, prev float64) float64 {
	if prev == 0 {
		return 0
	}
	return (cur - prev) / prev
}

// ExtractRatios computes the close-relative ratios and day-over-day returns.
// Bars must belong to one ticker and be in ascending date order.
func ExtractRatios(bars []model.RawBar) *Ratios {
	n := len(bars)
	r := &Ratios{
		ROpen:     make([]float64, n),
		RHigh:     make([]float64, n),
		RLow:      make([]float64, n),
		RetClose:  make([]float64, n),
		RetVolume: make([]float64, n),
	}

	for i, b := range bars {
		r.ROpen[i] = RelativeToClose(b.Open, b.Close)
		r.RHigh[i] = RelativeToClose(b.High, b.Close)
		r.RLow[i] = RelativeToClose(b.Low, b.Close)

		// First bar has no predecessor
		if i == 0 {
			continue
		}
		prev := bars[i-1]
		r.RetClose[i] = Change(b.Close, prev.Close)
		r.RetVolume[i] = Change(float64(b.Volume), float64(prev.Volume))
	}

	return r
}
