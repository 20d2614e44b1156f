package feature

import (
	"sort"

	"github.com/tunogya/tkg/pkg/model"
)

// MinMaxNormalize scales values to the [0, 1] range.
// A constant series maps to all zeros.
func MinMaxNormalize(values []float64) []float64 {
	if len(values) == 0 {
		return nil
	}

	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	result := make([]float64, len(values))
	rangeVal := max - min
	if rangeVal == 0 {
		return result
	}

	for i, v := range values {
		result[i] = (v - min) / rangeVal
	}

	return result
}

// Normalize converts one ticker's ordered bars into observations.
// Output has the same length and order as the input; identifiers are left
// empty for the store to assign.
func Normalize(bars []model.RawBar) []model.Observation {
	if len(bars) == 0 {
		return nil
	}

	ratios := ExtractRatios(bars)
	scaled := [model.StateDim][]float64{
		model.ComponentROpen:    MinMaxNormalize(ratios.ROpen),
		model.ComponentRHigh:    MinMaxNormalize(ratios.RHigh),
		model.ComponentRLow:     MinMaxNormalize(ratios.RLow),
		model.ComponentRetClose: MinMaxNormalize(ratios.RetClose),
	}

	obs := make([]model.Observation, len(bars))
	for i, b := range bars {
		var state model.StateVector
		for c := range state {
			state[c] = scaled[c][i]
		}
		obs[i] = model.Observation{
			Ticker:    b.Ticker,
			Date:      b.Date,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			State:     state,
			RetClose:  ratios.RetClose[i],
			RetVolume: ratios.RetVolume[i],
		}
	}

	return obs
}

// NormalizeAll groups bars by ticker, orders each group by date and normalizes
// every group against its own statistics.
func NormalizeAll(bars []model.RawBar) map[string][]model.Observation {
	groups := make(map[string][]model.RawBar)
	for _, b := range bars {
		groups[b.Ticker] = append(groups[b.Ticker], b)
	}

	out := make(map[string][]model.Observation, len(groups))
	for ticker, g := range groups {
		sort.SliceStable(g, func(i, j int) bool { return g[i].Date.Before(g[j].Date) })
		out[ticker] = Normalize(g)
	}
	return out
}
