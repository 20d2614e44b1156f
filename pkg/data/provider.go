// Package data loads raw daily bars from external sources and writes them
// to the bar store.
package data

import (
	"context"
	"sort"
	"time"

	"github.com/tunogya/tkg/pkg/model"
)

// BarProvider defines the interface for fetching historical daily bars
type BarProvider interface {
	// Tickers returns the distinct tickers the provider holds, sorted
	Tickers(ctx context.Context) ([]string, error)

	// FetchBars retrieves bars of a ticker within [start, end], oldest first.
	// An empty ticker matches every ticker; zero bounds are open.
	FetchBars(ctx context.Context, ticker string, start, end time.Time) ([]model.RawBar, error)
}

// MemoryProvider implements BarProvider with in-memory storage
type MemoryProvider struct {
	bars []model.RawBar
}

// NewMemoryProvider creates a new in-memory bar provider
func NewMemoryProvider(bars []model.RawBar) *MemoryProvider {
	p := &MemoryProvider{}
	p.AddBars(bars)
	return p
}

// AddBars adds bars to the provider
func (p *MemoryProvider) AddBars(bars []model.RawBar) {
	p.bars = append(p.bars, bars...)
	sortBars(p.bars)
}

// Tickers returns the distinct tickers
func (p *MemoryProvider) Tickers(ctx context.Context) ([]string, error) {
	return tickersOf(p.bars), nil
}

// FetchBars retrieves bars within the specified date range
func (p *MemoryProvider) FetchBars(ctx context.Context, ticker string, start, end time.Time) ([]model.RawBar, error) {
	return filterBars(p.bars, ticker, start, end), nil
}

func filterBars(bars []model.RawBar, ticker string, start, end time.Time) []model.RawBar {
	ticker = model.NormalizeTicker(ticker)

	var result []model.RawBar
	for _, b := range bars {
		if ticker != "" && b.Ticker != ticker {
			continue
		}
		if !start.IsZero() && b.Date.Before(start) {
			continue
		}
		if !end.IsZero() && b.Date.After(end) {
			continue
		}
		result = append(result, b)
	}
	return result
}

func tickersOf(bars []model.RawBar) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, b := range bars {
		if _, ok := seen[b.Ticker]; ok {
			continue
		}
		seen[b.Ticker] = struct{}{}
		out = append(out, b.Ticker)
	}
	sort.Strings(out)
	return out
}

func sortBars(bars []model.RawBar) {
	sort.SliceStable(bars, func(i, j int) bool {
		if bars[i].Ticker != bars[j].Ticker {
			return bars[i].Ticker < bars[j].Ticker
		}
		return bars[i].Date.Before(bars[j].Date)
	})
}
