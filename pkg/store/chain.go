package store

import (
	"context"
	"fmt"

	"github.com/tunogya/tkg/pkg/feature"
	"github.com/tunogya/tkg/pkg/model"
)

// FetchChain pages through a ticker's observations and reassembles the chain
func FetchChain(ctx context.Context, r ChainReader, ticker string, pageSize int) (*model.Chain, error) {
	rows, err := Paginate(ctx, pageSize, func(ctx context.Context, offset, limit int) ([]model.LabeledObservation, error) {
		return r.ObservationsPage(ctx, ticker, offset, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain for %s: %w", ticker, err)
	}
	return model.NewChain(ticker, rows), nil
}

// FetchBars pages through a ticker's raw bars
func FetchBars(ctx context.Context, r BarReader, ticker string, pageSize int) ([]model.RawBar, error) {
	bars, err := Paginate(ctx, pageSize, func(ctx context.Context, offset, limit int) ([]model.RawBar, error) {
		return r.BarsPage(ctx, ticker, offset, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bars for %s: %w", ticker, err)
	}
	return bars, nil
}

// RegenerateResult summarizes a whole-chain recompute
type RegenerateResult struct {
	ReplaceResult
	Tickers int `json:"tickers"`
}

// Regenerate recomputes observations for every ticker from current raw bars
// and replaces the stored chains in one atomic write. Every existing label is
// discarded with the observations it referenced.
func Regenerate(ctx context.Context, s interface {
	BarReader
	ObservationReplacer
}, pageSize int) (RegenerateResult, error) {
	tickers, err := s.Tickers(ctx)
	if err != nil {
		return RegenerateResult{}, fmt.Errorf("failed to list tickers: %w", err)
	}

	var all []model.Observation
	for _, ticker := range tickers {
		bars, err := FetchBars(ctx, s, ticker, pageSize)
		if err != nil {
			return RegenerateResult{}, err
		}
		all = append(all, feature.Normalize(bars)...)
	}

	res, err := s.ReplaceObservations(ctx, all)
	if err != nil {
		return RegenerateResult{}, fmt.Errorf("failed to replace observations: %w", err)
	}

	return RegenerateResult{ReplaceResult: res, Tickers: len(tickers)}, nil
}
