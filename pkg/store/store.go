package store

import (
	"context"
	"errors"

	"github.com/tunogya/tkg/pkg/model"
)

// DefaultPageSize is the row count requested per page from a backend
const DefaultPageSize = 1000

// ErrNotFound is returned when a ticker has no rows
var ErrNotFound = errors.New("store: not found")

// BarWriter persists raw bars with upsert on (ticker, date)
type BarWriter interface {
	InsertBars(ctx context.Context, bars []model.RawBar) error
}

// BarReader reads raw bars
type BarReader interface {
	// Tickers returns the distinct tickers that have raw bars, sorted
	Tickers(ctx context.Context) ([]string, error)
	// BarsPage returns up to limit bars of a ticker in ascending date order
	BarsPage(ctx context.Context, ticker string, offset, limit int) ([]model.RawBar, error)
}

// ChainReader reads the observation chain with labels attached
type ChainReader interface {
	// ObservationsPage returns up to limit observations of a ticker in ascending
	// date order, each with the labels it carries
	ObservationsPage(ctx context.Context, ticker string, offset, limit int) ([]model.LabeledObservation, error)
}

// Summarizer reads one summary row per ticker, ordered by ticker
type Summarizer interface {
	Summary(ctx context.Context) ([]model.TickerSummary, error)
}

// ObservationReplacer atomically swaps every observation for a new set.
// Labels of the replaced observations are deleted with them. Implementations
// assign identifiers to observations that have none.
type ObservationReplacer interface {
	ReplaceObservations(ctx context.Context, obs []model.Observation) (ReplaceResult, error)
}

// LabelWriter upserts labels keyed by (observation, category); last write wins
type LabelWriter interface {
	UpsertLabels(ctx context.Context, labels []model.SemanticLabel) error
}

// Resetter drops every stored row. Backends that cannot are left without it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// ReplaceResult reports what a replacement removed and wrote
type ReplaceResult struct {
	ObservationsDeleted int64 `json:"observations_deleted"`
	LabelsDeleted       int64 `json:"labels_deleted"`
	ObservationsWritten int64 `json:"observations_written"`
}

// Store is the full relational surface used by the application
type Store interface {
	BarWriter
	BarReader
	ChainReader
	Summarizer
	ObservationReplacer
	LabelWriter
	Close() error
}

// DedupeLabels keeps the last label per (observation, category), preserving first-seen order
func DedupeLabels(labels []model.SemanticLabel) []model.SemanticLabel {
	type key struct {
		id  string
		cat model.Category
	}
	pos := make(map[key]int, len(labels))
	out := make([]model.SemanticLabel, 0, len(labels))
	for _, l := range labels {
		k := key{l.ObservationID, l.Category}
		if i, ok := pos[k]; ok {
			out[i] = l
			continue
		}
		pos[k] = len(out)
		out = append(out, l)
	}
	return out
}
