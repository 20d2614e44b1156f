// Package memory is an in-process Store used for tests, demos and the
// "memory" store driver.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tunogya/tkg/pkg/model"
	"github.com/tunogya/tkg/pkg/store"
)

// Store keeps bars, observations and labels in maps guarded by one RWMutex
type Store struct {
	mu     sync.RWMutex
	bars   map[string]map[string]model.RawBar // ticker -> date -> bar
	obs    map[string][]model.Observation     // ticker -> ordered chain
	byID   map[string]struct{}
	labels map[string]map[model.Category]model.SemanticLabel // observation id -> category -> label
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		bars:   make(map[string]map[string]model.RawBar),
		obs:    make(map[string][]model.Observation),
		byID:   make(map[string]struct{}),
		labels: make(map[string]map[model.Category]model.SemanticLabel),
		now:    time.Now,
	}
}

// InsertBars upserts bars on (ticker, date)
func (s *Store) InsertBars(ctx context.Context, bars []model.RawBar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range bars {
		byDate, ok := s.bars[b.Ticker]
		if !ok {
			byDate = make(map[string]model.RawBar)
			s.bars[b.Ticker] = byDate
		}
		byDate[b.DateKey()] = b
	}
	return nil
}

// Tickers returns tickers that have bars
func (s *Store) Tickers(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.bars))
	for t := range s.bars {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// BarsPage returns a date-ordered page of bars
func (s *Store) BarsPage(ctx context.Context, ticker string, offset, limit int) ([]model.RawBar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDate := s.bars[ticker]
	all := make([]model.RawBar, 0, len(byDate))
	for _, b := range byDate {
		all = append(all, b)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Date.Before(all[j].Date) })
	return page(all, offset, limit), nil
}

// ObservationsPage returns a date-ordered page of observations with labels
func (s *Store) ObservationsPage(ctx context.Context, ticker string, offset, limit int) ([]model.LabeledObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := page(s.obs[ticker], offset, limit)
	out := make([]model.LabeledObservation, len(rows))
	for i, o := range rows {
		out[i] = model.LabeledObservation{Observation: o}
		byCat := s.labels[o.ID]
		if len(byCat) == 0 {
			continue
		}
		out[i].Labels = make(map[model.Category]string, len(byCat))
		for cat, l := range byCat {
			out[i].Labels[cat] = l.Label
		}
	}
	return out, nil
}

// Summary returns ticker, latest date and count per ticker
func (s *Store) Summary(ctx context.Context) ([]model.TickerSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.TickerSummary, 0, len(s.obs))
	for ticker, chain := range s.obs {
		if len(chain) == 0 {
			continue
		}
		out = append(out, model.TickerSummary{
			Ticker:   ticker,
			LastDate: chain[len(chain)-1].Date,
			Count:    int64(len(chain)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

// ReplaceObservations swaps the whole observation set and drops every label
func (s *Store) ReplaceObservations(ctx context.Context, obs []model.Observation) (store.ReplaceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := store.ReplaceResult{
		ObservationsDeleted: int64(len(s.byID)),
		LabelsDeleted:       int64(s.labelCountLocked()),
	}

	next := make(map[string][]model.Observation)
	byID := make(map[string]struct{}, len(obs))
	now := s.now()
	for _, o := range obs {
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = now
		}
		next[o.Ticker] = append(next[o.Ticker], o)
		byID[o.ID] = struct{}{}
	}
	for _, chain := range next {
		sort.SliceStable(chain, func(i, j int) bool { return chain[i].Date.Before(chain[j].Date) })
	}

	s.obs = next
	s.byID = byID
	s.labels = make(map[string]map[model.Category]model.SemanticLabel)
	res.ObservationsWritten = int64(len(obs))
	return res, nil
}

// UpsertLabels writes labels; a label for an unknown observation fails the whole call
func (s *Store) UpsertLabels(ctx context.Context, labels []model.SemanticLabel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range labels {
		if _, ok := s.byID[l.ObservationID]; !ok {
			return fmt.Errorf("failed to upsert label: unknown observation %q", l.ObservationID)
		}
	}

	now := s.now()
	for _, l := range store.DedupeLabels(labels) {
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		if l.Confidence == 0 {
			l.Confidence = model.DefaultConfidence
		}
		byCat, ok := s.labels[l.ObservationID]
		if !ok {
			byCat = make(map[model.Category]model.SemanticLabel)
			s.labels[l.ObservationID] = byCat
		}
		byCat[l.Category] = l
	}
	return nil
}

// LabelCount returns the number of stored labels
func (s *Store) LabelCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.labelCountLocked()
}

func (s *Store) labelCountLocked() int {
	n := 0
	for _, byCat := range s.labels {
		n += len(byCat)
	}
	return n
}

// Reset drops every bar, observation and label
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars = make(map[string]map[string]model.RawBar)
	s.obs = make(map[string][]model.Observation)
	s.byID = make(map[string]struct{})
	s.labels = make(map[string]map[model.Category]model.SemanticLabel)
	return nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

func page[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	out := make([]T, end-offset)
	copy(out, all[offset:end])
	return out
}
