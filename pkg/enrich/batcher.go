// Package enrich fills in missing semantic labels for a (ticker, category)
// one bounded batch at a time.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunogya/tkg/pkg/model"
	"github.com/tunogya/tkg/pkg/store"
)

// DefaultBatchSize is the number of observations per labeling call:
// one leading context observation plus 150 transitions.
const DefaultBatchSize = 151

// ErrNoProgress is returned when a batch left as many unlabeled transitions
// as it found, whether or not it rewrote existing labels
var ErrNoProgress = errors.New("enrich: labeler made no progress")

// State of one enrichment invocation
type State int

const (
	StateIdle State = iota
	StateScanning
	StateInFlight
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateInFlight:
		return "batch-in-flight"
	case StateComplete:
		return "complete-for-now"
	default:
		return "unknown"
	}
}

// Item is one observation handed to the labeler
type Item struct {
	// Index is 1-based within the batch
	Index    int               `json:"index"`
	Position int               `json:"position"`
	Date     time.Time         `json:"date"`
	Open     float64           `json:"open"`
	High     float64           `json:"high"`
	Low      float64           `json:"low"`
	Close    float64           `json:"close"`
	Volume   int64             `json:"volume"`
	State    model.StateVector `json:"state_vector"`
	Delta    model.StateVector `json:"delta"`
}

// Request is the input of one labeling call
type Request struct {
	Ticker   string         `json:"ticker"`
	Category model.Category `json:"category"`
	// Offset is the chain position of Items[0]
	Offset int    `json:"offset"`
	Items  []Item `json:"items"`
}

// Suggestion is one labeler output: Index refers 1-based to Request.Items
type Suggestion struct {
	Index int    `json:"index"`
	Label string `json:"label"`
}

// Labeler produces transition labels for a batch
type Labeler interface {
	LabelBatch(ctx context.Context, req Request) ([]Suggestion, error)
}

// LabelerFunc adapts a function to Labeler
type LabelerFunc func(ctx context.Context, req Request) ([]Suggestion, error)

// LabelBatch calls f
func (f LabelerFunc) LabelBatch(ctx context.Context, req Request) ([]Suggestion, error) {
	return f(ctx, req)
}

// Result is the typed outcome of one invocation
type Result struct {
	Ticker     string         `json:"ticker"`
	Category   model.Category `json:"category"`
	State      State          `json:"-"`
	BatchStart int            `json:"batch_start"`
	BatchEnd   int            `json:"batch_end"`
	Suggested  int            `json:"suggested"`
	Written    int            `json:"written"`
	Remaining  int            `json:"remaining"`
	// Labels are the rows written by this invocation
	Labels []model.SemanticLabel `json:"-"`
	// Chain carries the merged label index; nil when nothing changed
	Chain *model.Chain `json:"-"`
}

// Done reports whether the category is fully labeled
func (r *Result) Done() bool {
	return r.Remaining == 0
}

// Option configures a Batcher
type Option func(*Batcher)

// WithBatchSize overrides the number of observations per call
func WithBatchSize(n int) Option {
	return func(b *Batcher) {
		if n >= 2 {
			b.batchSize = n
		}
	}
}

// WithTimeout bounds each labeling call
func WithTimeout(d time.Duration) Option {
	return func(b *Batcher) { b.timeout = d }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(b *Batcher) { b.logger = l }
}

// Batcher drives one batch per invocation. It holds no lock: callers
// serialize invocations per (ticker, category), see Guard.
type Batcher struct {
	labeler   Labeler
	writer    store.LabelWriter
	batchSize int
	timeout   time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewBatcher creates a batcher writing through w
func NewBatcher(l Labeler, w store.LabelWriter, opts ...Option) *Batcher {
	b := &Batcher{
		labeler:   l,
		writer:    w,
		batchSize: DefaultBatchSize,
		timeout:   2 * time.Minute,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// FirstGap returns the first position >= 1 lacking a label in the category, or -1
func FirstGap(chain *model.Chain, cat model.Category) int {
	for i := 1; i < chain.Len(); i++ {
		if !chain.Labels.Has(chain.Observations[i].ID, cat) {
			return i
		}
	}
	return -1
}

// Bounds returns the [start, end) batch carved around the first gap
func Bounds(gap, length, size int) (start, end int) {
	start = gap - 1
	if start < 0 {
		start = 0
	}
	end = start + size
	if end > length {
		end = length
	}
	return start, end
}

// Next labels at most one batch of the chain for a category. A fully labeled
// chain returns a complete result without calling the labeler.
func (b *Batcher) Next(ctx context.Context, chain *model.Chain, category model.Category) (*Result, error) {
	res := &Result{Ticker: chain.Ticker, Category: category, State: StateScanning}
	log := b.logger.With().Str("ticker", chain.Ticker).Str("category", string(category)).Logger()

	gap := FirstGap(chain, category)
	if gap < 0 {
		res.State = StateComplete
		return res, nil
	}

	before := remaining(chain, category)
	res.BatchStart, res.BatchEnd = Bounds(gap, chain.Len(), b.batchSize)
	req := b.buildRequest(chain, category, res.BatchStart, res.BatchEnd)

	res.State = StateInFlight
	log.Debug().Int("start", res.BatchStart).Int("end", res.BatchEnd).Msg("labeling batch")

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	suggestions, err := b.labeler.LabelBatch(callCtx, req)
	cancel()

	res.State = StateComplete
	if err != nil {
		res.Remaining = remaining(chain, category)
		log.Error().Err(err).Msg("labeling batch failed")
		return res, fmt.Errorf("failed to label %s/%s batch [%d,%d): %w", chain.Ticker, category, res.BatchStart, res.BatchEnd, err)
	}
	res.Suggested = len(suggestions)

	labels := b.mapSuggestions(chain, category, res.BatchStart, res.BatchEnd, suggestions)
	if len(labels) == 0 {
		res.Remaining = remaining(chain, category)
		log.Warn().Int("suggested", len(suggestions)).Msg("labeler made no progress")
		return res, ErrNoProgress
	}

	if err := b.writer.UpsertLabels(ctx, labels); err != nil {
		res.Remaining = remaining(chain, category)
		log.Error().Err(err).Msg("failed to store labels")
		return res, fmt.Errorf("failed to store labels: %w", err)
	}

	res.Written = len(labels)
	res.Labels = labels
	res.Chain = chain.WithLabels(chain.Labels.Merge(labels))
	res.Remaining = remaining(res.Chain, category)

	if res.Remaining >= before {
		// Only already-labeled transitions were rewritten
		log.Warn().Int("written", res.Written).Int("remaining", res.Remaining).Msg("labeler made no progress")
		return res, ErrNoProgress
	}

	log.Info().Int("written", res.Written).Int("remaining", res.Remaining).Msg("batch labeled")
	return res, nil
}

func (b *Batcher) buildRequest(chain *model.Chain, category model.Category, start, end int) Request {
	req := Request{
		Ticker:   chain.Ticker,
		Category: category,
		Offset:   start,
		Items:    make([]Item, 0, end-start),
	}
	for pos := start; pos < end; pos++ {
		o := chain.Observations[pos]
		item := Item{
			Index:    pos - start + 1,
			Position: pos,
			Date:     o.Date,
			Open:     o.Open,
			High:     o.High,
			Low:      o.Low,
			Close:    o.Close,
			Volume:   o.Volume,
			State:    o.State,
		}
		if pos > 0 {
			item.Delta = o.State.Sub(chain.Observations[pos-1].State)
		}
		req.Items = append(req.Items, item)
	}
	return req
}

// mapSuggestions converts batch-relative indexes to labels. Index N maps to
// batch[N-1]. Index 1 is the leading context observation, already labeled or
// chain position 0, so it is dropped along with out-of-range indexes and
// blank text.
func (b *Batcher) mapSuggestions(chain *model.Chain, category model.Category, start, end int, suggestions []Suggestion) []model.SemanticLabel {
	now := b.now().UTC()
	labels := make([]model.SemanticLabel, 0, len(suggestions))
	for _, s := range suggestions {
		if s.Index <= 1 || s.Index > end-start {
			continue
		}
		pos := start + s.Index - 1
		text := strings.TrimSpace(s.Label)
		if text == "" {
			continue
		}
		labels = append(labels, model.SemanticLabel{
			ObservationID: chain.Observations[pos].ID,
			Category:      category,
			Label:         text,
			Confidence:    model.DefaultConfidence,
			CreatedAt:     now,
		})
	}
	return store.DedupeLabels(labels)
}

func remaining(chain *model.Chain, cat model.Category) int {
	labeled, total := chain.Coverage(cat)
	return total - labeled
}

// Drain invokes Next until the category is complete, a batch fails, or
// maxBatches batches ran (maxBatches <= 0 means no limit). It returns the
// last result, carrying every label written by the run, and the number of
// batches that wrote labels.
func (b *Batcher) Drain(ctx context.Context, chain *model.Chain, category model.Category, maxBatches int) (*Result, int, error) {
	var written []model.SemanticLabel
	batches := 0
	for {
		res, err := b.Next(ctx, chain, category)
		if res != nil {
			written = append(written, res.Labels...)
			res.Labels = written
		}
		if err != nil {
			return res, batches, err
		}
		if res.Chain != nil {
			chain = res.Chain
			batches++
		} else {
			res.Chain = chain
		}
		if res.Done() || (maxBatches > 0 && batches >= maxBatches) {
			return res, batches, nil
		}
		if err := ctx.Err(); err != nil {
			return res, batches, err
		}
	}
}
