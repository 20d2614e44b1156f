package data

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunogya/tkg/pkg/model"
	"github.com/tunogya/tkg/pkg/store"
)

// DefaultChunkSize is the number of bars written per insert
const DefaultChunkSize = 1000

var zeroTime time.Time

// Sink receives one chunk of bars
type Sink interface {
	WriteBars(ctx context.Context, bars []model.RawBar) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, bars []model.RawBar) error

// WriteBars calls f
func (f SinkFunc) WriteBars(ctx context.Context, bars []model.RawBar) error {
	return f(ctx, bars)
}

// StoreSink writes chunks straight to a bar store
func StoreSink(w store.BarWriter) Sink {
	return SinkFunc(w.InsertBars)
}

// IngestProgress tracks the progress of an ingest run
type IngestProgress struct {
	TotalBars   int `json:"total_bars"`
	WrittenBars int `json:"written_bars"`
	Chunks      int `json:"chunks"`
}

// ProgressCallback is called after every chunk
type ProgressCallback func(progress IngestProgress)

// Ingester writes bars to a sink in fixed-size chunks
type Ingester struct {
	sink       Sink
	chunkSize  int
	logger     zerolog.Logger
	onProgress ProgressCallback
	onChunk    func(n int)
}

// IngesterOption configures an Ingester
type IngesterOption func(*Ingester)

// WithChunkSize overrides DefaultChunkSize
func WithChunkSize(n int) IngesterOption {
	return func(i *Ingester) {
		if n > 0 {
			i.chunkSize = n
		}
	}
}

// WithLogger sets the ingester logger
func WithLogger(l zerolog.Logger) IngesterOption {
	return func(i *Ingester) { i.logger = l }
}

// WithProgress registers a progress callback
func WithProgress(cb ProgressCallback) IngesterOption {
	return func(i *Ingester) { i.onProgress = cb }
}

// WithChunkHook registers a hook called with the size of every written chunk
func WithChunkHook(fn func(n int)) IngesterOption {
	return func(i *Ingester) { i.onChunk = fn }
}

// NewIngester creates an ingester over sink
func NewIngester(sink Sink, opts ...IngesterOption) *Ingester {
	i := &Ingester{
		sink:      sink,
		chunkSize: DefaultChunkSize,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest writes bars chunk by chunk. Bars repeating a (ticker, date) key
// keep the last occurrence. A failed chunk stops the run; chunks already
// written stay written.
func (i *Ingester) Ingest(ctx context.Context, bars []model.RawBar) (IngestProgress, error) {
	bars = DedupeBars(bars)
	progress := IngestProgress{TotalBars: len(bars)}

	for start := 0; start < len(bars); start += i.chunkSize {
		if err := ctx.Err(); err != nil {
			return progress, err
		}

		end := start + i.chunkSize
		if end > len(bars) {
			end = len(bars)
		}
		chunk := bars[start:end]

		if err := i.sink.WriteBars(ctx, chunk); err != nil {
			i.logger.Error().Err(err).
				Int("offset", start).
				Int("size", len(chunk)).
				Msg("failed to write bar chunk")
			return progress, fmt.Errorf("failed to write bars %d-%d: %w", start, end, err)
		}

		progress.WrittenBars += len(chunk)
		progress.Chunks++
		if i.onChunk != nil {
			i.onChunk(len(chunk))
		}
		if i.onProgress != nil {
			i.onProgress(progress)
		}
	}

	i.logger.Info().
		Int("bars", progress.WrittenBars).
		Int("chunks", progress.Chunks).
		Msg("ingested bars")
	return progress, nil
}

// IngestProvider fetches every bar of the provider and ingests it
func (i *Ingester) IngestProvider(ctx context.Context, p BarProvider) (IngestProgress, error) {
	bars, err := p.FetchBars(ctx, "", zeroTime, zeroTime)
	if err != nil {
		return IngestProgress{}, fmt.Errorf("failed to fetch bars: %w", err)
	}
	return i.Ingest(ctx, bars)
}

// DedupeBars keeps the last bar per (ticker, date), preserving first-seen order
func DedupeBars(bars []model.RawBar) []model.RawBar {
	pos := make(map[string]int, len(bars))
	out := make([]model.RawBar, 0, len(bars))
	for _, b := range bars {
		k := b.Key()
		if i, ok := pos[k]; ok {
			out[i] = b
			continue
		}
		pos[k] = len(out)
		out = append(out, b)
	}
	return out
}
