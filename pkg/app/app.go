// Package app assembles the TKG components from configuration for the
// binaries in cmd/.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunogya/tkg/pkg/chat"
	"github.com/tunogya/tkg/pkg/config"
	"github.com/tunogya/tkg/pkg/data"
	"github.com/tunogya/tkg/pkg/enrich"
	"github.com/tunogya/tkg/pkg/llm"
	"github.com/tunogya/tkg/pkg/logger"
	"github.com/tunogya/tkg/pkg/metrics"
	"github.com/tunogya/tkg/pkg/model"
	natsq "github.com/tunogya/tkg/pkg/queue/nats"
	"github.com/tunogya/tkg/pkg/rerank"
	"github.com/tunogya/tkg/pkg/status"
	"github.com/tunogya/tkg/pkg/store"
	"github.com/tunogya/tkg/pkg/store/duckdb"
	"github.com/tunogya/tkg/pkg/store/memory"
	"github.com/tunogya/tkg/pkg/store/milvus"
	"github.com/tunogya/tkg/pkg/store/postgres"
	"github.com/tunogya/tkg/pkg/window"
)

// ErrNoModel is returned by model-backed operations when no LLM is configured
var ErrNoModel = errors.New("app: no language model configured")

// ErrNoIndex is returned by similar-state lookups when Milvus is disabled
var ErrNoIndex = errors.New("app: similar-state index disabled")

// ErrNoReset is returned when the store backend cannot drop its rows
var ErrNoReset = errors.New("app: store does not support reset")

// App holds the shared components of one process
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Store   store.Store
	Metrics *metrics.Recorder
	Status  *status.Tracker
	Guard   *enrich.Guard

	// LLM, Batcher are nil when no model could be configured
	LLM     *llm.Client
	Batcher *enrich.Batcher

	// Queue and Index are nil unless enabled
	Queue *natsq.Client
	Index *milvus.Client

	reranker *rerank.Reranker
}

// Option customizes New
type Option func(*App)

// WithStore injects an already open store instead of opening one from config
func WithStore(s store.Store) Option {
	return func(a *App) { a.Store = s }
}

// WithLLM injects a model client instead of building one from config
func WithLLM(c *llm.Client) Option {
	return func(a *App) { a.LLM = c }
}

// OpenStore opens the configured relational backend
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.Postgres)
	case config.DriverDuckDB, "":
		return duckdb.Open(ctx, cfg.DuckDBPath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// New opens every configured component. A model that cannot be configured
// is logged and left nil so read-only surfaces keep working.
func New(ctx context.Context, cfg *config.Config, l zerolog.Logger, opts ...Option) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   l,
		Metrics:  metrics.New(),
		Status:   status.NewTracker(cfg.Status.ClearAfter),
		Guard:    enrich.NewGuard(),
		reranker: rerank.NewReranker(cfg.Milvus.Rerank),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.Store == nil {
		s, err := OpenStore(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
		}
		a.Store = s
	}

	if a.LLM == nil {
		c, err := llm.New(ctx, cfg.LLM,
			llm.WithLogger(logger.Component(l, "llm")),
			llm.WithObserver(a.Metrics),
		)
		if err != nil {
			l.Warn().Err(err).Str("provider", cfg.LLM.Provider).Msg("language model unavailable; enrichment and chat disabled")
		} else {
			a.LLM = c
		}
	}
	if a.LLM != nil {
		a.Batcher = enrich.NewBatcher(llm.NewLabeler(a.LLM), a.Store,
			enrich.WithBatchSize(cfg.Enrich.BatchSize),
			enrich.WithTimeout(cfg.Enrich.Timeout),
			enrich.WithLogger(logger.Component(l, "enrich")),
		)
	}

	if cfg.NATS.Enabled {
		q, err := natsq.NewClient(cfg.NATS.Config, logger.Component(l, "nats"))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Queue = q
	}

	if cfg.Milvus.Enabled {
		idx, err := milvus.NewClient(ctx, cfg.Milvus.Config)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Index = idx
	}

	return a, nil
}

// NewService creates a chain session over the store
func (a *App) NewService() *window.Service {
	return window.NewService(a.Store, window.Config{
		Width:    a.Config.Window.Width,
		Lead:     a.Config.Window.SearchLead,
		Interval: a.Config.Window.AutoplayInterval,
		PageSize: a.Config.Store.PageSize,
	}, logger.Component(a.Logger, "window"))
}

// NewAssistant creates a chat assistant, or returns ErrNoModel
func (a *App) NewAssistant() (*chat.Assistant, error) {
	if a.LLM == nil {
		return nil, ErrNoModel
	}
	return chat.NewAssistant(a.LLM,
		chat.WithHistorySize(a.Config.Server.HistorySize),
		chat.WithTimeout(a.Config.LLM.Timeout),
		chat.WithLogger(logger.Component(a.Logger, "chat")),
	), nil
}

// Ingest writes bars in chunks and records the count
func (a *App) Ingest(ctx context.Context, bars []model.RawBar) (data.IngestProgress, error) {
	ing := data.NewIngester(data.StoreSink(a.Store),
		data.WithLogger(logger.Component(a.Logger, "ingest")),
		data.WithChunkHook(a.Metrics.RecordBarsIngested),
	)
	progress, err := ing.Ingest(ctx, bars)
	if err != nil {
		a.Metrics.RecordError("ingest")
	}
	return progress, err
}

// Regenerate recomputes every chain from raw bars, discarding every label,
// then refreshes the similar-state index when enabled
func (a *App) Regenerate(ctx context.Context) (store.RegenerateResult, error) {
	start := time.Now()
	res, err := store.Regenerate(ctx, a.Store, a.Config.Store.PageSize)
	a.Metrics.RecordLatency("regenerate", time.Since(start))
	if err != nil {
		a.Metrics.RecordError("regenerate")
		a.Logger.Error().Err(err).Msg("regeneration failed")
		return res, err
	}
	a.Metrics.RecordRegenerate(res.ObservationsWritten, res.LabelsDeleted)

	a.Logger.Warn().
		Int("tickers", res.Tickers).
		Int64("observations", res.ObservationsWritten).
		Int64("labels_discarded", res.LabelsDeleted).
		Msg("regenerated observation chains")

	if a.Index != nil {
		if err := a.IndexStates(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Reset drops every bar, observation and label from the store
func (a *App) Reset(ctx context.Context) error {
	r, ok := a.Store.(store.Resetter)
	if !ok {
		return ErrNoReset
	}
	if err := r.Reset(ctx); err != nil {
		a.Metrics.RecordError("reset")
		return err
	}
	a.Logger.Warn().Msg("store reset")
	return nil
}

// IndexStates rebuilds the similar-state index for every ticker
func (a *App) IndexStates(ctx context.Context) error {
	if a.Index == nil {
		return ErrNoIndex
	}
	collection := a.Config.Milvus.Collection
	if err := a.Index.EnsureCollection(ctx, milvus.CollectionConfig{Name: collection, Shards: 2}); err != nil {
		a.Metrics.RecordError("index")
		return err
	}

	summary, err := a.Store.Summary(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tickers: %w", err)
	}
	for _, row := range summary {
		chain, err := store.FetchChain(ctx, a.Store, row.Ticker, a.Config.Store.PageSize)
		if err != nil {
			return err
		}
		if err := a.Index.ReplaceTicker(ctx, collection, row.Ticker, chain.Observations); err != nil {
			a.Metrics.RecordError("index")
			a.Logger.Error().Err(err).Str("ticker", row.Ticker).Msg("failed to index states")
			return err
		}
		a.Logger.Info().Str("ticker", row.Ticker).Int("states", chain.Len()).Msg("indexed states")
	}
	return nil
}

// Similar is the answer to a similar-state lookup
type Similar struct {
	Query model.Observation     `json:"query"`
	Hits  []rerank.RankedResult `json:"hits"`
}

// SimilarStates finds historical states nearest to the observation of
// ticker on date, across every ticker, strictly before that date
func (a *App) SimilarStates(ctx context.Context, ticker string, date time.Time, topK int) (*Similar, error) {
	if a.Index == nil {
		return nil, ErrNoIndex
	}
	if topK <= 0 {
		topK = a.Config.Milvus.TopK
	}

	chain, err := store.FetchChain(ctx, a.Store, model.NormalizeTicker(ticker), a.Config.Store.PageSize)
	if err != nil {
		return nil, err
	}
	i := chain.IndexOfDate(date)
	if i < 0 {
		return nil, fmt.Errorf("no %s observation on %s: %w", ticker, date.Format(model.DateLayout), store.ErrNotFound)
	}
	query := chain.Observations[i]

	hits, err := a.Index.Search(ctx, a.Config.Milvus.Collection, query.State, milvus.SearchOptions{
		TopK:   topK * 2,
		Before: query.Date,
	})
	if err != nil {
		a.Metrics.RecordError("search")
		return nil, err
	}
	return &Similar{Query: query, Hits: a.reranker.TopN(hits, query.Date, topK)}, nil
}

// Enrich drains up to maxBatches labeling batches for one (ticker, category)
// outside any session, as the worker and tool surfaces do
func (a *App) Enrich(ctx context.Context, ticker string, cat model.Category, maxBatches int) (*enrich.Result, int, error) {
	if a.Batcher == nil {
		return nil, 0, ErrNoModel
	}
	ticker = model.NormalizeTicker(ticker)

	release, err := a.Guard.Acquire(ticker, cat)
	if err != nil {
		return nil, 0, err
	}
	defer release()

	chain, err := store.FetchChain(ctx, a.Store, ticker, a.Config.Store.PageSize)
	if err != nil {
		return nil, 0, err
	}

	start := time.Now()
	res, batches, err := a.Batcher.Drain(ctx, chain, cat, maxBatches)
	a.Metrics.RecordLatency("enrich", time.Since(start))
	if res != nil {
		a.Metrics.RecordLabelsWritten(string(cat), len(res.Labels))
	}
	if err != nil && !errors.Is(err, enrich.ErrNoProgress) {
		a.Metrics.RecordError("enrich")
	}
	return res, batches, err
}

// Close releases every component
func (a *App) Close() {
	a.Status.Stop()
	if a.Queue != nil {
		a.Queue.Close()
	}
	if a.Index != nil {
		if err := a.Index.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close milvus client")
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close store")
		}
	}
}
