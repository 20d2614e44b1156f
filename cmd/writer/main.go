package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tunogya/tkg/pkg/app"
	"github.com/tunogya/tkg/pkg/config"
	"github.com/tunogya/tkg/pkg/enrich"
	"github.com/tunogya/tkg/pkg/logger"
	natsq "github.com/tunogya/tkg/pkg/queue/nats"
	"github.com/tunogya/tkg/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "path to config YAML")
	natsURL := flag.String("nats", "", "NATS server URL (overrides config)")
	schedule := flag.String("schedule", "", "cron spec for the enrichment sweep (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("failed to load config")
	}
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
	}
	cfg.NATS.Enabled = true
	if *schedule != "" {
		cfg.Enrich.Schedule = *schedule
	}

	log, logCloser, err := logger.New(cfg.Log)
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("failed to build logger")
	}
	defer logCloser.Close()
	log = logger.Component(log, "writer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	if err := a.Queue.CreateStream(ctx, natsq.Subjects()); err != nil {
		log.Fatal().Err(err).Msg("failed to create stream")
	}
	log.Info().Str("url", cfg.NATS.URL).Str("stream", cfg.NATS.StreamName).Msg("NATS stream ready")

	w := &worker{app: a, logger: log}

	bars, err := a.Queue.Subscribe(ctx, natsq.SubjectBarsIngest, "bars-writer", natsq.ConsumerOptions{}, w.handleBars)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to bar batches")
	}
	defer bars.Stop()

	// Regeneration and enrichment must not interleave across workers
	serial := natsq.ConsumerOptions{MaxAckPending: 1, AckWait: 10 * time.Minute}

	regen, err := a.Queue.Subscribe(ctx, natsq.SubjectChainRegenerate, "regenerator", serial, w.handleRegenerate)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to regenerate requests")
	}
	defer regen.Stop()

	if a.Batcher != nil {
		enr, err := a.Queue.Subscribe(ctx, natsq.SubjectEnrichRequest, "enricher", serial, w.handleEnrich)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to subscribe to enrich requests")
		}
		defer enr.Stop()
	} else {
		log.Warn().Msg("no language model configured; enrich requests are left queued")
	}

	if cfg.Enrich.Schedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(cfg.Enrich.Schedule, func() { w.sweep(ctx) }); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.Enrich.Schedule).Msg("invalid enrichment schedule")
		}
		c.Start()
		defer c.Stop()
		log.Info().Str("schedule", cfg.Enrich.Schedule).Msg("enrichment sweep scheduled")
	}

	log.Info().Msg("writer started, waiting for messages")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down writer")
}

type worker struct {
	app    *app.App
	logger zerolog.Logger
}

func (w *worker) handleBars(ctx context.Context, msg jetstream.Msg) error {
	batch, err := natsq.Decode[natsq.BarBatchMsg](msg.Data())
	if err != nil {
		return err
	}
	if len(batch.Bars) == 0 {
		return nil
	}
	progress, err := w.app.Ingest(ctx, batch.Bars)
	if err != nil {
		return err
	}
	w.logger.Info().Int("bars", progress.WrittenBars).Msg("inserted bars")
	return nil
}

func (w *worker) handleRegenerate(ctx context.Context, msg jetstream.Msg) error {
	req, err := natsq.Decode[natsq.RegenerateMsg](msg.Data())
	if err != nil {
		return err
	}
	w.logger.Warn().Str("requested_by", req.RequestedBy).Time("requested_at", req.RequestedAt).Msg("regeneration requested")
	_, err = w.app.Regenerate(ctx)
	return err
}

func (w *worker) handleEnrich(ctx context.Context, msg jetstream.Msg) error {
	req, err := natsq.Decode[natsq.EnrichRequestMsg](msg.Data())
	if err != nil {
		return err
	}
	res, batches, err := w.app.Enrich(ctx, req.Ticker, req.Category, req.MaxBatches)
	switch {
	case errors.Is(err, enrich.ErrNoProgress):
		// Redelivery would send the same batch to the same model
		w.logger.Warn().Str("ticker", req.Ticker).Str("category", string(req.Category)).Msg("labeler made no progress")
		return nil
	case errors.Is(err, store.ErrNotFound):
		return errors.Join(natsq.ErrPermanent, err)
	case err != nil:
		return err
	}

	ev := w.logger.Info().
		Str("ticker", req.Ticker).
		Str("category", string(req.Category)).
		Int("batches", batches)
	if res != nil {
		ev = ev.Int("labels", len(res.Labels)).Int("remaining", res.Remaining).Bool("done", res.Done())
	}
	ev.Msg("enrichment applied")
	return nil
}

// sweep queues enrichment for every ticker and configured category
func (w *worker) sweep(ctx context.Context) {
	summary, err := w.app.Store.Summary(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("sweep: failed to list tickers")
		return
	}
	cats := w.app.Config.Enrich.ParsedCategories()
	queued := 0
	for _, row := range summary {
		for _, cat := range cats {
			msg := natsq.EnrichRequestMsg{
				Ticker:     row.Ticker,
				Category:   cat,
				MaxBatches: w.app.Config.Enrich.MaxBatches,
			}
			if err := w.app.Queue.PublishJSON(ctx, natsq.SubjectEnrichRequest, msg); err != nil {
				w.logger.Error().Err(err).Str("ticker", row.Ticker).Msg("sweep: failed to queue enrich request")
				continue
			}
			queued++
		}
	}
	w.logger.Info().Int("tickers", len(summary)).Int("requests", queued).Msg("enrichment sweep queued")
}
