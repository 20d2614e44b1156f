package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunogya/tkg/pkg/app"
	"github.com/tunogya/tkg/pkg/config"
	"github.com/tunogya/tkg/pkg/data"
	"github.com/tunogya/tkg/pkg/logger"
	"github.com/tunogya/tkg/pkg/model"
	natsq "github.com/tunogya/tkg/pkg/queue/nats"
)

// Options holds backfill flags
type Options struct {
	ConfigPath string
	CSVPath    string
	Ticker     string
	BatchSize  int
	// Publish sends bars to the writer over NATS instead of writing directly
	Publish    bool
	Regenerate bool
	// Reset drops every stored table before loading
	Reset bool
}

func main() {
	opts := parseFlags()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("failed to load config")
	}
	if opts.Publish {
		cfg.NATS.Enabled = true
	}

	log, logCloser, err := logger.New(cfg.Log)
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("failed to build logger")
	}
	defer logCloser.Close()
	log = logger.Component(log, "backfill")

	ctx := context.Background()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	if opts.Reset {
		if err := a.Reset(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to reset store")
		}
	}

	log.Info().Str("csv", opts.CSVPath).Msg("loading bars")
	provider := data.NewCSVProvider(opts.CSVPath, log)
	stats, err := provider.Stats()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse CSV")
	}
	log.Info().Int("rows", stats.Rows).Int("parsed", stats.Parsed).Int("skipped", stats.Skipped).Msg("parsed CSV")

	var tickers []string
	if opts.Ticker != "" {
		tickers = []string{model.NormalizeTicker(opts.Ticker)}
	} else if tickers, err = provider.Tickers(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to list tickers")
	}

	var sink data.Sink = data.StoreSink(a.Store)
	if opts.Publish {
		if err := a.Queue.CreateStream(ctx, natsq.Subjects()); err != nil {
			log.Fatal().Err(err).Msg("failed to create stream")
		}
		sink = data.SinkFunc(func(ctx context.Context, bars []model.RawBar) error {
			return a.Queue.PublishJSON(ctx, natsq.SubjectBarsIngest, natsq.BarBatchMsg{Bars: bars})
		})
	}

	ing := data.NewIngester(sink,
		data.WithChunkSize(opts.BatchSize),
		data.WithLogger(log),
		data.WithChunkHook(a.Metrics.RecordBarsIngested),
		data.WithProgress(func(p data.IngestProgress) {
			log.Debug().Int("written", p.WrittenBars).Int("total", p.TotalBars).Msg("progress")
		}),
	)

	start := time.Now()
	total := 0
	for _, ticker := range tickers {
		bars, err := provider.FetchBars(ctx, ticker, time.Time{}, time.Now())
		if err != nil {
			log.Fatal().Err(err).Str("ticker", ticker).Msg("failed to read bars")
		}
		progress, err := ing.Ingest(ctx, bars)
		if err != nil {
			log.Fatal().Err(err).Str("ticker", ticker).Int("written", progress.WrittenBars).Msg("failed to write bars")
		}
		total += progress.WrittenBars
		log.Info().Str("ticker", ticker).Int("bars", progress.WrittenBars).Msg("ticker backfilled")
	}
	log.Info().Int("tickers", len(tickers)).Int("bars", total).Dur("elapsed", time.Since(start)).Msg("backfill complete")

	if !opts.Regenerate {
		return
	}
	if opts.Publish {
		msg := natsq.RegenerateMsg{RequestedBy: "backfill", RequestedAt: time.Now().UTC()}
		if err := a.Queue.PublishJSON(ctx, natsq.SubjectChainRegenerate, msg); err != nil {
			log.Fatal().Err(err).Msg("failed to request regeneration")
		}
		log.Info().Msg("regeneration requested")
		return
	}
	res, err := a.Regenerate(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("regeneration failed")
	}
	fmt.Printf("%d tickers, %d observations (%d labels discarded)\n",
		res.Tickers, res.ObservationsWritten, res.LabelsDeleted)
}

func parseFlags() Options {
	opts := Options{}

	flag.StringVar(&opts.ConfigPath, "config", "", "path to config YAML")
	flag.StringVar(&opts.CSVPath, "csv", "", "CSV file with ticker,date,open,high,low,close,volume columns")
	flag.StringVar(&opts.Ticker, "ticker", "", "only backfill this ticker")
	flag.IntVar(&opts.BatchSize, "batch", data.DefaultChunkSize, "bars per write")
	flag.BoolVar(&opts.Publish, "publish", false, "publish bars to NATS for the writer")
	flag.BoolVar(&opts.Regenerate, "regenerate", true, "regenerate observation chains afterwards")
	flag.BoolVar(&opts.Reset, "reset", false, "drop all bars, observations and labels first")

	flag.Parse()

	if opts.CSVPath == "" {
		fmt.Println("Usage: backfill -csv <path> [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	return opts
}
