package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunogya/tkg/pkg/app"
	"github.com/tunogya/tkg/pkg/config"
	"github.com/tunogya/tkg/pkg/logger"
	"github.com/tunogya/tkg/pkg/model"
)

// Options holds search flags
type Options struct {
	ConfigPath string
	Ticker     string
	Date       string
	TopK       int
	Reindex    bool
}

func main() {
	opts := parseFlags()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("failed to load config")
	}
	cfg.Milvus.Enabled = true

	log, logCloser, err := logger.New(cfg.Log)
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("failed to build logger")
	}
	defer logCloser.Close()
	log = logger.Component(log, "search")

	ctx := context.Background()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	if opts.Reindex {
		log.Info().Msg("rebuilding similar-state index")
		if err := a.IndexStates(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to index states")
		}
	}

	ticker := model.NormalizeTicker(opts.Ticker)
	date, err := queryDate(ctx, a, ticker, opts.Date)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve query date")
	}

	log.Info().Str("ticker", ticker).Str("date", date.Format(model.DateLayout)).Int("top_k", opts.TopK).Msg("searching similar states")
	res, err := a.SimilarStates(ctx, ticker, date, opts.TopK)
	if err != nil {
		log.Fatal().Err(err).Msg("search failed")
	}

	q := res.Query
	fmt.Printf("\n%s %s  state=%s\n\n", q.Ticker, q.DateKey(), formatState(q.State))
	fmt.Printf("%-5s %-10s %-12s %-10s %-10s %-10s %-10s\n", "Rank", "Ticker", "Date", "Distance", "Score", "Weight", "Final")
	fmt.Println(strings.Repeat("-", 72))
	for i, r := range res.Hits {
		fmt.Printf("%-5d %-10s %-12s %-10.4f %-10.4f %-10.4f %-10.4f\n",
			i+1, r.Ticker, r.Date.Format(model.DateLayout), r.Distance, r.Score, r.TimeWeight, r.FinalScore)
	}
	if len(res.Hits) == 0 {
		fmt.Println("no earlier states indexed")
	}
}

// queryDate parses raw, defaulting to the ticker's latest observation
func queryDate(ctx context.Context, a *app.App, ticker, raw string) (time.Time, error) {
	if raw != "" {
		return time.Parse(model.DateLayout, raw)
	}
	summary, err := a.Store.Summary(ctx)
	if err != nil {
		return time.Time{}, err
	}
	for _, row := range summary {
		if row.Ticker == ticker {
			return row.LastDate, nil
		}
	}
	return time.Time{}, fmt.Errorf("ticker %s has no observations", ticker)
}

func formatState(s model.StateVector) string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = fmt.Sprintf("%+.4f", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func parseFlags() Options {
	opts := Options{}

	flag.StringVar(&opts.ConfigPath, "config", "", "path to config YAML")
	flag.StringVar(&opts.Ticker, "ticker", "", "ticker to query")
	flag.StringVar(&opts.Date, "date", "", "query date YYYY-MM-DD (default: latest)")
	flag.IntVar(&opts.TopK, "topk", 10, "number of results")
	flag.BoolVar(&opts.Reindex, "reindex", false, "rebuild the index before searching")

	flag.Parse()

	if opts.Ticker == "" {
		fmt.Println("Usage: search -ticker <ticker> [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	return opts
}
