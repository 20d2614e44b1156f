package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Fetches daily Binance klines for one or more symbols into the ingest CSV
// layout: ticker,date,open,high,low,close,volume.
func main() {
	symbols := flag.String("symbols", "BTCUSDT", "comma-separated trading symbols")
	limit := flag.Int("limit", 1000, "days to fetch per symbol (max 1000)")
	output := flag.String("output", "data/klines_1d.csv", "output CSV file path")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	if err := os.MkdirAll(filepath.Dir(*output), 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create output directory")
	}
	file, err := os.Create(*output)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create output file")
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"ticker", "date", "open", "high", "low", "close", "volume"}); err != nil {
		log.Fatal().Err(err).Msg("failed to write header")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	rows := 0
	for _, symbol := range strings.Split(*symbols, ",") {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			continue
		}
		klines, err := fetch(client, symbol, *limit)
		if err != nil {
			log.Fatal().Err(err).Str("symbol", symbol).Msg("failed to fetch klines")
		}
		for _, k := range klines {
			// [0] open time ms, [1] open, [2] high, [3] low, [4] close, [5] volume
			openTime := time.UnixMilli(int64(k[0].(float64))).UTC()
			row := []string{
				symbol,
				openTime.Format("2006-01-02"),
				k[1].(string),
				k[2].(string),
				k[3].(string),
				k[4].(string),
				k[5].(string),
			}
			if err := writer.Write(row); err != nil {
				log.Fatal().Err(err).Msg("failed to write row")
			}
			rows++
		}
		log.Info().Str("symbol", symbol).Int("klines", len(klines)).Msg("fetched")
	}

	log.Info().Str("output", *output).Int("rows", rows).Msg("saved")
}

func fetch(client *http.Client, symbol string, limit int) ([][]any, error) {
	url := fmt.Sprintf("https://api.binance.com/api/v3/klines?symbol=%s&interval=1d&limit=%d", symbol, limit)
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance returned %s: %s", resp.Status, body)
	}

	var klines [][]any
	if err := json.Unmarshal(body, &klines); err != nil {
		return nil, fmt.Errorf("failed to parse klines: %w", err)
	}
	return klines, nil
}
