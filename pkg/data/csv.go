package data

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/tunogya/tkg/pkg/model"
)

var requiredColumns = []string{"ticker", "date", "open", "high", "low", "close", "volume"}

// alternate date layouts accepted besides YYYY-MM-DD; the time of day is dropped
var dateLayouts = []string{
	model.DateLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
}

var validate = validator.New()

// ParseStats reports how a CSV parse went
type ParseStats struct {
	Rows    int `json:"rows"`
	Parsed  int `json:"parsed"`
	Skipped int `json:"skipped"`
}

// ParseCSV reads bars with a header row naming the columns ticker, date,
// open, high, low, close and volume in any order and case. Rows that fail to
// parse or validate are skipped and counted.
func ParseCSV(r io.Reader, logger zerolog.Logger) ([]model.RawBar, ParseStats, error) {
	var stats ParseStats

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, stats, fmt.Errorf("failed to read CSV header: %w", err)
	}

	colMap := make(map[string]int)
	for i, col := range header {
		colMap[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := colMap[col]; !ok {
			return nil, stats, fmt.Errorf("CSV header missing column %q", col)
		}
	}

	var bars []model.RawBar
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		stats.Rows++
		if err != nil {
			stats.Skipped++
			logger.Debug().Err(err).Int("row", stats.Rows).Msg("skipping unreadable CSV row")
			continue
		}

		bar, err := parseRecord(record, colMap)
		if err != nil {
			stats.Skipped++
			logger.Debug().Err(err).Int("row", stats.Rows).Msg("skipping invalid CSV row")
			continue
		}
		bars = append(bars, bar)
	}
	stats.Parsed = len(bars)

	return bars, stats, nil
}

func parseRecord(record []string, colMap map[string]int) (model.RawBar, error) {
	getValue := func(name string) string {
		if idx, ok := colMap[name]; ok && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}

	date, err := parseDate(getValue("date"))
	if err != nil {
		return model.RawBar{}, err
	}

	var prices [4]float64
	for i, col := range []string{"open", "high", "low", "close"} {
		v, err := strconv.ParseFloat(getValue(col), 64)
		if err != nil {
			return model.RawBar{}, fmt.Errorf("invalid %s: %w", col, err)
		}
		prices[i] = v
	}

	volume, err := strconv.ParseFloat(getValue("volume"), 64)
	if err != nil {
		return model.RawBar{}, fmt.Errorf("invalid volume: %w", err)
	}

	bar := model.RawBar{
		Ticker: model.NormalizeTicker(getValue("ticker")),
		Date:   date,
		Open:   prices[0],
		High:   prices[1],
		Low:    prices[2],
		Close:  prices[3],
		Volume: int64(math.Round(volume)),
	}
	if err := validate.Struct(bar); err != nil {
		return model.RawBar{}, err
	}
	return bar, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.TruncateDate(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// CSVProvider implements BarProvider for CSV files
type CSVProvider struct {
	filePath string
	logger   zerolog.Logger

	once  sync.Once
	bars  []model.RawBar
	stats ParseStats
	err   error
}

// NewCSVProvider creates a new CSV-based bar provider
func NewCSVProvider(filePath string, logger zerolog.Logger) *CSVProvider {
	return &CSVProvider{
		filePath: filePath,
		logger:   logger,
	}
}

func (p *CSVProvider) load() error {
	p.once.Do(func() {
		file, err := os.Open(p.filePath)
		if err != nil {
			p.err = fmt.Errorf("failed to open CSV file: %w", err)
			return
		}
		defer file.Close()

		p.bars, p.stats, p.err = ParseCSV(file, p.logger)
		sortBars(p.bars)
		if p.stats.Skipped > 0 {
			p.logger.Warn().
				Str("file", p.filePath).
				Int("skipped", p.stats.Skipped).
				Int("parsed", p.stats.Parsed).
				Msg("skipped invalid CSV rows")
		}
	})
	return p.err
}

// Stats returns the parse statistics, loading the file if needed
func (p *CSVProvider) Stats() (ParseStats, error) {
	err := p.load()
	return p.stats, err
}

// Tickers returns the distinct tickers in the file
func (p *CSVProvider) Tickers(ctx context.Context) ([]string, error) {
	if err := p.load(); err != nil {
		return nil, err
	}
	return tickersOf(p.bars), nil
}

// FetchBars retrieves bars within the specified date range
func (p *CSVProvider) FetchBars(ctx context.Context, ticker string, start, end time.Time) ([]model.RawBar, error) {
	if err := p.load(); err != nil {
		return nil, err
	}
	return filterBars(p.bars, ticker, start, end), nil
}
