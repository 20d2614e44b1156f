package duckdb

import (
	"context"
	"fmt"

	"github.com/tunogya/tkg/pkg/model"
)

const upsertBarSQL = `
	INSERT INTO raw_bars (ticker, date, open, high, low, close, volume)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (ticker, date) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume
`

// BarRepo handles raw bar persistence
type BarRepo struct {
	client *Client
}

// NewBarRepo creates a new raw bar repository
func NewBarRepo(client *Client) *BarRepo {
	return &BarRepo{client: client}
}

// InsertBars upserts bars in a single transaction
func (r *BarRepo) InsertBars(ctx context.Context, bars []model.RawBar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := r.client.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertBarSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	// Duplicate keys within one batch collapse to the last occurrence
	seen := make(map[string]int, len(bars))
	unique := make([]model.RawBar, 0, len(bars))
	for _, b := range bars {
		if i, ok := seen[b.Key()]; ok {
			unique[i] = b
			continue
		}
		seen[b.Key()] = len(unique)
		unique = append(unique, b)
	}

	for _, b := range unique {
		_, err := stmt.ExecContext(ctx,
			b.Ticker, model.TruncateDate(b.Date), b.Open, b.High, b.Low, b.Close, b.Volume,
		)
		if err != nil {
			return fmt.Errorf("failed to insert bar %s: %w", b.Key(), err)
		}
	}

	return tx.Commit()
}

// Tickers returns the distinct tickers with raw bars
func (r *BarRepo) Tickers(ctx context.Context) ([]string, error) {
	rows, err := r.client.Query(ctx, "SELECT DISTINCT ticker FROM raw_bars ORDER BY ticker")
	if err != nil {
		return nil, fmt.Errorf("failed to query tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// BarsPage retrieves one date-ordered page of a ticker's bars
func (r *BarRepo) BarsPage(ctx context.Context, ticker string, offset, limit int) ([]model.RawBar, error) {
	query := `
		SELECT ticker, date, open, high, low, close, volume
		FROM raw_bars
		WHERE ticker = ?
		ORDER BY date ASC
		LIMIT ? OFFSET ?
	`

	rows, err := r.client.Query(ctx, query, ticker, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.RawBar
	for rows.Next() {
		var b model.RawBar
		if err := rows.Scan(&b.Ticker, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		b.Date = b.Date.UTC()
		bars = append(bars, b)
	}

	return bars, rows.Err()
}

// Count returns the total number of bars for a ticker
func (r *BarRepo) Count(ctx context.Context, ticker string) (int64, error) {
	var count int64
	row := r.client.QueryRow(ctx, "SELECT COUNT(*) FROM raw_bars WHERE ticker = ?", ticker)
	err := row.Scan(&count)
	return count, err
}
