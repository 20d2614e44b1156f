package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tunogya/tkg/pkg/model"
	"github.com/tunogya/tkg/pkg/store"
)

// Store implements store.Store on PostgreSQL
type Store struct {
	client *Client
}

var _ store.Store = (*Store)(nil)

// Open connects, creates the schema and returns a ready store
func Open(ctx context.Context, cfg Config) (*Store, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := InitializeSchema(ctx, client); err != nil {
		client.Close()
		return nil, err
	}
	return &Store{client: client}, nil
}

// Close closes the pool
func (s *Store) Close() error {
	return s.client.Close()
}

// InsertBars upserts bars on (ticker, date) in one transaction
func (s *Store) InsertBars(ctx context.Context, bars []model.RawBar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.client.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO raw_bars (ticker, date, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ticker, date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Ticker, model.TruncateDate(b.Date), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("failed to insert bar %s: %w", b.Key(), err)
		}
	}

	return tx.Commit()
}

// Tickers returns the distinct tickers with raw bars
func (s *Store) Tickers(ctx context.Context) ([]string, error) {
	rows, err := s.client.db.QueryContext(ctx, "SELECT DISTINCT ticker FROM raw_bars ORDER BY ticker")
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
func (s *Store) BarsPage(ctx context.Context, ticker string, offset, limit int) ([]model.RawBar, error) {
	rows, err := s.client.db.QueryContext(ctx, `
		SELECT ticker, date, open, high, low, close, volume
		FROM raw_bars
		WHERE ticker = $1
		ORDER BY date ASC
		LIMIT $2 OFFSET $3
	`, ticker, limit, offset)
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
		b.Date = model.TruncateDate(b.Date)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ObservationsPage retrieves one date-ordered page of a ticker's chain with labels aggregated per row
func (s *Store) ObservationsPage(ctx context.Context, ticker string, offset, limit int) ([]model.LabeledObservation, error) {
	rows, err := s.client.db.QueryContext(ctx, `
		SELECT o.id, o.ticker, o.date, o.open, o.high, o.low, o.close, o.volume,
		       o.s_open, o.s_high, o.s_low, o.s_ret_close, o.ret_close, o.ret_volume, o.created_at,
		       l.category, l.label
		FROM (
			SELECT * FROM observations
			WHERE ticker = $1
			ORDER BY date ASC
			LIMIT $2 OFFSET $3
		) o
		LEFT JOIN semantic_labels l ON l.observation_id = o.id
		ORDER BY o.date ASC
	`, ticker, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var page []model.LabeledObservation
	for rows.Next() {
		var o model.LabeledObservation
		var category, label sql.NullString
		err := rows.Scan(
			&o.ID, &o.Ticker, &o.Date, &o.Open, &o.High, &o.Low, &o.Close, &o.Volume,
			&o.State[model.ComponentROpen], &o.State[model.ComponentRHigh],
			&o.State[model.ComponentRLow], &o.State[model.ComponentRetClose],
			&o.RetClose, &o.RetVolume, &o.CreatedAt,
			&category, &label,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		o.Date = model.TruncateDate(o.Date)

		// Rows of one observation are adjacent: merge their labels
		if n := len(page); n > 0 && page[n-1].ID == o.ID {
			if category.Valid {
				page[n-1].Labels[model.Category(category.String)] = label.String
			}
			continue
		}
		o.Labels = make(map[model.Category]string)
		if category.Valid {
			o.Labels[model.Category(category.String)] = label.String
		}
		page = append(page, o)
	}
	return page, rows.Err()
}

// Summary returns ticker, latest date and observation count per ticker
func (s *Store) Summary(ctx context.Context) ([]model.TickerSummary, error) {
	rows, err := s.client.db.QueryContext(ctx, `
		SELECT ticker, MAX(date), COUNT(*)
		FROM observations
		GROUP BY ticker
		ORDER BY ticker
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	defer rows.Close()

	var out []model.TickerSummary
	for rows.Next() {
		var ts model.TickerSummary
		if err := rows.Scan(&ts.Ticker, &ts.LastDate, &ts.Count); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		ts.LastDate = model.TruncateDate(ts.LastDate)
		out = append(out, ts)
	}
	return out, rows.Err()
}

// ReplaceObservations deletes every observation (labels cascade) and inserts
// the new chain in one transaction
func (s *Store) ReplaceObservations(ctx context.Context, obs []model.Observation) (store.ReplaceResult, error) {
	var res store.ReplaceResult

	tx, err := s.client.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM semantic_labels").Scan(&res.LabelsDeleted); err != nil {
		return res, fmt.Errorf("failed to count labels: %w", err)
	}

	deleted, err := tx.ExecContext(ctx, "DELETE FROM observations")
	if err != nil {
		return res, fmt.Errorf("failed to delete observations: %w", err)
	}
	res.ObservationsDeleted, _ = deleted.RowsAffected()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (id, ticker, date, open, high, low, close, volume,
		                          s_open, s_high, s_low, s_ret_close, ret_close, ret_volume, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`)
	if err != nil {
		return res, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, o := range obs {
		id := o.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := stmt.ExecContext(ctx,
			id, o.Ticker, model.TruncateDate(o.Date), o.Open, o.High, o.Low, o.Close, o.Volume,
			o.State[model.ComponentROpen], o.State[model.ComponentRHigh],
			o.State[model.ComponentRLow], o.State[model.ComponentRetClose],
			o.RetClose, o.RetVolume, now,
		)
		if err != nil {
			return res, fmt.Errorf("failed to insert observation %s/%s: %w", o.Ticker, o.DateKey(), err)
		}
		res.ObservationsWritten++
	}

	if err := tx.Commit(); err != nil {
		return store.ReplaceResult{}, fmt.Errorf("failed to commit: %w", err)
	}
	return res, nil
}

// UpsertLabels writes labels keyed by (observation_id, category); the foreign
// key rejects labels for unknown observations
func (s *Store) UpsertLabels(ctx context.Context, labels []model.SemanticLabel) error {
	if len(labels) == 0 {
		return nil
	}

	tx, err := s.client.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO semantic_labels (observation_id, category, label, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (observation_id, category) DO UPDATE SET
			label = EXCLUDED.label,
			confidence = EXCLUDED.confidence,
			created_at = EXCLUDED.created_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, l := range store.DedupeLabels(labels) {
		confidence := l.Confidence
		if confidence == 0 {
			confidence = model.DefaultConfidence
		}
		createdAt := l.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := stmt.ExecContext(ctx, l.ObservationID, string(l.Category), l.Label, confidence, createdAt); err != nil {
			return fmt.Errorf("failed to upsert label: %w", err)
		}
	}

	return tx.Commit()
}
