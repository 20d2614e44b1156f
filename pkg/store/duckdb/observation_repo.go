package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tunogya/tkg/pkg/model"
	"github.com/tunogya/tkg/pkg/store"
)

// ObservationRepo handles the observation chain
type ObservationRepo struct {
	client *Client
}

// NewObservationRepo creates a new observation repository
func NewObservationRepo(client *Client) *ObservationRepo {
	return &ObservationRepo{client: client}
}

// ObservationsPage retrieves one date-ordered page of a ticker's chain with its labels
func (r *ObservationRepo) ObservationsPage(ctx context.Context, ticker string, offset, limit int) ([]model.LabeledObservation, error) {
	query := `
		SELECT id, ticker, date, open, high, low, close, volume,
		       s_open, s_high, s_low, s_ret_close, ret_close, ret_volume, created_at
		FROM observations
		WHERE ticker = ?
		ORDER BY date ASC
		LIMIT ? OFFSET ?
	`

	rows, err := r.client.Query(ctx, query, ticker, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var page []model.LabeledObservation
	index := make(map[string]int)
	for rows.Next() {
		var o model.LabeledObservation
		var createdAt sql.NullTime
		err := rows.Scan(
			&o.ID, &o.Ticker, &o.Date, &o.Open, &o.High, &o.Low, &o.Close, &o.Volume,
			&o.State[model.ComponentROpen], &o.State[model.ComponentRHigh],
			&o.State[model.ComponentRLow], &o.State[model.ComponentRetClose],
			&o.RetClose, &o.RetVolume, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		o.Date = o.Date.UTC()
		if createdAt.Valid {
			o.CreatedAt = createdAt.Time
		}
		index[o.ID] = len(page)
		page = append(page, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read observations: %w", err)
	}
	if len(page) == 0 {
		return nil, nil
	}

	labelQuery := `
		SELECT l.observation_id, l.category, l.label
		FROM semantic_labels l
		JOIN observations o ON o.id = l.observation_id
		WHERE o.ticker = ? AND o.date >= ? AND o.date <= ?
	`
	first, last := page[0].Date, page[len(page)-1].Date
	lrows, err := r.client.Query(ctx, labelQuery, ticker, first, last)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer lrows.Close()

	for lrows.Next() {
		var id, category, label string
		if err := lrows.Scan(&id, &category, &label); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		i, ok := index[id]
		if !ok {
			continue
		}
		if page[i].Labels == nil {
			page[i].Labels = make(map[model.Category]string)
		}
		page[i].Labels[model.Category(category)] = label
	}

	return page, lrows.Err()
}

// Summary returns ticker, latest date and observation count per ticker
func (r *ObservationRepo) Summary(ctx context.Context) ([]model.TickerSummary, error) {
	query := `
		SELECT ticker, MAX(date) AS last_date, COUNT(*) AS count
		FROM observations
		GROUP BY ticker
		ORDER BY ticker
	`

	rows, err := r.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	defer rows.Close()

	var out []model.TickerSummary
	for rows.Next() {
		var s model.TickerSummary
		if err := rows.Scan(&s.Ticker, &s.LastDate, &s.Count); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		s.LastDate = s.LastDate.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReplaceObservations deletes every label and observation and inserts the new
// chain, all in one transaction
func (r *ObservationRepo) ReplaceObservations(ctx context.Context, obs []model.Observation) (store.ReplaceResult, error) {
	var res store.ReplaceResult

	tx, err := r.client.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	labels, err := tx.ExecContext(ctx, "DELETE FROM semantic_labels")
	if err != nil {
		return res, fmt.Errorf("failed to delete labels: %w", err)
	}
	res.LabelsDeleted, _ = labels.RowsAffected()

	deleted, err := tx.ExecContext(ctx, "DELETE FROM observations")
	if err != nil {
		return res, fmt.Errorf("failed to delete observations: %w", err)
	}
	res.ObservationsDeleted, _ = deleted.RowsAffected()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (id, ticker, date, open, high, low, close, volume,
		                          s_open, s_high, s_low, s_ret_close, ret_close, ret_volume, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
