package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/tunogya/tkg/pkg/model"
)

const (
	// DefaultCollectionName holds one row per observation
	DefaultCollectionName = "tkg_states"

	fieldID     = "observation_id"
	fieldState  = "state"
	fieldTicker = "ticker"
	fieldDate   = "date"

	insertChunk = 5000
)

// CollectionConfig holds configuration for creating a collection
type CollectionConfig struct {
	Name   string
	Shards int
}

// DefaultCollectionConfig returns default collection configuration
func DefaultCollectionConfig() CollectionConfig {
	return CollectionConfig{
		Name:   DefaultCollectionName,
		Shards: 2,
	}
}

// EnsureCollection creates the state collection and its index if missing,
// then loads it
func (c *Client) EnsureCollection(ctx context.Context, cfg CollectionConfig) error {
	exists, err := c.HasCollection(ctx, cfg.Name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !exists {
		schema := &entity.Schema{
			CollectionName: cfg.Name,
			Description:    "TKG observation state vectors",
			Fields: []*entity.Field{
				{
					Name:       fieldID,
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{"max_length": "64"},
				},
				{
					Name:       fieldState,
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": fmt.Sprintf("%d", model.StateDim)},
				},
				{
					Name:       fieldTicker,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "32"},
				},
				{
					Name:     fieldDate,
					DataType: entity.FieldTypeInt64,
				},
			},
		}
		if err := c.conn.CreateCollection(ctx, schema, int32(cfg.Shards)); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexIvfFlat(entity.L2, 64)
		if err != nil {
			return fmt.Errorf("failed to build index params: %w", err)
		}
		if err := c.conn.CreateIndex(ctx, cfg.Name, fieldState, idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return c.LoadCollection(ctx, cfg.Name)
}

// ReplaceTicker drops every indexed state of the ticker and inserts the
// given observations. Regeneration assigns new ids, so the index is
// rebuilt per ticker rather than patched.
func (c *Client) ReplaceTicker(ctx context.Context, collection, ticker string, obs []model.Observation) error {
	if err := c.conn.Delete(ctx, collection, "", tickerExpr(ticker)); err != nil {
		return fmt.Errorf("failed to delete %s states: %w", ticker, err)
	}

	for start := 0; start < len(obs); start += insertChunk {
		end := start + insertChunk
		if end > len(obs) {
			end = len(obs)
		}
		if err := c.insert(ctx, collection, obs[start:end]); err != nil {
			return err
		}
	}
	return c.Flush(ctx, collection)
}

func (c *Client) insert(ctx context.Context, collection string, obs []model.Observation) error {
	if len(obs) == 0 {
		return nil
	}

	ids := make([]string, len(obs))
	states := make([][]float32, len(obs))
	tickers := make([]string, len(obs))
	dates := make([]int64, len(obs))
	for i, o := range obs {
		ids[i] = o.ID
		states[i] = o.State.Float32()
		tickers[i] = o.Ticker
		dates[i] = o.Date.Unix()
	}

	_, err := c.conn.Insert(ctx, collection, "",
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnFloatVector(fieldState, model.StateDim, states),
		entity.NewColumnVarChar(fieldTicker, tickers),
		entity.NewColumnInt64(fieldDate, dates),
	)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}
	return nil
}

// SearchResult is one similar historical state
type SearchResult struct {
	ObservationID string    `json:"observation_id"`
	Ticker        string    `json:"ticker"`
	Date          time.Time `json:"date"`
	Distance      float32   `json:"distance"`
	// Score maps the L2 distance into (0, 1]; identical states score 1
	Score float64 `json:"score"`
}

// SearchOptions narrows a similarity search
type SearchOptions struct {
	TopK int
	// Ticker restricts hits to one ticker when set
	Ticker string
	// Before restricts hits to dates strictly before it when non-zero
	Before time.Time
}

// Search returns the states nearest to state
func (c *Client) Search(ctx context.Context, collection string, state model.StateVector, opts SearchOptions) ([]SearchResult, error) {
	if opts.TopK <= 0 {
		opts.TopK = 20
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	results, err := c.conn.Search(
		ctx,
		collection,
		nil,
		filterExpr(opts),
		[]string{fieldID, fieldTicker, fieldDate},
		[]entity.Vector{entity.FloatVector(state.Float32())},
		fieldState,
		entity.L2,
		opts.TopK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	res := results[0]
	out := make([]SearchResult, 0, res.ResultCount)
	for i := 0; i < res.ResultCount; i++ {
		hit := SearchResult{Distance: res.Scores[i], Score: Score(res.Scores[i])}
		for _, field := range res.Fields {
			switch field.Name() {
			case fieldID:
				if col, ok := field.(*entity.ColumnVarChar); ok {
					hit.ObservationID, _ = col.ValueByIdx(i)
				}
			case fieldTicker:
				if col, ok := field.(*entity.ColumnVarChar); ok {
					hit.Ticker, _ = col.ValueByIdx(i)
				}
			case fieldDate:
				if col, ok := field.(*entity.ColumnInt64); ok {
					v, _ := col.ValueByIdx(i)
					hit.Date = time.Unix(v, 0).UTC()
				}
			}
		}
		out = append(out, hit)
	}
	return out, nil
}

// Score converts an L2 distance to a similarity in (0, 1]
func Score(distance float32) float64 {
	if distance < 0 {
		distance = 0
	}
	return 1 / (1 + float64(distance))
}

func tickerExpr(ticker string) string {
	return fmt.Sprintf("%s == %q", fieldTicker, ticker)
}

func filterExpr(opts SearchOptions) string {
	expr := ""
	if opts.Ticker != "" {
		expr = tickerExpr(opts.Ticker)
	}
	if !opts.Before.IsZero() {
		before := fmt.Sprintf("%s < %d", fieldDate, opts.Before.Unix())
		if expr == "" {
			expr = before
		} else {
			expr += " && " + before
		}
	}
	return expr
}
