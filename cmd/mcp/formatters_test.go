package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tunogya/tkg/pkg/enrich"
	"github.com/tunogya/tkg/pkg/model"
	"github.com/tunogya/tkg/pkg/window"
)

func TestFormatTickers(t *testing.T) {
	assert.Contains(t, formatTickers(nil), "No observations stored")

	out := formatTickers([]model.TickerSummary{
		{Ticker: "AAPL", Count: 42, LastDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	})
	assert.Contains(t, out, "## Tickers (1)")
	assert.Contains(t, out, "| AAPL | 42 | 2024-03-01 |")
}

func TestFormatBatch(t *testing.T) {
	res := &enrich.Result{
		Ticker:    "AAPL",
		Category:  model.CategoryGeneral,
		Remaining: 0,
		Labels:    make([]model.SemanticLabel, 3),
	}
	out := formatBatch(res, 1, nil)
	assert.Contains(t, out, "1 batches, 3 labels written")
	assert.Contains(t, out, "Every transition")

	res.Remaining = 7
	out = formatBatch(res, 2, errors.New("timeout"))
	assert.Contains(t, out, "7 observations remain")
	assert.Contains(t, out, "Stopped early: timeout")
}

func TestFormatSearchNoMatches(t *testing.T) {
	out := formatSearch(window.SearchResult{
		Query: "gap",
		View:  window.View{Category: model.CategoryROpen},
	})
	assert.Contains(t, out, `"gap" in r_open (0 matches)`)
	assert.Contains(t, out, "did not move")
}
