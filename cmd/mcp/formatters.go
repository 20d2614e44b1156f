package main

import (
	"fmt"
	"strings"

	"github.com/tunogya/tkg/pkg/app"
	"github.com/tunogya/tkg/pkg/chat"
	"github.com/tunogya/tkg/pkg/enrich"
	"github.com/tunogya/tkg/pkg/model"
	"github.com/tunogya/tkg/pkg/window"
)

func formatTickers(summary []model.TickerSummary) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Tickers (%d)\n\n", len(summary)))
	if len(summary) == 0 {
		sb.WriteString("No observations stored. Ingest bars and regenerate first.\n")
		return sb.String()
	}
	sb.WriteString("| Ticker | Observations | Last date |\n|---|---|---|\n")
	for _, row := range summary {
		sb.WriteString(fmt.Sprintf("| %s | %d | %s |\n", row.Ticker, row.Count, row.LastDate.Format(model.DateLayout)))
	}
	return sb.String()
}

func formatView(v window.View) string {
	var sb strings.Builder
	end := v.Start + len(v.Rows)
	sb.WriteString(fmt.Sprintf("## %s: rows %d-%d of %d", v.Ticker, v.Start+1, end, v.Total))
	if v.Total != v.ChainLen {
		sb.WriteString(fmt.Sprintf(" (filtered from %d)", v.ChainLen))
	}
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("**Category:** %s, %d of %d labeled\n", v.Category, v.Labeled, v.ChainLen))
	if row, ok := v.SelectedRow(); ok {
		sb.WriteString(fmt.Sprintf("**Selected:** %s\n", row.DateKey()))
	}
	sb.WriteString("\n")
	if len(v.Rows) == 0 {
		sb.WriteString("No observations in range.\n")
		return sb.String()
	}
	sb.WriteString(chat.FormatWindow(v))
	sb.WriteString("\n")
	return sb.String()
}

func formatSearch(res window.SearchResult) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Label search for \"%s\" in %s (%d matches)\n\n", res.Query, res.View.Category, len(res.Matches)))
	if len(res.Matches) == 0 {
		sb.WriteString("No matches found. The window did not move.\n")
		return sb.String()
	}
	sb.WriteString(formatView(res.View))
	return sb.String()
}

func formatBatch(res *enrich.Result, batches int, err error) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Labeled %s %s: %d batches, %d labels written\n\n", res.Ticker, res.Category, batches, len(res.Labels)))
	if res.Done() {
		sb.WriteString("Every transition in this category is labeled.\n")
	} else {
		sb.WriteString(fmt.Sprintf("%d observations remain unlabeled.\n", res.Remaining))
	}
	if err != nil {
		sb.WriteString(fmt.Sprintf("\nStopped early: %v\n", err))
	}
	return sb.String()
}

func formatSimilar(res *app.Similar) string {
	var sb strings.Builder
	q := res.Query
	sb.WriteString(fmt.Sprintf("## States similar to %s %s (%d results)\n\n", q.Ticker, q.DateKey(), len(res.Hits)))
	if len(res.Hits) == 0 {
		sb.WriteString("No earlier states indexed.\n")
		return sb.String()
	}
	sb.WriteString("| # | Ticker | Date | Distance | Score | Final |\n|---|---|---|---|---|---|\n")
	for i, h := range res.Hits {
		sb.WriteString(fmt.Sprintf("| %d | %s | %s | %.4f | %.4f | %.4f |\n",
			i+1, h.Ticker, h.Date.Format(model.DateLayout), h.Distance, h.Score, h.FinalScore))
	}
	return sb.String()
}
