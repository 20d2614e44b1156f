package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func createListTickersTool() mcp.Tool {
	return mcp.NewTool("list_tickers",
		mcp.WithDescription("List every ticker with its observation count and latest date"),
	)
}

func createGetWindowTool() mcp.Tool {
	return mcp.NewTool("get_window",
		mcp.WithDescription("Show the 30-day window of observations with their semantic labels. Loads the ticker if it differs from the current one."),
		mcp.WithString("ticker",
			mcp.Description("Ticker symbol; defaults to the loaded ticker"),
		),
		mcp.WithString("category",
			mcp.Description("Active label category: general, r_open, r_high, r_low, ret_close or a custom name"),
		),
		mcp.WithString("date",
			mcp.Description("Center the window on this date (YYYY-MM-DD) and select it"),
		),
		mcp.WithNumber("start",
			mcp.Description("Window start position in the filtered chain"),
		),
		mcp.WithString("from",
			mcp.Description("Date filter lower bound (YYYY-MM-DD)"),
		),
		mcp.WithString("to",
			mcp.Description("Date filter upper bound (YYYY-MM-DD)"),
		),
	)
}

func createSearchLabelsTool() mcp.Tool {
	return mcp.NewTool("search_labels",
		mcp.WithDescription("Find observations whose label in the active category contains the query, case-insensitively, and move the window to the first match"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Substring to look for"),
		),
	)
}

func createAskTool() mcp.Tool {
	return mcp.NewTool("ask",
		mcp.WithDescription("Ask the market assistant a question about the visible window"),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Question about the observations on screen"),
		),
	)
}

func createNextBatchTool() mcp.Tool {
	return mcp.NewTool("next_batch",
		mcp.WithDescription("Label the next unlabeled observations of a ticker in one category"),
		mcp.WithString("ticker",
			mcp.Description("Ticker symbol; defaults to the loaded ticker"),
		),
		mcp.WithString("category",
			mcp.Description("Label category (default: the active category)"),
		),
		mcp.WithNumber("max_batches",
			mcp.Description("Batches to run (default: 1, 0 runs until complete)"),
		),
	)
}

func createSimilarStatesTool() mcp.Tool {
	return mcp.NewTool("similar_states",
		mcp.WithDescription("Find earlier days across all tickers whose state vector is nearest to a given day"),
		mcp.WithString("ticker",
			mcp.Description("Ticker symbol; defaults to the loaded ticker"),
		),
		mcp.WithString("date",
			mcp.Required(),
			mcp.Description("Query date (YYYY-MM-DD)"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Results to return (default from config)"),
		),
	)
}
