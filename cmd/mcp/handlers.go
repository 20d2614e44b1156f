package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/tunogya/tkg/pkg/app"
	"github.com/tunogya/tkg/pkg/chat"
	"github.com/tunogya/tkg/pkg/enrich"
	"github.com/tunogya/tkg/pkg/model"
	"github.com/tunogya/tkg/pkg/window"
)

// session is the single chain session shared by every tool call of the
// stdio client
type session struct {
	app       *app.App
	svc       *window.Service
	assistant *chat.Assistant
	logger    zerolog.Logger
}

func textResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(s)},
	}
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf(format, args...))},
		IsError: true,
	}
}

// ensureTicker loads ticker unless it is empty or already loaded
func (s *session) ensureTicker(ctx context.Context, ticker string) (window.View, error) {
	ticker = model.NormalizeTicker(ticker)
	if ticker == "" || ticker == s.svc.Ticker() {
		return s.svc.View()
	}
	return s.svc.SelectTicker(ctx, ticker)
}

func (s *session) handleListTickers() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		summary, err := s.app.Store.Summary(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("summary failed")
			return errorResult("List error: %v", err), nil
		}
		return textResult(formatTickers(summary)), nil
	}
}

func (s *session) handleGetWindow() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		v, err := s.ensureTicker(ctx, request.GetString("ticker", ""))
		if err != nil {
			return errorResult("Error: %v", err), nil
		}

		if cat := request.GetString("category", ""); cat != "" {
			if v, err = s.svc.SetCategory(model.ParseCategory(cat)); err != nil {
				return errorResult("Error: %v", err), nil
			}
		}

		from, to := request.GetString("from", ""), request.GetString("to", "")
		if from != "" || to != "" {
			rng, err := window.ParseDateRange(from, to)
			if err != nil {
				return errorResult("Invalid date range: %v", err), nil
			}
			if v, err = s.svc.SetDateRange(rng); err != nil {
				return errorResult("Error: %v", err), nil
			}
		}

		if raw := request.GetString("date", ""); raw != "" {
			date, err := time.Parse(model.DateLayout, raw)
			if err != nil {
				return errorResult("Invalid date %q, expected YYYY-MM-DD", raw), nil
			}
			if v, err = s.svc.SelectDate(date); err != nil {
				return errorResult("Error: %v", err), nil
			}
		} else if start := request.GetInt("start", -1); start >= 0 {
			if v, err = s.svc.SetStart(start); err != nil {
				return errorResult("Error: %v", err), nil
			}
		}

		return textResult(formatView(v)), nil
	}
}

func (s *session) handleSearchLabels() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil || query == "" {
			return errorResult("Error: query parameter is required"), nil
		}
		res, err := s.svc.Search(query)
		if err != nil {
			return errorResult("Search error: %v", err), nil
		}
		return textResult(formatSearch(res)), nil
	}
}

func (s *session) handleAsk() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if s.assistant == nil {
			return errorResult("Error: %v", app.ErrNoModel), nil
		}
		question, err := request.RequireString("question")
		if err != nil {
			return errorResult("Error: question parameter is required"), nil
		}
		v, err := s.svc.View()
		if err != nil {
			return errorResult("Error: %v", err), nil
		}
		reply, err := s.assistant.Ask(ctx, v, question)
		if err != nil {
			s.logger.Error().Err(err).Msg("ask failed")
			return errorResult("Ask error: %v", err), nil
		}
		if reply.Failed {
			return errorResult("%s", reply.Text), nil
		}
		return textResult(reply.Text), nil
	}
}

func (s *session) handleNextBatch() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ticker := model.NormalizeTicker(request.GetString("ticker", ""))
		if ticker == "" {
			ticker = s.svc.Ticker()
		}
		if ticker == "" {
			return errorResult("Error: no ticker loaded; pass ticker"), nil
		}

		cat := model.ParseCategory(request.GetString("category", ""))
		if request.GetString("category", "") == "" {
			if v, err := s.svc.View(); err == nil {
				cat = v.Category
			}
		}

		res, batches, err := s.app.Enrich(ctx, ticker, cat, request.GetInt("max_batches", 1))
		if err != nil && (res == nil || res.Written == 0) {
			if errors.Is(err, enrich.ErrInFlight) {
				return errorResult("A %s batch for %s is already running", cat, ticker), nil
			}
			return errorResult("Labeling error: %v", err), nil
		}

		// Labels were written behind the session's back
		if ticker == s.svc.Ticker() {
			if _, rerr := s.svc.Reload(ctx); rerr != nil {
				s.logger.Warn().Err(rerr).Msg("failed to reload session after labeling")
			}
		}
		return textResult(formatBatch(res, batches, err)), nil
	}
}

func (s *session) handleSimilarStates() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := request.RequireString("date")
		if err != nil {
			return errorResult("Error: date parameter is required"), nil
		}
		date, err := time.Parse(model.DateLayout, raw)
		if err != nil {
			return errorResult("Invalid date %q, expected YYYY-MM-DD", raw), nil
		}
		ticker := request.GetString("ticker", "")
		if ticker == "" {
			ticker = s.svc.Ticker()
		}
		if ticker == "" {
			return errorResult("Error: no ticker loaded; pass ticker"), nil
		}

		res, err := s.app.SimilarStates(ctx, ticker, date, request.GetInt("top_k", 0))
		if err != nil {
			s.logger.Error().Err(err).Str("ticker", ticker).Msg("similar states failed")
			return errorResult("Search error: %v", err), nil
		}
		return textResult(formatSimilar(res)), nil
	}
}
