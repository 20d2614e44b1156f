package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/tunogya/tkg/pkg/app"
	"github.com/tunogya/tkg/pkg/chat"
	"github.com/tunogya/tkg/pkg/data"
	"github.com/tunogya/tkg/pkg/enrich"
	"github.com/tunogya/tkg/pkg/model"
	"github.com/tunogya/tkg/pkg/window"
)

// Status keys
const (
	StatusLoad       = "load"
	StatusIngest     = "ingest"
	StatusRegenerate = "regenerate"
	StatusChat       = "chat"
)

func enrichKey(cat model.Category) string {
	return "enrich:" + string(cat)
}

var errRegenerating = fmt.Errorf("%w: regeneration already running", enrich.ErrInFlight)

type tickerRequest struct {
	Ticker string `json:"ticker" validate:"required,max=32"`
}

type startRequest struct {
	Start int `json:"start" validate:"gte=0"`
}

type rangeRequest struct {
	From string `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To   string `json:"to" validate:"omitempty,datetime=2006-01-02"`
}

type categoryRequest struct {
	Category string `json:"category" default:"general" validate:"max=64"`
}

type selectRequest struct {
	Index *int   `json:"index" validate:"omitempty,gte=-1"`
	Date  string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type searchRequest struct {
	Query string `query:"q" validate:"max=200"`
}

type enrichRequest struct {
	Category   string `json:"category" default:"general" validate:"max=64"`
	MaxBatches int    `json:"max_batches" default:"1" validate:"gte=1,lte=100"`
}

type chatRequest struct {
	Question string `json:"question" validate:"required,max=4000"`
}

type similarRequest struct {
	Date string `query:"date" validate:"omitempty,datetime=2006-01-02"`
	TopK int    `query:"top_k" default:"10" validate:"gte=1,lte=100"`
}

type barsRequest struct {
	Bars []model.RawBar `json:"bars" validate:"required,min=1,dive"`
}

// EnrichResponse summarizes the batches one request ran
type EnrichResponse struct {
	Ticker    string         `json:"ticker"`
	Category  model.Category `json:"category"`
	Batches   int            `json:"batches"`
	Written   int            `json:"written"`
	Remaining int            `json:"remaining"`
	Done      bool           `json:"done"`
	View      window.View    `json:"view"`
}

// IngestResponse reports a bar upload
type IngestResponse struct {
	data.IngestProgress
	Skipped int `json:"skipped"`
}

// Handler serves one dashboard session over the shared components
type Handler struct {
	app       *app.App
	svc       *window.Service
	assistant *chat.Assistant
	logger    zerolog.Logger

	regenerating atomic.Bool
}

// NewHandler creates a handler with its own chain session
func NewHandler(a *app.App) *Handler {
	h := &Handler{
		app:    a,
		svc:    a.NewService(),
		logger: a.Logger.With().Str("component", "api").Logger(),
	}
	if asst, err := a.NewAssistant(); err == nil {
		h.assistant = asst
	}
	return h
}

// Close stops the session
func (h *Handler) Close() {
	h.svc.Close()
}

// RegisterRoutes mounts the API
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/tickers", h.Tickers)
	g.POST("/bars", h.IngestBars)
	g.POST("/regenerate", h.Regenerate)
	g.POST("/ticker", h.SelectTicker)
	g.POST("/reload", h.Reload)

	g.GET("/view", h.View)
	g.PUT("/view/start", h.SetStart)
	g.PUT("/view/range", h.SetRange)
	g.PUT("/view/category", h.SetCategory)
	g.POST("/view/select", h.Select)
	g.GET("/search", h.Search)
	g.POST("/play", h.Play)
	g.POST("/pause", h.Pause)
	g.GET("/ws", h.Stream)

	g.POST("/enrich", h.Enrich)
	g.POST("/chat", h.Chat)
	g.GET("/chat/history", h.ChatHistory)
	g.DELETE("/chat/history", h.ClearChat)
	g.GET("/similar", h.Similar)
	g.GET("/status", h.Status)
}

func (h *Handler) Health(c echo.Context) error {
	return SuccessResponse(c, map[string]interface{}{
		"ticker": h.svc.Ticker(),
		"model":  h.app.LLM != nil,
		"index":  h.app.Index != nil,
		"queue":  h.app.Queue != nil,
	})
}

func (h *Handler) Tickers(c echo.Context) error {
	rows, err := h.app.Store.Summary(c.Request().Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read ticker summary")
		return ErrorResponse(c, err)
	}
	return ListResponse(c, rows, len(rows))
}

// IngestBars accepts either a CSV body (text/csv) or JSON {"bars": [...]}
func (h *Handler) IngestBars(c echo.Context) error {
	ctx := c.Request().Context()

	var (
		bars    []model.RawBar
		skipped int
	)
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), "text/csv") {
		parsed, stats, err := data.ParseCSV(c.Request().Body, h.logger)
		if err != nil {
			return BadRequestResponse(c, validatorDefaultRules(err))
		}
		bars, skipped = parsed, stats.Skipped
	} else {
		req := &barsRequest{}
		if verr := ReadAndValidateRequest(c, req); verr != nil {
			return BadRequestResponse(c, verr)
		}
		for _, b := range req.Bars {
			b.Ticker = model.NormalizeTicker(b.Ticker)
			b.Date = model.TruncateDate(b.Date)
			bars = append(bars, b)
		}
	}

	var progress data.IngestProgress
	err := h.app.Status.Track(StatusIngest, "Saving bars", func() error {
		var err error
		progress, err = h.app.Ingest(ctx, bars)
		return err
	})
	if err != nil {
		return ErrorResponse(c, err)
	}
	return SuccessResponse(c, IngestResponse{IngestProgress: progress, Skipped: skipped})
}

// Regenerate recomputes every chain. Every label is discarded.
func (h *Handler) Regenerate(c echo.Context) error {
	if !h.regenerating.CompareAndSwap(false, true) {
		return ErrorResponse(c, errRegenerating)
	}
	defer h.regenerating.Store(false)

	ctx := c.Request().Context()
	var res interface{}
	err := h.app.Status.Track(StatusRegenerate, "Regenerating observations", func() error {
		r, err := h.app.Regenerate(ctx)
		res = r
		return err
	})
	if err != nil {
		return ErrorResponse(c, err)
	}

	if h.svc.Ticker() != "" {
		if _, err := h.svc.Reload(ctx); err != nil && !errors.Is(err, window.ErrSuperseded) {
			h.logger.Warn().Err(err).Msg("failed to reload chain after regeneration")
		}
	}
	return SuccessResponse(c, res)
}

func (h *Handler) SelectTicker(c echo.Context) error {
	req := &tickerRequest{}
	if verr := ReadAndValidateRequest(c, req); verr != nil {
		return BadRequestResponse(c, verr)
	}

	var v window.View
	err := h.app.Status.Track(StatusLoad, "Loading "+model.NormalizeTicker(req.Ticker), func() error {
		var err error
		v, err = h.svc.SelectTicker(c.Request().Context(), req.Ticker)
		return err
	})
	if err != nil {
		return ErrorResponse(c, err)
	}
	return SuccessResponse(c, v)
}

func (h *Handler) Reload(c echo.Context) error {
	v, err := h.svc.Reload(c.Request().Context())
	if err != nil {
		return ErrorResponse(c, err)
	}
	return SuccessResponse(c, v)
}

func (h *Handler) View(c echo.Context) error {
	v, err := h.svc.View()
	if err != nil {
		return ErrorResponse(c, err)
	}
	return SuccessResponse(c, v)
}

func (h *Handler) SetStart(c echo.Context) error {
	req := &startRequest{}
	if verr := ReadAndValidateRequest(c, req); verr != nil {
		return BadRequestResponse(c, verr)
	}
	v, err := h.svc.SetStart(req.Start)
	if err != nil {
		return ErrorResponse(c, err)
	}
	return SuccessResponse(c, v)
}

func (h *Handler) SetRange(c echo.Context) error {
	req := &rangeRequest{}
	if verr := ReadAndValidateRequest(c, req); verr != nil {
		return BadRequestResponse(c, verr)
	}
	r, err := window.ParseDateRange(req.From, req.To)
	if err != nil {
		return ErrorResponse(c, badInput("%v", err))
	}
	v, err := h.svc.SetDateRange(r)
	if err != nil {
		return ErrorResponse(c, err)
	}
	return SuccessResponse(c, v)
}

func (h *Handler) SetCategory(c echo.Context) error {
	req := &categoryRequest{}
	if verr := ReadAndValidateRequest(c, req); verr != nil {
		return BadRequestResponse(c, verr)
	}
	v, err := h.svc.SetCategory(model.ParseCategory(req.Category))
	if err != nil {
		return ErrorResponse(c, err)
	}
	return SuccessResponse(c, v)
}

func (h *Handler) Select(c echo.Context) error {
	req := &selectRequest{}
	if verr := ReadAndValidateRequest(c, req); verr != nil {
		return BadRequestResponse(c, verr)
	}

	var (
		v   window.View
		err error
	)
	switch {
	case req.Date != "":
		day, perr := model.ParseDate(req.Date)
		if perr != nil {
			return ErrorResponse(c, badInput("%v", perr))
		}
		v, err = h.svc.SelectDate(day)
	case req.Index != nil:
		v, err = h.svc.Select(*req.Index)
		if err != nil && !errors.Is(err, window.ErrNoChain) {
			err = badInput("%v", err)
		}
	default:
		return ErrorResponse(c, badInput("index or date is required"))
	}
	if err != nil {
		return ErrorResponse(c, err)
	}
	return SuccessResponse(c, v)
}

func (h *Handler) Search(c echo.Context) error {
	req := &searchRequest{}
	if verr := ReadAndValidateRequest(c, req); verr != nil {
		return BadRequestResponse(c, verr)
	}
	res, err := h.svc.Search(req.Query)
	if err != nil {
		return ErrorResponse(c, err)
	}
	return SuccessResponse(c, res)
}

func (h *Handler) Play(c echo.Context) error {
	v, err := h.svc.Play()
	if err != nil {
		return ErrorResponse(c, err)
	}
	return SuccessResponse(c, v)
}

func (h *Handler) Pause(c echo.Context) error {
	v, err := h.svc.Pause()
	if err != nil {
		return ErrorResponse(c, err)
	}
	return SuccessResponse(c, v)
}

// Enrich labels up to max_batches batches of the active ticker. A batch that
// fails stops the run; labels of earlier batches stay written.
func (h *Handler) Enrich(c echo.Context) error {
	req := &enrichRequest{}
	if verr := ReadAndValidateRequest(c, req); verr != nil {
		return BadRequestResponse(c, verr)
	}
	if h.app.Batcher == nil {
		return ErrorResponse(c, app.ErrNoModel)
	}

	ctx := c.Request().Context()
	cat := model.ParseCategory(req.Category)
	out := EnrichResponse{Ticker: h.svc.Ticker(), Category: cat}

	err := h.app.Status.Track(enrichKey(cat), "Generating "+string(cat)+" labels", func() error {
		for out.Batches < req.MaxBatches {
			start := time.Now()
			res, err := h.svc.Enrich(ctx, h.app.Batcher, h.app.Guard, cat)
			h.app.Metrics.RecordLatency("enrich", time.Since(start))
			if res != nil {
				out.Written += len(res.Labels)
				out.Remaining = res.Remaining
				out.Done = res.Done()
				h.app.Metrics.RecordLabelsWritten(string(cat), len(res.Labels))
			}
			if err != nil {
				if !errors.Is(err, enrich.ErrInFlight) && !errors.Is(err, window.ErrNoChain) {
					h.app.Metrics.RecordError("enrich")
				}
				return err
			}
			if res.Written > 0 {
				out.Batches++
			}
			if out.Done {
				return nil
			}
		}
		return nil
	})
	if err != nil && out.Batches == 0 {
		return ErrorResponse(c, err)
	}
	if err != nil {
		h.logger.Warn().Err(err).Int("batches", out.Batches).Msg("enrichment stopped early")
	}

	out.View, _ = h.svc.View()
	return SuccessResponse(c, out)
}

// Chat answers a question about the current window. Model failures come
// back as a failed reply with the fallback text, not as an error status.
func (h *Handler) Chat(c echo.Context) error {
	req := &chatRequest{}
	if verr := ReadAndValidateRequest(c, req); verr != nil {
		return BadRequestResponse(c, verr)
	}
	if h.assistant == nil {
		return ErrorResponse(c, app.ErrNoModel)
	}

	v, err := h.svc.View()
	if err != nil {
		return ErrorResponse(c, err)
	}

	h.app.Status.Begin(StatusChat, "Thinking")
	reply, err := h.assistant.Ask(c.Request().Context(), v, req.Question)
	switch {
	case err != nil:
		h.app.Status.Fail(StatusChat, err)
		return ErrorResponse(c, err)
	case reply.Failed:
		h.app.Status.Fail(StatusChat, errors.New(reply.Error))
	default:
		h.app.Status.Succeed(StatusChat, "")
	}
	return SuccessResponse(c, reply)
}

func (h *Handler) ChatHistory(c echo.Context) error {
	if h.assistant == nil {
		return ListResponse(c, []chat.Message{}, 0)
	}
	msgs := h.assistant.History().Messages()
	return ListResponse(c, msgs, len(msgs))
}

func (h *Handler) ClearChat(c echo.Context) error {
	if h.assistant != nil {
		h.assistant.History().Clear()
	}
	return c.NoContent(http.StatusNoContent)
}

// Similar looks up historical states close to the selected observation, or
// to the observation on the given date
func (h *Handler) Similar(c echo.Context) error {
	req := &similarRequest{}
	if verr := ReadAndValidateRequest(c, req); verr != nil {
		return BadRequestResponse(c, verr)
	}

	ticker := h.svc.Ticker()
	if ticker == "" {
		return ErrorResponse(c, window.ErrNoChain)
	}

	var day time.Time
	if req.Date != "" {
		d, err := model.ParseDate(req.Date)
		if err != nil {
			return ErrorResponse(c, badInput("%v", err))
		}
		day = d
	} else {
		v, err := h.svc.View()
		if err != nil {
			return ErrorResponse(c, err)
		}
		row, ok := v.SelectedRow()
		if !ok {
			return ErrorResponse(c, badInput("select an observation or pass a date"))
		}
		day = row.Date
	}

	res, err := h.app.SimilarStates(c.Request().Context(), ticker, day, req.TopK)
	if err != nil {
		return ErrorResponse(c, err)
	}
	return SuccessResponse(c, res)
}

func (h *Handler) Status(c echo.Context) error {
	entries := h.app.Status.All()
	return ListResponse(c, entries, len(entries))
}
