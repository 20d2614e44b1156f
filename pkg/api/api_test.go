package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunogya/tkg/pkg/app"
	"github.com/tunogya/tkg/pkg/chat"
	"github.com/tunogya/tkg/pkg/config"
	"github.com/tunogya/tkg/pkg/llm/llmtest"
	"github.com/tunogya/tkg/pkg/model"
	"github.com/tunogya/tkg/pkg/store/memory"
	"github.com/tunogya/tkg/pkg/window"
)

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func csvBars(ticker string, n int) string {
	var b strings.Builder
	b.WriteString("Date,Open,High,Low,Close,Volume,Ticker\n")
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		c := 100 + float64(i%9)
		b.WriteString(base.AddDate(0, 0, i).Format(model.DateLayout))
		b.WriteString(",")
		b.WriteString(strings.Join([]string{
			ftoa(c - 1), ftoa(c + 2), ftoa(c - 2), ftoa(c), "1000", ticker,
		}, ","))
		b.WriteString("\n")
	}
	return b.String()
}

func ftoa(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

func newTestServer(t *testing.T, p *llmtest.Provider) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Driver = config.DriverMemory
	cfg.Window.AutoplayInterval = 5 * time.Millisecond

	opts := []app.Option{app.WithStore(memory.New())}
	if p != nil {
		opts = append(opts, app.WithLLM(llmtest.NewClient(p)))
	}
	a, err := app.New(context.Background(), cfg, zerolog.Nop(), opts...)
	require.NoError(t, err)
	if p == nil {
		a.LLM, a.Batcher = nil, nil
	}

	s := NewServer(a)
	t.Cleanup(func() {
		_ = s.Stop(context.Background())
		a.Close()
	})
	return s
}

func do(t *testing.T, s *Server, method, path, contentType, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func doJSON(t *testing.T, s *Server, method, path string, v interface{}) (int, envelope) {
	t.Helper()
	body := ""
	if v != nil {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		body = string(b)
	}
	return do(t, s, method, path, "application/json", body)
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

// seed uploads bars, regenerates and selects the ticker
func seed(t *testing.T, s *Server, ticker string, n int) window.View {
	t.Helper()
	code, env := do(t, s, http.MethodPost, "/api/bars", "text/csv", csvBars(ticker, n))
	require.Equal(t, http.StatusOK, code, string(env.Data))

	code, _ = doJSON(t, s, http.MethodPost, "/api/regenerate", nil)
	require.Equal(t, http.StatusOK, code)

	code, env = doJSON(t, s, http.MethodPost, "/api/ticker", map[string]string{"ticker": strings.ToLower(ticker)})
	require.Equal(t, http.StatusOK, code)
	return decode[window.View](t, env)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	code, env := do(t, s, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, decode[map[string]interface{}](t, env)["model"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestViewRequiresTicker(t *testing.T) {
	s := newTestServer(t, nil)

	code, env := do(t, s, http.MethodGet, "/api/view", "", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, http.StatusConflict, env.Status)

	code, _ = doJSON(t, s, http.MethodPost, "/api/ticker", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestIngestAndWindowFlow(t *testing.T) {
	s := newTestServer(t, nil)
	v := seed(t, s, "AAPL", 100)

	assert.Equal(t, "AAPL", v.Ticker)
	assert.Equal(t, 100, v.Total)
	assert.Len(t, v.Rows, window.DefaultWidth)

	code, env := doJSON(t, s, http.MethodGet, "/api/tickers", nil)
	require.Equal(t, http.StatusOK, code)
	list := decode[ListDataResponse](t, env)
	assert.Equal(t, int64(1), list.Total)

	code, env = doJSON(t, s, http.MethodPut, "/api/view/start", map[string]int{"start": 500})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 70, decode[window.View](t, env).Start)

	code, env = doJSON(t, s, http.MethodPut, "/api/view/range", map[string]string{"from": "2023-01-11", "to": "2023-01-20"})
	require.Equal(t, http.StatusOK, code)
	v = decode[window.View](t, env)
	assert.Equal(t, 10, v.Total)
	assert.Equal(t, 0, v.Start)

	code, _ = doJSON(t, s, http.MethodPut, "/api/view/range", map[string]string{"from": "2023-02-01", "to": "2023-01-01"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doJSON(t, s, http.MethodPut, "/api/view/range", map[string]string{"from": "01/02/2023"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = doJSON(t, s, http.MethodPost, "/api/view/select", map[string]string{"date": "2023-01-15"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 4, decode[window.View](t, env).Selected)

	code, _ = doJSON(t, s, http.MethodPost, "/api/view/select", map[string]int{"index": 99})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doJSON(t, s, http.MethodPost, "/api/view/select", map[string]string{"date": "2030-01-01"})
	assert.Equal(t, http.StatusNotFound, code)

	code, env = doJSON(t, s, http.MethodPut, "/api/view/category", map[string]string{"category": "R_HIGH"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.CategoryRHigh, decode[window.View](t, env).Category)
}

func TestIngestJSONValidation(t *testing.T) {
	s := newTestServer(t, nil)

	code, env := doJSON(t, s, http.MethodPost, "/api/bars", map[string]interface{}{
		"bars": []map[string]interface{}{{"ticker": "X", "date": "2024-01-02T00:00:00Z", "open": -1, "high": 1, "low": 1, "close": 1}},
	})
	require.Equal(t, http.StatusBadRequest, code)
	errs := decode[[]ValidationError](t, env)
	require.NotEmpty(t, errs)
	assert.Equal(t, "ERR_GT", errs[0].Code)

	code, env = doJSON(t, s, http.MethodPost, "/api/bars", map[string]interface{}{
		"bars": []map[string]interface{}{{"ticker": "x", "date": "2024-01-02T00:00:00Z", "open": 1, "high": 1, "low": 1, "close": 1, "volume": 5}},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, decode[IngestResponse](t, env).WrittenBars)
}

func TestEnrichSearchAndChat(t *testing.T) {
	p := &llmtest.Provider{Label: "Quiet Drift", Reply: "Look at [2023-01-03](#2023-01-03)."}
	s := newTestServer(t, p)
	seed(t, s, "TSLA", 60)

	code, env := doJSON(t, s, http.MethodPost, "/api/enrich", map[string]interface{}{"category": "general"})
	require.Equal(t, http.StatusOK, code, string(env.Data))
	res := decode[EnrichResponse](t, env)
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, 59, res.Written)
	assert.True(t, res.Done)
	assert.Equal(t, 59, res.View.Labeled)

	code, env = doJSON(t, s, http.MethodPost, "/api/enrich", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Zero(t, decode[EnrichResponse](t, env).Batches)

	code, env = do(t, s, http.MethodGet, "/api/search?q=quiet", "", "")
	require.Equal(t, http.StatusOK, code)
	sr := decode[window.SearchResult](t, env)
	assert.Len(t, sr.Matches, 59)
	assert.Equal(t, 1, sr.Selected)

	code, env = doJSON(t, s, http.MethodPost, "/api/chat", map[string]string{"question": "what happened?"})
	require.Equal(t, http.StatusOK, code)
	reply := decode[chat.Reply](t, env)
	assert.False(t, reply.Failed)
	assert.Equal(t, []string{"2023-01-03"}, reply.Dates)

	code, env = do(t, s, http.MethodGet, "/api/chat/history", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(2), decode[ListDataResponse](t, env).Total)

	code, _ = doJSON(t, s, http.MethodPost, "/api/chat", map[string]string{"question": ""})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestChatModelFailureIsNotAnError(t *testing.T) {
	p := &llmtest.Provider{Err: assert.AnError}
	s := newTestServer(t, p)
	seed(t, s, "NVDA", 10)

	code, env := doJSON(t, s, http.MethodPost, "/api/chat", map[string]string{"question": "why?"})
	require.Equal(t, http.StatusOK, code)
	reply := decode[chat.Reply](t, env)
	assert.True(t, reply.Failed)
	assert.Equal(t, chat.FallbackText, reply.Text)

	code, env = do(t, s, http.MethodGet, "/api/status", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"state":"error"`)
}

func TestModelDisabled(t *testing.T) {
	s := newTestServer(t, nil)
	seed(t, s, "AAPL", 10)

	code, _ := doJSON(t, s, http.MethodPost, "/api/enrich", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = doJSON(t, s, http.MethodPost, "/api/chat", map[string]string{"question": "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = do(t, s, http.MethodGet, "/api/similar?date=2023-01-05", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestStreamAutoplay(t *testing.T) {
	s := newTestServer(t, nil)
	seed(t, s, "AAPL", 35)

	ts := httptest.NewServer(s)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first WSMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "view", first.Type)

	resp, err := http.Post(ts.URL+"/api/play", "application/json", bytes.NewReader(nil))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// autoplay stops on its own once the window reaches the end
	for {
		var msg struct {
			Type    string      `json:"type"`
			Payload window.View `json:"payload"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		if !msg.Payload.Playing && msg.Payload.Start == 5 {
			break
		}
	}
}
