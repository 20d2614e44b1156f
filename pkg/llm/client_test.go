package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunogya/tkg/pkg/enrich"
	"github.com/tunogya/tkg/pkg/model"
)

func completionBody(content string) string {
	encoded, _ := json.Marshal(content)
	return fmt.Sprintf(`{
		"id":"chatcmpl-1",
		"object":"chat.completion",
		"created":1730366400,
		"model":"gpt-4o-mini",
		"choices":[{"index":0,"finish_reason":"stop","logprobs":null,
			"message":{"role":"assistant","content":%s}}],
		"usage":{"prompt_tokens":10,"completion_tokens":12,"total_tokens":22}
	}`, encoded)
}

type fakeServer struct {
	*httptest.Server
	mu       sync.Mutex
	bodies   []map[string]any
	failures atomic.Int32
}

func newFakeServer(t *testing.T, content string, failFirst int32) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.failures.Store(failFirst)
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(body, &payload)
		fs.mu.Lock()
		fs.bodies = append(fs.bodies, payload)
		fs.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if fs.failures.Add(-1) >= 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(completionBody(content)))
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) requests() []map[string]any {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]map[string]any(nil), fs.bodies...)
}

func newTestClient(t *testing.T, fs *fakeServer, maxRetries int) *Client {
	t.Helper()
	cfg := Config{
		Provider:   ProviderOpenAI,
		APIKey:     "test-key",
		BaseURL:    fs.URL,
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
	}
	c, err := New(context.Background(), cfg,
		WithHTTPClient(fs.Client()),
		WithRetryHandler(NewRetryHandler(RetryConfig{MaxRetries: maxRetries, InitialBackoff: time.Millisecond})),
	)
	require.NoError(t, err)
	return c
}

func TestClientComplete(t *testing.T) {
	fs := newFakeServer(t, "Look at [2020-01-02](#2020-01-02).", 0)
	c := newTestClient(t, fs, 0)

	text, err := c.Complete(context.Background(), "what happened?")
	require.NoError(t, err)
	assert.Equal(t, "Look at [2020-01-02](#2020-01-02).", text)

	reqs := fs.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, DefaultModel(ProviderOpenAI), reqs[0]["model"])
	assert.Nil(t, reqs[0]["response_format"])
}

func TestClientRetriesServerErrors(t *testing.T) {
	fs := newFakeServer(t, "ok", 1)
	c := newTestClient(t, fs, 2)

	text, err := c.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Len(t, fs.requests(), 2)
}

func TestClientGivesUpAfterRetries(t *testing.T) {
	fs := newFakeServer(t, "ok", 5)
	c := newTestClient(t, fs, 1)

	_, err := c.Complete(context.Background(), "hi")
	require.Error(t, err)
	var apiErr *openai.Error
	assert.True(t, errors.As(err, &apiErr))
	assert.Len(t, fs.requests(), 2)
}

func TestClientEmptyResponse(t *testing.T) {
	fs := newFakeServer(t, "   ", 0)
	c := newTestClient(t, fs, 0)

	_, err := c.Complete(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestClientCompleteJSON(t *testing.T) {
	fs := newFakeServer(t, "```json\n{\"labels\":[{\"index\":2,\"label\":\"Gap Up\"}]}\n```", 0)
	c := newTestClient(t, fs, 0)

	var out struct {
		Labels []enrich.Suggestion `json:"labels"`
	}
	err := c.CompleteJSON(context.Background(), "label", Request{Prompt: "x", Schema: labelSchema, SchemaName: "transition_labels"}, &out)
	require.NoError(t, err)
	require.Len(t, out.Labels, 1)
	assert.Equal(t, "Gap Up", out.Labels[0].Label)

	reqs := fs.requests()
	require.Len(t, reqs, 1)
	format, ok := reqs[0]["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
}

func TestLabelerEndToEnd(t *testing.T) {
	fs := newFakeServer(t, `{"labels":[{"index":2,"label":"Return-Driven Surge"},{"index":3,"label":"State Convergence"}]}`, 0)
	c := newTestClient(t, fs, 0)

	day := time.Date(2019, 5, 1, 0, 0, 0, 0, time.UTC)
	req := enrich.Request{Ticker: "MSFT", Category: model.CategoryRetClose, Offset: 40}
	for i := 0; i < 3; i++ {
		req.Items = append(req.Items, enrich.Item{Index: i + 1, Position: 40 + i, Date: day.AddDate(0, 0, i)})
	}

	got, err := NewLabeler(c).LabelBatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []enrich.Suggestion{{Index: 2, Label: "Return-Driven Surge"}, {Index: 3, Label: "State Convergence"}}, got)
}

func TestLabelPrompt(t *testing.T) {
	day := time.Date(2019, 5, 1, 0, 0, 0, 0, time.UTC)
	req := enrich.Request{
		Ticker:   "MSFT",
		Category: model.CategoryRHigh,
		Offset:   99,
		Items: []enrich.Item{
			{Index: 1, Position: 99, Date: day, State: model.StateVector{0.1, 0.2, 0.3, 0.4}},
			{Index: 2, Position: 100, Date: day.AddDate(0, 0, 1), State: model.StateVector{0.2, 0.2, 0.3, 0.5}, Delta: model.StateVector{0.1, 0, 0, 0.1}},
		},
	}
	p := LabelPrompt(req)
	assert.Contains(t, p, "observations for MSFT")
	assert.Contains(t, p, "Category: r_high")
	assert.Contains(t, p, "Day 1 (2019-05-01): r_open=0.100, r_high=0.200, r_low=0.300, ret_close=0.400, close=")
	assert.Contains(t, p, "Day 2 (2019-05-02)")
	assert.Contains(t, p, "delta=[+0.100, +0.000, +0.000, +0.100]")
	assert.NotContains(t, p, "Day 100")

	custom := LabelPrompt(enrich.Request{Ticker: "MSFT", Category: "volatility", Items: req.Items})
	assert.Contains(t, custom, `the "volatility" aspect`)
}

func TestParseSuggestions(t *testing.T) {
	got, err := ParseSuggestions(`[{"index":2,"label":"Dip"}]`)
	require.NoError(t, err)
	assert.Equal(t, []enrich.Suggestion{{Index: 2, Label: "Dip"}}, got)

	got, err = ParseSuggestions(`{"labels":[]}`)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ParseSuggestions("sorry, I cannot")
	assert.Error(t, err)
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Provider: "mistral"}, nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestToGenaiSchema(t *testing.T) {
	s, err := toGenaiSchema(labelSchema)
	require.NoError(t, err)
	require.NotNil(t, s.Properties["labels"])
	require.NotNil(t, s.Properties["labels"].Items)
	assert.Equal(t, []string{"index", "label"}, s.Properties["labels"].Items.Required)

	_, err = toGenaiSchema(map[string]any{"type": "tuple"})
	assert.Error(t, err)
}
