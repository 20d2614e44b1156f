// Package llmtest provides an in-process model provider for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"sync"

	"github.com/tunogya/tkg/pkg/llm"
)

var dayLine = regexp.MustCompile(`(?m)^Day (\d+) \(`)

// Provider answers labeling prompts with one label per day after Day 1 and
// every other prompt with Reply
type Provider struct {
	// Label is the text given to every transition
	Label string
	// Reply answers non-labeling prompts
	Reply string
	// Err, when set, fails every call
	Err error

	mu      sync.Mutex
	prompts []llm.Request
}

var _ llm.Provider = (*Provider)(nil)

// Name implements llm.Provider
func (p *Provider) Name() string { return "test" }

// Generate implements llm.Provider
func (p *Provider) Generate(ctx context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, req)
	p.mu.Unlock()

	if p.Err != nil {
		return "", p.Err
	}
	if req.Schema == nil {
		return p.Reply, nil
	}

	type item struct {
		Index int    `json:"index"`
		Label string `json:"label"`
	}
	out := struct {
		Labels []item `json:"labels"`
	}{Labels: []item{}}
	for _, m := range dayLine.FindAllStringSubmatch(req.Prompt, -1) {
		n, _ := strconv.Atoi(m[1])
		if n > 1 {
			out.Labels = append(out.Labels, item{Index: n, Label: p.Label})
		}
	}
	b, err := json.Marshal(out)
	return string(b), err
}

// Requests returns every request received so far
func (p *Provider) Requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.Request, len(p.prompts))
	copy(out, p.prompts)
	return out
}

// NewClient wraps p in an unthrottled client with no retries
func NewClient(p *Provider) *llm.Client {
	c, err := llm.New(context.Background(), llm.Config{Provider: llm.ProviderGemini},
		llm.WithProvider(p),
		llm.WithRetryHandler(llm.NewRetryHandler(llm.RetryConfig{MaxRetries: 0})),
	)
	if err != nil {
		panic(err)
	}
	return c
}
