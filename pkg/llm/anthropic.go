package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicProvider struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float64
}

func newAnthropic(cfg Config, httpClient *http.Client) *anthropicProvider {
	opts := []anthropicopt.RequestOption{
		anthropicopt.WithAPIKey(cfg.APIKey),
		anthropicopt.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropicopt.WithBaseURL(cfg.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, anthropicopt.WithHTTPClient(httpClient))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &anthropicProvider{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}
}

func (p *anthropicProvider) Name() string { return ProviderAnthropic }

func (p *anthropicProvider) Generate(ctx context.Context, req Request) (string, error) {
	system := req.System
	if len(req.Schema) > 0 {
		// no native schema mode: the schema travels in the system prompt
		raw, err := json.Marshal(req.Schema)
		if err != nil {
			return "", err
		}
		system = strings.TrimSpace(system + "\n\nRespond with JSON only, matching this JSON schema:\n" + string(raw))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if p.temperature > 0 {
		params.Temperature = anthropic.Float(p.temperature)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}
