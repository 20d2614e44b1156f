package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

type geminiProvider struct {
	client      *genai.Client
	model       string
	temperature float64
}

func newGemini(ctx context.Context, cfg Config, httpClient *http.Client) (*geminiProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &geminiProvider{client: client, model: cfg.Model, temperature: cfg.Temperature}, nil
}

func (p *geminiProvider) Name() string { return ProviderGemini }

func (p *geminiProvider) Generate(ctx context.Context, req Request) (string, error) {
	config := &genai.GenerateContentConfig{}
	if p.temperature > 0 {
		config.Temperature = genai.Ptr(float32(p.temperature))
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Schema) > 0 {
		schema, err := toGenaiSchema(req.Schema)
		if err != nil {
			return "", err
		}
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = schema
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Text(), nil
}

// toGenaiSchema converts a JSON schema map into the Gemini schema type
func toGenaiSchema(m map[string]any) (*genai.Schema, error) {
	if len(m) == 0 {
		return nil, nil
	}

	schema := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		switch strings.ToLower(t) {
		case "object":
			schema.Type = genai.TypeObject
		case "array":
			schema.Type = genai.TypeArray
		case "string":
			schema.Type = genai.TypeString
		case "number":
			schema.Type = genai.TypeNumber
		case "integer":
			schema.Type = genai.TypeInteger
		case "boolean":
			schema.Type = genai.TypeBoolean
		default:
			return nil, fmt.Errorf("unsupported schema type %q", t)
		}
	}
	if desc, ok := m["description"].(string); ok {
		schema.Description = desc
	}
	switch req := m["required"].(type) {
	case []string:
		schema.Required = req
	case []any:
		for _, v := range req {
			if s, ok := v.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s, err := toGenaiSchema(items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		schema.Items = s
	}
	if props, ok := m["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, v := range props {
			pm, ok := v.(map[string]any)
			if !ok {
				continue
			}
			s, err := toGenaiSchema(pm)
			if err != nil {
				return nil, fmt.Errorf("property %s: %w", name, err)
			}
			schema.Properties[name] = s
		}
	}
	return schema, nil
}
