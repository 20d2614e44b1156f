package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tunogya/tkg/pkg/enrich"
	"github.com/tunogya/tkg/pkg/model"
)

var labelSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"labels": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"index": map[string]any{"type": "integer"},
					"label": map[string]any{"type": "string"},
				},
				"required":             []string{"index", "label"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"labels"},
	"additionalProperties": false,
}

var categoryFocus = map[model.Category]string{
	model.CategoryGeneral:  "how the components interact and influence the resulting state transition",
	model.CategoryROpen:    "the movement of r_open, the open relative to the close",
	model.CategoryRHigh:    "the movement of r_high, the upper range relative to the close",
	model.CategoryRLow:     "the movement of r_low, the lower range relative to the close",
	model.CategoryRetClose: "the movement of ret_close, the daily close return",
}

// Labeler produces transition labels with the model client
type Labeler struct {
	client *Client
}

// NewLabeler wraps a client as an enrich.Labeler
func NewLabeler(c *Client) *Labeler {
	return &Labeler{client: c}
}

// LabelBatch asks the model for one label per transition of the batch
func (l *Labeler) LabelBatch(ctx context.Context, req enrich.Request) ([]enrich.Suggestion, error) {
	if len(req.Items) == 0 {
		return nil, nil
	}

	text, err := l.client.Generate(ctx, "label", Request{
		Prompt:     LabelPrompt(req),
		Schema:     labelSchema,
		SchemaName: "transition_labels",
	})
	if err != nil {
		return nil, err
	}
	return ParseSuggestions(text)
}

// LabelPrompt renders the labeling instructions and the batch. Day numbers
// are 1-based within the batch; Day 1 is context only.
func LabelPrompt(req enrich.Request) string {
	focus, ok := categoryFocus[req.Category]
	if !ok {
		focus = fmt.Sprintf("the %q aspect of each transition", string(req.Category))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following sequence of stock market observations for %s.\n", req.Ticker)
	b.WriteString("For each day except Day 1, provide a short (1-3 words) semantic label that describes the transition ")
	b.WriteString("from the previous day's state to the current day's state. Day 1 is context only.\n\n")
	b.WriteString("The state vector components, each normalized between 0 and 1 for this ticker:\n")
	b.WriteString("- r_open: (Open - Close) / Close\n")
	b.WriteString("- r_high: (High - Close) / Close\n")
	b.WriteString("- r_low: (Low - Close) / Close\n")
	b.WriteString("- ret_close: daily close return\n\n")
	fmt.Fprintf(&b, "Category: %s. Focus the label on %s.\n", req.Category, focus)
	b.WriteString(`Examples: "Open-High Divergence", "Low-Return Support", "High-Low Compression", "Return-Driven Surge", "State Convergence".`)
	b.WriteString("\n\nData:\n")

	for _, it := range req.Items {
		s := it.State
		fmt.Fprintf(&b, "Day %d (%s): r_open=%.3f, r_high=%.3f, r_low=%.3f, ret_close=%.3f",
			it.Index, it.Date.Format(model.DateLayout),
			s[model.ComponentROpen], s[model.ComponentRHigh], s[model.ComponentRLow], s[model.ComponentRetClose])
		if it.Index > 1 {
			d := it.Delta
			fmt.Fprintf(&b, ", delta=[%+.3f, %+.3f, %+.3f, %+.3f]", d[0], d[1], d[2], d[3])
		}
		fmt.Fprintf(&b, ", close=%.2f, volume=%d\n", it.Close, it.Volume)
	}

	b.WriteString("\nReturn JSON with a \"labels\" array of objects, each with \"index\" (the Day number) and \"label\".")
	return b.String()
}

// ParseSuggestions accepts either {"labels": [...]} or a bare array
func ParseSuggestions(text string) ([]enrich.Suggestion, error) {
	raw := stripFences(text)

	var wrapped struct {
		Labels []enrich.Suggestion `json:"labels"`
	}
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &wrapped.Labels); err != nil {
			return nil, fmt.Errorf("failed to decode labels: %w", err)
		}
		return wrapped.Labels, nil
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode labels: %w", err)
	}
	return wrapped.Labels, nil
}
