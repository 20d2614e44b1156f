// Package chat turns the visible window into a prompt for a conversational
// model and relays its answers.
package chat

import (
	"fmt"
	"strings"

	"github.com/tunogya/tkg/pkg/model"
	"github.com/tunogya/tkg/pkg/window"
)

// FormatObservation renders one context line:
//
//	Date: 2024-01-02, r_open: 0.120, r_high: 0.900, r_low: 0.050, ret_close: 0.610, Semantics: general: Gap Up
func FormatObservation(o model.Observation, labels map[model.Category]string, active model.Category) string {
	s := o.State
	return fmt.Sprintf("Date: %s, r_open: %.3f, r_high: %.3f, r_low: %.3f, ret_close: %.3f, Semantics: %s",
		o.DateKey(),
		s[model.ComponentROpen], s[model.ComponentRHigh], s[model.ComponentRLow], s[model.ComponentRetClose],
		formatLabels(labels, active))
}

// formatLabels lists the active category first, then the others in display order
func formatLabels(labels map[model.Category]string, active model.Category) string {
	cats := make([]model.Category, 0, len(labels))
	for cat, text := range labels {
		if cat != active && text != "" {
			cats = append(cats, cat)
		}
	}
	model.SortCategories(cats)
	if text := labels[active]; text != "" {
		cats = append([]model.Category{active}, cats...)
	}
	if len(cats) == 0 {
		return "None"
	}

	parts := make([]string, len(cats))
	for i, cat := range cats {
		parts[i] = fmt.Sprintf("%s: %s", cat, labels[cat])
	}
	return strings.Join(parts, ", ")
}

// FormatWindow renders every visible row, one line each
func FormatWindow(v window.View) string {
	lines := make([]string, len(v.Rows))
	for i, r := range v.Rows {
		lines[i] = FormatObservation(r.Observation, r.Labels, v.Category)
	}
	return strings.Join(lines, "\n")
}
