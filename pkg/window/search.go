package window

import (
	"strings"

	"github.com/tunogya/tkg/pkg/model"
)

// Search returns the chain positions whose label in cat contains query,
// case-insensitively, in chain order. A blank query matches nothing.
func Search(c *model.Chain, cat model.Category, query string) []int {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || c == nil {
		return nil
	}

	var matches []int
	for i, o := range c.Observations {
		label, ok := c.Labels.Get(o.ID, cat)
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(label), q) {
			matches = append(matches, i)
		}
	}
	return matches
}

// Recenter returns the window start that places match lead positions
// after the start, clamped to the valid range
func Recenter(match, length, width, lead int) int {
	return ClampStart(match-lead, length, width)
}
