// Package window presents an observation chain as a fixed-width moving
// window with date filtering, label search and autoplay.
package window

import (
	"github.com/tunogya/tkg/pkg/model"
)

const (
	// DefaultWidth is the number of observations in a window
	DefaultWidth = 30
	// DefaultLead is how far a search match lands from the window start
	DefaultLead = 15
)

// ClampStart clamps start into [0, max(0, length-width)]
func ClampStart(start, length, width int) int {
	maxStart := length - width
	if maxStart < 0 {
		maxStart = 0
	}
	if start > maxStart {
		start = maxStart
	}
	if start < 0 {
		start = 0
	}
	return start
}

// Bounds returns the clamped [start, end) of the window
func Bounds(start, length, width int) (int, int) {
	start = ClampStart(start, length, width)
	end := start + width
	if end > length {
		end = length
	}
	return start, end
}

// Slice returns the clamped start and the observations of the window
// beginning at start. The result has min(width, len(obs)) entries.
func Slice(obs []model.Observation, start, width int) (int, []model.Observation) {
	start, end := Bounds(start, len(obs), width)
	return start, obs[start:end]
}

// AtEnd reports whether the window already shows the last observation
func AtEnd(start, length, width int) bool {
	return start+width >= length
}
