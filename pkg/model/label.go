package model

import (
	"sort"
	"strings"
	"time"
)

// Category names a dimension of semantic labeling
type Category string

// Known categories
const (
	CategoryGeneral  Category = "general"
	CategoryROpen    Category = "r_open"
	CategoryRHigh    Category = "r_high"
	CategoryRLow     Category = "r_low"
	CategoryRetClose Category = "ret_close"
)

var knownCategories = []Category{
	CategoryGeneral,
	CategoryROpen,
	CategoryRHigh,
	CategoryRLow,
	CategoryRetClose,
}

// KnownCategories returns the closed set of categories in display order
func KnownCategories() []Category {
	out := make([]Category, len(knownCategories))
	copy(out, knownCategories)
	return out
}

// ParseCategory maps free text to a category. Unknown names are kept as custom
// categories; an empty name means general.
func ParseCategory(s string) Category {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CategoryGeneral
	}
	return Category(s)
}

// IsCustom reports whether c is outside the known set
func (c Category) IsCustom() bool {
	return c.rank() == len(knownCategories)
}

func (c Category) rank() int {
	for i, k := range knownCategories {
		if k == c {
			return i
		}
	}
	return len(knownCategories)
}

// SortCategories orders categories: known ones in enum order, then custom ones alphabetically
func SortCategories(cats []Category) {
	sort.SliceStable(cats, func(i, j int) bool {
		ri, rj := cats[i].rank(), cats[j].rank()
		if ri != rj {
			return ri < rj
		}
		return cats[i] < cats[j]
	})
}

// DefaultConfidence is stored when a labeler does not report one
const DefaultConfidence = 1.0

// SemanticLabel annotates the transition into an observation from its predecessor
type SemanticLabel struct {
	ObservationID string    `json:"observation_id"`
	Category      Category  `json:"category"`
	Label         string    `json:"label"`
	Confidence    float64   `json:"confidence"`
	CreatedAt     time.Time `json:"created_at"`
}

// Labels indexes label text by observation id and category
type Labels map[string]map[Category]string

// Get returns the label of an observation in a category
func (l Labels) Get(observationID string, c Category) (string, bool) {
	byCat, ok := l[observationID]
	if !ok {
		return "", false
	}
	label, ok := byCat[c]
	return label, ok && label != ""
}

// Has reports whether an observation carries a label in a category
func (l Labels) Has(observationID string, c Category) bool {
	_, ok := l.Get(observationID, c)
	return ok
}

// For returns a copy of every label attached to an observation
func (l Labels) For(observationID string) map[Category]string {
	byCat := l[observationID]
	out := make(map[Category]string, len(byCat))
	for c, v := range byCat {
		out[c] = v
	}
	return out
}

// Clone deep-copies the index
func (l Labels) Clone() Labels {
	out := make(Labels, len(l))
	for id, byCat := range l {
		cp := make(map[Category]string, len(byCat))
		for c, v := range byCat {
			cp[c] = v
		}
		out[id] = cp
	}
	return out
}

// Merge returns a new index holding l plus the given labels; later entries win.
// The receiver is left untouched.
func (l Labels) Merge(labels []SemanticLabel) Labels {
	out := l.Clone()
	for _, sl := range labels {
		byCat, ok := out[sl.ObservationID]
		if !ok {
			byCat = make(map[Category]string)
			out[sl.ObservationID] = byCat
		}
		byCat[sl.Category] = sl.Label
	}
	return out
}
