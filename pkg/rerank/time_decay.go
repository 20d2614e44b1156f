// Package rerank reorders similar-state hits by how recent they are.
package rerank

import (
	"math"
	"sort"
	"time"

	"github.com/tunogya/tkg/pkg/store/milvus"
)

// TimeDecayConfig holds configuration for time decay reranking
type TimeDecayConfig struct {
	// Lambda is the exponential decay rate per year of age
	Lambda float64 `yaml:"lambda" default:"0.5"`
	// Segment weights replace the exponential curve when UseSegments is set
	UseSegments  bool    `yaml:"use_segments"`
	RecentDays   float64 `yaml:"recent_days" default:"90"`
	MediumDays   float64 `yaml:"medium_days" default:"365"`
	RecentWeight float64 `yaml:"recent_weight" default:"1"`
	MediumWeight float64 `yaml:"medium_weight" default:"0.7"`
	OldWeight    float64 `yaml:"old_weight" default:"0.4"`
}

// DefaultTimeDecayConfig returns a default configuration
func DefaultTimeDecayConfig() TimeDecayConfig {
	return TimeDecayConfig{
		Lambda:       0.5,
		RecentDays:   90,
		MediumDays:   365,
		RecentWeight: 1.0,
		MediumWeight: 0.7,
		OldWeight:    0.4,
	}
}

// SegmentConfig returns a configuration using segment-based weights
func SegmentConfig() TimeDecayConfig {
	cfg := DefaultTimeDecayConfig()
	cfg.UseSegments = true
	return cfg
}

// RankedResult extends SearchResult with reranked score
type RankedResult struct {
	milvus.SearchResult
	AgeDays    float64 `json:"age_days"`
	TimeWeight float64 `json:"time_weight"`
	FinalScore float64 `json:"final_score"`
}

// Reranker performs time-based reranking of search results
type Reranker struct {
	config TimeDecayConfig
}

// NewReranker creates a new reranker with the given configuration
func NewReranker(config TimeDecayConfig) *Reranker {
	return &Reranker{config: config}
}

// Rerank weights each hit by its age relative to anchor, usually the date of
// the query observation, and sorts by final score. Ties keep the index order.
func (r *Reranker) Rerank(results []milvus.SearchResult, anchor time.Time) []RankedResult {
	ranked := make([]RankedResult, len(results))

	for i, result := range results {
		ageDays := anchor.Sub(result.Date).Hours() / 24
		if ageDays < 0 {
			ageDays = -ageDays
		}

		var weight float64
		if r.config.UseSegments {
			weight = r.segmentWeight(ageDays)
		} else {
			weight = r.exponentialDecay(ageDays)
		}

		ranked[i] = RankedResult{
			SearchResult: result,
			AgeDays:      ageDays,
			TimeWeight:   weight,
			FinalScore:   result.Score * weight,
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].FinalScore > ranked[j].FinalScore
	})

	return ranked
}

func (r *Reranker) exponentialDecay(ageDays float64) float64 {
	return math.Exp(-r.config.Lambda * ageDays / 365)
}

func (r *Reranker) segmentWeight(ageDays float64) float64 {
	switch {
	case ageDays <= r.config.RecentDays:
		return r.config.RecentWeight
	case ageDays <= r.config.MediumDays:
		return r.config.MediumWeight
	default:
		return r.config.OldWeight
	}
}

// TopN returns the top N results after reranking
func (r *Reranker) TopN(results []milvus.SearchResult, anchor time.Time, n int) []RankedResult {
	ranked := r.Rerank(results, anchor)
	if n <= 0 || len(ranked) <= n {
		return ranked
	}
	return ranked[:n]
}

// FilterByMinScore filters results by minimum final score
func FilterByMinScore(results []RankedResult, minScore float64) []RankedResult {
	var filtered []RankedResult
	for _, r := range results {
		if r.FinalScore >= minScore {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
