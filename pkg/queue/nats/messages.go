package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tunogya/tkg/pkg/model"
)

// Subject constants
const (
	SubjectBarsIngest      = "tkg.bars.ingest"
	SubjectChainRegenerate = "tkg.chain.regenerate"
	SubjectEnrichRequest   = "tkg.enrich.request"
)

// Subjects lists every subject carried by the stream
func Subjects() []string {
	return []string{SubjectBarsIngest, SubjectChainRegenerate, SubjectEnrichRequest}
}

// BarBatchMsg carries raw bars to write
type BarBatchMsg struct {
	Bars []model.RawBar `json:"bars"`
}

// RegenerateMsg requests a whole-chain recompute. It is only published on
// explicit request, never on a schedule.
type RegenerateMsg struct {
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}

// EnrichRequestMsg asks for labeling batches of one (ticker, category).
// MaxBatches <= 0 means until complete.
type EnrichRequestMsg struct {
	Ticker     string         `json:"ticker"`
	Category   model.Category `json:"category"`
	MaxBatches int            `json:"max_batches"`
}

// Encode serializes a message to JSON bytes
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode deserializes a message; malformed payloads are permanent failures
func Decode[T any](data []byte) (*T, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	return &msg, nil
}
