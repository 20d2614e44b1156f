package model

import "time"

// State vector component positions
const (
	ComponentROpen = iota
	ComponentRHigh
	ComponentRLow
	ComponentRetClose

	StateDim = 4
)

// StateVector is the scaled [r_open, r_high, r_low, ret_close] tuple of one day
type StateVector [StateDim]float64

// Float32 converts the vector for the vector index
func (s StateVector) Float32() []float32 {
	out := make([]float32, StateDim)
	for i, v := range s {
		out[i] = float32(v)
	}
	return out
}

// Sub returns the component-wise difference s - prev
func (s StateVector) Sub(prev StateVector) StateVector {
	var d StateVector
	for i := range s {
		d[i] = s[i] - prev[i]
	}
	return d
}

// Observation is the normalized TKG node for one (ticker, date)
type Observation struct {
	ID        string      `json:"id"`
	Ticker    string      `json:"ticker"`
	Date      time.Time   `json:"date"`
	Open      float64     `json:"open"`
	High      float64     `json:"high"`
	Low       float64     `json:"low"`
	Close     float64     `json:"close"`
	Volume    int64       `json:"volume"`
	State     StateVector `json:"state_vector"`
	RetClose  float64     `json:"ret_close"`
	RetVolume float64     `json:"ret_volume"`
	CreatedAt time.Time   `json:"created_at,omitempty"`
}

// DateKey formats the observation date as YYYY-MM-DD
func (o *Observation) DateKey() string {
	return o.Date.Format(DateLayout)
}

// LabeledObservation is an observation together with its labels, as read page by page from a store
type LabeledObservation struct {
	Observation
	Labels map[Category]string `json:"labels,omitempty"`
}

// TickerSummary is one row of the per-ticker summary read
type TickerSummary struct {
	Ticker   string    `json:"ticker"`
	LastDate time.Time `json:"last_date"`
	Count    int64     `json:"count"`
}
