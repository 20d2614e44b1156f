package model

import "time"

// Chain is the ordered observation sequence of one ticker with its label index.
// A Chain is treated as immutable once built; updates produce a new Chain.
type Chain struct {
	Ticker       string        `json:"ticker"`
	Observations []Observation `json:"observations"`
	Labels       Labels        `json:"labels"`
}

// NewChain builds a chain from labeled rows in store order
func NewChain(ticker string, rows []LabeledObservation) *Chain {
	c := &Chain{
		Ticker:       ticker,
		Observations: make([]Observation, len(rows)),
		Labels:       make(Labels),
	}
	for i, r := range rows {
		c.Observations[i] = r.Observation
		if len(r.Labels) == 0 {
			continue
		}
		byCat := make(map[Category]string, len(r.Labels))
		for cat, v := range r.Labels {
			byCat[cat] = v
		}
		c.Labels[r.ID] = byCat
	}
	return c
}

// Len returns the number of observations
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Observations)
}

// WithLabels returns a copy of the chain sharing observations but using a new label index
func (c *Chain) WithLabels(labels Labels) *Chain {
	return &Chain{
		Ticker:       c.Ticker,
		Observations: c.Observations,
		Labels:       labels,
	}
}

// IndexOf returns the position of an observation id, or -1
func (c *Chain) IndexOf(id string) int {
	for i := range c.Observations {
		if c.Observations[i].ID == id {
			return i
		}
	}
	return -1
}

// IndexOfDate returns the position of the observation on date, or -1
func (c *Chain) IndexOfDate(date time.Time) int {
	date = TruncateDate(date)
	for i := range c.Observations {
		if TruncateDate(c.Observations[i].Date).Equal(date) {
			return i
		}
	}
	return -1
}

// Coverage counts positions >= 1 labeled in a category, and the positions that could be
func (c *Chain) Coverage(cat Category) (labeled, total int) {
	for i := 1; i < c.Len(); i++ {
		total++
		if c.Labels.Has(c.Observations[i].ID, cat) {
			labeled++
		}
	}
	return labeled, total
}
