package window

import (
	"fmt"
	"time"

	"github.com/tunogya/tkg/pkg/model"
)

// DateRange is an inclusive calendar-date filter. A zero bound is open.
type DateRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// ParseDateRange parses YYYY-MM-DD bounds; empty strings leave a bound open
func ParseDateRange(from, to string) (DateRange, error) {
	var r DateRange
	if from != "" {
		t, err := model.ParseDate(from)
		if err != nil {
			return r, fmt.Errorf("invalid from date %q: %w", from, err)
		}
		r.From = t
	}
	if to != "" {
		t, err := model.ParseDate(to)
		if err != nil {
			return r, fmt.Errorf("invalid to date %q: %w", to, err)
		}
		r.To = t
	}
	return r, r.Validate()
}

// IsZero reports whether the range filters nothing
func (r DateRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Validate rejects a range whose start follows its end
func (r DateRange) Validate() error {
	if !r.From.IsZero() && !r.To.IsZero() && model.TruncateDate(r.From).After(model.TruncateDate(r.To)) {
		return fmt.Errorf("date range start %s is after end %s", r.From.Format(model.DateLayout), r.To.Format(model.DateLayout))
	}
	return nil
}

// Contains reports whether the calendar date of t lies inside the range
func (r DateRange) Contains(t time.Time) bool {
	d := model.TruncateDate(t)
	if !r.From.IsZero() && d.Before(model.TruncateDate(r.From)) {
		return false
	}
	if !r.To.IsZero() && d.After(model.TruncateDate(r.To)) {
		return false
	}
	return true
}

// Apply narrows the chain to the range. The result shares the label index
// with c; a zero range returns c itself.
func (r DateRange) Apply(c *model.Chain) *model.Chain {
	if c == nil || r.IsZero() {
		return c
	}
	out := &model.Chain{Ticker: c.Ticker, Labels: c.Labels}
	for _, o := range c.Observations {
		if r.Contains(o.Date) {
			out.Observations = append(out.Observations, o)
		}
	}
	return out
}
