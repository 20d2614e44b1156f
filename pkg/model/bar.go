package model

import (
	"strings"
	"time"
)

// DateLayout is the calendar-date format used on every surface (CSV, JSON, prompts).
const DateLayout = "2006-01-02"

// RawBar represents one trading day for one ticker
type RawBar struct {
	Ticker string    `json:"ticker" validate:"required"`
	Date   time.Time `json:"date" validate:"required"`
	Open   float64   `json:"open" validate:"gt=0"`
	High   float64   `json:"high" validate:"gt=0"`
	Low    float64   `json:"low" validate:"gt=0"`
	Close  float64   `json:"close" validate:"gt=0"`
	Volume int64     `json:"volume" validate:"gte=0"`
}

// Key returns the (ticker, date) identity of the bar
func (b *RawBar) Key() string {
	return b.Ticker + "|" + b.DateKey()
}

// DateKey formats the bar date as YYYY-MM-DD
func (b *RawBar) DateKey() string {
	return b.Date.Format(DateLayout)
}

// Consistent reports whether high/low bound open and close
func (b *RawBar) Consistent() bool {
	return b.High >= b.Low &&
		b.High >= b.Open && b.High >= b.Close &&
		b.Low <= b.Open && b.Low <= b.Close
}

// NormalizeTicker upper-cases and trims a ticker symbol
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// ParseDate parses a YYYY-MM-DD date into a UTC midnight time
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
}

// TruncateDate drops the time-of-day component, keeping the calendar date in UTC
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
