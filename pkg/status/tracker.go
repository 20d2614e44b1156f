// Package status keeps transient per-operation indicators that clear
// themselves a few seconds after the operation settles.
package status

import (
	"sort"
	"sync"
	"time"
)

// DefaultClearAfter is how long a settled status stays visible
const DefaultClearAfter = 3 * time.Second

// State of an operation
type State string

const (
	StateIdle     State = "idle"
	StateInFlight State = "in_flight"
	StateSuccess  State = "success"
	StateError    State = "error"
)

// Entry is the status of one operation key, e.g. "regenerate" or "enrich:AAPL:general"
type Entry struct {
	Key       string    `json:"key"`
	State     State     `json:"state"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker holds the current entries. Each Begin starts a new generation so
// a pending auto-clear never erases a newer status.
type Tracker struct {
	clearAfter time.Duration

	mu      sync.Mutex
	entries map[string]Entry
	gens    map[string]uint64
	timers  map[string]*time.Timer
}

// NewTracker creates a tracker; clearAfter <= 0 uses DefaultClearAfter
func NewTracker(clearAfter time.Duration) *Tracker {
	if clearAfter <= 0 {
		clearAfter = DefaultClearAfter
	}
	return &Tracker{
		clearAfter: clearAfter,
		entries:    make(map[string]Entry),
		gens:       make(map[string]uint64),
		timers:     make(map[string]*time.Timer),
	}
}

// Begin marks key in flight
func (t *Tracker) Begin(key, msg string) {
	t.set(key, StateInFlight, msg, false)
}

// Succeed marks key successful and schedules its clearing
func (t *Tracker) Succeed(key, msg string) {
	t.set(key, StateSuccess, msg, true)
}

// Fail marks key failed and schedules its clearing
func (t *Tracker) Fail(key string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	t.set(key, StateError, msg, true)
}

// Track runs fn between Begin and Succeed/Fail
func (t *Tracker) Track(key, msg string, fn func() error) error {
	t.Begin(key, msg)
	if err := fn(); err != nil {
		t.Fail(key, err)
		return err
	}
	t.Succeed(key, msg)
	return nil
}

// Get returns the entry for key; a missing key reads as idle
func (t *Tracker) Get(key string) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[key]; ok {
		return e
	}
	return Entry{Key: key, State: StateIdle}
}

// All returns every visible entry sorted by key
func (t *Tracker) All() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Stop cancels pending clears
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
}

func (t *Tracker) set(key string, state State, msg string, settle bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gens[key]++
	gen := t.gens[key]
	t.entries[key] = Entry{Key: key, State: state, Message: msg, UpdatedAt: time.Now().UTC()}

	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}
	if !settle {
		return
	}
	t.timers[key] = time.AfterFunc(t.clearAfter, func() {
		t.clear(key, gen)
	})
}

func (t *Tracker) clear(key string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.gens[key] != gen {
		return
	}
	delete(t.entries, key)
	delete(t.timers, key)
}
