package enrich

import (
	"errors"
	"sync"

	"github.com/tunogya/tkg/pkg/model"
)

// ErrInFlight is returned when a batch for the same (ticker, category) is running
var ErrInFlight = errors.New("enrich: batch already in flight")

// Guard admits at most one in-flight batch per (ticker, category)
type Guard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewGuard creates an empty guard
func NewGuard() *Guard {
	return &Guard{inflight: make(map[string]struct{})}
}

func guardKey(ticker string, cat model.Category) string {
	return ticker + "\x00" + string(cat)
}

// Acquire claims the key. The returned release must be called exactly once.
func (g *Guard) Acquire(ticker string, cat model.Category) (release func(), err error) {
	key := guardKey(ticker, cat)

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inflight[key]; busy {
		return nil, ErrInFlight
	}
	g.inflight[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inflight, key)
			g.mu.Unlock()
		})
	}, nil
}

// Busy reports whether the key is claimed
func (g *Guard) Busy(ticker string, cat model.Category) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.inflight[guardKey(ticker, cat)]
	return busy
}
