package chat

import (
	"sync"
	"time"
)

// DefaultHistorySize is the number of messages kept per session
const DefaultHistorySize = 50

// Role of a chat message author
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn
type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Failed  bool      `json:"failed,omitempty"`
	At      time.Time `json:"at"`
}

// History is a fixed-capacity circular buffer of messages; the oldest
// message is overwritten once full
type History struct {
	data     []Message
	capacity int
	size     int
	head     int // next write position
	mu       sync.RWMutex
}

// NewHistory creates a history holding up to capacity messages
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{
		data:     make([]Message, capacity),
		capacity: capacity,
	}
}

// Push appends a message
func (h *History) Push(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.data[h.head] = m
	h.head = (h.head + 1) % h.capacity
	if h.size < h.capacity {
		h.size++
	}
}

// Size returns the number of stored messages
func (h *History) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Messages returns the stored messages oldest first
func (h *History) Messages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Message, h.size)
	start := 0
	if h.size == h.capacity {
		start = h.head
	}
	for i := 0; i < h.size; i++ {
		out[i] = h.data[(start+i)%h.capacity]
	}
	return out
}

// Last returns the newest message
func (h *History) Last() (Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.size == 0 {
		return Message{}, false
	}
	return h.data[(h.head-1+h.capacity)%h.capacity], true
}

// Clear empties the history
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.size = 0
	h.head = 0
}
