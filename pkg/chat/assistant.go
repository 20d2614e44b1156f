package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunogya/tkg/pkg/window"
)

const (
	// FallbackText replaces the answer when the model call fails
	FallbackText = "Sorry, I encountered an error while processing your request."
	// EmptyText replaces an empty model answer
	EmptyText = "No response generated."
)

var (
	// ErrEmptyQuestion is returned for blank questions
	ErrEmptyQuestion = errors.New("chat: question is empty")
	// ErrBusy is returned while another question is being answered
	ErrBusy = errors.New("chat: a question is already in flight")
)

// Completer is a text-in, text-out conversational model
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Reply is the typed outcome of one question. Text is relayed verbatim
// from the model unless Failed is set.
type Reply struct {
	Question string    `json:"question"`
	Text     string    `json:"text"`
	HTML     string    `json:"html,omitempty"`
	Dates    []string  `json:"dates,omitempty"`
	Failed   bool      `json:"failed"`
	Error    string    `json:"error,omitempty"`
	Duration float64   `json:"duration_seconds"`
	At       time.Time `json:"at"`
}

// Assistant answers questions about the visible window. One question is
// answered at a time; the conversation is kept in a bounded history.
type Assistant struct {
	completer Completer
	history   *History
	timeout   time.Duration
	logger    zerolog.Logger

	mu   sync.Mutex
	busy bool
}

// Option configures an Assistant
type Option func(*Assistant)

// WithHistorySize sets the number of retained messages
func WithHistorySize(n int) Option {
	return func(a *Assistant) { a.history = NewHistory(n) }
}

// WithTimeout bounds each model call
func WithTimeout(d time.Duration) Option {
	return func(a *Assistant) { a.timeout = d }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(a *Assistant) { a.logger = l }
}

// NewAssistant creates an assistant backed by c
func NewAssistant(c Completer, opts ...Option) *Assistant {
	a := &Assistant{
		completer: c,
		history:   NewHistory(DefaultHistorySize),
		timeout:   time.Minute,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// History returns the conversation history
func (a *Assistant) History() *History {
	return a.history
}

// Ask sends the question with the view as context. Model failures are not
// returned as errors: they produce a Reply with Failed set and the fallback text.
func (a *Assistant) Ask(ctx context.Context, v window.View, question string) (Reply, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Reply{}, ErrEmptyQuestion
	}

	a.mu.Lock()
	if a.busy {
		a.mu.Unlock()
		return Reply{}, ErrBusy
	}
	a.busy = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.busy = false
		a.mu.Unlock()
	}()

	started := time.Now()
	a.history.Push(Message{Role: RoleUser, Content: question, At: started.UTC()})

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	answer, err := a.completer.Complete(callCtx, BuildPrompt(v, question))
	cancel()

	reply := Reply{Question: question, At: time.Now().UTC()}
	reply.Duration = time.Since(started).Seconds()

	switch {
	case err != nil:
		a.logger.Error().Err(err).Str("ticker", v.Ticker).Msg("chat request failed")
		reply.Text = FallbackText
		reply.Failed = true
		reply.Error = err.Error()
	case strings.TrimSpace(answer) == "":
		reply.Text = EmptyText
	default:
		reply.Text = answer
		reply.Dates = DateLinks(answer)
		if html, err := RenderHTML(answer); err == nil {
			reply.HTML = html
		} else {
			a.logger.Warn().Err(err).Msg("failed to render reply")
		}
	}

	a.history.Push(Message{Role: RoleAssistant, Content: reply.Text, Failed: reply.Failed, At: reply.At})
	return reply, nil
}
