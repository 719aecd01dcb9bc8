// Package transport abstracts "send prompt, receive ordered delta/done/error
// events" over either a remote AI provider or a locally hosted model. Each
// Start returns a handle immediately; zero or more delta events followed by
// exactly one terminal event arrive on the handle's channel, which is then
// closed. Abort guarantees no further events are pushed after it returns.
package transport

import (
	"context"
	"sync"
)

// Prompt is the fully assembled request handed to a transport. Transports
// treat it as opaque bytes plus generation knobs; validation happened
// upstream.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// EventKind discriminates stream events.
type EventKind int

const (
	// EventDelta carries an incremental text fragment.
	EventDelta EventKind = iota
	// EventDone is the successful terminal event.
	EventDone
	// EventError is the failed terminal event.
	EventError
)

// Usage reports token counts when the provider supplies them.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Result is the payload of a successful terminal event.
type Result struct {
	Text         string // full concatenated output
	FinishReason string
	Usage        Usage
}

// Event is one item in a run's stream. Deltas for a single run are delivered
// in the order produced; across runs no ordering is guaranteed.
type Event struct {
	Kind   EventKind
	Delta  string
	Result Result
	Err    error
}

// Handle is a single in-flight generation.
type Handle interface {
	// Events returns the ordered event channel. It is closed after the
	// terminal event.
	Events() <-chan Event
	// Abort stops the generation. No events are pushed after Abort
	// returns, including deltas the producer had already buffered.
	Abort()
}

// Transport starts streaming generations.
type Transport interface {
	// Name identifies the implementation ("remote", "gemini", "local").
	Name() string
	// Start begins a generation and returns immediately. All failures,
	// including connection errors, surface as the terminal error event.
	Start(ctx context.Context, p Prompt) Handle
}

// Preflighter is implemented by transports that can cheaply validate their
// configuration. The registry checks it before creating a run, so a missing
// API key is reported synchronously instead of as a dead run's error event.
type Preflighter interface {
	Preflight() error
}

// stream is the shared Handle implementation. The abort flag is checked
// under the same mutex every emit takes, so once Abort returns nothing else
// can reach the channel.
type stream struct {
	ch      chan Event
	mu      sync.Mutex
	aborted bool
	done    bool
	cancel  context.CancelFunc
}

func newStream(cancel context.CancelFunc) *stream {
	return &stream{
		ch:     make(chan Event, 64),
		cancel: cancel,
	}
}

// Events implements Handle.
func (s *stream) Events() <-chan Event { return s.ch }

// Abort implements Handle.
func (s *stream) Abort() {
	s.mu.Lock()
	if !s.done {
		s.aborted = true
		s.done = true
		// Drain anything buffered so a subscriber that kept reading never
		// observes a delta that arrived before the abort took effect.
		for {
			select {
			case <-s.ch:
				continue
			default:
			}
			break
		}
		close(s.ch)
	}
	s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// emit pushes one event. Terminal events close the channel. Returns false
// once the stream is aborted or terminal; producers should stop then.
func (s *stream) emit(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return false
	}
	s.ch <- ev
	if ev.Kind != EventDelta {
		s.done = true
		close(s.ch)
	}
	return true
}

// fail emits a terminal error event.
func (s *stream) fail(err error) {
	s.emit(Event{Kind: EventError, Err: err})
}
