// Package run owns the lifecycle of AI runs: the state machine, the event
// fan-out to subscribers, and cancellation. A run is created only after every
// synchronous validation passed; from then on all outcomes, including
// transport failures, arrive as stream events.
package run

import (
	"time"

	"inkwell/internal/prompt"
	"inkwell/internal/transport"
)

// State is a run's lifecycle state.
type State string

const (
	// StatePending means the run exists but no delta has arrived yet.
	StatePending State = "pending"
	// StateStreaming means at least one delta has been relayed.
	StateStreaming State = "streaming"
	// StateDone means the transport delivered a successful terminal event.
	StateDone State = "done"
	// StateError means the transport delivered a failed terminal event.
	StateError State = "error"
	// StateCancelled means the user cancelled the run.
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError || s == StateCancelled
}

// PromptRecord is the immutable prompt snapshot attached to a run. Hashes are
// computed once at creation and never change, whatever happens downstream.
type PromptRecord struct {
	System           string
	User             string
	StablePrefixHash string
	PromptHash       string
}

// Run is a snapshot of one run's public state.
type Run struct {
	ID        string
	SkillID   string
	State     State
	Prompt    PromptRecord
	Injected  prompt.InjectedContext
	CreatedAt time.Time
}

// Kind discriminates run stream events.
type Kind int

const (
	// KindDelta carries an incremental text fragment.
	KindDelta Kind = iota
	// KindDone is the successful terminal event.
	KindDone
	// KindError is the failed terminal event.
	KindError
	// KindCancelled is the terminal event after a user cancellation.
	KindCancelled
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindDelta:
		return "delta"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	case KindCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Event is one item on a subscriber's channel. Every subscriber sees the
// run's deltas in arrival order followed by exactly one terminal event, after
// which the channel is closed.
type Event struct {
	RunID  string
	Kind   Kind
	Delta  string
	Result transport.Result
	Err    error
}

// Request describes one run invocation.
type Request struct {
	SkillID     string
	Input       prompt.Input
	Memory      []string
	Refs        []string
	Rules       *prompt.ContextRules
	MaxTokens   int
	Temperature float64
}
