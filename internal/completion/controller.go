package completion

import (
	"context"
	"strings"
	"sync"
	"time"

	"inkwell/internal/logging"
	"inkwell/internal/prompt"
	"inkwell/internal/skill"
	"inkwell/internal/transport"
)

// Completer runs one inline completion. Satisfied by model.Manager.
type Completer interface {
	Complete(ctx context.Context, p transport.Prompt) (string, error)
	AbortCompletion()
}

// Controller drives ghost-text completion for one editing surface. Each
// keystroke cancels whatever was pending; after the debounce quiet period a
// single completion runs, and only a result that still matches the latest
// text becomes the suggestion. Completion failures never surface to the
// user; a suggestion simply does not appear.
type Controller struct {
	completer Completer
	skills    *skill.Store
	debouncer *Debouncer
	onSuggest func(suggestion string)

	mu     sync.Mutex
	gen    uint64 // bumped per keystroke; stale generations are discarded
	cancel context.CancelFunc
	ghost  string
	prefix string
	closed bool
}

// NewController creates a controller. onSuggest, if non-nil, fires whenever
// a new suggestion becomes available (from the completion goroutine).
func NewController(completer Completer, skills *skill.Store, debounce time.Duration, onSuggest func(string)) *Controller {
	return &Controller{
		completer: completer,
		skills:    skills,
		debouncer: NewDebouncer(debounce),
		onSuggest: onSuggest,
	}
}

// TextChanged records a keystroke: the current suggestion is invalidated,
// any in-flight generation is cancelled, and a new completion is scheduled
// for after the quiet period. Each generation carries its own context so a
// keystroke kills it even in the gap before the transport handle exists.
func (c *Controller) TextChanged(text string) {
	blank := strings.TrimSpace(text) == ""

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	c.ghost = ""
	c.prefix = text
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	var ctx context.Context
	if !blank {
		ctx, c.cancel = context.WithCancel(context.Background())
	}
	c.mu.Unlock()

	c.completer.AbortCompletion()

	if blank {
		c.debouncer.Cancel()
		return
	}
	c.debouncer.Debounce(func() {
		c.fire(ctx, gen, text)
	})
}

// fire runs one completion for the given keystroke generation.
func (c *Controller) fire(ctx context.Context, gen uint64, text string) {
	c.mu.Lock()
	stale := gen != c.gen || c.closed
	c.mu.Unlock()
	if stale || ctx.Err() != nil {
		return
	}

	def, err := c.skills.Get(skill.CompletionSkillID)
	if err != nil {
		logging.Completion("completion skill missing: %v", err)
		return
	}
	rendered, err := prompt.Assemble(def.Prompt, prompt.Input{"text": text})
	if err != nil {
		logging.Completion("completion prompt: %v", err)
		return
	}

	suggestion, err := c.completer.Complete(ctx, transport.Prompt{
		System: rendered.System,
		User:   rendered.User,
	})
	if err != nil {
		// Silent per UX contract: a failed completion is just no ghost.
		logging.Completion("completion failed: %v", err)
		return
	}
	if suggestion == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed {
		logging.Completion("discarding stale suggestion for generation %d", gen)
		return
	}
	c.ghost = suggestion
	if c.onSuggest != nil {
		go c.onSuggest(suggestion)
	}
}

// Suggestion returns the current ghost text, empty if none.
func (c *Controller) Suggestion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ghost
}

// Accept consumes the current suggestion, returning it for insertion into
// the document. Empty if there is nothing to accept.
func (c *Controller) Accept() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.ghost
	c.ghost = ""
	return s
}

// Discard drops the current suggestion without inserting it.
func (c *Controller) Discard() {
	c.mu.Lock()
	c.ghost = ""
	c.mu.Unlock()
}

// Close stops the controller: pending timers cancelled, in-flight generation
// aborted, no further suggestions delivered.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.gen++
	c.ghost = ""
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	c.debouncer.Cancel()
	c.completer.AbortCompletion()
}
