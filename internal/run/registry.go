package run

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"inkwell/internal/fault"
	"inkwell/internal/logging"
	"inkwell/internal/prompt"
	"inkwell/internal/skill"
	"inkwell/internal/telemetry"
	"inkwell/internal/transport"
)

// ErrRunNotFound indicates the run id is unknown or already evicted.
var ErrRunNotFound = errors.New("run not found")

// subscriberBuffer is the channel depth per subscriber. A subscriber that
// falls further behind than this loses deltas (never the terminal event's
// close); blocking the pump on one slow reader would stall every other
// subscriber of the run.
const subscriberBuffer = 128

// Registry creates runs, pumps transport events into them, and fans events
// out to subscribers. Terminal runs are evicted immediately after the final
// event is delivered; nothing is persisted.
type Registry struct {
	skills    *skill.Store
	backend   transport.Transport
	collector telemetry.Collector

	mu   sync.Mutex
	runs map[string]*active
}

// active is the registry's mutable per-run record. Its mutex serializes state
// transitions and fan-out; the cancelled flag is checked lock-free by the
// pump so buffered deltas are dropped the instant Cancel is called.
type active struct {
	mu        sync.Mutex
	run       Run
	handle    transport.Handle
	cancelled atomic.Bool
	subs      []chan Event
	started   time.Time
}

// NewRegistry creates a registry over the given skill catalog and transport.
func NewRegistry(skills *skill.Store, backend transport.Transport, collector telemetry.Collector) *Registry {
	if collector == nil {
		collector = telemetry.Nop{}
	}
	return &Registry{
		skills:    skills,
		backend:   backend,
		collector: collector,
		runs:      make(map[string]*active),
	}
}

// StartResult is returned by Start once the run exists.
type StartResult struct {
	RunID string
	// Events is the primary subscription, attached before the first
	// transport event can arrive, so the caller misses nothing.
	Events <-chan Event
}

// Start validates the request, creates a run, and begins streaming. All
// validation failures return a fault.InvalidArgumentError synchronously and
// leave no run behind; once Start returns successfully the only way to learn
// the outcome is through events.
func (r *Registry) Start(ctx context.Context, req Request) (StartResult, error) {
	def, err := r.skills.Get(req.SkillID)
	if err != nil {
		return StartResult{}, fault.InvalidArgument("skillId", "%v", err)
	}

	rendered, err := prompt.Assemble(def.Prompt, req.Input)
	if err != nil {
		return StartResult{}, fault.InvalidArgument("input", "%v", err)
	}

	injected, err := prompt.Inject(req.Memory, req.Refs, req.Rules)
	if err != nil {
		return StartResult{}, err
	}

	if p, ok := r.backend.(transport.Preflighter); ok {
		if err := p.Preflight(); err != nil {
			return StartResult{}, fault.InvalidArgument("credentials", "%v", err)
		}
	}

	hashes := prompt.HashPrompt(rendered, injected)

	a := &active{
		run: Run{
			ID:      uuid.New().String(),
			SkillID: req.SkillID,
			State:   StatePending,
			Prompt: PromptRecord{
				System:           rendered.System,
				User:             rendered.User,
				StablePrefixHash: hashes.StablePrefix,
				PromptHash:       hashes.Prompt,
			},
			Injected:  injected,
			CreatedAt: time.Now(),
		},
		started: time.Now(),
	}
	primary := make(chan Event, subscriberBuffer)
	a.subs = append(a.subs, primary)

	// The handle must exist before the run is visible to Cancel, and the
	// run must be registered before the pump can evict it.
	a.handle = r.backend.Start(ctx, transport.Prompt{
		System:      rendered.System,
		User:        rendered.User,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})

	r.mu.Lock()
	r.runs[a.run.ID] = a
	r.mu.Unlock()

	logging.Run("run %s started skill=%s prompt_hash=%s", a.run.ID, req.SkillID, hashes.Prompt)
	r.collector.RunStarted(a.run.ID, req.SkillID)

	go r.pump(a)

	return StartResult{RunID: a.run.ID, Events: primary}, nil
}

// pump relays transport events into the run until the handle's channel
// closes. It is the only goroutine that transitions a run to done or error;
// Cancel owns the transition to cancelled.
func (r *Registry) pump(a *active) {
	for ev := range a.handle.Events() {
		if a.cancelled.Load() {
			// Drain without relaying: a cancelled run must never leak a
			// buffered delta to a subscriber.
			continue
		}
		switch ev.Kind {
		case transport.EventDelta:
			a.mu.Lock()
			if a.run.State == StatePending {
				a.run.State = StateStreaming
				logging.RunDebug("run %s pending -> streaming", a.run.ID)
			}
			r.fanoutLocked(a, Event{RunID: a.run.ID, Kind: KindDelta, Delta: ev.Delta})
			a.mu.Unlock()

		case transport.EventDone:
			r.finish(a, StateDone, Event{RunID: a.run.ID, Kind: KindDone, Result: ev.Result}, "")

		case transport.EventError:
			r.finish(a, StateError, Event{RunID: a.run.ID, Kind: KindError, Err: ev.Err}, errCode(ev.Err))
		}
	}
}

// Cancel stops a run. It is idempotent: cancelling a terminal, already
// cancelled, or unknown run is a no-op. After Cancel returns, no subscriber
// observes another delta for this run.
func (r *Registry) Cancel(runID string) {
	r.mu.Lock()
	a, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok {
		return
	}

	a.mu.Lock()
	if a.run.State.Terminal() {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	// Order matters: flip the flag first so the pump drops anything the
	// transport buffered, then abort the transport.
	a.cancelled.Store(true)
	a.handle.Abort()

	logging.Run("run %s cancelled", runID)
	r.finish(a, StateCancelled, Event{RunID: runID, Kind: KindCancelled}, "cancelled")
}

// Subscribe attaches an additional observer to a live run. The channel
// receives events from now on and is closed after the terminal event.
func (r *Registry) Subscribe(runID string) (<-chan Event, error) {
	r.mu.Lock()
	a, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrRunNotFound
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.run.State.Terminal() {
		return nil, ErrRunNotFound
	}
	ch := make(chan Event, subscriberBuffer)
	a.subs = append(a.subs, ch)
	return ch, nil
}

// Snapshot returns a copy of the run's current state.
func (r *Registry) Snapshot(runID string) (Run, bool) {
	r.mu.Lock()
	a, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok {
		return Run{}, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.run, true
}

// Active returns the number of non-terminal runs currently registered.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// finish moves a run to a terminal state, fans out the terminal event, closes
// every subscriber channel, and evicts the run. Safe to race between the pump
// and Cancel; the first caller wins.
func (r *Registry) finish(a *active, state State, ev Event, code string) {
	a.mu.Lock()
	if a.run.State.Terminal() {
		a.mu.Unlock()
		return
	}
	a.run.State = state
	r.fanoutLocked(a, ev)
	for _, ch := range a.subs {
		close(ch)
	}
	a.subs = nil
	skillID := a.run.SkillID
	a.mu.Unlock()

	r.mu.Lock()
	delete(r.runs, a.run.ID)
	r.mu.Unlock()

	logging.Run("run %s finished state=%s in %v", a.run.ID, state, time.Since(a.started))
	r.collector.RunEnded(a.run.ID, skillID, string(state), time.Since(a.started), code)
}

// fanoutLocked delivers ev to every subscriber. Callers hold a.mu. Deltas are
// dropped for a subscriber whose buffer is full; terminal events are handled
// by the channel close in finish, which the subscriber cannot miss.
func (r *Registry) fanoutLocked(a *active, ev Event) {
	for _, ch := range a.subs {
		select {
		case ch <- ev:
		default:
			logging.Get(logging.CategoryRun).Warn(
				"run %s: subscriber buffer full, dropping %v event", a.run.ID, ev.Kind)
		}
	}
}

// errCode maps a terminal error to the short stable code reported to
// telemetry. Prompt text never rides along.
func errCode(err error) string {
	var te *fault.TransportError
	if errors.As(err, &te) {
		if te.Timeout {
			return "transport_timeout"
		}
		return "transport_" + te.Op
	}
	return "error"
}
