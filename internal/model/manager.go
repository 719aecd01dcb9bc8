package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"inkwell/internal/config"
	"inkwell/internal/fault"
	"inkwell/internal/logging"
	"inkwell/internal/prompt"
	"inkwell/internal/telemetry"
	"inkwell/internal/transport"
)

// ErrAborted indicates an in-flight completion was cancelled before a
// terminal event arrived (new keystroke, model switch, or removal).
var ErrAborted = errors.New("completion aborted")

// Manager owns local completion models: records, downloads, the active-model
// slot, settings fan-out, and the Complete entry point the tab completion
// controller calls.
type Manager struct {
	workspace  string
	store      *Store
	downloader *Downloader
	backend    transport.Transport
	collector  telemetry.Collector

	mu       sync.Mutex
	settings config.Settings
	activeID string
	current  transport.Handle
	subs     []chan config.Settings

	group     singleflight.Group
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewManager opens the record store and restores the active-model slot from
// settings. backend is the transport completions run on (the local model
// server client in production).
func NewManager(workspace string, settings *config.Settings, backend transport.Transport, collector telemetry.Collector) (*Manager, error) {
	if collector == nil {
		collector = telemetry.Nop{}
	}
	modelsDir := settings.ModelsPath(workspace)
	store, err := OpenStore(filepath.Join(modelsDir, "models.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open model store: %w", err)
	}

	m := &Manager{
		workspace:  workspace,
		store:      store,
		downloader: NewDownloader(),
		backend:    backend,
		collector:  collector,
		settings:   *settings,
	}

	// The selection only becomes the active slot if its artifact is
	// actually ready; a stale selection is not an error at startup.
	if id := settings.Completion.ModelSelection; id != "" {
		if rec, ok, err := store.Get(id); err == nil && ok && rec.Status == StatusReady {
			m.activeID = id
		} else {
			logging.Model("selected model %s not ready, slot left empty", id)
		}
	}
	return m, nil
}

// Watch starts the models-directory watcher. An artifact deleted outside the
// app downgrades its record and, if it was active, clears the slot and
// aborts any in-flight completion.
func (m *Manager) Watch() error {
	modelsDir := m.settings.ModelsPath(m.workspace)
	if err := os.MkdirAll(modelsDir, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(modelsDir); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch models directory: %w", err)
	}

	m.watcher = w
	m.watchDone = make(chan struct{})
	go m.watchLoop()
	return nil
}

func (m *Manager) watchLoop() {
	defer close(m.watchDone)
	for {
		select {
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if !strings.HasSuffix(name, ".gguf") {
				continue
			}
			m.artifactRemoved(strings.TrimSuffix(name, ".gguf"))
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryModel).Warn("watcher error: %v", err)
		}
	}
}

// artifactRemoved handles an artifact vanishing from disk: the record is
// dropped back to not-downloaded (deleted) and the active slot is cleared.
func (m *Manager) artifactRemoved(id string) {
	logging.Model("artifact for %s removed externally", id)
	if err := m.store.Delete(id); err != nil {
		logging.Get(logging.CategoryModel).Error("failed to drop record for %s: %v", id, err)
	}

	m.mu.Lock()
	if m.activeID == id {
		m.abortCurrentLocked()
		m.activeID = ""
	}
	m.mu.Unlock()

	m.collector.ModelEvent(id, "artifact_removed")
}

// Close stops the watcher and closes the store. In-flight completions are
// aborted.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.abortCurrentLocked()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}

	if m.watcher != nil {
		m.watcher.Close()
		<-m.watchDone
	}
	return m.store.Close()
}

// List returns every known record plus catalog entries never downloaded.
func (m *Manager) List() ([]Record, error) {
	return m.store.List()
}

// Get returns the record for one model.
func (m *Manager) Get(id string) (Record, bool, error) {
	return m.store.Get(id)
}

// Pull downloads and verifies a catalog model. The record moves through
// downloading to ready, or to error with the failure reason preserved.
func (m *Manager) Pull(ctx context.Context, id string, onProgress ProgressFunc) (Record, error) {
	entry, ok := Lookup(id)
	if !ok {
		return Record{}, fault.InvalidArgument("modelId", "unknown model %q", id)
	}

	// Already downloaded and still on disk: nothing to do.
	if rec, found, err := m.store.Get(id); err == nil && found && rec.Status == StatusReady {
		if _, statErr := os.Stat(rec.Path); statErr == nil {
			return rec, nil
		}
	}

	modelsDir := m.settings.ModelsPath(m.workspace)
	rec := Record{ID: id, Path: ArtifactPath(modelsDir, id), Status: StatusDownloading}
	if err := m.store.Upsert(rec); err != nil {
		return Record{}, err
	}
	m.collector.ModelEvent(id, "download_started")

	path, digest, err := m.downloader.Fetch(ctx, entry, modelsDir, onProgress)
	if err != nil {
		if serr := m.store.SetError(id, err.Error()); serr != nil {
			logging.Get(logging.CategoryModel).Error("failed to record download error: %v", serr)
		}
		m.collector.ModelEvent(id, "download_failed")
		return Record{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Record{}, fmt.Errorf("artifact vanished after download: %w", err)
	}

	rec = Record{
		ID:        id,
		Path:      path,
		Status:    StatusReady,
		SizeBytes: info.Size(),
		Checksum:  digest,
	}
	if err := m.store.Upsert(rec); err != nil {
		return Record{}, err
	}
	m.collector.ModelEvent(id, "download_finished")
	return rec, nil
}

// Use makes a ready model the active completion model. Any in-flight
// completion against the previous model is aborted before the swap.
func (m *Manager) Use(id string) error {
	rec, ok, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if !ok || rec.Status != StatusReady {
		return fault.InvalidArgument("modelId", "model %q is not downloaded and ready", id)
	}

	m.mu.Lock()
	m.abortCurrentLocked()
	m.activeID = id
	m.settings.Completion.ModelSelection = id
	settings := m.settings
	m.mu.Unlock()

	if err := settings.Save(m.workspace); err != nil {
		return err
	}
	m.broadcast(settings)
	logging.Model("active model -> %s", id)
	return nil
}

// Remove deletes a model's record and artifact. If it is the active model
// the in-flight completion is aborted first and the slot cleared.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	if m.activeID == id {
		m.abortCurrentLocked()
		m.activeID = ""
	}
	m.mu.Unlock()

	rec, ok, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if ok && rec.Path != "" {
		if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove artifact: %w", err)
		}
	}
	if err := m.store.Delete(id); err != nil {
		return err
	}
	m.collector.ModelEvent(id, "removed")
	return nil
}

// Active returns the active model's record, if any.
func (m *Manager) Active() (Record, bool) {
	m.mu.Lock()
	id := m.activeID
	m.mu.Unlock()
	if id == "" {
		return Record{}, false
	}
	rec, ok, err := m.store.Get(id)
	if err != nil || !ok {
		return Record{}, false
	}
	return rec, true
}

// UpdateSettings validates, persists, and applies new settings, then fans
// the new snapshot out to subscribers. A changed model selection swaps the
// active slot, aborting any in-flight completion.
func (m *Manager) UpdateSettings(s config.Settings) error {
	if id := s.Completion.ModelSelection; id != "" {
		if _, ok := Lookup(id); !ok {
			return fault.InvalidArgument("modelSelection", "unknown model %q", id)
		}
	}
	// Save validates (including the proxy baseUrl rule) before writing.
	if err := s.Save(m.workspace); err != nil {
		return err
	}

	m.mu.Lock()
	if s.Completion.ModelSelection != m.activeID {
		m.abortCurrentLocked()
		m.activeID = ""
		if id := s.Completion.ModelSelection; id != "" {
			if rec, ok, err := m.store.Get(id); err == nil && ok && rec.Status == StatusReady {
				m.activeID = id
			}
		}
	}
	m.settings = s
	m.mu.Unlock()

	m.broadcast(s)
	logging.Get(logging.CategoryConfig).Info("settings updated")
	return nil
}

// Settings returns the current settings snapshot.
func (m *Manager) Settings() config.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// SubscribeSettings returns a channel receiving each settings snapshot
// applied after the call. The channel closes when the manager closes.
func (m *Manager) SubscribeSettings() <-chan config.Settings {
	ch := make(chan config.Settings, 4)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Manager) broadcast(s config.Settings) {
	m.mu.Lock()
	subs := m.subs
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- s:
		default:
			logging.Get(logging.CategoryConfig).Warn("settings subscriber lagging, snapshot dropped")
		}
	}
}

// Complete runs one inline completion against the active local model and
// returns the suggestion text. Requires completion enabled and a ready
// active model. Concurrent calls with byte-identical prompts share a single
// generation, keyed by prompt hash.
func (m *Manager) Complete(ctx context.Context, p transport.Prompt) (string, error) {
	m.mu.Lock()
	if !m.settings.Completion.Enabled {
		m.mu.Unlock()
		return "", fault.InvalidArgument("completion", "completion is disabled in settings")
	}
	if m.activeID == "" {
		m.mu.Unlock()
		return "", fault.InvalidArgument("model", "no active local model")
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = m.settings.Completion.MaxTokens
	}
	m.mu.Unlock()

	key := prompt.HashPrompt(prompt.Rendered{System: p.System, User: p.User}, prompt.InjectedContext{}).Prompt
	v, err, shared := m.group.Do(key, func() (interface{}, error) {
		return m.generate(ctx, p)
	})
	if shared {
		logging.Completion("deduplicated completion for hash %s", key)
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// AbortCompletion aborts the in-flight completion, if any. Idempotent.
func (m *Manager) AbortCompletion() {
	m.mu.Lock()
	m.abortCurrentLocked()
	m.mu.Unlock()
}

func (m *Manager) abortCurrentLocked() {
	if m.current != nil {
		m.current.Abort()
		m.current = nil
	}
}

// failActive downgrades the active model's record after the local server
// fails mid-generation. The model must be pulled again before reuse.
// Caller-driven cancellation is not a server failure and leaves the record
// alone.
func (m *Manager) failActive(cause error) {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return
	}

	m.mu.Lock()
	id := m.activeID
	m.activeID = ""
	m.mu.Unlock()
	if id == "" {
		return
	}

	if err := m.store.SetError(id, cause.Error()); err != nil {
		logging.Get(logging.CategoryModel).Error("failed to record model failure: %v", err)
	}
	m.collector.ModelEvent(id, "transport_error")
	logging.Model("model %s errored mid-generation: %v", id, cause)
}

func (m *Manager) generate(ctx context.Context, p transport.Prompt) (string, error) {
	h := m.backend.Start(ctx, p)

	m.mu.Lock()
	m.current = h
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if m.current == h {
			m.current = nil
		}
		m.mu.Unlock()
	}()

	var text strings.Builder
	for ev := range h.Events() {
		switch ev.Kind {
		case transport.EventDelta:
			text.WriteString(ev.Delta)
		case transport.EventDone:
			if ev.Result.Text != "" {
				return ev.Result.Text, nil
			}
			return text.String(), nil
		case transport.EventError:
			m.failActive(ev.Err)
			return "", ev.Err
		}
	}
	// Channel closed without a terminal event: the handle was aborted.
	return "", ErrAborted
}
