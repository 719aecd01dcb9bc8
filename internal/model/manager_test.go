package model

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"inkwell/internal/config"
	"inkwell/internal/fault"
	"inkwell/internal/transport"
)

func TestMain(m *testing.M) {
	// The opencensus worker is started at package init by a transitive
	// dependency of the transport package, so it is not a test leak.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// stubHandle mimics the transport handle contract.
type stubHandle struct {
	mu     sync.Mutex
	ch     chan transport.Event
	closed bool
}

func newStubHandle() *stubHandle {
	return &stubHandle{ch: make(chan transport.Event, 64)}
}

func (h *stubHandle) emit(ev transport.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.ch <- ev
	if ev.Kind != transport.EventDelta {
		h.closed = true
		close(h.ch)
	}
}

func (h *stubHandle) Events() <-chan transport.Event { return h.ch }

func (h *stubHandle) Abort() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for {
		select {
		case <-h.ch:
			continue
		default:
		}
		break
	}
	close(h.ch)
}

// stubTransport emits a fixed script per Start, optionally waiting on gate.
type stubTransport struct {
	mu     sync.Mutex
	starts int
	gate   chan struct{}
	events []transport.Event
}

func doneEvent(text string) transport.Event {
	return transport.Event{Kind: transport.EventDone, Result: transport.Result{Text: text}}
}

func (s *stubTransport) Name() string { return "stub" }

func (s *stubTransport) Start(ctx context.Context, p transport.Prompt) transport.Handle {
	s.mu.Lock()
	s.starts++
	events := s.events
	gate := s.gate
	s.mu.Unlock()

	h := newStubHandle()
	go func() {
		if gate != nil {
			<-gate
		}
		for _, ev := range events {
			h.emit(ev)
		}
	}()
	return h
}

func (s *stubTransport) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

func newTestManager(t *testing.T, st *stubTransport, mutate func(*config.Settings)) *Manager {
	t.Helper()
	ws := t.TempDir()
	s := config.Default()
	if mutate != nil {
		mutate(s)
	}
	m, err := NewManager(ws, s, st, nil)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

// seedReady puts a ready record (and artifact file) in place and activates it.
func seedReady(t *testing.T, m *Manager, id string) Record {
	t.Helper()
	dir := m.settings.ModelsPath(m.workspace)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := ArtifactPath(dir, id)
	require.NoError(t, os.WriteFile(path, []byte("gguf bytes"), 0644))

	rec := Record{ID: id, Path: path, Status: StatusReady, SizeBytes: 10, Checksum: "aa"}
	require.NoError(t, m.store.Upsert(rec))
	require.NoError(t, m.Use(id))
	return rec
}

func completionPrompt(user string) transport.Prompt {
	return transport.Prompt{System: "Continue the user's text.", User: user}
}

func TestManager_CompleteRequiresEnabled(t *testing.T) {
	st := &stubTransport{}
	m := newTestManager(t, st, func(s *config.Settings) {
		s.Completion.Enabled = false
	})

	_, err := m.Complete(context.Background(), completionPrompt("hello"))
	require.Error(t, err)
	assert.True(t, fault.IsInvalidArgument(err))
	assert.Zero(t, st.startCount())
}

func TestManager_CompleteRequiresActiveModel(t *testing.T) {
	st := &stubTransport{}
	m := newTestManager(t, st, nil)

	_, err := m.Complete(context.Background(), completionPrompt("hello"))
	require.Error(t, err)
	assert.True(t, fault.IsInvalidArgument(err))
	assert.Contains(t, err.Error(), "model")
}

func TestManager_Complete(t *testing.T) {
	st := &stubTransport{events: []transport.Event{
		{Kind: transport.EventDelta, Delta: " upon"},
		{Kind: transport.EventDelta, Delta: " a time"},
		doneEvent(" upon a time"),
	}}
	m := newTestManager(t, st, nil)
	seedReady(t, m, "qwen2.5-0.5b-instruct-q8")

	text, err := m.Complete(context.Background(), completionPrompt("Once"))
	require.NoError(t, err)
	assert.Equal(t, " upon a time", text)
	assert.Equal(t, 1, st.startCount())
}

func TestManager_CompleteDedupsIdenticalPrompts(t *testing.T) {
	gate := make(chan struct{})
	st := &stubTransport{gate: gate, events: []transport.Event{doneEvent("shared")}}
	m := newTestManager(t, st, nil)
	seedReady(t, m, "qwen2.5-0.5b-instruct-q8")

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Complete(context.Background(), completionPrompt("same prefix"))
		}(i)
	}

	// Let both callers reach the singleflight before releasing the stream.
	time.Sleep(100 * time.Millisecond)
	close(gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, "shared", results[0])
	assert.Equal(t, "shared", results[1])
	assert.Equal(t, 1, st.startCount(), "identical prompts must share one generation")
}

func TestManager_AbortCompletion(t *testing.T) {
	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })
	st := &stubTransport{gate: gate, events: []transport.Event{doneEvent("never")}}
	m := newTestManager(t, st, nil)
	seedReady(t, m, "qwen2.5-0.5b-instruct-q8")

	done := make(chan error, 1)
	go func() {
		_, err := m.Complete(context.Background(), completionPrompt("abort me"))
		done <- err
	}()

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.current != nil
	}, time.Second, 5*time.Millisecond)

	m.AbortCompletion()
	m.AbortCompletion() // idempotent

	err := <-done
	assert.ErrorIs(t, err, ErrAborted)
}

func TestManager_UseRequiresReadyRecord(t *testing.T) {
	m := newTestManager(t, &stubTransport{}, nil)

	err := m.Use("qwen2.5-0.5b-instruct-q8")
	require.Error(t, err)
	assert.True(t, fault.IsInvalidArgument(err))

	require.NoError(t, m.store.Upsert(Record{ID: "broken", Path: "/x", Status: StatusError}))
	err = m.Use("broken")
	require.Error(t, err)
	assert.True(t, fault.IsInvalidArgument(err))
}

func TestManager_RemoveActiveModel(t *testing.T) {
	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })
	st := &stubTransport{gate: gate, events: []transport.Event{doneEvent("never")}}
	m := newTestManager(t, st, nil)
	rec := seedReady(t, m, "qwen2.5-0.5b-instruct-q8")

	done := make(chan error, 1)
	go func() {
		_, err := m.Complete(context.Background(), completionPrompt("mid flight"))
		done <- err
	}()
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.current != nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Remove(rec.ID))

	// The in-flight completion was aborted before anything was deleted.
	assert.ErrorIs(t, <-done, ErrAborted)

	_, active := m.Active()
	assert.False(t, active)
	_, ok, err := m.store.Get(rec.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	_, statErr := os.Stat(rec.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestManager_UpdateSettings(t *testing.T) {
	m := newTestManager(t, &stubTransport{}, nil)
	seedReady(t, m, "qwen2.5-0.5b-instruct-q8")

	t.Run("proxy without baseUrl rejected", func(t *testing.T) {
		s := m.Settings()
		s.Proxy.Enabled = true
		s.Proxy.BaseURL = ""
		err := m.UpdateSettings(s)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "baseUrl")
	})

	t.Run("unknown model selection rejected", func(t *testing.T) {
		s := m.Settings()
		s.Completion.ModelSelection = "not-in-catalog"
		err := m.UpdateSettings(s)
		require.Error(t, err)
		assert.True(t, fault.IsInvalidArgument(err))
	})

	t.Run("valid update persists and broadcasts", func(t *testing.T) {
		sub := m.SubscribeSettings()

		s := m.Settings()
		s.Completion.DebounceMS = 450
		require.NoError(t, m.UpdateSettings(s))

		select {
		case got := <-sub:
			assert.Equal(t, 450, got.Completion.DebounceMS)
		case <-time.After(time.Second):
			t.Fatal("no settings broadcast received")
		}

		loaded, err := config.Load(m.workspace)
		require.NoError(t, err)
		assert.Equal(t, 450, loaded.Completion.DebounceMS)
	})
}

func TestManager_PullUnknownModel(t *testing.T) {
	m := newTestManager(t, &stubTransport{}, nil)
	_, err := m.Pull(context.Background(), "no-such-model", nil)
	require.Error(t, err)
	assert.True(t, fault.IsInvalidArgument(err))
}

func TestManager_PullDownloadsAndRecords(t *testing.T) {
	body := []byte("tiny model artifact")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	withTestCatalogEntry(t, CatalogEntry{
		ID: "test-tiny", URL: srv.URL, SHA256: sha256hex(body), SizeBytes: int64(len(body)),
	})

	m := newTestManager(t, &stubTransport{}, nil)

	rec, err := m.Pull(context.Background(), "test-tiny", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, rec.Status)
	assert.Equal(t, int64(len(body)), rec.SizeBytes)

	stored, ok, err := m.store.Get("test-tiny")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusReady, stored.Status)
}

func TestManager_PullReadyModelSkipsDownload(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("should not be fetched"))
	}))
	defer srv.Close()

	withTestCatalogEntry(t, CatalogEntry{ID: "test-cached", URL: srv.URL, SHA256: "aa"})

	m := newTestManager(t, &stubTransport{}, nil)
	dir := m.settings.ModelsPath(m.workspace)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := ArtifactPath(dir, "test-cached")
	require.NoError(t, os.WriteFile(path, []byte("gguf bytes"), 0644))
	require.NoError(t, m.store.Upsert(Record{ID: "test-cached", Path: path, Status: StatusReady, SizeBytes: 10}))

	rec, err := m.Pull(context.Background(), "test-cached", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, rec.Status)
	assert.Zero(t, hits, "a ready model must not be re-downloaded")
}

func TestManager_CompleteTransportErrorDowngradesModel(t *testing.T) {
	st := &stubTransport{events: []transport.Event{
		{Kind: transport.EventError, Err: errors.New("local server crashed")},
	}}
	m := newTestManager(t, st, nil)
	rec := seedReady(t, m, "qwen2.5-0.5b-instruct-q8")

	_, err := m.Complete(context.Background(), completionPrompt("hello"))
	require.Error(t, err)

	// The record needs an explicit re-pull before the model is usable again.
	stored, ok, getErr := m.store.Get(rec.ID)
	require.NoError(t, getErr)
	require.True(t, ok)
	assert.Equal(t, StatusError, stored.Status)
	assert.Contains(t, stored.Error, "crashed")

	_, active := m.Active()
	assert.False(t, active)
}

func TestManager_PullChecksumFailureRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tampered bytes"))
	}))
	defer srv.Close()

	withTestCatalogEntry(t, CatalogEntry{
		ID: "test-bad", URL: srv.URL,
		SHA256: "1111111111111111111111111111111111111111111111111111111111111111",
	})

	m := newTestManager(t, &stubTransport{}, nil)

	_, err := m.Pull(context.Background(), "test-bad", nil)
	require.Error(t, err)

	rec, ok, getErr := m.store.Get("test-bad")
	require.NoError(t, getErr)
	require.True(t, ok)
	assert.Equal(t, StatusError, rec.Status)
	assert.Contains(t, rec.Error, "checksum mismatch")
}

func TestManager_WatcherDowngradesRemovedArtifact(t *testing.T) {
	m := newTestManager(t, &stubTransport{}, nil)
	require.NoError(t, m.Watch())
	rec := seedReady(t, m, "qwen2.5-0.5b-instruct-q8")

	require.NoError(t, os.Remove(rec.Path))

	assert.Eventually(t, func() bool {
		_, ok, err := m.store.Get(rec.ID)
		if err != nil || ok {
			return false
		}
		_, active := m.Active()
		return !active
	}, 2*time.Second, 10*time.Millisecond)
}

// withTestCatalogEntry appends an entry to the package catalog for the
// duration of a test.
func withTestCatalogEntry(t *testing.T, e CatalogEntry) {
	t.Helper()
	catalog = append(catalog, e)
	t.Cleanup(func() {
		catalog = catalog[:len(catalog)-1]
	})
}
