package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/internal/fault"
)

func TestLocalClient_StreamsUntilStop(t *testing.T) {
	srv := sseServer(t, []string{
		`{"content":"once ","stop":false}`,
		`{"content":"upon ","stop":false}`,
		`{"content":"a time","stop":true,"timings":{"predicted_n":3,"prompt_n":12}}`,
	}, 0)
	defer srv.Close()

	h := NewLocalClient(LocalConfig{BaseURL: srv.URL}).Start(context.Background(), Prompt{User: "continue"})
	events := collect(h)

	require.Len(t, events, 4)
	assert.Equal(t, "once ", events[0].Delta)
	assert.Equal(t, "upon ", events[1].Delta)
	assert.Equal(t, "a time", events[2].Delta)

	terminal := events[3]
	require.Equal(t, EventDone, terminal.Kind)
	assert.Equal(t, "once upon a time", terminal.Result.Text)
	assert.Equal(t, "stop", terminal.Result.FinishReason)
	assert.Equal(t, 3, terminal.Result.Usage.CompletionTokens)
	assert.Equal(t, 12, terminal.Result.Usage.PromptTokens)
}

func TestLocalClient_NoServerConfigured(t *testing.T) {
	h := NewLocalClient(LocalConfig{}).Start(context.Background(), Prompt{User: "x"})
	events := collect(h)

	require.Len(t, events, 1)
	require.Equal(t, EventError, events[0].Kind)
	assert.True(t, fault.IsTransport(events[0].Err))
}

func TestLocalClient_ServerDown(t *testing.T) {
	// Nothing listens here.
	h := NewLocalClient(LocalConfig{BaseURL: "http://127.0.0.1:1"}).Start(context.Background(), Prompt{User: "x"})
	events := collect(h)

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Kind)
}

func TestLocalClient_SystemPromptPrepended(t *testing.T) {
	// Behavioral check via a server that echoes nothing; the point is the
	// request is well-formed and the stream terminates cleanly on EOF.
	srv := sseServer(t, []string{`{"content":"ok","stop":true}`}, 0)
	defer srv.Close()

	h := NewLocalClient(LocalConfig{BaseURL: srv.URL}).Start(context.Background(),
		Prompt{System: "sys", User: "user"})
	events := collect(h)

	terminal := events[len(events)-1]
	assert.Equal(t, EventDone, terminal.Kind)
}

func TestStream_EmitAfterTerminalIsDropped(t *testing.T) {
	s := newStream(nil)
	require.True(t, s.emit(Event{Kind: EventDelta, Delta: "a"}))
	require.True(t, s.emit(Event{Kind: EventDone}))
	assert.False(t, s.emit(Event{Kind: EventDelta, Delta: "late"}))
	assert.False(t, s.emit(Event{Kind: EventError}))
}

func TestStream_AbortDrainsBufferedDeltas(t *testing.T) {
	s := newStream(nil)
	for i := 0; i < 10; i++ {
		require.True(t, s.emit(Event{Kind: EventDelta, Delta: "buffered"}))
	}
	s.Abort()

	deadline := time.After(time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return // closed with nothing delivered
			}
			t.Fatalf("buffered event leaked past abort: %+v", ev)
		case <-deadline:
			t.Fatal("channel never closed")
		}
	}
}

func TestStream_AbortIdempotent(t *testing.T) {
	s := newStream(nil)
	s.Abort()
	s.Abort() // must not panic
	_, ok := <-s.Events()
	assert.False(t, ok)
}
