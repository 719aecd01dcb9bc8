package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOfferSuggestion_NeverBlocks(t *testing.T) {
	ch := make(chan string, 2)
	offerSuggestion(ch, "one")
	offerSuggestion(ch, "two")

	// Channel full and nobody reading, as after the TUI has exited.
	done := make(chan struct{})
	go func() {
		offerSuggestion(ch, "dropped")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("offerSuggestion blocked on a full channel")
	}

	assert.Equal(t, "one", <-ch)
	assert.Equal(t, "two", <-ch)
	assert.Empty(t, ch)
}
