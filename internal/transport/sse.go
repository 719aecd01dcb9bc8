package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"inkwell/internal/fault"
	"inkwell/internal/logging"
)

// accumulator collects what the terminal Done event needs while deltas
// stream past.
type accumulator struct {
	text         strings.Builder
	finishReason string
	usage        Usage
}

// parseFunc converts one SSE data payload into zero or more events,
// updating the accumulator as a side effect. A returned error terminates
// the stream with a TransportError.
type parseFunc func(data string, acc *accumulator) ([]Event, error)

type ssePumpConfig struct {
	provider   string
	inactivity time.Duration // zero disables the inactivity timer
	parse      parseFunc
}

// pumpSSE reads "data:" lines from body and relays parsed events into s
// until the stream ends, errors, times out, or is aborted. The abort flag is
// rechecked on every emit, so a cancel racing buffered lines never leaks a
// late delta.
func pumpSSE(ctx context.Context, s *stream, body io.ReadCloser, cfg ssePumpConfig) {
	// Own cancel scope: whatever way the pump exits, the scanner goroutine
	// must not stay blocked handing over a line nobody will read.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string, 16)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			select {
			case lines <- data:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			scanErr <- err
		}
	}()

	var timer *time.Timer
	var timeout <-chan time.Time
	if cfg.inactivity > 0 {
		timer = time.NewTimer(cfg.inactivity)
		defer timer.Stop()
		timeout = timer.C
	}

	acc := &accumulator{}
	for {
		select {
		case data, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					s.fail(fault.Transport(cfg.provider, "stream", err))
				default:
					s.emit(Event{Kind: EventDone, Result: Result{
						Text:         acc.text.String(),
						FinishReason: acc.finishReason,
						Usage:        acc.usage,
					}})
				}
				return
			}
			if timer != nil {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(cfg.inactivity)
			}
			if data == "[DONE]" {
				s.emit(Event{Kind: EventDone, Result: Result{
					Text:         acc.text.String(),
					FinishReason: acc.finishReason,
					Usage:        acc.usage,
				}})
				body.Close()
				return
			}
			events, err := cfg.parse(data, acc)
			if err != nil {
				s.fail(fault.Transport(cfg.provider, "decode", err))
				body.Close()
				return
			}
			for _, ev := range events {
				if !s.emit(ev) {
					// Aborted mid-batch; drop the rest.
					body.Close()
					return
				}
			}

		case <-timeout:
			logging.TransportWarn("[%s] inactivity timeout after %v", cfg.provider, cfg.inactivity)
			s.fail(fault.TransportTimeout(cfg.provider,
				fmt.Errorf("no event within %v", cfg.inactivity)))
			body.Close()
			return

		case <-ctx.Done():
			body.Close()
			// Aborted handles already closed their channel; anything else
			// (parent context cancelled) still owes a terminal event.
			s.fail(fault.Transport(cfg.provider, "stream", ctx.Err()))
			return
		}
	}
}
