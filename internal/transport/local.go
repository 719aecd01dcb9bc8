package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"inkwell/internal/fault"
	"inkwell/internal/logging"
)

// LocalConfig holds configuration for the local model server client. The
// server is the llama.cpp-compatible process the LocalModelManager launches;
// it streams from /completion over SSE.
type LocalConfig struct {
	BaseURL     string // e.g. http://127.0.0.1:8753
	MaxTokens   int
	Temperature float64
}

// LocalClient implements Transport against the locally hosted model server.
// There is no inactivity timeout: a cold local model can legitimately take a
// while to produce its first token, and the debounce/cancel discipline of
// the completion controller bounds how long anyone waits on it.
type LocalClient struct {
	cfg        LocalConfig
	httpClient *http.Client
}

// NewLocalClient creates a local transport with the given config.
func NewLocalClient(cfg LocalConfig) *LocalClient {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 64
	}
	return &LocalClient{
		cfg: cfg,
		// No overall timeout either; cancellation comes from Abort.
		httpClient: &http.Client{},
	}
}

// Name implements Transport.
func (c *LocalClient) Name() string { return "local" }

// Preflight implements Preflighter.
func (c *LocalClient) Preflight() error {
	if c.cfg.BaseURL == "" {
		return fmt.Errorf("local model server not running")
	}
	return nil
}

// completionRequest is the llama.cpp server request body.
type completionRequest struct {
	Prompt      string  `json:"prompt"`
	NPredict    int     `json:"n_predict"`
	Temperature float64 `json:"temperature"`
	Stream      bool    `json:"stream"`
}

// completionChunk is one llama.cpp SSE payload.
type completionChunk struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
	Timings *struct {
		PredictedN int `json:"predicted_n"`
		PromptN    int `json:"prompt_n"`
	} `json:"timings,omitempty"`
}

// Start implements Transport.
func (c *LocalClient) Start(ctx context.Context, p Prompt) Handle {
	ctx, cancel := context.WithCancel(ctx)
	s := newStream(cancel)

	go c.run(ctx, p, s)
	return s
}

func (c *LocalClient) run(ctx context.Context, p Prompt, s *stream) {
	startTime := time.Now()

	if c.cfg.BaseURL == "" {
		s.fail(fault.Transport(c.Name(), "connect", fmt.Errorf("local model server not running")))
		return
	}

	// The local model sees a single flat prompt; the system section is
	// prepended the way the model's chat template would.
	text := p.User
	if p.System != "" {
		text = p.System + "\n\n" + p.User
	}

	maxTokens := p.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}

	reqBody := completionRequest{
		Prompt:      text,
		NPredict:    maxTokens,
		Temperature: p.Temperature,
		Stream:      true,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		s.fail(fault.Transport(c.Name(), "connect", fmt.Errorf("failed to marshal request: %w", err)))
		return
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/completion", bytes.NewReader(jsonData))
	if err != nil {
		s.fail(fault.Transport(c.Name(), "connect", fmt.Errorf("failed to create request: %w", err)))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		s.fail(fault.Transport(c.Name(), "connect", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.fail(fault.Transport(c.Name(), "connect",
			fmt.Errorf("local server returned status %d: %s", resp.StatusCode, string(body))))
		return
	}

	pumpSSE(ctx, s, resp.Body, ssePumpConfig{
		provider: c.Name(),
		parse:    parseCompletionChunk,
	})

	logging.TransportDebug("[local] stream finished in %v", time.Since(startTime))
}

// parseCompletionChunk converts one llama.cpp SSE payload into stream events.
func parseCompletionChunk(data string, acc *accumulator) ([]Event, error) {
	var chunk completionChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return nil, nil
	}

	var events []Event
	if chunk.Content != "" {
		acc.text.WriteString(chunk.Content)
		events = append(events, Event{Kind: EventDelta, Delta: chunk.Content})
	}
	if chunk.Stop {
		acc.finishReason = "stop"
		if chunk.Timings != nil {
			acc.usage = Usage{
				PromptTokens:     chunk.Timings.PromptN,
				CompletionTokens: chunk.Timings.PredictedN,
			}
		}
		events = append(events, Event{Kind: EventDone, Result: Result{
			Text:         acc.text.String(),
			FinishReason: acc.finishReason,
			Usage:        acc.usage,
		}})
	}
	return events, nil
}
