package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"inkwell/internal/fault"
	"inkwell/internal/logging"
)

// RemoteConfig holds configuration for the remote provider client. BaseURL
// points either directly at the provider or at the user's proxy; both speak
// the same chat-completions SSE protocol.
type RemoteConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	MaxTokens         int
	Temperature       float64
	Timeout           time.Duration // overall request budget
	InactivityTimeout time.Duration // no event within this window => TransportError
}

// DefaultRemoteConfig returns sensible defaults.
func DefaultRemoteConfig(apiKey string) RemoteConfig {
	return RemoteConfig{
		APIKey:            apiKey,
		BaseURL:           "https://api.openai.com/v1",
		Model:             "gpt-4o-mini",
		MaxTokens:         2048,
		Temperature:       0.7,
		Timeout:           5 * time.Minute,
		InactivityTimeout: 30 * time.Second,
	}
}

// RemoteClient implements Transport against an OpenAI-compatible
// chat-completions endpoint with SSE streaming.
type RemoteClient struct {
	cfg        RemoteConfig
	httpClient *http.Client
}

// NewRemoteClient creates a remote transport with the given config.
func NewRemoteClient(cfg RemoteConfig) *RemoteClient {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.InactivityTimeout == 0 {
		cfg.InactivityTimeout = 30 * time.Second
	}
	return &RemoteClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name implements Transport.
func (c *RemoteClient) Name() string { return "remote" }

// Preflight implements Preflighter.
func (c *RemoteClient) Preflight() error {
	if c.cfg.APIKey == "" {
		return fmt.Errorf("API key not configured")
	}
	if c.cfg.BaseURL == "" {
		return fmt.Errorf("base URL not configured")
	}
	return nil
}

// chatRequest is the OpenAI-compatible request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatChunk is one SSE data payload.
type chatChunk struct {
	Choices []struct {
		Delta *struct {
			Content string `json:"content,omitempty"`
		} `json:"delta,omitempty"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Start implements Transport.
func (c *RemoteClient) Start(ctx context.Context, p Prompt) Handle {
	ctx, cancel := context.WithCancel(ctx)
	s := newStream(cancel)

	go c.run(ctx, p, s)
	return s
}

func (c *RemoteClient) run(ctx context.Context, p Prompt, s *stream) {
	startTime := time.Now()
	logging.TransportDebug("[remote] starting stream model=%s system_len=%d user_len=%d",
		c.cfg.Model, len(p.System), len(p.User))

	if c.cfg.APIKey == "" {
		s.fail(fault.Transport(c.Name(), "connect", fmt.Errorf("API key not configured")))
		return
	}

	messages := make([]chatMessage, 0, 2)
	if p.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: p.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: p.User})

	maxTokens := p.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}
	temperature := p.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}

	reqBody := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      true,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		s.fail(fault.Transport(c.Name(), "connect", fmt.Errorf("failed to marshal request: %w", err)))
		return
	}

	req, err := http.NewRequestWithContext(ctx, "POST",
		strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		s.fail(fault.Transport(c.Name(), "connect", fmt.Errorf("failed to create request: %w", err)))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
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
			fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))))
		return
	}

	pumpSSE(ctx, s, resp.Body, ssePumpConfig{
		provider:   c.Name(),
		inactivity: c.cfg.InactivityTimeout,
		parse:      parseChatChunk,
	})

	logging.TransportDebug("[remote] stream finished in %v", time.Since(startTime))
}

// parseChatChunk converts one OpenAI-style SSE payload into stream events.
func parseChatChunk(data string, acc *accumulator) ([]Event, error) {
	var chunk chatChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		// Providers occasionally interleave comments or keepalives;
		// skip anything that is not a well-formed chunk.
		return nil, nil
	}
	if chunk.Error != nil {
		return nil, fmt.Errorf("API error: %s", chunk.Error.Message)
	}
	if chunk.Usage != nil {
		acc.usage = Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
		}
	}

	var events []Event
	for _, choice := range chunk.Choices {
		if choice.Delta != nil && choice.Delta.Content != "" {
			acc.text.WriteString(choice.Delta.Content)
			events = append(events, Event{Kind: EventDelta, Delta: choice.Delta.Content})
		}
		if choice.FinishReason != "" {
			acc.finishReason = choice.FinishReason
		}
	}
	return events, nil
}
