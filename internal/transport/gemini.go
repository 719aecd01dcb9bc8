package transport

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"inkwell/internal/fault"
	"inkwell/internal/logging"
)

// GeminiConfig holds configuration for the Gemini remote client.
type GeminiConfig struct {
	APIKey            string
	Model             string
	MaxTokens         int
	Temperature       float64
	InactivityTimeout time.Duration
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:            apiKey,
		Model:             "gemini-2.5-flash",
		MaxTokens:         2048,
		Temperature:       0.7,
		InactivityTimeout: 30 * time.Second,
	}
}

// GeminiClient implements Transport using the official genai SDK instead of
// raw SSE; the SDK owns the wire protocol, we own the event discipline.
type GeminiClient struct {
	cfg    GeminiConfig
	client *genai.Client
}

// NewGeminiClient creates a Gemini transport with the given config.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.InactivityTimeout == 0 {
		cfg.InactivityTimeout = 30 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiClient{cfg: cfg, client: client}, nil
}

// Name implements Transport.
func (c *GeminiClient) Name() string { return "gemini" }

// chunk carries one SDK iteration result across the pump boundary.
type geminiChunk struct {
	resp *genai.GenerateContentResponse
	err  error
}

// Start implements Transport.
func (c *GeminiClient) Start(ctx context.Context, p Prompt) Handle {
	ctx, cancel := context.WithCancel(ctx)
	s := newStream(cancel)

	go c.run(ctx, p, s)
	return s
}

func (c *GeminiClient) run(ctx context.Context, p Prompt, s *stream) {
	startTime := time.Now()
	logging.TransportDebug("[gemini] starting stream model=%s", c.cfg.Model)

	maxTokens := p.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}
	temperature := float32(p.Temperature)
	if p.Temperature == 0 {
		temperature = float32(c.cfg.Temperature)
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
		Temperature:     &temperature,
	}
	if p.System != "" {
		config.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}

	contents := []*genai.Content{genai.NewContentFromText(p.User, genai.RoleUser)}

	chunks := make(chan geminiChunk, 16)
	go func() {
		defer close(chunks)
		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.cfg.Model, contents, config) {
			select {
			case chunks <- geminiChunk{resp: resp, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(c.cfg.InactivityTimeout)
	defer timer.Stop()

	acc := &accumulator{}
	for {
		select {
		case ch, ok := <-chunks:
			if !ok {
				s.emit(Event{Kind: EventDone, Result: Result{
					Text:         acc.text.String(),
					FinishReason: acc.finishReason,
					Usage:        acc.usage,
				}})
				logging.TransportDebug("[gemini] stream finished in %v", time.Since(startTime))
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(c.cfg.InactivityTimeout)

			if ch.err != nil {
				s.fail(fault.Transport(c.Name(), "stream", ch.err))
				return
			}
			text := ch.resp.Text()
			if text != "" {
				acc.text.WriteString(text)
				if !s.emit(Event{Kind: EventDelta, Delta: text}) {
					return
				}
			}
			if len(ch.resp.Candidates) > 0 && ch.resp.Candidates[0].FinishReason != "" {
				acc.finishReason = string(ch.resp.Candidates[0].FinishReason)
			}
			if ch.resp.UsageMetadata != nil {
				acc.usage = Usage{
					PromptTokens:     int(ch.resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(ch.resp.UsageMetadata.CandidatesTokenCount),
				}
			}

		case <-timer.C:
			logging.TransportWarn("[gemini] inactivity timeout after %v", c.cfg.InactivityTimeout)
			s.fail(fault.TransportTimeout(c.Name(),
				fmt.Errorf("no event within %v", c.cfg.InactivityTimeout)))
			return

		case <-ctx.Done():
			s.fail(fault.Transport(c.Name(), "stream", ctx.Err()))
			return
		}
	}
}
