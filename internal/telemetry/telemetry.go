// Package telemetry defines the coarse-grained event collector handed to the
// engine at construction time. It is an explicit dependency, not an ambient
// singleton: whoever builds the engine decides where timings go, and the
// collector's lifecycle is tied to application start/stop.
//
// Collectors receive identifiers, durations, and error codes only - never
// prompt text or model output.
package telemetry

import (
	"time"

	"go.uber.org/zap"
)

// Collector receives run lifecycle events.
type Collector interface {
	// RunStarted fires when a run enters the registry.
	RunStarted(runID, skillID string)
	// RunEnded fires when a run reaches a terminal state. errCode is empty
	// for done, "cancelled" for cancellation, or a short stable code for
	// errors (e.g. "transport_timeout").
	RunEnded(runID, skillID, state string, duration time.Duration, errCode string)
	// ModelEvent fires on local model lifecycle transitions
	// (download started/finished, verify failed, removed).
	ModelEvent(modelID, event string)
}

// Nop discards all events. Useful for tests and headless tooling.
type Nop struct{}

// RunStarted implements Collector.
func (Nop) RunStarted(string, string) {}

// RunEnded implements Collector.
func (Nop) RunEnded(string, string, string, time.Duration, string) {}

// ModelEvent implements Collector.
func (Nop) ModelEvent(string, string) {}

// ZapCollector logs events through a zap logger.
type ZapCollector struct {
	logger *zap.Logger
}

// NewZapCollector wraps a zap logger as a Collector.
func NewZapCollector(logger *zap.Logger) *ZapCollector {
	return &ZapCollector{logger: logger}
}

// RunStarted implements Collector.
func (c *ZapCollector) RunStarted(runID, skillID string) {
	c.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("skill_id", skillID),
	)
}

// RunEnded implements Collector.
func (c *ZapCollector) RunEnded(runID, skillID, state string, duration time.Duration, errCode string) {
	c.logger.Info("run ended",
		zap.String("run_id", runID),
		zap.String("skill_id", skillID),
		zap.String("state", state),
		zap.Duration("duration", duration),
		zap.String("error_code", errCode),
	)
}

// ModelEvent implements Collector.
func (c *ZapCollector) ModelEvent(modelID, event string) {
	c.logger.Info("model event",
		zap.String("model_id", modelID),
		zap.String("event", event),
	)
}
