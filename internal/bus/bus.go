// Package bus publishes benchmark events to interested consumers.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type, equal to the topic it was published on.
	Type string `json:"type"`

	// Source is the component that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created (unix millis).
	Timestamp int64 `json:"timestamp"`

	// Payload contains the event data.
	Payload any `json:"payload"`
}

// Topics for benchmark events.
const (
	// TopicOptimized carries an OptimizedPayload after a parameter search.
	TopicOptimized = "benchmark.optimized"

	// TopicCompared carries a ComparedPayload after a comparison.
	TopicCompared = "benchmark.compared"
)

// NewEvent creates an event with a fresh id and the current time.
func NewEvent(topic, source string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      topic,
		Source:    source,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

// OptimizedPayload describes a finished parameter search.
type OptimizedPayload struct {
	Method    string  `json:"method"`
	Metric    string  `json:"metric"`
	Score     float64 `json:"score"`
	Baseline  float64 `json:"baseline"`
	Evaluated int     `json:"evaluated"`
	Cached    bool    `json:"cached"`
	Key       string  `json:"key"`
}

// ComparedPayload describes a finished comparison.
type ComparedPayload struct {
	Runs    []string `json:"runs"`
	Metrics []string `json:"metrics"`
	Test    string   `json:"test"`
	Alpha   float64  `json:"alpha"`

	// Best is, per metric, the run with the highest mean.
	Best map[string]string `json:"best"`

	DurationMs int64 `json:"duration_ms"`
}
