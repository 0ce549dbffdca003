package output

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Event types published to NATS.
const (
	EventServiceStart = "service_start"
	EventServiceStop  = "service_stop"
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventError        = "error"
)

// Event is the structure published for every discrete session event. Keep
// it simple and flat for easy querying.
type Event struct {
	Timestamp  time.Time      `json:"ts"`
	Type       string         `json:"type"`
	InstanceID string         `json:"instance"`
	Slot       string         `json:"slot,omitempty"`
	Port       string         `json:"port,omitempty"`
	Message    string         `json:"msg,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// EventCallback is the hook signature the session controller calls when
// events occur; the controller doesn't know about NATS.
type EventCallback func(event Event)

// EventPublisher publishes session events to a NATS subject. Designed to be
// optional: a nil publisher is safe and silent.
type EventPublisher struct {
	conn       *NATSConnection
	subject    string
	instanceID string
	logger     *slog.Logger
}

// EventPublisherConfig contains configuration for EventPublisher.
type EventPublisherConfig struct {
	Conn       *NATSConnection
	Subject    string
	InstanceID string
	Logger     *slog.Logger
}

// NewEventPublisher creates a new EventPublisher. Returns nil if conn is
// nil (disabled mode).
func NewEventPublisher(cfg *EventPublisherConfig) *EventPublisher {
	if cfg == nil || cfg.Conn == nil {
		return nil
	}

	return &EventPublisher{
		conn:       cfg.Conn,
		subject:    cfg.Subject,
		instanceID: cfg.InstanceID,
		logger:     cfg.Logger,
	}
}

// Publish sends an event to NATS. Safe to call on nil receiver.
func (e *EventPublisher) Publish(event Event) {
	if e == nil || !e.conn.IsConnected() {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.InstanceID == "" {
		event.InstanceID = e.instanceID
	}

	data, err := json.Marshal(event)
	if err != nil {
		e.logger.Error("Failed to marshal event", "error", err, "type", event.Type)
		return
	}

	if err := e.conn.Conn().Publish(e.subject, data); err != nil {
		e.logger.Warn("Failed to publish event", "error", err, "type", event.Type)
		return
	}

	e.logger.Debug("Published event", "type", event.Type, "slot", event.Slot, "port", event.Port)
}

// PublishServiceStart publishes a service start event.
func (e *EventPublisher) PublishServiceStart(version string) {
	e.Publish(Event{
		Type:    EventServiceStart,
		Message: "midimon started",
		Details: map[string]any{"version": version},
	})
}

// PublishServiceStop publishes a service stop event.
func (e *EventPublisher) PublishServiceStop(reason string) {
	e.Publish(Event{
		Type:    EventServiceStop,
		Message: "midimon stopping",
		Details: map[string]any{"reason": reason},
	})
}

// BuildEventsSubject constructs the events subject.
// Format: {prefix}.events.{instance}
func BuildEventsSubject(subjectPrefix, instanceID string) string {
	return subjectPrefix + ".events." + instanceID
}
