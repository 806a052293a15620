package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType distinguishes messages on the alerts topic.
type EventType string

const (
	EventTypeRaised   EventType = "raised"
	EventTypeResolved EventType = "resolved"
)

// AlertEvent is published once per dispatched recipient batch when an alert
// is raised, and once (without recipients) when it resolves. Consumers such
// as the notification service fan it out to their transport.
type AlertEvent struct {
	Type        EventType `json:"type"`
	AlertID     string    `json:"alert_id"`
	ThresholdID *int      `json:"threshold_id,omitempty"`
	Level       string    `json:"level"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Metric      string    `json:"metric,omitempty"`
	Value       float64   `json:"value,omitempty"`
	Boundary    float64   `json:"boundary,omitempty"`
	Operator    string    `json:"operator,omitempty"`
	StationID   string    `json:"station_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
	// Recipients carries the opaque device tokens for this batch. Transport
	// mechanics (APNs/FCM/email routing) belong to the consumer.
	Recipients []string `json:"recipients,omitempty"`
}

// EncodeAlertEvent encodes an event for the alerts topic.
func EncodeAlertEvent(event *AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

// DecodeAlertEvent parses and validates an alerts-topic message.
func DecodeAlertEvent(data []byte) (*AlertEvent, error) {
	var event AlertEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("invalid alert event: %w", err)
	}

	switch event.Type {
	case EventTypeRaised, EventTypeResolved:
	default:
		return nil, fmt.Errorf("unknown alert event type: %s", event.Type)
	}
	if event.AlertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}

	return &event, nil
}
