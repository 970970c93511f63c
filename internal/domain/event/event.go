package event

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a domain event emitted by the transition engine. Every
// successful transition produces exactly one event; failures produce none.
type Event struct {
	ID             string                 `json:"id"`
	Type           Type                   `json:"type"`
	RequestID      string                 `json:"request_id"`
	StepID         string                 `json:"step_id,omitempty"`
	RecipientRoles []string               `json:"recipient_roles,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	CorrelationID  string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with auto-generated ID and timestamp
func NewEvent(eventType Type, requestID, stepID string, recipientRoles []string) *Event {
	return &Event{
		ID:             uuid.NewString(),
		Type:           eventType,
		RequestID:      requestID,
		StepID:         stepID,
		RecipientRoles: recipientRoles,
		Timestamp:      time.Now(),
		CorrelationID:  uuid.NewString(),
	}
}

// NewEventWithCorrelation creates an event linked to a correlation chain
func NewEventWithCorrelation(eventType Type, requestID, stepID string, recipientRoles []string, correlationID string) *Event {
	e := NewEvent(eventType, requestID, stepID, recipientRoles)
	e.CorrelationID = correlationID
	return e
}

// WithPayload returns a new Event with an added payload key-value pair
// (immutable operation)
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	copied := *e
	copied.Payload = newPayload
	return &copied
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}

// GetPayloadBool retrieves a bool value from the payload
func (e *Event) GetPayloadBool(key string) bool {
	if val, ok := e.Payload[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}
