// Package event defines the routed analytics event handed to the transformer
// by the event-routing pipeline.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Event is a generic analytics message (identify, track, page, group) kept as
// a decoded JSON tree. Numbers are held as json.Number so values round-trip
// without precision loss.
type Event map[string]interface{}

// Type returns the raw message type and whether it was set to a non-empty
// value. Non-string types are rendered with fmt so they still reach the
// unsupported-type check.
func (e Event) Type() (string, bool) {
	v, ok := e["type"]
	if !ok || v == nil {
		return "", false
	}
	s, isString := v.(string)
	if !isString {
		s = fmt.Sprint(v)
	}
	if s == "" {
		return "", false
	}
	return s, true
}

// String returns the top-level value at key when it is a string.
func (e Event) String(key string) (string, bool) {
	s, ok := e[key].(string)
	return s, ok
}

// Destination is the per-tenant destination configuration.
type Destination struct {
	ID          string                 `json:"ID,omitempty"`
	Name        string                 `json:"Name,omitempty"`
	Config      map[string]interface{} `json:"Config"`
	Enabled     bool                   `json:"Enabled,omitempty"`
	WorkspaceID string                 `json:"WorkspaceID,omitempty"`
}

// ConfigString returns the string value of a Config key. Missing or
// non-string values report false.
func (d Destination) ConfigString(key string) (string, bool) {
	if d.Config == nil {
		return "", false
	}
	s, ok := d.Config[key].(string)
	return s, ok
}

// Metadata is routing metadata carried alongside each event and echoed back
// in router and error envelopes.
type Metadata struct {
	JobID         json.Number `json:"jobId,omitempty"`
	SourceID      string      `json:"sourceId,omitempty"`
	DestinationID string      `json:"destinationId,omitempty"`
	WorkspaceID   string      `json:"workspaceId,omitempty"`
	MessageID     string      `json:"messageId,omitempty"`
}

// RoutedEvent is one input unit of a transform batch.
type RoutedEvent struct {
	Message     Event       `json:"message"`
	Destination Destination `json:"destination"`
	Metadata    *Metadata   `json:"metadata,omitempty"`
}

// MessageID returns the message id from metadata, falling back to the
// message itself.
func (r RoutedEvent) MessageID() string {
	if r.Metadata != nil && r.Metadata.MessageID != "" {
		return r.Metadata.MessageID
	}
	id, _ := r.Message.String("messageId")
	return id
}

type batchEnvelope struct {
	Input []RoutedEvent `json:"input"`
}

// DecodeBatch parses a transform batch. Both a bare JSON array and the
// router form {"input": [...]} are accepted.
func DecodeBatch(data []byte) ([]RoutedEvent, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if trimmed[0] == '[' {
		var events []RoutedEvent
		if err := dec.Decode(&events); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		return events, nil
	}

	var env batchEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode batch envelope: %w", err)
	}
	if env.Input == nil {
		return nil, fmt.Errorf("batch envelope missing %q", "input")
	}
	return env.Input, nil
}

// NormalizeType lowercases a message type for dispatch.
func NormalizeType(t string) string {
	return strings.ToLower(t)
}
