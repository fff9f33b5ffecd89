// Package event defines the change events the external store fans out to
// channel subscribers. All events are serialized as JSON and follow a
// consistent envelope format with a type discriminator, so subscribers can
// decode the payload lazily once the type is known.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/trulychat/trulychat/internal/presence"
	"github.com/trulychat/trulychat/internal/store"
)

// Event type constants.
const (
	TypeMessageAdded    = "message_added"
	TypeMessageChanged  = "message_changed"
	TypePresenceChanged = "presence_changed"
	TypeTypingChanged   = "typing_changed"
)

// Presence change actions.
const (
	PresenceJoin   = "join"
	PresenceLeave  = "leave"
	PresenceRename = "rename"
)

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the payload can be decoded later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("event: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("event: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// MessageAdded announces a freshly appended message record.
type MessageAdded struct {
	Type    string        `json:"type"`
	Channel int           `json:"channel"`
	Message store.Message `json:"message"`
}

// MessageChanged announces an in-place mutation (edit, tombstone, reaction
// count change) of an existing record. It carries the full updated record.
type MessageChanged struct {
	Type    string        `json:"type"`
	Channel int           `json:"channel"`
	Message store.Message `json:"message"`
}

// PresenceChanged signals that the channel roster changed; subscribers
// re-read the roster from the store rather than patching incrementally.
type PresenceChanged struct {
	Type    string `json:"type"`
	Channel int    `json:"channel"`
	UserID  string `json:"user_id"`
	Action  string `json:"action"` // join | leave | rename
}

// TypingChanged signals that a user's typing state flipped.
type TypingChanged struct {
	Type    string               `json:"type"`
	Channel int                  `json:"channel"`
	Typing  bool                 `json:"typing"`
	Entry   presence.TypingEntry `json:"entry"`
}

// Parse decodes raw event bytes into one of the concrete event structs.
// Unknown types are an error so subscribers notice protocol drift.
func Parse(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("event: failed to parse: %w", err)
	}

	var (
		ev  interface{}
		err error
	)
	switch env.Type {
	case TypeMessageAdded:
		var e MessageAdded
		err = json.Unmarshal(env.Raw, &e)
		ev = e
	case TypeMessageChanged:
		var e MessageChanged
		err = json.Unmarshal(env.Raw, &e)
		ev = e
	case TypePresenceChanged:
		var e PresenceChanged
		err = json.Unmarshal(env.Raw, &e)
		ev = e
	case TypeTypingChanged:
		var e TypingChanged
		err = json.Unmarshal(env.Raw, &e)
		ev = e
	default:
		return env.Type, nil, fmt.Errorf("event: unknown event type %q", env.Type)
	}
	if err != nil {
		return env.Type, nil, fmt.Errorf("event: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, ev, nil
}

// Encode marshals an event struct, injecting the type discriminator.
func Encode(eventType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("event: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("event: failed to unmarshal payload into map: %w", err)
	}
	m["type"] = eventType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("event: failed to marshal event: %w", err)
	}
	return out, nil
}
