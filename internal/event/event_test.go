package event

import (
	"testing"

	"github.com/trulychat/trulychat/internal/store"
)

func TestParseMessageAdded(t *testing.T) {
	input := []byte(`{"type":"message_added","channel":42,"message":{"key":"000000000007","user_id":"u1","user_name":"Ava","text":"hi","ts":1700000000000,"type":"user"}}`)

	evType, ev, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evType != TypeMessageAdded {
		t.Fatalf("expected type %q, got %q", TypeMessageAdded, evType)
	}

	added, ok := ev.(MessageAdded)
	if !ok {
		t.Fatalf("expected MessageAdded, got %T", ev)
	}
	if added.Channel != 42 {
		t.Errorf("expected channel 42, got %d", added.Channel)
	}
	if added.Message.Key != "000000000007" || added.Message.Text != "hi" {
		t.Errorf("unexpected message: %+v", added.Message)
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	data, err := Encode(TypeMessageChanged, MessageChanged{
		Channel: 7,
		Message: store.Message{
			Key:       "000000000003",
			UserID:    "u2",
			Text:      "",
			Deleted:   true,
			Timestamp: 123456,
			Type:      store.TypeUser,
		},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	evType, ev, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evType != TypeMessageChanged {
		t.Fatalf("expected type %q, got %q", TypeMessageChanged, evType)
	}
	changed := ev.(MessageChanged)
	if !changed.Message.Deleted {
		t.Error("deleted flag lost in round trip")
	}
	if changed.Message.Key != "000000000003" {
		t.Errorf("key lost: %+v", changed.Message)
	}
}

func TestParsePresenceChanged(t *testing.T) {
	data, err := Encode(TypePresenceChanged, PresenceChanged{Channel: 1, UserID: "u1", Action: PresenceJoin})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	_, ev, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pc := ev.(PresenceChanged)
	if pc.Action != PresenceJoin || pc.UserID != "u1" {
		t.Errorf("unexpected payload: %+v", pc)
	}
}

func TestParseRejectsUnknownType(t *testing.T) {
	_, _, err := Parse([]byte(`{"type":"channel_nuked"}`))
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestParseRejectsMissingType(t *testing.T) {
	_, _, err := Parse([]byte(`{"channel":1}`))
	if err == nil {
		t.Fatal("expected error for missing type field")
	}
}
