package link

import (
	"errors"
	"testing"
)

func TestValidateChannel(t *testing.T) {
	tests := []struct {
		name string
		ch   int
		max  int
		ok   bool
	}{
		{"lower bound", 1, 9999, true},
		{"upper bound", 9999, 9999, true},
		{"zero", 0, 9999, false},
		{"negative", -5, 9999, false},
		{"above max", 10000, 9999, false},
		{"custom bound in range", 100, 100, true},
		{"custom bound out of range", 101, 100, false},
		{"unset bound falls back to default", 9999, 0, true},
		{"unset bound still enforces default", 10000, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChannel(tt.ch, tt.max)
			if tt.ok && err != nil {
				t.Fatalf("expected channel %d valid, got %v", tt.ch, err)
			}
			if !tt.ok {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected ValidationError for channel %d, got %v", tt.ch, err)
				}
			}
		})
	}
}

func TestBuildParseRoundTrip(t *testing.T) {
	raw, err := Build("https://truly.chat/", 42, "Ava")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ch, name, err := Parse(raw, DefaultMaxChannel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch != 42 {
		t.Errorf("expected channel 42, got %d", ch)
	}
	if name != "Ava" {
		t.Errorf("expected name %q, got %q", "Ava", name)
	}
}

func TestBuildWithoutName(t *testing.T) {
	raw, err := Build("https://truly.chat/?name=stale", 7, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ch, name, err := Parse(raw, DefaultMaxChannel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch != 7 || name != "" {
		t.Errorf("expected (7, \"\"), got (%d, %q)", ch, name)
	}
}

func TestParseRejectsBadLinks(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no channel", "https://truly.chat/"},
		{"non-numeric channel", "https://truly.chat/?channel=abc"},
		{"out of bounds", "https://truly.chat/?channel=10000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse(tt.raw, DefaultMaxChannel)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}
