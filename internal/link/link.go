// Package link implements the shareable-channel-link surface: building and
// parsing URLs that carry a channel number (and optionally a display name),
// plus the single channel-bound validation shared by the landing and join
// paths so both always agree on the maximum channel.
package link

import (
	"fmt"
	"net/url"
	"strconv"
)

// DefaultMaxChannel is the upper channel bound when none is configured.
const DefaultMaxChannel = 9999

// ValidationError reports invalid join input. It is surfaced to the user
// verbatim and never mutates any state.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ValidateChannel checks that ch is within [1, maxChannel]. A non-positive
// maxChannel falls back to DefaultMaxChannel.
func ValidateChannel(ch, maxChannel int) error {
	if maxChannel <= 0 {
		maxChannel = DefaultMaxChannel
	}
	if ch < 1 || ch > maxChannel {
		return &ValidationError{Reason: fmt.Sprintf("channel must be between 1 and %d", maxChannel)}
	}
	return nil
}

// Build returns a shareable link for the channel, e.g.
// "https://truly.chat/?channel=42&name=Ava". The name is omitted when empty.
func Build(base string, channel int, name string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("link: parse base %q: %w", base, err)
	}
	q := u.Query()
	q.Set("channel", strconv.Itoa(channel))
	if name != "" {
		q.Set("name", name)
	} else {
		q.Del("name")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Parse extracts the channel number and optional display name from a
// shareable link. The channel is validated against maxChannel; a link without
// a channel parameter or with one out of bounds yields a ValidationError.
func Parse(raw string, maxChannel int) (channel int, name string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return 0, "", fmt.Errorf("link: parse %q: %w", raw, err)
	}
	q := u.Query()

	chParam := q.Get("channel")
	if chParam == "" {
		return 0, "", &ValidationError{Reason: "link has no channel parameter"}
	}
	ch, err := strconv.Atoi(chParam)
	if err != nil {
		return 0, "", &ValidationError{Reason: fmt.Sprintf("invalid channel number %q", chParam)}
	}
	if err := ValidateChannel(ch, maxChannel); err != nil {
		return 0, "", err
	}
	return ch, q.Get("name"), nil
}
