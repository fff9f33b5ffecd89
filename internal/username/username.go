// Package username handles display-name hygiene for channel participants:
// sanitizing user-supplied names, deriving the lowercase name key used for
// the per-user message mirror, and generating throwaway identities.
package username

import (
	"html"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

// MaxNameLen is the display-name cap in runes.
const MaxNameLen = 24

// namePolicy strips all HTML from display names.
var namePolicy = bluemonday.StrictPolicy()

// Name generator word lists.
var (
	adjectives = []string{"Swift", "Clever", "Brave", "Calm", "Eager", "Gentle", "Happy", "Jolly", "Kind", "Lucky"}
	nouns      = []string{"Tiger", "Eagle", "Dolphin", "Wolf", "Fox", "Bear", "Lion", "Owl", "Hawk", "Shark"}
)

// Sanitize normalizes a raw display name: HTML entities are decoded, tags are
// stripped, runs of whitespace collapse to a single space, and the result is
// trimmed and capped at MaxNameLen runes. Returns "" if nothing survives.
func Sanitize(raw string) string {
	decoded := html.UnescapeString(raw)
	clean := namePolicy.Sanitize(decoded)
	clean = strings.Join(strings.Fields(clean), " ")

	runes := []rune(clean)
	if len(runes) > MaxNameLen {
		clean = strings.TrimSpace(string(runes[:MaxNameLen]))
	}
	return clean
}

// Key derives the lowercase slug used to index a user's messages by name:
// lowercased, with every run of non-alphanumeric runes collapsed to a single
// hyphen. Returns "" for names with no usable characters.
func Key(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}
	return b.String()
}

// Random returns a generated display name like "SwiftTiger42".
func Random() string {
	adj := adjectives[rand.N(len(adjectives))]
	noun := nouns[rand.N(len(nouns))]
	return adj + noun + strconv.Itoa(rand.N(100))
}

// NewUserID returns a fresh process-local user identifier.
func NewUserID() string {
	return "user_" + uuid.NewString()
}
