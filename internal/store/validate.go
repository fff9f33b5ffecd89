package store

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxTextRunes is the message text cap; longer input is truncated
	// before it reaches the store.
	MaxTextRunes = 500

	// MaxSnippetRunes is the reply-preview cap.
	MaxSnippetRunes = 120
)

// ValidateText checks that message text is sendable: non-empty after
// trimming and valid UTF-8. Length is handled by truncation, not rejection.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message text is empty")
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}

// TruncateText caps message text at MaxTextRunes runes.
func TruncateText(text string) string {
	return truncateRunes(text, MaxTextRunes)
}

// TruncateSnippet caps a reply preview at MaxSnippetRunes runes.
func TruncateSnippet(text string) string {
	return truncateRunes(text, MaxSnippetRunes)
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
