package view

import (
	"fmt"
	"strings"
	"time"

	"github.com/trulychat/trulychat/internal/prefs"
)

// Theme maps display roles to ANSI color sequences. The system theme leaves
// everything uncolored so the terminal's own palette applies.
type Theme struct {
	Own    string
	Other  string
	System string
	Dim    string
	Reset  string
}

// ThemeFor returns the palette for a prefs theme name.
func ThemeFor(name string) Theme {
	switch name {
	case prefs.ThemeDark:
		return Theme{Own: "\x1b[96m", Other: "\x1b[93m", System: "\x1b[90m", Dim: "\x1b[2m", Reset: "\x1b[0m"}
	case prefs.ThemeLight:
		return Theme{Own: "\x1b[34m", Other: "\x1b[31m", System: "\x1b[37m", Dim: "\x1b[2m", Reset: "\x1b[0m"}
	default:
		return Theme{}
	}
}

// Format renders one display line.
func (t Theme) Format(l Line) string {
	switch l.Kind {
	case LineSystem:
		return t.System + "* " + l.Text + t.Reset
	case LineUpdate:
		return t.Dim + "~ " + t.formatMessage(l.Msg) + t.Reset
	default:
		return t.formatMessage(l.Msg)
	}
}

func (t Theme) formatMessage(e *Entry) string {
	if e == nil {
		return ""
	}

	sender := e.UserName
	color := t.Other
	if e.Own {
		sender = "You"
		color = t.Own
	}

	var b strings.Builder
	stamp := time.UnixMilli(e.Timestamp).Format("15:04")

	if e.ReplyTo != nil {
		fmt.Fprintf(&b, "%s  ↳ %s: %q%s\n", t.Dim, e.ReplyTo.UserName, e.ReplyTo.Snippet, t.Reset)
	}

	body := e.Text
	if e.Deleted {
		body = t.Dim + "[message deleted]" + t.Reset
	}
	fmt.Fprintf(&b, "%s %s%s:%s %s", stamp, color, sender, t.Reset, body)

	if e.EditedAt > 0 && !e.Deleted {
		b.WriteString(t.Dim + " (edited)" + t.Reset)
	}
	if suffix := reactionSuffix(e); suffix != "" {
		b.WriteString(t.Dim + " " + suffix + t.Reset)
	}
	return b.String()
}

// reactionSuffix renders reaction counts like "[like×2 laugh×1]" in a fixed
// kind order.
func reactionSuffix(e *Entry) string {
	if len(e.Reactions) == 0 {
		return ""
	}
	parts := make([]string, 0, len(e.Reactions))
	for _, kind := range []string{"like", "love", "laugh"} {
		if n := e.Reactions[kind]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s×%d", kind, n))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "[" + strings.Join(parts, " ") + "]"
}
