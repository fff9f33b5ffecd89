// Package view holds the client-side view model and the reconciler that
// reduces store change events into it. The model is pure data: no store
// handles, no terminal codes, no locking (the session controller serializes
// access), which keeps the reconciliation rules testable on their own.
//
// Reconciliation rules:
//   - added events older than the session's join timestamp are skipped — a
//     new participant never sees pre-join history;
//   - changed events for keys never rendered are ignored (this includes
//     edits of messages the join cutoff filtered out);
//   - changed events update the entry in place and never move it;
//   - a tombstoned entry is terminal: a later event cannot un-delete it.
package view

import (
	"fmt"
	"sort"
	"strings"

	"github.com/trulychat/trulychat/internal/presence"
	"github.com/trulychat/trulychat/internal/store"
)

// Outcome classifies what the reconciler did with an event. The values
// double as metrics labels.
type Outcome string

const (
	OutcomeRendered Outcome = "rendered"
	OutcomeUpdated  Outcome = "updated"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeStale    Outcome = "stale"
)

// LineKind discriminates the display lines the model emits.
type LineKind int

const (
	LineMessage LineKind = iota // a newly rendered message
	LineUpdate                  // an in-place update of an earlier message
	LineSystem                  // a local system notice
)

// Entry is one rendered message plus its own/other attribution.
type Entry struct {
	store.Message
	Own bool
}

// Line is one display line queued for the renderer.
type Line struct {
	Kind LineKind
	Msg  *Entry // set for LineMessage and LineUpdate
	Text string // set for LineSystem
}

// Model is the session's view state.
type Model struct {
	ownID  string
	joinTS int64

	order   []string
	entries map[string]*Entry

	roster []presence.Entry
	typing []presence.TypingEntry

	pending []Line
}

// NewModel returns an empty view model.
func NewModel() *Model {
	m := &Model{}
	m.Reset("", 0)
	return m
}

// Reset clears all state for a fresh session with the given identity and
// join timestamp (store clock millis).
func (m *Model) Reset(ownID string, joinTS int64) {
	m.ownID = ownID
	m.joinTS = joinTS
	m.order = nil
	m.entries = make(map[string]*Entry)
	m.roster = nil
	m.typing = nil
	m.pending = nil
}

// ApplyAdded renders a message_added event at the tail of the display list.
// Records older than the join timestamp, and duplicate keys, are skipped.
func (m *Model) ApplyAdded(msg store.Message) Outcome {
	if msg.Timestamp < m.joinTS {
		return OutcomeSkipped
	}
	if _, ok := m.entries[msg.Key]; ok {
		return OutcomeSkipped
	}

	e := &Entry{Message: msg, Own: msg.UserID == m.ownID}
	m.entries[msg.Key] = e
	m.order = append(m.order, msg.Key)
	m.pending = append(m.pending, Line{Kind: LineMessage, Msg: e})
	return OutcomeRendered
}

// ApplyChanged updates a previously rendered entry in place. Events for
// unknown keys are ignored. A tombstoned entry never comes back: an event
// claiming the record is live again only has its reaction counts honored.
func (m *Model) ApplyChanged(msg store.Message) Outcome {
	e, ok := m.entries[msg.Key]
	if !ok {
		return OutcomeStale
	}

	if e.Deleted {
		e.Reactions = msg.Reactions
		return OutcomeSkipped
	}

	e.Text = msg.Text
	e.Deleted = msg.Deleted
	e.EditedAt = msg.EditedAt
	e.Reactions = msg.Reactions
	if e.Deleted {
		e.Text = ""
	}

	m.pending = append(m.pending, Line{Kind: LineUpdate, Msg: e})
	return OutcomeUpdated
}

// AddSystem queues a local system notice (never written to the store).
func (m *Model) AddSystem(text string) {
	m.pending = append(m.pending, Line{Kind: LineSystem, Text: text})
}

// SetPresence replaces the mirrored roster.
func (m *Model) SetPresence(entries []presence.Entry) {
	m.roster = entries
}

// SetTyping replaces the typing list, dropping the session's own entry and
// any record older than the staleness bound relative to now (store clock
// millis). Stale records are ignored even if the store never removed them.
func (m *Model) SetTyping(entries []presence.TypingEntry, now int64) {
	staleBefore := now - presence.StaleTyping.Milliseconds()
	var live []presence.TypingEntry
	for _, e := range entries {
		if e.ID == m.ownID {
			continue
		}
		if e.Timestamp < staleBefore {
			continue
		}
		live = append(live, e)
	}
	m.typing = live
}

// Get returns the rendered entry for a message key.
func (m *Model) Get(key string) (Entry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Messages returns the rendered messages in display order.
func (m *Model) Messages() []Entry {
	out := make([]Entry, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, *m.entries[key])
	}
	return out
}

// PresenceCount returns the mirrored roster size.
func (m *Model) PresenceCount() int {
	return len(m.roster)
}

// PresenceLine renders the roster as "<n> online: a (you), b". The session's
// own entry is marked distinctly.
func (m *Model) PresenceLine() string {
	if len(m.roster) == 0 {
		return "0 online"
	}
	names := make([]string, 0, len(m.roster))
	for _, e := range m.roster {
		if e.ID == m.ownID {
			names = append(names, e.Name+" (you)")
		} else {
			names = append(names, e.Name)
		}
	}
	return fmt.Sprintf("%d online: %s", len(m.roster), strings.Join(names, ", "))
}

// TypingNames returns the names currently typing, sorted for stable output.
func (m *Model) TypingNames() []string {
	names := make([]string, 0, len(m.typing))
	for _, e := range m.typing {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

// TypingLine renders the typing indicator, or "" when nobody is typing.
func (m *Model) TypingLine() string {
	names := m.TypingNames()
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing…"
	default:
		return strings.Join(names, ", ") + " are typing…"
	}
}

// DrainLines returns and clears the queued display lines.
func (m *Model) DrainLines() []Line {
	lines := m.pending
	m.pending = nil
	return lines
}
