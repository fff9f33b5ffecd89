// Package presence mirrors who is currently connected to a channel, and who
// is typing, into Redis. Liveness is TTL-based: a session refreshes its own
// presence record while connected, so an uncleanly dropped client simply
// stops refreshing and the store expires the record — the client never
// implements heartbeat detection itself. Typing records carry a short TTL
// and are additionally filtered by readers when older than StaleTyping.
package presence

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// EntryTTL is how long a presence record survives without a refresh.
	// The refresh interval is a third of this, so two refreshes can be
	// lost before the record expires.
	EntryTTL = 60 * time.Second

	// RefreshInterval is how often a live session refreshes its record.
	RefreshInterval = EntryTTL / 3

	// TypingTTL is the lifetime of a typing record in the store.
	TypingTTL = 5 * time.Second

	// StaleTyping is the reader-side staleness bound: typing records older
	// than this are ignored even if the store has not expired them yet.
	StaleTyping = 5 * time.Second
)

// Entry is one user's presence record in a channel.
type Entry struct {
	ID           string `redis:"id" json:"id"`
	Name         string `redis:"name" json:"name"`
	JoinedAt     int64  `redis:"joined_at" json:"joined_at"`
	LastActiveAt int64  `redis:"last_active" json:"last_active"`
}

// TypingEntry is one user's ephemeral typing record.
type TypingEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Timestamp int64  `json:"ts"` // store clock, unix millis
}

// Store manages presence and typing records in Redis.
type Store struct {
	rdb *redis.Client
}

// NewStore wraps an existing Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Announce writes the user's presence record and adds them to the channel
// roster. The record starts its TTL clock immediately; callers follow up
// with Refresh while the session lives.
func (s *Store) Announce(ctx context.Context, channel int, e Entry) error {
	key := entryKey(channel, e.ID)

	pipe := s.rdb.Pipeline()
	pipe.SAdd(ctx, rosterKey(channel), e.ID)
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":          e.ID,
		"name":        e.Name,
		"joined_at":   e.JoinedAt,
		"last_active": e.LastActiveAt,
	})
	pipe.Expire(ctx, key, EntryTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: announce %s: %w", e.ID, err)
	}
	return nil
}

// Refresh extends the presence record's TTL and bumps last_active.
func (s *Store) Refresh(ctx context.Context, channel int, userID string, now int64) error {
	key := entryKey(channel, userID)

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, "last_active", now)
	pipe.Expire(ctx, key, EntryTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: refresh %s: %w", userID, err)
	}
	return nil
}

// Rename updates the display name on a live presence record.
func (s *Store) Rename(ctx context.Context, channel int, userID, name string) error {
	if err := s.rdb.HSet(ctx, entryKey(channel, userID), "name", name).Err(); err != nil {
		return fmt.Errorf("presence: rename %s: %w", userID, err)
	}
	return nil
}

// Withdraw removes the user's presence record and roster membership. This is
// the clean-leave path; the unclean path is TTL expiry.
func (s *Store) Withdraw(ctx context.Context, channel int, userID string) error {
	pipe := s.rdb.Pipeline()
	pipe.SRem(ctx, rosterKey(channel), userID)
	pipe.Del(ctx, entryKey(channel, userID))
	pipe.Del(ctx, typingKey(channel, userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: withdraw %s: %w", userID, err)
	}
	return nil
}

// Roster returns the channel's live presence entries sorted by join time.
// Roster members whose record has expired are pruned from the set on the way
// through, so an abandoned channel converges to an empty roster.
func (s *Store) Roster(ctx context.Context, channel int) ([]Entry, error) {
	ids, err := s.rdb.SMembers(ctx, rosterKey(channel)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: roster channel %d: %w", channel, err)
	}

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		fields, err := s.rdb.HGetAll(ctx, entryKey(channel, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("presence: roster entry %s: %w", id, err)
		}
		if len(fields) == 0 {
			// Record expired: lazy prune of the roster set.
			s.rdb.SRem(ctx, rosterKey(channel), id)
			continue
		}
		entries = append(entries, parseEntry(fields))
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].JoinedAt != entries[j].JoinedAt {
			return entries[i].JoinedAt < entries[j].JoinedAt
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

// Count returns the number of live presence entries in a channel.
func (s *Store) Count(ctx context.Context, channel int) (int, error) {
	entries, err := s.Roster(ctx, channel)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// SetTyping writes the user's typing record with the short typing TTL.
func (s *Store) SetTyping(ctx context.Context, channel int, e TypingEntry) error {
	key := typingKey(channel, e.ID)

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, "id", e.ID, "name", e.Name, "ts", e.Timestamp)
	pipe.Expire(ctx, key, TypingTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: set typing %s: %w", e.ID, err)
	}
	return nil
}

// ClearTyping removes the user's typing record.
func (s *Store) ClearTyping(ctx context.Context, channel int, userID string) error {
	if err := s.rdb.Del(ctx, typingKey(channel, userID)).Err(); err != nil {
		return fmt.Errorf("presence: clear typing %s: %w", userID, err)
	}
	return nil
}

// Typing returns the channel's current typing records, walking the roster so
// no SCAN is needed. Staleness filtering against the reader's store clock is
// the caller's job (the reconciler applies StaleTyping).
func (s *Store) Typing(ctx context.Context, channel int) ([]TypingEntry, error) {
	ids, err := s.rdb.SMembers(ctx, rosterKey(channel)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: typing channel %d: %w", channel, err)
	}

	var entries []TypingEntry
	for _, id := range ids {
		fields, err := s.rdb.HGetAll(ctx, typingKey(channel, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("presence: typing entry %s: %w", id, err)
		}
		if len(fields) == 0 {
			continue
		}
		ts, _ := strconv.ParseInt(fields["ts"], 10, 64)
		entries = append(entries, TypingEntry{ID: fields["id"], Name: fields["name"], Timestamp: ts})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// PruneStale removes roster members whose record is expired or whose
// last_active is older than staleAfter. Expiry normally handles this; the
// sweep defends against records kept alive by a wedged refresher.
func (s *Store) PruneStale(ctx context.Context, channel int, now int64, staleAfter time.Duration) (int, error) {
	ids, err := s.rdb.SMembers(ctx, rosterKey(channel)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence: prune channel %d: %w", channel, err)
	}

	cutoff := now - staleAfter.Milliseconds()
	pruned := 0
	for _, id := range ids {
		fields, err := s.rdb.HGetAll(ctx, entryKey(channel, id)).Result()
		if err != nil {
			return pruned, fmt.Errorf("presence: prune entry %s: %w", id, err)
		}

		stale := len(fields) == 0
		if !stale {
			lastActive, _ := strconv.ParseInt(fields["last_active"], 10, 64)
			if lastActive == 0 {
				lastActive, _ = strconv.ParseInt(fields["joined_at"], 10, 64)
			}
			stale = lastActive < cutoff
		}
		if !stale {
			continue
		}

		pipe := s.rdb.Pipeline()
		pipe.SRem(ctx, rosterKey(channel), id)
		pipe.Del(ctx, entryKey(channel, id))
		pipe.Del(ctx, typingKey(channel, id))
		if _, err := pipe.Exec(ctx); err != nil {
			return pruned, fmt.Errorf("presence: prune remove %s: %w", id, err)
		}
		pruned++
	}
	return pruned, nil
}

// Channels lists every channel that currently has a roster.
func (s *Store) Channels(ctx context.Context) ([]int, error) {
	var channels []int
	iter := s.rdb.Scan(ctx, 0, "chan:*:roster", 200).Iterator()
	for iter.Next(ctx) {
		var ch int
		if _, err := fmt.Sscanf(iter.Val(), "chan:%d:roster", &ch); err == nil {
			channels = append(channels, ch)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("presence: scan channels: %w", err)
	}
	return channels, nil
}

func parseEntry(fields map[string]string) Entry {
	joined, _ := strconv.ParseInt(fields["joined_at"], 10, 64)
	lastActive, _ := strconv.ParseInt(fields["last_active"], 10, 64)
	return Entry{
		ID:           fields["id"],
		Name:         fields["name"],
		JoinedAt:     joined,
		LastActiveAt: lastActive,
	}
}

func rosterKey(ch int) string { return fmt.Sprintf("chan:%d:roster", ch) }

func entryKey(ch int, userID string) string {
	return fmt.Sprintf("chan:%d:online:%s", ch, userID)
}

func typingKey(ch int, userID string) string {
	return fmt.Sprintf("chan:%d:typing:%s", ch, userID)
}
