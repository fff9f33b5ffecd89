// Package store persists channel messages in Redis, the realtime store that
// owns every durable fact in the system. The store — not the client — assigns
// message keys and timestamps: a Lua script combines an INCR-based sequence
// with the Redis server clock so keys are opaque but ordered and timestamps
// are monotone per channel regardless of client clocks. Deletion is a
// tombstone (deleted flag set, text cleared), never removal, so reaction and
// reply references stay resolvable; tombstone terminality is enforced by the
// edit script itself.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// MessageTTL bounds the lifetime of any message record; channels are
	// ephemeral and the sweeper trims well before this fires.
	MessageTTL = 24 * time.Hour

	// TypeUser and TypeSystem are the two message record types.
	TypeUser   = "user"
	TypeSystem = "system"
)

// Reaction kinds accepted by React.
const (
	ReactLike  = "like"
	ReactLove  = "love"
	ReactLaugh = "laugh"
)

var (
	// ErrNotFound is returned for a message key with no record.
	ErrNotFound = errors.New("store: message not found")

	// ErrTombstone is returned when an edit or reaction targets a deleted
	// message. Tombstones are terminal.
	ErrTombstone = errors.New("store: message is deleted")
)

// ReplyRef is the snippet a message carries when it replies to another.
type ReplyRef struct {
	Key      string `json:"key"`
	UserName string `json:"user_name"`
	Snippet  string `json:"snippet"`
}

// Message is a single channel message record.
type Message struct {
	Key       string           `json:"key"` // store-assigned, ordered
	UserID    string           `json:"user_id"`
	UserName  string           `json:"user_name"`
	UserKey   string           `json:"user_key"`
	Text      string           `json:"text"`
	Timestamp int64            `json:"ts"` // store clock, unix millis
	Type      string           `json:"type"`
	Deleted   bool             `json:"deleted"`
	EditedAt  int64            `json:"edited_at,omitempty"`
	ReplyTo   *ReplyRef        `json:"reply_to,omitempty"`
	Reactions map[string]int64 `json:"reactions,omitempty"`
}

// ValidKind reports whether kind is an accepted reaction kind.
func ValidKind(kind string) bool {
	switch kind {
	case ReactLike, ReactLove, ReactLaugh:
		return true
	}
	return false
}

// appendLua assigns the next ordered key and a monotone store timestamp, then
// writes the record to the channel log and, when the sender has a name key,
// to the per-name mirror index.
const appendLua = `
local seq = redis.call('INCR', KEYS[1])
local t = redis.call('TIME')
local now = t[1] * 1000 + math.floor(t[2] / 1000)
local last = tonumber(redis.call('GET', KEYS[2]) or '0')
if now < last then now = last end
redis.call('SET', KEYS[2], now)

local key = string.format('%012d', seq)
local msgkey = KEYS[3] .. key
redis.call('HSET', msgkey,
    'user_id', ARGV[1], 'user_name', ARGV[2], 'user_key', ARGV[3],
    'text', ARGV[4], 'type', ARGV[5], 'ts', now, 'deleted', '0',
    'reply_key', ARGV[6], 'reply_name', ARGV[7], 'reply_snippet', ARGV[8])
redis.call('EXPIRE', msgkey, tonumber(ARGV[9]))
redis.call('ZADD', KEYS[4], now, key)
if ARGV[3] ~= '' then
    redis.call('ZADD', KEYS[5] .. ARGV[3], now, key)
    redis.call('EXPIRE', KEYS[5] .. ARGV[3], tonumber(ARGV[9]))
end
return {key, tostring(now)}
`

// editLua rewrites the text and stamps edited_at unless the record is a
// tombstone. Returns -1 if the record is gone, 0 if tombstoned, otherwise
// the new edited_at.
const editLua = `
local msgkey = KEYS[1]
if redis.call('EXISTS', msgkey) == 0 then return -1 end
if redis.call('HGET', msgkey, 'deleted') == '1' then return 0 end
local t = redis.call('TIME')
local now = t[1] * 1000 + math.floor(t[2] / 1000)
redis.call('HSET', msgkey, 'text', ARGV[1], 'edited_at', now)
return now
`

// reactLua increments a reaction counter unless the record is gone (-1) or
// tombstoned (-2). HINCRBY makes concurrent increments conflict-free.
const reactLua = `
local msgkey = KEYS[1]
if redis.call('EXISTS', msgkey) == 0 then return -1 end
if redis.call('HGET', msgkey, 'deleted') == '1' then return -2 end
return redis.call('HINCRBY', msgkey, 'react:' .. ARGV[1], 1)
`

// deleteLua tombstones a record: the deleted flag is set and the text
// cleared, but the record itself stays.
const deleteLua = `
local msgkey = KEYS[1]
if redis.call('EXISTS', msgkey) == 0 then return -1 end
redis.call('HSET', msgkey, 'deleted', '1', 'text', '')
return 1
`

// Store manages channel message records in Redis.
type Store struct {
	rdb          *redis.Client
	appendScript *redis.Script
	editScript   *redis.Script
	reactScript  *redis.Script
	deleteScript *redis.Script
}

// NewStore connects to Redis at addr and verifies the connection.
func NewStore(addr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: redis connection failed: %w", err)
	}
	return NewStoreWithClient(client), nil
}

// NewStoreWithClient wraps an existing Redis client.
func NewStoreWithClient(rdb *redis.Client) *Store {
	return &Store{
		rdb:          rdb,
		appendScript: redis.NewScript(appendLua),
		editScript:   redis.NewScript(editLua),
		reactScript:  redis.NewScript(reactLua),
		deleteScript: redis.NewScript(deleteLua),
	}
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.rdb
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// ServerTime returns the store's clock as unix milliseconds. Sessions resolve
// it once at join and keep an offset so every timestamp comparison is
// store-relative, not local-clock-relative.
func (s *Store) ServerTime(ctx context.Context) (int64, error) {
	t, err := s.rdb.Time(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("store: server time: %w", err)
	}
	return t.UnixMilli(), nil
}

// Append writes a new message record to the channel. The store assigns the
// key and timestamp; the returned copy carries both.
func (s *Store) Append(ctx context.Context, channel int, m Message) (Message, error) {
	replyKey, replyName, replySnippet := "", "", ""
	if m.ReplyTo != nil {
		replyKey, replyName, replySnippet = m.ReplyTo.Key, m.ReplyTo.UserName, m.ReplyTo.Snippet
	}
	msgType := m.Type
	if msgType == "" {
		msgType = TypeUser
	}

	keys := []string{seqKey(channel), lastTSKey(channel), msgPrefix(channel), logKey(channel), mirrorPrefix(channel)}
	args := []interface{}{
		m.UserID, m.UserName, m.UserKey, m.Text, msgType,
		replyKey, replyName, replySnippet,
		int(MessageTTL.Seconds()),
	}

	res, err := s.appendScript.Run(ctx, s.rdb, keys, args...).Slice()
	if err != nil {
		return Message{}, fmt.Errorf("store: append: %w", err)
	}
	if len(res) != 2 {
		return Message{}, fmt.Errorf("store: append: unexpected script reply %v", res)
	}

	key, _ := res[0].(string)
	tsStr, _ := res[1].(string)
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("store: append: bad timestamp %q: %w", tsStr, err)
	}

	m.Key = key
	m.Timestamp = ts
	m.Type = msgType
	m.Deleted = false
	return m, nil
}

// Get retrieves a message record. Returns ErrNotFound for unknown keys.
func (s *Store) Get(ctx context.Context, channel int, key string) (Message, error) {
	fields, err := s.rdb.HGetAll(ctx, msgPrefix(channel)+key).Result()
	if err != nil {
		return Message{}, fmt.Errorf("store: get %s: %w", key, err)
	}
	if len(fields) == 0 {
		return Message{}, ErrNotFound
	}
	return parseMessage(key, fields), nil
}

// Edit rewrites the message text and stamps edited_at. Editing a tombstone
// is rejected with ErrTombstone; tombstones never come back.
func (s *Store) Edit(ctx context.Context, channel int, key, text string) (int64, error) {
	res, err := s.editScript.Run(ctx, s.rdb, []string{msgPrefix(channel) + key}, text).Int64()
	if err != nil {
		return 0, fmt.Errorf("store: edit %s: %w", key, err)
	}
	switch res {
	case -1:
		return 0, ErrNotFound
	case 0:
		return 0, ErrTombstone
	}
	return res, nil
}

// Delete tombstones the message: deleted=true, text cleared, record kept.
func (s *Store) Delete(ctx context.Context, channel int, key string) error {
	res, err := s.deleteScript.Run(ctx, s.rdb, []string{msgPrefix(channel) + key}).Int64()
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	if res == -1 {
		return ErrNotFound
	}
	return nil
}

// React atomically increments the counter for one reaction kind and returns
// the new count. Reacting to a tombstone is rejected with ErrTombstone.
func (s *Store) React(ctx context.Context, channel int, key, kind string) (int64, error) {
	if !ValidKind(kind) {
		return 0, fmt.Errorf("store: unknown reaction kind %q", kind)
	}
	res, err := s.reactScript.Run(ctx, s.rdb, []string{msgPrefix(channel) + key}, kind).Int64()
	if err != nil {
		return 0, fmt.Errorf("store: react %s: %w", key, err)
	}
	switch res {
	case -1:
		return 0, ErrNotFound
	case -2:
		return 0, ErrTombstone
	}
	return res, nil
}

// MessageCount returns the number of messages in the channel log.
func (s *Store) MessageCount(ctx context.Context, channel int) (int64, error) {
	n, err := s.rdb.ZCard(ctx, logKey(channel)).Result()
	if err != nil {
		return 0, fmt.Errorf("store: count channel %d: %w", channel, err)
	}
	return n, nil
}

// MessagesByUserKey returns the messages a name-derived key has written to a
// channel, oldest first. The mirror index can hold keys whose record has
// since expired or been trimmed; those are skipped.
func (s *Store) MessagesByUserKey(ctx context.Context, channel int, userKey string) ([]Message, error) {
	if userKey == "" {
		return nil, nil
	}
	keys, err := s.rdb.ZRange(ctx, mirrorPrefix(channel)+userKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: messages by user key %q: %w", userKey, err)
	}

	var msgs []Message
	for _, key := range keys {
		m, err := s.Get(ctx, channel, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// TrimLog removes the oldest messages so at most keep remain. Removed
// records are deleted outright (not tombstoned): trimming is store
// maintenance, invisible to live sessions which never render history anyway.
func (s *Store) TrimLog(ctx context.Context, channel, keep int) (int, error) {
	total, err := s.rdb.ZCard(ctx, logKey(channel)).Result()
	if err != nil {
		return 0, fmt.Errorf("store: trim channel %d: %w", channel, err)
	}
	excess := int(total) - keep
	if excess <= 0 {
		return 0, nil
	}

	victims, err := s.rdb.ZRange(ctx, logKey(channel), 0, int64(excess-1)).Result()
	if err != nil {
		return 0, fmt.Errorf("store: trim channel %d: %w", channel, err)
	}

	pipe := s.rdb.Pipeline()
	for _, key := range victims {
		pipe.Del(ctx, msgPrefix(channel)+key)
	}
	pipe.ZRemRangeByRank(ctx, logKey(channel), 0, int64(excess-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("store: trim channel %d: %w", channel, err)
	}
	return excess, nil
}

// ClearMessages deletes every message record and the log for a channel.
// Used by the sweeper once a channel's roster has emptied.
func (s *Store) ClearMessages(ctx context.Context, channel int) (int, error) {
	keys, err := s.rdb.ZRange(ctx, logKey(channel), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("store: clear channel %d: %w", channel, err)
	}

	pipe := s.rdb.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, msgPrefix(channel)+key)
	}
	pipe.Del(ctx, logKey(channel))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("store: clear channel %d: %w", channel, err)
	}
	return len(keys), nil
}

// Channels lists every channel that currently has a message log.
func (s *Store) Channels(ctx context.Context) ([]int, error) {
	var channels []int
	iter := s.rdb.Scan(ctx, 0, "chan:*:log", 200).Iterator()
	for iter.Next(ctx) {
		if ch, ok := channelFromKey(iter.Val()); ok {
			channels = append(channels, ch)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("store: scan channels: %w", err)
	}
	return channels, nil
}

// parseMessage decodes a Redis hash into a Message.
func parseMessage(key string, fields map[string]string) Message {
	ts, _ := strconv.ParseInt(fields["ts"], 10, 64)
	editedAt, _ := strconv.ParseInt(fields["edited_at"], 10, 64)

	m := Message{
		Key:       key,
		UserID:    fields["user_id"],
		UserName:  fields["user_name"],
		UserKey:   fields["user_key"],
		Text:      fields["text"],
		Timestamp: ts,
		Type:      fields["type"],
		Deleted:   fields["deleted"] == "1",
		EditedAt:  editedAt,
	}

	if fields["reply_key"] != "" {
		m.ReplyTo = &ReplyRef{
			Key:      fields["reply_key"],
			UserName: fields["reply_name"],
			Snippet:  fields["reply_snippet"],
		}
	}

	for field, val := range fields {
		if !strings.HasPrefix(field, "react:") {
			continue
		}
		count, err := strconv.ParseInt(val, 10, 64)
		if err != nil || count == 0 {
			continue
		}
		if m.Reactions == nil {
			m.Reactions = make(map[string]int64)
		}
		m.Reactions[strings.TrimPrefix(field, "react:")] = count
	}
	return m
}

func seqKey(ch int) string       { return fmt.Sprintf("chan:%d:seq", ch) }
func lastTSKey(ch int) string    { return fmt.Sprintf("chan:%d:lastts", ch) }
func msgPrefix(ch int) string    { return fmt.Sprintf("chan:%d:msg:", ch) }
func logKey(ch int) string       { return fmt.Sprintf("chan:%d:log", ch) }
func mirrorPrefix(ch int) string { return fmt.Sprintf("chan:%d:byname:", ch) }

// channelFromKey extracts the channel id from a "chan:<id>:log" key.
func channelFromKey(key string) (int, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != "chan" || parts[2] != "log" {
		return 0, false
	}
	ch, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return ch, true
}
