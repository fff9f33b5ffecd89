// Package session owns the lifecycle of being in a channel: join, listener
// setup and teardown, leave, and reconnection on identity change. There is
// exactly one live Session per Controller; every per-channel subscription is
// torn down before a new session's subscriptions attach, and an epoch
// counter guards against a cancelled session's in-flight callback mutating
// its successor's view.
//
// All store writes are fire-and-forget: the controller never blocks a UI
// transition on acknowledgment, never retries, and surfaces failures only in
// the log. Presence and messages are ephemeral and self-heal through
// re-subscription.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trulychat/trulychat/internal/bus"
	"github.com/trulychat/trulychat/internal/event"
	"github.com/trulychat/trulychat/internal/limiter"
	"github.com/trulychat/trulychat/internal/link"
	"github.com/trulychat/trulychat/internal/metrics"
	"github.com/trulychat/trulychat/internal/prefs"
	"github.com/trulychat/trulychat/internal/presence"
	"github.com/trulychat/trulychat/internal/store"
	"github.com/trulychat/trulychat/internal/username"
	"github.com/trulychat/trulychat/internal/view"
)

const (
	// TypingDebounce is the minimum gap between two typing-record writes.
	TypingDebounce = 800 * time.Millisecond

	// TypingIdle is how long after the last keystroke the typing signal is
	// withdrawn.
	TypingIdle = 1500 * time.Millisecond
)

// Subscription keys, one per listener the session owns.
const (
	subMessages = "messages"
	subPresence = "presence"
	subTyping   = "typing"
)

// Session is the state of one joined channel.
type Session struct {
	Channel  int
	UserID   string
	UserName string
	UserKey  string
	JoinTS   int64 // store clock, unix millis
}

// Config holds controller settings.
type Config struct {
	MaxChannel int    // upper channel bound; 0 means link.DefaultMaxChannel
	BaseURL    string // base for share links
}

// Controller drives the channel session lifecycle.
type Controller struct {
	store *store.Store
	pres  *presence.Store
	bus   bus.EventBus
	lim   *limiter.Limiter
	prefs *prefs.Store

	maxChannel int
	baseURL    string

	mu           sync.Mutex
	sess         *Session
	model        *view.Model
	epoch        uint64
	clockOffset  int64 // store millis minus local millis
	pendingReply *store.ReplyRef

	lastTypingSent time.Time
	typingActive   bool
	idleTimer      *time.Timer
	refreshDone    chan struct{}

	onUpdate func()
}

// NewController creates a Controller over the given store halves.
func NewController(st *store.Store, pres *presence.Store, eb bus.EventBus, cfg Config) *Controller {
	maxChannel := cfg.MaxChannel
	if maxChannel <= 0 {
		maxChannel = link.DefaultMaxChannel
	}
	return &Controller{
		store:      st,
		pres:       pres,
		bus:        eb,
		maxChannel: maxChannel,
		baseURL:    cfg.BaseURL,
		model:      view.NewModel(),
	}
}

// SetLimiter enables send rate limiting.
func (c *Controller) SetLimiter(l *limiter.Limiter) { c.lim = l }

// SetPrefs enables persisting the display name to local device storage.
func (c *Controller) SetPrefs(p *prefs.Store) { c.prefs = p }

// OnUpdate registers the repaint hook, called after every view change. It
// runs outside the controller lock, so it may call back into the controller.
func (c *Controller) OnUpdate(fn func()) { c.onUpdate = fn }

// Current returns a copy of the live session, if any.
func (c *Controller) Current() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return Session{}, false
	}
	return *c.sess, true
}

// Now returns the store clock as unix millis, using the offset resolved at
// join. Before any join it is the local clock.
func (c *Controller) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *Controller) nowLocked() int64 {
	return time.Now().UnixMilli() + c.clockOffset
}

// Join validates the channel and name, resolves the store clock, attaches
// the three channel listeners, and only then announces the user's presence,
// so the session deterministically observes its own join in the presence
// stream. Any prior session is left first.
func (c *Controller) Join(ctx context.Context, channel int, rawName string) error {
	name := username.Sanitize(rawName)
	if name == "" {
		return &link.ValidationError{Reason: "please enter your name"}
	}
	if err := link.ValidateChannel(channel, c.maxChannel); err != nil {
		return err
	}

	if err := c.Leave(ctx, false); err != nil {
		return err
	}

	// One-time clock-offset handshake: every timestamp comparison this
	// session makes is store-relative.
	serverMs, err := c.store.ServerTime(ctx)
	if err != nil {
		return fmt.Errorf("session: clock handshake: %w", err)
	}

	sess := &Session{
		Channel:  channel,
		UserID:   username.NewUserID(),
		UserName: name,
		UserKey:  username.Key(name),
		JoinTS:   serverMs,
	}

	c.mu.Lock()
	c.epoch++
	ep := c.epoch
	c.clockOffset = serverMs - time.Now().UnixMilli()
	c.sess = sess
	c.model.Reset(sess.UserID, sess.JoinTS)
	c.pendingReply = nil
	c.mu.Unlock()

	// Listeners attach before the presence record is written.
	subs := []struct {
		key     string
		subject string
		h       bus.Handler
	}{
		{subMessages, bus.MessagesSubject(channel), c.messageHandler(ep)},
		{subPresence, bus.PresenceSubject(channel), c.presenceHandler(ep)},
		{subTyping, bus.TypingSubject(channel), c.typingHandler(ep)},
	}
	for _, s := range subs {
		if err := c.bus.Subscribe(s.key, s.subject, s.h); err != nil {
			c.detach()
			c.mu.Lock()
			c.sess = nil
			c.mu.Unlock()
			return fmt.Errorf("session: subscribe %s: %w", s.key, err)
		}
	}

	entry := presence.Entry{ID: sess.UserID, Name: name, JoinedAt: serverMs, LastActiveAt: serverMs}
	if err := c.pres.Announce(ctx, channel, entry); err != nil {
		log.Warn().Err(err).Int("channel", channel).Msg("[session] presence announce failed")
	}
	c.publish(bus.PresenceSubject(channel), event.TypePresenceChanged, event.PresenceChanged{
		Channel: channel, UserID: sess.UserID, Action: event.PresenceJoin,
	})

	c.startRefresher(channel, sess.UserID)

	c.mu.Lock()
	c.model.AddSystem(fmt.Sprintf("You joined Channel %d as %s", channel, name))
	c.mu.Unlock()

	c.saveNamePref(name)
	log.Info().Int("channel", channel).Str("user", sess.UserID).Msg("[session] joined")
	c.notify()
	return nil
}

// Leave ends the live session: a leave system message is written for the
// remaining participants, then every subscription and pending side effect is
// torn down and the session reset. Calling Leave with no live session is a
// no-op. The redirect flag is interpreted by the caller's surface (the CLI
// returns to its landing prompt); the controller's teardown is identical.
func (c *Controller) Leave(ctx context.Context, redirect bool) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil
	}

	// Store-visible farewell, fire-and-forget.
	m, err := c.store.Append(ctx, sess.Channel, store.Message{
		UserID:   sess.UserID,
		UserName: sess.UserName,
		UserKey:  sess.UserKey,
		Text:     fmt.Sprintf("%s left the channel", sess.UserName),
		Type:     store.TypeSystem,
	})
	if err != nil {
		log.Warn().Err(err).Msg("[session] leave message write failed")
	} else {
		c.publish(bus.MessagesSubject(sess.Channel), event.TypeMessageAdded, event.MessageAdded{
			Channel: sess.Channel, Message: m,
		})
	}

	// Detach listeners before anything else so no late callback can touch
	// the next session's view.
	c.detach()
	c.stopRefresher()
	c.stopTypingTimers()

	if err := c.pres.Withdraw(ctx, sess.Channel, sess.UserID); err != nil {
		log.Warn().Err(err).Msg("[session] presence withdraw failed")
	}
	c.publish(bus.PresenceSubject(sess.Channel), event.TypePresenceChanged, event.PresenceChanged{
		Channel: sess.Channel, UserID: sess.UserID, Action: event.PresenceLeave,
	})

	c.mu.Lock()
	c.epoch++
	c.sess = nil
	c.pendingReply = nil
	c.typingActive = false
	c.model.Reset("", 0)
	c.model.AddSystem(fmt.Sprintf("You left Channel %d", sess.Channel))
	c.mu.Unlock()

	metrics.PresenceUsers.Set(0)
	log.Info().Int("channel", sess.Channel).Bool("redirect", redirect).Msg("[session] left")
	c.notify()
	return nil
}

// ChangeChannel leaves the current channel and joins a random other one with
// the same display name.
func (c *Controller) ChangeChannel(ctx context.Context) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return &link.ValidationError{Reason: "join a channel first"}
	}

	next := rand.N(c.maxChannel) + 1
	if c.maxChannel > 1 && next == sess.Channel {
		next = next%c.maxChannel + 1
	}

	if err := c.Leave(ctx, false); err != nil {
		return err
	}
	return c.Join(ctx, next, sess.UserName)
}

// ChangeName re-sanitizes and applies a new display name: session state, the
// local name preference, and the live presence record are all updated. An
// unchanged name produces a distinct notice and no writes.
func (c *Controller) ChangeName(ctx context.Context, rawName string) error {
	name := username.Sanitize(rawName)
	if name == "" {
		return &link.ValidationError{Reason: "please enter a name"}
	}

	c.mu.Lock()
	sess := c.sess
	if sess == nil {
		c.mu.Unlock()
		return &link.ValidationError{Reason: "join a channel first"}
	}
	if name == sess.UserName {
		c.model.AddSystem("Name unchanged.")
		c.mu.Unlock()
		c.notify()
		return nil
	}
	sess.UserName = name
	sess.UserKey = username.Key(name)
	channel, userID := sess.Channel, sess.UserID
	c.model.AddSystem(fmt.Sprintf("You are now known as %s", name))
	c.mu.Unlock()

	c.saveNamePref(name)
	if err := c.pres.Rename(ctx, channel, userID, name); err != nil {
		log.Warn().Err(err).Msg("[session] presence rename failed")
	}
	c.publish(bus.PresenceSubject(channel), event.TypePresenceChanged, event.PresenceChanged{
		Channel: channel, UserID: userID, Action: event.PresenceRename,
	})
	c.notify()
	return nil
}

// Send validates and writes a message. Text is truncated to the store cap;
// any pending reply is attached and cleared; the typing signal stops. The
// rendered message arrives through the session's own subscription, like
// everyone else's.
func (c *Controller) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	sess := c.sess
	reply := c.pendingReply
	c.mu.Unlock()
	if sess == nil {
		return &link.ValidationError{Reason: "join a channel first"}
	}

	if err := store.ValidateText(text); err != nil {
		return &link.ValidationError{Reason: err.Error()}
	}
	text = store.TruncateText(text)

	if c.lim != nil {
		if ok, _ := c.lim.Allow(ctx, sess.UserID, limiter.RuleSend); !ok {
			c.mu.Lock()
			c.model.AddSystem("You're sending messages too quickly. Give it a moment.")
			c.mu.Unlock()
			c.notify()
			return nil
		}
	}

	start := time.Now()
	m, err := c.store.Append(ctx, sess.Channel, store.Message{
		UserID:   sess.UserID,
		UserName: sess.UserName,
		UserKey:  sess.UserKey,
		Text:     text,
		Type:     store.TypeUser,
		ReplyTo:  reply,
	})
	if err != nil {
		// Fire-and-forget: the visible symptom is the message not
		// appearing for anyone.
		log.Warn().Err(err).Int("channel", sess.Channel).Msg("[session] send failed")
		return nil
	}
	metrics.SendLatency.Observe(time.Since(start).Seconds())
	metrics.MessagesSent.Inc()

	c.publish(bus.MessagesSubject(sess.Channel), event.TypeMessageAdded, event.MessageAdded{
		Channel: sess.Channel, Message: m,
	})

	c.mu.Lock()
	c.pendingReply = nil
	c.mu.Unlock()

	c.StopTyping(ctx)
	return nil
}

// SetReply marks a rendered message as the reply target for the next Send.
func (c *Controller) SetReply(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return &link.ValidationError{Reason: "join a channel first"}
	}
	e, ok := c.model.Get(key)
	if !ok {
		return &link.ValidationError{Reason: "message not found"}
	}
	c.pendingReply = &store.ReplyRef{
		Key:      e.Key,
		UserName: e.UserName,
		Snippet:  store.TruncateSnippet(e.Text),
	}
	return nil
}

// ClearReply drops the pending reply target.
func (c *Controller) ClearReply() {
	c.mu.Lock()
	c.pendingReply = nil
	c.mu.Unlock()
}

// React increments a reaction counter on a message. Reacting to a tombstone
// or an already-gone record is a silent no-op.
func (c *Controller) React(ctx context.Context, key, kind string) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return &link.ValidationError{Reason: "join a channel first"}
	}
	if !store.ValidKind(kind) {
		return &link.ValidationError{Reason: fmt.Sprintf("unknown reaction %q (try like, love, laugh)", kind)}
	}

	if _, err := c.store.React(ctx, sess.Channel, key, kind); err != nil {
		if errors.Is(err, store.ErrTombstone) || errors.Is(err, store.ErrNotFound) {
			return nil
		}
		log.Warn().Err(err).Str("key", key).Msg("[session] react failed")
		return nil
	}

	c.broadcastChanged(ctx, sess.Channel, key)
	return nil
}

// Edit rewrites one of the user's own messages. The author check compares
// the rendered record's userId: a UI gate, not a security boundary, since
// the store enforces no authorization.
func (c *Controller) Edit(ctx context.Context, key, newText string) error {
	c.mu.Lock()
	sess := c.sess
	var e view.Entry
	var ok bool
	if sess != nil {
		e, ok = c.model.Get(key)
	}
	c.mu.Unlock()
	if sess == nil {
		return &link.ValidationError{Reason: "join a channel first"}
	}
	if !ok {
		return &link.ValidationError{Reason: "message not found"}
	}
	if e.UserID != sess.UserID {
		return &link.ValidationError{Reason: "you can only edit your own messages"}
	}
	if err := store.ValidateText(newText); err != nil {
		return &link.ValidationError{Reason: err.Error()}
	}

	if _, err := c.store.Edit(ctx, sess.Channel, key, store.TruncateText(newText)); err != nil {
		if !errors.Is(err, store.ErrTombstone) && !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Str("key", key).Msg("[session] edit failed")
		}
		return nil
	}

	c.broadcastChanged(ctx, sess.Channel, key)
	return nil
}

// Delete tombstones one of the user's own messages: the text is cleared and
// the deleted flag set, but the record is kept so reaction and reply
// references stay resolvable. Permanent by design.
func (c *Controller) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	sess := c.sess
	var e view.Entry
	var ok bool
	if sess != nil {
		e, ok = c.model.Get(key)
	}
	c.mu.Unlock()
	if sess == nil {
		return &link.ValidationError{Reason: "join a channel first"}
	}
	if !ok {
		return &link.ValidationError{Reason: "message not found"}
	}
	if e.UserID != sess.UserID {
		return &link.ValidationError{Reason: "you can only delete your own messages"}
	}

	if err := c.store.Delete(ctx, sess.Channel, key); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Str("key", key).Msg("[session] delete failed")
		}
		return nil
	}

	c.broadcastChanged(ctx, sess.Channel, key)
	return nil
}

// TypingHint reports a keystroke with non-empty input. The typing record is
// rewritten at most once per TypingDebounce; the idle timer that withdraws
// the signal resets on every hint.
func (c *Controller) TypingHint(ctx context.Context) {
	c.mu.Lock()
	sess := c.sess
	if sess == nil {
		c.mu.Unlock()
		return
	}

	now := time.Now()
	debounced := now.Sub(c.lastTypingSent) < TypingDebounce
	c.typingActive = true
	c.resetIdleTimerLocked()
	if debounced {
		c.mu.Unlock()
		return
	}
	c.lastTypingSent = now
	channel, userID, name := sess.Channel, sess.UserID, sess.UserName
	storeNow := c.nowLocked()
	c.mu.Unlock()

	entry := presence.TypingEntry{ID: userID, Name: name, Timestamp: storeNow}
	if err := c.pres.SetTyping(ctx, channel, entry); err != nil {
		log.Warn().Err(err).Msg("[session] set typing failed")
	}
	c.publish(bus.TypingSubject(channel), event.TypeTypingChanged, event.TypingChanged{
		Channel: channel, Typing: true, Entry: entry,
	})
}

// StopTyping withdraws the typing signal (idle timeout, input blur, or
// send). Harmless when no signal is live.
func (c *Controller) StopTyping(ctx context.Context) {
	c.mu.Lock()
	sess := c.sess
	if sess == nil || !c.typingActive {
		c.mu.Unlock()
		return
	}
	c.typingActive = false
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	channel, userID, name := sess.Channel, sess.UserID, sess.UserName
	c.mu.Unlock()

	if err := c.pres.ClearTyping(ctx, channel, userID); err != nil {
		log.Warn().Err(err).Msg("[session] clear typing failed")
	}
	c.publish(bus.TypingSubject(channel), event.TypeTypingChanged, event.TypingChanged{
		Channel: channel, Typing: false,
		Entry: presence.TypingEntry{ID: userID, Name: name},
	})
}

// ShareLink returns the shareable link for the current channel.
func (c *Controller) ShareLink() (string, error) {
	c.mu.Lock()
	sess := c.sess
	base := c.baseURL
	c.mu.Unlock()
	if sess == nil {
		return "", &link.ValidationError{Reason: "join a channel first"}
	}
	return link.Build(base, sess.Channel, sess.UserName)
}

// DrainLines returns the queued display lines.
func (c *Controller) DrainLines() []view.Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.DrainLines()
}

// PresenceLine returns the rendered roster line.
func (c *Controller) PresenceLine() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.PresenceLine()
}

// TypingLine returns the rendered typing indicator, or "".
func (c *Controller) TypingLine() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.TypingLine()
}

// Messages returns the rendered messages in display order.
func (c *Controller) Messages() []view.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.Messages()
}

// MyMessages returns the caller's prior messages in this channel, located
// through the name-derived mirror index rather than the rendered view, so it
// also finds messages sent before the current join under the same name.
func (c *Controller) MyMessages(ctx context.Context) ([]store.Message, error) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil, &link.ValidationError{Reason: "join a channel first"}
	}
	return c.store.MessagesByUserKey(ctx, sess.Channel, sess.UserKey)
}

// ---------------------------------------------------------------------------
// Event handlers
// ---------------------------------------------------------------------------

func (c *Controller) messageHandler(ep uint64) bus.Handler {
	return func(data []byte) {
		_, ev, err := event.Parse(data)
		if err != nil {
			log.Warn().Err(err).Msg("[session] bad message event")
			return
		}

		c.mu.Lock()
		if c.epoch != ep || c.sess == nil {
			c.mu.Unlock()
			metrics.EventsReconciled.WithLabelValues(string(view.OutcomeStale)).Inc()
			return
		}
		channel := c.sess.Channel

		var outcome view.Outcome
		switch ev := ev.(type) {
		case event.MessageAdded:
			if ev.Channel != channel {
				c.mu.Unlock()
				return
			}
			outcome = c.model.ApplyAdded(ev.Message)
		case event.MessageChanged:
			if ev.Channel != channel {
				c.mu.Unlock()
				return
			}
			outcome = c.model.ApplyChanged(ev.Message)
		default:
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		metrics.EventsReconciled.WithLabelValues(string(outcome)).Inc()
		c.notify()
	}
}

func (c *Controller) presenceHandler(ep uint64) bus.Handler {
	return func(data []byte) {
		_, ev, err := event.Parse(data)
		if err != nil {
			log.Warn().Err(err).Msg("[session] bad presence event")
			return
		}
		pc, ok := ev.(event.PresenceChanged)
		if !ok {
			return
		}

		c.mu.Lock()
		if c.epoch != ep || c.sess == nil || pc.Channel != c.sess.Channel {
			c.mu.Unlock()
			return
		}
		channel := c.sess.Channel
		c.mu.Unlock()

		// The roster is re-read as a snapshot rather than patched: the
		// store is the source of truth for who is present.
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		roster, err := c.pres.Roster(ctx, channel)
		cancel()
		if err != nil {
			log.Warn().Err(err).Int("channel", channel).Msg("[session] roster read failed")
			return
		}

		c.mu.Lock()
		if c.epoch != ep || c.sess == nil {
			c.mu.Unlock()
			return
		}
		c.model.SetPresence(roster)
		c.mu.Unlock()

		metrics.PresenceUsers.Set(float64(len(roster)))
		c.notify()
	}
}

func (c *Controller) typingHandler(ep uint64) bus.Handler {
	return func(data []byte) {
		_, ev, err := event.Parse(data)
		if err != nil {
			log.Warn().Err(err).Msg("[session] bad typing event")
			return
		}
		tc, ok := ev.(event.TypingChanged)
		if !ok {
			return
		}

		c.mu.Lock()
		if c.epoch != ep || c.sess == nil || tc.Channel != c.sess.Channel {
			c.mu.Unlock()
			return
		}
		channel := c.sess.Channel
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		entries, err := c.pres.Typing(ctx, channel)
		cancel()
		if err != nil {
			log.Warn().Err(err).Int("channel", channel).Msg("[session] typing read failed")
			return
		}

		c.mu.Lock()
		if c.epoch != ep || c.sess == nil {
			c.mu.Unlock()
			return
		}
		c.model.SetTyping(entries, c.nowLocked())
		c.mu.Unlock()

		c.notify()
	}
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

// broadcastChanged re-reads the record and publishes a message_changed event
// carrying the full updated state.
func (c *Controller) broadcastChanged(ctx context.Context, channel int, key string) {
	m, err := c.store.Get(ctx, channel, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("[session] re-read for broadcast failed")
		return
	}
	c.publish(bus.MessagesSubject(channel), event.TypeMessageChanged, event.MessageChanged{
		Channel: channel, Message: m,
	})
}

// publish encodes and sends an event, logging instead of failing: fan-out
// loss is self-healing and never blocks the UI.
func (c *Controller) publish(subject, eventType string, payload interface{}) {
	data, err := event.Encode(eventType, payload)
	if err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("[session] encode failed")
		return
	}
	if err := c.bus.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("[session] publish failed")
	}
}

// detach tears down the three channel subscriptions synchronously.
func (c *Controller) detach() {
	for _, key := range []string{subMessages, subPresence, subTyping} {
		if err := c.bus.Unsubscribe(key); err != nil {
			log.Warn().Err(err).Str("sub", key).Msg("[session] unsubscribe failed")
		}
	}
}

// startRefresher keeps the session's presence record alive. The store's TTL
// expiry is the remove-on-disconnect mechanism: if this process dies, the
// refresher dies with it and the record expires on its own.
func (c *Controller) startRefresher(channel int, userID string) {
	done := make(chan struct{})
	c.mu.Lock()
	c.refreshDone = done
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(presence.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				if err := c.pres.Refresh(ctx, channel, userID, c.Now()); err != nil {
					log.Warn().Err(err).Msg("[session] presence refresh failed")
				}
				cancel()
			}
		}
	}()
}

func (c *Controller) stopRefresher() {
	c.mu.Lock()
	done := c.refreshDone
	c.refreshDone = nil
	c.mu.Unlock()
	if done != nil {
		close(done)
	}
}

func (c *Controller) stopTypingTimers() {
	c.mu.Lock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	c.mu.Unlock()
}

// resetIdleTimerLocked (re)arms the timer that withdraws the typing signal
// after TypingIdle without a hint. Caller holds c.mu.
func (c *Controller) resetIdleTimerLocked() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(TypingIdle, func() {
		c.StopTyping(context.Background())
	})
}

func (c *Controller) saveNamePref(name string) {
	if c.prefs == nil {
		return
	}
	p, err := c.prefs.Load()
	if err != nil {
		log.Warn().Err(err).Msg("[session] prefs load failed")
		return
	}
	p.Name = name
	if err := c.prefs.Save(p); err != nil {
		log.Warn().Err(err).Msg("[session] prefs save failed")
	}
}

func (c *Controller) notify() {
	if c.onUpdate != nil {
		c.onUpdate()
	}
}
