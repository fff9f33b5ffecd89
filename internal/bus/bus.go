// Package bus provides the change-event fan-out half of the external store:
// a NATS client wrapper with per-channel subjects for messages, presence,
// and typing. NATS preserves publish order per subject, which is the only
// ordering guarantee the reconciler relies on; nothing is guaranteed across
// subjects. The EventBus interface exists so session tests can substitute an
// in-memory implementation.
package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Handler receives the raw bytes of one published event.
type Handler func(data []byte)

// EventBus is the minimal pub/sub contract the session controller needs.
// Unsubscribe must stop delivery before returning, so a torn-down session
// never receives events meant for its successor.
type EventBus interface {
	Publish(subject string, data []byte) error
	Subscribe(key, subject string, h Handler) error
	Unsubscribe(key string) error
	Close()
}

// Per-channel subject builders.

// MessagesSubject is the subject carrying message_added/message_changed
// events for one channel.
func MessagesSubject(channel int) string { return fmt.Sprintf("chan.%d.messages", channel) }

// PresenceSubject carries presence_changed events for one channel.
func PresenceSubject(channel int) string { return fmt.Sprintf("chan.%d.presence", channel) }

// TypingSubject carries typing_changed events for one channel.
func TypingSubject(channel int) string { return fmt.Sprintf("chan.%d.typing", channel) }

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int // -1 for infinite
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "trulychat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Bus is the NATS-backed EventBus.
type Bus struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Dial connects to NATS with the given config and returns a ready Bus.
func Dial(config Config) (*Bus, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("[bus] disconnected")
			} else {
				log.Info().Msg("[bus] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Msgf("[bus] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("[bus] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}
	log.Info().Msgf("[bus] connected to %s", nc.ConnectedUrl())

	return &Bus{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given subject.
func (b *Bus) Publish(subject string, data []byte) error {
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for the subject under the given key. A prior
// subscription with the same key is torn down first, so re-joining can never
// double-deliver.
func (b *Bus) Subscribe(key, subject string, h Handler) error {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		h(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("bus: subscribe %s: %w", subject, err)
	}

	b.mu.Lock()
	if old, ok := b.subs[key]; ok {
		_ = old.Unsubscribe()
	}
	b.subs[key] = sub
	b.mu.Unlock()
	return nil
}

// Unsubscribe removes the subscription registered under key. Unknown keys
// are a no-op: teardown must be idempotent.
func (b *Bus) Unsubscribe(key string) error {
	b.mu.Lock()
	sub, ok := b.subs[key]
	delete(b.subs, key)
	b.mu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("bus: unsubscribe %s: %w", key, err)
	}
	return nil
}

// Close drains all active subscriptions and closes the connection.
func (b *Bus) Close() {
	b.mu.Lock()
	for key, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			log.Warn().Err(err).Msgf("[bus] drain %s", key)
		}
	}
	b.subs = make(map[string]*nats.Subscription)
	b.mu.Unlock()

	if err := b.conn.Drain(); err != nil {
		log.Warn().Err(err).Msg("[bus] connection drain")
	}
	log.Info().Msg("[bus] closed")
}
