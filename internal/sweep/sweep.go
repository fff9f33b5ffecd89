// Package sweep is the housekeeping pass that keeps channels tidy: stale
// presence records are pruned, long message logs trimmed, and channels whose
// roster has emptied have their messages cleared. Clients work correctly
// without it (TTLs expire on their own); the sweeper just reclaims space
// sooner and keeps rejoin scrollback short.
package sweep

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trulychat/trulychat/internal/metrics"
	"github.com/trulychat/trulychat/internal/presence"
	"github.com/trulychat/trulychat/internal/store"
)

const (
	// DefaultStaleAfter is how long a presence record may go without a
	// refresh before the sweeper removes it.
	DefaultStaleAfter = 3 * time.Minute

	// DefaultKeep is how many messages a channel log retains after a trim.
	DefaultKeep = 100
)

// Sweeper walks every active channel and applies the housekeeping rules.
type Sweeper struct {
	store      *store.Store
	pres       *presence.Store
	staleAfter time.Duration
	keep       int
}

// New creates a Sweeper. Zero values for staleAfter and keep select the
// defaults.
func New(st *store.Store, pres *presence.Store, staleAfter time.Duration, keep int) *Sweeper {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &Sweeper{store: st, pres: pres, staleAfter: staleAfter, keep: keep}
}

// Result totals one sweep pass.
type Result struct {
	Channels       int
	StalePresence  int
	TrimmedRecords int
	ClearedLogs    int
}

// Run performs one full pass. Per-channel failures are logged and skipped so
// one bad channel cannot stall the rest.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	var res Result

	now, err := s.store.ServerTime(ctx)
	if err != nil {
		return res, err
	}

	channels := map[int]bool{}
	msgChans, err := s.store.Channels(ctx)
	if err != nil {
		return res, err
	}
	for _, ch := range msgChans {
		channels[ch] = true
	}
	presChans, err := s.pres.Channels(ctx)
	if err != nil {
		return res, err
	}
	for _, ch := range presChans {
		channels[ch] = true
	}
	res.Channels = len(channels)

	for ch := range channels {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		removed, err := s.pres.PruneStale(ctx, ch, now, s.staleAfter)
		if err != nil {
			log.Warn().Err(err).Int("channel", ch).Msg("[sweep] presence prune failed")
			continue
		}
		if removed > 0 {
			res.StalePresence += removed
			metrics.SweepRemoved.WithLabelValues("presence").Add(float64(removed))
		}

		trimmed, err := s.store.TrimLog(ctx, ch, s.keep)
		if err != nil {
			log.Warn().Err(err).Int("channel", ch).Msg("[sweep] trim failed")
			continue
		}
		if trimmed > 0 {
			res.TrimmedRecords += trimmed
			metrics.SweepRemoved.WithLabelValues("trimmed").Add(float64(trimmed))
		}

		// A channel nobody is in keeps no scrollback.
		n, err := s.pres.Count(ctx, ch)
		if err != nil {
			log.Warn().Err(err).Int("channel", ch).Msg("[sweep] roster count failed")
			continue
		}
		if n == 0 {
			cleared, err := s.store.ClearMessages(ctx, ch)
			if err != nil {
				log.Warn().Err(err).Int("channel", ch).Msg("[sweep] clear failed")
				continue
			}
			if cleared > 0 {
				res.ClearedLogs++
				metrics.SweepRemoved.WithLabelValues("cleared").Add(float64(cleared))
			}
		}
	}

	log.Info().
		Int("channels", res.Channels).
		Int("stale_presence", res.StalePresence).
		Int("trimmed", res.TrimmedRecords).
		Int("cleared", res.ClearedLogs).
		Msg("[sweep] pass complete")
	return res, nil
}

// Loop runs sweeps at the given interval until ctx is cancelled. The first
// pass runs immediately.
func (s *Sweeper) Loop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("[sweep] pass failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
