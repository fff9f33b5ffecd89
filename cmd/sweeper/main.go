package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/trulychat/trulychat/internal/metrics"
	"github.com/trulychat/trulychat/internal/presence"
	"github.com/trulychat/trulychat/internal/store"
	"github.com/trulychat/trulychat/internal/sweep"
)

var rootCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "TrulyChat housekeeping daemon",
	Long: `The sweeper periodically prunes stale presence records, trims long
channel logs, and clears the scrollback of channels everyone has left.
Channels work without it; it just reclaims space sooner.`,
	RunE: runSweeper,
}

var (
	flagRedisAddr   string
	flagInterval    time.Duration
	flagStaleAfter  time.Duration
	flagKeep        int
	flagMetricsAddr string
	flagOnce        bool
)

func init() {
	godotenv.Load()

	flags := rootCmd.Flags()
	flags.StringVar(&flagRedisAddr, "redis-addr", envOr("REDIS_ADDR", "localhost:6379"), "redis address (env REDIS_ADDR)")
	flags.DurationVar(&flagInterval, "interval", time.Minute, "time between sweep passes")
	flags.DurationVar(&flagStaleAfter, "stale-after", sweep.DefaultStaleAfter, "presence records idle longer than this are pruned")
	flags.IntVar(&flagKeep, "keep", sweep.DefaultKeep, "messages retained per channel after a trim")
	flags.StringVar(&flagMetricsAddr, "metrics-addr", envOr("METRICS_ADDR", ""), "prometheus listen address, empty to disable (env METRICS_ADDR)")
	flags.BoolVar(&flagOnce, "once", false, "run a single pass and exit")
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("sweeper")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runSweeper(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewStore(flagRedisAddr)
	if err != nil {
		return err
	}
	defer st.Close()

	if flagMetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			log.Info().Str("addr", flagMetricsAddr).Msg("[metrics] listening")
			if err := http.ListenAndServe(flagMetricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("[metrics] server failed")
			}
		}()
	}

	s := sweep.New(st, presence.NewStore(st.Client()), flagStaleAfter, flagKeep)

	if flagOnce {
		_, err := s.Run(ctx)
		return err
	}

	log.Info().
		Dur("interval", flagInterval).
		Dur("stale_after", flagStaleAfter).
		Int("keep", flagKeep).
		Msg("[sweeper] starting")
	if err := s.Loop(ctx, flagInterval); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
