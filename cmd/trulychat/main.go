package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/trulychat/trulychat/internal/bus"
	"github.com/trulychat/trulychat/internal/limiter"
	"github.com/trulychat/trulychat/internal/link"
	"github.com/trulychat/trulychat/internal/metrics"
	"github.com/trulychat/trulychat/internal/prefs"
	"github.com/trulychat/trulychat/internal/presence"
	"github.com/trulychat/trulychat/internal/session"
	"github.com/trulychat/trulychat/internal/store"
	"github.com/trulychat/trulychat/internal/username"
	"github.com/trulychat/trulychat/internal/view"
)

// quickJoinChannel is the well-known drop-in channel.
const quickJoinChannel = 111

var rootCmd = &cobra.Command{
	Use:   "trulychat",
	Short: "Ephemeral numbered-channel chat",
	Long: `TrulyChat is an ephemeral chat client: pick a channel number, pick a
name, and talk. Nothing requires an account and nothing is kept once a
channel empties.`,
	RunE: runChat,
}

var (
	flagRedisAddr   string
	flagNATSURL     string
	flagChannel     int
	flagName        string
	flagLink        string
	flagMaxChannel  int
	flagBaseURL     string
	flagMetricsAddr string
	flagTheme       string
	flagPrefsPath   string
)

func init() {
	godotenv.Load()

	flags := rootCmd.Flags()
	flags.StringVar(&flagRedisAddr, "redis-addr", envOr("REDIS_ADDR", "localhost:6379"), "redis address (env REDIS_ADDR)")
	flags.StringVar(&flagNATSURL, "nats-url", envOr("NATS_URL", ""), "nats server URL (env NATS_URL)")
	flags.IntVar(&flagChannel, "channel", 0, "channel to join on startup (0 for the landing prompt)")
	flags.StringVar(&flagName, "name", "", "display name (falls back to the saved preference)")
	flags.StringVar(&flagLink, "link", "", "shareable invite link to join (overrides --channel and --name)")
	flags.IntVar(&flagMaxChannel, "max-channel", link.DefaultMaxChannel, "highest valid channel number")
	flags.StringVar(&flagBaseURL, "base-url", envOr("BASE_URL", "https://truly.chat"), "base URL for share links (env BASE_URL)")
	flags.StringVar(&flagMetricsAddr, "metrics-addr", envOr("METRICS_ADDR", ""), "prometheus listen address, empty to disable (env METRICS_ADDR)")
	flags.StringVar(&flagTheme, "theme", "", "color theme: system, light, or dark (falls back to the saved preference)")
	flags.StringVar(&flagPrefsPath, "prefs", "", "preferences file path (defaults under the user config dir)")
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("trulychat")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prefsPath := flagPrefsPath
	if prefsPath == "" {
		p, err := prefs.DefaultPath()
		if err != nil {
			return err
		}
		prefsPath = p
	}
	prefStore := prefs.NewStore(afero.NewOsFs(), prefsPath)
	saved, err := prefStore.Load()
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}

	theme := flagTheme
	if theme == "" {
		theme = saved.Theme
	}
	if !prefs.ValidTheme(theme) {
		return fmt.Errorf("unknown theme %q (system, light, dark)", theme)
	}
	palette := view.ThemeFor(theme)

	st, err := store.NewStore(flagRedisAddr)
	if err != nil {
		return err
	}
	defer st.Close()

	busConfig := bus.DefaultConfig()
	if flagNATSURL != "" {
		busConfig.URL = flagNATSURL
	}
	eb, err := bus.Dial(busConfig)
	if err != nil {
		return err
	}
	defer eb.Close()

	if flagMetricsAddr != "" {
		go serveMetrics(flagMetricsAddr)
	}

	ctrl := session.NewController(st, presence.NewStore(st.Client()), eb, session.Config{
		MaxChannel: flagMaxChannel,
		BaseURL:    flagBaseURL,
	})
	ctrl.SetLimiter(limiter.New(st.Client()))
	ctrl.SetPrefs(prefStore)

	out := bufio.NewWriter(os.Stdout)
	repaint := func() {
		for _, l := range ctrl.DrainLines() {
			fmt.Fprintln(out, palette.Format(l))
		}
		out.Flush()
	}
	ctrl.OnUpdate(repaint)

	// Resolve the startup target: an invite link wins, then flags, then the
	// landing prompt.
	channel, name := flagChannel, flagName
	if flagLink != "" {
		ch, n, err := link.Parse(flagLink, flagMaxChannel)
		if err != nil {
			return err
		}
		channel = ch
		if n != "" {
			name = n
		}
	}
	if name == "" {
		name = saved.Name
	}

	if channel != 0 {
		if name == "" {
			name = username.Random()
			fmt.Fprintf(out, "No name given; you are %s\n", name)
			out.Flush()
		}
		if err := ctrl.Join(ctx, channel, name); err != nil {
			return err
		}
	} else {
		printLanding(out)
	}

	go func() {
		<-ctx.Done()
		// Graceful exit on Ctrl-C: withdraw presence before the process dies.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		ctrl.Leave(shutdownCtx, false)
		os.Exit(0)
	}()

	return inputLoop(ctx, ctrl, out, prefStore, &palette, name)
}

func printLanding(out *bufio.Writer) {
	fmt.Fprintln(out, "Welcome to TrulyChat.")
	fmt.Fprintf(out, "  /join <1-%d> [name]   join a channel\n", flagMaxChannel)
	fmt.Fprintf(out, "  /quick [name]          drop into channel %d\n", quickJoinChannel)
	fmt.Fprintln(out, "  /help                  all commands")
	out.Flush()
}

func inputLoop(ctx context.Context, ctrl *session.Controller, out *bufio.Writer, prefStore *prefs.Store, palette *view.Theme, lastName string) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	prompt := func() {
		if line := ctrl.TypingLine(); line != "" {
			fmt.Fprintln(out, palette.System+line+palette.Reset)
		}
		fmt.Fprint(out, "> ")
		out.Flush()
	}

	prompt()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			prompt()
			continue
		}

		if !strings.HasPrefix(line, "/") {
			if err := ctrl.Send(ctx, line); err != nil {
				fmt.Fprintln(out, palette.System+err.Error()+palette.Reset)
			}
			prompt()
			continue
		}

		fields := strings.Fields(line)
		command, rest := fields[0], fields[1:]
		switch command {
		case "/quit", "/exit":
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			ctrl.Leave(shutdownCtx, false)
			cancel()
			out.Flush()
			return nil

		case "/join":
			if len(rest) < 1 {
				fmt.Fprintln(out, "usage: /join <channel> [name]")
				break
			}
			ch, err := strconv.Atoi(rest[0])
			if err != nil {
				fmt.Fprintf(out, "%q is not a channel number\n", rest[0])
				break
			}
			name := lastName
			if len(rest) > 1 {
				name = strings.Join(rest[1:], " ")
			}
			if name == "" {
				name = username.Random()
				fmt.Fprintf(out, "No name given; you are %s\n", name)
			}
			if err := ctrl.Join(ctx, ch, name); err != nil {
				fmt.Fprintln(out, err.Error())
			} else {
				lastName = name
			}

		case "/quick":
			name := lastName
			if len(rest) > 0 {
				name = strings.Join(rest, " ")
			}
			if name == "" {
				name = username.Random()
				fmt.Fprintf(out, "No name given; you are %s\n", name)
			}
			if err := ctrl.Join(ctx, quickJoinChannel, name); err != nil {
				fmt.Fprintln(out, err.Error())
			} else {
				lastName = name
			}

		case "/leave":
			if err := ctrl.Leave(ctx, true); err != nil {
				fmt.Fprintln(out, err.Error())
			} else {
				printLanding(out)
			}

		case "/next":
			if err := ctrl.ChangeChannel(ctx); err != nil {
				fmt.Fprintln(out, err.Error())
			}

		case "/name":
			if len(rest) < 1 {
				fmt.Fprintln(out, "usage: /name <new name>")
				break
			}
			if err := ctrl.ChangeName(ctx, strings.Join(rest, " ")); err != nil {
				fmt.Fprintln(out, err.Error())
			} else {
				if sess, ok := ctrl.Current(); ok {
					lastName = sess.UserName
				}
			}

		case "/reply":
			if len(rest) < 1 {
				fmt.Fprintln(out, "usage: /reply <message-key>  (then send your message)")
				break
			}
			if err := ctrl.SetReply(rest[0]); err != nil {
				fmt.Fprintln(out, err.Error())
			} else {
				fmt.Fprintln(out, "Replying; your next message will quote it. /cancel to drop.")
			}

		case "/cancel":
			ctrl.ClearReply()

		case "/react":
			if len(rest) < 2 {
				fmt.Fprintln(out, "usage: /react <message-key> <like|love|laugh>")
				break
			}
			if err := ctrl.React(ctx, rest[0], rest[1]); err != nil {
				fmt.Fprintln(out, err.Error())
			}

		case "/edit":
			if len(rest) < 2 {
				fmt.Fprintln(out, "usage: /edit <message-key> <new text>")
				break
			}
			if err := ctrl.Edit(ctx, rest[0], strings.Join(rest[1:], " ")); err != nil {
				fmt.Fprintln(out, err.Error())
			}

		case "/delete":
			if len(rest) < 1 {
				fmt.Fprintln(out, "usage: /delete <message-key>")
				break
			}
			if err := ctrl.Delete(ctx, rest[0]); err != nil {
				fmt.Fprintln(out, err.Error())
			}

		case "/share":
			url, err := ctrl.ShareLink()
			if err != nil {
				fmt.Fprintln(out, err.Error())
			} else {
				fmt.Fprintf(out, "Invite: %s\n", url)
			}

		case "/who":
			if line := ctrl.PresenceLine(); line != "" {
				fmt.Fprintln(out, line)
			} else {
				fmt.Fprintln(out, "Not in a channel.")
			}

		case "/list":
			printMessages(out, ctrl, palette)

		case "/mine":
			msgs, err := ctrl.MyMessages(ctx)
			if err != nil {
				fmt.Fprintln(out, err.Error())
				break
			}
			if len(msgs) == 0 {
				fmt.Fprintln(out, "You haven't sent anything here.")
				break
			}
			for _, m := range msgs {
				text := m.Text
				if m.Deleted {
					text = "[message deleted]"
				}
				fmt.Fprintf(out, "%s[%s]%s %s\n", palette.Dim, m.Key, palette.Reset, text)
			}

		case "/theme":
			if len(rest) < 1 || !prefs.ValidTheme(rest[0]) {
				fmt.Fprintln(out, "usage: /theme <system|light|dark>")
				break
			}
			*palette = view.ThemeFor(rest[0])
			p, err := prefStore.Load()
			if err == nil {
				p.Theme = rest[0]
				err = prefStore.Save(p)
			}
			if err != nil {
				fmt.Fprintf(out, "theme not saved: %v\n", err)
			}

		case "/help":
			printHelp(out)

		default:
			fmt.Fprintf(out, "unknown command %s (try /help)\n", command)
		}
		prompt()
	}
	return scanner.Err()
}

// printMessages redraws the full channel transcript, keys included so they
// can be targeted by /reply, /react, /edit and /delete.
func printMessages(out *bufio.Writer, ctrl *session.Controller, palette *view.Theme) {
	msgs := ctrl.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(out, "No messages yet.")
		return
	}
	for i := range msgs {
		e := msgs[i]
		fmt.Fprintf(out, "%s[%s]%s %s\n", palette.Dim, e.Key, palette.Reset,
			palette.Format(view.Line{Kind: view.LineMessage, Msg: &e}))
	}
	if line := ctrl.PresenceLine(); line != "" {
		fmt.Fprintln(out, line)
	}
}

func printHelp(out *bufio.Writer) {
	fmt.Fprint(out, `Commands:
  /join <channel> [name]   join a numbered channel
  /quick [name]            drop into the quick-join channel
  /leave                   leave and return to the landing prompt
  /next                    hop to a random other channel
  /name <new name>         change your display name
  /reply <key>             quote a message with your next send
  /cancel                  drop the pending reply
  /react <key> <kind>      react with like, love, or laugh
  /edit <key> <text>       rewrite one of your messages
  /delete <key>            remove one of your messages
  /share                   print an invite link for this channel
  /who                     who is in the channel
  /list                    redraw the transcript with message keys
  /mine                    list your own messages in this channel
  /theme <name>            system, light, or dark
  /quit                    leave and exit
Anything not starting with / is sent as a message.
`)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.Info().Str("addr", addr).Msg("[metrics] listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("[metrics] server failed")
	}
}
