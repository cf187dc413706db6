package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/tutorchat/pkg/chat"
	"github.com/go-go-golems/tutorchat/pkg/config"
	"github.com/go-go-golems/tutorchat/pkg/framebus"
)

func newChatCommand(cfg func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <conversation-id>",
		Short: "Open an interactive chat for a prepared conversation",
		Long: `Open an interactive chat. Each input line is sent as a message.

Commands:
  /status     show connection status
  /reconnect  drop the connection and connect again
  /quit       leave`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), cfg(), args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runChat(ctx context.Context, cfg config.Config, convID string, in io.Reader, out io.Writer) error {
	logger := log.With().Str("component", "cli").Str("conv_id", convID).Logger()

	sess, err := newChatSession(cfg, newDialer(cfg))
	if err != nil {
		return errors.Wrap(err, "create chat session")
	}
	defer sess.Close()

	if cfg.Redis.Enabled {
		bus, err := framebus.Open(cfg.Redis)
		if err != nil {
			return errors.Wrap(err, "open frame bus")
		}
		defer func() {
			if err := bus.Close(); err != nil {
				logger.Warn().Err(err).Msg("close frame bus")
			}
		}()
		mirror := framebus.NewMirror(bus.Publisher, cfg.Redis.Topic(), convID)
		mirror.Attach(sess.Registry())
		defer mirror.Detach()
		logger.Info().Str("topic", cfg.Redis.Topic()).Msg("mirroring frames")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go readLines(ctx, in, lines)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r := newRenderer(out)
		for st := range sess.Watch(gctx) {
			r.Render(st)
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if quit := handleLine(sess, convID, line, out); quit {
					return nil
				}
			}
		}
	})

	sess.Connect(convID)
	return g.Wait()
}

// handleLine runs a slash command or sends line as a message. It reports
// true when the user asked to leave.
func handleLine(sess *chat.Session, convID, line string, out io.Writer) bool {
	switch strings.TrimSpace(line) {
	case "/quit", "/exit":
		return true
	case "/status":
		st := sess.Transport().Status()
		fmt.Fprintf(out, "[status] conv=%s connected=%t connecting=%t attempt=%d retry=%t pending=%d\n",
			st.ConversationID, st.Connected, st.Connecting, st.Attempt, st.RetryScheduled, st.Pending)
	case "/reconnect":
		sess.Disconnect()
		sess.Connect(convID)
	default:
		if !sess.SendMessage(line) && strings.TrimSpace(line) != "" {
			fmt.Fprintln(out, "[queued until reconnected]")
		}
	}
	return false
}

func readLines(ctx context.Context, in io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		log.Debug().Err(err).Str("component", "cli").Msg("input closed")
	}
}
