package cmds

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/tutorchat/pkg/chatproto"
	"github.com/go-go-golems/tutorchat/pkg/config"
	"github.com/go-go-golems/tutorchat/pkg/framebus"
)

func newTailCommand(cfg func() config.Config) *cobra.Command {
	var convFilter string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow frames mirrored to Redis by running chat sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			if !c.Redis.Enabled {
				return errors.New("tail needs redis: pass --redis or set redis.enabled")
			}
			return runTail(cmd.Context(), c.Redis, convFilter, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&convFilter, "conv-id", "", "Only show frames of this conversation")
	return cmd
}

func runTail(ctx context.Context, s framebus.Settings, convFilter string, out io.Writer) error {
	bus, err := framebus.Open(s)
	if err != nil {
		return errors.Wrap(err, "open frame bus")
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn().Err(err).Str("component", "cli").Msg("close frame bus")
		}
	}()

	if err := bus.EnsureGroupAtTail(ctx, s.Topic(), s.Group); err != nil {
		return err
	}
	frames, err := framebus.Follow(ctx, bus.Subscriber, s.Topic())
	if err != nil {
		return err
	}
	for m := range frames {
		if convFilter != "" && m.ConvID != convFilter {
			continue
		}
		fmt.Fprintln(out, formatMirrored(m))
	}
	return nil
}

func formatMirrored(m framebus.Mirrored) string {
	f := m.Frame
	var body string
	switch {
	case f.Type == chatproto.TypeResponseStream:
		body = f.Chunk()
	case f.Err != nil:
		body = f.Err.Error()
	case f.Type == chatproto.TypeHistory:
		entries, err := f.History()
		if err != nil {
			body = "<bad history>"
		} else {
			body = fmt.Sprintf("%d entries", len(entries))
		}
	default:
		body = f.Text()
	}
	return fmt.Sprintf("%s #%d %-15s %q", m.ConvID, m.Seq, f.Type, body)
}
