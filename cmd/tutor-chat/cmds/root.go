package cmds

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/tutorchat/pkg/config"
)

type rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	withCaller bool

	url                string
	transport          string
	maxAttempts        int
	reconcileFullText  bool
	inferUntypedStream bool
	redis              bool
	redisAddr          string
	redisStream        string
}

// NewRootCommand builds the tutor-chat command tree.
func NewRootCommand() *cobra.Command {
	f := &rootFlags{}
	var cfg config.Config

	root := &cobra.Command{
		Use:           "tutor-chat",
		Short:         "Terminal client for the quiz tutor chat",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			cfg = loaded
			return initLogger(cfg.Log.Level, cfg.Log.Format, f.withCaller, os.Stderr)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "YAML config file")
	pf.StringVar(&f.logLevel, "log-level", "", "Global log level (trace, debug, info, warn, error)")
	pf.StringVar(&f.logFormat, "log-format", "", "Log format (auto, console, json)")
	pf.BoolVar(&f.withCaller, "with-caller", false, "Include caller (file:line) in logs")
	pf.StringVar(&f.url, "url", "", "Chat URL template; {id} is replaced by the conversation id")
	pf.StringVar(&f.transport, "transport", "", "Websocket implementation (gorilla, coder)")
	pf.IntVar(&f.maxAttempts, "max-attempts", 0, "Reconnect attempts before giving up")
	pf.BoolVar(&f.reconcileFullText, "reconcile-full-text", false, "Merge a full_text that follows [DONE] into the finished turn")
	pf.BoolVar(&f.inferUntypedStream, "infer-untyped-stream", false, "Accept stream chunks sent without a type tag")
	pf.BoolVar(&f.redis, "redis", false, "Mirror frames to Redis Streams")
	pf.StringVar(&f.redisAddr, "redis-addr", "", "Redis address host:port")
	pf.StringVar(&f.redisStream, "redis-stream", "", "Redis stream frames are mirrored to")

	cfgFn := func() config.Config { return cfg }
	root.AddCommand(
		newChatCommand(cfgFn),
		newTailCommand(cfgFn),
		newProtocolCommand(),
	)
	return root
}

// loadConfig reads the config file and overlays flags that were set
// explicitly.
func loadConfig(cmd *cobra.Command, f *rootFlags) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if flags.Changed("url") {
		cfg.Server.URLTemplate = f.url
	}
	if flags.Changed("transport") {
		cfg.Transport = f.transport
	}
	if flags.Changed("max-attempts") {
		cfg.Reconnect.MaxAttempts = f.maxAttempts
	}
	if flags.Changed("reconcile-full-text") {
		cfg.Reducer.ReconcileFullText = f.reconcileFullText
	}
	if flags.Changed("infer-untyped-stream") {
		cfg.Protocol.InferUntypedStream = f.inferUntypedStream
	}
	if flags.Changed("redis") {
		cfg.Redis.Enabled = f.redis
	}
	if flags.Changed("redis-addr") {
		cfg.Redis.Addr = f.redisAddr
	}
	if flags.Changed("redis-stream") {
		cfg.Redis.Stream = f.redisStream
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func initLogger(level, format string, withCaller bool, out *os.File) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "parse log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)

	var w io.Writer = out
	switch format {
	case "console":
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	case "json":
	case "", "auto":
		if isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()) {
			w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
		}
	default:
		return errors.Errorf("unknown log format %q", format)
	}

	lctx := zerolog.New(w).With().Timestamp()
	if withCaller {
		lctx = lctx.Caller()
	}
	log.Logger = lctx.Logger()
	return nil
}
