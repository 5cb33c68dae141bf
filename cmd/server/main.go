package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Tyrowin/tcpchat/internal/logging"
	"github.com/Tyrowin/tcpchat/internal/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	srv, err := server.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting tcpchat server", "addr", cfg.Addr, "websocket_addr", cfg.WebSocketAddr)
	return srv.Serve(ctx)
}

// loadConfig layers defaults, the config file, CHAT_* environment variables
// and command-line flags, in that order.
func loadConfig(args []string) (server.Config, error) {
	var (
		configPath string
		flagCfg    = server.DefaultConfig()
	)

	flagSet := pflag.NewFlagSet("tcpchat", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a JSONC config file")
	flagSet.StringVar(&flagCfg.Addr, "addr", flagCfg.Addr, "host:port of the TCP chat listener")
	flagSet.StringVar(&flagCfg.WebSocketAddr, "ws-addr", "", "host:port of the WebSocket gateway (empty disables it)")
	flagSet.StringSliceVar(&flagCfg.AllowedOrigins, "allowed-origin", nil, "browser origin allowed on the gateway (repeatable, * allows all)")
	flagSet.Int64Var(&flagCfg.MaxFrameSize, "max-frame-size", 0, "largest accepted payload in bytes (0 = unlimited)")
	flagSet.DurationVar(&flagCfg.IdleTimeout, "idle-timeout", 0, "close connections silent for this long (0 = never)")
	flagSet.DurationVar(&flagCfg.WriteTimeout, "write-timeout", flagCfg.WriteTimeout, "deadline for writing one frame")
	flagSet.IntVar(&flagCfg.MaxQueuedFrames, "max-queued-frames", 0, "disconnect clients with more unsent frames than this (0 = unlimited)")
	flagSet.IntVar(&flagCfg.RateLimit.Burst, "rate-limit-burst", 0, "requests allowed per refill interval (0 = no limit)")
	flagSet.DurationVar(&flagCfg.RateLimit.RefillInterval, "rate-limit-interval", flagCfg.RateLimit.RefillInterval, "rate limit refill interval")
	flagSet.StringVar(&flagCfg.PasswordHash, "password-hash", flagCfg.PasswordHash, "password hash scheme: sha256 or bcrypt")
	flagSet.DurationVar(&flagCfg.ShutdownTimeout, "shutdown-timeout", flagCfg.ShutdownTimeout, "how long to wait for connections on shutdown")
	flagSet.StringVar(&flagCfg.Log.Level, "log-level", flagCfg.Log.Level, "log level: debug, info, warn or error")
	flagSet.StringVar(&flagCfg.Log.Format, "log-format", flagCfg.Log.Format, "log format: text or json")
	flagSet.StringVar(&flagCfg.Log.Output, "log-output", flagCfg.Log.Output, "log destination: stdout, stderr, discard or a file path")

	if err := flagSet.Parse(args); err != nil {
		return server.Config{}, err
	}
	if extra := flagSet.Args(); len(extra) > 0 {
		return server.Config{}, fmt.Errorf("unexpected argument: %s", extra[0])
	}

	cfg := server.DefaultConfig()
	if configPath != "" {
		if err := server.LoadConfigFile(configPath, &cfg); err != nil {
			return server.Config{}, err
		}
	}
	server.ApplyEnv(&cfg)
	applyFlags(flagSet, flagCfg, &cfg)
	return cfg, nil
}

// applyFlags copies only the flags given on the command line.
func applyFlags(flagSet *pflag.FlagSet, from server.Config, cfg *server.Config) {
	set := map[string]func(){
		"addr":                func() { cfg.Addr = from.Addr },
		"ws-addr":             func() { cfg.WebSocketAddr = from.WebSocketAddr },
		"allowed-origin":      func() { cfg.AllowedOrigins = from.AllowedOrigins },
		"max-frame-size":      func() { cfg.MaxFrameSize = from.MaxFrameSize },
		"idle-timeout":        func() { cfg.IdleTimeout = from.IdleTimeout },
		"write-timeout":       func() { cfg.WriteTimeout = from.WriteTimeout },
		"max-queued-frames":   func() { cfg.MaxQueuedFrames = from.MaxQueuedFrames },
		"rate-limit-burst":    func() { cfg.RateLimit.Burst = from.RateLimit.Burst },
		"rate-limit-interval": func() { cfg.RateLimit.RefillInterval = from.RateLimit.RefillInterval },
		"password-hash":       func() { cfg.PasswordHash = from.PasswordHash },
		"shutdown-timeout":    func() { cfg.ShutdownTimeout = from.ShutdownTimeout },
		"log-level":           func() { cfg.Log.Level = from.Log.Level },
		"log-format":          func() { cfg.Log.Format = from.Log.Format },
		"log-output":          func() { cfg.Log.Output = from.Log.Output },
	}
	for name, apply := range set {
		if flagSet.Changed(name) {
			apply()
		}
	}
}
