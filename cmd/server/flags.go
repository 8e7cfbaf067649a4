package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/Tyrowin/relaychat/internal/config"
)

// parseFlags overrides cfg with command line options. It returns flag.ErrHelp
// when usage was requested.
func parseFlags(name string, args []string, cfg *config.Config, out io.Writer) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprintf(out, "Launch the text relay over TCP\n\n\t%s [options]\nOptions:\n\n", name)
		fs.PrintDefaults()
		fmt.Fprint(out, "\nEvery option can also be set through the environment, e.g. SERVER_ADDR or MAX_CLIENTS.\n")
	}

	logLevel := cfg.LogLevel.String()
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "TCP listen address")
	fs.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "WebSocket gateway listen address, empty to disable")
	fs.IntVar(&cfg.MaxClients, "max-clients", cfg.MaxClients, "Maximum number of concurrent clients")
	fs.IntVar(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "Maximum bytes taken from a client per read")
	fs.BoolVar(&cfg.LineFraming, "line-framing", cfg.LineFraming, "Relay complete lines instead of raw reads")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Disconnect clients silent for this long, 0 to never")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Deadline for a single send to a client")
	fs.IntVar(&cfg.RateLimit.Burst, "rate-burst", cfg.RateLimit.Burst, "Chat lines allowed per refill interval, 0 to disable")
	fs.StringVar(&logLevel, "log-level", logLevel, "Log level: debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg.LogLevel = config.ParseLogLevel(logLevel, cfg.LogLevel)
	if cfg.MaxClients < 1 {
		return fmt.Errorf("max-clients value should be greater or equal 1")
	}
	if cfg.IdleTimeout < 0 || (cfg.IdleTimeout > 0 && cfg.IdleTimeout < 10*time.Millisecond) {
		return fmt.Errorf("idle-timeout value should be 0 or at least 10ms")
	}
	return nil
}
