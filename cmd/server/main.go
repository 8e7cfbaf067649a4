// Command server runs the text relay: every line a TCP client sends is
// forwarded, prefixed with its nickname, to every other connected client.
// With -http set, browsers join the same room through a WebSocket gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Tyrowin/relaychat/internal/config"
	"github.com/Tyrowin/relaychat/internal/relay"
	"github.com/Tyrowin/relaychat/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	name := filepath.Base(os.Args[0])
	cfg := config.NewConfigFromEnv()
	if err := parseFlags(name, os.Args[1:], cfg, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "%s error:\n\n\t%s\n", name, err)
		return 2
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := relay.New(*cfg, relay.WithLogger(logger))
	if err != nil {
		logger.Error("cannot create relay", "err", err)
		return 1
	}

	var (
		extra      []net.Listener
		httpServer *http.Server
		httpErr    = make(chan error, 1)
	)
	if cfg.HTTPAddr != "" {
		gateway := server.NewGateway(srv.Config(), logger)
		extra = append(extra, gateway)
		httpServer = server.CreateServer(cfg.HTTPAddr, server.SetupRoutes(gateway, srv, logger))
		go func() {
			httpErr <- server.StartServer(httpServer, logger)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(ctx, extra...)
	}()

	code := 0
	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("relay stopped", "err", err)
			code = 1
		}
		stop()
	case err := <-httpErr:
		if err != nil {
			logger.Error("http server failed", "err", err)
			code = 1
		}
		stop()
		<-serveErr
	case <-ctx.Done():
		<-serveErr
	}

	if httpServer != nil {
		if err := server.ShutdownServer(httpServer, 5*time.Second, logger); err != nil {
			code = 1
		}
	}
	return code
}
