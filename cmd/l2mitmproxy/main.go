package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/l2mitmproxy/internal/config"
	_ "github.com/udisondev/l2mitmproxy/internal/modules/chatlogger"
	"github.com/udisondev/l2mitmproxy/internal/protocol"
	"github.com/udisondev/l2mitmproxy/internal/proxyserver"
)

const ConfigPath = "config/l2mitmproxy.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := ConfigPath
	if p := os.Getenv("L2MITMPROXY_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadProxy(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logLevel := parseLogLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("l2mitmproxy starting",
		"listen", cfg.ListenAddress,
		"upstream", cfg.UpstreamAddress,
		"cipher", cfg.CipherBackend,
		"log_level", cfg.LogLevel)

	codec := protocol.NewDefaultTableCodec(cfg.CheckVersionOpcode, protocol.ProtocolVersion(cfg.ProtocolVersion))

	// cfg.Modules is loaded by the server itself for every accepted
	// connection; onDispatch is left nil since this binary has no ad-hoc
	// hooks of its own beyond what modules register.
	srv := proxyserver.CreateServer(cfg, codec, nil, slog.Default())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Run(gctx); err != nil {
			return fmt.Errorf("proxy server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// parseLogLevel converts string log level to slog.Level.
// Defaults to Info if invalid or empty.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
