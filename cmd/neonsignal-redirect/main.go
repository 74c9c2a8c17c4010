package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nutsloop/neonsignal/internal/config"
	"github.com/nutsloop/neonsignal/internal/redirect"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadRedirect()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	svc := redirect.New(*cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	slog.Info("neonsignal-redirect listening", "addr", addr, "target_port", cfg.TargetPort, "instances", cfg.Instances)

	if err := svc.Serve(ctx); err != nil && ctx.Err() == nil {
		slog.Error("redirector exited", "error", err)
		os.Exit(1)
	}

	slog.Info("neonsignal-redirect shut down")
}
