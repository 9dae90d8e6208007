package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/jadenj13/analyst/internals/app"
	"github.com/jadenj13/analyst/internals/config"
	"github.com/jadenj13/analyst/internals/mcpserver"
)

func main() {
	cfg, err := config.Load(os.Getenv("ANALYST_CONFIG"))
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// stdout carries the protocol.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tb, err := app.NewToolbox(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start", "err", err)
		os.Exit(1)
	}
	defer tb.Close()

	srv := mcpserver.New(tb.Registry, app.Version, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tb.RunSweeper(gctx)
	})
	g.Go(func() error {
		defer stop()
		return srv.Serve(gctx, os.Stdin, os.Stdout)
	})

	if err := g.Wait(); err != nil {
		log.Error("mcp server exited with error", "err", err)
		os.Exit(1)
	}
}
