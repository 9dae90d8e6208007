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
	slackhandler "github.com/jadenj13/analyst/internals/slack"
)

func main() {
	cfg, err := config.Load(os.Getenv("ANALYST_CONFIG"))
	if err == nil {
		err = cfg.ValidateSlack()
	}
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	handler, err := slackhandler.NewHandler(ctx, cfg.Slack.BotToken, cfg.Slack.AppToken, a.Agent, log)
	if err != nil {
		log.Error("failed to create slack handler", "err", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Toolbox.RunSweeper(gctx)
	})
	g.Go(func() error {
		log.Info("slack analyst starting")
		return handler.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		log.Error("handler exited with error", "err", err)
		os.Exit(1)
	}
}
