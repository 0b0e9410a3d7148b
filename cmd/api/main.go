package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/edbns/Stefna-sub010/internal/infrastructure"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := infrastructure.Bootstrap(ctx)
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		log.Fatalf("bootstrap: %v", err)
	}
	defer cleanup()

	slog.Info("credits engine starting")

	if err := app.Run(ctx); err != nil {
		log.Fatalf("run: %v", err)
	}

	slog.Info("credits engine stopped")
}
