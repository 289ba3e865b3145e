// Command notifysend sends one notification through FCM and waits for the
// outcome.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(os.Stdout, newNotifierSender, logger).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
