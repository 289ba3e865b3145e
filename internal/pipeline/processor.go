package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-easy-notifier/internal/receiver"
)

// EventHandler is the receiver surface the pipeline drives.
type EventHandler interface {
	HandleMessage(ctx context.Context, data map[string]string) receiver.State
	HandleNewToken(ctx context.Context, token string)
}

// NewProcessor creates the stage that hands each event to the receiver.
// Classification outcomes are absorbed, so the message is always acked.
func NewProcessor(handler EventHandler, logger *slog.Logger) messagepipeline.StreamProcessor[InboundEvent] {
	logger = logger.With("component", "InboundProcessor")

	return func(ctx context.Context, original messagepipeline.Message, event *InboundEvent) error {
		procLogger := logger.With("pubsub_msg_id", original.ID)

		if event.NewToken != "" {
			procLogger.Info("Registration token rotated")
			handler.HandleNewToken(ctx, event.NewToken)
			return nil
		}

		state := handler.HandleMessage(ctx, event.Data)
		procLogger.Debug("Inbound message handled", "state", state.String())
		return nil
	}
}
