package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it; tests substitute a mock.
type MessagingClient interface {
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
}

// TopicSubscriber implements dispatch.TopicSubscriber on the Firebase topic
// management API.
type TopicSubscriber struct {
	client MessagingClient
	logger *slog.Logger
}

func NewTopicSubscriber(client MessagingClient, logger *slog.Logger) *TopicSubscriber {
	return &TopicSubscriber{
		client: client,
		logger: logger.With("component", "FCMTopicSubscriber"),
	}
}

// Subscribe subscribes a single token to topic.
func (s *TopicSubscriber) Subscribe(ctx context.Context, token, topic string) error {
	resp, err := s.client.SubscribeToTopic(ctx, []string{token}, topic)
	if err != nil {
		return fmt.Errorf("fcm topic subscribe failed: %w", err)
	}
	if resp != nil && resp.FailureCount > 0 {
		reason := "unknown"
		if len(resp.Errors) > 0 && resp.Errors[0] != nil {
			reason = resp.Errors[0].Reason
		}
		return fmt.Errorf("fcm rejected subscription to %q: %s", topic, reason)
	}
	return nil
}
