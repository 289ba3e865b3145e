// Package sink provides a NotificationSink that records notifications to the
// structured log. It is the surface used by headless deployments.
package sink

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-easy-notifier/pkg/dispatch"
	"github.com/tinywideclouds/go-easy-notifier/pkg/notification"
)

// LogSink implements dispatch.NotificationSink on slog.
type LogSink struct {
	channels sync.Map // channel id -> dispatch.Channel
	logger   *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "LogNotificationSink")}
}

// EnsureChannel registers ch once; later calls with the same id are no-ops.
func (s *LogSink) EnsureChannel(_ context.Context, ch dispatch.Channel) error {
	if _, loaded := s.channels.LoadOrStore(ch.ID, ch); !loaded {
		s.logger.Info("Notification channel created", "channel_id", ch.ID, "name", ch.Name, "description", ch.Description)
	}
	return nil
}

// Post logs the record.
func (s *LogSink) Post(_ context.Context, n notification.RenderedNotification) error {
	s.logger.Info("Notification displayed",
		"notification_id", n.ID,
		"channel_id", n.ChannelID,
		"title", n.Title,
		"body", n.Body,
		"has_image", n.Image != nil,
		"extras", len(n.Extras),
	)
	return nil
}

// Channels returns the ids of every channel registered so far.
func (s *LogSink) Channels() []string {
	var ids []string
	s.channels.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	return ids
}
