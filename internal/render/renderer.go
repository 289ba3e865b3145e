// --- File: internal/render/renderer.go ---
// Package render turns an inbound normal message into a record on the
// notification surface.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"github.com/tinywideclouds/go-easy-notifier/pkg/dispatch"
	"github.com/tinywideclouds/go-easy-notifier/pkg/notification"
)

// DefaultTitle is used when an inbound message carries no title.
const DefaultTitle = "Notification"

// ImageLoader fetches and decodes a remote image.
type ImageLoader interface {
	Load(ctx context.Context, url string) (ImageResult, error)
}

// NewChannel builds the channel a host application posts to.
func NewChannel(id, name string) dispatch.Channel {
	return dispatch.Channel{
		ID:          id,
		Name:        name,
		Description: fmt.Sprintf("Notifications from %s", name),
	}
}

// Renderer builds RenderedNotifications and posts them to a sink.
type Renderer struct {
	sink    dispatch.NotificationSink
	images  ImageLoader
	channel dispatch.Channel
	ids     *IDGenerator
	logger  *slog.Logger
}

// NewRenderer creates a Renderer. A nil images loader disables image fetches.
func NewRenderer(sink dispatch.NotificationSink, images ImageLoader, channel dispatch.Channel, logger *slog.Logger) *Renderer {
	return &Renderer{
		sink:    sink,
		images:  images,
		channel: channel,
		ids:     NewIDGenerator(time.Now),
		logger:  logger.With("component", "NotificationRenderer"),
	}
}

// Render posts one notification. It is best-effort: every failure is logged
// and absorbed.
func (r *Renderer) Render(ctx context.Context, title, body, imageURL string, data map[string]string) {
	n := notification.RenderedNotification{
		ID:         r.ids.Next(),
		ChannelID:  r.channel.ID,
		Title:      title,
		Body:       body,
		ImageURL:   imageURL,
		Extras:     maps.Clone(data),
		Priority:   notification.PriorityHigh,
		AutoCancel: true,
	}
	if n.Title == "" {
		n.Title = DefaultTitle
	}
	if n.Extras == nil {
		n.Extras = map[string]string{}
	}

	if imageURL != "" && r.images != nil {
		res, err := r.images.Load(ctx, imageURL)
		if err != nil {
			r.logger.Warn("Failed to load notification image, continuing without it", "url", imageURL, "err", err)
		} else {
			n.Image = res.Image
		}
	}

	if err := r.sink.EnsureChannel(ctx, r.channel); err != nil {
		r.logger.Error("Failed to ensure notification channel", "channel_id", r.channel.ID, "err", err)
		return
	}
	if err := r.sink.Post(ctx, n); err != nil {
		r.logger.Error("Failed to post notification", "notification_id", n.ID, "err", err)
		return
	}
	r.logger.Debug("Notification posted", "notification_id", n.ID, "has_image", n.Image != nil)
}

// IDGenerator assigns strictly increasing notification ids seeded from the
// wall clock, so two records in the same millisecond never share an id.
type IDGenerator struct {
	last atomic.Int32
	now  func() time.Time
}

func NewIDGenerator(now func() time.Time) *IDGenerator {
	return &IDGenerator{now: now}
}

// Next returns max(previous+1, int32(now in millis)).
func (g *IDGenerator) Next() int32 {
	for {
		prev := g.last.Load()
		next := int32(g.now().UnixMilli())
		if next <= prev {
			next = prev + 1
		}
		if g.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}
