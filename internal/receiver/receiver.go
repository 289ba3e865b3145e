// --- File: internal/receiver/receiver.go ---
package receiver

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/tinywideclouds/go-easy-notifier/pkg/dispatch"
	"github.com/tinywideclouds/go-easy-notifier/pkg/notification"
)

// Renderer posts a normal message to the notification surface.
type Renderer interface {
	Render(ctx context.Context, title, body, imageURL string, data map[string]string)
}

// DialogSaver is the write side of the pending-dialog store.
type DialogSaver interface {
	Save(ctx context.Context, d notification.PendingDialog) error
}

// Hooks are the host application's extension points. Any may be nil.
type Hooks struct {
	// ShouldProcess filters inbound messages; nil accepts everything.
	ShouldProcess func(data map[string]string) bool
	// OnTokenUpdated runs before topic subscriptions for a new token.
	OnTokenUpdated func(ctx context.Context, token string)
	// OnDialogStored runs after a dialog was persisted.
	OnDialogStored func(d notification.PendingDialog)
}

// Receiver is the inbound side of the notifier.
type Receiver struct {
	renderer   Renderer
	store      DialogSaver
	subscriber dispatch.TopicSubscriber
	topics     []string
	hooks      Hooks
	now        func() time.Time

	// scope is canceled in bulk by Close.
	scope  context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	logger *slog.Logger
}

// New creates a Receiver subscribing new tokens to topics.
func New(renderer Renderer, store DialogSaver, subscriber dispatch.TopicSubscriber, topics []string, hooks Hooks, logger *slog.Logger) *Receiver {
	scope, cancel := context.WithCancel(context.Background())
	return &Receiver{
		renderer:   renderer,
		store:      store,
		subscriber: subscriber,
		topics:     slices.Clone(topics),
		hooks:      hooks,
		now:        time.Now,
		scope:      scope,
		cancel:     cancel,
		logger:     logger.With("component", "NotificationReceiver"),
	}
}

// HandleMessage classifies data and processes it to completion. It returns
// the terminal state reached; failures are logged, never returned. After
// Close it does nothing and returns StateIdle.
func (r *Receiver) HandleMessage(ctx context.Context, data map[string]string) State {
	ctx, done, ok := r.enter(ctx)
	if !ok {
		r.logger.Debug("Receiver closed, dropping message")
		return StateIdle
	}
	defer done()

	state, reason := Classify(data, r.hooks.ShouldProcess)
	switch state {
	case StateRendering:
		r.renderer.Render(ctx, data[notification.KeyTitle], data[notification.KeyBody], data[notification.KeyImageURL], data)
	case StateStoring:
		r.storeDialog(ctx, data)
	case StateDiscarded:
		switch reason {
		case ReasonUnknownType, ReasonMissingType:
			r.logger.Warn("Discarding message", "reason", reason, "type", data[notification.KeyType])
		default:
			r.logger.Debug("Discarding message", "reason", reason)
		}
	}
	return state
}

func (r *Receiver) storeDialog(ctx context.Context, data map[string]string) {
	d := notification.PendingDialog{
		Title:           data[notification.KeyTitle],
		Body:            data[notification.KeyBody],
		ImageURL:        data[notification.KeyImageURL],
		TimestampMillis: r.now().UnixMilli(),
		Action:          data[notification.KeyAction],
	}
	if err := r.store.Save(ctx, d); err != nil {
		r.logger.Error("Failed to store pending dialog", "err", err)
		return
	}
	r.logger.Info("Pending dialog stored", "title", d.Title)
	if r.hooks.OnDialogStored != nil {
		r.hooks.OnDialogStored(d)
	}
}

// HandleNewToken forwards token to the host hook and subscribes it to every
// configured topic. Subscriptions are independent and fire-and-forget.
// After Close it does nothing.
func (r *Receiver) HandleNewToken(ctx context.Context, token string) {
	ctx, done, ok := r.enter(ctx)
	if !ok {
		r.logger.Warn("Receiver closed, ignoring token update")
		return
	}
	defer done()

	if r.hooks.OnTokenUpdated != nil {
		r.hooks.OnTokenUpdated(ctx, token)
	}

	for _, topic := range r.topics {
		if !r.track() {
			return
		}
		go func() {
			defer r.wg.Done()
			if err := r.subscriber.Subscribe(r.scope, token, topic); err != nil {
				r.logger.Error("Failed to subscribe to topic", "topic", topic, "err", err)
				return
			}
			r.logger.Info("Subscribed to topic", "topic", topic)
		}()
	}
}

// Close cancels all in-flight work and waits for it to unwind. Work arriving
// after Close is dropped.
func (r *Receiver) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}

// track registers one unit of work unless the receiver is closed.
func (r *Receiver) track() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.wg.Add(1)
	return true
}

// enter derives a context canceled by either ctx or Close.
func (r *Receiver) enter(ctx context.Context) (context.Context, func(), bool) {
	if !r.track() {
		return ctx, nil, false
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(r.scope, cancel)
	return ctx, func() {
		stop()
		cancel()
		r.wg.Done()
	}, true
}
