// Package notifier is the outbound API: it sends a NotificationRequest to all
// users, a topic or a single device, asynchronously, and reports the outcome
// through callbacks.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-easy-notifier/internal/auth"
	"github.com/tinywideclouds/go-easy-notifier/internal/platform/fcm"
	"github.com/tinywideclouds/go-easy-notifier/pkg/dispatch"
	"github.com/tinywideclouds/go-easy-notifier/pkg/notification"
)

// Config is the sender's explicit configuration. It is built once at process
// start and passed to New.
type Config struct {
	ProjectID            string
	ServiceAccountSecret string
	// Endpoint overrides the FCM host (tests, emulators).
	Endpoint string
	// Timeout bounds every network call; zero selects fcm.DefaultTimeout.
	Timeout time.Duration
}

// Callbacks receive the outcome of one send. Either may be nil.
type Callbacks struct {
	OnSuccess func(messageID string)
	OnFailure func(err error)
}

// Option customises a Sender.
type Option func(*Sender)

// WithTokenProvider replaces the service-account token provider.
func WithTokenProvider(p dispatch.TokenProvider) Option {
	return func(s *Sender) { s.tokens = p }
}

// WithDispatcher replaces the FCM HTTP dispatcher.
func WithDispatcher(d dispatch.Dispatcher) Option {
	return func(s *Sender) { s.dispatcher = d }
}

// WithCallbackExecutor sets where callbacks run, for example a UI loop's
// post function. By default they run on the send's worker goroutine.
func WithCallbackExecutor(exec func(func())) Option {
	return func(s *Sender) { s.exec = exec }
}

// Sender composes the token provider, codec and dispatcher. Calls are
// independent; there is no serialisation between them.
type Sender struct {
	tokens     dispatch.TokenProvider
	dispatcher dispatch.Dispatcher
	exec       func(func())
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// New creates a Sender. It panics if cfg has no project id or secret: using
// the sender unconfigured is a programming error.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Sender {
	if cfg.ProjectID == "" || cfg.ServiceAccountSecret == "" {
		panic("notifier: configuration not initialized (project id and service account secret are required)")
	}

	s := &Sender{
		logger: logger.With("component", "NotificationSender"),
		exec:   func(f func()) { f() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tokens == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = fcm.DefaultTimeout
		}
		s.tokens = auth.NewTokenProvider(cfg.ServiceAccountSecret, auth.NewExchangeClient(timeout), logger)
	}
	if s.dispatcher == nil {
		s.dispatcher = fcm.NewDispatcher(cfg.ProjectID, cfg.Endpoint, cfg.Timeout, logger)
	}
	return s
}

// SendToAllUsers sends to the all_users topic.
func (s *Sender) SendToAllUsers(ctx context.Context, req notification.NotificationRequest, cb Callbacks) {
	s.SendToTopic(ctx, notification.TopicAllUsers, req, cb)
}

// SendToTopic sends req to topic. It returns immediately.
func (s *Sender) SendToTopic(ctx context.Context, topic string, req notification.NotificationRequest, cb Callbacks) {
	s.start(ctx, notification.TopicTarget(topic), req, cb)
}

// SendToDevice sends req to a single registration token. It returns immediately.
func (s *Sender) SendToDevice(ctx context.Context, token string, req notification.NotificationRequest, cb Callbacks) {
	s.start(ctx, notification.DeviceTarget(token), req, cb)
}

// Wait blocks until every send started so far has delivered its callback.
func (s *Sender) Wait() {
	s.wg.Wait()
}

// Close waits for in-flight sends and releases the dispatcher's network
// resources. Sending after Close is not supported.
func (s *Sender) Close() {
	s.wg.Wait()
	s.dispatcher.Close()
}

func (s *Sender) start(ctx context.Context, target notification.Target, req notification.NotificationRequest, cb Callbacks) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		id, err := s.run(ctx, target, req)
		s.complete(cb, id, err)
	}()
}

// run is strictly sequential: credential, encode, dispatch.
func (s *Sender) run(ctx context.Context, target notification.Target, req notification.NotificationRequest) (id string, err error) {
	logger := s.logger.With("send_id", uuid.NewString(), "target", target.String())

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Send panicked", "panic", r)
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()

	token, err := s.tokens.FetchToken(ctx)
	if err != nil {
		logger.Error("Failed to get access token", "err", err)
		return "", err
	}

	msg, err := notification.Encode(req, target)
	if err != nil {
		logger.Error("Failed to encode message", "err", err)
		return "", err
	}

	id, err = s.dispatcher.Send(ctx, msg, token)
	if err != nil {
		logger.Error("Failed to send notification", "err", err)
		return "", err
	}

	logger.Info("Notification sent", "message_id", id, "type", msg.Data[notification.KeyType])
	return id, nil
}

func (s *Sender) complete(cb Callbacks, id string, err error) {
	s.exec(func() {
		if err != nil {
			if cb.OnFailure != nil {
				cb.OnFailure(err)
			}
			return
		}
		if cb.OnSuccess != nil {
			cb.OnSuccess(id)
		}
	})
}
