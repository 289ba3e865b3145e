// --- File: notificationservice/service.go ---
package notificationservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-easy-notifier/internal/api"
	"github.com/tinywideclouds/go-easy-notifier/internal/pipeline"
	"github.com/tinywideclouds/go-easy-notifier/notificationservice/config"
)

// Receiver is the inbound handler the service drives.
type Receiver interface {
	pipeline.EventHandler
	Close()
}

// DialogStore is the pending-dialog store shared with the foreground API.
type DialogStore interface {
	api.DialogStore
	Watch(ctx context.Context) error
}

// Option customises the service.
type Option func(*options)

type options struct {
	registry api.TokenRegistry
}

// WithTokenRegistry enables token unregistration against registry.
func WithTokenRegistry(registry api.TokenRegistry) Option {
	return func(o *options) { o.registry = registry }
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[pipeline.InboundEvent]
	receiver        Receiver
	store           DialogStore
	watchCancel     context.CancelFunc
	watchDone       sync.WaitGroup
	logger          *slog.Logger
}

// New assembles the service.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	receiver Receiver,
	store DialogStore,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
	opts ...Option,
) (*Wrapper, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Processor
	processor := pipeline.NewProcessor(receiver, logger)

	// 3. Pipeline
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.InboundEventTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. API
	tokenAPI := api.NewTokenAPI(receiver, o.registry, logger)
	dialogAPI := api.NewDialogAPI(store, nil, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	// Token registration
	handle("POST /api/v1/tokens", tokenAPI.RegisterToken)
	handle("DELETE /api/v1/tokens", tokenAPI.UnregisterToken)

	// Foreground observer
	handle("GET /api/v1/dialog", dialogAPI.GetDialog)
	handle("DELETE /api/v1/dialog", dialogAPI.AckDialog)
	handle("GET /api/v1/dialog/stream", dialogAPI.StreamDialog)

	// Global OPTIONS for the API namespace (CORS preflight)
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Just returns 200 OK with CORS headers handled by middleware
	})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		receiver:        receiver,
		store:           store,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.watchCancel = cancel
	w.watchDone.Add(1)
	go func() {
		defer w.watchDone.Done()
		if err := w.store.Watch(watchCtx); err != nil {
			w.logger.Error("Dialog change feed stopped", "err", err)
		}
	}()

	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

// Shutdown stops both intakes first (pipeline, then HTTP), then cancels
// in-flight receiver work and the change feed.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.receiver.Close()
	if w.watchCancel != nil {
		w.watchCancel()
		w.watchDone.Wait()
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
