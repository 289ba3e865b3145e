// --- File: cmd/notificationservice/runnotificationservice.go ---
package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-easy-notifier/internal/dialogstore"
	"github.com/tinywideclouds/go-easy-notifier/internal/platform/fcm"
	"github.com/tinywideclouds/go-easy-notifier/internal/platform/sink"
	"github.com/tinywideclouds/go-easy-notifier/internal/receiver"
	"github.com/tinywideclouds/go-easy-notifier/internal/render"

	"github.com/tinywideclouds/go-easy-notifier/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-easy-notifier/internal/storage/firestore"
	"github.com/tinywideclouds/go-easy-notifier/internal/storage/sqlite"
	"github.com/tinywideclouds/go-easy-notifier/pkg/dispatch"

	"github.com/tinywideclouds/go-easy-notifier/notificationservice"
	"github.com/tinywideclouds/go-easy-notifier/notificationservice/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-easy-notifier")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("Service exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		return fmt.Errorf("failed to unmarshal embedded yaml config: %w", err)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return fmt.Errorf("yaml config invalid: %w", err)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		return fmt.Errorf("config failed: %w", err)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client failed: %w", err)
	}
	defer psClient.Close()

	var redisClient *cache.RedisClient
	if cfg.Redis.Enabled || cfg.DialogStore.Driver == config.DriverRedis {
		logger.Info("Connecting to Redis...", "addr", cfg.Redis.Addr)
		redisClient, err = cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		// A redis dialog backend owns the client and closes it itself.
		if cfg.DialogStore.Driver != config.DriverRedis {
			defer redisClient.Close()
		}
	}

	var fsClient *firestore.Client
	if cfg.DialogStore.Driver == config.DriverFirestore {
		fsClient, err = firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("firestore client failed: %w", err)
		}
		defer fsClient.Close()
	}

	// --- Dialog Store ---
	backend, err := newDialogBackend(ctx, cfg, redisClient, fsClient, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	store, err := dialogstore.Open(ctx, backend, logger)
	if err != nil {
		return fmt.Errorf("dialog store failed: %w", err)
	}

	// --- Firebase topic management ---
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID},
		option.WithCredentialsJSON([]byte(cfg.ServiceAccountSecret)))
	if err != nil {
		return fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		return fmt.Errorf("failed to create fcm messaging client: %w", err)
	}
	subscriber := fcm.NewTopicSubscriber(fcmMessaging, logger)

	// --- Receiver ---
	renderer := render.NewRenderer(
		sink.NewLogSink(logger),
		render.NewHTTPImageLoader(cfg.ImageTimeout, logger),
		render.NewChannel(cfg.Channel.ID, cfg.Channel.Name),
		logger,
	)

	var opts []notificationservice.Option
	hooks := receiver.Hooks{}
	if fsClient != nil {
		tokenStore := fsStore.NewTokenStore(fsClient, cfg.DialogStore.Collection)
		topics := cfg.Topics
		hooks.OnTokenUpdated = func(ctx context.Context, token string) {
			if err := tokenStore.Register(ctx, token, topics); err != nil {
				logger.Error("Failed to record registration token", "err", err)
			}
		}
		opts = append(opts, notificationservice.WithTokenRegistry(tokenStore))
		logger.Info("Token registry enabled", "type", "firestore")
	}
	recv := receiver.New(renderer, store, subscriber, cfg.Topics, hooks, logger)

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		return fmt.Errorf("jwt discovery failed: %w", err)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		return fmt.Errorf("auth middleware failed: %w", err)
	}

	// --- Consumer & Service ---
	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		return err
	}

	service, err := notificationservice.New(cfg, consumer, recv, store, authMiddleware, logger, opts...)
	if err != nil {
		return fmt.Errorf("service creation failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting service...")
		errCh <- service.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return service.Shutdown(shutdownCtx)
}

func newDialogBackend(ctx context.Context, cfg *config.Config, redisClient *cache.RedisClient, fsClient *firestore.Client, logger *slog.Logger) (dispatch.DialogBackend, error) {
	switch cfg.DialogStore.Driver {
	case config.DriverRedis:
		logger.Info("Dialog store initialized", "type", "redis")
		return cache.NewDialogBackend(redisClient, logger), nil
	case config.DriverFirestore:
		var backend dispatch.DialogBackend = fsStore.NewDialogBackend(fsClient, cfg.DialogStore.Collection, logger)
		if redisClient != nil {
			logger.Info("Dialog store initialized", "type", "redis_cached_firestore")
			return cache.NewCachedDialogBackend(backend, redisClient, logger), nil
		}
		logger.Info("Dialog store initialized", "type", "firestore", "collection", cfg.DialogStore.Collection)
		return backend, nil
	default:
		backend, err := sqlite.Open(ctx, cfg.DialogStore.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite dialog store failed: %w", err)
		}
		logger.Info("Dialog store initialized", "type", "sqlite", "path", cfg.DialogStore.Path)
		return backend, nil
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(cfg.PubsubConsumerConfig, psClient, logger)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
