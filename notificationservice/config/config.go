// --- File: notificationservice/config/config.go ---
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-easy-notifier/notifier"
	"github.com/tinywideclouds/go-easy-notifier/pkg/notification"
)

// Dialog store drivers.
const (
	DriverSQLite    = "sqlite"
	DriverRedis     = "redis"
	DriverFirestore = "firestore"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// DefaultFirestoreCollection is the root collection for the firestore driver.
const DefaultFirestoreCollection = "easy-notifier"

type DialogStoreConfig struct {
	Driver     string
	// Path is the SQLite database file.
	Path       string
	// Collection is the Firestore root collection.
	Collection string
}

type ChannelConfig struct {
	ID   string
	Name string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ServiceAccountSecret   string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig  middleware.CorsConfig
	Redis       RedisConfig
	DialogStore DialogStoreConfig
	Channel     ChannelConfig

	// Topics every new registration token is subscribed to.
	Topics       []string
	Endpoint     string
	SendTimeout  time.Duration
	ImageTimeout time.Duration

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// NotifierConfig derives the outbound sender configuration.
func (c *Config) NotifierConfig() notifier.Config {
	return notifier.Config{
		ProjectID:            c.ProjectID,
		ServiceAccountSecret: c.ServiceAccountSecret,
		Endpoint:             c.Endpoint,
		Timeout:              c.SendTimeout,
	}
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}
	if val := os.Getenv("SUBSCRIPTION_TOPICS"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_TOPICS", "source", "env")
		cfg.Topics = splitList(val)
	}
	if val := os.Getenv("FCM_ENDPOINT"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_ENDPOINT", "source", "env")
		cfg.Endpoint = val
	}

	// Credentials: inline JSON wins over a file path.
	if val := os.Getenv("SERVICE_ACCOUNT_JSON"); val != "" {
		logger.Debug("Overriding config value", "key", "SERVICE_ACCOUNT_JSON", "source", "env")
		cfg.ServiceAccountSecret = val
	} else if path := os.Getenv("SERVICE_ACCOUNT_FILE"); path != "" {
		secret, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read SERVICE_ACCOUNT_FILE: %w", err)
		}
		logger.Debug("Overriding config value", "key", "SERVICE_ACCOUNT_FILE", "source", "env")
		cfg.ServiceAccountSecret = string(secret)
	}

	// Dialog store overrides
	if val := os.Getenv("DIALOG_STORE_DRIVER"); val != "" {
		cfg.DialogStore.Driver = strings.ToLower(val)
	}
	if val := os.Getenv("DIALOG_STORE_PATH"); val != "" {
		cfg.DialogStore.Path = val
	}
	if val := os.Getenv("DIALOG_STORE_COLLECTION"); val != "" {
		cfg.DialogStore.Collection = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		cfg.CorsConfig.AllowedOrigins = splitList(corsOrigins)
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if cfg.ServiceAccountSecret == "" {
		return nil, errors.New("service account secret is required (set SERVICE_ACCOUNT_JSON or SERVICE_ACCOUNT_FILE)")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = []string{notification.TopicAllUsers}
	}

	switch cfg.DialogStore.Driver {
	case "":
		cfg.DialogStore.Driver = DriverSQLite
	case DriverSQLite, DriverRedis, DriverFirestore:
	default:
		return nil, fmt.Errorf("unknown dialog store driver %q (want sqlite, redis or firestore)", cfg.DialogStore.Driver)
	}
	if cfg.DialogStore.Driver == DriverSQLite && cfg.DialogStore.Path == "" {
		cfg.DialogStore.Path = "data/dialog.db"
	}
	if cfg.DialogStore.Collection == "" {
		cfg.DialogStore.Collection = DefaultFirestoreCollection
	}
	if strings.Contains(cfg.DialogStore.Collection, "/") {
		return nil, fmt.Errorf("dialog store collection %q must be a single collection id", cfg.DialogStore.Collection)
	}
	if cfg.DialogStore.Driver == DriverRedis && cfg.Redis.Addr == "" {
		return nil, errors.New("dialog store driver redis requires REDIS_ADDR")
	}

	if cfg.Channel.ID == "" {
		cfg.Channel.ID = "easy_notifier_channel"
	}
	if cfg.Channel.Name == "" {
		cfg.Channel.Name = "Easy Notifier"
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func splitList(raw string) []string {
	var clean []string
	for _, o := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	return clean
}
