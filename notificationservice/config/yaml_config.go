// --- File: notificationservice/config/yaml_config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlDialogStoreConfig struct {
	Driver     string `yaml:"driver"`
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
}

type YamlChannelConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string                `yaml:"project_id"`
	ServiceAccountFile     string                `yaml:"service_account_file"`
	ListenAddr             string                `yaml:"listen_addr"`
	TopicID                string                `yaml:"topic_id"`
	SubscriptionID         string                `yaml:"subscription_id"`
	SubscriptionDLQTopicID string                `yaml:"subscription_dlq_topic_id"`
	CorsConfig             YamlCorsConfig        `yaml:"cors"`
	RedisConfig            YamlRedisConfig       `yaml:"redis"`
	DialogStore            YamlDialogStoreConfig `yaml:"dialog_store"`
	Channel                YamlChannelConfig     `yaml:"channel"`
	Topics                 []string              `yaml:"topics"`
	Endpoint               string                `yaml:"fcm_endpoint"`
	SendTimeout            string                `yaml:"send_timeout"`
	ImageTimeout           string                `yaml:"image_timeout"`
	NumPipelineWorkers     int                   `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	sendTimeout, err := parseDuration("send_timeout", baseCfg.SendTimeout)
	if err != nil {
		return nil, err
	}
	imageTimeout, err := parseDuration("image_timeout", baseCfg.ImageTimeout)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		DialogStore: DialogStoreConfig{
			Driver:     baseCfg.DialogStore.Driver,
			Path:       baseCfg.DialogStore.Path,
			Collection: baseCfg.DialogStore.Collection,
		},
		Channel: ChannelConfig{
			ID:   baseCfg.Channel.ID,
			Name: baseCfg.Channel.Name,
		},
		Topics:                 baseCfg.Topics,
		Endpoint:               baseCfg.Endpoint,
		SendTimeout:            sendTimeout,
		ImageTimeout:           imageTimeout,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if baseCfg.ServiceAccountFile != "" {
		secret, err := os.ReadFile(baseCfg.ServiceAccountFile)
		if err != nil {
			// Env overrides may still supply the secret.
			logger.Warn("Service account file not readable", "path", baseCfg.ServiceAccountFile, "err", err)
		} else {
			cfg.ServiceAccountSecret = string(secret)
		}
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"dialog_store", cfg.DialogStore.Driver,
	)

	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
