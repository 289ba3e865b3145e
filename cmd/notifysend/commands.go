package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-easy-notifier/notificationservice/config"
	"github.com/tinywideclouds/go-easy-notifier/notifier"
	"github.com/tinywideclouds/go-easy-notifier/pkg/notification"
)

// sender is the part of *notifier.Sender the commands drive.
type sender interface {
	SendToAllUsers(ctx context.Context, req notification.NotificationRequest, cb notifier.Callbacks)
	SendToTopic(ctx context.Context, topic string, req notification.NotificationRequest, cb notifier.Callbacks)
	SendToDevice(ctx context.Context, token string, req notification.NotificationRequest, cb notifier.Callbacks)
	Close()
}

type senderFactory func(cfg notifier.Config, logger *slog.Logger) sender

func newNotifierSender(cfg notifier.Config, logger *slog.Logger) sender {
	return notifier.New(cfg, logger)
}

type sendOptions struct {
	configPath     string
	project        string
	serviceAccount string
	endpoint       string
	timeout        time.Duration

	title string
	body  string
	image string
	kind  string
	extra []string
}

func newRootCmd(out io.Writer, factory senderFactory, logger *slog.Logger) *cobra.Command {
	opts := &sendOptions{}

	root := &cobra.Command{
		Use:          "notifysend",
		Short:        "Send a push notification through Firebase Cloud Messaging",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "service yaml config to read project and credentials from")
	flags.StringVar(&opts.project, "project", "", "Firebase project id (default $PROJECT_ID)")
	flags.StringVar(&opts.serviceAccount, "service-account", "", "service account JSON file (default $SERVICE_ACCOUNT_FILE)")
	flags.StringVar(&opts.endpoint, "endpoint", "", "override the FCM endpoint")
	flags.DurationVar(&opts.timeout, "timeout", 0, "network timeout per call")
	flags.StringVarP(&opts.title, "title", "t", "", "notification title")
	flags.StringVarP(&opts.body, "body", "b", "", "notification body")
	flags.StringVar(&opts.image, "image", "", "image URL")
	flags.StringVar(&opts.kind, "kind", "normal", "message kind: normal or dialog")
	flags.StringArrayVar(&opts.extra, "extra", nil, "extra data as key=value (repeatable)")

	send := func(dispatch func(ctx context.Context, s sender, req notification.NotificationRequest, cb notifier.Callbacks)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			req, err := opts.request()
			if err != nil {
				return err
			}
			cfg, err := opts.notifierConfig(logger)
			if err != nil {
				return err
			}

			s := factory(cfg, logger)
			defer s.Close()

			done := make(chan error, 1)
			dispatch(cmd.Context(), s, req, notifier.Callbacks{
				OnSuccess: func(id string) {
					fmt.Fprintf(out, "sent: %s\n", id)
					done <- nil
				},
				OnFailure: func(err error) { done <- err },
			})

			select {
			case err := <-done:
				return err
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "all",
			Short: "Send to every user (the all_users topic)",
			Args:  cobra.NoArgs,
			RunE: send(func(ctx context.Context, s sender, req notification.NotificationRequest, cb notifier.Callbacks) {
				s.SendToAllUsers(ctx, req, cb)
			}),
		},
		&cobra.Command{
			Use:   "topic <name>",
			Short: "Send to a topic",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return send(func(ctx context.Context, s sender, req notification.NotificationRequest, cb notifier.Callbacks) {
					s.SendToTopic(ctx, args[0], req, cb)
				})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "device <token>",
			Short: "Send to a single registration token",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return send(func(ctx context.Context, s sender, req notification.NotificationRequest, cb notifier.Callbacks) {
					s.SendToDevice(ctx, args[0], req, cb)
				})(cmd, args)
			},
		},
	)
	return root
}

func (o *sendOptions) request() (notification.NotificationRequest, error) {
	kind, ok := notification.ParseKind(o.kind)
	if !ok {
		return notification.NotificationRequest{}, fmt.Errorf("unknown kind %q (want normal or dialog)", o.kind)
	}
	extra, err := parseExtras(o.extra)
	if err != nil {
		return notification.NotificationRequest{}, err
	}
	return notification.NotificationRequest{
		Title:    o.title,
		Body:     o.body,
		ImageURL: o.image,
		Kind:     kind,
		Extra:    extra,
	}, nil
}

// notifierConfig layers the yaml config, the environment, then flags.
func (o *sendOptions) notifierConfig(logger *slog.Logger) (notifier.Config, error) {
	var cfg notifier.Config
	if o.configPath != "" {
		raw, err := os.ReadFile(o.configPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		var yamlCfg config.YamlConfig
		if err := yaml.Unmarshal(raw, &yamlCfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
		svcCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
		if err != nil {
			return cfg, err
		}
		cfg = svcCfg.NotifierConfig()
	}

	if val := os.Getenv("PROJECT_ID"); val != "" {
		cfg.ProjectID = val
	}
	if o.project != "" {
		cfg.ProjectID = o.project
	}

	secretPath := o.serviceAccount
	if secretPath == "" {
		secretPath = os.Getenv("SERVICE_ACCOUNT_FILE")
	}
	if secretPath != "" {
		secret, err := os.ReadFile(secretPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to read service account: %w", err)
		}
		cfg.ServiceAccountSecret = string(secret)
	}

	if o.endpoint != "" {
		cfg.Endpoint = o.endpoint
	}
	if o.timeout > 0 {
		cfg.Timeout = o.timeout
	}

	if cfg.ProjectID == "" {
		return cfg, errors.New("project id is required (--project or PROJECT_ID)")
	}
	if cfg.ServiceAccountSecret == "" {
		return cfg, errors.New("service account is required (--service-account or SERVICE_ACCOUNT_FILE)")
	}
	return cfg, nil
}

func parseExtras(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	extra := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --extra %q (want key=value)", pair)
		}
		extra[key] = value
	}
	return extra, nil
}
