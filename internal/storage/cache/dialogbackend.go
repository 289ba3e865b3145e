// Package cache holds the Redis-backed dialog storage: a primary backend with
// a pub/sub change feed, and a read-aside decorator for slower backends.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/tinywideclouds/go-easy-notifier/pkg/dispatch"
)

const (
	// DialogKey is the hash holding the pending dialog.
	DialogKey = "notify:dialog"
	// ChangesChannel carries one message per write to DialogKey.
	ChangesChannel = "notify:dialog:changed"
)

// HashClient defines the subset of Redis commands we need.
type HashClient interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	ReplaceHash(ctx context.Context, key string, fields map[string]string) error
	Del(ctx context.Context, key string) error
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channel string) (<-chan struct{}, error)
	Close() error
}

// DialogBackend implements dispatch.DialogBackend and dispatch.ChangeFeed on
// a Redis hash.
type DialogBackend struct {
	client HashClient
	logger *slog.Logger
}

func NewDialogBackend(client HashClient, logger *slog.Logger) *DialogBackend {
	return &DialogBackend{
		client: client,
		logger: logger.With("component", "RedisDialogBackend"),
	}
}

func (b *DialogBackend) Load(ctx context.Context) (dispatch.DialogRecord, error) {
	fields, err := b.client.HGetAll(ctx, DialogKey)
	if err != nil {
		return dispatch.DialogRecord{}, fmt.Errorf("redis load failed: %w", err)
	}
	return decodeRecord(fields), nil
}

func (b *DialogBackend) Store(ctx context.Context, rec dispatch.DialogRecord) error {
	if err := b.client.ReplaceHash(ctx, DialogKey, encodeRecord(rec)); err != nil {
		return fmt.Errorf("redis store failed: %w", err)
	}
	b.notify(ctx)
	return nil
}

func (b *DialogBackend) Reset(ctx context.Context) error {
	if err := b.client.Del(ctx, DialogKey); err != nil {
		return fmt.Errorf("redis reset failed: %w", err)
	}
	b.notify(ctx)
	return nil
}

// Changes subscribes to the change channel.
func (b *DialogBackend) Changes(ctx context.Context) (<-chan struct{}, error) {
	return b.client.Subscribe(ctx, ChangesChannel)
}

func (b *DialogBackend) Close() error {
	return b.client.Close()
}

// notify is best-effort: the write already succeeded.
func (b *DialogBackend) notify(ctx context.Context) {
	if err := b.client.Publish(ctx, ChangesChannel, DialogKey); err != nil {
		b.logger.Warn("Failed to publish dialog change", "err", err)
	}
}

const (
	fieldHasDialog = "has_dialog"
	fieldTitle     = "title"
	fieldBody      = "body"
	fieldImageURL  = "image_url"
	fieldTimestamp = "timestamp"
	fieldAction    = "action"
)

func encodeRecord(rec dispatch.DialogRecord) map[string]string {
	if !rec.HasDialog {
		return map[string]string{fieldHasDialog: "0"}
	}
	fields := map[string]string{
		fieldHasDialog: "1",
		fieldTimestamp: strconv.FormatInt(rec.Timestamp, 10),
	}
	for k, v := range map[string]string{
		fieldTitle:    rec.Title,
		fieldBody:     rec.Body,
		fieldImageURL: rec.ImageURL,
		fieldAction:   rec.Action,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	return fields
}

func decodeRecord(fields map[string]string) dispatch.DialogRecord {
	if fields[fieldHasDialog] != "1" {
		return dispatch.DialogRecord{}
	}
	ts, _ := strconv.ParseInt(fields[fieldTimestamp], 10, 64)
	return dispatch.DialogRecord{
		HasDialog: true,
		Title:     fields[fieldTitle],
		Body:      fields[fieldBody],
		ImageURL:  fields[fieldImageURL],
		Timestamp: ts,
		Action:    fields[fieldAction],
	}
}
