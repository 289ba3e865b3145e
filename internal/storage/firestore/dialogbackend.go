// Package firestore holds the Cloud Firestore storage: the pending-dialog
// document with its realtime change feed, and the device token registry.
package firestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-easy-notifier/pkg/dispatch"
)

const (
	// DefaultCollection is the root collection used by this module.
	DefaultCollection = "easy-notifier"
	dialogDocID       = "pending_dialog"
)

// dialogDocument is the internal DB representation of the namespace.
type dialogDocument struct {
	HasDialog bool      `firestore:"has_dialog"`
	Title     string    `firestore:"title,omitempty"`
	Body      string    `firestore:"body,omitempty"`
	ImageURL  string    `firestore:"image_url,omitempty"`
	Timestamp int64     `firestore:"timestamp,omitempty"`
	Action    string    `firestore:"action,omitempty"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// DialogBackend implements dispatch.DialogBackend and dispatch.ChangeFeed on
// a single Firestore document.
type DialogBackend struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

func NewDialogBackend(client *firestore.Client, collection string, logger *slog.Logger) *DialogBackend {
	if collection == "" {
		collection = DefaultCollection
	}
	return &DialogBackend{
		client:     client,
		collection: collection,
		logger:     logger.With("component", "FirestoreDialogBackend"),
	}
}

func (b *DialogBackend) Load(ctx context.Context) (dispatch.DialogRecord, error) {
	snap, err := b.docRef().Get(ctx)
	if status.Code(err) == codes.NotFound {
		return dispatch.DialogRecord{}, nil
	}
	if err != nil {
		return dispatch.DialogRecord{}, fmt.Errorf("firestore get failed: %w", err)
	}
	return decodeSnapshot(snap)
}

func (b *DialogBackend) Store(ctx context.Context, rec dispatch.DialogRecord) error {
	doc := dialogDocument{HasDialog: rec.HasDialog, UpdatedAt: time.Now()}
	if rec.HasDialog {
		doc.Title = rec.Title
		doc.Body = rec.Body
		doc.ImageURL = rec.ImageURL
		doc.Timestamp = rec.Timestamp
		doc.Action = rec.Action
	}
	if _, err := b.docRef().Set(ctx, doc); err != nil {
		return fmt.Errorf("firestore set failed: %w", err)
	}
	return nil
}

func (b *DialogBackend) Reset(ctx context.Context) error {
	if _, err := b.docRef().Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete failed: %w", err)
	}
	return nil
}

// Changes streams realtime snapshots of the dialog document. The first
// snapshot is delivered as a change too.
func (b *DialogBackend) Changes(ctx context.Context) (<-chan struct{}, error) {
	iter := b.docRef().Snapshots(ctx)
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer iter.Stop()
		for {
			if _, err := iter.Next(); err != nil {
				if ctx.Err() == nil && status.Code(err) != codes.Canceled {
					b.logger.Error("Dialog snapshot listener stopped", "err", err)
				}
				return
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the client is owned by the caller.
func (b *DialogBackend) Close() error { return nil }

// docRef: {collection}/pending_dialog
func (b *DialogBackend) docRef() *firestore.DocumentRef {
	return b.client.Collection(b.collection).Doc(dialogDocID)
}

func decodeSnapshot(snap *firestore.DocumentSnapshot) (dispatch.DialogRecord, error) {
	if snap == nil || !snap.Exists() {
		return dispatch.DialogRecord{}, nil
	}
	var doc dialogDocument
	if err := snap.DataTo(&doc); err != nil {
		return dispatch.DialogRecord{}, fmt.Errorf("corrupt dialog document: %w", err)
	}
	if !doc.HasDialog {
		return dispatch.DialogRecord{}, nil
	}
	return dispatch.DialogRecord{
		HasDialog: true,
		Title:     doc.Title,
		Body:      doc.Body,
		ImageURL:  doc.ImageURL,
		Timestamp: doc.Timestamp,
		Action:    doc.Action,
	}, nil
}
