// --- File: internal/dialogstore/store.go ---
// Package dialogstore holds at most one pending dialog per process, backed by
// a durable key-value namespace, and broadcasts every change to observers.
package dialogstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-easy-notifier/pkg/dispatch"
	"github.com/tinywideclouds/go-easy-notifier/pkg/notification"
)

// observerBuffer is the per-observer queue depth. A slow observer loses the
// oldest queued values, never the most recent one.
const observerBuffer = 16

// Store is the pending-dialog store. One instance is shared by the inbound
// receiver and the foreground observers.
type Store struct {
	mu        sync.Mutex
	backend   dispatch.DialogBackend
	current   *notification.PendingDialog
	observers map[int]chan *notification.PendingDialog
	nextID    int
	logger    *slog.Logger
}

// Open loads the persisted dialog from backend and returns a ready Store.
func Open(ctx context.Context, backend dispatch.DialogBackend, logger *slog.Logger) (*Store, error) {
	rec, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending dialog: %w", err)
	}
	return &Store{
		backend:   backend,
		current:   fromRecord(rec),
		observers: make(map[int]chan *notification.PendingDialog),
		logger:    logger.With("component", "PendingDialogStore"),
	}, nil
}

// Save overwrites any unconsumed dialog with d.
func (s *Store) Save(ctx context.Context, d notification.PendingDialog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Store(ctx, toRecord(&d)); err != nil {
		return fmt.Errorf("failed to save pending dialog: %w", err)
	}
	s.setLocked(&d)
	s.logger.Debug("Pending dialog saved", "title", d.Title, "timestamp", d.TimestampMillis)
	return nil
}

// Clear marks the pending dialog as consumed.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Store(ctx, dispatch.DialogRecord{}); err != nil {
		return fmt.Errorf("failed to clear pending dialog: %w", err)
	}
	s.setLocked(nil)
	return nil
}

// ClearAll removes every key in the namespace.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset dialog namespace: %w", err)
	}
	s.setLocked(nil)
	return nil
}

// Current returns a copy of the pending dialog, or nil.
func (s *Store) Current() *notification.PendingDialog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.current)
}

// HasDialog reports whether a dialog is pending.
func (s *Store) HasDialog() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Observe returns a stream that yields the current value immediately and then
// every change, in the order changes were applied. A nil value means no
// dialog is pending. The channel is closed when ctx is done.
func (s *Store) Observe(ctx context.Context) <-chan *notification.PendingDialog {
	ch := make(chan *notification.PendingDialog, observerBuffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = ch
	ch <- clone(s.current)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.observers, id)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

// Watch follows writes made to the backend by other processes until ctx is
// done. It returns immediately when the backend has no change feed.
// Only changes to the presence flag, title or body are published.
func (s *Store) Watch(ctx context.Context) error {
	feed, ok := s.backend.(dispatch.ChangeFeed)
	if !ok {
		return nil
	}
	changes, err := feed.Changes(ctx)
	if err != nil {
		return fmt.Errorf("failed to open change feed: %w", err)
	}
	s.logger.Info("Watching dialog backend for external changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, open := <-changes:
			if !open {
				return nil
			}
			if err := s.refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("Failed to refresh pending dialog", "err", err)
			}
		}
	}
}

func (s *Store) refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.backend.Load(ctx)
	if err != nil {
		return err
	}
	next := fromRecord(rec)
	if meaningfulEqual(s.current, next) {
		s.current = next
		return nil
	}
	s.setLocked(next)
	return nil
}

// setLocked replaces the current value and publishes it when it changed.
// s.mu must be held.
func (s *Store) setLocked(d *notification.PendingDialog) {
	if equal(s.current, d) {
		return
	}
	s.current = clone(d)
	for _, ch := range s.observers {
		offer(ch, clone(d))
	}
}

// offer enqueues v, evicting the oldest queued value if ch is full.
func offer(ch chan *notification.PendingDialog, v *notification.PendingDialog) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func clone(d *notification.PendingDialog) *notification.PendingDialog {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

func equal(a, b *notification.PendingDialog) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func meaningfulEqual(a, b *notification.PendingDialog) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Title == b.Title && a.Body == b.Body
}

func toRecord(d *notification.PendingDialog) dispatch.DialogRecord {
	return dispatch.DialogRecord{
		HasDialog: true,
		Title:     d.Title,
		Body:      d.Body,
		ImageURL:  d.ImageURL,
		Timestamp: d.TimestampMillis,
		Action:    d.Action,
	}
}

func fromRecord(rec dispatch.DialogRecord) *notification.PendingDialog {
	if !rec.HasDialog {
		return nil
	}
	return &notification.PendingDialog{
		Title:           rec.Title,
		Body:            rec.Body,
		ImageURL:        rec.ImageURL,
		TimestampMillis: rec.Timestamp,
		Action:          rec.Action,
	}
}
