// --- File: internal/storage/cache/cacheddialog.go ---
package cache

import (
	"context"
	"log/slog"

	"github.com/tinywideclouds/go-easy-notifier/pkg/dispatch"
)

// CachedDialogKey is the read-aside cache entry used by CachedDialogBackend.
const CachedDialogKey = "notify:dialog:cache"

// CachedDialogBackend is a Decorator that adds Read-Aside caching to any
// DialogBackend.
type CachedDialogBackend struct {
	realStore dispatch.DialogBackend
	cache     HashClient
	logger    *slog.Logger
}

// NewCachedDialogBackend creates the decorator.
func NewCachedDialogBackend(realStore dispatch.DialogBackend, cache HashClient, logger *slog.Logger) *CachedDialogBackend {
	return &CachedDialogBackend{
		realStore: realStore,
		cache:     cache,
		logger:    logger.With("component", "CachedDialogBackend"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedDialogBackend) Load(ctx context.Context) (dispatch.DialogRecord, error) {
	// 1. Try Cache; an empty hash is a miss.
	fields, err := s.cache.HGetAll(ctx, CachedDialogKey)
	if err == nil && len(fields) > 0 {
		return decodeRecord(fields), nil
	}

	// 2. Fallback to Real Store
	rec, err := s.realStore.Load(ctx)
	if err != nil {
		return dispatch.DialogRecord{}, err
	}

	// 3. Populate Cache. Caching is an optimization, not a transaction.
	if err := s.cache.ReplaceHash(ctx, CachedDialogKey, encodeRecord(rec)); err != nil {
		s.logger.Debug("Failed to populate dialog cache", "err", err)
	}
	return rec, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedDialogBackend) Store(ctx context.Context, rec dispatch.DialogRecord) error {
	if err := s.realStore.Store(ctx, rec); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

func (s *CachedDialogBackend) Reset(ctx context.Context) error {
	if err := s.realStore.Reset(ctx); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

// Changes forwards the real store's feed, invalidating the cache before each
// signal so the reload sees the new value.
func (s *CachedDialogBackend) Changes(ctx context.Context) (<-chan struct{}, error) {
	feed, ok := s.realStore.(dispatch.ChangeFeed)
	if !ok {
		return nil, nil
	}
	in, err := feed.Changes(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan struct{})
	go func() {
		defer close(out)
		for range in {
			_ = s.invalidate(ctx)
			select {
			case out <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *CachedDialogBackend) Close() error {
	return s.realStore.Close()
}

func (s *CachedDialogBackend) invalidate(ctx context.Context) error {
	// The next Load is forced to go to the real store.
	return s.cache.Del(ctx, CachedDialogKey)
}
