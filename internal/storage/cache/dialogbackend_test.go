package cache_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-easy-notifier/internal/storage/cache"
	"github.com/tinywideclouds/go-easy-notifier/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---
type MockHashClient struct {
	mock.Mock
}

func (m *MockHashClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}
func (m *MockHashClient) ReplaceHash(ctx context.Context, key string, fields map[string]string) error {
	return m.Called(ctx, key, fields).Error(0)
}
func (m *MockHashClient) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}
func (m *MockHashClient) Publish(ctx context.Context, channel, message string) error {
	return m.Called(ctx, channel, message).Error(0)
}
func (m *MockHashClient) Subscribe(ctx context.Context, channel string) (<-chan struct{}, error) {
	args := m.Called(ctx, channel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(<-chan struct{}), args.Error(1)
}
func (m *MockHashClient) Close() error { return m.Called().Error(0) }

type MockRealStore struct {
	mock.Mock
}

func (m *MockRealStore) Load(ctx context.Context) (dispatch.DialogRecord, error) {
	args := m.Called(ctx)
	return args.Get(0).(dispatch.DialogRecord), args.Error(1)
}
func (m *MockRealStore) Store(ctx context.Context, rec dispatch.DialogRecord) error {
	return m.Called(ctx, rec).Error(0)
}
func (m *MockRealStore) Reset(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *MockRealStore) Close() error                    { return m.Called().Error(0) }

var pending = dispatch.DialogRecord{HasDialog: true, Title: "Sale", Body: "Now", Timestamp: 42, Action: "open"}

func TestDialogBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("Store replaces the hash and publishes", func(t *testing.T) {
		client := new(MockHashClient)
		client.On("ReplaceHash", ctx, cache.DialogKey, map[string]string{
			"has_dialog": "1", "title": "Sale", "body": "Now", "timestamp": "42", "action": "open",
		}).Return(nil).Once()
		client.On("Publish", ctx, cache.ChangesChannel, cache.DialogKey).Return(nil).Once()

		require.NoError(t, cache.NewDialogBackend(client, newTestLogger()).Store(ctx, pending))
		client.AssertExpectations(t)
	})

	t.Run("Clear keeps only the presence flag", func(t *testing.T) {
		client := new(MockHashClient)
		client.On("ReplaceHash", ctx, cache.DialogKey, map[string]string{"has_dialog": "0"}).Return(nil).Once()
		client.On("Publish", ctx, mock.Anything, mock.Anything).Return(errors.New("no subscribers"))

		require.NoError(t, cache.NewDialogBackend(client, newTestLogger()).Store(ctx, dispatch.DialogRecord{}))
		client.AssertExpectations(t)
	})

	t.Run("Load decodes the hash", func(t *testing.T) {
		client := new(MockHashClient)
		client.On("HGetAll", ctx, cache.DialogKey).Return(map[string]string{
			"has_dialog": "1", "title": "Sale", "body": "Now", "timestamp": "42", "action": "open",
		}, nil)

		rec, err := cache.NewDialogBackend(client, newTestLogger()).Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, pending, rec)
	})

	t.Run("Load of an empty hash is no dialog", func(t *testing.T) {
		client := new(MockHashClient)
		client.On("HGetAll", ctx, cache.DialogKey).Return(map[string]string{}, nil)

		rec, err := cache.NewDialogBackend(client, newTestLogger()).Load(ctx)
		require.NoError(t, err)
		assert.False(t, rec.HasDialog)
	})

	t.Run("Store failure is returned and nothing is published", func(t *testing.T) {
		client := new(MockHashClient)
		client.On("ReplaceHash", ctx, mock.Anything, mock.Anything).Return(errors.New("down"))

		err := cache.NewDialogBackend(client, newTestLogger()).Store(ctx, pending)
		require.Error(t, err)
		client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Changes subscribes to the change channel", func(t *testing.T) {
		client := new(MockHashClient)
		feed := make(chan struct{})
		client.On("Subscribe", ctx, cache.ChangesChannel).Return((<-chan struct{})(feed), nil)

		got, err := cache.NewDialogBackend(client, newTestLogger()).Changes(ctx)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})
}

func TestCachedDialogBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("Hit is served from cache", func(t *testing.T) {
		client := new(MockHashClient)
		db := new(MockRealStore)
		client.On("HGetAll", ctx, cache.CachedDialogKey).Return(map[string]string{"has_dialog": "1", "title": "Sale", "timestamp": "42"}, nil)

		rec, err := cache.NewCachedDialogBackend(db, client, newTestLogger()).Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Sale", rec.Title)
		db.AssertNotCalled(t, "Load", mock.Anything)
	})

	t.Run("Miss falls back and populates", func(t *testing.T) {
		client := new(MockHashClient)
		db := new(MockRealStore)
		client.On("HGetAll", ctx, cache.CachedDialogKey).Return(nil, errors.New("down"))
		db.On("Load", ctx).Return(pending, nil)
		client.On("ReplaceHash", ctx, cache.CachedDialogKey, mock.Anything).Return(nil)

		rec, err := cache.NewCachedDialogBackend(db, client, newTestLogger()).Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, pending, rec)
		client.AssertExpectations(t)
	})

	t.Run("Write invalidates cache immediately", func(t *testing.T) {
		client := new(MockHashClient)
		db := new(MockRealStore)
		db.On("Store", ctx, pending).Return(nil)
		client.On("Del", ctx, cache.CachedDialogKey).Return(nil)

		require.NoError(t, cache.NewCachedDialogBackend(db, client, newTestLogger()).Store(ctx, pending))
		db.AssertExpectations(t)
		client.AssertExpectations(t)
	})

	t.Run("Failed write does not invalidate", func(t *testing.T) {
		client := new(MockHashClient)
		db := new(MockRealStore)
		db.On("Reset", ctx).Return(errors.New("denied"))

		require.Error(t, cache.NewCachedDialogBackend(db, client, newTestLogger()).Reset(ctx))
		client.AssertNotCalled(t, "Del", mock.Anything, mock.Anything)
	})
}
