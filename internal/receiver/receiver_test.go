package receiver_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-easy-notifier/internal/receiver"
	"github.com/tinywideclouds/go-easy-notifier/pkg/notification"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

type MockRenderer struct {
	mock.Mock
}

func (m *MockRenderer) Render(ctx context.Context, title, body, imageURL string, data map[string]string) {
	m.Called(ctx, title, body, imageURL, data)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Save(ctx context.Context, d notification.PendingDialog) error {
	return m.Called(ctx, d).Error(0)
}

type MockSubscriber struct {
	mock.Mock
}

func (m *MockSubscriber) Subscribe(ctx context.Context, token, topic string) error {
	return m.Called(ctx, token, topic).Error(0)
}

func TestClassify(t *testing.T) {
	reject := func(map[string]string) bool { return false }

	testCases := []struct {
		name   string
		data   map[string]string
		filter func(map[string]string) bool
		state  receiver.State
		reason receiver.Reason
	}{
		{"empty payload", map[string]string{}, nil, receiver.StateDiscarded, receiver.ReasonEmpty},
		{"nil payload", nil, nil, receiver.StateDiscarded, receiver.ReasonEmpty},
		{"filtered", map[string]string{"type": "normal"}, reject, receiver.StateDiscarded, receiver.ReasonFiltered},
		{"normal", map[string]string{"type": "normal"}, nil, receiver.StateRendering, receiver.ReasonNone},
		{"NORMAL uppercase", map[string]string{"type": "NORMAL"}, nil, receiver.StateRendering, receiver.ReasonNone},
		{"dialog", map[string]string{"type": "dialog"}, nil, receiver.StateStoring, receiver.ReasonNone},
		{"DiAlOg mixed case", map[string]string{"type": "DiAlOg"}, nil, receiver.StateStoring, receiver.ReasonNone},
		{"unknown", map[string]string{"type": "unknown"}, nil, receiver.StateDiscarded, receiver.ReasonUnknownType},
		{"missing", map[string]string{"title": "x"}, nil, receiver.StateDiscarded, receiver.ReasonMissingType},
		{"blank", map[string]string{"type": "  "}, nil, receiver.StateDiscarded, receiver.ReasonMissingType},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			state, reason := receiver.Classify(tc.data, tc.filter)
			assert.Equal(t, tc.state, state)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestReceiver_HandleMessage(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	t.Run("DIALOG routes to the store only", func(t *testing.T) {
		renderer := new(MockRenderer)
		store := new(MockStore)
		data := map[string]string{"type": "DIALOG", "title": "Sale", "body": "Now", "action": "open_store"}

		store.On("Save", mock.Anything, mock.MatchedBy(func(d notification.PendingDialog) bool {
			return d.Title == "Sale" && d.Body == "Now" && d.Action == "open_store" && d.ImageURL == "" && d.TimestampMillis > 0
		})).Return(nil).Once()

		var stored []notification.PendingDialog
		r := receiver.New(renderer, store, nil, nil, receiver.Hooks{
			OnDialogStored: func(d notification.PendingDialog) { stored = append(stored, d) },
		}, logger)
		defer r.Close()

		assert.Equal(t, receiver.StateStoring, r.HandleMessage(ctx, data))
		store.AssertExpectations(t)
		renderer.AssertNotCalled(t, "Render", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		require.Len(t, stored, 1)
	})

	t.Run("normal routes to the renderer only", func(t *testing.T) {
		renderer := new(MockRenderer)
		store := new(MockStore)
		data := map[string]string{"type": "normal", "title": "Hello", "body": "World", "imageUrl": "https://img"}
		renderer.On("Render", mock.Anything, "Hello", "World", "https://img", data).Once()

		r := receiver.New(renderer, store, nil, nil, receiver.Hooks{}, logger)
		defer r.Close()

		assert.Equal(t, receiver.StateRendering, r.HandleMessage(ctx, data))
		renderer.AssertExpectations(t)
		store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("unknown and missing type route to neither", func(t *testing.T) {
		renderer := new(MockRenderer)
		store := new(MockStore)
		r := receiver.New(renderer, store, nil, nil, receiver.Hooks{}, logger)
		defer r.Close()

		assert.Equal(t, receiver.StateDiscarded, r.HandleMessage(ctx, map[string]string{"type": "unknown"}))
		assert.Equal(t, receiver.StateDiscarded, r.HandleMessage(ctx, map[string]string{"title": "t"}))
		renderer.AssertNotCalled(t, "Render", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("store failure is absorbed", func(t *testing.T) {
		store := new(MockStore)
		store.On("Save", mock.Anything, mock.Anything).Return(errors.New("disk full"))
		called := false
		r := receiver.New(new(MockRenderer), store, nil, nil, receiver.Hooks{
			OnDialogStored: func(notification.PendingDialog) { called = true },
		}, logger)
		defer r.Close()

		assert.Equal(t, receiver.StateStoring, r.HandleMessage(ctx, map[string]string{"type": "dialog"}))
		assert.False(t, called)
	})

	t.Run("context is canceled by Close", func(t *testing.T) {
		renderer := new(MockRenderer)
		started := make(chan struct{})
		renderer.On("Render", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		})

		r := receiver.New(renderer, new(MockStore), nil, nil, receiver.Hooks{}, logger)
		result := make(chan receiver.State, 1)
		go func() { result <- r.HandleMessage(ctx, map[string]string{"type": "normal"}) }()

		<-started
		r.Close()
		select {
		case s := <-result:
			assert.Equal(t, receiver.StateRendering, s)
		case <-time.After(2 * time.Second):
			t.Fatal("render was not canceled")
		}
	})
}

func TestReceiver_HandleNewToken(t *testing.T) {
	ctx := context.Background()
	topics := []string{notification.TopicAllUsers, notification.TopicVIPUsers, notification.TopicAdminUsers}

	subscriber := new(MockSubscriber)
	subscriber.On("Subscribe", mock.Anything, "tok-1", notification.TopicAllUsers).Return(nil).Once()
	subscriber.On("Subscribe", mock.Anything, "tok-1", notification.TopicVIPUsers).Return(errors.New("rejected")).Once()
	subscriber.On("Subscribe", mock.Anything, "tok-1", notification.TopicAdminUsers).Return(nil).Once()

	var mu sync.Mutex
	var hooked []string
	r := receiver.New(new(MockRenderer), new(MockStore), subscriber, topics, receiver.Hooks{
		OnTokenUpdated: func(_ context.Context, token string) {
			mu.Lock()
			defer mu.Unlock()
			hooked = append(hooked, token)
		},
	}, newTestLogger())

	r.HandleNewToken(ctx, "tok-1")
	r.Close()

	assert.Equal(t, []string{"tok-1"}, hooked)
	// One failing subscription does not block the others.
	subscriber.AssertExpectations(t)
}

func TestReceiver_WorkAfterCloseIsDropped(t *testing.T) {
	ctx := context.Background()
	renderer := new(MockRenderer)
	store := new(MockStore)
	subscriber := new(MockSubscriber)
	hookCalls := 0

	r := receiver.New(renderer, store, subscriber, []string{notification.TopicAllUsers}, receiver.Hooks{
		OnTokenUpdated: func(context.Context, string) { hookCalls++ },
	}, newTestLogger())
	r.Close()

	assert.Equal(t, receiver.StateIdle, r.HandleMessage(ctx, map[string]string{"type": "normal"}))
	r.HandleNewToken(ctx, "late-token")
	// A second Close must not block or panic.
	r.Close()

	assert.Zero(t, hookCalls)
	renderer.AssertNotCalled(t, "Render", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	subscriber.AssertNotCalled(t, "Subscribe", mock.Anything, mock.Anything, mock.Anything)
}

func TestReceiver_ConcurrentTokensAndClose(t *testing.T) {
	subscriber := new(MockSubscriber)
	subscriber.On("Subscribe", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	r := receiver.New(new(MockRenderer), new(MockStore), subscriber,
		[]string{notification.TopicAllUsers, notification.TopicVIPUsers}, receiver.Hooks{}, newTestLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.HandleNewToken(context.Background(), "tok")
		}()
	}
	r.Close()
	wg.Wait()
	r.Close()
}
