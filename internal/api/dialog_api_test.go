package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-easy-notifier/internal/api"
	"github.com/tinywideclouds/go-easy-notifier/pkg/notification"
)

type MockDialogStore struct {
	mock.Mock
	stream chan *notification.PendingDialog
}

func (m *MockDialogStore) Current() *notification.PendingDialog {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*notification.PendingDialog)
}

func (m *MockDialogStore) Clear(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDialogStore) Observe(ctx context.Context) <-chan *notification.PendingDialog {
	return m.stream
}

var pending = &notification.PendingDialog{Title: "Sale", Body: "Now", TimestampMillis: 42, Action: "open"}

func TestGetDialog(t *testing.T) {
	t.Run("Pending dialog is returned", func(t *testing.T) {
		store := new(MockDialogStore)
		store.On("Current").Return(pending)

		w := httptest.NewRecorder()
		api.NewDialogAPI(store, nil, newTestLogger()).GetDialog(w, httptest.NewRequest(http.MethodGet, "/api/v1/dialog", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var got notification.PendingDialog
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, *pending, got)
		assert.NotContains(t, w.Body.String(), "imageUrl")
	})

	t.Run("No dialog is 204", func(t *testing.T) {
		store := new(MockDialogStore)
		store.On("Current").Return(nil)

		w := httptest.NewRecorder()
		api.NewDialogAPI(store, nil, newTestLogger()).GetDialog(w, httptest.NewRequest(http.MethodGet, "/api/v1/dialog", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestAckDialog(t *testing.T) {
	store := new(MockDialogStore)
	store.On("Clear", mock.Anything).Return(nil).Once()

	w := httptest.NewRecorder()
	api.NewDialogAPI(store, nil, newTestLogger()).AckDialog(w, httptest.NewRequest(http.MethodDelete, "/api/v1/dialog", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	store.AssertExpectations(t)

	failing := new(MockDialogStore)
	failing.On("Clear", mock.Anything).Return(errors.New("disk"))
	w = httptest.NewRecorder()
	api.NewDialogAPI(failing, nil, newTestLogger()).AckDialog(w, httptest.NewRequest(http.MethodDelete, "/api/v1/dialog", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStreamDialog(t *testing.T) {
	store := &MockDialogStore{stream: make(chan *notification.PendingDialog, 4)}
	store.stream <- nil
	store.stream <- pending

	server := httptest.NewServer(http.HandlerFunc(api.NewDialogAPI(store, nil, newTestLogger()).StreamDialog))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() string {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		return strings.TrimSpace(string(msg))
	}

	assert.Equal(t, "null", read())

	var got notification.PendingDialog
	require.NoError(t, json.Unmarshal([]byte(read()), &got))
	assert.Equal(t, *pending, got)

	store.stream <- nil
	assert.Equal(t, "null", read())
}
