package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-easy-notifier/internal/api"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---
type MockTokenHandler struct {
	mock.Mock
}

func (m *MockTokenHandler) HandleNewToken(ctx context.Context, token string) {
	m.Called(ctx, token)
}

type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) Unregister(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

// Helper to inject UserID into context (simulating Auth Middleware)
func withUser(req *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(req.Context(), userID)
	return req.WithContext(ctx)
}

func tokenBody(token string) *bytes.Reader {
	body, _ := json.Marshal(map[string]string{"token": token})
	return bytes.NewReader(body)
}

func TestRegisterToken(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler := new(MockTokenHandler)
		handler.On("HandleNewToken", mock.Anything, "fcm-token-abc").Once()
		apiHandler := api.NewTokenAPI(handler, nil, newTestLogger())

		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/tokens", tokenBody("fcm-token-abc")), "user-123")
		w := httptest.NewRecorder()
		apiHandler.RegisterToken(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		handler.AssertExpectations(t)
	})

	t.Run("Rejects Empty Token", func(t *testing.T) {
		handler := new(MockTokenHandler)
		apiHandler := api.NewTokenAPI(handler, nil, newTestLogger())

		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/tokens", tokenBody("")), "user-123")
		w := httptest.NewRecorder()
		apiHandler.RegisterToken(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		handler.AssertNotCalled(t, "HandleNewToken", mock.Anything, mock.Anything)
	})

	t.Run("Rejects Invalid JSON", func(t *testing.T) {
		apiHandler := api.NewTokenAPI(new(MockTokenHandler), nil, newTestLogger())
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/tokens", bytes.NewReader([]byte("{"))), "user-123")
		w := httptest.NewRecorder()
		apiHandler.RegisterToken(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Rejects Anonymous", func(t *testing.T) {
		apiHandler := api.NewTokenAPI(new(MockTokenHandler), nil, newTestLogger())
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tokens", tokenBody("t"))
		w := httptest.NewRecorder()
		apiHandler.RegisterToken(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestUnregisterToken(t *testing.T) {
	t.Run("Registry failure is still 204", func(t *testing.T) {
		registry := new(MockRegistry)
		registry.On("Unregister", mock.Anything, "old").Return(errors.New("gone")).Once()
		apiHandler := api.NewTokenAPI(new(MockTokenHandler), registry, newTestLogger())

		req := withUser(httptest.NewRequest(http.MethodDelete, "/api/v1/tokens", tokenBody("old")), "user-123")
		w := httptest.NewRecorder()
		apiHandler.UnregisterToken(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		registry.AssertExpectations(t)
	})

	t.Run("No registry configured", func(t *testing.T) {
		apiHandler := api.NewTokenAPI(new(MockTokenHandler), nil, newTestLogger())
		req := withUser(httptest.NewRequest(http.MethodDelete, "/api/v1/tokens", tokenBody("old")), "user-123")
		w := httptest.NewRecorder()
		apiHandler.UnregisterToken(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}
