// --- File: internal/api/dialog_api.go ---
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-easy-notifier/pkg/notification"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// DialogStore is the foreground observer's view of the pending-dialog store.
type DialogStore interface {
	Current() *notification.PendingDialog
	Clear(ctx context.Context) error
	Observe(ctx context.Context) <-chan *notification.PendingDialog
}

type DialogAPI struct {
	Store    DialogStore
	Logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewDialogAPI creates the handlers. checkOrigin may be nil to accept any
// origin; CORS is enforced by the surrounding middleware.
func NewDialogAPI(store DialogStore, checkOrigin func(r *http.Request) bool, logger *slog.Logger) *DialogAPI {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &DialogAPI{
		Store:  store,
		Logger: logger.With("component", "DialogAPI"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// GetDialog returns the pending dialog, or 204 when there is none.
func (api *DialogAPI) GetDialog(w http.ResponseWriter, r *http.Request) {
	d := api.Store.Current()
	if d == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(d); err != nil {
		api.Logger.Error("Failed to encode dialog", "err", err)
	}
}

// AckDialog clears the pending dialog after the foreground displayed it.
func (api *DialogAPI) AckDialog(w http.ResponseWriter, r *http.Request) {
	if err := api.Store.Clear(r.Context()); err != nil {
		api.Logger.Error("Failed to clear dialog", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StreamDialog upgrades to a websocket and writes one JSON frame per store
// value, the current one first. A cleared dialog is sent as null.
func (api *DialogAPI) StreamDialog(w http.ResponseWriter, r *http.Request) {
	conn, err := api.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		api.Logger.Warn("Websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader: we expect no client frames, but must consume control frames and
	// notice the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	values := api.Store.Observe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-values:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(d); err != nil {
				api.Logger.Debug("Dialog stream closed", "err", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
