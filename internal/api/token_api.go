package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
)

// TokenHandler receives rotated registration tokens.
type TokenHandler interface {
	HandleNewToken(ctx context.Context, token string)
}

// TokenRegistry removes tokens the device no longer uses. Optional.
type TokenRegistry interface {
	Unregister(ctx context.Context, token string) error
}

type TokenAPI struct {
	Handler  TokenHandler
	Registry TokenRegistry
	Logger   *slog.Logger
}

func NewTokenAPI(handler TokenHandler, registry TokenRegistry, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Handler:  handler,
		Registry: registry,
		Logger:   logger.With("component", "TokenAPI"),
	}
}

type TokenRequest struct {
	Token string `json:"token"`
}

// RegisterToken hands a new token to the receiver, which subscribes it to the
// configured topics in the background.
func (api *TokenAPI) RegisterToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	// The request context ends with the response; subscriptions outlive it.
	api.Handler.HandleNewToken(context.WithoutCancel(ctx), req.Token)
	api.Logger.Info("Registration token received", "user", userID)

	w.WriteHeader(http.StatusNoContent)
}

func (api *TokenAPI) UnregisterToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := middleware.GetUserHandleFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if api.Registry != nil {
		if err := api.Registry.Unregister(ctx, req.Token); err != nil {
			// Log but don't fail hard; idempotency is preferred for unregister
			api.Logger.Warn("failed to unregister token", "err", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
