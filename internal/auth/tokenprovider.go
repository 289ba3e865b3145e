// Package auth exchanges a service-account secret for a short-lived bearer
// token scoped to the messaging API.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/tinywideclouds/go-easy-notifier/pkg/notification"
)

// MessagingScope is the only OAuth scope the notifier requests.
const MessagingScope = "https://www.googleapis.com/auth/firebase.messaging"

// DefaultExchangeTimeout bounds one token exchange.
const DefaultExchangeTimeout = 15 * time.Second

// serviceAccount holds the fields we require before handing the secret to oauth2.
type serviceAccount struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
}

type tokenSourceFunc func(ctx context.Context, secret []byte) (oauth2.TokenSource, error)

// TokenProvider implements dispatch.TokenProvider. It holds only read-only
// configuration and is safe for concurrent use.
type TokenProvider struct {
	secret     []byte
	httpClient *http.Client
	newSource  tokenSourceFunc
	logger     *slog.Logger
}

// NewTokenProvider creates a provider for the given service-account JSON.
// httpClient is used for the token exchange; nil selects a client bounded by
// DefaultExchangeTimeout.
func NewTokenProvider(serviceAccountSecret string, httpClient *http.Client, logger *slog.Logger) *TokenProvider {
	if httpClient == nil {
		httpClient = NewExchangeClient(DefaultExchangeTimeout)
	}
	return &TokenProvider{
		secret:     []byte(serviceAccountSecret),
		httpClient: httpClient,
		newSource:  googleTokenSource,
		logger:     logger.With("component", "TokenProvider"),
	}
}

// FetchToken parses the secret and performs a fresh token exchange on every
// call. Nothing is cached between calls.
func (p *TokenProvider) FetchToken(ctx context.Context) (string, error) {
	var sa serviceAccount
	if err := json.Unmarshal(p.secret, &sa); err != nil {
		return "", &notification.AuthError{Reason: notification.AuthMalformedSecret, Err: err}
	}
	if sa.PrivateKey == "" || sa.ClientEmail == "" {
		return "", &notification.AuthError{
			Reason: notification.AuthMalformedSecret,
			Err:    errors.New("service account is missing private_key or client_email"),
		}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	src, err := p.newSource(ctx, p.secret)
	if err != nil {
		return "", &notification.AuthError{Reason: notification.AuthMalformedSecret, Err: err}
	}

	tok, err := src.Token()
	if err != nil {
		return "", classifyTokenError(err)
	}
	if tok == nil || tok.AccessToken == "" {
		return "", &notification.AuthError{Reason: notification.AuthEmptyToken}
	}

	p.logger.Debug("Access token refreshed", "client_email", sa.ClientEmail, "expiry", tok.Expiry)
	return tok.AccessToken, nil
}

// NewExchangeClient returns an instrumented client whose every request is
// bounded by timeout; a non-positive timeout selects DefaultExchangeTimeout.
func NewExchangeClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func googleTokenSource(ctx context.Context, secret []byte) (oauth2.TokenSource, error) {
	creds, err := google.CredentialsFromJSON(ctx, secret, MessagingScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account: %w", err)
	}
	return creds.TokenSource, nil
}

func classifyTokenError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		if rErr.Response != nil && rErr.Response.StatusCode >= 500 {
			return &notification.AuthError{Reason: notification.AuthNetworkFailure, Err: err}
		}
		return &notification.AuthError{Reason: notification.AuthUnauthorized, Err: err}
	}
	return &notification.AuthError{Reason: notification.AuthNetworkFailure, Err: err}
}
