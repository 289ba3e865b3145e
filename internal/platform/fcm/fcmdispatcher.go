// --- File: internal/platform/fcm/fcmdispatcher.go ---
// Package fcm talks to Firebase Cloud Messaging: the HTTP v1 send endpoint
// and the topic management API.
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tinywideclouds/go-easy-notifier/pkg/notification"
)

const (
	// DefaultEndpoint is the FCM HTTP v1 host.
	DefaultEndpoint = "https://fcm.googleapis.com"
	// DefaultTimeout bounds connect, request and socket time alike.
	DefaultTimeout = 15 * time.Second

	maxResponseBytes = 1 << 20
)

type sendRequest struct {
	Message notification.WireMessage `json:"message"`
}

type sendResponse struct {
	Name string `json:"name"`
}

// Dispatcher posts messages to projects/{id}/messages:send. It owns its
// HTTP client; Close releases it.
type Dispatcher struct {
	client *http.Client
	base   *http.Transport
	url    string
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher for projectID. An empty endpoint selects
// DefaultEndpoint; a non-positive timeout selects DefaultTimeout.
func NewDispatcher(projectID, endpoint string, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
	}

	return &Dispatcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(base),
		},
		base:   base,
		url:    SendURL(endpoint, projectID),
		logger: logger.With("component", "FCMDispatcher"),
	}
}

// SendURL returns the messages:send URL for a project.
func SendURL(endpoint, projectID string) string {
	return fmt.Sprintf("%s/v1/projects/%s/messages:send", strings.TrimRight(endpoint, "/"), projectID)
}

// Send performs exactly one POST. There is no retry: a timeout or a non-2xx
// status is terminal for the call.
func (d *Dispatcher) Send(ctx context.Context, msg notification.WireMessage, bearerToken string) (string, error) {
	body, err := json.Marshal(sendRequest{Message: msg})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearerToken)

	resp, err := d.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", &notification.SendError{Kind: notification.SendTimeout, Err: err}
		}
		return "", &notification.SendError{Kind: notification.SendTransport, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return "", &notification.SendError{Kind: notification.SendTimeout, Err: err}
		}
		return "", &notification.SendError{Kind: notification.SendTransport, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.logger.Warn("FCM rejected message", "status", resp.StatusCode, "target", targetOf(msg))
		return "", &notification.SendError{
			Kind:       notification.SendHTTPStatus,
			StatusCode: resp.StatusCode,
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}
	}

	var parsed sendResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &notification.SendError{Kind: notification.SendMalformedResponse, StatusCode: resp.StatusCode, Err: err}
	}
	if parsed.Name == "" {
		return "", &notification.SendError{
			Kind:       notification.SendMalformedResponse,
			StatusCode: resp.StatusCode,
			Err:        errors.New("response has no message name"),
		}
	}

	return parsed.Name, nil
}

// Close drops pooled connections.
func (d *Dispatcher) Close() {
	d.base.CloseIdleConnections()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func targetOf(msg notification.WireMessage) string {
	if msg.Topic != "" {
		return "topic:" + msg.Topic
	}
	return "token"
}
