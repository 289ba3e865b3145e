package render

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultImageTimeout bounds connect and read of an image fetch.
	DefaultImageTimeout = 5 * time.Second

	maxImageBytes = 10 << 20
)

// ImageResult is a decoded image and its format name.
type ImageResult struct {
	Image  image.Image
	Format string
}

// HTTPImageLoader fetches images over HTTP with a fixed timeout.
type HTTPImageLoader struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPImageLoader creates a loader; a zero timeout selects DefaultImageTimeout.
func NewHTTPImageLoader(timeout time.Duration, logger *slog.Logger) *HTTPImageLoader {
	if timeout <= 0 {
		timeout = DefaultImageTimeout
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}
	return &HTTPImageLoader{
		client: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   timeout,
		},
		logger: logger.With("component", "ImageLoader"),
	}
}

// Load fetches url and decodes it as gif, jpeg, png or webp.
func (l *HTTPImageLoader) Load(ctx context.Context, url string) (ImageResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ImageResult{}, fmt.Errorf("invalid image url: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return ImageResult{}, fmt.Errorf("image fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ImageResult{}, fmt.Errorf("image fetch failed: HTTP %d", resp.StatusCode)
	}

	img, format, err := image.Decode(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return ImageResult{}, fmt.Errorf("image decode failed: %w", err)
	}
	l.logger.Debug("Image loaded", "url", url, "format", format, "bounds", img.Bounds().String())
	return ImageResult{Image: img, Format: format}, nil
}
