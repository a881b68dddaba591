package reconcile

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ProberReloader tells the blackbox exporter to pick up a rewritten module
// configuration.
type ProberReloader interface {
	Reload(ctx context.Context) error
}

// HTTPReloader reloads the exporter through its /-/reload endpoint.
type HTTPReloader struct {
	addr   string
	client *http.Client
}

// NewHTTPReloader creates a reloader for the exporter at addr (host:port).
func NewHTTPReloader(addr string) *HTTPReloader {
	return &HTTPReloader{
		addr:   addr,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Reload implements ProberReloader.
func (r *HTTPReloader) Reload(ctx context.Context) error {
	url := fmt.Sprintf("http://%s/-/reload", r.addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("reload prober: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("prober reload failed with %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
