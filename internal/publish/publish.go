// Package publish delivers generated scrape jobs to a collector. The
// payload keeps the Prometheus scrape_configs schema so the receiving side
// can load it directly as scrape configuration.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"gopkg.in/yaml.v3"

	"github.com/probemesh/probemesh/pkg/proto"
)

// Payload is the published document.
type Payload struct {
	ScrapeConfigs []proto.ScrapeJob `json:"scrape_configs" yaml:"scrape_configs"`
}

// Sink receives the full current job set. Every publish supersedes the
// previous one; sinks hold no history.
type Sink interface {
	Publish(ctx context.Context, jobs []proto.ScrapeJob) error
}

// FileSink writes the job set to a file atomically, YAML or JSON depending
// on the file extension. Suitable for a collector watching a config
// directory.
type FileSink struct {
	Path string
}

// Publish implements Sink.
func (s *FileSink) Publish(_ context.Context, jobs []proto.ScrapeJob) error {
	payload := Payload{ScrapeConfigs: jobs}

	var data []byte
	var err error
	if filepath.Ext(s.Path) == ".json" {
		data, err = json.MarshalIndent(payload, "", "  ")
	} else {
		data, err = yaml.Marshal(payload)
	}
	if err != nil {
		return fmt.Errorf("marshal jobs: %w", err)
	}

	// Write atomically using temp file
	tmpFile := s.Path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpFile, s.Path); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

// HTTPSink POSTs the job set to a collector endpoint with bearer auth.
type HTTPSink struct {
	url       string
	authToken string
	client    *retryablehttp.Client
}

// NewHTTPSink creates an HTTP sink for the given collector URL.
func NewHTTPSink(url, authToken string) *HTTPSink {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 10 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil

	return &HTTPSink{url: url, authToken: authToken, client: rc}
}

// Publish implements Sink.
func (s *HTTPSink) Publish(ctx context.Context, jobs []proto.ScrapeJob) error {
	body, err := json.Marshal(Payload{ScrapeConfigs: jobs})
	if err != nil {
		return fmt.Errorf("marshal jobs: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish jobs: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("collector error %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
