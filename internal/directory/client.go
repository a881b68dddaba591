package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/probemesh/probemesh/pkg/proto"
)

// Client talks to the directory server. Requests are retried with backoff,
// since a unit coming up often races the directory itself.
type Client struct {
	baseURL   string
	authToken string
	client    *retryablehttp.Client
}

// NewClient creates a directory client.
func NewClient(baseURL, authToken string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 4
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 15 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		client:    rc,
	}
}

// Announce publishes the local unit's addresses to the directory.
func (c *Client) Announce(ctx context.Context, unit proto.Unit) (*proto.AnnounceResponse, error) {
	req := proto.AnnounceRequest{
		Name:      unit.Name,
		Hostname:  unit.Hostname,
		AZ:        unit.AZ,
		Addresses: unit.Addresses,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/announce", body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result proto.AnnounceResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// FetchUnits returns every unit currently known to the directory.
func (c *Client) FetchUnits(ctx context.Context) ([]proto.Unit, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/units", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result proto.UnitsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result.Units, nil
}

// FetchPeers returns every known unit except the named local one.
func (c *Client) FetchPeers(ctx context.Context, localName string) ([]proto.Unit, error) {
	units, err := c.FetchUnits(ctx)
	if err != nil {
		return nil, err
	}
	peers := units[:0]
	for _, unit := range units {
		if unit.Name == localName {
			continue
		}
		peers = append(peers, unit)
	}
	return peers, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func (c *Client) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("directory error %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}
