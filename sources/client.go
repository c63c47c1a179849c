// Package sources implements the category handlers behind the
// aggregation engine: free, keyless OSINT endpoints for domain, email,
// ip, and username targets. Every handler returns a payload with a
// "found" boolean; lookup errors bubble up so the engine can retry and
// fold them into failed envelopes.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hazyhaar/sonde/netguard"
)

// ClientConfig configures the shared HTTP client.
type ClientConfig struct {
	Timeout  time.Duration // per-request timeout. Default: 15s.
	MaxBytes int64         // max response body size. Default: 2MB.
	// UserAgent sent with requests.
	UserAgent string
	// URLValidator validates URLs before fetch (SSRF prevention).
	// Default: netguard.ValidateURL.
	URLValidator func(string) error
}

func (c *ClientConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 2 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "sonde/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = netguard.ValidateURL
	}
}

// Client performs bounded HTTP requests against external OSINT endpoints.
type Client struct {
	http   *http.Client
	config ClientConfig
}

// NewClient creates a Client with SSRF protection on redirects.
func NewClient(cfg ClientConfig) *Client {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Client{
		http: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked (SSRF): %w", err)
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Get retrieves a URL and returns the status code and bounded body.
// Non-2xx statuses are returned to the caller, not treated as errors:
// a 404 from a profile probe is a finding, not a failure.
func (c *Client) Get(ctx context.Context, url string, header http.Header) (int, []byte, error) {
	if err := c.config.URLValidator(url); err != nil {
		return 0, nil, fmt.Errorf("URL blocked (SSRF): %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// GetJSON retrieves a URL and decodes a JSON response into out. Non-2xx
// statuses are an error here: the JSON endpoints answer 200 even for
// empty results, so anything else is an upstream fault worth retrying.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	header := http.Header{"Accept": []string{"application/json"}}
	status, body, err := c.Get(ctx, url, header)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("http %d from %s", status, url)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
