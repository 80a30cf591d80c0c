// Package metadataclient is a constrained HTTP client for the instance
// metadata service. It is deliberately narrow: every request is a plain GET
// or HEAD against a fixed base URL, bounded to one second, with no
// redirects, no proxy, and no connection reuse across calls.
//
// The shape — a small struct wrapping *http.Client with a fixed endpoint and
// a couple of typed methods — follows the teacher's client.AegisClient.
package metadataclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the fixed link-local address every instance metadata
// fetch in this system is relative to.
const DefaultBaseURL = "http://169.254.169.254/latest"

// Timeout is the wall-clock bound spec.md §4.1 places on every metadata
// call.
const Timeout = 1 * time.Second

// Client talks to the instance metadata service.
type Client struct {
	// BaseURL is the fixed metadata endpoint, e.g. http://169.254.169.254/latest.
	BaseURL string
	// HTTPClient is the underlying transport. Exposed for tests.
	HTTPClient *http.Client
}

// New builds a Client targeting baseURL with the metadata service's
// required transport characteristics: no redirects, no proxy, no
// connection reuse, one-second timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: Timeout,
			Transport: &http.Transport{
				Proxy:             nil,
				DisableKeepAlives: true,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return fmt.Errorf("metadata service redirected to %s", req.URL)
			},
		},
	}
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Fetch performs a GET against path. It returns (body, true, nil) on HTTP
// 200, (nil, false, nil) on HTTP 404, and a non-nil error for anything
// else, including transport failures.
func (c *Client) Fetch(ctx context.Context, path string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return nil, false, fmt.Errorf("build metadata request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("metadata fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, fmt.Errorf("read metadata response for %s: %w", path, err)
		}
		return body, true, nil
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("metadata fetch %s: unexpected status %s", path, resp.Status)
	}
}

// HeadStatus performs a HEAD against path and returns only the status code.
func (c *Client) HeadStatus(ctx context.Context, path string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url(path), nil)
	if err != nil {
		return 0, fmt.Errorf("build metadata request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("metadata head %s: %w", path, err)
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}
