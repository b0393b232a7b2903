package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Client calls the command API of a running server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at addr (host:port or URL).
// Start blocks for the whole backup, so the client sets no overall timeout.
func NewClient(addr string) *Client {
	return NewClientWithHTTP(addr, &http.Client{})
}

// NewClientWithHTTP creates a client with a custom HTTP client (for testing).
func NewClientWithHTTP(addr string, httpClient *http.Client) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL:    strings.TrimSuffix(addr, "/"),
		httpClient: httpClient,
	}
}

// Start runs a backup into destination and waits for it to finish.
func (c *Client) Start(ctx context.Context, destination string) (*Response, error) {
	var resp Response
	if err := c.do(ctx, http.MethodPost, PathStart, StartRequest{Destination: destination}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Throttle sets the engine I/O limit. value is a number or a quantity like "10m".
func (c *Client) Throttle(ctx context.Context, value string) (*Response, error) {
	var bps json.RawMessage
	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		bps = json.RawMessage(value)
	} else {
		quoted, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encoding throttle value: %w", err)
		}
		bps = quoted
	}

	var resp Response
	if err := c.do(ctx, http.MethodPost, PathThrottle, ThrottleRequest{BPS: bps}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the progress of the current backup.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, PathStatus, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Kill interrupts the current backup.
func (c *Client) Kill(ctx context.Context, reason string) (*Response, error) {
	var resp Response
	if err := c.do(ctx, http.MethodPost, PathKill, KillRequest{Reason: reason}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Version returns the engine version reported by the server.
func (c *Client) Version(ctx context.Context) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var resp Response
	if err := c.do(ctx, http.MethodGet, PathVersion, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response (status %d): %w", path, resp.StatusCode, err)
	}
	return nil
}
