package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnavailable indicates the daemon API could not be reached.
var ErrUnavailable = errors.New("daemon API unavailable")

// Client talks to a running daemon over its HTTP endpoint.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient builds a client for the given bind address. Returns nil when the
// bind address is empty, meaning the API is disabled.
func NewClient(bind string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base: base,
		http: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Status fetches daemon runtime status.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// Queue fetches the pending job list.
func (c *Client) Queue(ctx context.Context) (QueueListResponse, error) {
	var out QueueListResponse
	err := c.do(ctx, http.MethodGet, "/api/queue", nil, &out)
	return out, err
}

// SubmitJob submits a job for asynchronous execution.
func (c *Client) SubmitJob(ctx context.Context, req SubmitJobRequest) (SubmitJobResponse, error) {
	var out SubmitJobResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs", req, &out)
	return out, err
}

// Modules fetches the module list.
func (c *Client) Modules(ctx context.Context) (ModuleListResponse, error) {
	var out ModuleListResponse
	err := c.do(ctx, http.MethodGet, "/api/modules", nil, &out)
	return out, err
}

// SetModuleEnabled enables or disables a module by name.
func (c *Client) SetModuleEnabled(ctx context.Context, name string, enabled bool) error {
	action := "disable"
	if enabled {
		action = "enable"
	}
	path := fmt.Sprintf("/api/modules/%s/%s", url.PathEscape(name), action)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// SetMaintenance toggles maintenance mode on the daemon.
func (c *Client) SetMaintenance(ctx context.Context, enabled bool) error {
	return c.do(ctx, http.MethodPost, "/api/maintenance", MaintenanceRequest{Enabled: enabled}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c == nil {
		return ErrUnavailable
	}

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	endpoint := c.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var payload ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&payload); decodeErr == nil && payload.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, payload.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// IsUnavailable reports whether err indicates the daemon is not reachable.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrUnavailable) || errors.As(err, &opErr)
}
