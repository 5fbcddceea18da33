package connection

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yndnr/meshstore/internal/infra/buildinfo"
	"github.com/yndnr/meshstore/internal/server/httpserver/handler"
	"github.com/yndnr/meshstore/internal/storage/snapshot"
)

// DefaultTimeout bounds one request. Backups can take a while on large
// trees, so it is generous.
const DefaultTimeout = 2 * time.Minute

// maxErrorBody caps how much of a non-JSON error body is quoted.
const maxErrorBody = 512

// APIError is a non-OK response from the admin API.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("server returned %d", e.Status)
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RequestID != "" {
		msg += " (request " + e.RequestID + ")"
	}
	return msg
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client calls the meshstore-server admin API.
type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
	tls       bool
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithTLSConfig talks to the server over TLS. Addresses without a scheme
// get https://.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		c.http.Transport = &http.Transport{TLSClientConfig: cfg}
		c.tls = true
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a client for server, a host:port or a URL. Plain
// addresses get an http:// scheme, or https:// with WithTLSConfig.
func NewClient(server string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(server, "/"),
		http:      &http.Client{Timeout: DefaultTimeout},
		userAgent: "meshstore-cli/" + buildinfo.Version,
	}
	for _, opt := range opts {
		opt(c)
	}
	if !strings.HasPrefix(c.baseURL, "http://") && !strings.HasPrefix(c.baseURL, "https://") {
		scheme := "http://"
		if c.tls {
			scheme = "https://"
		}
		c.baseURL = scheme + c.baseURL
	}
	return c
}

// BaseURL returns the server URL requests are sent to.
func (c *Client) BaseURL() string { return c.baseURL }

// Health returns the readiness report. A server that is still
// bootstrapping yields the report together with an APIError.
func (c *Client) Health(ctx context.Context) (*handler.HealthResponse, error) {
	var out handler.HealthResponse
	err := c.do(ctx, http.MethodGet, "/readyz", &out)
	if err != nil && !IsCode(err, handler.CodeNotReady) {
		return nil, err
	}
	return &out, err
}

// RestorePending returns the restore artifact status.
func (c *Client) RestorePending(ctx context.Context) (*handler.RestoreResponse, error) {
	var out handler.RestoreResponse
	if err := c.do(ctx, http.MethodGet, "/restore/pending", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Datastores lists the datastore domains and their shards.
func (c *Client) Datastores(ctx context.Context) ([]handler.DatastoreResponse, error) {
	var out []handler.DatastoreResponse
	if err := c.do(ctx, http.MethodGet, "/admin/v1/datastores", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadTree reads the subtree at path from a datastore.
func (c *Client) ReadTree(ctx context.Context, domain, path string) (*handler.NodeResponse, error) {
	var segs []string
	for _, s := range strings.Split(strings.Trim(path, "/"), "/") {
		if s != "" {
			segs = append(segs, url.PathEscape(s))
		}
	}
	p := "/admin/v1/datastores/" + url.PathEscape(domain) + "/tree/" + strings.Join(segs, "/")

	var out handler.NodeResponse
	if err := c.do(ctx, http.MethodGet, p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListBackups lists the bundles in the server's backup directory.
func (c *Client) ListBackups(ctx context.Context) ([]*snapshot.Info, error) {
	var out []*snapshot.Info
	if err := c.do(ctx, http.MethodGet, "/admin/v1/backups", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateBackup asks the server to capture every datastore into a new
// bundle.
func (c *Client) CreateBackup(ctx context.Context) (*snapshot.Info, error) {
	var out snapshot.Info
	if err := c.do(ctx, http.MethodPost, "/admin/v1/backups", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// envelope mirrors handler.Response with the payload left undecoded.
type envelope struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

// do sends a request and decodes the envelope's data into out. The data
// is decoded even for error responses that carry it.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode, Message: truncate(strings.TrimSpace(string(body)))}
		}
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}
	if resp.StatusCode >= 400 || (env.Code != "" && env.Code != handler.CodeOK) {
		return &APIError{
			Status:    resp.StatusCode,
			Code:      env.Code,
			Message:   env.Message,
			RequestID: env.RequestID,
		}
	}
	return nil
}

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	return s[:maxErrorBody] + "..."
}
