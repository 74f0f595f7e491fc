// Package opencode talks to an opencode agent runtime server over HTTP.
//
// Clients are scoped to a directory: every request carries it as the
// "directory" query parameter. Worktree operations are served locally by the
// git-backed worktree client rather than the server.
package opencode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ikanban/ikanban/internal/domain"
)

// Ensure Provider and Client implement the runtime ports.
var (
	_ domain.RuntimeClientProvider = (*Provider)(nil)
	_ domain.RuntimeClient         = (*Client)(nil)
)

// Options configures a Provider.
type Options struct {
	HTTPClient *http.Client       // Defaults to a client without an overall timeout
	Worktrees  domain.WorktreeAPI // Local worktree backend
	BaseURL    string
	Timeout    time.Duration // Per-request timeout for non-streaming calls
}

// Provider hands out one Client per normalized directory.
type Provider struct {
	http      *http.Client
	worktrees domain.WorktreeAPI
	clients   map[string]*Client
	baseURL   string
	timeout   time.Duration
	mu        sync.Mutex
}

// NewProvider creates a provider for the server at opts.BaseURL.
func NewProvider(opts Options) *Provider {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// Event streams stay open indefinitely, so the timeout is per request
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultRuntimeTimeout
	}
	return &Provider{
		http:      httpClient,
		worktrees: opts.Worktrees,
		clients:   make(map[string]*Client),
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/"),
		timeout:   timeout,
	}
}

// Client returns the cached client for directory, creating it on first use.
func (p *Provider) Client(_ context.Context, directory string) (domain.RuntimeClient, error) {
	if strings.TrimSpace(directory) == "" {
		return nil, fmt.Errorf("directory is required to create a scoped runtime client: %w", domain.ErrValidation)
	}
	dir, err := domain.NormalizeDirectory(directory, "Directory")
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[dir]; ok {
		return c, nil
	}
	c := &Client{provider: p, directory: dir}
	p.clients[dir] = c
	return c, nil
}

// Reset drops every cached client.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients = make(map[string]*Client)
}

// Client is the runtime API scoped to one directory.
type Client struct {
	provider  *Provider
	directory string
}

// Directory returns the directory the client is scoped to.
func (c *Client) Directory() string {
	return c.directory
}

// Worktrees returns the local worktree backend.
func (c *Client) Worktrees() domain.WorktreeAPI {
	if c.provider.worktrees == nil {
		return unsupportedWorktrees{}
	}
	return c.provider.worktrees
}

// Sessions returns the session API.
func (c *Client) Sessions() domain.SessionAPI {
	return sessionAPI{c}
}

// Events returns the event stream API.
func (c *Client) Events() domain.EventAPI {
	return eventAPI{c}
}

// endpoint builds the URL of path scoped to the client directory.
func (c *Client) endpoint(path string) string {
	q := url.Values{}
	q.Set("directory", c.directory)
	return c.provider.baseURL + path + "?" + q.Encode()
}

// newRequest builds a JSON request for path.
func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// call performs a JSON request and decodes it into a response envelope.
// Transport failures are returned as errors; HTTP error statuses become
// the envelope's Error.
func call[T any](ctx context.Context, c *Client, method, path string, body any) (domain.Response[T], error) {
	ctx, cancel := context.WithTimeout(ctx, c.provider.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return domain.Response[T]{}, err
	}
	resp, err := c.provider.http.Do(req)
	if err != nil {
		return domain.Response[T]{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Response[T]{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Failed[T](errorValue(resp.StatusCode, raw)), nil
	}

	var data T
	if len(bytes.TrimSpace(raw)) == 0 {
		return domain.OK(data), nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return domain.Response[T]{}, fmt.Errorf("decode response: %w", err)
	}
	return domain.OK(data), nil
}

// errorValue turns an error response body into the value carried by the
// envelope: the decoded JSON when possible, else the text or status.
func errorValue(status int, raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err == nil && v != nil {
		if m, ok := v.(map[string]any); ok && len(m) > 0 {
			return m
		}
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return fmt.Sprintf("%d %s: %s", status, http.StatusText(status), text)
	}
	return fmt.Sprintf("%d %s", status, http.StatusText(status))
}

// unsupportedWorktrees answers every call with an error envelope.
type unsupportedWorktrees struct{}

var errNoWorktreeBackend = errors.New("worktree backend is not configured")

func (unsupportedWorktrees) Create(context.Context, domain.WorktreeCreateRequest) (domain.Response[domain.WorktreeInfo], error) {
	return domain.Response[domain.WorktreeInfo]{}, errNoWorktreeBackend
}

func (unsupportedWorktrees) List(context.Context, string) (domain.Response[[]string], error) {
	return domain.Response[[]string]{}, errNoWorktreeBackend
}

func (unsupportedWorktrees) Reset(context.Context, domain.WorktreeTargetRequest) (domain.Response[bool], error) {
	return domain.Response[bool]{}, errNoWorktreeBackend
}

func (unsupportedWorktrees) Remove(context.Context, domain.WorktreeTargetRequest) (domain.Response[bool], error) {
	return domain.Response[bool]{}, errNoWorktreeBackend
}
