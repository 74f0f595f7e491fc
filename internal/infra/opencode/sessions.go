package opencode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ikanban/ikanban/internal/domain"
)

type sessionAPI struct {
	c *Client
}

// Create opens a session in the client directory.
func (s sessionAPI) Create(ctx context.Context, req domain.SessionCreateRequest) (domain.Response[domain.SessionPayload], error) {
	return call[domain.SessionPayload](ctx, s.c, http.MethodPost, "/session", req)
}

// Prompt submits parts asynchronously; the server answers once the prompt
// is accepted, not when the agent is done.
func (s sessionAPI) Prompt(ctx context.Context, req domain.PromptRequest) (domain.Response[json.RawMessage], error) {
	path := fmt.Sprintf("/session/%s/prompt_async", url.PathEscape(req.SessionID))
	resp, err := call[json.RawMessage](ctx, s.c, http.MethodPost, path, req)
	if err == nil && resp.Data != nil && len(*resp.Data) == 0 {
		accepted := json.RawMessage(`{}`)
		resp.Data = &accepted
	}
	return resp, err
}

// Messages returns the raw messages of a session.
func (s sessionAPI) Messages(ctx context.Context, sessionID string) (domain.Response[[]json.RawMessage], error) {
	path := fmt.Sprintf("/session/%s/message", url.PathEscape(sessionID))
	return call[[]json.RawMessage](ctx, s.c, http.MethodGet, path, nil)
}
