package opencode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikanban/ikanban/internal/domain"
	"github.com/ikanban/ikanban/internal/testutil"
)

const testDir = "/tmp/project/.worktrees/task-t1-1"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p := NewProvider(Options{BaseURL: server.URL + "/", Timeout: 5 * time.Second})
	c, err := p.Client(context.Background(), testDir)
	require.NoError(t, err)
	return c.(*Client)
}

// =============================================================================
// Provider
// =============================================================================

func TestProvider_CachesClientPerDirectory(t *testing.T) {
	p := NewProvider(Options{BaseURL: "http://127.0.0.1:4096"})

	a, err := p.Client(context.Background(), "/tmp/project/")
	require.NoError(t, err)
	b, err := p.Client(context.Background(), " /tmp/project/sub/.. ")
	require.NoError(t, err)
	c, err := p.Client(context.Background(), "/tmp/other")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "/tmp/project", a.(*Client).Directory())

	p.Reset()
	d, err := p.Client(context.Background(), "/tmp/project")
	require.NoError(t, err)
	assert.NotSame(t, a, d)
}

func TestProvider_RequiresDirectory(t *testing.T) {
	p := NewProvider(Options{})

	_, err := p.Client(context.Background(), "   ")
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "directory is required")
}

func TestClient_Worktrees(t *testing.T) {
	backend := &testutil.MockWorktreeAPI{}
	p := NewProvider(Options{Worktrees: backend})
	c, err := p.Client(context.Background(), "/tmp/project")
	require.NoError(t, err)
	assert.Same(t, backend, c.Worktrees())

	bare, err := NewProvider(Options{}).Client(context.Background(), "/tmp/project")
	require.NoError(t, err)
	_, err = bare.Worktrees().Create(context.Background(), domain.WorktreeCreateRequest{})
	assert.ErrorIs(t, err, errNoWorktreeBackend)
}

// =============================================================================
// Sessions
// =============================================================================

func TestSessions_Create(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/session", r.URL.Path)
		assert.Equal(t, testDir, r.URL.Query().Get("directory"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"title": "Task 1"}, body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"ses_1","title":"Task 1","time":{"created":1000,"updated":2000}}`)
	})

	resp, err := c.Sessions().Create(context.Background(), domain.SessionCreateRequest{Directory: testDir, Title: "Task 1"})
	require.NoError(t, err)
	payload, err := domain.Unwrap(resp, err, "create task session")
	require.NoError(t, err)
	assert.Equal(t, "ses_1", payload.ID)
	require.NotNil(t, payload.Time)
	assert.Equal(t, int64(1000), *payload.Time.Created)
}

func TestSessions_Prompt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/session/ses_1/prompt_async", r.URL.Path)

		var body domain.PromptRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []domain.PromptPart{{Type: "text", Text: "hello"}}, body.Parts)
		require.NotNil(t, body.Model)
		assert.Equal(t, "anthropic", body.Model.ProviderID)

		w.WriteHeader(http.StatusNoContent)
	})

	resp, err := c.Sessions().Prompt(context.Background(), domain.PromptRequest{
		SessionID: "ses_1",
		Model:     &domain.ModelRef{ProviderID: "anthropic", ModelID: "m"},
		Parts:     []domain.PromptPart{{Type: "text", Text: "hello"}},
	})
	_, err = domain.Unwrap(resp, err, "send initial prompt")
	assert.NoError(t, err)
}

func TestSessions_ErrorEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"json error", http.StatusBadRequest, `{"name":"BadRequest","data":{"message":"session not found"}}`, "send initial prompt: session not found"},
		{"plain text", http.StatusInternalServerError, "boom", "send initial prompt: 500 Internal Server Error: boom"},
		{"empty body", http.StatusBadGateway, "", "send initial prompt: 502 Bad Gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			resp, err := c.Sessions().Prompt(context.Background(), domain.PromptRequest{SessionID: "ses_1"})
			require.NoError(t, err)
			_, err = domain.Unwrap(resp, err, "send initial prompt")
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrRuntimeResponse)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestSessions_Messages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/session/ses_1/message", r.URL.Path)
		_, _ = io.WriteString(w, `[{"info":{"id":"m1","role":"user"},"parts":[{"type":"text","text":"hi"}]},{"info":{"id":"m2"}}]`)
	})

	resp, err := c.Sessions().Messages(context.Background(), "ses_1")
	raw, err := domain.Unwrap(resp, err, "list conversation messages")
	require.NoError(t, err)
	require.Len(t, raw, 2)
	assert.JSONEq(t, `{"info":{"id":"m2"}}`, string(raw[1]))
}

func TestSessions_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	c, err := NewProvider(Options{BaseURL: server.URL}).Client(context.Background(), testDir)
	require.NoError(t, err)

	_, err = c.Sessions().Messages(context.Background(), "ses_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GET /session/ses_1/message")
}

func TestSessions_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	c, err := NewProvider(Options{BaseURL: server.URL, Timeout: 50 * time.Millisecond}).Client(context.Background(), testDir)
	require.NoError(t, err)

	_, err = c.Sessions().Messages(context.Background(), "ses_1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// =============================================================================
// Events
// =============================================================================

func TestEvents_StreamsFrames(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/event", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": keep-alive\n\n")
		_, _ = io.WriteString(w, `data: {"type":"server.connected","properties":{}}`+"\n\n")
		_, _ = io.WriteString(w, "event: message\n")
		_, _ = io.WriteString(w, `data: {"type":"message.updated",`+"\n")
		_, _ = io.WriteString(w, `data: "properties":{"sessionID":"ses_1"}}`+"\n\n")
		_, _ = io.WriteString(w, "data: not json\n\n")
	})

	resp, err := c.Events().Subscribe(context.Background(), testDir)
	stream, err := domain.Unwrap(resp, err, "subscribe to conversation events")
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	ctx := context.Background()
	ev, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "server.connected", ev.Type)

	ev, err = stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "message.updated", ev.Type)
	assert.JSONEq(t, `{"sessionID":"ses_1"}`, string(ev.Data))

	ev, err = stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "unknown", ev.Type)
	assert.Equal(t, "not json", string(ev.Raw))

	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestEvents_CloseUnblocksNext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	resp, err := c.Events().Subscribe(context.Background(), testDir)
	stream, err := domain.Unwrap(resp, err, "subscribe")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := stream.Next(context.Background())
		done <- err
	}()

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestEvents_ContextCancelStopsNext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	resp, err := c.Events().Subscribe(context.Background(), testDir)
	stream, err := domain.Unwrap(resp, err, "subscribe")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEvents_ErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	})

	resp, err := c.Events().Subscribe(context.Background(), testDir)
	require.NoError(t, err)
	_, err = domain.Unwrap(resp, err, "subscribe to conversation events")
	assert.Equal(t, fmt.Sprintf("subscribe to conversation events: 503 %s: nope", http.StatusText(503)), err.Error())
	assert.True(t, errors.Is(err, domain.ErrRuntimeResponse))
}
