package opencode

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/ikanban/ikanban/internal/domain"
)

// maxEventSize bounds a single server-sent event.
const maxEventSize = 4 << 20

type eventAPI struct {
	c *Client
}

// Subscribe opens the server-sent event stream of the client directory.
// The stream outlives ctx; it ends when Close is called or the server hangs up.
func (e eventAPI) Subscribe(ctx context.Context, _ string) (domain.Response[domain.EventStream], error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	req, err := e.c.newRequest(streamCtx, http.MethodGet, "/event", nil)
	if err != nil {
		cancel()
		return domain.Response[domain.EventStream]{}, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := e.c.provider.http.Do(req)
	if err != nil {
		cancel()
		return domain.Response[domain.EventStream]{}, fmt.Errorf("GET /event: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		cancel()
		return domain.Failed[domain.EventStream](errorValue(resp.StatusCode, raw)), nil
	}

	s := newSSEStream(resp.Body, cancel)
	return domain.OK(domain.EventStream{Next: s.Next, Close: s.Close}), nil
}

// sseStream decodes "data:" frames of a text/event-stream body.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
	once    sync.Once
	mu      sync.Mutex
}

func newSSEStream(body io.ReadCloser, cancel context.CancelFunc) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &sseStream{body: body, scanner: scanner, cancel: cancel}
}

// Next blocks until the next event. It returns io.EOF when the stream ends
// and ctx.Err() when ctx is cancelled, which also closes the stream.
func (s *sseStream) Next(ctx context.Context) (domain.RuntimeStreamEvent, error) {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		data, err := s.readFrame()
		if err != nil {
			if ctx.Err() != nil {
				return domain.RuntimeStreamEvent{}, ctx.Err()
			}
			return domain.RuntimeStreamEvent{}, err
		}
		if len(data) == 0 {
			continue
		}
		return decodeEvent(data), nil
	}
}

// readFrame returns the joined data lines of the next frame.
func (s *sseStream) readFrame() ([]byte, error) {
	var data [][]byte
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			if len(data) == 0 {
				continue
			}
			return bytes.Join(data, []byte("\n")), nil
		}
		if line[0] == ':' {
			continue
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		if string(field) != "data" {
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		data = append(data, append([]byte(nil), value...))
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	if len(data) > 0 {
		return bytes.Join(data, []byte("\n")), nil
	}
	return nil, io.EOF
}

// Close ends the stream. It is safe to call more than once.
func (s *sseStream) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.body.Close()
	})
	return err
}

// decodeEvent reads {type, properties}; undecodable data keeps only Raw.
func decodeEvent(data []byte) domain.RuntimeStreamEvent {
	raw := json.RawMessage(append([]byte(nil), data...))
	var ev domain.RuntimeStreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return domain.RuntimeStreamEvent{Type: "unknown", Raw: raw}
	}
	ev.Type = strings.TrimSpace(ev.Type)
	ev.Raw = raw
	return ev
}
