package domain

import (
	"errors"
	"fmt"
)

// Response is the {data, error} envelope every runtime client call returns.
// A nil Data with a nil Error is itself a failure.
type Response[T any] struct {
	Data  *T
	Error any
}

// OK wraps data in a successful response.
func OK[T any](data T) Response[T] {
	return Response[T]{Data: &data}
}

// Failed wraps an error value in a response.
func Failed[T any](errValue any) Response[T] {
	return Response[T]{Error: errValue}
}

// ErrRuntimeResponse marks errors reported inside a runtime response envelope.
var ErrRuntimeResponse = errors.New("runtime returned an error")

// Unwrap converts a runtime response into data or an error prefixed with failure.
// Transport errors, error envelopes and missing data all produce "<failure>: <reason>".
func Unwrap[T any](resp Response[T], err error, failure string) (T, error) {
	var zero T
	if err != nil {
		return zero, fmt.Errorf("%s: %w", failure, err)
	}
	if isTruthy(resp.Error) {
		return zero, &RuntimeError{Op: failure, Message: FormatRuntimeError(resp.Error)}
	}
	if resp.Data == nil {
		return zero, fmt.Errorf("%s: %w", failure, ErrNoResponseData)
	}
	return *resp.Data, nil
}

// RuntimeError is an error envelope returned by the agent runtime.
type RuntimeError struct {
	Op      string
	Message string
}

func (e *RuntimeError) Error() string {
	return e.Op + ": " + e.Message
}

// Unwrap lets errors.Is match ErrRuntimeResponse.
func (e *RuntimeError) Unwrap() error {
	return ErrRuntimeResponse
}

func isTruthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case error:
		return x != nil
	default:
		return true
	}
}

// FormatRuntimeError renders an arbitrary error value from a runtime response.
func FormatRuntimeError(v any) string {
	switch x := v.(type) {
	case error:
		return x.Error()
	case string:
		return x
	case map[string]any:
		if msg, ok := x["message"].(string); ok && msg != "" {
			return msg
		}
		if data, ok := x["data"].(map[string]any); ok {
			if msg, ok := data["message"].(string); ok && msg != "" {
				return msg
			}
		}
		if name, ok := x["name"].(string); ok && name != "" {
			return name
		}
	}
	return "unknown runtime error"
}
