package domain

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// taskIDPattern restricts task ids to characters that are safe in branch and directory names.
var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// NormalizeTaskID trims the task id and checks it can be used for worktree naming.
func NormalizeTaskID(taskID string) (string, error) {
	id := strings.TrimSpace(taskID)
	if id == "" {
		return "", fmt.Errorf("task id is required: %w", ErrValidation)
	}
	if !taskIDPattern.MatchString(id) {
		return "", fmt.Errorf("task id %q can only include letters, numbers, hyphen, and underscore: %w", id, ErrValidation)
	}
	return id, nil
}

// NormalizeID trims an identifier and rejects empty values.
func NormalizeID(value, label string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", fmt.Errorf("%s is required: %w", label, ErrValidation)
	}
	return v, nil
}

// NormalizeDirectory trims a directory and resolves it to a clean absolute path.
func NormalizeDirectory(dir, label string) (string, error) {
	d := strings.TrimSpace(dir)
	if d == "" {
		return "", fmt.Errorf("%s is required: %w", label, ErrValidation)
	}
	abs, err := filepath.Abs(d)
	if err != nil {
		return "", fmt.Errorf("%s %q cannot be resolved: %w", label, d, ErrValidation)
	}
	return abs, nil
}

// NormalizeTimestamp substitutes fallback for a zero time and rejects non-positive epochs.
func NormalizeTimestamp(ts, fallback time.Time) (time.Time, error) {
	if ts.IsZero() {
		ts = fallback
	}
	if ts.UnixMilli() <= 0 {
		return time.Time{}, fmt.Errorf("timestamp must be positive: %w", ErrValidation)
	}
	return ts, nil
}
