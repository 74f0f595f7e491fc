package domain

import (
	"fmt"
	"path/filepath"
	"time"
)

// ProjectRef identifies a registered project repository.
type ProjectRef struct {
	CreatedAt     time.Time `json:"createdAt"`
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	RootDirectory string    `json:"rootDirectory"`
}

// Validate checks the project invariants.
func (p *ProjectRef) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("project id is required: %w", ErrValidation)
	}
	if p.Name == "" {
		return fmt.Errorf("project name is required: %w", ErrValidation)
	}
	if p.RootDirectory == "" || !filepath.IsAbs(p.RootDirectory) {
		return fmt.Errorf("project root %q must be an absolute path: %w", p.RootDirectory, ErrValidation)
	}
	if p.CreatedAt.IsZero() {
		return fmt.Errorf("project creation time is required: %w", ErrValidation)
	}
	return nil
}
