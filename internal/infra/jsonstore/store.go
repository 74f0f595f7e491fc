// Package jsonstore provides a JSON file-based implementation of ProjectRegistry.
package jsonstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/go-git/go-git/v5"
	"github.com/google/uuid"

	"github.com/ikanban/ikanban/internal/domain"
)

// Ensure Store implements ProjectRegistry.
var _ domain.ProjectRegistry = (*Store)(nil)

// storeData represents the JSON file structure.
type storeData struct {
	Projects map[string]*projectData `json:"projects"`
}

// projectData is the JSON representation of a project.
type projectData = domain.ProjectRef

// Store implements domain.ProjectRegistry using a JSON file.
// Fields are ordered to minimize memory padding.
type Store struct {
	clock    domain.Clock
	newID    func() string
	path     string
	lockPath string
}

// New creates a new Store for the given file path.
// The file does not need to exist; it will be created on first write.
func New(path string, clock domain.Clock) *Store {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Store{
		path:     path,
		lockPath: path + ".lock",
		clock:    clock,
		newID:    uuid.NewString,
	}
}

// Get retrieves a project by ID.
func (s *Store) Get(id string) (*domain.ProjectRef, error) {
	var project *domain.ProjectRef
	err := s.withLock(func(data *storeData) error {
		p, ok := data.Projects[id]
		if !ok {
			return fmt.Errorf("project %s: %w", id, domain.ErrProjectNotFound)
		}
		project = p
		return nil
	})
	return project, err
}

// List returns all projects ordered by creation time.
func (s *Store) List() ([]*domain.ProjectRef, error) {
	var projects []*domain.ProjectRef
	err := s.withLock(func(data *storeData) error {
		for _, p := range data.Projects {
			projects = append(projects, p)
		}
		return nil
	})

	slices.SortFunc(projects, func(a, b *domain.ProjectRef) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	return projects, err
}

// Register adds the git repository at rootDirectory as a project.
// A root may be registered only once.
func (s *Store) Register(name, rootDirectory string) (*domain.ProjectRef, error) {
	root, err := filepath.Abs(strings.TrimSpace(rootDirectory))
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	if err := validateRepository(root); err != nil {
		return nil, err
	}
	if name = strings.TrimSpace(name); name == "" {
		name = filepath.Base(root)
	}

	project := &domain.ProjectRef{
		ID:            s.newID(),
		Name:          name,
		RootDirectory: root,
		CreatedAt:     s.clock.Now(),
	}
	if err := project.Validate(); err != nil {
		return nil, err
	}

	err = s.withLockWrite(func(data *storeData) error {
		for _, p := range data.Projects {
			if p.RootDirectory == root {
				return fmt.Errorf("%s (%s): %w", root, p.ID, domain.ErrProjectExists)
			}
		}
		data.Projects[project.ID] = project
		return nil
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// Remove deletes a project registration.
func (s *Store) Remove(id string) error {
	return s.withLockWrite(func(data *storeData) error {
		if _, ok := data.Projects[id]; !ok {
			return fmt.Errorf("project %s: %w", id, domain.ErrProjectNotFound)
		}
		delete(data.Projects, id)
		return nil
	})
}

// validateRepository checks that root is the top of a git working tree.
func validateRepository(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("project root %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project root %s is not a directory: %w", root, domain.ErrValidation)
	}
	if _, err := git.PlainOpen(root); err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return fmt.Errorf("%s: %w", root, domain.ErrNotGitRepository)
		}
		return fmt.Errorf("open repository %s: %w", root, err)
	}
	return nil
}

// withLock executes fn with a shared (read) lock.
func (s *Store) withLock(fn func(*storeData) error) error {
	lock, err := s.acquireLock(syscall.LOCK_SH)
	if err != nil {
		return err
	}
	defer s.releaseLock(lock)

	data, err := s.read()
	if err != nil {
		return err
	}

	return fn(data)
}

// withLockWrite executes fn with an exclusive (write) lock and writes the result.
func (s *Store) withLockWrite(fn func(*storeData) error) error {
	lock, err := s.acquireLock(syscall.LOCK_EX)
	if err != nil {
		return err
	}
	defer s.releaseLock(lock)

	data, err := s.read()
	if err != nil {
		return err
	}

	if err := fn(data); err != nil {
		return err
	}

	return s.write(data)
}

func (s *Store) acquireLock(lockType int) (*os.File, error) {
	dir := filepath.Dir(s.lockPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lock, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(lock.Fd()), lockType); err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	return lock, nil
}

func (s *Store) releaseLock(lock *os.File) {
	_ = syscall.Flock(int(lock.Fd()), syscall.LOCK_UN)
	_ = lock.Close()
}

// read loads the registry. A missing file is an empty registry.
func (s *Store) read() (*storeData, error) {
	data := &storeData{Projects: make(map[string]*projectData)}

	content, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, nil
		}
		return nil, fmt.Errorf("read store file: %w", err)
	}

	if err := json.Unmarshal(content, data); err != nil {
		return nil, fmt.Errorf("parse store file: %w", err)
	}
	if data.Projects == nil {
		data.Projects = make(map[string]*projectData)
	}
	for id, p := range data.Projects {
		p.ID = id
	}

	return data, nil
}

func (s *Store) write(data *storeData) error {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store data: %w", err)
	}

	// Write to temp file first, then rename for atomicity
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
