// Package gitstore provides a Git plumbing-based implementation of TaskStore.
package gitstore

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"gopkg.in/yaml.v3"

	"github.com/ikanban/ikanban/internal/domain"
)

// DefaultNamespace is the ref namespace task snapshots are stored under.
const DefaultNamespace = "ikanban"

// Store keeps task runtime snapshots of one repository as Git blobs.
//
// Data structure:
//
//	refs/<namespace>/
//	  tasks/
//	    <id>    → blob (task YAML)
//
// Refs are not reachable from any branch, so snapshots never show up in
// the project history or in worktrees.
type Store struct {
	repo      *git.Repository
	namespace string
	mu        sync.RWMutex
}

// Open opens the repository at repoPath.
func Open(repoPath, namespace string) (*Store, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("open git repository: %w", err)
	}
	return NewWithRepo(repo, namespace), nil
}

// NewWithRepo creates a new Store with an existing repository instance.
func NewWithRepo(repo *git.Repository, namespace string) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{repo: repo, namespace: namespace}
}

// refPrefix returns the ref prefix of task snapshots.
func (s *Store) refPrefix() string {
	return "refs/" + s.namespace + "/tasks/"
}

// taskRef returns the ref name for a task.
func (s *Store) taskRef(id string) plumbing.ReferenceName {
	return plumbing.ReferenceName(s.refPrefix() + id)
}

// Get retrieves a snapshot by task id. A missing task yields nil, nil.
func (s *Store) Get(taskID string) (*domain.TaskRuntime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, err := s.repo.Reference(s.taskRef(taskID), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get task ref: %w", err)
	}
	return s.decode(ref.Hash())
}

// List returns every snapshot of the repository ordered by creation time.
func (s *Store) List() ([]*domain.TaskRuntime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refs, err := s.repo.References()
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	defer refs.Close()

	prefix := s.refPrefix()
	var tasks []*domain.TaskRuntime
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if !strings.HasPrefix(ref.Name().String(), prefix) || ref.Type() != plumbing.HashReference {
			return nil
		}
		task, decodeErr := s.decode(ref.Hash())
		if decodeErr != nil {
			return fmt.Errorf("%s: %w", ref.Name(), decodeErr)
		}
		tasks = append(tasks, task)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortTasks(tasks)
	return tasks, nil
}

// Save creates or updates a snapshot.
func (s *Store) Save(task *domain.TaskRuntime) error {
	id, err := domain.NormalizeTaskID(task.TaskID)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hash, err := s.writeBlob(data)
	if err != nil {
		return err
	}
	if err := s.repo.Storer.SetReference(plumbing.NewHashReference(s.taskRef(id), hash)); err != nil {
		return fmt.Errorf("set task ref: %w", err)
	}
	return nil
}

// Delete removes a snapshot. Deleting a missing task is not an error.
func (s *Store) Delete(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Storer.RemoveReference(s.taskRef(taskID)); err != nil {
		return fmt.Errorf("remove task ref: %w", err)
	}
	return nil
}

func (s *Store) decode(hash plumbing.Hash) (*domain.TaskRuntime, error) {
	data, err := s.readBlob(hash)
	if err != nil {
		return nil, fmt.Errorf("read task: %w", err)
	}
	var task domain.TaskRuntime
	if err := yaml.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &task, nil
}

// writeBlob stores data as a blob object and returns its hash.
func (s *Store) writeBlob(data []byte) (plumbing.Hash, error) {
	obj := s.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))

	writer, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("create blob writer: %w", err)
	}

	if _, writeErr := writer.Write(data); writeErr != nil {
		_ = writer.Close()
		return plumbing.ZeroHash, fmt.Errorf("write blob: %w", writeErr)
	}
	_ = writer.Close()

	hash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store blob: %w", err)
	}
	return hash, nil
}

// readBlob reads the content of a blob object.
func (s *Store) readBlob(hash plumbing.Hash) ([]byte, error) {
	blob, err := s.repo.BlobObject(hash)
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}

	reader, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	defer func() { _ = reader.Close() }()

	return io.ReadAll(reader)
}

func sortTasks(tasks []*domain.TaskRuntime) {
	slices.SortFunc(tasks, func(a, b *domain.TaskRuntime) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.TaskID, b.TaskID)
	})
}
