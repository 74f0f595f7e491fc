package gitstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-git/go-git/v5"

	"github.com/ikanban/ikanban/internal/domain"
)

// Ensure ProjectStores implements domain.TaskStore.
var _ domain.TaskStore = (*ProjectStores)(nil)

// ProjectStores routes task snapshots to the repository of their project.
// Each project's snapshots live in its own repository, opened lazily.
type ProjectStores struct {
	projects  domain.ProjectRegistry
	stores    map[string]*Store // by project id
	namespace string
	mu        sync.Mutex
}

// NewProjectStores creates a TaskStore over every registered project.
func NewProjectStores(projects domain.ProjectRegistry, namespace string) *ProjectStores {
	return &ProjectStores{
		projects:  projects,
		namespace: namespace,
		stores:    make(map[string]*Store),
	}
}

// store returns the Store of a project, opening it on first use.
func (p *ProjectStores) store(projectID string) (*Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.stores[projectID]; ok {
		return s, nil
	}
	project, err := p.projects.Get(projectID)
	if err != nil {
		return nil, err
	}
	s, err := Open(project.RootDirectory, p.namespace)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", projectID, err)
	}
	p.stores[projectID] = s
	return s, nil
}

// Save writes a snapshot into the repository of its project.
func (p *ProjectStores) Save(task *domain.TaskRuntime) error {
	s, err := p.store(task.ProjectID)
	if err != nil {
		return err
	}
	return s.Save(task)
}

// Delete removes a snapshot from the repository of its project.
func (p *ProjectStores) Delete(projectID, taskID string) error {
	s, err := p.store(projectID)
	if err != nil {
		return err
	}
	return s.Delete(taskID)
}

// List returns the snapshots of every registered project.
// Projects whose repository has disappeared are skipped.
func (p *ProjectStores) List() ([]*domain.TaskRuntime, error) {
	projects, err := p.projects.List()
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	var all []*domain.TaskRuntime
	for _, project := range projects {
		s, err := p.store(project.ID)
		if err != nil {
			if errors.Is(err, git.ErrRepositoryNotExists) {
				continue
			}
			return nil, err
		}
		tasks, err := s.List()
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", project.ID, err)
		}
		all = append(all, tasks...)
	}

	sortTasks(all)
	return all, nil
}
