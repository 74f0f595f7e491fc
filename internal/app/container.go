// Package app provides the dependency injection container for the application.
package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ikanban/ikanban/internal/conversation"
	"github.com/ikanban/ikanban/internal/domain"
	"github.com/ikanban/ikanban/internal/eventbus"
	"github.com/ikanban/ikanban/internal/infra/config"
	"github.com/ikanban/ikanban/internal/infra/eventlog"
	"github.com/ikanban/ikanban/internal/infra/executor"
	"github.com/ikanban/ikanban/internal/infra/git"
	"github.com/ikanban/ikanban/internal/infra/gitstore"
	"github.com/ikanban/ikanban/internal/infra/jsonstore"
	"github.com/ikanban/ikanban/internal/infra/logging"
	"github.com/ikanban/ikanban/internal/infra/metrics"
	"github.com/ikanban/ikanban/internal/infra/opencode"
	"github.com/ikanban/ikanban/internal/infra/worktree"
	"github.com/ikanban/ikanban/internal/orchestrator"
	worktreemgr "github.com/ikanban/ikanban/internal/worktree"
)

// Paths holds the directories the application reads and writes.
type Paths struct {
	DataDir   string // projects.json, events.db, logs/
	ConfigDir string // Global config directory
	WorkDir   string // Directory the command runs in
}

// DefaultPaths resolves the XDG data and config directories.
func DefaultPaths() (Paths, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Paths{}, fmt.Errorf("get current directory: %w", err)
	}
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, fmt.Errorf("resolve home directory: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return Paths{
		DataDir:   filepath.Join(dataHome, domain.AppName),
		ConfigDir: config.DefaultGlobalConfigDir(),
		WorkDir:   cwd,
	}, nil
}

// Deps are the ports the container is assembled from.
type Deps struct {
	Projects domain.ProjectRegistry
	Runtime  domain.RuntimeClientProvider
	Git      domain.Git
	Store    domain.TaskStore // Optional
	Clock    domain.Clock
	Logger   domain.Logger
	Config   *domain.Config
}

// Container provides dependency injection for the application.
// It holds all port implementations and the services built on them.
type Container struct {
	// Ports (interfaces bound to implementations)
	Projects domain.ProjectRegistry
	Runtime  domain.RuntimeClientProvider
	Git      domain.Git
	Store    domain.TaskStore
	Clock    domain.Clock
	Logger   domain.Logger

	// Services
	Bus           *eventbus.Bus
	Worktrees     *worktreemgr.Manager
	Conversations *conversation.Manager
	Orchestrator  *orchestrator.Orchestrator
	Metrics       *metrics.Recorder
	Journal       *eventlog.Journal // nil when the journal is unavailable

	ConfigManager *config.Manager

	// Diag writes CLI diagnostics to stderr
	Diag *slog.Logger

	// Configuration
	Config  *domain.Config
	Paths   Paths
	Project *domain.ProjectRef // Registered project containing WorkDir, if any

	closers []io.Closer
}

// New creates a Container over the real infrastructure.
// Configuration is loaded for the registered project containing paths.WorkDir.
func New(paths Paths) (*Container, error) {
	projects := jsonstore.New(domain.ProjectsStorePath(paths.DataDir), domain.RealClock{})

	project := findProject(projects, paths.WorkDir)
	projectDir := ""
	if project != nil {
		projectDir = project.RootDirectory
	}
	cfg, err := config.NewLoaderWithGlobalDir(paths.ConfigDir).Load(projectDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(paths.DataDir, logging.ParseLevel(cfg.Log.Level))

	runner := executor.NewClient()
	gitClient := git.NewClient(runner)
	runtime := opencode.NewProvider(opencode.Options{
		Worktrees: worktree.NewClient(gitClient, runner),
		BaseURL:   cfg.Runtime.BaseURL(),
		Timeout:   cfg.Runtime.TimeoutDuration(),
	})

	c, err := NewWithDeps(paths, Deps{
		Projects: projects,
		Runtime:  runtime,
		Git:      gitClient,
		Store:    gitstore.NewProjectStores(projects, gitstore.DefaultNamespace),
		Clock:    domain.RealClock{},
		Logger:   logger,
		Config:   cfg,
	})
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	c.Project = project
	c.closers = append(c.closers, logger)

	journal, err := eventlog.Open(domain.EventLogPath(paths.DataDir), logger)
	if err != nil {
		c.Diag.Warn("event journal disabled", "error", err)
	} else {
		c.Journal = journal
		journal.Attach(c.Bus)
		c.closers = append(c.closers, journal)
	}

	if _, err := c.Orchestrator.Restore(); err != nil {
		c.Diag.Warn("restore tasks", "error", err)
	}
	return c, nil
}

// NewWithDeps assembles the services over the given ports.
func NewWithDeps(paths Paths, deps Deps) (*Container, error) {
	cfg := deps.Config
	if cfg == nil {
		cfg = domain.NewDefaultConfig()
	}
	clock := deps.Clock
	if clock == nil {
		clock = domain.RealClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = domain.NopLogger{}
	}

	policy, err := domain.ParseCleanupPolicy(cfg.Worktree.CleanupPolicy)
	if err != nil {
		return nil, err
	}
	model, err := domain.ParseModelRef(cfg.Runtime.Model)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New(clock)
	logging.AttachBus(bus, logger)
	recorder := metrics.NewRecorder()
	recorder.Attach(bus)

	worktrees := worktreemgr.NewManager(deps.Runtime, deps.Git, worktreemgr.Options{
		Emitter:      bus,
		Logger:       logger,
		Clock:        clock,
		MergeMessage: cfg.Merge.Message,
		KeepBranches: !cfg.Worktree.ShouldDeleteBranch(),
	})
	conversations := conversation.NewManager(deps.Runtime, conversation.Options{
		Emitter: bus,
		Logger:  logger,
		Clock:   clock,
		Model:   model,
	})
	orch := orchestrator.New(orchestrator.Deps{
		Projects:      deps.Projects,
		Worktrees:     worktrees,
		Conversations: conversations,
		Bus:           bus,
	}, orchestrator.Options{
		Store:         deps.Store,
		Logger:        logger,
		Clock:         clock,
		StartCommand:  cfg.Worktree.StartCommand,
		CleanupPolicy: policy,
	})

	return &Container{
		Projects:      deps.Projects,
		Runtime:       deps.Runtime,
		Git:           deps.Git,
		Store:         deps.Store,
		Clock:         clock,
		Logger:        logger,
		Bus:           bus,
		Worktrees:     worktrees,
		Conversations: conversations,
		Orchestrator:  orch,
		Metrics:       recorder,
		ConfigManager: config.NewManagerWithGlobalDir(paths.ConfigDir),
		Diag: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logging.ParseLevel(cfg.Log.Level),
		})),
		Config: cfg,
		Paths:  paths,
	}, nil
}

// Close releases files and databases held by the container.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// findProject returns the registered project whose root contains dir.
// The deepest root wins for nested repositories.
func findProject(projects domain.ProjectRegistry, dir string) *domain.ProjectRef {
	if dir == "" {
		return nil
	}
	list, err := projects.List()
	if err != nil {
		return nil
	}
	var best *domain.ProjectRef
	for _, p := range list {
		rel, err := filepath.Rel(p.RootDirectory, dir)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if best == nil || len(p.RootDirectory) > len(best.RootDirectory) {
			best = p
		}
	}
	return best
}

// FindProject returns the registered project containing dir, or nil.
func (c *Container) FindProject(dir string) *domain.ProjectRef {
	return findProject(c.Projects, dir)
}
