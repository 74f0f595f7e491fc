// Package config provides configuration loading functionality.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"github.com/ikanban/ikanban/internal/domain"
)

// Ensure Loader implements domain.ConfigLoader.
var _ domain.ConfigLoader = (*Loader)(nil)

// Loader loads configuration from TOML files.
type Loader struct {
	globalConfDir string // Path to global config directory (e.g., ~/.config/ikanban)
}

// NewLoader creates a new Loader using the default global config directory.
func NewLoader() *Loader {
	return &Loader{globalConfDir: DefaultGlobalConfigDir()}
}

// NewLoaderWithGlobalDir creates a new Loader with a custom global config directory.
// This is useful for testing.
func NewLoaderWithGlobalDir(globalConfDir string) *Loader {
	return &Loader{globalConfDir: globalConfDir}
}

// DefaultGlobalConfigDir returns $XDG_CONFIG_HOME/ikanban, falling back to ~/.config/ikanban.
func DefaultGlobalConfigDir() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return domain.GlobalConfigDir(configHome)
}

// Load returns the merged configuration (default <- global <- project).
// An empty projectDir skips the project override.
func (l *Loader) Load(projectDir string) (*domain.Config, error) {
	global, err := l.LoadGlobal()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	var project *domain.Config
	if projectDir != "" {
		project, err = loadFile(domain.ProjectConfigPath(projectDir))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	base := domain.NewDefaultConfig()
	if global != nil {
		base = mergeConfigs(base, global)
	}
	if project != nil {
		base = mergeConfigs(base, project)
	}

	if _, err := domain.ParseCleanupPolicy(base.Worktree.CleanupPolicy); err != nil {
		return nil, err
	}
	if _, err := domain.ParseModelRef(base.Runtime.Model); err != nil {
		return nil, err
	}
	return base, nil
}

// LoadGlobal returns only the global configuration.
func (l *Loader) LoadGlobal() (*domain.Config, error) {
	if l.globalConfDir == "" {
		return nil, os.ErrNotExist
	}
	return loadFile(filepath.Join(l.globalConfDir, domain.ConfigFileName))
}

// loadFile loads a configuration from a file.
func loadFile(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return convertRawToDomainConfig(raw), nil
}

// convertRawToDomainConfig converts the raw map to domain config and collects warnings.
func convertRawToDomainConfig(raw map[string]any) *domain.Config {
	res := &domain.Config{}
	var warnings []string

	for section, value := range raw {
		m, ok := value.(map[string]any)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unknown key: %s", section))
			continue
		}
		switch section {
		case "runtime":
			for k, v := range m {
				switch k {
				case "url":
					res.Runtime.URL = asString(v)
				case "model":
					res.Runtime.Model = asString(v)
				case "timeout":
					res.Runtime.Timeout = asString(v)
				case "hostname":
					res.Runtime.Hostname = asString(v)
				case "port":
					if n, ok := v.(int64); ok {
						res.Runtime.Port = int(n)
					}
				default:
					warnings = append(warnings, fmt.Sprintf("unknown key in [runtime]: %s", k))
				}
			}
		case "worktree":
			for k, v := range m {
				switch k {
				case "start_command":
					res.Worktree.StartCommand = asString(v)
				case "cleanup_policy":
					res.Worktree.CleanupPolicy = asString(v)
				case "delete_branch":
					if b, ok := v.(bool); ok {
						res.Worktree.DeleteBranch = &b
					}
				default:
					warnings = append(warnings, fmt.Sprintf("unknown key in [worktree]: %s", k))
				}
			}
		case "merge":
			for k, v := range m {
				switch k {
				case "message":
					res.Merge.Message = asString(v)
				default:
					warnings = append(warnings, fmt.Sprintf("unknown key in [merge]: %s", k))
				}
			}
		case "log":
			for k, v := range m {
				switch k {
				case "level":
					res.Log.Level = asString(v)
				default:
					warnings = append(warnings, fmt.Sprintf("unknown key in [log]: %s", k))
				}
			}
		default:
			warnings = append(warnings, fmt.Sprintf("unknown section: %s", section))
		}
	}

	sort.Strings(warnings)
	res.Warnings = warnings
	return res
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// mergeConfigs merges two configs, with override taking precedence.
func mergeConfigs(base, override *domain.Config) *domain.Config {
	result := &domain.Config{
		Runtime:  base.Runtime,
		Worktree: base.Worktree,
		Merge:    base.Merge,
		Log:      base.Log,
		Warnings: append([]string{}, base.Warnings...),
	}
	result.Warnings = append(result.Warnings, override.Warnings...)

	if override.Runtime.URL != "" {
		result.Runtime.URL = override.Runtime.URL
	}
	if override.Runtime.Model != "" {
		result.Runtime.Model = override.Runtime.Model
	}
	if override.Runtime.Timeout != "" {
		result.Runtime.Timeout = override.Runtime.Timeout
	}
	if override.Runtime.Hostname != "" {
		result.Runtime.Hostname = override.Runtime.Hostname
	}
	if override.Runtime.Port != 0 {
		result.Runtime.Port = override.Runtime.Port
	}
	if override.Worktree.StartCommand != "" {
		result.Worktree.StartCommand = override.Worktree.StartCommand
	}
	if override.Worktree.CleanupPolicy != "" {
		result.Worktree.CleanupPolicy = override.Worktree.CleanupPolicy
	}
	if override.Worktree.DeleteBranch != nil {
		b := *override.Worktree.DeleteBranch
		result.Worktree.DeleteBranch = &b
	}
	if override.Merge.Message != "" {
		result.Merge.Message = override.Merge.Message
	}
	if override.Log.Level != "" {
		result.Log.Level = override.Log.Level
	}

	return result
}
