package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ikanban/ikanban/internal/domain"
)

// Colors defines the color palette for the TUI.
var Colors = struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Muted     lipgloss.Color
	Error     lipgloss.Color
	Success   lipgloss.Color
	Warning   lipgloss.Color
	Text      lipgloss.Color

	// Task state colors
	Queued   lipgloss.Color
	Working  lipgloss.Color
	Review   lipgloss.Color
	Done     lipgloss.Color
	Failed   lipgloss.Color
	Cleaning lipgloss.Color
}{
	Primary:   lipgloss.Color("#6C5CE7"), // Purple
	Secondary: lipgloss.Color("#A29BFE"), // Lavender
	Muted:     lipgloss.Color("#636E72"), // Gray
	Error:     lipgloss.Color("#D63031"), // Red
	Success:   lipgloss.Color("#00B894"), // Green
	Warning:   lipgloss.Color("#FDCB6E"), // Yellow
	Text:      lipgloss.Color("#DFE6E9"), // Light gray

	Queued:   lipgloss.Color("#74B9FF"), // Light blue
	Working:  lipgloss.Color("#FDCB6E"), // Yellow
	Review:   lipgloss.Color("#A29BFE"), // Lavender
	Done:     lipgloss.Color("#00B894"), // Green
	Failed:   lipgloss.Color("#D63031"), // Red
	Cleaning: lipgloss.Color("#636E72"), // Gray
}

// Styles contains the lipgloss styles of the watch view.
type Styles struct {
	Header      lipgloss.Style
	Title       lipgloss.Style
	Meta        lipgloss.Style
	Tab         lipgloss.Style
	TabActive   lipgloss.Style
	Role        lipgloss.Style
	Preview     lipgloss.Style
	EventType   lipgloss.Style
	LogSource   lipgloss.Style
	Error       lipgloss.Style
	Footer      lipgloss.Style
	FollowBadge lipgloss.Style
}

// DefaultStyles returns the default styles.
func DefaultStyles() Styles {
	return Styles{
		Header:      lipgloss.NewStyle().Padding(0, 1).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(Colors.Muted),
		Title:       lipgloss.NewStyle().Bold(true).Foreground(Colors.Text),
		Meta:        lipgloss.NewStyle().Foreground(Colors.Muted),
		Tab:         lipgloss.NewStyle().Padding(0, 1).Foreground(Colors.Muted),
		TabActive:   lipgloss.NewStyle().Padding(0, 1).Bold(true).Foreground(Colors.Primary).Underline(true),
		Role:        lipgloss.NewStyle().Bold(true).Foreground(Colors.Secondary),
		Preview:     lipgloss.NewStyle().Foreground(Colors.Text),
		EventType:   lipgloss.NewStyle().Foreground(Colors.Primary),
		LogSource:   lipgloss.NewStyle().Foreground(Colors.Secondary),
		Error:       lipgloss.NewStyle().Foreground(Colors.Error),
		Footer:      lipgloss.NewStyle().Padding(0, 1).Foreground(Colors.Muted),
		FollowBadge: lipgloss.NewStyle().Foreground(Colors.Success),
	}
}

// StateStyle returns the badge style of a task state.
func StateStyle(state domain.TaskState) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch state {
	case domain.TaskStateQueued:
		return base.Foreground(Colors.Queued)
	case domain.TaskStateCreatingWorktree, domain.TaskStateRunning:
		return base.Foreground(Colors.Working)
	case domain.TaskStateReview:
		return base.Foreground(Colors.Review)
	case domain.TaskStateCompleted:
		return base.Foreground(Colors.Done)
	case domain.TaskStateFailed:
		return base.Foreground(Colors.Failed)
	default:
		return base.Foreground(Colors.Cleaning)
	}
}

// LevelStyle returns the style of a log level.
func LevelStyle(level domain.LogLevel) lipgloss.Style {
	switch level {
	case domain.LogError:
		return lipgloss.NewStyle().Foreground(Colors.Error)
	case domain.LogWarn:
		return lipgloss.NewStyle().Foreground(Colors.Warning)
	default:
		return lipgloss.NewStyle().Foreground(Colors.Muted)
	}
}
