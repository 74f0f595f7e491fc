package domain

import "strings"

// ExecCommand represents an external command to be executed.
// This type is used to pass command information between layers
// without exposing implementation details.
type ExecCommand struct {
	Program string
	Dir     string
	Args    []string
}

// String renders the command line for error messages.
func (c *ExecCommand) String() string {
	return strings.TrimSpace(c.Program + " " + strings.Join(c.Args, " "))
}
