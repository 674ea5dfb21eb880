package catool

import (
	"fmt"
	"strings"
)

// ToolError is returned when the CA tool exits with a non-zero status.
type ToolError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ToolError) Error() string {
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(e.Stdout); msg != "" {
		return msg
	}
	return fmt.Sprintf("error running CA tool (exit code %d)", e.ExitCode)
}
