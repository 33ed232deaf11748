package interfaces

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrTransient   = errors.New("transient error")
	ErrNoStreams   = errors.New("no streams")
	ErrFetch       = errors.New("fetch error")
	ErrToolMissing = errors.New("tool missing")
	ErrToolFailed  = errors.New("tool failed")
	ErrFinalize    = errors.New("finalize error")
)

// ToolError is an external executable exiting non-zero.
type ToolError struct {
	Tool     string
	ExitCode int
	Stdout   string
	Stderr   string
	// Kind is the sentinel this error unwraps to.
	Kind error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	if out := strings.TrimSpace(e.Stderr); out != "" {
		msg += ": " + lastLine(out)
	} else if out := strings.TrimSpace(e.Stdout); out != "" {
		msg += ": " + lastLine(out)
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	if e.Kind == nil {
		return ErrToolFailed
	}
	return e.Kind
}

func lastLine(s string) string {
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[idx+1:])
	}
	return s
}

// ErrorKind names the sentinel an error wraps, "unknown" otherwise.
func ErrorKind(err error) string {
	for _, k := range []error{ErrNotFound, ErrTransient, ErrNoStreams, ErrFetch, ErrToolMissing, ErrToolFailed, ErrFinalize} {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return "unknown"
}
