package analysis

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyDataset = errors.New("dataset has no rows")
	ErrNoColumns    = errors.New("dataset has no columns")
)

// MissingRole names a required role that no header matched.
type MissingRole struct {
	Role    Role     `json:"role"`
	Aliases []string `json:"aliases"`
}

// ValidationError rejects a file before any analysis is persisted: wrong
// file type, empty file, or required roles that could not be resolved.
type ValidationError struct {
	Reason  string
	Missing []MissingRole
}

func (e *ValidationError) Error() string {
	if len(e.Missing) == 0 {
		return e.Reason
	}
	parts := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		parts = append(parts, fmt.Sprintf("missing required column %q (accepted: %s)", m.Role, strings.Join(m.Aliases, ", ")))
	}
	msg := strings.Join(parts, "; ")
	if e.Reason != "" {
		msg = e.Reason + ": " + msg
	}
	return msg
}

func validationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ProcessingError wraps a failure that happened while reading or analysing a
// table that passed validation. The dataset is marked failed with its message.
type ProcessingError struct {
	Err error
}

func (e *ProcessingError) Error() string {
	return "process dataset: " + e.Err.Error()
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
