package domain

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound is returned when a task id does not resolve to a stored task.
var ErrNotFound = errors.New("not found")

// ErrDuplicateRequest indicates a create request replayed an idempotency key.
var ErrDuplicateRequest = errors.New("duplicate request")

// ValidationError collects field-level messages for rejected input.
type ValidationError struct {
	Fields map[string][]string
}

// Add appends a message for field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// Empty reports whether no field failed.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// Err returns e as an error, or nil when no field failed.
func (e *ValidationError) Err() error {
	if e.Empty() {
		return nil
	}
	return e
}

// Error reports the first message (by field name) and how many more follow.
func (e *ValidationError) Error() string {
	if e.Empty() {
		return "validation failed"
	}
	fields := make([]string, 0, len(e.Fields))
	total := 0
	for f, msgs := range e.Fields {
		fields = append(fields, f)
		total += len(msgs)
	}
	sort.Strings(fields)
	first := e.Fields[fields[0]][0]
	switch rest := total - 1; rest {
	case 0:
		return first
	case 1:
		return first + " (and 1 more error)"
	default:
		return fmt.Sprintf("%s (and %d more errors)", first, rest)
	}
}
