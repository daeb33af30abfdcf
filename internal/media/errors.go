package media

import (
	"fmt"
	"strings"
)

// ValidationError is a malformed submission. Nothing has been created when it is returned.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid submission: " + strings.Join(e.Problems, "; ")
}

// ConflictError means the project already has a running job.
type ConflictError struct {
	ProjectID string
	JobID     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("project %s already has a running job %s", e.ProjectID, e.JobID)
}

// NotFoundError means the job is unknown or its retention period has expired.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("job %s not found", e.JobID)
}

// SystemicError is an infrastructure failure that aborts the whole job.
type SystemicError struct {
	Op  string
	Err error
}

func (e *SystemicError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SystemicError) Unwrap() error { return e.Err }
