package cds

import "fmt"

// InvalidObjectError is raised by Validate when a required field is absent.
type InvalidObjectError struct {
	Reason string
}

func (e *InvalidObjectError) Error() string { return "cds: invalid object: " + e.Reason }

// NotFoundError is returned by Storage lookups; it is never fatal to the
// import pipeline.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string { return "cds: not found: " + e.What }

// InUseError is raised by RemoveSubtree when referrers outside the subtree
// exist and allowRefs is false.
type InUseError struct {
	ObjectID int32
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("cds: object %d is in use by external referrers", e.ObjectID)
}

// ParseError is raised by the search/sort compiler; Col is 1-based.
type ParseError struct {
	Col int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cds: parse error at column %d: %s", e.Col, e.Msg)
}

// HandlerError is raised by a metadata handler; the handler is skipped for
// that object but the pipeline continues.
type HandlerError struct {
	Handler string
	Cause   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("cds: handler %q failed: %v", e.Handler, e.Cause)
}

func (e *HandlerError) Unwrap() error { return e.Cause }

// HandlerTimeoutError is raised when a handler exceeds its wall-clock
// budget. It carries the same disposition as HandlerError.
type HandlerTimeoutError struct {
	Handler string
	Budget  string
}

func (e *HandlerTimeoutError) Error() string {
	return fmt.Sprintf("cds: handler %q exceeded its %s budget", e.Handler, e.Budget)
}

// ShutdownError propagates a cancellation signal up through a long-running
// operation; workers exit on receiving it.
type ShutdownError struct{}

func (e *ShutdownError) Error() string { return "cds: shutdown in progress" }

// IoError wraps a filesystem I/O failure for a specific path; per-file, the
// pipeline logs and skips.
type IoError struct {
	Path  string
	Cause error
}

func (e *IoError) Error() string { return fmt.Sprintf("cds: io error on %s: %v", e.Path, e.Cause) }

func (e *IoError) Unwrap() error { return e.Cause }

// DbError wraps a Storage failure. It is fatal to the current task, but the
// pipeline as a whole continues.
type DbError struct {
	Op    string
	Cause error
}

func (e *DbError) Error() string { return fmt.Sprintf("cds: db error during %s: %v", e.Op, e.Cause) }

func (e *DbError) Unwrap() error { return e.Cause }
