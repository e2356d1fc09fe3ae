package golem

import (
	"fmt"
	"time"
)

// ValidationError reports input that violates schema or identifier rules.
// It is a configuration problem, never retriable, and is raised before any
// storage or network I/O happens.
type ValidationError struct {
	Field string // offending field or identifier, may be empty
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Msg)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

// Runtime error kinds.
const (
	RuntimeLoopBound     = "loop_bound"     // flow_while exceeded max_iterations
	RuntimeCallDepth     = "call_depth"     // call_flow nesting exceeded the limit
	RuntimeUnknownFlow   = "unknown_flow"   // call target is not a registered flow
	RuntimeUnknownAction = "unknown_action" // action name is not registered
	RuntimeBadAction     = "bad_action"     // action config failed to decode
	RuntimeScope         = "scope"          // scope params missing from the evaluation context
)

// RuntimeError reports an action whose semantics were violated while
// executing, such as a loop bound or a call into a flow that does not exist.
type RuntimeError struct {
	Kind string
	Msg  string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime: %s: %s", e.Kind, e.Msg)
}

// StorageError wraps a failure reported by a storage adapter. Retriable marks
// transient conditions (lost connection, busy database) that a caller may
// retry; schema and constraint failures are not retriable.
type StorageError struct {
	Op        string // adapter operation, e.g. "kv.set", "table.query"
	Err       error
	Retriable bool
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// TransportError wraps a pipe or platform transport failure. Pipes translate
// these into reconnection when a reconnect policy is configured.
type TransportError struct {
	Transport string // pipe name or platform adapter name
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RequestTimeoutError reports a request/response overlay that expired before
// a matching response arrived.
type RequestTimeoutError struct {
	Transport string
	Timeout   time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("request timeout: %s: no response within %s", e.Transport, e.Timeout)
}

// ExternalError wraps an error surfaced by the platform adapter.
type ExternalError struct {
	Op  string
	Err error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("external: %s: %v", e.Op, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }
