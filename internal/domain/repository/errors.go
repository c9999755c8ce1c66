package repository

import (
	"errors"
	"fmt"
)

// ErrPoolExhausted is returned when no store connection becomes available
// within the acquisition timeout. Surfaced to the caller, never a hang.
var ErrPoolExhausted = errors.New("store: connection pool exhausted")

// ErrStale is returned by freshness-bounded reads when every stored row is
// older than the requested max age.
var ErrStale = errors.New("store: no rows within freshness bound")

// ParseError marks a malformed or unexpected message shape. The single
// message is dropped and the stream continues.
type ParseError struct {
	Source string // stream topic or endpoint
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UpstreamError is a structured rejection from the exchange REST API. It is
// surfaced to the caller as-is and never retried automatically.
type UpstreamError struct {
	Code    int
	Message string
	Status  int // HTTP status
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("exchange rejected request: code=%d status=%d %s", e.Code, e.Status, e.Message)
}

// PersistenceError wraps a failed store write. Logged by the pipeline, does
// not affect stream continuation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
