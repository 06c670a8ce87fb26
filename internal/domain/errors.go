package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable wraps connectivity and timeout failures of the
	// backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrMalformedRecord  = errors.New("malformed record")
)

// MalformedRecordError describes a stored record that failed to decode.
type MalformedRecordError struct {
	Key   string
	Index int // position within a list, or -1 for hashes
	Err   error
}

func (e *MalformedRecordError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("malformed record %s[%d]: %v", e.Key, e.Index, e.Err)
	}
	return fmt.Sprintf("malformed record %s: %v", e.Key, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// Is matches ErrMalformedRecord.
func (e *MalformedRecordError) Is(target error) bool {
	return target == ErrMalformedRecord
}

// AgentError is an opaque failure of the reasoning capability.
type AgentError struct {
	Provider string
	Err      error
}

func (e *AgentError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("agent (%s): %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("agent: %v", e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }
