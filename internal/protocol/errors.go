package protocol

import (
	"errors"
	"fmt"
)

// SyncError is a fatal protocol violation. It aborts the whole pull or push
// and indicates a client/server version mismatch or a deployment bug; the
// server never retries it.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Message is a human-readable description.
	Message string

	// ClientID and MutationID locate the offending mutation, when there is one.
	ClientID   string
	MutationID int64
}

// SyncErrorCode categorizes protocol violations.
type SyncErrorCode string

const (
	// ErrCodeMutationFromFuture: a mutation id skipped ahead of lastMutationID+1.
	ErrCodeMutationFromFuture SyncErrorCode = "MUTATION_FROM_FUTURE"

	// ErrCodeNoMutator: no mutator is registered under the mutation name.
	ErrCodeNoMutator SyncErrorCode = "NO_MUTATOR"

	// ErrCodeNoAffectedSpaces: a mutator has no affected-space registration.
	ErrCodeNoAffectedSpaces SyncErrorCode = "NO_AFFECTED_SPACES"

	// ErrCodeUnknownSpace: the request names a space that is not defined.
	ErrCodeUnknownSpace SyncErrorCode = "UNKNOWN_SPACE"

	// ErrCodeRetriesExhausted: a mutation transaction kept failing transiently.
	ErrCodeRetriesExhausted SyncErrorCode = "RETRIES_EXHAUSTED"

	// ErrCodeClientGroupMismatch: a client pushed through a group other than
	// the one it first pushed with.
	ErrCodeClientGroupMismatch SyncErrorCode = "CLIENT_GROUP_MISMATCH"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.ClientID != "" {
		return fmt.Sprintf("%s: %s (client=%s, mutation=%d)", e.Code, e.Message, e.ClientID, e.MutationID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewFutureMutationError reports a mutation that arrived ahead of its turn.
func NewFutureMutationError(clientID string, got, expected int64) *SyncError {
	return &SyncError{
		Code:       ErrCodeMutationFromFuture,
		Message:    fmt.Sprintf("mutation from the future: got %d, expected %d", got, expected),
		ClientID:   clientID,
		MutationID: got,
	}
}

// NewNoMutatorError reports a mutation whose name has no mutator.
func NewNoMutatorError(m Mutation) *SyncError {
	return &SyncError{
		Code:       ErrCodeNoMutator,
		Message:    fmt.Sprintf("no mutator found for %q", m.Name),
		ClientID:   m.ClientID,
		MutationID: m.ID,
	}
}

// NewClientGroupMismatchError reports a mutation from a client that belongs
// to another client group.
func NewClientGroupMismatchError(m Mutation, registered, got string) *SyncError {
	return &SyncError{
		Code:       ErrCodeClientGroupMismatch,
		Message:    fmt.Sprintf("client belongs to group %q, pushed via %q", registered, got),
		ClientID:   m.ClientID,
		MutationID: m.ID,
	}
}

// IsFutureMutation reports whether err is a MUTATION_FROM_FUTURE error.
func IsFutureMutation(err error) bool {
	return hasSyncCode(err, ErrCodeMutationFromFuture)
}

// IsNoMutator reports whether err is a NO_MUTATOR error.
func IsNoMutator(err error) bool {
	return hasSyncCode(err, ErrCodeNoMutator)
}

// IsSyncError reports whether err carries any SyncError.
func IsSyncError(err error) bool {
	var se *SyncError
	return errors.As(err, &se)
}

func hasSyncCode(err error, code SyncErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// DomainError is a user-facing validation failure raised by a mutator,
// such as "cart is empty". It is surfaced to the caller and never retried.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewDomainError creates a DomainError.
func NewDomainError(code, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsDomainError extracts a DomainError from err.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
