package core

import (
	"errors"
	"fmt"
)

// FailureKind is the closed taxonomy of terminal conversation failures
// surfaced verbatim to callers. Classification and selection failures are
// recovered locally and never appear here.
type FailureKind string

const (
	FailureSecurityDenied FailureKind = "security_denied"
	FailureBudgetExceeded FailureKind = "budget_exceeded"
	FailureApprovalDenied FailureKind = "approval_denied"
	FailureTurnExecution  FailureKind = "turn_execution_error"
	FailureCancelled      FailureKind = "cancelled"
)

// ConversationError is a terminal, non-retryable conversation failure. Gate
// denials and exhausted turn retries are reported through this type.
type ConversationError struct {
	Kind   FailureKind
	Reason string
}

func (e *ConversationError) Error() string {
	return fmt.Sprintf("conversation failed (%s): %s", e.Kind, e.Reason)
}

// NewConversationError builds a ConversationError with a formatted reason.
func NewConversationError(kind FailureKind, format string, args ...any) *ConversationError {
	return &ConversationError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// FailureKindOf extracts the failure kind from err, returning ok=false for
// non-conversation errors.
func FailureKindOf(err error) (FailureKind, bool) {
	var ce *ConversationError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

var (
	// ErrConversationNotFound is returned by ConversationStore.Get for
	// unknown ids.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrApprovalNotFound is returned by approval lookups for unknown ids.
	ErrApprovalNotFound = errors.New("approval request not found")

	// ErrSessionNotFound is returned by streaming operations addressing a
	// closed or unknown session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoEligibleSpeaker signals an empty participant set. Callers recover
	// by falling back to the first participant where one exists.
	ErrNoEligibleSpeaker = errors.New("no eligible speaker")

	// ErrEmptyMessage rejects blank or whitespace-only input before any
	// conversation state is created or classified.
	ErrEmptyMessage = errors.New("message must not be empty")
)
