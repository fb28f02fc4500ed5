package kernel

import (
	"errors"
	"fmt"
)

var (
	// ErrTransactionFailure means commit could not complete due to a
	// storage or index-apply failure. The transaction is already
	// rolled back and closed; the caller must start a new one.
	ErrTransactionFailure = errors.New("transaction failure")

	// ErrInvalidTransactionType means the requested write capability
	// is unavailable because the transaction cannot be upgraded to a
	// writer, e.g. the schema changed since it began.
	ErrInvalidTransactionType = errors.New("invalid transaction type")

	// ErrFrozenLocks means a lock operation was attempted while the
	// freeze counter is above zero. A caller contract violation,
	// never retried.
	ErrFrozenLocks = errors.New("lock operation on a transaction with frozen locks")

	// ErrTerminated is the errors.Is target of TerminationError.
	ErrTerminated = errors.New("transaction terminated")

	errNotOpen = errors.New("transaction is not open")
)

// TerminationReason says why a transaction was marked for
// termination. Opaque to the kernel beyond auditing.
type TerminationReason string

const (
	TerminatedByUser      TerminationReason = "Terminated"
	TransactionTimedOut   TerminationReason = "TransactionTimedOut"
	TransactionValidation TerminationReason = "TransactionValidationFailed"
)

// TerminationError is returned by every operation invoked after
// MarkForTermination; it carries the first termination reason.
type TerminationError struct {
	Reason TerminationReason
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("transaction terminated: %s", e.Reason)
}

func (e *TerminationError) Is(target error) bool {
	return target == ErrTerminated
}
