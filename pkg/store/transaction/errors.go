package transaction

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a lookup miss.
	ErrNotFound = errors.New("transaction not found")

	// ErrDuplicateID reports a save with an already-used transactionId.
	ErrDuplicateID = errors.New("transaction id already exists")

	// ErrNotReversible reports a reversal attempt against a record whose
	// status does not allow it.
	ErrNotReversible = errors.New("transaction is not in a reversible state")
)

// IllegalTransitionError reports a status change outside the state machine.
// It indicates a pipeline defect, not a data error.
type IllegalTransitionError struct {
	TransactionID string
	From, To      Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("transaction %s: illegal status transition %s -> %s", e.TransactionID, e.From, e.To)
}
