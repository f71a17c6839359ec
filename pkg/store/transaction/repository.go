package transaction

import (
	"context"
	"time"
)

// Repository is the persistence contract for transaction records.
//
// Implementations must be safe for concurrent use and must enforce the
// status state machine on every mutation. Lookups return ErrNotFound on a
// miss and hand out copies, never internal state.
type Repository interface {
	// Save persists a new record. Fails with ErrDuplicateID if the
	// transactionId is already taken.
	Save(ctx context.Context, record *Record) error

	// FindByTransactionID returns the record with the given id.
	FindByTransactionID(ctx context.Context, id string) (*Record, error)

	// FindByRrnAndStan returns the most recent record matching both keys.
	FindByRrnAndStan(ctx context.Context, rrn, stan string) (*Record, error)

	// FindByRrnStanTerminal narrows FindByRrnAndStan to one terminal.
	FindByRrnStanTerminal(ctx context.Context, rrn, stan, terminalID string) (*Record, error)

	// FindByMaskedPanAndDateRange returns records for a masked PAN whose
	// transaction time falls in [from, to).
	FindByMaskedPanAndDateRange(ctx context.Context, maskedPAN string, from, to time.Time) ([]*Record, error)

	// FindByTerminalIDAndDateRange returns records for a terminal whose
	// transaction time falls in [from, to).
	FindByTerminalIDAndDateRange(ctx context.Context, terminalID string, from, to time.Time) ([]*Record, error)

	// FindByStatus returns all records currently in the given status.
	FindByStatus(ctx context.Context, status Status) ([]*Record, error)

	// UpdateStatus transitions a record, enforcing the state machine.
	UpdateStatus(ctx context.Context, id string, status Status) error

	// UpdateResponse stores the host response fields on a record.
	UpdateResponse(ctx context.Context, id, responseCode, authCode string, respondedAt time.Time) error

	// ExistsByTransactionID reports whether the id is taken.
	ExistsByTransactionID(ctx context.Context, id string) (bool, error)

	// IsDuplicate reports whether a record with the same (rrn, stan,
	// terminalId) was created within the trailing window.
	IsDuplicate(ctx context.Context, rrn, stan, terminalID string, window time.Duration) (bool, error)

	// CountByStatusAndDate counts records in a status on one partition day
	// (yyyy-mm-dd).
	CountByStatusAndDate(ctx context.Context, status Status, date string) (int64, error)

	// FindOriginalForReversal returns the record only when its status allows
	// reversal (APPROVED, COMPLETED, or PENDING); otherwise ErrNotReversible.
	FindOriginalForReversal(ctx context.Context, id string) (*Record, error)

	// MarkAsReversed atomically drives the record through REVERSAL_PENDING
	// to REVERSED. Fails with ErrNotReversible when the current status does
	// not allow it.
	MarkAsReversed(ctx context.Context, id string) error

	// Close releases backend resources.
	Close() error
}
