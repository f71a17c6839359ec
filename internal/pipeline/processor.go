package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexuspay/fepgate/internal/iso8583"
	"github.com/nexuspay/fepgate/pkg/store/transaction"
)

// Processor executes one transaction type. Implementations are stateless
// and idempotent given the same (transactionId, inputs).
type Processor interface {
	// Name identifies the processor in logs and metrics.
	Name() string

	// Supports reports whether the processor handles the type.
	Supports(t transaction.Type) bool

	// Process executes the business operation, returning the response
	// message and mutating the record (auth code, accounts, status hints).
	Process(ctx context.Context, txn *Txn) (*iso8583.Message, error)
}

// ProcessorError carries the field-39 code a processor failure maps to.
type ProcessorError struct {
	Processor string
	Code      string
	Err       error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("processor %s failed (code %s): %v", e.Processor, e.Code, e.Err)
}

func (e *ProcessorError) Unwrap() error { return e.Err }

// authCode derives a deterministic 6-character authorization code from the
// transaction id, so retries of the same transaction authorize identically.
func authCode(txnID string) string {
	trimmed := strings.TrimPrefix(txnID, "TXN-")
	cleaned := strings.ToUpper(strings.ReplaceAll(trimmed, "-", ""))
	if len(cleaned) > 6 {
		cleaned = cleaned[:6]
	}
	return cleaned
}
