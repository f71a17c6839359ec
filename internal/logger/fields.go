package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that log
// aggregation and querying works across the endpoint, pipeline, and stores.
const (
	// ========================================================================
	// Correlation
	// ========================================================================
	KeyTraceID = "trace_id" // Request correlation ID (minted per inbound frame)

	// ========================================================================
	// Message & Transaction
	// ========================================================================
	KeyMTI            = "mti"             // ISO-8583 message type indicator
	KeyStan           = "stan"            // System trace audit number (field 11)
	KeyRrn            = "rrn"             // Retrieval reference number (field 37)
	KeyTransactionID  = "transaction_id"  // Internal transaction identifier
	KeyTransactionTyp = "txn_type"        // Transaction type (withdrawal, deposit, ...)
	KeyProcessingCode = "processing_code" // ISO-8583 field 3
	KeyResponseCode   = "response_code"   // ISO-8583 field 39
	KeyStatus         = "status"          // Transaction lifecycle status
	KeyAmount         = "amount"          // Transaction amount (minor units)
	KeyCurrency       = "currency"        // ISO-4217 numeric currency code
	KeyMaskedPan      = "masked_pan"      // Masked card number, never cleartext
	KeyTerminal       = "terminal_id"     // Terminal identifier (field 41)
	KeyMerchant       = "merchant_id"     // Merchant identifier (field 42)

	// ========================================================================
	// Channel & Connection
	// ========================================================================
	KeyChannel      = "channel"       // Channel identifier
	KeyEndpoint     = "endpoint"      // Endpoint role:mode summary
	KeyState        = "state"         // Endpoint connection state
	KeyClientIP     = "client_ip"     // Peer IP address
	KeyClientID     = "client_id"     // Sanitized peer identifier (server role)
	KeyPort         = "port"          // TCP port
	KeyPortKind     = "port_kind"     // send, receive, unified
	KeyConnectionID = "connection_id" // Per-socket connection counter

	// ========================================================================
	// Pipeline
	// ========================================================================
	KeyStage     = "stage"     // Pipeline stage name
	KeyProcessor = "processor" // Processor name chosen by the router
	KeyRule      = "rule"      // Validation rule kind

	// ========================================================================
	// Operation metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"      // Error message
	KeyAttempt    = "attempt"    // Retry attempt number
	KeyMaxRetries = "max_retries" // Maximum retry attempts
	KeyBytes      = "bytes"      // Byte count on the wire

	// ========================================================================
	// Storage
	// ========================================================================
	KeyStoreName = "store_name" // Named repository identifier
	KeyStoreType = "store_type" // memory, sqlite, postgres, badger
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for the request correlation ID.
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// MTI returns a slog.Attr for the message type indicator.
func MTI(mti string) slog.Attr {
	return slog.String(KeyMTI, mti)
}

// Stan returns a slog.Attr for the system trace audit number.
func Stan(stan string) slog.Attr {
	return slog.String(KeyStan, stan)
}

// Rrn returns a slog.Attr for the retrieval reference number.
func Rrn(rrn string) slog.Attr {
	return slog.String(KeyRrn, rrn)
}

// TransactionID returns a slog.Attr for the internal transaction id.
func TransactionID(id string) slog.Attr {
	return slog.String(KeyTransactionID, id)
}

// TransactionType returns a slog.Attr for the transaction type.
func TransactionType(t string) slog.Attr {
	return slog.String(KeyTransactionTyp, t)
}

// ResponseCode returns a slog.Attr for ISO-8583 field 39.
func ResponseCode(code string) slog.Attr {
	return slog.String(KeyResponseCode, code)
}

// Status returns a slog.Attr for the transaction lifecycle status.
func Status(s string) slog.Attr {
	return slog.String(KeyStatus, s)
}

// Amount returns a slog.Attr for the transaction amount in minor units.
func Amount(a int64) slog.Attr {
	return slog.Int64(KeyAmount, a)
}

// MaskedPan returns a slog.Attr for the masked card number.
// Callers must never pass a cleartext PAN here.
func MaskedPan(masked string) slog.Attr {
	return slog.String(KeyMaskedPan, masked)
}

// Terminal returns a slog.Attr for the terminal identifier.
func Terminal(id string) slog.Attr {
	return slog.String(KeyTerminal, id)
}

// Channel returns a slog.Attr for the channel identifier.
func Channel(id string) slog.Attr {
	return slog.String(KeyChannel, id)
}

// State returns a slog.Attr for the endpoint connection state.
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}

// ClientIP returns a slog.Attr for the peer IP address.
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// ClientID returns a slog.Attr for the sanitized peer identifier.
func ClientID(id string) slog.Attr {
	return slog.String(KeyClientID, id)
}

// Port returns a slog.Attr for a TCP port.
func Port(p int) slog.Attr {
	return slog.Int(KeyPort, p)
}

// PortKind returns a slog.Attr for the socket direction (send/receive/unified).
func PortKind(kind string) slog.Attr {
	return slog.String(KeyPortKind, kind)
}

// ConnectionID returns a slog.Attr for the per-socket connection counter.
func ConnectionID(id uint64) slog.Attr {
	return slog.Uint64(KeyConnectionID, id)
}

// Stage returns a slog.Attr for the pipeline stage name.
func Stage(name string) slog.Attr {
	return slog.String(KeyStage, name)
}

// Processor returns a slog.Attr for the processor name.
func Processor(name string) slog.Attr {
	return slog.String(KeyProcessor, name)
}

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error. Nil errors yield an empty Attr,
// which the handlers skip.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for the maximum retry attempts.
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

// Bytes returns a slog.Attr for a wire byte count.
func Bytes(n int) slog.Attr {
	return slog.Int(KeyBytes, n)
}

// StoreName returns a slog.Attr for a named repository identifier.
func StoreName(name string) slog.Attr {
	return slog.String(KeyStoreName, name)
}

// StoreType returns a slog.Attr for the repository backend type.
func StoreType(t string) slog.Attr {
	return slog.String(KeyStoreType, t)
}
