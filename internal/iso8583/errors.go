package iso8583

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseError reports a decode failure together with a progress summary so
// operators can locate the bad octet in a wire capture.
type ParseError struct {
	// Offset is the number of payload bytes consumed before the failure.
	Offset int
	// Section is the part of the message being parsed: frame, mti, bitmap,
	// or field.
	Section string
	// FieldID is the field being parsed when Section is "field".
	FieldID string
	// Parsed lists the ids of fields decoded before the failure.
	Parsed []string
	// Remaining is a hex dump of the unconsumed bytes (capped).
	Remaining string
	// Err is the underlying cause.
	Err error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "parse failed in %s", e.Section)
	if e.FieldID != "" {
		fmt.Fprintf(&b, " (field %s)", e.FieldID)
	}
	fmt.Fprintf(&b, " at offset %d: %v", e.Offset, e.Err)
	if len(e.Parsed) > 0 {
		fmt.Fprintf(&b, "; parsed fields [%s]", strings.Join(e.Parsed, " "))
	}
	if e.Remaining != "" {
		fmt.Fprintf(&b, "; remaining %s", e.Remaining)
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

// hexDump renders up to 64 bytes of the remainder for diagnostics.
func hexDump(data []byte) string {
	const limit = 64
	if len(data) == 0 {
		return ""
	}
	if len(data) > limit {
		return hex.EncodeToString(data[:limit]) + fmt.Sprintf("...(+%d bytes)", len(data)-limit)
	}
	return hex.EncodeToString(data)
}

// FieldError reports a field-level violation: a bitmap bit with no schema
// entry, a truncated value, or content that does not fit the spec.
type FieldError struct {
	FieldID string
	Reason  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %s", e.FieldID, e.Reason)
}
