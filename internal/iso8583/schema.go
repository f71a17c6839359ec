package iso8583

import "strconv"

// FieldType classifies field content for validation and padding.
type FieldType string

const (
	TypeNumeric      FieldType = "N"   // digits only
	TypeAlpha        FieldType = "A"   // letters and space
	TypeAlphaNum     FieldType = "AN"  // letters and digits
	TypeAlphaNumSpec FieldType = "ANS" // printable
	TypeBinary       FieldType = "B"   // hex-encoded on the Message
)

// LengthMode selects fixed-length or LL/LLL/LLLL variable-length encoding.
type LengthMode int

const (
	Fixed LengthMode = iota
	LLVar             // 2-digit length prefix
	LLLVar            // 3-digit length prefix
	LLLLVar           // 4-digit length prefix
)

// PrefixDigits returns the number of length-prefix digits for the mode.
func (m LengthMode) PrefixDigits() int {
	switch m {
	case LLVar:
		return 2
	case LLLVar:
		return 3
	case LLLLVar:
		return 4
	default:
		return 0
	}
}

// PadSide selects which side fixed-length fields are padded on.
type PadSide int

const (
	PadRight PadSide = iota // value left-justified, pad appended
	PadLeft                 // value right-justified, pad prepended
)

// FieldSpec describes one field of a schema. For bitmap schemas Bit is the
// 1-based bitmap position gating the field (standard ISO-8583 keeps Bit equal
// to the field number). Subfields, when non-empty, make the field a
// composite: its bytes are decoded recursively with the subfield specs and
// surfaced as "<id>.<subid>" entries on the Message.
type FieldSpec struct {
	ID        string
	Name      string
	Type      FieldType
	Length    int // exact length (Fixed) or maximum (variable)
	Mode      LengthMode
	Pad       PadSide
	PadChar   byte // zero value means '0' for N, ' ' otherwise
	Bit       int
	Subfields []FieldSpec
}

// padChar returns the effective padding character.
func (f *FieldSpec) padChar() byte {
	if f.PadChar != 0 {
		return f.PadChar
	}
	if f.Type == TypeNumeric {
		return '0'
	}
	return ' '
}

// Schema describes a message layout. Bitmap schemas gate fields by bitmap
// bits (MSB-first; bit 1 announces the secondary bitmap); non-bitmap schemas
// decode every field in declaration order.
type Schema struct {
	Name   string
	Bitmap bool
	// BCDVarPrefix encodes LL/LLL/LLLL length prefixes in BCD instead of
	// ASCII digits.
	BCDVarPrefix bool
	Fields       []FieldSpec
}

// fieldByBit returns the spec gated by the given bitmap bit.
func (s *Schema) fieldByBit(bit int) (*FieldSpec, bool) {
	for i := range s.Fields {
		if s.Fields[i].Bit == bit {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

// maxBit returns the highest bit any field occupies.
func (s *Schema) maxBit() int {
	max := 0
	for i := range s.Fields {
		if s.Fields[i].Bit > max {
			max = s.Fields[i].Bit
		}
	}
	return max
}

// n builds a numeric-tagged spec.
func n(bit, length int, mode LengthMode) FieldSpec {
	return FieldSpec{ID: strconv.Itoa(bit), Type: TypeNumeric, Length: length, Mode: mode, Pad: PadLeft, Bit: bit}
}

// ans builds a printable-tagged spec.
func ans(bit, length int, mode LengthMode) FieldSpec {
	return FieldSpec{ID: strconv.Itoa(bit), Type: TypeAlphaNumSpec, Length: length, Mode: mode, Pad: PadRight, Bit: bit}
}

// DefaultSchema returns the ISO-8583 field subset the gateway exchanges with
// FISC-style switches. Unlisted fields are rejected at decode time with a
// FieldError, which is deliberate: an unexpected bit means a schema mismatch,
// not a field to skip.
func DefaultSchema() *Schema {
	return &Schema{
		Name:   "iso8583-fisc",
		Bitmap: true,
		Fields: []FieldSpec{
			n(2, 19, LLVar),    // PAN
			n(3, 6, Fixed),     // processing code
			n(4, 12, Fixed),    // amount
			n(7, 10, Fixed),    // transmission date/time MMDDhhmmss
			n(11, 6, Fixed),    // STAN
			n(12, 6, Fixed),    // local time
			n(13, 4, Fixed),    // local date
			n(32, 11, LLVar),   // acquiring institution code
			ans(37, 12, Fixed), // RRN
			ans(38, 6, Fixed),  // authorization code
			ans(39, 2, Fixed),  // response code
			ans(41, 8, Fixed),  // terminal id
			ans(42, 15, Fixed), // merchant id
			n(49, 3, Fixed),    // currency code
			ans(54, 120, LLLVar), // additional amounts
			n(70, 3, Fixed),    // network management code
			ans(90, 42, Fixed), // original data elements (opaque)
			ans(102, 28, LLVar), // source account
			ans(103, 28, LLVar), // destination account
		},
	}
}
