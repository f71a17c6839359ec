// Package iso8583 implements the codec façade for ISO-8583-style messages:
// length-prefixed framing, bitmap-gated schema-driven field decoding, and the
// inverse encoding. Field contents are carried as ASCII strings; binary
// fields are hex-encoded. The codec treats the schema as data, so generic
// (non-bitmap) host schemas share the same machinery.
package iso8583

import (
	"fmt"
	"sort"
	"strconv"
)

// Well-known field numbers.
const (
	FieldPAN            = 2
	FieldProcessingCode = 3
	FieldAmount         = 4
	FieldTransmission   = 7
	FieldStan           = 11
	FieldLocalTime      = 12
	FieldLocalDate      = 13
	FieldAcquiringID    = 32
	FieldRrn            = 37
	FieldAuthCode       = 38
	FieldResponseCode   = 39
	FieldTerminalID     = 41
	FieldMerchantID     = 42
	FieldCurrency       = 49
	FieldAdditionalData = 54
	FieldNetMgmtCode    = 70
	FieldOriginalData   = 90
	FieldSourceAccount  = 102
	FieldDestAccount    = 103
)

// Network-management codes carried in field 70 of 0800 messages.
const (
	NetMgmtSignOn  = "001"
	NetMgmtSignOff = "002"
	NetMgmtEcho    = "301"
)

// Message is a decoded ISO-8583-style message: a 4-character MTI plus fields
// indexed by string id (numeric tags for ISO-8583, names for generic
// schemas). Raw holds the undecoded payload when the message came off the
// wire. Once a message is handed to the pipeline its fields must be treated
// as read-only; mutate a Clone instead.
type Message struct {
	MTI    string
	fields map[string]string
	Raw    []byte
}

// NewMessage creates an empty message with the given MTI.
func NewMessage(mti string) *Message {
	return &Message{
		MTI:    mti,
		fields: make(map[string]string),
	}
}

// Set stores a field value by string id and returns the message for chaining.
func (m *Message) Set(id, value string) *Message {
	if m.fields == nil {
		m.fields = make(map[string]string)
	}
	m.fields[id] = value
	return m
}

// SetN stores a field value by numeric tag.
func (m *Message) SetN(tag int, value string) *Message {
	return m.Set(strconv.Itoa(tag), value)
}

// Unset removes a field by numeric tag.
func (m *Message) Unset(tag int) *Message {
	delete(m.fields, strconv.Itoa(tag))
	return m
}

// Field returns the value of a field by string id; empty when absent.
func (m *Message) Field(id string) string {
	return m.fields[id]
}

// FieldN returns the value of a field by numeric tag.
func (m *Message) FieldN(tag int) string {
	return m.fields[strconv.Itoa(tag)]
}

// Has reports whether the field is present.
func (m *Message) Has(id string) bool {
	_, ok := m.fields[id]
	return ok
}

// HasN reports whether the numeric-tagged field is present.
func (m *Message) HasN(tag int) bool {
	return m.Has(strconv.Itoa(tag))
}

// Stan returns field 11.
func (m *Message) Stan() string { return m.FieldN(FieldStan) }

// Rrn returns field 37.
func (m *Message) Rrn() string { return m.FieldN(FieldRrn) }

// FieldIDs returns the present field ids in stable (sorted) order. Numeric
// ids sort numerically so dumps read in field order.
func (m *Message) FieldIDs() []string {
	ids := make([]string, 0, len(m.fields))
	for id := range m.fields {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		if errA == nil {
			return true
		}
		if errB == nil {
			return false
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Len returns the number of present fields.
func (m *Message) Len() int { return len(m.fields) }

// Clone returns a deep copy, dropping Raw.
func (m *Message) Clone() *Message {
	cp := NewMessage(m.MTI)
	for id, v := range m.fields {
		cp.fields[id] = v
	}
	return cp
}

// Equal reports field-by-field equality including MTI. Raw bytes are not
// compared; two messages that decode identically are equal.
func (m *Message) Equal(other *Message) bool {
	if other == nil || m.MTI != other.MTI || len(m.fields) != len(other.fields) {
		return false
	}
	for id, v := range m.fields {
		if ov, ok := other.fields[id]; !ok || ov != v {
			return false
		}
	}
	return true
}

// String renders a compact dump for logs. PAN-bearing fields are the
// caller's responsibility; the endpoint logs masked values only.
func (m *Message) String() string {
	s := "MTI=" + m.MTI
	for _, id := range m.FieldIDs() {
		s += fmt.Sprintf(" %s=%s", id, m.fields[id])
	}
	return s
}
