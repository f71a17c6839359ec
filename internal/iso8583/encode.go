package iso8583

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// Encode encodes the message and prepends the length frame.
func (c *Codec) Encode(msg *Message) ([]byte, error) {
	payload, err := c.EncodePayload(msg)
	if err != nil {
		return nil, err
	}
	return Frame(c.Framing, payload)
}

// EncodePayload encodes the message body without framing.
func (c *Codec) EncodePayload(msg *Message) ([]byte, error) {
	if len(msg.MTI) != 4 {
		return nil, fmt.Errorf("MTI must be 4 characters, got %q", msg.MTI)
	}

	var buf bytes.Buffer
	buf.WriteString(msg.MTI)

	if c.Schema.Bitmap {
		if err := c.encodeBitmapped(&buf, msg); err != nil {
			return nil, err
		}
	} else {
		for i := range c.Schema.Fields {
			spec := &c.Schema.Fields[i]
			if !c.fieldPresent(msg, spec, "") {
				return nil, &FieldError{FieldID: spec.ID, Reason: "required by non-bitmap schema but absent"}
			}
			if err := c.encodeField(&buf, msg, spec, ""); err != nil {
				return nil, err
			}
		}
	}

	if err := c.checkUnknownFields(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeBitmapped writes the bitmap(s) followed by the present fields in bit
// order.
func (c *Codec) encodeBitmapped(buf *bytes.Buffer, msg *Message) error {
	size := 8
	for i := range c.Schema.Fields {
		spec := &c.Schema.Fields[i]
		if spec.Bit > 64 && c.fieldPresent(msg, spec, "") {
			size = 16
			break
		}
	}

	bitmap := make([]byte, size)
	if size == 16 {
		setBit(bitmap, 1)
	}
	for i := range c.Schema.Fields {
		spec := &c.Schema.Fields[i]
		if c.fieldPresent(msg, spec, "") {
			setBit(bitmap, spec.Bit)
		}
	}
	buf.Write(bitmap)

	for bit := 2; bit <= size*8; bit++ {
		if !bitSet(bitmap, bit) {
			continue
		}
		spec, _ := c.Schema.fieldByBit(bit)
		if err := c.encodeField(buf, msg, spec, ""); err != nil {
			return err
		}
	}
	return nil
}

// fieldPresent reports presence: a scalar field is present when set on the
// message, a composite when any subfield is present.
func (c *Codec) fieldPresent(msg *Message, spec *FieldSpec, prefix string) bool {
	id := prefix + spec.ID
	if len(spec.Subfields) == 0 {
		return msg.Has(id)
	}
	for i := range spec.Subfields {
		if c.fieldPresent(msg, &spec.Subfields[i], id+".") {
			return true
		}
	}
	return false
}

// encodeField renders one field value (recursing into composites).
func (c *Codec) encodeField(buf *bytes.Buffer, msg *Message, spec *FieldSpec, prefix string) error {
	id := prefix + spec.ID

	var value []byte
	if len(spec.Subfields) > 0 {
		var sub bytes.Buffer
		for i := range spec.Subfields {
			sf := &spec.Subfields[i]
			if !c.fieldPresent(msg, sf, id+".") {
				return &FieldError{FieldID: id + "." + sf.ID, Reason: "composite subfield absent"}
			}
			if err := c.encodeField(&sub, msg, sf, id+"."); err != nil {
				return err
			}
		}
		value = sub.Bytes()
	} else if spec.Type == TypeBinary {
		raw, err := hex.DecodeString(msg.Field(id))
		if err != nil {
			return &FieldError{FieldID: id, Reason: fmt.Sprintf("binary field is not valid hex: %v", err)}
		}
		value = raw
	} else {
		value = []byte(msg.Field(id))
	}

	if spec.Mode == Fixed {
		if len(value) > spec.Length {
			return &FieldError{FieldID: id, Reason: fmt.Sprintf("value length %d exceeds fixed length %d", len(value), spec.Length)}
		}
		if len(value) < spec.Length {
			pad := strings.Repeat(string(spec.padChar()), spec.Length-len(value))
			if spec.Pad == PadLeft {
				value = append([]byte(pad), value...)
			} else {
				value = append(value, pad...)
			}
		}
		buf.Write(value)
		return nil
	}

	if len(value) > spec.Length {
		return &FieldError{FieldID: id, Reason: fmt.Sprintf("value length %d exceeds maximum %d", len(value), spec.Length)}
	}
	if err := c.encodeVarPrefix(buf, spec, id, len(value)); err != nil {
		return err
	}
	buf.Write(value)
	return nil
}

// encodeVarPrefix writes the LL/LLL/LLLL length prefix.
func (c *Codec) encodeVarPrefix(buf *bytes.Buffer, spec *FieldSpec, id string, length int) error {
	digits := spec.Mode.PrefixDigits()
	if length >= pow10(digits) {
		return &FieldError{FieldID: id, Reason: fmt.Sprintf("length %d does not fit %d prefix digits", length, digits)}
	}

	if c.Schema.BCDVarPrefix {
		nbytes := (digits + 1) / 2
		prefix := make([]byte, nbytes)
		n := length
		for i := nbytes - 1; i >= 0; i-- {
			prefix[i] = byte(n%10) | byte((n/10)%10)<<4
			n /= 100
		}
		buf.Write(prefix)
		return nil
	}

	prefix := make([]byte, digits)
	n := length
	for i := digits - 1; i >= 0; i-- {
		prefix[i] = byte('0' + n%10)
		n /= 10
	}
	buf.Write(prefix)
	return nil
}

// checkUnknownFields rejects message fields the schema does not define so a
// typo in a processor surfaces at encode time instead of silently dropping
// data on the wire.
func (c *Codec) checkUnknownFields(msg *Message) error {
	for _, id := range msg.FieldIDs() {
		root := id
		if dot := strings.IndexByte(id, '.'); dot >= 0 {
			root = id[:dot]
		}
		found := false
		for i := range c.Schema.Fields {
			if c.Schema.Fields[i].ID == root {
				found = true
				break
			}
		}
		if !found {
			return &FieldError{FieldID: id, Reason: "field not defined by schema " + c.Schema.Name}
		}
	}
	return nil
}
