package iso8583

import (
	"encoding/hex"
	"fmt"
)

// Codec binds a schema to a framing configuration. It is stateless and safe
// for concurrent use.
type Codec struct {
	Schema  *Schema
	Framing FrameConfig
}

// NewCodec creates a codec. A nil schema selects DefaultSchema and a zero
// framing selects DefaultFrameConfig.
func NewCodec(schema *Schema, framing FrameConfig) *Codec {
	if schema == nil {
		schema = DefaultSchema()
	}
	if framing.HeaderSize == 0 {
		framing = DefaultFrameConfig()
	}
	return &Codec{Schema: schema, Framing: framing}
}

// decoder tracks parse progress for ParseError construction.
type decoder struct {
	data   []byte
	off    int
	parsed []string
}

func (d *decoder) remaining() []byte { return d.data[d.off:] }

func (d *decoder) fail(section, fieldID string, err error) *ParseError {
	return &ParseError{
		Offset:    d.off,
		Section:   section,
		FieldID:   fieldID,
		Parsed:    append([]string(nil), d.parsed...),
		Remaining: hexDump(d.remaining()),
		Err:       err,
	}
}

// take consumes n bytes or fails with a truncation error.
func (d *decoder) take(n int, section, fieldID string) ([]byte, error) {
	if len(d.data)-d.off < n {
		return nil, d.fail(section, fieldID, &FieldError{
			FieldID: fieldID,
			Reason:  fmt.Sprintf("truncated: need %d bytes, have %d", n, len(d.data)-d.off),
		})
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b, nil
}

// Decode strips the length frame and decodes the payload.
func (c *Codec) Decode(raw []byte) (*Message, error) {
	payload, _, err := Unframe(c.Framing, raw)
	if err != nil {
		return nil, err
	}
	return c.DecodePayload(payload)
}

// DecodePayload decodes an unframed message payload.
func (c *Codec) DecodePayload(payload []byte) (*Message, error) {
	d := &decoder{data: payload}

	mtiBytes, err := d.take(4, "mti", "")
	if err != nil {
		return nil, err
	}
	for _, b := range mtiBytes {
		if b < '0' || b > '9' {
			return nil, d.fail("mti", "", fmt.Errorf("non-digit byte 0x%02x in MTI", b))
		}
	}

	msg := NewMessage(string(mtiBytes))
	msg.Raw = payload

	if c.Schema.Bitmap {
		if err := c.decodeBitmapped(d, msg); err != nil {
			return nil, err
		}
	} else {
		for i := range c.Schema.Fields {
			if err := c.decodeField(d, msg, &c.Schema.Fields[i], ""); err != nil {
				return nil, err
			}
		}
	}

	if d.off != len(d.data) {
		return nil, d.fail("field", "", fmt.Errorf("%d trailing bytes after last field", len(d.data)-d.off))
	}
	return msg, nil
}

// decodeBitmapped reads the primary (and optional secondary) bitmap and the
// fields it gates.
func (c *Codec) decodeBitmapped(d *decoder, msg *Message) error {
	primary, err := d.take(8, "bitmap", "")
	if err != nil {
		return err
	}
	bitmap := append([]byte(nil), primary...)

	// Bit 1 announces the secondary bitmap.
	if primary[0]&0x80 != 0 {
		secondary, err := d.take(8, "bitmap", "")
		if err != nil {
			return err
		}
		bitmap = append(bitmap, secondary...)
	}

	for bit := 2; bit <= len(bitmap)*8; bit++ {
		if !bitSet(bitmap, bit) {
			continue
		}
		spec, ok := c.Schema.fieldByBit(bit)
		if !ok {
			return d.fail("bitmap", "", &FieldError{
				FieldID: fmt.Sprintf("bit %d", bit),
				Reason:  "bitmap gates a field the schema does not define",
			})
		}
		if err := c.decodeField(d, msg, spec, ""); err != nil {
			return err
		}
	}
	return nil
}

// decodeField decodes one field (recursing into composites) and records it
// on the message under prefix+id.
func (c *Codec) decodeField(d *decoder, msg *Message, spec *FieldSpec, prefix string) error {
	id := prefix + spec.ID

	length := spec.Length
	if spec.Mode != Fixed {
		n, err := c.decodeVarPrefix(d, spec, id)
		if err != nil {
			return err
		}
		if n > spec.Length {
			return d.fail("field", id, &FieldError{
				FieldID: id,
				Reason:  fmt.Sprintf("declared length %d exceeds maximum %d", n, spec.Length),
			})
		}
		length = n
	}

	value, err := d.take(length, "field", id)
	if err != nil {
		return err
	}

	if len(spec.Subfields) > 0 {
		// Composite: decode subfields from the field's own bytes.
		sub := &decoder{data: value, parsed: d.parsed}
		for i := range spec.Subfields {
			if err := c.decodeField(sub, msg, &spec.Subfields[i], id+"."); err != nil {
				return err
			}
		}
		if sub.off != len(sub.data) {
			return d.fail("field", id, &FieldError{
				FieldID: id,
				Reason:  fmt.Sprintf("%d trailing bytes inside composite", len(sub.data)-sub.off),
			})
		}
		d.parsed = sub.parsed
		return nil
	}

	if spec.Type == TypeBinary {
		msg.Set(id, hex.EncodeToString(value))
	} else {
		msg.Set(id, string(value))
	}
	d.parsed = append(d.parsed, id)
	return nil
}

// decodeVarPrefix reads the LL/LLL/LLLL length prefix in the schema's
// configured encoding.
func (c *Codec) decodeVarPrefix(d *decoder, spec *FieldSpec, id string) (int, error) {
	digits := spec.Mode.PrefixDigits()

	if c.Schema.BCDVarPrefix {
		nbytes := (digits + 1) / 2
		raw, err := d.take(nbytes, "field", id)
		if err != nil {
			return 0, err
		}
		n := 0
		for _, b := range raw {
			hi, lo := b>>4, b&0x0f
			if hi > 9 || lo > 9 {
				return 0, d.fail("field", id, &FieldError{FieldID: id, Reason: fmt.Sprintf("invalid BCD length byte 0x%02x", b)})
			}
			n = n*100 + int(hi)*10 + int(lo)
		}
		return n, nil
	}

	raw, err := d.take(digits, "field", id)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range raw {
		if b < '0' || b > '9' {
			return 0, d.fail("field", id, &FieldError{FieldID: id, Reason: fmt.Sprintf("non-digit length byte 0x%02x", b)})
		}
		n = n*10 + int(b-'0')
	}
	return n, nil
}

// bitSet reports whether 1-based bit is set, MSB-first.
func bitSet(bitmap []byte, bit int) bool {
	idx := bit - 1
	return bitmap[idx/8]&(0x80>>(idx%8)) != 0
}

// setBit sets a 1-based bit, MSB-first.
func setBit(bitmap []byte, bit int) {
	idx := bit - 1
	bitmap[idx/8] |= 0x80 >> (idx % 8)
}
