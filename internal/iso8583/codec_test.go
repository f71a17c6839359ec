package iso8583

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testWithdrawal returns the canonical 0200 withdrawal request used across
// the codec tests.
func testWithdrawal() *Message {
	return NewMessage("0200").
		SetN(FieldPAN, "4111111111111111").
		SetN(FieldProcessingCode, "010000").
		SetN(FieldAmount, "000000010000").
		SetN(FieldStan, "000001").
		SetN(FieldRrn, "000000000001").
		SetN(FieldTerminalID, "ATM00001")
}

func TestRoundTrip(t *testing.T) {
	codec := NewCodec(nil, DefaultFrameConfig())

	tests := []struct {
		name string
		msg  *Message
	}{
		{"withdrawal", testWithdrawal()},
		{"echo", NewMessage("0800").SetN(FieldStan, "000042").SetN(FieldNetMgmtCode, NetMgmtEcho)},
		{"response", NewMessage("0210").
			SetN(FieldProcessingCode, "010000").
			SetN(FieldStan, "000001").
			SetN(FieldResponseCode, "00").
			SetN(FieldAuthCode, "A12345")},
		{"secondary bitmap", NewMessage("0200").
			SetN(FieldStan, "000007").
			SetN(102, "ACCT-SRC-000000000001").
			SetN(103, "ACCT-DST-000000000002")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := codec.Encode(tt.msg)
			require.NoError(t, err)

			decoded, err := codec.Decode(raw)
			require.NoError(t, err)

			assert.True(t, tt.msg.Equal(decoded), "decode(encode(M)) != M:\n  in:  %s\n  out: %s", tt.msg, decoded)
		})
	}
}

func TestFramingVariants(t *testing.T) {
	payload := []byte("0810TESTPAYLOAD")

	tests := []struct {
		name string
		cfg  FrameConfig
	}{
		{"ascii-4", FrameConfig{HeaderSize: 4, Encoding: LengthASCII}},
		{"ascii-2", FrameConfig{HeaderSize: 2, Encoding: LengthASCII}},
		{"bcd-2", FrameConfig{HeaderSize: 2, Encoding: LengthBCD}},
		{"binary-2", FrameConfig{HeaderSize: 2, Encoding: LengthBinary}},
		{"binary-4", FrameConfig{HeaderSize: 4, Encoding: LengthBinary}},
		{"ascii-4-inclusive", FrameConfig{HeaderSize: 4, Encoding: LengthASCII, IncludesHeader: true}},
		{"bcd-2-inclusive", FrameConfig{HeaderSize: 2, Encoding: LengthBCD, IncludesHeader: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			framed, err := Frame(tt.cfg, payload)
			require.NoError(t, err)
			require.Len(t, framed, tt.cfg.HeaderSize+len(payload))

			got, consumed, err := Unframe(tt.cfg, framed)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
			assert.Equal(t, len(framed), consumed)

			// Same bytes through the streaming reader.
			fromStream, err := ReadFrame(bytes.NewReader(framed), tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, payload, fromStream)
		})
	}
}

func TestFrameHeaderValues(t *testing.T) {
	framed, err := Frame(FrameConfig{HeaderSize: 4, Encoding: LengthASCII}, []byte("abcde"))
	require.NoError(t, err)
	assert.Equal(t, []byte("0005"), framed[:4])

	framed, err = Frame(FrameConfig{HeaderSize: 2, Encoding: LengthBCD}, make([]byte, 123))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x23}, framed[:2])

	framed, err = Frame(FrameConfig{HeaderSize: 2, Encoding: LengthBinary, IncludesHeader: true}, make([]byte, 10))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x0c}, framed[:2])
}

func TestReadFrameEOF(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil), DefaultFrameConfig())
	assert.Equal(t, io.EOF, err)
}

func TestFrameTooLarge(t *testing.T) {
	raw := []byte("9999999999")
	cfg := FrameConfig{HeaderSize: 4, Encoding: LengthASCII}
	_, _, err := Unframe(cfg, raw)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "frame", pe.Section)
}

func TestDecodeGarbageHeader(t *testing.T) {
	cfg := FrameConfig{HeaderSize: 4, Encoding: LengthASCII}
	_, _, err := Unframe(cfg, []byte("XXZZrest"))
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Error(), "non-digit")
}

func TestParseErrorDiagnostics(t *testing.T) {
	codec := NewCodec(nil, DefaultFrameConfig())

	// Valid message, then truncate the payload mid-field.
	raw, err := codec.Encode(testWithdrawal())
	require.NoError(t, err)
	payload, _, err := Unframe(codec.Framing, raw)
	require.NoError(t, err)

	_, err = codec.DecodePayload(payload[:len(payload)-4])
	var pe *ParseError
	require.ErrorAs(t, err, &pe)

	assert.Equal(t, "field", pe.Section)
	assert.NotEmpty(t, pe.FieldID)
	assert.NotEmpty(t, pe.Parsed, "fields decoded before the failure must be listed")
	assert.Greater(t, pe.Offset, 0)
}

func TestDecodeUnknownBit(t *testing.T) {
	codec := NewCodec(nil, DefaultFrameConfig())

	// 0200 + primary bitmap with only bit 5 set (no schema entry).
	payload := []byte("0200")
	bitmap := make([]byte, 8)
	setBit(bitmap, 5)
	payload = append(payload, bitmap...)

	_, err := codec.DecodePayload(payload)
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Error(), "bit 5")
}

func TestDecodeBadMTI(t *testing.T) {
	codec := NewCodec(nil, DefaultFrameConfig())
	_, err := codec.DecodePayload([]byte("02X0"))
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "mti", pe.Section)
}

func TestEncodeVarLengthOverflow(t *testing.T) {
	codec := NewCodec(nil, DefaultFrameConfig())
	msg := NewMessage("0200").SetN(FieldPAN, "12345678901234567890") // 20 > max 19
	_, err := codec.Encode(msg)
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
}

func TestEncodeUnknownField(t *testing.T) {
	codec := NewCodec(nil, DefaultFrameConfig())
	msg := NewMessage("0200").Set("999", "boom")
	_, err := codec.Encode(msg)
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Error(), "999")
}

func TestFixedFieldPadding(t *testing.T) {
	schema := &Schema{
		Name:   "pad-test",
		Bitmap: true,
		Fields: []FieldSpec{
			{ID: "4", Type: TypeNumeric, Length: 12, Mode: Fixed, Pad: PadLeft, Bit: 4},
			{ID: "41", Type: TypeAlphaNumSpec, Length: 8, Mode: Fixed, Pad: PadRight, Bit: 41},
		},
	}
	codec := NewCodec(schema, DefaultFrameConfig())

	msg := NewMessage("0200").Set("4", "10000").Set("41", "ATM1")
	payload, err := codec.EncodePayload(msg)
	require.NoError(t, err)

	// MTI(4) + bitmap(8), then field 4 zero-padded left, field 41
	// space-padded right.
	body := payload[12:]
	assert.Equal(t, "000000010000", string(body[:12]))
	assert.Equal(t, "ATM1    ", string(body[12:20]))
}

func TestCompositeField(t *testing.T) {
	schema := &Schema{
		Name:   "composite-test",
		Bitmap: true,
		Fields: []FieldSpec{
			{ID: "11", Type: TypeNumeric, Length: 6, Mode: Fixed, Pad: PadLeft, Bit: 11},
			{
				ID: "62", Type: TypeAlphaNumSpec, Length: 999, Mode: LLLVar, Bit: 62,
				Subfields: []FieldSpec{
					{ID: "1", Type: TypeNumeric, Length: 2, Mode: Fixed, Pad: PadLeft},
					{ID: "2", Type: TypeAlphaNumSpec, Length: 20, Mode: LLVar},
				},
			},
		},
	}
	codec := NewCodec(schema, DefaultFrameConfig())

	msg := NewMessage("0200").
		Set("11", "000123").
		Set("62.1", "07").
		Set("62.2", "TXN-BATCH-42")

	raw, err := codec.Encode(msg)
	require.NoError(t, err)

	decoded, err := codec.Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, "07", decoded.Field("62.1"))
	assert.Equal(t, "TXN-BATCH-42", decoded.Field("62.2"))
	assert.True(t, msg.Equal(decoded))
}

func TestBCDVarPrefix(t *testing.T) {
	schema := DefaultSchema()
	schema.BCDVarPrefix = true
	codec := NewCodec(schema, FrameConfig{HeaderSize: 2, Encoding: LengthBCD})

	msg := testWithdrawal()
	raw, err := codec.Encode(msg)
	require.NoError(t, err)

	decoded, err := codec.Decode(raw)
	require.NoError(t, err)
	assert.True(t, msg.Equal(decoded))
}

func TestMessageHelpers(t *testing.T) {
	msg := testWithdrawal()
	assert.Equal(t, "000001", msg.Stan())
	assert.Equal(t, "000000000001", msg.Rrn())
	assert.True(t, msg.HasN(FieldPAN))
	assert.False(t, msg.HasN(FieldResponseCode))

	clone := msg.Clone()
	clone.SetN(FieldResponseCode, "00")
	assert.False(t, msg.HasN(FieldResponseCode), "clone must not alias the original")

	ids := msg.FieldIDs()
	assert.Equal(t, []string{"2", "3", "4", "11", "37", "41"}, ids)
}

func TestTrailingBytesRejected(t *testing.T) {
	codec := NewCodec(nil, DefaultFrameConfig())
	payload, err := codec.EncodePayload(testWithdrawal())
	require.NoError(t, err)

	_, err = codec.DecodePayload(append(payload, 'X'))
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Error(), "trailing")
}
