package iso8583

import (
	"encoding/binary"
	"fmt"
	"io"
)

// LengthEncoding selects how the frame length header is encoded.
type LengthEncoding int

const (
	LengthASCII  LengthEncoding = iota // ASCII digits, e.g. "0123"
	LengthBCD                          // packed BCD, two digits per byte
	LengthBinary                       // big-endian unsigned integer
)

// MaxFrameSize is the largest frame the gateway accepts. ISO-8583 messages
// are small; anything beyond this indicates a framing desync or a hostile
// peer.
const MaxFrameSize = 16 * 1024

// FrameConfig describes the length-prefix framing of one channel.
type FrameConfig struct {
	// HeaderSize is the prefix width in bytes: 2 or 4.
	HeaderSize int
	// Encoding is the header number encoding.
	Encoding LengthEncoding
	// IncludesHeader makes the length value cover the header itself in
	// addition to the payload.
	IncludesHeader bool
}

// DefaultFrameConfig is the common FISC framing: 4 ASCII digits counting the
// payload only.
func DefaultFrameConfig() FrameConfig {
	return FrameConfig{HeaderSize: 4, Encoding: LengthASCII}
}

// Validate checks the configuration.
func (c FrameConfig) Validate() error {
	if c.HeaderSize != 2 && c.HeaderSize != 4 {
		return fmt.Errorf("frame header size must be 2 or 4, got %d", c.HeaderSize)
	}
	return nil
}

// decodeLength parses the header bytes into a payload length.
func (c FrameConfig) decodeLength(header []byte) (int, error) {
	var n int
	switch c.Encoding {
	case LengthASCII:
		for _, b := range header {
			if b < '0' || b > '9' {
				return 0, fmt.Errorf("non-digit byte 0x%02x in ASCII length header", b)
			}
			n = n*10 + int(b-'0')
		}
	case LengthBCD:
		for _, b := range header {
			hi, lo := b>>4, b&0x0f
			if hi > 9 || lo > 9 {
				return 0, fmt.Errorf("invalid BCD nibble in length header byte 0x%02x", b)
			}
			n = n*100 + int(hi)*10 + int(lo)
		}
	case LengthBinary:
		switch c.HeaderSize {
		case 2:
			n = int(binary.BigEndian.Uint16(header))
		case 4:
			n = int(binary.BigEndian.Uint32(header))
		}
	default:
		return 0, fmt.Errorf("unknown length encoding %d", c.Encoding)
	}

	if c.IncludesHeader {
		n -= c.HeaderSize
	}
	if n < 0 {
		return 0, fmt.Errorf("frame length %d smaller than header", n+c.HeaderSize)
	}
	return n, nil
}

// encodeLength renders the payload length into header bytes.
func (c FrameConfig) encodeLength(payloadLen int) ([]byte, error) {
	n := payloadLen
	if c.IncludesHeader {
		n += c.HeaderSize
	}

	header := make([]byte, c.HeaderSize)
	switch c.Encoding {
	case LengthASCII:
		max := pow10(c.HeaderSize) - 1
		if n > max {
			return nil, fmt.Errorf("frame length %d exceeds %d-digit ASCII header", n, c.HeaderSize)
		}
		for i := c.HeaderSize - 1; i >= 0; i-- {
			header[i] = byte('0' + n%10)
			n /= 10
		}
	case LengthBCD:
		max := pow10(2*c.HeaderSize) - 1
		if n > max {
			return nil, fmt.Errorf("frame length %d exceeds %d-byte BCD header", n, c.HeaderSize)
		}
		for i := c.HeaderSize - 1; i >= 0; i-- {
			header[i] = byte(n%10) | byte((n/10)%10)<<4
			n /= 100
		}
	case LengthBinary:
		switch c.HeaderSize {
		case 2:
			if n > 0xffff {
				return nil, fmt.Errorf("frame length %d exceeds uint16 header", n)
			}
			binary.BigEndian.PutUint16(header, uint16(n))
		case 4:
			binary.BigEndian.PutUint32(header, uint32(n))
		}
	default:
		return nil, fmt.Errorf("unknown length encoding %d", c.Encoding)
	}
	return header, nil
}

func pow10(d int) int {
	n := 1
	for i := 0; i < d; i++ {
		n *= 10
	}
	return n
}

// ReadFrame reads one length-prefixed payload from r. EOF on the first
// header byte is returned unwrapped so callers can detect a normal peer
// disconnect.
func ReadFrame(r io.Reader, cfg FrameConfig) ([]byte, error) {
	header := make([]byte, cfg.HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	length, err := cfg.decodeLength(header)
	if err != nil {
		return nil, &ParseError{Section: "frame", Err: err, Remaining: hexDump(header)}
	}
	if length > MaxFrameSize {
		return nil, &ParseError{Section: "frame", Err: fmt.Errorf("frame too large: %d bytes", length)}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload (%d bytes): %w", length, err)
	}
	return payload, nil
}

// WriteFrame writes the payload to w with its length prefix.
func WriteFrame(w io.Writer, cfg FrameConfig, payload []byte) error {
	framed, err := Frame(cfg, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(framed)
	return err
}

// Frame prepends the length header to the payload.
func Frame(cfg FrameConfig, payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes", len(payload))
	}
	header, err := cfg.encodeLength(len(payload))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	out = append(out, payload...)
	return out, nil
}

// Unframe splits one framed message from raw, returning the payload and the
// total bytes consumed.
func Unframe(cfg FrameConfig, raw []byte) (payload []byte, consumed int, err error) {
	if len(raw) < cfg.HeaderSize {
		return nil, 0, &ParseError{Section: "frame", Err: fmt.Errorf("short frame: %d bytes", len(raw))}
	}
	length, err := cfg.decodeLength(raw[:cfg.HeaderSize])
	if err != nil {
		return nil, 0, &ParseError{Section: "frame", Err: err, Remaining: hexDump(raw)}
	}
	if length > MaxFrameSize {
		return nil, 0, &ParseError{Section: "frame", Err: fmt.Errorf("frame too large: %d bytes", length)}
	}
	end := cfg.HeaderSize + length
	if len(raw) < end {
		return nil, 0, &ParseError{
			Section:   "frame",
			Offset:    cfg.HeaderSize,
			Err:       fmt.Errorf("truncated frame: need %d payload bytes, have %d", length, len(raw)-cfg.HeaderSize),
			Remaining: hexDump(raw[cfg.HeaderSize:]),
		}
	}
	return raw[cfg.HeaderSize:end], end, nil
}
