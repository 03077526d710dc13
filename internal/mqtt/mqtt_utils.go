package mqtt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrMalformed is wrapped by every decode error caused by oversized or
// otherwise invalid wire data, and by a field running past the end of
// an already-read packet body. A reader that ends before a whole packet
// has arrived surfaces as the reader's own io error instead. Callers
// MUST close the connection without a response when they see this
// error (§7 Malformed).
var ErrMalformed = errors.New("malformed mqtt packet")

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+fmt.Sprintf(format, args...), ErrMalformed)
}

// UInt16ToByte encodes number as a 2-byte big-endian slice.
func UInt16ToByte(number uint16) []byte {
	result := make([]byte, 2)
	binary.BigEndian.PutUint16(result, number)
	return result
}

// ByteToUInt16 decodes a 2-byte big-endian slice. Shorter slices are
// zero-extended on the left.
func ByteToUInt16(bytes []byte) uint16 {
	if len(bytes) == 0 {
		return 0
	}
	if len(bytes) == 1 {
		return uint16(bytes[0])
	}
	return binary.BigEndian.Uint16(bytes)
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// DecodeRemainingLength reads the MQTT variable-length remaining-length
// field: up to 4 base-128 continuation-encoded bytes.
func DecodeRemainingLength(r io.Reader) (int, error) {
	multiplier := 1
	value := 0
	for i := 0; i < 4; i++ {
		encodedByte, err := readByte(r)
		if err != nil {
			return 0, err
		}
		value += int(encodedByte&127) * multiplier
		multiplier *= 128
		if encodedByte&128 == 0 {
			return value, nil
		}
	}
	return 0, malformed("remaining length exceeds the 4 byte continuation limit")
}

// EncodeRemainingLength is the encoder mirror of DecodeRemainingLength.
func EncodeRemainingLength(x int) []byte {
	var buf [4]byte
	i := 0
	for {
		b := byte(x % 128)
		x /= 128
		if x > 0 {
			b |= 128
		}
		buf[i] = b
		i++
		if x <= 0 {
			break
		}
	}
	return buf[:i]
}

// ReadPacket reads one fixed header plus its full payload from r. It
// validates flag bits before returning so callers never see a Packet
// with reserved bits set.
func ReadPacket(r io.Reader) (*Packet, error) {
	typeAndFlags, err := readByte(r)
	if err != nil {
		return nil, err
	}

	remaining, err := DecodeRemainingLength(r)
	if err != nil {
		return nil, err
	}
	if remaining < 0 || remaining > 268435455 {
		return nil, malformed("remaining length %d out of range", remaining)
	}

	payload := make([]byte, remaining)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	header := &FixedHeader{
		Type:            PacketType(typeAndFlags >> 4),
		Flags:           typeAndFlags & 0x0F,
		RemainingLength: remaining,
	}

	if !ValidateFlags(header.Type, header.Flags) {
		return nil, malformed("flags %#x of %s packet are not valid", header.Flags, header.Type)
	}

	return &Packet{
		Header: header,
		Payload: &Payload{
			Context:    payload,
			ContextLen: len(payload),
		},
	}, nil
}

// WriteString appends a 16-bit length-prefixed UTF-8 string field,
// validating the string is legal UTF-8 as MQTT 3.1.1 requires.
func WriteString(dst []byte, s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, malformed("string field is not valid utf-8")
	}
	if len(s) > 0xFFFF {
		return nil, malformed("string field exceeds 65535 bytes")
	}
	dst = append(dst, UInt16ToByte(uint16(len(s)))...)
	return append(dst, s...), nil
}
