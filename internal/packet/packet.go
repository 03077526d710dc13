// Package packet implements per-control-type payload encoding and
// decoding for MQTT 3.1.1, one file per control type, on top of the
// fixed-header/remaining-length/string primitives in internal/mqtt.
package packet

import (
	"fmt"

	"github.com/VayuDev/nioev-mqtt/internal/mqtt"
)

// readByte reads the next byte from payload's cursor.
func readByte(payload *mqtt.Payload) (byte, error) {
	if !payload.Remaining() {
		return 0, fmt.Errorf("%w: unexpected end of payload", mqtt.ErrMalformed)
	}
	b := payload.Context[payload.CurrentPtr]
	payload.CurrentPtr++
	return b, nil
}

// readBytes reads the next n bytes from payload's cursor.
func readBytes(payload *mqtt.Payload, n int) ([]byte, error) {
	if n < 0 || payload.CurrentPtr+n > payload.ContextLen {
		return nil, fmt.Errorf("%w: requested %d bytes past end of payload", mqtt.ErrMalformed, n)
	}
	b := payload.Context[payload.CurrentPtr : payload.CurrentPtr+n]
	payload.CurrentPtr += n
	return b, nil
}

// readUint16 reads a 2-byte big-endian integer (packet ID, keepalive, …).
func readUint16(payload *mqtt.Payload) (uint16, error) {
	b, err := readBytes(payload, 2)
	if err != nil {
		return 0, err
	}
	return mqtt.ByteToUInt16(b), nil
}

// readString reads a 16-bit length-prefixed UTF-8 string field.
func readString(payload *mqtt.Payload) (string, error) {
	n, err := readUint16(payload)
	if err != nil {
		return "", fmt.Errorf("string length: %w", err)
	}
	b, err := readBytes(payload, int(n))
	if err != nil {
		return "", fmt.Errorf("string body: %w", err)
	}
	return string(b), nil
}

// buildFixedHeader prepends type/flags byte and encoded remaining
// length to a fully-built packet body.
func buildFixedHeader(pt mqtt.PacketType, flags byte, body []byte) []byte {
	out := make([]byte, 0, len(body)+5)
	out = append(out, byte(pt)<<4|flags)
	out = append(out, mqtt.EncodeRemainingLength(len(body))...)
	return append(out, body...)
}

// EncodePingResp encodes a zero-length PINGRESP packet.
func EncodePingResp() []byte {
	return buildFixedHeader(mqtt.PINGRESP, 0, nil)
}

// EncodePacketIDOnly encodes the acknowledgment packets whose entire
// body is a 2-byte packet ID: PUBACK, PUBREC, PUBREL, PUBCOMP.
func EncodePacketIDOnly(pt mqtt.PacketType, packetID uint16) []byte {
	flags := byte(0)
	if pt == mqtt.PUBREL {
		flags = 0x02
	}
	return buildFixedHeader(pt, flags, mqtt.UInt16ToByte(packetID))
}

// DecodePacketIDOnly decodes the 2-byte packet ID body shared by
// PUBACK/PUBREC/PUBREL/PUBCOMP.
func DecodePacketIDOnly(p *mqtt.Packet) (uint16, error) {
	return readUint16(p.Payload)
}
