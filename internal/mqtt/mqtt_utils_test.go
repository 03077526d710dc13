package mqtt

import (
	"bytes"
	"errors"
	"testing"
)

func TestRemainingLength(t *testing.T) {
	tests := []struct {
		input  int
		expect []byte
	}{
		{64, []byte{0x40}},
		{321, []byte{0xC1, 0x02}},
		{268435455, []byte{0xFF, 0xFF, 0xFF, 0x7F}},
	}

	for _, tt := range tests {
		encoded := EncodeRemainingLength(tt.input)
		if !bytes.Equal(encoded, tt.expect) {
			t.Errorf("input=%d expect=%x got=%x", tt.input, tt.expect, encoded)
		}

		decoded, _ := DecodeRemainingLength(bytes.NewReader(encoded))
		if decoded != tt.input {
			t.Errorf("input=%d round-trip=%d", tt.input, decoded)
		}
	}
}

func TestByteToUInt16(t *testing.T) {
	tests := []struct {
		input  []byte
		expect uint16
	}{
		{[]byte{0x00, 0x00}, 0},
		{[]byte{0x01, 0x00}, 256},
		{[]byte{0xAF, 0x89}, 44937},
	}
	for _, tt := range tests {
		number := ByteToUInt16(tt.input)
		if number != tt.expect {
			t.Errorf("input=%x expect=%d got=%d", tt.input, tt.expect, number)
		}
	}
}

func TestReadPacketRoundTrip(t *testing.T) {
	payload := []byte{0x00, 0x03, 'f', 'o', 'o'}
	raw := append([]byte{byte(PUBLISH) << 4}, EncodeRemainingLength(len(payload))...)
	raw = append(raw, payload...)

	pkt, err := ReadPacket(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pkt.Header.Type != PUBLISH {
		t.Fatalf("expected PUBLISH, got %s", pkt.Header.Type)
	}
	if pkt.Header.RemainingLength != len(payload) {
		t.Fatalf("expected remaining length %d, got %d", len(payload), pkt.Header.RemainingLength)
	}
	if !bytes.Equal(pkt.Payload.Context, payload) {
		t.Fatalf("payload mismatch: %x", pkt.Payload.Context)
	}
}

func TestReadPacketRejectsReservedFlags(t *testing.T) {
	raw := []byte{byte(CONNECT)<<4 | 0x01, 0x00}
	if _, err := ReadPacket(bytes.NewReader(raw)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
