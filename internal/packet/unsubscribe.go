package packet

import (
	"fmt"

	"github.com/VayuDev/nioev-mqtt/internal/mqtt"
	"github.com/VayuDev/nioev-mqtt/internal/topic"
)

// Unsubscribe is the decoded variable header and payload of an
// UNSUBSCRIBE packet.
type Unsubscribe struct {
	PacketID uint16
	Filters  []string
}

// DecodeUnsubscribe parses an UNSUBSCRIBE packet.
func DecodeUnsubscribe(p *mqtt.Packet) (*Unsubscribe, error) {
	packetID, err := readUint16(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("packet id: %w", err)
	}

	result := &Unsubscribe{PacketID: packetID}
	for p.Payload.Remaining() {
		filter, err := readString(p.Payload)
		if err != nil {
			return nil, fmt.Errorf("topic filter: %w", err)
		}
		if !topic.IsValidFilter(filter) {
			return nil, fmt.Errorf("%w: invalid topic filter %q", mqtt.ErrMalformed, filter)
		}
		result.Filters = append(result.Filters, filter)
	}
	if len(result.Filters) == 0 {
		return nil, fmt.Errorf("%w: UNSUBSCRIBE with no filters", mqtt.ErrMalformed)
	}
	return result, nil
}

// EncodeUnsubAck builds an UNSUBACK packet: packet ID only, no
// per-filter status (§6).
func EncodeUnsubAck(packetID uint16) []byte {
	return buildFixedHeader(mqtt.UNSUBACK, 0, mqtt.UInt16ToByte(packetID))
}
