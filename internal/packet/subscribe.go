package packet

import (
	"fmt"

	"github.com/VayuDev/nioev-mqtt/internal/mqtt"
	"github.com/VayuDev/nioev-mqtt/internal/topic"
)

// SubackCode is one granted-QoS or failure byte in a SUBACK packet.
type SubackCode byte

const (
	SubackQoS0   SubackCode = 0x00
	SubackQoS1   SubackCode = 0x01
	SubackQoS2   SubackCode = 0x02
	SubackFailed SubackCode = 0x80
)

// SubscribeFilter is one (filter, requested QoS) pair from a
// SUBSCRIBE packet's payload.
type SubscribeFilter struct {
	Filter string
	QoS    mqtt.QoS
}

// Subscribe is the decoded variable header and payload of a SUBSCRIBE
// packet — one or more filters sharing a single packet ID.
type Subscribe struct {
	PacketID uint16
	Filters  []SubscribeFilter
}

// DecodeSubscribe parses a SUBSCRIBE packet.
func DecodeSubscribe(p *mqtt.Packet) (*Subscribe, error) {
	packetID, err := readUint16(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("packet id: %w", err)
	}

	result := &Subscribe{PacketID: packetID}
	for p.Payload.Remaining() {
		filter, err := readString(p.Payload)
		if err != nil {
			return nil, fmt.Errorf("topic filter: %w", err)
		}
		qosByte, err := readByte(p.Payload)
		if err != nil {
			return nil, fmt.Errorf("requested qos: %w", err)
		}
		qos := mqtt.QoS(qosByte & 0x03)
		if !qos.Valid() || qosByte&0xFC != 0 {
			return nil, fmt.Errorf("%w: invalid requested QoS byte %#x", mqtt.ErrMalformed, qosByte)
		}
		if !topic.IsValidFilter(filter) {
			return nil, fmt.Errorf("%w: invalid topic filter %q", mqtt.ErrMalformed, filter)
		}
		result.Filters = append(result.Filters, SubscribeFilter{Filter: filter, QoS: qos})
	}
	if len(result.Filters) == 0 {
		return nil, fmt.Errorf("%w: SUBSCRIBE with no filters", mqtt.ErrMalformed)
	}
	return result, nil
}

// EncodeSubAck builds a SUBACK packet with one return code per
// requested filter, in request order.
func EncodeSubAck(packetID uint16, codes []SubackCode) []byte {
	body := make([]byte, 0, 2+len(codes))
	body = append(body, mqtt.UInt16ToByte(packetID)...)
	for _, c := range codes {
		body = append(body, byte(c))
	}
	return buildFixedHeader(mqtt.SUBACK, 0, body)
}
