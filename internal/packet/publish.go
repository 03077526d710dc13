package packet

import (
	"fmt"

	"github.com/VayuDev/nioev-mqtt/internal/mqtt"
	"github.com/VayuDev/nioev-mqtt/internal/topic"
)

// Publish is the decoded variable header and payload of a PUBLISH
// packet.
type Publish struct {
	Dup      bool
	QoS      mqtt.QoS
	Retain   bool
	Topic    string
	PacketID uint16 // only meaningful when QoS > 0
	Payload  []byte
}

// DecodePublish parses a PUBLISH packet from its fixed-header flags
// and payload.
func DecodePublish(p *mqtt.Packet) (*Publish, error) {
	flags := p.Header.Flags
	qos := mqtt.QoS((flags & 0x06) >> 1)
	if !qos.Valid() {
		return nil, fmt.Errorf("%w: PUBLISH QoS must not be 3", mqtt.ErrMalformed)
	}
	dup := flags&0x08 != 0
	if qos == mqtt.QoS0 && dup {
		return nil, fmt.Errorf("%w: DUP set on a QoS 0 PUBLISH", mqtt.ErrMalformed)
	}

	t, err := readString(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("topic name: %w", err)
	}
	if !topic.IsValidTopicName(t) {
		return nil, fmt.Errorf("%w: invalid publish topic %q", mqtt.ErrMalformed, t)
	}

	result := &Publish{
		Dup:    dup,
		QoS:    qos,
		Retain: flags&0x01 != 0,
		Topic:  t,
	}

	if qos > mqtt.QoS0 {
		result.PacketID, err = readUint16(p.Payload)
		if err != nil {
			return nil, fmt.Errorf("packet id: %w", err)
		}
	}

	result.Payload = p.Payload.Context[p.Payload.CurrentPtr:p.Payload.ContextLen]
	p.Payload.CurrentPtr = p.Payload.ContextLen
	return result, nil
}

// EncodePublish builds an outbound PUBLISH. packetID is ignored for
// QoS 0. dup lets the caller mark a replayed (offline-queue or
// reconnect) delivery.
func EncodePublish(topicName string, payload []byte, qos mqtt.QoS, retain, dup bool, packetID uint16) []byte {
	flags := byte(qos) << 1
	if retain {
		flags |= 0x01
	}
	if dup {
		flags |= 0x08
	}

	body := make([]byte, 0, 2+len(topicName)+2+len(payload))
	body = append(body, mqtt.UInt16ToByte(uint16(len(topicName)))...)
	body = append(body, topicName...)
	if qos > mqtt.QoS0 {
		body = append(body, mqtt.UInt16ToByte(packetID)...)
	}
	body = append(body, payload...)

	return buildFixedHeader(mqtt.PUBLISH, flags, body)
}
