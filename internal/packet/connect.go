package packet

import (
	"fmt"

	"github.com/VayuDev/nioev-mqtt/internal/mqtt"
)

// ConnectReturnCode is the byte CONNACK reports in its second payload
// byte (§6).
type ConnectReturnCode byte

const (
	Accepted              ConnectReturnCode = 0x00
	UnacceptableProtocol  ConnectReturnCode = 0x01
	IdentifierRejected    ConnectReturnCode = 0x02
	ServerUnavailable     ConnectReturnCode = 0x03
	BadUsernameOrPassword ConnectReturnCode = 0x04
	NotAuthorized         ConnectReturnCode = 0x05
)

// ErrUnacceptableProtocol is returned by DecodeConnect when the
// protocol name/level pair is neither MQTT 3.1.1 ("MQTT", level 4) nor
// MQTT 3.1 ("MQIsdp", level 3); the caller must
// respond with CONNACK(UnacceptableProtocol) and close without ever
// reaching the writer (§7 Unsupported).
var ErrUnacceptableProtocol = fmt.Errorf("unsupported protocol name or level")

// Connect is the decoded variable header and payload of a CONNECT
// packet.
type Connect struct {
	MQTTVersion  byte
	CleanSession bool
	KeepAlive    uint16
	ClientID     string
	WillTopic    string
	WillPayload  []byte
	WillQoS      mqtt.QoS
	WillRetain   bool
	Username     string
	Password     []byte
	HasUsername  bool
	HasPassword  bool
}

// DecodeConnect parses a CONNECT packet's variable header and payload.
func DecodeConnect(p *mqtt.Packet) (*Connect, error) {
	payload := p.Payload

	protocolName, err := readString(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol name: %w", err)
	}
	version, err := readByte(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol level: %w", err)
	}
	if !(protocolName == "MQTT" && version == 4) && !(protocolName == "MQIsdp" && version == 3) {
		return nil, ErrUnacceptableProtocol
	}

	flags, err := readByte(payload)
	if err != nil {
		return nil, fmt.Errorf("connect flags: %w", err)
	}
	if flags&0x01 != 0 {
		return nil, fmt.Errorf("%w: reserved connect-flag bit set", mqtt.ErrMalformed)
	}

	hasUsername := flags&0x80 != 0
	hasPassword := flags&0x40 != 0
	willRetain := flags&0x20 != 0
	willQoS := mqtt.QoS((flags & 0x18) >> 3)
	hasWill := flags&0x04 != 0
	cleanSession := flags&0x02 != 0

	if !willQoS.Valid() {
		return nil, fmt.Errorf("%w: invalid will QoS", mqtt.ErrMalformed)
	}
	if !hasWill && (willRetain || willQoS != mqtt.QoS0) {
		return nil, fmt.Errorf("%w: will flags set without a will message", mqtt.ErrMalformed)
	}

	keepAlive, err := readUint16(payload)
	if err != nil {
		return nil, fmt.Errorf("keep alive: %w", err)
	}

	clientID, err := readString(payload)
	if err != nil {
		return nil, fmt.Errorf("client id: %w", err)
	}

	c := &Connect{
		MQTTVersion:  version,
		CleanSession: cleanSession,
		KeepAlive:    keepAlive,
		ClientID:     clientID,
		WillQoS:      willQoS,
		WillRetain:   willRetain,
	}

	if hasWill {
		c.WillTopic, err = readString(payload)
		if err != nil {
			return nil, fmt.Errorf("will topic: %w", err)
		}
		willLen, err := readUint16(payload)
		if err != nil {
			return nil, fmt.Errorf("will payload length: %w", err)
		}
		c.WillPayload, err = readBytes(payload, int(willLen))
		if err != nil {
			return nil, fmt.Errorf("will payload: %w", err)
		}
	}

	if hasUsername {
		c.Username, err = readString(payload)
		if err != nil {
			return nil, fmt.Errorf("username: %w", err)
		}
		c.HasUsername = true
	}
	if hasPassword {
		passLen, err := readUint16(payload)
		if err != nil {
			return nil, fmt.Errorf("password length: %w", err)
		}
		c.Password, err = readBytes(payload, int(passLen))
		if err != nil {
			return nil, fmt.Errorf("password: %w", err)
		}
		c.HasPassword = true
	}

	return c, nil
}

// EncodeConnAck builds a CONNACK packet: bit 0 of the first payload
// byte is session_present, the second byte is the return code.
func EncodeConnAck(sessionPresent bool, code ConnectReturnCode) []byte {
	flags := byte(0)
	if sessionPresent {
		flags = 0x01
	}
	return buildFixedHeader(mqtt.CONNACK, 0, []byte{flags, byte(code)})
}
