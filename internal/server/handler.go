package server

import (
	"github.com/VayuDev/nioev-mqtt/internal/broker"
	"github.com/VayuDev/nioev-mqtt/internal/connection"
	"github.com/VayuDev/nioev-mqtt/internal/logger"
	"github.com/VayuDev/nioev-mqtt/internal/mqtt"
	"github.com/VayuDev/nioev-mqtt/internal/packet"
)

// handlePacket decodes one post-CONNECT packet and either submits the
// matching broker.change or, for PUBACK/PUBREC/PUBREL/PUBCOMP, updates
// this connection's own Session directly — those four are pure
// connection-local bookkeeping and never touch shared broker state.
func (sv *Server) handlePacket(conn *connection.Connection, remote string, p *mqtt.Packet) {
	switch p.Header.Type {
	case mqtt.PUBLISH:
		sv.handlePublish(conn, remote, p)
	case mqtt.PUBACK:
		sv.handlePuback(conn, remote, p)
	case mqtt.PUBREC:
		sv.handlePubrec(conn, remote, p)
	case mqtt.PUBREL:
		sv.handlePubrel(conn, remote, p)
	case mqtt.PUBCOMP:
		sv.handlePubcomp(conn, remote, p)
	case mqtt.SUBSCRIBE:
		sv.handleSubscribe(conn, remote, p)
	case mqtt.UNSUBSCRIBE:
		sv.handleUnsubscribe(conn, remote, p)
	case mqtt.PINGREQ:
		sv.handlePingreq(conn, remote, p)
	case mqtt.DISCONNECT:
		sv.handleDisconnect(conn, remote, p)
	default:
		logger.WarnF("[%s] unexpected %s after CONNECT", remote, p.Header.Type)
		conn.MarkLoggedOut()
	}
}

func (sv *Server) handlePublish(conn *connection.Connection, remote string, p *mqtt.Packet) {
	pub, err := packet.DecodePublish(p)
	if err != nil {
		logger.WarnF("[%s] malformed PUBLISH: %v", remote, err)
		conn.MarkLoggedOut()
		return
	}

	switch pub.QoS {
	case mqtt.QoS0:
		sv.submitPublish(pub)
	case mqtt.QoS1:
		sv.submitPublish(pub)
		sv.enqueue(conn, remote, packet.EncodePacketIDOnly(mqtt.PUBACK, pub.PacketID))
	case mqtt.QoS2:
		if conn.Session == nil {
			return
		}
		if isNew := conn.Session.BeginReceivingQoS2(pub.PacketID); isNew {
			sv.submitPublish(pub)
		}
		sv.enqueue(conn, remote, packet.EncodePacketIDOnly(mqtt.PUBREC, pub.PacketID))
	}
}

func (sv *Server) submitPublish(pub *packet.Publish) {
	_ = sv.state.Submit(&broker.PublishReq{
		Topic:   pub.Topic,
		Payload: pub.Payload,
		QoS:     pub.QoS,
		Retain:  pub.Retain,
	}, broker.Async)
}

// handlePuback completes a QoS 1 outbound delivery.
func (sv *Server) handlePuback(conn *connection.Connection, remote string, p *mqtt.Packet) {
	id, err := packet.DecodePacketIDOnly(p)
	if err != nil || conn.Session == nil {
		return
	}
	conn.Session.CompleteSend(id)
	conn.Session.PacketIDs.Release(id)
}

// handlePubrec is the client acknowledging receipt of a QoS 2
// outbound PUBLISH (step 1 of 3); the session now waits on PUBCOMP.
func (sv *Server) handlePubrec(conn *connection.Connection, remote string, p *mqtt.Packet) {
	id, err := packet.DecodePacketIDOnly(p)
	if err != nil || conn.Session == nil {
		return
	}
	conn.Session.MarkAwaitingPubcomp(id)
	sv.enqueue(conn, remote, packet.EncodePacketIDOnly(mqtt.PUBREL, id))
}

// handlePubrel is the client releasing a QoS 2 inbound PUBLISH (step 2
// of 3) — the application-layer delivery already happened when the
// PUBLISH first arrived; this just clears receive-side tracking.
func (sv *Server) handlePubrel(conn *connection.Connection, remote string, p *mqtt.Packet) {
	id, err := packet.DecodePacketIDOnly(p)
	if err != nil || conn.Session == nil {
		return
	}
	conn.Session.EndReceivingQoS2(id)
	sv.enqueue(conn, remote, packet.EncodePacketIDOnly(mqtt.PUBCOMP, id))
}

// handlePubcomp completes a QoS 2 outbound delivery (step 3 of 3).
func (sv *Server) handlePubcomp(conn *connection.Connection, remote string, p *mqtt.Packet) {
	id, err := packet.DecodePacketIDOnly(p)
	if err != nil || conn.Session == nil {
		return
	}
	conn.Session.CompleteSend(id)
	conn.Session.PacketIDs.Release(id)
}

// handleSubscribe replies with SUBACK before submitting the
// SubscribeReqs, so the acknowledgment always reaches the client
// ahead of any retained message its new subscriptions replay —
// SubscribeReq.apply enqueues those replays the moment the writer
// applies it, which can otherwise race ahead of a SUBACK sent later.
func (sv *Server) handleSubscribe(conn *connection.Connection, remote string, p *mqtt.Packet) {
	sub, err := packet.DecodeSubscribe(p)
	if err != nil {
		logger.WarnF("[%s] malformed SUBSCRIBE: %v", remote, err)
		conn.MarkLoggedOut()
		return
	}

	codes := make([]packet.SubackCode, len(sub.Filters))
	for i, f := range sub.Filters {
		codes[i] = subackCodeFor(f.QoS)
	}
	sv.enqueue(conn, remote, packet.EncodeSubAck(sub.PacketID, codes))

	subscriber := sv.state.ConnSubscriber(conn.ClientID())
	for _, f := range sub.Filters {
		qos := f.QoS
		_ = sv.state.Submit(&broker.SubscribeReq{
			Subscriber: subscriber,
			Filter:     f.Filter,
			QoS:        &qos,
		}, broker.Async)
	}
}

func (sv *Server) handleUnsubscribe(conn *connection.Connection, remote string, p *mqtt.Packet) {
	unsub, err := packet.DecodeUnsubscribe(p)
	if err != nil {
		logger.WarnF("[%s] malformed UNSUBSCRIBE: %v", remote, err)
		conn.MarkLoggedOut()
		return
	}

	subscriber := sv.state.ConnSubscriber(conn.ClientID())
	for _, filter := range unsub.Filters {
		_ = sv.state.Submit(&broker.UnsubscribeReq{
			Subscriber: subscriber,
			Filter:     filter,
		}, broker.Async)
	}

	sv.enqueue(conn, remote, packet.EncodeUnsubAck(unsub.PacketID))
}

func (sv *Server) handlePingreq(conn *connection.Connection, remote string, p *mqtt.Packet) {
	sv.enqueue(conn, remote, packet.EncodePingResp())
}

// handleDisconnect clears the will and ends the receive loop; the
// handler's deferred teardown in handleConnection submits the actual
// DisconnectReq. Clearing the will here means that teardown's
// TriggerWill=true is a no-op for a graceful disconnect — MQTT 3.1.1
// requires a client-initiated DISCONNECT not publish it.
func (sv *Server) handleDisconnect(conn *connection.Connection, remote string, p *mqtt.Packet) {
	conn.ClearWill()
	conn.MarkLoggedOut()
}

func (sv *Server) enqueue(conn *connection.Connection, remote string, frame []byte) {
	if err := conn.Sender.Enqueue(frame); err != nil {
		conn.SetSendError(err)
		logger.DebugF("[%s] send failed: %v", remote, err)
	}
}

func subackCodeFor(qos mqtt.QoS) packet.SubackCode {
	switch qos {
	case mqtt.QoS1:
		return packet.SubackQoS1
	case mqtt.QoS2:
		return packet.SubackQoS2
	default:
		return packet.SubackQoS0
	}
}
