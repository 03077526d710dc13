package broker

import (
	"github.com/VayuDev/nioev-mqtt/internal/connection"
	"github.com/VayuDev/nioev-mqtt/internal/mqtt"
	"github.com/VayuDev/nioev-mqtt/internal/packet"
	"github.com/VayuDev/nioev-mqtt/internal/session"
	"github.com/VayuDev/nioev-mqtt/internal/subscription"
)

// ConnSubscriberID and ScriptSubscriberID build a subscription.Subscriber's
// ID string. A connection subscriber's ID is keyed by client ID rather
// than by connection/registry ID so a non-clean session's subscription
// index entries survive a disconnect — the client ID identifies "this
// client's subscriptions" across however many TCP connections it opens
// over its lifetime, which is exactly what offline queueing needs.
func ConnSubscriberID(clientID string) string { return "client:" + clientID }

// ScriptSubscriberID builds a script subscriber's stable ID.
func ScriptSubscriberID(name string) string { return "script:" + name }

// ConnSubscriber is the subscription.Subscriber for one client ID. It
// never holds a *connection.Connection directly — Deliver resolves the
// currently-live connection (if any) through the registry on every
// call, so a subscription outlives any one connection for non-clean
// sessions and a disconnected client's deliveries fall back to its
// session's offline queue instead of erroring.
type ConnSubscriber struct {
	state    *State
	clientID string
}

func (c *ConnSubscriber) ID() string             { return ConnSubscriberID(c.clientID) }
func (c *ConnSubscriber) Kind() subscription.Kind { return subscription.KindConnection }

// ConnSubscriber returns the subscription.Subscriber for clientID,
// for internal/server to attach to a SUBSCRIBE/UNSUBSCRIBE request —
// ConnSubscriber's fields are private so every caller goes through
// this constructor instead of building one ad hoc.
func (s *State) ConnSubscriber(clientID string) *ConnSubscriber {
	return &ConnSubscriber{state: s, clientID: clientID}
}

// Deliver hands a matched publish to this subscriber's client,
// downgrading nothing further (the caller already applied the
// subscription's granted QoS ceiling). If the client is currently
// disconnected, QoS 1/2 deliveries are queued on its PersistentSession
// for replay on reconnect; QoS 0 deliveries are simply dropped, per
// MQTT's at-most-once contract for a subscriber that isn't listening.
func (c *ConnSubscriber) Deliver(topic string, payload []byte, qos mqtt.QoS, retained bool) error {
	return c.state.deliverToClient(c.clientID, topic, payload, qos, retained, false)
}

// ScriptSubscriber is the subscription.Subscriber for one registered
// script. Deliver runs the script synchronously (Sync) or hands it to
// the async pool (Async) via the broker's script.Runner, and turns a
// Sync script's AbortPublish verdict into ErrAbortPublish so dispatch
// can recognize it without widening the Subscriber interface.
type ScriptSubscriber struct {
	state *State
	name  string
}

func (s *ScriptSubscriber) ID() string             { return ScriptSubscriberID(s.name) }
func (s *ScriptSubscriber) Kind() subscription.Kind { return subscription.KindScript }

func (s *ScriptSubscriber) Deliver(topic string, payload []byte, qos mqtt.QoS, retained bool) error {
	return s.state.deliverToScript(s.name, topic, payload, retained)
}

// deliverToClient is the shared implementation behind ConnSubscriber.Deliver
// and offline-queue replay on reconnect (dup marks a replayed delivery
// so the wire frame carries DUP=1).
func (s *State) deliverToClient(clientID, topic string, payload []byte, qos mqtt.QoS, retained, dup bool) error {
	sess, ok := s.sessions.Get(clientID)
	if !ok {
		return nil
	}

	var conn *connection.Connection
	if connID, bound := s.registry.ByClientID(clientID); bound {
		conn, _ = s.registry.Get(connID)
	}
	if conn == nil || conn.State() != connection.StateConnected {
		if qos == mqtt.QoS0 {
			return nil
		}
		sess.QueueOffline(session.QueuedMessage{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
		return nil
	}

	var packetID uint16
	if qos > mqtt.QoS0 {
		packetID = sess.PacketIDs.Next()
		for tries := 0; tries < 0xFFFF; tries++ {
			if _, busy := sess.PendingSend(packetID); !busy {
				break
			}
			packetID = sess.PacketIDs.Next()
		}
		sess.TrackSending(&session.PendingDelivery{
			PacketID: packetID,
			Topic:    topic,
			Payload:  payload,
			QoS:      qos,
			Retained: retained,
		})
	}

	frame := packet.EncodePublish(topic, payload, qos, retained, dup, packetID)
	if err := conn.Sender.Enqueue(frame); err != nil {
		conn.SetSendError(err)
		return err
	}
	return nil
}
