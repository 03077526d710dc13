package broker

import (
	"errors"
	"fmt"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/VayuDev/nioev-mqtt/internal/connection"
	"github.com/VayuDev/nioev-mqtt/internal/logger"
	"github.com/VayuDev/nioev-mqtt/internal/mqtt"
	"github.com/VayuDev/nioev-mqtt/internal/packet"
	"github.com/VayuDev/nioev-mqtt/internal/script"
	"github.com/VayuDev/nioev-mqtt/internal/session"
	"github.com/VayuDev/nioev-mqtt/internal/subscription"
)

// change is one ChangeRequest variant the writer applies under
// exclusive access to every piece of aggregate state it owns. apply
// always runs on the writer goroutine, from Run; a Submit(Sync) caller
// only blocks until Run has applied its change.
type change interface {
	apply(s *State)
}

func toQoS(b byte) mqtt.QoS { return mqtt.QoS(b) }

// SubscribeReq inserts sub into the SubscriptionIndex, mirrors it into
// the owning non-clean session (if sub belongs to one), and replays
// any matching retained messages to the new subscriber (§4.2).
type SubscribeReq struct {
	Subscriber subscription.Subscriber
	Filter     string
	QoS        *mqtt.QoS
}

func (r *SubscribeReq) apply(s *State) {
	sub, err := subscription.New(r.Subscriber, r.Filter, r.QoS)
	if err != nil {
		logger.WarnF("subscribe %q: %v", r.Filter, err)
		return
	}
	s.subs.Insert(sub)

	if cs, ok := r.Subscriber.(*ConnSubscriber); ok {
		if sess, ok := s.sessions.Get(cs.clientID); ok && !sess.CleanSession {
			sess.RecordSubscription(r.Filter, r.QoS)
		}
	}

	for _, m := range s.retainedStore.Match(r.Filter) {
		qos := sub.EffectiveQoS(m.QoS)
		if err := sub.Subscriber.Deliver(m.Topic, m.Payload, qos, true); err != nil && !errors.Is(err, ErrAbortPublish) {
			logger.WarnF("retained replay to %s: %v", sub.Subscriber.ID(), err)
		}
	}
}

// UnsubscribeReq removes one (subscriber, filter) entry and forgets it
// from the owning non-clean session, if any.
type UnsubscribeReq struct {
	Subscriber subscription.Subscriber
	Filter     string
}

func (r *UnsubscribeReq) apply(s *State) {
	s.subs.Delete(r.Subscriber.ID(), r.Filter)
	if cs, ok := r.Subscriber.(*ConnSubscriber); ok {
		if sess, ok := s.sessions.Get(cs.clientID); ok && !sess.CleanSession {
			sess.ForgetSubscription(r.Filter)
		}
	}
}

// PublishReq dispatches one publish to every matching subscriber and,
// unless a Sync script aborted it, queues a retained-store update.
type PublishReq struct {
	Topic   string
	Payload []byte
	QoS     mqtt.QoS
	Retain  bool
}

func (r *PublishReq) apply(s *State) {
	aborted := s.dispatchPublish(r.Topic, r.Payload, r.QoS, false)
	if !aborted && r.Retain {
		s.submitInternal(&retainReq{Topic: r.Topic, Payload: r.Payload, QoS: r.QoS})
	}
}

// dispatchPublish fans a publish out to every subscription matching
// topic, scripts first (§4.2, §4.6). It stops and reports true the
// moment a Sync script returns AbortPublish; any other delivery error
// is logged and dispatch continues to the next subscriber.
func (s *State) dispatchPublish(topic string, payload []byte, qos mqtt.QoS, retained bool) (aborted bool) {
	for _, sub := range s.subs.Match(topic) {
		err := sub.Subscriber.Deliver(topic, payload, sub.EffectiveQoS(qos), retained)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrAbortPublish) {
			return true
		}
		logger.WarnF("delivering %q to %s: %v", topic, sub.Subscriber.ID(), err)
	}
	return false
}

// retainReq updates the RetainedStore; always submitted internally,
// never directly by a caller outside this package.
type retainReq struct {
	Topic   string
	Payload []byte
	QoS     mqtt.QoS
}

func (r *retainReq) apply(s *State) {
	s.retainedStore.Set(r.Topic, r.Payload, r.QoS)
}

// offlineReplayReq re-dispatches one drained offline-queue entry to its
// now-reconnected owner through the ordinary outbound QoS path, so it
// still lands in sending_high_qos for QoS >= 1 (§4.4).
type offlineReplayReq struct {
	ClientID string
	Message  session.QueuedMessage
}

func (r *offlineReplayReq) apply(s *State) {
	if err := s.deliverToClient(r.ClientID, r.Message.Topic, r.Message.Payload, r.Message.QoS, r.Message.Retained, true); err != nil {
		logger.WarnF("replaying offline message to %q: %v", r.ClientID, err)
	}
}

// LoginReq performs full CONNECT handling (§4.4): duplicate-client_id
// eviction, session create-or-resume, CONNACK, and — for a resumed
// session — re-subscribing (to replay retained messages) and draining
// the offline queue, all strictly after CONNACK is enqueued.
type LoginReq struct {
	Conn         *connection.Connection
	ClientID     string
	CleanSession bool
	Will         *connection.Will
	KeepAlive    time.Duration
	MQTTVersion  byte
}

func (r *LoginReq) apply(s *State) {
	clientID := r.ClientID
	if clientID == "" {
		clientID = s.synthesizeClientID(r.Conn)
	}

	if existingID, ok := s.registry.ByClientID(clientID); ok {
		if existingConn, ok := s.registry.Get(existingID); ok && existingConn != r.Conn {
			logger.InfoF("client %q: new CONNECT evicts existing connection", clientID)
			s.logoutConnectionLocked(existingConn, true)
		}
	}

	sess, existed := s.sessions.Get(clientID)
	cleanSession := r.CleanSession || (existed && sess.CleanSession)
	sessionPresent := existed && !cleanSession

	if !sessionPresent {
		if existed {
			s.subs.DeleteAll(ConnSubscriberID(clientID))
			s.sessions.Delete(clientID)
		}
		sess = session.New(clientID, cleanSession)
		s.sessions.Put(sess)
	}

	r.Conn.Session = sess
	r.Conn.MarkConnected(clientID, r.MQTTVersion, r.KeepAlive, r.Will)
	connID := s.registry.Register(r.Conn)
	s.registry.BindClientID(clientID, connID)

	frame := packet.EncodeConnAck(sessionPresent, packet.Accepted)
	if err := r.Conn.Sender.Enqueue(frame); err != nil {
		r.Conn.SetSendError(err)
		return
	}

	if sessionPresent {
		subscriber := &ConnSubscriber{state: s, clientID: clientID}
		for _, rec := range sess.Subscriptions() {
			s.submitInternal(&SubscribeReq{Subscriber: subscriber, Filter: rec.Filter, QoS: rec.QoS})
		}
		for _, msg := range sess.DrainOffline() {
			s.submitInternal(&offlineReplayReq{ClientID: clientID, Message: msg})
		}
	}
}

// synthesizeClientID builds a client id for an empty-ClientId CONNECT
// (only legal alongside clean_session=true, enforced by the caller
// before Submit), retrying against the SessionTable on collision (§4.4
// step 2).
func (s *State) synthesizeClientID(conn *connection.Connection) string {
	for {
		candidate := fmt.Sprintf("anon-%s-%s", conn.RemoteAddr, uuid.NewV4().String())
		if _, exists := s.sessions.Get(candidate); !exists {
			return candidate
		}
	}
}

// DisconnectReq logs a connection out. TriggerWill is false for a
// graceful client-initiated DISCONNECT (MQTT 3.1.1: must not publish
// the will) and true for any other teardown (read error, keepalive
// timeout, eviction by a duplicate CONNECT).
type DisconnectReq struct {
	Conn        *connection.Connection
	TriggerWill bool
}

func (r *DisconnectReq) apply(s *State) {
	s.logoutConnectionLocked(r.Conn, r.TriggerWill)
}

// logoutConnectionLocked tears conn out of the registry and, for a
// clean session, out of the SubscriptionIndex and SessionTable too.
// A non-clean session's subscriptions and PersistentSession are left
// in place — with current_connection now unreachable through the
// registry — so later publishes fall through to its offline queue
// instead of disappearing (§3, §9 Open Question 1).
func (s *State) logoutConnectionLocked(conn *connection.Connection, triggerWill bool) {
	conn.MarkLoggedOut()
	clientID := conn.ClientID()

	if triggerWill {
		if will := conn.Will(); will != nil {
			aborted := s.dispatchPublish(will.Topic, will.Payload, toQoS(will.QoS), false)
			if !aborted && will.Retain {
				s.submitInternal(&retainReq{Topic: will.Topic, Payload: will.Payload, QoS: toQoS(will.QoS)})
			}
		}
	}

	if conn.ID != 0 {
		s.registry.UnbindClientID(clientID, conn.ID)
		s.registry.Unregister(conn.ID)
	}

	if sess, ok := s.sessions.Get(clientID); ok && sess.CleanSession {
		s.subs.DeleteAll(ConnSubscriberID(clientID))
		s.sessions.Delete(clientID)
	}

	_ = conn.Conn.Close()
}

// AddScriptReq registers name, replacing and force-quitting whatever
// script previously held that name. The constructed instance's Init is
// invoked with a directOutput so it can place its initial subscriptions
// before the registration completes (§4.6, §4.7).
type AddScriptReq struct {
	Name string
	New  func() script.Script
}

func (r *AddScriptReq) apply(s *State) {
	if old, ok := s.scripts[r.Name]; ok {
		old.instance.ForceQuit()
		s.subs.DeleteAll(ScriptSubscriberID(r.Name))
		delete(s.scripts, r.Name)
	}

	instance := r.New()
	result := instance.Init(&directOutput{state: s, scriptName: r.Name})
	s.scripts[r.Name] = &scriptEntry{instance: instance, runType: result.RunType}
}

// CleanupReq sweeps expired keepalives and reaps logged-out
// connections. The slot+generation connection.Registry makes the
// suspend-all barrier described in §5 unnecessary: a reaped slot's
// generation is bumped on next Register, so any ID captured before
// reaping is recognized as stale rather than aliasing the slot's next
// occupant (§9 "slot-based reclamation").
type CleanupReq struct{}

func (r *CleanupReq) apply(s *State) {
	now := time.Now()
	for _, conn := range s.registry.All() {
		switch {
		case conn.State() == connection.StateLoggedOut:
			s.registry.Unregister(conn.ID)
		case conn.KeepaliveExpired(now):
			logger.InfoF("client %q: keepalive expired", conn.ClientID())
			s.logoutConnectionLocked(conn, true)
		case conn.SendError() != nil:
			logger.WarnF("client %q: send error, logging out: %v", conn.ClientID(), conn.SendError())
			s.logoutConnectionLocked(conn, true)
		}
	}
}
