// Package session implements persistent MQTT sessions: the state that
// survives a non-clean client's disconnect — its subscriptions, its
// in-flight QoS 1/2 deliveries, and its queued offline messages —
// independently of any particular TCP connection.
package session

import (
	"sync"

	"github.com/VayuDev/nioev-mqtt/internal/mqtt"
)

// maxOfflineQueueSize bounds how many messages accumulate for a
// disconnected non-clean session before the oldest are dropped. An
// unbounded queue behind a client that never reconnects is a slow
// memory leak.
const maxOfflineQueueSize = 1000

// QueuedMessage is one publish queued for later delivery to a
// disconnected session.
type QueuedMessage struct {
	Topic    string
	Payload  []byte
	QoS      mqtt.QoS
	Retained bool
}

// PendingDelivery tracks one outgoing QoS 1/2 publish that this
// session has sent but not yet had fully acknowledged.
type PendingDelivery struct {
	PacketID uint16
	Topic    string
	Payload  []byte
	QoS      mqtt.QoS
	Retained bool
	// AwaitingPubcomp is set once the PUBREC for a QoS 2 delivery has
	// been received and PUBREL sent; the session is now waiting on
	// PUBCOMP rather than PUBREC.
	AwaitingPubcomp bool
}

// SubscriptionRecord is enough information to recreate a
// subscription.Subscription when a non-clean session resumes.
type SubscriptionRecord struct {
	Filter string
	QoS    *mqtt.QoS
}

// PersistentSession is the server-side state kept for one client ID
// across connections. It outlives any one net.Conn: a clean-session
// client gets a fresh, empty PersistentSession on every CONNECT, while
// a non-clean client's session (and its offline queue) is preserved
// until it explicitly reconnects with CleanSession.
//
// PacketIDs has its own lock; everything else here is guarded by mu,
// since the sending/receiving QoS 2 flows and the offline queue can be
// touched by both the writer goroutine (dispatch) and whichever
// connection worker is currently draining acks for this session.
type PersistentSession struct {
	ClientID     string
	CleanSession bool

	PacketIDs *PacketIDAllocator

	mu             sync.Mutex
	subscriptions  map[string]*SubscriptionRecord
	sendingHighQoS map[uint16]*PendingDelivery
	receivingQoS2  map[uint16]struct{}
	offlineQueue   []QueuedMessage
}

// New returns a fresh PersistentSession for clientID.
func New(clientID string, cleanSession bool) *PersistentSession {
	return &PersistentSession{
		ClientID:       clientID,
		CleanSession:   cleanSession,
		PacketIDs:      NewPacketIDAllocator(),
		subscriptions:  make(map[string]*SubscriptionRecord),
		sendingHighQoS: make(map[uint16]*PendingDelivery),
		receivingQoS2:  make(map[uint16]struct{}),
	}
}

// RecordSubscription remembers filter/qos so it can be reinstated into
// the broker's subscription.Index on session resume.
func (s *PersistentSession) RecordSubscription(filter string, qos *mqtt.QoS) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[filter] = &SubscriptionRecord{Filter: filter, QoS: qos}
}

// ForgetSubscription removes a previously recorded filter, mirroring
// an UNSUBSCRIBE so resume doesn't resurrect it.
func (s *PersistentSession) ForgetSubscription(filter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, filter)
}

// Subscriptions returns a snapshot of the session's recorded filters,
// for reinstatement into the subscription.Index on resume.
func (s *PersistentSession) Subscriptions() []*SubscriptionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*SubscriptionRecord, 0, len(s.subscriptions))
	for _, rec := range s.subscriptions {
		out = append(out, rec)
	}
	return out
}

// TrackSending records an outgoing QoS 1/2 publish awaiting
// acknowledgment.
func (s *PersistentSession) TrackSending(pd *PendingDelivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendingHighQoS[pd.PacketID] = pd
}

// PendingSend returns the in-flight delivery for packetID, if any.
func (s *PersistentSession) PendingSend(packetID uint16) (*PendingDelivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pd, ok := s.sendingHighQoS[packetID]
	return pd, ok
}

// CompleteSend removes packetID from the in-flight send table — called
// on PUBACK (QoS 1) or PUBCOMP (QoS 2).
func (s *PersistentSession) CompleteSend(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sendingHighQoS, packetID)
}

// MarkAwaitingPubcomp flips a QoS 2 outbound delivery from awaiting
// PUBREC to awaiting PUBCOMP, once the client's PUBREC has arrived and
// this session's PUBREL has been sent in reply. It reports false if
// packetID has no in-flight delivery.
func (s *PersistentSession) MarkAwaitingPubcomp(packetID uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pd, ok := s.sendingHighQoS[packetID]
	if !ok {
		return false
	}
	pd.AwaitingPubcomp = true
	return true
}

// InFlightSends returns every send still awaiting acknowledgment. The
// broker does not resend these when a session resumes: LoginReq.apply
// replays only the recorded subscriptions and the offline queue.
func (s *PersistentSession) InFlightSends() []*PendingDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*PendingDelivery, 0, len(s.sendingHighQoS))
	for _, pd := range s.sendingHighQoS {
		out = append(out, pd)
	}
	return out
}

// BeginReceivingQoS2 marks packetID as in-flight on the receive side
// (a PUBLISH with QoS 2 has arrived and PUBREC was sent). It reports
// false if packetID was already in flight — the PUBLISH is a retry
// the application layer must not re-deliver upward.
func (s *PersistentSession) BeginReceivingQoS2(packetID uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.receivingQoS2[packetID]; dup {
		return false
	}
	s.receivingQoS2[packetID] = struct{}{}
	return true
}

// EndReceivingQoS2 clears packetID's receive-side tracking on PUBREL.
func (s *PersistentSession) EndReceivingQoS2(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.receivingQoS2, packetID)
}

// QueueOffline appends msg to the session's offline queue, dropping
// the oldest entry first if the queue is already at capacity.
func (s *PersistentSession) QueueOffline(msg QueuedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.offlineQueue) >= maxOfflineQueueSize {
		s.offlineQueue = s.offlineQueue[1:]
	}
	s.offlineQueue = append(s.offlineQueue, msg)
}

// DrainOffline returns and clears every message queued while the
// session was disconnected, for replay immediately after CONNACK.
func (s *PersistentSession) DrainOffline() []QueuedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.offlineQueue) == 0 {
		return nil
	}
	drained := s.offlineQueue
	s.offlineQueue = nil
	return drained
}

// Table is the broker's set of persistent sessions, keyed by client
// ID. Like subscription.Index, Table carries no lock of its own: all
// access runs on the broker's single writer goroutine.
type Table struct {
	sessions map[string]*PersistentSession
}

// NewTable returns an empty session Table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]*PersistentSession)}
}

// Get returns the persistent session for clientID, if one exists.
func (t *Table) Get(clientID string) (*PersistentSession, bool) {
	s, ok := t.sessions[clientID]
	return s, ok
}

// Put stores s under its ClientID, replacing whatever was there.
func (t *Table) Put(s *PersistentSession) {
	t.sessions[s.ClientID] = s
}

// Delete removes the persistent session for clientID, used when a
// clean-session client logs out or a CONNECT replaces an existing
// session with a fresh one. Sessions are never expired by age.
func (t *Table) Delete(clientID string) {
	delete(t.sessions, clientID)
}
