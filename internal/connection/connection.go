// Package connection models one client's TCP connection to the broker:
// its protocol state machine, keepalive, will, and link to whatever
// persistent session it's currently attached to.
package connection

import (
	"net"
	"sync"
	"time"

	"github.com/VayuDev/nioev-mqtt/internal/connio"
	"github.com/VayuDev/nioev-mqtt/internal/session"
)

// State is a connection's position in the MQTT protocol state machine.
type State int32

const (
	// StateInitial: TCP accepted, no CONNECT seen yet.
	StateInitial State = iota
	// StateConnected: CONNECT accepted; CONNACK is queued right after.
	StateConnected
	// StateLoggedOut: DISCONNECT received or the connection is being
	// torn down; no further packets should be sent or accepted.
	StateLoggedOut
)

// Will is the message the broker must publish on this connection's
// behalf if it disconnects without a prior DISCONNECT.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Connection is one client's live TCP session. Fields written by more
// than one goroutine — State, keepalive bookkeeping, the sticky send
// error — are behind mu; everything else is set once at CONNECT time
// and read-only afterward.
type Connection struct {
	// ID is this connection's registry identity: (generation<<32 |
	// slot index). Zero until Register assigns it.
	ID uint64

	Conn       net.Conn
	RemoteAddr string

	mu          sync.Mutex
	state       State
	mqttVersion byte
	clientID    string
	keepalive   time.Duration
	lastSeen    time.Time
	will        *Will
	sendErr     error

	Session *session.PersistentSession

	// Sender serializes every outgoing frame for this connection — the
	// writer goroutine and any connection worker replaying queued
	// messages both enqueue onto it rather than writing Conn directly.
	// Set once, right after New, before the connection is registered.
	Sender *connio.SendQueue
}

// New wraps an accepted net.Conn as a fresh, not-yet-logged-in
// Connection.
func New(conn net.Conn) *Connection {
	return &Connection{
		Conn:       conn,
		RemoteAddr: conn.RemoteAddr().String(),
		state:      StateInitial,
		lastSeen:   time.Now(),
	}
}

// MarkConnected transitions the connection to StateConnected and
// records the negotiated session parameters. LoginReq.apply calls it
// just before queuing CONNACK.
func (c *Connection) MarkConnected(clientID string, mqttVersion byte, keepalive time.Duration, will *Will) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateConnected
	c.clientID = clientID
	c.mqttVersion = mqttVersion
	c.keepalive = keepalive
	c.will = will
	c.lastSeen = time.Now()
}

// MarkLoggedOut transitions to StateLoggedOut. Idempotent.
func (c *Connection) MarkLoggedOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateLoggedOut
}

// State returns the connection's current protocol state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ClientID returns the client identifier negotiated at CONNECT, or ""
// before that.
func (c *Connection) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Will returns the connection's registered will message, if any.
func (c *Connection) Will() *Will {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.will
}

// ClearWill drops the will — called on a graceful DISCONNECT, which
// under MQTT 3.1.1 must not trigger will delivery.
func (c *Connection) ClearWill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.will = nil
}

// Touch records that a packet was just seen from this connection,
// resetting its keepalive deadline.
func (c *Connection) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = time.Now()
}

// KeepaliveExpired reports whether no packet has been seen from this
// connection within 2x its negotiated keepalive interval (§4.4/§5). A
// zero keepalive means keepalive checking is disabled for this
// connection.
func (c *Connection) KeepaliveExpired(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keepalive == 0 {
		return false
	}
	return now.Sub(c.lastSeen) > c.keepalive*2
}

// SetSendError sticks the first send-side error this connection hit,
// so later writers stop trying once the link is known bad.
func (c *Connection) SetSendError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr == nil {
		c.sendErr = err
	}
}

// SendError returns the sticky send error, if any.
func (c *Connection) SendError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendErr
}
