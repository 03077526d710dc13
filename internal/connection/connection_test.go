package connection

import (
	"net"
	"testing"
	"time"
)

func newTestConnection() *Connection {
	return &Connection{Conn: &net.TCPConn{}, lastSeen: time.Now()}
}

func TestStateTransitions(t *testing.T) {
	c := newTestConnection()
	if c.State() != StateInitial {
		t.Fatal("expected a fresh connection to start in StateInitial")
	}
	c.MarkConnected("client1", 4, 60*time.Second, nil)
	if c.State() != StateConnected {
		t.Fatal("expected StateConnected after MarkConnected")
	}
	if c.ClientID() != "client1" {
		t.Fatalf("expected client ID client1, got %q", c.ClientID())
	}
	c.MarkLoggedOut()
	if c.State() != StateLoggedOut {
		t.Fatal("expected StateLoggedOut after MarkLoggedOut")
	}
}

func TestWillClearedOnGracefulDisconnect(t *testing.T) {
	c := newTestConnection()
	will := &Will{Topic: "a/b", Payload: []byte("bye")}
	c.MarkConnected("client1", 4, 0, will)

	if c.Will() == nil {
		t.Fatal("expected the will to be set")
	}
	c.ClearWill()
	if c.Will() != nil {
		t.Fatal("expected ClearWill to remove the will")
	}
}

func TestKeepaliveExpiry(t *testing.T) {
	c := newTestConnection()
	c.MarkConnected("client1", 4, 10*time.Millisecond, nil)
	c.Touch()

	if c.KeepaliveExpired(time.Now()) {
		t.Fatal("expected a freshly touched connection not to be expired")
	}
	future := time.Now().Add(time.Second)
	if !c.KeepaliveExpired(future) {
		t.Fatal("expected the connection to be expired after 2x keepalive has elapsed")
	}
}

func TestKeepaliveDisabledWhenZero(t *testing.T) {
	c := newTestConnection()
	c.MarkConnected("client1", 4, 0, nil)
	if c.KeepaliveExpired(time.Now().Add(time.Hour)) {
		t.Fatal("expected a zero keepalive to disable expiry checking")
	}
}

func TestSendErrorSticksToFirstValue(t *testing.T) {
	c := newTestConnection()
	first := net.ErrClosed
	c.SetSendError(first)
	c.SetSendError(net.ErrWriteToConnected)

	if c.SendError() != first {
		t.Fatal("expected the first send error to stick")
	}
}
