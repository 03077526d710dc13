package connection

import (
	"net"
	"testing"
)

func TestRegistryRegisterGetUnregister(t *testing.T) {
	r := NewRegistry()
	c := &Connection{Conn: &net.TCPConn{}}
	id := r.Register(c)

	got, ok := r.Get(id)
	if !ok || got != c {
		t.Fatal("expected Get to return the registered connection")
	}
	if !r.Unregister(id) {
		t.Fatal("expected Unregister to succeed")
	}
	if _, ok := r.Get(id); ok {
		t.Fatal("expected Get to fail after Unregister")
	}
}

func TestRegistryStaleIDAfterSlotReuse(t *testing.T) {
	r := NewRegistry()
	c1 := &Connection{}
	id1 := r.Register(c1)
	r.Unregister(id1)

	c2 := &Connection{}
	id2 := r.Register(c2)

	if _, ok := r.Get(id1); ok {
		t.Fatal("expected the old ID to be stale once its slot is reused")
	}
	got, ok := r.Get(id2)
	if !ok || got != c2 {
		t.Fatal("expected the new ID to resolve to the new connection")
	}
}

func TestRegistryClientIDBinding(t *testing.T) {
	r := NewRegistry()
	c := &Connection{}
	id := r.Register(c)
	r.BindClientID("device-1", id)

	got, ok := r.ByClientID("device-1")
	if !ok || got != id {
		t.Fatal("expected ByClientID to resolve the bound ID")
	}

	r.UnbindClientID("device-1", id+1) // stale unbind from a superseded connection
	if _, ok := r.ByClientID("device-1"); !ok {
		t.Fatal("expected a stale unbind to leave the current binding intact")
	}

	r.UnbindClientID("device-1", id)
	if _, ok := r.ByClientID("device-1"); ok {
		t.Fatal("expected the matching unbind to remove the binding")
	}
}

func TestRegistryAll(t *testing.T) {
	r := NewRegistry()
	r.Register(&Connection{})
	id2 := r.Register(&Connection{})
	r.Unregister(id2)
	r.Register(&Connection{})

	if len(r.All()) != 2 {
		t.Fatalf("expected 2 live connections, got %d", len(r.All()))
	}
}
