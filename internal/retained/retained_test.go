package retained

import (
	"testing"

	"github.com/VayuDev/nioev-mqtt/internal/mqtt"
)

func TestSetAndGet(t *testing.T) {
	s := New()
	s.Set("a/b", []byte("hello"), mqtt.QoS1)

	m, ok := s.Get("a/b")
	if !ok {
		t.Fatal("expected a retained message on a/b")
	}
	if string(m.Payload) != "hello" || m.QoS != mqtt.QoS1 {
		t.Fatalf("unexpected message: %+v", m)
	}
}

func TestSetEmptyPayloadDeletes(t *testing.T) {
	s := New()
	s.Set("a/b", []byte("hello"), mqtt.QoS0)
	s.Set("a/b", nil, mqtt.QoS0)

	if _, ok := s.Get("a/b"); ok {
		t.Fatal("expected empty-payload publish to clear the retained message")
	}
}

func TestMatchExactAndWildcard(t *testing.T) {
	s := New()
	s.Set("sport/tennis/player1", []byte("x"), mqtt.QoS0)
	s.Set("sport/tennis/player2", []byte("y"), mqtt.QoS0)

	if len(s.Match("sport/tennis/player1")) != 1 {
		t.Fatal("expected exact match")
	}
	if len(s.Match("sport/tennis/+")) != 2 {
		t.Fatal("expected wildcard match on both players")
	}
}

func TestMatchOmniSkipsSystemTopics(t *testing.T) {
	s := New()
	s.Set("a/b", []byte("x"), mqtt.QoS0)
	s.Set("$SYS/load", []byte("y"), mqtt.QoS0)

	matches := s.Match("#")
	if len(matches) != 1 || matches[0].Topic != "a/b" {
		t.Fatalf("expected omni to skip $SYS topics, got %v", matches)
	}
}

func TestMatchSystemFilterOnlyMatchesSystemTopics(t *testing.T) {
	s := New()
	s.Set("a/b", []byte("x"), mqtt.QoS0)
	s.Set("$SYS/load", []byte("y"), mqtt.QoS0)

	matches := s.Match("$SYS/+")
	if len(matches) != 1 || matches[0].Topic != "$SYS/load" {
		t.Fatalf("expected $SYS/+ to match only the system topic, got %v", matches)
	}
}

func TestMatchWildcardIsNotRestrictedToNonSystemTopics(t *testing.T) {
	s := New()
	s.Set("$SYS/topic", []byte("y"), mqtt.QoS0)

	matches := s.Match("+/topic")
	if len(matches) != 1 || matches[0].Topic != "$SYS/topic" {
		t.Fatalf("expected +/topic to match the $-prefixed topic like live dispatch does, got %v", matches)
	}
}
