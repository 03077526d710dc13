package broker

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/VayuDev/nioev-mqtt/internal/connection"
	"github.com/VayuDev/nioev-mqtt/internal/connio"
	"github.com/VayuDev/nioev-mqtt/internal/mqtt"
	"github.com/VayuDev/nioev-mqtt/internal/packet"
	"github.com/VayuDev/nioev-mqtt/internal/script"
)

// inlineSubmitter runs tasks inline, keeping connio.SendQueue
// deterministic in tests without real goroutines. The script async
// pool built by NewState is a real ants pool.
type inlineSubmitter struct{}

func (inlineSubmitter) Submit(task func()) error {
	task()
	return nil
}

// fakeAddr and fakeConn give each test connection a distinct remote
// address without opening a real socket.
type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

type fakeConn struct {
	net.Conn
	addr fakeAddr

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (c *fakeConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(b)
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) RemoteAddr() net.Addr             { return c.addr }
func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// frames decodes every complete packet currently buffered.
func (c *fakeConn) frames(t *testing.T) []*mqtt.Packet {
	t.Helper()
	c.mu.Lock()
	data := append([]byte(nil), c.buf.Bytes()...)
	c.mu.Unlock()

	var out []*mqtt.Packet
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		p, err := mqtt.ReadPacket(r)
		if err != nil {
			t.Fatalf("decoding buffered frame: %v", err)
		}
		out = append(out, p)
	}
	return out
}

// newTestConn returns a fresh, not-yet-logged-in Connection backed by
// a fakeConn, with its Sender already wired through a synchronous
// pool — exactly the setup the writer expects once the conn reaches
// LoginReq.apply.
func newTestConn(addr string) (*connection.Connection, *fakeConn) {
	fc := &fakeConn{addr: fakeAddr(addr)}
	conn := connection.New(fc)
	conn.Sender = connio.New(fc, inlineSubmitter{}, conn.SetSendError)
	return conn, fc
}

func newTestState(t *testing.T) *State {
	t.Helper()
	s, err := NewState(4, time.Second)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)
	return s
}

func qosPtr(q mqtt.QoS) *mqtt.QoS { return &q }

func login(t *testing.T, s *State, conn *connection.Connection, clientID string, clean bool) {
	t.Helper()
	if err := s.Submit(&LoginReq{Conn: conn, ClientID: clientID, CleanSession: clean, KeepAlive: 60 * time.Second}, Sync); err != nil {
		t.Fatalf("login %q: %v", clientID, err)
	}
}

// Scenario 1 (§8.1): retained replay downgrades QoS and sets the
// retained flag.
func TestRetainedReplay(t *testing.T) {
	s := newTestState(t)

	connA, _ := newTestConn("10.0.0.1:1")
	login(t, s, connA, "a", true)
	if err := s.Submit(&PublishReq{Topic: "room/temp", Payload: []byte("22"), QoS: mqtt.QoS0, Retain: true}, Sync); err != nil {
		t.Fatal(err)
	}
	if err := s.Submit(&DisconnectReq{Conn: connA, TriggerWill: false}, Sync); err != nil {
		t.Fatal(err)
	}

	connB, fcB := newTestConn("10.0.0.2:1")
	login(t, s, connB, "b", true)
	sub := &ConnSubscriber{state: s, clientID: "b"}
	if err := s.Submit(&SubscribeReq{Subscriber: sub, Filter: "room/+", QoS: qosPtr(mqtt.QoS1)}, Sync); err != nil {
		t.Fatal(err)
	}

	frames := fcB.frames(t)
	var publishes []*mqtt.Packet
	for _, f := range frames {
		if f.Header.Type == mqtt.PUBLISH {
			publishes = append(publishes, f)
		}
	}
	if len(publishes) != 1 {
		t.Fatalf("expected exactly one retained PUBLISH, got %d", len(publishes))
	}
	pub, err := packet.DecodePublish(publishes[0])
	if err != nil {
		t.Fatalf("DecodePublish: %v", err)
	}
	if pub.Topic != "room/temp" || string(pub.Payload) != "22" || !pub.Retain || pub.QoS != mqtt.QoS0 {
		t.Fatalf("unexpected retained replay: %+v", pub)
	}
}

// Scenario 2 (§8.2): "#" matches non-$ topics only; "$SYS/#" matches
// only $-prefixed topics.
func TestWildcardVsOmni(t *testing.T) {
	s := newTestState(t)

	connX, fcX := newTestConn("10.0.0.1:1")
	login(t, s, connX, "x", true)
	subX := &ConnSubscriber{state: s, clientID: "x"}
	if err := s.Submit(&SubscribeReq{Subscriber: subX, Filter: "#", QoS: qosPtr(mqtt.QoS0)}, Sync); err != nil {
		t.Fatal(err)
	}

	connY, fcY := newTestConn("10.0.0.2:1")
	login(t, s, connY, "y", true)
	subY := &ConnSubscriber{state: s, clientID: "y"}
	if err := s.Submit(&SubscribeReq{Subscriber: subY, Filter: "$SYS/#", QoS: qosPtr(mqtt.QoS0)}, Sync); err != nil {
		t.Fatal(err)
	}

	if err := s.Submit(&PublishReq{Topic: "a/b", Payload: []byte("1"), QoS: mqtt.QoS0}, Sync); err != nil {
		t.Fatal(err)
	}
	if err := s.Submit(&PublishReq{Topic: "$SYS/load", Payload: []byte("2"), QoS: mqtt.QoS0}, Sync); err != nil {
		t.Fatal(err)
	}

	if len(publishFrames(t, fcX)) != 1 {
		t.Fatalf("expected X to receive exactly the non-$ publish")
	}
	if len(publishFrames(t, fcY)) != 1 {
		t.Fatalf("expected Y to receive exactly the $SYS publish")
	}
}

func publishFrames(t *testing.T, fc *fakeConn) []*packet.Publish {
	t.Helper()
	var out []*packet.Publish
	for _, f := range fc.frames(t) {
		if f.Header.Type != mqtt.PUBLISH {
			continue
		}
		p, err := packet.DecodePublish(f)
		if err != nil {
			t.Fatalf("DecodePublish: %v", err)
		}
		out = append(out, p)
	}
	return out
}

// gateScript vetoes any publish whose payload is "no".
type gateScript struct{}

func (gateScript) Name() string { return "gate" }
func (gateScript) Init(out script.Output) script.InitResult {
	out.Subscribe("gate/#")
	return script.InitResult{RunType: script.Sync}
}
func (gateScript) Run(in script.RunInput, out script.Output) {
	if string(in.Payload) == "no" {
		out.SyncAction(script.AbortPublish)
	}
	out.Success()
}
func (gateScript) ForceQuit() {}

// Scenario 3 (§8.3): a Sync script's AbortPublish suppresses delivery
// to connection subscribers and the retained store.
func TestSyncScriptAbort(t *testing.T) {
	s := newTestState(t)

	if err := s.Submit(&AddScriptReq{Name: "gate", New: func() script.Script { return gateScript{} }}, Sync); err != nil {
		t.Fatal(err)
	}

	connC, fcC := newTestConn("10.0.0.1:1")
	login(t, s, connC, "c", true)
	subC := &ConnSubscriber{state: s, clientID: "c"}
	if err := s.Submit(&SubscribeReq{Subscriber: subC, Filter: "gate/open", QoS: qosPtr(mqtt.QoS0)}, Sync); err != nil {
		t.Fatal(err)
	}

	if err := s.Submit(&PublishReq{Topic: "gate/open", Payload: []byte("no"), QoS: mqtt.QoS0, Retain: true}, Sync); err != nil {
		t.Fatal(err)
	}

	if len(publishFrames(t, fcC)) != 0 {
		t.Fatalf("expected C to receive nothing after an abort")
	}
	if _, ok := s.retainedStore.Get("gate/open"); ok {
		t.Fatalf("expected the retained store to be untouched by an aborted publish")
	}
}

// Scenario 4 (§8.4): a resumed non-clean session gets session_present=1
// and replays messages missed while disconnected.
func TestSessionResumeReplaysOfflineQueue(t *testing.T) {
	s := newTestState(t)

	connS1, _ := newTestConn("10.0.0.1:1")
	login(t, s, connS1, "s", false)
	subS := &ConnSubscriber{state: s, clientID: "s"}
	if err := s.Submit(&SubscribeReq{Subscriber: subS, Filter: "a/+", QoS: qosPtr(mqtt.QoS1)}, Sync); err != nil {
		t.Fatal(err)
	}
	if err := s.Submit(&DisconnectReq{Conn: connS1, TriggerWill: false}, Sync); err != nil {
		t.Fatal(err)
	}

	connPub, _ := newTestConn("10.0.0.2:1")
	login(t, s, connPub, "pub", true)
	if err := s.Submit(&PublishReq{Topic: "a/b", Payload: []byte("hi"), QoS: mqtt.QoS1, Retain: false}, Sync); err != nil {
		t.Fatal(err)
	}

	connS2, fcS2 := newTestConn("10.0.0.1:2")
	if err := s.Submit(&LoginReq{Conn: connS2, ClientID: "s", CleanSession: false, KeepAlive: 60 * time.Second}, Sync); err != nil {
		t.Fatal(err)
	}

	connAckFrames := fcS2.frames(t)
	if len(connAckFrames) == 0 || connAckFrames[0].Header.Type != mqtt.CONNACK {
		t.Fatalf("expected CONNACK first, got %v", connAckFrames)
	}
	if connAckFrames[0].Payload.Context[0]&0x01 == 0 {
		t.Fatalf("expected session_present=1 on resume")
	}

	pubs := publishFrames(t, fcS2)
	if len(pubs) != 1 || pubs[0].Topic != "a/b" || string(pubs[0].Payload) != "hi" {
		t.Fatalf("expected the missed publish replayed from the offline queue, got %+v", pubs)
	}
}

// Scenario 5 (§8.5): a second CONNECT with the same client_id evicts
// the first connection (publishing its will) before CONNACK reaches
// the second.
func TestDuplicateClientIDEvictsFirst(t *testing.T) {
	s := newTestState(t)

	will := &connection.Will{Topic: "status/x", Payload: []byte("offline"), QoS: 0, Retain: false}
	connWatcher, fcWatcher := newTestConn("10.0.0.3:1")
	login(t, s, connWatcher, "watcher", true)
	subWatcher := &ConnSubscriber{state: s, clientID: "watcher"}
	if err := s.Submit(&SubscribeReq{Subscriber: subWatcher, Filter: "status/#", QoS: qosPtr(mqtt.QoS0)}, Sync); err != nil {
		t.Fatal(err)
	}

	connX1, _ := newTestConn("10.0.0.1:1")
	if err := s.Submit(&LoginReq{Conn: connX1, ClientID: "x", CleanSession: true, Will: will, KeepAlive: 60 * time.Second}, Sync); err != nil {
		t.Fatal(err)
	}

	connX2, _ := newTestConn("10.0.0.1:2")
	if err := s.Submit(&LoginReq{Conn: connX2, ClientID: "x", CleanSession: true, KeepAlive: 60 * time.Second}, Sync); err != nil {
		t.Fatal(err)
	}

	if connX1.State() != connection.StateLoggedOut {
		t.Fatalf("expected the first connection to be logged out")
	}
	pubs := publishFrames(t, fcWatcher)
	if len(pubs) != 1 || pubs[0].Topic != "status/x" {
		t.Fatalf("expected the evicted client's will to be published, got %+v", pubs)
	}
}

// Scenario 6 (§8.6): a subscription granted QoS 0 downgrades a QoS 2
// publish with no packet id and no PUBREC/PUBCOMP exchange.
func TestQoSDowngrade(t *testing.T) {
	s := newTestState(t)

	connSub, fcSub := newTestConn("10.0.0.1:1")
	login(t, s, connSub, "sub", true)
	sub := &ConnSubscriber{state: s, clientID: "sub"}
	if err := s.Submit(&SubscribeReq{Subscriber: sub, Filter: "a/b", QoS: qosPtr(mqtt.QoS0)}, Sync); err != nil {
		t.Fatal(err)
	}

	if err := s.Submit(&PublishReq{Topic: "a/b", Payload: []byte("x"), QoS: mqtt.QoS2}, Sync); err != nil {
		t.Fatal(err)
	}

	pubs := publishFrames(t, fcSub)
	if len(pubs) != 1 {
		t.Fatalf("expected exactly one delivered publish, got %d", len(pubs))
	}
	if pubs[0].QoS != mqtt.QoS0 || pubs[0].PacketID != 0 {
		t.Fatalf("expected a downgraded QoS 0 delivery with no packet id, got %+v", pubs[0])
	}
}
