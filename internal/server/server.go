// Package server runs the broker's TCP listener: it accepts
// connections, decodes MQTT control packets off the wire, and submits
// the matching broker.change to the writer. Everything here runs on a
// per-connection goroutine; none of it touches broker state directly.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/VayuDev/nioev-mqtt/internal/broker"
	"github.com/VayuDev/nioev-mqtt/internal/config"
	"github.com/VayuDev/nioev-mqtt/internal/connection"
	"github.com/VayuDev/nioev-mqtt/internal/connio"
	"github.com/VayuDev/nioev-mqtt/internal/logger"
	"github.com/VayuDev/nioev-mqtt/internal/mqtt"
	"github.com/VayuDev/nioev-mqtt/internal/packet"
)

// firstPacketTimeout bounds how long a newly accepted connection has
// to send its CONNECT before being dropped.
const firstPacketTimeout = 10 * time.Second

// Server owns the listener and every resource a connection's handler
// needs: the broker writer it submits changes to, and the sender/
// receiver pools its connections and SendQueues run on.
type Server struct {
	state *broker.State
	pools *connio.Pools
	cfg   config.Config
	sem   *semaphore.Weighted
}

// New returns a Server ready to Serve, bounded to cfg.MaxConnections
// concurrently handled connections.
func New(state *broker.State, pools *connio.Pools, cfg config.Config) *Server {
	max := int64(cfg.MaxConnections)
	if max <= 0 {
		max = 1024
	}
	return &Server{state: state, pools: pools, cfg: cfg, sem: semaphore.NewWeighted(max)}
}

// Serve listens on addr and accepts connections until ctx is
// cancelled or the listener errors. Each accepted connection acquires
// one unit of the connection semaphore before its handler starts and
// releases it when the handler returns.
func (sv *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	logger.InfoF("listening for MQTT connections on %s", addr)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		netConn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		if err := sv.sem.Acquire(ctx, 1); err != nil {
			_ = netConn.Close()
			return nil
		}

		go func() {
			defer sv.sem.Release(1)
			sv.handleConnection(netConn)
		}()
	}
}

// handleConnection owns one accepted net.Conn for its entire
// lifetime: it requires the first packet to be CONNECT, then loops
// reading further packets under a keepalive-derived read deadline
// until the peer disconnects or a read fails.
func (sv *Server) handleConnection(netConn net.Conn) {
	remote := netConn.RemoteAddr().String()
	conn := connection.New(netConn)
	conn.Sender = connio.New(netConn, sv.pools.Senders, conn.SetSendError)

	defer func() {
		_ = netConn.Close()
		if conn.State() != connection.StateInitial {
			_ = sv.state.Submit(&broker.DisconnectReq{Conn: conn, TriggerWill: true}, broker.Async)
		}
	}()

	_ = netConn.SetReadDeadline(time.Now().Add(firstPacketTimeout))
	p, err := mqtt.ReadPacket(netConn)
	if err != nil {
		logger.DebugF("[%s] failed to read CONNECT: %v", remote, err)
		return
	}
	if p.Header.Type != mqtt.CONNECT {
		logger.WarnF("[%s] first packet was %s, not CONNECT", remote, p.Header.Type)
		return
	}

	keepAlive, ok := sv.handleConnect(conn, remote, p)
	if !ok {
		return
	}

	for {
		if keepAlive > 0 {
			_ = netConn.SetReadDeadline(time.Now().Add(keepAlive * 2))
		} else {
			_ = netConn.SetReadDeadline(time.Time{})
		}
		p, err := mqtt.ReadPacket(netConn)
		if err != nil {
			logReadError(remote, err)
			return
		}
		conn.Touch()

		sv.dispatch(conn, remote, p)

		if conn.State() != connection.StateConnected {
			return
		}
	}
}

// dispatch hands p to the receiver pool and blocks this connection's
// goroutine until it's handled, bounding concurrent decode/apply work
// across all connections while keeping one connection's own packets
// processed strictly in arrival order.
func (sv *Server) dispatch(conn *connection.Connection, remote string, p *mqtt.Packet) {
	done := make(chan struct{})
	task := func() {
		sv.handlePacket(conn, remote, p)
		close(done)
	}
	if err := sv.pools.Receivers.Submit(task); err != nil {
		task()
		return
	}
	<-done
}

// handleConnect decodes and applies the connection's CONNECT packet.
// It returns the negotiated keepalive and whether the caller should
// proceed to the connection's ordinary receive loop.
func (sv *Server) handleConnect(conn *connection.Connection, remote string, p *mqtt.Packet) (time.Duration, bool) {
	connect, err := packet.DecodeConnect(p)
	if errors.Is(err, packet.ErrUnacceptableProtocol) {
		_ = conn.Sender.Enqueue(packet.EncodeConnAck(false, packet.UnacceptableProtocol))
		return 0, false
	}
	if err != nil {
		logger.WarnF("[%s] malformed CONNECT: %v", remote, err)
		return 0, false
	}
	if connect.ClientID == "" && !connect.CleanSession {
		logger.WarnF("[%s] empty client id requires clean_session", remote)
		_ = conn.Sender.Enqueue(packet.EncodeConnAck(false, packet.IdentifierRejected))
		return 0, false
	}

	keepAlive := time.Duration(connect.KeepAlive) * time.Second
	if keepAlive == 0 {
		keepAlive = time.Duration(sv.cfg.DefaultKeepAliveSeconds) * time.Second
	}

	var will *connection.Will
	if connect.WillTopic != "" {
		will = &connection.Will{
			Topic:   connect.WillTopic,
			Payload: connect.WillPayload,
			QoS:     byte(connect.WillQoS),
			Retain:  connect.WillRetain,
		}
	}

	err = sv.state.Submit(&broker.LoginReq{
		Conn:         conn,
		ClientID:     connect.ClientID,
		CleanSession: connect.CleanSession,
		Will:         will,
		KeepAlive:    keepAlive,
		MQTTVersion:  connect.MQTTVersion,
	}, broker.Sync)
	if err != nil {
		logger.WarnF("[%s] login: %v", remote, err)
		return 0, false
	}
	return keepAlive, true
}

// logReadError distinguishes an ordinary peer-closed connection from
// an unexpected read failure, matching the level the teacher's own
// connection-error classification logs at.
func logReadError(remote string, err error) {
	if errors.Is(err, net.ErrClosed) {
		return
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		logger.DebugF("[%s] keepalive expired", remote)
		return
	}
	logger.DebugF("[%s] connection closed: %v", remote, err)
}
