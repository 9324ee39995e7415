// Package transport provides the synchronous request-reply socket used
// between the host and widget worker processes. One transport maps to one
// endpoint: the worker binds, the host connects, and both sides exchange
// newline-delimited JSON envelopes one at a time.
package transport

import (
	"bufio"
	"bytes"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hearthboard/hearth/internal/log"
	"github.com/hearthboard/hearth/internal/protocol"
)

const dialTimeout = 2 * time.Second

// Transport is a request-reply channel over a local TCP endpoint. A failed
// send returns false and a receive that exceeds its timeout returns nil;
// callers decide per call whether a missing reply is fatal. Not safe for
// concurrent use: the request-reply discipline assumes a single caller.
type Transport struct {
	endpoint string
	listener net.Listener // bound mode only
	conn     net.Conn
	reader   *bufio.Reader
	logger   *slog.Logger

	closeOnce sync.Once
}

// Bind creates the worker-side transport: it listens on the endpoint and
// waits for the host to connect. Endpoints use the form
// "tcp://127.0.0.1:5555"; "tcp://127.0.0.1:0" picks a free port.
func Bind(endpoint string) (*Transport, error) {
	listener, err := net.Listen("tcp", hostPort(endpoint))
	if err != nil {
		return nil, err
	}
	t := &Transport{
		endpoint: "tcp://" + listener.Addr().String(),
		listener: listener,
		logger:   log.WithComponent("transport"),
	}
	t.logger.Debug("transport bound", "endpoint", t.endpoint)
	return t, nil
}

// Connect creates the host-side transport for a worker's bound endpoint.
func Connect(endpoint string) (*Transport, error) {
	conn, err := net.DialTimeout("tcp", hostPort(endpoint), dialTimeout)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		endpoint: endpoint,
		conn:     conn,
		reader:   bufio.NewReader(conn),
		logger:   log.WithComponent("transport"),
	}
	t.logger.Debug("transport connected", "endpoint", endpoint)
	return t, nil
}

// Endpoint returns the transport's endpoint, including the actual port
// when bound with port 0.
func (t *Transport) Endpoint() string {
	return t.endpoint
}

// Send writes one envelope. Returns false on serialization failure, write
// timeout, or a broken connection.
func (t *Transport) Send(env *protocol.Envelope, timeout time.Duration) bool {
	if t.conn == nil {
		if t.listener != nil || !t.redial(timeout) {
			t.logger.Warn("send without connection", "endpoint", t.endpoint)
			return false
		}
	}

	data, err := protocol.Marshal(env)
	if err != nil {
		t.logger.Error("failed to marshal envelope", "error", err)
		return false
	}

	_ = t.conn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := t.conn.Write(append(data, '\n')); err != nil {
		t.logger.Warn("send failed", "type", env.Type, "error", err)
		t.dropConn()
		return false
	}
	t.logger.Debug("sent envelope", "type", env.Type, "instance_id", env.InstanceID)
	return true
}

// Receive reads one envelope, waiting up to timeout. On the bound side the
// first Receive also accepts the host's connection; a dropped peer clears
// the connection so a later caller can accept again. Returns nil on
// timeout or any transport failure.
func (t *Transport) Receive(timeout time.Duration) *protocol.Envelope {
	deadline := time.Now().Add(timeout)

	if t.conn == nil {
		if t.listener == nil {
			return nil
		}
		if tcp, ok := t.listener.(*net.TCPListener); ok {
			_ = tcp.SetDeadline(deadline)
		}
		conn, err := t.listener.Accept()
		if err != nil {
			return nil
		}
		t.conn = conn
		t.reader = bufio.NewReader(conn)
	}

	_ = t.conn.SetReadDeadline(deadline)
	line, err := t.reader.ReadBytes('\n')
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil
		}
		// Peer hung up or the stream broke mid-message.
		t.dropConn()
		return nil
	}

	env, err := protocol.Unmarshal(bytes.TrimSpace(line))
	if err != nil {
		t.logger.Warn("received malformed envelope", "error", err)
		return nil
	}
	t.logger.Debug("received envelope", "type", env.Type, "instance_id", env.InstanceID)
	return env
}

// SendAndReceive performs one strict request-reply exchange. A missing
// reply poisons the stream — arriving late, it would pair with the next
// request — so on the connecting side the connection is dropped and the
// next call redials.
func (t *Transport) SendAndReceive(env *protocol.Envelope, timeout time.Duration) *protocol.Envelope {
	if !t.Send(env, timeout) {
		return nil
	}
	reply := t.Receive(timeout)
	if reply == nil && t.listener == nil {
		t.dropConn()
	}
	return reply
}

// redial restores the connecting side after a dropped exchange. The bound
// side never redials; it re-accepts in Receive instead.
func (t *Transport) redial(timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", hostPort(t.endpoint), timeout)
	if err != nil {
		t.logger.Warn("redial failed", "endpoint", t.endpoint, "error", err)
		return false
	}
	t.conn = conn
	t.reader = bufio.NewReader(conn)
	t.logger.Debug("transport reconnected", "endpoint", t.endpoint)
	return true
}

// Close releases the connection and, on the bound side, the listener.
// Safe to call multiple times.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		if t.conn != nil {
			_ = t.conn.Close()
			t.conn = nil
		}
		if t.listener != nil {
			_ = t.listener.Close()
			t.listener = nil
		}
		t.logger.Debug("transport closed", "endpoint", t.endpoint)
	})
}

func (t *Transport) dropConn() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
		t.reader = nil
	}
}

// hostPort strips the tcp:// scheme the endpoint convention carries.
func hostPort(endpoint string) string {
	return strings.TrimPrefix(endpoint, "tcp://")
}
