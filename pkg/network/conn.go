package network

import (
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/nspcc-dev/chatmesh/pkg/wire"
)

// OnMessage is invoked synchronously from a Connection's receive loop for
// every decoded frame. Per the project's concurrency design notes,
// implementations must not perform blocking I/O beyond a short send on the
// same or another connection (ACK/PONG/BYE_OK).
type OnMessage func(peerID string, msg *wire.Message)

// OnDisconnect is invoked exactly once per Connection, after its receive
// loop has exited for any reason.
type OnDisconnect func(peerID string)

// Connection manages one established, handshaked TCP session: a blocking
// receive loop and a mutex-serialized send path, grounded on the teacher's
// TCPPeer (pkg/network/tcp_peer_test.go) generalized past its
// version/verack handshake gate, which lives one level up in client.go's
// dial/listener handshake instead.
type Connection struct {
	peerID    string
	conn      net.Conn
	direction Direction
	lr        *wire.LineReader

	sendMu sync.Mutex

	onMessage    OnMessage
	onDisconnect OnDisconnect

	disconnectOnce sync.Once
	log            *zap.Logger
}

// NewConnection wraps an already-handshaked socket. lr must be the same
// *wire.LineReader used to read the handshake line off conn (or a fresh
// one over conn if no handshake line was ever read off it separately), so
// that any bytes a peer pipelines immediately after the handshake line are
// not lost in a reader that then gets discarded (§4.3's continuous-buffer
// model).
func NewConnection(peerID string, conn net.Conn, direction Direction, lr *wire.LineReader, onMessage OnMessage, onDisconnect OnDisconnect, log *zap.Logger) *Connection {
	return &Connection{
		peerID:       peerID,
		conn:         conn,
		direction:    direction,
		lr:           lr,
		onMessage:    onMessage,
		onDisconnect: onDisconnect,
		log:          log.Named("conn").With(zap.String("peer", peerID)),
	}
}

// PeerID returns the remote identity of this connection.
func (c *Connection) PeerID() string { return c.peerID }

// Direction returns which side dialed.
func (c *Connection) Direction() Direction { return c.direction }

// Serve runs the blocking receive loop until EOF, a socket error, or an
// explicit Stop(). It must be run in its own goroutine. on_disconnect
// fires exactly once, whichever of Serve's own exit or a concurrent
// Stop() gets there first.
func (c *Connection) Serve() {
	defer c.fireDisconnect()

	for {
		line, err := c.lr.ReadLine()
		if err != nil {
			if errors.Is(err, wire.ErrFrameTooLarge) {
				c.log.Error("oversize frame discarded")
				continue
			}
			return
		}
		msg, err := wire.Decode(line)
		if err != nil {
			c.log.Error("discarding malformed line", zap.Error(err))
			continue
		}
		c.onMessage(c.peerID, msg)
	}
}

// Send serializes and writes msg under the per-connection send mutex. It
// returns false on any encode or I/O error; the caller does not retry —
// the receive loop will observe a dead socket and the disconnect callback
// will fire.
func (c *Connection) Send(msg *wire.Message) bool {
	b, err := wire.Encode(msg)
	if err != nil {
		c.log.Error("refusing oversize outbound frame", zap.Error(err))
		return false
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if _, err := c.conn.Write(b); err != nil {
		c.log.Debug("write failed", zap.Error(err))
		return false
	}
	return true
}

// Stop closes the underlying socket, unblocking Serve's read and
// triggering the disconnect callback if it hasn't fired yet.
func (c *Connection) Stop() {
	c.conn.Close()
	c.fireDisconnect()
}

func (c *Connection) fireDisconnect() {
	c.disconnectOnce.Do(func() {
		c.conn.Close()
		c.onDisconnect(c.peerID)
	})
}
