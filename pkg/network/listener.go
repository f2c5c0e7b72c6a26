package network

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nspcc-dev/chatmesh/pkg/wire"
)

// HandshakeTimeout bounds both the listener's server-side handshake and
// the dialer's client-side handshake (§4.4).
const HandshakeTimeout = 10 * time.Second

// OnInboundConnection hands a freshly handshaked inbound socket to the
// client core, which decides whether to accept or reject it. lr is the
// same *wire.LineReader the handshake read the HELLO line with, so any
// bytes buffered past that line are not lost (§4.3).
type OnInboundConnection func(peerID string, conn net.Conn, lr *wire.LineReader)

// Listener accepts inbound TCP connections and performs the server side of
// the HELLO/HELLO_OK handshake before handing sockets off, grounded on the
// teacher's transport.Accept loop plus per-connection handshake worker
// (other_examples' neo-go server.go forks).
type Listener struct {
	ln          net.Listener
	localPeerID string
	onConn      OnInboundConnection
	log         *zap.Logger

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewListener binds 0.0.0.0:port with address reuse semantics left to the
// platform default (Go's net package already sets SO_REUSEADDR) and a
// backlog chosen by the runtime (>= 10 is satisfied by Go's default).
func NewListener(port int, localPeerID string, onConn OnInboundConnection, log *zap.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("network: listen on port %d: %w", port, err)
	}
	return &Listener{
		ln:          ln,
		localPeerID: localPeerID,
		onConn:      onConn,
		log:         log.Named("listener"),
		quit:        make(chan struct{}),
	}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve runs the accept loop until Close is called or Accept fails, in
// which case the error is logged and the loop ends. It should be run in
// its own goroutine.
func (l *Listener) Serve() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.quit:
				return
			default:
				l.log.Error("accept failed", zap.Error(err))
				return
			}
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handshake(conn)
		}()
	}
}

// handshake performs the server side of §4.4: read HELLO, reply HELLO_OK,
// hand off. Any deviation closes the socket without handing it off.
func (l *Listener) handshake(conn net.Conn) {
	if err := conn.SetDeadline(time.Now().Add(HandshakeTimeout)); err != nil {
		conn.Close()
		return
	}

	lr := wire.NewLineReader(conn)
	line, err := lr.ReadLine()
	if err != nil {
		l.log.Debug("handshake read failed", zap.Error(err))
		conn.Close()
		return
	}
	msg, err := wire.Decode(line)
	if err != nil || msg.Type != wire.TypeHello || msg.Src == "" {
		l.log.Warn("rejecting connection: not a valid HELLO")
		conn.Close()
		return
	}
	remotePeerID := msg.Src

	ok := wire.HelloOk(l.localPeerID)
	b, err := wire.Encode(ok)
	if err != nil {
		conn.Close()
		return
	}
	if _, err := conn.Write(b); err != nil {
		l.log.Debug("handshake write failed", zap.Error(err))
		conn.Close()
		return
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return
	}
	l.onConn(remotePeerID, conn, lr)
}

// Close stops accepting new connections and waits for in-flight
// handshakes to finish.
func (l *Listener) Close() error {
	close(l.quit)
	err := l.ln.Close()
	l.wg.Wait()
	return err
}
