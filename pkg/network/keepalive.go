package network

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nspcc-dev/chatmesh/pkg/metrics"
	"github.com/nspcc-dev/chatmesh/pkg/wire"
)

// SendFunc dispatches msg to peerID's connection, returning false if no
// such connection exists or the write failed.
type SendFunc func(peerID string, msg *wire.Message) bool

// ConnectedPeersFunc returns the PeerIds currently in the connection map.
type ConnectedPeersFunc func() []string

type pingKey struct {
	peerID string
	msgID  string
}

// KeepAlive pings every active peer on a fixed interval and turns matching
// PONGs into RTT samples (§4.6). It is grounded on the teacher's
// ProtoTickInterval ticker in Server.startProtocol (server.go),
// generalized from chain-sync polling to a pure liveness probe.
type KeepAlive struct {
	mu      sync.Mutex
	pending map[pingKey]time.Time

	interval       time.Duration
	sendTo         SendFunc
	connectedPeers ConnectedPeersFunc
	recordRTT      func(peerID string, ms float64)

	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewKeepAlive builds a KeepAlive. m may be nil to disable metrics.
func NewKeepAlive(interval time.Duration, sendTo SendFunc, connectedPeers ConnectedPeersFunc, recordRTT func(string, float64), log *zap.Logger, m *metrics.Metrics) *KeepAlive {
	return &KeepAlive{
		pending:        make(map[pingKey]time.Time),
		interval:       interval,
		sendTo:         sendTo,
		connectedPeers: connectedPeers,
		recordRTT:      recordRTT,
		log:            log.Named("keepalive"),
		metrics:        m,
	}
}

// Tick sends one PING to every currently connected peer.
func (k *KeepAlive) Tick() {
	for _, id := range k.connectedPeers() {
		ping := wire.Ping()
		key := pingKey{id, ping.MsgID}

		k.mu.Lock()
		k.pending[key] = time.Now()
		k.mu.Unlock()

		if !k.sendTo(id, ping) {
			k.mu.Lock()
			delete(k.pending, key)
			k.mu.Unlock()
		}
	}
}

// HandlePong matches a received PONG against the pending table and records
// an RTT sample on a hit. Unknown (peerID, msgID) pairs are ignored.
func (k *KeepAlive) HandlePong(peerID, msgID string) {
	key := pingKey{peerID, msgID}

	k.mu.Lock()
	sentAt, ok := k.pending[key]
	if ok {
		delete(k.pending, key)
	}
	k.mu.Unlock()

	if !ok {
		return
	}
	rttMs := float64(time.Since(sentAt).Microseconds()) / 1000.0
	k.recordRTT(peerID, rttMs)
	if k.metrics != nil {
		k.metrics.RTT.Observe(rttMs)
	}
}

// PurgePeer drops every pending PING for peerID, e.g. on disconnect.
func (k *KeepAlive) PurgePeer(peerID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key := range k.pending {
		if key.peerID == peerID {
			delete(k.pending, key)
		}
	}
}

// Run ticks every interval until stop is closed.
func (k *KeepAlive) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			k.Tick()
		}
	}
}
