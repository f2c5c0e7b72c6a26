package network

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nspcc-dev/chatmesh/pkg/metrics"
	"github.com/nspcc-dev/chatmesh/pkg/wire"
)

// AckTickInterval is how often the ACK timeout watcher sweeps the pending
// table (§4.7).
const AckTickInterval = time.Second

type ackKey struct {
	dst   string
	msgID string
}

// Router implements direct send with ACK tracking, publish fan-out and
// single-hop relay (§4.7). It is grounded on the teacher's CMD* dispatch
// switch in Server.processProto (server.go), generalized from a chain
// protocol's inv/getdata/headers exchange to SEND/ACK/PUB/RELAY. Per the
// project's callback-cycle design note (§9), it holds plain function
// references to the client core rather than a back-reference to it.
type Router struct {
	mu         sync.Mutex
	pendingAck map[ackKey]time.Time

	localID        string
	ackTimeout     time.Duration
	sendTo         SendFunc
	connectedPeers ConnectedPeersFunc

	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewRouter builds a Router. m may be nil to disable metrics.
func NewRouter(localID string, ackTimeout time.Duration, sendTo SendFunc, connectedPeers ConnectedPeersFunc, log *zap.Logger, m *metrics.Metrics) *Router {
	return &Router{
		pendingAck:     make(map[ackKey]time.Time),
		localID:        localID,
		ackTimeout:     ackTimeout,
		sendTo:         sendTo,
		connectedPeers: connectedPeers,
		log:            log.Named("router"),
		metrics:        m,
	}
}

// SendDirect builds and dispatches a SEND to dst, tracking it for ACK if
// requireAck is set. It returns the allocated msg_id and whether dispatch
// succeeded; on dispatch failure any pending-ACK entry is rolled back.
func (r *Router) SendDirect(dst, payload string, requireAck bool) (msgID string, ok bool) {
	msg := wire.Send(r.localID, dst, payload, requireAck)

	if requireAck {
		r.mu.Lock()
		r.pendingAck[ackKey{dst, msg.MsgID}] = time.Now()
		r.mu.Unlock()
	}

	ok = r.sendTo(dst, msg)
	if !ok && requireAck {
		r.mu.Lock()
		delete(r.pendingAck, ackKey{dst, msg.MsgID})
		r.mu.Unlock()
	}
	return msg.MsgID, ok
}

// HandleAck removes a pending-ACK entry once the matching ACK arrives.
func (r *Router) HandleAck(from, msgID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pendingAck, ackKey{from, msgID})
}

// PendingAckCount reports how many ACKs are currently outstanding, for
// tests and introspection.
func (r *Router) PendingAckCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pendingAck)
}

// PurgePeer drops every pending-ACK entry addressed to peerID, e.g. on
// disconnect.
func (r *Router) PurgePeer(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.pendingAck {
		if k.dst == peerID {
			delete(r.pendingAck, k)
		}
	}
}

// RunAckTimeoutWatcher drops pending-ACK entries older than ackTimeout
// once a second, until stop is closed.
func (r *Router) RunAckTimeoutWatcher(stop <-chan struct{}) {
	ticker := time.NewTicker(AckTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.sweepExpiredAcks()
		}
	}
}

func (r *Router) sweepExpiredAcks() {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, sentAt := range r.pendingAck {
		if now.Sub(sentAt) >= r.ackTimeout {
			delete(r.pendingAck, k)
			r.log.Warn("ack timeout", zap.String("peer", k.dst), zap.String("msg_id", k.msgID))
		}
	}
}

// Publish fans payload out to every connection matching scope ("*" for
// all, "#<namespace>" for one namespace), reusing a single msg_id across
// the whole fan-out. It returns the number of peers dispatch succeeded
// for.
func (r *Router) Publish(scope, payload string) int {
	msgID := wire.NewMsgID()
	count := 0
	for _, id := range r.scopeTargets(scope) {
		if r.sendTo(id, wire.Pub(msgID, r.localID, scope, payload)) {
			count++
		}
	}
	return count
}

func (r *Router) scopeTargets(scope string) []string {
	all := r.connectedPeers()
	if scope == "*" {
		return all
	}
	ns, isNamespace := strings.CutPrefix(scope, "#")
	if !isNamespace {
		return nil
	}
	suffix := "@" + ns
	var out []string
	for _, id := range all {
		if strings.HasSuffix(id, suffix) {
			out = append(out, id)
		}
	}
	return out
}

// SendViaRelay picks any connected peer other than dst as an intermediate
// and forwards a freshly-originated RELAY through it (§4.7). It returns
// false, having logged a warning, when no candidate exists.
func (r *Router) SendViaRelay(dst, payload string) bool {
	for _, id := range r.connectedPeers() {
		if id == dst {
			continue
		}
		if r.sendTo(id, wire.Relay(r.localID, dst, payload, wire.DefaultRelayTTL)) {
			return true
		}
	}
	r.log.Warn("relay unreachable: no candidate peer", zap.String("dst", dst))
	return false
}

// HandleRelay processes a RELAY arriving from fromPeer and not addressed
// to the local node (the caller is expected to have already handled the
// dst == self case). It drops the message when ttl <= 0, otherwise
// decrements ttl, then forwards directly if dst is connected, otherwise picks any other candidate, and
// drops with a warning if none exists. Loop prevention relies solely on
// ttl; no seen-set is kept (§4.7/§9).
func (r *Router) HandleRelay(fromPeer string, msg *wire.Message) {
	if msg.TTL <= 0 {
		r.log.Warn("dropping relay: ttl exhausted", zap.String("msg_id", msg.MsgID), zap.String("dst", msg.Dst))
		return
	}
	msg.TTL--

	all := r.connectedPeers()
	for _, id := range all {
		if id == msg.Dst {
			r.sendTo(id, msg)
			return
		}
	}
	for _, id := range all {
		if id == fromPeer || id == msg.Dst {
			continue
		}
		r.sendTo(id, msg)
		return
	}
	r.log.Warn("dropping relay: no forwarding candidate", zap.String("dst", msg.Dst))
}
