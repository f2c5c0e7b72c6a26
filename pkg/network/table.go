package network

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nspcc-dev/chatmesh/pkg/rendezvous"
)

// ReconnectTickInterval is how often the background reconnect scheduler
// wakes (§4.5).
const ReconnectTickInterval = 5 * time.Second

// ConnectFunc dials and handshakes a single peer, returning nil on
// success. It is expected to register the resulting Connection and call
// MarkConnected itself; the Table only needs to know whether to revert
// CONNECTING back to DISCONNECTED.
type ConnectFunc func(info PeerInfo) error

// Table is the catalog of known peers (§3/§4.5), grounded on the teacher's
// Discoverer (BackFill/RequestRemote/PoolCount in discovery_test.go),
// generalized from an address pool into the full PeerStatus state
// machine plus a backoff-gated reconnect scheduler.
//
// Go has no built-in re-entrant mutex; the teacher's own sync.RWMutex
// usage never calls back into a locked method while holding the lock, and
// Table follows the same discipline instead of emulating reentrancy.
type Table struct {
	mu    sync.RWMutex
	peers map[string]PeerInfo

	selfID         string
	maxAttempts    int
	backoffBase    int
	backoffMax     time.Duration
	connect        ConnectFunc
	log            *zap.Logger
}

// NewTable builds an empty Table for selfID (excluded from all operations).
func NewTable(selfID string, maxAttempts, backoffBase int, backoffMax time.Duration, connect ConnectFunc, log *zap.Logger) *Table {
	return &Table{
		peers:       make(map[string]PeerInfo),
		selfID:      selfID,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
		connect:     connect,
		log:         log.Named("table"),
	}
}

// Get returns a copy of the catalog entry for id.
func (t *Table) Get(id string) (PeerInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.peers[id]
	return info, ok
}

// Snapshot returns a copy of the full catalog.
func (t *Table) Snapshot() map[string]PeerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]PeerInfo, len(t.peers))
	for k, v := range t.peers {
		out[k] = v
	}
	return out
}

// ApplyDiscovery folds one DISCOVER batch into the catalog (§4.5).
func (t *Table) ApplyDiscovery(batch []rendezvous.PeerAddr) {
	seen := make(map[string]bool, len(batch))

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, addr := range batch {
		id := BuildPeerID(addr.Name, addr.Namespace)
		if id == t.selfID {
			continue
		}
		seen[id] = true

		info, ok := t.peers[id]
		if !ok {
			info = PeerInfo{PeerID: id, Status: StatusUnknown}
		}
		info.IP = addr.IP
		info.Port = addr.Port
		info.Namespace = addr.Namespace
		info.Name = addr.Name
		info.LastSeen = time.Now()

		switch info.Status {
		case StatusUnknown:
			info.Status = StatusDisconnected
		case StatusStale:
			info.Status = StatusDisconnected
			info.ReconnectAttempts = 0
			info.LastAttempt = time.Time{}
		}
		t.peers[id] = info
	}

	for id, info := range t.peers {
		if seen[id] {
			continue
		}
		if info.Status != StatusConnected {
			info.Status = StatusStale
			t.peers[id] = info
		}
	}
}

// MarkConnected transitions a peer to CONNECTED and resets its reconnect
// budget.
func (t *Table) MarkConnected(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.peers[id]
	if !ok {
		info = PeerInfo{PeerID: id}
	}
	info.Status = StatusConnected
	info.ReconnectAttempts = 0
	info.LastSeen = time.Now()
	t.peers[id] = info
}

// MarkDisconnected transitions a peer to DISCONNECTED, e.g. on socket
// loss.
func (t *Table) MarkDisconnected(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.peers[id]
	if !ok {
		return
	}
	info.Status = StatusDisconnected
	t.peers[id] = info
}

// UpsertUnknownInbound inserts a placeholder entry for an inbound peer
// that discovery hasn't reported yet (§9): ip="unknown", port=0. The
// caller still calls MarkConnected afterwards.
func (t *Table) UpsertUnknownInbound(id string) {
	name, namespace, err := ParsePeerID(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[id]; ok {
		return
	}
	info := PeerInfo{PeerID: id, IP: "unknown", Port: 0, Status: StatusDisconnected}
	if err == nil {
		info.Name, info.Namespace = name, namespace
	}
	t.peers[id] = info
}

// ForceReconnect resets ReconnectAttempts to 0 on every DISCONNECTED peer,
// so the next scheduler tick is free to redial immediately.
func (t *Table) ForceReconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, info := range t.peers {
		if info.Status == StatusDisconnected {
			info.ReconnectAttempts = 0
			info.LastAttempt = time.Time{}
			t.peers[id] = info
		}
	}
}

// AddRTTSample records an RTT sample for id, trimming to the most recent
// maxRTTSamples (§3).
func (t *Table) AddRTTSample(id string, ms float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.peers[id]
	if !ok {
		return
	}
	info.addRTTSample(ms)
	t.peers[id] = info
}

// backoffFor computes min(backoffBase^attempts, backoffMax) as in §4.5.
func (t *Table) backoffFor(attempts int) time.Duration {
	seconds := math.Pow(float64(t.backoffBase), float64(attempts))
	d := time.Duration(seconds * float64(time.Second))
	if d > t.backoffMax {
		return t.backoffMax
	}
	return d
}

// tick runs one reconnect-scheduler pass: every DISCONNECTED peer whose
// backoff has elapsed since its last attempt is promoted to CONNECTING and
// dialed in its own goroutine; peers that have exhausted their reconnect
// budget become STALE instead.
func (t *Table) tick() {
	now := time.Now()
	var toDial []PeerInfo

	t.mu.Lock()
	for id, info := range t.peers {
		if info.Status != StatusDisconnected {
			continue
		}
		if info.ReconnectAttempts >= t.maxAttempts {
			info.Status = StatusStale
			t.peers[id] = info
			continue
		}
		backoff := t.backoffFor(info.ReconnectAttempts)
		if !info.LastAttempt.IsZero() && now.Sub(info.LastAttempt) < backoff {
			continue
		}
		info.Status = StatusConnecting
		info.ReconnectAttempts++
		info.LastAttempt = now
		t.peers[id] = info
		toDial = append(toDial, info)
	}
	t.mu.Unlock()

	for _, info := range toDial {
		go t.attemptDial(info)
	}
}

func (t *Table) attemptDial(info PeerInfo) {
	if err := t.connect(info); err != nil {
		t.log.Warn("reconnect attempt failed", zap.String("peer", info.PeerID), zap.Error(err))
		t.mu.Lock()
		if cur, ok := t.peers[info.PeerID]; ok && cur.Status == StatusConnecting {
			cur.Status = StatusDisconnected
			t.peers[info.PeerID] = cur
		}
		t.mu.Unlock()
	}
}

// RunScheduler runs the reconnect ticker until stop is closed. The
// interval wait is a select on the ticker and stop, so shutdown is
// immediate rather than bounded by the tick period (§5).
func (t *Table) RunScheduler(stop <-chan struct{}) {
	ticker := time.NewTicker(ReconnectTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.tick()
		}
	}
}
