package network

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nspcc-dev/chatmesh/pkg/config"
	"github.com/nspcc-dev/chatmesh/pkg/metrics"
	"github.com/nspcc-dev/chatmesh/pkg/rendezvous"
	"github.com/nspcc-dev/chatmesh/pkg/wire"
)

// Observer receives application-level events surfaced by the dispatcher:
// incoming SEND/PUB/RELAY payloads. The core does not prescribe how a
// driving program collects these (§6).
type Observer interface {
	OnMessageReceived(peerID, payload string)
	OnPublishReceived(peerID, scope, payload string)
}

// Client is the process-wide orchestrator: it owns the local identity, the
// connection map and the connecting_peers dial guard, and wires the
// Table/KeepAlive/Router/Listener together exactly as described by the
// project's callback-cycle design note (§9). It is grounded on the
// teacher's Server (pkg/network/server_test.go): a struct owning a peer
// map behind one mutex, background tickers started in Start and stopped
// in Shutdown, generalized from the chain-sync protocol to the PING/SEND/
// PUB/RELAY/BYE dispatch table of §4.8.
type Client struct {
	cfg      *config.Config
	localID  string
	observer Observer
	log      *zap.Logger
	metrics  *metrics.Metrics

	rendezvous *rendezvous.Client
	publicIP   string

	table     *Table
	keepAlive *KeepAlive
	router    *Router
	listener  *Listener

	connMu          sync.Mutex
	conns           map[string]*Connection
	connInfo        map[string]ConnectionInfo
	connectingPeers map[string]bool

	stop     chan struct{}
	stopOnce sync.Once
	// wg tracks the listener accept loop, the keep-alive loop and the
	// discovery loop, joined with a deadline at shutdown step 3. Per-connection Serve loops are
	// tracked separately in connWG since they only exit once BYE/Stop has
	// been sent (shutdown steps 4-6), well after wg is joined.
	wg     sync.WaitGroup
	connWG sync.WaitGroup
}

// New builds a Client wired per cfg. It does not dial or listen yet; call
// Start for that.
func New(cfg *config.Config, observer Observer, log *zap.Logger, m *metrics.Metrics) *Client {
	localID := cfg.Peer.PeerID()
	c := &Client{
		cfg:             cfg,
		localID:         localID,
		observer:        observer,
		log:             log.Named("client").With(zap.String("self", localID)),
		metrics:         m,
		rendezvous:      rendezvous.NewClient(cfg.Rendezvous.Host, cfg.Rendezvous.Port, log),
		conns:           make(map[string]*Connection),
		connInfo:        make(map[string]ConnectionInfo),
		connectingPeers: make(map[string]bool),
		stop:            make(chan struct{}),
	}

	c.table = NewTable(localID, cfg.Connection.MaxReconnectAttempts, cfg.Connection.ReconnectBackoffBase,
		cfg.Connection.ReconnectBackoffMax(), c.connectForTable, log)
	c.keepAlive = NewKeepAlive(cfg.Connection.PingInterval(), c.sendTo, c.ConnectedPeers, c.recordRTT, log, m)
	c.router = NewRouter(localID, cfg.Connection.AckTimeout(), c.sendTo, c.ConnectedPeers, log, m)

	return c
}

// Start registers with the rendezvous server (fatal on failure, §7), then
// brings up the listener and every background loop.
func (c *Client) Start() error {
	res, err := c.rendezvous.Register(c.cfg.Peer.Namespace, c.cfg.Peer.Name, c.cfg.Peer.Port, 0)
	if err != nil {
		return fmt.Errorf("network: fatal: rendezvous registration failed: %w", err)
	}
	c.publicIP = res.IP
	c.log.Info("registered with rendezvous", zap.String("public_ip", c.publicIP))

	ln, err := NewListener(c.cfg.Peer.Port, c.localID, c.onConnection, c.log)
	if err != nil {
		return fmt.Errorf("network: fatal: %w", err)
	}
	c.listener = ln

	c.wg.Add(1)
	go func() { defer c.wg.Done(); c.listener.Serve() }()

	go c.table.RunScheduler(c.stop)
	c.wg.Add(1)
	go func() { defer c.wg.Done(); c.keepAlive.Run(c.stop) }()
	go c.router.RunAckTimeoutWatcher(c.stop)

	c.wg.Add(1)
	go func() { defer c.wg.Done(); c.runDiscoveryLoop() }()

	return nil
}

func (c *Client) runDiscoveryLoop() {
	c.runDiscoveryOnce()
	ticker := time.NewTicker(c.cfg.Connection.DiscoveryInterval())
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.runDiscoveryOnce()
		}
	}
}

func (c *Client) runDiscoveryOnce() {
	peers, err := c.rendezvous.Discover(c.cfg.Peer.Namespace)
	if err != nil {
		c.log.Warn("discovery failed, retrying next tick", zap.Error(err))
		return
	}
	c.table.ApplyDiscovery(peers)
}

// ConnectedPeers lists the PeerIds currently in the connection map.
func (c *Client) ConnectedPeers() []string {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	out := make([]string, 0, len(c.conns))
	for id := range c.conns {
		out = append(out, id)
	}
	return out
}

// PeerSnapshot is one entry of Client.Snapshot(): the table's PeerInfo
// plus the live ConnectionInfo (direction/age) when a connection is
// currently established.
type PeerSnapshot struct {
	PeerInfo
	Connected   bool
	Direction   Direction
	ConnectedAt time.Time
}

// Snapshot returns a copy of every known PeerInfo plus connection
// direction/age where applicable, for an external driver's `peers`/`conn`
// commands (§6).
func (c *Client) Snapshot() map[string]PeerSnapshot {
	infos := c.table.Snapshot()

	c.connMu.Lock()
	connInfo := make(map[string]ConnectionInfo, len(c.connInfo))
	for id, ci := range c.connInfo {
		connInfo[id] = ci
	}
	c.connMu.Unlock()

	out := make(map[string]PeerSnapshot, len(infos))
	for id, info := range infos {
		snap := PeerSnapshot{PeerInfo: info}
		if ci, ok := connInfo[id]; ok {
			snap.Connected = true
			snap.Direction = ci.Direction
			snap.ConnectedAt = ci.ConnectedAt
		}
		out[id] = snap
	}
	return out
}

// RTTReport summarizes average RTT for every known peer that has at least
// one RTT sample, connected or not, for the `rtt()` command (§6).
func (c *Client) RTTReport() map[string]float64 {
	out := make(map[string]float64)
	for id, info := range c.table.Snapshot() {
		if avg, ok := info.AvgRTT(); ok {
			out[id] = avg
		}
	}
	return out
}

// Reconnect exposes the Table's force_reconnect to an external driver
// (§6's `reconnect()` command).
func (c *Client) Reconnect() {
	c.table.ForceReconnect()
}

// SendDirect delivers an application message to dst, via Router.
func (c *Client) SendDirect(dst, payload string, requireAck bool) (string, bool) {
	return c.router.SendDirect(dst, payload, requireAck)
}

// Publish fans an application message out to scope, via Router.
func (c *Client) Publish(scope, payload string) int {
	return c.router.Publish(scope, payload)
}

// SendViaRelay routes an application message to dst through an
// intermediate peer, via Router.
func (c *Client) SendViaRelay(dst, payload string) bool {
	return c.router.SendViaRelay(dst, payload)
}

// connectForTable is the Table's ConnectFunc: it dials, handshakes and
// registers a peer discovered by the reconnect scheduler.
func (c *Client) connectForTable(info PeerInfo) error {
	return c.DialPeer(info.PeerID, info.IP, info.Port)
}

// DialPeer implements the dial guard, same-host rewrite and dialer side of
// the handshake (§4.8/§4.4). On success it registers the connection and
// marks the peer CONNECTED.
func (c *Client) DialPeer(peerID, ip string, port int) error {
	c.connMu.Lock()
	if c.conns[peerID] != nil || c.connectingPeers[peerID] {
		c.connMu.Unlock()
		return nil
	}
	c.connectingPeers[peerID] = true
	c.connMu.Unlock()

	defer func() {
		c.connMu.Lock()
		delete(c.connectingPeers, peerID)
		c.connMu.Unlock()
	}()

	dialIP := ip
	if c.publicIP != "" && ip == c.publicIP {
		dialIP = "127.0.0.1"
	}
	addr := net.JoinHostPort(dialIP, fmt.Sprintf("%d", port))

	conn, err := net.DialTimeout("tcp", addr, HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(HandshakeTimeout)); err != nil {
		conn.Close()
		return err
	}

	hello := wire.Hello(c.localID)
	b, err := wire.Encode(hello)
	if err != nil {
		conn.Close()
		return err
	}
	if _, err := conn.Write(b); err != nil {
		conn.Close()
		return fmt.Errorf("write hello: %w", err)
	}

	lr := wire.NewLineReader(conn)
	line, err := lr.ReadLine()
	if err != nil {
		conn.Close()
		return fmt.Errorf("read hello_ok: %w", err)
	}
	msg, err := wire.Decode(line)
	if err != nil || msg.Type != wire.TypeHelloOk {
		conn.Close()
		return fmt.Errorf("unexpected handshake reply from %s", addr)
	}
	remotePeerID := msg.Src
	if remotePeerID == "" {
		remotePeerID = msg.PeerID
	}
	if remotePeerID != peerID {
		conn.Close()
		return fmt.Errorf("handshake identity mismatch: expected %s, got %s", peerID, remotePeerID)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return err
	}

	if !c.registerConnection(peerID, conn, DirectionOutbound, lr) {
		conn.Close()
		return fmt.Errorf("connection to %s already exists", peerID)
	}
	return nil
}

// onConnection is the Listener's OnInboundConnection callback (§4.4 step
// 5). Collision policy: a new inbound is rejected if a connection for
// peerID already exists (§4.4).
func (c *Client) onConnection(peerID string, conn net.Conn, lr *wire.LineReader) {
	// Seed the table placeholder entry (§9: ip="unknown", port=0) before
	// MarkConnected runs inside registerConnection, since UpsertUnknownInbound
	// is a no-op once an entry already exists.
	c.table.UpsertUnknownInbound(peerID)

	if !c.registerConnection(peerID, conn, DirectionInbound, lr) {
		c.log.Warn("rejecting duplicate inbound connection", zap.String("peer", peerID))
		conn.Close()
		return
	}
}

// registerConnection installs a handshaked socket into the connection map
// under the single connection lock, returning false if peerID is already
// registered.
func (c *Client) registerConnection(peerID string, conn net.Conn, dir Direction, lr *wire.LineReader) bool {
	c.connMu.Lock()
	if c.conns[peerID] != nil {
		c.connMu.Unlock()
		return false
	}
	pc := NewConnection(peerID, conn, dir, lr, c.dispatch, c.handleDisconnect, c.log)
	c.conns[peerID] = pc
	c.connInfo[peerID] = ConnectionInfo{PeerID: peerID, Direction: dir, ConnectedAt: time.Now()}
	n := len(c.conns)
	c.connMu.Unlock()

	if c.metrics != nil {
		c.metrics.PeersConnected.Set(float64(n))
	}
	c.table.MarkConnected(peerID)

	c.connWG.Add(1)
	go func() { defer c.connWG.Done(); pc.Serve() }()
	return true
}

// sendTo is the SendFunc handed to KeepAlive and Router.
func (c *Client) sendTo(peerID string, msg *wire.Message) bool {
	c.connMu.Lock()
	pc := c.conns[peerID]
	c.connMu.Unlock()
	if pc == nil {
		return false
	}
	ok := pc.Send(msg)
	if ok && c.metrics != nil {
		c.metrics.MessagesTotal.WithLabelValues(string(msg.Type), "outbound").Inc()
	}
	return ok
}

func (c *Client) recordRTT(peerID string, ms float64) {
	c.table.AddRTTSample(peerID, ms)
}

// handleDisconnect is every Connection's OnDisconnect callback (fires
// exactly once per connection, per §4.3).
func (c *Client) handleDisconnect(peerID string) {
	c.connMu.Lock()
	delete(c.conns, peerID)
	delete(c.connInfo, peerID)
	n := len(c.conns)
	c.connMu.Unlock()

	if c.metrics != nil {
		c.metrics.PeersConnected.Set(float64(n))
	}
	c.table.MarkDisconnected(peerID)
	c.router.PurgePeer(peerID)
	c.keepAlive.PurgePeer(peerID)
}

// dispatch implements §4.8's full message switch. It is invoked
// synchronously from a Connection's single receive thread.
func (c *Client) dispatch(peerID string, msg *wire.Message) {
	if c.metrics != nil {
		c.metrics.MessagesTotal.WithLabelValues(string(msg.Type), "inbound").Inc()
	}
	switch msg.Type {
	case wire.TypePing:
		c.sendTo(peerID, wire.Pong(msg.MsgID))

	case wire.TypePong:
		c.keepAlive.HandlePong(peerID, msg.MsgID)

	case wire.TypeSend:
		if c.observer != nil {
			c.observer.OnMessageReceived(peerID, msg.Payload)
		}
		if msg.RequireAck {
			c.sendTo(peerID, wire.Ack(msg.MsgID))
		}

	case wire.TypePub:
		if c.observer != nil {
			c.observer.OnPublishReceived(peerID, msg.Dst, msg.Payload)
		}

	case wire.TypeAck:
		c.router.HandleAck(peerID, msg.MsgID)

	case wire.TypeBye:
		c.sendTo(peerID, wire.ByeOk(c.localID, peerID))
		c.connMu.Lock()
		pc := c.conns[peerID]
		c.connMu.Unlock()
		if pc != nil {
			pc.Stop()
		}

	case wire.TypeByeOk:
		c.log.Debug("received bye_ok", zap.String("peer", peerID))

	case wire.TypeRelay:
		if msg.Dst == c.localID {
			if c.observer != nil {
				c.observer.OnMessageReceived(msg.Src, msg.Payload)
			}
			return
		}
		c.router.HandleRelay(peerID, msg)

	default:
		c.log.Warn("dropping message of unknown type", zap.String("type", string(msg.Type)))
	}
}

// Shutdown runs the strict seven-step teardown sequence of §4.8.
func (c *Client) Shutdown() {
	c.stopOnce.Do(func() {
		// 1 & 2: signal background loops (scheduler, keep-alive, router
		// watcher, discovery) to stop; 3: join the listener, keep-alive and
		// discovery loops with a bound.
		close(c.stop)
		if c.listener != nil {
			c.listener.Close()
		}

		joined := make(chan struct{})
		go func() { c.wg.Wait(); close(joined) }()
		select {
		case <-joined:
		case <-time.After(2 * time.Second):
			c.log.Warn("background loops did not join within deadline")
		}

		// 4: BYE every active connection.
		c.connMu.Lock()
		peers := make([]*Connection, 0, len(c.conns))
		for _, pc := range c.conns {
			peers = append(peers, pc)
		}
		c.connMu.Unlock()

		for _, pc := range peers {
			pc.Send(wire.Bye(c.localID, pc.PeerID(), "Client shutting down"))
		}

		// 5: drain window for BYE_OK.
		time.Sleep(500 * time.Millisecond)

		// 6: close every connection.
		for _, pc := range peers {
			pc.Stop()
		}
		c.connWG.Wait()

		// 7: unregister from rendezvous.
		if _, err := c.rendezvous.Unregister(c.cfg.Peer.Namespace, c.cfg.Peer.Name, c.cfg.Peer.Port); err != nil {
			c.log.Warn("rendezvous unregister failed", zap.Error(err))
		}
	})
}
