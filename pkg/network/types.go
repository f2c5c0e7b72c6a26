// Package network implements the peer-networking core: connection
// lifecycle, the peer table, keep-alive/RTT, the delivery router and the
// client core that ties them together. It is grounded on the teacher's
// pkg/network package (nspcc-dev/neo-go): a channel/callback-driven Server
// owning a peer map, a handshake-gated Peer, and a Discoverer/reconnect
// subsystem, generalized here to a JSON-line protocol and an
// explicit-PeerId identity model instead of a binary chain protocol.
package network

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// maxRTTSamples is the bounded history kept per peer (§3 invariant).
const maxRTTSamples = 10

// Direction records which side of a connection dialed.
type Direction string

// Connection directions.
const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status is a peer's place in the connection lifecycle state machine.
type Status string

// All valid peer statuses.
const (
	StatusUnknown      Status = "UNKNOWN"
	StatusConnecting   Status = "CONNECTING"
	StatusConnected    Status = "CONNECTED"
	StatusDisconnected Status = "DISCONNECTED"
	StatusStale        Status = "STALE"
)

// ErrInvalidPeerID is returned by ParsePeerID for a malformed identity.
var ErrInvalidPeerID = errors.New("network: invalid peer id")

// BuildPeerID joins a name and namespace into the canonical "name@namespace"
// identity.
func BuildPeerID(name, namespace string) string {
	return name + "@" + namespace
}

// ParsePeerID splits a PeerId into its name and namespace, validating that
// neither half is empty or itself contains '@'.
func ParsePeerID(id string) (name, namespace string, err error) {
	parts := strings.Split(id, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPeerID, id)
	}
	return parts[0], parts[1], nil
}

// PeerInfo is the catalog entry for one known peer (§3).
type PeerInfo struct {
	PeerID    string
	IP        string
	Port      int
	Namespace string
	Name      string
	Status    Status

	LastSeen time.Time

	ReconnectAttempts int
	// LastAttempt records when the reconnect scheduler last dialed this
	// peer, so backoff can gate the *next* attempt rather than retrying
	// on every scheduler tick (see DESIGN.md's Open Question resolution).
	LastAttempt time.Time

	rttSamples []float64
}

// RTTSamples returns a copy of the bounded RTT sample history, most recent
// last.
func (p PeerInfo) RTTSamples() []float64 {
	out := make([]float64, len(p.rttSamples))
	copy(out, p.rttSamples)
	return out
}

// AvgRTT returns the arithmetic mean of the RTT samples, or ok=false when
// no samples have been recorded yet.
func (p PeerInfo) AvgRTT() (avg float64, ok bool) {
	if len(p.rttSamples) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range p.rttSamples {
		sum += s
	}
	return sum / float64(len(p.rttSamples)), true
}

// addRTTSample appends ms, dropping the oldest sample once the history
// exceeds maxRTTSamples.
func (p *PeerInfo) addRTTSample(ms float64) {
	p.rttSamples = append(p.rttSamples, ms)
	if len(p.rttSamples) > maxRTTSamples {
		p.rttSamples = p.rttSamples[len(p.rttSamples)-maxRTTSamples:]
	}
}

// ConnectionInfo describes one live Peer Connection (§3).
type ConnectionInfo struct {
	PeerID      string
	Direction   Direction
	ConnectedAt time.Time
	LastPing    time.Time
	LastPong    time.Time
}
