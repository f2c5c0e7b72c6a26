package network

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nspcc-dev/chatmesh/pkg/wire"
)

type fakeSend struct {
	mu  sync.Mutex
	out []*wire.Message
	to  []string
	ok  bool
}

func (f *fakeSend) send(peerID string, msg *wire.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.to = append(f.to, peerID)
	f.out = append(f.out, msg)
	return f.ok
}

func TestSendDirectTracksAndClearsAck(t *testing.T) {
	fs := &fakeSend{ok: true}
	r := NewRouter("alice@ns", 50*time.Millisecond, fs.send, func() []string { return []string{"bob@ns"} }, zaptest.NewLogger(t), nil)

	msgID, ok := r.SendDirect("bob@ns", "hi", true)
	require.True(t, ok)
	require.Equal(t, 1, r.PendingAckCount())

	r.HandleAck("bob@ns", msgID)
	require.Equal(t, 0, r.PendingAckCount())
}

func TestSendDirectRollsBackOnFailure(t *testing.T) {
	fs := &fakeSend{ok: false}
	r := NewRouter("alice@ns", time.Second, fs.send, func() []string { return nil }, zaptest.NewLogger(t), nil)

	_, ok := r.SendDirect("bob@ns", "hi", true)
	require.False(t, ok)
	require.Equal(t, 0, r.PendingAckCount())
}

func TestAckTimeoutWatcherDropsStaleEntries(t *testing.T) {
	fs := &fakeSend{ok: true}
	r := NewRouter("alice@ns", 20*time.Millisecond, fs.send, func() []string { return nil }, zaptest.NewLogger(t), nil)
	r.SendDirect("bob@ns", "hi", true)
	require.Equal(t, 1, r.PendingAckCount())

	stop := make(chan struct{})
	go r.RunAckTimeoutWatcher(stop)
	defer close(stop)

	require.Eventually(t, func() bool {
		return r.PendingAckCount() == 0
	}, 2*AckTickInterval, 5*time.Millisecond)
}

func TestPurgePeerDropsPendingAcksForThatPeerOnly(t *testing.T) {
	fs := &fakeSend{ok: true}
	r := NewRouter("alice@ns", time.Second, fs.send, func() []string { return nil }, zaptest.NewLogger(t), nil)
	r.SendDirect("bob@ns", "a", true)
	r.SendDirect("carol@ns", "b", true)
	require.Equal(t, 2, r.PendingAckCount())

	r.PurgePeer("bob@ns")
	require.Equal(t, 1, r.PendingAckCount())
}

func TestPublishFansOutToScope(t *testing.T) {
	fs := &fakeSend{ok: true}
	r := NewRouter("alice@ns", time.Second, fs.send,
		func() []string { return []string{"bob@ns", "carol@other", "dave@ns"} },
		zaptest.NewLogger(t), nil)

	count := r.Publish("#ns", "hey")
	require.Equal(t, 2, count)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.ElementsMatch(t, []string{"bob@ns", "dave@ns"}, fs.to)
	require.Equal(t, fs.out[0].MsgID, fs.out[1].MsgID)
}

func TestPublishWildcardReachesEveryone(t *testing.T) {
	fs := &fakeSend{ok: true}
	r := NewRouter("alice@ns", time.Second, fs.send,
		func() []string { return []string{"bob@ns", "carol@other"} },
		zaptest.NewLogger(t), nil)

	count := r.Publish("*", "hey")
	require.Equal(t, 2, count)
}

func TestSendViaRelayPicksAnyOtherConnectedPeer(t *testing.T) {
	fs := &fakeSend{ok: true}
	r := NewRouter("alice@ns", time.Second, fs.send,
		func() []string { return []string{"carol@ns", "dave@ns"} },
		zaptest.NewLogger(t), nil)

	ok := r.SendViaRelay("dave@ns", "hi")
	require.True(t, ok)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Equal(t, []string{"carol@ns"}, fs.to)
	require.Equal(t, wire.TypeRelay, fs.out[0].Type)
	require.Equal(t, wire.DefaultRelayTTL, fs.out[0].TTL)
}

func TestSendViaRelayFailsWithNoCandidate(t *testing.T) {
	fs := &fakeSend{ok: true}
	r := NewRouter("alice@ns", time.Second, fs.send, func() []string { return nil }, zaptest.NewLogger(t), nil)
	require.False(t, r.SendViaRelay("dave@ns", "hi"))
}

func TestHandleRelayDropsWhenTTLExhausted(t *testing.T) {
	fs := &fakeSend{ok: true}
	r := NewRouter("alice@ns", time.Second, fs.send, func() []string { return []string{"dave@ns"} }, zaptest.NewLogger(t), nil)

	msg := wire.Relay("carol@ns", "dave@ns", "hi", 0)
	r.HandleRelay("carol@ns", msg)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Empty(t, fs.out)
}

func TestHandleRelayForwardsDirectlyWhenDstConnected(t *testing.T) {
	fs := &fakeSend{ok: true}
	r := NewRouter("alice@ns", time.Second, fs.send, func() []string { return []string{"dave@ns", "carol@ns"} }, zaptest.NewLogger(t), nil)

	msg := wire.Relay("carol@ns", "dave@ns", "hi", 2)
	r.HandleRelay("carol@ns", msg)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Equal(t, []string{"dave@ns"}, fs.to)
	require.Equal(t, 1, fs.out[0].TTL)
}

func TestHandleRelayForwardsToAnotherCandidateWhenDstNotConnected(t *testing.T) {
	fs := &fakeSend{ok: true}
	r := NewRouter("alice@ns", time.Second, fs.send, func() []string { return []string{"erin@ns"} }, zaptest.NewLogger(t), nil)

	msg := wire.Relay("carol@ns", "dave@ns", "hi", 2)
	r.HandleRelay("carol@ns", msg)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Equal(t, []string{"erin@ns"}, fs.to)
}

func TestHandleRelayDropsWithNoForwardingCandidate(t *testing.T) {
	fs := &fakeSend{ok: true}
	r := NewRouter("alice@ns", time.Second, fs.send, func() []string { return []string{"carol@ns"} }, zaptest.NewLogger(t), nil)

	// Only candidate is the sender itself: nothing left to forward to.
	msg := wire.Relay("carol@ns", "dave@ns", "hi", 2)
	r.HandleRelay("carol@ns", msg)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Empty(t, fs.out)
}
