package network

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nspcc-dev/chatmesh/pkg/wire"
)

func TestConnectionServeDeliversMessagesAndDisconnectsOnce(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	var (
		mu          sync.Mutex
		received    []*wire.Message
		disconnects int
	)

	c := NewConnection("alice@ns", server, DirectionInbound, wire.NewLineReader(server),
		func(peerID string, msg *wire.Message) {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, msg)
		},
		func(peerID string) {
			mu.Lock()
			defer mu.Unlock()
			disconnects++
		},
		zaptest.NewLogger(t),
	)

	done := make(chan struct{})
	go func() {
		c.Serve()
		close(done)
	}()

	b, err := wire.Encode(wire.Ping())
	require.NoError(t, err)
	_, err = client.Write(b)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)

	client.Close()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, disconnects)
}

func TestConnectionStopTriggersDisconnectExactlyOnce(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	var disconnects int
	var mu sync.Mutex

	c := NewConnection("bob@ns", server, DirectionOutbound, wire.NewLineReader(server),
		func(string, *wire.Message) {},
		func(string) {
			mu.Lock()
			defer mu.Unlock()
			disconnects++
		},
		zaptest.NewLogger(t),
	)

	done := make(chan struct{})
	go func() {
		c.Serve()
		close(done)
	}()

	c.Stop()
	<-done
	c.Stop() // idempotent

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, disconnects)
}

func TestConnectionSendSerializesFrames(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := NewConnection("bob@ns", server, DirectionOutbound, wire.NewLineReader(server),
		func(string, *wire.Message) {},
		func(string) {},
		zaptest.NewLogger(t),
	)

	readDone := make(chan []*wire.Message, 1)
	go func() {
		lr := wire.NewLineReader(client)
		var got []*wire.Message
		for i := 0; i < 2; i++ {
			line, err := lr.ReadLine()
			if err != nil {
				break
			}
			m, err := wire.Decode(line)
			if err == nil {
				got = append(got, m)
			}
		}
		readDone <- got
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); require.True(t, c.Send(wire.Ping())) }()
	go func() { defer wg.Done(); require.True(t, c.Send(wire.Ack("m1"))) }()
	wg.Wait()

	got := <-readDone
	require.Len(t, got, 2)
}
