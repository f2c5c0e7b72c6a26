package rendezvous

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeServer answers exactly one request per accepted connection with a
// canned JSON line, mirroring the real rendezvous protocol's one-shot
// request/response shape.
func fakeServer(t *testing.T, handle func(req map[string]any) any) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				line, err := bufio.NewReader(conn).ReadString('\n')
				if err != nil {
					return
				}
				var req map[string]any
				if err := json.Unmarshal([]byte(line), &req); err != nil {
					return
				}
				resp := handle(req)
				b, _ := json.Marshal(resp)
				conn.Write(append(b, '\n'))
			}()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func TestRegisterSuccess(t *testing.T) {
	host, port := fakeServer(t, func(req map[string]any) any {
		require.Equal(t, "REGISTER", req["type"])
		require.Equal(t, "room1", req["namespace"])
		return map[string]any{"status": "OK", "ip": "203.0.113.5"}
	})

	c := NewClient(host, port, zaptest.NewLogger(t))
	res, err := c.Register("room1", "alice", 7001, 0)
	require.NoError(t, err)
	require.Equal(t, "203.0.113.5", res.IP)
}

func TestRegisterRefused(t *testing.T) {
	host, port := fakeServer(t, func(req map[string]any) any {
		return map[string]any{"status": "ERROR"}
	})

	c := NewClient(host, port, zaptest.NewLogger(t))
	_, err := c.Register("room1", "alice", 7001, 0)
	require.Error(t, err)
}

func TestDiscoverReturnsPeerList(t *testing.T) {
	host, port := fakeServer(t, func(req map[string]any) any {
		require.Equal(t, "DISCOVER", req["type"])
		return map[string]any{
			"status": "OK",
			"peers": []map[string]any{
				{"name": "bob", "namespace": "room1", "ip": "203.0.113.6", "port": 7002},
			},
		}
	})

	c := NewClient(host, port, zaptest.NewLogger(t))
	peers, err := c.Discover("room1")
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.Equal(t, "bob", peers[0].Name)
	require.Equal(t, 7002, peers[0].Port)
}

func TestDiscoverEmpty(t *testing.T) {
	host, port := fakeServer(t, func(req map[string]any) any {
		return map[string]any{"status": "OK", "peers": []map[string]any{}}
	})

	c := NewClient(host, port, zaptest.NewLogger(t))
	peers, err := c.Discover("")
	require.NoError(t, err)
	require.Empty(t, peers)
}

func TestUnregister(t *testing.T) {
	host, port := fakeServer(t, func(req map[string]any) any {
		require.Equal(t, "UNREGISTER", req["type"])
		return map[string]any{"status": "OK"}
	})

	c := NewClient(host, port, zaptest.NewLogger(t))
	ok, err := c.Unregister("room1", "alice", 7001)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCallFailsWhenServerUnreachable(t *testing.T) {
	// A port nothing listens on.
	c := NewClient("127.0.0.1", freePort(t), zaptest.NewLogger(t))
	_, err := c.Discover("")
	require.Error(t, err)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}
