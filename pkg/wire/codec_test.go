package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msgs := []*Message{
		Hello("alice@room1"),
		HelloOk("bob@room1"),
		Ping(),
		Pong("p1"),
		Send("alice@room1", "bob@room1", "hi", true),
		Ack("s1"),
		Pub("m1", "alice@room1", "#room1", "hello all"),
		Relay("carol@room1", "alice@room1", "ping", 3),
		Bye("alice@room1", "bob@room1", "Client shutting down"),
		ByeOk("bob@room1", "alice@room1"),
	}

	for _, m := range msgs {
		b, err := Encode(m)
		require.NoError(t, err)
		require.True(t, strings.HasSuffix(string(b), "\n"))

		got, err := Decode(b[:len(b)-1])
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
}

func TestDecodeLegacyPeerIDAlias(t *testing.T) {
	line := []byte(`{"type":"HELLO","msg_id":"m1","ttl":1,"peer_id":"alice@room1","version":"1.0"}`)
	m, err := Decode(line)
	require.NoError(t, err)
	require.Equal(t, "alice@room1", m.Src)

	// The alias only applies to HELLO/HELLO_OK.
	line = []byte(`{"type":"SEND","msg_id":"m1","ttl":1,"peer_id":"alice@room1"}`)
	m, err = Decode(line)
	require.NoError(t, err)
	require.Empty(t, m.Src)
}

func TestDecodeUnknownFieldsIgnored(t *testing.T) {
	line := []byte(`{"type":"PING","msg_id":"p1","ttl":1,"bogus_field":"whatever"}`)
	m, err := Decode(line)
	require.NoError(t, err)
	require.Equal(t, TypePing, m.Type)
}

func TestEncodeRejectsOversizeFrame(t *testing.T) {
	m := Send("a@ns", "b@ns", strings.Repeat("x", MaxLineBytes), true)
	_, err := Encode(m)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestLineReaderDiscardsOversizeLineWithoutClosing(t *testing.T) {
	oversized := strings.Repeat("y", MaxLineBytes*3) + "\n"
	good, err := Encode(Ping())
	require.NoError(t, err)

	r := strings.NewReader(oversized + string(good))
	lr := NewLineReader(r)

	_, err = lr.ReadLine()
	require.ErrorIs(t, err, ErrFrameTooLarge)

	line, err := lr.ReadLine()
	require.NoError(t, err)
	m, err := Decode(line)
	require.NoError(t, err)
	require.Equal(t, TypePing, m.Type)
}
