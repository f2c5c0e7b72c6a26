// Package wire implements the peer-to-peer and rendezvous line protocol:
// one JSON object per newline-terminated line, as described by the
// project's wire format.
package wire

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of a Message.
type Type string

// All message types exchanged between peers.
const (
	TypeHello   Type = "HELLO"
	TypeHelloOk Type = "HELLO_OK"
	TypePing    Type = "PING"
	TypePong    Type = "PONG"
	TypeSend    Type = "SEND"
	TypeAck     Type = "ACK"
	TypePub     Type = "PUB"
	TypeRelay   Type = "RELAY"
	TypeBye     Type = "BYE"
	TypeByeOk   Type = "BYE_OK"
)

// HelloVersion is the handshake version advertised by this implementation.
const HelloVersion = "1.0"

// HelloFeatures are the capability tags advertised during handshake.
var HelloFeatures = []string{"ack", "metrics"}

// DefaultRelayTTL is the hop budget a freshly originated RELAY carries.
const DefaultRelayTTL = 3

// Message is the union of every wire message. Fields not relevant to a
// given Type are left zero/omitted on encode, and are not required on
// decode.
type Message struct {
	Type  Type   `json:"type"`
	MsgID string `json:"msg_id"`
	TTL   int    `json:"ttl"`

	// HELLO / HELLO_OK
	Src      string   `json:"src,omitempty"`
	Version  string   `json:"version,omitempty"`
	Features []string `json:"features,omitempty"`

	// PeerID is a historical alias for Src, accepted on decode for
	// HELLO/HELLO_OK only.
	PeerID string `json:"peer_id,omitempty"`

	// PING / PONG
	Timestamp int64 `json:"timestamp,omitempty"`

	// SEND / PUB / RELAY
	Dst        string `json:"dst,omitempty"`
	Payload    string `json:"payload,omitempty"`
	RequireAck bool   `json:"require_ack,omitempty"`

	// BYE
	Reason string `json:"reason,omitempty"`
}

// NewMsgID returns a fresh, globally-unique message identifier.
func NewMsgID() string {
	return uuid.NewString()
}

// Hello builds an opening handshake message from the dialer.
func Hello(src string) *Message {
	return &Message{
		Type:     TypeHello,
		MsgID:    NewMsgID(),
		TTL:      1,
		Src:      src,
		Version:  HelloVersion,
		Features: HelloFeatures,
	}
}

// HelloOk builds a handshake acceptance message from the acceptor.
func HelloOk(src string) *Message {
	return &Message{
		Type:     TypeHelloOk,
		MsgID:    NewMsgID(),
		TTL:      1,
		Src:      src,
		Version:  HelloVersion,
		Features: HelloFeatures,
	}
}

// Ping builds a liveness probe; msg_id is echoed back in the PONG.
func Ping() *Message {
	return &Message{
		Type:      TypePing,
		MsgID:     NewMsgID(),
		TTL:       1,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Pong replies to a PING, echoing its msg_id.
func Pong(pingMsgID string) *Message {
	return &Message{
		Type:      TypePong,
		MsgID:     pingMsgID,
		TTL:       1,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Send builds a directed application message.
func Send(src, dst, payload string, requireAck bool) *Message {
	return &Message{
		Type:       TypeSend,
		MsgID:      NewMsgID(),
		TTL:        1,
		Src:        src,
		Dst:        dst,
		Payload:    payload,
		RequireAck: requireAck,
	}
}

// Ack acknowledges a received SEND.
func Ack(msgID string) *Message {
	return &Message{
		Type:  TypeAck,
		MsgID: msgID,
		TTL:   1,
	}
}

// Pub builds a fan-out application message. msgID is reused across the
// whole fan-out so all recipients see the same identifier.
func Pub(msgID, src, scope, payload string) *Message {
	return &Message{
		Type:    TypePub,
		MsgID:   msgID,
		TTL:     1,
		Src:     src,
		Dst:     scope,
		Payload: payload,
	}
}

// Relay builds a single/multi-hop indirect delivery message.
func Relay(src, dst, payload string, ttl int) *Message {
	return &Message{
		Type:    TypeRelay,
		MsgID:   NewMsgID(),
		TTL:     ttl,
		Src:     src,
		Dst:     dst,
		Payload: payload,
	}
}

// Bye builds a graceful shutdown notice.
func Bye(src, dst, reason string) *Message {
	return &Message{
		Type:   TypeBye,
		MsgID:  NewMsgID(),
		TTL:    1,
		Src:    src,
		Dst:    dst,
		Reason: reason,
	}
}

// ByeOk acknowledges a BYE.
func ByeOk(src, dst string) *Message {
	return &Message{
		Type:  TypeByeOk,
		MsgID: NewMsgID(),
		TTL:   1,
		Src:   src,
		Dst:   dst,
	}
}
