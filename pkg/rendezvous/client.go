// Package rendezvous implements the stateless JSON-over-TCP client for the
// directory service: one short-lived connection per call, following the
// request/response shape in spec.md §4.2/§6.
package rendezvous

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/nspcc-dev/chatmesh/pkg/wire"
)

// CallTimeout bounds the dial of a single rendezvous call, and separately
// the write and read that follow it.
const CallTimeout = 10 * time.Second

// DefaultRegisterTTL is used by callers that don't have a more specific
// lease length in mind.
const DefaultRegisterTTL = 7200

// PeerAddr is one entry of a DISCOVER response.
type PeerAddr struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
}

// RegisterResult is the response to a REGISTER call.
type RegisterResult struct {
	Status string `json:"status"`
	IP     string `json:"ip"`
}

type registerRequest struct {
	Type      string `json:"type"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Port      int    `json:"port"`
	TTL       int    `json:"ttl"`
}

type discoverRequest struct {
	Type      string `json:"type"`
	Namespace string `json:"namespace,omitempty"`
}

type discoverResponse struct {
	Status string     `json:"status"`
	Peers  []PeerAddr `json:"peers"`
}

type unregisterRequest struct {
	Type      string `json:"type"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Port      int    `json:"port"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// Client talks to one rendezvous server. It is stateless and safe for
// concurrent use: every call opens its own connection.
type Client struct {
	addr string
	log  *zap.Logger
}

// NewClient builds a Client for the rendezvous server at host:port.
func NewClient(host string, port int, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		addr: net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		log:  log.Named("rendezvous"),
	}
}

// Register announces this node's namespace/name/port and returns the
// server-observed public IP (used for same-host detection, §4.8) along
// with the response status; other response fields are not kept.
func (c *Client) Register(namespace, name string, port, ttl int) (RegisterResult, error) {
	if ttl <= 0 {
		ttl = DefaultRegisterTTL
	}
	var resp RegisterResult
	err := c.call(registerRequest{
		Type:      "REGISTER",
		Namespace: namespace,
		Name:      name,
		Port:      port,
		TTL:       ttl,
	}, &resp)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("rendezvous: register: %w", err)
	}
	if resp.Status != "OK" {
		return RegisterResult{}, fmt.Errorf("rendezvous: register refused: status=%s", resp.Status)
	}
	return resp, nil
}

// Discover lists peers known to the directory, optionally scoped to a
// single namespace. An empty namespace lists every peer.
func (c *Client) Discover(namespace string) ([]PeerAddr, error) {
	var resp discoverResponse
	err := c.call(discoverRequest{Type: "DISCOVER", Namespace: namespace}, &resp)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: discover: %w", err)
	}
	if resp.Status != "OK" {
		return nil, fmt.Errorf("rendezvous: discover refused: status=%s", resp.Status)
	}
	return resp.Peers, nil
}

// Unregister removes this node's registration. It returns false (without
// an error) if the server explicitly reports a non-OK status.
func (c *Client) Unregister(namespace, name string, port int) (bool, error) {
	var resp statusResponse
	err := c.call(unregisterRequest{
		Type:      "UNREGISTER",
		Namespace: namespace,
		Name:      name,
		Port:      port,
	}, &resp)
	if err != nil {
		return false, fmt.Errorf("rendezvous: unregister: %w", err)
	}
	return resp.Status == "OK", nil
}

// call performs one dial-write-read-close cycle against the rendezvous
// server, encoding req and decoding the single response line into resp.
func (c *Client) call(req any, resp any) error {
	conn, err := net.DialTimeout("tcp", c.addr, CallTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(CallTimeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if len(body) > wire.MaxLineBytes {
		return wire.ErrFrameTooLarge
	}
	if _, err := conn.Write(append(body, '\n')); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	line, err := wire.NewLineReader(conn).ReadLine()
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(line, resp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
