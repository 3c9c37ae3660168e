package ipservice

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/xid"
)

// clientDialTimeout bounds how long a Bind waits for the broker's response.
const clientDialTimeout = 500 * time.Millisecond

// Client is the IPC-socket counterpart applications use to talk to a
// Broker: bind a (protocol, addr[, port]) slice of the demux space, push
// outbound datagrams, and receive inbound ones addressed to that binding.
type Client struct {
	conn       *net.UnixConn
	sockPath   string
	brokerAddr *net.UnixAddr
}

// Dial connects to a running Broker's IPC socket at brokerPath, binding an
// ephemeral client socket of its own under os.TempDir so the broker has
// somewhere to reply.
func Dial(brokerPath string) (*Client, error) {
	sockPath := fmt.Sprintf("%s/athernet-ipc-%s.sock", os.TempDir(), xid.New().String())
	_ = os.Remove(sockPath)

	local, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sockPath, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("ipservice: binding client socket %s: %w", sockPath, err)
	}

	if err := local.SetWriteBuffer(MaxMessageSize); err != nil {
		log.Warn("setting client write buffer failed", "err", err)
	}

	c := &Client{conn: local, sockPath: sockPath}

	if err := c.connectTo(brokerPath); err != nil {
		_ = local.Close()
		_ = os.Remove(sockPath)
		return nil, err
	}

	return c, nil
}

// connectTo resolves the broker's address; unixgram has no persistent
// connect, so every subsequent write targets brokerAddr explicitly.
func (c *Client) connectTo(brokerPath string) error {
	addr, err := net.ResolveUnixAddr("unixgram", brokerPath)
	if err != nil {
		return fmt.Errorf("ipservice: resolving broker socket %s: %w", brokerPath, err)
	}
	c.brokerAddr = addr
	return nil
}

// Close releases the client's bound socket and tells the broker to forget
// any bindings owned by it.
func (c *Client) Close() error {
	_ = c.send(kindUnbindRequest, UnbindRequest{})
	err := c.conn.Close()
	_ = os.Remove(c.sockPath)
	return err
}

// Bind claims (protocol, addr[, port]) with the broker, returning
// ErrBindFailed if another client already holds it.
func (c *Client) Bind(protocol Protocol, addr net.IP, port uint16) error {
	if err := c.send(kindBindRequest, BindRequest{Protocol: protocol, Addr: addr.String(), Port: port}); err != nil {
		return err
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(clientDialTimeout)); err != nil {
		return err
	}
	frame := make([]byte, MaxMessageSize)
	n, _, err := c.conn.ReadFrom(frame)
	if err != nil {
		return fmt.Errorf("ipservice: waiting for bind response: %w", err)
	}

	var resp BindResponse
	if kind, err := decodeMessage(frame[:n], &resp); err != nil || kind != kindBindResponse {
		return fmt.Errorf("ipservice: unexpected bind reply")
	}
	if !resp.OK {
		return ErrBindFailed
	}
	return nil
}

// Send asks the broker to forward an IPv4 datagram onto the acoustic link.
func (c *Client) Send(datagram []byte) error {
	return c.send(kindSendRequest, SendRequest{Datagram: datagram})
}

// RecvTimeout waits up to d for the broker to deliver an inbound datagram
// addressed to this client's binding.
func (c *Client) RecvTimeout(d time.Duration) ([]byte, bool) {
	if err := c.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return nil, false
	}
	frame := make([]byte, MaxMessageSize)
	n, _, err := c.conn.ReadFrom(frame)
	if err != nil {
		return nil, false
	}

	var msg ReceivedMessage
	kind, err := decodeMessage(frame[:n], &msg)
	if err != nil || kind != kindReceivedMessage {
		return nil, false
	}
	return msg.Datagram, true
}

func (c *Client) send(kind messageKind, payload any) error {
	frame, err := encodeMessage(kind, payload)
	if err != nil {
		return err
	}
	if _, err := c.conn.WriteTo(frame, c.brokerAddr); err != nil {
		return fmt.Errorf("ipservice: writing IPC message: %w", err)
	}
	return nil
}
