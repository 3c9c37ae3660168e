package tcpstack

import (
	"fmt"
	"net"
	"time"

	"github.com/doismellburning/athernet/internal/ipservice"
)

// BrokerTransport bridges a Conn's segment-level Send/RecvTimeout calls onto
// a running ipservice.Broker over its IPC socket, wrapping each segment in
// an IPv4 datagram the broker fragments over the acoustic MAC link and
// unwrapping each one the broker delivers back.
type BrokerTransport struct {
	client  *ipservice.Client
	localIP net.IP

	nextID uint16
}

// DialBrokerTransport binds localAddr's port for TCP with the broker
// listening at brokerPath, returning a Transport ready to back a Conn or
// Listener.
func DialBrokerTransport(brokerPath string, localAddr SocketAddr) (*BrokerTransport, error) {
	client, err := ipservice.Dial(brokerPath)
	if err != nil {
		return nil, fmt.Errorf("tcpstack: connecting to broker: %w", err)
	}

	if err := client.Bind(ipservice.ProtocolTCP, localAddr.IP, localAddr.Port); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("tcpstack: binding TCP port %d: %w", localAddr.Port, err)
	}

	return &BrokerTransport{client: client, localIP: localAddr.IP}, nil
}

// Close releases the underlying broker binding.
func (t *BrokerTransport) Close() error {
	return t.client.Close()
}

// Send composes raw (a TCP segment) into an IPv4/TCP datagram addressed to
// dst and asks the broker to forward it.
func (t *BrokerTransport) Send(dst SocketAddr, raw []byte) error {
	t.nextID++
	datagram := ipservice.ComposeIPv4(ipservice.ProtocolTCP, t.nextID, t.localIP, dst.IP, raw)
	return t.client.Send(datagram)
}

// RecvTimeout waits up to d for the broker to deliver a datagram for this
// binding, unwrapping it down to the TCP segment bytes Conn expects.
func (t *BrokerTransport) RecvTimeout(d time.Duration) (SocketAddr, []byte, bool) {
	datagram, ok := t.client.RecvTimeout(d)
	if !ok {
		return SocketAddr{}, nil, false
	}

	parsed, err := ipservice.ParseIPv4(datagram)
	if err != nil || parsed.Protocol != ipservice.ProtocolTCP {
		return SocketAddr{}, nil, false
	}

	srcPort, _, ok := ipservice.TCPPorts(parsed.Payload)
	if !ok {
		return SocketAddr{}, nil, false
	}

	return SocketAddr{IP: parsed.Src, Port: srcPort}, parsed.Payload, true
}
