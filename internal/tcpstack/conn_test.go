package tcpstack

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a channel-backed Transport standing in for
// internal/ipservice.Broker in tests: Send on one end feeds RecvTimeout on
// the other, with a fixed reported peer address on each side.
type fakeTransport struct {
	peer     SocketAddr
	outgoing chan<- []byte
	incoming <-chan []byte
}

func (f *fakeTransport) Send(dst SocketAddr, raw []byte) error {
	f.outgoing <- raw
	return nil
}

func (f *fakeTransport) RecvTimeout(d time.Duration) (SocketAddr, []byte, bool) {
	select {
	case raw := <-f.incoming:
		return f.peer, raw, true
	case <-time.After(d):
		return SocketAddr{}, nil, false
	}
}

// newFakeLink wires a client-side and server-side Transport together, each
// seeing the other as its fixed peer.
func newFakeLink(clientAddr, serverAddr SocketAddr) (client, server Transport) {
	clientToServer := make(chan []byte, 256)
	serverToClient := make(chan []byte, 256)
	client = &fakeTransport{peer: serverAddr, outgoing: clientToServer, incoming: serverToClient}
	server = &fakeTransport{peer: clientAddr, outgoing: serverToClient, incoming: clientToServer}
	return client, server
}

func testAddrs() (client, server SocketAddr) {
	client = SocketAddr{IP: net.ParseIP("10.0.0.1"), Port: 9000}
	server = SocketAddr{IP: net.ParseIP("10.0.0.2"), Port: 80}
	return client, server
}

func dialAndAccept(t *testing.T) (client, serverConn *Conn, ln *Listener) {
	t.Helper()

	clientAddr, serverAddr := testAddrs()
	clientTransport, serverTransport := newFakeLink(clientAddr, serverAddr)

	ln = Listen(serverAddr, serverTransport)

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := ln.Accept()
		assert.NoError(t, err)
		accepted <- c
	}()

	c, err := Dial(clientAddr, clientTransport, serverAddr)
	require.NoError(t, err)

	select {
	case serverConn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never accepted the connection")
	}

	return c, serverConn, ln
}

func TestDialAcceptHandshakeEstablishes(t *testing.T) {
	client, server, ln := dialAndAccept(t)
	defer ln.Close()
	defer client.Close()
	defer server.Close()
}

func TestConnDataTransferInOrder(t *testing.T) {
	client, server, ln := dialAndAccept(t)
	defer ln.Close()
	defer client.Close()
	defer server.Close()

	payload := []byte("hello over athernet")
	client.Write(payload)

	buf := make([]byte, len(payload))
	got := 0
	deadline := time.Now().Add(3 * time.Second)
	for got < len(payload) && time.Now().Before(deadline) {
		n, err := server.Read(buf[got:], 500*time.Millisecond)
		if err != nil {
			continue
		}
		got += n
	}

	require.Equal(t, len(payload), got)
	assert.Equal(t, payload, buf)
}

func TestConnBidirectionalDataTransfer(t *testing.T) {
	client, server, ln := dialAndAccept(t)
	defer ln.Close()
	defer client.Close()
	defer server.Close()

	client.Write([]byte("ping"))
	server.Write([]byte("pong"))

	buf1 := make([]byte, 4)
	n1, err := readFull(server, buf1, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf1[:n1]))

	buf2 := make([]byte, 4)
	n2, err := readFull(client, buf2, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf2[:n2]))
}

func readFull(c *Conn, buf []byte, timeout time.Duration) (int, error) {
	got := 0
	deadline := time.Now().Add(timeout)
	for got < len(buf) && time.Now().Before(deadline) {
		n, err := c.Read(buf[got:], 500*time.Millisecond)
		if err != nil {
			continue
		}
		got += n
	}
	return got, nil
}

func TestConnShutdownWriteSignalsPeerEOF(t *testing.T) {
	client, server, ln := dialAndAccept(t)
	defer ln.Close()
	defer client.Close()
	defer server.Close()

	require.NoError(t, client.ShutdownWrite())

	select {
	case <-server.readClosed:
	case <-time.After(2 * time.Second):
		t.Fatal("peer never observed the FIN")
	}

	n, err := server.Read(make([]byte, 16), 200*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}
