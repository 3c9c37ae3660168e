package ipservice

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	macpkg "github.com/doismellburning/athernet/internal/mac"
	"github.com/doismellburning/athernet/internal/modem"
	"github.com/doismellburning/athernet/internal/phy"
	"github.com/doismellburning/athernet/internal/sample"
)

func newBrokerPair(t *testing.T) (a, b *Broker) {
	t.Helper()

	m := modem.NewPSK(modem.ProfileWired)

	outAtoB, inAtoB := sample.NewLoopback()
	outBtoA, inBtoA := sample.NewLoopback()

	addrA, err := macpkg.NewAddr(1)
	require.NoError(t, err)
	addrB, err := macpkg.NewAddr(2)
	require.NoError(t, err)

	macA := macpkg.New(addrA, phy.NewSender(outAtoB, m), phy.NewReceiver(inBtoA, m, phy.ProfileWired), m.BytesPerPacket())
	macB := macpkg.New(addrB, phy.NewSender(outBtoA, m), phy.NewReceiver(inAtoB, m, phy.ProfileWired), m.BytesPerPacket())

	dir := t.TempDir()
	payloadCap := macpkg.PayloadSize(m.BytesPerPacket())

	brokerA, err := NewBroker(net.IPv4(192, 168, 1, 1), addrB, macA, payloadCap, filepath.Join(dir, "a.sock"))
	require.NoError(t, err)
	brokerB, err := NewBroker(net.IPv4(192, 168, 1, 2), addrA, macB, payloadCap, filepath.Join(dir, "b.sock"))
	require.NoError(t, err)

	t.Cleanup(func() {
		brokerA.Close()
		brokerB.Close()
		macA.Close()
		macB.Close()
	})

	return brokerA, brokerB
}

// A client bound to (UDP, dest-addr, dest-port) on the receiving broker sees
// exactly the datagram sent via the sending broker's Send, demultiplexed to
// it and no other binding.
func TestBrokerDeliversBoundUDPDatagram(t *testing.T) {
	brokerA, brokerB := newBrokerPair(t)

	clientConn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: filepath.Join(t.TempDir(), "client.sock"), Net: "unixgram"})
	require.NoError(t, err)
	defer clientConn.Close()

	bindReq, err := encodeMessage(kindBindRequest, BindRequest{Protocol: ProtocolUDP, Addr: "192.168.1.2", Port: 53})
	require.NoError(t, err)
	_, err = clientConn.WriteTo(bindReq, &net.UnixAddr{Name: brokerB.ipcPath, Net: "unixgram"})
	require.NoError(t, err)

	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, MaxMessageSize)
	n, err := clientConn.Read(buf)
	require.NoError(t, err)
	var bindResp BindResponse
	_, err = decodeMessage(buf[:n], &bindResp)
	require.NoError(t, err)
	require.True(t, bindResp.OK)

	payload := udpSegment(12345, 53, []byte("query"))
	datagram := ComposeIPv4(ProtocolUDP, 7, net.IPv4(192, 168, 1, 1), net.IPv4(192, 168, 1, 2), payload)
	brokerA.Send(datagram)

	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(5*time.Second)))
	n, err = clientConn.Read(buf)
	require.NoError(t, err)

	var received ReceivedMessage
	_, err = decodeMessage(buf[:n], &received)
	require.NoError(t, err)

	parsed, err := ParseIPv4(received.Datagram)
	require.NoError(t, err)
	assert.Equal(t, ProtocolUDP, parsed.Protocol)
	_, dstPort, ok := UDPPorts(parsed.Payload)
	require.True(t, ok)
	assert.Equal(t, uint16(53), dstPort)
}

// A datagram with a corrupted IPv4 header checksum is dropped and reported
// through OnCorruptPacket rather than delivered to any binding.
func TestBrokerDropsCorruptedChecksum(t *testing.T) {
	brokerA, brokerB := newBrokerPair(t)

	corrupted := make(chan struct{}, 1)
	brokerB.OnCorruptPacket = func() { corrupted <- struct{}{} }

	clientConn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: filepath.Join(t.TempDir(), "client.sock"), Net: "unixgram"})
	require.NoError(t, err)
	defer clientConn.Close()

	bindReq, err := encodeMessage(kindBindRequest, BindRequest{Protocol: ProtocolUDP, Addr: "192.168.1.2", Port: 53})
	require.NoError(t, err)
	_, err = clientConn.WriteTo(bindReq, &net.UnixAddr{Name: brokerB.ipcPath, Net: "unixgram"})
	require.NoError(t, err)
	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, MaxMessageSize)
	_, err = clientConn.Read(buf)
	require.NoError(t, err)

	payload := udpSegment(12345, 53, []byte("query"))
	datagram := ComposeIPv4(ProtocolUDP, 7, net.IPv4(192, 168, 1, 1), net.IPv4(192, 168, 1, 2), payload)
	datagram[11] ^= 0xFF // flip header checksum bits without fixing it up
	brokerA.Send(datagram)

	select {
	case <-corrupted:
	case <-time.After(5 * time.Second):
		t.Fatal("OnCorruptPacket was never called")
	}

	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, err = clientConn.Read(buf)
	assert.Error(t, err, "corrupted datagram must not be delivered")
}

// A second bind attempt on an already-bound (protocol, addr, port) fails.
func TestBrokerRejectsDuplicateBind(t *testing.T) {
	_, brokerB := newBrokerPair(t)

	bind := func(conn *net.UnixConn) BindResponse {
		req, err := encodeMessage(kindBindRequest, BindRequest{Protocol: ProtocolUDP, Addr: "192.168.1.2", Port: 9000})
		require.NoError(t, err)
		_, err = conn.WriteTo(req, &net.UnixAddr{Name: brokerB.ipcPath, Net: "unixgram"})
		require.NoError(t, err)

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		buf := make([]byte, MaxMessageSize)
		n, err := conn.Read(buf)
		require.NoError(t, err)

		var resp BindResponse
		_, err = decodeMessage(buf[:n], &resp)
		require.NoError(t, err)
		return resp
	}

	dir := t.TempDir()
	conn1, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: filepath.Join(dir, "c1.sock"), Net: "unixgram"})
	require.NoError(t, err)
	defer conn1.Close()
	conn2, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: filepath.Join(dir, "c2.sock"), Net: "unixgram"})
	require.NoError(t, err)
	defer conn2.Close()

	assert.True(t, bind(conn1).OK)
	assert.False(t, bind(conn2).OK)
}
