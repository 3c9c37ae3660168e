package ipservice

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// rawSockTimeout bounds RawIP.Recv so the gateway poll loop never blocks
// indefinitely on one protocol's external handle.
const rawSockTimeout = 10 * time.Millisecond

// RawIP sends and receives whole IPv4 datagrams (header included) on one
// transport protocol's external, Internet-facing socket. It is the concrete
// realization of the "external raw-IP handle" the gateway needs per
// protocol; a gateway holds one per Protocol.
type RawIP interface {
	Send(datagram []byte) error
	// Recv returns the next inbound datagram, or (nil, false) on timeout.
	Recv() ([]byte, bool, error)
	Close() error
}

// rawConn is a Linux raw IP socket, opened with IP_HDRINCL so writes supply
// the full IPv4 header and reads return it untouched.
type rawConn struct {
	conn *ipv4.RawConn
}

// OpenRawIP opens a raw IP socket for protocol bound to localAddr, the
// gateway's external, Internet-facing address.
func OpenRawIP(protocol Protocol, localAddr net.IP) (RawIP, error) {
	ipConn, err := net.ListenIP("ip4:"+rawNetworkProto(protocol), &net.IPAddr{IP: localAddr})
	if err != nil {
		return nil, fmt.Errorf("ipservice: opening raw socket for %s: %w", protocol, err)
	}

	if err := setHdrIncl(ipConn); err != nil {
		ipConn.Close()
		return nil, fmt.Errorf("ipservice: setting IP_HDRINCL for %s: %w", protocol, err)
	}

	raw, err := ipv4.NewRawConn(ipConn)
	if err != nil {
		ipConn.Close()
		return nil, fmt.Errorf("ipservice: enabling header-included mode for %s: %w", protocol, err)
	}

	return &rawConn{conn: raw}, nil
}

// setHdrIncl sets IP_HDRINCL explicitly via the raw file descriptor, so the
// kernel expects our writes to supply the complete IPv4 header rather than
// building one itself from the connection's own addressing.
func setHdrIncl(ipConn *net.IPConn) error {
	sysconn, err := ipConn.SyscallConn()
	if err != nil {
		return err
	}

	var sockoptErr error
	err = sysconn.Control(func(fd uintptr) {
		sockoptErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_HDRINCL, 1)
	})
	if err != nil {
		return err
	}
	return sockoptErr
}

func rawNetworkProto(protocol Protocol) string {
	switch protocol {
	case ProtocolICMP:
		return "icmp"
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	default:
		return "raw"
	}
}

func (r *rawConn) Send(datagram []byte) error {
	header, payload, err := ipv4.ParseHeader(datagram)
	if err != nil {
		return fmt.Errorf("ipservice: parsing outbound datagram: %w", err)
	}
	return r.conn.WriteTo(header, payload, nil)
}

func (r *rawConn) Recv() ([]byte, bool, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(rawSockTimeout)); err != nil {
		return nil, false, err
	}

	buf := make([]byte, 65535)
	header, payload, _, err := r.conn.ReadFrom(buf)
	if err != nil {
		if isTimeout(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	out := make([]byte, header.Len+len(payload))
	raw, marshalErr := header.Marshal()
	if marshalErr != nil {
		return nil, false, marshalErr
	}
	copy(out, raw)
	copy(out[header.Len:], payload)

	return out, true, nil
}

func (r *rawConn) Close() error {
	return r.conn.Close()
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
