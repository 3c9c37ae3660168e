// Package ipservice implements the per-node IP broker: it owns the single
// MAC endpoint, demultiplexes inbound IPv4 datagrams to bound clients over a
// local IPC channel, and on a gateway node additionally performs NAT against
// external raw-IP sockets.
package ipservice

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Protocol is the IPv4 next_level_protocol value for the transports this
// stack understands.
type Protocol byte

const (
	ProtocolICMP Protocol = 1
	ProtocolTCP  Protocol = 6
	ProtocolUDP  Protocol = 17
)

func (p Protocol) String() string {
	switch p {
	case ProtocolICMP:
		return "icmp"
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	default:
		return fmt.Sprintf("protocol(%d)", byte(p))
	}
}

// ipv4HeaderLen is the length of an IPv4 header with no options (ihl=5).
const ipv4HeaderLen = 20

// IPv4 is a parsed view over an IPv4 datagram: the header fields NAT and the
// broker care about, plus the untouched transport-layer payload.
type IPv4 struct {
	Protocol Protocol
	Src      net.IP
	Dst      net.IP
	TTL      byte
	ID       uint16
	Payload  []byte
}

// ComposeIPv4 builds a complete IPv4 datagram per spec: version=4, ihl=5,
// flags=DF (don't fragment, since the MAC layer does its own fragmentation),
// ttl=255, the given identification and protocol, and a recomputed header
// checksum.
func ComposeIPv4(protocol Protocol, id uint16, src, dst net.IP, payload []byte) []byte {
	src4 := src.To4()
	dst4 := dst.To4()

	buf := make([]byte, ipv4HeaderLen+len(payload))
	buf[0] = 0x45 // version 4, ihl 5
	buf[1] = 0    // dscp/ecn
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)))
	binary.BigEndian.PutUint16(buf[4:6], id)
	binary.BigEndian.PutUint16(buf[6:8], 0x4000) // flags=DF, fragment offset 0
	buf[8] = 255                                 // ttl
	buf[9] = byte(protocol)
	// checksum left zero until computed below
	copy(buf[12:16], src4)
	copy(buf[16:20], dst4)
	copy(buf[ipv4HeaderLen:], payload)

	binary.BigEndian.PutUint16(buf[10:12], ipChecksum(buf[:ipv4HeaderLen]))

	return buf
}

// ValidateIPv4Checksum reports whether datagram's IPv4 header checksum is
// self-consistent, per spec's CorruptPacket diagnostic ("checksum mismatch
// at any layer"). It does not touch the transport-layer checksum.
func ValidateIPv4Checksum(datagram []byte) bool {
	if len(datagram) < ipv4HeaderLen {
		return false
	}
	ihl := int(datagram[0]&0x0f) * 4
	if ihl < ipv4HeaderLen || len(datagram) < ihl {
		return false
	}
	return ipChecksum(datagram[:ihl]) == 0
}

// ParseIPv4 extracts the fields NAT/broker routing needs from a raw IPv4
// datagram. It does not validate the header checksum; callers that need
// integrity checking should call ValidateIPv4Checksum first.
func ParseIPv4(datagram []byte) (IPv4, error) {
	if len(datagram) < ipv4HeaderLen {
		return IPv4{}, fmt.Errorf("ipservice: datagram too short for an IPv4 header: %d bytes", len(datagram))
	}

	ihl := int(datagram[0]&0x0f) * 4
	if ihl < ipv4HeaderLen || len(datagram) < ihl {
		return IPv4{}, fmt.Errorf("ipservice: invalid IHL %d", ihl)
	}

	totalLength := int(binary.BigEndian.Uint16(datagram[2:4]))
	if totalLength > len(datagram) {
		return IPv4{}, fmt.Errorf("ipservice: declared total length %d exceeds datagram size %d", totalLength, len(datagram))
	}

	return IPv4{
		Protocol: Protocol(datagram[9]),
		Src:      net.IP(append([]byte(nil), datagram[12:16]...)),
		Dst:      net.IP(append([]byte(nil), datagram[16:20]...)),
		TTL:      datagram[8],
		ID:       binary.BigEndian.Uint16(datagram[4:6]),
		Payload:  datagram[ihl:totalLength],
	}, nil
}

// RewriteIPv4 returns a copy of datagram with its source/destination
// addresses and transport-layer port fields (for UDP/TCP) replaced, and
// every checksum recomputed; the identification field is left unchanged. It is the core primitive NAT
// translation in both directions builds on.
func RewriteIPv4(datagram []byte, newSrc, newDst net.IP, newSrcPort, newDstPort uint16) []byte {
	out := append([]byte(nil), datagram...)

	if newSrc != nil {
		copy(out[12:16], newSrc.To4())
	}
	if newDst != nil {
		copy(out[16:20], newDst.To4())
	}
	out[10], out[11] = 0, 0

	ihl := int(out[0]&0x0f) * 4
	protocol := Protocol(out[9])
	payload := out[ihl:]

	switch protocol {
	case ProtocolUDP:
		rewriteUDPPorts(payload, newSrcPort, newDstPort)
		recomputeUDPChecksum(payload, out[12:16], out[16:20])
	case ProtocolTCP:
		rewriteTCPPorts(payload, newSrcPort, newDstPort)
		recomputeTCPChecksum(payload, out[12:16], out[16:20])
	case ProtocolICMP:
		recomputeICMPChecksum(payload)
	}

	binary.BigEndian.PutUint16(out[10:12], ipChecksum(out[:ihl]))

	return out
}

func rewriteUDPPorts(udp []byte, srcPort, dstPort uint16) {
	if len(udp) < 8 {
		return
	}
	if srcPort != 0 {
		binary.BigEndian.PutUint16(udp[0:2], srcPort)
	}
	if dstPort != 0 {
		binary.BigEndian.PutUint16(udp[2:4], dstPort)
	}
}

func rewriteTCPPorts(tcp []byte, srcPort, dstPort uint16) {
	if len(tcp) < 20 {
		return
	}
	if srcPort != 0 {
		binary.BigEndian.PutUint16(tcp[0:2], srcPort)
	}
	if dstPort != 0 {
		binary.BigEndian.PutUint16(tcp[2:4], dstPort)
	}
}

// UDPPorts reads the source/destination ports out of a UDP segment.
func UDPPorts(udp []byte) (src, dst uint16, ok bool) {
	if len(udp) < 8 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint16(udp[0:2]), binary.BigEndian.Uint16(udp[2:4]), true
}

// TCPPorts reads the source/destination ports out of a TCP segment.
func TCPPorts(tcp []byte) (src, dst uint16, ok bool) {
	if len(tcp) < 20 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint16(tcp[0:2]), binary.BigEndian.Uint16(tcp[2:4]), true
}

// ICMP message type values of echo reply and echo request messages.
const (
	icmpEchoReply   = 0
	icmpEchoRequest = 8
)

// ICMPType returns the ICMP message type byte (0=echo reply, 8=echo request, ...).
func ICMPType(icmp []byte) (byte, bool) {
	if len(icmp) < 1 {
		return 0, false
	}
	return icmp[0], true
}

func recomputeUDPChecksum(udp []byte, src, dst []byte) {
	if len(udp) < 8 {
		return
	}
	udp[6], udp[7] = 0, 0
	sum := pseudoHeaderSum(src, dst, byte(ProtocolUDP), len(udp))
	sum = checksumAccumulate(sum, udp)
	binary.BigEndian.PutUint16(udp[6:8], finishChecksum(sum))
}

func recomputeTCPChecksum(tcp []byte, src, dst []byte) {
	if len(tcp) < 20 {
		return
	}
	tcp[16], tcp[17] = 0, 0
	sum := pseudoHeaderSum(src, dst, byte(ProtocolTCP), len(tcp))
	sum = checksumAccumulate(sum, tcp)
	binary.BigEndian.PutUint16(tcp[16:18], finishChecksum(sum))
}

func recomputeICMPChecksum(icmp []byte) {
	if len(icmp) < 4 {
		return
	}
	icmp[2], icmp[3] = 0, 0
	sum := checksumAccumulate(0, icmp)
	binary.BigEndian.PutUint16(icmp[2:4], finishChecksum(sum))
}

// ipChecksum computes the standard IPv4 header checksum (one's complement
// sum of 16-bit words, assuming the checksum field itself is zeroed).
func ipChecksum(header []byte) uint16 {
	return finishChecksum(checksumAccumulate(0, header))
}

// pseudoHeaderSum starts a running checksum accumulator from the UDP/TCP
// pseudo-header (source IP, dest IP, zero, protocol, transport length).
func pseudoHeaderSum(src, dst []byte, protocol byte, length int) uint32 {
	var sum uint32
	sum += uint32(binary.BigEndian.Uint16(src[0:2]))
	sum += uint32(binary.BigEndian.Uint16(src[2:4]))
	sum += uint32(binary.BigEndian.Uint16(dst[0:2]))
	sum += uint32(binary.BigEndian.Uint16(dst[2:4]))
	sum += uint32(protocol)
	sum += uint32(length)
	return sum
}

func checksumAccumulate(sum uint32, data []byte) uint32 {
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	return sum
}

func finishChecksum(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}
