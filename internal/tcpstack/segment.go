package tcpstack

import (
	"encoding/binary"
	"net"
)

// SocketAddr is an IPv4 address/port pair, the TCP layer's notion of a peer.
type SocketAddr struct {
	IP   net.IP
	Port uint16
}

func (a SocketAddr) String() string { return a.IP.String() + ":" + portString(a.Port) }

func portString(p uint16) string {
	const digits = "0123456789"
	if p == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = digits[p%10]
		p /= 10
	}
	return string(buf[i:])
}

// Flags is the TCP control bit set this stack recognizes.
type Flags byte

const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagRST
	_ // PSH, unused
	FlagACK
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// headerLen is the fixed TCP header size with no options (data offset 5).
const headerLen = 20

// MSS is the maximum segment payload size.
const MSS = 1024

// segment is one TCP-over-IP-broker unit: header fields plus payload. It
// deliberately mirrors the real TCP header layout (source/dest port, seq,
// ack, data offset, flags, window, checksum, urgent pointer) so the same
// bytes can be wrapped in an IPv4 datagram and checksummed by
// internal/ipservice's transport helpers when bridged onto the acoustic
// network.
type segment struct {
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	Flags   Flags
	Window  uint16
	Payload []byte
}

func encodeSegment(s segment) []byte {
	buf := make([]byte, headerLen+len(s.Payload))
	binary.BigEndian.PutUint16(buf[0:2], s.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], s.DstPort)
	binary.BigEndian.PutUint32(buf[4:8], s.Seq)
	binary.BigEndian.PutUint32(buf[8:12], s.Ack)
	buf[12] = 5 << 4 // data offset, no options
	buf[13] = byte(s.Flags)
	binary.BigEndian.PutUint16(buf[14:16], s.Window)
	// buf[16:18] checksum left to the IP layer; buf[18:20] urgent ptr unused
	copy(buf[headerLen:], s.Payload)
	return buf
}

func decodeSegment(raw []byte) (segment, bool) {
	if len(raw) < headerLen {
		return segment{}, false
	}
	dataOffset := int(raw[12]>>4) * 4
	if dataOffset < headerLen || dataOffset > len(raw) {
		return segment{}, false
	}
	return segment{
		SrcPort: binary.BigEndian.Uint16(raw[0:2]),
		DstPort: binary.BigEndian.Uint16(raw[2:4]),
		Seq:     binary.BigEndian.Uint32(raw[4:8]),
		Ack:     binary.BigEndian.Uint32(raw[8:12]),
		Flags:   Flags(raw[13]),
		Window:  binary.BigEndian.Uint16(raw[14:16]),
		Payload: raw[dataOffset:],
	}, true
}
