// Package mac implements the addressed, reliable, sliding-window datagram
// layer running over one PHY sender/receiver pair: source/destination
// addressing, ACK/ping/pong control packets, and ARQ retransmission.
package mac

import "fmt"

// Addr is a node's one-byte MAC address. Valid addresses are in (0, 255);
// 0 and 255 are reserved (broadcast/unassigned) and rejected by NewAddr.
type Addr byte

func NewAddr(a byte) (Addr, error) {
	if a == 0 || a == 255 {
		return 0, fmt.Errorf("mac: address %d is reserved, valid range is (0, 255)", a)
	}
	return Addr(a), nil
}

// Flags is the MAC packet control bitset.
type Flags byte

const (
	FlagAck Flags = 1 << iota
	FlagData
	FlagPingReq
	FlagPingReply
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// HeaderSize is the number of fixed header bytes preceding the payload:
// src, dest, seq, flags.
const HeaderSize = 4

// Packet is the structured view over one PHY packet described in the MAC
// wire layout: 4 header bytes (src, dest, seq, flags) followed by a
// zero-padded payload.
type Packet struct {
	Src     Addr
	Dest    Addr
	Seq     byte
	Flags   Flags
	Payload []byte
}

// PayloadSize returns the MAC payload capacity for a PHY packet of the
// given total size.
func PayloadSize(phyPacketBytes int) int { return phyPacketBytes - HeaderSize }

func NewDataPacket(src, dest Addr, seq byte, payload []byte, phyPacketBytes int) Packet {
	return newPacket(src, dest, seq, FlagData, payload, phyPacketBytes)
}

func NewPingPacket(src, dest Addr, seq byte, phyPacketBytes int) Packet {
	return newPacket(src, dest, seq, FlagPingReq, nil, phyPacketBytes)
}

func newPacket(src, dest Addr, seq byte, flags Flags, payload []byte, phyPacketBytes int) Packet {
	size := PayloadSize(phyPacketBytes)
	if len(payload) > size {
		panic("mac: payload exceeds MAC packet capacity")
	}

	padded := make([]byte, size)
	copy(padded, payload)

	return Packet{Src: src, Dest: dest, Seq: seq, Flags: flags, Payload: padded}
}

// NeedReply reports whether this packet obliges the receiver to send back
// an ACK (for data) or a PONG (for a ping request).
func (p Packet) NeedReply() bool {
	return p.Flags.has(FlagData) || p.Flags.has(FlagPingReq)
}

// ReplyPacket builds the ACK/PONG this packet requires, or false if none
// is required.
func (p Packet) ReplyPacket() (Packet, bool) {
	if !p.NeedReply() {
		return Packet{}, false
	}

	flags := FlagAck
	if p.Flags.has(FlagPingReq) {
		flags |= FlagPingReply
	}

	return Packet{
		Src:     p.Dest,
		Dest:    p.Src,
		Seq:     p.Seq,
		Flags:   flags,
		Payload: p.Payload,
	}, true
}

// FromPHY parses a MAC packet out of exactly phyPacketBytes bytes.
func FromPHY(phyPacket []byte) Packet {
	return Packet{
		Src:     Addr(phyPacket[0]),
		Dest:    Addr(phyPacket[1]),
		Seq:     phyPacket[2],
		Flags:   Flags(phyPacket[3]),
		Payload: phyPacket[HeaderSize:],
	}
}

// ToPHY serializes the packet into a PHY-packet-sized byte slice.
func (p Packet) ToPHY(phyPacketBytes int) []byte {
	buf := make([]byte, phyPacketBytes)
	buf[0] = byte(p.Src)
	buf[1] = byte(p.Dest)
	buf[2] = p.Seq
	buf[3] = byte(p.Flags)
	copy(buf[HeaderSize:], p.Payload)
	return buf
}
