// Package tcpstack implements a user-space TCP state machine (RFC 793 at
// design level) running over the IP broker's byte-serialized datagram
// channel: connect/accept, in-order byte delivery, half-close, and bounded
// retransmission.
package tcpstack

// WrappingInt32 is a 32-bit sequence number expressed relative to an
// arbitrary initial sequence number (ISN), mirroring how TCP sequence and
// acknowledgment numbers wrap modulo 2^32 on the wire while the stack
// reasons about them as absolute, ever-increasing stream positions.
type WrappingInt32 struct {
	raw uint32
}

func NewWrappingInt32(raw uint32) WrappingInt32 { return WrappingInt32{raw: raw} }

func (w WrappingInt32) RawValue() uint32 { return w.raw }

// Add returns the point n steps past w.
func (w WrappingInt32) Add(n uint32) WrappingInt32 { return WrappingInt32{raw: w.raw + n} }

// Sub returns the point n steps before w.
func (w WrappingInt32) Sub(n uint32) WrappingInt32 { return WrappingInt32{raw: w.raw - n} }

// Diff returns the number of increments needed to get from rhs to w,
// negative if w is behind rhs.
func (w WrappingInt32) Diff(rhs WrappingInt32) int32 { return int32(w.raw - rhs.raw) }

// WrapSeq transforms a 64-bit absolute sequence number into its 32-bit
// wire-relative form given the stream's ISN.
func WrapSeq(absolute uint64, isn WrappingInt32) WrappingInt32 {
	return isn.Add(uint32(absolute))
}

// UnwrapSeq transforms a 32-bit wire-relative sequence number into the
// absolute 64-bit sequence number that wraps to n and lies closest to
// checkpoint, the most recent absolute position accepted on this stream.
func UnwrapSeq(n, isn WrappingInt32, checkpoint uint64) uint64 {
	offset := uint64(uint32(n.Diff(isn)))

	if checkpoint < offset {
		return offset
	}

	offset |= ((checkpoint - offset) >> 32) << 32
	if checkpoint-offset <= 1<<31 {
		return offset
	}
	return offset + 1<<32
}
