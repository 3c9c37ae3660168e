package tcpstack

import "github.com/doismellburning/athernet/internal/sample"

// reassemblerCapacity is the bounded receive window size.
const reassemblerCapacity = 1024

// reassembler accepts possibly out-of-order byte ranges addressed by
// absolute stream sequence number, delivers contiguous prefixes to output in
// order, and reports the free capacity TCP advertises to the peer as its
// receive window.
type reassembler struct {
	base     uint64 // absolute sequence number of the next byte to deliver
	capacity int
	present  []bool
	data     []byte
	occupied int
	output   *sample.ConcurrentBuffer[byte]
}

func newReassembler(output *sample.ConcurrentBuffer[byte]) *reassembler {
	return &reassembler{
		capacity: reassemblerCapacity,
		present:  make([]bool, reassemblerCapacity),
		data:     make([]byte, reassemblerCapacity),
		output:   output,
	}
}

// push stores bytes[i] at absolute position seq+i for every byte that falls
// within the current window, silently dropping whatever doesn't fit (the
// peer is expected to retransmit, same as real TCP). It then delivers any
// run of contiguous bytes starting at base.
func (r *reassembler) push(seq uint64, bytes []byte) {
	for i, b := range bytes {
		pos := seq + uint64(i)
		if pos < r.base || pos >= r.base+uint64(r.capacity) {
			continue
		}
		idx := int(pos % uint64(r.capacity))
		if !r.present[idx] {
			r.present[idx] = true
			r.occupied++
		}
		r.data[idx] = b
	}

	r.drain()
}

func (r *reassembler) drain() {
	var out []byte
	for {
		idx := int(r.base % uint64(r.capacity))
		if !r.present[idx] {
			break
		}
		out = append(out, r.data[idx])
		r.present[idx] = false
		r.occupied--
		r.base++
	}
	if len(out) > 0 {
		r.output.PushSlice(out)
	}
}

// window reports the free capacity to advertise to the peer.
func (r *reassembler) window() uint16 {
	free := r.capacity - r.occupied
	if free < 0 {
		free = 0
	}
	return uint16(free)
}
