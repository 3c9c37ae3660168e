package phy

import (
	"time"

	"github.com/doismellburning/athernet/internal/modem"
	"github.com/doismellburning/athernet/internal/netlog"
	"github.com/doismellburning/athernet/internal/sample"
)

var log = netlog.For("phy")

// PadSamples is the count of trailing zero samples appended after a
// packet's modulated payload, giving the receiver's framer a quiet gap
// before the next preamble can be detected.
const PadSamples = 100

// Sender assembles and plays one on-air frame per Send call: preamble,
// modulated payload, then a padding silence. It is stateless across calls
// and not safe for concurrent use by multiple goroutines.
type Sender struct {
	preamble *Preamble
	modem    modem.Modem
	out      sample.Output
}

func NewSender(out sample.Output, m modem.Modem) *Sender {
	return &Sender{preamble: NewPreamble(), modem: m, out: out}
}

// SamplesPerPacket is the total frame length this sender emits per packet.
func (s *Sender) SamplesPerPacket() int {
	return len(s.preamble.Samples) + s.modem.SamplesPerPacket()
}

// Send blocks until the whole frame has been accepted by the sample
// output stream.
func (s *Sender) Send(packet []byte) error {
	payload, err := s.modem.Modulate(packet)
	if err != nil {
		return err
	}

	buf := make([]sample.Sample, 0, len(s.preamble.Samples)+len(payload)+PadSamples)
	buf = append(buf, s.preamble.Samples...)
	buf = append(buf, payload...)
	buf = append(buf, make([]sample.Sample, PadSamples)...)

	s.out.WriteExact(buf)
	return nil
}

// Receiver owns a background worker that reads from a sample input stream,
// feeds the framer, demodulates emitted payloads, and makes the resulting
// byte packets available through TryRecv/RecvTimeout/RecvPeek.
type Receiver struct {
	modem   modem.Modem
	framer  *Framer
	packets chan []byte
	exit    chan struct{}
	done    chan struct{}
}

// fetchBlockSize is how many samples the worker reads from the input
// stream per iteration.
const fetchBlockSize = sample.BlockSize * 8

func NewReceiver(in sample.Input, m modem.Modem, profile Profile) *Receiver {
	r := &Receiver{
		modem:   m,
		framer:  NewFramer(NewPreamble(), m.SamplesPerPacket(), profile),
		packets: make(chan []byte, 64),
		exit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.worker(in)
	return r
}

func (r *Receiver) worker(in sample.Input) {
	defer close(r.done)

	buf := make([]sample.Sample, fetchBlockSize)
	for {
		select {
		case <-r.exit:
			return
		default:
		}

		n := in.Read(buf)
		for _, s := range buf[:n] {
			payload, ok := r.framer.OnSample(s)
			if !ok {
				continue
			}

			packet, err := r.modem.Demodulate(payload)
			if err != nil {
				log.Warn("demodulate failed", "err", err)
				continue
			}

			select {
			case r.packets <- packet:
			case <-r.exit:
				return
			}
		}

		if n == 0 {
			time.Sleep(time.Millisecond)
		}
	}
}

// TryRecv returns the next demodulated packet without blocking, and false
// if none is currently available.
func (r *Receiver) TryRecv() ([]byte, bool) {
	select {
	case p := <-r.packets:
		return p, true
	default:
		return nil, false
	}
}

// RecvTimeout blocks until a packet is available or the deadline elapses.
func (r *Receiver) RecvTimeout(d time.Duration) ([]byte, bool) {
	select {
	case p := <-r.packets:
		return p, true
	case <-time.After(d):
		return nil, false
	}
}

// RecvPeek reports whether a packet is currently queued.
func (r *Receiver) RecvPeek() bool {
	return len(r.packets) > 0
}

// Close signals the worker to stop and waits for it to exit.
func (r *Receiver) Close() {
	close(r.exit)
	<-r.done
}
