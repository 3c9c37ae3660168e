package tcpstack

import (
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/doismellburning/athernet/internal/netlog"
	"github.com/doismellburning/athernet/internal/sample"
)

var log = netlog.For("tcp")

// Transport is what a Conn sends segments through and receives them from;
// in production this bridges to the IP broker (internal/ipservice), wrapping
// each segment in an IPv4 datagram and submitting it as a SendRequest.
type Transport interface {
	Send(dst SocketAddr, raw []byte) error
	RecvTimeout(d time.Duration) (src SocketAddr, raw []byte, ok bool)
}

// State is one abbreviated RFC 793 state.
type State int

const (
	StateClosed State = iota
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateClosing
	StateCloseWait
	StateLastAck
	StateTimeWait
	StateTerminate
)

func (s State) String() string {
	return [...]string{
		"Closed", "SynSent", "SynReceived", "Established", "FinWait1",
		"FinWait2", "Closing", "CloseWait", "LastAck", "TimeWait", "Terminate",
	}[s]
}

// RetransmitTimeout and MaxRetries bound the data/control retransmission
// loop before a connection aborts.
const (
	RetransmitTimeout = 2 * time.Second
	MaxRetries        = 5
)

// TimeWaitDuration is how long an actively-closed connection's TIME_WAIT
// lingers before the connection is finally torn down.
const TimeWaitDuration = 2 * RetransmitTimeout

var (
	ErrConnectFailed = errors.New("tcpstack: connection failed to establish")
	ErrClosed        = errors.New("tcpstack: connection closed")
	ErrTimeout       = errors.New("tcpstack: operation timed out")
)

type pendingSegment struct {
	seg      segment
	absSeq   uint64 // for data segments, the first byte's absolute position; 0 for pure control segments tracked by flag
	sentAt   time.Time
	retries  int
	isSyn    bool
	isFin    bool
	dataLen  int
}

type controlKind int

const (
	ctrlShutdownWrite controlKind = iota
	ctrlShutdownRead
	ctrlTerminate
)

type controlSignal struct {
	kind   controlKind
	result chan error
}

// Conn is one TCP connection's dedicated state-machine worker, matching
// spec.md's "the state machine runs in a dedicated thread; application
// threads interact through two unbounded byte queues and a control signal
// channel" — the same single-goroutine-owns-state discipline as
// internal/mac.Mac, generalized to the richer TCP transition table.
type Conn struct {
	id        uuid.UUID // correlates this connection's lifecycle across log lines
	localAddr SocketAddr
	transport Transport

	recv func(time.Duration) (SocketAddr, []byte, bool)

	sendBuf *sample.ConcurrentBuffer[byte]
	recvBuf *sample.ConcurrentBuffer[byte]

	control chan controlSignal
	exit    chan struct{}
	done    chan struct{}

	readClosed chan struct{}
}

func newConn(localAddr SocketAddr, transport Transport, recv func(time.Duration) (SocketAddr, []byte, bool)) *Conn {
	c := &Conn{
		id:         uuid.New(),
		localAddr:  localAddr,
		transport:  transport,
		recv:       recv,
		sendBuf:    sample.NewConcurrentBuffer[byte](),
		recvBuf:    sample.NewConcurrentBuffer[byte](),
		control:    make(chan controlSignal),
		exit:       make(chan struct{}),
		done:       make(chan struct{}),
		readClosed: make(chan struct{}),
	}
	return c
}

// Dial starts a Conn in the Closed state and immediately drives it through
// the active-open handshake, blocking until Established or the handshake
// exhausts its retries.
func Dial(localAddr SocketAddr, transport Transport, dest SocketAddr) (*Conn, error) {
	c := newConn(localAddr, transport, func(d time.Duration) (SocketAddr, []byte, bool) {
		src, raw, ok := transport.RecvTimeout(d)
		if !ok || src.IP.String() != dest.IP.String() || src.Port != dest.Port {
			return SocketAddr{}, nil, false
		}
		return src, raw, true
	})

	result := make(chan error, 1)
	go c.run(dest, result)

	select {
	case err := <-result:
		if err != nil {
			return nil, err
		}
		return c, nil
	case <-time.After(RetransmitTimeout * (MaxRetries + 1)):
		c.Close()
		return nil, ErrTimeout
	}
}

// acceptConn is used by Listener to build a Conn already past the passive
// handshake's first step (SYN received, SYN-ACK about to be sent).
func acceptConn(localAddr, peer SocketAddr, transport Transport, inbox <-chan []byte, peerSeq uint32) *Conn {
	c := newConn(localAddr, transport, func(d time.Duration) (SocketAddr, []byte, bool) {
		select {
		case raw := <-inbox:
			return peer, raw, true
		case <-time.After(d):
			return SocketAddr{}, nil, false
		}
	})

	result := make(chan error, 1)
	go c.runPassive(peer, peerSeq, result)
	<-result // passive open doesn't block the caller on handshake completion

	return c
}

func (c *Conn) run(dest SocketAddr, result chan<- error) {
	defer close(c.done)

	isn := NewWrappingInt32(rand.Uint32()) //nolint:gosec // sequence number, not a security boundary
	st := &connState{
		peer:     dest,
		state:    StateSynSent,
		sendISN:  isn,
		sendNext: 0,
	}

	syn := segment{SrcPort: c.localAddr.Port, DstPort: dest.Port, Seq: isn.RawValue(), Flags: FlagSYN, Window: reassemblerCapacity}
	c.send(dest, syn)
	st.pending = append(st.pending, pendingSegment{seg: syn, sentAt: time.Now(), isSyn: true})

	c.loop(st, result)
}

func (c *Conn) runPassive(peer SocketAddr, peerSeq uint32, result chan<- error) {
	isn := NewWrappingInt32(rand.Uint32()) //nolint:gosec
	st := &connState{
		peer:      peer,
		state:     StateSynReceived,
		sendISN:   isn,
		sendNext:  0,
		recvISN:   NewWrappingInt32(peerSeq),
		recvNext:  1,
		reasm:     newReassembler(c.recvBuf),
	}

	synAck := segment{SrcPort: c.localAddr.Port, DstPort: peer.Port, Seq: isn.RawValue(), Ack: NewWrappingInt32(peerSeq).Add(1).RawValue(), Flags: FlagSYN | FlagACK, Window: reassemblerCapacity}
	c.send(peer, synAck)
	st.pending = append(st.pending, pendingSegment{seg: synAck, sentAt: time.Now(), isSyn: true})

	result <- nil
	go c.loop(st, nil)
}

func (c *Conn) send(dest SocketAddr, seg segment) {
	if err := c.transport.Send(dest, encodeSegment(seg)); err != nil {
		log.Warn("tcp segment send failed", "conn", c.id, "err", err)
	}
}

// connState holds everything the run loop mutates; kept separate from Conn
// itself so Conn's exported surface stays small.
type connState struct {
	peer     SocketAddr
	state    State
	sendISN  WrappingInt32
	sendNext uint64 // absolute sequence number of the next byte to send
	sendUna  uint64 // absolute sequence number of the oldest unacked byte

	recvISN  WrappingInt32
	recvNext uint64

	peerWindow uint16
	reasm      *reassembler

	pending      []pendingSegment
	readDropped  bool
	localFinSent bool
	timeWaitAt   time.Time
}

func (c *Conn) loop(st *connState, handshakeResult chan<- error) {
	if handshakeResult == nil {
		defer close(c.done)
	}

	if st.reasm == nil {
		st.reasm = newReassembler(c.recvBuf)
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-c.exit:
			return

		case sig := <-c.control:
			c.handleControl(st, sig)
			if st.state == StateTerminate {
				return
			}

		case <-ticker.C:
			c.tick(st)
			if handshakeResult != nil && st.state == StateEstablished {
				handshakeResult <- nil
				handshakeResult = nil
			}
			if st.state == StateTerminate {
				if handshakeResult != nil {
					handshakeResult <- ErrConnectFailed
				}
				return
			}
		}
	}
}

func (c *Conn) handleControl(st *connState, sig controlSignal) {
	switch sig.kind {
	case ctrlShutdownWrite:
		if !st.localFinSent && (st.state == StateEstablished || st.state == StateCloseWait) {
			fin := segment{
				SrcPort: c.localAddr.Port,
				DstPort: st.peer.Port,
				Seq:     WrapSeq(st.sendNext, st.sendISN).RawValue(),
				Flags:   FlagFIN,
				Window:  st.reasm.window(),
			}
			c.send(st.peer, fin)
			st.pending = append(st.pending, pendingSegment{seg: fin, sentAt: time.Now(), isFin: true})
			st.sendNext++
			st.localFinSent = true
			if st.state == StateEstablished {
				st.state = StateFinWait1
			} else {
				st.state = StateLastAck
			}
		}
		close(sig.result)
	case ctrlShutdownRead:
		st.readDropped = true
		close(sig.result)
	case ctrlTerminate:
		st.state = StateTerminate
		close(sig.result)
	}
}

func (c *Conn) tick(st *connState) {
	c.retransmitOverdue(st)
	c.sendPendingData(st)
	c.drainInbound(st)

	if st.state == StateTimeWait && time.Since(st.timeWaitAt) > TimeWaitDuration {
		st.state = StateTerminate
	}
}

func (c *Conn) retransmitOverdue(st *connState) {
	now := time.Now()
	kept := st.pending[:0]
	for _, p := range st.pending {
		if now.Sub(p.sentAt) <= RetransmitTimeout {
			kept = append(kept, p)
			continue
		}
		if p.retries >= MaxRetries {
			st.state = StateTerminate
			continue
		}
		p.retries++
		p.sentAt = now
		log.Debug("retransmitting segment", "conn", c.id, "retry", p.retries)
		c.send(st.peer, p.seg)
		kept = append(kept, p)
	}
	st.pending = kept
}

func (c *Conn) sendPendingData(st *connState) {
	if st.state != StateEstablished && st.state != StateCloseWait {
		return
	}

	inFlight := st.sendNext - st.sendUna
	budget := int(st.peerWindow) - int(inFlight)
	if budget <= 0 {
		return
	}
	if budget > MSS {
		budget = MSS
	}

	chunk := make([]byte, budget)
	n := c.sendBuf.PopSlice(chunk)
	if n == 0 {
		return
	}
	chunk = chunk[:n]

	seg := segment{
		SrcPort: c.localAddr.Port,
		DstPort: st.peer.Port,
		Seq:     WrapSeq(st.sendNext, st.sendISN).RawValue(),
		Ack:     WrapSeq(st.recvNext, st.recvISN).RawValue(),
		Flags:   FlagACK,
		Window:  st.reasm.window(),
		Payload: chunk,
	}
	c.send(st.peer, seg)
	st.pending = append(st.pending, pendingSegment{seg: seg, sentAt: time.Now(), absSeq: st.sendNext, dataLen: n})
	st.sendNext += uint64(n)
}

func (c *Conn) drainInbound(st *connState) {
	for {
		_, raw, ok := c.recv(0)
		if !ok {
			return
		}
		seg, ok := decodeSegment(raw)
		if !ok {
			continue
		}
		c.handleSegment(st, seg)
	}
}

func (c *Conn) handleSegment(st *connState, seg segment) {
	if seg.Flags.has(FlagACK) {
		c.processAck(st, seg.Ack)
		st.peerWindow = seg.Window
	}

	switch st.state {
	case StateSynSent:
		if seg.Flags.has(FlagSYN) && seg.Flags.has(FlagACK) && seg.Ack == WrapSeq(1, st.sendISN).RawValue() {
			st.sendUna = 1
			st.recvISN = NewWrappingInt32(seg.Seq)
			st.recvNext = 1
			st.reasm = newReassembler(c.recvBuf)
			ack := segment{SrcPort: c.localAddr.Port, DstPort: st.peer.Port, Seq: WrapSeq(1, st.sendISN).RawValue(), Ack: WrapSeq(1, st.recvISN).RawValue(), Flags: FlagACK, Window: st.reasm.window()}
			c.send(st.peer, ack)
			st.state = StateEstablished
		}
		return

	case StateSynReceived:
		if seg.Flags.has(FlagACK) {
			st.sendUna = 1
			st.state = StateEstablished
		}
		return
	}

	if seg.Flags.has(FlagRST) {
		st.state = StateTerminate
		return
	}

	if len(seg.Payload) > 0 {
		absSeq := UnwrapSeq(NewWrappingInt32(seg.Seq), st.recvISN, st.recvNext)
		if !st.readDropped {
			st.reasm.push(absSeq, seg.Payload)
			st.recvNext = st.reasm.base
		} else {
			st.recvNext = absSeq + uint64(len(seg.Payload))
		}
		ack := segment{SrcPort: c.localAddr.Port, DstPort: st.peer.Port, Seq: WrapSeq(st.sendNext, st.sendISN).RawValue(), Ack: WrapSeq(st.recvNext, st.recvISN).RawValue(), Flags: FlagACK, Window: st.reasm.window()}
		c.send(st.peer, ack)
	}

	if seg.Flags.has(FlagFIN) {
		st.recvNext++
		ack := segment{SrcPort: c.localAddr.Port, DstPort: st.peer.Port, Seq: WrapSeq(st.sendNext, st.sendISN).RawValue(), Ack: WrapSeq(st.recvNext, st.recvISN).RawValue(), Flags: FlagACK, Window: st.reasm.window()}
		c.send(st.peer, ack)
		close(c.readClosed)

		switch st.state {
		case StateEstablished:
			st.state = StateCloseWait
		case StateFinWait1:
			st.state = StateClosing
		case StateFinWait2:
			st.state = StateTimeWait
			st.timeWaitAt = time.Now()
		}
	}
}

func (c *Conn) processAck(st *connState, ack uint32) {
	acked := UnwrapSeq(NewWrappingInt32(ack), st.sendISN, st.sendNext)
	if acked <= st.sendUna {
		return
	}
	st.sendUna = acked

	kept := st.pending[:0]
	for _, p := range st.pending {
		end := p.absSeq + uint64(p.dataLen)
		if p.isSyn {
			end = 1
		}
		if p.isFin {
			end = st.sendNext
		}
		if end <= acked {
			continue // fully acknowledged, drop from the retransmit queue
		}
		kept = append(kept, p)
	}
	st.pending = kept

	if st.state == StateFinWait1 && st.localFinSent && acked >= st.sendNext {
		st.state = StateFinWait2
	}
	if st.state == StateLastAck && acked >= st.sendNext {
		st.state = StateTerminate
	}
	if st.state == StateClosing && acked >= st.sendNext {
		st.state = StateTimeWait
		st.timeWaitAt = time.Now()
	}
}

// Write enqueues data for transmission; it does not block, relying on the
// bounded peer window and sliding pending-segment queue for backpressure.
func (c *Conn) Write(data []byte) {
	c.sendBuf.PushSlice(data)
}

// Read blocks until at least one byte is available or the deadline elapses,
// returning as many buffered bytes as are ready.
func (c *Conn) Read(buf []byte, deadline time.Duration) (int, error) {
	done := make(chan int, 1)
	go func() {
		dst := buf
		n := c.recvBuf.PopSlice(dst)
		for n == 0 {
			select {
			case <-c.readClosed:
				done <- 0
				return
			default:
			}
			time.Sleep(time.Millisecond)
			n = c.recvBuf.PopSlice(dst)
		}
		done <- n
	}()

	select {
	case n := <-done:
		return n, nil
	case <-time.After(deadline):
		return 0, ErrTimeout
	}
}

func (c *Conn) sendControl(kind controlKind) error {
	result := make(chan error, 1)
	select {
	case c.control <- controlSignal{kind: kind, result: result}:
	case <-c.done:
		return ErrClosed
	}
	select {
	case <-result:
		return nil
	case <-c.done:
		return nil
	}
}

// ShutdownWrite sends a FIN; bytes passed to Write afterwards are queued
// but never transmitted. Reads may continue until the peer's own FIN
// arrives.
func (c *Conn) ShutdownWrite() error { return c.sendControl(ctrlShutdownWrite) }

// ShutdownRead discards further inbound bytes at the reassembler without
// tearing down the write side.
func (c *Conn) ShutdownRead() error { return c.sendControl(ctrlShutdownRead) }

// Terminate tears the connection down immediately from within the state
// machine's own worker, without waiting on the FIN handshake.
func (c *Conn) Terminate() error { return c.sendControl(ctrlTerminate) }

// Close terminates the connection immediately without a graceful close
// handshake.
func (c *Conn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	close(c.exit)
	<-c.done
	return nil
}
