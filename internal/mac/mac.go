package mac

import (
	"errors"
	"time"

	"github.com/doismellburning/athernet/internal/netlog"
	"github.com/doismellburning/athernet/internal/phy"
)

var log = netlog.For("mac")

// WindowSize is the maximum number of unacknowledged packets the sender
// keeps in flight at once.
const WindowSize = 3

// EstimatedRTT is the default round-trip time estimate used to derive the
// retransmit timeout (1.5x this value).
const EstimatedRTT = 150 * time.Millisecond

func retransmitInterval() time.Duration { return EstimatedRTT * 3 / 2 }

// ErrPingTimeout is returned by Ping when no matching PONG arrives before
// the deadline.
var ErrPingTimeout = errors.New("mac: ping timed out")

// Stats counts MAC-layer events for diagnostics/metrics wiring.
type Stats struct {
	PacketsSent     uint64
	Retransmits     uint64
	PacketsReceived uint64
	DuplicatesDropped uint64
	ForeignDropped  uint64
}

type pendingPacket struct {
	packet   Packet
	sendTime time.Time
	retries  int
}

// Mac is the sliding-window ARQ layer built over one PHY sender/receiver
// pair. The worker goroutine owns all mutable state; public methods talk
// to it exclusively through channels.
type Mac struct {
	addr           Addr
	phyPacketBytes int

	sender   *phy.Sender
	receiver *phy.Receiver

	sendReq  chan sendRequest
	pingReq  chan pingRequest
	recvChan chan Packet
	exit     chan struct{}
	done     chan struct{}

	Stats *statsHandle
}

type sendRequest struct {
	packet Packet
}

type pingRequest struct {
	dest  Addr
	reply chan time.Duration
}

// statsHandle guards Stats with a channel-serialized owner, matching the
// rest of the layer's single-writer-goroutine discipline.
type statsHandle struct {
	get chan chan Stats
}

func newStatsHandle() *statsHandle {
	return &statsHandle{get: make(chan chan Stats)}
}

func (h *statsHandle) Snapshot() Stats {
	reply := make(chan Stats, 1)
	h.get <- reply
	return <-reply
}

// New starts the MAC worker over the given PHY sender/receiver pair.
func New(addr Addr, sender *phy.Sender, receiver *phy.Receiver, phyPacketBytes int) *Mac {
	m := &Mac{
		addr:           addr,
		phyPacketBytes: phyPacketBytes,
		sender:         sender,
		receiver:       receiver,
		sendReq:        make(chan sendRequest, 64),
		pingReq:        make(chan pingRequest),
		recvChan:       make(chan Packet, 64),
		exit:           make(chan struct{}),
		done:           make(chan struct{}),
		Stats:          newStatsHandle(),
	}
	go m.run()
	return m
}

// SendTo enqueues a data packet for dest and returns immediately. payload
// must be no longer than PayloadSize(phyPacketBytes).
func (m *Mac) SendTo(dest Addr, payload []byte) {
	if len(payload) > PayloadSize(m.phyPacketBytes) {
		panic("mac: payload exceeds MAC packet capacity")
	}
	m.sendReq <- sendRequest{packet: Packet{Dest: dest, Payload: payload}}
}

// Close signals the worker to stop and waits for it to exit.
func (m *Mac) Close() {
	close(m.exit)
	<-m.done
}

func (m *Mac) run() {
	defer close(m.done)

	var txSeq, rxSeq, pingSeq byte
	var pending []pendingPacket
	var stats Stats
	var outbound []Packet // user SendTo requests awaiting a window slot
	pendingPings := map[byte]chan time.Duration{}
	pingSentAt := map[byte]time.Time{}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.exit:
			return

		case req := <-m.sendReq:
			req.packet.Src = m.addr
			req.packet.Seq = txSeq
			req.packet.Flags = FlagData
			txSeq++
			outbound = append(outbound, req.packet)

		case req := <-m.pingReq:
			seq := pingSeq
			pingSeq++
			pkt := NewPingPacket(m.addr, req.dest, seq, m.phyPacketBytes)
			if err := m.sender.Send(pkt.ToPHY(m.phyPacketBytes)); err != nil {
				log.Warn("ping send failed", "err", err)
			}
			pendingPings[seq] = req.reply
			pingSentAt[seq] = time.Now()

		case <-ticker.C:
			// retransmit anything overdue
			now := time.Now()
			for i := range pending {
				if now.Sub(pending[i].sendTime) > retransmitInterval() {
					pending[i].sendTime = now
					pending[i].retries++
					stats.Retransmits++
					if err := m.sender.Send(pending[i].packet.ToPHY(m.phyPacketBytes)); err != nil {
						log.Warn("retransmit failed", "err", err)
					}
				}
			}

			// admit queued outbound packets into the window
			for len(pending) < WindowSize && len(outbound) > 0 {
				pkt := outbound[0]
				outbound = outbound[1:]
				if err := m.sender.Send(pkt.ToPHY(m.phyPacketBytes)); err != nil {
					log.Warn("send failed", "err", err)
					continue
				}
				stats.PacketsSent++
				pending = append(pending, pendingPacket{packet: pkt, sendTime: now})
			}

			// drain inbound PHY packets
			for {
				raw, ok := m.receiver.TryRecv()
				if !ok {
					break
				}
				pkt := FromPHY(raw)
				if pkt.Dest != m.addr {
					stats.ForeignDropped++
					continue
				}
				stats.PacketsReceived++

				if pkt.Flags.has(FlagAck) {
					pending = removeAcked(pending, pkt.Seq)
					if pkt.Flags.has(FlagPingReply) {
						if reply, ok := pendingPings[pkt.Seq]; ok {
							reply <- now.Sub(pingSentAt[pkt.Seq])
							delete(pendingPings, pkt.Seq)
							delete(pingSentAt, pkt.Seq)
						}
					}
					continue
				}

				if reply, needsReply := pkt.ReplyPacket(); needsReply {
					if err := m.sender.Send(reply.ToPHY(m.phyPacketBytes)); err != nil {
						log.Warn("reply send failed", "err", err)
					}
				}

				if pkt.Flags.has(FlagPingReq) {
					continue
				}

				if !pkt.Flags.has(FlagData) {
					continue
				}

				if pkt.Seq != rxSeq {
					stats.DuplicatesDropped++
					continue
				}
				rxSeq++

				select {
				case m.recvChan <- pkt:
				default:
					log.Warn("recv channel full, dropping in-order packet")
				}
			}

		case reply := <-m.Stats.get:
			reply <- stats
		}
	}
}

func removeAcked(pending []pendingPacket, seq byte) []pendingPacket {
	out := pending[:0]
	for _, p := range pending {
		if p.packet.Seq != seq {
			out = append(out, p)
		}
	}
	return out
}

// TryRecv returns the next in-order application payload, or false if none
// is currently available.
func (m *Mac) TryRecv() ([]byte, bool) {
	select {
	case pkt := <-m.recvChan:
		return pkt.Payload, true
	default:
		return nil, false
	}
}

// RecvTimeout blocks until a payload is available or the deadline elapses.
func (m *Mac) RecvTimeout(d time.Duration) ([]byte, bool) {
	select {
	case pkt := <-m.recvChan:
		return pkt.Payload, true
	case <-time.After(d):
		return nil, false
	}
}

// Ping sends a ping-request with a fresh sequence number and waits up to
// timeout for a matching PONG, returning the observed round-trip time.
func (m *Mac) Ping(dest Addr, timeout time.Duration) (time.Duration, error) {
	reply := make(chan time.Duration, 1)
	m.pingReq <- pingRequest{dest: dest, reply: reply}

	select {
	case rtt := <-reply:
		return rtt, nil
	case <-time.After(timeout):
		return 0, ErrPingTimeout
	}
}
