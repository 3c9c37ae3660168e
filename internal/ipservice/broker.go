package ipservice

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/doismellburning/athernet/internal/ipmac"
	"github.com/doismellburning/athernet/internal/mac"
	"github.com/doismellburning/athernet/internal/netlog"
)

var log = netlog.For("ipbroker")

// ipcTimeout bounds how long the IPC reader blocks per iteration, so the
// broker's worker loop stays responsive to MAC traffic and shutdown.
const ipcTimeout = 10 * time.Millisecond

// bindKey identifies a client's claimed (protocol, address[, port]) slice of
// the demux space. Port is ignored (zero) for ICMP, which demuxes on
// destination address alone.
type bindKey struct {
	protocol Protocol
	addr     string
	port     uint16
}

type binding struct {
	key        bindKey
	clientAddr net.Addr
	owner      xid.ID
}

// ForwardHook lets a gateway intercept datagrams the broker could not
// deliver to any local client, translating and forwarding them onto the
// external network. It returns true if it handled (or deliberately
// dropped) the datagram; false tells the broker to log AddrUnreachable.
type ForwardHook func(datagram IPv4, raw []byte) bool

// Broker is the per-node singleton described in spec.md 4.8: it owns the
// one MAC endpoint, demultiplexes inbound IPv4 to IPC clients, and exposes
// Send for clients to push outbound datagrams onto the acoustic link.
type Broker struct {
	selfAddr net.IP
	peer     mac.Addr

	m    *mac.Mac
	frag *ipmac.Fragmenter

	ipc     *net.UnixConn
	ipcPath string

	mu       sync.Mutex
	bindings map[bindKey]binding

	// Forward is consulted for datagrams with no local binding; nil on a
	// plain (non-gateway) node, where such datagrams are simply dropped.
	Forward ForwardHook

	// OnCorruptPacket, if set, is called once per inbound datagram that
	// fails IPv4 header checksum validation, for metrics wiring.
	OnCorruptPacket func()

	exit chan struct{}
	done chan struct{}
}

// NewBroker starts the broker's IPC listener and MAC-polling worker. peer is
// the single Athernet MAC address this node's traffic is addressed to/from
// (spec.md's non-goals exclude multi-hop routing and more than two peers).
func NewBroker(selfAddr net.IP, peer mac.Addr, m *mac.Mac, macPayloadBytes int, ipcPath string) (*Broker, error) {
	_ = os.Remove(ipcPath)

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: ipcPath, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("ipservice: binding IPC socket %s: %w", ipcPath, err)
	}

	b := &Broker{
		selfAddr: selfAddr,
		peer:     peer,
		m:        m,
		frag:     ipmac.NewFragmenter(macPayloadBytes),
		ipc:      conn,
		ipcPath:  ipcPath,
		bindings: map[bindKey]binding{},
		exit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go b.run()

	return b, nil
}

// Close tears down the IPC socket and stops the worker.
func (b *Broker) Close() {
	close(b.exit)
	<-b.done
	b.ipc.Close()
	_ = os.Remove(b.ipcPath)
}

// Send fragments datagram over MAC to the configured peer. It is the
// primitive both the IPC SendRequest handler and a gateway's forward-in path
// use to push a datagram onto the acoustic link.
func (b *Broker) Send(datagram []byte) {
	for _, fragment := range b.frag.Fragment(datagram) {
		b.m.SendTo(b.peer, fragment)
	}
}

func (b *Broker) run() {
	defer close(b.done)

	reassembler := ipmac.NewReassembler()
	frame := make([]byte, MaxMessageSize)

	for {
		select {
		case <-b.exit:
			return
		default:
		}

		if fragment, ok := b.m.RecvTimeout(ipcTimeout); ok {
			if datagram, done := reassembler.Push(fragment); done {
				b.routeInbound(datagram)
			}
		}

		if err := b.ipc.SetReadDeadline(time.Now().Add(ipcTimeout)); err != nil {
			log.Warn("setting IPC read deadline failed", "err", err)
			continue
		}

		n, clientAddr, err := b.ipc.ReadFrom(frame)
		if err != nil {
			continue // timeout or transient error; retry next tick
		}

		b.handleIPC(frame[:n], clientAddr)
	}
}

func (b *Broker) handleIPC(raw []byte, clientAddr net.Addr) {
	switch kind := messageKind(raw[0]); kind {
	case kindBindRequest:
		var req BindRequest
		if _, err := decodeMessage(raw, &req); err != nil {
			log.Warn("malformed bind request", "err", err)
			return
		}
		b.handleBind(req, clientAddr)

	case kindUnbindRequest:
		b.handleUnbind(clientAddr)

	case kindSendRequest:
		var req SendRequest
		if _, err := decodeMessage(raw, &req); err != nil {
			log.Warn("malformed send request", "err", err)
			return
		}
		b.Send(req.Datagram)

	default:
		log.Warn("unexpected IPC message kind", "kind", kind)
	}
}

func (b *Broker) handleBind(req BindRequest, clientAddr net.Addr) {
	key := bindKey{protocol: req.Protocol, addr: req.Addr, port: req.Port}
	if req.Protocol == ProtocolICMP {
		key.port = 0
	}

	b.mu.Lock()
	_, taken := b.bindings[key]
	if !taken {
		b.bindings[key] = binding{key: key, clientAddr: clientAddr, owner: xid.New()}
	}
	b.mu.Unlock()

	b.replyBind(clientAddr, !taken)
}

func (b *Broker) handleUnbind(clientAddr net.Addr) {
	b.mu.Lock()
	for key, bnd := range b.bindings {
		if sameAddr(bnd.clientAddr, clientAddr) {
			delete(b.bindings, key)
		}
	}
	b.mu.Unlock()
}

func (b *Broker) replyBind(clientAddr net.Addr, ok bool) {
	frame, err := encodeMessage(kindBindResponse, BindResponse{OK: ok})
	if err != nil {
		log.Warn("encoding bind response failed", "err", err)
		return
	}
	if _, err := b.ipc.WriteTo(frame, clientAddr); err != nil {
		log.Warn("sending bind response failed", "err", err)
	}
}

// routeInbound demultiplexes a reassembled IPv4 datagram to whichever bound
// client owns its (protocol, addr[, port]), per spec.md 4.8: ICMP matches by
// destination address, UDP/TCP by (destination address, destination port).
func (b *Broker) routeInbound(raw []byte) {
	if !ValidateIPv4Checksum(raw) {
		log.Warn("CorruptPacket: IPv4 header checksum mismatch, dropping")
		if b.OnCorruptPacket != nil {
			b.OnCorruptPacket()
		}
		return
	}

	parsed, err := ParseIPv4(raw)
	if err != nil {
		log.Warn("dropping malformed inbound datagram", "err", err)
		return
	}

	key, ok := demuxKey(parsed)
	if !ok {
		log.Warn("dropping inbound datagram for unsupported protocol", "protocol", parsed.Protocol)
		return
	}

	b.mu.Lock()
	bnd, found := b.bindings[key]
	b.mu.Unlock()

	if found {
		b.deliver(bnd.clientAddr, raw)
		return
	}

	if b.Forward != nil && b.Forward(parsed, raw) {
		return
	}

	log.Warn("AddrUnreachable: no client bound, dropping", "protocol", parsed.Protocol, "dst", parsed.Dst)
}

func demuxKey(p IPv4) (bindKey, bool) {
	switch p.Protocol {
	case ProtocolICMP:
		return bindKey{protocol: ProtocolICMP, addr: p.Dst.String()}, true
	case ProtocolUDP:
		_, dstPort, ok := UDPPorts(p.Payload)
		if !ok {
			return bindKey{}, false
		}
		return bindKey{protocol: ProtocolUDP, addr: p.Dst.String(), port: dstPort}, true
	case ProtocolTCP:
		_, dstPort, ok := TCPPorts(p.Payload)
		if !ok {
			return bindKey{}, false
		}
		return bindKey{protocol: ProtocolTCP, addr: p.Dst.String(), port: dstPort}, true
	default:
		return bindKey{}, false
	}
}

func (b *Broker) deliver(clientAddr net.Addr, datagram []byte) {
	frame, err := encodeMessage(kindReceivedMessage, ReceivedMessage{Datagram: datagram})
	if err != nil {
		log.Warn("encoding received message failed", "err", err)
		return
	}
	if _, err := b.ipc.WriteTo(frame, clientAddr); err != nil {
		log.Warn("delivering to client failed", "err", err)
	}
}

func sameAddr(a, b net.Addr) bool {
	return a.Network() == b.Network() && a.String() == b.String()
}

// ErrBindFailed is returned by client-side helpers when the broker refuses a
// bind because the (protocol, addr[, port]) tuple is already owned.
var ErrBindFailed = errors.New("ipservice: address already bound")
