package ipservice

import (
	"bytes"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/doismellburning/athernet/internal/netlog"
)

var gatewayLog = netlog.For("gateway")

// DefaultICMPCookie is the trailing payload marker that admits an otherwise
// unsolicited inbound ICMP echo request; spec.md 4.8 calls this out as
// implementer-configurable and gives "Freiheit" as the default.
var DefaultICMPCookie = []byte("Freiheit")

// icmpBypassBurst caps how many cookie-admitted echo requests can arrive in
// a burst, so a leaked cookie can't be used to flood the internal node.
const icmpBypassBurst = 4

// Gateway extends a Broker with NAT translation between the Athernet domain
// and raw-IP external handles, one per transport protocol.
type Gateway struct {
	broker       *Broker
	externalIP   net.IP
	athernetNet  *net.IPNet
	athernetPeer net.IP
	nat          map[Protocol]*NatTable
	raw          map[Protocol]RawIP
	icmpCookie   []byte
	bypass       *rate.Limiter

	exit chan struct{}
	done chan struct{}
}

// NewGateway wires broker to external raw-IP handles for UDP, TCP, and ICMP,
// bound to externalIP. athernetNet identifies addresses considered internal
// to the Athernet domain (traffic destined there is never translated).
// athernetPeer is the single internal node ICMP traffic is reflected back
// to, since the Athernet collision domain never holds more than two peers.
func NewGateway(broker *Broker, externalIP net.IP, athernetNet *net.IPNet, athernetPeer net.IP) (*Gateway, error) {
	g := &Gateway{
		broker:       broker,
		externalIP:   externalIP,
		athernetNet:  athernetNet,
		athernetPeer: athernetPeer,
		nat:          map[Protocol]*NatTable{},
		raw:          map[Protocol]RawIP{},
		icmpCookie:   DefaultICMPCookie,
		bypass:       rate.NewLimiter(rate.Every(time.Second), icmpBypassBurst),
		exit:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	for _, protocol := range []Protocol{ProtocolUDP, ProtocolTCP, ProtocolICMP} {
		handle, err := OpenRawIP(protocol, externalIP)
		if err != nil {
			g.closeOpened()
			return nil, err
		}
		g.raw[protocol] = handle
		g.nat[protocol] = NewNatTable()
	}

	broker.Forward = g.forwardOut

	go g.pollExternal()

	return g, nil
}

// NatCounts reports the live mapping count of each protocol's NAT table,
// for metrics wiring.
func (g *Gateway) NatCounts() map[Protocol]int {
	counts := make(map[Protocol]int, len(g.nat))
	for protocol, table := range g.nat {
		counts[protocol] = table.Len()
	}
	return counts
}

func (g *Gateway) closeOpened() {
	for _, h := range g.raw {
		h.Close()
	}
}

// Close stops the external polling loop and closes every raw handle.
func (g *Gateway) Close() {
	close(g.exit)
	<-g.done
	g.closeOpened()
}

// forwardOut is installed as the Broker's ForwardHook: it's consulted for
// any inbound-from-Athernet datagram with no locally bound client. It
// returns false (meaning: broker should log AddrUnreachable) for anything
// destined within the Athernet domain, since that's not this gateway's job.
func (g *Gateway) forwardOut(parsed IPv4, raw []byte) bool {
	if g.athernetNet != nil && g.athernetNet.Contains(parsed.Dst) {
		return false
	}

	table, ok := g.nat[parsed.Protocol]
	if !ok {
		return false
	}

	handle := g.raw[parsed.Protocol]

	switch parsed.Protocol {
	case ProtocolUDP:
		srcPort, _, ok := UDPPorts(parsed.Payload)
		if !ok {
			return false
		}
		external := table.Allocate(parsed.Src, srcPort)
		translated := RewriteIPv4(raw, g.externalIP, nil, external, 0)
		return g.send(handle, translated)

	case ProtocolTCP:
		srcPort, _, ok := TCPPorts(parsed.Payload)
		if !ok {
			return false
		}
		external := table.Allocate(parsed.Src, srcPort)
		translated := RewriteIPv4(raw, g.externalIP, nil, external, 0)
		return g.send(handle, translated)

	case ProtocolICMP:
		translated := RewriteIPv4(raw, g.externalIP, nil, 0, 0)
		return g.send(handle, translated)

	default:
		return false
	}
}

func (g *Gateway) send(handle RawIP, datagram []byte) bool {
	if err := handle.Send(datagram); err != nil {
		gatewayLog.Warn("external send failed", "err", err)
		return false
	}
	return true
}

// pollExternal reads each protocol's raw handle in turn, translating
// inbound traffic back onto the Athernet domain (the "forward_in" path) and
// periodically sweeping idle NAT mappings.
func (g *Gateway) pollExternal() {
	defer close(g.done)

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-g.exit:
			return
		case <-ticker.C:
			for protocol, handle := range g.raw {
				datagram, ok, err := handle.Recv()
				if err != nil {
					gatewayLog.Warn("external recv failed", "protocol", protocol, "err", err)
					continue
				}
				if !ok {
					continue
				}
				g.forwardIn(protocol, datagram)
			}
			for _, table := range g.nat {
				table.Sweep()
			}
		}
	}
}

// forwardIn reverses a NAT mapping for an inbound external datagram and, if
// one exists, rewrites and forwards it to the Athernet peer over MAC.
func (g *Gateway) forwardIn(protocol Protocol, raw []byte) {
	parsed, err := ParseIPv4(raw)
	if err != nil {
		gatewayLog.Warn("dropping malformed external datagram", "err", err)
		return
	}

	switch protocol {
	case ProtocolUDP, ProtocolTCP:
		var dstPort uint16
		var ok bool
		if protocol == ProtocolUDP {
			_, dstPort, ok = UDPPorts(parsed.Payload)
		} else {
			_, dstPort, ok = TCPPorts(parsed.Payload)
		}
		if !ok {
			return
		}

		addr, athernetPort, found := g.nat[protocol].Reverse(dstPort)
		if !found {
			return // no mapping: AddrUnreachable, drop
		}

		translated := RewriteIPv4(raw, nil, addr, 0, athernetPort)
		g.broker.Send(translated)

	case ProtocolICMP:
		if !g.admitICMP(parsed) {
			return
		}
		translated := RewriteIPv4(raw, nil, g.athernetPeer, 0, 0)
		g.broker.Send(translated)
	}
}

// admitICMP applies spec.md 4.8's echo-request cookie gate: echo replies
// always pass; echo requests only pass if their payload ends with the
// configured cookie, and even then are rate-limited.
func (g *Gateway) admitICMP(parsed IPv4) bool {
	msgType, ok := ICMPType(parsed.Payload)
	if !ok {
		return false
	}

	switch msgType {
	case icmpEchoReply:
		return true
	case icmpEchoRequest:
		if !bytes.HasSuffix(parsed.Payload, g.icmpCookie) {
			return false
		}
		return g.bypass.Allow()
	default:
		return false
	}
}
