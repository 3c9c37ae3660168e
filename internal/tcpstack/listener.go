package tcpstack

import (
	"sync"
	"time"
)

// Listener runs a single accept worker that demultiplexes inbound SYNs by
// peer address: a SYN from an address with no existing connection spawns a
// new Conn and the loop hands it to Accept's caller; segments for peers
// already accepted are routed to that Conn's inbox instead.
type Listener struct {
	localAddr SocketAddr
	transport Transport

	mu    sync.Mutex
	peers map[string]chan []byte

	accepted chan *Conn
	exit     chan struct{}
	done     chan struct{}
}

// Listen starts accepting inbound connections for localAddr.
func Listen(localAddr SocketAddr, transport Transport) *Listener {
	l := &Listener{
		localAddr: localAddr,
		transport: transport,
		peers:     map[string]chan []byte{},
		accepted:  make(chan *Conn, 16),
		exit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go l.run()
	return l
}

// Accept blocks until a SYN has been answered and returns that connection,
// still in SynReceived; its handshake completes in the background.
func (l *Listener) Accept() (*Conn, error) {
	select {
	case c := <-l.accepted:
		return c, nil
	case <-l.done:
		return nil, ErrClosed
	}
}

// Close stops the accept worker. Already-accepted connections receive
// inbound segments only through that worker, so after Close they receive
// none.
func (l *Listener) Close() error {
	close(l.exit)
	<-l.done
	return nil
}

func (l *Listener) run() {
	defer close(l.done)

	for {
		select {
		case <-l.exit:
			return
		default:
		}

		src, raw, ok := l.transport.RecvTimeout(10 * time.Millisecond)
		if !ok {
			continue
		}

		seg, ok := decodeSegment(raw)
		if !ok || seg.DstPort != l.localAddr.Port {
			continue
		}

		key := src.String()

		l.mu.Lock()
		inbox, known := l.peers[key]
		l.mu.Unlock()

		if known {
			select {
			case inbox <- raw:
			default:
			}
			continue
		}

		if !seg.Flags.has(FlagSYN) {
			continue // only a fresh SYN starts a new connection
		}

		inbox = make(chan []byte, 64)
		l.mu.Lock()
		l.peers[key] = inbox
		l.mu.Unlock()

		conn := acceptConn(l.localAddr, src, l.transport, inbox, seg.Seq)

		select {
		case l.accepted <- conn:
		case <-l.exit:
			return
		}
	}
}
