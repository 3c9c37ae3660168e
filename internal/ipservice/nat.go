package ipservice

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IdleTimeout is how long a NAT mapping survives without traffic before the
// sweep evicts it. The source material leaves eviction unspecified; 60s is
// the suggested bound.
const IdleTimeout = 60 * time.Second

// flowKey identifies one Athernet-side flow: its address and source port.
type flowKey struct {
	addr string
	port uint16
}

type natEntry struct {
	athernet flowKey
	external uint16
	lastUsed time.Time
}

// NatTable is a bijective mapping between Athernet-side (ip, port) flows and
// external-side ports, scoped to a single transport protocol. Outbound
// translation, inbound translation, sweeping and the metrics count run on
// different goroutines, so every method takes mu.
type NatTable struct {
	mu         sync.Mutex
	toExternal map[flowKey]*natEntry
	toAthernet map[uint16]*natEntry
	limiter    *rate.Limiter
}

// NewNatTable builds an empty table. limiter paces how often Sweep is
// allowed to actually scan for idle entries, so a gateway can call Sweep on
// every poll loop iteration without it becoming a hot path.
func NewNatTable() *NatTable {
	return &NatTable{
		toExternal: map[flowKey]*natEntry{},
		toAthernet: map[uint16]*natEntry{},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Allocate returns the external port mapped to (addr, port), creating a
// fresh random-port mapping on first use. It is bijective: a given external
// port maps back to exactly the flow that produced it.
func (t *NatTable) Allocate(addr net.IP, port uint16) uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := flowKey{addr: addr.String(), port: port}
	if entry, ok := t.toExternal[key]; ok {
		entry.lastUsed = time.Now()
		return entry.external
	}

	var external uint16
	for {
		external = uint16(1024 + rand.Intn(64512)) //nolint:gosec // port selection, not a security boundary
		if _, taken := t.toAthernet[external]; !taken {
			break
		}
	}

	entry := &natEntry{athernet: key, external: external, lastUsed: time.Now()}
	t.toExternal[key] = entry
	t.toAthernet[external] = entry

	return external
}

// Reverse looks up the Athernet-side (addr, port) for an inbound packet
// addressed to external port. ok is false if no live mapping exists.
func (t *NatTable) Reverse(external uint16) (addr net.IP, port uint16, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, found := t.toAthernet[external]
	if !found {
		return nil, 0, false
	}
	entry.lastUsed = time.Now()

	return net.ParseIP(entry.athernet.addr), entry.athernet.port, true
}

// Sweep removes mappings idle for longer than IdleTimeout, rate-limited so
// repeated calls from a hot poll loop don't rescan the table every tick.
func (t *NatTable) Sweep() {
	if !t.limiter.Allow() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for key, entry := range t.toExternal {
		if now.Sub(entry.lastUsed) > IdleTimeout {
			delete(t.toExternal, key)
			delete(t.toAthernet, entry.external)
		}
	}
}

// Len reports the number of live mappings, for metrics.
func (t *NatTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.toExternal)
}
