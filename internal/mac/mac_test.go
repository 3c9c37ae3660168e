package mac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doismellburning/athernet/internal/modem"
	"github.com/doismellburning/athernet/internal/phy"
	"github.com/doismellburning/athernet/internal/sample"
)

type macPair struct {
	a, b       *Mac
	addrA      Addr
	addrB      Addr
	payloadCap int
}

func newLoopbackPair(t *testing.T) macPair {
	t.Helper()

	m := modem.NewPSK(modem.ProfileWired)

	outAtoB, inAtoB := sample.NewLoopback()
	outBtoA, inBtoA := sample.NewLoopback()

	addrA, err := NewAddr(1)
	require.NoError(t, err)
	addrB, err := NewAddr(2)
	require.NoError(t, err)

	senderA := phy.NewSender(outAtoB, m)
	receiverA := phy.NewReceiver(inBtoA, m, phy.ProfileWired)
	macA := New(addrA, senderA, receiverA, m.BytesPerPacket())

	senderB := phy.NewSender(outBtoA, m)
	receiverB := phy.NewReceiver(inAtoB, m, phy.ProfileWired)
	macB := New(addrB, senderB, receiverB, m.BytesPerPacket())

	t.Cleanup(func() {
		macA.Close()
		macB.Close()
		receiverA.Close()
		receiverB.Close()
	})

	return macPair{a: macA, b: macB, addrA: addrA, addrB: addrB, payloadCap: PayloadSize(m.BytesPerPacket())}
}

// Two MAC peers exchanging N data payloads over a loopback PHY deliver
// exactly N payloads in send order at the receiver.
func TestMacInOrderExactlyOnce(t *testing.T) {
	pair := newLoopbackPair(t)

	const n = 20
	const size = 16
	require.LessOrEqual(t, size, pair.payloadCap)

	want := make([][]byte, n)
	for i := range want {
		p := make([]byte, size)
		for j := range p {
			p[j] = byte((i*size + j) % 256)
		}
		want[i] = p
		pair.a.SendTo(pair.addrB, p)
	}

	got := make([][]byte, 0, n)
	deadline := time.Now().Add(5 * time.Second)
	for len(got) < n && time.Now().Before(deadline) {
		if payload, ok := pair.b.RecvTimeout(200 * time.Millisecond); ok {
			got = append(got, payload[:size])
		}
	}

	require.Len(t, got, n)
	for i := range want {
		assert.Equal(t, want[i], got[i], "payload %d out of order or corrupted", i)
	}
}

// Successive ping round-trips over a loopback PHY each complete within the
// timeout.
func TestMacPingPong(t *testing.T) {
	pair := newLoopbackPair(t)

	for i := 0; i < 3; i++ {
		rtt, err := pair.a.Ping(pair.addrB, 200*time.Millisecond)
		require.NoError(t, err)
		assert.LessOrEqual(t, rtt, 200*time.Millisecond)
	}
}
