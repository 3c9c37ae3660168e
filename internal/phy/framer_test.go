package phy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doismellburning/athernet/internal/sample"
)

func feed(f *Framer, samples []sample.Sample) [][]sample.Sample {
	var payloads [][]sample.Sample
	for _, s := range samples {
		if payload, ok := f.OnSample(s); ok {
			payloads = append(payloads, payload)
		}
	}
	return payloads
}

// A clean [preamble, payload, junk] stream yields exactly one payload of
// the expected length, and nothing further for the junk suffix.
func TestFramerEmitsExactlyOnePayloadPerPreamble(t *testing.T) {
	const payloadLen = 500

	preamble := NewPreamble()
	f := NewFramer(preamble, payloadLen, ProfileWired)

	noisy := make([]sample.Sample, len(preamble.Samples))
	for i, s := range preamble.Samples {
		noisy[i] = s*0.8 + 0.1*math.Sin(s)
	}
	require.Empty(t, feed(f, noisy))

	payload := make([]sample.Sample, payloadLen*2)
	for i := range payload {
		payload[i] = math.Sin(0.33 * float64(i))
	}
	got := feed(f, payload)
	require.Len(t, got, 1)
	assert.Len(t, got[0], payloadLen)

	assert.Empty(t, feed(f, payload))
}

// A stream with no preamble-like correlation never yields a payload.
func TestFramerRejectsPreambleFreeInput(t *testing.T) {
	const payloadLen = 400

	preamble := NewPreamble()
	f := NewFramer(preamble, payloadLen, ProfileWired)

	trash := make([]sample.Sample, 200)
	for i := range trash {
		trash[i] = float64(i)
	}
	require.Empty(t, feed(f, trash))

	more := make([]sample.Sample, payloadLen*20)
	for i := range more {
		more[i] = math.Sin(0.33 * float64(i))
	}
	assert.Empty(t, feed(f, more))
}
