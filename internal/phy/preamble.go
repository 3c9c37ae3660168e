// Package phy implements the acoustic physical layer: a preamble chirp for
// marking frame starts, a correlation-based framer that recovers aligned
// payload blocks from a continuous sample stream, and the sender/receiver
// pair that turn fixed-size byte packets into on-air frames and back.
package phy

import (
	"math"

	"github.com/doismellburning/athernet/internal/sample"
)

// Chirp frequency/length parameters, matching the standard configuration:
// an up-sweep from FA to FB over half the preamble, then a down-sweep back.
const (
	ChirpFA = 3000.0
	ChirpFB = 6000.0
	ChirpN  = 440
)

// Preamble is an immutable chirp sample sequence plus its precomputed L2
// norm. NewSender and NewReceiver each generate their own.
type Preamble struct {
	Samples []sample.Sample
	Norm    float64
}

// NewPreamble generates the standard up-then-down chirp: frequency rises
// from FA to FB over the first half of the preamble, then falls back to FA
// over the second half.
func NewPreamble() *Preamble {
	half := ChirpN / 2
	samples := make([]sample.Sample, 0, ChirpN)
	samples = append(samples, chirp(ChirpFA, ChirpFB, half, sample.Rate)...)
	samples = append(samples, chirp(ChirpFB, ChirpFA, half, sample.Rate)...)

	var sumSq float64
	for _, s := range samples {
		sumSq += s * s
	}

	return &Preamble{Samples: samples, Norm: math.Sqrt(sumSq)}
}

// chirp generates a linear-frequency-sweep sinusoid of length samples,
// instantaneous frequency moving linearly from freqA to freqB.
func chirp(freqA, freqB float64, length int, sampleRate int) []sample.Sample {
	dt := 1.0 / float64(sampleRate)
	duration := dt * float64(length)
	dfdt := (freqB - freqA) / duration

	out := make([]sample.Sample, length)
	for i := range out {
		t := float64(i) * dt
		phase := 2*math.Pi*freqA*t + math.Pi*dfdt*t*t
		out[i] = math.Sin(phase)
	}

	return out
}

func dotProduct(a, b []sample.Sample) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
