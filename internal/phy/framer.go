package phy

import (
	"math"

	"github.com/doismellburning/athernet/internal/sample"
)

// Profile selects the correlation thresholds a Framer uses. Acoustic
// channels carry more ambient noise than a wired loopback, so they need a
// stricter correlation-to-power ratio to avoid false preamble detections.
type Profile int

const (
	ProfileAcoustic Profile = iota
	ProfileWired
)

// corrToPwrMin returns the minimum ratio of correlation power to average
// received signal power required to track a preamble candidate.
func corrToPwrMin(p Profile) float64 {
	if p == ProfileWired {
		return 0.7
	}
	return 2.0
}

// cosineMin is the minimum cosine similarity against the reference
// preamble required alongside corrToPwrMin; it rejects high-power signals
// that simply don't look like the preamble waveform.
const cosineMin = 0.4

// afterPeakSamples is how long the correlation must hold below its last
// peak before a falling edge (end of preamble) is declared.
const afterPeakSamples = 200

type framingState int

const (
	stateDetectPreamble framingState = iota
	stateWaitPayload
)

// Framer is the correlation-based preamble detector and payload extractor
// described in the frame-sync design: it consumes one sample at a time and
// emits, at most once per call, a complete payload of payloadLen samples
// immediately following a detected preamble.
type Framer struct {
	preamble    *Preamble
	preambleLen int
	payloadLen  int
	profile     Profile

	state framingState

	stream        *streamWindow
	incomingIndex int

	detectPeakVal float64
	detectPeakIdx int
	detectWin     *correlationWindow

	framePayload []sample.Sample
}

// NewFramer builds a framer that detects the given preamble and, once
// found, collects payloadLen samples as the frame payload.
func NewFramer(preamble *Preamble, payloadLen int, profile Profile) *Framer {
	preambleLen := len(preamble.Samples)
	frameLen := preambleLen + payloadLen
	initPower := preamble.Norm * preamble.Norm / float64(preambleLen)

	return &Framer{
		preamble:     preamble,
		preambleLen:  preambleLen,
		payloadLen:   payloadLen,
		profile:      profile,
		state:        stateDetectPreamble,
		stream:       newStreamWindow(frameLen*2+1, initPower),
		detectWin:    newCorrelationWindow(preambleLen),
		framePayload: make([]sample.Sample, 0, payloadLen),
	}
}

// OnSample feeds one sample into the framer. It returns a complete payload
// and true if one was just completed, otherwise (nil, false).
func (f *Framer) OnSample(s sample.Sample) ([]sample.Sample, bool) {
	f.incomingIndex++
	f.stream.onSample(s)

	switch f.state {
	case stateDetectPreamble:
		f.state = f.iterDetectPreamble(s)
		return nil, false
	case stateWaitPayload:
		next, payload, ok := f.iterWaitPayload(s)
		f.state = next
		return payload, ok
	default:
		return nil, false
	}
}

func (f *Framer) iterDetectPreamble(s sample.Sample) framingState {
	f.detectWin.onSample(s)

	dot := dotProduct(f.detectWin.samples(), f.preamble.Samples)
	corr2pwr := (dot / float64(f.preambleLen)) / f.stream.smoothPower
	cosineSim := dot / f.preamble.Norm / f.detectWin.norm()

	threshold := math.Max(corrToPwrMin(f.profile), f.detectPeakVal)

	switch {
	case corr2pwr > threshold && cosineSim > cosineMin:
		f.detectPeakVal = corr2pwr
		f.detectPeakIdx = f.incomingIndex
		return stateDetectPreamble
	case f.detectPeakIdx != 0 && f.incomingIndex-f.detectPeakIdx > afterPeakSamples:
		f.detectWin.clear()

		frameSamples := f.stream.clonedRange(f.detectPeakIdx+1, f.incomingIndex+1)
		f.framePayload = append(f.framePayload, frameSamples...)

		f.detectPeakVal = 0
		f.detectPeakIdx = 0

		return stateWaitPayload
	default:
		return stateDetectPreamble
	}
}

func (f *Framer) iterWaitPayload(s sample.Sample) (framingState, []sample.Sample, bool) {
	f.framePayload = append(f.framePayload, s)

	if len(f.framePayload) == f.payloadLen {
		frame := make([]sample.Sample, len(f.framePayload))
		copy(frame, f.framePayload)
		f.framePayload = f.framePayload[:0]
		return stateDetectPreamble, frame, true
	}

	return stateWaitPayload, nil, false
}
