package sample

// Sample is a floating point scalar in [-1, +1]. It is an alias of
// float64, and the modem and PHY code call math functions (sin, sqrt) on
// samples directly, so there is no fixed-point variant.
type Sample = float64

// Rate is the fixed sample rate the whole stack assumes: 48kHz mono.
const Rate = 48000

// BlockSize is the platform's preferred read/write granularity.
const BlockSize = 1024

// Input is the platform's audio capture boundary: one producer (the
// soundcard) feeding samples in.
type Input interface {
	// Read fills up to len(buf) samples without blocking, returning how
	// many were available.
	Read(buf []Sample) int
	// ReadExact blocks until buf is completely filled.
	ReadExact(buf []Sample)
}

// Output is the platform's audio playback boundary: one consumer (the
// soundcard) draining samples out.
type Output interface {
	// Write enqueues buf for playback, returning how many samples were
	// accepted (always len(buf) for an unbounded sink).
	Write(buf []Sample) int
	// WriteExact blocks until all of buf has been accepted.
	WriteExact(buf []Sample)
	// WaitEmpty blocks until every previously written sample has been
	// consumed by the playback device.
	WaitEmpty()
}

// BufferedInput adapts a ConcurrentBuffer[Sample] into an Input. A
// producer goroutine (or the platform's capture callback) pushes samples
// with PushSlice.
type BufferedInput struct {
	Buf *ConcurrentBuffer[Sample]
}

func NewBufferedInput() *BufferedInput {
	return &BufferedInput{Buf: NewConcurrentBuffer[Sample]()}
}

func (i *BufferedInput) Read(buf []Sample) int       { return i.Buf.PopSlice(buf) }
func (i *BufferedInput) ReadExact(buf []Sample)       { i.Buf.ReadExact(buf) }
func (i *BufferedInput) Push(samples []Sample)        { i.Buf.PushSlice(samples) }

// BufferedOutput adapts a ConcurrentBuffer[Sample] into an Output. A
// consumer goroutine (or the platform's playback callback) pops samples
// with PopSlice as it plays them.
type BufferedOutput struct {
	Buf *ConcurrentBuffer[Sample]
}

func NewBufferedOutput() *BufferedOutput {
	return &BufferedOutput{Buf: NewConcurrentBuffer[Sample]()}
}

func (o *BufferedOutput) Write(buf []Sample) int {
	o.Buf.PushSlice(buf)
	return len(buf)
}

func (o *BufferedOutput) WriteExact(buf []Sample) { o.Write(buf) }
func (o *BufferedOutput) WaitEmpty()              { o.Buf.WaitEmpty() }
func (o *BufferedOutput) Pop(dst []Sample) int     { return o.Buf.PopSlice(dst) }

// Loopback wires a BufferedOutput directly to a BufferedInput, modeling the
// wired-loopback channel configuration the framer thresholds distinguish
// from the acoustic path (see phy.Profile).
type Loopback struct {
	buf *ConcurrentBuffer[Sample]
}

// NewLoopback returns an (Output, Input) pair backed by the same buffer:
// samples written to the Output are immediately readable from the Input.
func NewLoopback() (Output, Input) {
	buf := NewConcurrentBuffer[Sample]()
	return &BufferedOutput{Buf: buf}, &BufferedInput{Buf: buf}
}
