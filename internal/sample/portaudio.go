package sample

import (
	"github.com/gordonklaus/portaudio"
)

// PortAudioStream is a concrete realization of Input/Output backed by a
// real soundcard, satisfying the sample-stream boundary that spec leaves
// to the platform (§6). It runs portaudio's callback on its own thread and
// shuttles samples through the same ConcurrentBuffer used by Loopback, so
// the rest of the stack never distinguishes a real card from a test
// double.
type PortAudioStream struct {
	stream *portaudio.Stream
	in     *BufferedInput
	out    *BufferedOutput
}

// OpenPortAudioStream opens the default input and output devices at the
// fixed 48kHz mono rate used throughout the stack.
func OpenPortAudioStream() (*PortAudioStream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}

	p := &PortAudioStream{
		in:  NewBufferedInput(),
		out: NewBufferedOutput(),
	}

	callback := func(inBuf, outBuf []float32) {
		captured := make([]Sample, len(inBuf))
		for i, v := range inBuf {
			captured[i] = Sample(v)
		}
		p.in.Push(captured)

		played := make([]Sample, len(outBuf))
		n := p.out.Pop(played)
		for i := range outBuf {
			if i < n {
				outBuf[i] = float32(played[i])
			} else {
				outBuf[i] = 0
			}
		}
	}

	stream, err := portaudio.OpenDefaultStream(1, 1, float64(Rate), BlockSize, callback)
	if err != nil {
		return nil, err
	}

	if err := stream.Start(); err != nil {
		return nil, err
	}

	p.stream = stream

	return p, nil
}

func (p *PortAudioStream) Read(buf []Sample) int  { return p.in.Read(buf) }
func (p *PortAudioStream) ReadExact(buf []Sample) { p.in.ReadExact(buf) }
func (p *PortAudioStream) Write(buf []Sample) int { return p.out.Write(buf) }
func (p *PortAudioStream) WriteExact(buf []Sample) { p.out.WriteExact(buf) }
func (p *PortAudioStream) WaitEmpty()              { p.out.WaitEmpty() }

// Close stops the stream and releases the portaudio device.
func (p *PortAudioStream) Close() error {
	if err := p.stream.Stop(); err != nil {
		return err
	}
	if err := p.stream.Close(); err != nil {
		return err
	}
	return portaudio.Terminate()
}
