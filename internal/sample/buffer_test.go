package sample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestConcurrentBufferFIFOOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		chunks := rapid.SliceOfN(rapid.SliceOfN(rapid.Float64Range(-1, 1), 1, 20), 1, 10).Draw(t, "chunks")

		buf := NewConcurrentBuffer[Sample]()

		var want []Sample
		for _, c := range chunks {
			buf.PushSlice(c)
			want = append(want, c...)
		}

		got := make([]Sample, len(want))
		n := buf.PopSlice(got)

		assert.Equal(t, len(want), n)
		assert.Equal(t, want, got)
	})
}

func TestConcurrentBufferPopSliceShortRead(t *testing.T) {
	buf := NewConcurrentBuffer[Sample]()
	buf.PushSlice([]Sample{1, 2, 3})

	dst := make([]Sample, 10)
	n := buf.PopSlice(dst)

	require.Equal(t, 3, n)
	assert.Equal(t, []Sample{1, 2, 3}, dst[:n])
}

func TestConcurrentBufferReadExactBlocksUntilFilled(t *testing.T) {
	buf := NewConcurrentBuffer[Sample]()
	dst := make([]Sample, 5)
	done := make(chan struct{})

	go func() {
		buf.ReadExact(dst)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("ReadExact returned before enough data was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	buf.PushSlice([]Sample{1, 2})
	buf.PushSlice([]Sample{3, 4, 5})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ReadExact never unblocked")
	}

	assert.Equal(t, []Sample{1, 2, 3, 4, 5}, dst)
}

func TestConcurrentBufferWaitEmpty(t *testing.T) {
	buf := NewConcurrentBuffer[Sample]()
	buf.PushSlice([]Sample{1, 2, 3})

	done := make(chan struct{})
	go func() {
		buf.WaitEmpty()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitEmpty returned while buffer non-empty")
	case <-time.After(20 * time.Millisecond):
	}

	dst := make([]Sample, 3)
	buf.PopSlice(dst)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitEmpty never unblocked")
	}
}

func TestConcurrentBufferClear(t *testing.T) {
	buf := NewConcurrentBuffer[Sample]()
	buf.PushSlice([]Sample{1, 2, 3})
	buf.Clear()

	assert.Equal(t, 0, buf.Len())
}
