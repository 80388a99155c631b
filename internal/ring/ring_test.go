package ring

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityRoundsUpToPowerOfTwo(t *testing.T) {
	b := New(100)
	assert.Equal(t, 128, b.Cap())
}

func TestSpaceInvariant(t *testing.T) {
	b := New(16)
	for i := 0; i < 50; i++ {
		n := rand.Intn(10) + 1
		buf := make([]float32, n)
		b.Write(buf)
		assert.Equal(t, b.Cap(), b.ReadSpace()+b.WriteSpace())
		out := make([]float32, n/2+1)
		b.Read(out)
		assert.Equal(t, b.Cap(), b.ReadSpace()+b.WriteSpace())
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	b := New(8)
	in := []float32{1, 2, 3, 4, 5}
	n := b.Write(in)
	require.Equal(t, 5, n)

	out := make([]float32, 5)
	n = b.Read(out)
	require.Equal(t, 5, n)
	assert.Equal(t, in, out)
}

func TestWriteTruncatesWhenFull(t *testing.T) {
	b := New(4)
	n := b.Write([]float32{1, 2, 3, 4, 5, 6})
	assert.Equal(t, 4, n)
	assert.Equal(t, 0, b.WriteSpace())
}

func TestReadTruncatesWhenEmpty(t *testing.T) {
	b := New(4)
	out := make([]float32, 4)
	n := b.Read(out)
	assert.Equal(t, 0, n)
}

func TestPeekReadContiguousSpanEnablesZeroCopy(t *testing.T) {
	b := New(8)
	b.Write([]float32{1, 2, 3, 4})

	vec := b.PeekRead()
	require.NotNil(t, vec[0].Buf)
	assert.Equal(t, []float32{1, 2, 3, 4}, vec[0].Buf)
	assert.Nil(t, vec[1].Buf)

	b.ReadAdvance(4)
	assert.Equal(t, 0, b.ReadSpace())
}

func TestPeekReadWrapsIntoTwoSpans(t *testing.T) {
	b := New(8)
	// Fill and drain to push the cursors near the wrap point.
	b.Write(make([]float32, 6))
	b.Read(make([]float32, 6))
	// Now write 6 samples: 2 fit before wrap, 4 after.
	b.Write([]float32{1, 2, 3, 4, 5, 6})

	vec := b.PeekRead()
	total := len(vec[0].Buf) + len(vec[1].Buf)
	assert.Equal(t, 6, total)

	// reconstruct in order and compare
	got := append(append([]float32{}, vec[0].Buf...), vec[1].Buf...)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, got)
}

func TestPeekWriteDirectIntoRing(t *testing.T) {
	b := New(8)
	vec := b.PeekWrite()
	require.GreaterOrEqual(t, len(vec[0].Buf), 4)
	copy(vec[0].Buf, []float32{9, 8, 7, 6})
	b.WriteAdvance(4)

	out := make([]float32, 4)
	b.Read(out)
	assert.Equal(t, []float32{9, 8, 7, 6}, out)
}

func TestResetClearsIndices(t *testing.T) {
	b := New(8)
	b.Write([]float32{1, 2, 3})
	b.Reset()
	assert.Equal(t, 0, b.ReadSpace())
	assert.Equal(t, b.Cap(), b.WriteSpace())
}

func TestConcurrentSPSCProducerConsumer(t *testing.T) {
	b := New(64)
	const total = 100000
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		written := 0
		for written < total {
			chunk := []float32{float32(written)}
			if b.Write(chunk) == 1 {
				written++
			}
		}
	}()

	go func() {
		defer wg.Done()
		read := 0
		out := make([]float32, 1)
		for read < total {
			if b.Read(out) == 1 {
				assert.Equal(t, float32(read), out[0])
				read++
			}
		}
	}()

	wg.Wait()
	assert.Equal(t, 0, b.ReadSpace())
}
