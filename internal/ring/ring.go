// Package ring implements the lock-free single-producer/single-consumer
// float32 ring that sits between the realtime backend callback and the
// modem-facing stream engine.
package ring

import (
	"sync/atomic"
)

// Span is one contiguous region returned by PeekRead/PeekWrite.
type Span struct {
	Buf []float32
}

// Buffer is a power-of-two-capacity SPSC lock-free ring of float32 samples.
// Exactly one goroutine may call the Write* methods and exactly one goroutine
// may call the Read* methods; Reset requires both ends to be quiesced first.
type Buffer struct {
	data []float32
	mask uint64

	// writeIdx and readIdx are free-running, monotonically non-decreasing
	// counters; a slot index is the counter masked by capacity-1.
	// The producer owns writeIdx (release on store, acquire readIdx),
	// the consumer owns readIdx (release on store, acquire writeIdx).
	writeIdx atomic.Uint64
	readIdx  atomic.Uint64
}

// New allocates a ring whose capacity is rounded up to the next power of two.
func New(capacity int) *Buffer {
	c := ceilPow2(capacity)
	return &Buffer{
		data: make([]float32, c),
		mask: uint64(c - 1),
	}
}

func ceilPow2(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Cap returns the ring's fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// ReadSpace returns the number of samples available to read.
func (b *Buffer) ReadSpace() int {
	w := b.writeIdx.Load()
	r := b.readIdx.Load()
	return int(w - r)
}

// WriteSpace returns the number of samples that can be written without
// overrunning the reader.
func (b *Buffer) WriteSpace() int {
	return b.Cap() - b.ReadSpace()
}

// Write copies as many samples from buf as fit, returning the count written.
// Called only by the producer.
func (b *Buffer) Write(buf []float32) int {
	n := len(buf)
	if free := b.WriteSpace(); n > free {
		n = free
	}
	if n == 0 {
		return 0
	}
	w := b.writeIdx.Load()
	start := int(w & b.mask)
	first := len(b.data) - start
	if first > n {
		first = n
	}
	copy(b.data[start:start+first], buf[:first])
	if rest := n - first; rest > 0 {
		copy(b.data[0:rest], buf[first:first+rest])
	}
	b.writeIdx.Store(w + uint64(n))
	return n
}

// Read copies as many samples into buf as are available, returning the
// count read. Called only by the consumer.
func (b *Buffer) Read(buf []float32) int {
	n := len(buf)
	if avail := b.ReadSpace(); n > avail {
		n = avail
	}
	if n == 0 {
		return 0
	}
	r := b.readIdx.Load()
	start := int(r & b.mask)
	first := len(b.data) - start
	if first > n {
		first = n
	}
	copy(buf[:first], b.data[start:start+first])
	if rest := n - first; rest > 0 {
		copy(buf[first:first+rest], b.data[0:rest])
	}
	b.readIdx.Store(r + uint64(n))
	return n
}

// PeekRead returns up to two contiguous spans covering all readable samples,
// without advancing the read cursor. The caller must follow up with
// ReadAdvance once it has consumed some or all of the peeked data. This is
// the zero-copy path: when vec[0] covers the whole request, a consumer (the
// resampler) can operate directly on ring memory.
func (b *Buffer) PeekRead() [2]Span {
	var vec [2]Span
	avail := b.ReadSpace()
	if avail == 0 {
		return vec
	}
	r := b.readIdx.Load()
	start := int(r & b.mask)
	first := len(b.data) - start
	if first > avail {
		first = avail
	}
	vec[0].Buf = b.data[start : start+first]
	if rest := avail - first; rest > 0 {
		vec[1].Buf = b.data[0:rest]
	}
	return vec
}

// PeekWrite is the write-side mirror of PeekRead: up to two contiguous spans
// covering all writable capacity, without advancing the write cursor.
func (b *Buffer) PeekWrite() [2]Span {
	var vec [2]Span
	free := b.WriteSpace()
	if free == 0 {
		return vec
	}
	w := b.writeIdx.Load()
	start := int(w & b.mask)
	first := len(b.data) - start
	if first > free {
		first = free
	}
	vec[0].Buf = b.data[start : start+first]
	if rest := free - first; rest > 0 {
		vec[1].Buf = b.data[0:rest]
	}
	return vec
}

// ReadAdvance commits n samples previously obtained via PeekRead.
func (b *Buffer) ReadAdvance(n int) {
	b.readIdx.Store(b.readIdx.Load() + uint64(n))
}

// WriteAdvance commits n samples previously written directly into a span
// obtained via PeekWrite.
func (b *Buffer) WriteAdvance(n int) {
	b.writeIdx.Store(b.writeIdx.Load() + uint64(n))
}

// Reset clears both cursors. Legal only when producer and consumer are both
// quiesced (e.g. after the backend has fully stopped).
func (b *Buffer) Reset() {
	b.writeIdx.Store(0)
	b.readIdx.Store(0)
}
