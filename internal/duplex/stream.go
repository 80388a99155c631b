package duplex

import (
	"sync/atomic"
	"time"

	"github.com/loqalabs/duplexaudio/internal/backend"
	"github.com/loqalabs/duplexaudio/internal/resample"
	"github.com/loqalabs/duplexaudio/internal/ring"
)

// streamData is the per-direction state a running Facade keeps: the
// backend stream handle, its ring, its resampler, and the two counting
// semaphores the realtime callback and the modem thread coordinate
// through.
type streamData struct {
	dir        backend.Direction
	deviceName string

	stream backend.Stream
	rb     *ring.Buffer
	rs     *resample.State

	rwSem *semaphore
	cSem  *semaphore

	state atomic.Int32 // backend.State

	devSampleRate   float64
	framesPerBuffer int
	hostAPI         backend.HostAPIKind

	// reqRate is the modem-facing rate this direction was last (re)built
	// or retuned for, used by Facade.openDir to decide whether a changed
	// Open(freq) call needs a full rebuild or can retune in place.
	reqRate float64

	// blockStop/blockDone manage the goroutine that drives Read/Write in a
	// loop for blocking-archetype backends (which have no realtime callback
	// of their own to drive the ring).
	blockStop chan struct{}
	blockDone chan struct{}
}

func newStreamData(dir backend.Direction, deviceName string) *streamData {
	sd := &streamData{dir: dir, deviceName: deviceName, rwSem: newSemaphore(), cSem: newSemaphore()}
	sd.state.Store(int32(backend.StateContinue))
	return sd
}

func (sd *streamData) getState() backend.State { return backend.State(sd.state.Load()) }
func (sd *streamData) setState(s backend.State) { sd.state.Store(int32(s)) }

func (sd *streamData) active() bool {
	return sd.stream != nil && sd.stream.IsActive()
}

// ceil2 rounds n up to the next power of two, matching the C++ ceil2 used
// to size rings from the SCBLOCKSIZE/rate-ratio formula.
func ceil2(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// ringSizeIn computes the input ring's capacity (in samples, channels
// already folded in): 2*max(ceil2(2*channels*scBlockSize*max/min), 4096) —
// the floor applies to the pre-doubled raw size, not the doubled one.
func ringSizeIn(reqRate, devRate float64) int {
	raw := ceil2(int(2 * channels * scBlockSize * maxF(reqRate, devRate) / minF(reqRate, devRate)))
	if raw < 4096 {
		raw = 4096
	}
	return 2 * raw
}

// ringSizeOut computes the output ring's capacity: ceil2(channels*
// scBlockSize*max/min), doubled again when the modem rate exceeds 8kHz,
// floored at 2048.
func ringSizeOut(reqRate, devRate float64) int {
	raw := ceil2(int(channels * scBlockSize * maxF(reqRate, devRate) / minF(reqRate, devRate)))
	if reqRate > 8000 {
		raw *= 2
	}
	if raw < 2048 {
		raw = 2048
	}
	return raw
}

// dataTimeout computes the rw_sem wait bound for a data-path call that
// needs ncount more device-rate frames: max(1s, 2*channels*ncount/dev_rate)
// (spec.md §5/§4.E step 3), scaling with both the request size and the
// negotiated device rate. This is distinct from closeFlushTimeout, which is
// a fixed bound reserved for Close/Flush's c_sem wait.
func dataTimeout(devRate float64, ncount int) time.Duration {
	if ncount < 1 {
		ncount = 1
	}
	secs := 2.0 * float64(channels) * float64(ncount) / devRate
	if secs < 1.0 {
		secs = 1.0
	}
	return time.Duration(secs * float64(time.Second))
}
