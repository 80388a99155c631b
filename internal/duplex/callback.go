package duplex

import (
	"time"

	"github.com/loqalabs/duplexaudio/internal/backend"
	"github.com/loqalabs/duplexaudio/internal/ring"
	"github.com/loqalabs/duplexaudio/internal/telemetry"
)

// buildProcessCallback returns the realtime callback for one direction. It
// never blocks on the hot path: the ring buffer's zero-copy
// PeekWrite/PeekRead spans are written/read directly, and signaling is a
// semaphore post. On an overflow or underrun it also hands an Event to pub,
// so what that costs depends on the Publisher in use.
//
// Capture (in != nil), only while state == Continue: copy in into the
// ring's write span, post rwSem so the modem thread wakes up, and report
// an overflow if the ring couldn't take every frame. A Drain/Complete
// request stops capture outright rather than buffering audio nobody will
// read. Playback (out != nil) drains the ring in every state except Abort,
// so buffered output survives a Flush/Close: copy from the ring's read
// span into out, zero-fill any shortfall (an underrun), and post rwSem so
// the modem thread can refill.
func buildProcessCallback(sd *streamData, pub telemetry.Publisher) backend.ProcessCallback {
	return func(in, out []float32, nframes int, flags backend.ProcessFlags) backend.State {
		state := sd.getState()
		if state == backend.StateAbort {
			return backend.StateAbort
		}

		if in != nil && state == backend.StateContinue {
			if flags.InputOverflow {
				pub.Publish(telemetry.Event{Kind: telemetry.EventOverflow, Direction: "in", At: now()})
			}
			n := writeRing(sd.rb, in)
			if n < len(in) {
				pub.Publish(telemetry.Event{Kind: telemetry.EventOverflow, Direction: "in", Detail: "ring full, frames dropped", At: now()})
			}
			sd.rwSem.post()
		}

		if out != nil {
			if flags.OutputUnderflow {
				pub.Publish(telemetry.Event{Kind: telemetry.EventUnderrun, Direction: "out", At: now()})
			}
			n := readRing(sd.rb, out)
			if n < len(out) {
				for i := n; i < len(out); i++ {
					out[i] = 0
				}
				pub.Publish(telemetry.Event{Kind: telemetry.EventUnderrun, Direction: "out", Detail: "ring underrun, silence inserted", At: now()})
			}
			sd.rwSem.post()
		}

		// Keep draining queued output even after Drain/Complete is
		// requested, returning Continue for as long as an output ring still
		// holds data (an input ring's leftover capture is not waited on).
		// Once it's empty: Drain (Flush) signals cSem once and
		// keeps the stream alive — the facade flips the state back to
		// Continue itself — while Complete (Close) signals cSem once and
		// reports the terminal state so the backend can stop the stream.
		if state == backend.StateContinue || (out != nil && sd.rb.ReadSpace() > 0) {
			return backend.StateContinue
		}
		sd.cSem.post()
		if state == backend.StateDrain {
			return backend.StateContinue
		}
		return state
	}
}

// buildStoppedCallback fires once when the backend halts a direction's
// stream for good: the ring is reset (legal here since both ends are now
// quiesced) and cSem is posted so a Close/Flush wait unblocks immediately
// instead of riding out its full timeout.
func buildStoppedCallback(sd *streamData) backend.StoppedCallback {
	return func() {
		sd.rb.Reset()
		sd.cSem.post()
	}
}

// writeRing copies as much of buf into rb as fits, using the zero-copy
// vectored write path.
func writeRing(rb *ring.Buffer, buf []float32) int {
	spans := rb.PeekWrite()
	written := 0
	for _, sp := range spans {
		if written >= len(buf) {
			break
		}
		n := copy(sp.Buf, buf[written:])
		written += n
	}
	rb.WriteAdvance(written)
	return written
}

// readRing copies as much of rb's available data into buf as fits, using
// the zero-copy vectored read path.
func readRing(rb *ring.Buffer, buf []float32) int {
	spans := rb.PeekRead()
	read := 0
	for _, sp := range spans {
		if read >= len(buf) {
			break
		}
		n := copy(buf[read:], sp.Buf)
		read += n
	}
	rb.ReadAdvance(read)
	return read
}

func now() time.Time { return time.Now() }
