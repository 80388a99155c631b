// Package duplex implements the duplex streaming engine: the interaction
// between the realtime backend callback, the lock-free ring buffers, the
// resampler, and the synchronous read/write API the modem thread calls
// against. It is the hard part of this module — the stream lifecycle state
// machine (open, running, draining, closed, abort/timeout paths) that
// bridges a synchronous modem loop to an asynchronous realtime callback.
package duplex

import (
	"time"

	"github.com/loqalabs/duplexaudio/internal/backend"
)

// Mode selects which directions Open should bring up.
type Mode int

const (
	ModeRead Mode = 1 << iota
	ModeWrite
)

// DirMask selects which directions an operation applies to. Close, Abort,
// and Flush all default to DirBoth when the caller wants both directions
// affected in one call.
type DirMask int

const (
	MaskIn DirMask = 1 << iota
	MaskOut
	DirBoth = MaskIn | MaskOut
)

// channels is the device-side channel count. Modem-facing blocks are
// always mono; everything from the resampler down to the backend is
// 2-channel interleaved.
const channels = 2

// scBlockSize is the ring-sizing unit: rings are built from multiples of
// this many stereo frames so their capacity scales with the modem/device
// rate mismatch instead of a single fixed size.
const scBlockSize = 512

// sndBufLen sizes the facade's scratch buffers (sndBuffer, srcBuffer),
// allocated once per facade lifetime and reused on every call.
const sndBufLen = 65536

// closeFlushTimeout bounds how long Close/Flush wait on cSem before
// forcing through and logging a "wedged" telemetry event.
const closeFlushTimeout = 2 * time.Second

// TeeWriter receives every mono capture block the facade returns to the
// modem, in addition to (not instead of) returning it normally. Satisfied
// structurally by internal/transport.FrameWriter without that package
// needing to import this one.
type TeeWriter interface {
	TeeMono(samples []float64) error
}

// dirIndex maps a backend.Direction to its sd[] slot, which is
// backend.DirIn/DirOut's own iota value (0, 1).
func dirIndex(d backend.Direction) int { return int(d) }
