// Package backend defines the audio backend driver contract: the common
// surface that every concrete device/test driver must implement, and the
// realtime callback protocol that callback-style backends invoke against.
// Generalizes a fixed dependency-injection-for-testing split into a
// duplex/open-negotiation contract supporting both blocking and
// callback-style drivers.
package backend

import "fmt"

// Direction identifies one half of a full-duplex stream.
type Direction int

const (
	DirIn Direction = iota
	DirOut
)

func (d Direction) String() string {
	if d == DirIn {
		return "in"
	}
	return "out"
}

// State is the per-direction stream state machine driven by the facade and
// observed by the realtime callback.
type State int32

const (
	StateContinue State = iota
	StateComplete
	StateAbort
	StateDrain
)

func (s State) String() string {
	switch s {
	case StateContinue:
		return "CONTINUE"
	case StateComplete:
		return "COMPLETE"
	case StateAbort:
		return "ABORT"
	case StateDrain:
		return "DRAIN"
	default:
		return "UNKNOWN"
	}
}

// RateMode is the user's sample-rate setting for one direction.
type RateMode int

const (
	RateUnset RateMode = iota
	RateAuto
	RateNative
	RateExplicit
)

// RateSetting pairs a RateMode with the explicit Hz value used when Mode is
// RateExplicit (ignored otherwise).
type RateSetting struct {
	Mode RateMode
	Hz   float64
}

// OpenParams configures Backend.Open. Channels is always 2 on the device
// side; FramesPerBuffer of 0 means "backend default".
type OpenParams struct {
	RequestedRate   RateSetting
	DeviceName      string
	ServerAddress   string
	FramesPerBuffer int
}

// ProcessFlags reports host-observed xruns for the realtime callback
// protocol.
type ProcessFlags struct {
	InputOverflow   bool
	OutputUnderflow bool
}

// ProcessCallback is invoked on the realtime backend thread for callback
// backends. in/out may be nil depending on direction; the callback must
// never block, allocate, or touch the file tee.
type ProcessCallback func(in, out []float32, nframes int, flags ProcessFlags) State

// StoppedCallback fires once when the backend halts the stream for good.
type StoppedCallback func()

// Backend opens per-direction streams. Concrete backends (PortAudio
// blocking/callback, Null, Mock) each implement this.
type Backend interface {
	// Open selects a device, negotiates dev_sample_rate, and begins
	// delivering/accepting frames for dir.
	Open(dir Direction, p OpenParams) (Stream, error)
}

// Stream is the handle returned by Backend.Open for a single direction.
type Stream interface {
	// DeviceSampleRate is the negotiated dev_sample_rate.
	DeviceSampleRate() float64

	// Close stops gracefully and releases handles. Idempotent.
	Close() error

	// Abort stops immediately, discarding buffered frames.
	Abort() error

	// Write/Read are for blocking backends only; callback backends return
	// ErrNotBlocking.
	Write(frames []float32) error
	Read(frames []float32) error

	// RegisterProcessCallback arms the realtime callback for callback
	// backends; a no-op (or error) for blocking backends.
	RegisterProcessCallback(cb ProcessCallback) error
	RegisterStoppedCallback(cb StoppedCallback) error

	IsActive() bool

	// MustClose reports whether this backend type requires close() rather
	// than abort() to release its handle cleanly (see DESIGN.md: true only
	// for the PortAudio blocking backend).
	MustClose() bool

	// HostAPI reports which host audio API backs this stream's device, so
	// the facade can decide whether a pure rate change can be absorbed by
	// retuning the resampler in place instead of tearing the stream down
	// (see spec.md §4.F: never true for JACK, which owns its own clock).
	HostAPI() HostAPIKind
}

// ErrNotBlocking is returned by Write/Read on callback-style streams, and by
// RegisterProcessCallback/RegisterStoppedCallback on blocking streams.
var ErrNotBlocking = fmt.Errorf("backend: operation not supported by this stream archetype")

// NegotiateRate applies the sample-rate negotiation rule: native mode
// takes the device default, explicit mode takes the requested Hz
// verbatim, and auto/unset falls back from the requested rate to the
// device default. deviceDefault and supported let callers plug in
// backend-specific capability checks without this function depending on
// any backend.
func NegotiateRate(setting RateSetting, reqRate, deviceDefault float64, supported func(rate float64) bool) (float64, error) {
	switch setting.Mode {
	case RateNative:
		return deviceDefault, nil
	case RateExplicit:
		return setting.Hz, nil
	default: // RateUnset, RateAuto
		if supported == nil || supported(reqRate) {
			return reqRate, nil
		}
		if supported(deviceDefault) {
			return deviceDefault, nil
		}
		return 0, fmt.Errorf("backend: no sample rate satisfies the device (requested %.0f, default %.0f)", reqRate, deviceDefault)
	}
}
