// Package settings provides a dependency-injection interface for settings
// consumed at open time and re-read per transfer (for drift ppm), plus a
// static in-memory implementation and a NATS-backed live-update
// implementation. Follows the same style as the backend package's own
// interface-based injection, so the stream engine never depends on a
// concrete hardware/transport type.
package settings

import "github.com/loqalabs/duplexaudio/internal/backend"

// Snapshot is the full set of settings the facade reads at open time and
// re-reads per transfer (for ppm drift only; the rest is snapshotted once).
type Snapshot struct {
	RxPPM int
	TxPPM int

	InSampleRate  backend.RateSetting
	OutSampleRate backend.RateSetting

	SampleConverter string

	FramesPerBuffer int

	InputDeviceName  string
	OutputDeviceName string
	ServerAddress    string

	// EnableMixer and RxMixerVolume implement spec.md §4.C's "external
	// receive-volume control": when a playback file sources the capture
	// direction, every block it returns is scaled by RxMixerVolume if
	// EnableMixer is set (e.g. a GUI slider separate from hardware input
	// gain). Ignored otherwise.
	EnableMixer   bool
	RxMixerVolume float64
}

// Source is the interface internal/duplex depends on. Static and NATS
// variants both implement it.
type Source interface {
	Snapshot() Snapshot
}

// Static implements Source from a fixed, caller-supplied Snapshot — the
// default for tests and for deployments with no live-tuning channel.
type Static struct {
	snap Snapshot
}

func NewStatic(snap Snapshot) *Static {
	return &Static{snap: snap}
}

func (s *Static) Snapshot() Snapshot { return s.snap }

// Set replaces the static snapshot. Safe to call from any goroutine only if
// the caller also owns synchronization with Snapshot() reads; Static itself
// takes no lock because Duplex Facade calls Snapshot() only from the modem
// thread and Set is expected to be called from test code, not concurrently
// with a running stream.
func (s *Static) Set(snap Snapshot) {
	s.snap = snap
}
