package backend

import (
	"sync/atomic"
	"time"
)

// NullBackend is a device-less backend: read/write return the requested
// count unchanged, pacing with a sleep so the modem sees realistic timing,
// while still honoring file tee (file tee is applied a layer up, in
// internal/duplex, since this backend carries no ring/resample state).
// Generalizes a mock backend's simulated-timing sleep into its own
// standalone backend archetype.
type NullBackend struct{}

func NewNullBackend() *NullBackend { return &NullBackend{} }

func (b *NullBackend) Open(dir Direction, p OpenParams) (Stream, error) {
	rate := p.RequestedRate.Hz
	if rate <= 0 {
		rate = 8000
	}
	s := &nullStream{rate: rate}
	s.active.Store(true)
	return s, nil
}

type nullStream struct {
	rate   float64
	active atomic.Bool
}

func (s *nullStream) DeviceSampleRate() float64 { return s.rate }

func (s *nullStream) Close() error {
	s.active.Store(false)
	return nil
}

func (s *nullStream) Abort() error {
	s.active.Store(false)
	return nil
}

// Write paces len(frames)/2 stereo frames at s.rate with a
// ceil(1e6*frames/rate) microsecond sleep.
func (s *nullStream) Write(frames []float32) error {
	s.pace(len(frames) / 2)
	return nil
}

func (s *nullStream) Read(frames []float32) error {
	for i := range frames {
		frames[i] = 0
	}
	s.pace(len(frames) / 2)
	return nil
}

func (s *nullStream) pace(count int) {
	if count <= 0 {
		return
	}
	micros := (1_000_000*count + int(s.rate) - 1) / int(s.rate)
	time.Sleep(time.Duration(micros) * time.Microsecond)
}

func (s *nullStream) RegisterProcessCallback(cb ProcessCallback) error { return ErrNotBlocking }
func (s *nullStream) RegisterStoppedCallback(cb StoppedCallback) error { return ErrNotBlocking }

func (s *nullStream) IsActive() bool { return s.active.Load() }
func (s *nullStream) MustClose() bool { return false }
func (s *nullStream) HostAPI() HostAPIKind { return HostAPIUnknown }
