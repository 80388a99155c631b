package backend

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MockBackend is a hardware-independent Backend double, generalized to
// this module's Direction/Stream contract and extended to drive the
// realtime callback archetype (not just blocking Read/Write) so
// internal/duplex's stream-engine tests can exercise both code paths
// without hardware.
type MockBackend struct {
	mu      sync.Mutex
	streams []*MockStream

	OpenErr func(dir Direction) error

	// NextHostAPI, when non-zero, is the HostAPIKind every subsequently
	// opened MockStream reports, letting tests exercise the facade's
	// JACK-excluded rebuild-vs-retune decision (spec.md §4.F) without a
	// real PortAudio JACK device.
	NextHostAPI HostAPIKind
}

func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

// Streams returns every stream opened so far, in open order, for test
// inspection.
func (b *MockBackend) Streams() []*MockStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*MockStream, len(b.streams))
	copy(out, b.streams)
	return out
}

func (b *MockBackend) Open(dir Direction, p OpenParams) (Stream, error) {
	if b.OpenErr != nil {
		if err := b.OpenErr(dir); err != nil {
			return nil, err
		}
	}
	rate := p.RequestedRate.Hz
	if rate <= 0 {
		rate = 48000
	}
	bufSize := p.FramesPerBuffer
	if bufSize <= 0 {
		bufSize = 512
	}
	s := &MockStream{
		dir:        dir,
		rate:       rate,
		bufSize:    bufSize,
		tickPeriod: time.Duration(float64(bufSize) / rate * float64(time.Second)),
		hostAPI:    b.NextHostAPI,
	}
	s.active.Store(true)

	b.mu.Lock()
	b.streams = append(b.streams, s)
	b.mu.Unlock()
	return s, nil
}

// MockStream doubles as both a blocking and a callback Stream, whichever
// archetype the test exercises.
type MockStream struct {
	mu  sync.Mutex
	dir Direction

	rate       float64
	bufSize    int
	tickPeriod time.Duration

	active    atomic.Bool
	mustClose bool
	hostAPI   HostAPIKind

	// InputGenerator produces the next block of captured samples for
	// blocking Read() and for the callback ticker's "in" side. Defaults to
	// silence.
	InputGenerator func(frames []float32)

	recorded [][]float32 // blocking Read()/callback "in" captures
	played   [][]float32 // blocking Write()/callback "out" captures

	processCb ProcessCallback
	stoppedCb StoppedCallback
	tickerStop chan struct{}
	tickerDone chan struct{}

	ReadErr  error
	WriteErr error
}

func (s *MockStream) DeviceSampleRate() float64 { return s.rate }

// RecordedInput returns every block captured via Read() or the realtime
// callback's "in" side.
func (s *MockStream) RecordedInput() [][]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]float32, len(s.recorded))
	copy(out, s.recorded)
	return out
}

// PlayedOutput returns every block written via Write() or produced on the
// realtime callback's "out" side.
func (s *MockStream) PlayedOutput() [][]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]float32, len(s.played))
	copy(out, s.played)
	return out
}

func (s *MockStream) Close() error {
	s.stopTicker()
	s.active.Store(false)
	return nil
}

func (s *MockStream) Abort() error {
	s.stopTicker()
	s.active.Store(false)
	return nil
}

func (s *MockStream) Write(frames []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	if !s.active.Load() {
		return fmt.Errorf("backend: %w: stream not active", ErrInvalidState)
	}
	cp := make([]float32, len(frames))
	copy(cp, frames)
	s.played = append(s.played, cp)
	return nil
}

func (s *MockStream) Read(frames []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return s.ReadErr
	}
	if !s.active.Load() {
		return fmt.Errorf("backend: %w: stream not active", ErrInvalidState)
	}
	if s.InputGenerator != nil {
		s.InputGenerator(frames)
	}
	cp := make([]float32, len(frames))
	copy(cp, frames)
	s.recorded = append(s.recorded, cp)
	return nil
}

// RegisterProcessCallback arms the callback archetype and starts a ticker
// goroutine that invokes cb every tickPeriod, mimicking a realtime audio
// thread closely enough for the stream-engine's timeout/drain logic to be
// exercised deterministically (tests can shrink tickPeriod by choosing a
// small FramesPerBuffer/large rate).
func (s *MockStream) RegisterProcessCallback(cb ProcessCallback) error {
	s.mu.Lock()
	s.processCb = cb
	s.tickerStop = make(chan struct{})
	s.tickerDone = make(chan struct{})
	s.mu.Unlock()
	go s.runTicker()
	return nil
}

func (s *MockStream) RegisterStoppedCallback(cb StoppedCallback) error {
	s.mu.Lock()
	s.stoppedCb = cb
	s.mu.Unlock()
	return nil
}

func (s *MockStream) runTicker() {
	defer close(s.tickerDone)
	ticker := time.NewTicker(s.tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.tickerStop:
			return
		case <-ticker.C:
			if !s.active.Load() {
				return
			}
			s.tick()
		}
	}
}

func (s *MockStream) tick() {
	s.mu.Lock()
	cb := s.processCb
	var in, out []float32
	if s.dir == DirIn {
		in = make([]float32, 2*s.bufSize)
		if s.InputGenerator != nil {
			s.InputGenerator(in)
		}
	} else {
		out = make([]float32, 2*s.bufSize)
	}
	s.mu.Unlock()
	if cb == nil {
		return
	}
	st := cb(in, out, s.bufSize, ProcessFlags{})

	s.mu.Lock()
	if in != nil {
		cp := make([]float32, len(in))
		copy(cp, in)
		s.recorded = append(s.recorded, cp)
	}
	if out != nil {
		cp := make([]float32, len(out))
		copy(cp, out)
		s.played = append(s.played, cp)
	}
	stoppedCb := s.stoppedCb
	s.mu.Unlock()

	if st == StateAbort || (st == StateComplete && out == nil) {
		s.active.Store(false)
		if stoppedCb != nil {
			stoppedCb()
		}
	}
}

func (s *MockStream) stopTicker() {
	s.mu.Lock()
	stop := s.tickerStop
	done := s.tickerDone
	s.mu.Unlock()
	if stop == nil {
		return
	}
	select {
	case <-stop:
	default:
		close(stop)
	}
	if done != nil {
		<-done
	}
}

func (s *MockStream) IsActive() bool { return s.active.Load() }
func (s *MockStream) MustClose() bool { return s.mustClose }
func (s *MockStream) HostAPI() HostAPIKind { return s.hostAPI }

// SetMustClose lets tests exercise the MustClose()==true code path without
// a real PortAudio blocking backend.
func (s *MockStream) SetMustClose(v bool) { s.mustClose = v }
