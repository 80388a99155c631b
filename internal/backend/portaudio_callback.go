package backend

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// PortAudioCallbackBackend implements Backend using PortAudio's realtime
// callback archetype (`portaudio.OpenStream(params, func(out []float32)
// {...})`). The ring-buffer/semaphore protocol driving each tick lives in
// internal/duplex, which supplies the backend.ProcessCallback this stream
// invokes on every realtime tick; this type only bridges PortAudio's raw
// callback shape to that contract and tracks the returned State so it can
// stop the underlying stream once draining completes.
type PortAudioCallbackBackend struct {
	mu          sync.Mutex
	initialized bool
}

func NewPortAudioCallbackBackend() *PortAudioCallbackBackend {
	return &PortAudioCallbackBackend{}
}

func (b *PortAudioCallbackBackend) ensureInit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("backend: portaudio initialize: %w", err)
	}
	b.initialized = true
	return nil
}

func (b *PortAudioCallbackBackend) Terminate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil
	}
	err := portaudio.Terminate()
	b.initialized = false
	return err
}

func (b *PortAudioCallbackBackend) Open(dir Direction, p OpenParams) (Stream, error) {
	if err := b.ensureInit(); err != nil {
		return nil, err
	}
	wantInput := dir == DirIn

	var dev *portaudio.DeviceInfo
	var hostAPI HostAPIKind
	var err error
	if p.DeviceName != "" {
		dev, hostAPI, err = findDeviceByName(p.DeviceName, wantInput)
	} else {
		dev, hostAPI, err = defaultDevice(wantInput)
	}
	if err != nil {
		return nil, err
	}

	rate, err := NegotiateRate(p.RequestedRate, 8000, dev.DefaultSampleRate, func(r float64) bool { return r > 0 })
	if err != nil {
		return nil, err
	}

	framesPerBuffer := p.FramesPerBuffer
	if framesPerBuffer == 0 {
		framesPerBuffer = portaudio.FramesPerBufferUnspecified
	}

	s := &portaudioCallbackStream{rate: rate, isInput: wantInput, hostAPI: hostAPI}
	s.lastState.Store(int32(StateContinue))

	params := portaudio.StreamParameters{
		SampleRate:      rate,
		FramesPerBuffer: framesPerBuffer,
	}

	var stream *portaudio.Stream
	if wantInput {
		params.Input = portaudio.StreamDeviceParameters{Device: dev, Channels: 2, Latency: dev.DefaultLowInputLatency}
		stream, err = portaudio.OpenStream(params, func(in []float32) {
			s.invoke(in, nil, len(in)/2)
		})
	} else {
		params.Output = portaudio.StreamDeviceParameters{Device: dev, Channels: 2, Latency: dev.DefaultLowOutputLatency}
		stream, err = portaudio.OpenStream(params, func(out []float32) {
			s.invoke(nil, out, len(out)/2)
		})
	}
	if err != nil {
		return nil, fmt.Errorf("backend: %w: open %s callback stream: %v", ErrBackend, dir, err)
	}
	s.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("backend: %w: start %s callback stream: %v", ErrBackend, dir, err)
	}
	s.active.Store(true)
	return s, nil
}

type portaudioCallbackStream struct {
	mu         sync.Mutex
	stream     *portaudio.Stream
	rate       float64
	isInput    bool
	hostAPI    HostAPIKind
	active     atomic.Bool
	lastState  atomic.Int32
	processCb  atomic.Value // ProcessCallback
	stoppedCb  atomic.Value // StoppedCallback
	stopOnce   sync.Once
}

// invoke runs on PortAudio's realtime thread. It must not block or
// allocate beyond what's already here — the ring/semaphore work happens
// inside the registered ProcessCallback, which internal/duplex built to
// meet that same constraint.
func (s *portaudioCallbackStream) invoke(in, out []float32, nframes int) {
	cbv := s.processCb.Load()
	if cbv == nil {
		return
	}
	cb := cbv.(ProcessCallback)
	flags := ProcessFlags{}
	st := cb(in, out, nframes, flags)
	s.lastState.Store(int32(st))
	if st == StateAbort || (st == StateComplete && out == nil) {
		s.stopOnce.Do(func() {
			go s.finishStop()
		})
	}
}

func (s *portaudioCallbackStream) finishStop() {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream != nil {
		stream.Stop()
	}
	s.active.Store(false)
	if cbv := s.stoppedCb.Load(); cbv != nil {
		cbv.(StoppedCallback)()
	}
}

func (s *portaudioCallbackStream) DeviceSampleRate() float64 { return s.rate }

func (s *portaudioCallbackStream) Close() error {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()
	s.active.Store(false)
	if stream == nil {
		return nil
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("backend: %w: close: %v", ErrBackend, err)
	}
	return nil
}

func (s *portaudioCallbackStream) Abort() error {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()
	s.active.Store(false)
	if stream == nil {
		return nil
	}
	if err := stream.Abort(); err != nil {
		return fmt.Errorf("backend: %w: abort: %v", ErrBackend, err)
	}
	return nil
}

func (s *portaudioCallbackStream) Write(frames []float32) error { return ErrNotBlocking }
func (s *portaudioCallbackStream) Read(frames []float32) error  { return ErrNotBlocking }

func (s *portaudioCallbackStream) RegisterProcessCallback(cb ProcessCallback) error {
	s.processCb.Store(cb)
	return nil
}

func (s *portaudioCallbackStream) RegisterStoppedCallback(cb StoppedCallback) error {
	s.stoppedCb.Store(cb)
	return nil
}

func (s *portaudioCallbackStream) IsActive() bool { return s.active.Load() }

// MustClose is false for the callback backend: Abort() cleanly releases the
// PortAudio stream without needing the graceful drain Close() performs
// (resolved Open Question, see DESIGN.md).
func (s *portaudioCallbackStream) MustClose() bool { return false }

func (s *portaudioCallbackStream) HostAPI() HostAPIKind { return s.hostAPI }
