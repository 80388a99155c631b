package backend

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioBlockingBackend implements Backend using PortAudio's synchronous
// Read()/Write() stream archetype, generalized to a per-direction
// open/negotiate/2-channel contract with named-device lookup via a
// HostApis()/DeviceInfo walk.
type PortAudioBlockingBackend struct {
	mu          sync.Mutex
	initialized bool
}

func NewPortAudioBlockingBackend() *PortAudioBlockingBackend {
	return &PortAudioBlockingBackend{}
}

func (b *PortAudioBlockingBackend) ensureInit() error {
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

// Terminate releases PortAudio's global state. Safe to call even if Open was
// never called.
func (b *PortAudioBlockingBackend) Terminate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil
	}
	err := portaudio.Terminate()
	b.initialized = false
	return err
}

// findDeviceByName walks every host API's device list (the same
// HostApis()-then-Devices pattern voxworld-voxaudio's loopback.go uses for
// name matching) so the matched device's host API kind travels with it —
// the facade needs it to decide whether a pure rate change can retune in
// place (never true for JACK; see spec.md §4.F).
func findDeviceByName(name string, wantInput bool) (*portaudio.DeviceInfo, HostAPIKind, error) {
	apis, err := portaudio.HostApis()
	if err != nil {
		return nil, HostAPIUnknown, fmt.Errorf("backend: enumerate host apis: %w", err)
	}
	for _, api := range apis {
		kind := hostAPIKindFromName(api.Name)
		for _, d := range api.Devices {
			if d.Name != name {
				continue
			}
			if wantInput && d.MaxInputChannels > 0 {
				return d, kind, nil
			}
			if !wantInput && d.MaxOutputChannels > 0 {
				return d, kind, nil
			}
		}
	}
	return nil, HostAPIUnknown, fmt.Errorf("backend: %w: device %q not found or has no %s channels", ErrDeviceUnavailable, name, directionLabel(wantInput))
}

func directionLabel(wantInput bool) string {
	if wantInput {
		return "input"
	}
	return "output"
}

func defaultDevice(wantInput bool) (*portaudio.DeviceInfo, HostAPIKind, error) {
	host, err := portaudio.DefaultHostApi()
	if err != nil {
		return nil, HostAPIUnknown, fmt.Errorf("backend: default host api: %w", err)
	}
	dev := host.DefaultInputDevice
	if !wantInput {
		dev = host.DefaultOutputDevice
	}
	if dev == nil {
		return nil, HostAPIUnknown, fmt.Errorf("backend: %w: no default %s device", ErrDeviceUnavailable, directionLabel(wantInput))
	}
	return dev, hostAPIKindFromName(host.Name), nil
}

func (b *PortAudioBlockingBackend) Open(dir Direction, p OpenParams) (Stream, error) {
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

	rate, err := NegotiateRate(p.RequestedRate, 8000, dev.DefaultSampleRate, func(r float64) bool {
		return r > 0 // PortAudio validates at OpenStream time; checked below via the open call itself.
	})
	if err != nil {
		return nil, err
	}

	framesPerBuffer := p.FramesPerBuffer
	if framesPerBuffer == 0 {
		framesPerBuffer = portaudio.FramesPerBufferUnspecified
	}

	buf := make([]float32, 0)
	params := portaudio.StreamParameters{
		SampleRate:      rate,
		FramesPerBuffer: framesPerBuffer,
	}
	if wantInput {
		params.Input = portaudio.StreamDeviceParameters{Device: dev, Channels: 2, Latency: dev.DefaultLowInputLatency}
		buf = make([]float32, 2*maxInt(1, p.FramesPerBuffer))
	} else {
		params.Output = portaudio.StreamDeviceParameters{Device: dev, Channels: 2, Latency: dev.DefaultLowOutputLatency}
		buf = make([]float32, 2*maxInt(1, p.FramesPerBuffer))
	}

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("backend: %w: open %s stream: %v", ErrBackend, dir, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("backend: %w: start %s stream: %v", ErrBackend, dir, err)
	}

	return &portaudioBlockingStream{
		stream:    stream,
		buf:       buf,
		rate:      rate,
		isInput:   wantInput,
		active:    true,
		mustClose: true, // resolved Open Question, see DESIGN.md
		hostAPI:   hostAPI,
	}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

type portaudioBlockingStream struct {
	mu        sync.Mutex
	stream    *portaudio.Stream
	buf       []float32
	rate      float64
	isInput   bool
	active    bool
	mustClose bool
	hostAPI   HostAPIKind
}

func (s *portaudioBlockingStream) DeviceSampleRate() float64 { return s.rate }

func (s *portaudioBlockingStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	if s.stream == nil {
		return nil
	}
	err := s.stream.Close()
	s.stream = nil
	if err != nil {
		return fmt.Errorf("backend: %w: close: %v", ErrBackend, err)
	}
	return nil
}

func (s *portaudioBlockingStream) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	if s.stream == nil {
		return nil
	}
	err := s.stream.Abort()
	s.stream = nil
	if err != nil {
		return fmt.Errorf("backend: %w: abort: %v", ErrBackend, err)
	}
	return nil
}

func (s *portaudioBlockingStream) Write(frames []float32) error {
	if !s.isInput {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stream == nil {
			return fmt.Errorf("backend: %w: stream closed", ErrInvalidState)
		}
		copy(s.buf, frames)
		if err := s.stream.Write(); err != nil {
			return fmt.Errorf("backend: %w: write: %v", ErrBackend, err)
		}
		return nil
	}
	return ErrNotBlocking
}

func (s *portaudioBlockingStream) Read(frames []float32) error {
	if s.isInput {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stream == nil {
			return fmt.Errorf("backend: %w: stream closed", ErrInvalidState)
		}
		if err := s.stream.Read(); err != nil {
			return fmt.Errorf("backend: %w: read: %v", ErrBackend, err)
		}
		copy(frames, s.buf)
		return nil
	}
	return ErrNotBlocking
}

func (s *portaudioBlockingStream) RegisterProcessCallback(cb ProcessCallback) error {
	return ErrNotBlocking
}

func (s *portaudioBlockingStream) RegisterStoppedCallback(cb StoppedCallback) error {
	return ErrNotBlocking
}

func (s *portaudioBlockingStream) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// MustClose is true for the blocking PortAudio backend: its stream handle
// must be released with Close() (which flushes PortAudio's own internal
// buffering) rather than Abort(), which the non-blocking callback backend
// tolerates fine (see DESIGN.md's resolved Open Question on must-close
// semantics varying by backend archetype).
func (s *portaudioBlockingStream) MustClose() bool { return true }

func (s *portaudioBlockingStream) HostAPI() HostAPIKind { return s.hostAPI }
