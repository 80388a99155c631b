package duplex

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/duplexaudio/internal/backend"
	"github.com/loqalabs/duplexaudio/internal/filetee"
	"github.com/loqalabs/duplexaudio/internal/settings"
	"github.com/loqalabs/duplexaudio/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticSource(snap settings.Snapshot) *settings.Static {
	return settings.NewStatic(snap)
}

func TestOpenCloseNullBackendBothDirections(t *testing.T) {
	be := backend.NewNullBackend()
	src := staticSource(settings.Snapshot{
		InSampleRate:    backend.RateSetting{Mode: backend.RateExplicit, Hz: 8000},
		OutSampleRate:   backend.RateSetting{Mode: backend.RateExplicit, Hz: 8000},
		FramesPerBuffer: 64,
	})
	f := NewFacade(be, src, telemetry.NoopPublisher{})
	require.NoError(t, f.Open(ModeRead|ModeWrite, 8000))

	buf := make([]float64, 32)
	n, err := f.ReadMono(buf)
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	nw, err := f.WriteMono(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, n, nw)

	require.NoError(t, f.Close(DirBoth))
}

func TestWriteMonoDeliversToMockPlaybackRing(t *testing.T) {
	be := backend.NewMockBackend()
	src := staticSource(settings.Snapshot{
		OutSampleRate:   backend.RateSetting{Mode: backend.RateExplicit, Hz: 8000},
		FramesPerBuffer: 64,
	})
	f := NewFacade(be, src, telemetry.NoopPublisher{})
	require.NoError(t, f.Open(ModeWrite, 8000))
	t.Cleanup(func() { f.Close(DirBoth) })

	samples := make([]float64, 64)
	for i := range samples {
		samples[i] = 0.25
	}
	n, err := f.WriteMono(samples)
	require.NoError(t, err)
	assert.Equal(t, 64, n)

	streams := be.Streams()
	require.Len(t, streams, 1)
	ms := streams[0]

	require.Eventually(t, func() bool {
		return len(ms.PlayedOutput()) > 0
	}, 2*time.Second, 5*time.Millisecond, "played output never arrived at the mock stream")
}

func TestReadMonoDownmixesStereoCaptureFromMock(t *testing.T) {
	be := backend.NewMockBackend()
	src := staticSource(settings.Snapshot{
		InSampleRate:    backend.RateSetting{Mode: backend.RateExplicit, Hz: 8000},
		FramesPerBuffer: 64,
	})
	f := NewFacade(be, src, telemetry.NoopPublisher{})
	require.NoError(t, f.Open(ModeRead, 8000))
	t.Cleanup(func() { f.Close(DirBoth) })

	streams := be.Streams()
	require.Len(t, streams, 1)
	ms := streams[0]
	ms.InputGenerator = func(frames []float32) {
		for i := 0; i < len(frames); i += 2 {
			frames[i] = 0.2
			frames[i+1] = 0.6
		}
	}

	buf := make([]float64, 32)
	var n int
	var err error
	require.Eventually(t, func() bool {
		n, err = f.ReadMono(buf)
		return err == nil && n > 0
	}, 2*time.Second, 5*time.Millisecond, "read never produced samples")

	assert.InDelta(t, 0.4, buf[0], 1e-3)
}

func TestReadMonoReturnsInvalidStateWhenNotOpen(t *testing.T) {
	be := backend.NewMockBackend()
	src := staticSource(settings.Snapshot{})
	f := NewFacade(be, src, telemetry.NoopPublisher{})

	_, err := f.ReadMono(make([]float64, 4))
	require.Error(t, err)
	se, ok := err.(*SoundError)
	require.True(t, ok)
	assert.Equal(t, InvalidState, se.Kind)
}

func TestWriteMonoReturnsInvalidStateWhenNotOpen(t *testing.T) {
	be := backend.NewMockBackend()
	src := staticSource(settings.Snapshot{})
	f := NewFacade(be, src, telemetry.NoopPublisher{})

	_, err := f.WriteMono(make([]float64, 4))
	require.Error(t, err)
	se, ok := err.(*SoundError)
	require.True(t, ok)
	assert.Equal(t, InvalidState, se.Kind)
}

func TestMustCloseReflectsBackendArchetype(t *testing.T) {
	be := backend.NewMockBackend()
	src := staticSource(settings.Snapshot{
		InSampleRate:    backend.RateSetting{Mode: backend.RateExplicit, Hz: 8000},
		FramesPerBuffer: 32,
	})
	f := NewFacade(be, src, telemetry.NoopPublisher{})
	require.NoError(t, f.Open(ModeRead, 8000))
	t.Cleanup(func() { f.Close(DirBoth) })
	assert.False(t, f.MustClose())

	streams := be.Streams()
	require.Len(t, streams, 1)
	streams[0].SetMustClose(true)
	assert.True(t, f.MustClose())
}

func TestFlushDrainsWithoutClosingStream(t *testing.T) {
	be := backend.NewNullBackend()
	src := staticSource(settings.Snapshot{
		OutSampleRate:   backend.RateSetting{Mode: backend.RateExplicit, Hz: 8000},
		FramesPerBuffer: 32,
	})
	f := NewFacade(be, src, telemetry.NoopPublisher{})
	require.NoError(t, f.Open(ModeWrite, 8000))
	t.Cleanup(func() { f.Close(DirBoth) })

	sd := f.sd[dirIndex(backend.DirOut)]
	sd.cSem.post()

	require.NoError(t, f.Flush(MaskOut))
	assert.Equal(t, backend.StateContinue, sd.getState())
}

func TestOpenRebuildsOnAutoRateChangeForNonJackStream(t *testing.T) {
	be := backend.NewMockBackend()
	src := staticSource(settings.Snapshot{
		OutSampleRate:   backend.RateSetting{Mode: backend.RateAuto},
		FramesPerBuffer: 64,
	})
	f := NewFacade(be, src, telemetry.NoopPublisher{})
	require.NoError(t, f.Open(ModeWrite, 8000))
	t.Cleanup(func() { f.Close(DirBoth) })

	firstSD := f.sd[dirIndex(backend.DirOut)]
	require.NoError(t, f.Open(ModeWrite, 16000))
	assert.NotSame(t, firstSD, f.sd[dirIndex(backend.DirOut)], "an AUTO rate change on a non-JACK backend may renegotiate dev_sample_rate and must rebuild")
	assert.Len(t, be.Streams(), 2)
}

func TestOpenRetunesInPlaceWhenBackendIsJackEvenOnRateChange(t *testing.T) {
	be := backend.NewMockBackend()
	be.NextHostAPI = backend.HostAPIJACK
	src := staticSource(settings.Snapshot{
		OutSampleRate:   backend.RateSetting{Mode: backend.RateAuto},
		FramesPerBuffer: 64,
	})
	f := NewFacade(be, src, telemetry.NoopPublisher{})
	require.NoError(t, f.Open(ModeWrite, 8000))
	t.Cleanup(func() { f.Close(DirBoth) })

	sd := f.sd[dirIndex(backend.DirOut)]
	firstRatio := sd.rs.Ratio()

	require.NoError(t, f.Open(ModeWrite, 16000))
	assert.Same(t, sd, f.sd[dirIndex(backend.DirOut)], "JACK pins the device rate regardless of the request, so this must retune in place, not rebuild")
	assert.NotEqual(t, firstRatio, sd.rs.Ratio())
	require.Len(t, be.Streams(), 1, "retuning in place must not open a second backend stream")
}

func TestOpenRetunesInPlaceWhenRateSettingIsExplicitEvenOnRateChange(t *testing.T) {
	be := backend.NewMockBackend()
	src := staticSource(settings.Snapshot{
		OutSampleRate:   backend.RateSetting{Mode: backend.RateExplicit, Hz: 48000},
		FramesPerBuffer: 64,
	})
	f := NewFacade(be, src, telemetry.NoopPublisher{})
	require.NoError(t, f.Open(ModeWrite, 8000))
	t.Cleanup(func() { f.Close(DirBoth) })

	sd := f.sd[dirIndex(backend.DirOut)]
	require.NoError(t, f.Open(ModeWrite, 16000))
	assert.Same(t, sd, f.sd[dirIndex(backend.DirOut)], "an explicit rate setting pins dev_sample_rate, so a modem-rate-only change must retune in place")
	require.Len(t, be.Streams(), 1)
}

func TestReadMonoRetunesRatioWhenRxPPMDriftsBetweenCalls(t *testing.T) {
	be := backend.NewMockBackend()
	src := staticSource(settings.Snapshot{
		InSampleRate:    backend.RateSetting{Mode: backend.RateExplicit, Hz: 8000},
		FramesPerBuffer: 64,
	})
	f := NewFacade(be, src, telemetry.NoopPublisher{})
	require.NoError(t, f.Open(ModeRead, 8000))
	t.Cleanup(func() { f.Close(DirBoth) })

	sd := f.sd[dirIndex(backend.DirIn)]
	buf := make([]float64, 16)
	_, _ = f.ReadMono(buf)
	initialRatio := sd.rs.Ratio()

	src.Set(settings.Snapshot{
		InSampleRate:    backend.RateSetting{Mode: backend.RateExplicit, Hz: 8000},
		FramesPerBuffer: 64,
		RxPPM:           500,
	})
	_, _ = f.ReadMono(buf)
	assert.NotEqual(t, initialRatio, sd.rs.Ratio())
	assert.Equal(t, 500, sd.rs.LastPPM())
}

func TestReadMonoSourcesFromPlaybackFileAndIgnoresDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "source.wav")
	w, err := filetee.NewWriter(path, 8000)
	require.NoError(t, err)
	require.NoError(t, w.WriteMono([]float64{0.4, -0.2, 0.1}))
	require.NoError(t, w.Close())

	be := backend.NewMockBackend()
	src := staticSource(settings.Snapshot{
		InSampleRate:    backend.RateSetting{Mode: backend.RateExplicit, Hz: 8000},
		FramesPerBuffer: 32,
		EnableMixer:     true,
		RxMixerVolume:   0.5,
	})
	f := NewFacade(be, src, telemetry.NoopPublisher{})
	require.NoError(t, f.Open(ModeRead, 8000))
	t.Cleanup(func() { f.Close(DirBoth) })
	require.NoError(t, f.Playback(true, path))

	capturePath := filepath.Join(t.TempDir(), "capture.wav")
	require.NoError(t, f.Capture(true, capturePath))

	buf := make([]float64, 3)
	n, err := f.ReadMono(buf)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	// Scaled by the 0.5 receive-volume control, not sourced from the mock
	// device stream at all.
	assert.InDelta(t, 0.2, buf[0], 1e-3)
	assert.InDelta(t, -0.1, buf[1], 1e-3)
	assert.InDelta(t, 0.05, buf[2], 1e-3)

	require.NoError(t, f.Capture(false, ""))
	r, err := filetee.NewReader(capturePath)
	require.NoError(t, err)
	defer r.Close()
	out := make([]float64, 3)
	n, err = r.ReadMono(out)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	assert.InDelta(t, 0.2, out[0], 1e-3)
}

func TestGenerateTeesModemOutputBeforeResample(t *testing.T) {
	be := backend.NewMockBackend()
	src := staticSource(settings.Snapshot{
		OutSampleRate:   backend.RateSetting{Mode: backend.RateExplicit, Hz: 8000},
		FramesPerBuffer: 32,
	})
	f := NewFacade(be, src, telemetry.NoopPublisher{})
	require.NoError(t, f.Open(ModeWrite, 8000))
	t.Cleanup(func() { f.Close(DirBoth) })

	genPath := filepath.Join(t.TempDir(), "generate.wav")
	require.NoError(t, f.Generate(true, genPath))

	samples := []float64{0.3, -0.1, 0.2}
	n, err := f.WriteMono(samples)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, f.Generate(false, ""))
	r, err := filetee.NewReader(genPath)
	require.NoError(t, err)
	defer r.Close()
	out := make([]float64, 3)
	n, err = r.ReadMono(out)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	assert.InDelta(t, 0.3, out[0], 1e-3)
	assert.InDelta(t, -0.1, out[1], 1e-3)
	assert.InDelta(t, 0.2, out[2], 1e-3)
}

func TestAbortStopsStreamImmediately(t *testing.T) {
	be := backend.NewMockBackend()
	src := staticSource(settings.Snapshot{
		InSampleRate:    backend.RateSetting{Mode: backend.RateExplicit, Hz: 8000},
		FramesPerBuffer: 32,
	})
	f := NewFacade(be, src, telemetry.NoopPublisher{})
	require.NoError(t, f.Open(ModeRead, 8000))

	streams := be.Streams()
	require.Len(t, streams, 1)

	require.NoError(t, f.Abort(MaskIn))
	assert.False(t, streams[0].IsActive())
	assert.Nil(t, f.sd[dirIndex(backend.DirIn)])
}
