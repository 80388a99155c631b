package duplex

import (
	"time"

	"github.com/loqalabs/duplexaudio/internal/backend"
	"github.com/loqalabs/duplexaudio/internal/filetee"
	"github.com/loqalabs/duplexaudio/internal/resample"
	"github.com/loqalabs/duplexaudio/internal/ring"
	"github.com/loqalabs/duplexaudio/internal/settings"
	"github.com/loqalabs/duplexaudio/internal/telemetry"
)

// Facade is the public duplex-audio engine: one instance owns up to two
// running streams (capture and playback), the rings and resamplers that
// bridge them to the modem thread, and the optional file/network tees.
// All exported methods except the realtime callbacks built internally are
// intended to be called from a single modem-thread goroutine; Open/Close/
// Abort/Flush are not safe to call concurrently with ReadMono/WriteMono/
// WriteStereo on the same direction.
type Facade struct {
	be  backend.Backend
	src settings.Source
	pub telemetry.Publisher

	sd [2]*streamData

	reqRate float64

	tee TeeWriter

	captureWriter  filetee.Writer
	playbackReader filetee.Reader
	generateWriter filetee.Writer

	sndBuffer []float32
	srcBuffer []float32
}

// NewFacade wires a Facade to its backend driver, its settings source, and
// a telemetry sink. pub may be telemetry.NoopPublisher{} if no sink is
// configured.
func NewFacade(be backend.Backend, src settings.Source, pub telemetry.Publisher) *Facade {
	return &Facade{
		be:        be,
		src:       src,
		pub:       pub,
		sndBuffer: make([]float32, sndBufLen),
		srcBuffer: make([]float32, sndBufLen),
	}
}

// MustClose reports whether any currently open direction requires an
// explicit Close() (rather than Abort()) to release its device handle
// cleanly.
func (f *Facade) MustClose() bool {
	for _, sd := range f.sd {
		if sd != nil && sd.stream != nil && sd.stream.MustClose() {
			return true
		}
	}
	return false
}

// Tee arms a network tee: every mono block ReadMono returns is additionally
// handed to w. Pass nil to disable.
func (f *Facade) Tee(w TeeWriter) { f.tee = w }

// Capture enables or disables teeing captured audio to a sound file.
func (f *Facade) Capture(on bool, path string) error {
	if !on {
		if f.captureWriter != nil {
			err := f.captureWriter.Close()
			f.captureWriter = nil
			return err
		}
		return nil
	}
	w, err := filetee.NewWriter(path, int(f.reqRate))
	if err != nil {
		return newSoundError(BackendError, "capture: open file", err)
	}
	f.captureWriter = w
	return nil
}

// Playback substitutes file-sourced audio for the live capture direction,
// looping on EOF. Useful for running the modem against a fixed test
// recording instead of a microphone.
func (f *Facade) Playback(on bool, path string) error {
	if !on {
		if f.playbackReader != nil {
			err := f.playbackReader.Close()
			f.playbackReader = nil
			return err
		}
		return nil
	}
	r, err := filetee.NewReader(path)
	if err != nil {
		return newSoundError(BackendError, "playback: open file", err)
	}
	f.playbackReader = r
	return nil
}

// Generate enables or disables teeing every mono block the modem sends to
// WriteMono/WriteStereo to a sound file, captured before resampling (spec.md
// §4.E write_mono step 1) — the playback-side counterpart to Capture.
func (f *Facade) Generate(on bool, path string) error {
	if !on {
		if f.generateWriter != nil {
			err := f.generateWriter.Close()
			f.generateWriter = nil
			return err
		}
		return nil
	}
	w, err := filetee.NewWriter(path, int(f.reqRate))
	if err != nil {
		return newSoundError(BackendError, "generate: open file", err)
	}
	f.generateWriter = w
	return nil
}

// Open brings up the directions named by mode at the modem-facing rate
// freq, negotiating each direction's device sample rate, sizing its ring,
// and arming its resampler and realtime callback (or blocking-I/O loop).
// Calling Open again for a direction that is already open either retunes
// the resampler in place or fully rebuilds the stream, depending on
// whether the device's negotiated rate could have changed — see
// openDir/retuneInPlace.
func (f *Facade) Open(mode Mode, freq int) error {
	f.reqRate = float64(freq)
	snap := f.src.Snapshot()

	if mode&ModeRead != 0 {
		if err := f.openDir(backend.DirIn, snap); err != nil {
			return err
		}
	}
	if mode&ModeWrite != 0 {
		if err := f.openDir(backend.DirOut, snap); err != nil {
			return err
		}
	}
	return nil
}

func (f *Facade) openDir(dir backend.Direction, snap settings.Snapshot) error {
	idx := dirIndex(dir)

	rateSetting := snap.InSampleRate
	deviceName := snap.InputDeviceName
	ppm := snap.RxPPM
	if dir == backend.DirOut {
		rateSetting = snap.OutSampleRate
		deviceName = snap.OutputDeviceName
		ppm = snap.TxPPM
	}

	if existing := f.sd[idx]; existing != nil {
		if existing.active() && existing.reqRate == f.reqRate {
			// Nothing changed for this direction; leave the running stream
			// alone.
			return nil
		}
		needsRebuild := existing.hostAPI != backend.HostAPIJACK && rateSetting.Mode == backend.RateAuto
		if existing.active() && !needsRebuild {
			// The device's negotiated rate can't have moved (JACK pins it
			// regardless of what we ask for; a non-AUTO setting pins it to
			// whatever NegotiateRate already chose), so only the resampler
			// needs retuning for the new modem rate — src_data_reset in
			// spec.md §4.F's terms, not a device teardown.
			f.retuneInPlace(existing, dir, ppm)
			existing.reqRate = f.reqRate
			return nil
		}
		// Full rebuild: the backend isn't JACK and the rate setting is AUTO,
		// so the new requested rate may renegotiate a different device
		// sample rate, which forces new ring sizing and a fresh resampler.
		// Drain stale semaphore tokens before tearing down so a leftover
		// post from the old session can't satisfy the new session's first
		// wait immediately (spec.md §4.F).
		existing.rwSem.drain()
		existing.cSem.drain()
		f.teardown(existing, false)
		f.sd[idx] = nil
	}

	params := backend.OpenParams{
		RequestedRate:   rateSetting,
		DeviceName:      deviceName,
		ServerAddress:   snap.ServerAddress,
		FramesPerBuffer: snap.FramesPerBuffer,
	}
	stream, err := f.be.Open(dir, params)
	if err != nil {
		return classifyBackendErr("open "+dir.String(), err)
	}

	sd := newStreamData(dir, deviceName)
	sd.stream = stream
	sd.devSampleRate = stream.DeviceSampleRate()
	sd.hostAPI = stream.HostAPI()
	sd.reqRate = f.reqRate
	sd.framesPerBuffer = snap.FramesPerBuffer
	if sd.framesPerBuffer <= 0 {
		sd.framesPerBuffer = scBlockSize
	}

	var size int
	var ratio float64
	if dir == backend.DirIn {
		size = ringSizeIn(f.reqRate, sd.devSampleRate)
		ratio = resample.RatioCapture(f.reqRate, sd.devSampleRate, ppm)
	} else {
		size = ringSizeOut(f.reqRate, sd.devSampleRate)
		ratio = resample.RatioPlayback(f.reqRate, sd.devSampleRate, ppm)
	}
	sd.rb = ring.New(size)
	sd.rs = resample.New(channels, ratio)
	sd.rs.SetRatio(ratio, ppm)

	if err := stream.RegisterProcessCallback(buildProcessCallback(sd, f.pub)); err != nil {
		if err != backend.ErrNotBlocking {
			stream.Close()
			return classifyBackendErr("register callback", err)
		}
		f.startBlockingLoop(sd)
	} else {
		stream.RegisterStoppedCallback(buildStoppedCallback(sd))
	}

	f.sd[idx] = sd
	return nil
}

// retuneInPlace recomputes a running direction's resample ratio for a new
// modem-facing rate and resets the converter's carried interpolation state
// (src_data_reset in spec.md §4.F's terms), without touching the ring or
// the backend stream.
func (f *Facade) retuneInPlace(sd *streamData, dir backend.Direction, ppm int) {
	var ratio float64
	if dir == backend.DirIn {
		ratio = resample.RatioCapture(f.reqRate, sd.devSampleRate, ppm)
	} else {
		ratio = resample.RatioPlayback(f.reqRate, sd.devSampleRate, ppm)
	}
	sd.rs.SetRatio(ratio, ppm)
	sd.rs.Reset()
}

// retuneIfDrifted re-reads the ppm setting for dir and, if it has changed
// since the resampler's ratio was last computed, retunes before any frame
// in the current call is consumed (spec.md §4.E step 5 / §4.H: "re-reads
// ppm/rate settings on each transfer"). Unlike retuneInPlace (which also
// resets the converter's carried interpolation state on an Open()-driven
// rate change), this only updates the ratio — pitch continuity across an
// ordinary ppm nudge matters more than instant convergence.
func (f *Facade) retuneIfDrifted(sd *streamData, dir backend.Direction) {
	snap := f.src.Snapshot()
	ppm := snap.RxPPM
	if dir == backend.DirOut {
		ppm = snap.TxPPM
	}
	if ppm == sd.rs.LastPPM() {
		return
	}
	var ratio float64
	if dir == backend.DirIn {
		ratio = resample.RatioCapture(f.reqRate, sd.devSampleRate, ppm)
	} else {
		ratio = resample.RatioPlayback(f.reqRate, sd.devSampleRate, ppm)
	}
	sd.rs.SetRatio(ratio, ppm)
	f.pub.Publish(telemetry.Event{Kind: telemetry.EventRetune, Direction: dir.String(), At: time.Now()})
}

// startBlockingLoop spins a goroutine that drives a blocking-archetype
// stream's Read/Write in a loop, feeding/draining the ring in place of the
// realtime callback a callback-archetype stream would have. Unlike that
// callback, it keeps capturing into the ring during Drain/Complete, and it
// posts cSem on every iteration while the state is Drain or Complete
// without waiting for queued output to empty.
func (f *Facade) startBlockingLoop(sd *streamData) {
	sd.blockStop = make(chan struct{})
	sd.blockDone = make(chan struct{})
	go func() {
		defer close(sd.blockDone)
		buf := make([]float32, sd.framesPerBuffer*channels)
		for {
			select {
			case <-sd.blockStop:
				return
			default:
			}
			if sd.getState() == backend.StateAbort {
				return
			}
			if sd.dir == backend.DirIn {
				if err := sd.stream.Read(buf); err != nil {
					return
				}
				if n := writeRing(sd.rb, buf); n < len(buf) {
					f.pub.Publish(telemetry.Event{Kind: telemetry.EventOverflow, Direction: "in", Detail: "ring full, frames dropped", At: time.Now()})
				}
			} else {
				n := readRing(sd.rb, buf)
				if n < len(buf) {
					for i := n; i < len(buf); i++ {
						buf[i] = 0
					}
					f.pub.Publish(telemetry.Event{Kind: telemetry.EventUnderrun, Direction: "out", Detail: "ring underrun, silence inserted", At: time.Now()})
				}
				if err := sd.stream.Write(buf); err != nil {
					return
				}
			}
			sd.rwSem.post()

			if sd.getState() == backend.StateDrain || sd.getState() == backend.StateComplete {
				sd.cSem.post()
			}
		}
	}()
}

func (f *Facade) stopBlockingLoop(sd *streamData) {
	if sd.blockStop == nil {
		return
	}
	select {
	case <-sd.blockStop:
	default:
		close(sd.blockStop)
	}
	<-sd.blockDone
}

// Close gracefully stops every direction named by mask: each is asked to
// drain (StateComplete), given up to closeFlushTimeout on its completion
// semaphore, then torn down regardless — a stream that never signals
// completion in time is forced closed and a wedged event is published
// rather than hanging the modem thread forever.
func (f *Facade) Close(mask DirMask) error {
	return f.stopDirections(mask, backend.StateComplete)
}

// Abort stops every direction named by mask immediately, discarding
// whatever is buffered.
func (f *Facade) Abort(mask DirMask) error {
	return f.stopDirections(mask, backend.StateAbort)
}

func (f *Facade) stopDirections(mask DirMask, target backend.State) error {
	var firstErr error
	for _, dir := range []backend.Direction{backend.DirIn, backend.DirOut} {
		bit := MaskIn
		if dir == backend.DirOut {
			bit = MaskOut
		}
		if mask&bit == 0 {
			continue
		}
		idx := dirIndex(dir)
		sd := f.sd[idx]
		if sd == nil {
			continue
		}
		sd.setState(target)
		if target == backend.StateComplete {
			if timedOut := sd.cSem.wait(closeFlushTimeout); timedOut {
				f.pub.Publish(telemetry.Event{Kind: telemetry.EventWedged, Direction: dir.String(), At: time.Now()})
			}
		}
		if err := f.teardown(sd, target == backend.StateAbort); err != nil && firstErr == nil {
			firstErr = err
		}
		f.sd[idx] = nil
	}
	return firstErr
}

func (f *Facade) teardown(sd *streamData, immediate bool) error {
	f.stopBlockingLoop(sd)
	var err error
	if immediate || !sd.stream.MustClose() {
		err = sd.stream.Abort()
	} else {
		err = sd.stream.Close()
	}
	sd.cSem.drain()
	sd.rwSem.drain()
	if err != nil {
		return classifyBackendErr("close "+sd.dir.String(), err)
	}
	return nil
}

// Flush waits for every direction named by mask to drain its ring without
// tearing the stream down, bounded by closeFlushTimeout.
func (f *Facade) Flush(mask DirMask) error {
	for _, dir := range []backend.Direction{backend.DirIn, backend.DirOut} {
		bit := MaskIn
		if dir == backend.DirOut {
			bit = MaskOut
		}
		if mask&bit == 0 {
			continue
		}
		sd := f.sd[dirIndex(dir)]
		if sd == nil {
			continue
		}
		sd.setState(backend.StateDrain)
		if timedOut := sd.cSem.wait(closeFlushTimeout); timedOut {
			f.pub.Publish(telemetry.Event{Kind: telemetry.EventWedged, Direction: dir.String(), At: time.Now()})
		}
		sd.setState(backend.StateContinue)
	}
	return nil
}

// ReadMono resamples captured audio to the modem rate, downmixes it to
// mono by averaging the two channels, and fills buf, blocking until all
// len(buf) samples have been produced. If a wait for input exceeds
// dataTimeout, it returns the samples produced so far with a Timeout
// error. If Playback is armed, blocks are sourced from that file instead
// of the live ring.
func (f *Facade) ReadMono(buf []float64) (int, error) {
	if f.playbackReader != nil {
		n, err := f.playbackReader.ReadMono(buf)
		if err != nil {
			return n, newSoundError(BackendError, "read: playback file", err)
		}
		snap := f.src.Snapshot()
		if snap.EnableMixer {
			for i := 0; i < n; i++ {
				buf[i] *= snap.RxMixerVolume
			}
		}
		if f.captureWriter != nil {
			f.captureWriter.WriteMono(buf[:n])
		}
		return n, nil
	}

	sd := f.sd[dirIndex(backend.DirIn)]
	if sd == nil {
		return 0, newSoundError(InvalidState, "read: input direction not open", nil)
	}
	f.retuneIfDrifted(sd, backend.DirIn)

	produced := 0
	for produced < len(buf) {
		// ncount = floor(remaining modem-rate count / ratio): the number of
		// device-rate frames still needed from the ring (spec.md §4.E step 2).
		ncount := int(float64(len(buf)-produced) / sd.rs.Ratio())
		timeout := dataTimeout(sd.devSampleRate, ncount)

		spans := sd.rb.PeekRead()
		in := spans[0].Buf
		if len(in) == 0 {
			if sd.getState() == backend.StateAbort {
				return produced, newSoundError(InvalidState, "read: aborted", nil)
			}
			if timedOut := sd.rwSem.wait(timeout); timedOut {
				f.pub.Publish(telemetry.Event{Kind: telemetry.EventTimeout, Direction: "in", At: time.Now()})
				return produced, newSoundError(Timeout, "read: timed out waiting for input", nil)
			}
			continue
		}

		outCap := len(buf) - produced
		if outCap > len(f.srcBuffer)/channels {
			outCap = len(f.srcBuffer) / channels
		}
		p, c := sd.rs.Process(in, f.srcBuffer[:outCap*channels])
		sd.rb.ReadAdvance(c * channels)
		for i := 0; i < p; i++ {
			l := f.srcBuffer[i*channels]
			r := f.srcBuffer[i*channels+1]
			buf[produced+i] = (float64(l) + float64(r)) / 2
		}
		produced += p

		if p == 0 && c == 0 {
			if timedOut := sd.rwSem.wait(timeout); timedOut {
				f.pub.Publish(telemetry.Event{Kind: telemetry.EventTimeout, Direction: "in", At: time.Now()})
				return produced, newSoundError(Timeout, "read: timed out waiting for input", nil)
			}
		}
	}

	if f.tee != nil {
		if err := f.tee.TeeMono(buf[:produced]); err != nil {
			f.pub.Publish(telemetry.Event{Kind: telemetry.EventTimeout, Direction: "in", Detail: "tee: " + err.Error(), At: time.Now()})
		}
	}
	if f.captureWriter != nil {
		f.captureWriter.WriteMono(buf[:produced])
	}
	return produced, nil
}

// WriteMono duplicates a mono block onto both channels and writes it to
// the playback direction.
func (f *Facade) WriteMono(buf []float64) (int, error) {
	return f.writeStereo(buf, buf)
}

// WriteStereo writes independent left/right blocks to the playback
// direction.
func (f *Facade) WriteStereo(left, right []float64) (int, error) {
	return f.writeStereo(left, right)
}

func (f *Facade) writeStereo(left, right []float64) (int, error) {
	sd := f.sd[dirIndex(backend.DirOut)]
	if sd == nil {
		return 0, newSoundError(InvalidState, "write: output direction not open", nil)
	}
	f.retuneIfDrifted(sd, backend.DirOut)

	n := len(left)
	if len(right) < n {
		n = len(right)
	}
	if f.generateWriter != nil {
		f.generateWriter.WriteMono(left[:n])
	}
	if n*channels > len(f.srcBuffer) {
		n = len(f.srcBuffer) / channels
	}
	for i := 0; i < n; i++ {
		f.srcBuffer[i*channels] = float32(left[i])
		f.srcBuffer[i*channels+1] = float32(right[i])
	}

	consumed := 0
	for consumed < n {
		// count_out = ceil(remaining modem-rate count * ratio): the number
		// of device-rate frames the remaining write still has to produce.
		ncount := int(float64(n-consumed)*sd.rs.Ratio() + 0.999999)
		timeout := dataTimeout(sd.devSampleRate, ncount)

		in := f.srcBuffer[consumed*channels : n*channels]
		spans := sd.rb.PeekWrite()
		dst := spans[0].Buf
		if len(dst) == 0 {
			if sd.getState() == backend.StateAbort {
				return consumed, newSoundError(InvalidState, "write: aborted", nil)
			}
			if timedOut := sd.rwSem.wait(timeout); timedOut {
				f.pub.Publish(telemetry.Event{Kind: telemetry.EventTimeout, Direction: "out", At: time.Now()})
				return consumed, newSoundError(Timeout, "write: timed out waiting for output space", nil)
			}
			continue
		}

		outCap := len(dst) / channels
		p, c := sd.rs.Process(in, dst[:outCap*channels])
		sd.rb.WriteAdvance(p * channels)
		consumed += c

		if p == 0 && c == 0 {
			if timedOut := sd.rwSem.wait(timeout); timedOut {
				f.pub.Publish(telemetry.Event{Kind: telemetry.EventTimeout, Direction: "out", At: time.Now()})
				return consumed, newSoundError(Timeout, "write: timed out waiting for output space", nil)
			}
		}
	}
	return consumed, nil
}
