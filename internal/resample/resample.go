// Package resample wraps a streaming sample-rate converter with the
// per-direction state the duplex engine needs: a persistent fractional
// position across calls, a live-updatable ratio, and a fixed channel count.
//
// The converter itself is a linear-interpolation streaming resampler. Its
// data shapes mirror the SRC_DATA model described in
// other_examples/keereets-go-libsamplerate__common.go (InputFrames,
// OutputFrames, InputFramesUsed, OutputFramesGen, SrcRatio) — see
// DESIGN.md for why this is an internal implementation rather than an
// imported binding.
package resample

import "math"

// State is one direction's persistent converter state. Ratio may be
// changed between calls via SetRatio; the converter is reset only when the
// stream itself is (re)opened, never between blocks, so pitch stays
// continuous across arbitrary block sizes.
type State struct {
	channels int
	ratio    float64
	lastPPM  int

	// pos is the fractional read position into the *next* input block, in
	// frames. A value in [-1, 0) means the interpolation still needs the
	// last frame carried over from the previous call (held in prev).
	pos  float64
	prev []float32
}

// New creates converter state for a fixed channel count and initial ratio.
func New(channels int, ratio float64) *State {
	return &State{
		channels: channels,
		ratio:    ratio,
		prev:     make([]float32, channels),
	}
}

// Channels returns the fixed channel count this state was created with.
func (s *State) Channels() int { return s.channels }

// Ratio returns the currently applied output/input frame ratio.
func (s *State) Ratio() float64 { return s.ratio }

// LastPPM returns the ppm correction last applied via SetRatio, so callers
// can detect drift-setting changes without caching it themselves.
func (s *State) LastPPM() int { return s.lastPPM }

// SetRatio updates the conversion ratio, recording the ppm value that
// produced it. Safe to call between Process calls; never resets pos/prev,
// so in-flight interpolation state survives a drift retune.
func (s *State) SetRatio(ratio float64, ppm int) {
	s.ratio = ratio
	s.lastPPM = ppm
}

// Reset clears carried interpolation state. Only legal when the stream is
// being (re)opened — never between blocks of a running stream.
func (s *State) Reset() {
	s.pos = 0
	for i := range s.prev {
		s.prev[i] = 0
	}
}

// Process converts in (interleaved, channels() per frame) into out at the
// current ratio, and returns the number of output frames produced and
// input frames consumed. Output never exceeds len(out)/channels frames; if
// the available input would produce more, Process consumes only what fits
// and reports consumed < available — the caller must loop (duplex.Facade's
// ReadMono and WriteMono do, advancing the ring by what was consumed or
// produced on each pass).
func (s *State) Process(in, out []float32) (producedFrames, consumedFrames int) {
	ch := s.channels
	inFrames := len(in) / ch
	outCap := len(out) / ch
	if outCap == 0 {
		return 0, 0
	}

	step := 1.0 / s.ratio
	produced := 0
	for produced < outCap {
		idx := int(math.Floor(s.pos))
		if idx > inFrames-1 {
			break
		}
		frac := float32(s.pos - math.Floor(s.pos))
		// idx+1 is only needed to interpolate a fractional position; an
		// exact integer position (frac == 0, e.g. ratio == 1.0) needs only
		// idx itself, so it must not be gated on idx+1's availability — the
		// last input frame would otherwise never be reachable.
		if frac != 0 && idx+1 > inFrames-1 {
			break
		}
		for c := 0; c < ch; c++ {
			a := s.sampleAt(in, idx, c)
			out[produced*ch+c] = a
			if frac != 0 {
				b := s.sampleAt(in, idx+1, c)
				out[produced*ch+c] = a + frac*(b-a)
			}
		}
		produced++
		s.pos += step
	}

	consumed := int(math.Floor(s.pos))
	if consumed < 0 {
		consumed = 0
	}
	if consumed > inFrames {
		consumed = inFrames
	}
	if consumed > 0 {
		for c := 0; c < ch; c++ {
			s.prev[c] = in[(consumed-1)*ch+c]
		}
	}
	s.pos -= float64(consumed)

	return produced, consumed
}

// sampleAt returns the sample for virtual frame index idx (-1 refers to the
// frame carried over from the previous call).
func (s *State) sampleAt(in []float32, idx, channel int) float32 {
	if idx < 0 {
		return s.prev[channel]
	}
	return in[idx*s.channels+channel]
}

// RatioCapture computes the capture-direction (device → modem) resample
// ratio: req_rate / (dev_rate * (1 + rx_ppm*1e-6)).
func RatioCapture(reqRate, devRate float64, rxPPM int) float64 {
	return reqRate / (devRate * (1 + float64(rxPPM)*1e-6))
}

// RatioPlayback computes the playback-direction (modem → device) resample
// ratio: dev_rate * (1 + tx_ppm*1e-6) / req_rate.
func RatioPlayback(reqRate, devRate float64, txPPM int) float64 {
	return devRate * (1 + float64(txPPM)*1e-6) / reqRate
}
