// Package filetee implements the optional capture/playback/generate sound
// file sinks and sources. Orthogonal to the streaming engine: it runs only
// on the modem thread, never in the realtime backend callback.
package filetee

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format identifies a supported sound file format, chosen by filename
// extension.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatFLAC Format = "flac"
	FormatAU   Format = "au"
)

// pcmScale is the sample scale applied when the backend requires 16-bit PCM
// conversion. Deliberately not sizeof(int16)'s natural 32768, working
// around a historical PulseAudio clipping quirk at full scale.
const pcmScale = 32000.0

// Writer accepts mono float64 blocks in [-1.0, 1.0] and appends them to a
// sound file.
type Writer interface {
	WriteMono(samples []float64) error
	Tag(title string) error
	Close() error
}

// Reader produces mono float64 blocks in [-1.0, 1.0] read from a sound
// file, looping on EOF when used as a playback source.
type Reader interface {
	ReadMono(buf []float64) (n int, err error)
	SampleRate() int
	Close() error
}

// FormatFor selects a Format from a filename's extension, defaulting to
// WAV/PCM16 for anything unrecognized.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".flac":
		return FormatFLAC
	case ".au", ".snd":
		return FormatAU
	default:
		return FormatWAV
	}
}

// NewWriter opens path for append-style writing in the format implied by
// its extension. sampleRate describes the mono blocks that will be passed
// to WriteMono (files are always written with 1 channel: modem-side blocks
// are mono). A .flac path is written as WAV to the sibling .wav path.
func NewWriter(path string, sampleRate int) (Writer, error) {
	switch FormatFor(path) {
	case FormatFLAC:
		if FLACCaptureSupported() {
			return nil, fmt.Errorf("filetee: FLAC encoder unavailable despite capability probe")
		}
		return newWAVWriter(strings.TrimSuffix(path, filepath.Ext(path))+".wav", sampleRate)
	case FormatAU:
		return newAUWriter(path, sampleRate)
	default:
		return newWAVWriter(path, sampleRate)
	}
}

// NewReader opens path for playback. FLAC is probed for decoder support
// (github.com/tphakala/flac); AU/float and WAV/PCM16 are always supported.
func NewReader(path string) (Reader, error) {
	switch FormatFor(path) {
	case FormatFLAC:
		return newFLACReader(path)
	case FormatAU:
		return newAUReader(path)
	default:
		return newWAVReader(path)
	}
}

func clampToInt16(v float64) int {
	s := v * pcmScale
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return int(s)
}
