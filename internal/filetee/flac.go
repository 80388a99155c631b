package filetee

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tphakala/flac"
)

// flacReader decodes FLAC/PCM16 (or 24/32-bit) playback files. FLAC is
// read-only here: github.com/tphakala/flac exposes no encoder, so only
// playback of existing files is supported.
type flacReader struct {
	file       *os.File
	decoder    *flac.Decoder
	sampleRate int
	channels   int
	bitDepth   int
	divisor    float64

	pending []float64
}

func newFLACReader(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filetee: open %s: %w", path, err)
	}
	dec, err := flac.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("filetee: FLAC decoder unsupported for %s: %w", path, err)
	}
	divisor, err := bitDepthDivisor(dec.BitsPerSample)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &flacReader{
		file:       f,
		decoder:    dec,
		sampleRate: dec.SampleRate,
		channels:   dec.NChannels,
		bitDepth:   dec.BitsPerSample,
		divisor:    divisor,
	}, nil
}

func (r *flacReader) SampleRate() int { return r.sampleRate }

func (r *flacReader) ReadMono(buf []float64) (int, error) {
	produced := 0
	for produced < len(buf) {
		for len(r.pending) == 0 {
			frame, err := r.decoder.Next()
			if errors.Is(err, io.EOF) {
				if _, err := r.file.Seek(0, 0); err != nil {
					return produced, fmt.Errorf("filetee: rewind flac for loop playback: %w", err)
				}
				dec, err := flac.NewDecoder(r.file)
				if err != nil {
					return produced, fmt.Errorf("filetee: re-decode flac after loop: %w", err)
				}
				r.decoder = dec
				continue
			}
			if err != nil {
				return produced, fmt.Errorf("filetee: read flac frame: %w", err)
			}
			r.pending = decodeFLACFrame(frame, r.bitDepth, r.channels, r.divisor)
		}
		n := copy(buf[produced:], r.pending)
		r.pending = r.pending[n:]
		produced += n
	}
	return produced, nil
}

func (r *flacReader) Close() error {
	return r.file.Close()
}

// decodeFLACFrame extracts channel 0 (mono downmix) of each frame.
func decodeFLACFrame(frame []byte, bitDepth, channels int, divisor float64) []float64 {
	bytesPerSample := bitDepth / 8
	stride := bytesPerSample * channels
	if stride == 0 {
		return nil
	}
	out := make([]float64, 0, len(frame)/stride)
	for i := 0; i+stride <= len(frame); i += stride {
		var sample int32
		switch bitDepth {
		case 16:
			sample = int32(int16(binary.LittleEndian.Uint16(frame[i:])))
		case 24:
			sample = int32(frame[i]) | int32(frame[i+1])<<8 | int32(frame[i+2])<<16
			if sample&0x800000 != 0 {
				sample |= -1 << 24
			}
		case 32:
			sample = int32(binary.LittleEndian.Uint32(frame[i:]))
		}
		out = append(out, float64(sample)/divisor)
	}
	return out
}

// FLACCaptureSupported reports whether this build can tee captured audio
// to FLAC. Always false: the decoder library wired here (tphakala/flac)
// provides no encoder, so capture/generate output falls back to WAV.
func FLACCaptureSupported() bool {
	return false
}
