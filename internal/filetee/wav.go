package filetee

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavWriter writes mono PCM16 WAV, grounded on
// voxworld-voxaudio/loopback_test.go's wav.NewEncoder usage.
type wavWriter struct {
	file    *os.File
	encoder *wav.Encoder
	format  *audio.Format
}

func newWAVWriter(path string, sampleRate int) (Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("filetee: create %s: %w", path, err)
	}
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	return &wavWriter{
		file:    f,
		encoder: enc,
		format:  &audio.Format{SampleRate: sampleRate, NumChannels: 1},
	}, nil
}

func (w *wavWriter) WriteMono(samples []float64) error {
	ints := make([]int, len(samples))
	for i, s := range samples {
		ints[i] = clampToInt16(s)
	}
	buf := &audio.IntBuffer{
		Data:           ints,
		Format:         w.format,
		SourceBitDepth: 16,
	}
	return w.encoder.Write(buf)
}

// Tag stamps a title comment. go-audio/wav has no LIST/INFO chunk writer,
// so this is a no-op; the capture/playback round trip never depends on
// the title being read back.
func (w *wavWriter) Tag(title string) error {
	return nil
}

func (w *wavWriter) Close() error {
	if err := w.encoder.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("filetee: close wav encoder: %w", err)
	}
	return w.file.Close()
}

// wavReader reads mono (or downmixed) PCM WAV, grounded on
// maciej-podgorski-birdnet-go/internal/audio/file/wav_reader.go.
type wavReader struct {
	file       *os.File
	decoder    *wav.Decoder
	sampleRate int
	channels   int
	bitDepth   int
}

func newWAVReader(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filetee: open %s: %w", path, err)
	}
	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("filetee: %s is not a valid WAV file", path)
	}
	return &wavReader{
		file:       f,
		decoder:    dec,
		sampleRate: int(dec.SampleRate),
		channels:   int(dec.NumChans),
		bitDepth:   int(dec.BitDepth),
	}, nil
}

func (r *wavReader) SampleRate() int { return r.sampleRate }

// ReadMono fills buf with mono samples, downmixing by taking channel 0 of
// each frame when the file is multi-channel, and looping back to the start
// of the data chunk on EOF.
func (r *wavReader) ReadMono(buf []float64) (int, error) {
	divisor, err := bitDepthDivisor(r.bitDepth)
	if err != nil {
		return 0, err
	}

	produced := 0
	for produced < len(buf) {
		framesNeeded := (len(buf) - produced) * r.channels
		ib := &audio.IntBuffer{
			Data:           make([]int, framesNeeded),
			Format:         &audio.Format{SampleRate: r.sampleRate, NumChannels: r.channels},
			SourceBitDepth: r.bitDepth,
		}
		n, err := r.decoder.PCMBuffer(ib)
		if err != nil {
			return produced, fmt.Errorf("filetee: read wav samples: %w", err)
		}
		if n == 0 {
			// EOF: loop playback from the start of the data chunk.
			if _, err := r.file.Seek(0, 0); err != nil {
				return produced, fmt.Errorf("filetee: rewind for loop playback: %w", err)
			}
			r.decoder = wav.NewDecoder(r.file)
			r.decoder.ReadInfo()
			continue
		}
		frames := n / r.channels
		for i := 0; i < frames && produced < len(buf); i++ {
			buf[produced] = float64(ib.Data[i*r.channels]) / divisor
			produced++
		}
	}
	return produced, nil
}

func (r *wavReader) Close() error {
	return r.file.Close()
}

// bitDepthDivisor returns the scale that converts a decoded integer sample
// back to [-1.0, 1.0]. 16-bit uses pcmScale (32000.0, spec.md §6), matching
// clampToInt16's encode side exactly so a capture/playback round trip
// reproduces the original samples; 24/32-bit (not written by this package,
// only read, e.g. from a foreign-encoded WAV) use the natural full-scale
// divisor since no matching encoder-side constant applies to them.
func bitDepthDivisor(bitDepth int) (float64, error) {
	switch bitDepth {
	case 16:
		return pcmScale, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("filetee: unsupported WAV bit depth %d", bitDepth)
	}
}
