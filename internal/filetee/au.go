package filetee

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// AU/NeXT-Sun audio support. No third-party AU-format library was
// available (see DESIGN.md); this is the module's one standard-library-only
// leaf, implementing the fixed ~24-byte header plus raw float32 samples
// in CPU-native byte order.
const (
	auMagic         = 0x2e736e64 // ".snd"
	auHeaderSize    = 24
	auEncodingFloat = 6
	auUnknownSize   = 0xffffffff
)

type auWriter struct {
	file       *os.File
	sampleRate int
	written    uint32
}

func newAUWriter(path string, sampleRate int) (Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("filetee: create %s: %w", path, err)
	}
	w := &auWriter{file: f, sampleRate: sampleRate}
	if err := w.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *auWriter) writeHeader() error {
	var hdr [auHeaderSize]byte
	order := binary.NativeEndian
	order.PutUint32(hdr[0:4], auMagic)
	order.PutUint32(hdr[4:8], auHeaderSize)
	order.PutUint32(hdr[8:12], auUnknownSize)
	order.PutUint32(hdr[12:16], auEncodingFloat)
	order.PutUint32(hdr[16:20], uint32(w.sampleRate))
	order.PutUint32(hdr[20:24], 1) // mono
	_, err := w.file.WriteAt(hdr[:], 0)
	return err
}

func (w *auWriter) WriteMono(samples []float64) error {
	buf := make([]byte, len(samples)*4)
	order := binary.NativeEndian
	for i, s := range samples {
		order.PutUint32(buf[i*4:], math.Float32bits(float32(s)))
	}
	n, err := w.file.Write(buf)
	if err != nil {
		return fmt.Errorf("filetee: write au samples: %w", err)
	}
	w.written += uint32(n)
	return nil
}

func (w *auWriter) Tag(title string) error {
	return nil
}

func (w *auWriter) Close() error {
	return w.file.Close()
}

type auReader struct {
	file       *os.File
	sampleRate int
	dataStart  int64
	dataEnd    int64
}

func newAUReader(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filetee: open %s: %w", path, err)
	}
	var hdr [auHeaderSize]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("filetee: read au header: %w", err)
	}
	order := binary.NativeEndian
	if order.Uint32(hdr[0:4]) != auMagic {
		f.Close()
		return nil, fmt.Errorf("filetee: %s is not an AU file", path)
	}
	dataOffset := order.Uint32(hdr[4:8])
	dataSize := order.Uint32(hdr[8:12])
	encoding := order.Uint32(hdr[12:16])
	if encoding != auEncodingFloat {
		f.Close()
		return nil, fmt.Errorf("filetee: au encoding %d unsupported, only float32 is", encoding)
	}
	sampleRate := order.Uint32(hdr[16:20])

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	end := info.Size()
	if dataSize != auUnknownSize {
		end = int64(dataOffset) + int64(dataSize)
		if end > info.Size() {
			end = info.Size()
		}
	}

	return &auReader{
		file:       f,
		sampleRate: int(sampleRate),
		dataStart:  int64(dataOffset),
		dataEnd:    end,
	}, nil
}

func (r *auReader) SampleRate() int { return r.sampleRate }

func (r *auReader) ReadMono(buf []float64) (int, error) {
	order := binary.NativeEndian
	pos, err := r.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	if pos < r.dataStart {
		pos = r.dataStart
	}

	produced := 0
	raw := make([]byte, 4)
	for produced < len(buf) {
		if pos+4 > r.dataEnd {
			pos = r.dataStart
		}
		if _, err := r.file.ReadAt(raw, pos); err != nil {
			return produced, fmt.Errorf("filetee: read au sample: %w", err)
		}
		buf[produced] = float64(math.Float32frombits(order.Uint32(raw)))
		produced++
		pos += 4
	}
	if _, err := r.file.Seek(pos, io.SeekStart); err != nil {
		return produced, err
	}
	return produced, nil
}

func (r *auReader) Close() error {
	return r.file.Close()
}
