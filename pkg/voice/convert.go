package voice

import (
	"errors"
	"fmt"
	"io"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Converter converts PCM chunks from one Format to another. It keeps
// partial frames between calls, so chunks may be split anywhere.
type Converter struct {
	src, dst Format

	rs      resampling.Resampler
	pending []byte
}

// NewConverter creates a Converter from src to dst.
func NewConverter(src, dst Format) (*Converter, error) {
	if src.SampleRate <= 0 || dst.SampleRate <= 0 {
		return nil, fmt.Errorf("voice: invalid sample rate %d -> %d", src.SampleRate, dst.SampleRate)
	}
	c := &Converter{src: src, dst: dst}
	if src.SampleRate != dst.SampleRate {
		rs, err := resampling.New(&resampling.Config{
			InputRate:  float64(src.SampleRate),
			OutputRate: float64(dst.SampleRate),
			Channels:   dst.channels(),
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, fmt.Errorf("voice: create resampler: %w", err)
		}
		c.rs = rs
	}
	return c, nil
}

// Passthrough reports whether the formats are identical.
func (c *Converter) Passthrough() bool {
	return c.src == c.dst
}

// Convert returns pcm in the destination format. A trailing partial frame
// is held until the next call.
func (c *Converter) Convert(pcm []byte) ([]byte, error) {
	if c.Passthrough() {
		return pcm, nil
	}
	data := pcm
	if len(c.pending) > 0 {
		data = append(c.pending, pcm...)
		c.pending = nil
	}
	fb := c.src.frameBytes()
	if rem := len(data) % fb; rem != 0 {
		c.pending = append([]byte(nil), data[len(data)-rem:]...)
		data = data[:len(data)-rem]
	}
	if len(data) == 0 {
		return nil, nil
	}

	samples := toFloat(data)
	switch {
	case c.src.Stereo && !c.dst.Stereo:
		samples = downmix(samples)
	case !c.src.Stereo && c.dst.Stereo:
		samples = upmix(samples)
	}
	if c.rs != nil {
		out, err := c.rs.Process(samples)
		if err != nil {
			return nil, fmt.Errorf("voice: resample: %w", err)
		}
		samples = out
	}
	return fromFloat(samples), nil
}

func toFloat(b []byte) []float64 {
	out := make([]float64, len(b)/2)
	for i := range out {
		out[i] = float64(int16(b[2*i])|int16(b[2*i+1])<<8) / 32768.0
	}
	return out
}

func fromFloat(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		var v int16
		switch {
		case s >= 1.0:
			v = 32767
		case s <= -1.0:
			v = -32768
		default:
			v = int16(s * 32767.0)
		}
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

func downmix(s []float64) []float64 {
	out := make([]float64, len(s)/2)
	for i := range out {
		out[i] = (s[2*i] + s[2*i+1]) / 2
	}
	return out
}

func upmix(s []float64) []float64 {
	out := make([]float64, len(s)*2)
	for i, v := range s {
		out[2*i], out[2*i+1] = v, v
	}
	return out
}

// convertWriter converts PCM before handing it to the underlying writer.
type convertWriter struct {
	mu   sync.Mutex
	conv *Converter
	w    io.WriteCloser
	once sync.Once
	err  error
}

// NewWriter returns a writer accepting src PCM and writing dst PCM to w.
// Closing it closes w.
func NewWriter(w io.WriteCloser, src, dst Format) (io.WriteCloser, error) {
	conv, err := NewConverter(src, dst)
	if err != nil {
		return nil, err
	}
	if conv.Passthrough() {
		return w, nil
	}
	return &convertWriter{conv: conv, w: w}, nil
}

func (cw *convertWriter) Write(p []byte) (int, error) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	out, err := cw.conv.Convert(p)
	if err != nil {
		return 0, err
	}
	if len(out) > 0 {
		if _, err := cw.w.Write(out); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (cw *convertWriter) Close() error {
	cw.once.Do(func() { cw.err = cw.w.Close() })
	return cw.err
}

// convertReader converts PCM read from the underlying reader.
type convertReader struct {
	conv *Converter
	r    io.ReadCloser
	buf  []byte
	out  []byte
}

// NewReader returns a reader yielding dst PCM converted from the src PCM
// of r. Closing it closes r.
func NewReader(r io.ReadCloser, src, dst Format) (io.ReadCloser, error) {
	conv, err := NewConverter(src, dst)
	if err != nil {
		return nil, err
	}
	if conv.Passthrough() {
		return r, nil
	}
	return &convertReader{conv: conv, r: r, buf: make([]byte, 4096)}, nil
}

func (cr *convertReader) Read(p []byte) (int, error) {
	for len(cr.out) == 0 {
		n, err := cr.r.Read(cr.buf)
		if n > 0 {
			out, cerr := cr.conv.Convert(cr.buf[:n])
			if cerr != nil {
				return 0, cerr
			}
			cr.out = out
		}
		if err != nil {
			if len(cr.out) > 0 && errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
	}
	n := copy(p, cr.out)
	cr.out = cr.out[n:]
	return n, nil
}

func (cr *convertReader) Close() error {
	return cr.r.Close()
}
