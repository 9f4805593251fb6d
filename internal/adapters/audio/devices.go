package audio

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/dkeye/chatline/internal/domain"
	"github.com/dkeye/chatline/internal/voice"
)

// ErrClosed is what a closed device returns; the voice transport treats it
// as the end of the stream.
var ErrClosed = voice.ErrDeviceClosed

// Source opens capture streams.
type Source interface {
	Open(format domain.AudioFormat) (io.ReadCloser, error)
}

// Sink opens playback streams.
type Sink interface {
	Open(format domain.AudioFormat) (io.WriteCloser, error)
}

// Devices pairs a Source and a Sink into the capture/playback pair a voice
// call needs.
type Devices struct {
	Source Source
	Sink   Sink
}

func (d Devices) OpenCapture(format domain.AudioFormat) (io.ReadCloser, error) {
	return d.Source.Open(format)
}

func (d Devices) OpenPlayback(format domain.AudioFormat) (io.WriteCloser, error) {
	return d.Sink.Open(format)
}

// WAVSource plays a WAV file as capture input. With Realtime set, reads are
// paced to the stream's byte rate.
type WAVSource struct {
	Path     string
	Realtime bool
}

func (s WAVSource) Open(format domain.AudioFormat) (io.ReadCloser, error) {
	pcm, fileFormat, err := ReadWAV(s.Path)
	if err != nil {
		return nil, err
	}
	if fileFormat.SampleRate != format.SampleRate || fileFormat.BitsPerSample != format.BitsPerSample || fileFormat.Channels != format.Channels {
		return nil, ErrUnsupportedFormat
	}
	return newPacedReader(bytes.NewReader(pcm), format, s.Realtime), nil
}

// SilenceSource yields zeroed samples at the stream's byte rate until closed.
type SilenceSource struct{}

func (SilenceSource) Open(format domain.AudioFormat) (io.ReadCloser, error) {
	return newPacedReader(zeroReader{}, format, true), nil
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

type pacedReader struct {
	r        io.Reader
	byteRate int
	realtime bool
	frame    int

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newPacedReader(r io.Reader, format domain.AudioFormat, realtime bool) *pacedReader {
	return &pacedReader{
		r:        r,
		byteRate: format.ByteRate(),
		realtime: realtime,
		frame:    format.FrameSize(),
		done:     make(chan struct{}),
	}
}

func (p *pacedReader) Read(b []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, io.EOF
	}
	if p.frame > 0 {
		b = b[:len(b)-len(b)%p.frame]
	}
	n, err := p.r.Read(b)
	if n > 0 && p.realtime && p.byteRate > 0 {
		select {
		case <-time.After(time.Duration(n) * time.Second / time.Duration(p.byteRate)):
		case <-p.done:
			return n, nil
		}
	}
	return n, err
}

func (p *pacedReader) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

// WAVSink records everything written and saves it as a WAV file on Close.
type WAVSink struct {
	Path string
}

func (s WAVSink) Open(format domain.AudioFormat) (io.WriteCloser, error) {
	return &wavRecorder{path: s.Path, format: format}, nil
}

type wavRecorder struct {
	path   string
	format domain.AudioFormat

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (w *wavRecorder) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	return w.buf.Write(p)
}

func (w *wavRecorder) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return WriteWAV(w.path, w.buf.Bytes(), w.format)
}

// DiscardSink drops all playback.
type DiscardSink struct{}

func (DiscardSink) Open(domain.AudioFormat) (io.WriteCloser, error) {
	return discard{}, nil
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
func (discard) Close() error                { return nil }
