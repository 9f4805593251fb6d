// Package portaudio captures from and plays to the default sound devices.
package portaudio

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/dkeye/chatline/internal/adapters/audio"
	"github.com/dkeye/chatline/internal/domain"
	pa "github.com/gordonklaus/portaudio"
)

// FramesPerBuffer keeps one capture buffer within a single voice datagram.
const FramesPerBuffer = 1024

// Source opens the default input device.
type Source struct{}

// Sink opens the default output device.
type Sink struct{}

func (Source) Open(format domain.AudioFormat) (io.ReadCloser, error) {
	if err := check(format); err != nil {
		return nil, err
	}
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	buf := make([]int16, FramesPerBuffer*format.Channels)
	stream, err := pa.OpenDefaultStream(format.Channels, 0, format.SampleRate, FramesPerBuffer, buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("start capture stream: %w", err)
	}
	return &capture{stream: stream, buf: buf}, nil
}

func (Sink) Open(format domain.AudioFormat) (io.WriteCloser, error) {
	if err := check(format); err != nil {
		return nil, err
	}
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	buf := make([]int16, FramesPerBuffer*format.Channels)
	stream, err := pa.OpenDefaultStream(0, format.Channels, format.SampleRate, FramesPerBuffer, buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("open playback stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("start playback stream: %w", err)
	}
	return &playback{stream: stream, buf: buf}, nil
}

// Devices returns the default input and output pair.
func Devices() audio.Devices {
	return audio.Devices{Source: Source{}, Sink: Sink{}}
}

func check(format domain.AudioFormat) error {
	if format.BitsPerSample != 16 || !format.Signed || format.BigEndian {
		return fmt.Errorf("%w: portaudio streams carry signed 16-bit little-endian PCM", audio.ErrUnsupportedFormat)
	}
	return nil
}

// capture holds mu for the whole blocking read so Close never tears the
// stream down underneath it.
type capture struct {
	mu     sync.Mutex
	stream *pa.Stream
	buf    []int16
	closed bool
}

func (c *capture) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.EOF
	}
	if err := c.stream.Read(); err != nil {
		return 0, err
	}
	n := min(len(c.buf), len(p)/2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(p[2*i:], uint16(c.buf[i]))
	}
	return 2 * n, nil
}

func (c *capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return closeStream(c.stream)
}

type playback struct {
	mu     sync.Mutex
	stream *pa.Stream
	buf    []int16
	closed bool
}

func (p *playback) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, audio.ErrClosed
	}
	samples := len(b) / 2
	for off := 0; off < samples; off += len(p.buf) {
		n := min(len(p.buf), samples-off)
		for i := 0; i < n; i++ {
			p.buf[i] = int16(binary.LittleEndian.Uint16(b[2*(off+i):]))
		}
		clear(p.buf[n:])
		if err := p.stream.Write(); err != nil {
			return 2 * off, err
		}
	}
	return len(b), nil
}

func (p *playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return closeStream(p.stream)
}

func closeStream(s *pa.Stream) error {
	stopErr := s.Stop()
	closeErr := s.Close()
	termErr := pa.Terminate()
	switch {
	case stopErr != nil:
		return stopErr
	case closeErr != nil:
		return closeErr
	default:
		return termErr
	}
}
