package voice

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/chatline/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type chanCapture struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func newChanCapture() *chanCapture {
	return &chanCapture{frames: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *chanCapture) Read(p []byte) (int, error) {
	select {
	case f := <-c.frames:
		return copy(p, f), nil
	case <-c.done:
		return 0, io.EOF
	}
}

func (c *chanCapture) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

type bufPlayback struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (p *bufPlayback) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Write(b)
}

func (p *bufPlayback) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *bufPlayback) bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.buf.Bytes()...)
}

type fakeDevices struct {
	capture     *chanCapture
	playback    *bufPlayback
	playbackErr error
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{capture: newChanCapture(), playback: &bufPlayback{}}
}

func (d *fakeDevices) OpenCapture(format domain.AudioFormat) (io.ReadCloser, error) {
	if format != domain.VoiceFormat {
		return nil, errors.New("unexpected format")
	}
	return d.capture, nil
}

func (d *fakeDevices) OpenPlayback(domain.AudioFormat) (io.WriteCloser, error) {
	if d.playbackErr != nil {
		return nil, d.playbackErr
	}
	return d.playback, nil
}

func TestTransport_Loopback(t *testing.T) {
	req := require.New(t)
	devA, devB := newFakeDevices(), newFakeDevices()
	a := New(Config{}, devA, zerolog.Nop())
	b := New(Config{}, devB, zerolog.Nop())

	portA, err := a.Bind()
	req.NoError(err)
	portB, err := b.Bind()
	req.NoError(err)
	req.NotZero(portA)
	req.Equal(portB, b.LocalPort())

	a.SetRemote("127.0.0.1", portB)
	b.SetRemote("127.0.0.1", portA)
	req.NoError(a.Start())
	req.NoError(b.Start())
	req.ErrorIs(a.Start(), ErrRunning)

	hello := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	devA.capture.frames <- hello
	req.Eventually(func() bool { return bytes.Equal(devB.playback.bytes(), hello) }, 2*time.Second, 5*time.Millisecond)

	reply := bytes.Repeat([]byte{9}, BufferSize)
	devB.capture.frames <- reply
	req.Eventually(func() bool { return len(devA.playback.bytes()) == BufferSize }, 2*time.Second, 5*time.Millisecond)

	a.Stop()
	b.Stop()
	a.Stop()

	req.False(a.Running())
	req.Equal(uint64(1), a.Stats().PacketsSent)
	req.Equal(uint64(len(hello)), a.Stats().BytesSent)
	req.Equal(uint64(BufferSize), a.Stats().BytesReceived)
	req.True(devA.playback.closed)
	req.ErrorIs(a.Start(), ErrStopped)
}

func TestTransport_FailedStartReleasesCapture(t *testing.T) {
	req := require.New(t)
	dev := newFakeDevices()
	dev.playbackErr = errors.New("no speaker")

	tr := New(Config{RemoteHost: "127.0.0.1", RemotePort: 9}, dev, zerolog.Nop())
	req.ErrorContains(tr.Start(), "no speaker")

	select {
	case <-dev.capture.done:
	default:
		t.Fatal("capture left open")
	}
	req.Zero(tr.LocalPort())
	tr.Stop()
	tr.Stop()
}

func TestTransport_RequiresRemote(t *testing.T) {
	tr := New(Config{}, newFakeDevices(), zerolog.Nop())
	require.ErrorIs(t, tr.Start(), ErrNoRemote)
	tr.Stop()
}

func TestTransport_CaptureEndStopsSending(t *testing.T) {
	req := require.New(t)
	dev := newFakeDevices()
	peer := New(Config{}, newFakeDevices(), zerolog.Nop())
	port, err := peer.Bind()
	req.NoError(err)
	defer peer.Stop()

	tr := New(Config{RemoteHost: "127.0.0.1", RemotePort: port}, dev, zerolog.Nop())
	req.NoError(tr.Start())
	req.NoError(dev.capture.Close())

	done := make(chan struct{})
	go func() {
		tr.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop hung")
	}
}

// flakyCapture fails its first reads the way an overrunning input device
// does, then behaves like chanCapture.
type flakyCapture struct {
	*chanCapture
	failures atomic.Int32
}

func (c *flakyCapture) Read(p []byte) (int, error) {
	if c.failures.Add(-1) >= 0 {
		return 0, errors.New("input overflowed")
	}
	return c.chanCapture.Read(p)
}

type flakyDevices struct {
	*fakeDevices
	capture *flakyCapture
}

func (d *flakyDevices) OpenCapture(domain.AudioFormat) (io.ReadCloser, error) {
	return d.capture, nil
}

func TestTransport_TransientCaptureErrorKeepsSending(t *testing.T) {
	req := require.New(t)
	devPeer := newFakeDevices()
	peer := New(Config{}, devPeer, zerolog.Nop())
	port, err := peer.Bind()
	req.NoError(err)

	base := newFakeDevices()
	flaky := &flakyCapture{chanCapture: base.capture}
	flaky.failures.Store(3)
	tr := New(Config{}, &flakyDevices{fakeDevices: base, capture: flaky}, zerolog.Nop())
	local, err := tr.Bind()
	req.NoError(err)

	tr.SetRemote("127.0.0.1", port)
	peer.SetRemote("127.0.0.1", local)
	req.NoError(peer.Start())
	req.NoError(tr.Start())
	defer peer.Stop()
	defer tr.Stop()

	frame := []byte{4, 3, 2, 1}
	base.capture.frames <- frame
	req.Eventually(func() bool { return bytes.Equal(devPeer.playback.bytes(), frame) }, 2*time.Second, 5*time.Millisecond)
	req.True(tr.Running())
	req.Equal(uint64(1), tr.Stats().PacketsSent)
}

func TestTransport_ClosedDeviceEndsSendLoop(t *testing.T) {
	req := require.New(t)
	peer := New(Config{}, newFakeDevices(), zerolog.Nop())
	port, err := peer.Bind()
	req.NoError(err)
	defer peer.Stop()

	base := newFakeDevices()
	closed := &closedCapture{}
	tr := New(Config{RemoteHost: "127.0.0.1", RemotePort: port}, &closedDevices{fakeDevices: base, capture: closed}, zerolog.Nop())
	req.NoError(tr.Start())

	req.Eventually(func() bool { return closed.reads.Load() > 0 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(5 * captureRetryDelay)
	req.Equal(int32(1), closed.reads.Load())
	tr.Stop()
}

type closedCapture struct {
	reads atomic.Int32
}

func (c *closedCapture) Read([]byte) (int, error) {
	c.reads.Add(1)
	return 0, fmt.Errorf("read: %w", ErrDeviceClosed)
}

func (c *closedCapture) Close() error { return nil }

type closedDevices struct {
	*fakeDevices
	capture *closedCapture
}

func (d *closedDevices) OpenCapture(domain.AudioFormat) (io.ReadCloser, error) {
	return d.capture, nil
}
