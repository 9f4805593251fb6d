// Package voice streams raw PCM between two peers over UDP. Each datagram
// carries up to BufferSize bytes of audio with no header.
package voice

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/chatline/internal/domain"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

const BufferSize = 2048

// captureRetryDelay spaces out reads after a failed capture read.
const captureRetryDelay = 10 * time.Millisecond

var (
	ErrRunning  = errors.New("voice transport already started")
	ErrStopped  = errors.New("voice transport stopped")
	ErrNoRemote = errors.New("voice transport has no remote endpoint")
	// ErrDeviceClosed is returned by audio devices once closed. Like io.EOF
	// it ends the send loop; any other capture error is retried.
	ErrDeviceClosed = errors.New("audio device closed")
)

// Devices opens the local capture and playback streams of a call.
type Devices interface {
	OpenCapture(format domain.AudioFormat) (io.ReadCloser, error)
	OpenPlayback(format domain.AudioFormat) (io.WriteCloser, error)
}

type Config struct {
	RemoteHost string
	RemotePort int
	// LocalPort is the UDP port to receive on; 0 picks a free one.
	LocalPort int
}

type Stats struct {
	PacketsSent     uint64
	BytesSent       uint64
	PacketsReceived uint64
	BytesReceived   uint64
}

type Transport struct {
	cfg     Config
	devices Devices
	format  domain.AudioFormat
	logger  zerolog.Logger

	running atomic.Bool

	mu       sync.Mutex
	started  bool
	stopped  bool
	sock     *net.UDPConn
	capture  io.ReadCloser
	playback io.WriteCloser
	loops    conc.WaitGroup

	packetsSent, bytesSent         atomic.Uint64
	packetsReceived, bytesReceived atomic.Uint64
}

func New(cfg Config, devices Devices, logger zerolog.Logger) *Transport {
	return &Transport{
		cfg:     cfg,
		devices: devices,
		format:  domain.VoiceFormat,
		logger:  logger.With().Str("module", "voice").Logger(),
	}
}

// Bind opens the local UDP socket ahead of Start so its port can be
// advertised to the peer. Calling it again returns the bound port.
func (t *Transport) Bind() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return 0, ErrStopped
	}
	if err := t.bindLocked(); err != nil {
		return 0, err
	}
	return t.sock.LocalAddr().(*net.UDPAddr).Port, nil
}

func (t *Transport) bindLocked() error {
	if t.sock != nil {
		return nil
	}
	sock, err := net.ListenUDP("udp", &net.UDPAddr{Port: t.cfg.LocalPort})
	if err != nil {
		return fmt.Errorf("bind udp port %d: %w", t.cfg.LocalPort, err)
	}
	t.sock = sock
	return nil
}

// SetRemote changes the peer endpoint. It has no effect once started.
func (t *Transport) SetRemote(host string, port int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		t.cfg.RemoteHost = host
		t.cfg.RemotePort = port
	}
}

// LocalPort reports the bound UDP port, or the configured one before binding.
func (t *Transport) LocalPort() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sock != nil {
		return t.sock.LocalAddr().(*net.UDPAddr).Port
	}
	return t.cfg.LocalPort
}

func (t *Transport) Running() bool { return t.running.Load() }

// Start opens capture and playback, binds the socket if needed and starts
// the send and receive loops. Whatever was opened is released on failure.
func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.stopped:
		return ErrStopped
	case t.started:
		return ErrRunning
	case t.cfg.RemoteHost == "" || t.cfg.RemotePort <= 0:
		return ErrNoRemote
	}

	remote, err := net.ResolveUDPAddr("udp", net.JoinHostPort(t.cfg.RemoteHost, strconv.Itoa(t.cfg.RemotePort)))
	if err != nil {
		return fmt.Errorf("resolve %s:%d: %w", t.cfg.RemoteHost, t.cfg.RemotePort, err)
	}

	capture, err := t.devices.OpenCapture(t.format)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	playback, err := t.devices.OpenPlayback(t.format)
	if err != nil {
		_ = capture.Close()
		return fmt.Errorf("open playback: %w", err)
	}
	if err := t.bindLocked(); err != nil {
		_ = capture.Close()
		_ = playback.Close()
		return err
	}

	t.capture = capture
	t.playback = playback
	t.started = true
	t.running.Store(true)

	sock := t.sock
	t.loops.Go(func() { t.sendLoop(capture, sock, remote) })
	t.loops.Go(func() { t.receiveLoop(playback, sock) })

	t.logger.Info().Int("local_port", sock.LocalAddr().(*net.UDPAddr).Port).Str("remote", remote.String()).Msg("voice started")
	return nil
}

// Stop ends the call and waits for both loops. It is safe to call more than
// once and after a failed Start.
func (t *Transport) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.running.Store(false)
	if t.capture != nil {
		_ = t.capture.Close()
	}
	if t.playback != nil {
		_ = t.playback.Close()
	}
	if t.sock != nil {
		_ = t.sock.Close()
	}
	started := t.started
	t.mu.Unlock()

	if started {
		t.loops.Wait()
	}
	st := t.Stats()
	t.logger.Info().Uint64("sent", st.PacketsSent).Uint64("received", st.PacketsReceived).Msg("voice stopped")
}

func (t *Transport) Stats() Stats {
	return Stats{
		PacketsSent:     t.packetsSent.Load(),
		BytesSent:       t.bytesSent.Load(),
		PacketsReceived: t.packetsReceived.Load(),
		BytesReceived:   t.bytesReceived.Load(),
	}
}

func (t *Transport) sendLoop(capture io.Reader, sock *net.UDPConn, remote *net.UDPAddr) {
	buf := make([]byte, BufferSize)
	for t.running.Load() {
		n, err := capture.Read(buf)
		if n > 0 {
			if _, werr := sock.WriteToUDP(buf[:n], remote); werr != nil {
				if !t.running.Load() {
					return
				}
				t.logger.Warn().Err(werr).Msg("send datagram")
			} else {
				t.packetsSent.Add(1)
				t.bytesSent.Add(uint64(n))
			}
		}
		if err != nil {
			if !t.running.Load() || errors.Is(err, io.EOF) || errors.Is(err, ErrDeviceClosed) {
				return
			}
			t.logger.Warn().Err(err).Msg("capture read")
			time.Sleep(captureRetryDelay)
		}
	}
}

func (t *Transport) receiveLoop(playback io.Writer, sock *net.UDPConn) {
	buf := make([]byte, BufferSize)
	for {
		n, _, err := sock.ReadFromUDP(buf)
		if err != nil {
			if !t.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn().Err(err).Msg("receive datagram")
			continue
		}
		t.packetsReceived.Add(1)
		t.bytesReceived.Add(uint64(n))
		if _, err := playback.Write(buf[:n]); err != nil && t.running.Load() {
			t.logger.Warn().Err(err).Msg("playback write")
		}
	}
}
