// Command voicecall logs into a chat server and places or answers one voice
// call, streaming audio over UDP once both sides have exchanged endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/chatline/internal/adapters/audio"
	"github.com/dkeye/chatline/internal/adapters/audio/portaudio"
	"github.com/dkeye/chatline/internal/client"
	"github.com/dkeye/chatline/internal/core"
	"github.com/dkeye/chatline/internal/domain"
	"github.com/dkeye/chatline/internal/protocol"
	"github.com/dkeye/chatline/internal/voice"
)

type options struct {
	server  string
	wsURL   string
	user    string
	call    string
	answer  bool
	udpHost string
	udpPort int
	in      string
	out     string
	ring    time.Duration
	verbose bool
}

func main() {
	var o options
	pflag.StringVar(&o.server, "server", "localhost:12345", "chat server TCP address")
	pflag.StringVar(&o.wsURL, "ws", "", "chat server WebSocket URL, overrides --server")
	pflag.StringVarP(&o.user, "user", "u", "", "username to log in as")
	pflag.StringVarP(&o.call, "call", "c", "", "user to call")
	pflag.BoolVarP(&o.answer, "answer", "a", false, "wait for and accept an incoming call")
	pflag.StringVar(&o.udpHost, "udp-host", "127.0.0.1", "host the peer should send voice to")
	pflag.IntVar(&o.udpPort, "udp-port", 0, "local UDP port for voice, 0 picks one")
	pflag.StringVar(&o.in, "in", "", "WAV file to send instead of the microphone")
	pflag.StringVar(&o.out, "out", "", "WAV file to record into instead of the speakers")
	pflag.DurationVar(&o.ring, "ring", 30*time.Second, "how long to wait for the other side")
	pflag.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
	pflag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if o.verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if o.user == "" || (o.call == "") == !o.answer {
		fmt.Fprintln(os.Stderr, "usage: voicecall --user NAME (--call PEER | --answer)")
		pflag.PrintDefaults()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, o); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("call failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	c, err := connect(ctx, o)
	if err != nil {
		return err
	}
	defer c.Close()
	log.Info().Str("user", o.user).Msg("logged in")

	tr := voice.New(voice.Config{LocalPort: o.udpPort}, devices(o), log.Logger)
	defer tr.Stop()

	var peer string
	if o.answer {
		peer, err = answer(ctx, c, tr, o)
	} else {
		peer, err = dial(ctx, c, tr, o)
	}
	if err != nil {
		return err
	}

	if err := tr.Start(); err != nil {
		_ = c.Hangup(peer)
		return err
	}
	log.Info().Str("peer", peer).Int("port", tr.LocalPort()).Msg("call connected, Ctrl-C to hang up")

	_, err = c.Next(ctx, func(d protocol.Decoded) bool {
		return d.Signal != nil && d.Signal.Type == domain.SignalCancel && d.Signal.FromUser == peer
	})
	tr.Stop()
	st := tr.Stats()
	log.Info().Uint64("sent", st.PacketsSent).Uint64("received", st.PacketsReceived).Msg("call ended")
	if err != nil {
		_ = c.Hangup(peer)
		return err
	}
	return nil
}

func connect(ctx context.Context, o options) (*client.Client, error) {
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var (
		fc  core.FrameConn
		err error
	)
	if o.wsURL != "" {
		fc, err = client.DialWS(dctx, o.wsURL)
	} else {
		fc, err = client.DialTCP(dctx, o.server)
	}
	if err != nil {
		return nil, err
	}
	id, err := domain.NewIdentity(o.user, "")
	if err != nil {
		_ = fc.Close()
		return nil, err
	}
	return client.Login(dctx, fc, id)
}

// dial places the call, then answers the callee's ACCEPT with our own
// endpoint so both sides know where to send voice.
func dial(ctx context.Context, c *client.Client, tr *voice.Transport, o options) (string, error) {
	if err := c.Call(o.call); err != nil {
		return "", err
	}
	log.Info().Str("peer", o.call).Msg("ringing")

	rctx, cancel := context.WithTimeout(ctx, o.ring)
	defer cancel()
	sig, err := c.WaitSignal(rctx, domain.SignalAccept, domain.SignalReject, domain.SignalCancel, domain.SignalTimeout)
	if err != nil {
		_ = c.Hangup(o.call)
		return "", err
	}
	if sig.Type != domain.SignalAccept {
		return "", fmt.Errorf("call %s by %s: %s", sig.Type, o.call, sig.Content)
	}
	if !sig.HasEndpoint() {
		_ = c.Hangup(o.call)
		return "", fmt.Errorf("call accepted by %s without a voice endpoint", o.call)
	}

	port, err := tr.Bind()
	if err != nil {
		_ = c.Hangup(o.call)
		return "", err
	}
	tr.SetRemote(sig.UDPHost, sig.UDPPort)
	if err := c.Accept(o.call, o.udpHost, port); err != nil {
		return "", err
	}
	return o.call, nil
}

// answer waits for a REQUEST, accepts it with our endpoint and waits for the
// caller's endpoint in return.
func answer(ctx context.Context, c *client.Client, tr *voice.Transport, o options) (string, error) {
	log.Info().Msg("waiting for a call")
	req, err := c.WaitSignal(ctx, domain.SignalRequest)
	if err != nil {
		return "", err
	}
	peer := req.FromUser
	log.Info().Str("peer", peer).Msg("incoming call")

	port, err := tr.Bind()
	if err != nil {
		_ = c.SendSignal(domain.NewCallSignal(domain.SignalReject, o.user, peer, err.Error()))
		return "", err
	}
	if err := c.Accept(peer, o.udpHost, port); err != nil {
		return "", err
	}

	rctx, cancel := context.WithTimeout(ctx, o.ring)
	defer cancel()
	sig, err := c.WaitSignal(rctx, domain.SignalAccept, domain.SignalCancel)
	if err != nil {
		_ = c.Hangup(peer)
		return "", err
	}
	if sig.Type != domain.SignalAccept || !sig.HasEndpoint() {
		return "", fmt.Errorf("call with %s cancelled", peer)
	}
	tr.SetRemote(sig.UDPHost, sig.UDPPort)
	return peer, nil
}

func devices(o options) audio.Devices {
	d := portaudio.Devices()
	if o.in != "" {
		d.Source = audio.WAVSource{Path: o.in, Realtime: true}
	}
	if o.out != "" {
		d.Sink = audio.WAVSink{Path: o.out}
	}
	return d
}
