// Package client is the user side of the chat protocol: it dials a server,
// performs the identity handshake and exchanges payloads.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/dkeye/chatline/internal/adapters/tcp"
	"github.com/dkeye/chatline/internal/adapters/ws"
	"github.com/dkeye/chatline/internal/core"
	"github.com/dkeye/chatline/internal/domain"
	"github.com/dkeye/chatline/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrUsernameTaken   = errors.New("username taken")
	ErrUnexpectedReply = errors.New("unexpected handshake reply")
)

// DialTCP connects to a line-framed chat listener.
func DialTCP(ctx context.Context, addr string) (core.FrameConn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return tcp.NewConn(nc, tcp.DefaultMaxFrameBytes, 0), nil
}

// DialWS connects to the WebSocket chat endpoint, e.g. ws://host:8080/api/ws/chat.
func DialWS(ctx context.Context, url string) (core.FrameConn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return ws.NewConn(c, 0, 0), nil
}

type Client struct {
	fc core.FrameConn
	id domain.Identity

	wmu      sync.Mutex
	incoming chan protocol.Decoded
	done     chan struct{}
	err      error
}

// Login sends id over fc and waits for the server's verdict. On success the
// client starts reading and delivers decoded payloads on Incoming. On any
// failure fc is closed.
func Login(ctx context.Context, fc core.FrameConn, id domain.Identity) (*Client, error) {
	stop := context.AfterFunc(ctx, func() { _ = fc.Close() })
	defer stop()

	c, err := login(fc, id)
	if err != nil {
		_ = fc.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

func login(fc core.FrameConn, id domain.Identity) (*Client, error) {
	frame, err := protocol.EncodeIdentity(id)
	if err != nil {
		return nil, err
	}
	if err := fc.Send(frame); err != nil {
		return nil, fmt.Errorf("send identity: %w", err)
	}
	reply, err := fc.Receive()
	if err != nil {
		return nil, fmt.Errorf("await handshake: %w", err)
	}
	d, err := protocol.Decode(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedReply, err)
	}
	switch {
	case d.Kind == protocol.KindAck:
		return &Client{
			fc:       fc,
			id:       id,
			incoming: make(chan protocol.Decoded, 64),
			done:     make(chan struct{}),
		}, nil
	case d.Kind == protocol.KindError && protocol.IsUsernameTaken(d.Text):
		return nil, fmt.Errorf("%w: %s", ErrUsernameTaken, id.Username)
	default:
		return nil, fmt.Errorf("%w: %s %q", ErrUnexpectedReply, d.Kind, d.Text)
	}
}

func (c *Client) Identity() domain.Identity { return c.id }

// Incoming is closed when the connection ends.
func (c *Client) Incoming() <-chan protocol.Decoded { return c.incoming }

func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended; valid after Done is closed.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.incoming)
	for {
		frame, err := c.fc.Receive()
		if err != nil {
			c.err = err
			return
		}
		d, err := protocol.Decode(frame)
		if err != nil {
			log.Warn().Str("module", "client").Str("user", c.id.Username).Err(err).Msg("payload ignored")
			continue
		}
		c.incoming <- d
	}
}

func (c *Client) send(frame core.Frame, err error) error {
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.fc.Send(frame)
}

func (c *Client) SendMessage(m domain.Message) error {
	return c.send(protocol.EncodeMessage(m))
}

func (c *Client) SendText(to domain.Target, text string) error {
	return c.SendMessage(domain.NewTextMessage(c.id, to, text))
}

func (c *Client) SendAudio(to domain.Target, pcm []byte) error {
	return c.SendMessage(domain.NewAudioMessage(c.id, to, pcm, domain.VoiceFormat))
}

func (c *Client) SendSignal(s domain.CallSignal) error {
	return c.send(protocol.EncodeCallSignal(s))
}

// Call sends a REQUEST to username.
func (c *Client) Call(username string) error {
	return c.SendSignal(domain.NewCallSignal(domain.SignalRequest, c.id.Username, username, ""))
}

// Accept answers a call and advertises the local voice endpoint.
func (c *Client) Accept(username, udpHost string, udpPort int) error {
	return c.SendSignal(domain.NewAccept(c.id.Username, username, udpHost, udpPort))
}

func (c *Client) Hangup(username string) error {
	return c.SendSignal(domain.NewCallSignal(domain.SignalCancel, c.id.Username, username, ""))
}

func (c *Client) CreateGroup(name, displayName string, members []string) error {
	return c.send(protocol.EncodeCreateGroup(domain.GroupCreate{Name: name, DisplayName: displayName, Members: members}))
}

// CreateGroupCommand uses the "CREATE_GROUP:name,m1,..." command form.
func (c *Client) CreateGroupCommand(name string, members []string) error {
	return c.send(protocol.EncodeCreateGroupCommand(name, members))
}

func (c *Client) Close() error {
	return c.fc.Close()
}

// Next waits for the next payload matching keep.
func (c *Client) Next(ctx context.Context, keep func(protocol.Decoded) bool) (protocol.Decoded, error) {
	for {
		select {
		case d, ok := <-c.incoming:
			if !ok {
				return protocol.Decoded{}, c.Err()
			}
			if keep == nil || keep(d) {
				return d, nil
			}
		case <-ctx.Done():
			return protocol.Decoded{}, ctx.Err()
		}
	}
}

// WaitSignal waits for a call signal, optionally of one type.
func (c *Client) WaitSignal(ctx context.Context, types ...domain.SignalType) (domain.CallSignal, error) {
	d, err := c.Next(ctx, func(d protocol.Decoded) bool {
		if d.Signal == nil {
			return false
		}
		if len(types) == 0 {
			return true
		}
		for _, t := range types {
			if d.Signal.Type == t {
				return true
			}
		}
		return false
	})
	if err != nil {
		return domain.CallSignal{}, err
	}
	return *d.Signal, nil
}

// WaitMessage waits for the next chat message.
func (c *Client) WaitMessage(ctx context.Context) (domain.Message, error) {
	d, err := c.Next(ctx, func(d protocol.Decoded) bool { return d.Message != nil })
	if err != nil {
		return domain.Message{}, err
	}
	return *d.Message, nil
}
