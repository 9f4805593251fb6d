package tcp_test

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/chatline/internal/adapters/session"
	"github.com/dkeye/chatline/internal/adapters/tcp"
	"github.com/dkeye/chatline/internal/app/orch"
	"github.com/dkeye/chatline/internal/client"
	"github.com/dkeye/chatline/internal/domain"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, opts ...tcp.Option) (*orch.Orchestrator, string) {
	t.Helper()
	o := orch.New(nil, nil, nil)
	srv := tcp.NewServer("127.0.0.1:0", session.NewHandler(o), opts...)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return o, srv.Addr().String()
}

func login(t *testing.T, addr, username string) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	fc, err := client.DialTCP(ctx, addr)
	require.NoError(t, err)
	c, err := client.Login(ctx, fc, domain.Identity{Username: username, DisplayName: username})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestTCP_DirectMessage(t *testing.T) {
	req := require.New(t)
	_, addr := startServer(t)

	alice := login(t, addr, "alice")
	bob := login(t, addr, "bob")

	req.NoError(alice.SendText(domain.Target{Username: "bob"}, "hi"))

	msg, err := bob.WaitMessage(waitCtx(t))
	req.NoError(err)
	req.Equal("hi", msg.Content)
	req.Equal("alice", msg.From.Username)
	req.Equal(domain.KindText, msg.Kind)
	req.NotEmpty(msg.ID)
}

func TestTCP_CallToOfflineUserCancelled(t *testing.T) {
	req := require.New(t)
	_, addr := startServer(t)

	alice := login(t, addr, "alice")
	req.NoError(alice.Call("bob"))

	sig, err := alice.WaitSignal(waitCtx(t))
	req.NoError(err)
	req.Equal(domain.SignalCancel, sig.Type)
	req.Equal("bob", sig.FromUser)
	req.NotEmpty(sig.Content)
}

func TestTCP_CallHandshakeCarriesEndpoint(t *testing.T) {
	req := require.New(t)
	_, addr := startServer(t)

	alice := login(t, addr, "alice")
	bob := login(t, addr, "bob")

	req.NoError(alice.Call("bob"))
	sig, err := bob.WaitSignal(waitCtx(t), domain.SignalRequest)
	req.NoError(err)
	req.Equal("alice", sig.FromUser)

	req.NoError(bob.Accept("alice", "10.0.0.5", 5000))
	accept, err := alice.WaitSignal(waitCtx(t), domain.SignalAccept)
	req.NoError(err)
	req.Equal("10.0.0.5", accept.UDPHost)
	req.Equal(5000, accept.UDPPort)
}

func TestTCP_UsernameTaken(t *testing.T) {
	req := require.New(t)
	o, addr := startServer(t)
	login(t, addr, "alice")

	ctx := waitCtx(t)
	fc, err := client.DialTCP(ctx, addr)
	req.NoError(err)
	_, err = client.Login(ctx, fc, domain.Identity{Username: "alice"})
	req.ErrorIs(err, client.ErrUsernameTaken)
	req.True(o.Registry.IsOnline("alice"))
}

func TestTCP_DisconnectLeavesGroups(t *testing.T) {
	req := require.New(t)
	o, addr := startServer(t)

	alice := login(t, addr, "alice")
	bob := login(t, addr, "bob")
	carol := login(t, addr, "carol")

	req.NoError(alice.CreateGroupCommand("team", []string{"bob", "carol"}))
	req.Eventually(func() bool {
		g, ok := o.Groups.Get("team")
		return ok && g.Size() == 3
	}, 2*time.Second, 10*time.Millisecond)

	req.NoError(bob.Close())
	req.Eventually(func() bool {
		g, _ := o.Groups.Get("team")
		return g.Size() == 2 && !o.Registry.IsOnline("bob")
	}, 2*time.Second, 10*time.Millisecond)

	req.NoError(alice.SendText(domain.Target{Username: "team"}, "bob left"))
	msg, err := carol.WaitMessage(waitCtx(t))
	req.NoError(err)
	req.Equal("bob left", msg.Content)
	req.True(msg.To.Group)
}

func TestTCP_OversizedFrameClosesSession(t *testing.T) {
	req := require.New(t)
	o, addr := startServer(t, tcp.WithMaxFrameBytes(1024))
	alice := login(t, addr, "alice")

	req.NoError(alice.SendText(domain.Target{Username: "bob"}, strings.Repeat("x", 4096)))
	req.Eventually(func() bool { return !o.Registry.IsOnline("alice") }, 2*time.Second, 10*time.Millisecond)
}

func TestTCP_LegacyRawCommandLine(t *testing.T) {
	req := require.New(t)
	o, addr := startServer(t)
	login(t, addr, "bob")

	nc, err := net.Dial("tcp", addr)
	req.NoError(err)
	defer nc.Close()
	_, err = nc.Write([]byte(`{"kind":"identity","payload":{"username":"alice"}}` + "\n"))
	req.NoError(err)
	buf := make([]byte, 256)
	n, err := nc.Read(buf)
	req.NoError(err)
	req.Contains(string(buf[:n]), `"ack"`)

	_, err = nc.Write([]byte("CREATE_GROUP:team,bob\n"))
	req.NoError(err)
	req.Eventually(func() bool {
		g, ok := o.Groups.Get("team")
		return ok && g.Size() == 2
	}, 2*time.Second, 10*time.Millisecond)
}
