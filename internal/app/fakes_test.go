package app

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/chatline/internal/core"
	"github.com/dkeye/chatline/internal/domain"
	"github.com/dkeye/chatline/internal/protocol"
	"github.com/stretchr/testify/require"
)

var errBroken = errors.New("broken pipe")

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
	closed bool
}

func (c *fakeConn) Send(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return errBroken
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) decoded(t *testing.T) []protocol.Decoded {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Decoded, 0, len(c.frames))
	for _, f := range c.frames {
		d, err := protocol.Decode(f)
		require.NoError(t, err)
		out = append(out, d)
	}
	return out
}

func online(t *testing.T, reg *Registry, username string) (*Connection, *fakeConn) {
	t.Helper()
	ch := &fakeConn{}
	conn, err := reg.Register(domain.Identity{Username: username, DisplayName: username}, ch)
	require.NoError(t, err)
	require.NoError(t, conn.Open(nil))
	return conn, ch
}

// serialConn takes no lock of its own. It records whether two Sends ever
// ran at the same time.
type serialConn struct {
	inFlight atomic.Bool
	overlap  atomic.Bool
	sent     atomic.Int64
}

func (c *serialConn) Send(core.Frame) error {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.overlap.Store(true)
		return nil
	}
	time.Sleep(time.Millisecond)
	c.sent.Add(1)
	c.inFlight.Store(false)
	return nil
}

func (c *serialConn) Close() error { return nil }
