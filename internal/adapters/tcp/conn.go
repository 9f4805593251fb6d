// Package tcp serves chat sessions over plain TCP, one JSON envelope per
// newline-terminated line.
package tcp

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/dkeye/chatline/internal/core"
)

const DefaultMaxFrameBytes = 8 << 20

// Conn is a line-framed core.FrameConn over a net.Conn.
type Conn struct {
	conn         net.Conn
	sc           *bufio.Scanner
	writeTimeout time.Duration

	wmu  sync.Mutex
	once sync.Once
}

func NewConn(c net.Conn, maxFrame int, writeTimeout time.Duration) *Conn {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	sc := bufio.NewScanner(c)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrame)
	return &Conn{conn: c, sc: sc, writeTimeout: writeTimeout}
}

// Receive returns the next line without its terminator. Empty lines are
// skipped. A line longer than the frame limit is a framing error.
func (c *Conn) Receive() (core.Frame, error) {
	for c.sc.Scan() {
		line := c.sc.Bytes()
		if len(line) == 0 || (len(line) == 1 && line[0] == '\r') {
			continue
		}
		out := make(core.Frame, len(line))
		copy(out, line)
		return out, nil
	}
	if err := c.sc.Err(); err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return nil, io.EOF
}

func (c *Conn) Send(f core.Frame) error {
	buf := make([]byte, 0, len(f)+1)
	buf = append(buf, f...)
	buf = append(buf, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(buf)
	return err
}

func (c *Conn) Close() error {
	var err error
	c.once.Do(func() { err = c.conn.Close() })
	return err
}

func (c *Conn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *Conn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }
