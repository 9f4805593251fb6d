package core

// Frame is one encoded wire envelope.
type Frame []byte

// SignalConnection is the outbound half of a client transport.
// Send writes one frame and may block until the peer accepts it;
// callers serialize Send per connection.
type SignalConnection interface {
	Send(Frame) error
	Close() error
}

// FrameConn is a full client transport owned by one session.
// Receive blocks for the next frame and returns io.EOF once the peer is gone.
type FrameConn interface {
	SignalConnection
	Receive() (Frame, error)
	RemoteAddr() string
}
