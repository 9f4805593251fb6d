package domain

import (
	"fmt"
	"time"
)

type SignalType string

const (
	SignalRequest SignalType = "REQUEST"
	SignalAccept  SignalType = "ACCEPT"
	SignalReject  SignalType = "REJECT"
	SignalCancel  SignalType = "CANCEL"
	SignalTimeout SignalType = "TIMEOUT"
)

// CallSignal negotiates the lifecycle of a voice call between two users.
// UDPHost and UDPPort are set on ACCEPT only and name the sender's own
// reachable voice endpoint.
type CallSignal struct {
	Type      SignalType `json:"type" validate:"oneof=REQUEST ACCEPT REJECT CANCEL TIMEOUT"`
	FromUser  string     `json:"fromUser" validate:"required"`
	ToUser    string     `json:"toUser" validate:"required"`
	Content   string     `json:"content,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	UDPHost   string     `json:"udpHost,omitempty"`
	UDPPort   int        `json:"udpPort,omitempty" validate:"min=0,max=65535"`
}

func NewCallSignal(t SignalType, from, to, content string) CallSignal {
	return CallSignal{
		Type:      t,
		FromUser:  from,
		ToUser:    to,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewAccept builds an ACCEPT advertising the sender's voice endpoint.
func NewAccept(from, to, udpHost string, udpPort int) CallSignal {
	s := NewCallSignal(SignalAccept, from, to, "")
	s.UDPHost = udpHost
	s.UDPPort = udpPort
	return s
}

func (s CallSignal) Sender() Target    { return Target{Username: s.FromUser, DisplayName: s.FromUser} }
func (s CallSignal) Recipient() Target { return Target{Username: s.ToUser, DisplayName: s.ToUser} }

func (s CallSignal) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	return nil
}

// HasEndpoint reports whether the signal carries a voice endpoint.
func (s CallSignal) HasEndpoint() bool {
	return s.UDPHost != "" && s.UDPPort > 0
}
