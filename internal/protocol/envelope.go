// Package protocol encodes and decodes the framed JSON envelopes exchanged
// between chat clients and the server.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/chatline/internal/core"
	"github.com/dkeye/chatline/internal/domain"
)

type Kind string

const (
	KindIdentity    Kind = "identity"
	KindAck         Kind = "ack"
	KindError       Kind = "error"
	KindMessage     Kind = "message"
	KindCallSignal  Kind = "call_signal"
	KindCreateGroup Kind = "create_group"
	KindCommand     Kind = "command"
)

const (
	AckOK               = "OK"
	UsernameTakenPrefix = "ERROR:USERNAME_TAKEN"
	CreateGroupPrefix   = "CREATE_GROUP:"
)

var (
	ErrMalformed      = errors.New("malformed frame")
	ErrUnknownKind    = errors.New("unknown payload kind")
	ErrUnknownCommand = errors.New("unknown command")
)

// Envelope is the tagged union carried by every frame.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Decoded holds exactly one payload, selected by Kind.
type Decoded struct {
	Kind     Kind
	Identity *domain.Identity
	Message  *domain.Message
	Signal   *domain.CallSignal
	Group    *domain.GroupCreate
	// Text is the payload of ack, error and command envelopes.
	Text string
}

func Encode(kind Kind, v any) (core.Frame, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	b, err := json.Marshal(Envelope{Kind: kind, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", kind, err)
	}
	return b, nil
}

func EncodeIdentity(id domain.Identity) (core.Frame, error) { return Encode(KindIdentity, id) }
func EncodeMessage(m domain.Message) (core.Frame, error)    { return Encode(KindMessage, m) }
func EncodeCallSignal(s domain.CallSignal) (core.Frame, error) {
	return Encode(KindCallSignal, s)
}
func EncodeCreateGroup(g domain.GroupCreate) (core.Frame, error) {
	return Encode(KindCreateGroup, g)
}

func EncodeAck() (core.Frame, error) { return Encode(KindAck, AckOK) }

func EncodeUsernameTaken(username string) (core.Frame, error) {
	return Encode(KindError, UsernameTaken(username))
}

// EncodeCreateGroupCommand builds the string form "CREATE_GROUP:name,m1,m2".
func EncodeCreateGroupCommand(name string, members []string) (core.Frame, error) {
	return Encode(KindCommand, CreateGroupPrefix+strings.Join(append([]string{name}, members...), ","))
}

func UsernameTaken(username string) string {
	return UsernameTakenPrefix + ": " + username
}

// IsUsernameTaken reports whether an error payload is the duplicate identity sentinel.
func IsUsernameTaken(text string) bool {
	return strings.HasPrefix(text, UsernameTakenPrefix)
}

// Decode parses one frame. A frame that is not a JSON object but starts
// with CREATE_GROUP: is taken as a raw command.
func Decode(f core.Frame) (Decoded, error) {
	raw := bytes.TrimSpace(f)
	if len(raw) == 0 {
		return Decoded{}, fmt.Errorf("%w: empty", ErrMalformed)
	}
	if raw[0] != '{' {
		if bytes.HasPrefix(raw, []byte(CreateGroupPrefix)) {
			return decodeCommand(string(raw))
		}
		return Decoded{}, fmt.Errorf("%w: not an envelope", ErrMalformed)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Kind == "" {
		return Decoded{}, fmt.Errorf("%w: missing kind", ErrMalformed)
	}

	switch env.Kind {
	case KindIdentity:
		var id domain.Identity
		if err := unmarshalPayload(env, &id); err != nil {
			return Decoded{}, err
		}
		id, err := domain.NewIdentity(id.Username, id.DisplayName)
		if err != nil {
			return Decoded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := domain.Validate(id); err != nil {
			return Decoded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Decoded{Kind: env.Kind, Identity: &id}, nil

	case KindMessage:
		var m domain.Message
		if err := unmarshalPayload(env, &m); err != nil {
			return Decoded{}, err
		}
		if err := m.Validate(); err != nil {
			return Decoded{}, err
		}
		return Decoded{Kind: env.Kind, Message: &m}, nil

	case KindCallSignal:
		var s domain.CallSignal
		if err := unmarshalPayload(env, &s); err != nil {
			return Decoded{}, err
		}
		if err := s.Validate(); err != nil {
			return Decoded{}, err
		}
		return Decoded{Kind: env.Kind, Signal: &s}, nil

	case KindCreateGroup:
		var g domain.GroupCreate
		if err := unmarshalPayload(env, &g); err != nil {
			return Decoded{}, err
		}
		g.Name = strings.TrimSpace(g.Name)
		if err := domain.Validate(g); err != nil {
			return Decoded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Decoded{Kind: env.Kind, Group: &g}, nil

	case KindCommand:
		var s string
		if err := unmarshalPayload(env, &s); err != nil {
			return Decoded{}, err
		}
		return decodeCommand(s)

	case KindAck, KindError:
		var s string
		if err := unmarshalPayload(env, &s); err != nil {
			return Decoded{}, err
		}
		return Decoded{Kind: env.Kind, Text: s}, nil

	default:
		return Decoded{Kind: env.Kind}, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
}

func unmarshalPayload(env Envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: %s without payload", ErrMalformed, env.Kind)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Kind, err)
	}
	return nil
}

func decodeCommand(s string) (Decoded, error) {
	g, err := ParseCreateGroupCommand(s)
	if err != nil {
		return Decoded{}, err
	}
	return Decoded{Kind: KindCommand, Group: &g, Text: s}, nil
}

// ParseCreateGroupCommand parses "CREATE_GROUP:name,m1,m2". Blank entries
// are dropped; the first entry is the group name.
func ParseCreateGroupCommand(s string) (domain.GroupCreate, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, CreateGroupPrefix) {
		return domain.GroupCreate{}, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
	var parts []string
	for _, p := range strings.Split(strings.TrimPrefix(s, CreateGroupPrefix), ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return domain.GroupCreate{}, fmt.Errorf("%w: %v", ErrMalformed, domain.ErrGroupNameEmpty)
	}
	g := domain.GroupCreate{Name: parts[0], Members: parts[1:]}
	if err := domain.Validate(g); err != nil {
		return domain.GroupCreate{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return g, nil
}
