package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIdentity(t *testing.T) {
	req := require.New(t)

	id, err := NewIdentity("  alice ", "")
	req.NoError(err)
	req.Equal("alice", id.Username)
	req.Equal("alice", id.DisplayName)

	_, err = NewIdentity("", "x")
	req.ErrorIs(err, ErrUsernameEmpty)

	long := make([]byte, MaxUsernameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = NewIdentity(string(long), "")
	req.ErrorIs(err, ErrUsernameTooLong)
}

func TestIdentity_EqualityByUsername(t *testing.T) {
	req := require.New(t)
	a := Identity{Username: "alice", DisplayName: "Alice"}
	b := Identity{Username: "alice", DisplayName: "Alice in Wonderland"}
	req.True(a.Equal(b))
	req.Equal(a.Key(), b.Key())
}

func TestIdentity_ValidationRejectsSeparators(t *testing.T) {
	req := require.New(t)
	req.NoError(Validate(Identity{Username: "bob"}))
	req.Error(Validate(Identity{Username: "bo,b"}))
	req.Error(Validate(Identity{Username: "bo:b"}))
	req.Error(Validate(Identity{}))
}

func TestMessage_Validate(t *testing.T) {
	alice := Identity{Username: "alice"}
	bob := Identity{Username: "bob"}

	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{name: "text", msg: NewTextMessage(alice, bob.Target(), "hi")},
		{name: "audio bytes", msg: NewAudioMessage(alice, bob.Target(), []byte{1, 2}, VoiceFormat)},
		{
			name: "audio path",
			msg: Message{
				From: alice.Target(), To: bob.Target(), Kind: KindAudio,
				AudioFilePath: "audio/x.wav",
			},
		},
		{
			name:    "audio without audio",
			msg:     Message{From: alice.Target(), To: bob.Target(), Kind: KindAudio},
			wantErr: true,
		},
		{name: "missing recipient", msg: Message{From: alice.Target(), Kind: KindText}, wantErr: true},
		{name: "unknown kind", msg: Message{From: alice.Target(), To: bob.Target(), Kind: "VIDEO"}, wantErr: true},
		{name: "recipient with colon", msg: NewTextMessage(alice, Target{Username: "bob:x"}, "hi"), wantErr: true},
		{name: "sender with comma", msg: NewTextMessage(Identity{Username: "al,ice"}, bob.Target(), "hi"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				require.True(t, errors.Is(err, ErrInvalidMessage), "got %v", err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCallSignal_Validate(t *testing.T) {
	req := require.New(t)
	req.NoError(NewCallSignal(SignalRequest, "alice", "bob", "").Validate())
	req.NoError(NewAccept("bob", "alice", "10.0.0.5", 5000).Validate())

	bad := NewCallSignal("RING", "alice", "bob", "")
	req.ErrorIs(bad.Validate(), ErrInvalidSignal)

	noPeer := NewCallSignal(SignalRequest, "alice", "", "")
	req.ErrorIs(noPeer.Validate(), ErrInvalidSignal)
}

func TestGroup_MembersIsSnapshot(t *testing.T) {
	req := require.New(t)
	g := NewGroup("team", "", []Identity{{Username: "carol"}, {Username: "alice"}})
	req.Equal("team", g.DisplayName)

	snap := g.Members()
	req.Equal([]Identity{{Username: "alice"}, {Username: "carol"}}, snap)

	req.True(g.Remove(Identity{Username: "alice"}))
	req.False(g.Remove(Identity{Username: "alice"}))
	req.Len(snap, 2)
	req.Equal(1, g.Size())
	req.False(g.Has(Identity{Username: "alice"}))
}

func TestVoiceFormat(t *testing.T) {
	req := require.New(t)
	req.Equal(2, VoiceFormat.FrameSize())
	req.Equal(32000, VoiceFormat.ByteRate())
}
