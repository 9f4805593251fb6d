package protocol

import (
	"encoding/json"
	"testing"

	"github.com/dkeye/chatline/internal/core"
	"github.com/dkeye/chatline/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestDecode_Identity(t *testing.T) {
	req := require.New(t)

	f, err := EncodeIdentity(domain.Identity{Username: " alice "})
	req.NoError(err)

	d, err := Decode(f)
	req.NoError(err)
	req.Equal(KindIdentity, d.Kind)
	req.Equal("alice", d.Identity.Username)
	req.Equal("alice", d.Identity.DisplayName)

	_, err = Decode(core.Frame(`{"kind":"identity","payload":{"username":""}}`))
	req.ErrorIs(err, ErrMalformed)
}

func TestDecode_Message(t *testing.T) {
	req := require.New(t)
	alice := domain.Identity{Username: "alice"}
	bob := domain.Identity{Username: "bob"}

	msg := domain.NewAudioMessage(alice, bob.Target(), []byte{0x01, 0x02, 0x03}, domain.VoiceFormat)
	f, err := EncodeMessage(msg)
	req.NoError(err)

	d, err := Decode(f)
	req.NoError(err)
	req.Equal(KindMessage, d.Kind)
	req.Equal([]byte{0x01, 0x02, 0x03}, d.Message.AudioBytes)
	req.Equal(domain.KindAudio, d.Message.Kind)
	req.Equal("bob", d.Message.To.Username)
	req.Equal(domain.VoiceFormat, *d.Message.AudioFormat)

	_, err = Decode(core.Frame(`{"kind":"message","payload":{"from":{"username":"a"},"type":"TEXT"}}`))
	req.ErrorIs(err, domain.ErrInvalidMessage)

	// A colon in the recipient would nest its chat key under another chat.
	_, err = Decode(core.Frame(`{"kind":"message","payload":{"from":{"username":"alice"},"to":{"username":"bob:x"},"type":"TEXT","content":"hi"}}`))
	req.ErrorIs(err, domain.ErrInvalidMessage)
}

func TestDecode_CallSignalKeepsEndpoint(t *testing.T) {
	req := require.New(t)

	f, err := EncodeCallSignal(domain.NewAccept("bob", "alice", "10.0.0.5", 5000))
	req.NoError(err)

	d, err := Decode(f)
	req.NoError(err)
	req.Equal(domain.SignalAccept, d.Signal.Type)
	req.Equal("10.0.0.5", d.Signal.UDPHost)
	req.Equal(5000, d.Signal.UDPPort)

	var env map[string]json.RawMessage
	req.NoError(json.Unmarshal(f, &env))
	var wire map[string]any
	req.NoError(json.Unmarshal(env["payload"], &wire))
	for _, key := range []string{"type", "fromUser", "toUser", "timestamp", "udpHost", "udpPort"} {
		req.Contains(wire, key)
	}
}

func TestDecode_CreateGroup(t *testing.T) {
	req := require.New(t)

	f, err := EncodeCreateGroup(domain.GroupCreate{Name: "team", Members: []string{"bob"}})
	req.NoError(err)
	d, err := Decode(f)
	req.NoError(err)
	req.Equal(KindCreateGroup, d.Kind)
	req.Equal("team", d.Group.Name)
	req.Equal([]string{"bob"}, d.Group.Members)

	f, err = EncodeCreateGroupCommand("team", []string{"bob", "carol"})
	req.NoError(err)
	d, err = Decode(f)
	req.NoError(err)
	req.Equal(KindCommand, d.Kind)
	req.Equal("team", d.Group.Name)
	req.Equal([]string{"bob", "carol"}, d.Group.Members)
}

func TestDecode_RawLegacyCommand(t *testing.T) {
	req := require.New(t)

	d, err := Decode(core.Frame("CREATE_GROUP:team, bob,,carol \n"))
	req.NoError(err)
	req.Equal(KindCommand, d.Kind)
	req.Equal("team", d.Group.Name)
	req.Equal([]string{"bob", "carol"}, d.Group.Members)

	_, err = Decode(core.Frame("CREATE_GROUP:"))
	req.ErrorIs(err, ErrMalformed)
}

func TestDecode_Sentinels(t *testing.T) {
	req := require.New(t)

	f, err := EncodeAck()
	req.NoError(err)
	d, err := Decode(f)
	req.NoError(err)
	req.Equal(KindAck, d.Kind)
	req.Equal(AckOK, d.Text)

	f, err = EncodeUsernameTaken("alice")
	req.NoError(err)
	d, err = Decode(f)
	req.NoError(err)
	req.Equal(KindError, d.Kind)
	req.Equal("ERROR:USERNAME_TAKEN: alice", d.Text)
	req.True(IsUsernameTaken(d.Text))
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{name: "empty", frame: "  ", want: ErrMalformed},
		{name: "garbage", frame: "hello", want: ErrMalformed},
		{name: "broken json", frame: `{"kind":`, want: ErrMalformed},
		{name: "missing kind", frame: `{"payload":{}}`, want: ErrMalformed},
		{name: "missing payload", frame: `{"kind":"message"}`, want: ErrMalformed},
		{name: "unknown kind", frame: `{"kind":"presence","payload":{}}`, want: ErrUnknownKind},
		{name: "unknown command", frame: `{"kind":"command","payload":"DELETE_GROUP:x"}`, want: ErrUnknownCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(core.Frame(tt.frame))
			require.ErrorIs(t, err, tt.want)
		})
	}
}
