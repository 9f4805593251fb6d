package domain

import (
	"fmt"
	"time"
)

type Kind string

const (
	KindText  Kind = "TEXT"
	KindAudio Kind = "AUDIO"
)

// Message is a text or audio chat message addressed to a user or a group.
// Audio arrives either as freshly captured bytes or as a reference to audio
// that was already persisted.
type Message struct {
	ID            string       `json:"id,omitempty"`
	From          Target       `json:"from"`
	To            Target       `json:"to"`
	Kind          Kind         `json:"type" validate:"oneof=TEXT AUDIO"`
	Content       string       `json:"content"`
	Timestamp     time.Time    `json:"timestamp"`
	AudioBytes    []byte       `json:"audioBytes,omitempty"`
	AudioFilePath string       `json:"audioFilePath,omitempty"`
	AudioFormat   *AudioFormat `json:"audioFormat,omitempty"`
}

func NewTextMessage(from Identity, to Target, content string) Message {
	return Message{
		From:      from.Target(),
		To:        to,
		Kind:      KindText,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func NewAudioMessage(from Identity, to Target, pcm []byte, format AudioFormat) Message {
	return Message{
		From:        from.Target(),
		To:          to,
		Kind:        KindAudio,
		Content:     "[audio]",
		Timestamp:   time.Now(),
		AudioBytes:  pcm,
		AudioFormat: &format,
	}
}

func (m Message) Sender() Target    { return m.From }
func (m Message) Recipient() Target { return m.To }

func (m Message) IsAudio() bool { return m.Kind == KindAudio }

// Validate checks addressing and that audio messages carry audio.
func (m Message) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if m.IsAudio() && len(m.AudioBytes) == 0 && m.AudioFilePath == "" {
		return fmt.Errorf("%w: audio message without audio bytes or file path", ErrInvalidMessage)
	}
	return nil
}

// WithoutAudioBytes returns a copy that keeps only the audio reference.
func (m Message) WithoutAudioBytes() Message {
	m.AudioBytes = nil
	return m
}
