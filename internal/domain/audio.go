package domain

// AudioFormat describes raw PCM audio.
type AudioFormat struct {
	SampleRate    float64 `json:"sampleRate"`
	BitsPerSample int     `json:"bitsPerSample"`
	Channels      int     `json:"channels"`
	Signed        bool    `json:"signed"`
	BigEndian     bool    `json:"bigEndian"`
}

// VoiceFormat is the fixed format of live calls and recorded voice notes.
var VoiceFormat = AudioFormat{
	SampleRate:    16000,
	BitsPerSample: 16,
	Channels:      1,
	Signed:        true,
	BigEndian:     false,
}

func (f AudioFormat) FrameSize() int {
	return f.Channels * f.BitsPerSample / 8
}

func (f AudioFormat) ByteRate() int {
	return int(f.SampleRate) * f.FrameSize()
}
