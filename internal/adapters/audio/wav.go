// Package audio provides PCM sources and sinks backed by WAV files or by
// nothing at all, and the WAV conversion used to persist voice notes.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/dkeye/chatline/internal/domain"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

const wavFormatPCM = 1

// WriteWAV stores raw PCM in format as a WAV file at path.
func WriteWAV(path string, pcm []byte, format domain.AudioFormat) error {
	samples, err := pcmToInts(pcm, format)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	enc := wav.NewEncoder(f, int(format.SampleRate), format.BitsPerSample, format.Channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: format.Channels,
			SampleRate:  int(format.SampleRate),
		},
		Data:           samples,
		SourceBitDepth: format.BitsPerSample,
	}
	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return f.Close()
}

// ReadWAV loads a PCM WAV file as signed little-endian PCM.
func ReadWAV(path string) ([]byte, domain.AudioFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.AudioFormat{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, domain.AudioFormat{}, fmt.Errorf("%w: %s is not a PCM WAV file", ErrUnsupportedFormat, path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, domain.AudioFormat{}, fmt.Errorf("decode %s: %w", path, err)
	}
	format := domain.AudioFormat{
		SampleRate:    float64(dec.SampleRate),
		BitsPerSample: int(dec.BitDepth),
		Channels:      int(dec.NumChans),
		Signed:        true,
	}
	pcm, err := intsToPCM(buf.Data, format)
	if err != nil {
		return nil, domain.AudioFormat{}, err
	}
	return pcm, format, nil
}

func byteOrder(format domain.AudioFormat) binary.ByteOrder {
	if format.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func pcmToInts(pcm []byte, format domain.AudioFormat) ([]int, error) {
	switch format.BitsPerSample {
	case 8:
		out := make([]int, len(pcm))
		for i, b := range pcm {
			if format.Signed {
				out[i] = int(int8(b)) + 128
			} else {
				out[i] = int(b)
			}
		}
		return out, nil
	case 16:
		order := byteOrder(format)
		out := make([]int, len(pcm)/2)
		for i := range out {
			out[i] = int(int16(order.Uint16(pcm[2*i:])))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, format.BitsPerSample)
	}
}

func intsToPCM(samples []int, format domain.AudioFormat) ([]byte, error) {
	switch format.BitsPerSample {
	case 8:
		out := make([]byte, len(samples))
		for i, s := range samples {
			out[i] = byte(int8(s - 128))
		}
		return out, nil
	case 16:
		out := make([]byte, 2*len(samples))
		for i, s := range samples {
			binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(s)))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, format.BitsPerSample)
	}
}
