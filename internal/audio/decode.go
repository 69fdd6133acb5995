package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// decode turns container bytes into a mono float32 waveform at its native
// rate. Supported containers are WAV (PCM) and MP3; anything else is
// undecodable.
func decode(raw []byte) (samples []float32, sampleRate int, format string, err error) {
	switch sniffFormat(raw) {
	case "wav":
		samples, sampleRate, err = decodeWAV(raw)
		return samples, sampleRate, "wav", err
	case "mp3":
		samples, sampleRate, err = decodeMP3(raw)
		return samples, sampleRate, "mp3", err
	default:
		return nil, 0, "", errors.New("unrecognized audio container")
	}
}

func sniffFormat(raw []byte) string {
	if len(raw) >= 12 && bytes.Equal(raw[0:4], []byte("RIFF")) && bytes.Equal(raw[8:12], []byte("WAVE")) {
		return "wav"
	}
	if len(raw) >= 3 && bytes.Equal(raw[0:3], []byte("ID3")) {
		return "mp3"
	}
	// Bare MP3 frame sync.
	if len(raw) >= 2 && raw[0] == 0xFF && raw[1]&0xE0 == 0xE0 {
		return "mp3"
	}
	return ""
}

func decodeWAV(raw []byte) ([]float32, int, error) {
	decoder := wav.NewDecoder(bytes.NewReader(raw))
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, 0, errors.New("invalid WAV file format")
	}
	if decoder.BitDepth != 16 && decoder.BitDepth != 24 && decoder.BitDepth != 32 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d", decoder.BitDepth)
	}
	if decoder.NumChans != 1 && decoder.NumChans != 2 {
		return nil, 0, fmt.Errorf("unsupported number of channels: %d", decoder.NumChans)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("read PCM data: %w", err)
	}
	if len(buf.Data) == 0 {
		return nil, 0, errors.New("empty WAV payload")
	}

	divisor, err := sampleDivisor(int(decoder.BitDepth))
	if err != nil {
		return nil, 0, err
	}

	channels := int(decoder.NumChans)
	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	if channels == 1 {
		for i := 0; i < frames; i++ {
			samples[i] = float32(buf.Data[i]) / divisor
		}
	} else {
		for i := 0; i < frames; i++ {
			left := float32(buf.Data[i*2]) / divisor
			right := float32(buf.Data[i*2+1]) / divisor
			samples[i] = (left + right) / 2
		}
	}
	return samples, int(decoder.SampleRate), nil
}

func sampleDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768, nil
	case 24:
		return 8388608, nil
	case 32:
		return 2147483648, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
}

// decodeMP3 decodes via go-mp3, which always emits 16-bit stereo PCM.
func decodeMP3(raw []byte) ([]float32, int, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(raw))
	if err != nil {
		return nil, 0, fmt.Errorf("open MP3 stream: %w", err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, fmt.Errorf("read MP3 PCM: %w", err)
	}
	// 2 bytes per sample, 2 channels.
	frames := len(pcm) / 4
	if frames == 0 {
		return nil, 0, errors.New("empty MP3 payload")
	}

	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		left := int16(uint16(pcm[i*4]) | uint16(pcm[i*4+1])<<8)
		right := int16(uint16(pcm[i*4+2]) | uint16(pcm[i*4+3])<<8)
		samples[i] = (float32(left)/32768 + float32(right)/32768) / 2
	}
	return samples, decoder.SampleRate(), nil
}
