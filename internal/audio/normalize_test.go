package audio

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/voxlock/voxlock-core/internal/config"
)

func testConfig() config.AudioConfig {
	return config.Default().Audio
}

// encodeWAV renders float32 samples as a 16-bit PCM WAV byte slice.
func encodeWAV(t *testing.T, samples []float32, sampleRate, channels int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav file: %v", err)
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s * 32767)
	}
	buf := &goaudio.IntBuffer{
		Data:   data,
		Format: &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
	}
	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav encoder: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close wav file: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav bytes: %v", err)
	}
	return raw
}

// sine generates a full-scale sine tone.
func sine(durationSec float64, sampleRate int, freq float64) []float32 {
	n := int(durationSec * float64(sampleRate))
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate)))
	}
	return samples
}

func TestNormalizeSineClip(t *testing.T) {
	cfg := testConfig()
	n := NewNormalizer(cfg)
	raw := encodeWAV(t, sine(3.0, 16000, 440), 16000, 1)

	w, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.SampleRate != cfg.TargetSampleRate {
		t.Fatalf("expected %d Hz, got %d", cfg.TargetSampleRate, w.SampleRate)
	}
	if w.Format != "wav" {
		t.Fatalf("expected wav format, got %q", w.Format)
	}
	// Only near-zero edge samples may be trimmed from a continuous tone.
	if w.Duration() < 2.9 || w.Duration() > 3.0 {
		t.Fatalf("unexpected duration after trim: %.3fs", w.Duration())
	}
	if err := n.ValidateQuality(w); err != nil {
		t.Fatalf("full-scale sine should pass quality gate: %v", err)
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	n := NewNormalizer(testConfig())
	raw := encodeWAV(t, sine(2.0, 22050, 330), 22050, 1)

	a, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := n.Normalize(append([]byte(nil), raw...))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Samples) != len(b.Samples) {
		t.Fatalf("length mismatch: %d vs %d", len(a.Samples), len(b.Samples))
	}
	for i := range a.Samples {
		if a.Samples[i] != b.Samples[i] {
			t.Fatalf("sample %d differs: %v vs %v", i, a.Samples[i], b.Samples[i])
		}
	}
}

func TestNormalizeResamplesToTargetRate(t *testing.T) {
	cfg := testConfig()
	n := NewNormalizer(cfg)
	raw := encodeWAV(t, sine(2.0, 8000, 200), 8000, 1)

	w, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.SampleRate != cfg.TargetSampleRate {
		t.Fatalf("expected %d Hz, got %d", cfg.TargetSampleRate, w.SampleRate)
	}
	if w.Duration() < 1.8 || w.Duration() > 2.05 {
		t.Fatalf("resampling changed duration: %.3fs", w.Duration())
	}
}

func TestNormalizeStereoDownmix(t *testing.T) {
	// Interleave identical L/R channels.
	mono := sine(2.0, 16000, 440)
	stereo := make([]float32, len(mono)*2)
	for i, s := range mono {
		stereo[i*2] = s
		stereo[i*2+1] = s
	}
	n := NewNormalizer(testConfig())
	w, err := n.Normalize(encodeWAV(t, stereo, 16000, 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Duration() < 1.9 || w.Duration() > 2.0 {
		t.Fatalf("unexpected downmixed duration: %.3fs", w.Duration())
	}
}

func TestNormalizeRejectsShortClip(t *testing.T) {
	n := NewNormalizer(testConfig())
	raw := encodeWAV(t, sine(0.3, 16000, 440), 16000, 1)

	_, err := n.Normalize(raw)
	if !errors.Is(err, ErrDurationOutOfRange) {
		t.Fatalf("expected ErrDurationOutOfRange, got %v", err)
	}
}

func TestNormalizeRejectsLongClip(t *testing.T) {
	n := NewNormalizer(testConfig())
	raw := encodeWAV(t, sine(11.0, 16000, 440), 16000, 1)

	_, err := n.Normalize(raw)
	if !errors.Is(err, ErrDurationOutOfRange) {
		t.Fatalf("expected ErrDurationOutOfRange, got %v", err)
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	n := NewNormalizer(testConfig())
	_, err := n.Normalize([]byte("definitely not audio bytes"))
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if _, err := n.Normalize(nil); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode for empty input, got %v", err)
	}
}

func TestNormalizeRejectsMostlySilence(t *testing.T) {
	// 2 s clip with a 0.1 s burst in the middle; trimming leaves too little.
	samples := make([]float32, 32000)
	for i := 16000; i < 17600; i++ {
		samples[i] = 0.9
	}
	n := NewNormalizer(testConfig())
	_, err := n.Normalize(encodeWAV(t, samples, 16000, 1))
	if !errors.Is(err, ErrDurationOutOfRange) {
		t.Fatalf("expected post-trim ErrDurationOutOfRange, got %v", err)
	}
}

func TestValidateQualityRejectsSilence(t *testing.T) {
	n := NewNormalizer(testConfig())
	w := Waveform{Samples: make([]float32, 16000), SampleRate: 16000}
	if err := n.ValidateQuality(w); !errors.Is(err, ErrLowQuality) {
		t.Fatalf("expected ErrLowQuality, got %v", err)
	}
}

func TestValidateQualityRejectsFlatSignal(t *testing.T) {
	// Constant DC offset: enough energy, no dynamic range.
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = 0.5
	}
	n := NewNormalizer(testConfig())
	w := Waveform{Samples: samples, SampleRate: 16000}
	if err := n.ValidateQuality(w); !errors.Is(err, ErrLowQuality) {
		t.Fatalf("expected ErrLowQuality, got %v", err)
	}
}

func TestNormalizeAmplitude(t *testing.T) {
	samples := []float32{0.1, -0.25, 0.05}
	normalizeAmplitude(samples)
	var peak float32
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	if peak != 1.0 {
		t.Fatalf("expected peak 1.0, got %v", peak)
	}

	zeros := make([]float32, 8)
	normalizeAmplitude(zeros)
	for i, s := range zeros {
		if s != 0 {
			t.Fatalf("all-zero waveform changed at %d: %v", i, s)
		}
	}
}

func TestTrimSilenceKeepsInterior(t *testing.T) {
	samples := make([]float32, 300)
	for i := 100; i < 200; i++ {
		samples[i] = 1.0
	}
	// One quiet interior sample must survive trimming.
	samples[150] = 0.001

	trimmed := trimSilence(samples, 20)
	if len(trimmed) != 100 {
		t.Fatalf("expected 100 samples, got %d", len(trimmed))
	}
	if trimmed[50] != 0.001 {
		t.Fatalf("interior sample altered: %v", trimmed[50])
	}
}

func TestResampleHalvesAndDoubles(t *testing.T) {
	src := sine(1.0, 16000, 100)

	up, err := resample(src, 16000, 32000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(up) != 2*len(src) {
		t.Fatalf("expected %d samples, got %d", 2*len(src), len(up))
	}

	down, err := resample(src, 16000, 8000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(down) != len(src)/2 {
		t.Fatalf("expected %d samples, got %d", len(src)/2, len(down))
	}

	same, err := resample(src, 16000, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(same) != len(src) {
		t.Fatal("same-rate resample must be identity")
	}
}

func TestSniffFormat(t *testing.T) {
	if got := sniffFormat([]byte("RIFF\x00\x00\x00\x00WAVEfmt ")); got != "wav" {
		t.Fatalf("expected wav, got %q", got)
	}
	if got := sniffFormat([]byte("ID3\x04\x00rest")); got != "mp3" {
		t.Fatalf("expected mp3 for ID3 tag, got %q", got)
	}
	if got := sniffFormat([]byte{0xFF, 0xFB, 0x90, 0x00}); got != "mp3" {
		t.Fatalf("expected mp3 for frame sync, got %q", got)
	}
	if got := sniffFormat([]byte("OggS")); got != "" {
		t.Fatalf("expected unknown, got %q", got)
	}
}
