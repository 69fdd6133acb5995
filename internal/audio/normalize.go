// Package audio turns raw container bytes into the canonical waveform the
// embedding oracle expects: mono, fixed sample rate, peak-normalized, with
// leading and trailing silence removed. Every step is a hard gate; no partial
// output survives a failed gate.
package audio

import (
	"errors"
	"fmt"
	"math"

	"github.com/voxlock/voxlock-core/internal/config"
)

var (
	// ErrDecode marks input that no supported decoder could read.
	ErrDecode = errors.New("undecodable audio input")
	// ErrDurationOutOfRange marks input outside the duration gates,
	// before or after silence trimming.
	ErrDurationOutOfRange = errors.New("audio duration out of range")
	// ErrLowQuality marks input that failed the energy or dynamic-range gate.
	ErrLowQuality = errors.New("audio quality below threshold")
)

// Waveform is a normalized utterance ready for embedding extraction.
type Waveform struct {
	Samples    []float32
	SampleRate int
	Format     string // source container: "wav" or "mp3"
}

// Duration returns the waveform length in seconds.
func (w Waveform) Duration() float64 {
	if w.SampleRate == 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

type Normalizer struct {
	cfg config.AudioConfig
}

func NewNormalizer(cfg config.AudioConfig) *Normalizer {
	return &Normalizer{cfg: cfg}
}

// Normalize runs the full pipeline: decode, duration gate, resample to the
// target rate, peak normalize, trim silence, post-trim gate. Deterministic
// for identical input bytes.
func (n *Normalizer) Normalize(raw []byte) (Waveform, error) {
	if len(raw) == 0 {
		return Waveform{}, fmt.Errorf("%w: empty input", ErrDecode)
	}

	samples, nativeRate, format, err := decode(raw)
	if err != nil {
		return Waveform{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	native := float64(len(samples)) / float64(nativeRate)
	if native < n.cfg.MinDurationSec {
		return Waveform{}, fmt.Errorf("%w: %.2fs is below the %.1fs minimum", ErrDurationOutOfRange, native, n.cfg.MinDurationSec)
	}
	if native > n.cfg.MaxDurationSec {
		return Waveform{}, fmt.Errorf("%w: %.2fs exceeds the %.1fs maximum", ErrDurationOutOfRange, native, n.cfg.MaxDurationSec)
	}

	if nativeRate != n.cfg.TargetSampleRate {
		samples, err = resample(samples, nativeRate, n.cfg.TargetSampleRate)
		if err != nil {
			return Waveform{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
	}

	normalizeAmplitude(samples)
	samples = trimSilence(samples, n.cfg.TrimTopDB)

	trimmed := float64(len(samples)) / float64(n.cfg.TargetSampleRate)
	if trimmed < n.cfg.MinTrimmedSec {
		return Waveform{}, fmt.Errorf("%w: %.2fs after trimming is below the %.1fs minimum", ErrDurationOutOfRange, trimmed, n.cfg.MinTrimmedSec)
	}

	return Waveform{
		Samples:    samples,
		SampleRate: n.cfg.TargetSampleRate,
		Format:     format,
	}, nil
}

// ValidateQuality gates low-information audio that nonetheless passed the
// duration checks. This is a cheap heuristic, not a speech detector; both
// false accepts and false rejects are possible.
func (n *Normalizer) ValidateQuality(w Waveform) error {
	if len(w.Samples) == 0 {
		return fmt.Errorf("%w: empty waveform", ErrLowQuality)
	}

	var sumSquares float64
	minSample, maxSample := w.Samples[0], w.Samples[0]
	for _, s := range w.Samples {
		sumSquares += float64(s) * float64(s)
		if s < minSample {
			minSample = s
		}
		if s > maxSample {
			maxSample = s
		}
	}

	energy := sumSquares / float64(len(w.Samples))
	if energy < n.cfg.MinEnergy {
		return fmt.Errorf("%w: mean energy %.5f below %.5f", ErrLowQuality, energy, n.cfg.MinEnergy)
	}
	dynamicRange := float64(maxSample - minSample)
	if dynamicRange < n.cfg.MinDynamicRange {
		return fmt.Errorf("%w: dynamic range %.3f below %.3f", ErrLowQuality, dynamicRange, n.cfg.MinDynamicRange)
	}
	return nil
}

// normalizeAmplitude scales in place so the peak absolute sample is 1.0.
// An all-zero waveform is left untouched.
func normalizeAmplitude(samples []float32) {
	var peak float32
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return
	}
	for i := range samples {
		samples[i] /= peak
	}
}

// trimSilence drops leading and trailing samples quieter than topDB below
// the peak. Interior samples are never altered.
func trimSilence(samples []float32, topDB float64) []float32 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return samples
	}
	threshold := peak * math.Pow(10, -topDB/20)

	start := 0
	for start < len(samples) && math.Abs(float64(samples[start])) < threshold {
		start++
	}
	end := len(samples)
	for end > start && math.Abs(float64(samples[end-1])) < threshold {
		end--
	}
	return samples[start:end]
}
