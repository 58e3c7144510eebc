package tts

import (
	"context"
	"fmt"
	"math"
	"slices"
)

// Provider limits for Google Cloud Text-to-Speech.
const (
	MinPitch        = -20.0
	MaxPitch        = 20.0
	MinSpeakingRate = 0.25
	MaxSpeakingRate = 4.0
)

// Encoding is the audio encoding requested from the provider.
type Encoding int

const (
	// EncodingLinear16 is signed 16-bit little-endian PCM.
	EncodingLinear16 Encoding = iota + 1
)

func (e Encoding) String() string {
	if e == EncodingLinear16 {
		return "LINEAR16"
	}
	return fmt.Sprintf("Encoding(%d)", int(e))
}

// Voice is a provider voice and the languages it speaks.
type Voice struct {
	Name          string
	LanguageCodes []string
}

// SupportsLanguage reports whether the voice speaks code.
func (v Voice) SupportsLanguage(code string) bool {
	return slices.Contains(v.LanguageCodes, code)
}

// AudioConfig is a validated set of synthesis parameters. Use NewAudioConfig
// to build one.
type AudioConfig struct {
	Encoding       Encoding
	PitchSemitones float64
	SpeakingRate   float64
	SampleRateHz   int
}

// NewAudioConfig validates the parameters and returns a LINEAR16 config.
func NewAudioConfig(pitch, speakingRate float64, sampleRateHz int) (AudioConfig, error) {
	if err := ValidatePitch(pitch); err != nil {
		return AudioConfig{}, err
	}
	if err := ValidateSpeakingRate(speakingRate); err != nil {
		return AudioConfig{}, err
	}
	if sampleRateHz <= 0 {
		return AudioConfig{}, fmt.Errorf("sample rate must be positive, got %d", sampleRateHz)
	}
	return AudioConfig{
		Encoding:       EncodingLinear16,
		PitchSemitones: pitch,
		SpeakingRate:   speakingRate,
		SampleRateHz:   sampleRateHz,
	}, nil
}

// WithPitch returns a copy of c with a different pitch. The caller validates pitch.
func (c AudioConfig) WithPitch(pitch float64) AudioConfig {
	c.PitchSemitones = pitch
	return c
}

// ValidatePitch checks v against the provider pitch range.
func ValidatePitch(v float64) error {
	if math.IsNaN(v) || v < MinPitch || v > MaxPitch {
		return fmt.Errorf("pitch must be within [%g, %g] semitones, got %v", MinPitch, MaxPitch, v)
	}
	return nil
}

// ValidateSpeakingRate checks v against the provider speaking rate range.
func ValidateSpeakingRate(v float64) error {
	if math.IsNaN(v) || v < MinSpeakingRate || v > MaxSpeakingRate {
		return fmt.Errorf("speaking rate must be within [%g, %g], got %v", MinSpeakingRate, MaxSpeakingRate, v)
	}
	return nil
}

// VoiceSelection names the voice used for synthesis.
type VoiceSelection struct {
	LanguageCode string
	VoiceName    string
}

// Request is a single synthesis call.
type Request struct {
	Text   string
	Voice  VoiceSelection
	Config AudioConfig
}

// Provider is a remote speech synthesis service. Every call carries the
// bearer token to authenticate with.
type Provider interface {
	ListVoices(ctx context.Context, token string) ([]Voice, error)
	Synthesize(ctx context.Context, token string, req Request) ([]byte, error)
	Close() error
}

// Authorizer hands out bearer tokens and can be told a token was rejected.
type Authorizer interface {
	BearerToken(ctx context.Context) (string, error)
	Invalidate()
}
