// Package engine turns typed text into audio on the selected output device.
// SynthesisEngine owns the voice and audio parameters; Engine runs one
// playback job at a time on top of it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/d1nch8g/cablevoice/audio"
	"github.com/d1nch8g/cablevoice/logging"
	"github.com/d1nch8g/cablevoice/settings"
	"github.com/d1nch8g/cablevoice/tts"
)

var (
	ErrVoiceNotFound    = errors.New("voice not found")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrEmptyText        = errors.New("text is empty")
	ErrPersist          = errors.New("failed to persist settings")
	ErrPlaybackActive   = errors.New("playback already in progress")
)

// VoiceLister is the read side of the voice catalog.
type VoiceLister interface {
	Languages(ctx context.Context) ([]string, error)
	VoicesFor(ctx context.Context, languageCode string) ([]tts.Voice, error)
}

// SettingsStore persists the user settings.
type SettingsStore interface {
	Load() settings.UserSettings
	Save(settings.UserSettings) error
}

// SynthesisEngine holds the current voice selection and audio parameters.
// Every change is validated and persisted before it becomes visible.
type SynthesisEngine struct {
	provider     tts.Provider
	auth         tts.Authorizer
	catalog      VoiceLister
	store        SettingsStore
	sampleRateHz int
	log          *zap.Logger

	mu        sync.Mutex
	settings  settings.UserSettings
	selection tts.VoiceSelection
	config    tts.AudioConfig
}

// NewSynthesisEngine restores the last saved settings from store and returns
// an engine ready to synthesize.
func NewSynthesisEngine(
	provider tts.Provider,
	auth tts.Authorizer,
	catalog VoiceLister,
	store SettingsStore,
	sampleRateHz int,
	log *zap.Logger,
) (*SynthesisEngine, error) {
	stored := store.Load()

	config, err := tts.NewAudioConfig(stored.Pitch, stored.Speed, sampleRateHz)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}
	if err := settings.ValidateVolume(stored.Volume); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}

	return &SynthesisEngine{
		provider:     provider,
		auth:         auth,
		catalog:      catalog,
		store:        store,
		sampleRateHz: sampleRateHz,
		log:          logging.Component(log, "synthesis"),
		settings:     stored,
		selection: tts.VoiceSelection{
			LanguageCode: stored.LanguageCode,
			VoiceName:    stored.VoiceName,
		},
		config: config,
	}, nil
}

// SelectVoice switches to voiceName if the catalog offers it for languageCode.
// On any failure the previous voice stays selected.
func (e *SynthesisEngine) SelectVoice(ctx context.Context, languageCode, voiceName string) error {
	if err := e.checkVoice(ctx, languageCode, voiceName); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.settings
	next.LanguageCode = languageCode
	next.VoiceName = voiceName
	if err := e.persistLocked(next); err != nil {
		return err
	}

	previous := e.selection
	e.selection = tts.VoiceSelection{LanguageCode: languageCode, VoiceName: voiceName}
	e.log.Info("Voice selected",
		zap.String("language", languageCode),
		zap.String("voice", voiceName),
		zap.String("previous_voice", previous.VoiceName),
	)
	return nil
}

// SetPitch validates and persists a new pitch in semitones.
func (e *SynthesisEngine) SetPitch(v float64) error {
	if err := tts.ValidatePitch(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	config, err := tts.NewAudioConfig(v, e.config.SpeakingRate, e.sampleRateHz)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}
	next := e.settings
	next.Pitch = v
	if err := e.persistLocked(next); err != nil {
		return err
	}

	e.config = config
	e.log.Info("Pitch changed", zap.Float64("pitch", v))
	return nil
}

// SetSpeed validates and persists a new speaking rate.
func (e *SynthesisEngine) SetSpeed(v float64) error {
	if err := tts.ValidateSpeakingRate(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	config, err := tts.NewAudioConfig(e.config.PitchSemitones, v, e.sampleRateHz)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}
	next := e.settings
	next.Speed = v
	if err := e.persistLocked(next); err != nil {
		return err
	}

	e.config = config
	e.log.Info("Speed changed", zap.Float64("speed", v))
	return nil
}

// SetVolume changes the playback gain. It is not sent to the provider.
func (e *SynthesisEngine) SetVolume(v float64) error {
	if err := settings.ValidateVolume(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.settings
	next.Volume = v
	if err := e.persistLocked(next); err != nil {
		return err
	}

	e.log.Info("Volume changed", zap.Float64("volume", v))
	return nil
}

// persistLocked saves next and makes it current. e.mu must be held.
func (e *SynthesisEngine) persistLocked(next settings.UserSettings) error {
	if err := e.store.Save(next); err != nil {
		e.log.Error("Failed to persist settings", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	e.settings = next
	return nil
}

// Synthesize renders text with the current voice and parameters. A voice that
// rejects pitch is retried once at pitch 0.
func (e *SynthesisEngine) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	if strings.TrimSpace(text) == "" {
		return audio.Clip{}, ErrEmptyText
	}

	e.mu.Lock()
	selection, config := e.selection, e.config
	e.mu.Unlock()

	if err := e.checkVoice(ctx, selection.LanguageCode, selection.VoiceName); err != nil {
		return audio.Clip{}, err
	}

	token, err := e.auth.BearerToken(ctx)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("failed to obtain credential: %w", err)
	}

	req := tts.Request{Text: text, Voice: selection, Config: config}
	data, err := e.provider.Synthesize(ctx, token, req)
	if err != nil && config.PitchSemitones != 0 && tts.IsPitchUnsupported(err) {
		e.log.Warn("Voice does not support pitch, retrying without it",
			zap.String("voice", selection.VoiceName),
			zap.Float64("pitch", config.PitchSemitones),
		)
		req.Config = config.WithPitch(0)
		data, err = e.provider.Synthesize(ctx, token, req)
	}
	if err != nil {
		if tts.IsUnauthenticated(err) {
			e.auth.Invalidate()
		}
		return audio.Clip{}, fmt.Errorf("failed to synthesize speech: %w", err)
	}

	clip, err := audio.DecodeLinear16(data)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("failed to decode synthesized audio: %w", err)
	}
	if clip.Format.SampleRateHz == 0 {
		clip.Format = audio.Format{SampleRateHz: config.SampleRateHz, Channels: 1}
	}

	e.log.Debug("Speech synthesized",
		zap.Int("bytes", len(clip.PCM)),
		zap.Int("sample_rate_hz", clip.Format.SampleRateHz),
	)
	return clip, nil
}

func (e *SynthesisEngine) checkVoice(ctx context.Context, languageCode, voiceName string) error {
	voices, err := e.catalog.VoicesFor(ctx, languageCode)
	if err != nil {
		return err
	}
	found := slices.ContainsFunc(voices, func(v tts.Voice) bool {
		return v.Name == voiceName
	})
	if !found {
		return fmt.Errorf("%w: %q is not offered for %q", ErrVoiceNotFound, voiceName, languageCode)
	}
	return nil
}

// Selection returns the current voice.
func (e *SynthesisEngine) Selection() tts.VoiceSelection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selection
}

// AudioConfig returns the current synthesis parameters.
func (e *SynthesisEngine) AudioConfig() tts.AudioConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

// Settings returns the last persisted settings.
func (e *SynthesisEngine) Settings() settings.UserSettings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Volume returns the playback gain.
func (e *SynthesisEngine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings.Volume
}

// Languages lists the language codes the catalog offers.
func (e *SynthesisEngine) Languages(ctx context.Context) ([]string, error) {
	return e.catalog.Languages(ctx)
}

// Voices lists the voices for languageCode.
func (e *SynthesisEngine) Voices(ctx context.Context, languageCode string) ([]tts.Voice, error) {
	return e.catalog.VoicesFor(ctx, languageCode)
}
