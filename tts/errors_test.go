package tts

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsPitchUnsupported(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("does not support pitch"), false},
		{
			"raw status",
			status.Error(codes.InvalidArgument, "Voice 'en-US-Journey-F' does not support pitch parameters."),
			true,
		},
		{
			"mapped",
			newSynthesisError(status.Error(codes.InvalidArgument, "This voice does not support pitch.")),
			true,
		},
		{
			"wrapped",
			fmt.Errorf("speak: %w", newSynthesisError(status.Error(codes.InvalidArgument, "Does Not Support Pitch"))),
			true,
		},
		{"other invalid argument", status.Error(codes.InvalidArgument, "text too long"), false},
		{"wrong code", status.Error(codes.FailedPrecondition, "does not support pitch"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPitchUnsupported(tt.err))
		})
	}
}

func TestIsUnauthenticated(t *testing.T) {
	assert.True(t, IsUnauthenticated(status.Error(codes.Unauthenticated, "bad token")))
	assert.True(t, IsUnauthenticated(newSynthesisError(status.Error(codes.Unauthenticated, "bad token"))))
	assert.False(t, IsUnauthenticated(status.Error(codes.PermissionDenied, "nope")))
	assert.False(t, IsUnauthenticated(nil))
}

func TestSynthesisError(t *testing.T) {
	cause := status.Error(codes.Unavailable, "backend down")
	err := newSynthesisError(cause)

	assert.Equal(t, codes.Unavailable, err.Code)
	assert.Equal(t, "backend down", err.Message)
	assert.True(t, err.Retryable())
	require.ErrorIs(t, err, ErrSynthesis)
	require.ErrorIs(t, err, cause)

	var se *SynthesisError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &se)
	assert.Contains(t, se.Error(), "Unavailable")

	plain := newSynthesisError(errors.New("socket closed"))
	assert.Equal(t, codes.Unknown, plain.Code)
	assert.False(t, plain.Retryable())
}

func TestNewAudioConfig(t *testing.T) {
	cfg, err := NewAudioConfig(3.5, 1.2, 24000)
	require.NoError(t, err)
	assert.Equal(t, AudioConfig{
		Encoding:       EncodingLinear16,
		PitchSemitones: 3.5,
		SpeakingRate:   1.2,
		SampleRateHz:   24000,
	}, cfg)

	flat := cfg.WithPitch(0)
	assert.Zero(t, flat.PitchSemitones)
	assert.Equal(t, 3.5, cfg.PitchSemitones)

	_, err = NewAudioConfig(MinPitch, MinSpeakingRate, 24000)
	require.NoError(t, err)
	_, err = NewAudioConfig(MaxPitch, MaxSpeakingRate, 24000)
	require.NoError(t, err)

	_, err = NewAudioConfig(20.01, 1, 24000)
	require.Error(t, err)
	_, err = NewAudioConfig(0, 0.2, 24000)
	require.Error(t, err)
	_, err = NewAudioConfig(0, 4.5, 24000)
	require.Error(t, err)
	_, err = NewAudioConfig(0, 1, 0)
	require.Error(t, err)
}

func TestVoiceSupportsLanguage(t *testing.T) {
	v := Voice{Name: "cmn-CN-Standard-A", LanguageCodes: []string{"cmn-CN", "zh-CN"}}
	assert.True(t, v.SupportsLanguage("zh-CN"))
	assert.False(t, v.SupportsLanguage("zh-TW"))
}
