package tts

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	"github.com/d1nch8g/cablevoice/logging"
)

// GoogleTTSEndpoint is the public Text-to-Speech gRPC endpoint.
const GoogleTTSEndpoint = "texttospeech.googleapis.com:443"

// GoogleProvider calls Google Cloud Text-to-Speech over gRPC, authenticating
// each call with a caller-supplied bearer token.
type GoogleProvider struct {
	client  *texttospeech.Client
	log     *zap.Logger
	timeout time.Duration
}

var _ Provider = (*GoogleProvider)(nil)

// GoogleOption configures a GoogleProvider.
type GoogleOption func(*GoogleProvider)

// WithRequestTimeout bounds every provider call. Zero leaves calls unbounded
// apart from the caller's context.
func WithRequestTimeout(d time.Duration) GoogleOption {
	return func(p *GoogleProvider) {
		p.timeout = d
	}
}

// NewGoogleProvider dials endpoint over TLS. An empty endpoint means
// GoogleTTSEndpoint.
func NewGoogleProvider(ctx context.Context, endpoint string, log *zap.Logger, opts ...GoogleOption) (*GoogleProvider, error) {
	if endpoint == "" {
		endpoint = GoogleTTSEndpoint
	}

	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS service: %w", err)
	}

	return NewGoogleProviderWithConn(ctx, conn, log, opts...)
}

// NewGoogleProviderWithConn wraps an existing connection. The provider takes
// ownership of conn and closes it on Close.
func NewGoogleProviderWithConn(ctx context.Context, conn *grpc.ClientConn, log *zap.Logger, opts ...GoogleOption) (*GoogleProvider, error) {
	client, err := texttospeech.NewClient(ctx, option.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create TTS client: %w", err)
	}

	p := &GoogleProvider{
		client: client,
		log:    logging.Component(log, "tts"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// callContext attaches the bearer token and the request timeout.
func (p *GoogleProvider) callContext(ctx context.Context, token string) (context.Context, context.CancelFunc) {
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	if p.timeout > 0 {
		return context.WithTimeout(ctx, p.timeout)
	}
	return context.WithCancel(ctx)
}

// ListVoices returns every voice the service offers.
func (p *GoogleProvider) ListVoices(ctx context.Context, token string) ([]Voice, error) {
	ctx, cancel := p.callContext(ctx, token)
	defer cancel()

	resp, err := p.client.ListVoices(ctx, &texttospeechpb.ListVoicesRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list voices: %w", newSynthesisError(err))
	}

	voices := make([]Voice, 0, len(resp.GetVoices()))
	for _, v := range resp.GetVoices() {
		voices = append(voices, Voice{
			Name:          v.GetName(),
			LanguageCodes: append([]string(nil), v.GetLanguageCodes()...),
		})
	}
	return voices, nil
}

// Synthesize returns LINEAR16 audio for req.
func (p *GoogleProvider) Synthesize(ctx context.Context, token string, req Request) ([]byte, error) {
	p.log.Debug("Synthesizing speech",
		zap.String("voice", req.Voice.VoiceName),
		zap.String("language", req.Voice.LanguageCode),
		zap.Float64("pitch", req.Config.PitchSemitones),
		zap.Float64("speaking_rate", req.Config.SpeakingRate),
		zap.Int("text_len", len(req.Text)),
	)

	ctx, cancel := p.callContext(ctx, token)
	defer cancel()

	resp, err := p.client.SynthesizeSpeech(ctx, buildRequest(req))
	if err != nil {
		return nil, newSynthesisError(err)
	}
	return resp.GetAudioContent(), nil
}

func buildRequest(req Request) *texttospeechpb.SynthesizeSpeechRequest {
	return &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: req.Text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: req.Voice.LanguageCode,
			Name:         req.Voice.VoiceName,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   texttospeechpb.AudioEncoding_LINEAR16,
			Pitch:           req.Config.PitchSemitones,
			SpeakingRate:    req.Config.SpeakingRate,
			SampleRateHertz: int32(req.Config.SampleRateHz),
		},
	}
}

// Close shuts down the client and its connection.
func (p *GoogleProvider) Close() error {
	return p.client.Close()
}
