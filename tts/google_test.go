package tts

import (
	"context"
	"net"
	"sync"
	"testing"

	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeTTSServer struct {
	texttospeechpb.UnimplementedTextToSpeechServer

	mu         sync.Mutex
	authHeader []string
	requests   []*texttospeechpb.SynthesizeSpeechRequest
	synthErr   error
}

func (s *fakeTTSServer) recordAuth(ctx context.Context) error {
	md, _ := metadata.FromIncomingContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authHeader = md.Get("authorization")
	if len(s.authHeader) == 0 || s.authHeader[0] != "Bearer good-token" {
		return status.Error(codes.Unauthenticated, "invalid bearer token")
	}
	return nil
}

func (s *fakeTTSServer) ListVoices(ctx context.Context, _ *texttospeechpb.ListVoicesRequest) (*texttospeechpb.ListVoicesResponse, error) {
	if err := s.recordAuth(ctx); err != nil {
		return nil, err
	}
	return &texttospeechpb.ListVoicesResponse{
		Voices: []*texttospeechpb.Voice{
			{Name: "en-US-Standard-A", LanguageCodes: []string{"en-US"}},
			{Name: "en-US-Journey-F", LanguageCodes: []string{"en-US"}},
		},
	}, nil
}

func (s *fakeTTSServer) SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
	if err := s.recordAuth(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	synthErr := s.synthErr
	s.mu.Unlock()

	if synthErr != nil {
		return nil, synthErr
	}
	return &texttospeechpb.SynthesizeSpeechResponse{AudioContent: []byte{1, 0, 2, 0, 3, 0}}, nil
}

func newBufconnProvider(t *testing.T, srv *fakeTTSServer) *GoogleProvider {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	texttospeechpb.RegisterTextToSpeechServer(server, srv)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	provider, err := NewGoogleProviderWithConn(context.Background(), conn, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })
	return provider
}

func TestGoogleListVoices(t *testing.T) {
	srv := &fakeTTSServer{}
	p := newBufconnProvider(t, srv)

	voices, err := p.ListVoices(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, []Voice{
		{Name: "en-US-Standard-A", LanguageCodes: []string{"en-US"}},
		{Name: "en-US-Journey-F", LanguageCodes: []string{"en-US"}},
	}, voices)
	assert.Equal(t, []string{"Bearer good-token"}, srv.authHeader)
}

func TestGoogleSynthesizeBuildsRequest(t *testing.T) {
	srv := &fakeTTSServer{}
	p := newBufconnProvider(t, srv)

	cfg, err := NewAudioConfig(3.5, 1.2, 24000)
	require.NoError(t, err)

	audio, err := p.Synthesize(context.Background(), "good-token", Request{
		Text:   "Hello world",
		Voice:  VoiceSelection{LanguageCode: "en-US", VoiceName: "en-US-Standard-A"},
		Config: cfg,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 2, 0, 3, 0}, audio)

	require.Len(t, srv.requests, 1)
	req := srv.requests[0]
	assert.Equal(t, "Hello world", req.GetInput().GetText())
	assert.Equal(t, "en-US", req.GetVoice().GetLanguageCode())
	assert.Equal(t, "en-US-Standard-A", req.GetVoice().GetName())
	assert.Equal(t, texttospeechpb.AudioEncoding_LINEAR16, req.GetAudioConfig().GetAudioEncoding())
	assert.InDelta(t, 3.5, req.GetAudioConfig().GetPitch(), 1e-9)
	assert.InDelta(t, 1.2, req.GetAudioConfig().GetSpeakingRate(), 1e-9)
	assert.Equal(t, int32(24000), req.GetAudioConfig().GetSampleRateHertz())
}

func TestGoogleSynthesizePitchUnsupported(t *testing.T) {
	srv := &fakeTTSServer{
		synthErr: status.Error(codes.InvalidArgument, "Voice en-US-Journey-F does not support pitch parameters."),
	}
	p := newBufconnProvider(t, srv)

	cfg, err := NewAudioConfig(2, 1, 24000)
	require.NoError(t, err)

	_, err = p.Synthesize(context.Background(), "good-token", Request{
		Text:   "hi",
		Voice:  VoiceSelection{LanguageCode: "en-US", VoiceName: "en-US-Journey-F"},
		Config: cfg,
	})
	require.ErrorIs(t, err, ErrSynthesis)
	assert.True(t, IsPitchUnsupported(err))

	var se *SynthesisError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, codes.InvalidArgument, se.Code)
}

func TestGoogleRejectsBadToken(t *testing.T) {
	p := newBufconnProvider(t, &fakeTTSServer{})

	_, err := p.ListVoices(context.Background(), "stale-token")
	require.Error(t, err)
	assert.True(t, IsUnauthenticated(err))

	_, err = p.Synthesize(context.Background(), "stale-token", Request{Text: "hi"})
	require.ErrorIs(t, err, ErrSynthesis)
	assert.True(t, IsUnauthenticated(err))
}
