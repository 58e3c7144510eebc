package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/d1nch8g/cablevoice/audio"
	"github.com/d1nch8g/cablevoice/settings"
	"github.com/d1nch8g/cablevoice/tts"
)

const testSampleRate = 24000

type fakeProvider struct {
	mu       sync.Mutex
	requests []tts.Request
	tokens   []string
	// results are consumed in order; the last one repeats.
	results []providerResult
}

type providerResult struct {
	audio []byte
	err   error
}

func (p *fakeProvider) ListVoices(context.Context, string) ([]tts.Voice, error) {
	return nil, errors.New("not used")
}

func (p *fakeProvider) Synthesize(_ context.Context, token string, req tts.Request) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	p.tokens = append(p.tokens, token)

	if len(p.results) == 0 {
		return []byte{0, 0}, nil
	}
	res := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return res.audio, res.err
}

func (p *fakeProvider) Close() error { return nil }

func (p *fakeProvider) calls() []tts.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tts.Request(nil), p.requests...)
}

type fakeAuth struct {
	mu          sync.Mutex
	token       string
	err         error
	invalidated int
}

func (a *fakeAuth) BearerToken(context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token, a.err
}

func (a *fakeAuth) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.invalidated++
}

type fakeCatalog struct {
	mu     sync.Mutex
	voices []tts.Voice
	err    error
}

func (c *fakeCatalog) Languages(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	var langs []string
	for _, v := range c.voices {
		langs = append(langs, v.LanguageCodes...)
	}
	return langs, nil
}

func (c *fakeCatalog) VoicesFor(_ context.Context, languageCode string) ([]tts.Voice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	var out []tts.Voice
	for _, v := range c.voices {
		if v.SupportsLanguage(languageCode) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (c *fakeCatalog) setVoices(voices []tts.Voice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voices = voices
}

type fakeStore struct {
	mu      sync.Mutex
	current settings.UserSettings
	saves   int
	failErr error
}

func (s *fakeStore) Load() settings.UserSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *fakeStore) Save(us settings.UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.current = us
	s.saves++
	return nil
}

func (s *fakeStore) saved() (settings.UserSettings, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.saves
}

type sinkCall struct {
	pcm    []byte
	format audio.Format
	device string
	gain   float64
}

type fakeSink struct {
	mu      sync.Mutex
	calls   []sinkCall
	err     error
	block   bool
	started chan struct{}
}

func (s *fakeSink) Stream(ctx context.Context, pcm []byte, format audio.Format, deviceName string, gain float64) error {
	s.mu.Lock()
	s.calls = append(s.calls, sinkCall{
		pcm:    append([]byte(nil), pcm...),
		format: format,
		device: deviceName,
		gain:   gain,
	})
	block, err, started := s.block, s.err, s.started
	s.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (s *fakeSink) recorded() []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkCall(nil), s.calls...)
}

func testVoices() []tts.Voice {
	return []tts.Voice{
		{Name: "en-US-Standard-A", LanguageCodes: []string{"en-US"}},
		{Name: "en-US-Journey-F", LanguageCodes: []string{"en-US"}},
		{Name: "de-DE-Standard-B", LanguageCodes: []string{"de-DE"}},
	}
}

func testSettings() settings.UserSettings {
	return settings.UserSettings{
		LanguageCode: "en-US",
		VoiceName:    "en-US-Standard-A",
		Pitch:        0,
		Speed:        1,
		Volume:       1,
	}
}

type fixture struct {
	provider *fakeProvider
	auth     *fakeAuth
	catalog  *fakeCatalog
	store    *fakeStore
	synth    *SynthesisEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		provider: &fakeProvider{},
		auth:     &fakeAuth{token: "tok"},
		catalog:  &fakeCatalog{voices: testVoices()},
		store:    &fakeStore{current: testSettings()},
	}
	synth, err := NewSynthesisEngine(f.provider, f.auth, f.catalog, f.store, testSampleRate, zaptest.NewLogger(t))
	require.NoError(t, err)
	f.synth = synth
	return f
}
