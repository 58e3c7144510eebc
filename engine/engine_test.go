package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"

	"github.com/d1nch8g/cablevoice/audio"
	"github.com/d1nch8g/cablevoice/tts"
)

const cable = "CABLE Input (VB-Audio Virtual Cable)"

func newTestEngine(t *testing.T, sink *fakeSink, channels int) (*Engine, *fixture) {
	t.Helper()
	f := newFixture(t)
	return NewEngine(f.synth, sink, PlaybackConfig{DeviceName: cable, Channels: channels}, zaptest.NewLogger(t)), f
}

func waitJob(t *testing.T, job *PlaybackJob) error {
	t.Helper()
	select {
	case <-job.Done():
		return job.Err()
	case <-time.After(5 * time.Second):
		t.Fatal("playback job did not finish")
		return nil
	}
}

func TestSpeakPlaysExactBytes(t *testing.T) {
	sink := &fakeSink{}
	e, f := newTestEngine(t, sink, 1)
	pcm := []byte{0x01, 0x02, 0x03, 0x04, 0xff, 0x7f, 0x00, 0x80}
	f.provider.results = []providerResult{{audio: pcm}}

	require.NoError(t, e.SetPitch(3.5))
	require.NoError(t, e.SetSpeed(1.2))

	job, err := e.Speak(context.Background(), "Hello world")
	require.NoError(t, err)
	require.NoError(t, waitJob(t, job))

	assert.Equal(t, JobFinished, job.State())
	assert.False(t, e.IsPlaying())
	assert.Nil(t, e.Job())

	calls := sink.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, pcm, calls[0].pcm)
	assert.Equal(t, audio.Format{SampleRateHz: testSampleRate, Channels: 1}, calls[0].format)
	assert.Equal(t, cable, calls[0].device)
	assert.Equal(t, 1.0, calls[0].gain)
}

func TestSpeakAppliesVolumeAndChannels(t *testing.T) {
	sink := &fakeSink{}
	e, f := newTestEngine(t, sink, 2)
	f.provider.results = []providerResult{{audio: []byte{0x10, 0x00}}}
	require.NoError(t, e.SetVolume(0.5))

	job, err := e.Speak(context.Background(), "hi")
	require.NoError(t, err)
	require.NoError(t, job.Wait())

	calls := sink.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, []byte{0x10, 0x00, 0x10, 0x00}, calls[0].pcm)
	assert.Equal(t, 2, calls[0].format.Channels)
	assert.Equal(t, 0.5, calls[0].gain)
}

func TestSpeakRejectsWhilePlaying(t *testing.T) {
	sink := &fakeSink{block: true, started: make(chan struct{})}
	e, _ := newTestEngine(t, sink, 1)

	job, err := e.Speak(context.Background(), "first")
	require.NoError(t, err)
	<-sink.started

	assert.True(t, e.IsPlaying())
	assert.Equal(t, JobPlaying, job.State())
	assert.Same(t, job, e.Job())

	_, err = e.Speak(context.Background(), "second")
	require.ErrorIs(t, err, ErrPlaybackActive)

	assert.True(t, e.Stop())
	require.ErrorIs(t, job.Err(), context.Canceled)
	assert.Len(t, sink.recorded(), 1)
}

func TestStopCancelsPlayback(t *testing.T) {
	sink := &fakeSink{block: true, started: make(chan struct{})}
	e, _ := newTestEngine(t, sink, 1)

	job, err := e.Speak(context.Background(), "long text")
	require.NoError(t, err)
	<-sink.started

	assert.True(t, e.Stop())

	assert.Equal(t, JobCancelled, job.State())
	assert.False(t, e.IsPlaying())
	assert.False(t, e.Stop(), "nothing left to stop")

	sink.mu.Lock()
	sink.block = false
	sink.started = nil
	sink.mu.Unlock()

	next, err := e.Speak(context.Background(), "replacement")
	require.NoError(t, err)
	require.NoError(t, waitJob(t, next))
}

func TestSpeakFailureClearsPlaying(t *testing.T) {
	sink := &fakeSink{}
	e, f := newTestEngine(t, sink, 1)
	f.provider.results = []providerResult{{err: &tts.SynthesisError{Code: codes.Internal, Message: "boom"}}}

	job, err := e.Speak(context.Background(), "hi")
	require.NoError(t, err)

	err = waitJob(t, job)
	require.ErrorIs(t, err, tts.ErrSynthesis)
	assert.Equal(t, JobFailed, job.State())
	assert.False(t, e.IsPlaying())
	assert.Empty(t, sink.recorded())
}

func TestSpeakSinkFailure(t *testing.T) {
	sinkErr := errors.New("device not found")
	sink := &fakeSink{err: sinkErr}
	e, _ := newTestEngine(t, sink, 1)

	job, err := e.Speak(context.Background(), "hi")
	require.NoError(t, err)

	require.ErrorIs(t, waitJob(t, job), sinkErr)
	assert.Equal(t, JobFailed, job.State())
	assert.False(t, e.IsPlaying())
}

func TestSpeakEmptyText(t *testing.T) {
	e, _ := newTestEngine(t, &fakeSink{}, 1)

	_, err := e.Speak(context.Background(), "  ")
	require.ErrorIs(t, err, ErrEmptyText)
	assert.False(t, e.IsPlaying())
}

func TestSpeakParentCancelled(t *testing.T) {
	sink := &fakeSink{}
	e, _ := newTestEngine(t, sink, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, err := e.Speak(ctx, "hi")
	require.NoError(t, err)
	require.ErrorIs(t, waitJob(t, job), context.Canceled)
	assert.Equal(t, JobCancelled, job.State())
	assert.Empty(t, sink.recorded())
}

func TestJobIDsAreUnique(t *testing.T) {
	e, _ := newTestEngine(t, &fakeSink{}, 1)

	first, err := e.Speak(context.Background(), "one")
	require.NoError(t, err)
	require.NoError(t, first.Wait())

	second, err := e.Speak(context.Background(), "two")
	require.NoError(t, err)
	require.NoError(t, second.Wait())

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "two", second.Text)
}
