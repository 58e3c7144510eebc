package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d1nch8g/cablevoice/audio"
	"github.com/d1nch8g/cablevoice/logging"
)

// JobState is the lifecycle stage of a playback job.
type JobState int

const (
	JobSynthesizing JobState = iota
	JobPlaying
	JobFinished
	JobCancelled
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobSynthesizing:
		return "synthesizing"
	case JobPlaying:
		return "playing"
	case JobFinished:
		return "finished"
	case JobCancelled:
		return "cancelled"
	case JobFailed:
		return "failed"
	default:
		return fmt.Sprintf("JobState(%d)", int(s))
	}
}

// PlaybackJob is one piece of text being synthesized and played.
type PlaybackJob struct {
	ID        uuid.UUID
	Text      string
	StartedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state JobState
	err   error
}

func newPlaybackJob(text string, cancel context.CancelFunc) *PlaybackJob {
	return &PlaybackJob{
		ID:        uuid.New(),
		Text:      text,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     JobSynthesizing,
	}
}

// State returns the current stage of the job.
func (j *PlaybackJob) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err is the terminal error, nil until the job is done and for finished jobs.
func (j *PlaybackJob) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Done is closed once the job reaches a terminal state.
func (j *PlaybackJob) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job ends and returns its terminal error.
func (j *PlaybackJob) Wait() error {
	<-j.done
	return j.Err()
}

func (j *PlaybackJob) setState(s JobState) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = s
}

func (j *PlaybackJob) finish(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.err = err
	switch {
	case err == nil:
		j.state = JobFinished
	case errors.Is(err, context.Canceled):
		j.state = JobCancelled
	default:
		j.state = JobFailed
	}
}

// AudioSink plays PCM on a named device.
type AudioSink interface {
	Stream(ctx context.Context, pcm []byte, format audio.Format, deviceName string, gain float64) error
}

// PlaybackConfig names the output device and its channel count.
type PlaybackConfig struct {
	DeviceName string
	Channels   int
}

// Engine runs at most one playback job: synthesis then streaming, in the
// background. Parameter commands go straight to the embedded SynthesisEngine.
type Engine struct {
	*SynthesisEngine

	sink   AudioSink
	config PlaybackConfig
	log    *zap.Logger

	mu  sync.Mutex
	job *PlaybackJob
}

// NewEngine wraps synth with background playback through sink.
func NewEngine(synth *SynthesisEngine, sink AudioSink, config PlaybackConfig, log *zap.Logger) *Engine {
	return &Engine{
		SynthesisEngine: synth,
		sink:            sink,
		config:          config,
		log:             logging.Component(log, "engine"),
	}
}

// Speak starts a job for text. It fails with ErrPlaybackActive while another
// job runs; call Stop first to replace it.
func (e *Engine) Speak(ctx context.Context, text string) (*PlaybackJob, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	e.mu.Lock()
	if e.job != nil {
		e.mu.Unlock()
		return nil, ErrPlaybackActive
	}
	jobCtx, cancel := context.WithCancel(ctx)
	job := newPlaybackJob(text, cancel)
	e.job = job
	e.mu.Unlock()

	e.log.Info("Playback started", zap.String("job_id", job.ID.String()), zap.Int("text_len", len(text)))

	go e.run(jobCtx, job)
	return job, nil
}

func (e *Engine) run(ctx context.Context, job *PlaybackJob) {
	defer func() {
		job.cancel()

		e.mu.Lock()
		if e.job == job {
			e.job = nil
		}
		e.mu.Unlock()

		close(job.done)
	}()

	err := e.play(ctx, job)
	job.finish(err)

	fields := []zap.Field{
		zap.String("job_id", job.ID.String()),
		zap.Stringer("state", job.State()),
		zap.Duration("elapsed", time.Since(job.StartedAt)),
	}
	if job.State() == JobFailed {
		e.log.Error("Playback failed", append(fields, zap.Error(err))...)
		return
	}
	e.log.Info("Playback ended", fields...)
}

func (e *Engine) play(ctx context.Context, job *PlaybackJob) error {
	clip, err := e.Synthesize(ctx, job.Text)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	clip = audio.Upmix(clip, e.config.Channels)
	job.setState(JobPlaying)

	return e.sink.Stream(ctx, clip.PCM, clip.Format, e.config.DeviceName, e.Volume())
}

// Stop cancels the active job and waits for it to end. It reports whether a
// job was running.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	job := e.job
	e.mu.Unlock()

	if job == nil {
		return false
	}
	job.cancel()
	<-job.done
	return true
}

// IsPlaying reports whether a job is in progress.
func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job != nil
}

// Job returns the active job, or nil.
func (e *Engine) Job() *PlaybackJob {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job
}
