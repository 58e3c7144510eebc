// Package sound delivers PCM audio to a named output device.
package sound

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/d1nch8g/cablevoice/audio"
	"github.com/d1nch8g/cablevoice/logging"
)

// DefaultChunkSize is the number of bytes written to a line per iteration.
const DefaultChunkSize = 4096

var (
	ErrDeviceNotFound = errors.New("output device not found")
	ErrStreamBusy     = errors.New("another stream is already playing")
	ErrInvalidFormat  = errors.New("invalid stream format")
)

// Streamer writes PCM buffers to a device line chunk by chunk, applying gain
// and honouring cancellation between chunks.
type Streamer struct {
	mixer     Mixer
	chunkSize int
	log       *zap.Logger

	active sync.Mutex
}

// NewStreamer returns a streamer over mixer. A non-positive chunkSize means
// DefaultChunkSize.
func NewStreamer(mixer Mixer, chunkSize int, log *zap.Logger) *Streamer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Streamer{
		mixer:     mixer,
		chunkSize: chunkSize,
		log:       logging.Component(log, "sound"),
	}
}

// Devices lists output device names in mixer order.
func (s *Streamer) Devices() ([]string, error) {
	return s.mixer.Devices()
}

// ResolveDevice returns the first device whose name contains name.
func (s *Streamer) ResolveDevice(name string) (string, error) {
	devices, err := s.mixer.Devices()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate output devices: %w", err)
	}
	for _, device := range devices {
		if strings.Contains(device, name) {
			return device, nil
		}
	}
	return "", fmt.Errorf("%w: no device matching %q", ErrDeviceNotFound, name)
}

// Stream plays pcm on the device matching deviceName. It returns ctx.Err()
// when cancelled; the line is drained, stopped and closed on every path once
// it has been opened. The caller's buffer is never modified.
func (s *Streamer) Stream(ctx context.Context, pcm []byte, format audio.Format, deviceName string, gain float64) (err error) {
	if err := format.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if s.chunkSize%format.FrameSize() != 0 {
		return fmt.Errorf("%w: chunk size %d does not hold whole %d-channel frames",
			ErrInvalidFormat, s.chunkSize, format.Channels)
	}
	if math.IsNaN(gain) || math.IsInf(gain, 0) || gain < 0 {
		return fmt.Errorf("%w: gain must be a finite value >= 0, got %v", ErrInvalidFormat, gain)
	}

	if !s.active.TryLock() {
		return ErrStreamBusy
	}
	defer s.active.Unlock()

	device, err := s.ResolveDevice(deviceName)
	if err != nil {
		return err
	}

	line, err := s.mixer.OpenLine(device, format, s.chunkSize/format.FrameSize())
	if err != nil {
		return fmt.Errorf("failed to open line on %q: %w", device, err)
	}
	defer func() {
		if releaseErr := s.release(line); releaseErr != nil {
			err = errors.Join(err, releaseErr)
		}
	}()

	if err := line.Start(); err != nil {
		return fmt.Errorf("failed to start line on %q: %w", device, err)
	}

	s.log.Debug("Streaming audio",
		zap.String("device", device),
		zap.Int("bytes", len(pcm)),
		zap.Int("sample_rate_hz", format.SampleRateHz),
		zap.Int("channels", format.Channels),
		zap.Float64("gain", gain),
	)

	scratch := make([]byte, s.chunkSize)
	for offset := 0; offset < len(pcm); {
		n := copy(scratch, pcm[offset:])
		chunk := scratch[:n]
		audio.ApplyGain(chunk, gain)

		if err := line.Write(chunk); err != nil {
			return fmt.Errorf("failed to write to line at offset %d: %w", offset, err)
		}
		offset += n

		if ctxErr := ctx.Err(); ctxErr != nil {
			s.log.Info("Stream cancelled",
				zap.String("device", device),
				zap.Int("written", offset),
				zap.Int("remaining", len(pcm)-offset),
			)
			return ctxErr
		}
	}

	return nil
}

// release drains, stops and closes line. Close runs even if the earlier steps fail.
func (s *Streamer) release(line Line) error {
	var errs []error
	if err := line.Drain(); err != nil {
		errs = append(errs, fmt.Errorf("failed to drain line: %w", err))
	}
	if err := line.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop line: %w", err))
	}
	if err := line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close line: %w", err))
	}
	if len(errs) > 0 {
		s.log.Warn("Line release reported errors", zap.Error(errors.Join(errs...)))
	}
	return errors.Join(errs...)
}
