package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
)

var riffMagic = []byte("RIFF")

// DecodeLinear16 unwraps a provider LINEAR16 payload. Payloads carrying a RIFF
// header are decoded with their own rate and channel count; raw PCM is
// returned as-is with a zero Format so the caller can apply its configured one.
func DecodeLinear16(data []byte) (Clip, error) {
	if !bytes.HasPrefix(data, riffMagic) {
		return Clip{PCM: data}, nil
	}

	d := wav.NewDecoder(bytes.NewReader(data))
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return Clip{}, fmt.Errorf("failed to read wav header: %w", err)
	}
	if d.BitDepth != 16 {
		return Clip{}, fmt.Errorf("unsupported wav bit depth %d", d.BitDepth)
	}
	if d.WavAudioFormat != 1 {
		return Clip{}, fmt.Errorf("unsupported wav audio format %d", d.WavAudioFormat)
	}

	if err := d.FwdToPCM(); err != nil {
		return Clip{}, fmt.Errorf("failed to locate wav data chunk: %w", err)
	}

	// Streamed WAVs may carry a placeholder size; never trust it beyond the payload.
	size := d.PCMSize
	if size < 0 || size > len(data) {
		size = len(data)
	}
	pcm := make([]byte, size)
	n, err := io.ReadFull(d.PCMChunk, pcm)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Clip{}, fmt.Errorf("failed to read wav data chunk: %w", err)
	}

	return Clip{
		PCM: pcm[:n],
		Format: Format{
			SampleRateHz: int(d.SampleRate),
			Channels:     int(d.NumChans),
		},
	}, nil
}
