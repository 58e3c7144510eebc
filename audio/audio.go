// Package audio holds the 16-bit little-endian PCM primitives shared by the
// synthesis and playback sides.
package audio

import (
	"encoding/binary"
	"fmt"
)

// BytesPerSample is fixed: every line and every provider payload is 16-bit PCM.
const BytesPerSample = 2

// Format describes a signed 16-bit little-endian PCM stream.
type Format struct {
	SampleRateHz int
	Channels     int
}

// FrameSize is the byte length of one sample across all channels.
func (f Format) FrameSize() int {
	return BytesPerSample * f.Channels
}

// Validate rejects non-positive rates and channel counts.
func (f Format) Validate() error {
	if f.SampleRateHz <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRateHz)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", f.Channels)
	}
	return nil
}

// Clip is synthesized audio ready for a line.
type Clip struct {
	PCM    []byte
	Format Format
}

// BytesToSamples converts little-endian bytes to samples. A trailing odd byte is ignored.
func BytesToSamples(data []byte, samples []int16) int {
	n := min(len(data)/BytesPerSample, len(samples))
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
	}
	return n
}
