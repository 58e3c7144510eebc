package sound

import "github.com/d1nch8g/cablevoice/audio"

// Line is an opened playback line on one output device.
type Line interface {
	// Start begins playback; writes before Start are not allowed.
	Start() error

	// Write blocks until p has been queued on the device.
	Write(p []byte) error

	// Drain blocks until queued audio has been played.
	Drain() error

	// Stop halts the line, discarding anything still queued.
	Stop() error

	// Close releases the device.
	Close() error
}

// Mixer enumerates output devices and opens lines on them.
type Mixer interface {
	// Devices lists the names of devices able to play audio.
	Devices() ([]string, error)

	// OpenLine opens a 16-bit little-endian line on the named device.
	OpenLine(device string, format audio.Format, framesPerBuffer int) (Line, error)
}
