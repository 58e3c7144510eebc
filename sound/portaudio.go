package sound

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/d1nch8g/cablevoice/audio"
)

// PortaudioMixer exposes PortAudio output devices. Initialize must be called
// before use and Terminate once the process is done with audio.
type PortaudioMixer struct{}

var _ Mixer = (*PortaudioMixer)(nil)

// NewPortaudioMixer returns a mixer over the default PortAudio host.
func NewPortaudioMixer() *PortaudioMixer {
	return &PortaudioMixer{}
}

// Initialize starts PortAudio.
func (m *PortaudioMixer) Initialize() error {
	return portaudio.Initialize()
}

// Terminate releases PortAudio.
func (m *PortaudioMixer) Terminate() error {
	return portaudio.Terminate()
}

// Devices lists the names of devices that accept output.
func (m *PortaudioMixer) Devices() ([]string, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(devices))
	for _, d := range devices {
		if d.MaxOutputChannels > 0 {
			names = append(names, d.Name)
		}
	}
	return names, nil
}

// OpenLine opens a blocking output stream on the device named exactly device.
func (m *PortaudioMixer) OpenLine(device string, format audio.Format, framesPerBuffer int) (Line, error) {
	info, err := outputDevice(device)
	if err != nil {
		return nil, err
	}
	if format.Channels > info.MaxOutputChannels {
		return nil, fmt.Errorf("device %q supports %d output channels, need %d",
			device, info.MaxOutputChannels, format.Channels)
	}

	buffer := make([]int16, framesPerBuffer*format.Channels)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: format.Channels,
			Latency:  info.DefaultHighOutputLatency,
		},
		SampleRate:      float64(format.SampleRateHz),
		FramesPerBuffer: framesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, buffer)
	if err != nil {
		return nil, err
	}
	return &portaudioLine{stream: stream, buffer: buffer}, nil
}

func outputDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name == name && d.MaxOutputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
}

// portaudioLine is a blocking output stream bound to a fixed sample buffer.
type portaudioLine struct {
	stream  *portaudio.Stream
	buffer  []int16
	running bool
}

func (l *portaudioLine) Start() error {
	if err := l.stream.Start(); err != nil {
		return err
	}
	l.running = true
	return nil
}

func (l *portaudioLine) Write(p []byte) error {
	for len(p) > 0 {
		n := audio.BytesToSamples(p, l.buffer)
		if n == 0 {
			// Lone trailing byte, nothing playable left.
			return nil
		}
		// Zero-fill the remainder so a short final chunk ends in silence.
		clear(l.buffer[n:])

		if err := l.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return err
		}
		p = p[n*audio.BytesPerSample:]
	}
	return nil
}

// Drain stops the stream gracefully; PortAudio plays out pending buffers first.
func (l *portaudioLine) Drain() error {
	if !l.running {
		return nil
	}
	l.running = false
	return l.stream.Stop()
}

func (l *portaudioLine) Stop() error {
	if !l.running {
		return nil
	}
	l.running = false
	return l.stream.Abort()
}

func (l *portaudioLine) Close() error {
	return l.stream.Close()
}
