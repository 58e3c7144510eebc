package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/d1nch8g/cablevoice/engine"
	"github.com/d1nch8g/cablevoice/tts"
)

// Controller is what the console drives. *engine.Engine implements it.
type Controller interface {
	Speak(ctx context.Context, text string) (*engine.PlaybackJob, error)
	Stop() bool
	IsPlaying() bool
	Job() *engine.PlaybackJob

	SelectVoice(ctx context.Context, languageCode, voiceName string) error
	SetPitch(v float64) error
	SetSpeed(v float64) error
	SetVolume(v float64) error

	Selection() tts.VoiceSelection
	AudioConfig() tts.AudioConfig
	Volume() float64
	Languages(ctx context.Context) ([]string, error)
	Voices(ctx context.Context, languageCode string) ([]tts.Voice, error)
}

// DeviceLister lists output device names.
type DeviceLister interface {
	Devices() ([]string, error)
}

const helpText = `Commands:
  speak <text>            synthesize and play text (alias: synth)
  stop                    stop the current playback
  retry                   speak the last text that failed again
  pitch <semitones>       set pitch, -20 to 20
  speed <rate>            set speaking rate, 0.25 to 4
  volume <gain>           set playback volume, 0 or more (1 is unchanged)
  voice <language> <name> select a voice, e.g. voice en-US en-US-Standard-A
  languages               list available language codes
  voices <language>       list voices for a language
  devices                 list audio output devices
  status                  show current voice and parameters
  help                    show this help
  quit                    exit`

// Console is a line-oriented front end for the engine.
type Console struct {
	ctrl    Controller
	devices DeviceLister
	device  string
	log     *zap.Logger

	outMu sync.Mutex
	out   io.Writer

	failMu     sync.Mutex
	lastFailed string

	watchers sync.WaitGroup
}

// NewConsole returns a console writing to out. deviceName marks the active
// device in listings.
func NewConsole(ctrl Controller, devices DeviceLister, deviceName string, out io.Writer, log *zap.Logger) *Console {
	if log == nil {
		log = zap.NewNop()
	}
	return &Console{
		ctrl:    ctrl,
		devices: devices,
		device:  deviceName,
		out:     out,
		log:     log,
	}
}

// Run reads commands from in until quit, EOF or ctx is done. Any playback
// still running is stopped before it returns.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	defer func() {
		c.ctrl.Stop()
		c.watchers.Wait()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	c.printf("Type 'help' for commands.\n")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if quit := c.Execute(ctx, line); quit {
				return nil
			}
		}
	}
}

// Execute runs a single command line and reports whether the console should exit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "speak", "synth":
		c.speak(ctx, rest)
	case "stop":
		if c.ctrl.Stop() {
			c.printf("Stopped.\n")
		} else {
			c.printf("Nothing is playing.\n")
		}
	case "retry":
		c.retry(ctx)
	case "pitch":
		c.setNumber("pitch", rest, c.ctrl.SetPitch)
	case "speed":
		c.setNumber("speed", rest, c.ctrl.SetSpeed)
	case "volume":
		c.setNumber("volume", rest, c.ctrl.SetVolume)
	case "voice":
		c.selectVoice(ctx, rest)
	case "languages":
		c.listLanguages(ctx)
	case "voices":
		c.listVoices(ctx, rest)
	case "devices":
		c.listDevices()
	case "status":
		c.status()
	case "help":
		c.printf("%s\n", helpText)
	case "quit", "exit":
		return true
	default:
		c.printf("Unknown command %q. Type 'help' for commands.\n", cmd)
	}
	return false
}

func (c *Console) speak(ctx context.Context, text string) {
	if text == "" {
		c.printf("Usage: speak <text>\n")
		return
	}

	job, err := c.ctrl.Speak(ctx, text)
	if err != nil {
		if errors.Is(err, engine.ErrPlaybackActive) {
			c.printf("Already speaking. Use 'stop' first.\n")
		} else {
			c.printf("Error: %v\n", err)
		}
		c.rememberFailure(text)
		return
	}

	c.printf("Speaking (job %s).\n", shortID(job))
	c.watchers.Add(1)
	go func() {
		defer c.watchers.Done()
		err := job.Wait()
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		c.rememberFailure(job.Text)
		c.printf("Playback failed: %v\nType 'retry' to try again.\n", err)
	}()
}

func (c *Console) retry(ctx context.Context) {
	c.failMu.Lock()
	text := c.lastFailed
	c.lastFailed = ""
	c.failMu.Unlock()

	if text == "" {
		c.printf("Nothing to retry.\n")
		return
	}
	c.speak(ctx, text)
}

func (c *Console) rememberFailure(text string) {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	c.lastFailed = text
}

func (c *Console) setNumber(name, arg string, set func(float64) error) {
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		c.printf("Usage: %s <number>\n", name)
		return
	}
	if err := set(v); err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	c.printf("%s set to %g.\n", capitalize(name), v)
}

func (c *Console) selectVoice(ctx context.Context, arg string) {
	fields := strings.Fields(arg)
	if len(fields) != 2 {
		c.printf("Usage: voice <language> <name>\n")
		return
	}
	if err := c.ctrl.SelectVoice(ctx, fields[0], fields[1]); err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	c.printf("Voice set to %s (%s).\n", fields[1], fields[0])
}

func (c *Console) listLanguages(ctx context.Context) {
	langs, err := c.ctrl.Languages(ctx)
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	c.printf("%s\n", strings.Join(langs, " "))
}

func (c *Console) listVoices(ctx context.Context, lang string) {
	if lang == "" {
		lang = c.ctrl.Selection().LanguageCode
	}
	voices, err := c.ctrl.Voices(ctx, lang)
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	if len(voices) == 0 {
		c.printf("No voices for %s.\n", lang)
		return
	}
	for _, v := range voices {
		c.printf("  %s\n", v.Name)
	}
}

func (c *Console) listDevices() {
	names, err := c.devices.Devices()
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	for _, name := range names {
		marker := " "
		if strings.Contains(name, c.device) {
			marker = "*"
		}
		c.printf("%s %s\n", marker, name)
	}
}

func (c *Console) status() {
	sel := c.ctrl.Selection()
	cfg := c.ctrl.AudioConfig()
	state := "idle"
	if job := c.ctrl.Job(); job != nil {
		state = job.State().String()
	}

	c.printf("Voice:   %s (%s)\n", sel.VoiceName, sel.LanguageCode)
	c.printf("Pitch:   %g\n", cfg.PitchSemitones)
	c.printf("Speed:   %g\n", cfg.SpeakingRate)
	c.printf("Volume:  %g\n", c.ctrl.Volume())
	c.printf("Device:  %s\n", c.device)
	c.printf("Player:  %s\n", state)
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if _, err := fmt.Fprintf(c.out, format, args...); err != nil {
		c.log.Debug("Console write failed", zap.Error(err))
	}
}

func shortID(job *engine.PlaybackJob) string {
	id := job.ID.String()
	return id[:8]
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
