package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/d1nch8g/cablevoice/config"
	"github.com/d1nch8g/cablevoice/credentials"
	"github.com/d1nch8g/cablevoice/engine"
	"github.com/d1nch8g/cablevoice/logging"
	"github.com/d1nch8g/cablevoice/settings"
	"github.com/d1nch8g/cablevoice/sound"
	"github.com/d1nch8g/cablevoice/tts"
)

const appName = "cablevoice"

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		if errors.Is(err, config.ErrInvalidConfig) {
			fmt.Fprintln(os.Stderr, "Set CABLEVOICE_TOKEN_ISSUER_URL in the environment or a .env file, or pass -config.")
		}
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logging.Sync(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settingsPath := cfg.Settings.Path
	if settingsPath == "" {
		if settingsPath, err = settings.DefaultPath(appName); err != nil {
			return err
		}
	}
	store := settings.NewStore(settingsPath, settings.UserSettings{
		LanguageCode: cfg.Defaults.LanguageCode,
		VoiceName:    cfg.Defaults.VoiceName,
		Pitch:        cfg.Defaults.Pitch,
		Speed:        cfg.Defaults.Speed,
		Volume:       cfg.Defaults.Volume,
	}, log)

	authority := credentials.NewAuthority(cfg.TokenIssuerURL, &http.Client{Timeout: cfg.TTS.RequestTimeout}, log)

	provider, err := tts.NewGoogleProvider(ctx, cfg.TTS.Endpoint, log, tts.WithRequestTimeout(cfg.TTS.RequestTimeout))
	if err != nil {
		return err
	}
	defer func() {
		if err := provider.Close(); err != nil {
			log.Warn("Failed to close TTS client", zap.Error(err))
		}
	}()

	catalog := tts.NewCatalog(provider, authority, log)

	synth, err := engine.NewSynthesisEngine(provider, authority, catalog, store, cfg.TTS.SampleRateHz, log)
	if err != nil {
		return err
	}

	mixer := sound.NewPortaudioMixer()
	if err := mixer.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer func() {
		if err := mixer.Terminate(); err != nil {
			log.Warn("Failed to terminate PortAudio", zap.Error(err))
		}
	}()

	streamer := sound.NewStreamer(mixer, cfg.Audio.ChunkSize, log)
	if _, err := streamer.ResolveDevice(cfg.Audio.DeviceName); err != nil {
		log.Warn("Output device not available yet", zap.String("device", cfg.Audio.DeviceName), zap.Error(err))
	}

	eng := engine.NewEngine(synth, streamer, engine.PlaybackConfig{
		DeviceName: cfg.Audio.DeviceName,
		Channels:   cfg.Audio.Channels,
	}, log)

	log.Info("cablevoice ready",
		zap.String("settings", store.Path()),
		zap.String("device", cfg.Audio.DeviceName),
		zap.String("voice", synth.Selection().VoiceName),
	)

	console := NewConsole(eng, streamer, cfg.Audio.DeviceName, os.Stdout, logging.Component(log, "console"))
	return console.Run(ctx, os.Stdin)
}
