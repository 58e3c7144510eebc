package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when the merged configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultDeviceName identifies the VB-Audio virtual cable input on Windows.
const DefaultDeviceName = "CABLE Input (VB-Audio Virtual Cable)"

// TTSConfig configures the speech provider connection.
type TTSConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	SampleRateHz   int           `yaml:"sample_rate_hz"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// AudioConfig selects the output device and stream layout.
type AudioConfig struct {
	DeviceName string `yaml:"device_name"`
	Channels   int    `yaml:"channels"`
	ChunkSize  int    `yaml:"chunk_size"`
}

// DefaultsConfig seeds the user settings file on first run.
type DefaultsConfig struct {
	LanguageCode string  `yaml:"language_code"`
	VoiceName    string  `yaml:"voice_name"`
	Pitch        float64 `yaml:"pitch"`
	Speed        float64 `yaml:"speed"`
	Volume       float64 `yaml:"volume"`
}

// SettingsConfig locates the user settings file.
type SettingsConfig struct {
	// Path overrides the per-user settings location when set.
	Path string `yaml:"path"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json", "console"
}

// Config is the full application configuration.
type Config struct {
	TokenIssuerURL string         `yaml:"token_issuer_url"`
	TTS            TTSConfig      `yaml:"tts"`
	Audio          AudioConfig    `yaml:"audio"`
	Defaults       DefaultsConfig `yaml:"defaults"`
	Settings       SettingsConfig `yaml:"settings"`
	Log            LogConfig      `yaml:"log"`
}

// Default returns the configuration used before any file or environment
// overrides.
func Default() Config {
	return Config{
		TTS: TTSConfig{
			Endpoint:       "texttospeech.googleapis.com:443",
			SampleRateHz:   24000,
			RequestTimeout: 30 * time.Second,
		},
		Audio: AudioConfig{
			DeviceName: DefaultDeviceName,
			Channels:   1,
			ChunkSize:  4096,
		},
		Defaults: DefaultsConfig{
			LanguageCode: "en-US",
			VoiceName:    "en-US-Standard-A",
			Pitch:        0,
			Speed:        1.0,
			Volume:       1.0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load merges .env, the optional YAML file at path and CABLEVOICE_* environment
// variables on top of Default, then validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.TokenIssuerURL, "CABLEVOICE_TOKEN_ISSUER_URL")
	overrideString(&cfg.TTS.Endpoint, "CABLEVOICE_TTS_ENDPOINT")
	overrideInt(&cfg.TTS.SampleRateHz, "CABLEVOICE_TTS_SAMPLE_RATE_HZ")
	overrideDuration(&cfg.TTS.RequestTimeout, "CABLEVOICE_TTS_REQUEST_TIMEOUT")
	overrideString(&cfg.Audio.DeviceName, "CABLEVOICE_AUDIO_DEVICE_NAME")
	overrideInt(&cfg.Audio.Channels, "CABLEVOICE_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.ChunkSize, "CABLEVOICE_AUDIO_CHUNK_SIZE")
	overrideString(&cfg.Defaults.LanguageCode, "CABLEVOICE_DEFAULT_LANGUAGE_CODE")
	overrideString(&cfg.Defaults.VoiceName, "CABLEVOICE_DEFAULT_VOICE_NAME")
	overrideFloat(&cfg.Defaults.Pitch, "CABLEVOICE_DEFAULT_PITCH")
	overrideFloat(&cfg.Defaults.Speed, "CABLEVOICE_DEFAULT_SPEED")
	overrideFloat(&cfg.Defaults.Volume, "CABLEVOICE_DEFAULT_VOLUME")
	overrideString(&cfg.Settings.Path, "CABLEVOICE_SETTINGS_PATH")
	overrideString(&cfg.Log.Level, "LOG_LEVEL")
	overrideString(&cfg.Log.Format, "LOG_FORMAT")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			*target = parsed
		}
	}
}

func overrideDuration(target *time.Duration, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

// Validate reports the first problem found, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	if strings.TrimSpace(c.TokenIssuerURL) == "" {
		return fmt.Errorf("%w: token_issuer_url must not be empty", ErrInvalidConfig)
	}
	if c.TTS.Endpoint == "" {
		return fmt.Errorf("%w: tts.endpoint must not be empty", ErrInvalidConfig)
	}
	if c.TTS.SampleRateHz <= 0 {
		return fmt.Errorf("%w: tts.sample_rate_hz must be positive", ErrInvalidConfig)
	}
	if c.TTS.RequestTimeout <= 0 {
		return fmt.Errorf("%w: tts.request_timeout must be positive", ErrInvalidConfig)
	}
	if c.Audio.DeviceName == "" {
		return fmt.Errorf("%w: audio.device_name must not be empty", ErrInvalidConfig)
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		return fmt.Errorf("%w: audio.channels must be 1 or 2", ErrInvalidConfig)
	}
	frame := 2 * c.Audio.Channels
	if c.Audio.ChunkSize < frame || c.Audio.ChunkSize%frame != 0 {
		return fmt.Errorf("%w: audio.chunk_size must be a positive multiple of %d", ErrInvalidConfig, frame)
	}
	if c.Defaults.LanguageCode == "" || c.Defaults.VoiceName == "" {
		return fmt.Errorf("%w: defaults.language_code and defaults.voice_name must be set", ErrInvalidConfig)
	}
	// Same bounds as the provider audio config.
	if !inRange(c.Defaults.Pitch, -20, 20) {
		return fmt.Errorf("%w: defaults.pitch must be within [-20, 20]", ErrInvalidConfig)
	}
	if !inRange(c.Defaults.Speed, 0.25, 4.0) {
		return fmt.Errorf("%w: defaults.speed must be within [0.25, 4.0]", ErrInvalidConfig)
	}
	if math.IsNaN(c.Defaults.Volume) || math.IsInf(c.Defaults.Volume, 0) || c.Defaults.Volume < 0 {
		return fmt.Errorf("%w: defaults.volume must be >= 0", ErrInvalidConfig)
	}
	return nil
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}
