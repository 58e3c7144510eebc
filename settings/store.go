// Package settings persists the user's voice and audio preferences between
// sessions as a small JSON file.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/d1nch8g/cablevoice/logging"
	"github.com/d1nch8g/cablevoice/tts"
)

const fileName = "settings.json"

// UserSettings is what the user changed last and expects back on restart.
type UserSettings struct {
	LanguageCode string  `json:"languageCode"`
	VoiceName    string  `json:"voiceName"`
	Pitch        float64 `json:"pitch"`
	Speed        float64 `json:"speed"`
	Volume       float64 `json:"volume"`
}

// Validate reports every field that is out of range.
func (s UserSettings) Validate() error {
	var errs []error
	if s.LanguageCode == "" {
		errs = append(errs, errors.New("language code is empty"))
	}
	if s.VoiceName == "" {
		errs = append(errs, errors.New("voice name is empty"))
	}
	if err := tts.ValidatePitch(s.Pitch); err != nil {
		errs = append(errs, err)
	}
	if err := tts.ValidateSpeakingRate(s.Speed); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateVolume(s.Volume); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateVolume accepts any finite non-negative gain.
func ValidateVolume(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("volume must be a finite value >= 0, got %v", v)
	}
	return nil
}

// fileSettings distinguishes absent fields from zero values.
type fileSettings struct {
	LanguageCode *string  `json:"languageCode"`
	VoiceName    *string  `json:"voiceName"`
	Pitch        *float64 `json:"pitch"`
	Speed        *float64 `json:"speed"`
	Volume       *float64 `json:"volume"`
}

// DefaultPath returns the per-user settings file location for appName.
func DefaultPath(appName string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user config directory: %w", err)
	}
	return filepath.Join(dir, appName, fileName), nil
}

// Store reads and atomically rewrites one settings file.
type Store struct {
	path     string
	defaults UserSettings
	log      *zap.Logger

	mu sync.Mutex
}

// NewStore returns a store for path. defaults fill in missing or invalid fields.
func NewStore(path string, defaults UserSettings, log *zap.Logger) *Store {
	return &Store{
		path:     path,
		defaults: defaults,
		log:      logging.Component(log, "settings"),
	}
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return s.path
}

// Defaults returns the fallback settings.
func (s *Store) Defaults() UserSettings {
	return s.defaults
}

// Load never fails: a missing or unreadable file yields the defaults, and
// each absent or out-of-range field falls back to its default.
func (s *Store) Load() UserSettings {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Debug("No settings file, using defaults", zap.String("path", s.path))
		} else {
			s.log.Warn("Failed to read settings, using defaults", zap.String("path", s.path), zap.Error(err))
		}
		return s.defaults
	}

	var stored fileSettings
	if err := json.Unmarshal(data, &stored); err != nil {
		s.log.Warn("Corrupt settings file, using defaults", zap.String("path", s.path), zap.Error(err))
		return s.defaults
	}

	return s.merge(stored)
}

func (s *Store) merge(stored fileSettings) UserSettings {
	out := s.defaults

	if stored.LanguageCode != nil && *stored.LanguageCode != "" {
		out.LanguageCode = *stored.LanguageCode
	}
	if stored.VoiceName != nil && *stored.VoiceName != "" {
		out.VoiceName = *stored.VoiceName
	}
	if stored.Pitch != nil {
		if err := tts.ValidatePitch(*stored.Pitch); err != nil {
			s.log.Warn("Ignoring stored pitch", zap.Error(err))
		} else {
			out.Pitch = *stored.Pitch
		}
	}
	if stored.Speed != nil {
		if err := tts.ValidateSpeakingRate(*stored.Speed); err != nil {
			s.log.Warn("Ignoring stored speed", zap.Error(err))
		} else {
			out.Speed = *stored.Speed
		}
	}
	if stored.Volume != nil {
		if err := ValidateVolume(*stored.Volume); err != nil {
			s.log.Warn("Ignoring stored volume", zap.Error(err))
		} else {
			out.Volume = *stored.Volume
		}
	}
	return out
}

// Save replaces the settings file. Readers see either the old or the new
// file, never a partial write.
func (s *Store) Save(settings UserSettings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid settings: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.path, data); err != nil {
		return err
	}
	s.log.Debug("Settings saved", zap.String("path", s.path))
	return nil
}

func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary settings file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("failed to set settings file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close settings file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}
