package tts

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/d1nch8g/cablevoice/logging"
)

const voicesKey = "voices"

// Catalog caches the provider's voice list for the life of the process.
// It is filled on first use and only replaced by Refresh.
type Catalog struct {
	provider Provider
	auth     Authorizer
	log      *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	voices   []Voice
	loaded   bool
	loadedAt time.Time

	group singleflight.Group
}

// NewCatalog returns an empty catalog backed by provider.
func NewCatalog(provider Provider, auth Authorizer, log *zap.Logger) *Catalog {
	return &Catalog{
		provider: provider,
		auth:     auth,
		log:      logging.Component(log, "catalog"),
		now:      time.Now,
	}
}

func (c *Catalog) cached() ([]Voice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voices, c.loaded
}

// Voices returns every voice the provider offers, in provider order.
func (c *Catalog) Voices(ctx context.Context) ([]Voice, error) {
	if voices, ok := c.cached(); ok {
		return slices.Clone(voices), nil
	}

	voices, err := c.load(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}
	return slices.Clone(voices), nil
}

// Languages returns the distinct language codes across all voices, sorted.
func (c *Catalog) Languages(ctx context.Context) ([]string, error) {
	voices, err := c.Voices(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var langs []string
	for _, v := range voices {
		for _, code := range v.LanguageCodes {
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			langs = append(langs, code)
		}
	}
	slices.Sort(langs)
	return langs, nil
}

// VoicesFor returns the voices that speak languageCode, in provider order.
func (c *Catalog) VoicesFor(ctx context.Context, languageCode string) ([]Voice, error) {
	voices, err := c.Voices(ctx)
	if err != nil {
		return nil, err
	}

	var matched []Voice
	for _, v := range voices {
		if v.SupportsLanguage(languageCode) {
			matched = append(matched, v)
		}
	}
	return matched, nil
}

// Refresh refetches the voice list. On failure the previous list stays in use.
// A Refresh that races a pending fetch shares its result.
func (c *Catalog) Refresh(ctx context.Context) error {
	if _, err := c.load(ctx, true); err != nil {
		if _, ok := c.cached(); !ok {
			return fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
		}
		c.log.Warn("Voice catalog refresh failed, keeping cached voices", zap.Error(err))
		return fmt.Errorf("failed to refresh voice catalog: %w", err)
	}
	return nil
}

// LoadedAt reports when the current voice list was fetched, or the zero time.
func (c *Catalog) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

// load fetches the voice list. First loads and refreshes share one flight, so
// a Refresh that starts while any fetch is pending joins it.
func (c *Catalog) load(ctx context.Context, force bool) ([]Voice, error) {
	// The fetch outlives any single caller so that one cancelled waiter does
	// not fail the others; the provider request timeout bounds it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(voicesKey, func() (any, error) {
		if !force {
			if voices, ok := c.cached(); ok {
				return voices, nil
			}
		}

		token, err := c.auth.BearerToken(fetchCtx)
		if err != nil {
			return nil, err
		}

		voices, err := c.provider.ListVoices(fetchCtx, token)
		if err != nil {
			if IsUnauthenticated(err) {
				c.auth.Invalidate()
			}
			return nil, err
		}

		c.mu.Lock()
		c.voices = voices
		c.loaded = true
		c.loadedAt = c.now()
		c.mu.Unlock()

		c.log.Info("Voice catalog loaded", zap.Int("voices", len(voices)))
		return voices, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Voice), nil
	}
}
