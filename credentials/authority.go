// Package credentials owns the bearer token used to call the synthesis
// provider. Tokens are fetched from an issuer endpoint on demand and reused
// until they expire.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/d1nch8g/cablevoice/logging"
)

// ErrCredentialFetch wraps every failure to obtain a usable token.
var ErrCredentialFetch = errors.New("credential fetch failed")

const (
	// DefaultMaxBodyBytes caps the issuer response body read by default.
	DefaultMaxBodyBytes = 64 << 10
	defaultHTTPTimeout  = 15 * time.Second
	refreshKey          = "refresh"
)

// State describes the cached credential.
type State int

const (
	StateUnset State = iota
	StateValid
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUnset:
		return "unset"
	case StateValid:
		return "valid"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Credential is a bearer token. A zero ExpiresAt never expires.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// ExpiredAt reports whether the token is no longer usable at now.
func (c Credential) ExpiredAt(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Option configures an Authority.
type Option func(*Authority)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) {
		if now != nil {
			a.now = now
		}
	}
}

// WithMaxBodyBytes caps how much of the issuer response is read.
func WithMaxBodyBytes(n int64) Option {
	return func(a *Authority) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// Authority caches a single credential and refreshes it from the issuer when
// it is unset or expired. Concurrent refreshes collapse into one request.
type Authority struct {
	issuerURL    string
	client       *http.Client
	log          *zap.Logger
	now          func() time.Time
	maxBodyBytes int64

	mu   sync.RWMutex
	cred Credential
	set  bool

	group singleflight.Group
}

// NewAuthority returns an authority that fetches tokens from issuerURL. A nil
// client gets a default timeout.
func NewAuthority(issuerURL string, client *http.Client, log *zap.Logger, opts ...Option) *Authority {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	a := &Authority{
		issuerURL:    issuerURL,
		client:       client,
		log:          logging.Component(log, "credentials"),
		now:          time.Now,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State reports whether a credential is cached and still valid.
func (a *Authority) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stateLocked()
}

// Current returns the cached credential, expired or not.
func (a *Authority) Current() Credential {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cred
}

func (a *Authority) stateLocked() State {
	switch {
	case !a.set:
		return StateUnset
	case a.cred.ExpiredAt(a.now()):
		return StateExpired
	default:
		return StateValid
	}
}

func (a *Authority) cached() (Credential, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.stateLocked() != StateValid {
		return Credential{}, false
	}
	return a.cred, true
}

// EnsureValid returns the cached credential while it is valid and otherwise
// fetches a new one. Failures leave the cache as it was.
func (a *Authority) EnsureValid(ctx context.Context) (Credential, error) {
	if cred, ok := a.cached(); ok {
		return cred, nil
	}

	// The fetch outlives any single caller so that one cancelled waiter does
	// not fail the others; the HTTP client timeout bounds it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := a.group.DoChan(refreshKey, func() (any, error) {
		if cred, ok := a.cached(); ok {
			return cred, nil
		}
		cred, err := a.fetch(fetchCtx)
		if err != nil {
			a.log.Warn("Credential refresh failed", zap.Error(err))
			return Credential{}, err
		}

		a.mu.Lock()
		a.cred = cred
		a.set = true
		a.mu.Unlock()

		a.log.Info("Credential refreshed", zap.Time("expires_at", cred.ExpiresAt))
		return cred, nil
	})

	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	}
}

// BearerToken returns a valid token string for provider calls.
func (a *Authority) BearerToken(ctx context.Context) (string, error) {
	cred, err := a.EnsureValid(ctx)
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}

// Invalidate drops the cached credential so the next call refreshes it.
func (a *Authority) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.set {
		a.log.Info("Credential invalidated")
	}
	a.cred = Credential{}
	a.set = false
}

type tokenResponse struct {
	AccessToken         *string `json:"accessToken"`
	ExpirationTimestamp *int64  `json:"expirationTimestamp"`
}

func (a *Authority) fetch(ctx context.Context) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.issuerURL, nil)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: failed to build request: %w", ErrCredentialFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: failed to reach issuer: %w", ErrCredentialFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, a.maxBodyBytes))
		return Credential{}, fmt.Errorf("%w: issuer returned status %d", ErrCredentialFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBodyBytes+1))
	if err != nil {
		return Credential{}, fmt.Errorf("%w: failed to read issuer response: %w", ErrCredentialFetch, err)
	}
	if int64(len(body)) > a.maxBodyBytes {
		return Credential{}, fmt.Errorf("%w: issuer response exceeds %d bytes", ErrCredentialFetch, a.maxBodyBytes)
	}

	var payload tokenResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Credential{}, fmt.Errorf("%w: malformed issuer response: %w", ErrCredentialFetch, err)
	}
	if payload.AccessToken == nil || *payload.AccessToken == "" {
		return Credential{}, fmt.Errorf("%w: issuer response has no accessToken", ErrCredentialFetch)
	}
	if payload.ExpirationTimestamp == nil {
		return Credential{}, fmt.Errorf("%w: issuer response has no expirationTimestamp", ErrCredentialFetch)
	}

	cred := Credential{
		Token:     *payload.AccessToken,
		ExpiresAt: time.Unix(*payload.ExpirationTimestamp, 0),
	}
	if cred.ExpiredAt(a.now()) {
		return Credential{}, fmt.Errorf("%w: issuer returned a token that expired at %s",
			ErrCredentialFetch, cred.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return cred, nil
}
