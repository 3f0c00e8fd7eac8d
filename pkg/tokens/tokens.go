// Package tokens issues and resolves WOPI access tokens: opaque bearer
// credentials scoped to one (user, file) pair with a fixed lifetime.
package tokens

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
)

// DefaultTTL is the lifetime of a freshly issued token.
const DefaultTTL = 2 * time.Hour

// ErrNotFound is returned by a Store when a token does not exist.
var ErrNotFound = errors.New("access token not found")

// Token is an issued access token.
type Token struct {
	Value     string
	Username  string
	FileID    string
	Editor    string
	ExpiresAt time.Time
}

// ExpiresAtMillis returns the expiry as Unix epoch milliseconds, the form the
// editor expects in access_token_ttl.
func (t Token) ExpiresAtMillis() int64 {
	return t.ExpiresAt.UnixMilli()
}

// ValidAt reports whether the token has not expired at now. ExpiresAt is an
// exclusive upper bound.
func (t Token) ValidAt(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}

// Store persists tokens.
type Store interface {
	Put(ctx context.Context, t Token) error
	Get(ctx context.Context, value string) (Token, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Manager issues and resolves tokens on top of a Store.
type Manager struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger hclog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger hclog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager returns a Manager backed by store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("tokens")
	return m
}

// TTL returns the lifetime of newly issued tokens.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue mints a token for user on fileID that expires after the TTL.
func (m *Manager) Issue(ctx context.Context, user, fileID, editor string) (Token, error) {
	return m.mint(ctx, user, fileID, editor, m.now().Add(m.ttl))
}

// ReissueCarryingExpiry mints a token for user on newFileID that expires
// exactly when oldValue does. A file created through "save as" must not get
// a longer session than the one it came from.
func (m *Manager) ReissueCarryingExpiry(ctx context.Context, user, newFileID, oldValue string) (Token, error) {
	old, err := m.store.Get(ctx, oldValue)
	if err != nil {
		return Token{}, fmt.Errorf("error looking up original token: %w", err)
	}
	return m.mint(ctx, user, newFileID, old.Editor, old.ExpiresAt)
}

// Resolve returns the username a token was issued to, if the token exists,
// has not expired and was issued for fileID.
func (m *Manager) Resolve(ctx context.Context, value, fileID string) (string, bool) {
	if value == "" {
		m.logger.Warn("empty access token", "file_id", fileID)
		return "", false
	}

	t, err := m.store.Get(ctx, value)
	if err != nil {
		m.logger.Warn("access token lookup failed", "file_id", fileID, "error", err)
		return "", false
	}
	if !t.ValidAt(m.now()) {
		m.logger.Warn("access token expired",
			"file_id", fileID,
			"user", t.Username,
			"expired_at", t.ExpiresAt,
		)
		return "", false
	}
	if t.FileID != fileID {
		m.logger.Warn("access token used for another file",
			"file_id", fileID,
			"token_file_id", t.FileID,
			"user", t.Username,
		)
		return "", false
	}
	return t.Username, true
}

// Lookup returns the stored token without validating it.
func (m *Manager) Lookup(ctx context.Context, value string) (Token, error) {
	return m.store.Get(ctx, value)
}

// Sweep deletes expired tokens.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	return m.store.DeleteExpired(ctx, m.now())
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := m.Sweep(ctx)
			if err != nil {
				m.logger.Error("error sweeping expired access tokens", "error", err)
				continue
			}
			if n > 0 {
				m.logger.Debug("swept expired access tokens", "count", n)
			}
		}
	}
}

func (m *Manager) mint(ctx context.Context, user, fileID, editor string, expiresAt time.Time) (Token, error) {
	value, err := generateValue()
	if err != nil {
		return Token{}, err
	}
	t := Token{
		Value:     value,
		Username:  user,
		FileID:    fileID,
		Editor:    editor,
		ExpiresAt: expiresAt,
	}
	if err := m.store.Put(ctx, t); err != nil {
		return Token{}, fmt.Errorf("error storing access token: %w", err)
	}
	return t, nil
}

// generateValue returns 32 random bytes, base64url encoded without padding.
func generateValue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("error generating random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
