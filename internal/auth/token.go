// Package auth manages OAuth tokens shared by concurrent fetch workers.
package auth

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/glider-scraper/glider/internal/config"
	"github.com/glider-scraper/glider/internal/types"
)

// expiryHeadroom is how long before expiry a token is treated as stale.
const expiryHeadroom = 60 * time.Second

// TokenManager caches one token per job and coordinates refresh across
// concurrent callers with double-checked locking: whoever takes the lock
// re-validates before posting, so K concurrent callers coalesce on a single
// token request.
type TokenManager struct {
	cfg    *config.AuthConfig
	mu     sync.Mutex
	token  string
	expiry time.Time
	logger *slog.Logger

	now func() time.Time // test hook
}

// NewTokenManager creates a manager for the job's auth settings. Returns nil
// when the job has no authentication configured.
func NewTokenManager(cfg *config.AuthConfig, logger *slog.Logger) *TokenManager {
	if cfg == nil {
		return nil
	}
	return &TokenManager{
		cfg:    cfg,
		logger: logger.With("component", "auth"),
		now:    time.Now,
	}
}

// EnsureActiveToken returns a token valid for at least the expiry headroom,
// refreshing it if needed. Safe for concurrent use.
func (m *TokenManager) EnsureActiveToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Second check inside the lock: another caller may have refreshed while
	// we waited.
	if m.token != "" && (m.expiry.IsZero() || m.now().Add(expiryHeadroom).Before(m.expiry)) {
		return m.token, nil
	}

	switch m.cfg.Type {
	case "bearer":
		m.token = m.cfg.Token
		m.expiry = time.Time{}
		return m.token, nil
	case "password":
		return m.refreshPassword(ctx)
	default:
		return "", &types.AuthError{TokenURL: m.cfg.TokenURL, Err: types.ErrNoSession}
	}
}

func (m *TokenManager) refreshPassword(ctx context.Context) (string, error) {
	oc := &oauth2.Config{
		ClientID:     m.cfg.ClientID,
		ClientSecret: m.cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: m.cfg.TokenURL},
	}
	if m.cfg.Scope != "" {
		oc.Scopes = strings.Fields(m.cfg.Scope)
	}

	tok, err := oc.PasswordCredentialsToken(ctx, m.cfg.Username, m.cfg.Password)
	if err != nil {
		// Discard the session; the next fetch attempts a fresh token.
		m.token = ""
		m.expiry = time.Time{}
		m.logger.Warn("token refresh failed", "token_url", m.cfg.TokenURL, "error", err)
		return "", &types.AuthError{TokenURL: m.cfg.TokenURL, Err: err}
	}

	m.token = tok.AccessToken
	m.expiry = tok.Expiry
	m.logger.Debug("token refreshed", "expires", m.expiry)
	return m.token, nil
}
