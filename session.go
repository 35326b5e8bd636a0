package authsite

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"
)

const DefaultIdleTimeout = 900 * time.Second

// Session keys
const (
	sessionUserID   = "_auth_user_id"
	sessionAuthHash = "_auth_user_hash"
	sessionLastSeen = "_last_seen"
)

// SessionConfig is fixed at startup
type SessionConfig struct {
	// IdleTimeout is measured from the last authenticated request.
	// Defaults to DefaultIdleTimeout.
	IdleTimeout time.Duration

	// MaxLifetime caps a session regardless of activity. Defaults to 12h.
	MaxLifetime time.Duration

	CookieName     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite http.SameSite

	// Secret keys the per-session password fingerprint
	Secret []byte

	// Now defaults to time.Now
	Now func() time.Time

	Logger *slog.Logger
}

// AccountLookup loads an account for a session's user id
type AccountLookup func(ctx context.Context, userID string) (*Account, error)

// SessionPolicy binds an authenticated account to a scs session and applies
// sliding idle expiry on every request.
type SessionPolicy struct {
	Manager *scs.SessionManager

	idle   time.Duration
	secret []byte
	now    func() time.Time
	logger *slog.Logger
}

// NewSessionPolicy builds the policy and its session manager. A nil store
// keeps sessions in memory.
func NewSessionPolicy(cfg SessionConfig, store scs.Store) (*SessionPolicy, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("session policy: secret is required")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = 12 * time.Hour
	}
	if cfg.MaxLifetime < cfg.IdleTimeout {
		cfg.MaxLifetime = cfg.IdleTimeout
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "sessionid"
	}
	if cfg.CookieSameSite == 0 {
		cfg.CookieSameSite = http.SameSiteLaxMode
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if store == nil {
		store = memstore.New()
	}

	sm := scs.New()
	sm.Store = store
	sm.IdleTimeout = cfg.IdleTimeout
	sm.Lifetime = cfg.MaxLifetime
	sm.Cookie.Name = cfg.CookieName
	sm.Cookie.Path = "/"
	sm.Cookie.HttpOnly = cfg.CookieHTTPOnly
	sm.Cookie.Secure = cfg.CookieSecure
	sm.Cookie.SameSite = cfg.CookieSameSite
	sm.Cookie.Persist = true
	sm.ErrorFunc = func(w http.ResponseWriter, r *http.Request, err error) {
		cfg.Logger.Error("session error", "error", err, "path", r.URL.Path)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}

	return &SessionPolicy{
		Manager: sm,
		idle:    cfg.IdleTimeout,
		secret:  append([]byte(nil), cfg.Secret...),
		now:     cfg.Now,
		logger:  cfg.Logger,
	}, nil
}

// IdleTimeout returns the configured idle window
func (p *SessionPolicy) IdleTimeout() time.Duration { return p.idle }

// Expired reports whether a session last seen at lastSeen is dead at now.
// A gap equal to the timeout is still alive.
func (p *SessionPolicy) Expired(lastSeen, now time.Time) bool {
	return now.Sub(lastSeen) > p.idle
}

func (p *SessionPolicy) authHash(user *User) string {
	h := hmac.New(sha256.New, p.secret)
	h.Write([]byte("authsite.session\x00"))
	h.Write([]byte(user.PasswordHash))
	return hex.EncodeToString(h.Sum(nil))
}

// Login binds user to the current session under a fresh session token
func (p *SessionPolicy) Login(ctx context.Context, user *User) error {
	if err := p.Manager.RenewToken(ctx); err != nil {
		return fmt.Errorf("renewing session token: %w", err)
	}
	p.Manager.Put(ctx, sessionUserID, user.ID)
	p.Manager.Put(ctx, sessionAuthHash, p.authHash(user))
	p.Manager.Put(ctx, sessionLastSeen, p.now().UnixNano())
	return nil
}

// Logout destroys the session and its token
func (p *SessionPolicy) Logout(ctx context.Context) error {
	return p.Manager.Destroy(ctx)
}

// Resume returns the account bound to the current session, or nil when the
// session is anonymous, idle past the timeout, or no longer matches the
// current password. Dead sessions are destroyed. A live session has its idle
// clock reset.
func (p *SessionPolicy) Resume(ctx context.Context, lookup AccountLookup) (*Account, error) {
	userID := p.Manager.GetString(ctx, sessionUserID)
	if userID == "" {
		return nil, nil
	}
	now := p.now()
	lastSeen := p.Manager.GetInt64(ctx, sessionLastSeen)
	if lastSeen == 0 || p.Expired(time.Unix(0, lastSeen), now) {
		p.logger.Info("session expired", "user_id", userID)
		return nil, p.Manager.Destroy(ctx)
	}

	account, err := lookup(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if account == nil || account.User == nil || !account.User.IsActive ||
		!hmac.Equal([]byte(p.Manager.GetString(ctx, sessionAuthHash)), []byte(p.authHash(account.User))) {
		p.logger.Info("session invalidated", "user_id", userID)
		return nil, p.Manager.Destroy(ctx)
	}

	p.Manager.Put(ctx, sessionLastSeen, now.UnixNano())
	return account, nil
}

// Authenticate resolves the session's account on every request and attaches
// it to the request context. It must run inside Manager.LoadAndSave.
func (p *SessionPolicy) Authenticate(lookup AccountLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, err := p.Resume(r.Context(), lookup)
			if err != nil {
				p.logger.Error("resuming session", "error", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if account != nil {
				r = r.WithContext(WithAccount(r.Context(), account))
			}
			next.ServeHTTP(w, r)
		})
	}
}
