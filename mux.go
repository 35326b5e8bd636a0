package authsite

import (
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/csrf"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/hkdf"
)

// CSRFOptions configures the CSRF middleware
type CSRFOptions struct {
	// Disabled turns CSRF checks off. Only tests should do this.
	Disabled bool

	// Secure marks the CSRF cookie HTTPS-only. Without it requests are
	// treated as plaintext HTTP.
	Secure bool
}

// Options is the immutable site configuration built once at startup
type Options struct {
	SecretKey    string
	Debug        bool
	AllowedHosts []string
	BaseURL      string

	TokenValidity time.Duration
	Session       SessionConfig
	CSRF          CSRFOptions

	// Templates overrides the embedded templates
	Templates fs.FS

	// BcryptCost defaults to bcrypt.DefaultCost
	BcryptCost int

	// Now is the clock shared by the token and session policies
	Now func() time.Time

	Logger *slog.Logger
}

// Site is the authentication web application
type Site struct {
	Accounts *Accounts
	Sessions *SessionPolicy
	Logger   *slog.Logger

	opts    Options
	router  *mux.Router
	views   *Views
	handler http.Handler
}

// NewSite wires the policies, the account service and the routes. A nil
// sessionStore keeps sessions in memory.
func NewSite(opts Options, store AccountStore, sessionStore scs.Store, email SendEmail) (*Site, error) {
	if opts.SecretKey == "" {
		return nil, fmt.Errorf("site: secret key is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.AllowedHosts) == 0 && opts.Debug {
		opts.AllowedHosts = []string{"localhost", "127.0.0.1", "[::1]"}
	}

	tokens, err := NewTokenPolicy(TokenConfig{
		Secret:   DeriveKey(opts.SecretKey, "tokens"),
		Validity: opts.TokenValidity,
		Now:      opts.Now,
	})
	if err != nil {
		return nil, err
	}

	sessCfg := opts.Session
	sessCfg.Secret = DeriveKey(opts.SecretKey, "sessions")
	sessCfg.Now = opts.Now
	sessCfg.Logger = opts.Logger
	sessions, err := NewSessionPolicy(sessCfg, sessionStore)
	if err != nil {
		return nil, err
	}

	views, err := NewViews(opts.Templates, opts.Debug)
	if err != nil {
		return nil, err
	}

	s := &Site{
		Accounts: &Accounts{
			Store:      store,
			Tokens:     tokens,
			Email:      email,
			BaseURL:    opts.BaseURL,
			Logger:     opts.Logger,
			BcryptCost: opts.BcryptCost,
			Now:        opts.Now,
		},
		Sessions: sessions,
		Logger:   opts.Logger,
		opts:     opts,
		router:   mux.NewRouter(),
		views:    views,
	}
	s.setupRoutes()

	var h http.Handler = s.router
	h = s.Sessions.Authenticate(s.Accounts.Get)(h)
	if !opts.CSRF.Disabled {
		h = s.csrfProtect(h)
	}
	h = s.Sessions.Manager.LoadAndSave(h)
	h = s.checkHost(h)
	s.handler = h
	return s, nil
}

// DeriveKey gives every component its own key from the one secret
func DeriveKey(secret, purpose string) []byte {
	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("authsite."+purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		panic(fmt.Sprintf("deriving %s key: %v", purpose, err))
	}
	return key
}

func (s *Site) Handler() http.Handler {
	return s.handler
}

// AddAuth mounts a social login handler under prefix. The handler sees
// paths with the prefix stripped.
func (s *Site) AddAuth(prefix string, handler http.Handler) *Site {
	prefix = strings.TrimSuffix(prefix, "/")
	s.Logger.Info("adding auth provider", "prefix", prefix)
	s.router.PathPrefix(prefix + "/").Handler(http.StripPrefix(prefix, handler))
	return s
}

func (s *Site) setupRoutes() {
	r := s.router
	get := []string{http.MethodGet, http.MethodHead}
	getPost := []string{http.MethodGet, http.MethodHead, http.MethodPost}

	r.HandleFunc("/", s.handleIndex).Methods(get...)
	r.HandleFunc("/signup/", s.handleSignup).Methods(getPost...)
	r.HandleFunc("/verify-email-pending/{uid}/", s.handleVerifyPending).Methods(get...)
	r.HandleFunc("/verify-email-pending/{uid}/resend/", s.handleResendVerification).Methods(http.MethodPost)
	r.HandleFunc("/verify-email/{uid}/{token}/", s.handleVerifyEmail).Methods(get...)
	r.HandleFunc("/login/", s.handleLogin).Methods(getPost...)
	r.HandleFunc("/logout/", s.handleLogout).Methods(get...)
	r.HandleFunc("/password-reset/", s.handlePasswordResetRequest).Methods(getPost...)
	r.HandleFunc("/password-reset/{uid}/{token}/", s.handlePasswordResetConfirm).Methods(getPost...)

	r.Handle("/dashboard/", s.Guard(RequireVerified, http.HandlerFunc(s.handleDashboard))).Methods(get...)
	r.Handle("/admin-dashboard/", s.Guard(RequireAdmin, http.HandlerFunc(s.handleAdminDashboard))).Methods(get...)
	r.Handle("/admin-dashboard/users/{uid}/role/", s.Guard(RequireAdmin, http.HandlerFunc(s.handleSetRole))).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.render(w, r, http.StatusNotFound, "error.html", map[string]any{
			"title":   "Page not found",
			"message": "The page you requested does not exist.",
		})
	})
}

func (s *Site) csrfProtect(next http.Handler) http.Handler {
	protect := csrf.Protect(DeriveKey(s.opts.SecretKey, "csrf"),
		csrf.Secure(s.opts.CSRF.Secure),
		csrf.HttpOnly(true),
		csrf.Path("/"),
		csrf.CookieName("csrftoken"),
		csrf.FieldName("csrf_token"),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.ErrorHandler(http.HandlerFunc(s.csrfFailure)),
	)
	inner := protect(next)
	if s.opts.CSRF.Secure {
		return inner
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
	})
}

func (s *Site) csrfFailure(w http.ResponseWriter, r *http.Request) {
	s.Logger.Warn("csrf check failed", "path", r.URL.Path, "reason", csrf.FailureReason(r))
	s.render(w, r, http.StatusForbidden, "error.html", map[string]any{
		"title":   "Forbidden",
		"message": "CSRF verification failed. Request aborted.",
	})
}

// checkHost rejects requests whose Host header is not an allowed host.
// "*" allows any host and a leading dot matches the domain and its subdomains.
func (s *Site) checkHost(next http.Handler) http.Handler {
	allowed := make([]string, 0, len(s.opts.AllowedHosts))
	for _, h := range s.opts.AllowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "*" {
			return next
		}
		if h != "" {
			allowed = append(allowed, h)
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := strings.ToLower(r.Host)
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if !hostAllowed(host, allowed) {
			s.Logger.Warn("invalid host header", "host", r.Host)
			http.Error(w, "Bad Request (400)", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func hostAllowed(host string, allowed []string) bool {
	bare := strings.Trim(host, "[]")
	for _, a := range allowed {
		a = strings.Trim(a, "[]")
		if strings.HasPrefix(a, ".") {
			if bare == a[1:] || strings.HasSuffix(bare, a) {
				return true
			}
		} else if bare == a {
			return true
		}
	}
	return false
}
