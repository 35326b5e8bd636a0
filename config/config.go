// Package config reads the site configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	au "github.com/panyam/authsite"
)

type Config struct {
	SecretKey    string
	Debug        bool
	AllowedHosts []string
	ListenAddr   string
	BaseURL      string
	DatabaseURL  string

	EmailHost     string
	EmailPort     int
	EmailUseTLS   bool
	EmailUser     string
	EmailPassword string
	FromEmail     string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleCallbackURL  string

	SessionIdleTimeout time.Duration
	SessionMaxLifetime time.Duration
	SessionCookieName  string
	CookieSecure       bool
	CookieHTTPOnly     bool
	CookieSameSite     http.SameSite
	CSRFCookieSecure   bool

	TokenValidity time.Duration
}

// Load reads environment variables, optionally from .env files if present.
// Missing files are ignored and variables already set win over the files.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		_ = godotenv.Load()
	} else {
		for _, f := range files {
			if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("loading %s: %w", f, err)
			}
		}
	}

	cfg := Config{
		SecretKey:    os.Getenv("SECRET_KEY"),
		Debug:        getEnvBool("DEBUG", false),
		AllowedHosts: getEnvList("ALLOWED_HOSTS"),
		ListenAddr:   getEnv("LISTEN_ADDR", ":8000"),
		DatabaseURL:  getEnv("DATABASE_URL", "sqlite:authsite.db"),

		EmailHost:     os.Getenv("EMAIL_HOST"),
		EmailPort:     getEnvInt("EMAIL_PORT", 587),
		EmailUseTLS:   getEnvBool("EMAIL_USE_TLS", true),
		EmailUser:     os.Getenv("EMAIL_HOST_USER"),
		EmailPassword: os.Getenv("EMAIL_HOST_PASSWORD"),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),

		SessionIdleTimeout: time.Duration(getEnvInt("SESSION_IDLE_TIMEOUT", 900)) * time.Second,
		SessionMaxLifetime: time.Duration(getEnvInt("SESSION_MAX_LIFETIME", 43200)) * time.Second,
		SessionCookieName:  getEnv("SESSION_COOKIE_NAME", "sessionid"),
		CookieSecure:       getEnvBool("SESSION_COOKIE_SECURE", false),
		CookieHTTPOnly:     getEnvBool("SESSION_COOKIE_HTTPONLY", true),
		CSRFCookieSecure:   getEnvBool("CSRF_COOKIE_SECURE", false),

		TokenValidity: time.Duration(getEnvInt("TOKEN_VALIDITY", 86400)) * time.Second,
	}
	cfg.BaseURL = strings.TrimSuffix(getEnv("BASE_URL", "http://localhost"+cfg.ListenAddr), "/")
	cfg.FromEmail = getEnv("DEFAULT_FROM_EMAIL", cfg.EmailUser)
	cfg.GoogleCallbackURL = getEnv("GOOGLE_CALLBACK_URL", cfg.BaseURL+"/accounts/google/callback/")

	sameSite, err := parseSameSite(getEnv("SESSION_COOKIE_SAMESITE", "lax"))
	if err != nil {
		return Config{}, err
	}
	cfg.CookieSameSite = sameSite

	if cfg.SecretKey == "" {
		if !cfg.Debug {
			return Config{}, errors.New("SECRET_KEY must be set when DEBUG is off")
		}
		cfg.SecretKey = "insecure-development-secret-key"
	}
	if cfg.SessionIdleTimeout <= 0 {
		return Config{}, errors.New("SESSION_IDLE_TIMEOUT must be positive")
	}
	if cfg.TokenValidity <= 0 {
		return Config{}, errors.New("TOKEN_VALIDITY must be positive")
	}
	return cfg, nil
}

// GoogleEnabled reports whether Google login is configured
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// SMTPEnabled reports whether outbound mail goes to an SMTP relay
func (c Config) SMTPEnabled() bool {
	return c.EmailHost != ""
}

// SiteOptions converts the configuration into site options
func (c Config) SiteOptions() au.Options {
	return au.Options{
		SecretKey:     c.SecretKey,
		Debug:         c.Debug,
		AllowedHosts:  append([]string(nil), c.AllowedHosts...),
		BaseURL:       c.BaseURL,
		TokenValidity: c.TokenValidity,
		Session: au.SessionConfig{
			IdleTimeout:    c.SessionIdleTimeout,
			MaxLifetime:    c.SessionMaxLifetime,
			CookieName:     c.SessionCookieName,
			CookieSecure:   c.CookieSecure,
			CookieHTTPOnly: c.CookieHTTPOnly,
			CookieSameSite: c.CookieSameSite,
		},
		CSRF: au.CSRFOptions{Secure: c.CSRFCookieSecure},
	}
}

func parseSameSite(v string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "lax", "":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	}
	return 0, fmt.Errorf("SESSION_COOKIE_SAMESITE: unknown value %q", v)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
