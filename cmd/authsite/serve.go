package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	au "github.com/panyam/authsite"
	"github.com/panyam/authsite/config"
	"github.com/panyam/authsite/oauth2"
	gormstore "github.com/panyam/authsite/stores/gorm"
)

func newEmailSender(cfg config.Config, logger *slog.Logger) au.SendEmail {
	if !cfg.SMTPEnabled() {
		logger.Warn("EMAIL_HOST not set, emails are written to the log")
		return &au.ConsoleEmailSender{Logger: logger}
	}
	return &au.SMTPEmailSender{
		Host:     cfg.EmailHost,
		Port:     cfg.EmailPort,
		UseTLS:   cfg.EmailUseTLS,
		Username: cfg.EmailUser,
		Password: cfg.EmailPassword,
		From:     cfg.FromEmail,
	}
}

// newSite opens the database and builds the site on the GORM stores
func newSite(cfg config.Config, logger *slog.Logger) (*au.Site, *gormstore.SessionStore, error) {
	db, err := gormstore.Open(cfg.DatabaseURL, cfg.Debug)
	if err != nil {
		return nil, nil, err
	}
	sessions := gormstore.NewSessionStore(db)
	opts := cfg.SiteOptions()
	opts.Logger = logger
	site, err := au.NewSite(opts, gormstore.NewAccountStore(db), sessions, newEmailSender(cfg, logger))
	if err != nil {
		return nil, nil, err
	}
	return site, sessions, nil
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	site, sessions, err := newSite(cfg, logger)
	if err != nil {
		return err
	}

	if cfg.GoogleEnabled() {
		google := oauth2.NewGoogleOAuth2(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleCallbackURL,
			au.DeriveKey(cfg.SecretKey, "oauth-state"), site.HandleProviderUser)
		google.Logger = logger
		site.AddAuth("/accounts/google", google)
	} else {
		logger.Info("Google login disabled, GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET not set")
	}

	sessions.StartCleanup(ctx, 5*time.Minute, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           site.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "base_url", cfg.BaseURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
