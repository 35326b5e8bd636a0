package oauth2

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

type HandleUserFunc func(authtype string, provider string, token *oauth2.Token, userInfo map[string]any, w http.ResponseWriter, r *http.Request)

const stateCookieName = "oauthstate"

// StateSigner mints and checks the OAuth state parameter. The state is a
// short lived HS256 JWT, so a callback can be checked without server side
// storage. It is also set as a cookie and both copies must match.
type StateSigner struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func (s *StateSigner) Sign() (string, error) {
	if len(s.Secret) == 0 {
		return "", errors.New("oauth state secret is not set")
	}
	now := s.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
}

func (s *StateSigner) Verify(state string) error {
	token, err := jwt.ParseWithClaims(state, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return s.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.Now), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("invalid oauth state: %w", err)
	}
	if !token.Valid {
		return errors.New("invalid oauth state")
	}
	return nil
}

// checkState verifies the state query parameter against the state cookie
func (s *StateSigner) checkState(r *http.Request) error {
	cookie, err := r.Cookie(stateCookieName)
	if err != nil || cookie.Value == "" {
		return errors.New("oauth state cookie missing")
	}
	state := r.FormValue("state")
	if subtle.ConstantTimeCompare([]byte(state), []byte(cookie.Value)) != 1 {
		return errors.New("oauth state mismatch")
	}
	return s.Verify(state)
}

func setStateCookie(w http.ResponseWriter, state string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}
