package authsite

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTokenValidity is how long verification and reset links stay usable
const DefaultTokenValidity = 24 * time.Hour

// TokenConfig is fixed at startup and never changes afterwards
type TokenConfig struct {
	// Secret keys the MAC. Required.
	Secret []byte

	// Validity defaults to DefaultTokenValidity
	Validity time.Duration

	// Now defaults to time.Now
	Now func() time.Time
}

// TokenPolicy issues and checks one-time tokens for email verification and
// password reset.
//
// A token is "<issued-unix-base36>-<hex mac>" where the MAC covers the purpose,
// the user id, the issuance second and a per-user fingerprint. The fingerprint
// is the user's email for verification tokens and the password hash for reset
// tokens, so changing either one invalidates the outstanding token even if the
// stored copy survives.
type TokenPolicy struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

// IssuedToken is a freshly minted token and the time it was minted
type IssuedToken struct {
	Token    string
	IssuedAt time.Time
}

func NewTokenPolicy(cfg TokenConfig) (*TokenPolicy, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("token policy: secret is required")
	}
	out := &TokenPolicy{
		secret:   append([]byte(nil), cfg.Secret...),
		validity: cfg.Validity,
		now:      cfg.Now,
	}
	if out.validity <= 0 {
		out.validity = DefaultTokenValidity
	}
	if out.now == nil {
		out.now = time.Now
	}
	return out, nil
}

// Validity returns the configured validity window
func (p *TokenPolicy) Validity() time.Duration { return p.validity }

func fingerprint(user *User, purpose Purpose) string {
	if purpose == PurposeReset {
		return user.PasswordHash
	}
	return user.Email
}

func (p *TokenPolicy) mac(user *User, purpose Purpose, ts string) string {
	h := hmac.New(sha256.New, p.secret)
	for _, part := range []string{"authsite.token", string(purpose), user.ID, fingerprint(user, purpose), ts} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:20])
}

// Make computes the token for user and purpose at the given instant
func (p *TokenPolicy) Make(user *User, purpose Purpose, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 36)
	return ts + "-" + p.mac(user, purpose, ts)
}

// Issue mints a token for user. The caller persists it into the profile slot
// for purpose, which replaces any earlier token of that purpose.
func (p *TokenPolicy) Issue(user *User, purpose Purpose) IssuedToken {
	at := p.now().UTC().Truncate(time.Second)
	return IssuedToken{Token: p.Make(user, purpose, at), IssuedAt: at}
}

// Check validates token against the stored slot for purpose. It does not
// consume the token; consumption is a separate atomic store operation.
//
// Errors: ErrNotFound when the user is missing (or inactive for reset),
// ErrInvalidToken for a consumed, replaced or forged token, ErrExpiredToken
// when the stored token is older than the validity window.
func (p *TokenPolicy) Check(user *User, profile *Profile, purpose Purpose, token string) error {
	if user == nil || profile == nil {
		return ErrNotFound
	}
	if purpose == PurposeReset && !user.IsActive {
		return ErrNotFound
	}
	stored, issuedAt := profile.TokenSlot(purpose)
	if stored == nil || *stored == "" || token == "" {
		return ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(*stored), []byte(token)) != 1 {
		return ErrInvalidToken
	}
	ts, sig, ok := strings.Cut(token, "-")
	if !ok {
		return ErrInvalidToken
	}
	if _, err := strconv.ParseInt(ts, 36, 64); err != nil {
		return ErrInvalidToken
	}
	if !hmac.Equal([]byte(sig), []byte(p.mac(user, purpose, ts))) {
		return ErrInvalidToken
	}
	if issuedAt == nil {
		return ErrInvalidToken
	}
	if p.now().Sub(*issuedAt) > p.validity {
		return ErrExpiredToken
	}
	return nil
}

// GenerateSecureToken returns 32 random bytes hex encoded
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
