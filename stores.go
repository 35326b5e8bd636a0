package authsite

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"
)

// Role is the coarse authorization tier of an account
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

var roleRank = map[Role]int{
	RoleUser:  1,
	RoleAdmin: 2,
}

// IsValid reports whether r is one of the known roles
func (r Role) IsValid() bool {
	_, ok := roleRank[r]
	return ok
}

// IsAtLeast reports whether r grants everything required grants.
// An empty requirement is satisfied by any valid role.
func (r Role) IsAtLeast(required Role) bool {
	if required == "" {
		return r.IsValid()
	}
	have, ok := roleRank[r]
	if !ok {
		return false
	}
	return have >= roleRank[required]
}

// ParseRole converts a string into a Role
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Purpose selects which of the profile's token slots a token belongs to
type Purpose string

const (
	PurposeVerification Purpose = "verification"
	PurposeReset        Purpose = "reset"
)

// User is a login identity. Email is unique and stored lower-cased.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"password_hash"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// Profile extends a User one-to-one with its role, verification state and
// the two outstanding token slots.
type Profile struct {
	UserID               string     `json:"user_id"`
	Role                 Role       `json:"role"`
	EmailVerified        bool       `json:"email_verified"`
	VerificationToken    *string    `json:"verification_token,omitempty"`
	VerificationIssuedAt *time.Time `json:"verification_issued_at,omitempty"`
	ResetToken           *string    `json:"reset_token,omitempty"`
	ResetIssuedAt        *time.Time `json:"reset_issued_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// TokenSlot returns the stored token and issuance time for a purpose
func (p *Profile) TokenSlot(purpose Purpose) (token *string, issuedAt *time.Time) {
	switch purpose {
	case PurposeVerification:
		return p.VerificationToken, p.VerificationIssuedAt
	case PurposeReset:
		return p.ResetToken, p.ResetIssuedAt
	}
	return nil, nil
}

// SetTokenSlot replaces the token slot for a purpose
func (p *Profile) SetTokenSlot(purpose Purpose, token string, issuedAt time.Time) {
	switch purpose {
	case PurposeVerification:
		p.VerificationToken, p.VerificationIssuedAt = &token, &issuedAt
	case PurposeReset:
		p.ResetToken, p.ResetIssuedAt = &token, &issuedAt
	}
}

// Account pairs a user with its profile
type Account struct {
	User    *User
	Profile *Profile
}

// AccountStats summarises the account population
type AccountStats struct {
	Total    int64
	Verified int64
	Admins   int64
}

// AccountStore persists users together with their profiles. Implementations
// must make the Consume* and SetPassword operations atomic read-modify-writes
// on the profile row.
type AccountStore interface {
	// CreateAccount stores a new user and its profile in one step.
	// Returns ErrEmailTaken if the email is already registered.
	CreateAccount(ctx context.Context, user *User, profile *Profile) error

	// GetUserByID returns ErrNotFound if there is no such user
	GetUserByID(ctx context.Context, userID string) (*User, error)

	// GetUserByEmail looks up a user by lower-cased email
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// SetToken overwrites the token slot for purpose
	SetToken(ctx context.Context, userID string, purpose Purpose, token string, issuedAt time.Time) error

	// ConsumeVerification clears the verification token only if it still
	// equals token, and in the same step marks the email verified and
	// activates the user. Returns ErrInvalidToken if the token was already
	// consumed or replaced.
	ConsumeVerification(ctx context.Context, userID, token string) error

	// ConsumeReset clears the reset token only if it still equals token and
	// stores the new password hash in the same step.
	ConsumeReset(ctx context.Context, userID, token, passwordHash string) error

	// SetPassword replaces the password hash and clears any pending reset token
	SetPassword(ctx context.Context, userID, passwordHash string) error

	SetRole(ctx context.Context, userID string, role Role) error

	// MarkVerified sets email_verified, clears the verification token and
	// activates the user without a token check.
	MarkVerified(ctx context.Context, userID string) error

	RecordLogin(ctx context.Context, userID string, at time.Time) error

	// ListAccounts returns accounts ordered by creation time, newest first
	ListAccounts(ctx context.Context, offset, limit int) ([]Account, error)

	CountAccounts(ctx context.Context) (AccountStats, error)
}

// EncodeUID encodes a user id for use in links
func EncodeUID(userID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(userID))
}

// DecodeUID reverses EncodeUID. Any malformed input is reported as ErrNotFound.
func DecodeUID(uid string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(uid)
	if err != nil || len(b) == 0 {
		return "", ErrNotFound
	}
	return string(b), nil
}
