package authsite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Accounts orchestrates signup, verification, login, password reset and role
// management on top of an AccountStore, the token policy and an email sender.
type Accounts struct {
	Store   AccountStore
	Tokens  *TokenPolicy
	Email   SendEmail
	BaseURL string
	Logger  *slog.Logger

	// BcryptCost defaults to bcrypt.DefaultCost
	BcryptCost int

	// Now defaults to time.Now
	Now func() time.Time
}

func (a *Accounts) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

func (a *Accounts) now() time.Time {
	if a.Now == nil {
		return time.Now().UTC()
	}
	return a.Now().UTC()
}

// Get loads the account for a user id
func (a *Accounts) Get(ctx context.Context, userID string) (*Account, error) {
	user, err := a.Store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile, err := a.Store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Account{User: user, Profile: profile}, nil
}

// Lookup loads the account for an email address
func (a *Accounts) Lookup(ctx context.Context, email string) (*Account, error) {
	user, err := a.Store.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	return a.Get(ctx, user.ID)
}

// Signup creates an inactive, unverified account and emails it a
// verification link. If the account was created but the email could not be
// sent, the account is returned together with a *DeliveryError.
func (a *Accounts) Signup(ctx context.Context, form SignupForm) (*Account, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	if _, err := a.Store.GetUserByEmail(ctx, form.Email); err == nil {
		return nil, FieldError("email", msgEmailExists)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := hashPassword(form.Password, a.BcryptCost)
	if err != nil {
		return nil, err
	}
	now := a.now()
	user := &User{
		ID:           newUserID(),
		Email:        form.Email,
		PasswordHash: hash,
		IsActive:     false,
		CreatedAt:    now,
	}
	profile := &Profile{
		UserID:    user.ID,
		Role:      RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	issued := a.Tokens.Issue(user, PurposeVerification)
	profile.SetTokenSlot(PurposeVerification, issued.Token, issued.IssuedAt)

	if err := a.Store.CreateAccount(ctx, user, profile); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, FieldError("email", msgEmailExists)
		}
		return nil, fmt.Errorf("creating account: %w", err)
	}
	a.logger().Info("user signed up", "user_id", user.ID, "email", user.Email)

	account := &Account{User: user, Profile: profile}
	return account, a.sendVerification(ctx, user, issued.Token)
}

func (a *Accounts) sendVerification(ctx context.Context, user *User, token string) error {
	if a.Email == nil {
		return nil
	}
	link := absoluteURL(a.BaseURL, VerifyEmailPath(user.ID, token))
	if err := a.Email.SendVerificationEmail(ctx, user.Email, link); err != nil {
		derr := &DeliveryError{To: user.Email, Subject: verificationSubject, Err: err}
		a.logger().Error("verification email failed", "user_id", user.ID, "error", err)
		return derr
	}
	return nil
}

// VerifyEmail consumes a verification link. A link can only be used once.
func (a *Accounts) VerifyEmail(ctx context.Context, uid, token string) (*Account, error) {
	userID, err := DecodeUID(uid)
	if err != nil {
		return nil, err
	}
	account, err := a.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := a.Tokens.Check(account.User, account.Profile, PurposeVerification, token); err != nil {
		return nil, err
	}
	if err := a.Store.ConsumeVerification(ctx, userID, token); err != nil {
		return nil, err
	}
	a.logger().Info("email verified", "user_id", userID)
	return a.Get(ctx, userID)
}

// ResendVerification issues a fresh verification link for an unverified
// account. Unknown or already verified accounts are silently ignored.
func (a *Accounts) ResendVerification(ctx context.Context, uid string) error {
	userID, err := DecodeUID(uid)
	if err != nil {
		return nil
	}
	account, err := a.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	if account.Profile.EmailVerified {
		return nil
	}
	issued := a.Tokens.Issue(account.User, PurposeVerification)
	if err := a.Store.SetToken(ctx, userID, PurposeVerification, issued.Token, issued.IssuedAt); err != nil {
		return err
	}
	return a.sendVerification(ctx, account.User, issued.Token)
}

// Login checks credentials. Unknown emails, inactive or unverified accounts
// and wrong passwords all yield ErrInvalidCredentials.
func (a *Accounts) Login(ctx context.Context, form LoginForm) (*Account, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	account, err := a.Lookup(ctx, form.Email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if account == nil || !account.User.IsActive || !account.Profile.EmailVerified {
		checkPassword(nil, form.Password)
		a.logger().Info("login rejected", "email", form.Email)
		return nil, ErrInvalidCredentials
	}
	if !checkPassword(account.User, form.Password) {
		a.logger().Info("login rejected", "email", form.Email)
		return nil, ErrInvalidCredentials
	}

	now := a.now()
	if err := a.Store.RecordLogin(ctx, account.User.ID, now); err != nil {
		return nil, err
	}
	account.User.LastLoginAt = &now
	a.logger().Info("user logged in", "user_id", account.User.ID)
	return account, nil
}

// LoginWithProvider signs in a user asserted by a social provider. The
// provider must have verified the email. Unknown emails get a new active,
// verified account without a usable password. An existing account is marked
// verified.
func (a *Accounts) LoginWithProvider(ctx context.Context, provider, email string, emailVerified bool) (*Account, error) {
	email = NormalizeEmail(email)
	if email == "" || !emailVerified {
		a.logger().Warn("provider login rejected", "provider", provider, "email", email)
		return nil, ErrInvalidCredentials
	}

	account, err := a.Lookup(ctx, email)
	switch {
	case err == nil:
		if !account.Profile.EmailVerified {
			if err := a.Store.MarkVerified(ctx, account.User.ID); err != nil {
				return nil, err
			}
		} else if !account.User.IsActive {
			a.logger().Warn("provider login rejected", "provider", provider, "user_id", account.User.ID, "reason", "inactive")
			return nil, ErrInvalidCredentials
		}
	case errors.Is(err, ErrNotFound):
		hash, err := unusablePassword()
		if err != nil {
			return nil, err
		}
		now := a.now()
		user := &User{ID: newUserID(), Email: email, PasswordHash: hash, IsActive: true, CreatedAt: now}
		profile := &Profile{UserID: user.ID, Role: RoleUser, EmailVerified: true, CreatedAt: now, UpdatedAt: now}
		if err := a.Store.CreateAccount(ctx, user, profile); err != nil {
			return nil, fmt.Errorf("creating account: %w", err)
		}
		a.logger().Info("user signed up", "user_id", user.ID, "email", email, "provider", provider)
	default:
		return nil, err
	}

	account, err = a.Lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	now := a.now()
	if err := a.Store.RecordLogin(ctx, account.User.ID, now); err != nil {
		return nil, err
	}
	account.User.LastLoginAt = &now
	a.logger().Info("user logged in", "user_id", account.User.ID, "provider", provider)
	return account, nil
}

// RequestPasswordReset emails a reset link when the address belongs to an
// active account. The outcome is never reported to the caller beyond form
// validation, so the response cannot be used to probe for accounts.
func (a *Accounts) RequestPasswordReset(ctx context.Context, form PasswordResetRequestForm) error {
	if err := form.Validate(); err != nil {
		return err
	}
	account, err := a.Lookup(ctx, form.Email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			a.logger().Error("password reset lookup failed", "error", err)
		}
		return nil
	}
	if !account.User.IsActive {
		return nil
	}
	issued := a.Tokens.Issue(account.User, PurposeReset)
	if err := a.Store.SetToken(ctx, account.User.ID, PurposeReset, issued.Token, issued.IssuedAt); err != nil {
		a.logger().Error("storing reset token failed", "user_id", account.User.ID, "error", err)
		return nil
	}
	a.logger().Info("password reset requested", "user_id", account.User.ID)
	if a.Email != nil {
		link := absoluteURL(a.BaseURL, PasswordResetPath(account.User.ID, issued.Token))
		if err := a.Email.SendPasswordResetEmail(ctx, account.User.Email, link); err != nil {
			a.logger().Error("password reset email failed", "user_id", account.User.ID, "error",
				&DeliveryError{To: account.User.Email, Subject: resetSubject, Err: err})
		}
	}
	return nil
}

// CheckResetLink validates a reset link without consuming it
func (a *Accounts) CheckResetLink(ctx context.Context, uid, token string) (*Account, error) {
	userID, err := DecodeUID(uid)
	if err != nil {
		return nil, err
	}
	account, err := a.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := a.Tokens.Check(account.User, account.Profile, PurposeReset, token); err != nil {
		return nil, err
	}
	return account, nil
}

// ResetPassword consumes a reset link and sets the new password. Of two
// concurrent calls with the same link at most one succeeds; the other gets
// ErrInvalidToken.
func (a *Accounts) ResetPassword(ctx context.Context, uid, token string, form PasswordResetForm) error {
	account, err := a.CheckResetLink(ctx, uid, token)
	if err != nil {
		return err
	}
	if err := form.Validate(); err != nil {
		return err
	}
	hash, err := hashPassword(form.Password, a.BcryptCost)
	if err != nil {
		return err
	}
	if err := a.Store.ConsumeReset(ctx, account.User.ID, token, hash); err != nil {
		return err
	}
	a.logger().Info("password reset completed", "user_id", account.User.ID)
	return nil
}

// ChangePassword sets a new password directly. Any pending reset link and
// every other session of the user stop working.
func (a *Accounts) ChangePassword(ctx context.Context, userID, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	hash, err := hashPassword(password, a.BcryptCost)
	if err != nil {
		return err
	}
	if err := a.Store.SetPassword(ctx, userID, hash); err != nil {
		return err
	}
	a.logger().Info("password changed", "user_id", userID)
	return nil
}

// SetRole changes another user's role. Only verified admins may do this and
// never on their own account.
func (a *Accounts) SetRole(ctx context.Context, actor *Account, targetUserID string, role Role) error {
	if Evaluate(RequireAdmin, actor) != Allow {
		return ErrPermissionDenied
	}
	if actor.User.ID == targetUserID {
		return ErrPermissionDenied
	}
	if !role.IsValid() {
		return FieldError("role", fmt.Sprintf("Select a valid choice. %s is not one of the available choices.", role))
	}
	if _, err := a.Store.GetUserByID(ctx, targetUserID); err != nil {
		return err
	}
	if err := a.Store.SetRole(ctx, targetUserID, role); err != nil {
		return err
	}
	a.logger().Warn("role changed", "actor", actor.User.ID, "user_id", targetUserID, "role", role)
	return nil
}

// GrantRole sets a role from the operator console, which has no session
func (a *Accounts) GrantRole(ctx context.Context, email string, role Role) (*Account, error) {
	if !role.IsValid() {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	account, err := a.Lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := a.Store.SetRole(ctx, account.User.ID, role); err != nil {
		return nil, err
	}
	a.logger().Warn("role changed", "actor", "operator", "user_id", account.User.ID, "role", role)
	return a.Get(ctx, account.User.ID)
}

// MarkVerified verifies and activates an account without a link
func (a *Accounts) MarkVerified(ctx context.Context, email string) (*Account, error) {
	account, err := a.Lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := a.Store.MarkVerified(ctx, account.User.ID); err != nil {
		return nil, err
	}
	a.logger().Info("email verified", "user_id", account.User.ID, "actor", "operator")
	return a.Get(ctx, account.User.ID)
}

// CreateUser adds an account from the operator console. Verified accounts are
// also active.
func (a *Accounts) CreateUser(ctx context.Context, email, password string, role Role, verified bool) (*Account, error) {
	email = NormalizeEmail(email)
	form := SignupForm{Email: email, Password: password, PasswordConfirm: password}
	if err := form.Validate(); err != nil {
		return nil, err
	}
	if !role.IsValid() {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	hash, err := hashPassword(password, a.BcryptCost)
	if err != nil {
		return nil, err
	}
	now := a.now()
	user := &User{ID: newUserID(), Email: form.Email, PasswordHash: hash, IsActive: verified, CreatedAt: now}
	profile := &Profile{UserID: user.ID, Role: role, EmailVerified: verified, CreatedAt: now, UpdatedAt: now}
	if err := a.Store.CreateAccount(ctx, user, profile); err != nil {
		return nil, err
	}
	a.logger().Info("user created", "user_id", user.ID, "email", user.Email, "actor", "operator")
	return &Account{User: user, Profile: profile}, nil
}

// Overview is the admin dashboard's view of the account population
type Overview struct {
	Stats    AccountStats
	Accounts []Account
}

func (a *Accounts) Overview(ctx context.Context, offset, limit int) (*Overview, error) {
	stats, err := a.Store.CountAccounts(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := a.Store.ListAccounts(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	return &Overview{Stats: stats, Accounts: accounts}, nil
}
