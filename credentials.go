package authsite

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// PasswordSpecialChars is the punctuation set a password must draw from
const PasswordSpecialChars = `!@#$%^&*(),.?":{}|<>`

const (
	msgRequired         = "This field is required."
	msgEmailInvalid     = "Enter a valid email address."
	msgEmailTooLong     = "Ensure this value has at most 255 characters."
	msgEmailExists      = "An account with this email already exists. Please login instead."
	msgPasswordShort    = "Password must be at least 8 characters long."
	msgPasswordUpper    = "Password must contain at least one uppercase letter."
	msgPasswordLower    = "Password must contain at least one lowercase letter."
	msgPasswordDigit    = "Password must contain at least one digit."
	msgPasswordSpecial  = "Password must contain at least one special character (!@#$%^&*etc)."
	msgPasswordMismatch = "Passwords do not match."
)

var (
	upperRe   = regexp.MustCompile(`[A-Z]`)
	lowerRe   = regexp.MustCompile(`[a-z]`)
	digitRe   = regexp.MustCompile(`[0-9]`)
	specialRe = regexp.MustCompile(`[` + regexp.QuoteMeta(PasswordSpecialChars) + `]`)
)

func minRunes(n int, message string) validation.Rule {
	return validation.By(func(value interface{}) error {
		s, _ := value.(string)
		if utf8.RuneCountInString(s) < n {
			return errors.New(message)
		}
		return nil
	})
}

func equalsString(other *string, message string) validation.Rule {
	return validation.By(func(value interface{}) error {
		s, _ := value.(string)
		if s != *other {
			return errors.New(message)
		}
		return nil
	})
}

// PasswordRules are applied in order and the first failure is reported
func PasswordRules() []validation.Rule {
	return []validation.Rule{
		validation.Required.Error(msgRequired),
		minRunes(8, msgPasswordShort),
		validation.Match(upperRe).Error(msgPasswordUpper),
		validation.Match(lowerRe).Error(msgPasswordLower),
		validation.Match(digitRe).Error(msgPasswordDigit),
		validation.Match(specialRe).Error(msgPasswordSpecial),
	}
}

// ValidatePassword applies the password policy to a single value
func ValidatePassword(password string) error {
	if err := validation.Validate(password, PasswordRules()...); err != nil {
		return FieldError("password", err.Error())
	}
	return nil
}

func emailRules() []validation.Rule {
	return []validation.Rule{
		validation.Required.Error(msgRequired),
		validation.Length(0, 255).Error(msgEmailTooLong),
		is.Email.Error(msgEmailInvalid),
	}
}

// NormalizeEmail trims and lower-cases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignupForm is the payload of the signup page
type SignupForm struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

func (f *SignupForm) Validate() error {
	f.Email = NormalizeEmail(f.Email)
	return fromValidation(validation.ValidateStruct(f,
		validation.Field(&f.Email, emailRules()...),
		validation.Field(&f.Password, PasswordRules()...),
		validation.Field(&f.PasswordConfirm, validation.Required.Error(msgRequired), equalsString(&f.Password, msgPasswordMismatch)),
	))
}

// LoginForm is the payload of the login page
type LoginForm struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (f *LoginForm) Validate() error {
	f.Email = NormalizeEmail(f.Email)
	return fromValidation(validation.ValidateStruct(f,
		validation.Field(&f.Email, emailRules()...),
		validation.Field(&f.Password, validation.Required.Error(msgRequired)),
	))
}

// PasswordResetRequestForm asks for a reset link
type PasswordResetRequestForm struct {
	Email string `json:"email"`
}

func (f *PasswordResetRequestForm) Validate() error {
	f.Email = NormalizeEmail(f.Email)
	return fromValidation(validation.ValidateStruct(f,
		validation.Field(&f.Email, emailRules()...),
	))
}

// PasswordResetForm sets the new password from a reset link
type PasswordResetForm struct {
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

func (f *PasswordResetForm) Validate() error {
	return fromValidation(validation.ValidateStruct(f,
		validation.Field(&f.Password, PasswordRules()...),
		validation.Field(&f.PasswordConfirm, validation.Required.Error(msgRequired), equalsString(&f.Password, msgPasswordMismatch)),
	))
}
