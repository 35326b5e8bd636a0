package authsite

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("expired token")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrEmailTaken         = errors.New("email already registered")
)

// User facing messages. Token failures and credential failures each collapse
// to a single message so responses never reveal which check failed.
const (
	MsgInvalidLink        = "This link is invalid or has expired."
	MsgInvalidCredentials = "Invalid email or password."
	MsgPermissionDenied   = "You do not have permission to access this page."
)

// ValidationError holds field level errors for a submitted form
type ValidationError struct {
	Fields    map[string]string
	NonFields []string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys)+len(e.NonFields))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	parts = append(parts, e.NonFields...)
	return "validation failed: " + strings.Join(parts, "; ")
}

// Field returns the message for a field or ""
func (e *ValidationError) Field(name string) string {
	if e == nil {
		return ""
	}
	return e.Fields[name]
}

// FieldError builds a ValidationError for a single field
func FieldError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// fromValidation converts ozzo-validation errors into a ValidationError.
// Other errors are returned unchanged.
func fromValidation(err error) error {
	if err == nil {
		return nil
	}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		out := &ValidationError{Fields: map[string]string{}}
		for field, ferr := range verrs {
			if ferr != nil {
				out.Fields[field] = ferr.Error()
			}
		}
		return out
	}
	return err
}

// DeliveryError reports an outbound email that could not be sent.
// The state change that triggered the email is never rolled back.
type DeliveryError struct {
	To      string
	Subject string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering %q to %s: %v", e.Subject, e.To, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsLinkError reports whether err is one of the link failures that share the
// generic invalid link message.
func IsLinkError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrExpiredToken)
}

// LinkErrorMessage maps an error from a token or credential check to the
// message shown to the user.
func LinkErrorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return MsgInvalidCredentials
	case errors.Is(err, ErrPermissionDenied):
		return MsgPermissionDenied
	case IsLinkError(err):
		return MsgInvalidLink
	}
	return "An unexpected error occurred. Please try again."
}
