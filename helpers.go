package authsite

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// unusablePasswordPrefix marks accounts that can only sign in through a
// social provider. bcrypt hashes never start with it.
const unusablePasswordPrefix = "!"

func hashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func unusablePassword() (string, error) {
	tok, err := GenerateSecureToken()
	if err != nil {
		return "", err
	}
	return unusablePasswordPrefix + tok, nil
}

// HasUsablePassword reports whether the user can log in with a password
func HasUsablePassword(u *User) bool {
	return u != nil && u.PasswordHash != "" && !strings.HasPrefix(u.PasswordHash, unusablePasswordPrefix)
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// checkPassword compares password with the user's hash. With a nil user it
// still burns one bcrypt comparison so timing does not reveal whether the
// account exists.
func checkPassword(u *User, password string) bool {
	if !HasUsablePassword(u) {
		dummyHashOnce.Do(func() {
			dummyHash, _ = bcrypt.GenerateFromPassword([]byte("authsite-dummy-password"), bcrypt.DefaultCost)
		})
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// newUserID generates a random user id
func newUserID() string {
	return uuid.NewString()
}

// absoluteURL joins baseURL and a path
func absoluteURL(baseURL, path string) string {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || baseURL == "" {
		return path
	}
	return base.String() + path
}

// VerifyEmailPath is the path of a verification link
func VerifyEmailPath(userID, token string) string {
	return "/verify-email/" + EncodeUID(userID) + "/" + token + "/"
}

// PasswordResetPath is the path of a reset link
func PasswordResetPath(userID, token string) string {
	return "/password-reset/" + EncodeUID(userID) + "/" + token + "/"
}

// VerifyPendingPath is the page telling a user to check their inbox
func VerifyPendingPath(userID string) string {
	return "/verify-email-pending/" + EncodeUID(userID) + "/"
}
