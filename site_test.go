package authsite_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	au "github.com/panyam/authsite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignupVerifyLoginJourney(t *testing.T) {
	ts := newTestSite(t)

	resp, _ := ts.post(t, "/signup/", url.Values{
		"email":            {"alice@example.com"},
		"password":         {strongPassword},
		"password_confirm": {strongPassword},
	})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	pending := resp.Header.Get("Location")
	assert.True(t, strings.HasPrefix(pending, "/verify-email-pending/"), pending)

	resp, body := ts.get(t, pending)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Registration successful! Check your email to verify your account.")

	// Unverified accounts cannot log in and learn nothing about why
	resp = ts.login(t, "alice@example.com", strongPassword)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	sent, ok := ts.Email.Last()
	require.True(t, ok)
	link := linkPath(t, sent.Link)

	resp, _ = ts.get(t, link)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login/", resp.Header.Get("Location"))
	_, body = ts.get(t, "/login/")
	assert.Contains(t, body, "Email verified successfully! You can now login.")

	// Second use of the same link
	resp, _ = ts.get(t, link)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/signup/", resp.Header.Get("Location"))
	_, body = ts.get(t, "/signup/")
	assert.Contains(t, body, au.MsgInvalidLink)

	// The pending page now points to login
	resp, _ = ts.get(t, pending)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login/", resp.Header.Get("Location"))

	resp = ts.login(t, "alice@example.com", strongPassword)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/dashboard/", resp.Header.Get("Location"))

	resp, body = ts.get(t, "/dashboard/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Welcome back, alice@example.com!")
	assert.Contains(t, body, "alice@example.com")

	resp, body = ts.get(t, "/admin-dashboard/")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, au.MsgPermissionDenied)

	// Signed in users are sent away from the anonymous pages
	resp, _ = ts.get(t, "/signup/")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/dashboard/", resp.Header.Get("Location"))

	resp, _ = ts.get(t, "/logout/")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login/", resp.Header.Get("Location"))
	_, body = ts.get(t, "/login/")
	assert.Contains(t, body, "You have been logged out successfully.")

	resp, _ = ts.get(t, "/dashboard/")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login/?next=%2Fdashboard%2F", resp.Header.Get("Location"))
}

func TestSignupFormErrors(t *testing.T) {
	ts := newTestSite(t)

	resp, body := ts.post(t, "/signup/", url.Values{
		"email":            {"alice@example.com"},
		"password":         {"Weak1!"},
		"password_confirm": {"Weak2!"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Password must be at least 8 characters long.")
	assert.Contains(t, body, "Passwords do not match.")
	assert.Empty(t, ts.Email.Sent())

	ts.createVerified(t, "taken@example.com", au.RoleUser)
	resp, body = ts.post(t, "/signup/", url.Values{
		"email":            {"Taken@example.com"},
		"password":         {strongPassword},
		"password_confirm": {strongPassword},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "An account with this email already exists. Please login instead.")
}

func TestSignupWithFailedDelivery(t *testing.T) {
	ts := newTestSite(t)
	ts.Email.Err = assert.AnError

	resp, _ := ts.post(t, "/signup/", url.Values{
		"email":            {"alice@example.com"},
		"password":         {strongPassword},
		"password_confirm": {strongPassword},
	})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	_, body := ts.get(t, resp.Header.Get("Location"))
	assert.Contains(t, body, "verification email could not be sent")

	ts.Email.Err = nil
	pending := resp.Header.Get("Location")
	resp, _ = ts.post(t, pending+"resend/", url.Values{})
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Len(t, ts.Email.Sent(), 2)
}

func TestLoginFailures(t *testing.T) {
	ts := newTestSite(t)
	ts.createVerified(t, "bob@example.com", au.RoleUser)

	resp, body := ts.post(t, "/login/", url.Values{"email": {"bob@example.com"}, "password": {"Wrong123!"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, au.MsgInvalidCredentials)

	resp, body = ts.post(t, "/login/", url.Values{"email": {"ghost@example.com"}, "password": {strongPassword}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, au.MsgInvalidCredentials)

	resp, _ = ts.post(t, "/login/", url.Values{"email": {"not-an-email"}, "password": {""}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, body = ts.get(t, "/login/?error=oauth")
	assert.Contains(t, body, "Google sign-in failed. Please try again.")
}

func TestLoginRedirectsToSafeNext(t *testing.T) {
	ts := newTestSite(t)
	ts.createVerified(t, "carol@example.com", au.RoleUser)

	resp, _ := ts.post(t, "/login/", url.Values{
		"email": {"carol@example.com"}, "password": {strongPassword}, "next": {"//evil.example/"},
	})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/dashboard/", resp.Header.Get("Location"))

	ts.Client = newClient(t)
	resp, _ = ts.post(t, "/login/", url.Values{
		"email": {"carol@example.com"}, "password": {strongPassword}, "next": {"/dashboard/?tab=1"},
	})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/dashboard/?tab=1", resp.Header.Get("Location"))
}

func TestSessionIdleExpiryOverHTTP(t *testing.T) {
	ts := newTestSite(t)
	ts.createVerified(t, "dave@example.com", au.RoleUser)
	require.Equal(t, http.StatusFound, ts.login(t, "dave@example.com", strongPassword).StatusCode)

	ts.Clock.Advance(au.DefaultIdleTimeout)
	resp, _ := ts.get(t, "/dashboard/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ts.Clock.Advance(au.DefaultIdleTimeout + time.Second)
	resp, _ = ts.get(t, "/dashboard/")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), "/login/"))
}

func TestPasswordResetOverHTTP(t *testing.T) {
	ts := newTestSite(t)
	ts.createVerified(t, "erin@example.com", au.RoleUser)

	for _, email := range []string{"erin@example.com", "ghost@example.com"} {
		resp, _ := ts.post(t, "/password-reset/", url.Values{"email": {email}})
		require.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/login/", resp.Header.Get("Location"))
		_, body := ts.get(t, "/login/")
		assert.Contains(t, body, "If an account exists with this email, you will receive password reset instructions.")
	}
	require.Len(t, ts.Email.Sent(), 1)
	sent, _ := ts.Email.Last()
	link := linkPath(t, sent.Link)

	resp, _ := ts.get(t, link)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := ts.post(t, link, url.Values{"password": {"Brand.New9"}, "password_confirm": {"Brand.New8"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Passwords do not match.")

	resp, _ = ts.post(t, link, url.Values{"password": {"Brand.New9"}, "password_confirm": {"Brand.New9"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login/", resp.Header.Get("Location"))
	_, body = ts.get(t, "/login/")
	assert.Contains(t, body, "Password has been reset successfully. Please login with your new password.")

	resp, _ = ts.get(t, link)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/password-reset/", resp.Header.Get("Location"))
	_, body = ts.get(t, "/password-reset/")
	assert.Contains(t, body, au.MsgInvalidLink)

	assert.Equal(t, http.StatusUnauthorized, ts.login(t, "erin@example.com", strongPassword).StatusCode)
	assert.Equal(t, http.StatusFound, ts.login(t, "erin@example.com", "Brand.New9").StatusCode)
}

func TestAdminDashboard(t *testing.T) {
	ts := newTestSite(t)
	ts.createVerified(t, "root@example.com", au.RoleAdmin)
	user := ts.createVerified(t, "user@example.com", au.RoleUser)
	_, err := ts.Accounts.Signup(context.Background(), signupForm("pending@example.com"))
	require.NoError(t, err)

	require.Equal(t, http.StatusFound, ts.login(t, "root@example.com", strongPassword).StatusCode)
	resp, body := ts.get(t, "/admin-dashboard/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `<span id="total-users">3</span>`)
	assert.Contains(t, body, `<span id="verified-users">2</span>`)
	assert.Contains(t, body, `<span id="admin-users">1</span>`)
	assert.Contains(t, body, "pending@example.com")

	resp, _ = ts.post(t, "/admin-dashboard/users/"+au.EncodeUID(user.User.ID)+"/role/", url.Values{"role": {"admin"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	_, body = ts.get(t, "/admin-dashboard/")
	assert.Contains(t, body, "Role updated.")
	assert.Contains(t, body, `<span id="admin-users">2</span>`)

	root, err := ts.Accounts.Lookup(context.Background(), "root@example.com")
	require.NoError(t, err)
	ts.post(t, "/admin-dashboard/users/"+au.EncodeUID(root.User.ID)+"/role/", url.Values{"role": {"user"}})
	_, body = ts.get(t, "/admin-dashboard/")
	assert.Contains(t, body, "You cannot change your own role.")

	ts.post(t, "/admin-dashboard/users/"+au.EncodeUID(user.User.ID)+"/role/", url.Values{"role": {"owner"}})
	_, body = ts.get(t, "/admin-dashboard/")
	assert.Contains(t, body, "owner is not one of the available choices.")
}

func TestVerifyPendingHidesStatusFromOtherSessions(t *testing.T) {
	ts := newTestSite(t)
	resp, _ := ts.post(t, "/signup/", url.Values{
		"email":            {"pia@example.com"},
		"password":         {strongPassword},
		"password_confirm": {strongPassword},
	})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	pending := resp.Header.Get("Location")

	sent, ok := ts.Email.Last()
	require.True(t, ok)
	resp, _ = ts.get(t, linkPath(t, sent.Link))
	require.Equal(t, http.StatusFound, resp.StatusCode)

	stranger := newClient(t)
	resp, err := stranger.Get(ts.Server.URL + pending)
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, body, "already verified")

	resp, _ = ts.get(t, pending)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login/", resp.Header.Get("Location"))
	_, body = ts.get(t, "/login/")
	assert.Contains(t, body, "Your email is already verified. Please login.")
}

func TestGuardUnverifiedAccount(t *testing.T) {
	ts := newTestSite(t)
	a := account(true, false, au.RoleUser)

	reached := false
	h := ts.Sessions.Manager.LoadAndSave(ts.Guard(au.RequireVerified, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	})))
	req := httptest.NewRequest(http.MethodGet, "/dashboard/", nil)
	req = req.WithContext(au.WithAccount(req.Context(), a))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.False(t, reached)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, au.VerifyPendingPath(a.User.ID), rec.Header().Get("Location"))
}

func TestGuardAdminRole(t *testing.T) {
	ts := newTestSite(t)
	h := ts.Sessions.Manager.LoadAndSave(ts.Guard(au.RequireAdmin, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	for _, tt := range []struct {
		name    string
		account *au.Account
		want    int
	}{
		{"user", account(true, true, au.RoleUser), http.StatusForbidden},
		{"admin", account(true, true, au.RoleAdmin), http.StatusTeapot},
	} {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin-dashboard/", nil)
			req = req.WithContext(au.WithAccount(req.Context(), tt.account))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAllowedHosts(t *testing.T) {
	ts := newTestSite(t, func(o *au.Options) {
		o.AllowedHosts = []string{"example.com", ".example.org"}
	})
	tests := []struct {
		host string
		want int
	}{
		{"example.com", http.StatusOK},
		{"example.com:8000", http.StatusOK},
		{"example.org", http.StatusOK},
		{"www.example.org", http.StatusOK},
		{"evil.com", http.StatusBadRequest},
		{"notexample.com", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Host = tt.host
			rec := httptest.NewRecorder()
			ts.Handler().ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestDebugAllowsLocalhost(t *testing.T) {
	ts := newTestSite(t, func(o *au.Options) {
		o.AllowedHosts = nil
		o.Debug = true
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "localhost:8000"
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

var csrfInput = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

func TestCSRFProtection(t *testing.T) {
	ts := newTestSite(t, func(o *au.Options) {
		o.CSRF = au.CSRFOptions{}
	})

	resp, body := ts.post(t, "/login/", url.Values{"email": {"a@example.com"}, "password": {strongPassword}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, "CSRF verification failed. Request aborted.")

	_, body = ts.get(t, "/login/")
	m := csrfInput.FindStringSubmatch(body)
	require.Len(t, m, 2, "login page should carry a csrf token")

	resp, _ = ts.post(t, "/login/", url.Values{
		"csrf_token": {m[1]}, "email": {"a@example.com"}, "password": {strongPassword},
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNotFound(t *testing.T) {
	ts := newTestSite(t)
	resp, body := ts.get(t, "/no-such-page/")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "Page not found")
}

func TestNewSiteRequiresSecret(t *testing.T) {
	_, err := au.NewSite(au.Options{}, nil, nil, nil)
	assert.Error(t, err)
}

func TestDeriveKey(t *testing.T) {
	assert.Len(t, au.DeriveKey("s", "a"), 32)
	assert.NotEqual(t, au.DeriveKey("s", "a"), au.DeriveKey("s", "b"))
	assert.NotEqual(t, au.DeriveKey("s", "a"), au.DeriveKey("t", "a"))
	assert.Equal(t, au.DeriveKey("s", "a"), au.DeriveKey("s", "a"))
}
