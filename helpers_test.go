package authsite_test

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	au "github.com/panyam/authsite"
	"github.com/panyam/authsite/stores"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const strongPassword = "Strong123!"

// fakeClock is a manually advanced clock shared by the policies under test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestAccounts builds the account service on a file store in a temp dir
func newTestAccounts(t *testing.T) (*au.Accounts, *au.RecordingEmailSender, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	tokens, err := au.NewTokenPolicy(au.TokenConfig{Secret: []byte("test-secret"), Now: clock.Now})
	require.NoError(t, err)
	sender := &au.RecordingEmailSender{}
	return &au.Accounts{
		Store:      stores.NewFSAccountStore(t.TempDir()),
		Tokens:     tokens,
		Email:      sender,
		BaseURL:    "http://example.test",
		BcryptCost: bcrypt.MinCost,
		Now:        clock.Now,
	}, sender, clock
}

// linkParts extracts the uid and token from a verification or reset link
func linkParts(t *testing.T, link string) (uid, token string) {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	require.Len(t, parts, 3, "unexpected link %s", link)
	return parts[1], parts[2]
}

func linkPath(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Path
}

// signupVerified creates an account through signup and consumes its link
func signupVerified(t *testing.T, accounts *au.Accounts, sender *au.RecordingEmailSender, email string) *au.Account {
	t.Helper()
	ctx := context.Background()
	_, err := accounts.Signup(ctx, au.SignupForm{Email: email, Password: strongPassword, PasswordConfirm: strongPassword})
	require.NoError(t, err)
	last, ok := sender.Last()
	require.True(t, ok)
	uid, token := linkParts(t, last.Link)
	account, err := accounts.VerifyEmail(ctx, uid, token)
	require.NoError(t, err)
	return account
}

type testSite struct {
	*au.Site
	Server *httptest.Server
	Client *http.Client
	Email  *au.RecordingEmailSender
	Clock  *fakeClock
}

// newTestSite starts the site on an httptest server with CSRF checks off.
// The client keeps cookies and does not follow redirects.
func newTestSite(t *testing.T, configure ...func(*au.Options)) *testSite {
	t.Helper()
	clock := newFakeClock()
	opts := au.Options{
		SecretKey:    "test-secret",
		AllowedHosts: []string{"127.0.0.1", "localhost"},
		BaseURL:      "http://example.test",
		CSRF:         au.CSRFOptions{Disabled: true},
		BcryptCost:   bcrypt.MinCost,
		Now:          clock.Now,
	}
	for _, fn := range configure {
		fn(&opts)
	}
	sender := &au.RecordingEmailSender{}
	site, err := au.NewSite(opts, stores.NewFSAccountStore(t.TempDir()), nil, sender)
	require.NoError(t, err)

	server := httptest.NewServer(site.Handler())
	t.Cleanup(server.Close)
	return &testSite{Site: site, Server: server, Client: newClient(t), Email: sender, Clock: clock}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (ts *testSite) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := ts.Client.Get(ts.Server.URL + path)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func (ts *testSite) post(t *testing.T, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := ts.Client.PostForm(ts.Server.URL+path, form)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func (ts *testSite) login(t *testing.T, email, password string) *http.Response {
	t.Helper()
	resp, _ := ts.post(t, "/login/", url.Values{"email": {email}, "password": {password}})
	return resp
}

// createVerified adds an active, verified account without going through email
func (ts *testSite) createVerified(t *testing.T, email string, role au.Role) *au.Account {
	t.Helper()
	account, err := ts.Accounts.CreateUser(context.Background(), email, strongPassword, role, true)
	require.NoError(t, err)
	return account
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}
