package stores_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	au "github.com/panyam/authsite"
	"github.com/panyam/authsite/stores"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccount(id, email string, created time.Time) (*au.User, *au.Profile) {
	user := &au.User{ID: id, Email: email, PasswordHash: "hash-" + id, CreatedAt: created}
	profile := &au.Profile{UserID: id, Role: au.RoleUser, CreatedAt: created, UpdatedAt: created}
	return user, profile
}

func TestFSAccountStoreCreateAndGet(t *testing.T) {
	dir := t.TempDir()
	s := stores.NewFSAccountStore(dir)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	user, profile := newAccount("u1", "alice@example.com", now)
	require.NoError(t, s.CreateAccount(ctx, user, profile))

	got, err := s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.True(t, got.CreatedAt.Equal(now))

	byEmail, err := s.GetUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", byEmail.ID)

	p, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, au.RoleUser, p.Role)

	assert.FileExists(t, filepath.Join(dir, "accounts", "u1.json"))
	assert.FileExists(t, filepath.Join(dir, "emails", "alice@example.com.json"))

	dup, dupProfile := newAccount("u2", "alice@example.com", now)
	assert.ErrorIs(t, s.CreateAccount(ctx, dup, dupProfile), au.ErrEmailTaken)

	_, err = s.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, au.ErrNotFound)
	_, err = s.GetUserByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, au.ErrNotFound)
	_, err = s.GetProfile(ctx, "missing")
	assert.ErrorIs(t, err, au.ErrNotFound)
}

func TestFSAccountStoreConsumeVerification(t *testing.T) {
	s := stores.NewFSAccountStore(t.TempDir())
	ctx := context.Background()
	now := time.Now().UTC()

	user, profile := newAccount("u1", "a@example.com", now)
	require.NoError(t, s.CreateAccount(ctx, user, profile))
	require.NoError(t, s.SetToken(ctx, "u1", au.PurposeVerification, "tok", now))

	assert.ErrorIs(t, s.ConsumeVerification(ctx, "u1", "other"), au.ErrInvalidToken)
	require.NoError(t, s.ConsumeVerification(ctx, "u1", "tok"))
	assert.ErrorIs(t, s.ConsumeVerification(ctx, "u1", "tok"), au.ErrInvalidToken)

	got, err := s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	p, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.EmailVerified)
	assert.Nil(t, p.VerificationToken)
	assert.Nil(t, p.VerificationIssuedAt)

	assert.ErrorIs(t, s.ConsumeVerification(ctx, "missing", "tok"), au.ErrNotFound)
}

func TestFSAccountStoreConsumeResetConcurrently(t *testing.T) {
	s := stores.NewFSAccountStore(t.TempDir())
	ctx := context.Background()
	now := time.Now().UTC()

	user, profile := newAccount("u1", "a@example.com", now)
	require.NoError(t, s.CreateAccount(ctx, user, profile))
	require.NoError(t, s.SetToken(ctx, "u1", au.PurposeReset, "reset-tok", now))

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- s.ConsumeReset(ctx, "u1", "reset-tok", "new-hash")
		}(i)
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, au.ErrInvalidToken)
		}
	}
	assert.Equal(t, 1, successes)

	got, err := s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)
}

func TestFSAccountStoreUpdates(t *testing.T) {
	s := stores.NewFSAccountStore(t.TempDir())
	ctx := context.Background()
	now := time.Now().UTC()

	user, profile := newAccount("u1", "a@example.com", now)
	require.NoError(t, s.CreateAccount(ctx, user, profile))

	require.NoError(t, s.SetToken(ctx, "u1", au.PurposeReset, "r", now))
	require.NoError(t, s.SetPassword(ctx, "u1", "changed"))
	p, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, p.ResetToken)

	require.NoError(t, s.SetRole(ctx, "u1", au.RoleAdmin))
	require.NoError(t, s.SetToken(ctx, "u1", au.PurposeVerification, "v", now))
	require.NoError(t, s.MarkVerified(ctx, "u1"))
	at := now.Add(time.Minute)
	require.NoError(t, s.RecordLogin(ctx, "u1", at))

	got, err := s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "changed", got.PasswordHash)
	assert.True(t, got.IsActive)
	require.NotNil(t, got.LastLoginAt)
	assert.True(t, got.LastLoginAt.Equal(at))

	p, err = s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, au.RoleAdmin, p.Role)
	assert.True(t, p.EmailVerified)
	assert.Nil(t, p.VerificationToken)

	assert.ErrorIs(t, s.SetRole(ctx, "missing", au.RoleAdmin), au.ErrNotFound)
}

func TestFSAccountStoreListAndCount(t *testing.T) {
	s := stores.NewFSAccountStore(t.TempDir())
	ctx := context.Background()

	stats, err := s.CountAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, au.AccountStats{}, stats)
	list, err := s.ListAccounts(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		user, profile := newAccount(string(rune('a'+i)), email, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, s.CreateAccount(ctx, user, profile))
	}
	require.NoError(t, s.MarkVerified(ctx, "a"))
	require.NoError(t, s.SetRole(ctx, "a", au.RoleAdmin))
	require.NoError(t, s.MarkVerified(ctx, "b"))

	stats, err = s.CountAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, au.AccountStats{Total: 3, Verified: 2, Admins: 1}, stats)

	list, err = s.ListAccounts(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c@example.com", list[0].User.Email)
	assert.Equal(t, "b@example.com", list[1].User.Email)

	list, err = s.ListAccounts(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a@example.com", list[0].User.Email)

	list, err = s.ListAccounts(ctx, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFSSessionStore(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	s := stores.NewFSSessionStore(dir)
	s.Now = func() time.Time { return now }

	require.NoError(t, s.Commit("tok1", []byte("data1"), now.Add(time.Minute)))
	require.NoError(t, s.Commit("tok2", []byte("data2"), now.Add(time.Hour)))

	b, found, err := s.Find("tok1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("data1"), b)

	_, found, err = s.Find("missing")
	require.NoError(t, err)
	assert.False(t, found)

	now = now.Add(2 * time.Minute)
	_, found, err = s.Find("tok1")
	require.NoError(t, err)
	assert.False(t, found)
	_, err = os.Stat(filepath.Join(dir, "sessions", "tok1.json"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, s.Commit("tok3", []byte("data3"), now.Add(-time.Second)))
	removed, err := s.DeleteExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, found, err = s.Find("tok2")
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, s.Delete("tok2"))
	require.NoError(t, s.Delete("tok2"))
	_, found, _ = s.Find("tok2")
	assert.False(t, found)
}
