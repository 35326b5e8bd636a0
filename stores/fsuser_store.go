package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	au "github.com/panyam/authsite"
)

// fsAccount is the on-disk record of one account
type fsAccount struct {
	User    au.User    `json:"user"`
	Profile au.Profile `json:"profile"`
}

// fsEmailIndex maps a normalized email to its user id
type fsEmailIndex struct {
	Email     string    `json:"email"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// FSAccountStore implements au.AccountStore with JSON files.
//
// # File Structure
//
//	{StoragePath}/
//	├── accounts/
//	│   └── {user_id}.json   # {"user": {...}, "profile": {...}}
//	└── emails/
//	    └── {email}.json     # {"email": "a@b.com", "user_id": "..."}
//
// All operations are serialized behind one mutex, which makes the
// compare-and-clear token operations atomic within a process. The store is
// not safe for several processes sharing one directory.
type FSAccountStore struct {
	StoragePath string
	mu          sync.Mutex
}

func NewFSAccountStore(storagePath string) *FSAccountStore {
	return &FSAccountStore{StoragePath: storagePath}
}

func (s *FSAccountStore) accountPath(userID string) string {
	return filepath.Join(s.StoragePath, "accounts", url.PathEscape(userID)+".json")
}

func (s *FSAccountStore) emailPath(email string) string {
	return filepath.Join(s.StoragePath, "emails", url.PathEscape(strings.ToLower(email))+".json")
}

func (s *FSAccountStore) read(userID string) (*fsAccount, error) {
	data, err := os.ReadFile(s.accountPath(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("user %s: %w", userID, au.ErrNotFound)
		}
		return nil, err
	}
	var rec fsAccount
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *FSAccountStore) write(rec *fsAccount) error {
	return writeJSONFile(s.accountPath(rec.User.ID), rec)
}

// update applies fn to one account under the store lock and persists it
func (s *FSAccountStore) update(userID string, fn func(rec *fsAccount) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.read(userID)
	if err != nil {
		return err
	}
	if err := fn(rec); err != nil {
		return err
	}
	rec.Profile.UpdatedAt = time.Now().UTC()
	return s.write(rec)
}

func (s *FSAccountStore) CreateAccount(ctx context.Context, user *au.User, profile *au.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idxPath := s.emailPath(user.Email)
	if _, err := os.Stat(idxPath); err == nil {
		return au.ErrEmailTaken
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := writeJSONFile(s.accountPath(user.ID), &fsAccount{User: *user, Profile: *profile}); err != nil {
		return err
	}
	return writeJSONFile(idxPath, &fsEmailIndex{Email: user.Email, UserID: user.ID, CreatedAt: user.CreatedAt})
}

func (s *FSAccountStore) GetUserByID(ctx context.Context, userID string) (*au.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.read(userID)
	if err != nil {
		return nil, err
	}
	return &rec.User, nil
}

func (s *FSAccountStore) GetUserByEmail(ctx context.Context, email string) (*au.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.emailPath(email))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("email %s: %w", email, au.ErrNotFound)
		}
		return nil, err
	}
	var idx fsEmailIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, err
	}
	rec, err := s.read(idx.UserID)
	if err != nil {
		return nil, err
	}
	return &rec.User, nil
}

func (s *FSAccountStore) GetProfile(ctx context.Context, userID string) (*au.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.read(userID)
	if err != nil {
		return nil, err
	}
	return &rec.Profile, nil
}

func (s *FSAccountStore) SetToken(ctx context.Context, userID string, purpose au.Purpose, token string, issuedAt time.Time) error {
	return s.update(userID, func(rec *fsAccount) error {
		rec.Profile.SetTokenSlot(purpose, token, issuedAt)
		return nil
	})
}

func (s *FSAccountStore) ConsumeVerification(ctx context.Context, userID, token string) error {
	return s.update(userID, func(rec *fsAccount) error {
		p := &rec.Profile
		if p.VerificationToken == nil || *p.VerificationToken != token {
			return au.ErrInvalidToken
		}
		p.VerificationToken, p.VerificationIssuedAt = nil, nil
		p.EmailVerified = true
		rec.User.IsActive = true
		return nil
	})
}

func (s *FSAccountStore) ConsumeReset(ctx context.Context, userID, token, passwordHash string) error {
	return s.update(userID, func(rec *fsAccount) error {
		p := &rec.Profile
		if p.ResetToken == nil || *p.ResetToken != token {
			return au.ErrInvalidToken
		}
		p.ResetToken, p.ResetIssuedAt = nil, nil
		rec.User.PasswordHash = passwordHash
		return nil
	})
}

func (s *FSAccountStore) SetPassword(ctx context.Context, userID, passwordHash string) error {
	return s.update(userID, func(rec *fsAccount) error {
		rec.User.PasswordHash = passwordHash
		rec.Profile.ResetToken, rec.Profile.ResetIssuedAt = nil, nil
		return nil
	})
}

func (s *FSAccountStore) SetRole(ctx context.Context, userID string, role au.Role) error {
	return s.update(userID, func(rec *fsAccount) error {
		rec.Profile.Role = role
		return nil
	})
}

func (s *FSAccountStore) MarkVerified(ctx context.Context, userID string) error {
	return s.update(userID, func(rec *fsAccount) error {
		rec.Profile.EmailVerified = true
		rec.Profile.VerificationToken, rec.Profile.VerificationIssuedAt = nil, nil
		rec.User.IsActive = true
		return nil
	})
}

func (s *FSAccountStore) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	return s.update(userID, func(rec *fsAccount) error {
		rec.User.LastLoginAt = &at
		return nil
	})
}

func (s *FSAccountStore) all() ([]fsAccount, error) {
	entries, err := os.ReadDir(filepath.Join(s.StoragePath, "accounts"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []fsAccount
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.StoragePath, "accounts", e.Name()))
		if err != nil {
			return nil, err
		}
		var rec fsAccount
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *FSAccountStore) ListAccounts(ctx context.Context, offset, limit int) ([]au.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.all()
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].User.CreatedAt.After(recs[j].User.CreatedAt)
	})
	if offset > len(recs) {
		offset = len(recs)
	}
	recs = recs[offset:]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	out := make([]au.Account, len(recs))
	for i := range recs {
		out[i] = au.Account{User: &recs[i].User, Profile: &recs[i].Profile}
	}
	return out, nil
}

func (s *FSAccountStore) CountAccounts(ctx context.Context) (au.AccountStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.all()
	if err != nil {
		return au.AccountStats{}, err
	}
	var stats au.AccountStats
	for _, rec := range recs {
		stats.Total++
		if rec.Profile.EmailVerified {
			stats.Verified++
		}
		if rec.Profile.Role == au.RoleAdmin {
			stats.Admins++
		}
	}
	return stats, nil
}
