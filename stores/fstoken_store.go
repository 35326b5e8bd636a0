package stores

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// fsSession is one stored session
type fsSession struct {
	Data      []byte    `json:"data"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FSSessionStore implements scs.Store with one JSON file per session token
type FSSessionStore struct {
	StoragePath string

	// Now defaults to time.Now
	Now func() time.Time
}

func NewFSSessionStore(storagePath string) *FSSessionStore {
	return &FSSessionStore{StoragePath: storagePath}
}

func (s *FSSessionStore) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *FSSessionStore) sessionPath(token string) string {
	// scs tokens are base64url so they are safe as file names
	return filepath.Join(s.StoragePath, "sessions", filepath.Base(token)+".json")
}

// Find returns the session data for token. Expired sessions are removed and
// reported as missing.
func (s *FSSessionStore) Find(token string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.sessionPath(token))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var sess fsSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, false, err
	}
	if !s.now().Before(sess.ExpiresAt) {
		return nil, false, s.Delete(token)
	}
	return sess.Data, true, nil
}

// Commit stores or replaces the session data for token
func (s *FSSessionStore) Commit(token string, b []byte, expiry time.Time) error {
	return writeJSONFile(s.sessionPath(token), &fsSession{Data: b, ExpiresAt: expiry})
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *FSSessionStore) Delete(token string) error {
	if err := os.Remove(s.sessionPath(token)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DeleteExpired removes every expired session file
func (s *FSSessionStore) DeleteExpired() (int, error) {
	dir := filepath.Join(s.StoragePath, "sessions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	now := s.now()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var sess fsSession
		if json.Unmarshal(data, &sess) != nil || !now.Before(sess.ExpiresAt) {
			if os.Remove(filepath.Join(dir, e.Name())) == nil {
				removed++
			}
		}
	}
	return removed, nil
}
