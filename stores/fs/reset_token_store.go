package fs

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	ac "github.com/panyam/authcore"
)

// FSResetTokenStore stores reset tokens as JSON files named by the hash of
// the token value.
type FSResetTokenStore struct {
	StoragePath string
	mu          sync.RWMutex
}

func NewFSResetTokenStore(storagePath string) *FSResetTokenStore {
	return &FSResetTokenStore{StoragePath: storagePath}
}

func (s *FSResetTokenStore) tokenDir() string {
	return filepath.Join(s.StoragePath, "reset_tokens")
}

func (s *FSResetTokenStore) tokenPath(token string) string {
	return filepath.Join(s.tokenDir(), keyName(token))
}

func (s *FSResetTokenStore) CreateResetToken(_ context.Context, token *ac.ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSON(s.tokenPath(token.Token), token); err != nil {
		return ac.Wrap(ac.KindInternal, "failed to write reset token", err)
	}
	return nil
}

func (s *FSResetTokenStore) FindResetToken(_ context.Context, token string) (*ac.ResetToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rt ac.ResetToken
	ok, err := readJSON(s.tokenPath(token), &rt)
	if err != nil {
		return nil, ac.Wrap(ac.KindInternal, "failed to read reset token", err)
	}
	if !ok || rt.Token != token {
		return nil, ac.ErrNotFound
	}
	return &rt, nil
}

func (s *FSResetTokenStore) DeleteResetTokensForIdentity(_ context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.tokenDir())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return ac.Wrap(ac.KindInternal, "failed to list reset tokens", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(s.tokenDir(), entry.Name())
		var rt ac.ResetToken
		if ok, err := readJSON(path, &rt); err != nil || !ok {
			continue
		}
		if rt.IdentityID == identityID {
			if err := removeFile(path); err != nil {
				return ac.Wrap(ac.KindInternal, "failed to delete reset token", err)
			}
		}
	}
	return nil
}
