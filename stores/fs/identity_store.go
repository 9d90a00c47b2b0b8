package fs

import (
	"context"
	"path/filepath"
	"sync"

	ac "github.com/panyam/authcore"
)

// indexEntry maps a username or email to an identity id.
type indexEntry struct {
	Key        string `json:"key"`
	IdentityID string `json:"identity_id"`
}

// fsIdentity is the on-disk record. Identity hides the hash from JSON so it
// is carried separately.
type fsIdentity struct {
	ac.Identity
	PasswordHash string `json:"password_hash,omitempty"`
}

func toRecord(identity *ac.Identity) *fsIdentity {
	return &fsIdentity{Identity: *identity, PasswordHash: identity.PasswordHash}
}

// FSIdentityStore stores identities as JSON files.
//
//	{StoragePath}/
//	├── identities/{id}.json
//	├── usernames/{sha256(username)}.json
//	└── emails/{sha256(email)}.json
//
// The username and email indexes enforce uniqueness within one process.
// Lookups are exact and case-sensitive.
type FSIdentityStore struct {
	StoragePath string
	mu          sync.RWMutex
}

func NewFSIdentityStore(storagePath string) *FSIdentityStore {
	return &FSIdentityStore{StoragePath: storagePath}
}

func (s *FSIdentityStore) identityPath(id string) string {
	return filepath.Join(s.StoragePath, "identities", filepath.Base(id)+".json")
}

func (s *FSIdentityStore) usernamePath(username string) string {
	return filepath.Join(s.StoragePath, "usernames", keyName(username))
}

func (s *FSIdentityStore) emailPath(email string) string {
	return filepath.Join(s.StoragePath, "emails", keyName(email))
}

func (s *FSIdentityStore) FindByID(_ context.Context, id string) (*ac.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readIdentity(id)
}

func (s *FSIdentityStore) FindByUsername(_ context.Context, username string) (*ac.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findByIndex(s.usernamePath(username), username)
}

func (s *FSIdentityStore) FindByEmail(_ context.Context, email string) (*ac.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findByIndex(s.emailPath(email), email)
}

func (s *FSIdentityStore) CreateIdentity(_ context.Context, identity *ac.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.readIdentity(identity.ID); err == nil {
		return ac.NewAuthError(ac.KindConflict, "", "identity already exists", "")
	}
	if err := s.checkFree(s.usernamePath(identity.Username), identity.Username, "", ac.ErrCodeUsernameTaken, "username"); err != nil {
		return err
	}
	if err := s.checkFree(s.emailPath(identity.Email), identity.Email, "", ac.ErrCodeEmailExists, "email"); err != nil {
		return err
	}

	if err := writeJSON(s.identityPath(identity.ID), toRecord(identity)); err != nil {
		return ac.Wrap(ac.KindInternal, "failed to write identity", err)
	}
	return s.writeIndexes(identity)
}

func (s *FSIdentityStore) UpdateIdentity(_ context.Context, identity *ac.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readIdentity(identity.ID)
	if err != nil {
		return err
	}
	if err := s.checkFree(s.usernamePath(identity.Username), identity.Username, identity.ID, ac.ErrCodeUsernameTaken, "username"); err != nil {
		return err
	}
	if err := s.checkFree(s.emailPath(identity.Email), identity.Email, identity.ID, ac.ErrCodeEmailExists, "email"); err != nil {
		return err
	}

	if err := writeJSON(s.identityPath(identity.ID), toRecord(identity)); err != nil {
		return ac.Wrap(ac.KindInternal, "failed to write identity", err)
	}
	if existing.Username != identity.Username {
		if err := removeFile(s.usernamePath(existing.Username)); err != nil {
			return ac.Wrap(ac.KindInternal, "failed to release username", err)
		}
	}
	if existing.Email != identity.Email {
		if err := removeFile(s.emailPath(existing.Email)); err != nil {
			return ac.Wrap(ac.KindInternal, "failed to release email", err)
		}
	}
	return s.writeIndexes(identity)
}

func (s *FSIdentityStore) DeleteIdentity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readIdentity(id)
	if err != nil {
		return err
	}
	for _, path := range []string{s.usernamePath(existing.Username), s.emailPath(existing.Email), s.identityPath(id)} {
		if err := removeFile(path); err != nil {
			return ac.Wrap(ac.KindInternal, "failed to delete identity", err)
		}
	}
	return nil
}

func (s *FSIdentityStore) readIdentity(id string) (*ac.Identity, error) {
	if id == "" {
		return nil, ac.ErrNotFound
	}
	var rec fsIdentity
	ok, err := readJSON(s.identityPath(id), &rec)
	if err != nil {
		return nil, ac.Wrap(ac.KindInternal, "failed to read identity", err)
	}
	if !ok {
		return nil, ac.ErrNotFound
	}
	identity := rec.Identity
	identity.PasswordHash = rec.PasswordHash
	return &identity, nil
}

func (s *FSIdentityStore) findByIndex(path, key string) (*ac.Identity, error) {
	var entry indexEntry
	ok, err := readJSON(path, &entry)
	if err != nil {
		return nil, ac.Wrap(ac.KindInternal, "failed to read index", err)
	}
	if !ok || entry.Key != key {
		return nil, ac.ErrNotFound
	}
	return s.readIdentity(entry.IdentityID)
}

// checkFree fails with ErrConflict when key is indexed to an identity other than owner.
func (s *FSIdentityStore) checkFree(path, key, owner, code, field string) error {
	var entry indexEntry
	ok, err := readJSON(path, &entry)
	if err != nil {
		return ac.Wrap(ac.KindInternal, "failed to read index", err)
	}
	if ok && entry.Key == key && entry.IdentityID != owner {
		return ac.NewAuthError(ac.KindConflict, code, field+" is already in use", field)
	}
	return nil
}

func (s *FSIdentityStore) writeIndexes(identity *ac.Identity) error {
	if err := writeJSON(s.usernamePath(identity.Username), indexEntry{Key: identity.Username, IdentityID: identity.ID}); err != nil {
		return ac.Wrap(ac.KindInternal, "failed to index username", err)
	}
	if err := writeJSON(s.emailPath(identity.Email), indexEntry{Key: identity.Email, IdentityID: identity.ID}); err != nil {
		return ac.Wrap(ac.KindInternal, "failed to index email", err)
	}
	return nil
}
