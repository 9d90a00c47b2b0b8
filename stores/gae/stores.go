//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	ac "github.com/panyam/authcore"
)

// Kind constants for Datastore entities
const (
	KindIdentity   = "Identity"
	KindUsername   = "Username"
	KindEmail      = "Email"
	KindResetToken = "ResetToken"
	KindAuditEvent = "AuditEvent"
)

// base carries the client and namespace shared by every store.
type base struct {
	client    *datastore.Client
	namespace string
}

func (b base) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = b.namespace
	return key
}

func (b base) query(kind string) *datastore.Query {
	q := datastore.NewQuery(kind)
	if b.namespace != "" {
		q = q.Namespace(b.namespace)
	}
	return q
}

// ============================================================================
// IdentityStore
// ============================================================================

// IdentityStore implements ac.CredentialStore using Google Cloud Datastore
type IdentityStore struct {
	base
}

func NewIdentityStore(client *datastore.Client, namespace string) *IdentityStore {
	return &IdentityStore{base{client: client, namespace: namespace}}
}

func (s *IdentityStore) FindByID(ctx context.Context, id string) (*ac.Identity, error) {
	if id == "" {
		return nil, ac.ErrNotFound
	}
	var entity IdentityEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindIdentity, id), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ac.ErrNotFound
		}
		return nil, ac.Wrap(ac.KindInternal, "failed to get identity", err)
	}
	return entity.ToIdentity()
}

func (s *IdentityStore) FindByUsername(ctx context.Context, username string) (*ac.Identity, error) {
	return s.findByClaim(ctx, KindUsername, username)
}

func (s *IdentityStore) FindByEmail(ctx context.Context, email string) (*ac.Identity, error) {
	return s.findByClaim(ctx, KindEmail, email)
}

func (s *IdentityStore) findByClaim(ctx context.Context, kind, value string) (*ac.Identity, error) {
	if value == "" {
		return nil, ac.ErrNotFound
	}
	var claim ClaimEntity
	if err := s.client.Get(ctx, s.namespacedKey(kind, value), &claim); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ac.ErrNotFound
		}
		return nil, ac.Wrap(ac.KindInternal, "failed to get "+kind+" claim", err)
	}
	return s.FindByID(ctx, claim.IdentityID)
}

func (s *IdentityStore) CreateIdentity(ctx context.Context, identity *ac.Identity) error {
	key := s.namespacedKey(KindIdentity, identity.ID)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing IdentityEntity
		if err := tx.Get(key, &existing); err == nil {
			return ac.NewAuthError(ac.KindConflict, "", "identity already exists", "")
		} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		if err := s.claim(tx, KindUsername, identity.Username, identity.ID, identity.CreatedAt); err != nil {
			return err
		}
		if err := s.claim(tx, KindEmail, identity.Email, identity.ID, identity.CreatedAt); err != nil {
			return err
		}
		entity := IdentityToEntity(identity, key)
		entity.Version = 1
		_, err := tx.Put(key, entity)
		return err
	})
	return txError("failed to create identity", err)
}

func (s *IdentityStore) UpdateIdentity(ctx context.Context, identity *ac.Identity) error {
	key := s.namespacedKey(KindIdentity, identity.ID)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing IdentityEntity
		if err := tx.Get(key, &existing); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ac.ErrNotFound
			}
			return err
		}
		if existing.Username != identity.Username {
			if err := s.claim(tx, KindUsername, identity.Username, identity.ID, identity.UpdatedAt); err != nil {
				return err
			}
			if err := tx.Delete(s.namespacedKey(KindUsername, existing.Username)); err != nil {
				return err
			}
		}
		if existing.Email != identity.Email {
			if err := s.claim(tx, KindEmail, identity.Email, identity.ID, identity.UpdatedAt); err != nil {
				return err
			}
			if err := tx.Delete(s.namespacedKey(KindEmail, existing.Email)); err != nil {
				return err
			}
		}
		entity := IdentityToEntity(identity, key)
		entity.Version = existing.Version + 1
		_, err := tx.Put(key, entity)
		return err
	})
	return txError("failed to update identity", err)
}

func (s *IdentityStore) DeleteIdentity(ctx context.Context, id string) error {
	key := s.namespacedKey(KindIdentity, id)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing IdentityEntity
		if err := tx.Get(key, &existing); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ac.ErrNotFound
			}
			return err
		}
		return tx.DeleteMulti([]*datastore.Key{
			key,
			s.namespacedKey(KindUsername, existing.Username),
			s.namespacedKey(KindEmail, existing.Email),
		})
	})
	return txError("failed to delete identity", err)
}

// claim reserves value of kind for identityID inside tx.
func (s *IdentityStore) claim(tx *datastore.Transaction, kind, value, identityID string, at time.Time) error {
	key := s.namespacedKey(kind, value)
	var existing ClaimEntity
	err := tx.Get(key, &existing)
	if err == nil && existing.IdentityID != identityID {
		code, field := ac.ErrCodeUsernameTaken, "username"
		if kind == KindEmail {
			code, field = ac.ErrCodeEmailExists, "email"
		}
		return ac.NewAuthError(ac.KindConflict, code, field+" is already in use", field)
	}
	if err != nil && !errors.Is(err, datastore.ErrNoSuchEntity) {
		return err
	}
	_, err = tx.Put(key, &ClaimEntity{IdentityID: identityID, CreatedAt: at})
	return err
}

// txError keeps core kinds returned from inside a transaction.
func txError(message string, err error) error {
	if err == nil {
		return nil
	}
	var ae *ac.AuthError
	if errors.As(err, &ae) {
		return ae
	}
	return ac.Wrap(ac.KindInternal, message, err)
}

// ============================================================================
// ResetTokenStore
// ============================================================================

// ResetTokenStore implements ac.ResetTokenStore using Google Cloud Datastore
type ResetTokenStore struct {
	base
}

func NewResetTokenStore(client *datastore.Client, namespace string) *ResetTokenStore {
	return &ResetTokenStore{base{client: client, namespace: namespace}}
}

func (s *ResetTokenStore) CreateResetToken(ctx context.Context, token *ac.ResetToken) error {
	entity := &ResetTokenEntity{
		IdentityID: token.IdentityID,
		CreatedAt:  token.CreatedAt,
		ExpiresAt:  token.ExpiresAt,
	}
	if _, err := s.client.Put(ctx, s.namespacedKey(KindResetToken, token.Token), entity); err != nil {
		return ac.Wrap(ac.KindInternal, "failed to store reset token", err)
	}
	return nil
}

func (s *ResetTokenStore) FindResetToken(ctx context.Context, token string) (*ac.ResetToken, error) {
	if token == "" {
		return nil, ac.ErrNotFound
	}
	var entity ResetTokenEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindResetToken, token), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ac.ErrNotFound
		}
		return nil, ac.Wrap(ac.KindInternal, "failed to get reset token", err)
	}
	return entity.ToResetToken(token), nil
}

func (s *ResetTokenStore) DeleteResetTokensForIdentity(ctx context.Context, identityID string) error {
	query := s.query(KindResetToken).
		FilterField("identity_id", "=", identityID).
		KeysOnly()

	keys, err := s.client.GetAll(ctx, query, nil)
	if err != nil {
		return ac.Wrap(ac.KindInternal, "failed to list reset tokens", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.DeleteMulti(ctx, keys); err != nil {
		return ac.Wrap(ac.KindInternal, "failed to delete reset tokens", err)
	}
	return nil
}

// ============================================================================
// AuditStore
// ============================================================================

// AuditStore implements ac.AuditSink using Google Cloud Datastore
type AuditStore struct {
	base
}

func NewAuditStore(client *datastore.Client, namespace string) *AuditStore {
	return &AuditStore{base{client: client, namespace: namespace}}
}

func (s *AuditStore) Record(ctx context.Context, event ac.AuditEvent) error {
	key := datastore.IncompleteKey(KindAuditEvent, nil)
	key.Namespace = s.namespace
	entity := &AuditEventEntity{
		Action:     event.Action,
		ActorID:    event.ActorID,
		SubjectIDs: event.SubjectIDs,
		Status:     event.Status,
		Message:    event.Message,
		OccurredAt: event.OccurredAt,
	}
	if _, err := s.client.Put(ctx, key, entity); err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// ListForActor returns the most recent events of actorID, newest first.
func (s *AuditStore) ListForActor(ctx context.Context, actorID string, limit int) ([]ac.AuditEvent, error) {
	query := s.query(KindAuditEvent).
		FilterField("actor_id", "=", actorID).
		Order("-occurred_at")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var events []ac.AuditEvent
	it := s.client.Run(ctx, query)
	for {
		var entity AuditEventEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list audit events: %w", err)
		}
		events = append(events, entity.ToAuditEvent())
	}
	return events, nil
}
