//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"

	ac "github.com/panyam/authcore"
)

// IdentityEntity is the Datastore entity for identities
type IdentityEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	Username     string         `datastore:"username"`
	Email        string         `datastore:"email"`
	PasswordHash string         `datastore:"password_hash,noindex"`
	RoleID       int            `datastore:"role_id"`
	FirstName    string         `datastore:"first_name,noindex"`
	LastName     string         `datastore:"last_name,noindex"`
	AvatarURL    string         `datastore:"avatar_url,noindex"`
	CreatedAt    time.Time      `datastore:"created_at"`
	UpdatedAt    time.Time      `datastore:"updated_at"`
	Version      int            `datastore:"version"`
}

func (e *IdentityEntity) ToIdentity() (*ac.Identity, error) {
	role, err := ac.RoleFromID(e.RoleID)
	if err != nil {
		return nil, ac.Wrap(ac.KindInternal, "stored identity has an unknown role", err)
	}
	return &ac.Identity{
		ID:           e.Key.Name,
		Username:     e.Username,
		Email:        e.Email,
		PasswordHash: e.PasswordHash,
		Role:         role,
		FirstName:    e.FirstName,
		LastName:     e.LastName,
		AvatarURL:    e.AvatarURL,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}, nil
}

func IdentityToEntity(i *ac.Identity, key *datastore.Key) *IdentityEntity {
	return &IdentityEntity{
		Key:          key,
		Username:     i.Username,
		Email:        i.Email,
		PasswordHash: i.PasswordHash,
		RoleID:       i.Role.ID(),
		FirstName:    i.FirstName,
		LastName:     i.LastName,
		AvatarURL:    i.AvatarURL,
		CreatedAt:    i.CreatedAt,
		UpdatedAt:    i.UpdatedAt,
	}
}

// ClaimEntity reserves a username or email for one identity.
type ClaimEntity struct {
	IdentityID string    `datastore:"identity_id"`
	CreatedAt  time.Time `datastore:"created_at"`
}

// ResetTokenEntity is the Datastore entity for reset tokens
// Key name: the token value
type ResetTokenEntity struct {
	IdentityID string    `datastore:"identity_id"`
	CreatedAt  time.Time `datastore:"created_at"`
	ExpiresAt  time.Time `datastore:"expires_at"`
}

func (e *ResetTokenEntity) ToResetToken(token string) *ac.ResetToken {
	return &ac.ResetToken{
		Token:      token,
		IdentityID: e.IdentityID,
		CreatedAt:  e.CreatedAt,
		ExpiresAt:  e.ExpiresAt,
	}
}

// AuditEventEntity is the Datastore entity for audit events
type AuditEventEntity struct {
	Action     string    `datastore:"action"`
	ActorID    string    `datastore:"actor_id"`
	SubjectIDs []string  `datastore:"subject_ids"`
	Status     string    `datastore:"status"`
	Message    string    `datastore:"message,noindex"`
	OccurredAt time.Time `datastore:"occurred_at"`
}

func (e *AuditEventEntity) ToAuditEvent() ac.AuditEvent {
	return ac.AuditEvent{
		Action:     e.Action,
		ActorID:    e.ActorID,
		SubjectIDs: e.SubjectIDs,
		Status:     e.Status,
		Message:    e.Message,
		OccurredAt: e.OccurredAt,
	}
}
