//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	ac "github.com/panyam/authcore"
)

// StringSlice is a helper type for storing string slices in GORM
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringSlice) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("cannot scan %T into StringSlice", value)
	}
}

// IdentityModel is the GORM model for identities
type IdentityModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	Username     string `gorm:"size:64;uniqueIndex;not null"`
	Email        string `gorm:"size:255;uniqueIndex;not null"`
	PasswordHash string `gorm:"size:255"`
	RoleID       int    `gorm:"not null;index"`
	FirstName    string `gorm:"size:128"`
	LastName     string `gorm:"size:128"`
	AvatarURL    string `gorm:"size:1024"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (IdentityModel) TableName() string {
	return "identities"
}

func (m *IdentityModel) ToIdentity() (*ac.Identity, error) {
	role, err := ac.RoleFromID(m.RoleID)
	if err != nil {
		return nil, ac.Wrap(ac.KindInternal, "stored identity has an unknown role", err)
	}
	return &ac.Identity{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         role,
		FirstName:    m.FirstName,
		LastName:     m.LastName,
		AvatarURL:    m.AvatarURL,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}, nil
}

func IdentityToModel(i *ac.Identity) *IdentityModel {
	return &IdentityModel{
		ID:           i.ID,
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

// ResetTokenModel is the GORM model for password reset tokens
type ResetTokenModel struct {
	Token      string    `gorm:"primaryKey;size:128"`
	IdentityID string    `gorm:"size:64;index;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	ExpiresAt  time.Time `gorm:"index"`
}

func (ResetTokenModel) TableName() string {
	return "password_reset_tokens"
}

func (m *ResetTokenModel) ToResetToken() *ac.ResetToken {
	return &ac.ResetToken{
		Token:      m.Token,
		IdentityID: m.IdentityID,
		CreatedAt:  m.CreatedAt,
		ExpiresAt:  m.ExpiresAt,
	}
}

func ResetTokenToModel(t *ac.ResetToken) *ResetTokenModel {
	return &ResetTokenModel{
		Token:      t.Token,
		IdentityID: t.IdentityID,
		CreatedAt:  t.CreatedAt,
		ExpiresAt:  t.ExpiresAt,
	}
}

// AuditEventModel is the GORM model for audit events
type AuditEventModel struct {
	ID         uint        `gorm:"primaryKey;autoIncrement"`
	Action     string      `gorm:"size:64;index;not null"`
	ActorID    string      `gorm:"size:64;index"`
	SubjectIDs StringSlice `gorm:"type:text"`
	Status     string      `gorm:"size:16;not null"`
	Message    string      `gorm:"size:512"`
	OccurredAt time.Time   `gorm:"index"`
}

func (AuditEventModel) TableName() string {
	return "audit_events"
}

func (m *AuditEventModel) ToAuditEvent() ac.AuditEvent {
	return ac.AuditEvent{
		Action:     m.Action,
		ActorID:    m.ActorID,
		SubjectIDs: m.SubjectIDs,
		Status:     m.Status,
		Message:    m.Message,
		OccurredAt: m.OccurredAt,
	}
}

func AuditEventToModel(e ac.AuditEvent) *AuditEventModel {
	return &AuditEventModel{
		Action:     e.Action,
		ActorID:    e.ActorID,
		SubjectIDs: StringSlice(e.SubjectIDs),
		Status:     e.Status,
		Message:    e.Message,
		OccurredAt: e.OccurredAt,
	}
}
