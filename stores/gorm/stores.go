//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	ac "github.com/panyam/authcore"
)

// Open connects to driver ("postgres" or "sqlite") with TranslateError on
// so unique violations surface as gorm.ErrDuplicatedKey.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// sqlite has a single writer; concurrent connections fail with SQLITE_BUSY
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// AutoMigrate runs database migrations for all authcore tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&IdentityModel{},
		&ResetTokenModel{},
		&AuditEventModel{},
	)
}

// =============================================================================
// IdentityStore
// =============================================================================

// IdentityStore implements ac.CredentialStore using GORM
type IdentityStore struct {
	db *gorm.DB
}

func NewIdentityStore(db *gorm.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

func (s *IdentityStore) FindByUsername(ctx context.Context, username string) (*ac.Identity, error) {
	return s.first(ctx, "username = ?", username)
}

func (s *IdentityStore) FindByEmail(ctx context.Context, email string) (*ac.Identity, error) {
	return s.first(ctx, "email = ?", email)
}

func (s *IdentityStore) FindByID(ctx context.Context, id string) (*ac.Identity, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *IdentityStore) first(ctx context.Context, query string, arg any) (*ac.Identity, error) {
	var model IdentityModel
	if err := s.db.WithContext(ctx).First(&model, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ac.ErrNotFound
		}
		return nil, ac.Wrap(ac.KindInternal, "failed to query identity", err)
	}
	return model.ToIdentity()
}

func (s *IdentityStore) CreateIdentity(ctx context.Context, identity *ac.Identity) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkUnique(tx, identity); err != nil {
			return err
		}
		if err := tx.Create(IdentityToModel(identity)).Error; err != nil {
			return translate("failed to create identity", err)
		}
		return nil
	})
}

func (s *IdentityStore) UpdateIdentity(ctx context.Context, identity *ac.Identity) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&IdentityModel{}).Where("id = ?", identity.ID).Count(&count).Error; err != nil {
			return ac.Wrap(ac.KindInternal, "failed to query identity", err)
		}
		if count == 0 {
			return ac.ErrNotFound
		}
		if err := checkUnique(tx, identity); err != nil {
			return err
		}
		if err := tx.Select("*").Save(IdentityToModel(identity)).Error; err != nil {
			return translate("failed to update identity", err)
		}
		return nil
	})
}

func (s *IdentityStore) DeleteIdentity(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&IdentityModel{}, "id = ?", id)
	if res.Error != nil {
		return ac.Wrap(ac.KindInternal, "failed to delete identity", res.Error)
	}
	if res.RowsAffected == 0 {
		return ac.ErrNotFound
	}
	return nil
}

// checkUnique reports ErrConflict when another identity holds the username or email.
func checkUnique(tx *gorm.DB, identity *ac.Identity) error {
	var count int64
	if err := tx.Model(&IdentityModel{}).
		Where("username = ? AND id <> ?", identity.Username, identity.ID).
		Count(&count).Error; err != nil {
		return ac.Wrap(ac.KindInternal, "failed to check username", err)
	}
	if count > 0 {
		return ac.NewAuthError(ac.KindConflict, ac.ErrCodeUsernameTaken, "username is already in use", "username")
	}
	if err := tx.Model(&IdentityModel{}).
		Where("email = ? AND id <> ?", identity.Email, identity.ID).
		Count(&count).Error; err != nil {
		return ac.Wrap(ac.KindInternal, "failed to check email", err)
	}
	if count > 0 {
		return ac.NewAuthError(ac.KindConflict, ac.ErrCodeEmailExists, "email is already in use", "email")
	}
	return nil
}

// translate maps a write error to a core error kind.
func translate(message string, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ac.Wrap(ac.KindConflict, message, err)
	}
	return ac.Wrap(ac.KindInternal, message, err)
}

// =============================================================================
// ResetTokenStore
// =============================================================================

// ResetTokenStore implements ac.ResetTokenStore using GORM
type ResetTokenStore struct {
	db *gorm.DB
}

func NewResetTokenStore(db *gorm.DB) *ResetTokenStore {
	return &ResetTokenStore{db: db}
}

func (s *ResetTokenStore) CreateResetToken(ctx context.Context, token *ac.ResetToken) error {
	if err := s.db.WithContext(ctx).Create(ResetTokenToModel(token)).Error; err != nil {
		return translate("failed to create reset token", err)
	}
	return nil
}

func (s *ResetTokenStore) FindResetToken(ctx context.Context, token string) (*ac.ResetToken, error) {
	var model ResetTokenModel
	if err := s.db.WithContext(ctx).First(&model, "token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ac.ErrNotFound
		}
		return nil, ac.Wrap(ac.KindInternal, "failed to query reset token", err)
	}
	return model.ToResetToken(), nil
}

func (s *ResetTokenStore) DeleteResetTokensForIdentity(ctx context.Context, identityID string) error {
	if err := s.db.WithContext(ctx).Delete(&ResetTokenModel{}, "identity_id = ?", identityID).Error; err != nil {
		return ac.Wrap(ac.KindInternal, "failed to delete reset tokens", err)
	}
	return nil
}

// DeleteExpired removes tokens whose expiry has passed. Lookups already treat
// them as invalid; this only reclaims space.
func (s *ResetTokenStore) DeleteExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", time.Now().UTC()).Delete(&ResetTokenModel{})
	if res.Error != nil {
		return 0, ac.Wrap(ac.KindInternal, "failed to delete expired reset tokens", res.Error)
	}
	return res.RowsAffected, nil
}

// =============================================================================
// AuditStore
// =============================================================================

// AuditStore implements ac.AuditSink by inserting rows into audit_events.
type AuditStore struct {
	db *gorm.DB
}

func NewAuditStore(db *gorm.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Record(ctx context.Context, event ac.AuditEvent) error {
	if err := s.db.WithContext(ctx).Create(AuditEventToModel(event)).Error; err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// ListForActor returns the most recent events of actorID, newest first.
func (s *AuditStore) ListForActor(ctx context.Context, actorID string, limit int) ([]ac.AuditEvent, error) {
	var models []AuditEventModel
	q := s.db.WithContext(ctx).Where("actor_id = ?", actorID).Order("occurred_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	events := make([]ac.AuditEvent, 0, len(models))
	for i := range models {
		events = append(events, models[i].ToAuditEvent())
	}
	return events, nil
}
