// Package storetest holds behaviour checks shared by every store backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ac "github.com/panyam/authcore"
)

func newIdentity(username, email string) *ac.Identity {
	now := time.Now().UTC().Truncate(time.Second)
	return &ac.Identity{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: "$2a$10$hash-" + username,
		Role:         ac.RoleMember,
		FirstName:    "First",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// CredentialStore runs the CredentialStore contract against a fresh, empty store.
func CredentialStore(t *testing.T, store ac.CredentialStore) {
	ctx := context.Background()

	alice := newIdentity("alice", "alice@example.com")
	require.NoError(t, store.CreateIdentity(ctx, alice))

	t.Run("FindByUsername", func(t *testing.T) {
		got, err := store.FindByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, got.ID)
		assert.Equal(t, alice.Email, got.Email)
		assert.Equal(t, alice.PasswordHash, got.PasswordHash)
		assert.Equal(t, ac.RoleMember, got.Role)
	})

	t.Run("FindByUsernameIsExact", func(t *testing.T) {
		_, err := store.FindByUsername(ctx, "ALICE")
		assert.ErrorIs(t, err, ac.ErrNotFound)
		_, err = store.FindByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, ac.ErrNotFound)
	})

	t.Run("FindByEmailAndID", func(t *testing.T) {
		got, err := store.FindByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, got.ID)

		got, err = store.FindByID(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Username)

		_, err = store.FindByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ac.ErrNotFound)
	})

	t.Run("DuplicateUsername", func(t *testing.T) {
		err := store.CreateIdentity(ctx, newIdentity("alice", "other@example.com"))
		assert.Equal(t, ac.KindConflict, ac.KindOf(err))
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		err := store.CreateIdentity(ctx, newIdentity("alice2", "alice@example.com"))
		assert.Equal(t, ac.KindConflict, ac.KindOf(err))
	})

	t.Run("Update", func(t *testing.T) {
		got, err := store.FindByID(ctx, alice.ID)
		require.NoError(t, err)
		got.PasswordHash = "$2a$10$new"
		got.Role = ac.RoleAdmin
		require.NoError(t, store.UpdateIdentity(ctx, got))

		again, err := store.FindByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "$2a$10$new", again.PasswordHash)
		assert.Equal(t, ac.RoleAdmin, again.Role)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		err := store.UpdateIdentity(ctx, newIdentity("ghost", "ghost@example.com"))
		assert.ErrorIs(t, err, ac.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		bob := newIdentity("bob", "bob@example.com")
		require.NoError(t, store.CreateIdentity(ctx, bob))
		require.NoError(t, store.DeleteIdentity(ctx, bob.ID))

		_, err := store.FindByUsername(ctx, "bob")
		assert.ErrorIs(t, err, ac.ErrNotFound)

		// the username is free again
		require.NoError(t, store.CreateIdentity(ctx, newIdentity("bob", "bob@example.com")))
	})

	t.Run("ConcurrentCreateSameEmail", func(t *testing.T) {
		const n = 8
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = store.CreateIdentity(ctx, newIdentity(fmt.Sprintf("racer%d", i), "racer@example.com"))
			}(i)
		}
		wg.Wait()

		created := 0
		for _, err := range errs {
			if err == nil {
				created++
				continue
			}
			assert.Equal(t, ac.KindConflict, ac.KindOf(err), "unexpected error %v", err)
		}
		assert.Equal(t, 1, created)
	})

	t.Run("ConcurrentCreateSameUsername", func(t *testing.T) {
		const n = 8
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = store.CreateIdentity(ctx, newIdentity("contested", fmt.Sprintf("contested%d@example.com", i)))
			}(i)
		}
		wg.Wait()

		created := 0
		for _, err := range errs {
			if err == nil {
				created++
				continue
			}
			assert.Equal(t, ac.KindConflict, ac.KindOf(err), "unexpected error %v", err)
		}
		assert.Equal(t, 1, created)
	})
}

// ResetTokenStore runs the ResetTokenStore contract against a fresh, empty store.
func ResetTokenStore(t *testing.T, store ac.ResetTokenStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	mk := func(identityID string) *ac.ResetToken {
		value, err := ac.GenerateSecureToken()
		require.NoError(t, err)
		rt := &ac.ResetToken{Token: value, IdentityID: identityID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
		require.NoError(t, store.CreateResetToken(ctx, rt))
		return rt
	}

	first := mk("id-1")
	second := mk("id-1")
	other := mk("id-2")

	got, err := store.FindResetToken(ctx, first.Token)
	require.NoError(t, err)
	assert.Equal(t, "id-1", got.IdentityID)
	assert.True(t, got.ExpiresAt.Equal(first.ExpiresAt))

	_, err = store.FindResetToken(ctx, "missing")
	assert.ErrorIs(t, err, ac.ErrNotFound)

	require.NoError(t, store.DeleteResetTokensForIdentity(ctx, "id-1"))
	for _, rt := range []*ac.ResetToken{first, second} {
		_, err := store.FindResetToken(ctx, rt.Token)
		assert.ErrorIs(t, err, ac.ErrNotFound)
	}
	_, err = store.FindResetToken(ctx, other.Token)
	assert.NoError(t, err)

	// deleting nothing is fine
	assert.NoError(t, store.DeleteResetTokensForIdentity(ctx, "id-unknown"))

	t.Run("ConcurrentDelete", func(t *testing.T) {
		tokens := []*ac.ResetToken{mk("id-3"), mk("id-3"), mk("id-3")}

		const n = 6
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = store.DeleteResetTokensForIdentity(ctx, "id-3")
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			assert.NoError(t, err)
		}
		for _, rt := range tokens {
			_, err := store.FindResetToken(ctx, rt.Token)
			assert.ErrorIs(t, err, ac.ErrNotFound)
		}
	})
}
