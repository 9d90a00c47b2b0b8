//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the authcore
// store interfaces. It supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
//   - Identity: accounts, keyed by identity id
//   - Username, Email: uniqueness claims pointing at an identity id, written
//     in the same transaction as the identity
//   - ResetToken: password reset tokens, keyed by token value
//   - AuditEvent: audit trail, auto-allocated ids
//
// Username and email lookups go through the claim entities, so they are key
// lookups and strongly consistent.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	identities := gae.NewIdentityStore(client, "")  // default namespace
//	resetTokens := gae.NewResetTokenStore(client, "tenant-123")
package gae
