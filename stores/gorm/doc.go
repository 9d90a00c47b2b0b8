//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of the authcore store
// interfaces. It works with any database GORM supports; Open knows the
// postgres and sqlite dialects.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - identities: accounts with unique username and email and a role id
//   - password_reset_tokens: outstanding reset tokens, indexed by identity
//   - audit_events: the audit trail written by AuditStore
//
// # Usage
//
//	db, _ := gormstore.Open("postgres", dsn)
//	_ = gormstore.AutoMigrate(db)
//	identities := gormstore.NewIdentityStore(db)
//	resetTokens := gormstore.NewResetTokenStore(db)
//	audit := gormstore.NewAuditStore(db)
package gorm
