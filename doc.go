// Package authcore provides authentication, role based authorization and
// password recovery for Go services.
//
// # Architecture
//
// Identity: A registered principal with a unique username, a unique email,
// an optional bcrypt password hash and exactly one Role. OAuth-only
// identities have no password.
//
// Session token: A signed, stateless JWT naming the identity, its username
// and the role it had at login. Tokens expire after the signer's TTL.
//
// Reset token: A single-use, time-bounded random value tied to one identity.
// Completing a reset or changing a password deletes every reset token the
// identity owns.
//
// The Authenticator orchestrates login, password recovery, registration and
// OAuth provisioning. The AccessGuard decides whether a bearer token may
// invoke a named operation. Both take their collaborators (CredentialStore,
// ResetLedger, PasswordHasher, TokenSigner, AuditSink) as fields; there is
// no package level state.
//
// # Basic Usage
//
// Set up stores, the signer and the authenticator:
//
//	import (
//	    ac "github.com/panyam/authcore"
//	    "github.com/panyam/authcore/stores/fs"
//	)
//
//	identities := fs.NewFSIdentityStore("/path/to/storage")
//	resets := fs.NewFSResetTokenStore("/path/to/storage")
//	signer := ac.NewJWTSigner(os.Getenv("JWT_SECRET"), "myapp")
//
//	auth, err := ac.NewAuthenticator(ac.Authenticator{
//	    Store:    identities,
//	    Ledger:   ac.NewResetLedger(resets),
//	    Hasher:   ac.NewBcryptHasher(12),
//	    Signer:   signer,
//	    Notifier: &ac.ConsoleNotifier{},
//	    BaseURL:  "https://yourapp.com",
//	})
//
// Declare which roles may call each operation and guard the routes:
//
//	policy := ac.DefaultPolicy()
//	policy["reports.export"] = []ac.Role{ac.RoleAdmin}
//
//	guard := &ac.AccessGuard{Signer: signer, Store: identities, Policy: ac.MustRolePolicy(policy)}
//	guards := &ac.GuardMiddleware{Guard: guard}
//
//	router := mux.NewRouter()
//	ac.NewLocalAuth(auth, guards).Register(router)
//	router.Handle("/reports/export", guards.RequireFunc("reports.export", exportReports))
//
// # Authorization
//
// The guard re-reads the identity on every call and checks its current
// role, not the role inside the token, so a demotion takes effect on the
// next request. Operations missing from the policy are forbidden. A
// missing, malformed or expired token is Unauthenticated; a valid caller
// with the wrong role is Forbidden.
//
// # Errors
//
// Every failure is an *AuthError with an ErrorKind. HTTPStatus and GRPCCode
// map kinds to transport codes, and PublicMessage never exposes the cause of
// an Internal error.
//
// # Store Implementations
//
// The stores subpackages implement CredentialStore and ResetTokenStore on
// the filesystem (fs), SQL databases through GORM (gorm), Cloud Datastore
// (gae) and Redis (redis, reset tokens only).
package authcore
