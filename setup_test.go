package authcore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	ac "github.com/panyam/authcore"
	"github.com/panyam/authcore/stores/fs"
)

// testClock is a settable clock shared by the signer, ledger and guard.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingAudit keeps every event; Err is returned from Record when set.
type recordingAudit struct {
	mu     sync.Mutex
	events []ac.AuditEvent
	Err    error
}

func (r *recordingAudit) Record(_ context.Context, e ac.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.Err
}

func (r *recordingAudit) find(action, status string) []ac.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ac.AuditEvent
	for _, e := range r.events {
		if e.Action == action && e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// capturedLinks records reset links instead of mailing them.
type capturedLinks struct {
	mu    sync.Mutex
	links map[string][]string
}

func (c *capturedLinks) NotifyPasswordReset(_ context.Context, email, link string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.links == nil {
		c.links = make(map[string][]string)
	}
	c.links[email] = append(c.links[email], link)
	return nil
}

func (c *capturedLinks) last(email string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.links[email]
	if len(l) == 0 {
		return ""
	}
	return l[len(l)-1]
}

// testEnv wires an Authenticator and AccessGuard over the fs stores.
type testEnv struct {
	Identities *fs.FSIdentityStore
	Resets     *fs.FSResetTokenStore
	Clock      *testClock
	Audit      *recordingAudit
	Notifier   *capturedLinks
	Hasher     *ac.BcryptHasher
	Signer     *ac.JWTSigner
	Ledger     *ac.ResetLedger
	Metrics    *ac.Metrics
	Registry   *prometheus.Registry
	Auth       *ac.Authenticator
	Guard      *ac.AccessGuard
}

const testAdminOp = "reports.export"

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	env := &testEnv{
		Identities: fs.NewFSIdentityStore(dir),
		Resets:     fs.NewFSResetTokenStore(dir),
		Clock:      newTestClock(),
		Audit:      &recordingAudit{},
		Notifier:   &capturedLinks{},
		Hasher:     ac.NewBcryptHasher(4),
		Registry:   prometheus.NewRegistry(),
	}
	env.Metrics = ac.NewMetrics(env.Registry)

	env.Signer = ac.NewJWTSigner("test-secret", "authcore-test")
	env.Signer.Now = env.Clock.Now
	env.Ledger = ac.NewResetLedger(env.Resets)
	env.Ledger.Now = env.Clock.Now

	auth, err := ac.NewAuthenticator(ac.Authenticator{
		Store:    env.Identities,
		Ledger:   env.Ledger,
		Hasher:   env.Hasher,
		Signer:   env.Signer,
		Audit:    env.Audit,
		Notifier: env.Notifier,
		Metrics:  env.Metrics,
		BaseURL:  "https://auth.example.com/",
		Now:      env.Clock.Now,
	})
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	env.Auth = auth

	table := ac.DefaultPolicy()
	table[testAdminOp] = []ac.Role{ac.RoleAdmin}
	env.Guard = &ac.AccessGuard{
		Signer:  env.Signer,
		Store:   env.Identities,
		Policy:  ac.MustRolePolicy(table),
		Audit:   env.Audit,
		Metrics: env.Metrics,
		Now:     env.Clock.Now,
	}
	return env
}

// seed stores an identity with a hashed password. An empty password makes
// an OAuth-only account.
func (e *testEnv) seed(t *testing.T, id, username, email, password string, role ac.Role) *ac.Identity {
	t.Helper()
	identity := &ac.Identity{
		ID:        id,
		Username:  username,
		Email:     email,
		Role:      role,
		CreatedAt: e.Clock.Now(),
		UpdatedAt: e.Clock.Now(),
	}
	if password != "" {
		hash, err := e.Hasher.Hash(password)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		identity.PasswordHash = hash
	}
	if err := e.Identities.CreateIdentity(context.Background(), identity); err != nil {
		t.Fatalf("seed %s: %v", username, err)
	}
	return identity
}

func (e *testEnv) login(t *testing.T, username, password string) *ac.Session {
	t.Helper()
	session, err := e.Auth.Login(context.Background(), username, password)
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return session
}

func (e *testEnv) setRole(t *testing.T, id string, role ac.Role) {
	t.Helper()
	ctx := context.Background()
	identity, err := e.Identities.FindByID(ctx, id)
	if err != nil {
		t.Fatalf("find %s: %v", id, err)
	}
	identity.Role = role
	if err := e.Identities.UpdateIdentity(ctx, identity); err != nil {
		t.Fatalf("update %s: %v", id, err)
	}
}

func wantKind(t *testing.T, err error, kind ac.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := ac.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

var errStoreDown = errors.New("connection refused")

// flakyStore fails lookups while Down is set.
type flakyStore struct {
	ac.CredentialStore
	Down bool
}

func (s *flakyStore) FindByUsername(ctx context.Context, username string) (*ac.Identity, error) {
	if s.Down {
		return nil, errStoreDown
	}
	return s.CredentialStore.FindByUsername(ctx, username)
}

func (s *flakyStore) FindByEmail(ctx context.Context, email string) (*ac.Identity, error) {
	if s.Down {
		return nil, errStoreDown
	}
	return s.CredentialStore.FindByEmail(ctx, email)
}

// brokenResetStore fails every call.
type brokenResetStore struct{}

func (brokenResetStore) CreateResetToken(context.Context, *ac.ResetToken) error { return errStoreDown }
func (brokenResetStore) FindResetToken(context.Context, string) (*ac.ResetToken, error) {
	return nil, errStoreDown
}
func (brokenResetStore) DeleteResetTokensForIdentity(context.Context, string) error {
	return errStoreDown
}
