package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	ac "github.com/panyam/authcore"
	"github.com/panyam/authcore/config"
	authgrpc "github.com/panyam/authcore/grpc"
	"github.com/panyam/authcore/notify"
	"github.com/panyam/authcore/oauth2"
	"github.com/panyam/authcore/saml"
	"github.com/panyam/authcore/stores/fs"
	"github.com/panyam/authcore/stores/gae"
	storegorm "github.com/panyam/authcore/stores/gorm"
	storeredis "github.com/panyam/authcore/stores/redis"
)

// Health service methods callable without a session.
var publicGRPCMethods = []string{
	"/grpc.health.v1.Health/Check",
	"/grpc.health.v1.Health/Watch",
}

type app struct {
	cfg      config.Config
	logger   *slog.Logger
	auth     *ac.Authenticator
	guard    *ac.AccessGuard
	sessions *scs.SessionManager
	saml     *saml.SAMLAuth
	registry *prometheus.Registry
	closers  []func() error
}

type stores struct {
	identities ac.CredentialStore
	resets     ac.ResetTokenStore
	audit      ac.AuditSink
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	st, err := a.openStores(ctx)
	if err != nil {
		return err
	}

	if cfg.Redis.URL != "" {
		client, err := storeredis.Dial(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		st.resets = storeredis.NewResetTokenStore(client, cfg.Redis.Prefix)
	}

	var notifier ac.ResetNotifier = &ac.ConsoleNotifier{}
	if cfg.AMQP.URL != "" {
		conn, n, err := notify.Dial(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			return fmt.Errorf("connecting to rabbitmq: %w", err)
		}
		a.closers = append(a.closers, conn.Close)
		notifier = n
	}

	var metrics *ac.Metrics
	if cfg.MetricsEnabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = ac.NewMetrics(a.registry)
	}

	audit := ac.MultiAuditSink{&ac.LogAuditSink{Logger: logger}}
	if st.audit != nil {
		audit = append(audit, st.audit)
	}

	signer := ac.NewJWTSigner(cfg.JWT.Secret, cfg.JWT.Issuer)
	signer.TTL = cfg.JWT.TTL
	ledger := ac.NewResetLedger(st.resets)
	ledger.TTL = cfg.ResetTTL

	a.auth, err = ac.NewAuthenticator(ac.Authenticator{
		Store:    st.identities,
		Ledger:   ledger,
		Hasher:   ac.NewBcryptHasher(cfg.BcryptCost),
		Signer:   signer,
		Audit:    audit,
		Notifier: notifier,
		Metrics:  metrics,
		Logger:   logger,
		BaseURL:  cfg.BaseURL,
	})
	if err != nil {
		return err
	}
	a.guard = &ac.AccessGuard{
		Signer:  signer,
		Store:   st.identities,
		Policy:  ac.MustRolePolicy(ac.DefaultPolicy()),
		Audit:   audit,
		Metrics: metrics,
		Logger:  logger,
	}

	if cfg.SAML.Enabled() {
		a.saml, err = saml.New(ctx, a.auth, saml.Options{
			RootURL:     cfg.SAML.RootURL,
			MetadataURL: cfg.SAML.MetadataURL,
			LoginURL:    cfg.SAML.LoginURL,
			CertFile:    cfg.SAML.CertFile,
			KeyFile:     cfg.SAML.KeyFile,
			SignRequest: true,
		})
		if err != nil {
			return fmt.Errorf("configuring saml: %w", err)
		}
		a.saml.Logger = logger
	}

	a.sessions = scs.New()
	a.sessions.Lifetime = 10 * time.Minute
	a.sessions.Cookie.Name = "authcore_oauth"
	a.sessions.Cookie.Secure = strings.HasPrefix(cfg.BaseURL, "https://")
	return nil
}

func (a *app) openStores(ctx context.Context) (*stores, error) {
	switch a.cfg.Store.Backend {
	case "fs":
		if err := os.MkdirAll(a.cfg.Store.DataDir, 0700); err != nil {
			return nil, err
		}
		return &stores{
			identities: fs.NewFSIdentityStore(a.cfg.Store.DataDir),
			resets:     fs.NewFSResetTokenStore(a.cfg.Store.DataDir),
		}, nil

	case "gorm":
		db, err := storegorm.Open(a.cfg.Store.Driver, a.cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		if err := storegorm.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		return &stores{
			identities: storegorm.NewIdentityStore(db),
			resets:     storegorm.NewResetTokenStore(db),
			audit:      storegorm.NewAuditStore(db),
		}, nil

	case "datastore":
		client, err := datastore.NewClient(ctx, a.cfg.Store.DatastoreProject)
		if err != nil {
			return nil, fmt.Errorf("creating datastore client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		ns := a.cfg.Store.DatastoreNamespace
		return &stores{
			identities: gae.NewIdentityStore(client, ns),
			resets:     gae.NewResetTokenStore(client, ns),
			audit:      gae.NewAuditStore(client, ns),
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
}

func (a *app) router() http.Handler {
	r := mux.NewRouter()

	if a.cfg.Google.Enabled() {
		g := oauth2.NewGoogleOAuth2(a.cfg.Google.ClientID, a.cfg.Google.ClientSecret, a.cfg.Google.CallbackURL, a.auth, a.sessions)
		g.Logger = a.logger
		r.PathPrefix("/auth/google/").Handler(http.StripPrefix("/auth/google", g))
	}
	if a.cfg.Github.Enabled() {
		g := oauth2.NewGithubOAuth2(a.cfg.Github.ClientID, a.cfg.Github.ClientSecret, a.cfg.Github.CallbackURL, a.auth, a.sessions)
		g.Logger = a.logger
		r.PathPrefix("/auth/github/").Handler(http.StripPrefix("/auth/github", g))
	}

	if a.saml != nil {
		a.saml.Register(r.PathPrefix("/auth").Subrouter())
	}

	local := ac.NewLocalAuth(a.auth, &ac.GuardMiddleware{Guard: a.guard})
	local.UniformResetResponse = a.cfg.UniformResetResponse
	local.Register(r)

	if a.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return r
}

func (a *app) grpcServer() *grpc.Server {
	ic := authgrpc.NewInterceptorConfig(a.guard, publicGRPCMethods...)
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(authgrpc.UnaryAuthInterceptor(ic)),
		grpc.ChainStreamInterceptor(authgrpc.StreamAuthInterceptor(ic)),
	)
	healthpb.RegisterHealthServer(srv, health.NewServer())
	return srv
}

// setRole assigns role to the identity named username. The audit trail
// records the command line as the actor.
func (a *app) setRole(ctx context.Context, username string, role ac.Role) (*ac.Identity, error) {
	identity, err := a.guard.Store.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", username, err)
	}
	return a.auth.SetRole(ctx, "cli", identity.ID, role)
}

// run serves HTTP, and gRPC when configured, until ctx is done.
func (a *app) run(ctx context.Context) error {
	errc := make(chan error, 2)

	httpServer := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		a.logger.Info("http listening", "addr", a.cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	if a.cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", a.cfg.GRPCAddr)
		if err != nil {
			httpServer.Close()
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer = a.grpcServer()
		go func() {
			a.logger.Info("grpc listening", "addr", a.cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				errc <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	return err
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
