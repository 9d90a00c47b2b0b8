// Package config loads authserver settings from defaults, an optional .env
// file, environment variables and command line flags, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type Config struct {
	ListenAddr string
	GRPCAddr   string
	// BaseURL prefixes links mailed to users.
	BaseURL string

	JWT        JWTConfig
	ResetTTL   time.Duration
	BcryptCost int

	Store  StoreConfig
	Redis  RedisConfig
	AMQP   AMQPConfig
	Google OAuthClientConfig
	Github OAuthClientConfig
	SAML   SAMLConfig

	UniformResetResponse bool
	MetricsEnabled       bool
	LogLevel             string
}

type JWTConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

type StoreConfig struct {
	// Backend is one of fs, gorm or datastore.
	Backend            string
	Driver             string
	DSN                string
	DataDir            string
	DatastoreProject   string
	DatastoreNamespace string
}

type RedisConfig struct {
	// URL enables the redis reset token store when set.
	URL    string
	Prefix string
}

type AMQPConfig struct {
	// URL enables the RabbitMQ reset notifier when set.
	URL   string
	Queue string
}

type OAuthClientConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

type SAMLConfig struct {
	// RootURL is the public URL of the /auth prefix, e.g. https://app/auth/.
	// SAML routes are mounted when it is set.
	RootURL     string
	MetadataURL string
	LoginURL    string
	CertFile    string
	KeyFile     string
}

// Enabled reports whether SAML sign-in is configured.
func (c SAMLConfig) Enabled() bool {
	return c.RootURL != ""
}

// Enabled reports whether the provider has client credentials.
func (c OAuthClientConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Load reads the environment. A .env file in the working directory is
// loaded first when AUTHCORE_ENV=dev.
func Load() Config {
	if os.Getenv("AUTHCORE_ENV") == "dev" {
		godotenv.Load()
	}

	return Config{
		ListenAddr: getEnv("AUTHCORE_LISTEN_ADDR", ":8080"),
		GRPCAddr:   getEnv("AUTHCORE_GRPC_ADDR", ""),
		BaseURL:    getEnv("AUTHCORE_BASE_URL", "http://localhost:8080"),
		JWT: JWTConfig{
			Secret: getEnv("AUTHCORE_JWT_SECRET", ""),
			Issuer: getEnv("AUTHCORE_JWT_ISSUER", "authcore"),
			TTL:    getEnvDuration("AUTHCORE_JWT_TTL", time.Hour),
		},
		ResetTTL:   getEnvDuration("AUTHCORE_RESET_TTL", time.Hour),
		BcryptCost: getEnvInt("AUTHCORE_BCRYPT_COST", 10),
		Store: StoreConfig{
			Backend:            getEnv("AUTHCORE_STORE", "fs"),
			Driver:             getEnv("AUTHCORE_DB_DRIVER", "postgres"),
			DSN:                getEnv("AUTHCORE_DB_DSN", ""),
			DataDir:            getEnv("AUTHCORE_DATA_DIR", "./data"),
			DatastoreProject:   getEnv("AUTHCORE_DATASTORE_PROJECT", ""),
			DatastoreNamespace: getEnv("AUTHCORE_DATASTORE_NAMESPACE", ""),
		},
		Redis: RedisConfig{
			URL:    getEnv("AUTHCORE_REDIS_URL", ""),
			Prefix: getEnv("AUTHCORE_REDIS_PREFIX", "authcore:"),
		},
		AMQP: AMQPConfig{
			URL:   getEnv("AUTHCORE_AMQP_URL", ""),
			Queue: getEnv("AUTHCORE_AMQP_QUEUE", "authcore.password-reset"),
		},
		Google: OAuthClientConfig{
			ClientID:     getEnv("OAUTH2_GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("OAUTH2_GOOGLE_CLIENT_SECRET", ""),
			CallbackURL:  getEnv("OAUTH2_GOOGLE_CALLBACK_URL", ""),
		},
		Github: OAuthClientConfig{
			ClientID:     getEnv("OAUTH2_GITHUB_CLIENT_ID", ""),
			ClientSecret: getEnv("OAUTH2_GITHUB_CLIENT_SECRET", ""),
			CallbackURL:  getEnv("OAUTH2_GITHUB_CALLBACK_URL", ""),
		},
		SAML: SAMLConfig{
			RootURL:     getEnv("SAML_ROOT_URL", ""),
			MetadataURL: getEnv("SAML_METADATA_URL", ""),
			LoginURL:    getEnv("SAML_LOGIN_URL", ""),
			CertFile:    getEnv("SAML_CERT_FILE", "saml_service.cert"),
			KeyFile:     getEnv("SAML_KEY_FILE", "saml_service.key"),
		},
		UniformResetResponse: getEnvBool("AUTHCORE_UNIFORM_RESET_RESPONSE", true),
		MetricsEnabled:       getEnvBool("AUTHCORE_METRICS", true),
		LogLevel:             getEnv("AUTHCORE_LOG_LEVEL", "info"),
	}
}

// BindFlags registers flags on cmd whose defaults are the loaded values, so
// flags given on the command line win over the environment.
func (c *Config) BindFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "HTTP listen address")
	f.StringVar(&c.GRPCAddr, "grpc-listen", c.GRPCAddr, "gRPC listen address (disabled when empty)")
	f.StringVar(&c.BaseURL, "base-url", c.BaseURL, "public base URL used in reset links")
	f.StringVar(&c.JWT.Secret, "jwt-secret", c.JWT.Secret, "HMAC secret for session tokens")
	f.StringVar(&c.JWT.Issuer, "jwt-issuer", c.JWT.Issuer, "issuer claim for session tokens")
	f.DurationVar(&c.JWT.TTL, "jwt-ttl", c.JWT.TTL, "session token lifetime")
	f.DurationVar(&c.ResetTTL, "reset-ttl", c.ResetTTL, "password reset token lifetime")
	f.IntVar(&c.BcryptCost, "bcrypt-cost", c.BcryptCost, "bcrypt work factor")
	f.StringVar(&c.Store.Backend, "store", c.Store.Backend, "credential store: fs, gorm or datastore")
	f.StringVar(&c.Store.Driver, "db-driver", c.Store.Driver, "gorm driver: postgres or sqlite")
	f.StringVar(&c.Store.DSN, "db-dsn", c.Store.DSN, "gorm data source name")
	f.StringVar(&c.Store.DataDir, "data-dir", c.Store.DataDir, "fs store directory")
	f.StringVar(&c.Store.DatastoreProject, "datastore-project", c.Store.DatastoreProject, "Cloud Datastore project id")
	f.StringVar(&c.Store.DatastoreNamespace, "datastore-namespace", c.Store.DatastoreNamespace, "Cloud Datastore namespace")
	f.StringVar(&c.Redis.URL, "redis-url", c.Redis.URL, "redis URL for reset tokens")
	f.StringVar(&c.AMQP.URL, "amqp-url", c.AMQP.URL, "RabbitMQ URL for reset notifications")
	f.StringVar(&c.AMQP.Queue, "amqp-queue", c.AMQP.Queue, "RabbitMQ queue for reset notifications")
	f.StringVar(&c.SAML.RootURL, "saml-root-url", c.SAML.RootURL, "public URL of /auth/ for SAML (disabled when empty)")
	f.StringVar(&c.SAML.MetadataURL, "saml-metadata-url", c.SAML.MetadataURL, "SAML identity provider metadata URL")
	f.BoolVar(&c.UniformResetResponse, "uniform-reset-response", c.UniformResetResponse, "hide whether a reset email is registered")
	f.BoolVar(&c.MetricsEnabled, "metrics", c.MetricsEnabled, "expose /metrics")
	f.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
}

// Validate checks the settings a server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWT.Secret) == "" {
		errs = append(errs, errors.New("jwt secret is required (AUTHCORE_JWT_SECRET)"))
	}
	if c.JWT.TTL <= 0 {
		errs = append(errs, errors.New("jwt ttl must be positive"))
	}
	if c.ResetTTL <= 0 {
		errs = append(errs, errors.New("reset ttl must be positive"))
	}
	switch c.Store.Backend {
	case "fs":
		if c.Store.DataDir == "" {
			errs = append(errs, errors.New("fs store needs a data directory"))
		}
	case "gorm":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("gorm store needs a dsn (AUTHCORE_DB_DSN)"))
		}
		if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
			errs = append(errs, fmt.Errorf("unsupported db driver %q", c.Store.Driver))
		}
	case "datastore":
		if c.Store.DatastoreProject == "" {
			errs = append(errs, errors.New("datastore store needs a project (AUTHCORE_DATASTORE_PROJECT)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if c.SAML.Enabled() && c.SAML.MetadataURL == "" {
		errs = append(errs, errors.New("saml needs an identity provider metadata url (SAML_METADATA_URL)"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}
