package infra

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/caarlos0/env/v11"
)

const insecureTokenSecret = "change-me-in-production"

// callsPerRun is the most collaborator calls a claimed callback makes before
// it finalizes: session resolve, round and bet lookups, the debit lookup,
// balance, place bet, debit, the debit lookup and void of a compensation,
// and the finalize write. Each is bounded by COLLABORATOR_TIMEOUT.
const callsPerRun = 10

// leaseMargin covers the work between collaborator calls.
const leaseMargin = 2 * time.Second

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      int    `env:"PGPORT" envDefault:"5435"`
	PGUser      string `env:"PGUSER" envDefault:"gamecallback"`
	PGPassword  string `env:"PGPASSWORD" envDefault:"gamecallback"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"gamecallback"`
	PGMaxConns  int32  `env:"PG_MAX_CONNS" envDefault:"32"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"false"`

	// Server
	CallbackServerPort int    `env:"CALLBACK_SERVER_PORT" envDefault:"4001"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`

	// Sessions
	SessionTokenSecret string        `env:"SESSION_TOKEN_SECRET" envDefault:"change-me-in-production"`
	SessionTokenTTL    time.Duration `env:"SESSION_TOKEN_TTL" envDefault:"12h"`
	AuthCodeTTL        time.Duration `env:"AUTH_CODE_TTL" envDefault:"5m"`

	// Orchestration
	CollaboratorTimeout  time.Duration `env:"COLLABORATOR_TIMEOUT" envDefault:"3s"`
	ReplayWait           time.Duration `env:"REPLAY_WAIT" envDefault:"1500ms"`
	ReplayPollInterval   time.Duration `env:"REPLAY_POLL_INTERVAL" envDefault:"100ms"`
	ClaimLease           time.Duration `env:"CLAIM_LEASE" envDefault:"45s"`
	CircuitFailThreshold int           `env:"CIRCUIT_FAIL_THRESHOLD" envDefault:"5"`
	CircuitResetTimeout  time.Duration `env:"CIRCUIT_RESET_TIMEOUT" envDefault:"10s"`
	RateLimitRequests    int           `env:"RATE_LIMIT_REQUESTS" envDefault:"500"`
	RateLimitWindow      time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1s"`
	// RateLimitProviders overrides RATE_LIMIT_REQUESTS per provider, e.g.
	// "pragmatic:1000,betsolutions:200".
	RateLimitProviders map[string]int `env:"RATE_LIMIT_PROVIDERS"`

	// Kafka
	KafkaBrokers string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled bool   `env:"KAFKA_ENABLED" envDefault:"false"`

	// Outbox relay
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for configuration that must not run in production.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass the secret checks (local dev only).
func (c *Config) Validate() error {
	if c.CollaboratorTimeout <= 0 {
		return fmt.Errorf("COLLABORATOR_TIMEOUT must be positive")
	}
	if budget := c.RunBudget(); c.ClaimLease <= budget {
		return fmt.Errorf("CLAIM_LEASE (%s) must exceed the longest callback run (%d x COLLABORATOR_TIMEOUT %s + %s = %s)",
			c.ClaimLease, callsPerRun, c.CollaboratorTimeout, leaseMargin, budget)
	}
	if c.PGMaxConns <= 0 {
		return fmt.Errorf("PG_MAX_CONNS must be positive")
	}
	if c.ReplayPollInterval <= 0 || c.ReplayWait < c.ReplayPollInterval {
		return fmt.Errorf("REPLAY_WAIT (%s) must be at least REPLAY_POLL_INTERVAL (%s)", c.ReplayWait, c.ReplayPollInterval)
	}
	if _, err := c.ProviderRateLimits(); err != nil {
		return err
	}
	if c.AllowInsecureDefaults {
		return nil
	}
	if c.SessionTokenSecret == insecureTokenSecret {
		return fmt.Errorf("SESSION_TOKEN_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.SessionTokenSecret) < 32 {
		return fmt.Errorf("SESSION_TOKEN_SECRET is too short (%d chars); minimum 32 characters required", len(c.SessionTokenSecret))
	}
	return nil
}

// RunBudget is the longest a claimed callback can run. A claim younger than
// this may belong to a live worker, so the lease must be longer.
func (c *Config) RunBudget() time.Duration {
	return callsPerRun*c.CollaboratorTimeout + leaseMargin
}

// ProviderRateLimits returns RATE_LIMIT_PROVIDERS keyed by provider.
func (c *Config) ProviderRateLimits() (map[domain.Provider]int, error) {
	limits := make(map[domain.Provider]int, len(c.RateLimitProviders))
	for name, n := range c.RateLimitProviders {
		p, err := domain.ParseProvider(name)
		if err != nil {
			return nil, fmt.Errorf("RATE_LIMIT_PROVIDERS: %w", err)
		}
		limits[p] = n
	}
	return limits, nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
