// Package config loads gateway configuration from the environment.
package config

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"

	"github.com/nuvalla/gateway/pkg/approvals"
	"github.com/nuvalla/gateway/pkg/ledger"
)

// Config holds gateway configuration.
type Config struct {
	LogLevel string

	// LedgerBackend selects the execution ledger store:
	// "memory", "sqlite", "postgres", or "redis".
	LedgerBackend string
	SQLitePath    string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// PolicyRulesPath points at the YAML rule file for the CEL
	// reference policy. Empty when an external policy engine is wired.
	PolicyRulesPath string

	OTLPEndpoint     string
	TelemetryEnabled bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	backend := os.Getenv("LEDGER_BACKEND")
	if backend == "" {
		backend = "memory"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "nuvalla.db"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://nuvalla@localhost:5432/nuvalla?sslmode=disable"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))

	otlp := os.Getenv("OTLP_ENDPOINT")
	if otlp == "" {
		otlp = "localhost:4317"
	}

	return &Config{
		LogLevel:         logLevel,
		LedgerBackend:    backend,
		SQLitePath:       sqlitePath,
		DatabaseURL:      dbURL,
		RedisAddr:        redisAddr,
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          redisDB,
		PolicyRulesPath:  os.Getenv("POLICY_RULES_PATH"),
		OTLPEndpoint:     otlp,
		TelemetryEnabled: os.Getenv("TELEMETRY_ENABLED") == "true",
	}
}

// BuildLedgerStore constructs the ledger store the config selects.
func (c *Config) BuildLedgerStore(ctx context.Context) (ledger.Store, error) {
	switch c.LedgerBackend {
	case "", "memory":
		return ledger.NewMemoryStore(), nil
	case "sqlite":
		return ledger.OpenSQLiteStore(c.SQLitePath)
	case "postgres":
		return ledger.OpenPostgresStore(ctx, c.DatabaseURL)
	case "redis":
		return ledger.OpenRedisStore(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB)
	default:
		return nil, fmt.Errorf("config: unknown ledger backend %q", c.LedgerBackend)
	}
}

// BuildApprovalLog opens the durable approval log when a SQLite path is
// configured; a nil log disables write-through.
func (c *Config) BuildApprovalLog() (*approvals.SQLiteLog, error) {
	if c.SQLitePath == "" {
		return nil, nil
	}
	db, err := sql.Open("sqlite", c.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("config: open approval log: %w", err)
	}
	return approvals.NewSQLiteLog(db)
}
