// Package config loads service configuration from environment
// variables.
package config

import (
	"os"
	"strconv"
)

// Config holds ingestion service configuration.
type Config struct {
	// Graph store connection. The NEO4J_* variables are accepted as
	// aliases for deployments that reuse driver-standard names.
	GraphURI      string
	GraphUser     string
	GraphPassword string

	// EventStoreDSN selects the durable event store. A "postgres://"
	// DSN opens Postgres; anything else is treated as a SQLite path.
	EventStoreDSN string

	// RedisAddr enables the read-through event cache when non-empty.
	RedisAddr string

	IngestMode          string // "dev" or "prod"
	AllowUnsignedEvents bool
	RequireAccountAuth  bool
	IntakeWorkers       int
	RolesFile           string // optional role-synonym YAML override

	OTLPEndpoint string
	LogLevel     string
}

// Load loads configuration from environment variables.
func Load() *Config {
	mode := os.Getenv("INGEST_MODE")
	if mode != "prod" {
		mode = "dev"
	}

	graphURI := getenv("GRAPH_URI", "NEO4J_URI")
	if graphURI == "" {
		graphURI = "neo4j://localhost:7687"
	}
	graphUser := getenv("GRAPH_USER", "NEO4J_USER")
	if graphUser == "" {
		graphUser = "neo4j"
	}
	graphPassword := getenv("GRAPH_PASSWORD", "NEO4J_PASSWORD")

	dsn := os.Getenv("EVENT_STORE_DSN")
	if dsn == "" {
		if mode == "prod" {
			dsn = "postgres://discograph@localhost:5432/discograph?sslmode=disable"
		} else {
			dsn = "file:discograph.db?cache=shared"
		}
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	workers := 4
	if raw := os.Getenv("INTAKE_WORKERS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			workers = n
		}
	}

	// Unsigned events are tolerated in dev unless explicitly disabled.
	allowUnsigned := os.Getenv("ALLOW_UNSIGNED_EVENTS") == "true"
	if mode == "dev" && os.Getenv("ALLOW_UNSIGNED_EVENTS") == "" {
		allowUnsigned = true
	}

	return &Config{
		GraphURI:            graphURI,
		GraphUser:           graphUser,
		GraphPassword:       graphPassword,
		EventStoreDSN:       dsn,
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		IngestMode:          mode,
		AllowUnsignedEvents: allowUnsigned,
		RequireAccountAuth:  os.Getenv("REQUIRE_ACCOUNT_AUTH") != "false",
		IntakeWorkers:       workers,
		RolesFile:           os.Getenv("ROLES_FILE"),
		OTLPEndpoint:        os.Getenv("OTLP_ENDPOINT"),
		LogLevel:            logLevel,
	}
}

func getenv(key, alias string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return os.Getenv(alias)
}
