package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"GRAPH_URI", "NEO4J_URI", "GRAPH_USER", "NEO4J_USER",
		"GRAPH_PASSWORD", "NEO4J_PASSWORD", "EVENT_STORE_DSN",
		"REDIS_ADDR", "INGEST_MODE", "ALLOW_UNSIGNED_EVENTS",
		"REQUIRE_ACCOUNT_AUTH", "INTAKE_WORKERS", "ROLES_FILE",
		"OTLP_ENDPOINT", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	c := Load()
	assert.Equal(t, "dev", c.IngestMode)
	assert.Equal(t, "neo4j://localhost:7687", c.GraphURI)
	assert.Equal(t, "neo4j", c.GraphUser)
	assert.Equal(t, "file:discograph.db?cache=shared", c.EventStoreDSN)
	assert.True(t, c.AllowUnsignedEvents, "dev tolerates unsigned events")
	assert.True(t, c.RequireAccountAuth)
	assert.Equal(t, 4, c.IntakeWorkers)
	assert.Equal(t, "info", c.LogLevel)
	assert.Empty(t, c.RedisAddr)
}

func TestLoad_ProdDefaults(t *testing.T) {
	t.Setenv("INGEST_MODE", "prod")
	t.Setenv("EVENT_STORE_DSN", "")
	t.Setenv("ALLOW_UNSIGNED_EVENTS", "")

	c := Load()
	assert.Equal(t, "prod", c.IngestMode)
	assert.Contains(t, c.EventStoreDSN, "postgres://")
	assert.False(t, c.AllowUnsignedEvents)
}

func TestLoad_Neo4jAliases(t *testing.T) {
	t.Setenv("GRAPH_URI", "")
	t.Setenv("NEO4J_URI", "neo4j://db:7687")
	t.Setenv("GRAPH_USER", "")
	t.Setenv("NEO4J_USER", "svc")
	t.Setenv("GRAPH_PASSWORD", "")
	t.Setenv("NEO4J_PASSWORD", "hunter2")

	c := Load()
	assert.Equal(t, "neo4j://db:7687", c.GraphURI)
	assert.Equal(t, "svc", c.GraphUser)
	assert.Equal(t, "hunter2", c.GraphPassword)
}

func TestLoad_PrimaryWinsOverAlias(t *testing.T) {
	t.Setenv("GRAPH_URI", "neo4j://primary:7687")
	t.Setenv("NEO4J_URI", "neo4j://alias:7687")

	c := Load()
	assert.Equal(t, "neo4j://primary:7687", c.GraphURI)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("INGEST_MODE", "prod")
	t.Setenv("REQUIRE_ACCOUNT_AUTH", "false")
	t.Setenv("ALLOW_UNSIGNED_EVENTS", "true")
	t.Setenv("INTAKE_WORKERS", "16")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("LOG_LEVEL", "debug")

	c := Load()
	assert.False(t, c.RequireAccountAuth)
	assert.True(t, c.AllowUnsignedEvents)
	assert.Equal(t, 16, c.IntakeWorkers)
	assert.Equal(t, "localhost:6379", c.RedisAddr)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestLoad_BadWorkerCountFallsBack(t *testing.T) {
	t.Setenv("INTAKE_WORKERS", "not-a-number")
	c := Load()
	assert.Equal(t, 4, c.IntakeWorkers)

	t.Setenv("INTAKE_WORKERS", "-2")
	c = Load()
	assert.Equal(t, 4, c.IntakeWorkers)
}
