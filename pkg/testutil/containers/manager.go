//go:build integration

// Package containers starts shared testcontainers for integration suites.
// Each container is started once per test binary and reused across suites;
// Ryuk removes them when the process exits.
package containers

import (
	"sync"
	"testing"
)

var (
	postgresOnce sync.Once
	postgres     *PostgresContainer
	postgresErr  error

	redisOnce sync.Once
	redisC    *RedisContainer
	redisErr  error

	redpandaOnce sync.Once
	redpandaC    *RedpandaContainer
	redpandaErr  error
)

// Postgres returns the shared, migrated PostgreSQL container.
func Postgres(t *testing.T) *PostgresContainer {
	t.Helper()
	postgresOnce.Do(func() {
		postgres, postgresErr = startPostgres()
	})
	if postgresErr != nil {
		t.Fatalf("postgres container: %v", postgresErr)
	}
	return postgres
}

// Redis returns the shared Redis container.
func Redis(t *testing.T) *RedisContainer {
	t.Helper()
	redisOnce.Do(func() {
		redisC, redisErr = startRedis()
	})
	if redisErr != nil {
		t.Fatalf("redis container: %v", redisErr)
	}
	return redisC
}

// Redpanda returns the shared Kafka-compatible broker.
func Redpanda(t *testing.T) *RedpandaContainer {
	t.Helper()
	redpandaOnce.Do(func() {
		redpandaC, redpandaErr = startRedpanda()
	})
	if redpandaErr != nil {
		t.Fatalf("redpanda container: %v", redpandaErr)
	}
	return redpandaC
}
