//go:build integration

// Package containers starts the backing services of the edge binaries in
// Docker for integration tests. It is gated behind the "integration" build
// tag; callers carry the same tag and terminate what they start:
//
//	result, err := containers.StartRedis(ctx)
//	if err != nil { ... }
//	defer result.Container.Terminate(ctx)
package containers

import (
	"context"
	"fmt"
	"net"
	"strconv"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcqdrant "github.com/testcontainers/testcontainers-go/modules/qdrant"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

const (
	DefaultRedisImage    = "docker.io/redis:7-alpine"
	DefaultPostgresImage = "docker.io/postgres:16-alpine"
	DefaultQdrantImage   = "docker.io/qdrant/qdrant:v1.12.6"

	DefaultPostgresDatabase = "catalog_edge_test"
	DefaultPostgresUser     = "testuser"
	// Ephemeral containers only.
	DefaultPostgresPassword = "testpassword"
)

// RedisResult is a running Redis and its redis:// URI.
type RedisResult struct {
	Container  *tcredis.RedisContainer
	ConnString string
}

// StartRedis starts a Redis 7 container without authentication.
func StartRedis(ctx context.Context) (*RedisResult, error) {
	container, err := tcredis.Run(ctx, DefaultRedisImage)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start redis container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get redis connection string: %w", err)
	}
	return &RedisResult{Container: container, ConnString: connStr}, nil
}

// PostgresResult is a running PostgreSQL and its connection URI with
// sslmode=disable.
type PostgresResult struct {
	Container  *tcpostgres.PostgresContainer
	ConnString string
}

// StartPostgres starts a PostgreSQL 16 container with the Default*
// database and credentials and waits until it accepts connections.
func StartPostgres(ctx context.Context) (*PostgresResult, error) {
	container, err := tcpostgres.Run(ctx,
		DefaultPostgresImage,
		tcpostgres.WithDatabase(DefaultPostgresDatabase),
		tcpostgres.WithUsername(DefaultPostgresUser),
		tcpostgres.WithPassword(DefaultPostgresPassword),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get connection string: %w", err)
	}
	return &PostgresResult{Container: container, ConnString: connStr}, nil
}

// QdrantResult is a running Qdrant and its mapped gRPC host and port.
type QdrantResult struct {
	Container *tcqdrant.QdrantContainer
	Host      string
	GRPCPort  int
}

// StartQdrant starts a Qdrant container without an API key.
func StartQdrant(ctx context.Context) (*QdrantResult, error) {
	container, err := tcqdrant.Run(ctx, DefaultQdrantImage)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start qdrant container: %w", err)
	}

	endpoint, err := container.GRPCEndpoint(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get qdrant gRPC endpoint: %w", err)
	}
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: malformed qdrant endpoint %q: %w", endpoint, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: malformed qdrant port %q: %w", portStr, err)
	}
	return &QdrantResult{Container: container, Host: host, GRPCPort: port}, nil
}
