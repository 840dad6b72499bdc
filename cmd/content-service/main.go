// Command content-service serves the public catalog API: film, genre and
// person reads from the search index behind the rate limiter and the
// degrading identity resolver.
//
// Configuration comes from environment variables, optionally layered over
// the YAML or JSON file named by CONFIG_FILE:
//
//	HTTP_ADDR=:8000 REDIS_URI=redis://redis:6379/0 \
//	AUTH_JWKS_URL=http://auth:8000/.well-known/jwks.json \
//	QDRANT_HOST=qdrant content-service
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/StricklySoft/catalog-edge/internal/catalog"
	"github.com/StricklySoft/catalog-edge/internal/edge"
	"github.com/StricklySoft/catalog-edge/pkg/auth"
	"github.com/StricklySoft/catalog-edge/pkg/clients/qdrant"
	"github.com/StricklySoft/catalog-edge/pkg/clients/redis"
	"github.com/StricklySoft/catalog-edge/pkg/config"
	"github.com/StricklySoft/catalog-edge/pkg/lifecycle"
	"github.com/StricklySoft/catalog-edge/pkg/metrics"
	"github.com/StricklySoft/catalog-edge/pkg/ratelimit"
	"github.com/StricklySoft/catalog-edge/pkg/server"
)

// Config is the content service configuration.
type Config struct {
	Version   string           `env:"SERVICE_VERSION" envDefault:"dev" yaml:"version" json:"version"`
	HTTP      server.Config    `env:"HTTP" yaml:"http" json:"http"`
	RateLimit ratelimit.Config `env:"RATELIMIT" yaml:"ratelimit" json:"ratelimit"`
	Auth      auth.Config      `env:"AUTH" yaml:"auth" json:"auth"`
	Redis     redis.Config     `yaml:"redis" json:"redis"`
	Search    qdrant.Config    `yaml:"search" json:"search"`
	Catalog   catalog.Config   `env:"CATALOG" yaml:"catalog" json:"catalog"`
	Log       edge.LogConfig   `env:"LOG" yaml:"log" json:"log"`
}

// Validate checks the sections that carry cross-field rules.
func (c *Config) Validate() error {
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

func main() {
	cfg := config.MustLoad[Config](config.New().WithFile(os.Getenv("CONFIG_FILE")))
	logger := edge.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("content-service: exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	kv, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	search, err := qdrant.NewClient(ctx, cfg.Search)
	if err != nil {
		_ = kv.Close()
		return fmt.Errorf("connect qdrant: %w", err)
	}

	jwks, err := auth.NewJWKSCache(cfg.Auth, kv,
		auth.WithJWKSLogger(logger),
		auth.WithJWKSMetrics(m),
	)
	if err != nil {
		return err
	}
	verifierOpts := []auth.VerifierOption{
		auth.WithAlgorithms(cfg.Auth.Algorithms...),
		auth.WithClockSkew(cfg.Auth.ClockSkew),
		auth.WithVerifierMetrics(m),
	}
	if cfg.Auth.Revocation {
		verifierOpts = append(verifierOpts, auth.WithRevocation(auth.NewDenylist(kv)))
	}
	resolver := auth.NewResolver(auth.NewVerifier(jwks, verifierOpts...),
		auth.WithMode(auth.DegradeToGuest),
		auth.WithResolverLogger(logger),
		auth.WithResolverMetrics(m),
	)

	limiter, err := edge.NewRateLimit(cfg.RateLimit, kv, logger, m)
	if err != nil {
		return err
	}

	srv := server.New(cfg.HTTP, logger)
	svc, err := lifecycle.NewServiceBuilder("content-service", cfg.Version).
		WithLogger(logger).
		WithWorker("http", srv.Run).
		WithWorker("jwks-refresh", jwks.Run).
		WithOnStop(func(context.Context) error { return search.Close() }).
		WithOnStop(func(context.Context) error { return kv.Close() }).
		Build()
	if err != nil {
		return err
	}

	r := srv.Router()
	stack := edge.Stack{Logger: logger, Metrics: m, RateLimit: limiter, Resolver: resolver}
	stack.Use(r)
	edge.MountOps(r, reg, svc, map[string]edge.Pinger{"redis": kv, "search": search})
	catalogHandler := catalog.NewHandler(
		catalog.NewService(search, kv, cfg.Catalog, catalog.WithLogger(logger)),
		logger,
	)
	stack.Group(r, func(r chi.Router) {
		r.Route("/api/v1", func(r chi.Router) {
			edge.MountIdentity(r)
			catalogHandler.Mount(r)
		})
	})

	return svc.Run(ctx, cfg.HTTP.ShutdownTimeout)
}
