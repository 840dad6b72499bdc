// Command admin-gateway exchanges an identity-provider access token for a
// staff session. Logins are restricted to the ADMIN_ALLOWED_EMAILS list and
// recorded in PostgreSQL.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/StricklySoft/catalog-edge/internal/admin"
	"github.com/StricklySoft/catalog-edge/internal/edge"
	"github.com/StricklySoft/catalog-edge/pkg/auth"
	"github.com/StricklySoft/catalog-edge/pkg/clients/postgres"
	"github.com/StricklySoft/catalog-edge/pkg/clients/redis"
	"github.com/StricklySoft/catalog-edge/pkg/config"
	"github.com/StricklySoft/catalog-edge/pkg/lifecycle"
	"github.com/StricklySoft/catalog-edge/pkg/metrics"
	"github.com/StricklySoft/catalog-edge/pkg/ratelimit"
	"github.com/StricklySoft/catalog-edge/pkg/server"
)

// defaultAlgorithm is the only algorithm accepted when AUTH_ALGORITHMS is
// unset.
const defaultAlgorithm = "RS256"

// Config is the admin gateway configuration.
type Config struct {
	Version   string           `env:"SERVICE_VERSION" envDefault:"dev" yaml:"version" json:"version"`
	HTTP      server.Config    `env:"HTTP" yaml:"http" json:"http"`
	RateLimit ratelimit.Config `env:"RATELIMIT" yaml:"ratelimit" json:"ratelimit"`
	Auth      auth.Config      `env:"AUTH" yaml:"auth" json:"auth"`
	Admin     admin.Config     `env:"ADMIN" yaml:"admin" json:"admin"`
	Redis     redis.Config     `yaml:"redis" json:"redis"`
	Postgres  postgres.Config  `yaml:"postgres" json:"postgres"`
	Log       edge.LogConfig   `env:"LOG" yaml:"log" json:"log"`
}

// Validate checks the sections that carry cross-field rules.
func (c *Config) Validate() error {
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if len(c.Admin.AllowedEmails) == 0 {
		return fmt.Errorf("admin: allowed emails must not be empty")
	}
	return nil
}

func main() {
	cfg := config.MustLoad[Config](config.New().WithFile(os.Getenv("CONFIG_FILE")))
	logger := edge.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("admin-gateway: exited with error", "error", err)
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
	db, err := postgres.NewClient(ctx, cfg.Postgres)
	if err != nil {
		_ = kv.Close()
		return fmt.Errorf("connect postgres: %w", err)
	}
	staff := admin.NewPostgresStaff(db)

	jwks, err := auth.NewJWKSCache(cfg.Auth, kv,
		auth.WithJWKSLogger(logger),
		auth.WithJWKSMetrics(m),
	)
	if err != nil {
		return err
	}
	algs := cfg.Auth.Algorithms
	if len(algs) == 0 {
		algs = []string{defaultAlgorithm}
	}
	verifierOpts := []auth.VerifierOption{
		auth.WithAlgorithms(algs...),
		auth.WithClockSkew(cfg.Auth.ClockSkew),
		auth.WithVerifierMetrics(m),
	}
	if cfg.Auth.Revocation {
		verifierOpts = append(verifierOpts, auth.WithRevocation(auth.NewDenylist(kv)))
	}
	login := admin.NewLoginHandler(auth.NewVerifier(jwks, verifierOpts...), staff, cfg.Admin, logger, m)

	limiter, err := edge.NewRateLimit(cfg.RateLimit, kv, logger, m)
	if err != nil {
		return err
	}

	srv := server.New(cfg.HTTP, logger)
	svc, err := lifecycle.NewServiceBuilder("admin-gateway", cfg.Version).
		WithLogger(logger).
		WithOnStart(staff.EnsureSchema).
		WithWorker("http", srv.Run).
		WithWorker("jwks-refresh", jwks.Run).
		WithOnStop(func(context.Context) error { db.Close(); return nil }).
		WithOnStop(func(context.Context) error { return kv.Close() }).
		Build()
	if err != nil {
		return err
	}

	r := srv.Router()
	edge.Stack{Logger: logger, Metrics: m, RateLimit: limiter}.Use(r)
	edge.MountOps(r, reg, svc, map[string]edge.Pinger{"redis": kv, "postgres": db})
	login.Mount(r)

	return svc.Run(ctx, cfg.HTTP.ShutdownTimeout)
}
