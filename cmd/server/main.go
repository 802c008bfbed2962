// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/opentrusty/ticketd/internal/audit"
	"github.com/opentrusty/ticketd/internal/authority"
	"github.com/opentrusty/ticketd/internal/config"
	"github.com/opentrusty/ticketd/internal/credential"
	"github.com/opentrusty/ticketd/internal/crypto"
	"github.com/opentrusty/ticketd/internal/identity"
	"github.com/opentrusty/ticketd/internal/observability/logger"
	"github.com/opentrusty/ticketd/internal/observability/metrics"
	"github.com/opentrusty/ticketd/internal/observability/tracing"
	"github.com/opentrusty/ticketd/internal/permission"
	"github.com/opentrusty/ticketd/internal/registry"
	"github.com/opentrusty/ticketd/internal/store/postgres"
	"github.com/opentrusty/ticketd/internal/store/redis"
	transportHTTP "github.com/opentrusty/ticketd/internal/transport/http"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML configuration file")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [serve|migrate|bootstrap]\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd := pflag.Arg(0); cmd {
	case "", "serve":
		err = serve(ctx, cfg)
	case "migrate":
		err = runMigrate(ctx, cfg)
	case "bootstrap":
		err = runBootstrap(ctx, cfg)
	default:
		pflag.Usage()
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		slog.Error("ticketd failed", logger.Error(err))
		os.Exit(1)
	}
}

func deriver(cfg *config.Config) *crypto.KeyDeriver {
	return crypto.NewKeyDeriver(cfg.Security.Argon2Memory, cfg.Security.Argon2Iterations, cfg.Security.Argon2Parallelism)
}

func connectDB(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	return postgres.New(ctx, postgres.Config{
		URL:          cfg.Database.URL,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
}

// openVault returns the configured credential vault and a function that
// releases it.
func openVault(ctx context.Context, cfg *config.Config) (credential.Vault, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		slog.Warn("using in-memory credential vault; credentials are lost on restart")
		return credential.NewMemoryVault(), func() {}, nil
	case config.BackendFile:
		v, err := credential.OpenFileVault(cfg.Storage.FilePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("opened credential file", logger.String("path", v.Path()))
		return v, func() {}, nil
	case config.BackendPostgres:
		db, err := connectDB(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := db.MigrateUp(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		slog.Info("connected to database")
		return postgres.NewCredentialRepository(db), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func openKeyStore(ctx context.Context, cfg *config.Config) (authority.KeyStore, func(), error) {
	if cfg.KeyStore.Backend != config.BackendRedis {
		return authority.NewMemoryKeyStore(), func() {}, nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.KeyStore.RedisAddr,
		Password: cfg.KeyStore.RedisPassword,
		DB:       cfg.KeyStore.RedisDB,
	})
	ks := redis.NewKeyStore(client, cfg.Ticket.Lifetime).WithPrefix(cfg.KeyStore.Prefix)
	if err := ks.Ping(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	slog.Info("connected to redis", logger.String("addr", cfg.KeyStore.RedisAddr))
	return ks, func() { client.Close() }, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting ticketd")

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		Endpoint:       cfg.Observability.OTELEndpoint,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	meter, err := metrics.New(ctx, metrics.Config{Enabled: cfg.Observability.OTELEnabled}, cfg.Observability.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize meter: %w", err)
	}
	instruments, err := meter.TicketInstruments()
	if err != nil {
		return err
	}

	vault, closeVault, err := openVault(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeVault()

	keys, closeKeys, err := openKeyStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeKeys()

	auditLogger := audit.NewSlogLogger()

	if _, err := identity.NewBootstrapService(vault, deriver(cfg), auditLogger).Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	auth, err := authority.New(vault, keys,
		authority.WithLifetime(cfg.Ticket.Lifetime),
		authority.WithAuditLogger(auditLogger),
		authority.WithTracer(tracer.GetTracer()),
		authority.WithInstruments(instruments),
	)
	if err != nil {
		return err
	}

	reg := registry.Empty()
	if cfg.Registry.Path != "" {
		if reg, err = registry.Load(cfg.Registry.Path); err != nil {
			return err
		}
		slog.Info("loaded unit registry", logger.String("path", cfg.Registry.Path), slog.Int("units", reg.Len()))
	}

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	go rateLimiter.Run(ctx)

	handler := transportHTTP.NewHandler(auth, reg, permission.NewResolver(slog.Default()), auditLogger)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      transportHTTP.NewRouter(handler, rateLimiter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"), logger.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func runMigrate(ctx context.Context, cfg *config.Config) error {
	if cfg.Storage.Backend != config.BackendPostgres {
		return fmt.Errorf("migrate needs the postgres backend, configured %q", cfg.Storage.Backend)
	}
	db, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.MigrateUp(ctx); err != nil {
		return err
	}
	slog.Info("migration successful")
	return nil
}

func runBootstrap(ctx context.Context, cfg *config.Config) error {
	vault, closeVault, err := openVault(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeVault()

	created, err := identity.NewBootstrapService(vault, deriver(cfg), audit.NewSlogLogger()).Bootstrap(ctx)
	if err != nil {
		return err
	}
	if !created {
		slog.Info("bootstrap skipped; an administrator exists or none is configured")
	}
	return nil
}
