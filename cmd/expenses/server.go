package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nicolRB/LogWare/pkg/api"
	"github.com/nicolRB/LogWare/pkg/artifacts"
	"github.com/nicolRB/LogWare/pkg/audit"
	"github.com/nicolRB/LogWare/pkg/auth"
	"github.com/nicolRB/LogWare/pkg/config"
	"github.com/nicolRB/LogWare/pkg/console"
	"github.com/nicolRB/LogWare/pkg/identity"
	"github.com/nicolRB/LogWare/pkg/observability"
	"github.com/nicolRB/LogWare/pkg/policy"
	"github.com/nicolRB/LogWare/pkg/report"
	"github.com/nicolRB/LogWare/pkg/store"
)

// backend is the report repository chosen from configuration plus whatever
// must be closed on shutdown.
type backend struct {
	repo        report.Repository
	db          *sql.DB
	idempotency api.IdempotencyStorer
}

func (b *backend) ready(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	return b.db.PingContext(ctx)
}

func (b *backend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// openBackend picks Postgres when DATABASE_URL is set, SQLite in lite mode
// and memory when STORE=memory.
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch {
	case cfg.Store == "memory":
		slog.InfoContext(ctx, "store: memory (reports are lost on restart)")
		return &backend{repo: store.NewMemoryStore(), idempotency: api.NewIdempotencyStore(cfg.IdempotencyTTL)}, nil

	case cfg.LiteMode():
		db, err := store.OpenSQLite(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		repo, err := store.NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to init sqlite store: %w", err)
		}
		slog.InfoContext(ctx, "store: sqlite", "data_dir", cfg.DataDir)
		return &backend{repo: repo, db: db, idempotency: api.NewIdempotencyStore(cfg.IdempotencyTTL)}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("DB ping failed: %w", err)
	}
	pg := store.NewPostgresStore(db)
	if err := pg.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init report store: %w", err)
	}
	idem := api.NewPostgresIdempotencyStore(db, cfg.IdempotencyTTL)
	if err := idem.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init idempotency store: %w", err)
	}
	slog.InfoContext(ctx, "store: postgres")
	return &backend{repo: pg, db: db, idempotency: idem}, nil
}

// loadKeySet derives the token key from AUTH_SEED. Without a seed a random
// key is generated and tokens do not survive a restart.
func loadKeySet(cfg *config.Config) (*identity.InMemoryKeySet, error) {
	if cfg.AuthSeed == "" {
		slog.Warn("AUTH_SEED not set; using an ephemeral token key")
		return identity.NewInMemoryKeySet()
	}
	return identity.NewKeySetFromSeed([]byte(cfg.AuthSeed))
}

func loadPolicy(cfg *config.Config) (*policy.Engine, error) {
	pf, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	return policy.New(pf.Rules)
}

// openAuditChain replays the JSONL audit file under DATA_DIR and keeps
// appending to it.
func openAuditChain(cfg *config.Config) (*audit.Chain, *os.File, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	path := filepath.Join(cfg.DataDir, "audit.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o640)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	chain, err := audit.LoadChain(f, f)
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("audit log %s: %w", path, err)
	}
	slog.Info("audit: chain loaded", "path", path, "entries", chain.Len(), "head", chain.Head())
	return chain, f, nil
}

func newLimiter(ctx context.Context, cfg *config.Config) (api.LimiterStore, func() error, error) {
	if cfg.RedisAddr == "" {
		return api.NewMemoryLimiterStore(), func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.InfoContext(ctx, "limiter: redis", "addr", cfg.RedisAddr)
	return api.NewRedisLimiterStore(client), client.Close, nil
}

func newTelemetry(ctx context.Context, cfg *config.Config) (*observability.Provider, error) {
	oc := observability.DefaultConfig()
	oc.Enabled = cfg.OTelEnabled
	oc.OTLPEndpoint = cfg.OTelEndpoint
	oc.Insecure = cfg.OTelInsecure
	oc.Environment = cfg.Environment
	return observability.New(ctx, oc)
}

//nolint:gocognit,gocyclo
func runServer(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	fmt.Fprintf(stdout, "%sLogWare Expenses starting...%s\n", ColorBold+ColorBlue, ColorReset)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.Close()

	keySet, err := loadKeySet(cfg)
	if err != nil {
		return fmt.Errorf("failed to init key set: %w", err)
	}
	engine, err := loadPolicy(cfg)
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}

	chain, auditFile, err := openAuditChain(cfg)
	if err != nil {
		return err
	}
	defer auditFile.Close()

	artStore, err := artifacts.NewStore(ctx, artifacts.Options{
		Type:     artifacts.StoreType(cfg.ArtifactStorageType),
		Dir:      cfg.ArtifactDir,
		Bucket:   cfg.ArtifactBucket,
		Region:   cfg.ArtifactRegion,
		Endpoint: cfg.ArtifactEndpoint,
		Prefix:   cfg.ArtifactPrefix,
	})
	if err != nil {
		return fmt.Errorf("failed to init artifact store: %w", err)
	}

	limiter, closeLimiter, err := newLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	telemetry, err := newTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to init observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	globalLimiter := api.NewGlobalRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go globalLimiter.Run(ctx)
	if mem, ok := be.idempotency.(*api.MemoryIdempotencyStore); ok {
		go mem.Run(ctx)
	}

	srv, err := console.NewServer(ctx, console.Deps{
		Manager:       report.NewManager(be.repo),
		Policy:        engine,
		Validator:     auth.NewJWTValidator(keySet),
		Audit:         audit.Multi(chain, audit.NewLogger()),
		Chain:         chain,
		Archive:       artifacts.NewArchive(artStore),
		Telemetry:     telemetry,
		GlobalLimiter: globalLimiter,
		Limiter:       limiter,
		Backpressure:  api.BackpressurePolicy{RPM: cfg.ActorRPM, Burst: cfg.ActorBurst},
		Idempotency:   be.idempotency,
		CORSOrigins:   cfg.CORSOrigins,
		Ready:         be.ready,
	})
	if err != nil {
		return err
	}

	apiServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Health Server
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	healthServer := &http.Server{
		Addr:              ":" + cfg.HealthPort,
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	for _, s := range []*http.Server{apiServer, healthServer} {
		go func(s *http.Server) {
			slog.Info("listening", "addr", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(s)
	}
	fmt.Fprintf(stdout, "ready: http://localhost:%s\n", cfg.Port)

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err = <-errCh:
		slog.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range []*http.Server{apiServer, healthServer} {
		if serr := s.Shutdown(shutdownCtx); serr != nil {
			slog.Error("shutdown failed", "addr", s.Addr, "error", serr)
		}
	}
	return err
}
