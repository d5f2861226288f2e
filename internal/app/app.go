package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"idea-server/internal/config"
	"idea-server/internal/database"
	"idea-server/internal/handler"
	"idea-server/internal/metrics"
	"idea-server/internal/middleware"
	"idea-server/internal/model"
	"idea-server/internal/repository"
	"idea-server/internal/revocation"
	"idea-server/internal/router"
	"idea-server/internal/service"
	"idea-server/internal/token"
)

type App struct {
	server       *http.Server
	cleanupFuncs []func()
}

// userRepository is satisfied by both the PostgreSQL and the in-memory store.
type userRepository interface {
	FindByUsername(ctx context.Context, username string) (model.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, u model.User) (model.User, error)
	UpdatePassword(ctx context.Context, userID int64, passwordHash string, changedAt time.Time) error
	SetEnabled(ctx context.Context, username string, enabled bool) (model.User, error)
	UpdateProfile(ctx context.Context, username string, email *string, avatar *string) (model.User, error)
	Ping(ctx context.Context) error
}

func New(cfg *config.Config) (*App, error) {
	// A weak secret is fatal: nothing is served until it is fixed.
	codec, err := token.NewCodec(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return nil, err
	}

	var cleanups []func()
	fail := func(err error) (*App, error) {
		runCleanups(cleanups)
		return nil, err
	}

	m := metrics.New()

	users, closeUsers, err := openUserRepository(cfg)
	if err != nil {
		return nil, err
	}
	cleanups = append(cleanups, closeUsers)

	revoked, closeRevoked, err := openRevocationStore(cfg)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, closeRevoked)

	authService := service.NewAuthService(users, service.NewBcryptHasher(cfg.BcryptCost), codec, revoked, m)
	if err := authService.EnsureAdmin(context.Background(), cfg.AdminUsername, cfg.AdminPassword); err != nil {
		return fail(err)
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	go revocation.RunSweeper(sweepCtx, revoked, cfg.RevocationSweepInterval, func(removed int) {
		remaining := -1
		if mem, ok := revoked.(*revocation.MemoryStore); ok {
			remaining = mem.Len()
		}
		m.RecordSweep(removed, remaining)
	})
	// Stop the sweeper before the stores it touches are closed.
	cleanups = append([]func(){sweepCancel}, cleanups...)

	authMiddleware := middleware.NewAuthMiddleware(codec, revoked, users, m)

	appRouter := router.New(cfg, authMiddleware, router.Handlers{
		Auth:    handler.NewAuthHandler(authService),
		User:    handler.NewUserHandler(authService),
		Health:  handler.NewHealthHandler(users),
		Metrics: m.Handler(),
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return &App{server: server, cleanupFuncs: cleanups}, nil
}

func (a *App) Run() error {
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if serveErr := a.server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("server failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownErr := a.server.Shutdown(ctx)
	runCleanups(a.cleanupFuncs)
	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}

func openUserRepository(cfg *config.Config) (userRepository, func(), error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set; users are kept in memory and lost on restart")
		return repository.NewMemoryUserRepository(), func() {}, nil
	}

	slog.Info("connecting to PostgreSQL")
	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}

	return repository.NewUserRepository(db.Pool), db.Close, nil
}

func openRevocationStore(cfg *config.Config) (revocation.Store, func(), error) {
	if cfg.RevocationStore != config.RevocationStoreRedis {
		return revocation.NewMemoryStore(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("revocation store ready", "backend", "redis", "addr", opts.Addr)
	return revocation.NewRedisStore(client), func() { _ = client.Close() }, nil
}

func runCleanups(funcs []func()) {
	for _, cleanup := range funcs {
		cleanup()
	}
}
