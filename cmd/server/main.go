// Command ralendar-auth starts the Ralendar authorization server.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ralendar/oauth-server/internal/config"
	"github.com/ralendar/oauth-server/internal/limiter"
	"github.com/ralendar/oauth-server/internal/migrate"
	"github.com/ralendar/oauth-server/internal/provider"
	"github.com/ralendar/oauth-server/internal/repository/postgres"
	httpserver "github.com/ralendar/oauth-server/internal/server/http"
	"github.com/ralendar/oauth-server/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const gcInterval = 10 * time.Minute

// main loads configuration, runs migrations, and starts the HTTP server.
func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DatabaseDSN); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	// DB pool
	pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("pgxpool.New", zap.Error(err))
	}
	defer pool.Close()

	// Repositories
	db := &postgres.DB{Pool: pool}
	clientRepo := postgres.NewClientRepo(db)
	codeRepo := postgres.NewCodeRepo(db)
	tokenRepo := postgres.NewTokenRepo(db)
	userRepo := postgres.NewUserRepo(db)
	identityRepo := postgres.NewIdentityRepo(db)
	mappingRepo := postgres.NewMappingRepo(db)

	lim := limiter.NewPG(pool, 15*time.Minute, 5, 15*time.Minute)

	// External providers: only the ones with configured credentials.
	var providers []provider.Provider
	if cfg.AcWingAppID != "" {
		providers = append(providers, provider.NewAcWing(cfg.AcWingAppID, cfg.AcWingSecret))
	}
	if cfg.QQAppID != "" {
		providers = append(providers, provider.NewQQ(cfg.QQAppID, cfg.QQAppKey))
	}
	if len(providers) == 0 {
		logger.Warn("no external providers configured, password login only")
	}

	// Services
	clientSvc := service.NewClientService(clientRepo)
	authorizeSvc := service.NewAuthorizeService(clientSvc, codeRepo, cfg.CodeTTL)
	tokenSvc := service.NewTokenService(clientSvc, codeRepo, tokenRepo, userRepo,
		cfg.AccessTTL, cfg.RefreshTTL, logger)
	identitySvc := service.NewIdentityService(providers, identityRepo, userRepo, logger)
	authSvc := service.NewAuthService(userRepo, lim)
	gate := service.NewGate([]byte(cfg.SharedKey), mappingRepo, userRepo)
	sessions := service.NewSessions([]byte(cfg.SessionKey))

	srv := httpserver.New(authSvc, authorizeSvc, clientSvc, tokenSvc, identitySvc, gate, sessions,
		httpserver.Options{Addr: cfg.Addr, BaseURL: cfg.BaseURL}, logger)

	// Expired codes and tokens are swept in the background.
	go func() {
		ticker := time.NewTicker(gcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now()
				codes, err := codeRepo.DeleteExpired(ctx, now)
				if err != nil {
					logger.Warn("gc codes", zap.Error(err))
				}
				tokens, err := tokenRepo.DeleteExpired(ctx, now)
				if err != nil {
					logger.Warn("gc tokens", zap.Error(err))
				}
				if codes > 0 || tokens > 0 {
					logger.Info("gc", zap.Int64("codes", codes), zap.Int64("tokens", tokens))
				}
			}
		}
	}()

	logger.Info("listening", zap.String("addr", cfg.Addr))
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Fatal("serve", zap.Error(err))
	}
	logger.Info("stopped")
}
