// Auth service of the job portal: password login, session lifecycle, per-user sockets.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobportal/internal/config"
	"github.com/jobportal/internal/handler"
	"github.com/jobportal/internal/logger"
	"github.com/jobportal/internal/repository"
	"github.com/jobportal/internal/secret"
	"github.com/jobportal/internal/service"
	"github.com/jobportal/internal/startup"
	"github.com/jobportal/internal/storage"
	"github.com/jobportal/internal/storage/memory"
	"github.com/jobportal/internal/token"
	"github.com/jobportal/internal/ws"
)

func main() {
	logger.SetPrefix("auth")
	dev := flag.Bool("dev", false, "embedded PostgreSQL and in-memory store (no external services)")
	migrateOnly := flag.Bool("migrate", false, "apply migrations and exit")
	flag.Parse()

	err := run(*dev, *migrateOnly)
	if err != nil {
		logger.Errorf("auth: %v", err)
	}
	logger.Flush()
	if err != nil {
		os.Exit(1)
	}
}

func run(dev, migrateOnly bool) error {
	logger.Info("starting auth service")
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if dev {
		pg, dsn, err := startup.StartEmbeddedPostgres(filepath.Join(".", ".pgdata"), 5432)
		if err != nil {
			return err
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := pg.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
		cfg.Database.URL = dsn
	}

	if err := startup.MigrateWithRetry(ctx, cfg.Database.URL, "up", 60*time.Second); err != nil {
		return err
	}
	if migrateOnly {
		return nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return err
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	pool, err := startup.ConnectDBWithRetry(ctx, poolCfg, 60*time.Second)
	if err != nil {
		return err
	}
	defer pool.Close()

	checks := map[string]handler.Check{"postgres": pool.Ping}
	var store storage.Store
	if dev {
		logger.Info("auth -dev: in-memory rate limits, principal cache and socket fan-out")
		store = memory.New()
	} else {
		redisClient, err := startup.ConnectRedisWithRetry(ctx, cfg.Redis.URL, 60*time.Second)
		if err != nil {
			return err
		}
		checks["redis"] = redisClient.Ping
		store = redisClient
	}
	defer store.Close()

	codec, err := token.NewCodec([]byte(cfg.Auth.AppKey))
	if err != nil {
		return err
	}
	box, err := secret.NewBox([]byte(cfg.Auth.EncryptionKey))
	if err != nil {
		return err
	}

	userRepo := repository.NewUserRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	directory := service.NewPrincipalDirectory(userRepo, store, cfg.Auth.PrincipalCacheTTL)

	opts := []service.ManagerOption{service.WithCredentialVerifier(service.NewBcryptVerifier(userRepo))}
	if cfg.Auth.LoginRateLimit > 0 {
		opts = append(opts, service.WithLoginLimiter(store, cfg.Auth.LoginRateLimit, cfg.Auth.LoginRateWindow))
	}
	manager, err := service.NewSessionManager(sessionRepo, directory, codec, box, service.Policy{
		RefreshWindow:  cfg.Auth.TokenLifetime,
		HardExpiration: cfg.Auth.TokenExpiration,
	}, opts...)
	if err != nil {
		return err
	}
	accounts := service.NewAccountService(userRepo, manager, directory, cfg.Auth.BcryptCost)

	hub := ws.NewHub(cfg.MaxWSConnections, ws.WithBroadcaster(store))
	hubCtx, hubCancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()
	defer func() {
		hubCancel()
		<-hubDone
	}()
	if err := hub.Listen(hubCtx); err != nil {
		return err
	}

	go manager.RunPurger(ctx, sessionRepo, cfg.Auth.PurgeInterval)

	srv := &http.Server{
		Addr: cfg.ServerAddr,
		Handler: handler.NewRouter(handler.RouterDeps{
			Sessions:          manager,
			Accounts:          accounts,
			Principals:        directory,
			Hub:               hub,
			Limiter:           store,
			Checks:            checks,
			AllowedOrigins:    cfg.CORSAllowedOrigins,
			InternalSecret:    cfg.Auth.InternalSecret,
			TrustProxyHeaders: cfg.TrustProxyHeaders,
			IPRateLimit:       cfg.Auth.IPRateLimit,
			IPRateWindow:      time.Minute,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("auth server listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down auth server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("auth server shutdown: %v", err)
	}
	logger.Info("auth server stopped")
	return nil
}
