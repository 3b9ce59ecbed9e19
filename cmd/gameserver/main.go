// Package main provides the game server binary that coordinates two-player
// chess sessions over WebSocket.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gambit/internal/config"
	"github.com/cory-johannsen/gambit/internal/frontend/gateway"
	"github.com/cory-johannsen/gambit/internal/game/rules"
	"github.com/cory-johannsen/gambit/internal/game/session"
	"github.com/cory-johannsen/gambit/internal/health"
	"github.com/cory-johannsen/gambit/internal/observability"
	"github.com/cory-johannsen/gambit/internal/server"
	"github.com/cory-johannsen/gambit/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	migrateOnStart := flag.Bool("migrate", false, "apply pending schema migrations before serving")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting game server",
		zap.String("ws_addr", cfg.WebSocket.Addr()),
		zap.String("ws_path", cfg.WebSocket.Path),
	)

	engine, err := rules.NewChessEngine(cfg.Sessions.StartFEN)
	if err != nil {
		logger.Fatal("creating rules engine", zap.Error(err))
	}

	opts := []session.Option{session.WithArchiveTimeout(cfg.Sessions.ArchiveTimeout)}

	lifecycle := server.NewLifecycle(logger)

	// Connect to PostgreSQL for result archiving
	var pool *postgres.Pool
	if cfg.Database.Enabled {
		if *migrateOnStart {
			migStart := time.Now()
			if err := postgres.MigrateUp(cfg.Database.DSN()); err != nil {
				logger.Fatal("applying migrations", zap.Error(err))
			}
			logger.Info("migrations applied", zap.Duration("elapsed", time.Since(migStart)))
		}

		dbStart := time.Now()
		pool, err = postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		opts = append(opts, session.WithArchive(postgres.NewResultRepository(pool.DB())))
	} else {
		logger.Info("result archive disabled")
	}

	registry := session.NewRegistry()
	hub := gateway.NewHub(logger)
	manager := session.NewManager(registry, engine, hub, logger, opts...)
	ws := gateway.NewServer(cfg.WebSocket, hub, manager, logger)

	if pool != nil {
		quit := make(chan struct{})
		lifecycle.Add("postgres", &server.FuncService{
			StartFn: func() error {
				ticker := time.NewTicker(30 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-quit:
						return nil
					case <-ticker.C:
						if err := pool.Health(ctx, 5*time.Second); err != nil {
							logger.Warn("database health check failed", zap.Error(err))
						}
					}
				}
			},
			StopFn: func() {
				close(quit)
				// Archive writes still in flight need the pool.
				manager.Wait()
				pool.Close()
			},
		})
	}

	if cfg.Sessions.OpenTTL > 0 {
		lifecycle.Add("reaper", session.NewReaper(manager, cfg.Sessions.OpenTTL, cfg.Sessions.ReapInterval, logger))
	}

	lifecycle.Add("websocket", ws)

	if cfg.Health.Enabled {
		hs := health.NewServer(cfg.Health, logger)
		lifecycle.Add("health", hs)
		lifecycle.OnStarted(func() { hs.SetServing(true) })
		lifecycle.OnStopping(func() { hs.SetServing(false) })
	}

	lifecycle.OnStopping(func() {
		logger.Info("draining sessions", zap.Int("sessions", registry.Count()))
	})

	logger.Info("game server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Bool("archive", pool != nil),
		zap.Duration("open_ttl", cfg.Sessions.OpenTTL),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
