package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mchestr/plex-wrapped-sub007/internal/api"
	"github.com/mchestr/plex-wrapped-sub007/internal/config"
	"github.com/mchestr/plex-wrapped-sub007/internal/database"
	"github.com/mchestr/plex-wrapped-sub007/internal/logger"
	"github.com/mchestr/plex-wrapped-sub007/internal/scheduler"
	"github.com/mchestr/plex-wrapped-sub007/internal/scheduler/tasks"
	"github.com/mchestr/plex-wrapped-sub007/internal/websocket"
)

func main() {
	// Load .env if present; real env vars win.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(logger.Config{
		Level:           cfg.Logging.Level,
		Format:          cfg.Logging.Format,
		Path:            cfg.Logging.Path,
		MaxSizeMB:       cfg.Logging.MaxSizeMB,
		MaxBackups:      cfg.Logging.MaxBackups,
		MaxAgeDays:      cfg.Logging.MaxAgeDays,
		Compress:        cfg.Logging.Compress,
		EnableStreaming: true,
		BufferSize:      1000,
	})
	defer log.Close()

	log.Info().
		Str("version", api.Version).
		Str("logLevel", cfg.Logging.Level).
		Msg("starting plexwrapped")

	if cfg.Plex.URL == "" || cfg.Plex.Token == "" {
		log.Warn().Msg("plex.url or plex.token not configured, scans will fail until they are set")
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("failed to create data directory")
		}
	}

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	log.Info().Msg("running database migrations")
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	hub := websocket.NewHub()
	go hub.Run()
	log.SetBroadcastHub(hub)

	sched, err := scheduler.New(log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}

	server := api.NewServer(db.Conn(), hub, cfg, sched, log, log.Logger)

	if err := server.EnsureDefaults(context.Background()); err != nil {
		log.Warn().Err(err).Msg("failed to seed starter rules")
	}

	if err := tasks.RegisterRetentionScanTask(sched, server.RuleService(), server.ScanService(), cfg.Scheduler.ScanCron, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("failed to register retention scan task")
	}
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	go func() {
		if err := server.Start(cfg.Server.Address()); err != nil {
			log.Info().Msg("server stopped")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown error")
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
}
