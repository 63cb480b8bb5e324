// Package main runs the ledger heartbeat service: a supervised worker that
// periodically submits a small signed transfer to a Solana cluster, plus the
// HTTP API that controls it and the maintenance jobs that keep its history
// database healthy.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ideastake/ledgerbeat/internal/clients/solana"
	"github.com/ideastake/ledgerbeat/internal/config"
	"github.com/ideastake/ledgerbeat/internal/database"
	"github.com/ideastake/ledgerbeat/internal/events"
	"github.com/ideastake/ledgerbeat/internal/heartbeat"
	"github.com/ideastake/ledgerbeat/internal/history"
	"github.com/ideastake/ledgerbeat/internal/identity"
	"github.com/ideastake/ledgerbeat/internal/ledger"
	"github.com/ideastake/ledgerbeat/internal/reliability"
	"github.com/ideastake/ledgerbeat/internal/scheduler"
	"github.com/ideastake/ledgerbeat/internal/server"
	"github.com/ideastake/ledgerbeat/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.ForEnv(cfg.AppEnv, cfg.LogLevel))
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("rpc_url", cfg.Solana.RPCURL).
		Msg("Starting ledgerbeat")

	historyDB, err := database.New(database.Config{
		Path:    cfg.History.Path,
		Profile: database.ProfileStandard,
		Name:    "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()

	if err := historyDB.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate history database")
	}
	historyRepo := history.NewRepository(historyDB.Conn(), log)
	bus := events.NewBus(log)

	op, err := ledger.NewHeartbeat(ledger.Options{
		KeypairPath: cfg.Solana.KeypairPath,
		Store:       identity.NewFileStore(log),
		Dial: solana.NewFactory(solana.Options{
			Commitment:     cfg.Solana.Commitment,
			ConfirmTimeout: cfg.Solana.ConfirmTimeout,
			WebsocketURL:   cfg.Solana.WSURL,
		}, log),
		Build:       solana.BuildTransfer,
		StepTimeout: cfg.Solana.StepTimeout,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create heartbeat operation")
	}

	supervisor, err := heartbeat.New(heartbeat.ScheduleConfig{
		IntervalSeconds: cfg.Heartbeat.IntervalSeconds,
		Endpoint:        cfg.Solana.RPCURL,
	}, op, log, heartbeat.WithRecorder(heartbeat.Recorders(historyRepo, events.NewAttemptPublisher(bus))))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create heartbeat supervisor")
	}

	sched := scheduler.New(log)
	sched.SetObserver(events.NewJobReporter(bus))
	if err := registerJobs(sched, cfg, historyDB, historyRepo, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}
	sched.Start()

	srv := server.New(server.Config{
		Host:           cfg.ServerHost,
		Port:           cfg.ServerPort,
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: requestTimeout(cfg),
		DevMode:        cfg.IsDev(),
		Log:            log,
		Heartbeat:      supervisor,
		History:        historyRepo,
		Jobs:           sched,
		DB:             historyDB,
		Events:         bus,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	if cfg.Heartbeat.Autostart {
		if err := supervisor.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start heartbeat")
		}
	}

	log.Info().Str("addr", cfg.Address()).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop waits out the current sleep or tick, so this can take up to one interval.
	if err := supervisor.Stop(); err != nil {
		log.Error().Err(err).Msg("Heartbeat loop ended abnormally")
	}
	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// registerJobs schedules history maintenance and, when configured, offsite backups.
func registerJobs(sched *scheduler.Scheduler, cfg *config.Config, db *database.DB, repo *history.Repository, log zerolog.Logger) error {
	maintenance := reliability.NewHistoryMaintenanceJob(repo, db, cfg.History.RetentionDays, cfg.DataDir, log)
	if err := sched.AddJob(cfg.History.PruneSchedule, maintenance); err != nil {
		return err
	}

	if !cfg.Backup.Enabled {
		return nil
	}

	store, err := reliability.NewR2Client(context.Background(), reliability.R2Config{
		Endpoint:  cfg.Backup.Endpoint,
		Region:    cfg.Backup.Region,
		Bucket:    cfg.Backup.Bucket,
		AccessKey: cfg.Backup.AccessKey,
		SecretKey: cfg.Backup.SecretKey,
	}, log)
	if err != nil {
		return err
	}

	backups := reliability.NewR2BackupService(store, db, filepath.Join(cfg.DataDir, "backup-staging"), cfg.Backup.Prefix, log)
	return sched.AddJob(cfg.Backup.Schedule, reliability.NewBackupJob(backups, cfg.Backup.Keep, log))
}

// requestTimeout leaves room for an airdrop and a transfer, each confirmed.
func requestTimeout(cfg *config.Config) time.Duration {
	return 2*cfg.Solana.ConfirmTimeout + 30*time.Second
}
