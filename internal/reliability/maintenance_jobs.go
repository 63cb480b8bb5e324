package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	maintenanceTimeout = 2 * time.Minute
	backupTimeout      = 10 * time.Minute

	criticalFreeBytes = 500 << 20
	lowFreeBytes      = 2 << 30
)

// HistoryPruner deletes attempts older than a cutoff.
type HistoryPruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// MaintainedDB is the database surface the maintenance job needs.
type MaintainedDB interface {
	HealthCheck(ctx context.Context) error
	WALCheckpoint(ctx context.Context) error
}

// HistoryMaintenanceJob checks the history database, prunes old attempts,
// truncates the WAL and watches free disk space.
type HistoryMaintenanceJob struct {
	pruner    HistoryPruner
	db        MaintainedDB
	retention time.Duration
	dataDir   string
	now       func() time.Time
	log       zerolog.Logger
}

// NewHistoryMaintenanceJob creates the job. retentionDays <= 0 disables pruning.
func NewHistoryMaintenanceJob(pruner HistoryPruner, db MaintainedDB, retentionDays int, dataDir string, log zerolog.Logger) *HistoryMaintenanceJob {
	return &HistoryMaintenanceJob{
		pruner:    pruner,
		db:        db,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		dataDir:   dataDir,
		now:       time.Now,
		log:       log.With().Str("job", "history_maintenance").Logger(),
	}
}

// Run executes the job.
func (j *HistoryMaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()

	started := j.now()
	j.log.Info().Msg("Starting history maintenance")

	if err := j.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("history database unhealthy: %w", err)
	}

	var pruned int64
	if j.retention > 0 {
		n, err := j.pruner.PruneOlderThan(ctx, started.Add(-j.retention))
		if err != nil {
			return err
		}
		pruned = n
	}

	if err := j.db.WALCheckpoint(ctx); err != nil {
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.log.Info().
		Int64("pruned", pruned).
		Dur("duration", j.now().Sub(started)).
		Msg("History maintenance completed")
	return nil
}

// Name returns the job name for the scheduler.
func (j *HistoryMaintenanceJob) Name() string {
	return "history_maintenance"
}

func (j *HistoryMaintenanceJob) checkDiskSpace() error {
	if j.dataDir == "" {
		return nil
	}
	usage, err := disk.Usage(j.dataDir)
	if err != nil {
		j.log.Warn().Err(err).Str("path", j.dataDir).Msg("Failed to read disk usage")
		return nil
	}

	log := j.log.With().Uint64("free_bytes", usage.Free).Float64("used_percent", usage.UsedPercent).Logger()
	switch {
	case usage.Free < criticalFreeBytes:
		log.Error().Msg("Insufficient disk space")
		return fmt.Errorf("only %d MB free in %s", usage.Free>>20, j.dataDir)
	case usage.Free < lowFreeBytes:
		log.Warn().Msg("Disk space running low")
	default:
		log.Debug().Msg("Disk space check")
	}
	return nil
}

// BackupJob uploads a fresh backup and rotates old ones.
type BackupJob struct {
	service *R2BackupService
	keep    int
	log     zerolog.Logger
}

// NewBackupJob creates the job; keep is the number of archives retained.
func NewBackupJob(service *R2BackupService, keep int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		service: service,
		keep:    keep,
		log:     log.With().Str("job", "r2_backup").Logger(),
	}
}

// Run executes the job. Rotation failures are logged; the backup itself
// already succeeded.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	if _, err := j.service.CreateAndUploadBackup(ctx); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	deleted, err := j.service.RotateOldBackups(ctx, j.keep)
	if err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
		return nil
	}
	j.log.Debug().Int("deleted", deleted).Msg("Backup rotation completed")
	return nil
}

// Name returns the job name for the scheduler.
func (j *BackupJob) Name() string {
	return "r2_backup"
}
