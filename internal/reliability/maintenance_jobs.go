package reliability

import (
	"context"
	"time"

	"github.com/aristath/coinfolio/internal/database"
	"github.com/rs/zerolog"
)

// WALCheckpointJob truncates the WAL of every database to prevent bloat
type WALCheckpointJob struct {
	databases map[string]*database.DB
	log       zerolog.Logger
}

// NewWALCheckpointJob creates a new WAL checkpoint job
func NewWALCheckpointJob(databases map[string]*database.DB, log zerolog.Logger) *WALCheckpointJob {
	return &WALCheckpointJob{
		databases: databases,
		log:       log.With().Str("job", "wal_checkpoint").Logger(),
	}
}

// Run executes the checkpoint for each database. Failures are logged, not returned.
func (j *WALCheckpointJob) Run() error {
	for name, db := range j.databases {
		if db == nil {
			continue
		}
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().
				Str("database", name).
				Err(err).
				Msg("WAL checkpoint failed")
			continue
		}
		j.log.Debug().Str("database", name).Msg("WAL checkpoint completed")
	}
	return nil
}

// Name returns the job name for scheduler
func (j *WALCheckpointJob) Name() string {
	return "wal_checkpoint"
}

// R2BackupJob uploads a backup and rotates old ones
type R2BackupJob struct {
	service       *R2BackupService
	retentionDays int
	timeout       time.Duration
	log           zerolog.Logger
}

// NewR2BackupJob creates a new backup job
func NewR2BackupJob(service *R2BackupService, retentionDays int, log zerolog.Logger) *R2BackupJob {
	return &R2BackupJob{
		service:       service,
		retentionDays: retentionDays,
		timeout:       5 * time.Minute,
		log:           log.With().Str("job", "r2_backup").Logger(),
	}
}

// Run executes the backup and rotation
func (j *R2BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if _, err := j.service.CreateAndUploadBackup(ctx); err != nil {
		j.log.Error().Err(err).Msg("Backup failed")
		return err
	}

	deleted, err := j.service.RotateOldBackups(ctx, j.retentionDays)
	if err != nil {
		// the new backup is already uploaded
		j.log.Warn().Err(err).Msg("Backup rotation failed")
		return nil
	}
	if deleted > 0 {
		j.log.Info().Int("deleted", deleted).Msg("Rotated old backups")
	}
	return nil
}

// Name returns the job name for scheduler
func (j *R2BackupJob) Name() string {
	return "r2_backup"
}
