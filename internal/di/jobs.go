package di

import (
	"fmt"
	"time"

	"github.com/aristath/coinfolio/internal/cache"
	"github.com/aristath/coinfolio/internal/clientdata"
	"github.com/aristath/coinfolio/internal/config"
	"github.com/aristath/coinfolio/internal/database"
	"github.com/aristath/coinfolio/internal/modules/portfolio"
	"github.com/aristath/coinfolio/internal/reliability"
	"github.com/aristath/coinfolio/internal/scheduler"
	"github.com/rs/zerolog"
)

// priceRefreshTimeout bounds one holdings price refresh
const priceRefreshTimeout = 2 * time.Minute

// RegisterJobs creates the scheduler and registers every background job
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.Scheduler = scheduler.New(log)
	container.Jobs = make(map[string]scheduler.Job)

	schedules := []struct {
		schedule string
		job      scheduler.Job
	}{
		{"0 */5 * * * *", cache.NewSweepJob(container.Cache, log)},
		{"0 30 4 * * *", clientdata.NewCleanupJob(container.ClientData, log)},
		{"0 0 * * * *", reliability.NewWALCheckpointJob(map[string]*database.DB{
			"ledger": container.LedgerDB,
			"cache":  container.CacheDB,
		}, log)},
		{cfg.RefreshSchedule, portfolio.NewPriceRefreshJob(container.Portfolio, priceRefreshTimeout, log)},
	}
	if container.Backup != nil {
		schedules = append(schedules, struct {
			schedule string
			job      scheduler.Job
		}{cfg.Backup.Schedule, reliability.NewR2BackupJob(container.Backup, cfg.Backup.RetentionDays, log)})
	}

	for _, s := range schedules {
		if err := container.Scheduler.AddJob(s.schedule, s.job); err != nil {
			return fmt.Errorf("failed to register job %s: %w", s.job.Name(), err)
		}
		container.Jobs[s.job.Name()] = s.job
	}
	return nil
}
