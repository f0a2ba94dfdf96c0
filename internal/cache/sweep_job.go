package cache

import "github.com/rs/zerolog"

// SweepJob drops expired entries from the hot tier
type SweepJob struct {
	cache *TieredCache
	log   zerolog.Logger
}

// NewSweepJob creates a hot-cache sweep job
func NewSweepJob(c *TieredCache, log zerolog.Logger) *SweepJob {
	return &SweepJob{
		cache: c,
		log:   log.With().Str("job", "hot_cache_sweep").Logger(),
	}
}

// Run executes the sweep
func (j *SweepJob) Run() error {
	if removed := j.cache.Sweep(); removed > 0 {
		j.log.Debug().Int("removed", removed).Msg("Swept expired hot cache entries")
	}
	return nil
}

// Name returns the job name for scheduling and logging.
func (j *SweepJob) Name() string {
	return "hot_cache_sweep"
}
