package portfolio

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PriceRefreshJob keeps the quotes of held coins warm in the cache
type PriceRefreshJob struct {
	service *Service
	timeout time.Duration
	log     zerolog.Logger
}

// NewPriceRefreshJob creates the job. Each run is bounded by timeout.
func NewPriceRefreshJob(service *Service, timeout time.Duration, log zerolog.Logger) *PriceRefreshJob {
	return &PriceRefreshJob{
		service: service,
		timeout: timeout,
		log:     log.With().Str("job", "portfolio_price_refresh").Logger(),
	}
}

// Name returns the job name
func (j *PriceRefreshJob) Name() string {
	return "portfolio_price_refresh"
}

// Run refreshes every held coin's quote
func (j *PriceRefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	view, err := j.service.Refresh(ctx)
	if err != nil {
		return err
	}

	j.log.Debug().
		Int("positions", len(view.Positions)).
		Int("unpriced", len(view.Totals.Unpriced)).
		Bool("stale", view.Stale).
		Msg("Holdings prices refreshed")
	return nil
}
