package trade

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Janitor removes idempotency records once they can no longer be replayed
type Janitor struct {
	db       *Database
	interval time.Duration // Time between sweeps
}

func NewJanitor(db *Database, interval time.Duration) *Janitor {
	return &Janitor{
		db:       db,
		interval: interval,
	}
}

// Start sweeps on every tick until ctx is cancelled
func (j *Janitor) Start(ctx context.Context) {
	logger := log.With().Str("component", "idempotency_janitor").Logger()
	logger.Info().Dur("interval", j.interval).Msg("starting idempotency janitor")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down idempotency janitor")
			return
		case now := <-ticker.C:
			if _, err := j.Sweep(ctx, now); err != nil {
				logger.Error().Err(err).Msg("failed to delete expired idempotency records")
			}
		}
	}
}

// Sweep deletes the records that expired before now
func (j *Janitor) Sweep(ctx context.Context, now time.Time) (int64, error) {
	n, err := j.db.DeleteExpiredIdempotency(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Debug().
			Str("component", "idempotency_janitor").
			Int64("deleted", n).
			Msg("expired idempotency records removed")
	}
	return n, nil
}
