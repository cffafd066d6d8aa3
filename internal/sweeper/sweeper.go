// Package sweeper periodically compacts the key store by removing expired
// records that were never presented again after expiring.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trialkey-service/internal/metrics"
	"github.com/trialkey-service/internal/model"
	"github.com/trialkey-service/internal/store"
)

const DefaultInterval = time.Hour

type Sweeper struct {
	store    *store.Store
	validity time.Duration
	interval time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

func New(st *store.Store, validity, interval time.Duration, m *metrics.Metrics) *Sweeper {
	if validity <= 0 {
		validity = model.DefaultValidity
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		store:    st,
		validity: validity,
		interval: interval,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Result reports what one pass did.
type Result struct {
	Removed int
	Kept    int
}

// Sweep removes every record whose age has reached the validity window. The
// database is saved only when something was removed.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	now := s.now()
	var res Result
	err := s.store.Update(ctx, func(db *model.KeyDatabase) (bool, error) {
		res.Removed = db.RemoveExpired(now, s.validity)
		res.Kept = len(db.Keys)
		return res.Removed > 0, nil
	})
	if err != nil {
		return Result{}, err
	}

	s.metrics.KeysSwept(res.Removed)
	s.metrics.SetActive(res.Kept)
	return res, nil
}

// Run sweeps once immediately and then on every tick until ctx is done.
// Failures are logged and the next tick tries again.
func (s *Sweeper) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("expiry sweeper started")

	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("expiry sweeper stopped")
			return
		case <-t.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	res, err := s.Sweep(ctx)
	if err != nil {
		log.Error().Err(err).Msg("expiry sweep failed")
		return
	}
	if res.Removed > 0 {
		log.Info().Int("removed", res.Removed).Int("kept", res.Kept).Msg("expired keys swept")
		return
	}
	log.Debug().Int("kept", res.Kept).Msg("expiry sweep found nothing to remove")
}
