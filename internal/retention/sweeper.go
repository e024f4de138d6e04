package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/tanvir/tenantbook/internal/events"
	"github.com/tanvir/tenantbook/internal/store"
)

// Sweeper enforces the one-year retention policy: records past their
// expiresAt are physically removed, together with their index entries,
// regardless of logical status.
type Sweeper struct {
	store     *store.Store
	logger    *slog.Logger
	events    *events.Publisher
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

type Config struct {
	Interval  time.Duration
	BatchSize int
}

func New(st *store.Store, logger *slog.Logger, pub *events.Publisher, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		store:     st,
		logger:    logger,
		events:    pub,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		now:       time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.sweepOnce(ctx)
			if err != nil {
				s.logger.Error("retention sweep failed", "err", err)
				continue
			}
			if n > 0 {
				s.logger.Info("expired appointments purged", "count", n)
			}
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) (int, error) {
	purged, err := s.store.PurgeExpired(ctx, s.now(), s.batchSize)
	for _, rec := range purged {
		payload, perr := events.AppointmentPayload(rec)
		if perr != nil {
			s.logger.Error("failed to build expiry event payload", "err", perr, "appointment_id", rec.ID)
			continue
		}
		s.events.Publish(ctx, events.Event{
			Type:          events.TypeExpired,
			TenantID:      rec.TenantID,
			AppointmentID: rec.ID,
			Payload:       payload,
		})
	}
	return len(purged), err
}
