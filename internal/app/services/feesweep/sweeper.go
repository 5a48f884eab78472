// Package feesweep runs the scheduled subscription fee collection. On each
// tick it withdraws the configured fee from every record whose platform
// authority matches the sweeper identity; records that are paused, immature,
// or underfunded are skipped and retried on the next tick.
package feesweep

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/escrow_service/internal/app/domain/escrow"
	"github.com/R3E-Network/escrow_service/internal/app/escrowerr"
	escrowsvc "github.com/R3E-Network/escrow_service/internal/app/services/escrow"
	"github.com/R3E-Network/escrow_service/pkg/logger"
)

// Sweeper is the scheduled fee collector. It satisfies system.Service.
type Sweeper struct {
	svc       *escrowsvc.Service
	authority escrow.Identity
	amount    uint64
	schedule  string
	log       *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// New creates a sweeper collecting amount per record on the cron schedule.
func New(svc *escrowsvc.Service, authority escrow.Identity, amount uint64, schedule string, log *logger.Logger) (*Sweeper, error) {
	if authority.IsZero() {
		return nil, fmt.Errorf("feesweep: authority identity required")
	}
	if amount == 0 || amount > escrow.MaxSubscriptionFee {
		return nil, fmt.Errorf("feesweep: fee amount %d outside (0, %d]", amount, escrow.MaxSubscriptionFee)
	}
	if log == nil {
		log = logger.NewDefault("feesweep")
	}
	return &Sweeper{
		svc:       svc,
		authority: authority,
		amount:    amount,
		schedule:  schedule,
		log:       log,
	}, nil
}

func (s *Sweeper) Name() string { return "fee-sweeper" }

// Start schedules the sweep.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		if err := s.SweepOnce(context.Background()); err != nil {
			s.log.WithError(err).Warn("sweep run failed")
		}
	}); err != nil {
		return fmt.Errorf("feesweep: bad schedule %q: %w", s.schedule, err)
	}

	c.Start()
	s.cron = c
	s.running = true
	s.log.WithField("schedule", s.schedule).Info("fee sweeper started")
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	stopCtx := s.cron.Stop()
	s.running = false

	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SweepOnce collects the fee from every platform-active record delegated to
// the sweeper authority. Domain rejections are expected operating conditions
// and never fail the run; only listing errors do.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	records, err := s.svc.ListPlatformActive(ctx)
	if err != nil {
		return fmt.Errorf("feesweep: list records: %w", err)
	}

	var collected, skipped int
	for _, rec := range records {
		if rec.PlatformAuthority != s.authority {
			continue
		}
		if _, err := s.svc.WithdrawSubscriptionFee(ctx, s.authority, rec.Address, s.amount); err != nil {
			if isRetryable(err) {
				skipped++
				s.log.WithField("address", rec.Address).
					WithError(err).
					Debug("record skipped this sweep")
				continue
			}
			return fmt.Errorf("feesweep: withdraw from %s: %w", rec.Address, err)
		}
		collected++
	}

	s.log.WithField("collected", collected).
		WithField("skipped", skipped).
		Info("sweep completed")
	return nil
}

// isRetryable classifies the domain rejections a healthy fleet produces:
// paused records, not-yet-mature authorities, and empty vaults.
func isRetryable(err error) bool {
	return errors.Is(err, escrowerr.ErrEscrowPaused) ||
		errors.Is(err, escrowerr.ErrPlatformAuthorityTooNew) ||
		errors.Is(err, escrowerr.ErrInsufficientBalance)
}
