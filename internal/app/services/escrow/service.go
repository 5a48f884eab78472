// Package escrowsvc implements the escrow operation layer: the thirteen
// permissioned state transitions over escrow records. Every operation runs
// checks, then record effects, then the vault interaction, inside one
// storage transaction; the typed event fans out only after commit.
package escrowsvc

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/escrow_service/internal/app/domain/escrow"
	"github.com/R3E-Network/escrow_service/internal/app/escrowerr"
	"github.com/R3E-Network/escrow_service/internal/app/metrics"
	"github.com/R3E-Network/escrow_service/internal/app/storage"
	"github.com/R3E-Network/escrow_service/internal/engine/events"
	"github.com/R3E-Network/escrow_service/pkg/logger"
)

// Service executes escrow operations against a storage backend.
type Service struct {
	store  storage.Store
	events events.EventLogger
	log    *logger.Logger
	now    func() int64

	// locks serializes operations per escrow address. The storage layer
	// additionally row-locks inside its transaction; this keeps the memory
	// backend equally strict.
	locks sync.Map // address -> *sync.Mutex
}

// Option customizes service construction.
type Option func(*Service)

// WithClock overrides the unix-seconds time source. Tests use it to pin
// boundary instants.
func WithClock(now func() int64) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithEventLogger attaches the in-process event log used for fanout.
func WithEventLogger(log events.EventLogger) Option {
	return func(s *Service) {
		if log != nil {
			s.events = log
		}
	}
}

// New constructs the operation layer.
func New(store storage.Store, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("escrow")
	}
	s := &Service{
		store:  store,
		events: events.NoOpLogger{},
		log:    log,
		now:    func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) lock(address string) func() {
	muIface, _ := s.locks.LoadOrStore(address, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// checkedAdd is the overflow-checked accumulator addition. Every balance
// counter goes through it; only the action nonce is allowed to wrap.
func checkedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, escrowerr.ErrMathOverflow
	}
	return sum, nil
}

// run wraps one mutating operation: per-address lock, storage transaction,
// operation metrics, and post-commit event fanout.
func (s *Service) run(ctx context.Context, op, address string, fn func(tx storage.Tx) (*events.EventBuilder, error)) error {
	unlock := s.lock(address)
	defer unlock()

	start := time.Now()
	var pending *events.EventBuilder
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		builder, err := fn(tx)
		if err != nil {
			return err
		}
		pending = builder
		return nil
	})
	metrics.RecordEscrowOperation(op, err, time.Since(start))
	if err != nil {
		return err
	}

	if pending != nil {
		ev := pending.Build()
		s.events.Log(ev)
		metrics.RecordEscrowEvent(string(ev.Type))
	}
	return nil
}

// appendTrail persists the audit-trail row inside the same transaction as
// the record mutation.
func appendTrail(ctx context.Context, tx storage.Tx, b *events.EventBuilder) error {
	ev := b.Build()
	_, err := tx.AppendEvent(ctx, storage.EventRecord{
		ID:        ev.ID,
		Address:   ev.Address,
		Type:      string(ev.Type),
		Actor:     ev.Actor,
		Authority: ev.Authority,
		Amount:    ev.Amount,
		Balance:   ev.BalanceAfter,
		Timestamp: ev.OperationTime,
	})
	return err
}

// Get returns a record together with its fresh vault state.
func (s *Service) Get(ctx context.Context, address string) (escrow.Escrow, escrow.VaultAccount, error) {
	rec, err := s.store.GetEscrow(ctx, address)
	if err != nil {
		return escrow.Escrow{}, escrow.VaultAccount{}, err
	}
	vault, err := s.store.GetVault(ctx, address)
	if err != nil {
		return escrow.Escrow{}, escrow.VaultAccount{}, err
	}
	return rec, vault, nil
}

// ListByOwner returns every record the owner holds.
func (s *Service) ListByOwner(ctx context.Context, owner escrow.Identity) ([]escrow.Escrow, error) {
	return s.store.ListEscrowsByOwner(ctx, owner)
}

// ListPlatformActive returns records with a delegated platform authority.
func (s *Service) ListPlatformActive(ctx context.Context) ([]escrow.Escrow, error) {
	return s.store.ListPlatformActive(ctx)
}

// Events returns the persisted audit trail for one record.
func (s *Service) Events(ctx context.Context, address string) ([]storage.EventRecord, error) {
	return s.store.ListEventsByEscrow(ctx, address)
}
