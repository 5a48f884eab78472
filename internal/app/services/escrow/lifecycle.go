package escrowsvc

import (
	"context"

	"github.com/R3E-Network/escrow_service/internal/app/domain/escrow"
	"github.com/R3E-Network/escrow_service/internal/app/escrowerr"
	"github.com/R3E-Network/escrow_service/internal/app/metrics"
	"github.com/R3E-Network/escrow_service/internal/app/storage"
	"github.com/R3E-Network/escrow_service/internal/engine/events"
)

// InitializeParams are the caller-supplied arguments for record creation.
type InitializeParams struct {
	TokenMint     escrow.Identity
	AddressSalt   byte
	TokenDecimals uint8
	// MaxBalance of zero selects the default ceiling.
	MaxBalance uint64
}

// Initialize creates a new escrow record and its vault sub-account for the
// owner. The record address is derived deterministically from the owner and
// salt, so re-initializing the same pair fails on the uniqueness constraint.
func (s *Service) Initialize(ctx context.Context, owner escrow.Identity, p InitializeParams) (escrow.Escrow, error) {
	if p.TokenMint.IsZero() {
		return escrow.Escrow{}, escrowerr.ErrInvalidTokenMint
	}
	if p.TokenDecimals < escrow.MinTokenDecimals || p.TokenDecimals > escrow.MaxTokenDecimals {
		return escrow.Escrow{}, escrowerr.ErrInvalidTokenDecimals
	}
	if p.MaxBalance > escrow.MaxAllowedBalance {
		return escrow.Escrow{}, escrowerr.ErrMaxBalanceExceeded
	}

	ceiling := p.MaxBalance
	if ceiling == 0 {
		ceiling = escrow.DefaultMaxBalance
	}

	address := escrow.DeriveAddress(owner, p.AddressSalt)
	now := s.now()

	rec := escrow.Escrow{
		Address:       address,
		Owner:         owner,
		TokenMint:     p.TokenMint,
		AddressSalt:   p.AddressSalt,
		CreatedAt:     now,
		MaxBalance:    ceiling,
		SchemaVersion: escrow.SchemaVersion,
	}

	var created escrow.Escrow
	err := s.run(ctx, "initialize", address, func(tx storage.Tx) (*events.EventBuilder, error) {
		var err error
		created, err = tx.CreateEscrow(ctx, rec)
		if err != nil {
			return nil, err
		}

		_, err = tx.CreateVault(ctx, escrow.VaultAccount{
			Address:   address,
			Owner:     owner,
			TokenMint: p.TokenMint,
			Reserve:   escrow.MinReserveForClose,
			CreatedAt: now,
		})
		if err != nil {
			return nil, err
		}

		ev := events.NewEvent(events.EventEscrowInitialized).
			Address(address).
			Actor(owner.String()).
			TokenMint(p.TokenMint.String()).
			OperationTime(now)
		return ev, appendTrail(ctx, tx, ev)
	})
	if err != nil {
		return escrow.Escrow{}, err
	}

	metrics.AddRecordsOpen(1)
	s.log.WithField("address", address).
		WithField("owner", owner.String()).
		Info("escrow initialized")
	return created, nil
}

// Pause halts the record. Pausing an already-paused record succeeds and
// re-stamps the pause timestamp, restarting the cooldown.
func (s *Service) Pause(ctx context.Context, caller escrow.Identity, address string) (escrow.Escrow, error) {
	now := s.now()

	var updated escrow.Escrow
	err := s.run(ctx, "pause", address, func(tx storage.Tx) (*events.EventBuilder, error) {
		rec, err := tx.GetEscrow(ctx, address)
		if err != nil {
			return nil, err
		}
		if caller != rec.Owner {
			return nil, escrowerr.ErrUnauthorized
		}

		rec.SetPaused(true, now)
		rec.BumpNonce()
		if updated, err = tx.UpdateEscrow(ctx, rec); err != nil {
			return nil, err
		}

		ev := events.NewEvent(events.EventEscrowPaused).
			Address(address).
			Actor(caller.String()).
			Severity(events.SeverityWarning).
			OperationTime(now)
		return ev, appendTrail(ctx, tx, ev)
	})
	if err != nil {
		return escrow.Escrow{}, err
	}

	s.log.WithField("address", address).Warn("escrow paused")
	return updated, nil
}

// Unpause resumes the record once the cooldown since the last pause has
// elapsed.
func (s *Service) Unpause(ctx context.Context, caller escrow.Identity, address string) (escrow.Escrow, error) {
	now := s.now()

	var updated escrow.Escrow
	err := s.run(ctx, "unpause", address, func(tx storage.Tx) (*events.EventBuilder, error) {
		rec, err := tx.GetEscrow(ctx, address)
		if err != nil {
			return nil, err
		}
		if caller != rec.Owner {
			return nil, escrowerr.ErrUnauthorized
		}
		if !rec.IsPaused() {
			return nil, escrowerr.ErrEscrowNotPaused
		}
		if !rec.CanUnpause(now) {
			return nil, escrowerr.ErrCooldownNotElapsed
		}

		rec.SetPaused(false, now)
		rec.BumpNonce()
		if updated, err = tx.UpdateEscrow(ctx, rec); err != nil {
			return nil, err
		}

		ev := events.NewEvent(events.EventEscrowUnpaused).
			Address(address).
			Actor(caller.String()).
			OperationTime(now)
		return ev, appendTrail(ctx, tx, ev)
	})
	if err != nil {
		return escrow.Escrow{}, err
	}

	s.log.WithField("address", address).Info("escrow unpaused")
	return updated, nil
}

// SetMaxLifetime configures the record's expiry window. Zero disables
// expiry. The operation is deliberately available while paused.
func (s *Service) SetMaxLifetime(ctx context.Context, caller escrow.Identity, address string, lifetime int64) (escrow.Escrow, error) {
	if lifetime < 0 {
		return escrow.Escrow{}, escrowerr.ErrInvalidLifetime
	}

	var updated escrow.Escrow
	err := s.run(ctx, "set_max_lifetime", address, func(tx storage.Tx) (*events.EventBuilder, error) {
		rec, err := tx.GetEscrow(ctx, address)
		if err != nil {
			return nil, err
		}
		if caller != rec.Owner {
			return nil, escrowerr.ErrUnauthorized
		}

		rec.MaxLifetime = lifetime
		rec.BumpNonce()
		if updated, err = tx.UpdateEscrow(ctx, rec); err != nil {
			return nil, err
		}

		// The one mutating operation without an event.
		return nil, nil
	})
	if err != nil {
		return escrow.Escrow{}, err
	}
	return updated, nil
}

// Close destroys an empty record and returns the vault reserve to the
// owner. The balance may be at most the dust threshold and no authority may
// be active.
func (s *Service) Close(ctx context.Context, caller escrow.Identity, address string) error {
	now := s.now()

	err := s.run(ctx, "close", address, func(tx storage.Tx) (*events.EventBuilder, error) {
		rec, err := tx.GetEscrow(ctx, address)
		if err != nil {
			return nil, err
		}
		if caller != rec.Owner {
			return nil, escrowerr.ErrUnauthorized
		}
		if rec.IsPaused() {
			return nil, escrowerr.ErrEscrowPaused
		}
		if rec.HasActiveAuthority() {
			return nil, escrowerr.ErrEscrowStillActive
		}

		vault, err := tx.GetVault(ctx, address)
		if err != nil {
			return nil, err
		}
		if vault.Balance > escrow.DustThreshold {
			return nil, escrowerr.ErrEscrowNotEmpty
		}
		if vault.Reserve < escrow.MinReserveForClose {
			return nil, escrowerr.ErrRentNotRecovered
		}

		if _, err := tx.CloseVault(ctx, address); err != nil {
			return nil, err
		}
		if err := tx.DeleteEscrow(ctx, address); err != nil {
			return nil, err
		}

		ev := events.NewEvent(events.EventEscrowClosed).
			Address(address).
			Actor(caller.String()).
			OperationTime(now)
		return ev, appendTrail(ctx, tx, ev)
	})
	if err != nil {
		return err
	}

	metrics.AddRecordsOpen(-1)
	s.log.WithField("address", address).Info("escrow closed")
	return nil
}
