package escrowsvc

import (
	"context"

	"github.com/R3E-Network/escrow_service/internal/app/domain/escrow"
	"github.com/R3E-Network/escrow_service/internal/app/escrowerr"
	"github.com/R3E-Network/escrow_service/internal/app/storage"
	"github.com/R3E-Network/escrow_service/internal/engine/events"
)

// DelegatePlatformAuthority grants the fee-collection role to authority.
// The slot must be empty; a delegated authority cannot act until its
// maturity time-lock elapses.
func (s *Service) DelegatePlatformAuthority(ctx context.Context, caller escrow.Identity, address string, authority escrow.Identity) (escrow.Escrow, error) {
	now := s.now()

	var updated escrow.Escrow
	err := s.run(ctx, "delegate_platform", address, func(tx storage.Tx) (*events.EventBuilder, error) {
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
		if authority.IsZero() {
			return nil, escrowerr.ErrInvalidAuthority
		}
		if rec.IsPlatformActive() {
			return nil, escrowerr.ErrPlatformAuthorityAlreadySet
		}
		if rec.IsExpired(now) {
			return nil, escrowerr.ErrEscrowExpired
		}

		rec.PlatformAuthority = authority
		rec.SetPlatformActive(true)
		rec.PlatformActivatedAt = now
		rec.BumpNonce()
		if updated, err = tx.UpdateEscrow(ctx, rec); err != nil {
			return nil, err
		}

		ev := events.NewEvent(events.EventPlatformAuthorityDelegated).
			Address(address).
			Actor(caller.String()).
			Authority(authority.String()).
			OperationTime(now)
		return ev, appendTrail(ctx, tx, ev)
	})
	if err != nil {
		return escrow.Escrow{}, err
	}

	s.log.WithField("address", address).
		WithField("authority", authority.String()).
		Info("platform authority delegated")
	return updated, nil
}

// DelegateTradingAuthority grants the trade-execution role to authority.
func (s *Service) DelegateTradingAuthority(ctx context.Context, caller escrow.Identity, address string, authority escrow.Identity) (escrow.Escrow, error) {
	now := s.now()

	var updated escrow.Escrow
	err := s.run(ctx, "delegate_trading", address, func(tx storage.Tx) (*events.EventBuilder, error) {
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
		if authority.IsZero() {
			return nil, escrowerr.ErrInvalidAuthority
		}
		if rec.IsTradingActive() {
			return nil, escrowerr.ErrTradingAuthorityAlreadySet
		}
		if rec.IsExpired(now) {
			return nil, escrowerr.ErrEscrowExpired
		}

		rec.TradingAuthority = authority
		rec.SetTradingActive(true)
		rec.TradingActivatedAt = now
		rec.BumpNonce()
		if updated, err = tx.UpdateEscrow(ctx, rec); err != nil {
			return nil, err
		}

		ev := events.NewEvent(events.EventTradingAuthorityDelegated).
			Address(address).
			Actor(caller.String()).
			Authority(authority.String()).
			OperationTime(now)
		return ev, appendTrail(ctx, tx, ev)
	})
	if err != nil {
		return escrow.Escrow{}, err
	}

	s.log.WithField("address", address).
		WithField("authority", authority.String()).
		Info("trading authority delegated")
	return updated, nil
}

// RevokePlatformAuthority clears the fee-collection delegation. Revoking a
// never-set authority succeeds and leaves the slot null.
func (s *Service) RevokePlatformAuthority(ctx context.Context, caller escrow.Identity, address string) (escrow.Escrow, error) {
	now := s.now()

	var updated escrow.Escrow
	err := s.run(ctx, "revoke_platform", address, func(tx storage.Tx) (*events.EventBuilder, error) {
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

		rec.PlatformAuthority = escrow.Identity{}
		rec.SetPlatformActive(false)
		rec.PlatformActivatedAt = 0
		rec.BumpNonce()
		if updated, err = tx.UpdateEscrow(ctx, rec); err != nil {
			return nil, err
		}

		ev := events.NewEvent(events.EventPlatformAuthorityRevoked).
			Address(address).
			Actor(caller.String()).
			OperationTime(now)
		return ev, appendTrail(ctx, tx, ev)
	})
	if err != nil {
		return escrow.Escrow{}, err
	}

	s.log.WithField("address", address).Info("platform authority revoked")
	return updated, nil
}

// RevokeTradingAuthority clears the trade-execution delegation.
func (s *Service) RevokeTradingAuthority(ctx context.Context, caller escrow.Identity, address string) (escrow.Escrow, error) {
	now := s.now()

	var updated escrow.Escrow
	err := s.run(ctx, "revoke_trading", address, func(tx storage.Tx) (*events.EventBuilder, error) {
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

		rec.TradingAuthority = escrow.Identity{}
		rec.SetTradingActive(false)
		rec.TradingActivatedAt = 0
		rec.BumpNonce()
		if updated, err = tx.UpdateEscrow(ctx, rec); err != nil {
			return nil, err
		}

		ev := events.NewEvent(events.EventTradingAuthorityRevoked).
			Address(address).
			Actor(caller.String()).
			OperationTime(now)
		return ev, appendTrail(ctx, tx, ev)
	})
	if err != nil {
		return escrow.Escrow{}, err
	}

	s.log.WithField("address", address).Info("trading authority revoked")
	return updated, nil
}
