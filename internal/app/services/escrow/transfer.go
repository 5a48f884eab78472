package escrowsvc

import (
	"context"

	"github.com/R3E-Network/escrow_service/internal/app/domain/escrow"
	"github.com/R3E-Network/escrow_service/internal/app/escrowerr"
	"github.com/R3E-Network/escrow_service/internal/app/storage"
	"github.com/R3E-Network/escrow_service/internal/engine/events"
)

// Deposit moves amount from the owner into the vault. The resulting balance
// must stay at or below the record's configured ceiling.
func (s *Service) Deposit(ctx context.Context, caller escrow.Identity, address string, amount uint64) (escrow.VaultAccount, error) {
	now := s.now()

	var vault escrow.VaultAccount
	err := s.run(ctx, "deposit", address, func(tx storage.Tx) (*events.EventBuilder, error) {
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
		if amount == 0 {
			return nil, escrowerr.ErrInvalidAmount
		}
		if rec.IsExpired(now) {
			return nil, escrowerr.ErrEscrowExpired
		}

		cur, err := tx.GetVault(ctx, address)
		if err != nil {
			return nil, err
		}
		newBalance, err := checkedAdd(cur.Balance, amount)
		if err != nil {
			return nil, err
		}
		if newBalance > rec.MaxBalance {
			return nil, escrowerr.ErrMaxBalanceExceeded
		}

		if rec.TotalDeposited, err = checkedAdd(rec.TotalDeposited, amount); err != nil {
			return nil, err
		}
		rec.BumpNonce()
		if _, err = tx.UpdateEscrow(ctx, rec); err != nil {
			return nil, err
		}
		if vault, err = tx.CreditVault(ctx, address, amount); err != nil {
			return nil, err
		}

		ev := events.NewEvent(events.EventTokenDeposit).
			Address(address).
			Actor(caller.String()).
			Amount(amount).
			BalanceAfter(vault.Balance).
			OperationTime(now)
		return ev, appendTrail(ctx, tx, ev)
	})
	if err != nil {
		return escrow.VaultAccount{}, err
	}

	s.log.WithField("address", address).
		WithField("amount", amount).
		Info("deposit accepted")
	return vault, nil
}

// WithdrawSubscriptionFee lets the platform authority collect a fee from the
// vault. The authority must be mature and the amount within the per-call fee
// ceiling; the record's own balance ceiling does not apply to outflows.
func (s *Service) WithdrawSubscriptionFee(ctx context.Context, caller escrow.Identity, address string, amount uint64) (escrow.VaultAccount, error) {
	now := s.now()

	var vault escrow.VaultAccount
	err := s.run(ctx, "withdraw_fee", address, func(tx storage.Tx) (*events.EventBuilder, error) {
		rec, err := tx.GetEscrow(ctx, address)
		if err != nil {
			return nil, err
		}
		if !rec.IsPlatformActive() {
			return nil, escrowerr.ErrPlatformAuthorityNotSet
		}
		if caller != rec.PlatformAuthority {
			return nil, escrowerr.ErrUnauthorizedPlatform
		}
		if rec.IsPaused() {
			return nil, escrowerr.ErrEscrowPaused
		}
		if amount == 0 {
			return nil, escrowerr.ErrInvalidAmount
		}
		if amount > escrow.MaxSubscriptionFee {
			return nil, escrowerr.ErrAmountTooLarge
		}
		if !rec.IsPlatformAuthorityMature(now) {
			return nil, escrowerr.ErrPlatformAuthorityTooNew
		}

		cur, err := tx.GetVault(ctx, address)
		if err != nil {
			return nil, err
		}
		if amount > cur.Balance {
			return nil, escrowerr.ErrInsufficientBalance
		}

		if rec.TotalFeesPaid, err = checkedAdd(rec.TotalFeesPaid, amount); err != nil {
			return nil, err
		}
		rec.BumpNonce()
		if _, err = tx.UpdateEscrow(ctx, rec); err != nil {
			return nil, err
		}
		if vault, err = tx.DebitVault(ctx, address, amount); err != nil {
			return nil, err
		}

		ev := events.NewEvent(events.EventSubscriptionFeeWithdraw).
			Address(address).
			Actor(caller.String()).
			Amount(amount).
			BalanceAfter(vault.Balance).
			OperationTime(now)
		return ev, appendTrail(ctx, tx, ev)
	})
	if err != nil {
		return escrow.VaultAccount{}, err
	}

	s.log.WithField("address", address).
		WithField("amount", amount).
		Info("subscription fee withdrawn")
	return vault, nil
}

// WithdrawForTrade lets the trading authority move funds out for trade
// settlement, capped per call at the transaction ceiling.
func (s *Service) WithdrawForTrade(ctx context.Context, caller escrow.Identity, address string, amount uint64) (escrow.VaultAccount, error) {
	now := s.now()

	var vault escrow.VaultAccount
	err := s.run(ctx, "withdraw_trade", address, func(tx storage.Tx) (*events.EventBuilder, error) {
		rec, err := tx.GetEscrow(ctx, address)
		if err != nil {
			return nil, err
		}
		if !rec.IsTradingActive() {
			return nil, escrowerr.ErrTradingAuthorityNotSet
		}
		if caller != rec.TradingAuthority {
			return nil, escrowerr.ErrUnauthorizedTrading
		}
		if rec.IsPaused() {
			return nil, escrowerr.ErrEscrowPaused
		}
		if amount == 0 {
			return nil, escrowerr.ErrInvalidAmount
		}
		if amount > escrow.MaxTransactionAmount {
			return nil, escrowerr.ErrAmountTooLarge
		}
		if !rec.IsTradingAuthorityMature(now) {
			return nil, escrowerr.ErrTradingAuthorityTooNew
		}

		cur, err := tx.GetVault(ctx, address)
		if err != nil {
			return nil, err
		}
		if amount > cur.Balance {
			return nil, escrowerr.ErrInsufficientBalance
		}

		if rec.TotalTraded, err = checkedAdd(rec.TotalTraded, amount); err != nil {
			return nil, err
		}
		rec.BumpNonce()
		if _, err = tx.UpdateEscrow(ctx, rec); err != nil {
			return nil, err
		}
		if vault, err = tx.DebitVault(ctx, address, amount); err != nil {
			return nil, err
		}

		ev := events.NewEvent(events.EventTradeWithdraw).
			Address(address).
			Actor(caller.String()).
			Amount(amount).
			BalanceAfter(vault.Balance).
			OperationTime(now)
		return ev, appendTrail(ctx, tx, ev)
	})
	if err != nil {
		return escrow.VaultAccount{}, err
	}

	s.log.WithField("address", address).
		WithField("amount", amount).
		Info("trade withdrawal executed")
	return vault, nil
}

// Withdraw returns funds to the owner. It is only available once every
// delegated authority has been revoked, so delegates can never be starved of
// the funds they were granted access to mid-flight.
func (s *Service) Withdraw(ctx context.Context, caller escrow.Identity, address string, amount uint64) (escrow.VaultAccount, error) {
	now := s.now()

	var vault escrow.VaultAccount
	err := s.run(ctx, "withdraw", address, func(tx storage.Tx) (*events.EventBuilder, error) {
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
		if amount == 0 {
			return nil, escrowerr.ErrInvalidAmount
		}
		if rec.HasActiveAuthority() {
			return nil, escrowerr.ErrEscrowStillActive
		}

		cur, err := tx.GetVault(ctx, address)
		if err != nil {
			return nil, err
		}
		if amount > cur.Balance {
			return nil, escrowerr.ErrInsufficientBalance
		}

		if rec.TotalWithdrawn, err = checkedAdd(rec.TotalWithdrawn, amount); err != nil {
			return nil, err
		}
		rec.BumpNonce()
		if _, err = tx.UpdateEscrow(ctx, rec); err != nil {
			return nil, err
		}
		if vault, err = tx.DebitVault(ctx, address, amount); err != nil {
			return nil, err
		}

		ev := events.NewEvent(events.EventTokenWithdraw).
			Address(address).
			Actor(caller.String()).
			Amount(amount).
			BalanceAfter(vault.Balance).
			OperationTime(now)
		return ev, appendTrail(ctx, tx, ev)
	})
	if err != nil {
		return escrow.VaultAccount{}, err
	}

	s.log.WithField("address", address).
		WithField("amount", amount).
		Info("owner withdrawal executed")
	return vault, nil
}

// EmergencyWithdraw pulls funds back to the owner while the record is
// paused. It is the recovery path for a compromised delegate: pause first,
// then withdraw; no authority may still be delegated.
func (s *Service) EmergencyWithdraw(ctx context.Context, caller escrow.Identity, address string, amount uint64) (escrow.VaultAccount, error) {
	now := s.now()

	var vault escrow.VaultAccount
	err := s.run(ctx, "emergency_withdraw", address, func(tx storage.Tx) (*events.EventBuilder, error) {
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
		if amount == 0 {
			return nil, escrowerr.ErrInvalidAmount
		}
		if rec.HasActiveAuthority() {
			return nil, escrowerr.ErrEscrowStillActive
		}

		cur, err := tx.GetVault(ctx, address)
		if err != nil {
			return nil, err
		}
		if amount > cur.Balance {
			return nil, escrowerr.ErrInsufficientBalance
		}

		if rec.TotalWithdrawn, err = checkedAdd(rec.TotalWithdrawn, amount); err != nil {
			return nil, err
		}
		rec.BumpNonce()
		if _, err = tx.UpdateEscrow(ctx, rec); err != nil {
			return nil, err
		}
		if vault, err = tx.DebitVault(ctx, address, amount); err != nil {
			return nil, err
		}

		ev := events.NewEvent(events.EventEmergencyWithdrawal).
			Address(address).
			Actor(caller.String()).
			Amount(amount).
			Severity(events.SeverityWarning).
			OperationTime(now)
		return ev, appendTrail(ctx, tx, ev)
	})
	if err != nil {
		return escrow.VaultAccount{}, err
	}

	s.log.WithField("address", address).
		WithField("amount", amount).
		Warn("emergency withdrawal executed")
	return vault, nil
}
