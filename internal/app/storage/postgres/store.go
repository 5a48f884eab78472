// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/R3E-Network/escrow_service/internal/app/domain/escrow"
	"github.com/R3E-Network/escrow_service/internal/app/storage"
)

// isUniqueViolation reports whether err is the driver's duplicate-key error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store implements the storage interfaces backed by PostgreSQL. Inside a
// transaction record reads take row locks so two operations on the same
// escrow serialize at the database.
type Store struct {
	db   *sql.DB
	q    querier
	inTx bool
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// InTx runs fn inside one SQL transaction. The transactional view locks
// escrow rows on read (SELECT ... FOR UPDATE) so the record mutation and the
// vault movement commit together or not at all.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	view := &Store{db: s.db, q: tx, inTx: true}
	if err := fn(view); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	return tx.Commit()
}

const escrowColumns = `address, owner, platform_authority, trading_authority, token_mint,
		address_salt, flags, created_at, platform_activated_at, trading_activated_at,
		last_paused_at, action_nonce, total_deposited, total_withdrawn, total_fees_paid,
		total_traded, max_balance, max_lifetime, schema_version`

// --- EscrowStore ------------------------------------------------------------

func (s *Store) CreateEscrow(ctx context.Context, rec escrow.Escrow) (escrow.Escrow, error) {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO escrow_records (`+escrowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, rec.Address, rec.Owner.String(), rec.PlatformAuthority.String(), rec.TradingAuthority.String(),
		rec.TokenMint.String(), int16(rec.AddressSalt), int16(rec.Flags), rec.CreatedAt,
		rec.PlatformActivatedAt, rec.TradingActivatedAt, rec.LastPausedAt, int64(rec.ActionNonce),
		int64(rec.TotalDeposited), int64(rec.TotalWithdrawn), int64(rec.TotalFeesPaid),
		int64(rec.TotalTraded), int64(rec.MaxBalance), rec.MaxLifetime, int32(rec.SchemaVersion))
	if isUniqueViolation(err) {
		return escrow.Escrow{}, fmt.Errorf("escrow %s: %w", rec.Address, storage.ErrAlreadyExists)
	}
	if err != nil {
		return escrow.Escrow{}, err
	}
	return rec, nil
}

func (s *Store) UpdateEscrow(ctx context.Context, rec escrow.Escrow) (escrow.Escrow, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE escrow_records
		SET platform_authority = $2, trading_authority = $3, flags = $4,
			platform_activated_at = $5, trading_activated_at = $6, last_paused_at = $7,
			action_nonce = $8, total_deposited = $9, total_withdrawn = $10,
			total_fees_paid = $11, total_traded = $12, max_balance = $13, max_lifetime = $14
		WHERE address = $1
	`, rec.Address, rec.PlatformAuthority.String(), rec.TradingAuthority.String(), int16(rec.Flags),
		rec.PlatformActivatedAt, rec.TradingActivatedAt, rec.LastPausedAt, int64(rec.ActionNonce),
		int64(rec.TotalDeposited), int64(rec.TotalWithdrawn), int64(rec.TotalFeesPaid),
		int64(rec.TotalTraded), int64(rec.MaxBalance), rec.MaxLifetime)
	if err != nil {
		return escrow.Escrow{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return escrow.Escrow{}, fmt.Errorf("escrow %s: %w", rec.Address, storage.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) GetEscrow(ctx context.Context, address string) (escrow.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrow_records WHERE address = $1`
	if s.inTx {
		query += ` FOR UPDATE`
	}
	rec, err := scanEscrow(s.q.QueryRowContext(ctx, query, address))
	if errors.Is(err, sql.ErrNoRows) {
		return escrow.Escrow{}, fmt.Errorf("escrow %s: %w", address, storage.ErrNotFound)
	}
	return rec, err
}

func (s *Store) ListEscrowsByOwner(ctx context.Context, owner escrow.Identity) ([]escrow.Escrow, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrow_records
		WHERE owner = $1
		ORDER BY created_at
	`, owner.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEscrows(rows)
}

func (s *Store) ListPlatformActive(ctx context.Context) ([]escrow.Escrow, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrow_records
		WHERE flags & 1 <> 0
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEscrows(rows)
}

func (s *Store) DeleteEscrow(ctx context.Context, address string) error {
	result, err := s.q.ExecContext(ctx, `
		DELETE FROM escrow_records WHERE address = $1
	`, address)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("escrow %s: %w", address, storage.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEscrow(row rowScanner) (escrow.Escrow, error) {
	var (
		rec                        escrow.Escrow
		owner, platform, trading   string
		mint                       string
		salt, flags                int16
		nonce, deposited, withdrew int64
		fees, traded, ceiling      int64
		schemaVersion              int32
	)
	if err := row.Scan(&rec.Address, &owner, &platform, &trading, &mint, &salt, &flags,
		&rec.CreatedAt, &rec.PlatformActivatedAt, &rec.TradingActivatedAt, &rec.LastPausedAt,
		&nonce, &deposited, &withdrew, &fees, &traded, &ceiling, &rec.MaxLifetime, &schemaVersion); err != nil {
		return escrow.Escrow{}, err
	}

	var err error
	if rec.Owner, err = escrow.ParseIdentity(owner); err != nil {
		return escrow.Escrow{}, err
	}
	if rec.PlatformAuthority, err = escrow.ParseIdentity(platform); err != nil {
		return escrow.Escrow{}, err
	}
	if rec.TradingAuthority, err = escrow.ParseIdentity(trading); err != nil {
		return escrow.Escrow{}, err
	}
	if rec.TokenMint, err = escrow.ParseIdentity(mint); err != nil {
		return escrow.Escrow{}, err
	}

	rec.AddressSalt = byte(salt)
	rec.Flags = escrow.Flags(flags)
	rec.ActionNonce = uint64(nonce)
	rec.TotalDeposited = uint64(deposited)
	rec.TotalWithdrawn = uint64(withdrew)
	rec.TotalFeesPaid = uint64(fees)
	rec.TotalTraded = uint64(traded)
	rec.MaxBalance = uint64(ceiling)
	rec.SchemaVersion = uint16(schemaVersion)
	return rec, nil
}

func collectEscrows(rows *sql.Rows) ([]escrow.Escrow, error) {
	var result []escrow.Escrow
	for rows.Next() {
		rec, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// --- VaultStore -------------------------------------------------------------

func (s *Store) CreateVault(ctx context.Context, v escrow.VaultAccount) (escrow.VaultAccount, error) {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO escrow_vaults (address, owner, token_mint, balance, reserve, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, v.Address, v.Owner.String(), v.TokenMint.String(), int64(v.Balance), int64(v.Reserve), v.CreatedAt)
	if isUniqueViolation(err) {
		return escrow.VaultAccount{}, fmt.Errorf("vault %s: %w", v.Address, storage.ErrAlreadyExists)
	}
	if err != nil {
		return escrow.VaultAccount{}, err
	}
	return v, nil
}

func (s *Store) GetVault(ctx context.Context, address string) (escrow.VaultAccount, error) {
	query := `
		SELECT address, owner, token_mint, balance, reserve, created_at
		FROM escrow_vaults
		WHERE address = $1`
	if s.inTx {
		query += ` FOR UPDATE`
	}
	v, err := scanVault(s.q.QueryRowContext(ctx, query, address))
	if errors.Is(err, sql.ErrNoRows) {
		return escrow.VaultAccount{}, fmt.Errorf("vault %s: %w", address, storage.ErrNotFound)
	}
	return v, err
}

func (s *Store) CreditVault(ctx context.Context, address string, amount uint64) (escrow.VaultAccount, error) {
	v, err := scanVault(s.q.QueryRowContext(ctx, `
		UPDATE escrow_vaults
		SET balance = balance + $2
		WHERE address = $1
		RETURNING address, owner, token_mint, balance, reserve, created_at
	`, address, int64(amount)))
	if errors.Is(err, sql.ErrNoRows) {
		return escrow.VaultAccount{}, fmt.Errorf("vault %s: %w", address, storage.ErrNotFound)
	}
	return v, err
}

func (s *Store) DebitVault(ctx context.Context, address string, amount uint64) (escrow.VaultAccount, error) {
	v, err := scanVault(s.q.QueryRowContext(ctx, `
		UPDATE escrow_vaults
		SET balance = balance - $2
		WHERE address = $1 AND balance >= $2
		RETURNING address, owner, token_mint, balance, reserve, created_at
	`, address, int64(amount)))
	if errors.Is(err, sql.ErrNoRows) {
		// The guarded UPDATE matches nothing both for a missing vault and for
		// a short balance; tell the two apart before reporting.
		if _, getErr := s.GetVault(ctx, address); errors.Is(getErr, storage.ErrNotFound) {
			return escrow.VaultAccount{}, fmt.Errorf("vault %s: %w", address, storage.ErrNotFound)
		}
		return escrow.VaultAccount{}, fmt.Errorf("vault %s: debit %d: %w", address, amount, storage.ErrInsufficientBalance)
	}
	return v, err
}

func (s *Store) CloseVault(ctx context.Context, address string) (escrow.VaultAccount, error) {
	v, err := scanVault(s.q.QueryRowContext(ctx, `
		DELETE FROM escrow_vaults
		WHERE address = $1
		RETURNING address, owner, token_mint, balance, reserve, created_at
	`, address))
	if errors.Is(err, sql.ErrNoRows) {
		return escrow.VaultAccount{}, fmt.Errorf("vault %s: %w", address, storage.ErrNotFound)
	}
	return v, err
}

func scanVault(row rowScanner) (escrow.VaultAccount, error) {
	var (
		v                escrow.VaultAccount
		owner, mint      string
		balance, reserve int64
	)
	if err := row.Scan(&v.Address, &owner, &mint, &balance, &reserve, &v.CreatedAt); err != nil {
		return escrow.VaultAccount{}, err
	}

	var err error
	if v.Owner, err = escrow.ParseIdentity(owner); err != nil {
		return escrow.VaultAccount{}, err
	}
	if v.TokenMint, err = escrow.ParseIdentity(mint); err != nil {
		return escrow.VaultAccount{}, err
	}
	v.Balance = uint64(balance)
	v.Reserve = uint64(reserve)
	return v, nil
}

// --- EventStore -------------------------------------------------------------

func (s *Store) AppendEvent(ctx context.Context, ev storage.EventRecord) (storage.EventRecord, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO escrow_events (id, address, event_type, actor, authority, amount, balance, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.ID, ev.Address, ev.Type, ev.Actor, ev.Authority, int64(ev.Amount), int64(ev.Balance), ev.Timestamp)
	if err != nil {
		return storage.EventRecord{}, err
	}
	return ev, nil
}

func (s *Store) ListEventsByEscrow(ctx context.Context, address string) ([]storage.EventRecord, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, address, event_type, actor, authority, amount, balance, occurred_at
		FROM escrow_events
		WHERE address = $1
		ORDER BY occurred_at, id
	`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []storage.EventRecord
	for rows.Next() {
		var (
			ev              storage.EventRecord
			amount, balance int64
		)
		if err := rows.Scan(&ev.ID, &ev.Address, &ev.Type, &ev.Actor, &ev.Authority, &amount, &balance, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Amount = uint64(amount)
		ev.Balance = uint64(balance)
		result = append(result, ev)
	}
	return result, rows.Err()
}
