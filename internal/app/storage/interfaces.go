// Package storage defines the persistence interfaces for escrow records,
// their vault sub-accounts, and the event audit trail.
package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/escrow_service/internal/app/domain/escrow"
)

// ErrNotFound is returned when a record, vault, or event trail does not
// exist. Implementations wrap it with the missing key.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when creating a record or vault whose address
// is already taken.
var ErrAlreadyExists = errors.New("already exists")

// ErrInsufficientBalance is returned when a debit would take a vault below
// zero. The operation layer pre-checks balances inside the same transaction,
// so this surfacing means the guard itself caught a violation.
var ErrInsufficientBalance = errors.New("insufficient balance")

// EscrowStore persists escrow records.
type EscrowStore interface {
	CreateEscrow(ctx context.Context, rec escrow.Escrow) (escrow.Escrow, error)
	UpdateEscrow(ctx context.Context, rec escrow.Escrow) (escrow.Escrow, error)
	GetEscrow(ctx context.Context, address string) (escrow.Escrow, error)
	ListEscrowsByOwner(ctx context.Context, owner escrow.Identity) ([]escrow.Escrow, error)
	// ListPlatformActive returns every record with a delegated platform
	// authority, across owners. Used by the fee sweeper.
	ListPlatformActive(ctx context.Context) ([]escrow.Escrow, error)
	DeleteEscrow(ctx context.Context, address string) error
}

// VaultStore persists the token-holding sub-account backing each record.
// Balances always read fresh; callers must not cache them across operations.
type VaultStore interface {
	CreateVault(ctx context.Context, v escrow.VaultAccount) (escrow.VaultAccount, error)
	GetVault(ctx context.Context, address string) (escrow.VaultAccount, error)
	CreditVault(ctx context.Context, address string, amount uint64) (escrow.VaultAccount, error)
	DebitVault(ctx context.Context, address string, amount uint64) (escrow.VaultAccount, error)
	// CloseVault removes the sub-account and returns its final state so the
	// reserve can be reported back to the owner.
	CloseVault(ctx context.Context, address string) (escrow.VaultAccount, error)
}

// EventRecord is one persisted entry of the escrow audit trail.
type EventRecord struct {
	ID        string `json:"id"`
	Address   string `json:"address"`
	Type      string `json:"type"`
	Actor     string `json:"actor,omitempty"`
	Authority string `json:"authority,omitempty"`
	Amount    uint64 `json:"amount"`
	Balance   uint64 `json:"balance"`
	Timestamp int64  `json:"timestamp"`
}

// EventStore persists the per-record audit trail.
type EventStore interface {
	AppendEvent(ctx context.Context, ev EventRecord) (EventRecord, error)
	ListEventsByEscrow(ctx context.Context, address string) ([]EventRecord, error)
}

// Tx groups the stores whose writes must commit together. Every escrow
// operation runs its record mutation and vault movement against one Tx.
type Tx interface {
	EscrowStore
	VaultStore
	EventStore
}

// Store is a Tx that can also open atomic units of work. InTx runs fn
// against a transactional view; if fn returns an error every write made
// through the view is discarded.
type Store interface {
	Tx
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
