// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/R3E-Network/escrow_service/internal/app/domain/escrow"
	"github.com/R3E-Network/escrow_service/internal/app/storage"
)

// Store keeps records, vaults, and events in maps guarded by one mutex.
type Store struct {
	mu      sync.RWMutex
	escrows map[string]escrow.Escrow
	vaults  map[string]escrow.VaultAccount
	events  map[string][]storage.EventRecord
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		escrows: make(map[string]escrow.Escrow),
		vaults:  make(map[string]escrow.VaultAccount),
		events:  make(map[string][]storage.EventRecord),
	}
}

// InTx runs fn against a snapshot-protected view of the store. All writes
// made through the view are discarded when fn fails, giving the same
// all-or-nothing behavior the SQL store gets from a transaction.
func (s *Store) InTx(_ context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.cloneStateLocked()
	if err := fn(&txView{store: s}); err != nil {
		s.escrows = snapshot.escrows
		s.vaults = snapshot.vaults
		s.events = snapshot.events
		return err
	}
	return nil
}

type state struct {
	escrows map[string]escrow.Escrow
	vaults  map[string]escrow.VaultAccount
	events  map[string][]storage.EventRecord
}

func (s *Store) cloneStateLocked() state {
	snap := state{
		escrows: make(map[string]escrow.Escrow, len(s.escrows)),
		vaults:  make(map[string]escrow.VaultAccount, len(s.vaults)),
		events:  make(map[string][]storage.EventRecord, len(s.events)),
	}
	for k, v := range s.escrows {
		snap.escrows[k] = v
	}
	for k, v := range s.vaults {
		snap.vaults[k] = v
	}
	for k, v := range s.events {
		snap.events[k] = append([]storage.EventRecord(nil), v...)
	}
	return snap
}

// txView exposes the lock-free mutators to an InTx callback while the store
// mutex is already held.
type txView struct {
	store *Store
}

var _ storage.Tx = (*txView)(nil)

func (t *txView) CreateEscrow(_ context.Context, rec escrow.Escrow) (escrow.Escrow, error) {
	return t.store.createEscrowLocked(rec)
}

func (t *txView) UpdateEscrow(_ context.Context, rec escrow.Escrow) (escrow.Escrow, error) {
	return t.store.updateEscrowLocked(rec)
}

func (t *txView) GetEscrow(_ context.Context, address string) (escrow.Escrow, error) {
	return t.store.getEscrowLocked(address)
}

func (t *txView) ListEscrowsByOwner(_ context.Context, owner escrow.Identity) ([]escrow.Escrow, error) {
	return t.store.listEscrowsByOwnerLocked(owner)
}

func (t *txView) ListPlatformActive(_ context.Context) ([]escrow.Escrow, error) {
	return t.store.listPlatformActiveLocked()
}

func (t *txView) DeleteEscrow(_ context.Context, address string) error {
	return t.store.deleteEscrowLocked(address)
}

func (t *txView) CreateVault(_ context.Context, v escrow.VaultAccount) (escrow.VaultAccount, error) {
	return t.store.createVaultLocked(v)
}

func (t *txView) GetVault(_ context.Context, address string) (escrow.VaultAccount, error) {
	return t.store.getVaultLocked(address)
}

func (t *txView) CreditVault(_ context.Context, address string, amount uint64) (escrow.VaultAccount, error) {
	return t.store.creditVaultLocked(address, amount)
}

func (t *txView) DebitVault(_ context.Context, address string, amount uint64) (escrow.VaultAccount, error) {
	return t.store.debitVaultLocked(address, amount)
}

func (t *txView) CloseVault(_ context.Context, address string) (escrow.VaultAccount, error) {
	return t.store.closeVaultLocked(address)
}

func (t *txView) AppendEvent(_ context.Context, ev storage.EventRecord) (storage.EventRecord, error) {
	return t.store.appendEventLocked(ev)
}

func (t *txView) ListEventsByEscrow(_ context.Context, address string) ([]storage.EventRecord, error) {
	return t.store.listEventsByEscrowLocked(address)
}

// EscrowStore implementation --------------------------------------------------

func (s *Store) CreateEscrow(_ context.Context, rec escrow.Escrow) (escrow.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createEscrowLocked(rec)
}

func (s *Store) createEscrowLocked(rec escrow.Escrow) (escrow.Escrow, error) {
	if rec.Address == "" {
		return escrow.Escrow{}, fmt.Errorf("escrow address is required")
	}
	if _, exists := s.escrows[rec.Address]; exists {
		return escrow.Escrow{}, fmt.Errorf("escrow %s: %w", rec.Address, storage.ErrAlreadyExists)
	}
	s.escrows[rec.Address] = rec
	return rec, nil
}

func (s *Store) UpdateEscrow(_ context.Context, rec escrow.Escrow) (escrow.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateEscrowLocked(rec)
}

func (s *Store) updateEscrowLocked(rec escrow.Escrow) (escrow.Escrow, error) {
	if _, ok := s.escrows[rec.Address]; !ok {
		return escrow.Escrow{}, fmt.Errorf("escrow %s: %w", rec.Address, storage.ErrNotFound)
	}
	s.escrows[rec.Address] = rec
	return rec, nil
}

func (s *Store) GetEscrow(_ context.Context, address string) (escrow.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getEscrowLocked(address)
}

func (s *Store) getEscrowLocked(address string) (escrow.Escrow, error) {
	rec, ok := s.escrows[address]
	if !ok {
		return escrow.Escrow{}, fmt.Errorf("escrow %s: %w", address, storage.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) ListEscrowsByOwner(_ context.Context, owner escrow.Identity) ([]escrow.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listEscrowsByOwnerLocked(owner)
}

func (s *Store) listEscrowsByOwnerLocked(owner escrow.Identity) ([]escrow.Escrow, error) {
	result := make([]escrow.Escrow, 0)
	for _, rec := range s.escrows {
		if rec.Owner == owner {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (s *Store) ListPlatformActive(_ context.Context) ([]escrow.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPlatformActiveLocked()
}

func (s *Store) listPlatformActiveLocked() ([]escrow.Escrow, error) {
	result := make([]escrow.Escrow, 0)
	for _, rec := range s.escrows {
		if rec.IsPlatformActive() {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (s *Store) DeleteEscrow(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteEscrowLocked(address)
}

func (s *Store) deleteEscrowLocked(address string) error {
	if _, ok := s.escrows[address]; !ok {
		return fmt.Errorf("escrow %s: %w", address, storage.ErrNotFound)
	}
	delete(s.escrows, address)
	return nil
}

// VaultStore implementation ---------------------------------------------------

func (s *Store) CreateVault(_ context.Context, v escrow.VaultAccount) (escrow.VaultAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createVaultLocked(v)
}

func (s *Store) createVaultLocked(v escrow.VaultAccount) (escrow.VaultAccount, error) {
	if _, exists := s.vaults[v.Address]; exists {
		return escrow.VaultAccount{}, fmt.Errorf("vault %s: %w", v.Address, storage.ErrAlreadyExists)
	}
	s.vaults[v.Address] = v
	return v, nil
}

func (s *Store) GetVault(_ context.Context, address string) (escrow.VaultAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getVaultLocked(address)
}

func (s *Store) getVaultLocked(address string) (escrow.VaultAccount, error) {
	v, ok := s.vaults[address]
	if !ok {
		return escrow.VaultAccount{}, fmt.Errorf("vault %s: %w", address, storage.ErrNotFound)
	}
	return v, nil
}

func (s *Store) CreditVault(_ context.Context, address string, amount uint64) (escrow.VaultAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creditVaultLocked(address, amount)
}

func (s *Store) creditVaultLocked(address string, amount uint64) (escrow.VaultAccount, error) {
	v, ok := s.vaults[address]
	if !ok {
		return escrow.VaultAccount{}, fmt.Errorf("vault %s: %w", address, storage.ErrNotFound)
	}
	if v.Balance+amount < v.Balance {
		return escrow.VaultAccount{}, fmt.Errorf("vault %s: credit overflows balance", address)
	}
	v.Balance += amount
	s.vaults[address] = v
	return v, nil
}

func (s *Store) DebitVault(_ context.Context, address string, amount uint64) (escrow.VaultAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debitVaultLocked(address, amount)
}

func (s *Store) debitVaultLocked(address string, amount uint64) (escrow.VaultAccount, error) {
	v, ok := s.vaults[address]
	if !ok {
		return escrow.VaultAccount{}, fmt.Errorf("vault %s: %w", address, storage.ErrNotFound)
	}
	if amount > v.Balance {
		return escrow.VaultAccount{}, fmt.Errorf("vault %s: debit %d exceeds balance %d: %w", address, amount, v.Balance, storage.ErrInsufficientBalance)
	}
	v.Balance -= amount
	s.vaults[address] = v
	return v, nil
}

func (s *Store) CloseVault(_ context.Context, address string) (escrow.VaultAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeVaultLocked(address)
}

func (s *Store) closeVaultLocked(address string) (escrow.VaultAccount, error) {
	v, ok := s.vaults[address]
	if !ok {
		return escrow.VaultAccount{}, fmt.Errorf("vault %s: %w", address, storage.ErrNotFound)
	}
	delete(s.vaults, address)
	return v, nil
}

// EventStore implementation ---------------------------------------------------

func (s *Store) AppendEvent(_ context.Context, ev storage.EventRecord) (storage.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEventLocked(ev)
}

func (s *Store) appendEventLocked(ev storage.EventRecord) (storage.EventRecord, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	s.events[ev.Address] = append(s.events[ev.Address], ev)
	return ev, nil
}

func (s *Store) ListEventsByEscrow(_ context.Context, address string) ([]storage.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listEventsByEscrowLocked(address)
}

func (s *Store) listEventsByEscrowLocked(address string) ([]storage.EventRecord, error) {
	return append([]storage.EventRecord(nil), s.events[address]...), nil
}
