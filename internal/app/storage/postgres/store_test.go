package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/R3E-Network/escrow_service/internal/app/domain/escrow"
	"github.com/R3E-Network/escrow_service/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	return New(db), mock, func() { db.Close() }
}

func testIdentity(b byte) escrow.Identity {
	var id escrow.Identity
	id[0] = b
	return id
}

func escrowRows() *sqlmock.Rows {
	return sqlmock.NewRows(strings.Split(
		"address,owner,platform_authority,trading_authority,token_mint,address_salt,flags,"+
			"created_at,platform_activated_at,trading_activated_at,last_paused_at,action_nonce,"+
			"total_deposited,total_withdrawn,total_fees_paid,total_traded,max_balance,max_lifetime,schema_version", ","))
}

func addEscrowRow(rows *sqlmock.Rows, address string, flags int16) *sqlmock.Rows {
	null := (escrow.Identity{}).String()
	return rows.AddRow(address, testIdentity(1).String(), null, null, testIdentity(2).String(),
		int16(1), flags, int64(1000), int64(0), int64(0), int64(0), int64(0),
		int64(0), int64(0), int64(0), int64(0), int64(escrow.DefaultMaxBalance), int64(0), int32(1))
}

func TestGetEscrow(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT .+ FROM escrow_records WHERE address = \$1`).
		WithArgs("addr-1").
		WillReturnRows(addEscrowRow(escrowRows(), "addr-1", 0))

	rec, err := store.GetEscrow(context.Background(), "addr-1")
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if rec.Owner != testIdentity(1) {
		t.Errorf("owner mismatch")
	}
	if rec.MaxBalance != escrow.DefaultMaxBalance {
		t.Errorf("max balance = %d", rec.MaxBalance)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetEscrowNotFound(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT .+ FROM escrow_records WHERE address = \$1`).
		WithArgs("missing").
		WillReturnRows(escrowRows())

	if _, err := store.GetEscrow(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestCreateEscrow(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO escrow_records`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := escrow.Escrow{
		Address:       "addr-1",
		Owner:         testIdentity(1),
		TokenMint:     testIdentity(2),
		MaxBalance:    escrow.DefaultMaxBalance,
		SchemaVersion: escrow.SchemaVersion,
	}
	if _, err := store.CreateEscrow(context.Background(), rec); err != nil {
		t.Fatalf("create escrow: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateEscrowDuplicate(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO escrow_records`).
		WillReturnError(&pq.Error{Code: "23505"})

	rec := escrow.Escrow{Address: "addr-1", Owner: testIdentity(1)}
	if _, err := store.CreateEscrow(context.Background(), rec); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("got %v, want ErrAlreadyExists", err)
	}
}

func TestUpdateEscrowNotFound(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`UPDATE escrow_records`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := escrow.Escrow{Address: "missing", Owner: testIdentity(1)}
	if _, err := store.UpdateEscrow(context.Background(), rec); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestDebitVaultInsufficientBalance(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	// The guarded UPDATE matches no row when the balance is short; the
	// follow-up read finds the vault, so the rejection is a balance problem.
	mock.ExpectQuery(`UPDATE escrow_vaults`).
		WithArgs("addr-1", int64(500)).
		WillReturnRows(sqlmock.NewRows([]string{"address", "owner", "token_mint", "balance", "reserve", "created_at"}))
	mock.ExpectQuery(`SELECT .+ FROM escrow_vaults WHERE address = \$1`).
		WithArgs("addr-1").
		WillReturnRows(sqlmock.NewRows([]string{"address", "owner", "token_mint", "balance", "reserve", "created_at"}).
			AddRow("addr-1", testIdentity(1).String(), testIdentity(2).String(), int64(100), int64(0), int64(1000)))

	if _, err := store.DebitVault(context.Background(), "addr-1", 500); !errors.Is(err, storage.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
}

func TestDebitVaultMissingVault(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`UPDATE escrow_vaults`).
		WithArgs("missing", int64(500)).
		WillReturnRows(sqlmock.NewRows([]string{"address", "owner", "token_mint", "balance", "reserve", "created_at"}))
	mock.ExpectQuery(`SELECT .+ FROM escrow_vaults WHERE address = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"address", "owner", "token_mint", "balance", "reserve", "created_at"}))

	if _, err := store.DebitVault(context.Background(), "missing", 500); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestCreditVaultReturnsNewBalance(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`UPDATE escrow_vaults`).
		WithArgs("addr-1", int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"address", "owner", "token_mint", "balance", "reserve", "created_at"}).
			AddRow("addr-1", testIdentity(1).String(), testIdentity(2).String(), int64(600), int64(0), int64(1000)))

	v, err := store.CreditVault(context.Background(), "addr-1", 100)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if v.Balance != 600 {
		t.Errorf("balance = %d, want 600", v.Balance)
	}
}

func TestInTxLocksAndCommits(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM escrow_records WHERE address = \$1 FOR UPDATE`).
		WithArgs("addr-1").
		WillReturnRows(addEscrowRow(escrowRows(), "addr-1", 0))
	mock.ExpectExec(`UPDATE escrow_records`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(tx storage.Tx) error {
		rec, err := tx.GetEscrow(context.Background(), "addr-1")
		if err != nil {
			return err
		}
		rec.ActionNonce++
		_, err = tx.UpdateEscrow(context.Background(), rec)
		return err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	sentinel := errors.New("abort")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(storage.Tx) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("got %v, want sentinel", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListPlatformActive(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	rows := escrowRows()
	addEscrowRow(rows, "addr-a", 1)
	addEscrowRow(rows, "addr-b", 1)
	mock.ExpectQuery(`WHERE flags & 1 <> 0`).
		WillReturnRows(rows)

	records, err := store.ListPlatformActive(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("records = %d, want 2", len(records))
	}
}

func TestAppendEventAssignsID(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO escrow_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ev, err := store.AppendEvent(context.Background(), storage.EventRecord{
		Address: "addr-1",
		Type:    "escrow.deposit",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if ev.ID == "" {
		t.Error("event ID should be assigned")
	}
}
