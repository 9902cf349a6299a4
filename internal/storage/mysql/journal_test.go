package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gomysql "github.com/go-sql-driver/mysql"

	"lestnet-sdk/internal/storage/mysql/mysqltest"
	"lestnet-sdk/internal/tx"
)

func TestJournalStoreRecord(t *testing.T) {
	t.Parallel()

	to := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	nonce := uint64(9)
	ev := tx.Event{
		From:        common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		To:          &to,
		Nonce:       &nonce,
		Hash:        common.BigToHash(big.NewInt(1)),
		Stage:       tx.StageConfirmed,
		BlockNumber: 12,
		At:          time.UnixMilli(1_700_000_000_000),
	}

	db, drv := mysqltest.Open(t,
		mysqltest.Exec(insertEventSQL, mysqltest.Result{LastID: 1, Affected: 1}).WithArgs(func(args []driver.NamedValue) error {
			if len(args) != 10 {
				return fmt.Errorf("expected 10 args, got %d", len(args))
			}
			if args[0].Value != ev.Hash.Hex() || args[2].Value != to.Hex() {
				return fmt.Errorf("unexpected hash/recipient %v %v", args[0].Value, args[2].Value)
			}
			if args[3].Value != int64(9) || args[4].Value != "confirmed" || args[9].Value != int64(1_700_000_000_000) {
				return fmt.Errorf("unexpected nonce/stage/time %v %v %v", args[3].Value, args[4].Value, args[9].Value)
			}
			return nil
		}),
	)
	defer drv.AssertConsumed(t)
	defer db.Close()

	if err := NewJournalStore(db).Record(context.Background(), ev); err != nil {
		t.Fatalf("record failed: %v", err)
	}
}

func TestJournalStoreRecordPendingStage(t *testing.T) {
	t.Parallel()

	db, drv := mysqltest.Open(t,
		mysqltest.Exec(insertEventSQL, mysqltest.Result{Affected: 1}).WithArgs(func(args []driver.NamedValue) error {
			if args[0].Value != "" || args[2].Value != "" || args[3].Value != nil {
				return fmt.Errorf("expected empty hash, recipient and nonce, got %v %v %v", args[0].Value, args[2].Value, args[3].Value)
			}
			return nil
		}),
	)
	defer drv.AssertConsumed(t)
	defer db.Close()

	err := NewJournalStore(db).Record(context.Background(), tx.Event{Stage: tx.StagePrepared})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
}

func TestJournalStoreListByHash(t *testing.T) {
	t.Parallel()

	hash := common.BigToHash(big.NewInt(7))
	rows := mysqltest.Rows{
		Columns: []string{"id", "tx_hash", "sender", "recipient", "nonce", "stage", "failed_stage", "error", "block_number", "is_blob", "created_at"},
		Values: [][]driver.Value{
			{int64(1), hash.Hex(), "0xabc", "", int64(3), "broadcast", "", nil, int64(0), int64(0), int64(10)},
			{int64(2), hash.Hex(), "0xabc", "", int64(3), "failed", "confirmed", " reverted ", int64(0), int64(1), int64(20)},
		},
	}
	db, drv := mysqltest.Open(t,
		mysqltest.Query(selectEventColumns+` WHERE tx_hash = ? ORDER BY id ASC`, rows),
	)
	defer drv.AssertConsumed(t)
	defer db.Close()

	records, err := NewJournalStore(db).ListByHash(context.Background(), hash)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Nonce == nil || *records[0].Nonce != 3 || records[0].Error != "" {
		t.Fatalf("unexpected first record %+v", records[0])
	}
	if records[1].FailedStage != "confirmed" || records[1].Error != "reverted" || !records[1].Blob {
		t.Fatalf("unexpected second record %+v", records[1])
	}
}

func TestJournalStoreListLatestClampsLimit(t *testing.T) {
	t.Parallel()

	db, drv := mysqltest.Open(t,
		mysqltest.Query(selectEventColumns+` ORDER BY id DESC LIMIT ?`, mysqltest.Rows{Columns: []string{"id"}}).WithArgs(func(args []driver.NamedValue) error {
			if len(args) != 1 || args[0].Value != int64(50) {
				return fmt.Errorf("unexpected limit %v", args)
			}
			return nil
		}),
	)
	defer drv.AssertConsumed(t)
	defer db.Close()

	records, err := NewJournalStore(db).ListLatest(context.Background(), 0)
	if err != nil || len(records) != 0 {
		t.Fatalf("unexpected result %v %v", records, err)
	}
}

func TestRunMigrations(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) != 2 || files[0].version != "0001" || files[1].version != "0002" {
		t.Fatalf("unexpected migrations %+v", files)
	}

	ops := []mysqltest.Operation{
		mysqltest.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mysqltest.Result{}),
		mysqltest.Query(`SELECT version FROM schema_migrations`, mysqltest.Rows{
			Columns: []string{"version"},
			Values:  [][]driver.Value{{"0001"}},
		}),
		mysqltest.Begin(),
		mysqltest.Exec(files[1].statements[0], mysqltest.Result{}),
		mysqltest.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mysqltest.Result{Affected: 1}),
		mysqltest.Commit(),
	}
	db, drv := mysqltest.Open(t, ops...)
	defer drv.AssertConsumed(t)
	defer db.Close()

	if err := RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestRunMigrationsRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	boom := errors.New("syntax error")
	ops := []mysqltest.Operation{
		mysqltest.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version VARCHAR(32) NOT NULL PRIMARY KEY, applied_at BIGINT NOT NULL)`, mysqltest.Result{}),
		mysqltest.Query(`SELECT version FROM schema_migrations`, mysqltest.Rows{Columns: []string{"version"}}),
		mysqltest.Begin(),
		mysqltest.Exec(files[0].statements[0], mysqltest.Result{}).WithError(boom),
		mysqltest.Rollback(),
	}
	db, drv := mysqltest.Open(t, ops...)
	defer drv.AssertConsumed(t)
	defer db.Close()

	if err := RunMigrations(context.Background(), db); !errors.Is(err, boom) {
		t.Fatalf("expected migration error, got %v", err)
	}
}

func TestNormalizeDSN(t *testing.T) {
	dsn, err := normalizeDSN("user:pass@tcp(localhost:3306)/lestnet")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	parsed, err := gomysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("parse normalized dsn: %v", err)
	}
	if parsed.Timeout != 5*time.Second || parsed.DBName != "lestnet" {
		t.Fatalf("unexpected dsn %q", dsn)
	}
	if _, err := normalizeDSN(""); err == nil {
		t.Fatal("expected error for empty dsn")
	}
	if _, err := normalizeDSN("not a dsn"); err == nil {
		t.Fatal("expected error for malformed dsn")
	}
}

func TestIsDuplicateKey(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &gomysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	if !IsDuplicateKey(dup) {
		t.Fatal("expected duplicate key")
	}
	if IsDuplicateKey(errors.New("other")) {
		t.Fatal("plain error is not a duplicate key")
	}
}
