package mysql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "lestnet-sdk/internal/errors"
	"lestnet-sdk/internal/tx"
)

// EventRecord 是 tx_events 表中的一行。
type EventRecord struct {
	ID          int64  `json:"id"`
	TxHash      string `json:"tx_hash,omitempty"`
	Sender      string `json:"sender"`
	Recipient   string `json:"recipient,omitempty"`
	Nonce       *int64 `json:"nonce,omitempty"`
	Stage       string `json:"stage"`
	FailedStage string `json:"failed_stage,omitempty"`
	Error       string `json:"error,omitempty"`
	BlockNumber int64  `json:"block_number,omitempty"`
	Blob        bool   `json:"blob"`
	CreatedAt   int64  `json:"created_at"`
}

// JournalStore 将交易阶段变更追加写入 MySQL，实现 tx.Journal。
type JournalStore struct {
	db *sql.DB
}

// NewJournalStore 基于已打开的连接池创建日志存储。
func NewJournalStore(db *sql.DB) *JournalStore {
	return &JournalStore{db: db}
}

const insertEventSQL = `INSERT INTO tx_events
    (tx_hash, sender, recipient, nonce, stage, failed_stage, error, block_number, is_blob, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectEventColumns = `SELECT id, tx_hash, sender, recipient, nonce, stage, failed_stage, error, block_number, is_blob, created_at
    FROM tx_events`

// Record 实现 tx.Journal。
func (s *JournalStore) Record(ctx context.Context, ev tx.Event) error {
	if s == nil || s.db == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "交易日志存储未初始化")
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	var hash, recipient string
	if ev.Hash != (common.Hash{}) {
		hash = ev.Hash.Hex()
	}
	if ev.To != nil {
		recipient = ev.To.Hex()
	}
	var nonce sql.NullInt64
	if ev.Nonce != nil {
		nonce = sql.NullInt64{Int64: int64(*ev.Nonce), Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, insertEventSQL,
		hash,
		ev.From.Hex(),
		recipient,
		nonce,
		string(ev.Stage),
		string(ev.FailedStage),
		ev.Error,
		int64(ev.BlockNumber),
		ev.Blob,
		at.UnixMilli(),
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入交易日志失败")
	}
	return nil
}

// ListByHash 按写入顺序返回某笔交易的阶段记录。
func (s *JournalStore) ListByHash(ctx context.Context, hash common.Hash) ([]EventRecord, error) {
	return s.query(ctx, selectEventColumns+` WHERE tx_hash = ? ORDER BY id ASC`, hash.Hex())
}

// ListLatest 返回最近的阶段记录，按时间倒序。
func (s *JournalStore) ListLatest(ctx context.Context, limit int) ([]EventRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.query(ctx, selectEventColumns+` ORDER BY id DESC LIMIT ?`, limit)
}

func (s *JournalStore) query(ctx context.Context, stmt string, args ...any) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易日志失败")
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var (
			record   EventRecord
			nonce    sql.NullInt64
			errorMsg sql.NullString
		)
		if err := rows.Scan(
			&record.ID,
			&record.TxHash,
			&record.Sender,
			&record.Recipient,
			&nonce,
			&record.Stage,
			&record.FailedStage,
			&errorMsg,
			&record.BlockNumber,
			&record.Blob,
			&record.CreatedAt,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析交易日志失败")
		}
		if nonce.Valid {
			n := nonce.Int64
			record.Nonce = &n
		}
		record.Error = strings.TrimSpace(errorMsg.String)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历交易日志失败")
	}
	return records, nil
}

// Close 关闭底层连接池。
func (s *JournalStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ tx.Journal = (*JournalStore)(nil)
