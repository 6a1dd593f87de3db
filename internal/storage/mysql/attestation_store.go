package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	driver "github.com/go-sql-driver/mysql"

	xerrors "SignalAttest/internal/errors"
	"SignalAttest/internal/registry"
)

// mysqlDuplicateEntry 是唯一键冲突的错误码。
const mysqlDuplicateEntry = 1062

// AttestationStore 将注册表记录落库到 MySQL，实现 registry.Store。
// 主键冲突即重复证明，依赖数据库保证追加写的原子性。
type AttestationStore struct {
	db *sql.DB
}

// NewAttestationStore 建立连接池并执行迁移。
func NewAttestationStore(ctx context.Context, cfg Config) (*AttestationStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "open mysql")
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "run migrations")
	}
	return &AttestationStore{db: db}, nil
}

// InsertModel 追加一条模型记录。
func (s *AttestationStore) InsertModel(ctx context.Context, record *registry.ModelAttestation) error {
	const query = `INSERT INTO model_attestations (model_hash, version, ts, attester, verified, recorded_at)
VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		record.ModelHash.Hex(), record.Version, record.Timestamp,
		record.Attester.Hex(), boolToInt(record.Verified), record.RecordedAt.Unix())
	if err != nil {
		if isDuplicate(err) {
			return xerrors.New(xerrors.CodeAlreadyAttested,
				"model hash already attested",
				xerrors.WithMetadata("model_hash", record.ModelHash.Hex()))
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert model record")
	}
	return nil
}

// InsertSignal 追加一条信号记录。
func (s *AttestationStore) InsertSignal(ctx context.Context, record *registry.SignalAttestation) error {
	const query = `INSERT INTO signal_attestations (signal_hash, model_hash, ts, signal_type, attester, verified, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		record.SignalHash.Hex(), record.ModelHash.Hex(), record.Timestamp,
		record.SignalType, record.Attester.Hex(), boolToInt(record.Verified), record.RecordedAt.Unix())
	if err != nil {
		if isDuplicate(err) {
			return xerrors.New(xerrors.CodeAlreadyAttested,
				"signal hash already attested",
				xerrors.WithMetadata("signal_hash", record.SignalHash.Hex()))
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert signal record")
	}
	return nil
}

// GetModel 按哈希查询模型记录。
func (s *AttestationStore) GetModel(ctx context.Context, modelHash common.Hash) (*registry.ModelAttestation, error) {
	const query = `SELECT model_hash, version, ts, attester, verified, recorded_at
FROM model_attestations WHERE model_hash = ?`
	row := s.db.QueryRowContext(ctx, query, modelHash.Hex())

	var (
		record     registry.ModelAttestation
		hashHex    string
		attester   string
		verified   int
		recordedAt int64
	)
	if err := row.Scan(&hashHex, &record.Version, &record.Timestamp, &attester, &verified, &recordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, xerrors.New(xerrors.CodeNotFound, "model not attested")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query model record")
	}
	record.ModelHash = common.HexToHash(hashHex)
	record.Attester = common.HexToAddress(attester)
	record.Verified = verified == 1
	record.RecordedAt = time.Unix(recordedAt, 0).UTC()
	return &record, nil
}

// GetSignal 按哈希查询信号记录。
func (s *AttestationStore) GetSignal(ctx context.Context, signalHash common.Hash) (*registry.SignalAttestation, error) {
	const query = `SELECT signal_hash, model_hash, ts, signal_type, attester, verified, recorded_at
FROM signal_attestations WHERE signal_hash = ?`
	row := s.db.QueryRowContext(ctx, query, signalHash.Hex())

	var (
		record     registry.SignalAttestation
		sigHex     string
		modelHex   string
		attester   string
		verified   int
		recordedAt int64
	)
	if err := row.Scan(&sigHex, &modelHex, &record.Timestamp, &record.SignalType, &attester, &verified, &recordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, xerrors.New(xerrors.CodeNotFound, "signal not attested")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query signal record")
	}
	record.SignalHash = common.HexToHash(sigHex)
	record.ModelHash = common.HexToHash(modelHex)
	record.Attester = common.HexToAddress(attester)
	record.Verified = verified == 1
	record.RecordedAt = time.Unix(recordedAt, 0).UTC()
	return &record, nil
}

// CountModels 返回模型记录数。
func (s *AttestationStore) CountModels(ctx context.Context) (uint64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM model_attestations`)
}

// CountSignals 返回信号记录数。
func (s *AttestationStore) CountSignals(ctx context.Context) (uint64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM signal_attestations`)
}

func (s *AttestationStore) count(ctx context.Context, query string) (uint64, error) {
	var count uint64
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "count records")
	}
	return count, nil
}

// SetAuthorization 更新证明者授权。
func (s *AttestationStore) SetAuthorization(ctx context.Context, attester common.Address, authorized bool) error {
	const query = `INSERT INTO attesters (address, authorized, updated_at)
VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE authorized = VALUES(authorized), updated_at = VALUES(updated_at)`
	if _, err := s.db.ExecContext(ctx, query, attester.Hex(), boolToInt(authorized), time.Now().Unix()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "update authorization")
	}
	return nil
}

// IsAuthorized 查询证明者授权状态。
func (s *AttestationStore) IsAuthorized(ctx context.Context, attester common.Address) (bool, error) {
	const query = `SELECT authorized FROM attesters WHERE address = ?`
	var authorized int
	if err := s.db.QueryRowContext(ctx, query, attester.Hex()).Scan(&authorized); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query authorization")
	}
	return authorized == 1, nil
}

// Close 释放连接池。
func (s *AttestationStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isDuplicate(err error) bool {
	var mysqlErr *driver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
