package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"time"

	"github.com/jmoiron/sqlx"

	xerrors "OpenMCP-Bank/internal/errors"
	"OpenMCP-Bank/internal/operation"
)

// OperationStore 把操作审计记录写入 ai_operations 表，实现 operation.Store。
type OperationStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

var _ operation.Store = (*OperationStore)(nil)

// NewOperationStore 创建连接池并执行迁移。
func NewOperationStore(ctx context.Context, cfg Config) (*OperationStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化审计存储失败")
	}
	return &OperationStore{db: db, timeout: cfg.QueryTimeout}, nil
}

// Close 关闭底层数据库连接。
func (s *OperationStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type operationRow struct {
	ID              string         `db:"id"`
	CallerID        string         `db:"caller_id"`
	OperationType   string         `db:"operation_type"`
	OperationData   string         `db:"operation_data"`
	UserMessage     string         `db:"user_message"`
	ModelResponse   string         `db:"model_response"`
	UserConfirmed   bool           `db:"user_confirmed"`
	Executed        bool           `db:"executed"`
	Status          string         `db:"status"`
	ExecutionResult sql.NullString `db:"execution_result"`
	LastError       sql.NullString `db:"last_error"`
	CreatedAt       int64          `db:"created_at"`
	DecidedAt       sql.NullInt64  `db:"decided_at"`
	ExecutedAt      sql.NullInt64  `db:"executed_at"`
}

const operationColumns = `id, caller_id, operation_type, operation_data, user_message, model_response,
    user_confirmed, executed, status, execution_result, last_error, created_at, decided_at, executed_at`

// Create 实现 operation.Store。
func (s *OperationStore) Create(ctx context.Context, record operation.Record) error {
	if err := record.Check(); err != nil {
		return err
	}
	data, err := json.Marshal(record.Data)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化操作数据失败")
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `INSERT INTO ai_operations (`+operationColumns+`)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.CallerID,
		string(record.Type),
		string(data),
		record.UserMessage,
		record.ModelResponse,
		record.UserConfirmed,
		record.Executed,
		string(record.Status),
		nullString(record.ExecutionResult),
		nullString(record.LastError),
		record.CreatedAt.Unix(),
		nullUnix(record.DecidedAt),
		nullUnix(record.ExecutedAt),
	)
	if isDuplicateKey(err) {
		return xerrors.Wrap(xerrors.CodeConflict, err, "operation already exists")
	}
	if err != nil {
		return storageError(err, "写入操作审计记录失败")
	}
	return nil
}

// Get 实现 operation.Store。
func (s *OperationStore) Get(ctx context.Context, id string) (operation.Record, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var row operationRow
	err := s.db.GetContext(ctx, &row, `SELECT `+operationColumns+` FROM ai_operations WHERE id = ?`, id)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return operation.Record{}, operation.ErrNotFound(id)
	}
	if err != nil {
		return operation.Record{}, storageError(err, "查询操作审计记录失败")
	}
	return row.toRecord()
}

// Update 实现 operation.Store。条件更新保证已执行的记录不会被覆盖，
// 也保证同一条记录只有一个实例能从 pending/failed 认领为 executing。
func (s *OperationStore) Update(ctx context.Context, record operation.Record, from operation.Status) error {
	if err := record.Check(); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `UPDATE ai_operations SET user_confirmed = ?, executed = ?, status = ?,
    execution_result = ?, last_error = ?, decided_at = ?, executed_at = ?
    WHERE id = ? AND caller_id = ? AND executed = 0 AND status = ?`,
		record.UserConfirmed,
		record.Executed,
		string(record.Status),
		nullString(record.ExecutionResult),
		nullString(record.LastError),
		nullUnix(record.DecidedAt),
		nullUnix(record.ExecutedAt),
		record.ID,
		record.CallerID,
		string(from),
	)
	if err != nil {
		return storageError(err, "更新操作审计记录失败")
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return xerrors.New(xerrors.CodeConflict, "operation missing, already executed or changed concurrently",
			xerrors.WithMetadata("operation_id", record.ID))
	}
	return nil
}

// ListByCaller 实现 operation.Store。
func (s *OperationStore) ListByCaller(ctx context.Context, callerID string, limit int) ([]operation.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var rows []operationRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+operationColumns+` FROM ai_operations
    WHERE caller_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, callerID, limit)
	if err != nil {
		return nil, storageError(err, "查询操作审计记录失败")
	}
	records := make([]operation.Record, 0, len(rows))
	for _, row := range rows {
		record, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (r operationRow) toRecord() (operation.Record, error) {
	record := operation.Record{
		ID:              r.ID,
		CallerID:        r.CallerID,
		Type:            operation.Type(r.OperationType),
		UserMessage:     r.UserMessage,
		ModelResponse:   r.ModelResponse,
		UserConfirmed:   r.UserConfirmed,
		Executed:        r.Executed,
		Status:          operation.Status(r.Status),
		ExecutionResult: r.ExecutionResult.String,
		LastError:       r.LastError.String,
		CreatedAt:       time.Unix(r.CreatedAt, 0).UTC(),
	}
	if r.OperationData != "" {
		if err := json.Unmarshal([]byte(r.OperationData), &record.Data); err != nil {
			return operation.Record{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析操作数据失败")
		}
	}
	if r.DecidedAt.Valid {
		t := unixOrZero(r.DecidedAt)
		record.DecidedAt = &t
	}
	if r.ExecutedAt.Valid {
		t := unixOrZero(r.ExecutedAt)
		record.ExecutedAt = &t
	}
	return record, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
