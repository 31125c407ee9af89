package mysql

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	xerrors "OpenMCP-Bank/internal/errors"
	"OpenMCP-Bank/internal/operation"
)

func sampleRecord() operation.Record {
	return operation.Record{
		ID:            "op-1",
		CallerID:      "u1",
		Type:          operation.TypePayment,
		Data:          map[string]any{"amount": "50", "recipientName": "Alice"},
		UserMessage:   "pay alice",
		ModelResponse: "Send $50 to Alice",
		Status:        operation.StatusPending,
		CreatedAt:     time.Unix(1700000000, 0).UTC(),
	}
}

func insertOperationSQL() string {
	return `INSERT INTO ai_operations (` + operationColumns + `)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
}

func TestOperationStoreCreate(t *testing.T) {
	t.Parallel()

	db, drv := newMockSQLX(t, []mockOperation{
		execOp(insertOperationSQL(), mockResult{rowsAffected: 1}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &OperationStore{db: db}
	if err := store.Create(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestOperationStoreCreateDuplicate(t *testing.T) {
	t.Parallel()

	db, drv := newMockSQLX(t, []mockOperation{
		failingExecOp(insertOperationSQL(), &mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &OperationStore{db: db}
	if err := store.Create(context.Background(), sampleRecord()); xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestOperationStoreRejectsUnconfirmedExecution(t *testing.T) {
	t.Parallel()

	db, drv := newMockSQLX(t, nil)
	defer drv.assertConsumed(t)
	defer db.Close()

	record := sampleRecord()
	record.Executed = true
	record.Status = operation.StatusExecuted

	store := &OperationStore{db: db}
	if err := store.Update(context.Background(), record, operation.StatusPending); xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected invariant violation before touching the database, got %v", err)
	}
}

func TestOperationStoreGet(t *testing.T) {
	t.Parallel()

	db, drv := newMockSQLX(t, []mockOperation{
		queryOp(`SELECT `+operationColumns+` FROM ai_operations WHERE id = ?`, mockRowsData{
			columns: []string{"id", "caller_id", "operation_type", "operation_data", "user_message", "model_response",
				"user_confirmed", "executed", "status", "execution_result", "last_error", "created_at", "decided_at", "executed_at"},
			values: [][]driver.Value{{
				"op-1", "u1", "payment", `{"amount":"50","recipientName":"Alice"}`, "pay alice", "Send $50 to Alice",
				int64(1), int64(1), "executed", "settlement-123", nil, int64(1700000000), int64(1700000100), int64(1700000100),
			}},
		}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &OperationStore{db: db}
	record, err := store.Get(context.Background(), "op-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !record.Executed || !record.UserConfirmed || record.Data["recipientName"] != "Alice" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.ExecutedAt == nil || record.ExecutedAt.Unix() != 1700000100 {
		t.Fatalf("unexpected executed_at: %v", record.ExecutedAt)
	}
	if err := record.Check(); err != nil {
		t.Fatalf("loaded record violates invariants: %v", err)
	}
}

func updateOperationSQL() string {
	return `UPDATE ai_operations SET user_confirmed = ?, executed = ?, status = ?,
    execution_result = ?, last_error = ?, decided_at = ?, executed_at = ?
    WHERE id = ? AND caller_id = ? AND executed = 0 AND status = ?`
}

func TestOperationStoreUpdateExecuted(t *testing.T) {
	t.Parallel()

	db, drv := newMockSQLX(t, []mockOperation{
		execOp(updateOperationSQL(), mockResult{rowsAffected: 0}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	record := sampleRecord()
	now := time.Now()
	record.UserConfirmed = true
	record.Executed = true
	record.Status = operation.StatusExecuted
	record.DecidedAt = &now
	record.ExecutedAt = &now

	store := &OperationStore{db: db}
	if err := store.Update(context.Background(), record, operation.StatusExecuting); xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected conflict when no row updated, got %v", err)
	}
}

func TestOperationStoreClaimOnlyOnce(t *testing.T) {
	t.Parallel()

	db, drv := newMockSQLX(t, []mockOperation{
		execOp(updateOperationSQL(), mockResult{rowsAffected: 1}),
		execOp(updateOperationSQL(), mockResult{rowsAffected: 0}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	record := sampleRecord()
	now := time.Now()
	record.UserConfirmed = true
	record.Status = operation.StatusExecuting
	record.DecidedAt = &now

	store := &OperationStore{db: db}
	if err := store.Update(context.Background(), record, operation.StatusPending); err != nil {
		t.Fatalf("first claim should win: %v", err)
	}
	if err := store.Update(context.Background(), record, operation.StatusPending); xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("second claim must conflict, got %v", err)
	}
}
