package operation

import (
	"context"
	"time"

	xerrors "OpenMCP-Bank/internal/errors"
)

// Type 是从对话中识别出的操作类别。
type Type string

const (
	TypePayment  Type = "payment"
	TypeAnalysis Type = "analysis"
	TypeQuery    Type = "query"
)

// RequiresConfirmation 报告该类别执行前是否需要用户显式确认。
func (t Type) RequiresConfirmation() bool {
	return t == TypePayment
}

// Valid 判断类别是否受支持。
func (t Type) Valid() bool {
	switch t {
	case TypePayment, TypeAnalysis, TypeQuery:
		return true
	default:
		return false
	}
}

// Status 描述审计记录的决策状态。
type Status string

const (
	// StatusPending 表示尚未得到用户答复。
	StatusPending Status = "pending"
	// StatusRejected 表示用户显式拒绝。
	StatusRejected Status = "rejected"
	// StatusFailed 表示已确认但校验或下发失败，仍可重新确认。
	StatusFailed Status = "failed"
	// StatusExecuting 表示已被某个实例认领并正在下发结算。
	StatusExecuting Status = "executing"
	// StatusExecuted 表示已执行完成，之后不可再变更。
	StatusExecuted Status = "executed"
)

// Parsed 是从模型回答中解析出的结构化操作。
type Parsed struct {
	Type Type           `json:"type"`
	Data map[string]any `json:"data"`
}

// Record 是一条操作审计记录，创建后只更新不删除。
type Record struct {
	ID              string         `json:"id"`
	CallerID        string         `json:"callerId"`
	Type            Type           `json:"operationType"`
	Data            map[string]any `json:"operationData"`
	UserMessage     string         `json:"userMessage"`
	ModelResponse   string         `json:"modelResponse"`
	UserConfirmed   bool           `json:"userConfirmed"`
	Executed        bool           `json:"executed"`
	Status          Status         `json:"status"`
	ExecutionResult string         `json:"executionResult,omitempty"`
	LastError       string         `json:"lastError,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	DecidedAt       *time.Time     `json:"decidedAt,omitempty"`
	ExecutedAt      *time.Time     `json:"executedAt,omitempty"`
}

// Check 校验记录的状态不变式，存储实现写入前必须调用。
func (r Record) Check() error {
	if r.ID == "" || r.CallerID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "operation record requires id and caller")
	}
	if !r.Type.Valid() {
		return xerrors.New(xerrors.CodeInvalidArgument, "unsupported operation type: "+string(r.Type))
	}
	if r.Executed && r.Type.RequiresConfirmation() && !r.UserConfirmed {
		return xerrors.New(xerrors.CodeConflict, "payment cannot be executed without user confirmation")
	}
	if r.Executed != (r.Status == StatusExecuted) {
		return xerrors.New(xerrors.CodeConflict, "executed flag and status disagree")
	}
	if r.Status == StatusExecuting && !r.UserConfirmed {
		return xerrors.New(xerrors.CodeConflict, "operation cannot execute without user confirmation")
	}
	if r.Status == StatusRejected && r.UserConfirmed {
		return xerrors.New(xerrors.CodeConflict, "rejected operation cannot be confirmed")
	}
	return nil
}

// Clone 返回记录的深拷贝。
func (r Record) Clone() Record {
	clone := r
	if r.Data != nil {
		clone.Data = make(map[string]any, len(r.Data))
		for k, v := range r.Data {
			clone.Data[k] = v
		}
	}
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		clone.DecidedAt = &t
	}
	if r.ExecutedAt != nil {
		t := *r.ExecutedAt
		clone.ExecutedAt = &t
	}
	return clone
}

// Store 持久化操作审计记录。
type Store interface {
	Create(ctx context.Context, record Record) error
	Get(ctx context.Context, id string) (Record, error)
	// Update 仅在存储中的记录未执行且状态仍为 from 时覆盖可变字段，否则返回 CodeConflict。
	// 从 pending 或 failed 写入 executing 即认领执行，多个实例共享存储时只有一个能成功。
	Update(ctx context.Context, record Record, from Status) error
	ListByCaller(ctx context.Context, callerID string, limit int) ([]Record, error)
}

// ErrNotFound 构造记录不存在的错误。
func ErrNotFound(id string) error {
	return xerrors.New(xerrors.CodeNotFound, "operation not found", xerrors.WithMetadata("operation_id", id))
}
