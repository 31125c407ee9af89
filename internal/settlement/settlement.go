// Package settlement hands confirmed payments to a downstream settlement
// worker. Nothing here signs or submits transactions on-chain; a dispatcher
// only publishes an instruction and returns a reference for the audit trail.
package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	loggerpkg "OpenMCP-Bank/pkg/logger"
)

// Instruction 描述一笔已确认、待结算的支付。
type Instruction struct {
	Reference     string    `json:"reference"`
	OperationID   string    `json:"operationId"`
	CallerID      string    `json:"callerId"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency,omitempty"`
	RecipientID   string    `json:"recipientId,omitempty"`
	RecipientName string    `json:"recipientName,omitempty"`
	Address       string    `json:"address,omitempty"`
	Network       string    `json:"network"`
	Fee           string    `json:"fee,omitempty"`
	ConfirmedAt   time.Time `json:"confirmedAt"`
}

// Dispatcher 把结算指令交给下游，返回写入审计记录的执行结果。
type Dispatcher interface {
	Dispatch(ctx context.Context, inst Instruction) (string, error)
	Close() error
}

// prepare 补齐引用号并编码指令。
func prepare(inst Instruction) (Instruction, []byte, error) {
	if inst.Reference == "" {
		inst.Reference = "stl-" + uuid.NewString()
	}
	if inst.ConfirmedAt.IsZero() {
		inst.ConfirmedAt = time.Now().UTC()
	}
	body, err := json.Marshal(inst)
	if err != nil {
		return inst, nil, fmt.Errorf("编码结算指令失败: %w", err)
	}
	return inst, body, nil
}

// result 生成写入 executionResult 的描述。
func result(inst Instruction, via string) string {
	return fmt.Sprintf("settlement %s queued via %s", inst.Reference, via)
}

// LogDispatcher 只记录结算指令，适合开发与演示环境。
type LogDispatcher struct {
	logger *slog.Logger
}

var _ Dispatcher = (*LogDispatcher)(nil)

// NewLogDispatcher 创建日志结算器。
func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{logger: loggerpkg.Named("settlement")}
}

// Dispatch 实现 Dispatcher。
func (d *LogDispatcher) Dispatch(ctx context.Context, inst Instruction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	inst, _, err := prepare(inst)
	if err != nil {
		return "", err
	}
	d.logger.Info("结算指令已记录",
		slog.String("reference", inst.Reference),
		slog.String("operation_id", inst.OperationID),
		slog.String("caller_id", inst.CallerID),
		slog.String("amount", inst.Amount),
		slog.String("network", inst.Network),
	)
	return result(inst, "log"), nil
}

// Close 实现 Dispatcher。
func (d *LogDispatcher) Close() error { return nil }

// observed 在下发后回调观察者。
type observed struct {
	next    Dispatcher
	observe func(error)
}

// Observe 包装 next，每次下发后以结果错误调用 observe。
func Observe(next Dispatcher, observe func(error)) Dispatcher {
	if observe == nil {
		return next
	}
	return &observed{next: next, observe: observe}
}

func (o *observed) Dispatch(ctx context.Context, inst Instruction) (string, error) {
	result, err := o.next.Dispatch(ctx, inst)
	o.observe(err)
	return result, err
}

func (o *observed) Close() error { return o.next.Close() }
