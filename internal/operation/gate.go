package operation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"OpenMCP-Bank/internal/bank"
	xerrors "OpenMCP-Bank/internal/errors"
	"OpenMCP-Bank/internal/observability/alerting"
	"OpenMCP-Bank/internal/settlement"
	"OpenMCP-Bank/internal/web3"
	loggerpkg "OpenMCP-Bank/pkg/logger"
)

// Confirmation 是用户对支付的确认，回显金额、收款方、网络与手续费。
type Confirmation struct {
	Amount      string `json:"amount"`
	RecipientID string `json:"recipientId,omitempty"`
	Address     string `json:"address,omitempty"`
	Network     string `json:"network"`
	Fee         string `json:"fee,omitempty"`
	// AcknowledgeIrreversible 表示用户确认资金真实且不可撤回。
	AcknowledgeIrreversible bool `json:"acknowledgeIrreversible"`
}

// Outcome 是一次确认或直接执行的结果。
type Outcome struct {
	Record   Record   `json:"operation"`
	Warnings []string `json:"warnings,omitempty"`
}

// Gate 负责记录识别出的操作，并在确认后执行。
type Gate struct {
	store    Store
	accounts bank.Store
	settle   settlement.Dispatcher
	alerts   alerting.Dispatcher
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

// GateOption 定制 Gate。
type GateOption func(*Gate)

// WithAlerts 设置存储失败时的告警分发器。
func WithAlerts(d alerting.Dispatcher) GateOption {
	return func(g *Gate) { g.alerts = d }
}

// WithClock 注入时钟。
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithIDGenerator 注入记录 ID 生成器。
func WithIDGenerator(fn func() string) GateOption {
	return func(g *Gate) {
		if fn != nil {
			g.newID = fn
		}
	}
}

// NewGate 创建确认网关。
func NewGate(store Store, accounts bank.Store, settle settlement.Dispatcher, opts ...GateOption) *Gate {
	g := &Gate{
		store:    store,
		accounts: accounts,
		settle:   settle,
		now:      time.Now,
		newID:    func() string { return "op-" + uuid.NewString() },
		logger:   loggerpkg.Named("operation"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Detect 解析模型回答，识别出操作时写入一条待确认的审计记录。
func (g *Gate) Detect(ctx context.Context, callerID, userMessage, modelResponse string) (*Parsed, *Record, error) {
	parsed := Parse(modelResponse)
	if parsed == nil {
		return nil, nil, nil
	}
	record, err := g.create(ctx, callerID, *parsed, userMessage, modelResponse)
	if err != nil {
		return parsed, nil, err
	}
	return parsed, &record, nil
}

// Submit 记录界面直接发起的操作，analysis 与 query 会立即执行。
func (g *Gate) Submit(ctx context.Context, callerID string, parsed Parsed, userMessage string) (Outcome, error) {
	if !parsed.Type.Valid() {
		return Outcome{}, xerrors.New(xerrors.CodeInvalidArgument, "unsupported operation type: "+string(parsed.Type))
	}
	record, err := g.create(ctx, callerID, parsed, userMessage, "")
	if err != nil {
		return Outcome{}, err
	}
	if parsed.Type.RequiresConfirmation() {
		return Outcome{Record: record}, nil
	}
	return g.runDirect(ctx, record)
}

func (g *Gate) create(ctx context.Context, callerID string, parsed Parsed, userMessage, modelResponse string) (Record, error) {
	record := Record{
		ID:            g.newID(),
		CallerID:      callerID,
		Type:          parsed.Type,
		Data:          parsed.Data,
		UserMessage:   userMessage,
		ModelResponse: modelResponse,
		Status:        StatusPending,
		CreatedAt:     g.now().UTC(),
	}
	if record.Data == nil {
		record.Data = map[string]any{}
	}
	if err := g.store.Create(ctx, record); err != nil {
		g.storeFailed(ctx, record, "create", err)
		return Record{}, err
	}
	g.logger.Info("操作已记录",
		slog.String("operation_id", record.ID),
		slog.String("caller_id", callerID),
		slog.String("type", string(record.Type)),
	)
	return record, nil
}

// Get 返回调用方自己的记录，其他调用方的记录视为不存在。
func (g *Gate) Get(ctx context.Context, callerID, id string) (Record, error) {
	record, err := g.store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if record.CallerID != callerID {
		return Record{}, ErrNotFound(id)
	}
	return record, nil
}

// List 返回调用方最近的记录。
func (g *Gate) List(ctx context.Context, callerID string, limit int) ([]Record, error) {
	return g.store.ListByCaller(ctx, callerID, limit)
}

// Reject 记录用户的显式拒绝。
func (g *Gate) Reject(ctx context.Context, callerID, id string) (Record, error) {
	record, err := g.Get(ctx, callerID, id)
	if err != nil {
		return Record{}, err
	}
	switch record.Status {
	case StatusExecuted:
		return Record{}, xerrors.New(xerrors.CodeConflict, "operation already executed", xerrors.WithMetadata("operation_id", id))
	case StatusExecuting:
		return Record{}, xerrors.New(xerrors.CodeConflict, "operation is being executed", xerrors.WithMetadata("operation_id", id))
	case StatusRejected:
		return record, nil
	}
	from := record.Status
	now := g.now().UTC()
	record.UserConfirmed = false
	record.Status = StatusRejected
	record.DecidedAt = &now
	if err := g.update(ctx, record, from); err != nil {
		return Record{}, err
	}
	return record, nil
}

// Confirm 校验并执行操作。已执行的记录直接返回原结果，不会重复下发。
// 下发结算前先把记录认领为 executing，认领失败的调用方不会下发。
func (g *Gate) Confirm(ctx context.Context, callerID, id string, conf Confirmation) (Outcome, error) {
	record, err := g.Get(ctx, callerID, id)
	if err != nil {
		return Outcome{}, err
	}
	switch record.Status {
	case StatusExecuted:
		return Outcome{Record: record}, nil
	case StatusRejected:
		return Outcome{}, xerrors.New(xerrors.CodeConflict, "operation was rejected", xerrors.WithMetadata("operation_id", id))
	case StatusExecuting:
		return Outcome{}, errInProgress(id)
	}
	if !record.Type.RequiresConfirmation() {
		return g.runDirect(ctx, record)
	}

	if !conf.AcknowledgeIrreversible {
		return Outcome{Record: record}, g.block(ctx, record, false,
			"payment requires acknowledging that funds are real and transfers are irreversible")
	}

	plan, warnings, violation, err := g.validatePayment(ctx, record, conf)
	if err != nil {
		return Outcome{}, err
	}
	if violation != "" {
		return Outcome{Record: record, Warnings: warnings}, g.block(ctx, record, true, violation)
	}

	from := record.Status
	now := g.now().UTC()
	record.UserConfirmed = true
	record.DecidedAt = &now
	record.Status = StatusExecuting
	record.LastError = ""
	if err := g.update(ctx, record, from); err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeConflict {
			return g.lostClaim(ctx, callerID, id)
		}
		return Outcome{}, err
	}

	result, err := g.settle.Dispatch(ctx, settlement.Instruction{
		OperationID:   record.ID,
		CallerID:      record.CallerID,
		Amount:        plan.amount,
		Currency:      plan.currency,
		RecipientID:   plan.recipientID,
		RecipientName: plan.recipientName,
		Address:       plan.address,
		Network:       plan.network,
		Fee:           conf.Fee,
		ConfirmedAt:   now,
	})
	if err != nil {
		record.Status = StatusFailed
		record.LastError = "settlement dispatch failed"
		if uerr := g.update(ctx, record, StatusExecuting); uerr != nil {
			return Outcome{}, uerr
		}
		return Outcome{Record: record, Warnings: warnings}, xerrors.Wrap(xerrors.CodeQueueFailure, err, "settlement dispatch failed",
			xerrors.WithMetadata("operation_id", record.ID))
	}

	record.Executed = true
	record.Status = StatusExecuted
	record.ExecutionResult = result
	record.ExecutedAt = &now
	if err := g.update(ctx, record, StatusExecuting); err != nil {
		// 结算已下发但结果未落库，记录停留在 executing，需要人工对账，不能再次认领。
		g.logger.Error("结算已下发但执行结果写入失败",
			slog.String("operation_id", record.ID),
			slog.String("settlement", result),
		)
		return Outcome{}, err
	}
	g.logger.Info("支付已确认并下发结算",
		slog.String("operation_id", record.ID),
		slog.String("caller_id", record.CallerID),
		slog.String("amount", plan.amount),
		slog.String("network", plan.network),
	)
	return Outcome{Record: record, Warnings: warnings}, nil
}

// lostClaim 在认领被其他调用方抢先时返回当前结果或进行中冲突。
func (g *Gate) lostClaim(ctx context.Context, callerID, id string) (Outcome, error) {
	current, err := g.Get(ctx, callerID, id)
	if err != nil {
		return Outcome{}, err
	}
	if current.Executed {
		return Outcome{Record: current}, nil
	}
	return Outcome{}, errInProgress(id)
}

func errInProgress(id string) error {
	return xerrors.New(xerrors.CodeConflict, "confirmation already in progress", xerrors.WithMetadata("operation_id", id))
}

// block 记录首个校验失败原因，记录保持未执行。
func (g *Gate) block(ctx context.Context, record Record, confirmed bool, violation string) error {
	from := record.Status
	record.LastError = violation
	if confirmed {
		now := g.now().UTC()
		record.UserConfirmed = true
		record.Status = StatusFailed
		record.DecidedAt = &now
	}
	if err := g.update(ctx, record, from); err != nil {
		return err
	}
	return xerrors.New(xerrors.CodeInvalidArgument, violation, xerrors.WithMetadata("operation_id", record.ID))
}

type paymentPlan struct {
	amount        string
	currency      string
	recipientID   string
	recipientName string
	address       string
	network       string
}

// validatePayment 依次校验收款方、金额、余额（仅提示）、地址格式与网络，返回首个违规项。
func (g *Gate) validatePayment(ctx context.Context, record Record, conf Confirmation) (paymentPlan, []string, string, error) {
	var plan paymentPlan
	var warnings []string

	recipientID := firstNonEmpty(conf.RecipientID, dataString(record.Data, "recipientId"))
	recipientName := dataString(record.Data, "recipientName")
	directAddress := firstNonEmpty(conf.Address, dataString(record.Data, "address"))

	var recipient bank.Recipient
	var found bool
	var err error
	switch {
	case recipientID != "":
		recipient, found, err = bank.FindRecipientByID(ctx, g.accounts, record.CallerID, recipientID)
	case recipientName != "":
		recipient, found, err = bank.FindRecipientByName(ctx, g.accounts, record.CallerID, recipientName)
	}
	if err != nil {
		return plan, nil, "", err
	}
	if !found && directAddress == "" {
		return plan, nil, "recipient id or address is required", nil
	}
	if found {
		plan.recipientID = recipient.ID
		plan.recipientName = recipient.Name
		plan.address = recipient.WalletAddress
		plan.network = recipient.Network
	}

	recorded := dataString(record.Data, "amount")
	amount, ok := parseAmount(firstNonEmpty(conf.Amount, recorded))
	if !ok {
		return plan, nil, "amount must be a number greater than 0", nil
	}
	if recorded != "" && conf.Amount != "" {
		if want, err := strconv.ParseFloat(strings.ReplaceAll(recorded, ",", ""), 64); err == nil && want != amount {
			return plan, nil, "confirmed amount does not match the requested amount", nil
		}
	}
	plan.amount = strconv.FormatFloat(amount, 'f', -1, 64)

	if balance, err := g.accounts.GetBalance(ctx, record.CallerID); err == nil {
		plan.currency = balance.Currency
		if amount > balance.Available {
			warnings = append(warnings, fmt.Sprintf("amount exceeds the known available balance of %.2f %s", balance.Available, balance.Currency))
		}
	}

	if directAddress != "" {
		if !web3.ValidAddress(directAddress) {
			return plan, warnings, "address must be 0x followed by 40 hexadecimal characters", nil
		}
		plan.address = strings.TrimSpace(directAddress)
	}

	plan.network = strings.ToLower(firstNonEmpty(conf.Network, dataString(record.Data, "network"), plan.network))
	if plan.network == "" {
		return plan, warnings, "target network is required", nil
	}
	return plan, warnings, "", nil
}

// runDirect 立即执行无需确认的 analysis 与 query 操作。
func (g *Gate) runDirect(ctx context.Context, record Record) (Outcome, error) {
	from := record.Status
	result, err := g.directResult(ctx, record)
	now := g.now().UTC()
	record.DecidedAt = &now
	if err != nil {
		record.Status = StatusFailed
		record.LastError = err.Error()
		if uerr := g.update(ctx, record, from); uerr != nil {
			return Outcome{}, uerr
		}
		return Outcome{Record: record}, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "operation execution failed")
	}
	record.Executed = true
	record.Status = StatusExecuted
	record.ExecutionResult = result
	record.LastError = ""
	record.ExecutedAt = &now
	if err := g.update(ctx, record, from); err != nil {
		return Outcome{}, err
	}
	return Outcome{Record: record}, nil
}

func (g *Gate) directResult(ctx context.Context, record Record) (string, error) {
	var payload any
	switch record.Type {
	case TypeAnalysis:
		days := 30
		if v, err := strconv.Atoi(dataString(record.Data, "periodDays")); err == nil && v > 0 {
			days = v
		}
		txs, err := g.accounts.ListTransactionsSince(ctx, record.CallerID, bank.SincePeriod(g.now(), days))
		if err != nil {
			return "", err
		}
		payload = bank.Summarize(record.CallerID, days, txs)
	case TypeQuery:
		balance, err := g.accounts.GetBalance(ctx, record.CallerID)
		if err != nil {
			return "", err
		}
		payload = balance
	default:
		return "", fmt.Errorf("operation type %s cannot run directly", record.Type)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func (g *Gate) update(ctx context.Context, record Record, from Status) error {
	if err := g.store.Update(ctx, record, from); err != nil {
		g.storeFailed(ctx, record, "update", err)
		return err
	}
	return nil
}

func (g *Gate) storeFailed(ctx context.Context, record Record, action string, err error) {
	g.logger.Error("写入操作审计记录失败",
		slog.String("operation_id", record.ID),
		slog.String("caller_id", record.CallerID),
		slog.String("action", action),
		slog.Any("error", err),
	)
	if xerrors.CodeOf(err) == xerrors.CodeConflict {
		return
	}
	event := alerting.FromError("operation", err)
	event.CallerID = record.CallerID
	event.OperationID = record.ID
	alerting.Notify(ctx, g.alerts, event)
}

// amountPattern 只接受普通十进制金额，NaN、Inf 与科学计数法都不是合法金额。
var amountPattern = regexp.MustCompile(`^\d+(?:\.\d+)?$`)

// parseAmount 解析金额，允许千分位逗号，要求为大于 0 的有限数。
func parseAmount(text string) (float64, bool) {
	text = strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	if !amountPattern.MatchString(text) {
		return 0, false
	}
	amount, err := strconv.ParseFloat(text, 64)
	if err != nil || amount <= 0 || math.IsInf(amount, 0) {
		return 0, false
	}
	return amount, true
}

func dataString(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
