package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"OpenMCP-Bank/internal/bank"
	"OpenMCP-Bank/internal/web3"
)

// 工具名称。
const (
	GetBalance              = "get_balance"
	GetLinkedAccounts       = "get_linked_accounts"
	GetRecentTransactions   = "get_recent_transactions"
	GetSavedRecipients      = "get_saved_recipients"
	GetInvestmentOptions    = "get_investment_options"
	GetTransactionSummary   = "get_transaction_summary"
	GetOnchainTransactions  = "get_onchain_transactions"
	defaultTransactionLimit = 10
	maxTransactionLimit     = 50
	defaultSummaryDays      = 30
	maxSummaryDays          = 365
)

// OnchainSource 提供链上交易查询。
type OnchainSource interface {
	RecentTransfers(ctx context.Context, network, address string, limit int) ([]web3.Transfer, error)
}

// ErrOnchainUnavailable 表示未配置链上查询。
var ErrOnchainUnavailable = errors.New("on-chain lookup is not configured")

// Catalog 绑定银行数据服务与链上查询，生成全部工具的处理函数。
type Catalog struct {
	Store bank.Store
	Chain OnchainSource
	Now   func() time.Time
}

// NewBankRegistry 按固定顺序注册全部银行工具。
func NewBankRegistry(c Catalog) (*Registry, error) {
	if c.Store == nil {
		return nil, errors.New("银行数据服务未配置")
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	r := NewRegistry()
	definitions := []struct {
		tool    Tool
		handler Handler
		opts    []RegisterOption
	}{
		{tool: Tool{
			Name:        GetBalance,
			Description: "Get the caller's current available and pending balance.",
			InputSchema: emptySchema(),
		}, handler: c.balance},
		{tool: Tool{
			Name:        GetLinkedAccounts,
			Description: "List the bank accounts and crypto wallets linked to the caller's profile.",
			InputSchema: emptySchema(),
		}, handler: c.linkedAccounts},
		{tool: Tool{
			Name:        GetRecentTransactions,
			Description: "List the caller's most recent transactions from the bank database, newest first. If nothing is found, tell the user and offer an on-chain check instead of running one.",
			InputSchema: objectSchema(map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Number of transactions to return (default 10, clamped to 1..50).",
				},
			}),
		}, handler: c.recentTransactions},
		{tool: Tool{
			Name:        GetSavedRecipients,
			Description: "List the caller's saved payment recipients.",
			InputSchema: emptySchema(),
		}, handler: c.recipients},
		{tool: Tool{
			Name:        GetInvestmentOptions,
			Description: "List available investment products and the caller's current holdings.",
			InputSchema: emptySchema(),
		}, handler: c.investmentOptions},
		{tool: Tool{
			Name:        GetTransactionSummary,
			Description: "Summarize the caller's money movement (income, spending, categories, top recipients) over a period.",
			InputSchema: objectSchema(map[string]any{
				"periodDays": map[string]any{
					"type":        "integer",
					"description": "Length of the period in days (default 30, clamped to 1..365).",
				},
			}),
		}, handler: c.transactionSummary},
		{tool: Tool{
			Name:        GetOnchainTransactions,
			Description: "Search the blockchain for transfers of the caller's linked wallets. Only call this when the user explicitly asks to check on-chain or search the blockchain.",
			InputSchema: objectSchema(map[string]any{
				"network": map[string]any{
					"type":        "string",
					"description": "Network of the linked wallet, e.g. ethereum or polygon.",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Number of transfers to return (default 10, clamped to 1..50).",
				},
			}),
		}, handler: c.onchainTransactions, opts: []RegisterOption{ExplicitOnly()}},
	}
	for _, def := range definitions {
		if err := r.Register(def.tool, def.handler, def.opts...); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func emptySchema() map[string]any {
	return objectSchema(map[string]any{})
}

func objectSchema(properties map[string]any) map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": true,
	}
}

func (c Catalog) balance(ctx context.Context, _ map[string]any, ec ExecutionContext) (any, error) {
	return c.Store.GetBalance(ctx, ec.CallerID)
}

func (c Catalog) linkedAccounts(ctx context.Context, _ map[string]any, ec ExecutionContext) (any, error) {
	accounts, err := c.Store.ListLinkedAccounts(ctx, ec.CallerID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"accounts": accounts, "count": len(accounts)}, nil
}

func (c Catalog) recentTransactions(ctx context.Context, args map[string]any, ec ExecutionContext) (any, error) {
	limit := intArg(args, "limit", defaultTransactionLimit, 1, maxTransactionLimit)
	txs, err := c.Store.ListTransactions(ctx, ec.CallerID, limit)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"transactions": txs, "count": len(txs), "limit": limit}
	if len(txs) == 0 {
		out["notice"] = "No transactions were found in the bank database. The user can explicitly ask for an on-chain check."
	}
	return out, nil
}

func (c Catalog) recipients(ctx context.Context, _ map[string]any, ec ExecutionContext) (any, error) {
	recipients, err := c.Store.ListRecipients(ctx, ec.CallerID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"recipients": recipients, "count": len(recipients)}, nil
}

func (c Catalog) investmentOptions(ctx context.Context, _ map[string]any, ec ExecutionContext) (any, error) {
	options, err := c.Store.ListInvestmentOptions(ctx)
	if err != nil {
		return nil, err
	}
	holdings, err := c.Store.ListInvestments(ctx, ec.CallerID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"options": options, "holdings": holdings}, nil
}

func (c Catalog) transactionSummary(ctx context.Context, args map[string]any, ec ExecutionContext) (any, error) {
	days := intArg(args, "periodDays", defaultSummaryDays, 1, maxSummaryDays)
	txs, err := c.Store.ListTransactionsSince(ctx, ec.CallerID, bank.SincePeriod(c.Now(), days))
	if err != nil {
		return nil, err
	}
	return bank.Summarize(ec.CallerID, days, txs), nil
}

func (c Catalog) onchainTransactions(ctx context.Context, args map[string]any, ec ExecutionContext) (any, error) {
	if c.Chain == nil {
		return nil, ErrOnchainUnavailable
	}
	accounts, err := c.Store.ListLinkedAccounts(ctx, ec.CallerID)
	if err != nil {
		return nil, err
	}
	network := strings.ToLower(strings.TrimSpace(stringArg(args, "network")))
	limit := intArg(args, "limit", defaultTransactionLimit, 1, maxTransactionLimit)

	var wallets []bank.LinkedAccount
	for _, acct := range accounts {
		if !acct.IsWallet() {
			continue
		}
		if network != "" && !strings.EqualFold(acct.Network, network) {
			continue
		}
		wallets = append(wallets, acct)
	}
	if len(wallets) == 0 {
		return nil, fmt.Errorf("no linked wallet found for network %q", network)
	}

	results := make([]map[string]any, 0, len(wallets))
	for _, wallet := range wallets {
		transfers, err := c.Chain.RecentTransfers(ctx, wallet.Network, wallet.WalletAddress, limit)
		if err != nil {
			return nil, fmt.Errorf("on-chain lookup for %s failed: %w", wallet.Network, err)
		}
		results = append(results, map[string]any{
			"wallet":    wallet.WalletAddress,
			"network":   wallet.Network,
			"transfers": transfers,
			"count":     len(transfers),
		})
	}
	return map[string]any{"wallets": results}, nil
}

// intArg 读取 JSON 解码产生的数值参数并限制在 [lo, hi]，先在浮点上截断再转换为 int。
func intArg(args map[string]any, key string, def, lo, hi int) int {
	var v float64
	switch raw := args[key].(type) {
	case int:
		v = float64(raw)
	case int64:
		v = float64(raw)
	case float64:
		v = raw
	case json.Number:
		f, err := raw.Float64()
		if err != nil {
			return def
		}
		v = f
	default:
		return def
	}
	switch {
	case math.IsNaN(v):
		return def
	case v <= float64(lo):
		return lo
	case v >= float64(hi):
		return hi
	}
	return int(v)
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
