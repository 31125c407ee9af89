package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"OpenMCP-Bank/internal/bank"
)

// contextTransactionLimit 是注入系统提示的近期交易条数。
const contextTransactionLimit = 5

// ContextFlags 控制界面希望随对话附带哪些数据。
type ContextFlags struct {
	IncludeBalance      bool `json:"includeBalance"`
	IncludeTransactions bool `json:"includeTransactions"`
	IncludeRecipients   bool `json:"includeRecipients"`
}

// ConversationContext 是注入系统提示的客户数据快照。
type ConversationContext struct {
	Profile            *bank.Profile      `json:"profile,omitempty"`
	Balance            *bank.Balance      `json:"balance,omitempty"`
	RecentTransactions []bank.Transaction `json:"recentTransactions,omitempty"`
	Recipients         []bank.Recipient   `json:"recipients,omitempty"`
}

// Empty 报告快照是否不含任何数据。
func (c ConversationContext) Empty() bool {
	return c.Profile == nil && c.Balance == nil && len(c.RecentTransactions) == 0 && len(c.Recipients) == 0
}

// Render 把快照渲染成系统提示中的一段文本。
func (c ConversationContext) Render() string {
	if c.Empty() {
		return ""
	}
	var b strings.Builder
	if c.Profile != nil {
		fmt.Fprintf(&b, "Customer: %s (%s tier).\n", c.Profile.DisplayName, fallbackText(c.Profile.Tier, "standard"))
	}
	rest := c
	rest.Profile = nil
	if !rest.Empty() {
		raw, err := json.Marshal(rest)
		if err == nil {
			b.WriteString("Customer data: ")
			b.Write(raw)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Assembler 按调用方身份读取银行数据，构造对话上下文。
type Assembler struct {
	store bank.Store
}

// NewAssembler 创建上下文组装器。
func NewAssembler(store bank.Store) *Assembler {
	return &Assembler{store: store}
}

// Assemble 并发读取所请求的数据，档案总是读取，任意一项失败即返回错误。
func (a *Assembler) Assemble(ctx context.Context, callerID string, flags ContextFlags) (ConversationContext, error) {
	var out ConversationContext
	if a == nil || a.store == nil || callerID == "" {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		profile, err := a.store.GetProfile(gctx, callerID)
		if err != nil {
			return err
		}
		out.Profile = &profile
		return nil
	})
	if flags.IncludeBalance {
		g.Go(func() error {
			balance, err := a.store.GetBalance(gctx, callerID)
			if err != nil {
				return err
			}
			out.Balance = &balance
			return nil
		})
	}
	if flags.IncludeTransactions {
		g.Go(func() error {
			txs, err := a.store.ListTransactions(gctx, callerID, contextTransactionLimit)
			if err != nil {
				return err
			}
			out.RecentTransactions = txs
			return nil
		})
	}
	if flags.IncludeRecipients {
		g.Go(func() error {
			recipients, err := a.store.ListRecipients(gctx, callerID)
			if err != nil {
				return err
			}
			out.Recipients = recipients
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ConversationContext{}, err
	}
	return out, nil
}

func fallbackText(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
