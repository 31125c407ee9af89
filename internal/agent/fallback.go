package agent

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"OpenMCP-Bank/internal/bank"
	"OpenMCP-Bank/internal/knowledge"
	"OpenMCP-Bank/internal/llm"
	"OpenMCP-Bank/internal/tools"
)

// WarningPrefix 标记降级回复中的配置告警。
const WarningPrefix = "[Warning] "

type route struct {
	tool     string
	keywords []string
}

// routes 按优先级排列，命中多个时依次调用。
var routes = []route{
	{tool: tools.GetInvestmentOptions, keywords: []string{"invest", "portfolio", "yield", "apy", "投资", "理财"}},
	{tool: tools.GetTransactionSummary, keywords: []string{"spend", "spent", "spending", "expense", "budget", "insight", "summary", "支出", "花费", "消费", "开销"}},
	{tool: tools.GetRecentTransactions, keywords: []string{"transaction", "history", "recent", "purchases", "交易", "流水", "记录"}},
	{tool: tools.GetSavedRecipients, keywords: []string{"recipient", "payee", "contact", "收款人", "联系人"}},
	{tool: tools.GetBalance, keywords: []string{"balance", "how much money", "available funds", "余额", "多少钱"}},
}

// matchRoutes 返回消息命中的工具名称。
func matchRoutes(message string) []string {
	lower := strings.ToLower(message)
	var out []string
	for _, r := range routes {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				out = append(out, r.tool)
				break
			}
		}
	}
	return out
}

// fallback 在模型不可用时直接调用工具并用模板组织回答。
type fallback struct {
	executor  *tools.Executor
	knowledge knowledge.Provider
}

func (f fallback) respond(ctx context.Context, message string, ec tools.ExecutionContext, cause *llm.UpstreamError) string {
	var b strings.Builder
	if notice := degradationNotice(cause); notice != "" {
		b.WriteString(notice)
		b.WriteString("\n\n")
	}

	if ec.CallerID == "" || f.executor == nil {
		b.WriteString(f.guidance(message))
		return b.String()
	}

	selected := matchRoutes(message)
	if len(selected) == 0 {
		b.WriteString("Here is a quick snapshot of your accounts.\n")
		selected = []string{tools.GetTransactionSummary, tools.GetLinkedAccounts}
	}
	for i, name := range selected {
		if i > 0 {
			b.WriteString("\n")
		}
		result, err := f.executor.Execute(ctx, name, nil, ec)
		if err != nil {
			result = tools.Result{Success: false, Error: err.Error()}
		}
		b.WriteString(renderResult(name, result))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (f fallback) guidance(message string) string {
	var b strings.Builder
	b.WriteString("I can help with balances, recent transactions, spending insights, saved recipients and investment options once you sign in.")
	if f.knowledge != nil {
		for _, s := range f.knowledge.Query(message) {
			b.WriteString("\n- ")
			b.WriteString(s.Title)
			b.WriteString(": ")
			b.WriteString(s.Content)
		}
	}
	return b.String()
}

func degradationNotice(cause *llm.UpstreamError) string {
	if cause == nil {
		return ""
	}
	if cause.Misconfigured() {
		return WarningPrefix + fmt.Sprintf("The AI assistant is not configured correctly (%s). Showing live account data instead.", cause.Kind)
	}
	return WarningPrefix + "The AI assistant is temporarily unavailable. Showing live account data instead."
}

func renderResult(name string, result tools.Result) string {
	if !result.Success {
		return fmt.Sprintf("I couldn't load %s right now: %s\n", toolLabel(name), result.Error)
	}
	switch data := result.Data.(type) {
	case bank.Balance:
		line := fmt.Sprintf("Your available balance is %s.", formatMoney(data.Available, data.Currency))
		if data.Pending > 0 {
			line += fmt.Sprintf(" Pending: %s.", formatMoney(data.Pending, data.Currency))
		}
		return line + "\n"
	case bank.TransactionSummary:
		return renderSummary(data)
	case map[string]any:
		return renderCollection(name, data)
	default:
		return fmt.Sprintf("%s loaded.\n", toolLabel(name))
	}
}

func renderSummary(s bank.TransactionSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Over the last %d days you received %s and spent %s across %d transactions.\n",
		s.PeriodDays, formatMoney(s.TotalIn, s.Currency), formatMoney(s.TotalOut, s.Currency), s.Count)
	categories := make([]string, 0, len(s.ByCategory))
	for c := range s.ByCategory {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool {
		return s.ByCategory[categories[i]] > s.ByCategory[categories[j]]
	})
	if len(categories) > 3 {
		categories = categories[:3]
	}
	for _, c := range categories {
		fmt.Fprintf(&b, "- %s: %s\n", c, formatMoney(s.ByCategory[c], s.Currency))
	}
	return b.String()
}

func renderCollection(name string, data map[string]any) string {
	var b strings.Builder
	switch name {
	case tools.GetRecentTransactions:
		txs, _ := data["transactions"].([]bank.Transaction)
		if len(txs) == 0 {
			return "No transactions were found in your bank history.\n"
		}
		b.WriteString("Your recent transactions:\n")
		for _, tx := range txs {
			sign := "-"
			if tx.Type == bank.TransactionCredit {
				sign = "+"
			}
			label := fallbackText(tx.Description, tx.Category)
			if tx.RecipientName != "" {
				label += " to " + tx.RecipientName
			}
			fmt.Fprintf(&b, "- %s %s%s %s\n", tx.CreatedAt.Format("2006-01-02"), sign, formatMoney(tx.Amount, tx.Currency), label)
		}
	case tools.GetSavedRecipients:
		recipients, _ := data["recipients"].([]bank.Recipient)
		if len(recipients) == 0 {
			return "You have no saved recipients yet.\n"
		}
		b.WriteString("Your saved recipients:\n")
		for _, r := range recipients {
			fmt.Fprintf(&b, "- %s", r.Name)
			if r.Network != "" {
				fmt.Fprintf(&b, " (%s)", r.Network)
			}
			b.WriteString("\n")
		}
	case tools.GetLinkedAccounts:
		accounts, _ := data["accounts"].([]bank.LinkedAccount)
		if len(accounts) == 0 {
			return "You have no linked accounts.\n"
		}
		b.WriteString("Linked accounts:\n")
		for _, a := range accounts {
			fmt.Fprintf(&b, "- %s at %s (%s)\n", a.Name, a.Institution, a.Type)
		}
	case tools.GetInvestmentOptions:
		options, _ := data["options"].([]bank.InvestmentOption)
		b.WriteString("Available investment options:\n")
		for _, o := range options {
			fmt.Fprintf(&b, "- %s: %.1f%% APY, %s risk, minimum %s\n", o.Name, o.APY, o.RiskLevel, formatMoney(o.MinimumAmount, "USD"))
		}
		if holdings, _ := data["holdings"].([]bank.Investment); len(holdings) > 0 {
			fmt.Fprintf(&b, "You currently hold %d position(s).\n", len(holdings))
		}
	default:
		fmt.Fprintf(&b, "%s loaded.\n", toolLabel(name))
	}
	return b.String()
}

func toolLabel(name string) string {
	return strings.ReplaceAll(strings.TrimPrefix(name, "get_"), "_", " ")
}

// formatMoney 以千位分隔符输出两位小数金额。
func formatMoney(amount float64, currency string) string {
	negative := amount < 0
	cents := int64(math.Round(math.Abs(amount) * 100))
	whole := strconv.FormatInt(cents/100, 10)
	for i := len(whole) - 3; i > 0; i -= 3 {
		whole = whole[:i] + "," + whole[i:]
	}
	out := fmt.Sprintf("$%s.%02d", whole, cents%100)
	if negative {
		out = "-" + out
	}
	if currency != "" && currency != "USD" {
		out += " " + currency
	}
	return out
}
