package bank

import (
	"math"
	"sort"
	"strings"
	"time"
)

// TransactionSummary 汇总一段时间内的资金流动。
type TransactionSummary struct {
	ProfileID     string             `json:"profileId"`
	PeriodDays    int                `json:"periodDays"`
	Currency      string             `json:"currency"`
	TotalIn       float64            `json:"totalIn"`
	TotalOut      float64            `json:"totalOut"`
	Net           float64            `json:"net"`
	Count         int                `json:"count"`
	ByCategory    map[string]float64 `json:"byCategory"`
	TopRecipients []RecipientTotal   `json:"topRecipients"`
}

// RecipientTotal 是单个收款人的累计支出。
type RecipientTotal struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

const maxTopRecipients = 3

// Summarize 基于交易列表计算汇总，仅统计属于 profileID 且未失败的交易。
func Summarize(profileID string, periodDays int, txs []Transaction) TransactionSummary {
	summary := TransactionSummary{
		ProfileID:  profileID,
		PeriodDays: periodDays,
		ByCategory: make(map[string]float64),
	}
	byRecipient := make(map[string]float64)
	for _, tx := range txs {
		if tx.ProfileID != profileID || strings.EqualFold(tx.Status, "failed") {
			continue
		}
		if summary.Currency == "" {
			summary.Currency = tx.Currency
		}
		summary.Count++
		switch tx.Type {
		case TransactionCredit:
			summary.TotalIn += tx.Amount
		default:
			summary.TotalOut += tx.Amount
			category := tx.Category
			if category == "" {
				category = "other"
			}
			summary.ByCategory[category] = round2(summary.ByCategory[category] + tx.Amount)
			if tx.RecipientName != "" {
				byRecipient[tx.RecipientName] += tx.Amount
			}
		}
	}
	summary.TotalIn = round2(summary.TotalIn)
	summary.TotalOut = round2(summary.TotalOut)
	summary.Net = round2(summary.TotalIn - summary.TotalOut)

	for name, amount := range byRecipient {
		summary.TopRecipients = append(summary.TopRecipients, RecipientTotal{Name: name, Amount: round2(amount)})
	}
	sort.Slice(summary.TopRecipients, func(i, j int) bool {
		if summary.TopRecipients[i].Amount == summary.TopRecipients[j].Amount {
			return summary.TopRecipients[i].Name < summary.TopRecipients[j].Name
		}
		return summary.TopRecipients[i].Amount > summary.TopRecipients[j].Amount
	})
	if len(summary.TopRecipients) > maxTopRecipients {
		summary.TopRecipients = summary.TopRecipients[:maxTopRecipients]
	}
	if summary.Currency == "" {
		summary.Currency = "USD"
	}
	return summary
}

// SincePeriod 返回 now 往前 days 天的起始时间。
func SincePeriod(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func equalFoldTrim(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
