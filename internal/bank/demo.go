package bank

import (
	"fmt"
	"time"
)

// DemoDataset 生成两位演示客户的数据，交易时间以 now 为基准向前排列。
func DemoDataset(now time.Time) Dataset {
	ds := Dataset{
		Profiles: []Profile{
			{ID: "u1", DisplayName: "Jordan Lee", Email: "jordan@example.com", Tier: "premium", CreatedAt: now.AddDate(-1, 0, 0)},
			{ID: "u2", DisplayName: "Sam Rivera", Email: "sam@example.com", Tier: "standard", CreatedAt: now.AddDate(0, -6, 0)},
		},
		Balances: []Balance{
			{ProfileID: "u1", Available: 4250.75, Pending: 120.00, Currency: "USD", UpdatedAt: now},
			{ProfileID: "u2", Available: 310.20, Pending: 0, Currency: "USD", UpdatedAt: now},
		},
		LinkedAccounts: []LinkedAccount{
			{ID: "acc-u1-chk", ProfileID: "u1", Institution: "First Federal", Name: "Everyday Checking", Type: AccountTypeChecking, Mask: "4821"},
			{ID: "acc-u1-wal", ProfileID: "u1", Institution: "Self-custody", Name: "Main Wallet", Type: AccountTypeWallet, WalletAddress: "0x8ba1f109551bD432803012645Ac136ddd64DBA72", Network: "ethereum"},
			{ID: "acc-u2-sav", ProfileID: "u2", Institution: "Credit Union", Name: "Rainy Day", Type: AccountTypeSavings, Mask: "0077"},
		},
		Recipients: []Recipient{
			{ID: "rcp-u1-alice", ProfileID: "u1", Name: "Alice", Email: "alice@example.com", WalletAddress: "0x71C7656EC7ab88b098defB751B7401B5f6d8976F", Network: "ethereum"},
			{ID: "rcp-u1-bob", ProfileID: "u1", Name: "Bob", Email: "bob@example.com", WalletAddress: "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B", Network: "polygon"},
			{ID: "rcp-u2-carol", ProfileID: "u2", Name: "Carol", Email: "carol@example.com", WalletAddress: "0x4E9ce36E442e55EcD9025B9a6E0D88485d628A67", Network: "ethereum"},
		},
		InvestmentOptions: []InvestmentOption{
			{ID: "inv-treasury", Name: "Treasury Yield", Type: "bond", RiskLevel: "low", APY: 4.1, MinimumAmount: 100, Description: "Short-duration government bills"},
			{ID: "inv-index", Name: "Global Index", Type: "fund", RiskLevel: "medium", APY: 7.2, MinimumAmount: 50, Description: "Diversified equity index fund"},
			{ID: "inv-stable", Name: "Stablecoin Vault", Type: "defi", RiskLevel: "high", APY: 9.5, MinimumAmount: 10, Description: "On-chain lending of USD stablecoins"},
		},
		Investments: []Investment{
			{ID: "pos-u1-1", ProfileID: "u1", OptionID: "inv-index", Amount: 1500, Status: "active", CreatedAt: now.AddDate(0, -2, 0)},
		},
	}

	categories := []string{"groceries", "transport", "dining", "utilities", "transfer"}
	for i := 0; i < 60; i++ {
		tx := Transaction{
			ID:          fmt.Sprintf("tx-u1-%03d", i),
			ProfileID:   "u1",
			Type:        TransactionDebit,
			Amount:      float64(12+(i*7)%90) + 0.5,
			Currency:    "USD",
			Status:      "completed",
			Category:    categories[i%len(categories)],
			Description: "Card purchase",
			CreatedAt:   now.Add(-time.Duration(i*11) * time.Hour),
		}
		switch {
		case i%10 == 0:
			tx.Type = TransactionCredit
			tx.Category = "salary"
			tx.Description = "Payroll"
			tx.Amount = 2100
		case tx.Category == "transfer":
			tx.Description = "P2P transfer"
			if i%2 == 0 {
				tx.RecipientID = "rcp-u1-alice"
			} else {
				tx.RecipientID = "rcp-u1-bob"
			}
		}
		ds.Transactions = append(ds.Transactions, tx)
	}
	for i := 0; i < 4; i++ {
		ds.Transactions = append(ds.Transactions, Transaction{
			ID:          fmt.Sprintf("tx-u2-%03d", i),
			ProfileID:   "u2",
			Type:        TransactionDebit,
			Amount:      20 + float64(i),
			Currency:    "USD",
			Status:      "completed",
			Category:    "transfer",
			RecipientID: "rcp-u2-carol",
			Description: "P2P transfer",
			CreatedAt:   now.Add(-time.Duration(i*24) * time.Hour),
		})
	}
	return ds
}
