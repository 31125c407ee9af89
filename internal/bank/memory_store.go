package bank

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Dataset 是内存存储的初始数据。
type Dataset struct {
	Profiles          []Profile
	Balances          []Balance
	LinkedAccounts    []LinkedAccount
	Transactions      []Transaction
	Recipients        []Recipient
	InvestmentOptions []InvestmentOption
	Investments       []Investment
}

// MemoryStore 是 Store 的内存实现，适合本地开发与测试。
type MemoryStore struct {
	mu   sync.RWMutex
	data Dataset
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 使用给定数据集初始化内存存储。
func NewMemoryStore(ds Dataset) *MemoryStore {
	return &MemoryStore{data: ds}
}

// AddTransaction 追加一笔交易。
func (s *MemoryStore) AddTransaction(tx Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Transactions = append(s.data.Transactions, tx)
}

// GetProfile 实现 Store 接口。
func (s *MemoryStore) GetProfile(ctx context.Context, profileID string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.data.Profiles {
		if p.ID == profileID {
			return p, nil
		}
	}
	return Profile{}, ErrProfileNotFound(profileID)
}

// GetBalance 实现 Store 接口。
func (s *MemoryStore) GetBalance(ctx context.Context, profileID string) (Balance, error) {
	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.data.Balances {
		if b.ProfileID == profileID {
			return b, nil
		}
	}
	return Balance{}, ErrProfileNotFound(profileID)
}

// ListLinkedAccounts 实现 Store 接口。
func (s *MemoryStore) ListLinkedAccounts(ctx context.Context, profileID string) ([]LinkedAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LinkedAccount, 0)
	for _, a := range s.data.LinkedAccounts {
		if a.ProfileID == profileID {
			out = append(out, a)
		}
	}
	return out, nil
}

// ListTransactions 实现 Store 接口。
func (s *MemoryStore) ListTransactions(ctx context.Context, profileID string, limit int) ([]Transaction, error) {
	txs, err := s.ListTransactionsSince(ctx, profileID, time.Time{})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

// ListTransactionsSince 实现 Store 接口，收款人名称按收款人表补全。
func (s *MemoryStore) ListTransactionsSince(ctx context.Context, profileID string, since time.Time) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make(map[string]string)
	for _, r := range s.data.Recipients {
		if r.ProfileID == profileID {
			names[r.ID] = r.Name
		}
	}
	out := make([]Transaction, 0)
	for _, tx := range s.data.Transactions {
		if tx.ProfileID != profileID || tx.CreatedAt.Before(since) {
			continue
		}
		if name, ok := names[tx.RecipientID]; ok {
			tx.RecipientName = name
		}
		out = append(out, tx)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListRecipients 实现 Store 接口。
func (s *MemoryStore) ListRecipients(ctx context.Context, profileID string) ([]Recipient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Recipient, 0)
	for _, r := range s.data.Recipients {
		if r.ProfileID == profileID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListInvestmentOptions 实现 Store 接口。
func (s *MemoryStore) ListInvestmentOptions(ctx context.Context) ([]InvestmentOption, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]InvestmentOption(nil), s.data.InvestmentOptions...), nil
}

// ListInvestments 实现 Store 接口。
func (s *MemoryStore) ListInvestments(ctx context.Context, profileID string) ([]Investment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Investment, 0)
	for _, inv := range s.data.Investments {
		if inv.ProfileID == profileID {
			out = append(out, inv)
		}
	}
	return out, nil
}
