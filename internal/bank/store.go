package bank

import (
	"context"
	"time"

	xerrors "OpenMCP-Bank/internal/errors"
)

// Store 是关系型银行数据服务的只读视图，所有查询都按 profileID 限定范围。
type Store interface {
	GetProfile(ctx context.Context, profileID string) (Profile, error)
	GetBalance(ctx context.Context, profileID string) (Balance, error)
	ListLinkedAccounts(ctx context.Context, profileID string) ([]LinkedAccount, error)
	// ListTransactions 按创建时间倒序返回最多 limit 条记录。
	ListTransactions(ctx context.Context, profileID string, limit int) ([]Transaction, error)
	ListTransactionsSince(ctx context.Context, profileID string, since time.Time) ([]Transaction, error)
	ListRecipients(ctx context.Context, profileID string) ([]Recipient, error)
	ListInvestmentOptions(ctx context.Context) ([]InvestmentOption, error)
	ListInvestments(ctx context.Context, profileID string) ([]Investment, error)
}

// ErrProfileNotFound 表示档案或其余额不存在。
func ErrProfileNotFound(profileID string) error {
	return xerrors.New(xerrors.CodeNotFound, "profile not found", xerrors.WithMetadata("profile_id", profileID))
}

// FindRecipientByName 在客户的收款人中按名称（忽略大小写）查找。
func FindRecipientByName(ctx context.Context, store Store, profileID, name string) (Recipient, bool, error) {
	recipients, err := store.ListRecipients(ctx, profileID)
	if err != nil {
		return Recipient{}, false, err
	}
	for _, r := range recipients {
		if equalFoldTrim(r.Name, name) {
			return r, true, nil
		}
	}
	return Recipient{}, false, nil
}

// FindRecipientByID 在客户的收款人中按 ID 查找。
func FindRecipientByID(ctx context.Context, store Store, profileID, id string) (Recipient, bool, error) {
	recipients, err := store.ListRecipients(ctx, profileID)
	if err != nil {
		return Recipient{}, false, err
	}
	for _, r := range recipients {
		if r.ID == id {
			return r, true, nil
		}
	}
	return Recipient{}, false, nil
}
