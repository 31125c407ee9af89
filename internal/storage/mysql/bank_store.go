package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"time"

	"github.com/jmoiron/sqlx"

	"OpenMCP-Bank/internal/bank"
	xerrors "OpenMCP-Bank/internal/errors"
)

// BankStore 通过 sqlx 访问关系型银行数据，实现 bank.Store。
type BankStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

var _ bank.Store = (*BankStore)(nil)

// NewBankStore 创建连接池并执行迁移。
func NewBankStore(ctx context.Context, cfg Config) (*BankStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化银行数据存储失败")
	}
	return &BankStore{db: db, timeout: cfg.QueryTimeout}, nil
}

// Close 关闭底层数据库连接。
func (s *BankStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type profileRow struct {
	ID          string         `db:"id"`
	DisplayName string         `db:"display_name"`
	Email       sql.NullString `db:"email"`
	Tier        sql.NullString `db:"tier"`
	CreatedAt   int64          `db:"created_at"`
}

type balanceRow struct {
	ProfileID string  `db:"profile_id"`
	Available float64 `db:"available"`
	Pending   float64 `db:"pending"`
	Currency  string  `db:"currency"`
	UpdatedAt int64   `db:"updated_at"`
}

type transactionRow struct {
	ID            string        `db:"id"`
	ProfileID     string        `db:"profile_id"`
	Type          string        `db:"type"`
	Amount        float64       `db:"amount"`
	Currency      string        `db:"currency"`
	Status        string        `db:"status"`
	Category      string        `db:"category"`
	Description   string        `db:"description"`
	RecipientID   string        `db:"recipient_id"`
	RecipientName string        `db:"recipient_name"`
	Network       string        `db:"network"`
	TxHash        string        `db:"tx_hash"`
	CreatedAt     sql.NullInt64 `db:"created_at"`
}

type accountRow struct {
	ID            string `db:"id"`
	ProfileID     string `db:"profile_id"`
	Institution   string `db:"institution"`
	Name          string `db:"name"`
	Type          string `db:"type"`
	Mask          string `db:"mask"`
	WalletAddress string `db:"wallet_address"`
	Network       string `db:"network"`
}

type recipientRow struct {
	ID            string `db:"id"`
	ProfileID     string `db:"profile_id"`
	Name          string `db:"name"`
	Email         string `db:"email"`
	WalletAddress string `db:"wallet_address"`
	Network       string `db:"network"`
}

type optionRow struct {
	ID            string  `db:"id"`
	Name          string  `db:"name"`
	Type          string  `db:"type"`
	RiskLevel     string  `db:"risk_level"`
	APY           float64 `db:"apy"`
	MinimumAmount float64 `db:"minimum_amount"`
	Description   string  `db:"description"`
}

type investmentRow struct {
	ID        string  `db:"id"`
	ProfileID string  `db:"profile_id"`
	OptionID  string  `db:"option_id"`
	Amount    float64 `db:"amount"`
	Status    string  `db:"status"`
	CreatedAt int64   `db:"created_at"`
}

const transactionColumns = `t.id, t.profile_id, t.type, t.amount, t.currency, t.status,
    COALESCE(t.category, '') AS category, COALESCE(t.description, '') AS description,
    COALESCE(t.recipient_id, '') AS recipient_id, COALESCE(r.name, '') AS recipient_name,
    COALESCE(t.network, '') AS network, COALESCE(t.tx_hash, '') AS tx_hash, t.created_at
    FROM transactions t
    LEFT JOIN recipients r ON r.id = t.recipient_id AND r.profile_id = t.profile_id`

// GetProfile 实现 bank.Store。
func (s *BankStore) GetProfile(ctx context.Context, profileID string) (bank.Profile, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var row profileRow
	err := s.db.GetContext(ctx, &row, `SELECT id, display_name, email, tier, created_at FROM profiles WHERE id = ?`, profileID)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return bank.Profile{}, bank.ErrProfileNotFound(profileID)
	}
	if err != nil {
		return bank.Profile{}, storageError(err, "查询客户档案失败")
	}
	return bank.Profile{
		ID:          row.ID,
		DisplayName: row.DisplayName,
		Email:       row.Email.String,
		Tier:        row.Tier.String,
		CreatedAt:   time.Unix(row.CreatedAt, 0).UTC(),
	}, nil
}

// GetBalance 实现 bank.Store。
func (s *BankStore) GetBalance(ctx context.Context, profileID string) (bank.Balance, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var row balanceRow
	err := s.db.GetContext(ctx, &row, `SELECT profile_id, available, pending, currency, updated_at FROM balances WHERE profile_id = ?`, profileID)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return bank.Balance{}, bank.ErrProfileNotFound(profileID)
	}
	if err != nil {
		return bank.Balance{}, storageError(err, "查询余额失败")
	}
	return bank.Balance{
		ProfileID: row.ProfileID,
		Available: row.Available,
		Pending:   row.Pending,
		Currency:  row.Currency,
		UpdatedAt: time.Unix(row.UpdatedAt, 0).UTC(),
	}, nil
}

// ListLinkedAccounts 实现 bank.Store。
func (s *BankStore) ListLinkedAccounts(ctx context.Context, profileID string) ([]bank.LinkedAccount, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var rows []accountRow
	err := s.db.SelectContext(ctx, &rows, `SELECT id, profile_id, institution, name, type,
    COALESCE(mask, '') AS mask, COALESCE(wallet_address, '') AS wallet_address, COALESCE(network, '') AS network
    FROM linked_accounts WHERE profile_id = ? ORDER BY id`, profileID)
	if err != nil {
		return nil, storageError(err, "查询绑定账户失败")
	}
	accounts := make([]bank.LinkedAccount, 0, len(rows))
	for _, row := range rows {
		accounts = append(accounts, bank.LinkedAccount(row))
	}
	return accounts, nil
}

// ListTransactions 实现 bank.Store。
func (s *BankStore) ListTransactions(ctx context.Context, profileID string, limit int) ([]bank.Transaction, error) {
	if limit <= 0 {
		limit = 10
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var rows []transactionRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+transactionColumns+`
    WHERE t.profile_id = ? ORDER BY t.created_at DESC, t.id DESC LIMIT ?`, profileID, limit)
	if err != nil {
		return nil, storageError(err, "查询交易记录失败")
	}
	return toTransactions(rows), nil
}

// ListTransactionsSince 实现 bank.Store。
func (s *BankStore) ListTransactionsSince(ctx context.Context, profileID string, since time.Time) ([]bank.Transaction, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var rows []transactionRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+transactionColumns+`
    WHERE t.profile_id = ? AND t.created_at >= ? ORDER BY t.created_at DESC, t.id DESC`, profileID, since.Unix())
	if err != nil {
		return nil, storageError(err, "查询交易记录失败")
	}
	return toTransactions(rows), nil
}

// ListRecipients 实现 bank.Store。
func (s *BankStore) ListRecipients(ctx context.Context, profileID string) ([]bank.Recipient, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var rows []recipientRow
	err := s.db.SelectContext(ctx, &rows, `SELECT id, profile_id, name,
    COALESCE(email, '') AS email, COALESCE(wallet_address, '') AS wallet_address, COALESCE(network, '') AS network
    FROM recipients WHERE profile_id = ? ORDER BY name`, profileID)
	if err != nil {
		return nil, storageError(err, "查询收款人失败")
	}
	recipients := make([]bank.Recipient, 0, len(rows))
	for _, row := range rows {
		recipients = append(recipients, bank.Recipient(row))
	}
	return recipients, nil
}

// ListInvestmentOptions 实现 bank.Store。
func (s *BankStore) ListInvestmentOptions(ctx context.Context) ([]bank.InvestmentOption, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var rows []optionRow
	err := s.db.SelectContext(ctx, &rows, `SELECT id, name, type, risk_level, apy, minimum_amount,
    COALESCE(description, '') AS description FROM investment_options ORDER BY apy`)
	if err != nil {
		return nil, storageError(err, "查询理财产品失败")
	}
	options := make([]bank.InvestmentOption, 0, len(rows))
	for _, row := range rows {
		options = append(options, bank.InvestmentOption(row))
	}
	return options, nil
}

// ListInvestments 实现 bank.Store。
func (s *BankStore) ListInvestments(ctx context.Context, profileID string) ([]bank.Investment, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var rows []investmentRow
	err := s.db.SelectContext(ctx, &rows, `SELECT id, profile_id, option_id, amount, status, created_at
    FROM investments WHERE profile_id = ? ORDER BY created_at DESC`, profileID)
	if err != nil {
		return nil, storageError(err, "查询理财持仓失败")
	}
	out := make([]bank.Investment, 0, len(rows))
	for _, row := range rows {
		out = append(out, bank.Investment{
			ID:        row.ID,
			ProfileID: row.ProfileID,
			OptionID:  row.OptionID,
			Amount:    row.Amount,
			Status:    row.Status,
			CreatedAt: time.Unix(row.CreatedAt, 0).UTC(),
		})
	}
	return out, nil
}

func toTransactions(rows []transactionRow) []bank.Transaction {
	out := make([]bank.Transaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, bank.Transaction{
			ID:            row.ID,
			ProfileID:     row.ProfileID,
			Type:          row.Type,
			Amount:        row.Amount,
			Currency:      row.Currency,
			Status:        row.Status,
			Category:      row.Category,
			Description:   row.Description,
			RecipientID:   row.RecipientID,
			RecipientName: row.RecipientName,
			Network:       row.Network,
			TxHash:        row.TxHash,
			CreatedAt:     unixOrZero(row.CreatedAt),
		})
	}
	return out
}

func storageError(err error, message string) error {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, message)
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message)
}
