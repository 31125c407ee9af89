package bank

import "time"

// Profile 描述一个银行客户档案。
type Profile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email,omitempty"`
	Tier        string    `json:"tier,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Balance 是账户余额快照。
type Balance struct {
	ProfileID string    `json:"profileId"`
	Available float64   `json:"available"`
	Pending   float64   `json:"pending"`
	Currency  string    `json:"currency"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LinkedAccount 是客户绑定的外部银行账户或链上钱包。
type LinkedAccount struct {
	ID            string `json:"id"`
	ProfileID     string `json:"profileId"`
	Institution   string `json:"institution"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	Mask          string `json:"mask,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
	Network       string `json:"network,omitempty"`
}

// IsWallet 判断是否为链上钱包。
func (a LinkedAccount) IsWallet() bool {
	return a.Type == AccountTypeWallet && a.WalletAddress != ""
}

// 账户类型。
const (
	AccountTypeChecking = "checking"
	AccountTypeSavings  = "savings"
	AccountTypeWallet   = "wallet"
)

// 交易方向。
const (
	TransactionDebit  = "debit"
	TransactionCredit = "credit"
)

// Transaction 是一笔入账或出账记录，RecipientName 由收款人关联得出。
type Transaction struct {
	ID            string    `json:"id"`
	ProfileID     string    `json:"profileId"`
	Type          string    `json:"type"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	Category      string    `json:"category,omitempty"`
	Description   string    `json:"description,omitempty"`
	RecipientID   string    `json:"recipientId,omitempty"`
	RecipientName string    `json:"recipientName,omitempty"`
	Network       string    `json:"network,omitempty"`
	TxHash        string    `json:"txHash,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Recipient 是客户保存的收款人。
type Recipient struct {
	ID            string `json:"id"`
	ProfileID     string `json:"profileId"`
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
	Network       string `json:"network,omitempty"`
}

// InvestmentOption 是平台提供的理财产品，不属于任何客户。
type InvestmentOption struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	RiskLevel     string  `json:"riskLevel"`
	APY           float64 `json:"apy"`
	MinimumAmount float64 `json:"minimumAmount"`
	Description   string  `json:"description,omitempty"`
}

// Investment 是客户持有的理财头寸。
type Investment struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profileId"`
	OptionID  string    `json:"optionId"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}
