package web3

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ChainSnapshot 是链的简要元数据。
type ChainSnapshot struct {
	Network     string `json:"network"`
	ChainID     string `json:"chainId"`
	BlockNumber string `json:"blockNumber"`
	Notes       string `json:"notes,omitempty"`
}

// Transfer 是与某个地址相关的一笔链上交易。
type Transfer struct {
	Hash        string    `json:"hash"`
	From        string    `json:"from"`
	To          string    `json:"to,omitempty"`
	ValueWei    string    `json:"valueWei"`
	Direction   string    `json:"direction"`
	BlockNumber uint64    `json:"blockNumber"`
	Timestamp   time.Time `json:"timestamp"`
}

// Direction 取值。
const (
	DirectionIn   = "in"
	DirectionOut  = "out"
	DirectionSelf = "self"
)

// Client 定义只读的链访问能力。
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	RecentTransfers(ctx context.Context, address common.Address, limit int) ([]Transfer, error)
	Close()
}

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidAddress 判断字符串是否为带 0x 前缀的 20 字节十六进制地址。
func ValidAddress(address string) bool {
	address = strings.TrimSpace(address)
	return addressPattern.MatchString(address) && common.IsHexAddress(address)
}
