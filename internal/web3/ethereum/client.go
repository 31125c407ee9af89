package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"OpenMCP-Bank/internal/web3"
)

const (
	defaultScanBlocks = 64
	maxTransfers      = 50
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Network    string
	RPCURL     string
	Notes      string
	ScanBlocks int
}

// chainReader mirrors the subset of ethclient methods used for lookups.
type chainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*coretypes.Block, error)
}

// Client implements web3.Client for EVM compatible chains.
type Client struct {
	network    string
	notes      string
	scanBlocks int

	mu      sync.Mutex
	reader  chainReader
	eth     *ethclient.Client
	chainID *big.Int
}

var _ web3.Client = (*Client)(nil)

// NewClient dials the configured RPC endpoint.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	client := newClient(cfg, eth)
	client.eth = eth
	return client, nil
}

func newClient(cfg Config, reader chainReader) *Client {
	scan := cfg.ScanBlocks
	if scan <= 0 {
		scan = defaultScanBlocks
	}
	return &Client{
		network:    strings.ToLower(strings.TrimSpace(cfg.Network)),
		notes:      cfg.Notes,
		scanBlocks: scan,
		reader:     reader,
	}
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.reader = nil
}

func (c *Client) backend() (chainReader, error) {
	if c == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader == nil {
		return nil, errors.New("以太坊客户端已关闭")
	}
	return c.reader, nil
}

func (c *Client) resolveChainID(ctx context.Context, reader chainReader) (*big.Int, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	id, err := reader.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	c.mu.Lock()
	c.chainID = id
	c.mu.Unlock()
	return id, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	reader, err := c.backend()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	chainID, err := c.resolveChainID(ctx, reader)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	blockNumber, err := reader.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		Network:     c.network,
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// RecentTransfers scans the latest blocks backwards and returns transactions
// sent from or to address, newest first.
func (c *Client) RecentTransfers(ctx context.Context, address common.Address, limit int) ([]web3.Transfer, error) {
	reader, err := c.backend()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > maxTransfers {
		limit = maxTransfers
	}
	chainID, err := c.resolveChainID(ctx, reader)
	if err != nil {
		return nil, err
	}
	head, err := reader.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取最新区块高度失败: %w", err)
	}

	signer := coretypes.LatestSignerForChainID(chainID)
	transfers := make([]web3.Transfer, 0, limit)
	for scanned := 0; scanned < c.scanBlocks && len(transfers) < limit; scanned++ {
		if uint64(scanned) > head {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		number := head - uint64(scanned)
		block, err := reader.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			return nil, fmt.Errorf("获取区块 %d 失败: %w", number, err)
		}
		txs := block.Transactions()
		for i := len(txs) - 1; i >= 0 && len(transfers) < limit; i-- {
			if transfer, ok := matchTransfer(signer, block, txs[i], address); ok {
				transfers = append(transfers, transfer)
			}
		}
	}
	return transfers, nil
}

func matchTransfer(signer coretypes.Signer, block *coretypes.Block, tx *coretypes.Transaction, address common.Address) (web3.Transfer, bool) {
	from, err := coretypes.Sender(signer, tx)
	if err != nil {
		return web3.Transfer{}, false
	}
	to := tx.To()
	outgoing := from == address
	incoming := to != nil && *to == address
	if !outgoing && !incoming {
		return web3.Transfer{}, false
	}

	direction := web3.DirectionIn
	switch {
	case outgoing && incoming:
		direction = web3.DirectionSelf
	case outgoing:
		direction = web3.DirectionOut
	}
	transfer := web3.Transfer{
		Hash:        tx.Hash().Hex(),
		From:        from.Hex(),
		ValueWei:    tx.Value().String(),
		Direction:   direction,
		BlockNumber: block.NumberU64(),
		Timestamp:   time.Unix(int64(block.Time()), 0).UTC(),
	}
	if to != nil {
		transfer.To = to.Hex()
	}
	return transfer, true
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
