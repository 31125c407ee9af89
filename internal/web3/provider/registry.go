package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"OpenMCP-Bank/internal/config"
	"OpenMCP-Bank/internal/web3"
	"OpenMCP-Bank/internal/web3/ethereum"
)

// ErrUnknownNetwork 表示请求的网络未配置。
var ErrUnknownNetwork = errors.New("未配置的区块链网络")

// Registry manages a set of chain clients keyed by network name.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]web3.Client)
	closeAll := func() {
		for _, c := range clients {
			c.Close()
		}
	}
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		if chainType != "evm" {
			closeAll()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
		scan := chain.ScanBlocks
		if scan <= 0 {
			scan = cfg.ScanBlocks
		}
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Network:    name,
			RPCURL:     chain.RPCURL,
			Notes:      chain.Description,
			ScanBlocks: scan,
		})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		clients[name] = client
	}

	defaultChain := strings.ToLower(strings.TrimSpace(cfg.DefaultChain))
	if len(clients) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		if defaultChain == "" {
			defaultChain = "ethereum"
		}
		client, err := ethereum.NewClient(ctx, ethereum.Config{Network: defaultChain, RPCURL: cfg.RPCURL, ScanBlocks: cfg.ScanBlocks})
		if err != nil {
			return nil, err
		}
		clients[defaultChain] = client
	}

	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}
	registry, err := NewStaticRegistry(defaultChain, clients)
	if err != nil {
		closeAll()
		return nil, err
	}
	return registry, nil
}

// NewStaticRegistry 用现成的客户端构建注册表，defaultChain 为空时取字典序第一个。
func NewStaticRegistry(defaultChain string, clients map[string]web3.Client) (*Registry, error) {
	normalised := make(map[string]web3.Client, len(clients))
	for name, client := range clients {
		normalised[strings.ToLower(strings.TrimSpace(name))] = client
	}
	r := &Registry{clients: normalised}
	if defaultChain == "" {
		if names := r.Chains(); len(names) > 0 {
			defaultChain = names[0]
		}
	}
	defaultChain = strings.ToLower(defaultChain)
	if _, ok := normalised[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	r.defaultChain = defaultChain
	return r, nil
}

// DefaultChain returns the name used when a lookup omits the network.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = r.defaultChain
	}
	client, ok := r.clients[name]
	return client, ok
}

// RecentTransfers 在指定网络上查询与地址相关的最近交易。
func (r *Registry) RecentTransfers(ctx context.Context, network, address string, limit int) ([]web3.Transfer, error) {
	client, ok := r.Client(network)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
	}
	if !web3.ValidAddress(address) {
		return nil, fmt.Errorf("无效的钱包地址: %s", address)
	}
	return client.RecentTransfers(ctx, common.HexToAddress(address), limit)
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
