package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"OpenMCP-Bank/internal/config"
	"OpenMCP-Bank/internal/web3"
)

type stubClient struct {
	network string
	closed  bool
	lastArg common.Address
}

func (s *stubClient) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{Network: s.network}, nil
}

func (s *stubClient) RecentTransfers(_ context.Context, address common.Address, _ int) ([]web3.Transfer, error) {
	s.lastArg = address
	return []web3.Transfer{{Hash: "0x1", From: address.Hex()}}, nil
}

func (s *stubClient) Close() { s.closed = true }

func TestStaticRegistryRouting(t *testing.T) {
	eth := &stubClient{network: "ethereum"}
	poly := &stubClient{network: "polygon"}
	registry, err := NewStaticRegistry("", map[string]web3.Client{"Ethereum": eth, "polygon": poly})
	if err != nil {
		t.Fatalf("NewStaticRegistry: %v", err)
	}
	if registry.DefaultChain() != "ethereum" {
		t.Fatalf("unexpected default chain: %s", registry.DefaultChain())
	}

	addr := "0x71C7656EC7ab88b098defB751B7401B5f6d8976F"
	if _, err := registry.RecentTransfers(context.Background(), "", addr, 5); err != nil {
		t.Fatalf("RecentTransfers default: %v", err)
	}
	if eth.lastArg != common.HexToAddress(addr) {
		t.Fatalf("default lookup did not reach ethereum client")
	}
	if _, err := registry.RecentTransfers(context.Background(), "POLYGON", addr, 5); err != nil || poly.lastArg == (common.Address{}) {
		t.Fatalf("polygon lookup failed: %v", err)
	}
	if _, err := registry.RecentTransfers(context.Background(), "solana", addr, 5); !errors.Is(err, ErrUnknownNetwork) {
		t.Fatalf("expected unknown network, got %v", err)
	}
	if _, err := registry.RecentTransfers(context.Background(), "ethereum", "not-an-address", 5); err == nil {
		t.Fatalf("expected invalid address to fail")
	}

	registry.Close()
	if !eth.closed || !poly.closed || len(registry.Chains()) != 0 {
		t.Fatalf("close did not release clients")
	}
}

func TestStaticRegistryUnknownDefault(t *testing.T) {
	if _, err := NewStaticRegistry("bsc", map[string]web3.Client{"ethereum": &stubClient{}}); err == nil {
		t.Fatalf("expected missing default chain to fail")
	}
}

func TestNewRegistryRequiresEndpoints(t *testing.T) {
	if _, err := NewRegistry(context.Background(), config.Web3Config{}); err == nil {
		t.Fatalf("expected registry without endpoints to fail")
	}
}
