package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions 对应 configs/chain.yaml 的结构。
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition 描述单条链的端点。键名即网络名，例如 ethereum、polygon。
type ChainDefinition struct {
	Type        string `yaml:"type"`
	RPCURL      string `yaml:"rpc_url"`
	Description string `yaml:"description"`
	ScanBlocks  int    `yaml:"scan_blocks"`
}

// LoadChainDefinitions 解析链配置文件，路径为空时返回空集合。
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}
	return ParseChainDefinitions(content)
}

// ParseChainDefinitions 解析 YAML 内容，网络名统一转为小写。
func ParseChainDefinitions(content []byte) (ChainDefinitions, error) {
	var raw ChainDefinitions
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	defs := ChainDefinitions{Chains: make(map[string]ChainDefinition, len(raw.Chains))}
	for name, def := range raw.Chains {
		defs.Chains[strings.ToLower(strings.TrimSpace(name))] = def
	}
	return defs, nil
}
