package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider 定义知识库检索的通用接口。
type Provider interface {
	Query(text string) []Snippet
}

// Snippet 描述可供引用的一段产品知识。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// StaticProvider 通过加载 JSON 文件提供静态知识检索能力。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// DefaultProvider 返回内置的通用指引。
func DefaultProvider(maxResults int) *StaticProvider {
	return NewStaticProvider(builtin, maxResults)
}

// LoadStaticProvider 从 JSON 文件加载知识条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Query 按关键字与标签做子串匹配，没有关键字的条目总是命中。
func (p *StaticProvider) Query(text string) []Snippet {
	if p == nil {
		return nil
	}

	text = strings.ToLower(strings.TrimSpace(text))

	results := make([]Snippet, 0, p.maxResults)
	for _, item := range p.items {
		if matches(item, text) {
			results = append(results, item)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	return results
}

func matches(snippet Snippet, text string) bool {
	if len(snippet.Keywords) == 0 && len(snippet.Tags) == 0 {
		return true
	}
	for _, list := range [][]string{snippet.Keywords, snippet.Tags} {
		for _, keyword := range list {
			normalized := strings.ToLower(strings.TrimSpace(keyword))
			if normalized != "" && strings.Contains(text, normalized) {
				return true
			}
		}
	}
	return false
}

var builtin = []Snippet{
	{
		Title:    "Checking your balance",
		Content:  "Sign in and ask \"What's my balance?\" to see available and pending funds across your linked accounts.",
		Keywords: []string{"balance", "funds", "余额"},
	},
	{
		Title:    "Sending money",
		Content:  "Payments are never sent automatically. After you ask to send money you review the amount, recipient, network and fee, then confirm that the transfer is real and irreversible.",
		Keywords: []string{"send", "pay", "transfer", "转账", "付款"},
	},
	{
		Title:    "Investing",
		Content:  "Investment products range from low-risk treasury yield to higher-risk on-chain vaults. Ask about investment options once signed in to see current rates.",
		Keywords: []string{"invest", "yield", "投资", "理财"},
	},
	{
		Title:    "On-chain activity",
		Content:  "Bank history comes from our records. To search the blockchain for your linked wallet, explicitly ask to \"check onchain\".",
		Keywords: []string{"onchain", "on-chain", "blockchain", "wallet", "链上", "钱包"},
	},
	{
		Title:   "Getting started",
		Content: "Sign in to ask about your balance, recent transactions, spending insights, saved recipients or investment options.",
	},
}

// Ensure StaticProvider 实现 Provider 接口。
var _ Provider = (*StaticProvider)(nil)
