package agent

import (
	"regexp"
	"strings"
	"unicode"
)

// FilteredMarker 替换被识别为提示注入的片段。
const FilteredMarker = "[filtered]"

// DefaultMaxMessageLength 是清洗后消息的默认最大字符数。
const DefaultMaxMessageLength = 1000

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(?:all\s+)?(?:the\s+)?(?:previous|prior|above|earlier)\s+(?:instructions|prompts|messages|rules)`),
	regexp.MustCompile(`(?i)disregard\s+(?:all\s+)?(?:the\s+)?(?:previous|prior|above|earlier)\s+(?:instructions|prompts|messages|rules)`),
	regexp.MustCompile(`(?i)forget\s+(?:everything|all)(?:\s+(?:you\s+know|above|before))?`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(?:an?\s+)?[a-z]+`),
	regexp.MustCompile(`(?i)pretend\s+(?:to\s+be|you\s+are)`),
	regexp.MustCompile(`(?i)act\s+as\s+(?:an?\s+)?(?:admin|administrator|developer|system|root)`),
	regexp.MustCompile(`(?i)(?:system|developer)\s+prompt`),
	regexp.MustCompile(`(?i)</?\s*(?:system|assistant|instructions?)\s*>`),
	regexp.MustCompile(`忽略(?:之前|以上|前面|上面)的?(?:所有)?(?:指令|提示|规则)`),
}

// Sanitize 替换注入片段、去除控制字符，并把结果截断到 maxLen 个字符。
func Sanitize(message string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, message)

	// 替换可能拼出新的匹配，循环直到稳定。
	for i := 0; i < 4; i++ {
		next := cleaned
		for _, p := range injectionPatterns {
			next = p.ReplaceAllString(next, FilteredMarker)
		}
		if next == cleaned {
			break
		}
		cleaned = next
	}

	cleaned = strings.TrimSpace(cleaned)
	if runes := []rune(cleaned); len(runes) > maxLen {
		cleaned = string(runes[:maxLen])
	}
	return cleaned
}

var onchainTriggers = []string{
	"check onchain",
	"check on-chain",
	"check on chain",
	"onchain transactions",
	"on-chain transactions",
	"search blockchain",
	"search the blockchain",
	"look on the blockchain",
	"查链上",
	"查询链上",
	"链上交易",
	"链上记录",
}

// ExplicitOnchainRequest 报告消息是否明确要求查询链上数据。
func ExplicitOnchainRequest(message string) bool {
	lower := strings.ToLower(message)
	for _, trigger := range onchainTriggers {
		if strings.Contains(lower, trigger) {
			return true
		}
	}
	return false
}
