package operation

import (
	"regexp"
	"strings"
)

// paymentPattern 只识别 "send $X to Name" 这一种英文句式。
var paymentPattern = regexp.MustCompile(`(?i)\bsend\s+\$\s?(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)\s+to\s+([A-Za-z][A-Za-z0-9_'-]*)`)

// Parse 从模型回答中识别支付意图，未匹配时返回 nil。
func Parse(answer string) *Parsed {
	m := paymentPattern.FindStringSubmatch(answer)
	if m == nil {
		return nil
	}
	return &Parsed{
		Type: TypePayment,
		Data: map[string]any{
			"amount":        strings.ReplaceAll(m[1], ",", ""),
			"recipientName": m[2],
		},
	}
}
