package operation

import "testing"

func TestParsePayment(t *testing.T) {
	cases := []struct {
		input  string
		amount string
		name   string
	}{
		{"Send $50 to Alice", "50", "Alice"},
		{"Sure! I can help you send $12.50 to bob.", "12.50", "bob"},
		{"SEND $1,200 TO Carol?", "1200", "Carol"},
		{"please send $ 5 to O'Neil now", "5", "O'Neil"},
	}
	for _, tc := range cases {
		parsed := Parse(tc.input)
		if parsed == nil {
			t.Fatalf("expected %q to parse", tc.input)
		}
		if parsed.Type != TypePayment || parsed.Data["amount"] != tc.amount || parsed.Data["recipientName"] != tc.name {
			t.Fatalf("unexpected parse of %q: %+v", tc.input, parsed)
		}
	}
}

func TestParseNoMatch(t *testing.T) {
	for _, input := range []string{
		"Your balance is $4,250.75.",
		"Transfer 50 dollars to Alice",
		"send money to Alice",
		"给 Alice 转 50 美元",
		"",
	} {
		if parsed := Parse(input); parsed != nil {
			t.Fatalf("expected no operation for %q, got %+v", input, parsed)
		}
	}
}
