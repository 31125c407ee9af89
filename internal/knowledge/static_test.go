package knowledge

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStaticProviderQuery(t *testing.T) {
	p := NewStaticProvider([]Snippet{
		{Title: "fees", Keywords: []string{"fee"}},
		{Title: "wallets", Tags: []string{"wallet"}},
		{Title: "general"},
	}, 2)

	got := p.Query("What FEE applies to my wallet?")
	if len(got) != 2 || got[0].Title != "fees" || got[1].Title != "wallets" {
		t.Fatalf("unexpected snippets: %+v", got)
	}
	got = p.Query("hello")
	if len(got) != 1 || got[0].Title != "general" {
		t.Fatalf("expected only catch-all snippet: %+v", got)
	}
}

func TestDefaultProviderChinese(t *testing.T) {
	got := DefaultProvider(3).Query("我的余额是多少")
	if len(got) == 0 || got[0].Title != "Checking your balance" {
		t.Fatalf("unexpected snippets: %+v", got)
	}
}

func TestLoadStaticProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.json")
	if err := os.WriteFile(path, []byte(`[{"title":"t","content":"c","keywords":["k"]}]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := LoadStaticProvider(path, 1)
	if err != nil {
		t.Fatalf("LoadStaticProvider: %v", err)
	}
	if got := p.Query("k"); len(got) != 1 {
		t.Fatalf("unexpected snippets: %+v", got)
	}
	if _, err := LoadStaticProvider("", 1); err == nil {
		t.Fatalf("expected empty path to fail")
	}
}
