package web3

import "testing"

func TestValidAddress(t *testing.T) {
	cases := map[string]bool{
		"0x71C7656EC7ab88b098defB751B7401B5f6d8976F":  true,
		" 0x71C7656EC7ab88b098defB751B7401B5f6d8976F": true,
		"71C7656EC7ab88b098defB751B7401B5f6d8976F":    false,
		"0x71C7656EC7ab88b098defB751B7401B5f6d8976":   false,
		"0xZZC7656EC7ab88b098defB751B7401B5f6d8976F":  false,
		"":                                            false,
	}
	for input, want := range cases {
		if got := ValidAddress(input); got != want {
			t.Fatalf("ValidAddress(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestParseChainDefinitionsNormalisesNames(t *testing.T) {
	defs, err := ParseChainDefinitions([]byte(`
chains:
  Ethereum:
    type: evm
    rpc_url: https://eth.example
    scan_blocks: 32
  polygon:
    rpc_url: https://polygon.example
`))
	if err != nil {
		t.Fatalf("ParseChainDefinitions: %v", err)
	}
	eth, ok := defs.Chains["ethereum"]
	if !ok || eth.RPCURL != "https://eth.example" || eth.ScanBlocks != 32 {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
	if _, ok := defs.Chains["polygon"]; !ok {
		t.Fatalf("polygon missing: %+v", defs)
	}
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadChainDefinitions("")
	if err != nil || len(defs.Chains) != 0 {
		t.Fatalf("expected empty definitions, got %+v %v", defs, err)
	}
}
