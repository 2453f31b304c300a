package chain

import (
	"testing"
)

func TestAllChainsRegistered(t *testing.T) {
	expectedChains := []string{"BTC", "LTC", "DOGE"}

	for _, symbol := range expectedChains {
		if !IsSupported(symbol) {
			t.Errorf("expected %s to be registered", symbol)
		}
	}
}

func TestBitcoinMainnet(t *testing.T) {
	params, ok := Get("BTC", Mainnet)
	if !ok {
		t.Fatal("BTC mainnet should be registered")
	}

	if params.Symbol != "BTC" {
		t.Errorf("Symbol = %s, want BTC", params.Symbol)
	}
	if params.Type != ChainTypeBitcoin {
		t.Errorf("Type = %s, want bitcoin", params.Type)
	}
	if params.Decimals != 8 {
		t.Errorf("Decimals = %d, want 8", params.Decimals)
	}
	if params.CoinType != 0 {
		t.Errorf("CoinType = %d, want 0", params.CoinType)
	}
	if params.DefaultPurpose != 84 {
		t.Errorf("DefaultPurpose = %d, want 84 (SegWit)", params.DefaultPurpose)
	}
	if params.Bech32HRP != "bc" {
		t.Errorf("Bech32HRP = %s, want bc", params.Bech32HRP)
	}
	if !params.SupportsSegWit {
		t.Error("BTC should support SegWit")
	}
	if !params.SupportsTaproot {
		t.Error("BTC should support Taproot")
	}
	if params.DefaultAddressType != AddressP2WPKH {
		t.Errorf("DefaultAddressType = %s, want p2wpkh", params.DefaultAddressType)
	}
}

func TestBitcoinTestnet(t *testing.T) {
	params, ok := Get("BTC", Testnet)
	if !ok {
		t.Fatal("BTC testnet should be registered")
	}

	if params.CoinType != 1 {
		t.Errorf("Testnet CoinType = %d, want 1", params.CoinType)
	}
	if params.Bech32HRP != "tb" {
		t.Errorf("Bech32HRP = %s, want tb", params.Bech32HRP)
	}
}

func TestLitecoinMainnet(t *testing.T) {
	params, ok := Get("LTC", Mainnet)
	if !ok {
		t.Fatal("LTC mainnet should be registered")
	}

	if params.CoinType != 2 {
		t.Errorf("CoinType = %d, want 2", params.CoinType)
	}
	if params.Bech32HRP != "ltc" {
		t.Errorf("Bech32HRP = %s, want ltc", params.Bech32HRP)
	}
	if !params.SupportsSegWit {
		t.Error("LTC should support SegWit")
	}
}

func TestDogecoinNoSegWit(t *testing.T) {
	params, ok := Get("DOGE", Mainnet)
	if !ok {
		t.Fatal("DOGE mainnet should be registered")
	}

	if params.CoinType != 3 {
		t.Errorf("CoinType = %d, want 3", params.CoinType)
	}
	if params.SupportsSegWit {
		t.Error("DOGE should NOT support SegWit")
	}
	if params.PubKeyHashAddrID != 0x1E {
		t.Errorf("PubKeyHashAddrID = 0x%X, want 0x1E", params.PubKeyHashAddrID)
	}
}

func TestDerivationPath(t *testing.T) {
	params, _ := Get("BTC", Mainnet)

	// m/84'/0'/0'/0/0
	path := params.DerivationPath(0, 0, 0)
	expected := []uint32{
		84 + 0x80000000,
		0 + 0x80000000,
		0 + 0x80000000,
		0,
		0,
	}

	if len(path) != len(expected) {
		t.Fatalf("path length = %d, want %d", len(path), len(expected))
	}

	for i, v := range expected {
		if path[i] != v {
			t.Errorf("path[%d] = %d, want %d", i, path[i], v)
		}
	}
}

func TestDerivationPathString(t *testing.T) {
	tests := []struct {
		symbol   string
		network  Network
		account  uint32
		change   uint32
		index    uint32
		expected string
	}{
		{"BTC", Mainnet, 0, 0, 0, "m/84'/0'/0'/0/0"},
		{"BTC", Mainnet, 0, 0, 5, "m/84'/0'/0'/0/5"},
		{"BTC", Mainnet, 1, 0, 0, "m/84'/0'/1'/0/0"},
		{"BTC", Mainnet, 0, 1, 0, "m/84'/0'/0'/1/0"},
		{"BTC", Testnet, 0, 0, 0, "m/84'/1'/0'/0/0"},
		{"LTC", Mainnet, 0, 0, 0, "m/84'/2'/0'/0/0"},
		{"DOGE", Mainnet, 0, 0, 0, "m/44'/3'/0'/0/0"},
	}

	for _, tc := range tests {
		params, ok := Get(tc.symbol, tc.network)
		if !ok {
			t.Errorf("%s %s not registered", tc.symbol, tc.network)
			continue
		}

		path := params.DerivationPathString(tc.account, tc.change, tc.index)
		if path != tc.expected {
			t.Errorf("%s %s: path = %s, want %s", tc.symbol, tc.network, path, tc.expected)
		}
	}
}

func TestListChains(t *testing.T) {
	chains := List()
	if len(chains) != 3 {
		t.Errorf("expected 3 chains, got %d", len(chains))
	}
}

func TestListByType(t *testing.T) {
	btcChains := ListByType(ChainTypeBitcoin)
	if len(btcChains) != 3 {
		t.Errorf("expected 3 bitcoin-type chains, got %d: %v", len(btcChains), btcChains)
	}
}

func TestUnsupportedChain(t *testing.T) {
	if IsSupported("INVALID") {
		t.Error("INVALID should not be supported")
	}

	_, ok := Get("INVALID", Mainnet)
	if ok {
		t.Error("Get(INVALID) should return false")
	}
}

func TestAllTestnetsRegistered(t *testing.T) {
	chains := []string{"BTC", "LTC", "DOGE"}

	for _, symbol := range chains {
		_, ok := Get(symbol, Testnet)
		if !ok {
			t.Errorf("%s testnet should be registered", symbol)
		}
	}
}
