package tokens

import "testing"

func TestLoadMainnet(t *testing.T) {
	r, err := Load("mainnet-beta", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if r.Cluster() != "mainnet" {
		t.Fatalf("Cluster() = %s", r.Cluster())
	}
	if got := r.DefaultPayment(); got.Symbol != "BRZ" || got.Decimals != 4 {
		t.Fatalf("DefaultPayment() = %+v", got)
	}
	if got := r.USDCMint(); got != "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v" {
		t.Fatalf("USDCMint() = %s", got)
	}
	if len(r.SettlementTokens()) != 4 {
		t.Fatalf("SettlementTokens() = %v", r.SettlementTokens())
	}
	if !r.IsStablecoin("HzwqbKZw8HxMN6bF2yFZNrht3c2iXXzpKcFu7uBEDKtr") {
		t.Fatal("EURC should be a stablecoin")
	}
	if r.IsStablecoin("DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263") {
		t.Fatal("BONK is not a stablecoin")
	}
	if tok, ok := r.Resolve("usdt"); !ok || tok.Mint != "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB" {
		t.Fatalf("Resolve(usdt) = %+v %v", tok, ok)
	}
}

func TestLoadDevnet(t *testing.T) {
	r, err := Load("devnet", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if r.DefaultPayment().Symbol != "tBRZ" {
		t.Fatalf("DefaultPayment() = %+v", r.DefaultPayment())
	}
	if r.USDCMint() != "6PzmkfqSn8uoN8adp4uk6nsL8VbdRrJocpB8LxEH4pA4" {
		t.Fatalf("USDCMint() = %s", r.USDCMint())
	}
	if _, ok := r.ByMint(NativeMint); !ok {
		t.Fatal("SOL missing on devnet")
	}
}

func TestParseUnknownCluster(t *testing.T) {
	if _, err := Parse("testnet", defaultTokens); err == nil {
		t.Fatal("expected error")
	}
}

func TestFromCents(t *testing.T) {
	cases := []struct {
		cents    int64
		decimals int
		want     uint64
	}{
		{1250, 4, 125000},
		{1250, 6, 12500000},
		{1251, 1, 126},
		{100, 2, 100},
	}
	for _, tc := range cases {
		got, err := FromCents(tc.cents, Token{Decimals: tc.decimals})
		if err != nil || got != tc.want {
			t.Errorf("FromCents(%d, %d) = %d, %v; want %d", tc.cents, tc.decimals, got, err, tc.want)
		}
	}
}

func TestParseAndFormatUnits(t *testing.T) {
	cases := []struct {
		in       string
		decimals int
		units    uint64
		out      string
	}{
		{"12.5", 6, 12500000, "12.5"},
		{"0.0001", 4, 1, "0.0001"},
		{"7", 9, 7000000000, "7"},
	}
	for _, tc := range cases {
		units, err := ParseUnits(tc.in, tc.decimals)
		if err != nil || units != tc.units {
			t.Errorf("ParseUnits(%q) = %d, %v", tc.in, units, err)
		}
		if got := FormatUnits(units, tc.decimals); got != tc.out {
			t.Errorf("FormatUnits(%d) = %q, want %q", units, got, tc.out)
		}
	}
	if _, err := ParseUnits("1.23456", 4); err == nil {
		t.Error("expected precision error")
	}
}
