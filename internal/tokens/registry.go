// Package tokens is the registry of SPL tokens accepted for payment and settlement.
package tokens

import (
	_ "embed"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed tokens.yaml
var defaultTokens []byte

// NativeMint is the wrapped SOL mint. Payments in SOL carry no spl-token.
const NativeMint = "So11111111111111111111111111111111111111112"

// Token describes one SPL token.
type Token struct {
	Symbol   string `yaml:"symbol" json:"symbol"`
	Name     string `yaml:"name" json:"name"`
	Mint     string `yaml:"mint" json:"mint"`
	Decimals int    `yaml:"decimals" json:"decimals"`
	Peg      string `yaml:"peg,omitempty" json:"peg,omitempty"`
}

// IsStablecoin reports whether the token tracks a fiat currency.
func (t Token) IsStablecoin() bool { return t.Peg != "" }

// IsNative reports whether the token is SOL.
func (t Token) IsNative() bool { return t.Mint == NativeMint }

type clusterFile struct {
	DefaultPayment string   `yaml:"default_payment"`
	USDCFallback   string   `yaml:"usdc_fallback"`
	Settlement     []string `yaml:"settlement"`
	Tokens         []Token  `yaml:"tokens"`
}

// Registry answers token lookups for one cluster.
type Registry struct {
	cluster    string
	tokens     []Token
	byMint     map[string]Token
	bySymbol   map[string]Token
	payment    string
	settlement []string
	usdc       string
}

// Load parses the embedded registry, or path when non-empty, for cluster.
// "mainnet-beta" is treated as "mainnet".
func Load(cluster, path string) (*Registry, error) {
	data := defaultTokens
	if path != "" {
		raw, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("read tokens file: %w", err)
		}
		data = raw
	}
	return Parse(cluster, data)
}

// Parse builds a registry from YAML.
func Parse(cluster string, data []byte) (*Registry, error) {
	if cluster == "mainnet-beta" {
		cluster = "mainnet"
	}
	var files map[string]clusterFile
	if err := yaml.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("parse tokens: %w", err)
	}
	file, ok := files[cluster]
	if !ok {
		return nil, fmt.Errorf("cluster %q not in token registry", cluster)
	}

	r := &Registry{
		cluster:    cluster,
		byMint:     make(map[string]Token, len(file.Tokens)),
		bySymbol:   make(map[string]Token, len(file.Tokens)),
		payment:    file.DefaultPayment,
		settlement: file.Settlement,
	}
	for _, t := range file.Tokens {
		if t.Mint == "" || t.Symbol == "" {
			return nil, fmt.Errorf("token entry missing mint or symbol: %+v", t)
		}
		if t.Decimals < 0 || t.Decimals > 18 {
			return nil, fmt.Errorf("token %s: decimals out of range", t.Symbol)
		}
		r.tokens = append(r.tokens, t)
		r.byMint[t.Mint] = t
		r.bySymbol[strings.ToUpper(t.Symbol)] = t
	}
	if _, ok := r.BySymbol(r.payment); !ok {
		return nil, fmt.Errorf("default payment token %q not registered", r.payment)
	}
	r.usdc = file.USDCFallback
	if t, ok := r.BySymbol("USDC"); ok {
		r.usdc = t.Mint
	}
	return r, nil
}

// Cluster returns the normalized cluster name.
func (r *Registry) Cluster() string { return r.cluster }

// All returns every registered token in file order.
func (r *Registry) All() []Token {
	out := make([]Token, len(r.tokens))
	copy(out, r.tokens)
	return out
}

func (r *Registry) ByMint(mint string) (Token, bool) {
	t, ok := r.byMint[mint]
	return t, ok
}

// BySymbol is case-insensitive.
func (r *Registry) BySymbol(symbol string) (Token, bool) {
	t, ok := r.bySymbol[strings.ToUpper(symbol)]
	return t, ok
}

// Resolve accepts either a mint address or a symbol.
func (r *Registry) Resolve(mintOrSymbol string) (Token, bool) {
	if t, ok := r.ByMint(mintOrSymbol); ok {
		return t, true
	}
	return r.BySymbol(mintOrSymbol)
}

// DefaultPayment is the token invoices are priced in (BRZ, or tBRZ on devnet).
func (r *Registry) DefaultPayment() Token {
	t, _ := r.BySymbol(r.payment)
	return t
}

// SettlementTokens lists the tokens a merchant can settle into.
func (r *Registry) SettlementTokens() []Token {
	out := make([]Token, 0, len(r.settlement))
	for _, s := range r.settlement {
		if t, ok := r.BySymbol(s); ok {
			out = append(out, t)
		}
	}
	return out
}

// IsStablecoin reports whether mint is a registered stablecoin.
func (r *Registry) IsStablecoin(mint string) bool {
	t, ok := r.ByMint(mint)
	return ok && t.IsStablecoin()
}

// USDCMint returns the USDC mint, falling back to the devnet faucet mint.
func (r *Registry) USDCMint() string { return r.usdc }

// =============================================================================
// Amount conversion
// =============================================================================

// FromCents converts a fiat amount in cents to base units of a token pegged to
// that fiat one to one.
func FromCents(cents int64, t Token) (uint64, error) {
	if cents < 0 {
		return 0, fmt.Errorf("negative amount")
	}
	v := new(big.Int).SetInt64(cents)
	switch {
	case t.Decimals >= 2:
		v.Mul(v, pow10(t.Decimals-2))
	default:
		// round up so the merchant is never underpaid
		d := pow10(2 - t.Decimals)
		q, m := new(big.Int).QuoRem(v, d, new(big.Int))
		if m.Sign() > 0 {
			q.Add(q, big.NewInt(1))
		}
		v = q
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("amount overflows token units")
	}
	return v.Uint64(), nil
}

// ParseUnits converts a decimal string such as "12.5" to base units.
func ParseUnits(amount string, decimals int) (uint64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" || strings.HasPrefix(amount, "-") {
		return 0, fmt.Errorf("invalid amount %q", amount)
	}
	whole, frac, _ := strings.Cut(amount, ".")
	if len(frac) > decimals {
		return 0, fmt.Errorf("amount %q has more than %d decimals", amount, decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))
	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return 0, fmt.Errorf("invalid amount %q", amount)
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("amount %q overflows", amount)
	}
	return v.Uint64(), nil
}

// FormatUnits renders base units as a decimal string without trailing zeros.
func FormatUnits(units uint64, decimals int) string {
	s := new(big.Int).SetUint64(units).String()
	if decimals == 0 {
		return s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	whole, frac := s[:len(s)-decimals], strings.TrimRight(s[len(s)-decimals:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
