// Package testutil provides an in-memory Solana ledger for tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/solpos/service_layer/internal/solana"
)

// Payer is the fee payer recorded in every scripted transaction.
const Payer = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"

// Ledger answers signature and transaction lookups from scripted payments.
type Ledger struct {
	mu      sync.Mutex
	sigs    map[string][]solana.SignatureInfo
	txs     map[string]*solana.Transaction
	sigErr  error
	txErr   error
	lookups int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{sigs: map[string][]solana.SignatureInfo{}, txs: map[string]*solana.Transaction{}}
}

// GetSignaturesForAddress returns the signatures recorded for address, newest first.
func (l *Ledger) GetSignaturesForAddress(_ context.Context, address solana.PublicKey, opts solana.SignaturesOptions) ([]solana.SignatureInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lookups++
	if l.sigErr != nil {
		return nil, l.sigErr
	}
	out := l.sigs[address.String()]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// GetTransaction returns the scripted transaction or nil when unknown.
func (l *Ledger) GetTransaction(_ context.Context, sig string) (*solana.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.txErr != nil {
		return nil, l.txErr
	}
	return l.txs[sig], nil
}

// Pay records a transfer of amount units of mint to owner that carries
// reference as a read-only account.
func (l *Ledger) Pay(sig, reference, owner, mint string, amount uint64, failed bool) error {
	errField := "null"
	info := solana.SignatureInfo{Signature: sig, ConfirmationStatus: "confirmed"}
	if failed {
		errField = `{"InstructionError":[0,"Custom"]}`
		info.Err = json.RawMessage(errField)
	}
	raw := fmt.Sprintf(`{
	  "slot": 1,
	  "meta": {
	    "err": %s,
	    "fee": 5000,
	    "preBalances": [10, 0, 0, 1],
	    "postBalances": [5, 0, 0, 1],
	    "preTokenBalances": [
	      {"accountIndex": 2, "mint": %q, "owner": %q, "uiTokenAmount": {"amount": "0", "decimals": 6}}
	    ],
	    "postTokenBalances": [
	      {"accountIndex": 2, "mint": %q, "owner": %q, "uiTokenAmount": {"amount": "%d", "decimals": 6}}
	    ]
	  },
	  "transaction": {
	    "signatures": [%q],
	    "message": {"accountKeys": [%q, "src", "dst", %q]}
	  }
	}`, errField, mint, owner, mint, owner, amount, sig, Payer, reference)
	var tx solana.Transaction
	if err := json.Unmarshal([]byte(raw), &tx); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sigs[reference] = append([]solana.SignatureInfo{info}, l.sigs[reference]...)
	l.txs[sig] = &tx
	return nil
}

// Alias makes reference report the signatures already recorded for from.
func (l *Ledger) Alias(reference, from string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sigs[reference] = l.sigs[from]
}

// FailSignatures makes signature lookups return err; nil restores them.
func (l *Ledger) FailSignatures(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sigErr = err
}

// FailTransactions makes transaction lookups return err; nil restores them.
func (l *Ledger) FailTransactions(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txErr = err
}

// Lookups counts signature queries.
func (l *Ledger) Lookups() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lookups
}
