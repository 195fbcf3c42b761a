package solana

import (
	"errors"
	"fmt"
)

var (
	ErrTransactionFailed = errors.New("transaction failed on-chain")
	ErrMissingMeta       = errors.New("transaction meta unavailable")
	ErrReferenceMissing  = errors.New("reference not found in transaction")
	ErrRecipientMissing  = errors.New("recipient not credited by transaction")
)

// AmountError reports a transfer smaller than expected.
type AmountError struct {
	Want uint64
	Got  uint64
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("amount too low: want %d got %d", e.Want, e.Got)
}

// Expectation is what a matching payment must do.
type Expectation struct {
	Reference PublicKey
	Recipient PublicKey
	// Mint is empty or the native mint for SOL transfers.
	Mint string
	// Amount in base units; zero accepts any positive credit.
	Amount uint64
}

// Verify checks tx against exp. Overpayment is accepted.
func Verify(tx *Transaction, exp Expectation, nativeMint string) (uint64, error) {
	if tx == nil || tx.Meta == nil {
		return 0, ErrMissingMeta
	}
	if tx.Failed() {
		return 0, ErrTransactionFailed
	}

	keys := tx.AccountKeys()
	if indexOf(keys, exp.Reference.String()) < 0 {
		return 0, ErrReferenceMissing
	}

	var (
		credited uint64
		err      error
	)
	if exp.Mint == "" || exp.Mint == nativeMint {
		credited, err = lamportDelta(tx, keys, exp.Recipient.String())
	} else {
		credited, err = tokenDelta(tx.Meta, exp.Recipient.String(), exp.Mint)
	}
	if err != nil {
		return 0, err
	}
	if credited == 0 {
		return 0, ErrRecipientMissing
	}
	if credited < exp.Amount {
		return credited, &AmountError{Want: exp.Amount, Got: credited}
	}
	return credited, nil
}

func lamportDelta(tx *Transaction, keys []string, recipient string) (uint64, error) {
	i := indexOf(keys, recipient)
	if i < 0 {
		return 0, ErrRecipientMissing
	}
	m := tx.Meta
	if i >= len(m.PreBalances) || i >= len(m.PostBalances) {
		return 0, fmt.Errorf("balance index %d out of range", i)
	}
	if m.PostBalances[i] <= m.PreBalances[i] {
		return 0, nil
	}
	return m.PostBalances[i] - m.PreBalances[i], nil
}

// tokenDelta sums post minus pre balances over the recipient's token accounts
// for mint. Accounts created in the transaction have no pre entry.
func tokenDelta(m *TransactionMeta, owner, mint string) (uint64, error) {
	pre := make(map[int]uint64)
	for _, b := range m.PreTokenBalances {
		if b.Owner != owner || b.Mint != mint {
			continue
		}
		v, err := b.UITokenAmount.Units()
		if err != nil {
			return 0, fmt.Errorf("parse pre balance: %w", err)
		}
		pre[b.AccountIndex] = v
	}

	var total uint64
	for _, b := range m.PostTokenBalances {
		if b.Owner != owner || b.Mint != mint {
			continue
		}
		post, err := b.UITokenAmount.Units()
		if err != nil {
			return 0, fmt.Errorf("parse post balance: %w", err)
		}
		if before := pre[b.AccountIndex]; post > before {
			total += post - before
		}
	}
	return total, nil
}

func indexOf(keys []string, want string) int {
	for i, k := range keys {
		if k == want {
			return i
		}
	}
	return -1
}
