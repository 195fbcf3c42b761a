package invoice

import (
	"fmt"
	"time"
)

// Status is the payment state of an invoice.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusSettled   Status = "settled"
	StatusError     Status = "error"
)

// ReasonExpired marks invoices that were never paid in time.
const ReasonExpired = "expired"

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusSettled, StatusError:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusError
}

// CanTransition reports whether from -> to is allowed:
// pending -> confirmed -> settled, and pending|confirmed -> error.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusError
	case StatusConfirmed:
		return to == StatusSettled || to == StatusError
	}
	return false
}

// Invoice is a charge presented to a customer.
type Invoice struct {
	ID          string `json:"id"`
	MerchantID  string `json:"merchant_id"`
	PaymentID   string `json:"payment_id"`
	Ref         string `json:"ref"`
	Reference   string `json:"reference,omitempty"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`

	// PaymentMint is the SPL mint the customer pays with; the native mint means SOL.
	PaymentMint string `json:"payment_mint"`
	// TokenAmount is the expected transfer in base units of PaymentMint.
	TokenAmount uint64 `json:"token_amount"`
	Recipient   string `json:"recipient"`

	ProductIDs    []string   `json:"product_ids,omitempty"`
	Status        Status     `json:"status"`
	TxHash        string     `json:"tx_hash,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	SettledAt     *time.Time `json:"settled_at,omitempty"`
}

// AmountBRL renders the amount with two decimals.
func (i Invoice) AmountBRL() string {
	return FormatCents(i.AmountCents)
}

// Expired reports whether a pending invoice passed its deadline.
func (i Invoice) Expired(now time.Time) bool {
	return i.Status == StatusPending && !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// FormatCents renders cents as "12.34".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// Receipt is the immutable record written when a payment is confirmed.
type Receipt struct {
	ID        string      `json:"id"`
	InvoiceID string      `json:"invoice_id"`
	PaymentID string      `json:"payment_id"`
	Data      ReceiptData `json:"receipt_data"`
	CreatedAt time.Time   `json:"created_at"`
}

// ReceiptData is the receipt payload.
type ReceiptData struct {
	Ref       string    `json:"ref"`
	Amount    string    `json:"amount"`
	Status    Status    `json:"status"`
	TxHash    string    `json:"txHash"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is published on every status change.
type Event struct {
	Ref        string    `json:"ref"`
	MerchantID string    `json:"merchant_id"`
	Status     Status    `json:"status"`
	TxHash     string    `json:"tx_hash,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// EventFor builds the event describing inv's current state.
func EventFor(inv Invoice) Event {
	return Event{
		Ref:        inv.Ref,
		MerchantID: inv.MerchantID,
		Status:     inv.Status,
		TxHash:     inv.TxHash,
		Reason:     inv.FailureReason,
		At:         inv.UpdatedAt,
	}
}

// Filter narrows invoice listings.
type Filter struct {
	MerchantID string
	From       time.Time
	To         time.Time
	Status     Status
	Limit      int
}
