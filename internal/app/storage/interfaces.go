package storage

import (
	"context"
	"errors"
	"time"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
	"github.com/solpos/service_layer/internal/app/domain/merchant"
	"github.com/solpos/service_layer/internal/app/domain/settlement"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a unique key is already taken.
	ErrConflict = errors.New("record conflict")
	// ErrInvalidTransition is returned when a guarded status update does not
	// match the stored status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// MerchantStore persists merchants and their members.
type MerchantStore interface {
	CreateMerchant(ctx context.Context, m merchant.Merchant) (merchant.Merchant, error)
	UpdateMerchant(ctx context.Context, m merchant.Merchant) (merchant.Merchant, error)
	GetMerchant(ctx context.Context, id string) (merchant.Merchant, error)

	AddMember(ctx context.Context, member merchant.Member) (merchant.Member, error)
	ListMemberships(ctx context.Context, userID string) ([]merchant.Member, error)
	// SetDefaultMerchant flags merchantID as the user's default and clears the others.
	SetDefaultMerchant(ctx context.Context, userID, merchantID string) error
}

// Transition is a guarded invoice status change.
type Transition struct {
	Ref    string
	To     invoice.Status
	TxHash string
	Reason string
	At     time.Time
}

// InvoiceStore persists invoices, their payment rows and receipts.
type InvoiceStore interface {
	// CreateInvoice stores the invoice and its payment row. Ref and Reference are unique.
	CreateInvoice(ctx context.Context, inv invoice.Invoice) (invoice.Invoice, error)
	GetInvoiceByRef(ctx context.Context, ref string) (invoice.Invoice, error)
	ListInvoices(ctx context.Context, filter invoice.Filter) ([]invoice.Invoice, error)
	// ListPendingInvoices returns pending invoices of every merchant created at or after since, oldest first.
	// A zero since means no lower bound.
	ListPendingInvoices(ctx context.Context, since time.Time, limit int) ([]invoice.Invoice, error)
	// TransitionInvoice applies t only if the stored status allows it. A tx
	// hash confirms at most one invoice; reuse returns ErrConflict.
	TransitionInvoice(ctx context.Context, t Transition) (invoice.Invoice, error)

	CreateReceipt(ctx context.Context, r invoice.Receipt) (invoice.Receipt, error)
	GetReceipt(ctx context.Context, invoiceID string) (invoice.Receipt, error)
}

// SettlementStore persists fiat payouts.
type SettlementStore interface {
	// CreateSettlement stores a payout. An invoice holds at most one active
	// payout; a second one returns ErrConflict.
	CreateSettlement(ctx context.Context, s settlement.Settlement) (settlement.Settlement, error)
	UpdateSettlement(ctx context.Context, s settlement.Settlement) (settlement.Settlement, error)
	GetSettlement(ctx context.Context, id string) (settlement.Settlement, error)
	ListSettlements(ctx context.Context, merchantID string, limit int) ([]settlement.Settlement, error)
	// ListOpenSettlements returns payouts that are neither completed nor failed.
	ListOpenSettlements(ctx context.Context, limit int) ([]settlement.Settlement, error)
	// ActiveSettlement returns the invoice's pending, processing or completed
	// payout, or ErrNotFound.
	ActiveSettlement(ctx context.Context, invoiceID string) (settlement.Settlement, error)

	// UpdatePaymentSettlement copies the payout fields onto its payment row.
	UpdatePaymentSettlement(ctx context.Context, ps settlement.PaymentSettlement) error
	GetPaymentSettlement(ctx context.Context, paymentID string) (settlement.PaymentSettlement, error)
}
