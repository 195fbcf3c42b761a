package settlement

import "time"

// Provider identifies a fiat payout provider.
type Provider string

const (
	ProviderCircle Provider = "circle"
	ProviderWise   Provider = "wise"
)

// Status is the payout state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Final reports whether the provider will not change the status again.
func (s Status) Final() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether the payout is in flight or done. An invoice holds at
// most one active payout; a failed one may be retried.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusProcessing || s == StatusCompleted
}

// Settlement is one fiat payout for a confirmed payment.
type Settlement struct {
	ID           string            `json:"id"`
	InvoiceID    string            `json:"invoice_id"`
	PaymentID    string            `json:"payment_id"`
	MerchantID   string            `json:"merchant_id"`
	InvoiceRef   string            `json:"invoice_ref"`
	Provider     Provider          `json:"provider"`
	ProviderTxID string            `json:"provider_tx_id"`
	Currency     string            `json:"currency"`
	AmountCents  int64             `json:"amount_cents"`
	FeeCents     int64             `json:"fee_cents"`
	ExchangeRate float64           `json:"exchange_rate,omitempty"`
	Status       Status            `json:"status"`
	RecipientID  string            `json:"recipient_id,omitempty"`
	TrackingURL  string            `json:"tracking_url,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Error        string            `json:"error,omitempty"`
	RequestedAt  time.Time         `json:"requested_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// PaymentSettlement is the latest payout mirrored onto the payment row.
type PaymentSettlement struct {
	PaymentID    string     `json:"payment_id"`
	Provider     Provider   `json:"settlement_provider"`
	SettlementID string     `json:"settlement_id"`
	ProviderTxID string     `json:"settlement_tx_id"`
	Status       Status     `json:"settlement_status"`
	Currency     string     `json:"settlement_currency"`
	AmountCents  int64      `json:"settlement_amount_cents"`
	FeeCents     int64      `json:"settlement_fee_cents"`
	RequestedAt  time.Time  `json:"settlement_requested_at"`
	CompletedAt  *time.Time `json:"settlement_completed_at,omitempty"`
}

// ForPayment projects s onto its payment row.
func (s Settlement) ForPayment() PaymentSettlement {
	return PaymentSettlement{
		PaymentID:    s.PaymentID,
		Provider:     s.Provider,
		SettlementID: s.ID,
		ProviderTxID: s.ProviderTxID,
		Status:       s.Status,
		Currency:     s.Currency,
		AmountCents:  s.AmountCents,
		FeeCents:     s.FeeCents,
		RequestedAt:  s.RequestedAt,
		CompletedAt:  s.CompletedAt,
	}
}

// Summary aggregates a merchant's payment and settlement activity.
type Summary struct {
	TotalPayments         int     `json:"totalPayments"`
	TotalVolumeBRL        float64 `json:"totalVolumeBRL"`
	HoldingCrypto         int     `json:"holdingCrypto"`
	SettledCount          int     `json:"settledCount"`
	CryptoBalanceBRL      float64 `json:"cryptoBalanceBRL"`
	SettledTotal          float64 `json:"settledTotal"`
	TotalFees             float64 `json:"totalFees"`
	SettlementSuccessRate float64 `json:"settlementSuccessRate"`
	AvgConfirmSeconds     float64 `json:"avgConfirmSeconds"`
	AvgSettlementSeconds  float64 `json:"avgSettlementSeconds"`
}
