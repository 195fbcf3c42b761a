package settlements

import (
	"context"
	"errors"
	"time"

	"github.com/solpos/service_layer/internal/app/domain/settlement"
	"github.com/solpos/service_layer/internal/app/metrics"
	"github.com/solpos/service_layer/internal/httputil"
)

// PayoutRequest asks a provider to move fiat for one invoice.
type PayoutRequest struct {
	Ref         string
	MerchantID  string
	AmountCents int64
	Currency    string
	RecipientID string
}

// PayoutResult is what the provider accepted.
type PayoutResult struct {
	ProviderTxID string
	Status       settlement.Status
	AmountCents  int64
	FeeCents     int64
	ExchangeRate float64
	TrackingURL  string
	Metadata     map[string]string
}

// Provider is a fiat payout rail.
type Provider interface {
	Name() settlement.Provider
	Payout(ctx context.Context, req PayoutRequest) (PayoutResult, error)
	// Status reports the provider's current view of a payout.
	Status(ctx context.Context, providerTxID string) (settlement.Status, error)
}

// ProviderError carries the provider's own description of a rejected call.
type ProviderError struct {
	Provider   settlement.Provider
	Operation  string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return string(e.Provider) + " " + e.Operation + " failed: " + e.Message
}

func providerError(p settlement.Provider, op string, err error) error {
	var se *httputil.StatusError
	if errors.As(err, &se) {
		return &ProviderError{Provider: p, Operation: op, StatusCode: se.StatusCode, Message: se.Message()}
	}
	return &ProviderError{Provider: p, Operation: op, Message: err.Error()}
}

func observe(p settlement.Provider, op string, start time.Time, err error) {
	metrics.RecordUpstream(string(p), op, time.Since(start), err)
}

func centsToAmount(cents int64) float64 {
	return float64(cents) / 100
}

func amountToCents(v float64) int64 {
	if v < 0 {
		return int64(v*100 - 0.5)
	}
	return int64(v*100 + 0.5)
}
