package settlements

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/solpos/service_layer/internal/app/domain/settlement"
	"github.com/solpos/service_layer/internal/httputil"
)

// WiseConfig configures the Wise client.
type WiseConfig struct {
	APIToken    string
	BaseURL     string
	ProfileID   string
	RecipientID string
	// Demo simulates BRL transfers, which the sandbox cannot complete.
	Demo       bool
	HTTPClient *http.Client
}

// Wise pays out through a quote, transfer and balance funding.
type Wise struct {
	client    *httputil.Client
	profileID string
	recipient string
	demo      bool
}

var _ Provider = (*Wise)(nil)

func NewWise(cfg WiseConfig) *Wise {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.sandbox.transferwise.tech"
	}
	return &Wise{
		client: httputil.NewClient(httputil.ClientConfig{
			BaseURL:    base,
			Headers:    map[string]string{"Authorization": "Bearer " + cfg.APIToken},
			Timeout:    20 * time.Second,
			HTTPClient: cfg.HTTPClient,
		}),
		profileID: cfg.ProfileID,
		recipient: cfg.RecipientID,
		demo:      cfg.Demo,
	}
}

func (w *Wise) Name() settlement.Provider { return settlement.ProviderWise }

func (w *Wise) Payout(ctx context.Context, req PayoutRequest) (res PayoutResult, err error) {
	start := time.Now()
	defer func() { observe(settlement.ProviderWise, "payout", start, err) }()

	currency := strings.ToUpper(req.Currency)
	amount := centsToAmount(req.AmountCents)

	quote, err := w.client.Do(ctx, http.MethodPost, "/v3/profiles/"+w.profileID+"/quotes", map[string]interface{}{
		"sourceCurrency": currency,
		"targetCurrency": currency,
		"sourceAmount":   amount,
		"payOut":         "BANK_TRANSFER",
	}, nil)
	if err != nil {
		return PayoutResult{}, providerError(settlement.ProviderWise, "quote", err)
	}
	quoteID := gjson.GetBytes(quote, "id").String()
	rate := gjson.GetBytes(quote, "rate").Float()
	fee := quoteFee(quote)

	if w.demo && currency == "BRL" {
		if fee == 0 {
			fee = amount * 0.01
		}
		return PayoutResult{
			ProviderTxID: "demo-wise-" + uuid.NewString(),
			Status:       settlement.StatusCompleted,
			AmountCents:  req.AmountCents,
			FeeCents:     amountToCents(fee),
			ExchangeRate: rate,
			Metadata:     map[string]string{"demo": "true", "quote_id": quoteID},
		}, nil
	}

	target := w.recipient
	if req.RecipientID != "" {
		target = req.RecipientID
	}
	targetAccount, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return PayoutResult{}, &ProviderError{Provider: settlement.ProviderWise, Operation: "transfer", Message: "recipient id must be numeric"}
	}

	transfer, err := w.client.Do(ctx, http.MethodPost, "/v1/transfers", map[string]interface{}{
		"targetAccount":         targetAccount,
		"quoteUuid":             quoteID,
		"customerTransactionId": customerTransactionID(req.Ref),
		"details":               map[string]string{"reference": "Invoice " + req.Ref},
	}, nil)
	if err != nil {
		return PayoutResult{}, providerError(settlement.ProviderWise, "transfer", err)
	}
	transferID := gjson.GetBytes(transfer, "id").String()
	if transferID == "" {
		return PayoutResult{}, &ProviderError{Provider: settlement.ProviderWise, Operation: "transfer", Message: "response has no transfer id"}
	}

	funding, err := w.client.Do(ctx, http.MethodPost, "/v3/profiles/"+w.profileID+"/transfers/"+transferID+"/payments",
		map[string]string{"type": "BALANCE"}, nil)
	if err != nil {
		return PayoutResult{}, providerError(settlement.ProviderWise, "fund", err)
	}

	status := wiseStatus(gjson.GetBytes(transfer, "status").String())
	if strings.EqualFold(gjson.GetBytes(funding, "status").String(), "REJECTED") {
		status = settlement.StatusFailed
	}
	paid := req.AmountCents
	if v := gjson.GetBytes(transfer, "targetValue"); v.Exists() {
		paid = amountToCents(v.Float())
	}
	return PayoutResult{
		ProviderTxID: transferID,
		Status:       status,
		AmountCents:  paid,
		FeeCents:     amountToCents(fee),
		ExchangeRate: rate,
		TrackingURL:  w.client.BaseURL() + "/transfers/" + transferID,
		Metadata:     map[string]string{"quote_id": quoteID, "funding": gjson.GetBytes(funding, "status").String()},
	}, nil
}

func (w *Wise) Status(ctx context.Context, id string) (status settlement.Status, err error) {
	start := time.Now()
	defer func() { observe(settlement.ProviderWise, "status", start, err) }()

	if strings.HasPrefix(id, "demo-wise-") {
		return settlement.StatusCompleted, nil
	}
	raw, err := w.client.Do(ctx, http.MethodGet, "/v1/transfers/"+id, nil, nil)
	if err != nil {
		return "", providerError(settlement.ProviderWise, "status", err)
	}
	return wiseStatus(gjson.GetBytes(raw, "status").String()), nil
}

// customerTransactionID is stable per invoice ref. Wise answers a repeated
// id with the transfer it already created.
func customerTransactionID(ref string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("solpos/wise/"+strings.ToUpper(ref))).String()
}

// quoteFee reads the fee from either the legacy or the payment-options quote shape.
func quoteFee(quote []byte) float64 {
	if v := gjson.GetBytes(quote, "fee"); v.Exists() {
		return v.Float()
	}
	return gjson.GetBytes(quote, "paymentOptions.0.fee.total").Float()
}

func wiseStatus(s string) settlement.Status {
	switch strings.ToLower(s) {
	case "outgoing_payment_sent":
		return settlement.StatusCompleted
	case "cancelled", "funds_refunded", "bounced_back", "charged_back":
		return settlement.StatusFailed
	case "", "incoming_payment_waiting":
		return settlement.StatusPending
	default:
		return settlement.StatusProcessing
	}
}
