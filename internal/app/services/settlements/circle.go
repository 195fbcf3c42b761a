package settlements

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/solpos/service_layer/internal/app/domain/settlement"
	"github.com/solpos/service_layer/internal/httputil"
)

// CircleConfig configures the Circle business account client.
type CircleConfig struct {
	APIKey     string
	BaseURL    string
	WalletID   string
	HTTPClient *http.Client
}

// Circle pays out to wire recipients from a Circle business wallet.
type Circle struct {
	client   *httputil.Client
	walletID string
}

var _ Provider = (*Circle)(nil)

func NewCircle(cfg CircleConfig) *Circle {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api-sandbox.circle.com"
	}
	wallet := cfg.WalletID
	if wallet == "" {
		wallet = "default"
	}
	return &Circle{
		client: httputil.NewClient(httputil.ClientConfig{
			BaseURL:    base,
			Headers:    map[string]string{"Authorization": "Bearer " + cfg.APIKey},
			Timeout:    15 * time.Second,
			HTTPClient: cfg.HTTPClient,
		}),
		walletID: wallet,
	}
}

func (c *Circle) Name() settlement.Provider { return settlement.ProviderCircle }

type circleEndpoint struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type circleAmount struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type circlePayout struct {
	IdempotencyKey string            `json:"idempotencyKey"`
	Source         circleEndpoint    `json:"source"`
	Destination    circleEndpoint    `json:"destination"`
	Amount         circleAmount      `json:"amount"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

func (c *Circle) Payout(ctx context.Context, req PayoutRequest) (res PayoutResult, err error) {
	start := time.Now()
	defer func() { observe(settlement.ProviderCircle, "payout", start, err) }()

	body := circlePayout{
		IdempotencyKey: req.Ref,
		Source:         circleEndpoint{Type: "wallet", ID: c.walletID},
		Destination:    circleEndpoint{Type: "wire", ID: req.RecipientID},
		Amount: circleAmount{
			Amount:   fmt.Sprintf("%.2f", centsToAmount(req.AmountCents)),
			Currency: strings.ToUpper(req.Currency),
		},
		Metadata: map[string]string{"invoiceRef": req.Ref, "merchantId": req.MerchantID},
	}
	raw, err := c.client.Do(ctx, http.MethodPost, "/v1/businessAccount/payouts", body, nil)
	if err != nil {
		return PayoutResult{}, providerError(settlement.ProviderCircle, "payout", err)
	}

	data := gjson.GetBytes(raw, "data")
	id := data.Get("id").String()
	if id == "" {
		return PayoutResult{}, &ProviderError{Provider: settlement.ProviderCircle, Operation: "payout", Message: "response has no payout id"}
	}
	amount := req.AmountCents
	if v := data.Get("amount.amount"); v.Exists() {
		amount = amountToCents(v.Float())
	}
	return PayoutResult{
		ProviderTxID: id,
		Status:       circleStatus(data.Get("status").String()),
		AmountCents:  amount,
		FeeCents:     amountToCents(data.Get("fees.amount").Float()),
		TrackingURL:  c.client.BaseURL() + "/payouts/" + id,
		Metadata:     map[string]string{"created": data.Get("createDate").String()},
	}, nil
}

func (c *Circle) Status(ctx context.Context, id string) (status settlement.Status, err error) {
	start := time.Now()
	defer func() { observe(settlement.ProviderCircle, "status", start, err) }()

	raw, err := c.client.Do(ctx, http.MethodGet, "/v1/businessAccount/payouts/"+id, nil, nil)
	if err != nil {
		return "", providerError(settlement.ProviderCircle, "status", err)
	}
	return circleStatus(gjson.GetBytes(raw, "data.status").String()), nil
}

func circleStatus(s string) settlement.Status {
	switch strings.ToLower(s) {
	case "complete", "completed":
		return settlement.StatusCompleted
	case "failed":
		return settlement.StatusFailed
	case "":
		return settlement.StatusPending
	default:
		return settlement.StatusProcessing
	}
}
