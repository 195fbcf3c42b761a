package settlements

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
	"github.com/solpos/service_layer/internal/app/domain/merchant"
	"github.com/solpos/service_layer/internal/app/domain/settlement"
	"github.com/solpos/service_layer/internal/app/services/invoices"
	"github.com/solpos/service_layer/internal/app/storage/memory"
	svcerrors "github.com/solpos/service_layer/internal/errors"
	"github.com/solpos/service_layer/internal/tokens"
)

const wallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

type fixture struct {
	store    *memory.Store
	invoices *invoices.Service
	merchant merchant.Merchant
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	reg, err := tokens.Load("devnet", "")
	require.NoError(t, err)
	store := memory.New()
	m, err := store.CreateMerchant(context.Background(), merchant.Merchant{Name: "Padaria", WalletAddress: wallet})
	require.NoError(t, err)
	return fixture{store: store, invoices: invoices.New(store, store, invoices.Options{Tokens: reg}), merchant: m}
}

func (f fixture) confirmed(t *testing.T, cents int64, sig string) invoice.Invoice {
	t.Helper()
	inv, err := f.invoices.Create(context.Background(), f.merchant.ID, invoices.CreateRequest{AmountCents: cents})
	require.NoError(t, err)
	inv, err = f.invoices.Confirm(context.Background(), inv.Ref, sig)
	require.NoError(t, err)
	return inv
}

type recorded struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]interface{}
}

type recorder struct {
	mu    sync.Mutex
	calls []recorded
}

func (r *recorder) record(req *http.Request) {
	var body map[string]interface{}
	data, _ := io.ReadAll(req.Body)
	_ = json.Unmarshal(data, &body)
	r.mu.Lock()
	r.calls = append(r.calls, recorded{Method: req.Method, Path: req.URL.Path, Auth: req.Header.Get("Authorization"), Body: body})
	r.mu.Unlock()
}

func circleServer(t *testing.T, rec *recorder, status string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/businessAccount/payouts":
			_, _ = io.WriteString(w, `{"data":{"id":"po_1","status":"pending","amount":{"amount":"12.50","currency":"BRL"},"fees":{"amount":"0.25"},"createDate":"2024-01-01T00:00:00Z"}}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/businessAccount/payouts/po_1":
			_, _ = io.WriteString(w, `{"data":{"id":"po_1","status":"`+status+`"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"message":"unknown route"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCirclePayoutRequestShape(t *testing.T) {
	rec := &recorder{}
	srv := circleServer(t, rec, "complete")
	c := NewCircle(CircleConfig{APIKey: "key", BaseURL: srv.URL})

	res, err := c.Payout(context.Background(), PayoutRequest{Ref: "REFABC123", MerchantID: "m1", AmountCents: 1250, Currency: "brl", RecipientID: "wire-1"})
	require.NoError(t, err)
	assert.Equal(t, "po_1", res.ProviderTxID)
	assert.Equal(t, settlement.StatusPending, res.Status)
	assert.Equal(t, int64(1250), res.AmountCents)
	assert.Equal(t, int64(25), res.FeeCents)
	assert.Equal(t, srv.URL+"/payouts/po_1", res.TrackingURL)

	require.Len(t, rec.calls, 1)
	call := rec.calls[0]
	assert.Equal(t, "Bearer key", call.Auth)
	assert.Equal(t, "REFABC123", call.Body["idempotencyKey"])
	assert.Equal(t, map[string]interface{}{"type": "wallet", "id": "default"}, call.Body["source"])
	assert.Equal(t, map[string]interface{}{"type": "wire", "id": "wire-1"}, call.Body["destination"])
	assert.Equal(t, map[string]interface{}{"amount": "12.50", "currency": "BRL"}, call.Body["amount"])

	status, err := c.Status(context.Background(), "po_1")
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusCompleted, status)
}

func TestCircleErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"code":2,"message":"Invalid destination"}`)
	}))
	defer srv.Close()

	_, err := NewCircle(CircleConfig{BaseURL: srv.URL}).Payout(context.Background(), PayoutRequest{Ref: "REFABC123", AmountCents: 100, Currency: "USD"})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.Equal(t, "Invalid destination", pe.Message)
}

func wiseServer(t *testing.T, rec *recorder) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		switch {
		case r.URL.Path == "/v3/profiles/42/quotes":
			_, _ = io.WriteString(w, `{"id":"q-1","rate":1,"fee":0.5}`)
		case r.URL.Path == "/v1/transfers":
			_, _ = io.WriteString(w, `{"id":9001,"status":"processing","targetValue":99.5,"targetCurrency":"USD"}`)
		case r.URL.Path == "/v3/profiles/42/transfers/9001/payments":
			_, _ = io.WriteString(w, `{"type":"BALANCE","status":"COMPLETED"}`)
		case r.URL.Path == "/v1/transfers/9001":
			_, _ = io.WriteString(w, `{"id":9001,"status":"outgoing_payment_sent"}`)
		default:
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"errors":[{"code":"bad","message":"unexpected call"}]}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWisePayoutSequence(t *testing.T) {
	rec := &recorder{}
	srv := wiseServer(t, rec)
	w := NewWise(WiseConfig{APIToken: "tok", BaseURL: srv.URL, ProfileID: "42", RecipientID: "777"})

	res, err := w.Payout(context.Background(), PayoutRequest{Ref: "REFABC123", AmountCents: 10000, Currency: "usd"})
	require.NoError(t, err)
	assert.Equal(t, "9001", res.ProviderTxID)
	assert.Equal(t, settlement.StatusProcessing, res.Status)
	assert.Equal(t, int64(9950), res.AmountCents)
	assert.Equal(t, int64(50), res.FeeCents)

	require.Len(t, rec.calls, 3)
	assert.Equal(t, "/v3/profiles/42/quotes", rec.calls[0].Path)
	assert.Equal(t, "USD", rec.calls[0].Body["sourceCurrency"])
	assert.Equal(t, float64(100), rec.calls[0].Body["sourceAmount"])
	assert.Equal(t, "/v1/transfers", rec.calls[1].Path)
	assert.Equal(t, float64(777), rec.calls[1].Body["targetAccount"])
	assert.Equal(t, "q-1", rec.calls[1].Body["quoteUuid"])
	assert.Equal(t, map[string]interface{}{"reference": "Invoice REFABC123"}, rec.calls[1].Body["details"])
	assert.Equal(t, customerTransactionID("REFABC123"), rec.calls[1].Body["customerTransactionId"])
	assert.Equal(t, map[string]interface{}{"type": "BALANCE"}, rec.calls[2].Body)

	status, err := w.Status(context.Background(), "9001")
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusCompleted, status)
}

func TestWiseCustomerTransactionIDIsStablePerInvoice(t *testing.T) {
	rec := &recorder{}
	srv := wiseServer(t, rec)
	w := NewWise(WiseConfig{BaseURL: srv.URL, ProfileID: "42", RecipientID: "777"})

	for _, ref := range []string{"REFABC123", "refabc123", "REFXYZ789"} {
		_, err := w.Payout(context.Background(), PayoutRequest{Ref: ref, AmountCents: 100, Currency: "USD"})
		require.NoError(t, err)
	}

	var ids []interface{}
	for _, c := range rec.calls {
		if c.Path == "/v1/transfers" {
			ids = append(ids, c.Body["customerTransactionId"])
		}
	}
	require.Len(t, ids, 3)
	assert.Len(t, ids[0], 36)
	assert.Equal(t, ids[0], ids[1], "same invoice, same transaction id")
	assert.NotEqual(t, ids[0], ids[2])
}

func TestWiseDemoBRLSimulatesTransfer(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		_, _ = io.WriteString(w, `{"id":"q-2","rate":1}`)
	}))
	defer srv.Close()
	w := NewWise(WiseConfig{BaseURL: srv.URL, ProfileID: "42", Demo: true})

	res, err := w.Payout(context.Background(), PayoutRequest{Ref: "REFABC123", AmountCents: 10000, Currency: "BRL"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.ProviderTxID, "demo-wise-"))
	assert.Equal(t, settlement.StatusCompleted, res.Status)
	assert.Equal(t, int64(100), res.FeeCents, "1% of 100.00")
	assert.Equal(t, "true", res.Metadata["demo"])
	assert.Len(t, rec.calls, 1, "only the quote is requested")

	status, err := w.Status(context.Background(), res.ProviderTxID)
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusCompleted, status)
}

func TestWiseErrorDetails(t *testing.T) {
	rec := &recorder{}
	srv := wiseServer(t, rec)
	w := NewWise(WiseConfig{BaseURL: srv.URL, ProfileID: "7"})

	_, err := w.Payout(context.Background(), PayoutRequest{Ref: "REFABC123", AmountCents: 100, Currency: "EUR", RecipientID: "1"})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "quote", pe.Operation)
	assert.Equal(t, "unexpected call", pe.Message)
}

type stubProvider struct {
	name   settlement.Provider
	result PayoutResult
	err    error
	status settlement.Status
}

func (p *stubProvider) Name() settlement.Provider { return p.name }

func (p *stubProvider) Payout(context.Context, PayoutRequest) (PayoutResult, error) {
	return p.result, p.err
}

func (p *stubProvider) Status(context.Context, string) (settlement.Status, error) {
	return p.status, nil
}

func TestRequestRequiresConfirmedInvoice(t *testing.T) {
	f := newFixture(t)
	svc := New(f.store, f.invoices, nil, &stubProvider{name: settlement.ProviderWise})
	inv, err := f.invoices.Create(context.Background(), f.merchant.ID, invoices.CreateRequest{AmountCents: 500})
	require.NoError(t, err)

	_, err = svc.Request(context.Background(), f.merchant.ID, Request{Ref: inv.Ref, Provider: settlement.ProviderWise})
	se := svcerrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, http.StatusBadRequest, se.HTTPStatus)
	assert.Equal(t, "Invoice must be confirmed before settlement", se.Message)
}

func TestRequestProviderValidation(t *testing.T) {
	f := newFixture(t)
	svc := New(f.store, f.invoices, nil, nil, &stubProvider{name: settlement.ProviderWise})
	assert.Equal(t, []settlement.Provider{settlement.ProviderWise}, svc.Providers())

	_, err := svc.Request(context.Background(), f.merchant.ID, Request{Ref: "REFAAAAAA", Provider: settlement.ProviderCircle})
	assert.Equal(t, http.StatusServiceUnavailable, svcerrors.GetServiceError(err).HTTPStatus)

	_, err = svc.Request(context.Background(), f.merchant.ID, Request{Ref: "REFAAAAAA", Provider: "paypal"})
	assert.Equal(t, http.StatusBadRequest, svcerrors.GetServiceError(err).HTTPStatus)
}

func TestCompletedPayoutSettlesInvoice(t *testing.T) {
	f := newFixture(t)
	p := &stubProvider{name: settlement.ProviderWise, result: PayoutResult{ProviderTxID: "demo-wise-1", Status: settlement.StatusCompleted, AmountCents: 1250, FeeCents: 13}}
	svc := New(f.store, f.invoices, nil, p)
	inv := f.confirmed(t, 1250, "sig1")

	st, err := svc.Request(context.Background(), f.merchant.ID, Request{Ref: inv.Ref, Provider: settlement.ProviderWise})
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusCompleted, st.Status)
	assert.Equal(t, "BRL", st.Currency)
	assert.Equal(t, inv.PaymentID, st.PaymentID)
	require.NotNil(t, st.CompletedAt)

	stored, err := f.store.GetInvoiceByRef(context.Background(), inv.Ref)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusSettled, stored.Status)
}

func TestFailedPayoutKeepsInvoiceConfirmed(t *testing.T) {
	f := newFixture(t)
	p := &stubProvider{name: settlement.ProviderCircle, err: &ProviderError{Provider: settlement.ProviderCircle, Operation: "payout", Message: "insufficient funds"}}
	svc := New(f.store, f.invoices, nil, p)
	inv := f.confirmed(t, 1250, "sig1")

	_, err := svc.Request(context.Background(), f.merchant.ID, Request{Ref: inv.Ref, Provider: settlement.ProviderCircle, RecipientID: "wire-1"})
	se := svcerrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, http.StatusBadGateway, se.HTTPStatus)
	assert.Equal(t, "insufficient funds", se.Details["message"])

	stored, err := f.store.GetInvoiceByRef(context.Background(), inv.Ref)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusConfirmed, stored.Status)

	list, err := svc.List(context.Background(), f.merchant.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, settlement.StatusFailed, list[0].Status)
	assert.Contains(t, list[0].Error, "insufficient funds")
}

func TestSecondPayoutForInvoiceIsRefused(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	srv := wiseServer(t, rec)
	svc := New(f.store, f.invoices, nil, NewWise(WiseConfig{BaseURL: srv.URL, ProfileID: "42", RecipientID: "777"}))
	inv := f.confirmed(t, 1250, "sig1")

	first, err := svc.Request(context.Background(), f.merchant.ID, Request{Ref: inv.Ref, Provider: settlement.ProviderWise})
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusProcessing, first.Status)

	_, err = svc.Request(context.Background(), f.merchant.ID, Request{Ref: inv.Ref, Provider: settlement.ProviderWise})
	se := svcerrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, http.StatusConflict, se.HTTPStatus)
	assert.Equal(t, first.ID, se.Details["settlement_id"])

	transfers := 0
	for _, c := range rec.calls {
		if c.Path == "/v1/transfers" {
			transfers++
		}
	}
	assert.Equal(t, 1, transfers)
	list, err := svc.List(context.Background(), f.merchant.ID, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

type countingProvider struct {
	calls atomic.Int32
}

func (p *countingProvider) Name() settlement.Provider { return settlement.ProviderWise }

func (p *countingProvider) Payout(_ context.Context, req PayoutRequest) (PayoutResult, error) {
	p.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	return PayoutResult{ProviderTxID: "9001", Status: settlement.StatusProcessing, AmountCents: req.AmountCents}, nil
}

func (p *countingProvider) Status(context.Context, string) (settlement.Status, error) {
	return settlement.StatusProcessing, nil
}

func TestConcurrentPayoutRequestsPayOnce(t *testing.T) {
	f := newFixture(t)
	p := &countingProvider{}
	svc := New(f.store, f.invoices, nil, p)
	inv := f.confirmed(t, 1250, "sig1")

	const n = 8
	var (
		wg        sync.WaitGroup
		ok        atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Request(context.Background(), f.merchant.ID, Request{Ref: inv.Ref, Provider: settlement.ProviderWise})
			if err == nil {
				ok.Add(1)
				return
			}
			if se := svcerrors.GetServiceError(err); se != nil && se.HTTPStatus == http.StatusConflict {
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(n-1), conflicts.Load())
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestFailedPayoutCanBeRetried(t *testing.T) {
	f := newFixture(t)
	p := &stubProvider{name: settlement.ProviderWise, err: &ProviderError{Provider: settlement.ProviderWise, Operation: "fund", Message: "balance too low"}}
	svc := New(f.store, f.invoices, nil, p)
	inv := f.confirmed(t, 1250, "sig1")

	_, err := svc.Request(context.Background(), f.merchant.ID, Request{Ref: inv.Ref, Provider: settlement.ProviderWise})
	require.Error(t, err)

	p.err = nil
	p.result = PayoutResult{ProviderTxID: "9002", Status: settlement.StatusCompleted, AmountCents: 1250}
	st, err := svc.Request(context.Background(), f.merchant.ID, Request{Ref: inv.Ref, Provider: settlement.ProviderWise})
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusCompleted, st.Status)

	list, err := svc.List(context.Background(), f.merchant.ID, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestPayoutUpdatesPaymentSettlementFields(t *testing.T) {
	f := newFixture(t)
	p := &stubProvider{
		name:   settlement.ProviderWise,
		result: PayoutResult{ProviderTxID: "9001", Status: settlement.StatusProcessing, AmountCents: 1250, FeeCents: 13},
		status: settlement.StatusCompleted,
	}
	svc := New(f.store, f.invoices, nil, p)
	inv := f.confirmed(t, 1250, "sig1")

	st, err := svc.Request(context.Background(), f.merchant.ID, Request{Ref: inv.Ref, Provider: settlement.ProviderWise})
	require.NoError(t, err)

	ps, err := f.store.GetPaymentSettlement(context.Background(), inv.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, settlement.ProviderWise, ps.Provider)
	assert.Equal(t, st.ID, ps.SettlementID)
	assert.Equal(t, "9001", ps.ProviderTxID)
	assert.Equal(t, settlement.StatusProcessing, ps.Status)
	assert.Equal(t, "BRL", ps.Currency)
	assert.Equal(t, int64(1250), ps.AmountCents)
	assert.Equal(t, int64(13), ps.FeeCents)
	assert.False(t, ps.RequestedAt.IsZero())
	assert.Nil(t, ps.CompletedAt)

	_, err = svc.Refresh(context.Background(), st)
	require.NoError(t, err)
	ps, err = f.store.GetPaymentSettlement(context.Background(), inv.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusCompleted, ps.Status)
	assert.NotNil(t, ps.CompletedAt)
}

func TestRefreshLeavesReservedSettlementAlone(t *testing.T) {
	f := newFixture(t)
	p := &stubProvider{name: settlement.ProviderWise, status: settlement.StatusCompleted}
	svc := New(f.store, f.invoices, nil, p)
	inv := f.confirmed(t, 1250, "sig1")

	reserved, err := f.store.CreateSettlement(context.Background(), settlement.Settlement{
		InvoiceID: inv.ID, PaymentID: inv.PaymentID, MerchantID: f.merchant.ID, InvoiceRef: inv.Ref,
		Provider: settlement.ProviderWise, Currency: "BRL", AmountCents: 1250, Status: settlement.StatusPending,
	})
	require.NoError(t, err)

	got, err := svc.Refresh(context.Background(), reserved)
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusPending, got.Status)
	stored, err := f.store.GetInvoiceByRef(context.Background(), inv.Ref)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusConfirmed, stored.Status)
}

func TestPollerCompletesOpenSettlement(t *testing.T) {
	f := newFixture(t)
	p := &stubProvider{name: settlement.ProviderWise, result: PayoutResult{ProviderTxID: "9001", Status: settlement.StatusProcessing, AmountCents: 1250}, status: settlement.StatusProcessing}
	svc := New(f.store, f.invoices, nil, p)
	inv := f.confirmed(t, 1250, "sig1")
	st, err := svc.Request(context.Background(), f.merchant.ID, Request{Ref: inv.Ref, Provider: settlement.ProviderWise})
	require.NoError(t, err)

	poller := NewPoller(svc, time.Minute, nil)
	poller.tick(context.Background())
	assert.False(t, poller.backoff.Due(st.ID, time.Now()))

	p.status = settlement.StatusCompleted
	poller.backoff.Clear(st.ID)
	poller.tick(context.Background())

	got, err := svc.Get(context.Background(), f.merchant.ID, st.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusCompleted, got.Status)
	stored, err := f.store.GetInvoiceByRef(context.Background(), inv.Ref)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusSettled, stored.Status)

	open, err := svc.Open(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = svc.Get(context.Background(), "someone-else", st.ID)
	assert.Equal(t, http.StatusNotFound, svcerrors.GetServiceError(err).HTTPStatus)
}

func TestSummarize(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { v := base.Add(d); return &v }
	invs := []invoice.Invoice{
		{AmountCents: 1000, Status: invoice.StatusConfirmed, CreatedAt: base, ConfirmedAt: at(10 * time.Second)},
		{AmountCents: 2000, Status: invoice.StatusSettled, CreatedAt: base, ConfirmedAt: at(20 * time.Second)},
		{AmountCents: 9999, Status: invoice.StatusPending, CreatedAt: base},
		{AmountCents: 5000, Status: invoice.StatusError, CreatedAt: base},
	}
	payouts := []settlement.Settlement{
		{AmountCents: 2000, FeeCents: 20, Status: settlement.StatusCompleted, RequestedAt: base, CompletedAt: at(time.Minute)},
		{AmountCents: 1000, Status: settlement.StatusFailed, RequestedAt: base},
		{AmountCents: 700, Status: settlement.StatusProcessing, RequestedAt: base},
	}

	sum := Summarize(invs, payouts)
	assert.Equal(t, 2, sum.TotalPayments)
	assert.InDelta(t, 30.0, sum.TotalVolumeBRL, 1e-9)
	assert.Equal(t, 1, sum.HoldingCrypto)
	assert.InDelta(t, 10.0, sum.CryptoBalanceBRL, 1e-9)
	assert.Equal(t, 1, sum.SettledCount)
	assert.InDelta(t, 20.0, sum.SettledTotal, 1e-9)
	assert.InDelta(t, 0.2, sum.TotalFees, 1e-9)
	assert.InDelta(t, 50.0, sum.SettlementSuccessRate, 1e-9)
	assert.InDelta(t, 15.0, sum.AvgConfirmSeconds, 1e-9)
	assert.InDelta(t, 60.0, sum.AvgSettlementSeconds, 1e-9)
}
