package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
	"github.com/solpos/service_layer/internal/app/domain/settlement"
	"github.com/solpos/service_layer/internal/app/storage"
	"github.com/solpos/service_layer/supabase/client"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := client.New(client.Config{URL: srv.URL, APIKey: "service-key", HTTPClient: srv.Client()})
	require.NoError(t, err)
	return New(c)
}

func invoiceJSON(status, txHash string) map[string]any {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	return map[string]any{
		"id":             "inv-1",
		"merchant_id":    "m-1",
		"payment_id":     "pay-1",
		"ref":            "REFABC123",
		"reference":      "ref-key",
		"amount_cents":   1500,
		"currency":       "BRL",
		"payment_mint":   "mint",
		"token_amount":   "1500",
		"recipient":      "wallet",
		"product_ids":    []string{"p1"},
		"status":         status,
		"tx_hash":        txHash,
		"failure_reason": "",
		"created_at":     now,
		"updated_at":     now,
		"expires_at":     now.Add(10 * time.Minute),
	}
}

func TestCreateInvoiceCallsRPC(t *testing.T) {
	var params map[string]any
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/v1/rpc/create_invoice_with_payment", r.URL.Path)
		require.Equal(t, "service-key", r.Header.Get("apikey"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		_ = json.NewEncoder(w).Encode([]any{invoiceJSON("pending", "")})
	})

	inv, err := store.CreateInvoice(context.Background(), invoice.Invoice{
		MerchantID: "m-1", Ref: "REFABC123", Reference: "ref-key", AmountCents: 1500, TokenAmount: 1500,
	})
	require.NoError(t, err)
	assert.Equal(t, "pay-1", inv.PaymentID)
	assert.Equal(t, uint64(1500), inv.TokenAmount)
	assert.Equal(t, "1500", params["p_token_amount"])
	assert.Equal(t, []any{}, params["p_product_ids"])
}

func TestGetInvoiceByRefNotFound(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.REFZZZ999", r.URL.Query().Get("ref"))
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := store.GetInvoiceByRef(context.Background(), "refzzz999")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTransitionInvoiceMapsErrors(t *testing.T) {
	tests := []struct {
		name string
		code string
		msg  string
		want error
	}{
		{"invalid", "P0001", "invalid_transition", storage.ErrInvalidTransition},
		{"missing", "P0002", "invoice REFX not found", storage.ErrNotFound},
		{"duplicate signature", "23505", "duplicate key value violates unique constraint", storage.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
				if strings.HasPrefix(r.URL.Path, "/rest/v1/rpc/") {
					w.WriteHeader(http.StatusBadRequest)
					_ = json.NewEncoder(w).Encode(map[string]string{"code": tt.code, "message": tt.msg})
					return
				}
				_ = json.NewEncoder(w).Encode([]any{invoiceJSON("settled", "sig")})
			})
			inv, err := store.TransitionInvoice(context.Background(), storage.Transition{Ref: "REFABC123", To: invoice.StatusConfirmed, TxHash: "sig"})
			assert.ErrorIs(t, err, tt.want)
			if tt.want == storage.ErrInvalidTransition {
				assert.Equal(t, invoice.StatusSettled, inv.Status)
			}
		})
	}
}

func TestTransitionInvoiceConfirms(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/mark_confirmed", r.URL.Path)
		var params map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, map[string]any{"_ref": "REFABC123", "_tx_hash": "sig"}, params)
		_ = json.NewEncoder(w).Encode([]any{invoiceJSON("confirmed", "sig")})
	})

	inv, err := store.TransitionInvoice(context.Background(), storage.Transition{Ref: "REFABC123", To: invoice.StatusConfirmed, TxHash: "sig"})
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusConfirmed, inv.Status)
	assert.Equal(t, "sig", inv.TxHash)
}

func TestTransitionInvoiceProcedures(t *testing.T) {
	tests := []struct {
		to     invoice.Status
		reason string
		path   string
		want   map[string]any
	}{
		{invoice.StatusSettled, "", "/rest/v1/rpc/mark_settled", map[string]any{"_ref": "REFABC123"}},
		{invoice.StatusError, "expired", "/rest/v1/rpc/transition_invoice", map[string]any{"p_to": "error", "p_reason": "expired"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.to), func(t *testing.T) {
			store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.path, r.URL.Path)
				var params map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
				for k, v := range tt.want {
					assert.Equal(t, v, params[k], k)
				}
				_ = json.NewEncoder(w).Encode([]any{invoiceJSON(string(tt.to), "sig")})
			})
			inv, err := store.TransitionInvoice(context.Background(), storage.Transition{Ref: "REFABC123", To: tt.to, Reason: tt.reason})
			require.NoError(t, err)
			assert.Equal(t, tt.to, inv.Status)
		})
	}
}

func TestActiveSettlementFiltersInvoice(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "eq.inv-1", q.Get("invoice_id"))
		assert.Equal(t, "in.(pending,processing,completed)", q.Get("status"))
		assert.Equal(t, "1", q.Get("limit"))
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": "s-1", "invoice_id": "inv-1", "status": "pending"}})
	})

	st, err := store.ActiveSettlement(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", st.ID)
	assert.Equal(t, settlement.StatusPending, st.Status)
}

func TestGetSettlementSingleNotFound(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.pgrst.object+json", r.Header.Get("Accept"))
		w.WriteHeader(http.StatusNotAcceptable)
		_, _ = w.Write([]byte(`{"code":"PGRST116","message":"JSON object requested, multiple (or no) rows returned"}`))
	})

	_, err := store.GetSettlement(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdatePaymentSettlementPatchesPayment(t *testing.T) {
	var patch map[string]any
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/rest/v1/payments", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patch))
		if r.URL.Query().Get("id") == "eq.pay-1" {
			_ = json.NewEncoder(w).Encode([]map[string]any{{"id": "pay-1", "settlement_id": "s-1"}})
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})

	ps := settlement.PaymentSettlement{
		PaymentID: "pay-1", Provider: settlement.ProviderWise, SettlementID: "s-1", ProviderTxID: "9001",
		Status: settlement.StatusProcessing, Currency: "BRL", AmountCents: 1250, FeeCents: 13,
	}
	require.NoError(t, store.UpdatePaymentSettlement(context.Background(), ps))
	assert.Equal(t, "wise", patch["settlement_provider"])
	assert.Equal(t, "9001", patch["settlement_tx_id"])
	assert.Equal(t, float64(13), patch["settlement_fee_cents"])

	ps.PaymentID = "missing"
	assert.ErrorIs(t, store.UpdatePaymentSettlement(context.Background(), ps), storage.ErrNotFound)
}

func TestListOpenSettlementsFiltersStatus(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/settlements", r.URL.Path)
		assert.Equal(t, "in.(pending,processing)", r.URL.Query().Get("status"))
		_ = json.NewEncoder(w).Encode([]map[string]any{{
			"id": "s-1", "provider": "wise", "status": "processing", "amount_cents": 1500,
			"metadata": map[string]string{"quote_id": "q"},
		}})
	})

	open, err := store.ListOpenSettlements(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, settlement.ProviderWise, open[0].Provider)
	assert.Equal(t, "q", open[0].Metadata["quote_id"])
}

func TestSetDefaultMerchantNotFound(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"P0002","message":"membership not found"}`))
	})
	assert.ErrorIs(t, store.SetDefaultMerchant(context.Background(), "u", "m"), storage.ErrNotFound)
}
