package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
	"github.com/solpos/service_layer/internal/app/services/invoices"
	svcerrors "github.com/solpos/service_layer/internal/errors"
	"github.com/solpos/service_layer/internal/httputil"
)

type createInvoicePayload struct {
	AmountCents int64    `json:"amountCents"`
	ProductIDs  []string `json:"productIds"`
	Token       string   `json:"token"`
	TokenAmount uint64   `json:"tokenAmount"`
}

type paymentResponse struct {
	Ref       string         `json:"ref"`
	Status    invoice.Status `json:"status"`
	URL       string         `json:"url"`
	Reference string         `json:"reference"`
	Recipient string         `json:"recipient"`
	Amount    string         `json:"amount"`
	Mint      string         `json:"mint"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

func (h *handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	merchantID, r, ok := h.merchantID(w, r)
	if !ok {
		return
	}
	var payload createInvoicePayload
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}
	inv, err := h.app.Invoices.Create(r.Context(), merchantID, invoices.CreateRequest{
		AmountCents: payload.AmountCents,
		ProductIDs:  payload.ProductIDs,
		Token:       payload.Token,
		TokenAmount: payload.TokenAmount,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	out, err := h.payment(r, inv)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"invoice": inv, "payment": out})
}

func (h *handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	merchantID, r, ok := h.merchantID(w, r)
	if !ok {
		return
	}
	from, to, err := parseWindow(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	list, err := h.app.Invoices.List(r.Context(), merchantID, from, to)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) exportInvoices(w http.ResponseWriter, r *http.Request) {
	merchantID, r, ok := h.merchantID(w, r)
	if !ok {
		return
	}
	from, to, err := parseWindow(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	list, err := h.app.Invoices.List(r.Context(), merchantID, from, to)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=receipts-%s.csv", time.Now().UTC().Format("20060102")))
	w.WriteHeader(http.StatusOK)
	if err := invoices.WriteCSV(w, list); err != nil {
		h.log.WithContext(r.Context()).WithError(err).Warn("csv export interrupted")
	}
}

func (h *handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	merchantID, r, ok := h.merchantID(w, r)
	if !ok {
		return
	}
	inv, err := h.app.Invoices.GetForMerchant(r.Context(), merchantID, mux.Vars(r)["ref"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inv)
}

func (h *handler) updateInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	merchantID, r, ok := h.merchantID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Status string `json:"status"`
		TxHash string `json:"txHash"`
	}
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}
	status := invoice.Status(strings.ToLower(strings.TrimSpace(payload.Status)))
	inv, err := h.app.Invoices.UpdateStatus(r.Context(), merchantID, mux.Vars(r)["ref"], status, payload.TxHash)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inv)
}

func (h *handler) invoiceReceipt(w http.ResponseWriter, r *http.Request) {
	merchantID, r, ok := h.merchantID(w, r)
	if !ok {
		return
	}
	receipt, err := h.app.Invoices.Receipt(r.Context(), merchantID, mux.Vars(r)["ref"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, receipt)
}

func (h *handler) invoicePayment(w http.ResponseWriter, r *http.Request) {
	merchantID, r, ok := h.merchantID(w, r)
	if !ok {
		return
	}
	inv, err := h.app.Invoices.GetForMerchant(r.Context(), merchantID, mux.Vars(r)["ref"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	out, err := h.payment(r, inv)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) invoiceQR(w http.ResponseWriter, r *http.Request) {
	merchantID, r, ok := h.merchantID(w, r)
	if !ok {
		return
	}
	png, payURL, err := h.app.Invoices.QRCode(r.Context(), merchantID, mux.Vars(r)["ref"], queryInt(r, "size", 0))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("X-Payment-URL", payURL)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *handler) payment(r *http.Request, inv invoice.Invoice) (paymentResponse, error) {
	req, err := h.app.Invoices.PaymentRequest(inv, h.app.Invoices.MerchantLabel(r.Context(), inv.MerchantID))
	if err != nil {
		return paymentResponse{}, err
	}
	return paymentResponse{
		Ref:       inv.Ref,
		Status:    inv.Status,
		URL:       req.URL(),
		Reference: inv.Reference,
		Recipient: inv.Recipient,
		Amount:    req.Amount,
		Mint:      inv.PaymentMint,
		ExpiresAt: inv.ExpiresAt,
	}, nil
}

// parseWindow reads from/to as RFC 3339 timestamps or plain dates. A plain
// "to" date includes the whole day.
func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"), false)
	if err != nil {
		return time.Time{}, time.Time{}, svcerrors.Validation("from", err.Error())
	}
	to, err := parseTime(q.Get("to"), true)
	if err != nil {
		return time.Time{}, time.Time{}, svcerrors.Validation("to", err.Error())
	}
	return from, to, nil
}

func parseTime(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	if endOfDay {
		d = d.Add(24*time.Hour - time.Nanosecond)
	}
	return d, nil
}
