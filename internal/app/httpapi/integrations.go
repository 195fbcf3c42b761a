package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/solpos/service_layer/internal/app/services/assistant"
	"github.com/solpos/service_layer/internal/app/services/settlements"
	"github.com/solpos/service_layer/internal/app/services/swaps"
	svcerrors "github.com/solpos/service_layer/internal/errors"
	"github.com/solpos/service_layer/internal/httputil"
)

// =============================================================================
// Settlements
// =============================================================================

func (h *handler) requestSettlement(w http.ResponseWriter, r *http.Request) {
	merchantID, r, ok := h.merchantID(w, r)
	if !ok {
		return
	}
	var req settlements.Request
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	st, err := h.app.Settlements.Request(r.Context(), merchantID, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, st)
}

func (h *handler) listSettlements(w http.ResponseWriter, r *http.Request) {
	merchantID, r, ok := h.merchantID(w, r)
	if !ok {
		return
	}
	list, err := h.app.Settlements.List(r.Context(), merchantID, queryInt(r, "limit", 100))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) getSettlement(w http.ResponseWriter, r *http.Request) {
	merchantID, r, ok := h.merchantID(w, r)
	if !ok {
		return
	}
	st, err := h.app.Settlements.Get(r.Context(), merchantID, mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

func (h *handler) settlementSummary(w http.ResponseWriter, r *http.Request) {
	merchantID, r, ok := h.merchantID(w, r)
	if !ok {
		return
	}
	sum, err := h.app.Settlements.Summary(r.Context(), merchantID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sum)
}

func (h *handler) settlementProviders(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"providers":  h.app.Settlements.Providers(),
		"settlement": h.app.Tokens.SettlementTokens(),
	})
}

// =============================================================================
// Swaps
// =============================================================================

// swapQuote accepts query parameters on GET and a JSON body on POST.
func (h *handler) swapQuote(w http.ResponseWriter, r *http.Request) {
	var req swaps.QuoteRequest
	if r.Method == http.MethodPost {
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
	} else {
		q := r.URL.Query()
		req.InputMint = q.Get("inputMint")
		req.OutputMint = q.Get("outputMint")
		req.Amount = q.Get("amount")
		if raw := q.Get("amountUnits"); raw != "" {
			units, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				httputil.WriteError(w, r, svcerrors.Validation("amountUnits", "amountUnits must be an integer"))
				return
			}
			req.AmountUnits = units
		}
		req.SlippageBps = queryInt(r, "slippageBps", 0)
	}
	quote, err := h.app.Swaps.Quote(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, quote)
}

func (h *handler) swapTransaction(w http.ResponseWriter, r *http.Request) {
	var req swaps.SwapRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	tx, err := h.app.Swaps.Swap(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tx)
}

// =============================================================================
// Assistant
// =============================================================================

func (h *handler) assistantChat(w http.ResponseWriter, r *http.Request) {
	merchantID, r, ok := h.merchantID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Messages []assistant.Message `json:"messages"`
	}
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}
	reply, err := h.app.Assistant.Chat(r.Context(), merchantID, payload.Messages)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (h *handler) assistantContext(w http.ResponseWriter, r *http.Request) {
	merchantID, r, ok := h.merchantID(w, r)
	if !ok {
		return
	}
	vc, err := h.app.Assistant.Context(r.Context(), merchantID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"context": vc})
}

func (h *handler) assistantSession(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := h.merchantID(w, r); !ok {
		return
	}
	session, err := h.app.Assistant.RealtimeSession(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}
