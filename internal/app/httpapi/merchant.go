package httpapi

import (
	"net/http"

	"github.com/solpos/service_layer/internal/app/domain/merchant"
	"github.com/solpos/service_layer/internal/app/services/merchants"
	svcerrors "github.com/solpos/service_layer/internal/errors"
	"github.com/solpos/service_layer/internal/httputil"
	"github.com/solpos/service_layer/internal/middleware"
	"github.com/solpos/service_layer/pkg/logger"
)

// merchantID resolves the merchant the caller acts for and records it on
// the request context for logging.
func (h *handler) merchantID(w http.ResponseWriter, r *http.Request) (string, *http.Request, bool) {
	id, err := h.app.Merchants.CurrentID(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err)
		return "", r, false
	}
	return id, r.WithContext(logger.WithMerchantID(r.Context(), id)), true
}

func (h *handler) currentMerchant(w http.ResponseWriter, r *http.Request) {
	m, err := h.app.Merchants.Current(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

func (h *handler) onboardMerchant(w http.ResponseWriter, r *http.Request) {
	var profile merchant.Profile
	if !httputil.DecodeJSON(w, r, &profile) {
		return
	}
	m, err := h.app.Merchants.Onboard(r.Context(), middleware.GetUserID(r.Context()), profile)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, m)
}

func (h *handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var profile merchant.Profile
	if !httputil.DecodeJSON(w, r, &profile) {
		return
	}
	m, err := h.app.Merchants.UpdateProfile(r.Context(), middleware.GetUserID(r.Context()), profile)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

func (h *handler) updateFlags(w http.ResponseWriter, r *http.Request) {
	var patch merchant.FlagsPatch
	if !httputil.DecodeJSON(w, r, &patch) {
		return
	}
	m, err := h.app.Merchants.UpdateFlags(r.Context(), middleware.GetUserID(r.Context()), patch)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

func (h *handler) setDefaultMerchant(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		MerchantID string `json:"merchantId"`
	}
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}
	if payload.MerchantID == "" {
		httputil.WriteError(w, r, svcerrors.Validation("merchantId", "merchantId is required"))
		return
	}
	userID := middleware.GetUserID(r.Context())
	if err := h.app.Merchants.SetDefault(r.Context(), userID, payload.MerchantID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	m, err := h.app.Merchants.Current(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

// uploadLogo takes the raw image as the request body.
func (h *handler) uploadLogo(w http.ResponseWriter, r *http.Request) {
	data, err := httputil.ReadAllStrict(r.Body, merchants.MaxLogoBytes)
	if err != nil {
		httputil.WriteError(w, r, svcerrors.Validation("logo", err.Error()))
		return
	}
	m, err := h.app.Merchants.UploadLogo(r.Context(), middleware.GetUserID(r.Context()), data, r.Header.Get("Content-Type"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}
