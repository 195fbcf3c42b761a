// Package httpapi exposes the application services over HTTP and WebSocket.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	app "github.com/solpos/service_layer/internal/app"
	"github.com/solpos/service_layer/internal/app/metrics"
	"github.com/solpos/service_layer/internal/httputil"
	"github.com/solpos/service_layer/internal/middleware"
	"github.com/solpos/service_layer/pkg/logger"
)

// Options configures the HTTP surface.
type Options struct {
	// JWTSecret verifies Supabase access tokens locally.
	JWTSecret string
	// Verifier checks tokens the secret cannot, usually the Supabase auth API.
	Verifier    middleware.UserVerifier
	CORSOrigins []string
	// Limiter is optional; nil disables rate limiting.
	Limiter *middleware.RateLimiter
	// AuditPath appends audit entries as JSON lines when set.
	AuditPath string
	Log       *logger.Logger
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app      *app.Application
	log      *logger.Logger
	audit    *auditLog
	upgrader websocket.Upgrader
	started  time.Time
}

// NewHandler returns the full router: public payment endpoints, the
// authenticated merchant API under /v1 and the operational endpoints.
func NewHandler(application *app.Application, opts Options) (http.Handler, error) {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("http")
	}
	sink, err := newFileAuditSink(opts.AuditPath)
	if err != nil {
		return nil, err
	}
	h := &handler{
		app:     application,
		log:     log,
		audit:   newAuditLog(500, sink),
		started: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the stream carries invoice status only
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, r, "route not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.MethodNotAllowed(w)
	})
	router.Use(middleware.MetricsMiddleware())
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	router.HandleFunc("/info", h.info).Methods(http.MethodGet)

	public := router.NewRoute().Subrouter()
	if opts.Limiter != nil {
		public.Use(opts.Limiter.Handler)
	}
	public.HandleFunc("/v1/tokens", h.listTokens).Methods(http.MethodGet)
	public.HandleFunc("/v1/payments/validate", h.validatePayment).Methods(http.MethodGet, http.MethodPost)
	public.HandleFunc("/v1/payments/{ref}/validate", h.validatePayment).Methods(http.MethodGet, http.MethodPost)
	public.HandleFunc("/v1/invoices/{ref}/events", h.invoiceEvents).Methods(http.MethodGet)

	auth := middleware.NewAuthMiddleware(opts.JWTSecret, opts.Verifier, log.Named("auth"), nil)
	api := router.PathPrefix("/v1").Subrouter()
	api.Use(auth.Handler)
	if opts.Limiter != nil {
		api.Use(opts.Limiter.Handler)
	}
	api.Use(h.auditWrites)

	api.HandleFunc("/merchant", h.currentMerchant).Methods(http.MethodGet)
	api.HandleFunc("/merchant", h.updateProfile).Methods(http.MethodPatch)
	api.HandleFunc("/merchant/flags", h.updateFlags).Methods(http.MethodPatch)
	api.HandleFunc("/merchant/default", h.setDefaultMerchant).Methods(http.MethodPost)
	api.HandleFunc("/merchant/logo", h.uploadLogo).Methods(http.MethodPost)
	api.HandleFunc("/merchants", h.onboardMerchant).Methods(http.MethodPost)

	api.HandleFunc("/invoices", h.createInvoice).Methods(http.MethodPost)
	api.HandleFunc("/invoices", h.listInvoices).Methods(http.MethodGet)
	api.HandleFunc("/invoices/export.csv", h.exportInvoices).Methods(http.MethodGet)
	api.HandleFunc("/invoices/{ref}", h.getInvoice).Methods(http.MethodGet)
	api.HandleFunc("/invoices/{ref}/status", h.updateInvoiceStatus).Methods(http.MethodPatch)
	api.HandleFunc("/invoices/{ref}/receipt", h.invoiceReceipt).Methods(http.MethodGet)
	api.HandleFunc("/invoices/{ref}/payment", h.invoicePayment).Methods(http.MethodGet)
	api.HandleFunc("/invoices/{ref}/qr.png", h.invoiceQR).Methods(http.MethodGet)

	api.HandleFunc("/settlements", h.requestSettlement).Methods(http.MethodPost)
	api.HandleFunc("/settlements", h.listSettlements).Methods(http.MethodGet)
	api.HandleFunc("/settlements/summary", h.settlementSummary).Methods(http.MethodGet)
	api.HandleFunc("/settlements/providers", h.settlementProviders).Methods(http.MethodGet)
	api.HandleFunc("/settlements/{id}", h.getSettlement).Methods(http.MethodGet)

	api.HandleFunc("/swaps/quote", h.swapQuote).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/swaps/transaction", h.swapTransaction).Methods(http.MethodPost)

	api.HandleFunc("/assistant/chat", h.assistantChat).Methods(http.MethodPost)
	api.HandleFunc("/assistant/context", h.assistantContext).Methods(http.MethodGet)
	api.HandleFunc("/assistant/session", h.assistantSession).Methods(http.MethodPost)

	api.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)

	var out http.Handler = router
	out = middleware.NewTracingMiddleware(log).Handler(out)
	out = middleware.NewCORSMiddleware(opts.CORSOrigins).Handler(out)
	return out, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
