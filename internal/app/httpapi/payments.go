package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
	"github.com/solpos/service_layer/internal/httputil"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

// validatePayment is polled by the checkout screen. The ref comes from the
// path, the "reference" query parameter or a {"reference": ...} body.
func (h *handler) validatePayment(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]
	if ref == "" {
		ref = r.URL.Query().Get("reference")
	}
	if ref == "" && r.Method == http.MethodPost {
		var body struct {
			Reference string `json:"reference"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, httputil.MaxRequestBody)).Decode(&body); err == nil {
			ref = body.Reference
		}
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		httputil.BadRequest(w, r, "Missing reference")
		return
	}

	res, err := h.app.Validator.Validate(r.Context(), ref)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	status := res.HTTPStatus
	if status == 0 {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, res)
}

// invoiceEvents streams status changes of one invoice over a WebSocket. The
// current state is sent first and the socket closes once the invoice is final.
func (h *handler) invoiceEvents(w http.ResponseWriter, r *http.Request) {
	ref := strings.ToUpper(strings.TrimSpace(mux.Vars(r)["ref"]))
	events, cancel := h.app.Events.Subscribe(ref)
	defer cancel()

	inv, err := h.app.Invoices.Get(r.Context(), ref)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(evt invoice.Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(evt) == nil
	}
	closeNormal := func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "invoice final"),
			time.Now().Add(wsWriteWait))
	}

	if !send(invoice.EventFor(inv)) {
		return
	}
	if inv.Status.Terminal() {
		closeNormal()
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-gone:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if !send(evt) {
				return
			}
			if evt.Status.Terminal() {
				closeNormal()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
