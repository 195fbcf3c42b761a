package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	svcerrors "github.com/solpos/service_layer/internal/errors"
	"github.com/solpos/service_layer/pkg/logger"
)

const (
	// MaxRequestBody caps decoded request bodies.
	MaxRequestBody = 1 << 20
	// MaxResponseBody caps upstream success bodies.
	MaxResponseBody = 8 << 20
	// MaxErrorBody caps upstream error bodies kept for diagnostics.
	MaxErrorBody = 32 << 10
)

type errorBody struct {
	Error   errorPayload `json:"error"`
	TraceID string       `json:"trace_id,omitempty"`
}

type errorPayload struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON encodes data with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// WriteErrorResponse writes the standard error envelope.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	body := errorBody{Error: errorPayload{Code: code, Message: message, Details: details}}
	if r != nil {
		body.TraceID = logger.GetTraceID(r.Context())
	}
	WriteJSON(w, status, body)
}

// WriteError maps err to a response. Errors without a ServiceError become 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	se := svcerrors.GetServiceError(err)
	if se == nil {
		se = svcerrors.Internal("Internal server error", err)
	}
	WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

// DecodeJSON decodes the request body and writes a 400 on failure.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			BadRequest(w, r, "request body is required")
			return false
		}
		BadRequest(w, r, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, svcerrors.BadRequest(message))
}

func NotFound(w http.ResponseWriter, r *http.Request, message string) {
	WriteErrorResponse(w, r, http.StatusNotFound, string(svcerrors.CodeNotFound), message, nil)
}

func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, svcerrors.Unauthorized(message))
}

func MethodNotAllowed(w http.ResponseWriter) {
	w.WriteHeader(http.StatusMethodNotAllowed)
}

// ReadAllWithLimit reads at most limit bytes and reports whether more remained.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// ReadAllStrict fails when the body exceeds limit.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	data, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return data, nil
}
