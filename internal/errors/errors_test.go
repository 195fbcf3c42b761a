package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestGetServiceErrorThroughWrap(t *testing.T) {
	base := NotFound("invoice", "REFABC123")
	wrapped := fmt.Errorf("lookup: %w", base)

	got := GetServiceError(wrapped)
	if got == nil {
		t.Fatal("expected service error")
	}
	if got.HTTPStatus != http.StatusNotFound || got.Code != CodeNotFound {
		t.Fatalf("unexpected error %+v", got)
	}
	if got.Details["id"] != "REFABC123" {
		t.Fatalf("details = %v", got.Details)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := New("dial tcp: refused")
	err := Upstream("circle", cause)
	if !Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
	if err.HTTPStatus != http.StatusBadGateway {
		t.Fatalf("status = %d", err.HTTPStatus)
	}
}

func TestGetServiceErrorPlain(t *testing.T) {
	if GetServiceError(New("plain")) != nil {
		t.Fatal("plain errors carry no service error")
	}
}
