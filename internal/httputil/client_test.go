package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientDoSendsHeadersAndDecodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/v1/things" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["name"]})
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL + "/", Headers: map[string]string{"Authorization": "Bearer k"}})
	var out struct {
		Echo string `json:"echo"`
	}
	if _, err := c.Do(context.Background(), http.MethodPost, "/v1/things", map[string]string{"name": "x"}, &out); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if out.Echo != "x" {
		t.Fatalf("echo = %q", out.Echo)
	}
}

func TestClientDoStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":[{"code":"x","message":"recipient invalid"}]}`))
	}))
	defer server.Close()

	_, err := NewClient(ClientConfig{BaseURL: server.URL}).Do(context.Background(), http.MethodGet, "/", nil, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if se.StatusCode != http.StatusUnprocessableEntity || se.Message() != "recipient invalid" {
		t.Fatalf("unexpected %d %q", se.StatusCode, se.Message())
	}
}

func TestReadAllWithLimit(t *testing.T) {
	data, truncated, err := ReadAllWithLimit(strings.NewReader("abcdef"), 4)
	if err != nil || !truncated || string(data) != "abcd" {
		t.Fatalf("got %q %v %v", data, truncated, err)
	}
	if _, err := ReadAllStrict(strings.NewReader("abcdef"), 4); err == nil {
		t.Fatal("expected strict read to fail")
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1,"b":2}`))
	var dst struct {
		A int `json:"a"`
	}
	if DecodeJSON(rec, req, &dst) {
		t.Fatal("expected decode failure")
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
