package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/solpos/service_layer/pkg/logger"
	"github.com/solpos/service_layer/supabase/client"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func generateTestToken(t *testing.T, secret, userID string, expired bool) string {
	t.Helper()
	claims := &Claims{
		Email: "lojista@example.com",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	if expired {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return tokenString
}

type stubVerifier struct {
	user  *client.User
	err   error
	calls int
}

func (s *stubVerifier) GetUser(_ context.Context, _ string) (*client.User, error) {
	s.calls++
	return s.user, s.err
}

func okHandler(captured *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			*captured = GetUserID(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_Handler_SkipPaths(t *testing.T) {
	m := NewAuthMiddleware(testSecret, nil, logger.NewDefault("test"), []string{"/healthz"})
	handler := m.Handler(okHandler(nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_Handler_RejectsBadHeaders(t *testing.T) {
	m := NewAuthMiddleware(testSecret, nil, nil, nil)
	handler := m.Handler(okHandler(nil))

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"no bearer", "Token abc"},
		{"bearer only", "Bearer "},
		{"garbage token", "Bearer not.a.jwt"},
		{"expired", "Bearer " + generateTestToken(t, testSecret, "user-1", true)},
		{"wrong secret", "Bearer " + generateTestToken(t, "another-secret-another-secret-0000", "user-1", false)},
		{"no subject", "Bearer " + generateTestToken(t, testSecret, "", false)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/merchant", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestAuthMiddleware_Handler_ValidToken(t *testing.T) {
	m := NewAuthMiddleware(testSecret, nil, nil, nil)
	var userID string
	handler := m.Handler(okHandler(&userID))

	req := httptest.NewRequest("GET", "/v1/merchant", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, testSecret, "user-123", false))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if userID != "user-123" {
		t.Errorf("user id = %q, want user-123", userID)
	}
}

func TestAuthMiddleware_Handler_FallsBackToVerifier(t *testing.T) {
	verifier := &stubVerifier{user: &client.User{ID: "user-remote", Role: "authenticated"}}
	m := NewAuthMiddleware(testSecret, verifier, nil, nil)
	var userID string
	handler := m.Handler(okHandler(&userID))

	req := httptest.NewRequest("GET", "/v1/merchant", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, "asymmetric-project-key-asymmetric", "user-remote", false))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || userID != "user-remote" {
		t.Fatalf("Status code = %d user = %q", rec.Code, userID)
	}
	if verifier.calls != 1 {
		t.Errorf("verifier calls = %d, want 1", verifier.calls)
	}

	verifier.user, verifier.err = nil, errors.New("invalid JWT")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_Handler_VerifierOnly(t *testing.T) {
	verifier := &stubVerifier{user: &client.User{ID: "user-9"}}
	m := NewAuthMiddleware("", verifier, nil, nil)
	var userID string
	handler := m.Handler(okHandler(&userID))

	req := httptest.NewRequest("GET", "/v1/merchant", nil)
	req.Header.Set("Authorization", "Bearer opaque")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || userID != "user-9" {
		t.Fatalf("Status code = %d user = %q", rec.Code, userID)
	}

	m = NewAuthMiddleware("", nil, nil, nil)
	rec = httptest.NewRecorder()
	m.Handler(okHandler(nil)).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_validateToken_RejectsNoneAlg(t *testing.T) {
	m := NewAuthMiddleware(testSecret, nil, nil, nil)
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.validateToken(unsigned); err == nil {
		t.Fatal("expected none alg to be rejected")
	}
}

func TestGetUserID(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{
			name: "with user ID",
			ctx:  logger.WithUserID(context.Background(), "user-123"),
			want: "user-123",
		},
		{
			name: "without user ID",
			ctx:  context.Background(),
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetUserID(tt.ctx); got != tt.want {
				t.Errorf("GetUserID() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequireUserID(t *testing.T) {
	handler := RequireUserID(okHandler(nil))

	tests := []struct {
		name       string
		ctx        context.Context
		wantStatus int
	}{
		{
			name:       "with user ID",
			ctx:        logger.WithUserID(context.Background(), "user-123"),
			wantStatus: http.StatusOK,
		},
		{
			name:       "without user ID",
			ctx:        context.Background(),
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/merchant", nil).WithContext(tt.ctx)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("Status code = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestAuthMiddleware_Handler_PreservesTraceID(t *testing.T) {
	m := NewAuthMiddleware(testSecret, nil, nil, nil)

	var capturedTraceID string
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedTraceID = logger.GetTraceID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/v1/merchant", nil)
	req = req.WithContext(logger.WithTraceID(req.Context(), "trace-456"))
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, testSecret, "user-123", false))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if capturedTraceID != "trace-456" {
		t.Errorf("Trace ID = %v, want trace-456", capturedTraceID)
	}
}
