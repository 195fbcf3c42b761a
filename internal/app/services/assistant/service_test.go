package assistant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solpos/service_layer/internal/app/domain/merchant"
	"github.com/solpos/service_layer/internal/app/services/invoices"
	"github.com/solpos/service_layer/internal/app/storage/memory"
	svcerrors "github.com/solpos/service_layer/internal/errors"
	"github.com/solpos/service_layer/internal/tokens"
)

const wallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

func newInvoices(t *testing.T, count int) (*invoices.Service, string) {
	t.Helper()
	reg, err := tokens.Load("devnet", "")
	require.NoError(t, err)
	store := memory.New()
	m, err := store.CreateMerchant(context.Background(), merchant.Merchant{Name: "Padaria", WalletAddress: wallet})
	require.NoError(t, err)
	svc := invoices.New(store, store, invoices.Options{Tokens: reg})
	for i := 0; i < count; i++ {
		_, err := svc.Create(context.Background(), m.ID, invoices.CreateRequest{AmountCents: int64(100 * (i + 1))})
		require.NoError(t, err)
	}
	return svc, m.ID
}

func TestContextLimitsToRecentInvoices(t *testing.T) {
	inv, merchantID := newInvoices(t, 12)
	svc := New(inv, Config{}, nil)

	vc, err := svc.Context(context.Background(), merchantID)
	require.NoError(t, err)
	assert.Equal(t, merchantID, vc.MerchantID)
	assert.Len(t, vc.RecentInvoices, 10)

	data, err := json.Marshal(map[string]VoiceContext{"context": vc})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"recentInvoices"`)
	assert.Contains(t, string(data), `"merchantId"`)
}

func TestChatSendsContextAndMapsRoles(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.0-flash-exp:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":" Você recebeu 2 pagamentos. "}]}}]}`)
	}))
	defer srv.Close()

	inv, merchantID := newInvoices(t, 2)
	svc := New(inv, Config{GeminiAPIKey: "g-key", GeminiBaseURL: srv.URL}, nil)
	require.True(t, svc.ChatEnabled())

	reply, err := svc.Chat(context.Background(), merchantID, []Message{
		{Role: "user", Content: "Quantos pagamentos?"},
		{Role: "assistant", Content: "Deixe-me ver."},
		{Role: "user", Content: "E hoje?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Você recebeu 2 pagamentos.", reply)

	require.Len(t, got.Contents, 4)
	assert.Equal(t, "user", got.Contents[0].Role)
	assert.Contains(t, got.Contents[0].Parts[0].Text, "Merchant ID: "+merchantID)
	assert.Contains(t, got.Contents[0].Parts[0].Text, "R$ 2.00 (pending)")
	assert.Equal(t, "model", got.Contents[2].Role)
	assert.InDelta(t, 0.7, got.GenerationConfig.Temperature, 1e-9)
	assert.Equal(t, 40, got.GenerationConfig.TopK)
	assert.InDelta(t, 0.95, got.GenerationConfig.TopP, 1e-9)
}

func TestChatFallbackReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	inv, merchantID := newInvoices(t, 0)
	svc := New(inv, Config{GeminiAPIKey: "k", GeminiBaseURL: srv.URL}, nil)
	reply, err := svc.Chat(context.Background(), merchantID, []Message{{Role: "user", Content: "oi"}})
	require.NoError(t, err)
	assert.Equal(t, FallbackReply, reply)
}

func TestChatDisabledAndUpstreamErrors(t *testing.T) {
	inv, merchantID := newInvoices(t, 0)
	_, err := New(inv, Config{}, nil).Chat(context.Background(), merchantID, []Message{{Role: "user", Content: "oi"}})
	assert.Equal(t, http.StatusServiceUnavailable, svcerrors.GetServiceError(err).HTTPStatus)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"quota"}}`)
	}))
	defer srv.Close()
	svc := New(inv, Config{GeminiAPIKey: "k", GeminiBaseURL: srv.URL}, nil)
	_, err = svc.Chat(context.Background(), merchantID, []Message{{Role: "user", Content: "oi"}})
	se := svcerrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, http.StatusBadGateway, se.HTTPStatus)
	assert.Equal(t, http.StatusTooManyRequests, se.Details["status"])

	_, err = svc.Chat(context.Background(), merchantID, nil)
	assert.Equal(t, http.StatusBadRequest, svcerrors.GetServiceError(err).HTTPStatus)
}

func TestRealtimeSessionNeverReturnsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/realtime/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk-secret", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultRealtimeModel, body["model"])
		assert.Equal(t, DefaultVoice, body["voice"])
		_, _ = io.WriteString(w, `{"id":"sess_1","model":"gpt-4o-realtime-preview-2024-12-17","voice":"alloy","client_secret":{"value":"ek_123","expires_at":1700000060}}`)
	}))
	defer srv.Close()

	inv, _ := newInvoices(t, 0)
	svc := New(inv, Config{OpenAIAPIKey: "sk-secret", OpenAIBaseURL: srv.URL}, nil)
	sess, err := svc.RealtimeSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ek_123", sess.ClientSecret)
	assert.Equal(t, int64(1700000060), sess.ExpiresAt.Unix())

	data, err := json.Marshal(sess)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-secret")

	_, err = New(inv, Config{}, nil).RealtimeSession(context.Background())
	assert.Equal(t, http.StatusServiceUnavailable, svcerrors.GetServiceError(err).HTTPStatus)
}
