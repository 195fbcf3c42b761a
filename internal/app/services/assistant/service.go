// Package assistant answers merchant questions about their payments and
// brokers voice sessions.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
	"github.com/solpos/service_layer/internal/app/metrics"
	"github.com/solpos/service_layer/internal/app/services/invoices"
	svcerrors "github.com/solpos/service_layer/internal/errors"
	"github.com/solpos/service_layer/internal/httputil"
	"github.com/solpos/service_layer/pkg/logger"
)

const (
	DefaultGeminiModel   = "gemini-2.0-flash-exp"
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultRealtimeModel = "gpt-4o-realtime-preview-2024-12-17"
	DefaultVoice         = "alloy"

	// FallbackReply is sent when the model returns no text.
	FallbackReply = "Desculpe, não consegui processar sua mensagem."

	contextInvoices = 10
)

// Config wires the model providers. Empty keys disable the matching feature.
type Config struct {
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	RealtimeModel string
	Voice         string

	HTTPClient *http.Client
}

// Service builds merchant context and relays it to the model providers.
type Service struct {
	invoices *invoices.Service
	gemini   *httputil.Client
	model    string
	openai   *httputil.Client
	rtModel  string
	voice    string
	log      *logger.Logger
}

func New(inv *invoices.Service, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("assistant")
	}
	s := &Service{
		invoices: inv,
		model:    valueOr(cfg.GeminiModel, DefaultGeminiModel),
		rtModel:  valueOr(cfg.RealtimeModel, DefaultRealtimeModel),
		voice:    valueOr(cfg.Voice, DefaultVoice),
		log:      log,
	}
	if cfg.GeminiAPIKey != "" {
		s.gemini = httputil.NewClient(httputil.ClientConfig{
			BaseURL:    valueOr(cfg.GeminiBaseURL, DefaultGeminiBaseURL),
			Headers:    map[string]string{"x-goog-api-key": cfg.GeminiAPIKey},
			Timeout:    30 * time.Second,
			HTTPClient: cfg.HTTPClient,
		})
	}
	if cfg.OpenAIAPIKey != "" {
		s.openai = httputil.NewClient(httputil.ClientConfig{
			BaseURL:    valueOr(cfg.OpenAIBaseURL, DefaultOpenAIBaseURL),
			Headers:    map[string]string{"Authorization": "Bearer " + cfg.OpenAIAPIKey},
			Timeout:    15 * time.Second,
			HTTPClient: cfg.HTTPClient,
		})
	}
	return s
}

// ChatEnabled reports whether a Gemini key is configured.
func (s *Service) ChatEnabled() bool { return s.gemini != nil }

// VoiceEnabled reports whether an OpenAI key is configured.
func (s *Service) VoiceEnabled() bool { return s.openai != nil }

// Message is one chat turn. Role is "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InvoiceSummary is the compact invoice view handed to models.
type InvoiceSummary struct {
	Ref    string         `json:"ref"`
	Amount string         `json:"amount"`
	Status invoice.Status `json:"status"`
	Date   time.Time      `json:"date"`
}

// VoiceContext is what a voice client needs to answer payment questions.
type VoiceContext struct {
	MerchantID     string           `json:"merchantId"`
	RecentInvoices []InvoiceSummary `json:"recentInvoices"`
}

// Context returns the merchant id and its latest invoices.
func (s *Service) Context(ctx context.Context, merchantID string) (VoiceContext, error) {
	list, err := s.invoices.Recent(ctx, merchantID, contextInvoices)
	if err != nil {
		return VoiceContext{}, err
	}
	out := VoiceContext{MerchantID: merchantID, RecentInvoices: make([]InvoiceSummary, 0, len(list))}
	for _, inv := range list {
		out.RecentInvoices = append(out.RecentInvoices, InvoiceSummary{
			Ref:    inv.Ref,
			Amount: inv.AmountBRL(),
			Status: inv.Status,
			Date:   inv.CreatedAt,
		})
	}
	return out, nil
}

func systemPrompt(vc VoiceContext) string {
	var b strings.Builder
	b.WriteString("Você é um assistente de IA para gestão de pagamentos no Solana.\n\n")
	b.WriteString("Contexto do usuário:\n")
	fmt.Fprintf(&b, "- Merchant ID: %s\n", vc.MerchantID)
	b.WriteString("- Últimos pagamentos:\n")
	if len(vc.RecentInvoices) == 0 {
		b.WriteString("Nenhum pagamento recente\n")
	}
	for _, inv := range vc.RecentInvoices {
		fmt.Fprintf(&b, "  - %s: R$ %s (%s)\n", inv.Ref, inv.Amount, inv.Status)
	}
	b.WriteString("\nSeja conciso e útil. Valores em BRL. Responda perguntas sobre pagamentos.")
	return b.String()
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature float64 `json:"temperature"`
		TopK        int     `json:"topK"`
		TopP        float64 `json:"topP"`
	} `json:"generationConfig"`
}

// Chat answers the conversation using the merchant's recent invoices as context.
func (s *Service) Chat(ctx context.Context, merchantID string, messages []Message) (string, error) {
	if s.gemini == nil {
		return "", svcerrors.Unavailable("GEMINI_API_KEY is not configured", nil)
	}
	if len(messages) == 0 {
		return "", svcerrors.Validation("messages", "messages must not be empty")
	}
	vc, err := s.Context(ctx, merchantID)
	if err != nil {
		return "", err
	}

	var req geminiRequest
	req.Contents = append(req.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: systemPrompt(vc)}}})
	for _, m := range messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		req.Contents = append(req.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	req.GenerationConfig.Temperature = 0.7
	req.GenerationConfig.TopK = 40
	req.GenerationConfig.TopP = 0.95

	start := time.Now()
	raw, err := s.gemini.Do(ctx, http.MethodPost, "/models/"+s.model+":generateContent", req, nil)
	metrics.RecordUpstream("gemini", "generate", time.Since(start), err)
	if err != nil {
		s.log.WithError(err).WithField("merchant_id", merchantID).Warn("gemini request failed")
		return "", upstream("gemini", err)
	}

	reply := strings.TrimSpace(gjson.GetBytes(raw, "candidates.0.content.parts.0.text").String())
	if reply == "" {
		return FallbackReply, nil
	}
	return reply, nil
}

// Session is an ephemeral realtime credential. The API key never leaves the
// server.
type Session struct {
	ID           string    `json:"id,omitempty"`
	Model        string    `json:"model"`
	Voice        string    `json:"voice"`
	ClientSecret string    `json:"clientSecret"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// RealtimeSession mints a short-lived OpenAI realtime client secret.
func (s *Service) RealtimeSession(ctx context.Context) (Session, error) {
	if s.openai == nil {
		return Session{}, svcerrors.Unavailable("OPENAI_API_KEY not configured", nil)
	}
	body := map[string]string{"model": s.rtModel, "voice": s.voice}

	start := time.Now()
	raw, err := s.openai.Do(ctx, http.MethodPost, "/realtime/sessions", body, nil)
	metrics.RecordUpstream("openai", "realtime_session", time.Since(start), err)
	if err != nil {
		return Session{}, upstream("openai", err)
	}

	secret := gjson.GetBytes(raw, "client_secret.value").String()
	if secret == "" {
		return Session{}, svcerrors.Upstream("openai", errors.New("session response has no client secret"))
	}
	return Session{
		ID:           gjson.GetBytes(raw, "id").String(),
		Model:        valueOr(gjson.GetBytes(raw, "model").String(), s.rtModel),
		Voice:        valueOr(gjson.GetBytes(raw, "voice").String(), s.voice),
		ClientSecret: secret,
		ExpiresAt:    time.Unix(gjson.GetBytes(raw, "client_secret.expires_at").Int(), 0).UTC(),
	}, nil
}

func upstream(provider string, err error) error {
	se := svcerrors.Upstream(provider, err)
	var status *httputil.StatusError
	if errors.As(err, &status) {
		se = se.WithDetails("status", status.StatusCode)
	}
	return se
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
