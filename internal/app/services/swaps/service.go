package swaps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/solpos/service_layer/internal/app/domain/swap"
	"github.com/solpos/service_layer/internal/app/metrics"
	"github.com/solpos/service_layer/internal/cache"
	svcerrors "github.com/solpos/service_layer/internal/errors"
	"github.com/solpos/service_layer/internal/httputil"
	"github.com/solpos/service_layer/internal/solana"
	"github.com/solpos/service_layer/internal/tokens"
	"github.com/solpos/service_layer/pkg/logger"
)

const (
	DefaultBaseURL     = "https://quote-api.jup.ag/v6"
	DefaultSlippageBps = 50
	DefaultQuoteTTL    = 10 * time.Second
)

// Options configures the Jupiter client.
type Options struct {
	BaseURL     string
	SlippageBps int
	QuoteTTL    time.Duration
	HTTPClient  *http.Client
	// Cache holds recent quotes; nil disables caching.
	Cache  cache.Cache
	Tokens *tokens.Registry
	Log    *logger.Logger
}

// Service quotes and builds swaps through the Jupiter aggregator.
type Service struct {
	client   *httputil.Client
	slippage int
	ttl      time.Duration
	cache    cache.Cache
	tokens   *tokens.Registry
	log      *logger.Logger
}

func New(opts Options) *Service {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("swaps")
	}
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	slippage := opts.SlippageBps
	if slippage <= 0 {
		slippage = DefaultSlippageBps
	}
	ttl := opts.QuoteTTL
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	return &Service{
		client:   httputil.NewClient(httputil.ClientConfig{BaseURL: base, Timeout: 10 * time.Second, HTTPClient: opts.HTTPClient}),
		slippage: slippage,
		ttl:      ttl,
		cache:    opts.Cache,
		tokens:   opts.Tokens,
		log:      log,
	}
}

// QuoteRequest asks for a route from InputMint to OutputMint. Amount is in
// display units of the input token; AmountUnits overrides it with base units
// and is required for mints missing from the registry.
type QuoteRequest struct {
	InputMint   string `json:"inputMint"`
	OutputMint  string `json:"outputMint,omitempty"`
	Amount      string `json:"amount,omitempty"`
	AmountUnits uint64 `json:"amountUnits,omitempty"`
	SlippageBps int    `json:"slippageBps,omitempty"`
}

// Quote returns the best route. An empty output mint targets the cluster's
// default payment token.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (swap.Quote, error) {
	input, err := s.mint("inputMint", req.InputMint)
	if err != nil {
		return swap.Quote{}, err
	}
	output := req.OutputMint
	if output == "" && s.tokens != nil {
		output = s.tokens.DefaultPayment().Mint
	}
	if output, err = s.mint("outputMint", output); err != nil {
		return swap.Quote{}, err
	}
	if input == output {
		return swap.Quote{}, svcerrors.Validation("outputMint", "input and output mints must differ")
	}

	units, err := s.units(input, req)
	if err != nil {
		return swap.Quote{}, err
	}
	slippage := req.SlippageBps
	if slippage <= 0 {
		slippage = s.slippage
	}

	key := fmt.Sprintf("jupiter:quote:%s:%s:%d:%d", input, output, units, slippage)
	if s.cache != nil {
		var cached swap.Quote
		if err := cache.GetJSON(ctx, s.cache, key, &cached); err == nil {
			metrics.RecordSwapQuote("cache")
			return cached, nil
		} else if !errors.Is(err, cache.ErrMiss) {
			s.log.WithError(err).Warn("quote cache read failed")
		}
	}

	params := url.Values{}
	params.Set("inputMint", input)
	params.Set("outputMint", output)
	params.Set("amount", strconv.FormatUint(units, 10))
	params.Set("slippageBps", strconv.Itoa(slippage))
	params.Set("onlyDirectRoutes", "false")
	params.Set("asLegacyTransaction", "false")

	start := time.Now()
	raw, err := s.client.Do(ctx, http.MethodGet, "/quote?"+params.Encode(), nil, nil)
	metrics.RecordUpstream("jupiter", "quote", time.Since(start), err)
	if err != nil {
		return swap.Quote{}, upstream(err)
	}

	q, err := s.parseQuote(raw)
	if err != nil {
		return swap.Quote{}, svcerrors.Upstream("jupiter", err)
	}
	metrics.RecordSwapQuote("jupiter")

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, key, q, s.ttl); err != nil {
			s.log.WithError(err).Warn("quote cache write failed")
		}
	}
	return q, nil
}

// SwapRequest turns a quote into an unsigned transaction for UserPublicKey.
type SwapRequest struct {
	QuoteResponse json.RawMessage `json:"quoteResponse"`
	UserPublicKey string          `json:"userPublicKey"`
}

// Swap builds the swap transaction. SOL is wrapped and unwrapped as needed.
func (s *Service) Swap(ctx context.Context, req SwapRequest) (swap.Transaction, error) {
	if !solana.ValidAddress(req.UserPublicKey) {
		return swap.Transaction{}, svcerrors.Validation("userPublicKey", "userPublicKey must be a base58 public key")
	}
	if len(req.QuoteResponse) == 0 || !gjson.ValidBytes(req.QuoteResponse) || !gjson.GetBytes(req.QuoteResponse, "outAmount").Exists() {
		return swap.Transaction{}, svcerrors.Validation("quoteResponse", "quoteResponse must be a Jupiter quote")
	}

	body := map[string]interface{}{
		"quoteResponse":    req.QuoteResponse,
		"userPublicKey":    req.UserPublicKey,
		"wrapAndUnwrapSol": true,
	}
	var tx swap.Transaction
	start := time.Now()
	_, err := s.client.Do(ctx, http.MethodPost, "/swap", body, &tx)
	metrics.RecordUpstream("jupiter", "swap", time.Since(start), err)
	if err != nil {
		return swap.Transaction{}, upstream(err)
	}
	if tx.SwapTransaction == "" {
		return swap.Transaction{}, svcerrors.Upstream("jupiter", errors.New("no swap transaction returned"))
	}
	return tx, nil
}

func (s *Service) parseQuote(raw []byte) (swap.Quote, error) {
	doc := gjson.ParseBytes(raw)
	if !doc.Get("outAmount").Exists() {
		return swap.Quote{}, errors.New("no quote returned")
	}
	q := swap.Quote{
		InputMint:      doc.Get("inputMint").String(),
		OutputMint:     doc.Get("outputMint").String(),
		InAmount:       doc.Get("inAmount").Uint(),
		OutAmount:      doc.Get("outAmount").Uint(),
		OtherAmountMin: doc.Get("otherAmountThreshold").Uint(),
		SlippageBps:    int(doc.Get("slippageBps").Int()),
		PriceImpactPct: doc.Get("priceImpactPct").Float(),
		Raw:            json.RawMessage(raw),
	}
	for _, step := range doc.Get("routePlan").Array() {
		q.TotalFees += step.Get("swapInfo.feeAmount").Uint()
		if label := step.Get("swapInfo.label").String(); label != "" {
			q.RouteLabels = append(q.RouteLabels, label)
		}
	}
	if s.tokens != nil {
		if t, ok := s.tokens.ByMint(q.OutputMint); ok {
			q.OutAmountUI = tokens.FormatUnits(q.OutAmount, t.Decimals)
		}
	}
	return q, nil
}

func (s *Service) mint(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", svcerrors.Validation(field, field+" is required")
	}
	if s.tokens != nil {
		if t, ok := s.tokens.Resolve(value); ok {
			return t.Mint, nil
		}
	}
	if !solana.ValidAddress(value) {
		return "", svcerrors.Validation(field, field+" must be a mint address or known symbol")
	}
	return value, nil
}

func (s *Service) units(input string, req QuoteRequest) (uint64, error) {
	if req.AmountUnits > 0 {
		return req.AmountUnits, nil
	}
	if strings.TrimSpace(req.Amount) == "" {
		return 0, svcerrors.Validation("amount", "amount is required")
	}
	var t tokens.Token
	ok := false
	if s.tokens != nil {
		t, ok = s.tokens.ByMint(input)
	}
	if !ok {
		return 0, svcerrors.Validation("amountUnits", "amountUnits is required for tokens outside the registry")
	}
	units, err := tokens.ParseUnits(req.Amount, t.Decimals)
	if err != nil || units == 0 {
		return 0, svcerrors.Validation("amount", "amount must be a positive decimal")
	}
	return units, nil
}

func upstream(err error) error {
	se := svcerrors.Upstream("jupiter", err)
	var status *httputil.StatusError
	if errors.As(err, &status) {
		se = se.WithDetails("message", status.Message())
		if status.StatusCode == http.StatusBadRequest {
			se.HTTPStatus = http.StatusBadRequest
		}
	}
	return se
}
