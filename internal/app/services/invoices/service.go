package invoices

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
	"github.com/solpos/service_layer/internal/app/domain/merchant"
	"github.com/solpos/service_layer/internal/app/events"
	"github.com/solpos/service_layer/internal/app/metrics"
	"github.com/solpos/service_layer/internal/app/storage"
	svcerrors "github.com/solpos/service_layer/internal/errors"
	"github.com/solpos/service_layer/internal/solana"
	"github.com/solpos/service_layer/internal/tokens"
	"github.com/solpos/service_layer/pkg/logger"
)

const (
	refPrefix   = "REF"
	refLength   = 6
	refAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// DefaultWindow is the listing window when no range is given.
	DefaultWindow = 90 * 24 * time.Hour
	// DefaultTimeout is how long an invoice waits for payment.
	DefaultTimeout = 10 * time.Minute
)

// ValidRef reports whether ref has the REFXXXXXX shape.
func ValidRef(ref string) bool {
	if len(ref) != len(refPrefix)+refLength || !strings.HasPrefix(ref, refPrefix) {
		return false
	}
	for _, c := range ref[len(refPrefix):] {
		if !strings.ContainsRune(refAlphabet, c) {
			return false
		}
	}
	return true
}

// NewRef draws a random invoice ref.
func NewRef() (string, error) {
	var b strings.Builder
	b.WriteString(refPrefix)
	max := big.NewInt(int64(len(refAlphabet)))
	for i := 0; i < refLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(refAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// Options configures the invoice service.
type Options struct {
	Tokens *tokens.Registry
	// DefaultRecipient receives payments for merchants without a wallet.
	DefaultRecipient string
	Timeout          time.Duration
	Events           events.Publisher
	Log              *logger.Logger
}

// Service creates invoices and drives their status transitions.
type Service struct {
	store     storage.InvoiceStore
	merchants storage.MerchantStore
	tokens    *tokens.Registry
	recipient string
	timeout   time.Duration
	events    events.Publisher
	log       *logger.Logger
	now       func() time.Time
	newRef    func() (string, error)
}

// New constructs an invoice service.
func New(store storage.InvoiceStore, merchants storage.MerchantStore, opts Options) *Service {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("invoices")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		store:     store,
		merchants: merchants,
		tokens:    opts.Tokens,
		recipient: opts.DefaultRecipient,
		timeout:   timeout,
		events:    opts.Events,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		newRef:    NewRef,
	}
}

// Timeout returns the payment window.
func (s *Service) Timeout() time.Duration { return s.timeout }

// CreateRequest describes a new charge.
type CreateRequest struct {
	AmountCents int64
	ProductIDs  []string
	// Token is a mint or symbol; empty selects the cluster's default payment token.
	Token string
	// TokenAmount overrides the converted amount, in base units. Required for
	// tokens that are not pegged to BRL.
	TokenAmount uint64
}

// Create stores a pending invoice with a fresh reference key.
func (s *Service) Create(ctx context.Context, merchantID string, req CreateRequest) (invoice.Invoice, error) {
	if req.AmountCents <= 0 {
		return invoice.Invoice{}, svcerrors.Validation("amount", "amount must be positive")
	}
	m, err := s.merchants.GetMerchant(ctx, merchantID)
	if err != nil {
		return invoice.Invoice{}, mapStoreErr(err, "merchant", merchantID)
	}
	recipient := m.WalletAddress
	if recipient == "" {
		recipient = s.recipient
	}
	if !solana.ValidAddress(recipient) {
		return invoice.Invoice{}, svcerrors.Validation("wallet_address", "merchant has no valid receiving wallet")
	}

	tok, amount, err := s.resolveAmount(req)
	if err != nil {
		return invoice.Invoice{}, err
	}

	reference, err := solana.NewReference()
	if err != nil {
		return invoice.Invoice{}, svcerrors.Internal("generate reference", err)
	}

	now := s.now()
	inv := invoice.Invoice{
		MerchantID:  m.ID,
		Reference:   reference.String(),
		AmountCents: req.AmountCents,
		Currency:    "BRL",
		PaymentMint: tok.Mint,
		TokenAmount: amount,
		Recipient:   recipient,
		ProductIDs:  req.ProductIDs,
		Status:      invoice.StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.timeout),
	}

	// Refs are short; retry on the rare collision.
	for attempt := 0; attempt < 5; attempt++ {
		inv.Ref, err = s.newRef()
		if err != nil {
			return invoice.Invoice{}, svcerrors.Internal("generate ref", err)
		}
		created, err := s.store.CreateInvoice(ctx, inv)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return invoice.Invoice{}, mapStoreErr(err, "invoice", inv.Ref)
		}
		metrics.RecordTransition(string(invoice.StatusPending), "created")
		s.log.WithField("ref", created.Ref).
			WithField("merchant_id", m.ID).
			WithField("amount", created.AmountBRL()).
			WithField("mint", tok.Symbol).
			Info("invoice created")
		return created, nil
	}
	return invoice.Invoice{}, svcerrors.Conflict("could not allocate a unique invoice ref")
}

func (s *Service) resolveAmount(req CreateRequest) (tokens.Token, uint64, error) {
	if s.tokens == nil {
		return tokens.Token{}, 0, svcerrors.Unavailable("token registry not loaded", nil)
	}
	tok := s.tokens.DefaultPayment()
	if strings.TrimSpace(req.Token) != "" {
		var ok bool
		tok, ok = s.tokens.Resolve(req.Token)
		if !ok {
			return tokens.Token{}, 0, svcerrors.Validation("token", fmt.Sprintf("unsupported token %s", req.Token))
		}
	}
	if req.TokenAmount > 0 {
		return tok, req.TokenAmount, nil
	}
	if tok.Peg != "BRL" {
		return tokens.Token{}, 0, svcerrors.Validation("token_amount", fmt.Sprintf("token_amount is required when paying in %s", tok.Symbol))
	}
	amount, err := tokens.FromCents(req.AmountCents, tok)
	if err != nil {
		return tokens.Token{}, 0, svcerrors.Validation("amount", err.Error())
	}
	return tok, amount, nil
}

// Get loads an invoice by ref.
func (s *Service) Get(ctx context.Context, ref string) (invoice.Invoice, error) {
	ref = strings.ToUpper(strings.TrimSpace(ref))
	if ref == "" {
		return invoice.Invoice{}, svcerrors.Validation("ref", "ref is required")
	}
	inv, err := s.store.GetInvoiceByRef(ctx, ref)
	if err != nil {
		return invoice.Invoice{}, mapStoreErr(err, "invoice", ref)
	}
	return inv, nil
}

// GetForMerchant loads an invoice and checks that merchantID owns it.
func (s *Service) GetForMerchant(ctx context.Context, merchantID, ref string) (invoice.Invoice, error) {
	inv, err := s.Get(ctx, ref)
	if err != nil {
		return invoice.Invoice{}, err
	}
	if inv.MerchantID != merchantID {
		// Do not reveal other merchants' refs.
		return invoice.Invoice{}, svcerrors.NotFound("invoice", inv.Ref)
	}
	return inv, nil
}

// List returns the merchant's invoices between from and to, newest first. A
// zero from defaults to DefaultWindow before to.
func (s *Service) List(ctx context.Context, merchantID string, from, to time.Time) ([]invoice.Invoice, error) {
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.Add(-DefaultWindow)
	}
	if from.After(to) {
		return nil, svcerrors.Validation("from", "from must be before to")
	}
	list, err := s.store.ListInvoices(ctx, invoice.Filter{MerchantID: merchantID, From: from, To: to})
	if err != nil {
		return nil, svcerrors.Internal("list invoices", err)
	}
	return list, nil
}

// Recent returns the merchant's latest invoices.
func (s *Service) Recent(ctx context.Context, merchantID string, limit int) ([]invoice.Invoice, error) {
	list, err := s.store.ListInvoices(ctx, invoice.Filter{MerchantID: merchantID, Limit: limit})
	if err != nil {
		return nil, svcerrors.Internal("list invoices", err)
	}
	return list, nil
}

// PaymentRequest builds the Solana Pay transfer request for inv.
func (s *Service) PaymentRequest(inv invoice.Invoice, label string) (solana.TransferRequest, error) {
	recipient, err := solana.ParsePublicKey(inv.Recipient)
	if err != nil {
		return solana.TransferRequest{}, svcerrors.Internal("invoice recipient is invalid", err)
	}
	req := solana.TransferRequest{
		Recipient: recipient,
		Label:     label,
		Message:   inv.Ref,
	}
	if inv.Reference != "" {
		ref, err := solana.ParsePublicKey(inv.Reference)
		if err != nil {
			return solana.TransferRequest{}, svcerrors.Internal("invoice reference is invalid", err)
		}
		req.References = []solana.PublicKey{ref}
	}

	decimals := 9
	if tok, ok := s.lookup(inv.PaymentMint); ok {
		decimals = tok.Decimals
		if !tok.IsNative() {
			req.SPLToken = tok.Mint
		}
	} else if inv.PaymentMint != "" && inv.PaymentMint != tokens.NativeMint {
		return solana.TransferRequest{}, svcerrors.Internal("invoice mint is not registered", nil).WithDetails("mint", inv.PaymentMint)
	}
	req.Amount = tokens.FormatUnits(inv.TokenAmount, decimals)
	return req, nil
}

// MerchantLabel returns the display name used in payment requests.
func (s *Service) MerchantLabel(ctx context.Context, merchantID string) string {
	m, err := s.merchants.GetMerchant(ctx, merchantID)
	if err != nil || m.Name == "" {
		return "Solana POS"
	}
	return m.Name
}

// Merchant loads the invoice owner.
func (s *Service) Merchant(ctx context.Context, merchantID string) (merchant.Merchant, error) {
	m, err := s.merchants.GetMerchant(ctx, merchantID)
	if err != nil {
		return merchant.Merchant{}, mapStoreErr(err, "merchant", merchantID)
	}
	return m, nil
}

func (s *Service) lookup(mint string) (tokens.Token, bool) {
	if s.tokens == nil || mint == "" {
		return tokens.Token{}, false
	}
	return s.tokens.ByMint(mint)
}

// Token returns the registry entry of the invoice mint.
func (s *Service) Token(inv invoice.Invoice) (tokens.Token, bool) {
	return s.lookup(inv.PaymentMint)
}

func mapStoreErr(err error, resource, id string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return svcerrors.NotFound(resource, id)
	case errors.Is(err, storage.ErrConflict):
		return svcerrors.Conflict(resource + " conflict").WithDetails("id", id)
	case errors.Is(err, storage.ErrInvalidTransition):
		return svcerrors.Conflict("invalid status transition").WithDetails("ref", id)
	}
	return svcerrors.Internal(resource+" storage failure", err)
}
