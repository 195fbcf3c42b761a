// Package supabase implements the storage interfaces over Supabase PostgREST.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
	"github.com/solpos/service_layer/internal/app/domain/merchant"
	"github.com/solpos/service_layer/internal/app/domain/settlement"
	"github.com/solpos/service_layer/internal/app/storage"
	"github.com/solpos/service_layer/supabase/client"
)

// Store talks to the same schema as the postgres store through PostgREST and
// the plpgsql functions installed by the migrations. It runs with the service
// key, so it passes merchant and user ids explicitly instead of relying on
// current_merchant().
type Store struct {
	db *client.Client
}

var _ storage.MerchantStore = (*Store)(nil)
var _ storage.InvoiceStore = (*Store)(nil)
var _ storage.SettlementStore = (*Store)(nil)

// New wraps a Supabase client.
func New(db *client.Client) *Store {
	return &Store{db: db}
}

// check converts transport and API failures into storage sentinels.
func check(resp *client.Response, err error) error {
	if err != nil {
		return err
	}
	apiErr := resp.Error()
	if apiErr == nil {
		return nil
	}
	var e *client.APIError
	if !errors.As(apiErr, &e) {
		return apiErr
	}
	switch {
	case e.Code == "P0002", e.Code == "23503", e.NoRows():
		return fmt.Errorf("%w: %s", storage.ErrNotFound, e.Message)
	case e.Code == "P0001" && strings.Contains(e.Message, "invalid_transition"):
		return storage.ErrInvalidTransition
	case e.UniqueViolation():
		return fmt.Errorf("%w: %s", storage.ErrConflict, e.Message)
	}
	return apiErr
}

func first[T any](resp *client.Response) (T, error) {
	var rows []T
	var zero T
	if err := resp.JSON(&rows); err != nil {
		return zero, fmt.Errorf("decode rows: %w", err)
	}
	if len(rows) == 0 {
		return zero, storage.ErrNotFound
	}
	return rows[0], nil
}

// --- MerchantStore ----------------------------------------------------------

type merchantRow struct {
	ID             string    `json:"id,omitempty"`
	Name           string    `json:"name"`
	LogoURL        string    `json:"logo_url"`
	WalletAddress  string    `json:"wallet_address"`
	Category       string    `json:"category"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	PixSettlement  bool      `json:"pix_settlement"`
	PayWithBinance bool      `json:"pay_with_binance"`
	UseProgram     bool      `json:"use_program"`
	DemoMode       bool      `json:"demo_mode"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (r merchantRow) model() merchant.Merchant {
	return merchant.Merchant{
		ID:            r.ID,
		Name:          r.Name,
		LogoURL:       r.LogoURL,
		WalletAddress: r.WalletAddress,
		WalletMasked:  merchant.MaskWallet(r.WalletAddress),
		Category:      r.Category,
		Email:         r.Email,
		Phone:         r.Phone,
		Flags: merchant.Flags{
			PixSettlement:  r.PixSettlement,
			PayWithBinance: r.PayWithBinance,
			UseProgram:     r.UseProgram,
			DemoMode:       r.DemoMode,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func merchantRowFrom(m merchant.Merchant) merchantRow {
	return merchantRow{
		ID:             m.ID,
		Name:           m.Name,
		LogoURL:        m.LogoURL,
		WalletAddress:  m.WalletAddress,
		Category:       m.Category,
		Email:          m.Email,
		Phone:          m.Phone,
		PixSettlement:  m.Flags.PixSettlement,
		PayWithBinance: m.Flags.PayWithBinance,
		UseProgram:     m.Flags.UseProgram,
		DemoMode:       m.Flags.DemoMode,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func (s *Store) CreateMerchant(ctx context.Context, m merchant.Merchant) (merchant.Merchant, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now

	resp, err := s.db.From("merchants").ExecuteInsert(ctx, merchantRowFrom(m))
	if err := check(resp, err); err != nil {
		return merchant.Merchant{}, err
	}
	row, err := first[merchantRow](resp)
	if err != nil {
		return merchant.Merchant{}, err
	}
	return row.model(), nil
}

func (s *Store) UpdateMerchant(ctx context.Context, m merchant.Merchant) (merchant.Merchant, error) {
	m.UpdatedAt = time.Now().UTC()
	row := merchantRowFrom(m)
	patch := map[string]any{
		"name":             row.Name,
		"logo_url":         row.LogoURL,
		"wallet_address":   row.WalletAddress,
		"category":         row.Category,
		"email":            row.Email,
		"phone":            row.Phone,
		"pix_settlement":   row.PixSettlement,
		"pay_with_binance": row.PayWithBinance,
		"use_program":      row.UseProgram,
		"demo_mode":        row.DemoMode,
		"updated_at":       row.UpdatedAt,
	}
	resp, err := s.db.From("merchants").Eq("id", m.ID).ExecuteUpdate(ctx, patch)
	if err := check(resp, err); err != nil {
		return merchant.Merchant{}, err
	}
	out, err := first[merchantRow](resp)
	if err != nil {
		return merchant.Merchant{}, err
	}
	return out.model(), nil
}

func (s *Store) GetMerchant(ctx context.Context, id string) (merchant.Merchant, error) {
	resp, err := s.db.From("merchants").Select("*").Eq("id", id).Limit(1).Execute(ctx)
	if err := check(resp, err); err != nil {
		return merchant.Merchant{}, err
	}
	row, err := first[merchantRow](resp)
	if err != nil {
		return merchant.Merchant{}, err
	}
	return row.model(), nil
}

type memberRow struct {
	UserID     string    `json:"user_id"`
	MerchantID string    `json:"merchant_id"`
	Role       string    `json:"role"`
	IsDefault  bool      `json:"is_default"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Store) AddMember(ctx context.Context, member merchant.Member) (merchant.Member, error) {
	if member.Status == "" {
		member.Status = merchant.MemberActive
	}
	member.CreatedAt = time.Now().UTC()
	resp, err := s.db.From("merchant_members").ExecuteInsert(ctx, memberRow(member))
	if err := check(resp, err); err != nil {
		return merchant.Member{}, err
	}
	return member, nil
}

func (s *Store) ListMemberships(ctx context.Context, userID string) ([]merchant.Member, error) {
	resp, err := s.db.From("merchant_members").Select("*").Eq("user_id", userID).Order("created_at", true).Execute(ctx)
	if err := check(resp, err); err != nil {
		return nil, err
	}
	var rows []memberRow
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}
	out := make([]merchant.Member, 0, len(rows))
	for _, r := range rows {
		out = append(out, merchant.Member(r))
	}
	return out, nil
}

func (s *Store) SetDefaultMerchant(ctx context.Context, userID, merchantID string) error {
	resp, err := s.db.RPC(ctx, "set_default_merchant", map[string]any{
		"p_user_id":     userID,
		"p_merchant_id": merchantID,
	})
	return check(resp, err)
}

// --- InvoiceStore -----------------------------------------------------------

type invoiceRow struct {
	ID            string     `json:"id"`
	MerchantID    string     `json:"merchant_id"`
	PaymentID     *string    `json:"payment_id"`
	Ref           string     `json:"ref"`
	Reference     string     `json:"reference"`
	AmountCents   int64      `json:"amount_cents"`
	Currency      string     `json:"currency"`
	PaymentMint   string     `json:"payment_mint"`
	TokenAmount   string     `json:"token_amount"`
	Recipient     string     `json:"recipient"`
	ProductIDs    []string   `json:"product_ids"`
	Status        string     `json:"status"`
	TxHash        string     `json:"tx_hash"`
	FailureReason string     `json:"failure_reason"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	ConfirmedAt   *time.Time `json:"confirmed_at"`
	SettledAt     *time.Time `json:"settled_at"`
}

func (r invoiceRow) model() invoice.Invoice {
	amount, _ := strconv.ParseUint(r.TokenAmount, 10, 64)
	inv := invoice.Invoice{
		ID:            r.ID,
		MerchantID:    r.MerchantID,
		Ref:           r.Ref,
		Reference:     r.Reference,
		AmountCents:   r.AmountCents,
		Currency:      r.Currency,
		PaymentMint:   r.PaymentMint,
		TokenAmount:   amount,
		Recipient:     r.Recipient,
		ProductIDs:    r.ProductIDs,
		Status:        invoice.Status(r.Status),
		TxHash:        r.TxHash,
		FailureReason: r.FailureReason,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		ExpiresAt:     r.ExpiresAt,
		ConfirmedAt:   r.ConfirmedAt,
		SettledAt:     r.SettledAt,
	}
	if r.PaymentID != nil {
		inv.PaymentID = *r.PaymentID
	}
	return inv
}

func (s *Store) CreateInvoice(ctx context.Context, inv invoice.Invoice) (invoice.Invoice, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.PaymentID == "" {
		inv.PaymentID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	products := inv.ProductIDs
	if products == nil {
		products = []string{}
	}

	resp, err := s.db.RPC(ctx, "create_invoice_with_payment", map[string]any{
		"p_id":           inv.ID,
		"p_payment_id":   inv.PaymentID,
		"p_merchant_id":  inv.MerchantID,
		"p_ref":          inv.Ref,
		"p_reference":    inv.Reference,
		"p_amount_cents": inv.AmountCents,
		"p_currency":     inv.Currency,
		"p_payment_mint": inv.PaymentMint,
		"p_token_amount": strconv.FormatUint(inv.TokenAmount, 10),
		"p_recipient":    inv.Recipient,
		"p_product_ids":  products,
		"p_created_at":   inv.CreatedAt,
		"p_expires_at":   inv.ExpiresAt,
	})
	if err := check(resp, err); err != nil {
		return invoice.Invoice{}, err
	}
	row, err := first[invoiceRow](resp)
	if err != nil {
		return invoice.Invoice{}, err
	}
	return row.model(), nil
}

func (s *Store) GetInvoiceByRef(ctx context.Context, ref string) (invoice.Invoice, error) {
	resp, err := s.db.From("invoice_details").Select("*").Eq("ref", strings.ToUpper(ref)).Limit(1).Execute(ctx)
	if err := check(resp, err); err != nil {
		return invoice.Invoice{}, err
	}
	row, err := first[invoiceRow](resp)
	if err != nil {
		return invoice.Invoice{}, err
	}
	return row.model(), nil
}

func (s *Store) ListInvoices(ctx context.Context, filter invoice.Filter) ([]invoice.Invoice, error) {
	q := s.db.From("invoice_details").Select("*").Order("created_at", false)
	if filter.MerchantID != "" {
		q = q.Eq("merchant_id", filter.MerchantID)
	}
	if !filter.From.IsZero() {
		q = q.Gte("created_at", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Lte("created_at", filter.To)
	}
	if filter.Status != "" {
		q = q.Eq("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	return s.listInvoices(ctx, q)
}

func (s *Store) ListPendingInvoices(ctx context.Context, since time.Time, limit int) ([]invoice.Invoice, error) {
	q := s.db.From("invoice_details").Select("*").
		Eq("status", string(invoice.StatusPending)).
		Order("created_at", true)
	if !since.IsZero() {
		q = q.Gte("created_at", since)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return s.listInvoices(ctx, q)
}

func (s *Store) listInvoices(ctx context.Context, q *client.QueryBuilder) ([]invoice.Invoice, error) {
	resp, err := q.Execute(ctx)
	if err := check(resp, err); err != nil {
		return nil, err
	}
	var rows []invoiceRow
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("decode invoices: %w", err)
	}
	out := make([]invoice.Invoice, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *Store) TransitionInvoice(ctx context.Context, t storage.Transition) (invoice.Invoice, error) {
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	fn, params := transitionCall(t, at)
	resp, err := s.db.RPC(ctx, fn, params)
	if err := check(resp, err); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			current, getErr := s.GetInvoiceByRef(ctx, t.Ref)
			if getErr == nil {
				return current, err
			}
		}
		return invoice.Invoice{}, err
	}
	row, err := first[invoiceRow](resp)
	if err != nil {
		return invoice.Invoice{}, err
	}
	return row.model(), nil
}

// transitionCall picks the stored procedure for t. Confirmation and
// settlement use their named procedures; other moves carry a reason.
func transitionCall(t storage.Transition, at time.Time) (string, map[string]any) {
	switch t.To {
	case invoice.StatusConfirmed:
		return "mark_confirmed", map[string]any{"_ref": t.Ref, "_tx_hash": t.TxHash}
	case invoice.StatusSettled:
		return "mark_settled", map[string]any{"_ref": t.Ref}
	}
	return "transition_invoice", map[string]any{
		"p_ref":     t.Ref,
		"p_to":      string(t.To),
		"p_tx_hash": t.TxHash,
		"p_reason":  t.Reason,
		"p_at":      at,
	}
}

type receiptRow struct {
	ID        string              `json:"id"`
	InvoiceID string              `json:"invoice_id"`
	PaymentID string              `json:"payment_id"`
	Data      invoice.ReceiptData `json:"receipt_data"`
	CreatedAt time.Time           `json:"created_at"`
}

func (s *Store) CreateReceipt(ctx context.Context, r invoice.Receipt) (invoice.Receipt, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = time.Now().UTC()
	resp, err := s.db.From("receipts").ExecuteInsert(ctx, receiptRow(r))
	if err := check(resp, err); err != nil {
		return invoice.Receipt{}, err
	}
	return r, nil
}

func (s *Store) GetReceipt(ctx context.Context, invoiceID string) (invoice.Receipt, error) {
	resp, err := s.db.From("receipts").Select("*").Eq("invoice_id", invoiceID).Limit(1).Execute(ctx)
	if err := check(resp, err); err != nil {
		return invoice.Receipt{}, err
	}
	row, err := first[receiptRow](resp)
	if err != nil {
		return invoice.Receipt{}, err
	}
	return invoice.Receipt(row), nil
}

// --- SettlementStore --------------------------------------------------------

type settlementRow struct {
	ID           string            `json:"id"`
	InvoiceID    string            `json:"invoice_id"`
	PaymentID    string            `json:"payment_id"`
	MerchantID   string            `json:"merchant_id"`
	InvoiceRef   string            `json:"invoice_ref"`
	Provider     string            `json:"provider"`
	ProviderTxID string            `json:"provider_tx_id"`
	Currency     string            `json:"currency"`
	AmountCents  int64             `json:"amount_cents"`
	FeeCents     int64             `json:"fee_cents"`
	ExchangeRate float64           `json:"exchange_rate"`
	Status       string            `json:"status"`
	RecipientID  string            `json:"recipient_id"`
	TrackingURL  string            `json:"tracking_url"`
	Metadata     map[string]string `json:"metadata"`
	Error        string            `json:"error"`
	RequestedAt  time.Time         `json:"requested_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	CompletedAt  *time.Time        `json:"completed_at"`
}

func (r settlementRow) model() settlement.Settlement {
	return settlement.Settlement{
		ID:           r.ID,
		InvoiceID:    r.InvoiceID,
		PaymentID:    r.PaymentID,
		MerchantID:   r.MerchantID,
		InvoiceRef:   r.InvoiceRef,
		Provider:     settlement.Provider(r.Provider),
		ProviderTxID: r.ProviderTxID,
		Currency:     r.Currency,
		AmountCents:  r.AmountCents,
		FeeCents:     r.FeeCents,
		ExchangeRate: r.ExchangeRate,
		Status:       settlement.Status(r.Status),
		RecipientID:  r.RecipientID,
		TrackingURL:  r.TrackingURL,
		Metadata:     r.Metadata,
		Error:        r.Error,
		RequestedAt:  r.RequestedAt,
		UpdatedAt:    r.UpdatedAt,
		CompletedAt:  r.CompletedAt,
	}
}

func settlementRowFrom(st settlement.Settlement) settlementRow {
	meta := st.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	return settlementRow{
		ID:           st.ID,
		InvoiceID:    st.InvoiceID,
		PaymentID:    st.PaymentID,
		MerchantID:   st.MerchantID,
		InvoiceRef:   st.InvoiceRef,
		Provider:     string(st.Provider),
		ProviderTxID: st.ProviderTxID,
		Currency:     st.Currency,
		AmountCents:  st.AmountCents,
		FeeCents:     st.FeeCents,
		ExchangeRate: st.ExchangeRate,
		Status:       string(st.Status),
		RecipientID:  st.RecipientID,
		TrackingURL:  st.TrackingURL,
		Metadata:     meta,
		Error:        st.Error,
		RequestedAt:  st.RequestedAt,
		UpdatedAt:    st.UpdatedAt,
		CompletedAt:  st.CompletedAt,
	}
}

func (s *Store) CreateSettlement(ctx context.Context, st settlement.Settlement) (settlement.Settlement, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.RequestedAt.IsZero() {
		st.RequestedAt = time.Now().UTC()
	}
	st.UpdatedAt = st.RequestedAt
	resp, err := s.db.From("settlements").ExecuteInsert(ctx, settlementRowFrom(st))
	if err := check(resp, err); err != nil {
		return settlement.Settlement{}, err
	}
	return st, nil
}

func (s *Store) UpdateSettlement(ctx context.Context, st settlement.Settlement) (settlement.Settlement, error) {
	st.UpdatedAt = time.Now().UTC()
	row := settlementRowFrom(st)
	patch := map[string]any{
		"provider_tx_id": row.ProviderTxID,
		"amount_cents":   row.AmountCents,
		"fee_cents":      row.FeeCents,
		"exchange_rate":  row.ExchangeRate,
		"status":         row.Status,
		"tracking_url":   row.TrackingURL,
		"metadata":       row.Metadata,
		"error":          row.Error,
		"updated_at":     row.UpdatedAt,
		"completed_at":   row.CompletedAt,
	}
	resp, err := s.db.From("settlements").Eq("id", st.ID).ExecuteUpdate(ctx, patch)
	if err := check(resp, err); err != nil {
		return settlement.Settlement{}, err
	}
	out, err := first[settlementRow](resp)
	if err != nil {
		return settlement.Settlement{}, err
	}
	return out.model(), nil
}

func (s *Store) GetSettlement(ctx context.Context, id string) (settlement.Settlement, error) {
	resp, err := s.db.From("settlements").Select("*").Eq("id", id).Single().Execute(ctx)
	if err := check(resp, err); err != nil {
		return settlement.Settlement{}, err
	}
	var row settlementRow
	if err := resp.JSON(&row); err != nil {
		return settlement.Settlement{}, fmt.Errorf("decode settlement: %w", err)
	}
	return row.model(), nil
}

func (s *Store) ActiveSettlement(ctx context.Context, invoiceID string) (settlement.Settlement, error) {
	resp, err := s.db.From("settlements").Select("*").
		Eq("invoice_id", invoiceID).
		In("status", []string{string(settlement.StatusPending), string(settlement.StatusProcessing), string(settlement.StatusCompleted)}).
		Order("requested_at", false).
		Limit(1).
		Execute(ctx)
	if err := check(resp, err); err != nil {
		return settlement.Settlement{}, err
	}
	row, err := first[settlementRow](resp)
	if err != nil {
		return settlement.Settlement{}, err
	}
	return row.model(), nil
}

type paymentSettlementRow struct {
	ID           string     `json:"id"`
	Provider     string     `json:"settlement_provider"`
	SettlementID string     `json:"settlement_id"`
	ProviderTxID string     `json:"settlement_tx_id"`
	Status       string     `json:"settlement_status"`
	Currency     string     `json:"settlement_currency"`
	AmountCents  int64      `json:"settlement_amount_cents"`
	FeeCents     int64      `json:"settlement_fee_cents"`
	RequestedAt  time.Time  `json:"settlement_requested_at"`
	CompletedAt  *time.Time `json:"settlement_completed_at"`
}

func (s *Store) UpdatePaymentSettlement(ctx context.Context, ps settlement.PaymentSettlement) error {
	patch := map[string]any{
		"settlement_provider":     string(ps.Provider),
		"settlement_id":           ps.SettlementID,
		"settlement_tx_id":        ps.ProviderTxID,
		"settlement_status":       string(ps.Status),
		"settlement_currency":     ps.Currency,
		"settlement_amount_cents": ps.AmountCents,
		"settlement_fee_cents":    ps.FeeCents,
		"settlement_requested_at": ps.RequestedAt,
		"settlement_completed_at": ps.CompletedAt,
		"updated_at":              time.Now().UTC(),
	}
	resp, err := s.db.From("payments").Eq("id", ps.PaymentID).ExecuteUpdate(ctx, patch)
	if err := check(resp, err); err != nil {
		return err
	}
	_, err = first[paymentSettlementRow](resp)
	return err
}

func (s *Store) GetPaymentSettlement(ctx context.Context, paymentID string) (settlement.PaymentSettlement, error) {
	resp, err := s.db.From("payments").
		Select("id,settlement_provider,settlement_id,settlement_tx_id,settlement_status,settlement_currency,"+
			"settlement_amount_cents,settlement_fee_cents,settlement_requested_at,settlement_completed_at").
		Eq("id", paymentID).
		Limit(1).
		Execute(ctx)
	if err := check(resp, err); err != nil {
		return settlement.PaymentSettlement{}, err
	}
	row, err := first[paymentSettlementRow](resp)
	if err != nil {
		return settlement.PaymentSettlement{}, err
	}
	if row.SettlementID == "" {
		return settlement.PaymentSettlement{}, storage.ErrNotFound
	}
	return settlement.PaymentSettlement{
		PaymentID:    row.ID,
		Provider:     settlement.Provider(row.Provider),
		SettlementID: row.SettlementID,
		ProviderTxID: row.ProviderTxID,
		Status:       settlement.Status(row.Status),
		Currency:     row.Currency,
		AmountCents:  row.AmountCents,
		FeeCents:     row.FeeCents,
		RequestedAt:  row.RequestedAt,
		CompletedAt:  row.CompletedAt,
	}, nil
}

func (s *Store) ListSettlements(ctx context.Context, merchantID string, limit int) ([]settlement.Settlement, error) {
	q := s.db.From("settlements").Select("*").Order("requested_at", false)
	if merchantID != "" {
		q = q.Eq("merchant_id", merchantID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return s.listSettlements(ctx, q)
}

func (s *Store) ListOpenSettlements(ctx context.Context, limit int) ([]settlement.Settlement, error) {
	q := s.db.From("settlements").Select("*").
		In("status", []string{string(settlement.StatusPending), string(settlement.StatusProcessing)}).
		Order("requested_at", true)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return s.listSettlements(ctx, q)
}

func (s *Store) listSettlements(ctx context.Context, q *client.QueryBuilder) ([]settlement.Settlement, error) {
	resp, err := q.Execute(ctx)
	if err := check(resp, err); err != nil {
		return nil, err
	}
	var rows []settlementRow
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("decode settlements: %w", err)
	}
	out := make([]settlement.Settlement, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}
