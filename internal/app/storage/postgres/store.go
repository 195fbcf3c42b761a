package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
	"github.com/solpos/service_layer/internal/app/domain/merchant"
	"github.com/solpos/service_layer/internal/app/domain/settlement"
	"github.com/solpos/service_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.MerchantStore = (*Store)(nil)
var _ storage.InvoiceStore = (*Store)(nil)
var _ storage.SettlementStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// mapError translates driver errors into storage sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", storage.ErrConflict, pqErr.Constraint)
		case "23503":
			return fmt.Errorf("%w: %s", storage.ErrNotFound, pqErr.Constraint)
		}
	}
	return err
}

// --- MerchantStore ----------------------------------------------------------

type merchantRow struct {
	ID             string    `db:"id"`
	Name           string    `db:"name"`
	LogoURL        string    `db:"logo_url"`
	WalletAddress  string    `db:"wallet_address"`
	Category       string    `db:"category"`
	Email          string    `db:"email"`
	Phone          string    `db:"phone"`
	PixSettlement  bool      `db:"pix_settlement"`
	PayWithBinance bool      `db:"pay_with_binance"`
	UseProgram     bool      `db:"use_program"`
	DemoMode       bool      `db:"demo_mode"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
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

const merchantColumns = `id, name, logo_url, wallet_address, category, email, phone,
	pix_settlement, pay_with_binance, use_program, demo_mode, created_at, updated_at`

func (s *Store) CreateMerchant(ctx context.Context, m merchant.Merchant) (merchant.Merchant, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO merchants (`+merchantColumns+`)
		VALUES (:id, :name, :logo_url, :wallet_address, :category, :email, :phone,
			:pix_settlement, :pay_with_binance, :use_program, :demo_mode, :created_at, :updated_at)
	`, merchantRowFrom(m))
	if err != nil {
		return merchant.Merchant{}, mapError(err)
	}
	return merchantRowFrom(m).model(), nil
}

func (s *Store) UpdateMerchant(ctx context.Context, m merchant.Merchant) (merchant.Merchant, error) {
	m.UpdatedAt = time.Now().UTC()

	var row merchantRow
	query, args, err := s.db.BindNamed(`
		UPDATE merchants SET
			name = :name, logo_url = :logo_url, wallet_address = :wallet_address,
			category = :category, email = :email, phone = :phone,
			pix_settlement = :pix_settlement, pay_with_binance = :pay_with_binance,
			use_program = :use_program, demo_mode = :demo_mode, updated_at = :updated_at
		WHERE id = :id
		RETURNING `+merchantColumns, merchantRowFrom(m))
	if err != nil {
		return merchant.Merchant{}, err
	}
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		return merchant.Merchant{}, mapError(err)
	}
	return row.model(), nil
}

func (s *Store) GetMerchant(ctx context.Context, id string) (merchant.Merchant, error) {
	var row merchantRow
	err := s.db.GetContext(ctx, &row, `SELECT `+merchantColumns+` FROM merchants WHERE id = $1`, id)
	if err != nil {
		return merchant.Merchant{}, mapError(err)
	}
	return row.model(), nil
}

type memberRow struct {
	UserID     string    `db:"user_id"`
	MerchantID string    `db:"merchant_id"`
	Role       string    `db:"role"`
	IsDefault  bool      `db:"is_default"`
	Status     string    `db:"status"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r memberRow) model() merchant.Member {
	return merchant.Member(r)
}

func (s *Store) AddMember(ctx context.Context, member merchant.Member) (merchant.Member, error) {
	if member.Status == "" {
		member.Status = merchant.MemberActive
	}
	member.CreatedAt = time.Now().UTC()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO merchant_members (user_id, merchant_id, role, is_default, status, created_at)
		VALUES (:user_id, :merchant_id, :role, :is_default, :status, :created_at)
	`, memberRow(member))
	if err != nil {
		return merchant.Member{}, mapError(err)
	}
	return member, nil
}

func (s *Store) ListMemberships(ctx context.Context, userID string) ([]merchant.Member, error) {
	var rows []memberRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT user_id, merchant_id, role, is_default, status, created_at
		FROM merchant_members
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]merchant.Member, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *Store) SetDefaultMerchant(ctx context.Context, userID, merchantID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	var exists bool
	err = tx.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM merchant_members
			WHERE user_id = $1 AND merchant_id = $2 AND status = 'active')
	`, userID, merchantID)
	if err != nil {
		return mapError(err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `UPDATE merchant_members SET is_default = FALSE WHERE user_id = $1 AND is_default`, userID); err != nil {
		return mapError(err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE merchant_members SET is_default = TRUE WHERE user_id = $1 AND merchant_id = $2`, userID, merchantID); err != nil {
		return mapError(err)
	}
	return tx.Commit()
}

// --- InvoiceStore -----------------------------------------------------------

type invoiceRow struct {
	ID            string         `db:"id"`
	MerchantID    string         `db:"merchant_id"`
	PaymentID     sql.NullString `db:"payment_id"`
	Ref           string         `db:"ref"`
	Reference     string         `db:"reference"`
	AmountCents   int64          `db:"amount_cents"`
	Currency      string         `db:"currency"`
	PaymentMint   string         `db:"payment_mint"`
	TokenAmount   string         `db:"token_amount"`
	Recipient     string         `db:"recipient"`
	ProductIDs    pq.StringArray `db:"product_ids"`
	Status        string         `db:"status"`
	TxHash        string         `db:"tx_hash"`
	FailureReason string         `db:"failure_reason"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
	ExpiresAt     time.Time      `db:"expires_at"`
	ConfirmedAt   *time.Time     `db:"confirmed_at"`
	SettledAt     *time.Time     `db:"settled_at"`
}

func (r invoiceRow) model() invoice.Invoice {
	amount, _ := strconv.ParseUint(r.TokenAmount, 10, 64)
	return invoice.Invoice{
		ID:            r.ID,
		MerchantID:    r.MerchantID,
		PaymentID:     r.PaymentID.String,
		Ref:           r.Ref,
		Reference:     r.Reference,
		AmountCents:   r.AmountCents,
		Currency:      r.Currency,
		PaymentMint:   r.PaymentMint,
		TokenAmount:   amount,
		Recipient:     r.Recipient,
		ProductIDs:    []string(r.ProductIDs),
		Status:        invoice.Status(r.Status),
		TxHash:        r.TxHash,
		FailureReason: r.FailureReason,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		ExpiresAt:     r.ExpiresAt,
		ConfirmedAt:   r.ConfirmedAt,
		SettledAt:     r.SettledAt,
	}
}

const invoiceColumns = `id, merchant_id, payment_id, ref, reference, amount_cents, currency,
	payment_mint, token_amount, recipient, product_ids, status, tx_hash, failure_reason,
	created_at, updated_at, expires_at, confirmed_at, settled_at`

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
	inv.UpdatedAt = inv.CreatedAt
	inv.Status = invoice.StatusPending

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return invoice.Invoice{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (id, merchant_id, ref, amount_cents, currency, product_ids,
			status, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9)
	`, inv.ID, inv.MerchantID, inv.Ref, inv.AmountCents, inv.Currency,
		pq.StringArray(inv.ProductIDs), string(inv.Status), inv.CreatedAt, inv.ExpiresAt)
	if err != nil {
		return invoice.Invoice{}, mapError(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (id, invoice_id, reference, payment_mint, token_amount, recipient,
			status, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $8)
	`, inv.PaymentID, inv.ID, inv.Reference, inv.PaymentMint,
		strconv.FormatUint(inv.TokenAmount, 10), inv.Recipient, string(inv.Status), inv.CreatedAt)
	if err != nil {
		return invoice.Invoice{}, mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return invoice.Invoice{}, err
	}
	return inv, nil
}

func (s *Store) GetInvoiceByRef(ctx context.Context, ref string) (invoice.Invoice, error) {
	var row invoiceRow
	err := s.db.GetContext(ctx, &row, `SELECT `+invoiceColumns+` FROM invoice_details WHERE ref = $1`, strings.ToUpper(ref))
	if err != nil {
		return invoice.Invoice{}, mapError(err)
	}
	return row.model(), nil
}

func (s *Store) ListInvoices(ctx context.Context, filter invoice.Filter) ([]invoice.Invoice, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.MerchantID != "" {
		add("merchant_id = $%d", filter.MerchantID)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoice_details`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	return s.selectInvoices(ctx, query, args...)
}

func (s *Store) ListPendingInvoices(ctx context.Context, since time.Time, limit int) ([]invoice.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoice_details WHERE status = 'pending'`
	var args []any
	if !since.IsZero() {
		query += ` AND created_at >= $1`
		args = append(args, since)
	}
	query += ` ORDER BY created_at`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	return s.selectInvoices(ctx, query, args...)
}

func (s *Store) selectInvoices(ctx context.Context, query string, args ...any) ([]invoice.Invoice, error) {
	var rows []invoiceRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError(err)
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
	ref := strings.ToUpper(t.Ref)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return invoice.Invoice{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	var current invoiceRow
	err = tx.GetContext(ctx, &current, `SELECT `+invoiceColumns+` FROM invoice_details WHERE ref = $1`, ref)
	if err != nil {
		return invoice.Invoice{}, mapError(err)
	}
	// Row lock on the base table; the view cannot be locked directly.
	var status string
	if err := tx.GetContext(ctx, &status, `SELECT status FROM invoices WHERE id = $1 FOR UPDATE`, current.ID); err != nil {
		return invoice.Invoice{}, mapError(err)
	}
	current.Status = status
	if !invoice.CanTransition(invoice.Status(status), t.To) {
		return current.model(), storage.ErrInvalidTransition
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE invoices SET
			status = $2,
			updated_at = $3,
			confirmed_at = CASE WHEN $2 = 'confirmed' THEN $3 ELSE confirmed_at END,
			settled_at = CASE WHEN $2 = 'settled' THEN $3 ELSE settled_at END,
			failure_reason = CASE WHEN $2 = 'error' THEN $4 ELSE failure_reason END
		WHERE id = $1
	`, current.ID, string(t.To), at, t.Reason)
	if err != nil {
		return invoice.Invoice{}, mapError(err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payments SET
			status = $2,
			tx_hash = COALESCE(NULLIF($3, ''), tx_hash),
			updated_at = $4
		WHERE invoice_id = $1
	`, current.ID, string(t.To), t.TxHash, at)
	if err != nil {
		return invoice.Invoice{}, mapError(err)
	}

	var updated invoiceRow
	if err := tx.GetContext(ctx, &updated, `SELECT `+invoiceColumns+` FROM invoice_details WHERE id = $1`, current.ID); err != nil {
		return invoice.Invoice{}, mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return invoice.Invoice{}, err
	}
	return updated.model(), nil
}

func (s *Store) CreateReceipt(ctx context.Context, r invoice.Receipt) (invoice.Receipt, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(r.Data)
	if err != nil {
		return invoice.Receipt{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO receipts (id, invoice_id, payment_id, receipt_data, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, r.ID, r.InvoiceID, r.PaymentID, data, r.CreatedAt)
	if err != nil {
		return invoice.Receipt{}, mapError(err)
	}
	return r, nil
}

func (s *Store) GetReceipt(ctx context.Context, invoiceID string) (invoice.Receipt, error) {
	var row struct {
		ID        string    `db:"id"`
		InvoiceID string    `db:"invoice_id"`
		PaymentID string    `db:"payment_id"`
		Data      []byte    `db:"receipt_data"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT id, invoice_id, payment_id, receipt_data, created_at
		FROM receipts WHERE invoice_id = $1
	`, invoiceID)
	if err != nil {
		return invoice.Receipt{}, mapError(err)
	}
	r := invoice.Receipt{ID: row.ID, InvoiceID: row.InvoiceID, PaymentID: row.PaymentID, CreatedAt: row.CreatedAt}
	if err := json.Unmarshal(row.Data, &r.Data); err != nil {
		return invoice.Receipt{}, fmt.Errorf("decode receipt %s: %w", row.ID, err)
	}
	return r, nil
}

// --- SettlementStore --------------------------------------------------------

type settlementRow struct {
	ID           string     `db:"id"`
	InvoiceID    string     `db:"invoice_id"`
	PaymentID    string     `db:"payment_id"`
	MerchantID   string     `db:"merchant_id"`
	InvoiceRef   string     `db:"invoice_ref"`
	Provider     string     `db:"provider"`
	ProviderTxID string     `db:"provider_tx_id"`
	Currency     string     `db:"currency"`
	AmountCents  int64      `db:"amount_cents"`
	FeeCents     int64      `db:"fee_cents"`
	ExchangeRate float64    `db:"exchange_rate"`
	Status       string     `db:"status"`
	RecipientID  string     `db:"recipient_id"`
	TrackingURL  string     `db:"tracking_url"`
	Metadata     []byte     `db:"metadata"`
	Error        string     `db:"error"`
	RequestedAt  time.Time  `db:"requested_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
	CompletedAt  *time.Time `db:"completed_at"`
}

func (r settlementRow) model() settlement.Settlement {
	st := settlement.Settlement{
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
		Error:        r.Error,
		RequestedAt:  r.RequestedAt,
		UpdatedAt:    r.UpdatedAt,
		CompletedAt:  r.CompletedAt,
	}
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &st.Metadata)
	}
	return st
}

func settlementRowFrom(st settlement.Settlement) (settlementRow, error) {
	meta := st.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return settlementRow{}, err
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
		Metadata:     raw,
		Error:        st.Error,
		RequestedAt:  st.RequestedAt,
		UpdatedAt:    st.UpdatedAt,
		CompletedAt:  st.CompletedAt,
	}, nil
}

const settlementColumns = `id, invoice_id, payment_id, merchant_id, invoice_ref, provider,
	provider_tx_id, currency, amount_cents, fee_cents, exchange_rate, status, recipient_id,
	tracking_url, metadata, error, requested_at, updated_at, completed_at`

func (s *Store) CreateSettlement(ctx context.Context, st settlement.Settlement) (settlement.Settlement, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.RequestedAt.IsZero() {
		st.RequestedAt = time.Now().UTC()
	}
	st.UpdatedAt = st.RequestedAt

	row, err := settlementRowFrom(st)
	if err != nil {
		return settlement.Settlement{}, err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO settlements (`+settlementColumns+`)
		VALUES (:id, :invoice_id, :payment_id, :merchant_id, :invoice_ref, :provider,
			:provider_tx_id, :currency, :amount_cents, :fee_cents, :exchange_rate, :status,
			:recipient_id, :tracking_url, :metadata, :error, :requested_at, :updated_at, :completed_at)
	`, row)
	if err != nil {
		return settlement.Settlement{}, mapError(err)
	}
	return st, nil
}

func (s *Store) UpdateSettlement(ctx context.Context, st settlement.Settlement) (settlement.Settlement, error) {
	st.UpdatedAt = time.Now().UTC()
	row, err := settlementRowFrom(st)
	if err != nil {
		return settlement.Settlement{}, err
	}
	query, args, err := s.db.BindNamed(`
		UPDATE settlements SET
			provider_tx_id = :provider_tx_id, amount_cents = :amount_cents, fee_cents = :fee_cents,
			exchange_rate = :exchange_rate,
			status = :status, tracking_url = :tracking_url, metadata = :metadata, error = :error,
			updated_at = :updated_at, completed_at = :completed_at
		WHERE id = :id
		RETURNING `+settlementColumns, row)
	if err != nil {
		return settlement.Settlement{}, err
	}
	var out settlementRow
	if err := s.db.GetContext(ctx, &out, query, args...); err != nil {
		return settlement.Settlement{}, mapError(err)
	}
	return out.model(), nil
}

func (s *Store) GetSettlement(ctx context.Context, id string) (settlement.Settlement, error) {
	var row settlementRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+settlementColumns+` FROM settlements WHERE id = $1`, id); err != nil {
		return settlement.Settlement{}, mapError(err)
	}
	return row.model(), nil
}

func (s *Store) ListSettlements(ctx context.Context, merchantID string, limit int) ([]settlement.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements`
	var args []any
	if merchantID != "" {
		query += ` WHERE merchant_id = $1`
		args = append(args, merchantID)
	}
	query += ` ORDER BY requested_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	return s.selectSettlements(ctx, query, args...)
}

func (s *Store) ListOpenSettlements(ctx context.Context, limit int) ([]settlement.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements
		WHERE status IN ('pending', 'processing')
		ORDER BY requested_at`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	return s.selectSettlements(ctx, query)
}

func (s *Store) ActiveSettlement(ctx context.Context, invoiceID string) (settlement.Settlement, error) {
	var row settlementRow
	err := s.db.GetContext(ctx, &row, `SELECT `+settlementColumns+` FROM settlements
		WHERE invoice_id = $1 AND status IN ('pending', 'processing', 'completed')
		ORDER BY requested_at DESC
		LIMIT 1`, invoiceID)
	if err != nil {
		return settlement.Settlement{}, mapError(err)
	}
	return row.model(), nil
}

func (s *Store) UpdatePaymentSettlement(ctx context.Context, ps settlement.PaymentSettlement) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments SET
			settlement_provider = $2, settlement_id = $3, settlement_tx_id = $4,
			settlement_status = $5, settlement_currency = $6, settlement_amount_cents = $7,
			settlement_fee_cents = $8, settlement_requested_at = $9, settlement_completed_at = $10,
			updated_at = NOW()
		WHERE id = $1
	`, ps.PaymentID, string(ps.Provider), ps.SettlementID, ps.ProviderTxID, string(ps.Status),
		ps.Currency, ps.AmountCents, ps.FeeCents, ps.RequestedAt, ps.CompletedAt)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type paymentSettlementRow struct {
	PaymentID    string     `db:"id"`
	Provider     string     `db:"settlement_provider"`
	SettlementID string     `db:"settlement_id"`
	ProviderTxID string     `db:"settlement_tx_id"`
	Status       string     `db:"settlement_status"`
	Currency     string     `db:"settlement_currency"`
	AmountCents  int64      `db:"settlement_amount_cents"`
	FeeCents     int64      `db:"settlement_fee_cents"`
	RequestedAt  time.Time  `db:"settlement_requested_at"`
	CompletedAt  *time.Time `db:"settlement_completed_at"`
}

func (s *Store) GetPaymentSettlement(ctx context.Context, paymentID string) (settlement.PaymentSettlement, error) {
	var row paymentSettlementRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, settlement_provider, settlement_id::TEXT AS settlement_id,
			COALESCE(settlement_tx_id, '') AS settlement_tx_id, settlement_status,
			COALESCE(settlement_currency, '') AS settlement_currency,
			COALESCE(settlement_amount_cents, 0) AS settlement_amount_cents,
			COALESCE(settlement_fee_cents, 0) AS settlement_fee_cents,
			settlement_requested_at, settlement_completed_at
		FROM payments
		WHERE id = $1 AND settlement_id IS NOT NULL
	`, paymentID)
	if err != nil {
		return settlement.PaymentSettlement{}, mapError(err)
	}
	return settlement.PaymentSettlement{
		PaymentID:    row.PaymentID,
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

func (s *Store) selectSettlements(ctx context.Context, query string, args ...any) ([]settlement.Settlement, error) {
	var rows []settlementRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError(err)
	}
	out := make([]settlement.Settlement, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}
