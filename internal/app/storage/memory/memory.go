package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
	"github.com/solpos/service_layer/internal/app/domain/merchant"
	"github.com/solpos/service_layer/internal/app/domain/settlement"
	"github.com/solpos/service_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu          sync.RWMutex
	merchants   map[string]merchant.Merchant
	members     map[string][]merchant.Member // by user id
	invoices    map[string]invoice.Invoice   // by ref
	references  map[string]string            // reference -> ref
	txHashes    map[string]string            // tx hash -> ref
	receipts    map[string]invoice.Receipt   // by invoice id
	settlements map[string]settlement.Settlement
	payouts     map[string]settlement.PaymentSettlement // by payment id
}

var _ storage.MerchantStore = (*Store)(nil)
var _ storage.InvoiceStore = (*Store)(nil)
var _ storage.SettlementStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		merchants:   make(map[string]merchant.Merchant),
		members:     make(map[string][]merchant.Member),
		invoices:    make(map[string]invoice.Invoice),
		references:  make(map[string]string),
		txHashes:    make(map[string]string),
		receipts:    make(map[string]invoice.Receipt),
		settlements: make(map[string]settlement.Settlement),
		payouts:     make(map[string]settlement.PaymentSettlement),
	}
}

func now() time.Time { return time.Now().UTC() }

// MerchantStore implementation -------------------------------------------------

func (s *Store) CreateMerchant(_ context.Context, m merchant.Merchant) (merchant.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	} else if _, exists := s.merchants[m.ID]; exists {
		return merchant.Merchant{}, storage.ErrConflict
	}
	m.CreatedAt = now()
	m.UpdatedAt = m.CreatedAt
	m.WalletMasked = merchant.MaskWallet(m.WalletAddress)
	s.merchants[m.ID] = m
	return m, nil
}

func (s *Store) UpdateMerchant(_ context.Context, m merchant.Merchant) (merchant.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.merchants[m.ID]
	if !ok {
		return merchant.Merchant{}, storage.ErrNotFound
	}
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = now()
	m.WalletMasked = merchant.MaskWallet(m.WalletAddress)
	s.merchants[m.ID] = m
	return m, nil
}

func (s *Store) GetMerchant(_ context.Context, id string) (merchant.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.merchants[id]
	if !ok {
		return merchant.Merchant{}, storage.ErrNotFound
	}
	return m, nil
}

func (s *Store) AddMember(_ context.Context, member merchant.Member) (merchant.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.merchants[member.MerchantID]; !ok {
		return merchant.Member{}, storage.ErrNotFound
	}
	for _, existing := range s.members[member.UserID] {
		if existing.MerchantID == member.MerchantID {
			return merchant.Member{}, storage.ErrConflict
		}
	}
	if member.Status == "" {
		member.Status = merchant.MemberActive
	}
	member.CreatedAt = now()
	s.members[member.UserID] = append(s.members[member.UserID], member)
	return member, nil
}

func (s *Store) ListMemberships(_ context.Context, userID string) ([]merchant.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]merchant.Member, len(s.members[userID]))
	copy(out, s.members[userID])
	return out, nil
}

func (s *Store) SetDefaultMerchant(_ context.Context, userID, merchantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.members[userID]
	found := false
	for i := range list {
		if list[i].MerchantID == merchantID && list[i].Active() {
			found = true
		}
	}
	if !found {
		return storage.ErrNotFound
	}
	for i := range list {
		list[i].IsDefault = list[i].MerchantID == merchantID
	}
	return nil
}

// InvoiceStore implementation --------------------------------------------------

func (s *Store) CreateInvoice(_ context.Context, inv invoice.Invoice) (invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoices[inv.Ref]; exists {
		return invoice.Invoice{}, storage.ErrConflict
	}
	if inv.Reference != "" {
		if _, exists := s.references[inv.Reference]; exists {
			return invoice.Invoice{}, storage.ErrConflict
		}
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.PaymentID == "" {
		inv.PaymentID = uuid.NewString()
	}
	if inv.Status == "" {
		inv.Status = invoice.StatusPending
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now()
	}
	inv.UpdatedAt = inv.CreatedAt
	inv.ProductIDs = append([]string(nil), inv.ProductIDs...)

	s.invoices[inv.Ref] = inv
	if inv.Reference != "" {
		s.references[inv.Reference] = inv.Ref
	}
	return inv, nil
}

func (s *Store) GetInvoiceByRef(_ context.Context, ref string) (invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[strings.ToUpper(ref)]
	if !ok {
		return invoice.Invoice{}, storage.ErrNotFound
	}
	return inv, nil
}

func (s *Store) ListInvoices(_ context.Context, filter invoice.Filter) ([]invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []invoice.Invoice
	for _, inv := range s.invoices {
		if filter.MerchantID != "" && inv.MerchantID != filter.MerchantID {
			continue
		}
		if !filter.From.IsZero() && inv.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && inv.CreatedAt.After(filter.To) {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) ListPendingInvoices(_ context.Context, since time.Time, limit int) ([]invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []invoice.Invoice
	for _, inv := range s.invoices {
		if inv.Status == invoice.StatusPending && !inv.CreatedAt.Before(since) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) TransitionInvoice(_ context.Context, t storage.Transition) (invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[strings.ToUpper(t.Ref)]
	if !ok {
		return invoice.Invoice{}, storage.ErrNotFound
	}
	if !invoice.CanTransition(inv.Status, t.To) {
		return inv, storage.ErrInvalidTransition
	}
	if t.TxHash != "" && t.To == invoice.StatusConfirmed {
		if owner, used := s.txHashes[t.TxHash]; used && owner != inv.Ref {
			return inv, storage.ErrConflict
		}
	}

	at := t.At
	if at.IsZero() {
		at = now()
	}
	inv.Status = t.To
	inv.UpdatedAt = at
	if t.TxHash != "" {
		inv.TxHash = t.TxHash
	}
	switch t.To {
	case invoice.StatusConfirmed:
		inv.ConfirmedAt = &at
		s.txHashes[t.TxHash] = inv.Ref
	case invoice.StatusSettled:
		inv.SettledAt = &at
	case invoice.StatusError:
		inv.FailureReason = t.Reason
	}
	s.invoices[inv.Ref] = inv
	return inv, nil
}

func (s *Store) CreateReceipt(_ context.Context, r invoice.Receipt) (invoice.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.receipts[r.InvoiceID]; exists {
		return invoice.Receipt{}, storage.ErrConflict
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = now()
	s.receipts[r.InvoiceID] = r
	return r, nil
}

func (s *Store) GetReceipt(_ context.Context, invoiceID string) (invoice.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.receipts[invoiceID]
	if !ok {
		return invoice.Receipt{}, storage.ErrNotFound
	}
	return r, nil
}

// SettlementStore implementation -----------------------------------------------

func (s *Store) CreateSettlement(_ context.Context, st settlement.Settlement) (settlement.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.ID == "" {
		st.ID = uuid.NewString()
	} else if _, exists := s.settlements[st.ID]; exists {
		return settlement.Settlement{}, storage.ErrConflict
	}
	if st.Status.Active() {
		if _, ok := s.activeFor(st.InvoiceID); ok {
			return settlement.Settlement{}, storage.ErrConflict
		}
	}
	if st.RequestedAt.IsZero() {
		st.RequestedAt = now()
	}
	st.UpdatedAt = st.RequestedAt
	s.settlements[st.ID] = st
	return st, nil
}

func (s *Store) UpdateSettlement(_ context.Context, st settlement.Settlement) (settlement.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.settlements[st.ID]
	if !ok {
		return settlement.Settlement{}, storage.ErrNotFound
	}
	if st.Status.Active() && !existing.Status.Active() {
		if other, ok := s.activeFor(st.InvoiceID); ok && other.ID != st.ID {
			return settlement.Settlement{}, storage.ErrConflict
		}
	}
	st.RequestedAt = existing.RequestedAt
	st.UpdatedAt = now()
	s.settlements[st.ID] = st
	return st, nil
}

func (s *Store) GetSettlement(_ context.Context, id string) (settlement.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settlements[id]
	if !ok {
		return settlement.Settlement{}, storage.ErrNotFound
	}
	return st, nil
}

func (s *Store) ListSettlements(_ context.Context, merchantID string, limit int) ([]settlement.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []settlement.Settlement
	for _, st := range s.settlements {
		if merchantID == "" || st.MerchantID == merchantID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListOpenSettlements(_ context.Context, limit int) ([]settlement.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []settlement.Settlement
	for _, st := range s.settlements {
		if !st.Status.Final() {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ActiveSettlement(_ context.Context, invoiceID string) (settlement.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.activeFor(invoiceID)
	if !ok {
		return settlement.Settlement{}, storage.ErrNotFound
	}
	return st, nil
}

// activeFor requires s.mu to be held.
func (s *Store) activeFor(invoiceID string) (settlement.Settlement, bool) {
	for _, st := range s.settlements {
		if st.InvoiceID == invoiceID && st.Status.Active() {
			return st, true
		}
	}
	return settlement.Settlement{}, false
}

func (s *Store) UpdatePaymentSettlement(_ context.Context, ps settlement.PaymentSettlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inv := range s.invoices {
		if inv.PaymentID != "" && inv.PaymentID == ps.PaymentID {
			s.payouts[ps.PaymentID] = ps
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *Store) GetPaymentSettlement(_ context.Context, paymentID string) (settlement.PaymentSettlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ps, ok := s.payouts[paymentID]
	if !ok {
		return settlement.PaymentSettlement{}, storage.ErrNotFound
	}
	return ps, nil
}
