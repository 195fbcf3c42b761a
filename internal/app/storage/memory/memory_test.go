package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
	"github.com/solpos/service_layer/internal/app/domain/merchant"
	"github.com/solpos/service_layer/internal/app/domain/settlement"
	"github.com/solpos/service_layer/internal/app/storage"
)

func seedInvoice(t *testing.T, s *Store, ref string, created time.Time) invoice.Invoice {
	t.Helper()
	inv, err := s.CreateInvoice(context.Background(), invoice.Invoice{
		MerchantID:  "m-1",
		Ref:         ref,
		Reference:   "key-" + ref,
		AmountCents: 1000,
		Currency:    "BRL",
		CreatedAt:   created,
		ExpiresAt:   created.Add(10 * time.Minute),
	})
	require.NoError(t, err)
	return inv
}

func TestMerchantMembership(t *testing.T) {
	ctx := context.Background()
	s := New()

	a, err := s.CreateMerchant(ctx, merchant.Merchant{Name: "A"})
	require.NoError(t, err)
	b, err := s.CreateMerchant(ctx, merchant.Merchant{Name: "B"})
	require.NoError(t, err)

	_, err = s.AddMember(ctx, merchant.Member{UserID: "u", MerchantID: a.ID, IsDefault: true})
	require.NoError(t, err)
	_, err = s.AddMember(ctx, merchant.Member{UserID: "u", MerchantID: b.ID})
	require.NoError(t, err)
	_, err = s.AddMember(ctx, merchant.Member{UserID: "u", MerchantID: b.ID})
	assert.ErrorIs(t, err, storage.ErrConflict)

	require.NoError(t, s.SetDefaultMerchant(ctx, "u", b.ID))
	members, err := s.ListMemberships(ctx, "u")
	require.NoError(t, err)
	for _, m := range members {
		assert.Equal(t, m.MerchantID == b.ID, m.IsDefault)
	}

	assert.ErrorIs(t, s.SetDefaultMerchant(ctx, "u", "missing"), storage.ErrNotFound)
	_, err = s.GetMerchant(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInvoiceUniqueness(t *testing.T) {
	s := New()
	seedInvoice(t, s, "REFAAAAAA", time.Now())

	_, err := s.CreateInvoice(context.Background(), invoice.Invoice{Ref: "REFAAAAAA"})
	assert.ErrorIs(t, err, storage.ErrConflict)

	_, err = s.CreateInvoice(context.Background(), invoice.Invoice{Ref: "REFBBBBBB", Reference: "key-REFAAAAAA"})
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestTransitionGuards(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedInvoice(t, s, "REFAAAAAA", time.Now())
	seedInvoice(t, s, "REFBBBBBB", time.Now())

	inv, err := s.TransitionInvoice(ctx, storage.Transition{Ref: "refaaaaaa", To: invoice.StatusConfirmed, TxHash: "sig1"})
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusConfirmed, inv.Status)
	assert.NotNil(t, inv.ConfirmedAt)

	_, err = s.TransitionInvoice(ctx, storage.Transition{Ref: "REFAAAAAA", To: invoice.StatusConfirmed, TxHash: "sig1"})
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)

	_, err = s.TransitionInvoice(ctx, storage.Transition{Ref: "REFBBBBBB", To: invoice.StatusConfirmed, TxHash: "sig1"})
	assert.ErrorIs(t, err, storage.ErrConflict, "a signature confirms at most one invoice")

	inv, err = s.TransitionInvoice(ctx, storage.Transition{Ref: "REFAAAAAA", To: invoice.StatusSettled})
	require.NoError(t, err)
	assert.NotNil(t, inv.SettledAt)
	assert.Equal(t, "sig1", inv.TxHash)

	inv, err = s.TransitionInvoice(ctx, storage.Transition{Ref: "REFBBBBBB", To: invoice.StatusError, Reason: invoice.ReasonExpired})
	require.NoError(t, err)
	assert.Equal(t, invoice.ReasonExpired, inv.FailureReason)

	_, err = s.TransitionInvoice(ctx, storage.Transition{Ref: "REFCCCCCC", To: invoice.StatusError})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConcurrentConfirmationHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedInvoice(t, s, "REFAAAAAA", time.Now())

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TransitionInvoice(ctx, storage.Transition{Ref: "REFAAAAAA", To: invoice.StatusConfirmed, TxHash: "sig"})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, storage.ErrInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestListInvoicesFilters(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	seedInvoice(t, s, "REFOLD0000", base.Add(-48*time.Hour))
	seedInvoice(t, s, "REFNEW0000", base)
	seedInvoice(t, s, "REFNEWER00", base.Add(time.Hour))

	list, err := s.ListInvoices(ctx, invoice.Filter{MerchantID: "m-1", From: base.Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "REFNEWER00", list[0].Ref, "newest first")

	pending, err := s.ListPendingInvoices(ctx, base.Add(-72*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "REFOLD0000", pending[0].Ref, "oldest first")
}

func TestReceiptsAndSettlements(t *testing.T) {
	ctx := context.Background()
	s := New()
	inv := seedInvoice(t, s, "REFAAAAAA", time.Now())

	_, err := s.CreateReceipt(ctx, invoice.Receipt{InvoiceID: inv.ID, PaymentID: inv.PaymentID})
	require.NoError(t, err)
	_, err = s.CreateReceipt(ctx, invoice.Receipt{InvoiceID: inv.ID, PaymentID: inv.PaymentID})
	assert.ErrorIs(t, err, storage.ErrConflict)
	_, err = s.GetReceipt(ctx, inv.ID)
	require.NoError(t, err)

	st, err := s.CreateSettlement(ctx, settlement.Settlement{InvoiceID: inv.ID, MerchantID: "m-1", Status: settlement.StatusProcessing})
	require.NoError(t, err)
	open, err := s.ListOpenSettlements(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	st.Status = settlement.StatusCompleted
	_, err = s.UpdateSettlement(ctx, st)
	require.NoError(t, err)
	open, err = s.ListOpenSettlements(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = s.UpdateSettlement(ctx, settlement.Settlement{ID: "missing"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOneActiveSettlementPerInvoice(t *testing.T) {
	ctx := context.Background()
	s := New()
	inv := seedInvoice(t, s, "REFBBBBBB", time.Now())

	failed, err := s.CreateSettlement(ctx, settlement.Settlement{InvoiceID: inv.ID, Status: settlement.StatusFailed})
	require.NoError(t, err)
	_, err = s.ActiveSettlement(ctx, inv.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "failed payouts do not block a retry")

	first, err := s.CreateSettlement(ctx, settlement.Settlement{InvoiceID: inv.ID, Status: settlement.StatusPending})
	require.NoError(t, err)
	_, err = s.CreateSettlement(ctx, settlement.Settlement{InvoiceID: inv.ID, Status: settlement.StatusPending})
	assert.ErrorIs(t, err, storage.ErrConflict)

	active, err := s.ActiveSettlement(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	failed.Status = settlement.StatusProcessing
	_, err = s.UpdateSettlement(ctx, failed)
	assert.ErrorIs(t, err, storage.ErrConflict, "reviving a failed payout cannot bypass the guard")
}

func TestPaymentSettlementFields(t *testing.T) {
	ctx := context.Background()
	s := New()
	inv := seedInvoice(t, s, "REFCCCCCC", time.Now())

	err := s.UpdatePaymentSettlement(ctx, settlement.PaymentSettlement{PaymentID: "missing"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	st := settlement.Settlement{
		ID: "st-1", PaymentID: inv.PaymentID, Provider: settlement.ProviderWise, ProviderTxID: "9001",
		Status: settlement.StatusProcessing, Currency: "BRL", AmountCents: 1250, FeeCents: 13,
	}
	require.NoError(t, s.UpdatePaymentSettlement(ctx, st.ForPayment()))

	got, err := s.GetPaymentSettlement(ctx, inv.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, settlement.ProviderWise, got.Provider)
	assert.Equal(t, "st-1", got.SettlementID)
	assert.Equal(t, "9001", got.ProviderTxID)
	assert.Equal(t, int64(13), got.FeeCents)
}
