package invoices

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
	"github.com/solpos/service_layer/internal/app/metrics"
	"github.com/solpos/service_layer/internal/app/storage"
	svcerrors "github.com/solpos/service_layer/internal/errors"
)

// ErrAlreadyFinal is wrapped by transition errors when the invoice moved on
// before the caller's update.
var ErrAlreadyFinal = errors.New("invoice no longer accepts this transition")

// Confirm records the paying signature. It succeeds once per invoice; the
// receipt write and the event follow the stored transition.
func (s *Service) Confirm(ctx context.Context, ref, txHash string) (invoice.Invoice, error) {
	if strings.TrimSpace(txHash) == "" {
		return invoice.Invoice{}, svcerrors.Validation("tx_hash", "tx_hash is required")
	}
	inv, err := s.transition(ctx, storage.Transition{Ref: ref, To: invoice.StatusConfirmed, TxHash: txHash})
	if err != nil {
		return inv, err
	}
	if inv.ConfirmedAt != nil {
		metrics.RecordConfirmation(inv.ConfirmedAt.Sub(inv.CreatedAt))
	}
	s.writeReceipt(ctx, inv)
	return inv, nil
}

// Settle marks a confirmed invoice as paid out.
func (s *Service) Settle(ctx context.Context, ref string) (invoice.Invoice, error) {
	return s.transition(ctx, storage.Transition{Ref: ref, To: invoice.StatusSettled})
}

// Fail moves a pending or confirmed invoice to error with reason.
func (s *Service) Fail(ctx context.Context, ref, reason string) (invoice.Invoice, error) {
	return s.transition(ctx, storage.Transition{Ref: ref, To: invoice.StatusError, Reason: reason})
}

// UpdateStatus is the merchant-driven transition. Confirmation requires a
// transaction hash.
func (s *Service) UpdateStatus(ctx context.Context, merchantID, ref string, status invoice.Status, txHash string) (invoice.Invoice, error) {
	if !status.Valid() || status == invoice.StatusPending {
		return invoice.Invoice{}, svcerrors.Validation("status", "status must be confirmed, settled or error")
	}
	if _, err := s.GetForMerchant(ctx, merchantID, ref); err != nil {
		return invoice.Invoice{}, err
	}
	switch status {
	case invoice.StatusConfirmed:
		return s.Confirm(ctx, ref, txHash)
	case invoice.StatusSettled:
		return s.Settle(ctx, ref)
	default:
		return s.Fail(ctx, ref, "cancelled")
	}
}

// ExpireStale fails pending invoices whose payment window has passed and
// returns how many were expired.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	now := s.now()
	// No lower bound: an invoice left pending while the sweeper was down still expires.
	pending, err := s.store.ListPendingInvoices(ctx, time.Time{}, 0)
	if err != nil {
		return 0, svcerrors.Internal("list pending invoices", err)
	}
	expired := 0
	for _, inv := range pending {
		deadline := inv.ExpiresAt
		if deadline.IsZero() {
			deadline = inv.CreatedAt.Add(s.timeout)
		}
		if !now.After(deadline) {
			continue
		}
		if _, err := s.Fail(ctx, inv.Ref, invoice.ReasonExpired); err != nil {
			if errors.Is(err, ErrAlreadyFinal) {
				continue
			}
			s.log.WithError(err).WithField("ref", inv.Ref).Warn("expire invoice failed")
			continue
		}
		expired++
	}
	return expired, nil
}

// Pending lists invoices still inside their payment window.
func (s *Service) Pending(ctx context.Context, limit int) ([]invoice.Invoice, error) {
	list, err := s.store.ListPendingInvoices(ctx, s.now().Add(-s.timeout), limit)
	if err != nil {
		return nil, svcerrors.Internal("list pending invoices", err)
	}
	return list, nil
}

// Receipt returns the receipt written on confirmation.
func (s *Service) Receipt(ctx context.Context, merchantID, ref string) (invoice.Receipt, error) {
	inv, err := s.GetForMerchant(ctx, merchantID, ref)
	if err != nil {
		return invoice.Receipt{}, err
	}
	r, err := s.store.GetReceipt(ctx, inv.ID)
	if err != nil {
		return invoice.Receipt{}, mapStoreErr(err, "receipt", inv.Ref)
	}
	return r, nil
}

func (s *Service) transition(ctx context.Context, t storage.Transition) (invoice.Invoice, error) {
	t.Ref = strings.ToUpper(strings.TrimSpace(t.Ref))
	t.At = s.now()
	inv, err := s.store.TransitionInvoice(ctx, t)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			se := svcerrors.Conflict("invoice is " + string(inv.Status)).
				WithDetails("ref", t.Ref).
				WithDetails("status", string(inv.Status))
			se.Err = ErrAlreadyFinal
			return inv, se
		}
		if errors.Is(err, storage.ErrConflict) {
			return inv, svcerrors.Conflict("transaction already confirmed another invoice").WithDetails("tx_hash", t.TxHash)
		}
		return inv, mapStoreErr(err, "invoice", t.Ref)
	}

	metrics.RecordTransition(string(inv.Status), t.Reason)
	s.log.WithField("ref", inv.Ref).
		WithField("status", inv.Status).
		WithField("tx_hash", inv.TxHash).
		WithField("reason", t.Reason).
		Info("invoice status changed")
	if s.events != nil {
		s.events.Publish(invoice.EventFor(inv))
	}
	return inv, nil
}

func (s *Service) writeReceipt(ctx context.Context, inv invoice.Invoice) {
	_, err := s.store.CreateReceipt(ctx, invoice.Receipt{
		InvoiceID: inv.ID,
		PaymentID: inv.PaymentID,
		Data: invoice.ReceiptData{
			Ref:       inv.Ref,
			Amount:    inv.AmountBRL(),
			Status:    inv.Status,
			TxHash:    inv.TxHash,
			Timestamp: inv.UpdatedAt,
		},
	})
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		s.log.WithError(err).WithField("ref", inv.Ref).Error("write receipt failed")
	}
}
