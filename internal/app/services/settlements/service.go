package settlements

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
	"github.com/solpos/service_layer/internal/app/domain/settlement"
	"github.com/solpos/service_layer/internal/app/metrics"
	"github.com/solpos/service_layer/internal/app/services/invoices"
	"github.com/solpos/service_layer/internal/app/storage"
	svcerrors "github.com/solpos/service_layer/internal/errors"
	"github.com/solpos/service_layer/pkg/logger"
)

// Service requests fiat payouts for confirmed invoices and tracks them.
type Service struct {
	store     storage.SettlementStore
	invoices  *invoices.Service
	providers map[settlement.Provider]Provider
	log       *logger.Logger
	now       func() time.Time
}

// New constructs the settlement service. Nil providers are skipped so
// unconfigured rails can be passed through unconditionally.
func New(store storage.SettlementStore, inv *invoices.Service, log *logger.Logger, providers ...Provider) *Service {
	if log == nil {
		log = logger.NewDefault("settlements")
	}
	s := &Service{
		store:     store,
		invoices:  inv,
		providers: make(map[settlement.Provider]Provider),
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		s.providers[p.Name()] = p
	}
	return s
}

// Providers lists the configured payout rails.
func (s *Service) Providers() []settlement.Provider {
	out := make([]settlement.Provider, 0, len(s.providers))
	for _, name := range []settlement.Provider{settlement.ProviderCircle, settlement.ProviderWise} {
		if _, ok := s.providers[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Request describes a payout. A zero amount pays the invoice total and an
// empty currency means BRL.
type Request struct {
	Ref         string              `json:"invoiceRef"`
	Provider    settlement.Provider `json:"provider"`
	AmountCents int64               `json:"amountCents"`
	Currency    string              `json:"currency"`
	RecipientID string              `json:"recipientId"`
}

// Request pays out a confirmed invoice. A pending settlement row is reserved
// before the provider is called, so a second request for the same invoice is
// refused while the first is in flight or done. The row is kept when the
// provider rejects the payout so the failure stays visible.
func (s *Service) Request(ctx context.Context, merchantID string, req Request) (settlement.Settlement, error) {
	provider, ok := s.providers[settlement.Provider(strings.ToLower(string(req.Provider)))]
	if !ok {
		switch req.Provider {
		case settlement.ProviderCircle, settlement.ProviderWise:
			return settlement.Settlement{}, svcerrors.Unavailable(string(req.Provider)+" is not configured", nil)
		}
		return settlement.Settlement{}, svcerrors.Validation("provider", "provider must be circle or wise")
	}
	if strings.TrimSpace(req.RecipientID) == "" && provider.Name() == settlement.ProviderCircle {
		return settlement.Settlement{}, svcerrors.Validation("recipientId", "recipientId is required")
	}
	if req.AmountCents < 0 {
		return settlement.Settlement{}, svcerrors.Validation("amountCents", "amount must be positive")
	}

	inv, err := s.invoices.GetForMerchant(ctx, merchantID, req.Ref)
	if err != nil {
		return settlement.Settlement{}, err
	}
	if inv.Status != invoice.StatusConfirmed {
		return settlement.Settlement{}, svcerrors.BadRequest("Invoice must be confirmed before settlement").
			WithDetails("status", string(inv.Status))
	}
	if existing, err := s.store.ActiveSettlement(ctx, inv.ID); err == nil {
		return settlement.Settlement{}, alreadyRequested(existing)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return settlement.Settlement{}, svcerrors.Internal("look up settlement", err)
	}

	amount := req.AmountCents
	if amount == 0 {
		amount = inv.AmountCents
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "BRL"
	}

	record, err := s.store.CreateSettlement(ctx, settlement.Settlement{
		InvoiceID:   inv.ID,
		PaymentID:   inv.PaymentID,
		MerchantID:  inv.MerchantID,
		InvoiceRef:  inv.Ref,
		Provider:    provider.Name(),
		Currency:    currency,
		AmountCents: amount,
		Status:      settlement.StatusPending,
		RecipientID: req.RecipientID,
		RequestedAt: s.now(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			if existing, getErr := s.store.ActiveSettlement(ctx, inv.ID); getErr == nil {
				return settlement.Settlement{}, alreadyRequested(existing)
			}
			return settlement.Settlement{}, svcerrors.Conflict("Settlement already requested for this invoice")
		}
		return settlement.Settlement{}, svcerrors.Internal("store settlement", err)
	}
	s.mirror(ctx, record)

	log := s.log.WithField("ref", inv.Ref).WithField("provider", provider.Name()).WithField("settlement_id", record.ID)
	res, payErr := provider.Payout(ctx, PayoutRequest{
		Ref:         inv.Ref,
		MerchantID:  inv.MerchantID,
		AmountCents: amount,
		Currency:    currency,
		RecipientID: req.RecipientID,
	})
	if payErr != nil {
		record.Status = settlement.StatusFailed
		record.Error = payErr.Error()
		if updated, err := s.store.UpdateSettlement(context.WithoutCancel(ctx), record); err != nil {
			log.WithError(err).Error("store failed settlement")
		} else {
			s.mirror(ctx, updated)
		}
		metrics.RecordPayout(string(provider.Name()), string(settlement.StatusFailed))
		log.WithError(payErr).Warn("payout rejected")
		return settlement.Settlement{}, upstreamError(provider.Name(), payErr)
	}

	record.ProviderTxID = res.ProviderTxID
	record.Status = res.Status
	record.AmountCents = res.AmountCents
	record.FeeCents = res.FeeCents
	record.ExchangeRate = res.ExchangeRate
	record.TrackingURL = res.TrackingURL
	record.Metadata = res.Metadata
	if record.Status == settlement.StatusCompleted {
		done := s.now()
		record.CompletedAt = &done
	}

	// The provider has accepted the payout; the row must be written even if the caller went away.
	stored, err := s.store.UpdateSettlement(context.WithoutCancel(ctx), record)
	if err != nil {
		log.WithError(err).WithField("provider_tx_id", record.ProviderTxID).Error("store accepted payout")
		return settlement.Settlement{}, svcerrors.Internal("store settlement", err)
	}
	s.mirror(ctx, stored)
	metrics.RecordPayout(string(provider.Name()), string(stored.Status))
	log.WithField("provider_tx_id", stored.ProviderTxID).WithField("status", stored.Status).Info("payout requested")

	if stored.Status == settlement.StatusCompleted {
		s.settleInvoice(ctx, stored)
	}
	return stored, nil
}

// Refresh asks the provider for the latest status of an open settlement.
// Rows still waiting for the provider's answer are left alone.
func (s *Service) Refresh(ctx context.Context, st settlement.Settlement) (settlement.Settlement, error) {
	if st.Status.Final() || st.ProviderTxID == "" {
		return st, nil
	}
	provider, ok := s.providers[st.Provider]
	if !ok {
		return st, svcerrors.Unavailable(string(st.Provider)+" is not configured", nil)
	}
	status, err := provider.Status(ctx, st.ProviderTxID)
	if err != nil {
		return st, upstreamError(st.Provider, err)
	}
	if status == st.Status {
		return st, nil
	}

	st.Status = status
	if status == settlement.StatusCompleted {
		done := s.now()
		st.CompletedAt = &done
	}
	updated, err := s.store.UpdateSettlement(ctx, st)
	if err != nil {
		return st, svcerrors.Internal("update settlement", err)
	}
	s.mirror(ctx, updated)
	metrics.RecordPayout(string(updated.Provider), string(updated.Status))
	s.log.WithField("ref", updated.InvoiceRef).
		WithField("provider", updated.Provider).
		WithField("status", updated.Status).
		Info("settlement status changed")

	if updated.Status == settlement.StatusCompleted {
		s.settleInvoice(ctx, updated)
	}
	return updated, nil
}

// Open returns settlements that still await a final provider status.
func (s *Service) Open(ctx context.Context, limit int) ([]settlement.Settlement, error) {
	list, err := s.store.ListOpenSettlements(ctx, limit)
	if err != nil {
		return nil, svcerrors.Internal("list open settlements", err)
	}
	return list, nil
}

// List returns the merchant's settlements, newest first.
func (s *Service) List(ctx context.Context, merchantID string, limit int) ([]settlement.Settlement, error) {
	list, err := s.store.ListSettlements(ctx, merchantID, limit)
	if err != nil {
		return nil, svcerrors.Internal("list settlements", err)
	}
	return list, nil
}

// Get returns one of the merchant's settlements.
func (s *Service) Get(ctx context.Context, merchantID, id string) (settlement.Settlement, error) {
	st, err := s.store.GetSettlement(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return settlement.Settlement{}, svcerrors.NotFound("Settlement", id)
		}
		return settlement.Settlement{}, svcerrors.Internal("get settlement", err)
	}
	if st.MerchantID != merchantID {
		return settlement.Settlement{}, svcerrors.NotFound("Settlement", id)
	}
	return st, nil
}

// Summary aggregates the merchant's paid invoices and payouts.
func (s *Service) Summary(ctx context.Context, merchantID string) (settlement.Summary, error) {
	invs, err := s.invoices.Recent(ctx, merchantID, 0)
	if err != nil {
		return settlement.Summary{}, err
	}
	payouts, err := s.List(ctx, merchantID, 0)
	if err != nil {
		return settlement.Summary{}, err
	}
	return Summarize(invs, payouts), nil
}

// Summarize computes a Summary from raw invoices and settlements.
func Summarize(invs []invoice.Invoice, payouts []settlement.Settlement) settlement.Summary {
	var (
		sum          settlement.Summary
		confirmSecs  float64
		confirmCount int
	)
	for _, inv := range invs {
		if inv.Status != invoice.StatusConfirmed && inv.Status != invoice.StatusSettled {
			continue
		}
		brl := centsToAmount(inv.AmountCents)
		sum.TotalPayments++
		sum.TotalVolumeBRL += brl
		if inv.Status == invoice.StatusConfirmed {
			sum.HoldingCrypto++
			sum.CryptoBalanceBRL += brl
		} else {
			sum.SettledCount++
		}
		if inv.ConfirmedAt != nil {
			confirmSecs += inv.ConfirmedAt.Sub(inv.CreatedAt).Seconds()
			confirmCount++
		}
	}
	if confirmCount > 0 {
		sum.AvgConfirmSeconds = confirmSecs / float64(confirmCount)
	}

	var (
		completed, failed int
		settleSecs        float64
	)
	for _, st := range payouts {
		switch st.Status {
		case settlement.StatusCompleted:
			completed++
			sum.SettledTotal += centsToAmount(st.AmountCents)
			sum.TotalFees += centsToAmount(st.FeeCents)
			if st.CompletedAt != nil {
				settleSecs += st.CompletedAt.Sub(st.RequestedAt).Seconds()
			}
		case settlement.StatusFailed:
			failed++
		}
	}
	if completed+failed > 0 {
		sum.SettlementSuccessRate = float64(completed) / float64(completed+failed) * 100
	}
	if completed > 0 {
		sum.AvgSettlementSeconds = settleSecs / float64(completed)
	}
	return sum
}

func (s *Service) settleInvoice(ctx context.Context, st settlement.Settlement) {
	if _, err := s.invoices.Settle(ctx, st.InvoiceRef); err != nil {
		if errors.Is(err, invoices.ErrAlreadyFinal) {
			return
		}
		s.log.WithError(err).WithField("ref", st.InvoiceRef).Error("mark invoice settled failed")
	}
}

// mirror copies the payout onto its payment row. The settlements table stays
// the source of truth, so a failed copy is only logged.
func (s *Service) mirror(ctx context.Context, st settlement.Settlement) {
	if st.PaymentID == "" {
		return
	}
	if err := s.store.UpdatePaymentSettlement(context.WithoutCancel(ctx), st.ForPayment()); err != nil {
		s.log.WithError(err).WithField("ref", st.InvoiceRef).Warn("update payment settlement fields failed")
	}
}

func alreadyRequested(st settlement.Settlement) error {
	return svcerrors.Conflict("Settlement already requested for this invoice").
		WithDetails("settlement_id", st.ID).
		WithDetails("status", string(st.Status))
}

func upstreamError(p settlement.Provider, err error) error {
	se := svcerrors.Upstream(string(p), err)
	var pe *ProviderError
	if errors.As(err, &pe) {
		se = se.WithDetails("message", pe.Message).WithDetails("operation", pe.Operation)
	}
	return se
}
