package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
	"github.com/solpos/service_layer/internal/app/metrics"
	"github.com/solpos/service_layer/internal/app/services/invoices"
	"github.com/solpos/service_layer/internal/cache"
	svcerrors "github.com/solpos/service_layer/internal/errors"
	"github.com/solpos/service_layer/internal/solana"
	"github.com/solpos/service_layer/internal/tokens"
	"github.com/solpos/service_layer/pkg/logger"
)

// Ledger is the subset of the Solana RPC used to find payments.
type Ledger interface {
	GetSignaturesForAddress(ctx context.Context, address solana.PublicKey, opts solana.SignaturesOptions) ([]solana.SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*solana.Transaction, error)
}

// Messages returned to polling clients.
const (
	MsgNoReference    = "No Solana reference available"
	MsgNotFound       = "No transaction found yet"
	MsgFailedOnChain  = "Transaction failed on-chain"
	MsgRetry          = "Validation error, will retry"
	MsgInProgress     = "Validation already in progress"
	MsgConfirmed      = "Payment confirmed"
	MsgDemoConfirmed  = "Payment confirmed (demo mode)"
	signatureLookback = 10
)

// Result is the answer to a validation request.
type Result struct {
	Ref     string         `json:"ref"`
	Status  invoice.Status `json:"status"`
	TxHash  string         `json:"txHash,omitempty"`
	Message string         `json:"message,omitempty"`
	// HTTPStatus is 400 when only failed transactions were found, else 200.
	HTTPStatus int `json:"-"`
}

func pending(ref, msg string) Result {
	return Result{Ref: ref, Status: invoice.StatusPending, Message: msg, HTTPStatus: http.StatusOK}
}

// ValidatorOptions configures a Validator.
type ValidatorOptions struct {
	// DemoMode confirms every pending invoice without touching the ledger.
	DemoMode bool
	LeaseTTL time.Duration
	Log      *logger.Logger
}

// Validator checks the ledger for payments carrying an invoice reference.
type Validator struct {
	invoices *invoices.Service
	ledger   Ledger
	leases   cache.Cache
	demo     bool
	leaseTTL time.Duration
	log      *logger.Logger
	now      func() time.Time
}

// NewValidator constructs a validator. leases may be nil for single-instance use.
func NewValidator(inv *invoices.Service, ledger Ledger, leases cache.Cache, opts ValidatorOptions) *Validator {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("payments")
	}
	ttl := opts.LeaseTTL
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Validator{
		invoices: inv,
		ledger:   ledger,
		leases:   leases,
		demo:     opts.DemoMode,
		leaseTTL: ttl,
		log:      log,
		now:      time.Now,
	}
}

// Validate looks for a transaction paying the invoice and confirms it on a
// match. Only "invoice not found" is returned as an error; ledger problems
// are reported as a pending result so callers keep polling.
func (v *Validator) Validate(ctx context.Context, ref string) (Result, error) {
	inv, err := v.invoices.Get(ctx, ref)
	if err != nil {
		if se := svcerrors.GetServiceError(err); se != nil && se.HTTPStatus == http.StatusNotFound {
			metrics.RecordValidation("not_found")
			return Result{}, svcerrors.NotFound("Invoice", ref)
		}
		return Result{}, err
	}
	if inv.Status != invoice.StatusPending {
		metrics.RecordValidation("not_pending")
		return Result{Ref: inv.Ref, Status: inv.Status, TxHash: inv.TxHash, HTTPStatus: http.StatusOK}, nil
	}

	if v.demoFor(ctx, inv) {
		return v.confirm(ctx, inv, fmt.Sprintf("DEMO_%d", v.now().UnixMilli()), "demo", MsgDemoConfirmed)
	}

	if inv.Reference == "" {
		metrics.RecordValidation("no_reference")
		return pending(inv.Ref, MsgNoReference), nil
	}
	reference, err := solana.ParsePublicKey(inv.Reference)
	if err != nil {
		metrics.RecordValidation("no_reference")
		return pending(inv.Ref, MsgNoReference), nil
	}

	if v.leases != nil {
		key := "validate:" + inv.Ref
		ok, err := v.leases.Acquire(ctx, key, v.leaseTTL)
		if err != nil {
			v.log.WithError(err).WithField("ref", inv.Ref).Warn("lease unavailable; validating without it")
		} else if !ok {
			metrics.RecordValidation("in_progress")
			return pending(inv.Ref, MsgInProgress), nil
		} else {
			defer func() {
				if err := v.leases.Release(context.WithoutCancel(ctx), key); err != nil {
					v.log.WithError(err).WithField("ref", inv.Ref).Warn("release lease failed")
				}
			}()
		}
	}

	return v.search(ctx, inv, reference)
}

func (v *Validator) search(ctx context.Context, inv invoice.Invoice, reference solana.PublicKey) (Result, error) {
	log := v.log.WithField("ref", inv.Ref)

	sigs, err := v.ledger.GetSignaturesForAddress(ctx, reference, solana.SignaturesOptions{Limit: signatureLookback})
	if err != nil {
		log.WithError(err).Warn("signature lookup failed")
		metrics.RecordValidation("rpc_error")
		return pending(inv.Ref, MsgRetry), nil
	}
	if len(sigs) == 0 {
		metrics.RecordValidation("not_found")
		return pending(inv.Ref, MsgNotFound), nil
	}

	recipient, err := solana.ParsePublicKey(inv.Recipient)
	if err != nil {
		return Result{}, svcerrors.Internal("invoice recipient is invalid", err)
	}
	exp := solana.Expectation{
		Reference: reference,
		Recipient: recipient,
		Mint:      inv.PaymentMint,
		Amount:    inv.TokenAmount,
	}

	var (
		failed   int
		rpcErr   error
		mismatch error
	)
	for _, sig := range sigs {
		if sig.Failed() {
			failed++
			continue
		}
		tx, err := v.ledger.GetTransaction(ctx, sig.Signature)
		if err != nil {
			rpcErr = err
			continue
		}
		if tx == nil {
			continue
		}
		if _, err := solana.Verify(tx, exp, tokens.NativeMint); err != nil {
			switch {
			case errors.Is(err, solana.ErrTransactionFailed):
				failed++
			case errors.Is(err, solana.ErrMissingMeta):
			default:
				mismatch = err
				log.WithError(err).WithField("signature", sig.Signature).Info("transaction does not satisfy invoice")
			}
			continue
		}

		res, err := v.confirm(ctx, inv, sig.Signature, "confirmed", MsgConfirmed)
		if err != nil {
			if se := svcerrors.GetServiceError(err); se != nil && se.HTTPStatus == http.StatusConflict && !errors.Is(err, invoices.ErrAlreadyFinal) {
				mismatch = fmt.Errorf("transaction %s already confirmed another invoice", sig.Signature)
				continue
			}
		}
		return res, err
	}

	switch {
	case mismatch != nil:
		metrics.RecordValidation("mismatch")
		return pending(inv.Ref, "Transaction found but does not match invoice: "+mismatch.Error()), nil
	case rpcErr != nil:
		log.WithError(rpcErr).Warn("transaction lookup failed")
		metrics.RecordValidation("rpc_error")
		return pending(inv.Ref, MsgRetry), nil
	case failed > 0 && failed == len(sigs):
		metrics.RecordValidation("failed_on_chain")
		return Result{Ref: inv.Ref, Status: invoice.StatusError, Message: MsgFailedOnChain, HTTPStatus: http.StatusBadRequest}, nil
	}
	metrics.RecordValidation("not_found")
	return pending(inv.Ref, MsgNotFound), nil
}

func (v *Validator) confirm(ctx context.Context, inv invoice.Invoice, sig, outcome, msg string) (Result, error) {
	confirmed, err := v.invoices.Confirm(ctx, inv.Ref, sig)
	if err != nil {
		if errors.Is(err, invoices.ErrAlreadyFinal) {
			// Another validator won the race; report what it stored.
			current, getErr := v.invoices.Get(ctx, inv.Ref)
			if getErr == nil {
				metrics.RecordValidation("not_pending")
				return Result{Ref: current.Ref, Status: current.Status, TxHash: current.TxHash, HTTPStatus: http.StatusOK}, nil
			}
		}
		return Result{}, err
	}
	metrics.RecordValidation(outcome)
	v.log.WithField("ref", inv.Ref).WithField("signature", sig).Info("payment confirmed")
	return Result{Ref: confirmed.Ref, Status: confirmed.Status, TxHash: confirmed.TxHash, Message: msg, HTTPStatus: http.StatusOK}, nil
}

func (v *Validator) demoFor(ctx context.Context, inv invoice.Invoice) bool {
	if v.demo {
		return true
	}
	m, err := v.invoices.Merchant(ctx, inv.MerchantID)
	if err != nil {
		return false
	}
	return m.Flags.DemoMode
}
