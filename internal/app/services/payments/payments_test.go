package payments

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
	"github.com/solpos/service_layer/internal/app/domain/merchant"
	"github.com/solpos/service_layer/internal/app/services/invoices"
	"github.com/solpos/service_layer/internal/app/storage/memory"
	"github.com/solpos/service_layer/internal/cache"
	svcerrors "github.com/solpos/service_layer/internal/errors"
	"github.com/solpos/service_layer/internal/solana"
	"github.com/solpos/service_layer/internal/tokens"
	"github.com/solpos/service_layer/pkg/testutil"
)

const (
	wallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	tBRZ   = "CNgjfkVEKKkDspYS5ZZem8KpyhubmGi7MHXFuc55QtZV"
)

// pay records a confirmed or failed payment for reference to the test wallet.
func pay(t *testing.T, l *testutil.Ledger, sig, reference, mint string, amount uint64, failed bool) {
	t.Helper()
	require.NoError(t, l.Pay(sig, reference, wallet, mint, amount, failed))
}

type fixture struct {
	store     *memory.Store
	invoices  *invoices.Service
	ledger    *testutil.Ledger
	validator *Validator
	merchant  merchant.Merchant
}

func newFixture(t *testing.T, opts ValidatorOptions) fixture {
	t.Helper()
	reg, err := tokens.Load("devnet", "")
	require.NoError(t, err)
	store := memory.New()
	m, err := store.CreateMerchant(context.Background(), merchant.Merchant{Name: "Padaria", WalletAddress: wallet})
	require.NoError(t, err)
	inv := invoices.New(store, store, invoices.Options{Tokens: reg})
	ledger := testutil.NewLedger()
	return fixture{
		store:     store,
		invoices:  inv,
		ledger:    ledger,
		validator: NewValidator(inv, ledger, cache.NewMemory(), opts),
		merchant:  m,
	}
}

func (f fixture) create(t *testing.T, cents int64) invoice.Invoice {
	t.Helper()
	inv, err := f.invoices.Create(context.Background(), f.merchant.ID, invoices.CreateRequest{AmountCents: cents})
	require.NoError(t, err)
	return inv
}

func TestValidateUnknownInvoice(t *testing.T) {
	f := newFixture(t, ValidatorOptions{})
	_, err := f.validator.Validate(context.Background(), "REFZZZZZZ")
	se := svcerrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, http.StatusNotFound, se.HTTPStatus)
	assert.Equal(t, "Invoice not found", se.Message)
}

func TestValidateNoSignatures(t *testing.T) {
	f := newFixture(t, ValidatorOptions{})
	inv := f.create(t, 1000)

	res, err := f.validator.Validate(context.Background(), inv.Ref)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPending, res.Status)
	assert.Equal(t, MsgNotFound, res.Message)
	assert.Equal(t, http.StatusOK, res.HTTPStatus)
}

func TestValidateWithoutUsableReference(t *testing.T) {
	cases := map[string]string{
		"missing":   "",
		"malformed": "not-base58!!",
	}
	for name, reference := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, ValidatorOptions{})
			inv, err := f.store.CreateInvoice(context.Background(), invoice.Invoice{
				MerchantID:  f.merchant.ID,
				Ref:         "REFNOREF01",
				Reference:   reference,
				AmountCents: 1000,
				Currency:    "BRL",
				PaymentMint: tBRZ,
				TokenAmount: 2000000,
				Recipient:   wallet,
				ExpiresAt:   time.Now().Add(time.Hour),
			})
			require.NoError(t, err)

			res, err := f.validator.Validate(context.Background(), inv.Ref)
			require.NoError(t, err)
			assert.Equal(t, invoice.StatusPending, res.Status)
			assert.Equal(t, MsgNoReference, res.Message)
			assert.Equal(t, http.StatusOK, res.HTTPStatus)
			assert.Zero(t, f.ledger.Lookups())

			stored, err := f.store.GetInvoiceByRef(context.Background(), inv.Ref)
			require.NoError(t, err)
			assert.Equal(t, invoice.StatusPending, stored.Status)
		})
	}
}

func TestValidateConfirmsMatchingTransfer(t *testing.T) {
	f := newFixture(t, ValidatorOptions{})
	inv := f.create(t, 1000)
	pay(t, f.ledger, "sigOK", inv.Reference, tBRZ, inv.TokenAmount, false)

	res, err := f.validator.Validate(context.Background(), inv.Ref)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusConfirmed, res.Status)
	assert.Equal(t, "sigOK", res.TxHash)

	stored, err := f.store.GetInvoiceByRef(context.Background(), inv.Ref)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusConfirmed, stored.Status)

	again, err := f.validator.Validate(context.Background(), inv.Ref)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusConfirmed, again.Status)
	assert.Equal(t, "sigOK", again.TxHash)
}

func TestValidateSkipsOlderFailuresForNewerMatch(t *testing.T) {
	f := newFixture(t, ValidatorOptions{})
	inv := f.create(t, 1000)
	pay(t, f.ledger, "sigFailed", inv.Reference, tBRZ, inv.TokenAmount, true)
	pay(t, f.ledger, "sigShort", inv.Reference, tBRZ, inv.TokenAmount-1, false)
	pay(t, f.ledger, "sigOK", inv.Reference, tBRZ, inv.TokenAmount+10, false)

	res, err := f.validator.Validate(context.Background(), inv.Ref)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusConfirmed, res.Status)
	assert.Equal(t, "sigOK", res.TxHash)
}

func TestValidateOnlyFailedTransactions(t *testing.T) {
	f := newFixture(t, ValidatorOptions{})
	inv := f.create(t, 1000)
	pay(t, f.ledger, "sigFailed", inv.Reference, tBRZ, inv.TokenAmount, true)

	res, err := f.validator.Validate(context.Background(), inv.Ref)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusError, res.Status)
	assert.Equal(t, MsgFailedOnChain, res.Message)
	assert.Equal(t, http.StatusBadRequest, res.HTTPStatus)

	stored, err := f.store.GetInvoiceByRef(context.Background(), inv.Ref)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPending, stored.Status, "a failed attempt leaves the invoice payable")
}

func TestValidateMismatchStaysPending(t *testing.T) {
	f := newFixture(t, ValidatorOptions{})
	inv := f.create(t, 1000)
	pay(t, f.ledger, "sigShort", inv.Reference, tBRZ, inv.TokenAmount/2, false)

	res, err := f.validator.Validate(context.Background(), inv.Ref)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPending, res.Status)
	assert.Contains(t, res.Message, "amount too low")
}

func TestValidateWrongMintStaysPending(t *testing.T) {
	f := newFixture(t, ValidatorOptions{})
	inv := f.create(t, 1000)
	pay(t, f.ledger, "sigUSDC", inv.Reference, "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", inv.TokenAmount, false)

	res, err := f.validator.Validate(context.Background(), inv.Ref)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPending, res.Status)
	assert.Contains(t, res.Message, solana.ErrRecipientMissing.Error())
}

func TestValidateRPCErrorAsksForRetry(t *testing.T) {
	f := newFixture(t, ValidatorOptions{})
	inv := f.create(t, 1000)
	f.ledger.FailSignatures(errors.New("node unavailable"))

	res, err := f.validator.Validate(context.Background(), inv.Ref)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPending, res.Status)
	assert.Equal(t, MsgRetry, res.Message)

	f.ledger.FailSignatures(nil)
	pay(t, f.ledger, "sigOK", inv.Reference, tBRZ, inv.TokenAmount, false)
	f.ledger.FailTransactions(errors.New("timeout"))
	res, err = f.validator.Validate(context.Background(), inv.Ref)
	require.NoError(t, err)
	assert.Equal(t, MsgRetry, res.Message)
}

func TestValidateSignatureConfirmsOnlyOneInvoice(t *testing.T) {
	f := newFixture(t, ValidatorOptions{})
	first := f.create(t, 1000)
	second := f.create(t, 1000)
	pay(t, f.ledger, "sigShared", first.Reference, tBRZ, first.TokenAmount, false)
	f.ledger.Alias(second.Reference, first.Reference)

	res, err := f.validator.Validate(context.Background(), first.Ref)
	require.NoError(t, err)
	require.Equal(t, invoice.StatusConfirmed, res.Status)

	// The shared transaction does not carry the second reference, so it
	// fails verification before reaching the store.
	res, err = f.validator.Validate(context.Background(), second.Ref)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPending, res.Status)
}

func TestValidateDemoMode(t *testing.T) {
	f := newFixture(t, ValidatorOptions{DemoMode: true})
	f.validator.now = func() time.Time { return time.UnixMilli(1700000000123) }
	inv := f.create(t, 1000)

	res, err := f.validator.Validate(context.Background(), inv.Ref)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusConfirmed, res.Status)
	assert.Equal(t, "DEMO_1700000000123", res.TxHash)
	assert.Zero(t, f.ledger.Lookups())
}

func TestValidateMerchantDemoFlag(t *testing.T) {
	f := newFixture(t, ValidatorOptions{})
	f.merchant.Flags.DemoMode = true
	_, err := f.store.UpdateMerchant(context.Background(), f.merchant)
	require.NoError(t, err)
	inv := f.create(t, 500)

	res, err := f.validator.Validate(context.Background(), inv.Ref)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusConfirmed, res.Status)
	assert.Contains(t, res.TxHash, "DEMO_")
}

func TestValidateHonoursLease(t *testing.T) {
	f := newFixture(t, ValidatorOptions{})
	inv := f.create(t, 1000)
	ok, err := f.validator.leases.Acquire(context.Background(), "validate:"+inv.Ref, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.validator.Validate(context.Background(), inv.Ref)
	require.NoError(t, err)
	assert.Equal(t, MsgInProgress, res.Message)
	assert.Zero(t, f.ledger.Lookups())
}

func TestWatcherTickConfirms(t *testing.T) {
	f := newFixture(t, ValidatorOptions{})
	paid := f.create(t, 1000)
	unpaid := f.create(t, 2000)
	pay(t, f.ledger, "sigOK", paid.Reference, tBRZ, paid.TokenAmount, false)

	w := NewWatcher(f.invoices, f.validator, WatcherOptions{Concurrency: 2})
	assert.Equal(t, 1, w.tick(context.Background()))

	stored, err := f.store.GetInvoiceByRef(context.Background(), unpaid.Ref)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPending, stored.Status)
	assert.Equal(t, 0, w.tick(context.Background()))
}

func TestWatcherBacksOffOnRPCError(t *testing.T) {
	f := newFixture(t, ValidatorOptions{})
	inv := f.create(t, 1000)
	f.ledger.FailSignatures(errors.New("down"))

	w := NewWatcher(f.invoices, f.validator, WatcherOptions{Interval: time.Minute})
	w.tick(context.Background())
	assert.False(t, w.backoff.Due(inv.Ref, time.Now()))
	assert.Equal(t, 1, f.ledger.Lookups())

	w.tick(context.Background())
	assert.Equal(t, 1, f.ledger.Lookups(), "backoff skips the invoice")
}

func TestWatcherStartStop(t *testing.T) {
	f := newFixture(t, ValidatorOptions{})
	w := NewWatcher(f.invoices, f.validator, WatcherOptions{Interval: 10 * time.Millisecond})
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
	require.NoError(t, w.Stop(ctx))
}

func TestExpirySweeper(t *testing.T) {
	f := newFixture(t, ValidatorOptions{})
	s := NewExpirySweeper(f.invoices, "", nil)
	assert.Equal(t, DefaultExpirySchedule, s.schedule)

	f.create(t, 1000)
	assert.Equal(t, 0, s.Sweep(context.Background()))

	require.NoError(t, s.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	bad := NewExpirySweeper(f.invoices, "not a schedule", nil)
	assert.Error(t, bad.Start(context.Background()))
}
