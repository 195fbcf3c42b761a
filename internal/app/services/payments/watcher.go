package payments

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
	"github.com/solpos/service_layer/internal/app/services/invoices"
	"github.com/solpos/service_layer/internal/app/system"
	"github.com/solpos/service_layer/pkg/logger"
)

// WatcherOptions tunes the background confirmation loop.
type WatcherOptions struct {
	Interval    time.Duration
	Concurrency int
	// Batch caps how many pending invoices are checked per tick.
	Batch int
	Log   *logger.Logger
}

// Watcher validates pending invoices in the background so confirmations
// land even when no client is polling.
type Watcher struct {
	*system.Loop
	invoices    *invoices.Service
	validator   *Validator
	concurrency int
	batch       int
	backoff     *system.Backoff
	log         *logger.Logger
}

var _ system.Service = (*Watcher)(nil)

func NewWatcher(inv *invoices.Service, validator *Validator, opts WatcherOptions) *Watcher {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("payments-watcher")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	batch := opts.Batch
	if batch <= 0 {
		batch = 100
	}
	w := &Watcher{
		invoices:    inv,
		validator:   validator,
		concurrency: concurrency,
		batch:       batch,
		backoff:     system.NewBackoff(),
		log:         log,
	}
	w.Loop = system.NewLoop("payments-watcher", interval, func(ctx context.Context) { w.tick(ctx) }, log)
	return w
}

// tick checks every due pending invoice once. It returns the number of
// invoices confirmed.
func (w *Watcher) tick(ctx context.Context) int {
	list, err := w.invoices.Pending(ctx, w.batch)
	if err != nil {
		w.log.WithError(err).Warn("list pending invoices failed")
		return 0
	}

	var (
		mu        sync.Mutex
		confirmed int
	)
	now := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, inv := range list {
		if !w.backoff.Due(inv.Ref, now) {
			continue
		}
		ref := inv.Ref
		g.Go(func() error {
			res, err := w.validator.Validate(gctx, ref)
			if err != nil {
				w.log.WithError(err).WithField("ref", ref).Warn("background validation failed")
				w.backoff.Delay(ref, w.Interval())
				return nil
			}
			switch {
			case res.Status == invoice.StatusConfirmed:
				mu.Lock()
				confirmed++
				mu.Unlock()
				w.backoff.Clear(ref)
			case res.Message == MsgRetry:
				w.backoff.Delay(ref, 3*w.Interval())
			default:
				w.backoff.Clear(ref)
			}
			return nil
		})
	}
	_ = g.Wait()
	w.prune(list)
	return confirmed
}

func (w *Watcher) prune(active []invoice.Invoice) {
	keep := make(map[string]struct{}, len(active))
	for _, inv := range active {
		keep[inv.Ref] = struct{}{}
	}
	w.backoff.Retain(keep)
}
