// Package realtime forwards invoice row changes written by other processes
// to local subscribers.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
	"github.com/solpos/service_layer/internal/app/events"
	"github.com/solpos/service_layer/internal/app/services/invoices"
	"github.com/solpos/service_layer/internal/app/system"
	"github.com/solpos/service_layer/pkg/logger"
	"github.com/solpos/service_layer/supabase/client"
)

// Source is the subset of the Supabase realtime client the bridge uses.
type Source interface {
	Connect(ctx context.Context) error
	SubscribeToPostgresChanges(ctx context.Context, cfg client.PostgresChangesConfig, handler client.ChangeHandler) (*client.Channel, error)
	Done() <-chan struct{}
	Disconnect() error
}

// Bridge subscribes to UPDATEs on public.invoices and republishes them.
type Bridge struct {
	source    Source
	invoices  *invoices.Service
	publisher events.Publisher
	retry     time.Duration
	log       *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Bridge)(nil)

func NewBridge(source Source, inv *invoices.Service, publisher events.Publisher, log *logger.Logger) *Bridge {
	if log == nil {
		log = logger.NewDefault("realtime-bridge")
	}
	return &Bridge{source: source, invoices: inv, publisher: publisher, retry: 5 * time.Second, log: log}
}

func (b *Bridge) Name() string { return "realtime-bridge" }

func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run(runCtx)
	}()
	b.log.Info("realtime bridge started")
	return nil
}

func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	cancel := b.cancel
	b.running = false
	b.cancel = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := b.source.Disconnect(); err != nil {
		b.log.WithError(err).Warn("realtime disconnect failed")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// run keeps one subscription alive, reconnecting after drops.
func (b *Bridge) run(ctx context.Context) {
	for {
		if err := b.subscribe(ctx); err != nil {
			b.log.WithError(err).Warn("realtime subscribe failed")
		} else {
			select {
			case <-ctx.Done():
				return
			case <-b.source.Done():
				b.log.Warn("realtime connection dropped; reconnecting")
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.retry):
		}
	}
}

func (b *Bridge) subscribe(ctx context.Context) error {
	if err := b.source.Connect(ctx); err != nil {
		return err
	}
	_, err := b.source.SubscribeToPostgresChanges(ctx, client.PostgresChangesConfig{
		Event:  "UPDATE",
		Schema: "public",
		Table:  "invoices",
	}, func(change *client.ChangeEvent) {
		b.handle(ctx, change)
	})
	if err != nil {
		_ = b.source.Disconnect()
	}
	return err
}

type invoiceRow struct {
	Ref    string         `json:"ref"`
	Status invoice.Status `json:"status"`
}

func (b *Bridge) handle(ctx context.Context, change *client.ChangeEvent) {
	var row invoiceRow
	if err := change.Decode(&row); err != nil || row.Ref == "" {
		b.log.WithError(err).Warn("undecodable invoice change")
		return
	}
	// The row lacks payment fields; reload the joined view for a full event.
	inv, err := b.invoices.Get(ctx, row.Ref)
	if err != nil {
		b.log.WithError(err).WithField("ref", row.Ref).Warn("reload changed invoice failed")
		return
	}
	if inv.Status != row.Status {
		// A later change is already visible; its own notification will follow.
		return
	}
	b.publisher.Publish(invoice.EventFor(inv))
}
