package payments

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/solpos/service_layer/internal/app/services/invoices"
	"github.com/solpos/service_layer/internal/app/system"
	"github.com/solpos/service_layer/pkg/logger"
)

// DefaultExpirySchedule runs the sweep once a minute.
const DefaultExpirySchedule = "@every 1m"

// ExpirySweeper moves pending invoices past their payment window to error.
type ExpirySweeper struct {
	invoices *invoices.Service
	schedule string
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

var _ system.Service = (*ExpirySweeper)(nil)

func NewExpirySweeper(inv *invoices.Service, schedule string, log *logger.Logger) *ExpirySweeper {
	if log == nil {
		log = logger.NewDefault("invoice-expiry")
	}
	if schedule == "" {
		schedule = DefaultExpirySchedule
	}
	return &ExpirySweeper{invoices: inv, schedule: schedule, log: log}
}

func (s *ExpirySweeper) Name() string { return "invoice-expiry" }

func (s *ExpirySweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.Sweep(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.running = true
	s.log.WithField("schedule", s.schedule).Info("invoice expiry sweeper started")
	return nil
}

func (s *ExpirySweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Sweep expires stale invoices once and returns how many moved.
func (s *ExpirySweeper) Sweep(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	n, err := s.invoices.ExpireStale(ctx)
	if err != nil {
		s.log.WithError(err).Warn("expire stale invoices failed")
	}
	if n > 0 {
		s.log.WithField("count", n).Info("expired stale invoices")
	}
	return n
}
