package settlements

import (
	"context"
	"time"

	"github.com/solpos/service_layer/internal/app/system"
	"github.com/solpos/service_layer/pkg/logger"
)

// Poller refreshes open settlements until the provider reports a final status.
// A settlement whose refresh fails waits two intervals before the next try.
type Poller struct {
	*system.Loop
	service *Service
	batch   int
	backoff *system.Backoff
	log     *logger.Logger
}

var _ system.Service = (*Poller)(nil)

func NewPoller(service *Service, interval time.Duration, log *logger.Logger) *Poller {
	if log == nil {
		log = logger.NewDefault("settlement-poller")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	p := &Poller{service: service, batch: 50, backoff: system.NewBackoff(), log: log}
	p.Loop = system.NewLoop("settlement-poller", interval, p.tick, log)
	return p
}

func (p *Poller) tick(ctx context.Context) {
	open, err := p.service.Open(ctx, p.batch)
	if err != nil {
		p.log.WithError(err).Warn("list open settlements failed")
		return
	}

	now := time.Now()
	for _, st := range open {
		if !p.backoff.Due(st.ID, now) {
			continue
		}
		updated, err := p.service.Refresh(ctx, st)
		switch {
		case err != nil:
			p.log.WithError(err).WithField("settlement", st.ID).Warn("refresh settlement failed")
			p.backoff.Delay(st.ID, 2*p.Interval())
		case updated.Status.Final():
			p.backoff.Clear(st.ID)
		default:
			p.backoff.Delay(st.ID, p.Interval())
		}
	}
}
