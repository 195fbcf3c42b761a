package system

import (
	"context"
	"sync"
	"time"

	"github.com/solpos/service_layer/pkg/logger"
)

// Loop is a Service that calls a function on a fixed interval until stopped.
type Loop struct {
	name     string
	interval time.Duration
	fn       func(context.Context)
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

var _ Service = (*Loop)(nil)

// NewLoop runs fn every interval. The first call happens one interval after Start.
func NewLoop(name string, interval time.Duration, fn func(context.Context), log *logger.Logger) *Loop {
	if log == nil {
		log = logger.NewDefault(name)
	}
	return &Loop{name: name, interval: interval, fn: fn, log: log}
}

func (l *Loop) Name() string { return l.name }

// Interval is the configured tick period.
func (l *Loop) Interval() time.Duration { return l.interval }

func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel, l.done, l.running = cancel, done, true

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				l.fn(runCtx)
			}
		}
	}()

	l.log.WithField("interval", l.interval.String()).Infof("%s started", l.name)
	return nil
}

func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	cancel, done := l.cancel, l.done
	l.running, l.cancel = false, nil
	l.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff remembers, per key, the earliest time the next attempt may run.
type Backoff struct {
	mu   sync.Mutex
	next map[string]time.Time
	now  func() time.Time
}

func NewBackoff() *Backoff {
	return &Backoff{next: make(map[string]time.Time), now: time.Now}
}

// Due reports whether key may be attempted at t.
func (b *Backoff) Due(key string, t time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	next, ok := b.next[key]
	return !ok || t.After(next)
}

// Delay blocks key for d.
func (b *Backoff) Delay(key string, d time.Duration) {
	b.mu.Lock()
	b.next[key] = b.now().Add(d)
	b.mu.Unlock()
}

// Clear makes key due immediately.
func (b *Backoff) Clear(key string) {
	b.mu.Lock()
	delete(b.next, key)
	b.mu.Unlock()
}

// Retain forgets every key not in keep.
func (b *Backoff) Retain(keep map[string]struct{}) {
	b.mu.Lock()
	for key := range b.next {
		if _, ok := keep[key]; !ok {
			delete(b.next, key)
		}
	}
	b.mu.Unlock()
}

// Len counts tracked keys.
func (b *Backoff) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.next)
}
