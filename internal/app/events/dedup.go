package events

import (
	"strings"
	"sync"
	"time"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
)

// Dedup forwards each (ref, status) pair at most once per window. The same
// transition can arrive from the local service and from the database feed.
type Dedup struct {
	next   Publisher
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

var _ Publisher = (*Dedup)(nil)

func NewDedup(next Publisher, window time.Duration) *Dedup {
	if window <= 0 {
		window = time.Minute
	}
	return &Dedup{next: next, window: window, now: time.Now, seen: make(map[string]time.Time)}
}

func (d *Dedup) Publish(evt invoice.Event) {
	key := strings.ToUpper(evt.Ref) + "|" + string(evt.Status)
	now := d.now()

	d.mu.Lock()
	if at, ok := d.seen[key]; ok && now.Sub(at) < d.window {
		d.mu.Unlock()
		return
	}
	d.seen[key] = now
	if len(d.seen) > 1024 {
		for k, at := range d.seen {
			if now.Sub(at) >= d.window {
				delete(d.seen, k)
			}
		}
	}
	d.mu.Unlock()

	d.next.Publish(evt)
}
