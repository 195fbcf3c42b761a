package events

import (
	"testing"
	"time"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
)

func receive(t *testing.T, ch <-chan invoice.Event) invoice.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return invoice.Event{}
}

func TestHubRoutesByRef(t *testing.T) {
	hub := NewHub(4, nil)
	mine, cancelMine := hub.Subscribe("refaaaaaa")
	defer cancelMine()
	all, cancelAll := hub.Subscribe("")
	defer cancelAll()
	other, cancelOther := hub.Subscribe("REFBBBBBB")
	defer cancelOther()

	hub.Publish(invoice.Event{Ref: "REFAAAAAA", Status: invoice.StatusConfirmed})

	if evt := receive(t, mine); evt.Status != invoice.StatusConfirmed {
		t.Fatalf("unexpected event %+v", evt)
	}
	receive(t, all)
	select {
	case evt := <-other:
		t.Fatalf("other ref received %+v", evt)
	default:
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := NewHub(1, nil)
	ch, cancel := hub.Subscribe("REFAAAAAA")
	if hub.Subscribers() != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	if hub.Subscribers() != 0 {
		t.Fatalf("expected no subscribers")
	}
	hub.Publish(invoice.Event{Ref: "REFAAAAAA"})
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(1, nil)
	ch, cancel := hub.Subscribe("REFAAAAAA")
	defer cancel()

	hub.Publish(invoice.Event{Ref: "REFAAAAAA", Status: invoice.StatusConfirmed})
	hub.Publish(invoice.Event{Ref: "REFAAAAAA", Status: invoice.StatusSettled})

	if evt := receive(t, ch); evt.Status != invoice.StatusConfirmed {
		t.Fatalf("expected first event kept, got %+v", evt)
	}
	select {
	case evt := <-ch:
		t.Fatalf("expected second event dropped, got %+v", evt)
	default:
	}
}
