package system

import (
	"context"
	"errors"
	"testing"
)

type fakeService struct {
	name     string
	startErr error
	stopErr  error
	log      *[]string
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(context.Context) error {
	*f.log = append(*f.log, "start:"+f.name)
	return f.startErr
}

func (f *fakeService) Stop(context.Context) error {
	*f.log = append(*f.log, "stop:"+f.name)
	return f.stopErr
}

func TestManagerOrdersLifecycle(t *testing.T) {
	var calls []string
	m := NewManager(nil)
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&fakeService{name: name, log: &calls}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var calls []string
	m := NewManager(nil)
	_ = m.Register(&fakeService{name: "a", log: &calls})
	_ = m.Register(&fakeService{name: "b", log: &calls, startErr: errors.New("boom")})
	_ = m.Register(&fakeService{name: "c", log: &calls})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	want := []string{"start:a", "start:b", "stop:a"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
}

func TestManagerRejectsDuplicates(t *testing.T) {
	var calls []string
	m := NewManager(nil)
	if err := m.Register(&fakeService{name: "a", log: &calls}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(&fakeService{name: "a", log: &calls}); err == nil {
		t.Fatal("expected duplicate error")
	}
	if err := m.Register(nil); err == nil {
		t.Fatal("expected nil service error")
	}
}

func TestManagerJoinsStopErrors(t *testing.T) {
	var calls []string
	m := NewManager(nil)
	stopErr := errors.New("stuck")
	_ = m.Register(&fakeService{name: "a", log: &calls, stopErr: stopErr})
	_ = m.Register(&fakeService{name: "b", log: &calls})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(context.Background()); !errors.Is(err, stopErr) {
		t.Fatalf("expected joined stop error, got %v", err)
	}
}
