package pending

import (
	"errors"
	"testing"
)

func TestRegisterResolveRoundTrip(t *testing.T) {
	m := New()
	id, wait, err := m.Register()
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.Resolve(id, Reply{Body: []byte("ok")}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	reply := <-wait
	if reply.Err != nil {
		t.Fatalf("unexpected reply error: %v", reply.Err)
	}
	if string(reply.Body) != "ok" {
		t.Fatalf("got %q want %q", reply.Body, "ok")
	}
	if m.Len() != 0 {
		t.Fatal("slot should be removed after resolve")
	}
}

func TestResolveUnknownID(t *testing.T) {
	m := New()
	if err := m.Resolve("nonexistent", Reply{}); !errors.Is(err, ErrUnknownRequestID) {
		t.Fatalf("expected ErrUnknownRequestID, got %v", err)
	}
}

func TestResolveEachIDExactlyOnce(t *testing.T) {
	m := New()
	id, _, _ := m.Register()
	if err := m.Resolve(id, Reply{}); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if err := m.Resolve(id, Reply{}); !errors.Is(err, ErrUnknownRequestID) {
		t.Fatalf("expected second Resolve to fail, got %v", err)
	}
}

func TestFailAllFailsOutstandingSlots(t *testing.T) {
	m := New()
	_, wait1, _ := m.Register()
	_, wait2, _ := m.Register()

	disconnectErr := errors.New("transport lost")
	m.FailAll(disconnectErr)

	for _, w := range []<-chan Reply{wait1, wait2} {
		r := <-w
		if !errors.Is(r.Err, disconnectErr) {
			t.Fatalf("expected disconnect error, got %v", r.Err)
		}
	}
}

func TestRegisterAfterFailAllIsClosed(t *testing.T) {
	m := New()
	m.FailAll(errors.New("gone"))
	if _, _, err := m.Register(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCancelRemovesSlotWithoutResolving(t *testing.T) {
	m := New()
	id, wait, _ := m.Register()
	m.Cancel(id)
	if m.Len() != 0 {
		t.Fatal("slot should be removed after cancel")
	}
	if _, ok := <-wait; ok {
		t.Fatal("expected channel to be closed with no value")
	}
}
