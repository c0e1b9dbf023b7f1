// ABOUTME: Tests for the pending call correlation table.
// ABOUTME: Late and unknown responses must be discarded, never misdelivered.

package transport

import (
	"errors"
	"testing"

	"github.com/2389/toolgate/internal/wire"
)

func TestPendingDeliver(t *testing.T) {
	p := newPendingCalls(testLogger())
	ch, err := p.create("req-1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	p.deliver(&wire.Response{ID: "req-1", Result: []byte(`{}`)})

	res := <-ch
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if res.resp.ID != "req-1" {
		t.Errorf("expected req-1, got %s", res.resp.ID)
	}
}

func TestPendingUnknownIDDiscarded(t *testing.T) {
	p := newPendingCalls(testLogger())
	ch, _ := p.create("req-1")

	// A response for an id nobody is waiting on must not reach req-1.
	p.deliver(&wire.Response{ID: "req-999", Result: []byte(`{}`)})

	select {
	case res := <-ch:
		t.Fatalf("unexpected delivery: %+v", res)
	default:
	}
}

func TestPendingRemoveThenDeliver(t *testing.T) {
	p := newPendingCalls(testLogger())
	ch, _ := p.create("req-1")
	p.remove("req-1")

	// Late response after abandonment: discarded.
	p.deliver(&wire.Response{ID: "req-1", Result: []byte(`{}`)})

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after remove")
	}
	if p.count() != 0 {
		t.Errorf("expected empty table, got %d", p.count())
	}
}

func TestPendingFail(t *testing.T) {
	p := newPendingCalls(testLogger())
	ch, _ := p.create("req-1")

	sentinel := errors.New("doomed")
	p.fail("req-1", sentinel)

	res := <-ch
	if !errors.Is(res.err, sentinel) {
		t.Fatalf("expected doomed error, got %v", res.err)
	}
}

func TestPendingDuplicateID(t *testing.T) {
	p := newPendingCalls(testLogger())
	if _, err := p.create("req-1"); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := p.create("req-1"); err == nil {
		t.Fatal("expected duplicate id to be rejected")
	}
}

func TestPendingFailAll(t *testing.T) {
	p := newPendingCalls(testLogger())
	ch1, _ := p.create("req-1")
	ch2, _ := p.create("req-2")

	p.failAll()
	p.failAll() // idempotent

	if _, ok := <-ch1; ok {
		t.Fatal("expected ch1 closed")
	}
	if _, ok := <-ch2; ok {
		t.Fatal("expected ch2 closed")
	}

	if _, err := p.create("req-3"); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected after failAll, got %v", err)
	}
}
