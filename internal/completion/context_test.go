package completion

import (
	"errors"
	"testing"
	"time"
)

func TestCallbackContextInvokesSynchronously(t *testing.T) {
	m := NewManager()
	var gotOp OpID
	var gotErr error
	id := m.Open(func(op OpID, userPtr any, err error) {
		gotOp = op
		gotErr = err
	})

	if err := m.Complete(id, 42, "payload", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotOp != 42 {
		t.Fatalf("expected callback invoked with op 42, got %d", gotOp)
	}
	if gotErr != nil {
		t.Fatalf("expected nil error, got %v", gotErr)
	}
}

func TestQueueContextTestAllDrains(t *testing.T) {
	m := NewManager()
	id := m.Open(nil)

	m.Complete(id, 1, "a", nil)
	m.Complete(id, 2, "b", nil)

	comps, err := m.TestAll(id, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(comps) != 2 {
		t.Fatalf("expected 2 completions, got %d", len(comps))
	}
}

func TestTestAllFailsOnCallbackContext(t *testing.T) {
	m := NewManager()
	id := m.Open(func(OpID, any, error) {})

	_, err := m.TestAll(id, 10, 0)
	if err == nil {
		t.Fatalf("expected error testing a callback context")
	}
}

func TestTestRemovesOnlyMatchingEntry(t *testing.T) {
	m := NewManager()
	id := m.Open(nil)
	m.Complete(id, 1, "a", nil)
	m.Complete(id, 2, "b", nil)

	userPtr, err := m.Test(id, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userPtr != "b" {
		t.Fatalf("expected user ptr 'b', got %v", userPtr)
	}

	comps, _ := m.TestAll(id, 10, 0)
	if len(comps) != 1 || comps[0].OpID != 1 {
		t.Fatalf("expected remaining completion to be op 1, got %v", comps)
	}
}

func TestTestTimesOutWithNoMsg(t *testing.T) {
	m := NewManager()
	id := m.Open(nil)

	_, err := m.Test(id, 99, 10*time.Millisecond)
	if err == nil {
		t.Fatalf("expected ENOMSG-style error on timeout")
	}
}

func TestCloseFailsWithNonEmptyQueue(t *testing.T) {
	m := NewManager()
	id := m.Open(nil)
	m.Complete(id, 1, "a", nil)

	if err := m.Close(id); err == nil {
		t.Fatalf("expected close to fail with a pending completion")
	}
}

func TestCloseFailsWithOutstandingRefs(t *testing.T) {
	m := NewManager()
	id := m.Open(nil)
	m.AddRef(id)

	if err := m.Close(id); err == nil {
		t.Fatalf("expected close to fail with an outstanding reference")
	}

	m.Release(id)
	if err := m.Close(id); err != nil {
		t.Fatalf("expected close to succeed once reference released: %v", err)
	}
}

func TestCloseFailsWhileUsedByManager(t *testing.T) {
	m := NewManager()
	id := m.Open(nil)
	m.MarkUsedByManager(id, true)

	if err := m.Close(id); err == nil {
		t.Fatalf("expected close to fail while a worker manager is using the context")
	}

	m.MarkUsedByManager(id, false)
	if err := m.Close(id); err != nil {
		t.Fatalf("expected close to succeed once released: %v", err)
	}
}

func TestCompletePropagatesOperationError(t *testing.T) {
	m := NewManager()
	id := m.Open(nil)
	sentinel := errors.New("boom")
	m.Complete(id, 1, nil, sentinel)

	_, err := m.Test(id, 1, 0)
	if err != sentinel {
		t.Fatalf("expected sentinel error propagated, got %v", err)
	}
}

func TestTestAllBlocksUntilCompletionArrives(t *testing.T) {
	m := NewManager()
	id := m.Open(nil)

	done := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		m.Complete(id, 1, "late", nil)
		close(done)
	}()

	comps, err := m.TestAll(id, 10, NoTimeout)
	<-done
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(comps) != 1 {
		t.Fatalf("expected exactly 1 completion once it arrived, got %d", len(comps))
	}
}
