/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package session

import (
	"testing"
	"time"
)

// TestPendingCommandFiresExactlyOnce covers spec.md §8: "For every
// PendingCommand submitted, exactly one completion is invoked, exactly
// once."
func TestPendingCommandFiresExactlyOnce(t *testing.T) {
	calls := 0
	pc := &PendingCommand{Opaque: 1, Handler: func(frame []byte, err error) { calls++ }}
	complete(pc, nil, nil)
	complete(pc, nil, nil) // second call must be a no-op
	if calls != 1 {
		t.Fatalf("handler invoked %d times, want 1", calls)
	}
}

func TestPendingTableTakeRemovesFromDeadlineHeap(t *testing.T) {
	tab := newPendingTable()
	now := time.Now()
	a := &PendingCommand{Opaque: 1, Deadline: now.Add(10 * time.Millisecond), Handler: func([]byte, error) {}}
	b := &PendingCommand{Opaque: 2, Deadline: now.Add(20 * time.Millisecond), Handler: func([]byte, error) {}}
	tab.add(a)
	tab.add(b)

	if _, ok := tab.take(1); !ok {
		t.Fatal("expected to take opaque 1")
	}
	if tab.len() != 1 {
		t.Fatalf("len=%d, want 1", tab.len())
	}
	next, ok := tab.nextDeadline()
	if !ok || !next.Equal(b.Deadline) {
		t.Fatalf("nextDeadline=%v, want %v", next, b.Deadline)
	}
}

func TestPendingTableExpireDue(t *testing.T) {
	tab := newPendingTable()
	now := time.Now()
	var fired []uint32
	mk := func(op uint32, d time.Time, ambiguous bool) *PendingCommand {
		return &PendingCommand{
			Opaque: op, Deadline: d, Ambiguous: ambiguous,
			Handler: func([]byte, error) { fired = append(fired, op) },
		}
	}
	tab.add(mk(1, now.Add(-time.Second), false)) // already due
	tab.add(mk(2, now.Add(time.Hour), false))    // not due

	due := tab.expireDue(now)
	if len(due) != 1 || due[0].Opaque != 1 {
		t.Fatalf("expireDue = %+v, want only opaque 1", due)
	}
	if tab.len() != 1 {
		t.Fatalf("len=%d, want 1 (opaque 2 still pending)", tab.len())
	}
}

func TestTimeoutErrAmbiguity(t *testing.T) {
	read := &PendingCommand{Ambiguous: false}
	mutate := &PendingCommand{Ambiguous: true}
	if got := timeoutErr(read); got == nil {
		t.Fatal("expected error")
	}
	if timeoutErr(mutate).Error() == timeoutErr(read).Error() {
		t.Fatal("ambiguous and unambiguous timeouts must differ")
	}
}

func TestPendingTableDrainAll(t *testing.T) {
	tab := newPendingTable()
	tab.add(&PendingCommand{Opaque: 1, Handler: func([]byte, error) {}})
	tab.add(&PendingCommand{Opaque: 2, Handler: func([]byte, error) {}})
	drained := tab.drainAll()
	if len(drained) != 2 {
		t.Fatalf("drained %d, want 2", len(drained))
	}
	if tab.len() != 0 {
		t.Fatalf("len=%d after drainAll, want 0", tab.len())
	}
}
