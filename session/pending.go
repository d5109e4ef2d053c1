/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package session

import (
	"container/heap"
	"time"

	"github.com/richardsmedley/cbcore/cberr"
	"github.com/richardsmedley/cbcore/internal/debug"
)

// CompletionHandler is invoked exactly once per PendingCommand: on reply,
// on timeout, or on session teardown, per spec.md §3 invariant.
type CompletionHandler func(frame []byte, err error)

// PendingCommand is the (opaque, deadline, encoded_frame, completion_handler,
// retry_context) tuple of spec.md §3, alive in the session's opaque table
// from write submission until exactly one of: response arrival, timeout, or
// teardown.
type PendingCommand struct {
	Opaque     uint32
	Deadline   time.Time
	Ambiguous  bool // whether a timeout on this command is ambiguous (mutation) or not (read)
	Frame      []byte
	Handler    CompletionHandler
	RetryCtx   interface{}

	heapIndex int
	fired     bool
}

// pendingTable owns the opaque->command map and a deadline-ordered heap so
// the session's single timer always targets the soonest-expiring command.
type pendingTable struct {
	byOpaque map[uint32]*PendingCommand
	byDeadline deadlineHeap
}

func newPendingTable() *pendingTable {
	return &pendingTable{byOpaque: make(map[uint32]*PendingCommand)}
}

func (t *pendingTable) add(pc *PendingCommand) {
	t.byOpaque[pc.Opaque] = pc
	heap.Push(&t.byDeadline, pc)
}

func (t *pendingTable) take(opaque uint32) (*PendingCommand, bool) {
	pc, ok := t.byOpaque[opaque]
	if !ok {
		return nil, false
	}
	t.remove(pc)
	return pc, true
}

func (t *pendingTable) remove(pc *PendingCommand) {
	delete(t.byOpaque, pc.Opaque)
	if pc.heapIndex >= 0 && pc.heapIndex < len(t.byDeadline) && t.byDeadline[pc.heapIndex] == pc {
		heap.Remove(&t.byDeadline, pc.heapIndex)
	}
	_, stillThere := t.byOpaque[pc.Opaque]
	debug.Assertf(!stillThere, "pending command opaque=%d survived remove", pc.Opaque)
}

// nextDeadline returns the soonest pending deadline, or ok=false if empty.
func (t *pendingTable) nextDeadline() (time.Time, bool) {
	for len(t.byDeadline) > 0 {
		pc := t.byDeadline[0]
		if _, live := t.byOpaque[pc.Opaque]; !live {
			heap.Pop(&t.byDeadline)
			continue
		}
		return pc.Deadline, true
	}
	return time.Time{}, false
}

// expireDue removes and returns every command whose deadline is <= now; the
// caller (Session.expireTimeouts) completes each with timeoutErr, ambiguous
// or unambiguous per the command's own flag.
func (t *pendingTable) expireDue(now time.Time) []*PendingCommand {
	var due []*PendingCommand
	for len(t.byDeadline) > 0 {
		pc := t.byDeadline[0]
		if _, live := t.byOpaque[pc.Opaque]; !live {
			heap.Pop(&t.byDeadline)
			continue
		}
		if pc.Deadline.After(now) {
			break
		}
		heap.Pop(&t.byDeadline)
		delete(t.byOpaque, pc.Opaque)
		due = append(due, pc)
	}
	return due
}

// drainAll removes every pending command, in no particular order, for
// teardown. Each should be completed by the caller with a not-connected (or
// retryable) error exactly once.
func (t *pendingTable) drainAll() []*PendingCommand {
	out := make([]*PendingCommand, 0, len(t.byOpaque))
	for _, pc := range t.byOpaque {
		out = append(out, pc)
	}
	t.byOpaque = make(map[uint32]*PendingCommand)
	t.byDeadline = nil
	return out
}

func (t *pendingTable) len() int { return len(t.byOpaque) }

func timeoutErr(pc *PendingCommand) error {
	if pc.Ambiguous {
		return cberr.New(cberr.ErrAmbiguousTimeout, "mutation timed out before a definitive reply")
	}
	return cberr.New(cberr.ErrUnambiguousTimeout, "read timed out")
}

// complete invokes pc.Handler exactly once; callers must not call it twice
// for the same command (the table removal in take/expireDue/drainAll
// enforces the single-owner guarantee).
func complete(pc *PendingCommand, frame []byte, err error) {
	debug.Assertf(!pc.fired, "command opaque=%d completed twice", pc.Opaque)
	if pc.fired {
		return
	}
	pc.fired = true
	pc.Handler(frame, err)
}

// deadlineHeap is a container/heap.Interface ordering PendingCommands by
// Deadline, ascending.
type deadlineHeap []*PendingCommand

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].Deadline.Before(h[j].Deadline) }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *deadlineHeap) Push(x interface{}) {
	pc := x.(*PendingCommand)
	pc.heapIndex = len(*h)
	*h = append(*h, pc)
}
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	pc := old[n-1]
	old[n-1] = nil
	pc.heapIndex = -1
	*h = old[:n-1]
	return pc
}
