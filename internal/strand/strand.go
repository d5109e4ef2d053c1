// Package strand implements the serial-executor primitive spec.md §5 calls
// a "strand": a private goroutine that state-mutating work is posted to, so
// the component's own methods never need locks. It is the direct Go
// analogue of a boost-asio io_context::strand.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package strand

// Strand serialises closures onto a single goroutine. Callers from any
// goroutine may Post; posted functions run one at a time, in submission
// order, on the strand's own goroutine.
type Strand struct {
	work chan func()
	done chan struct{}
}

// New starts a strand's goroutine with the given work queue depth.
func New(queueDepth int) *Strand {
	s := &Strand{
		work: make(chan func(), queueDepth),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Strand) run() {
	for {
		select {
		case fn := <-s.work:
			fn()
		case <-s.done:
			// drain anything already queued before exiting so callers that
			// posted just before Close still observe their closure run.
			for {
				select {
				case fn := <-s.work:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Post enqueues fn to run on the strand goroutine. Safe to call from any
// goroutine, including the strand's own.
func (s *Strand) Post(fn func()) {
	select {
	case s.work <- fn:
	case <-s.done:
	}
}

// Close stops the strand after draining already-queued work. Post calls
// racing with Close may be dropped; callers that need a synchronization
// point should wait on their own completion signal, not on Close.
func (s *Strand) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
