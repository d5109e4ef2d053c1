// Package retry implements the retry/backoff orchestrator of spec.md §4.7:
// given a failure Reason, it decides whether to retry, and after how long,
// using a fixed classification table rather than dynamic dispatch
// (spec.md §9: "replaced by an explicit enum Reason + dispatch table").
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package retry

import (
	"math/rand"
	"time"

	"github.com/richardsmedley/cbcore/stats"
)

// Reason is why an attempt failed, the orchestrator's sole classification
// input per spec.md §4.7.
type Reason int

const (
	ReasonNotReady Reason = iota
	ReasonNotMyVBucket
	ReasonLocked
	ReasonTemporaryFailure
	ReasonSocketClosedInFlight
	ReasonServiceNotAvailable
	ReasonAuthPending
	ReasonCollectionUnknown
	ReasonConfigNotUpdated
)

func (r Reason) String() string {
	switch r {
	case ReasonNotReady:
		return "not_ready"
	case ReasonNotMyVBucket:
		return "not_my_vbucket"
	case ReasonLocked:
		return "locked"
	case ReasonTemporaryFailure:
		return "temporary_failure"
	case ReasonSocketClosedInFlight:
		return "socket_closed_in_flight"
	case ReasonServiceNotAvailable:
		return "service_not_available"
	case ReasonAuthPending:
		return "auth_pending"
	case ReasonCollectionUnknown:
		return "collection_unknown"
	case ReasonConfigNotUpdated:
		return "config_not_updated"
	}
	return "unknown"
}

// retryable is the fixed dispatch table of spec.md §9: every Reason maps to
// whether it is ever retryable, independent of idempotence (idempotence is
// a second, orthogonal gate applied in Orchestrator.Decide).
var retryable = map[Reason]bool{
	ReasonNotReady:             true,
	ReasonNotMyVBucket:         true,
	ReasonLocked:               true,
	ReasonTemporaryFailure:     true,
	ReasonSocketClosedInFlight: true,
	ReasonServiceNotAvailable:  true,
	ReasonAuthPending:          true,
	ReasonCollectionUnknown:    true,
	ReasonConfigNotUpdated:     true,
}

// Idempotence classifies whether the operation being retried is safe to
// resend. Reads are always idempotent; mutations are idempotent only if
// the caller attached a CAS or the operation is inherently safe to repeat
// (spec.md §4.7) — insert-with-generated-id is explicitly NOT.
type Idempotence int

const (
	NotIdempotent Idempotence = iota
	Idempotent
	IdempotentWithCAS
)

// Policy is the backoff/deadline configuration driving Decide.
type Policy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    func() time.Duration // nil uses a default uniform jitter
}

// DefaultPolicy matches the shape described in spec.md §4.7:
// delay = min(max_backoff, base*2^attempts) + jitter.
func DefaultPolicy() Policy {
	return Policy{BaseDelay: 10 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Decision is the outcome of one retry evaluation.
type Decision struct {
	Retry bool
	Delay time.Duration
	// GiveUpErr is set whenever Retry is false (reason not retryable,
	// operation not idempotent, or deadline exceeded); it is the lastErr
	// passed to Decide, unchanged. The reason trace is not attached here:
	// bucket's giveUp wraps it around the error it returns.
	GiveUpErr error
}

// Trace accumulates the reasons seen across attempts, surfaced verbatim in
// the final error when an operation gives up.
type Trace []Reason

func (t Trace) String() string {
	s := ""
	for i, r := range t {
		if i > 0 {
			s += "->"
		}
		s += r.String()
	}
	return s
}

// Orchestrator decides, for every failure, whether to retry, where, and
// after how long (spec.md §4.7).
type Orchestrator struct {
	policy Policy
	stats  *stats.Registry
}

func New(policy Policy) *Orchestrator { return &Orchestrator{policy: policy, stats: stats.Noop()} }

// NewWithStats is New, additionally recording every Decide evaluation's
// Reason to reg.RetryReasons.
func NewWithStats(policy Policy, reg *stats.Registry) *Orchestrator {
	if reg == nil {
		reg = stats.Noop()
	}
	return &Orchestrator{policy: policy, stats: reg}
}

// Decide evaluates one failed attempt against the deadline the caller
// passes; Decide does not look at any context. Bucket passes the
// operation's own deadline and watches its context separately, so
// whichever of the two ends first stops the operation (SPEC_FULL.md
// §9(a)). attempt is 0 on the first retry evaluation.
func (o *Orchestrator) Decide(reason Reason, idem Idempotence, attempt int, deadline time.Time, lastErr error) Decision {
	o.stats.RetryReasons.WithLabelValues(reason.String()).Inc()
	if !retryable[reason] {
		return Decision{Retry: false, GiveUpErr: lastErr}
	}
	if idem == NotIdempotent {
		return Decision{Retry: false, GiveUpErr: lastErr}
	}
	if !deadline.IsZero() && time.Now().After(deadline) {
		return Decision{Retry: false, GiveUpErr: lastErr}
	}
	delay := o.backoff(attempt)
	if !deadline.IsZero() {
		if remaining := time.Until(deadline); delay > remaining {
			delay = remaining
		}
	}
	return Decision{Retry: true, Delay: delay}
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	base := o.policy.BaseDelay
	max := o.policy.MaxDelay
	if base <= 0 {
		base = 10 * time.Millisecond
	}
	if max <= 0 {
		max = 2 * time.Second
	}
	mult := int64(1) << uint(minInt(attempt, 30))
	d := time.Duration(int64(base) * mult)
	if d > max || d < 0 {
		d = max
	}
	jitter := o.policy.Jitter
	if jitter == nil {
		jitter = func() time.Duration { return time.Duration(rand.Int63n(int64(base) + 1)) }
	}
	return d + jitter()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
