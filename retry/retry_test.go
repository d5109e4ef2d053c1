/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/richardsmedley/cbcore/stats"
)

func TestDecideNotIdempotentNeverRetries(t *testing.T) {
	o := New(DefaultPolicy())
	d := o.Decide(ReasonTemporaryFailure, NotIdempotent, 0, time.Time{}, errors.New("boom"))
	if d.Retry {
		t.Fatal("non-idempotent op must not retry even on a retryable reason")
	}
}

func TestDecideUnretryableReason(t *testing.T) {
	o := New(DefaultPolicy())
	d := o.Decide(Reason(999), Idempotent, 0, time.Time{}, errors.New("boom"))
	if d.Retry {
		t.Fatal("unknown/unretryable reason must not retry")
	}
}

func TestDecideDeadlineExceeded(t *testing.T) {
	o := New(DefaultPolicy())
	past := time.Now().Add(-time.Second)
	d := o.Decide(ReasonNotMyVBucket, Idempotent, 0, past, errors.New("boom"))
	if d.Retry || d.GiveUpErr == nil {
		t.Fatalf("expected give-up once deadline exceeded, got %+v", d)
	}
}

func TestDecideRetriesWithinDeadline(t *testing.T) {
	o := New(DefaultPolicy())
	future := time.Now().Add(time.Minute)
	d := o.Decide(ReasonNotMyVBucket, Idempotent, 0, future, errors.New("boom"))
	if !d.Retry {
		t.Fatal("expected retry within deadline for retryable+idempotent")
	}
	if d.Delay <= 0 {
		t.Fatal("expected a positive backoff delay")
	}
}

func TestNewWithStatsRecordsReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := stats.NewRegistry(reg)
	o := NewWithStats(DefaultPolicy(), s)
	o.Decide(ReasonNotMyVBucket, Idempotent, 0, time.Time{}, errors.New("boom"))

	var m dto.Metric
	if err := s.RetryReasons.WithLabelValues(ReasonNotMyVBucket.String()).Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.Counter.GetValue() != 1 {
		t.Fatalf("RetryReasons[%s] = %v, want 1", ReasonNotMyVBucket, m.Counter.GetValue())
	}
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	o := New(Policy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Jitter: func() time.Duration { return 0 }})
	d := o.backoff(20) // 2^20 * 1ms would massively exceed MaxDelay
	if d != 5*time.Millisecond {
		t.Fatalf("backoff = %v, want capped at 5ms", d)
	}
}
