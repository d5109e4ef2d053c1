/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package bucket

import (
	"testing"

	"github.com/richardsmedley/cbcore/clustermap"
	"github.com/richardsmedley/cbcore/session"
	"github.com/richardsmedley/cbcore/stats"
)

func node(host string, port int) *clustermap.NodeInfo {
	return &clustermap.NodeInfo{Hostname: host, KVPort: port}
}

func TestDiffSessionsLockedOpensNewNodes(t *testing.T) {
	b := &Bucket{cfg: Config{Stats: stats.Noop()}, sessions: make(map[uint64]*session.Session)}
	next := &clustermap.Config{Nodes: []*clustermap.NodeInfo{node("a", 11210), node("b", 11210)}}

	toOpen, toClose := b.diffSessionsLocked(next)
	if len(toOpen) != 2 {
		t.Fatalf("expected both nodes to need a new session, got %d", len(toOpen))
	}
	if len(toClose) != 0 {
		t.Fatalf("expected nothing to close on an empty pool, got %d", len(toClose))
	}
}

func TestDiffSessionsLockedClosesDroppedNodes(t *testing.T) {
	a := node("a", 11210)
	b := &Bucket{cfg: Config{Stats: stats.Noop()}, sessions: map[uint64]*session.Session{
		a.Digest():         nil,
		node("b", 11210).Digest(): nil,
	}}
	next := &clustermap.Config{Nodes: []*clustermap.NodeInfo{a}}

	toOpen, toClose := b.diffSessionsLocked(next)
	if len(toOpen) != 0 {
		t.Fatalf("expected nothing new to open, got %d", len(toOpen))
	}
	if len(toClose) != 1 {
		t.Fatalf("expected the dropped node's session to close, got %d", len(toClose))
	}
	if _, stillTracked := b.sessions[node("b", 11210).Digest()]; stillTracked {
		t.Fatal("dropped node's session should have been removed from the tracking map")
	}
}

func TestDiffSessionsLockedStableOnUnchangedSet(t *testing.T) {
	a := node("a", 11210)
	b := &Bucket{cfg: Config{Stats: stats.Noop()}, sessions: map[uint64]*session.Session{a.Digest(): nil}}
	next := &clustermap.Config{Nodes: []*clustermap.NodeInfo{a}}

	toOpen, toClose := b.diffSessionsLocked(next)
	if len(toOpen) != 0 || len(toClose) != 0 {
		t.Fatalf("expected no change for an identical node set, got open=%d close=%d", len(toOpen), len(toClose))
	}
}
