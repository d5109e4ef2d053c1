/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package bucket

import (
	"context"
	"sync"
	"time"

	"github.com/richardsmedley/cbcore/cberr"
	"github.com/richardsmedley/cbcore/clustermap"
	"github.com/richardsmedley/cbcore/internal/xlog"
	"github.com/richardsmedley/cbcore/retry"
	"github.com/richardsmedley/cbcore/session"
	"github.com/richardsmedley/cbcore/stats"
	"github.com/richardsmedley/cbcore/transport"
	"github.com/richardsmedley/cbcore/wire"
)

const logComponent = "bucket"

// Config parameterises a Bucket's node sessions: credentials, TLS, and
// timeouts shared by every session the bucket opens.
type Config struct {
	Name               string
	Credentials        session.Credentials
	TLS                transport.TLSConfig
	AllowPlainOnNonTLS bool
	KeyValueTimeout    time.Duration
	QueueDepth         int
	RetryPolicy        retry.Policy
	Stats              *stats.Registry // nil uses a no-op Registry
}

// Bucket is one open bucket: a live ClusterConfig snapshot plus one Session
// per node currently in that snapshot, kept in sync as NOT_MY_VBUCKET
// replies and clustermap-change-notify pushes report newer revisions
// (spec.md §4.4).
type Bucket struct {
	cfg  Config
	orch *retry.Orchestrator

	mu       sync.RWMutex
	current  *clustermap.Config
	sessions map[uint64]*session.Session // keyed by NodeInfo.Digest()

	waitersMu sync.Mutex
	waiters   []func() // fired once the first config snapshot installs
}

// Open creates a Bucket and opens one session against seed (typically the
// node the cluster bootstrapped through), blocking until that session
// reaches Ready and the bucket has its first ClusterConfig snapshot.
func Open(ctx context.Context, cfg Config, seedEndpoint string) (*Bucket, error) {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.Noop()
	}
	b := &Bucket{
		cfg:      cfg,
		orch:     retry.NewWithStats(cfg.RetryPolicy, cfg.Stats),
		sessions: make(map[uint64]*session.Session),
	}
	result := make(chan error, 1)
	s := b.newSession(seedEndpoint)
	s.Open(ctx, func(res session.OpenResult) {
		result <- res.Err
	})
	if err := <-result; err != nil {
		return nil, cberr.Wrap(cberr.ErrServiceNotAvailable, "seed session open: "+seedEndpoint, err)
	}
	b.mu.Lock()
	b.sessions[seedDigest(seedEndpoint)] = s
	haveConfig := b.current != nil
	b.mu.Unlock()
	if !haveConfig {
		return nil, cberr.New(cberr.ErrServiceNotAvailable, "no cluster config observed during seed open")
	}
	return b, nil
}

func (b *Bucket) newSession(endpoint string) *session.Session {
	return session.New(session.Config{
		Endpoint:           endpoint,
		TLS:                b.cfg.TLS,
		Credentials:        b.cfg.Credentials,
		BucketName:         b.cfg.Name,
		AllowPlainOnNonTLS: b.cfg.AllowPlainOnNonTLS,
		KeyValueTimeout:    b.cfg.KeyValueTimeout,
		QueueDepth:         b.cfg.QueueDepth,
		Stats:              b.cfg.Stats,
	}, b, nil)
}

// seedDigest gives the bootstrap session a stable map key before its real
// NodeInfo (and the digest it carries) is known from the first config.
func seedDigest(endpoint string) uint64 {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(endpoint); i++ {
		h ^= uint64(endpoint[i])
		h *= 1099511628211
	}
	return h
}

// OnClusterConfig implements session.ConfigSink: every session feeds
// observed configs back here, whichever node or code path surfaced them
// (spec.md §4.3 — GET_CLUSTER_CONFIG, unsolicited push, or a
// NOT_MY_VBUCKET-attached body all funnel into the same install path).
func (b *Bucket) OnClusterConfig(nodeEndpoint string, raw []byte) {
	next, err := clustermap.Parse(raw)
	if err != nil {
		xlog.Warningf(logComponent, "discarding unparseable cluster config from %s: %v", nodeEndpoint, err)
		return
	}
	b.installConfig(next)
}

// installConfig atomically swaps in next if it is strictly newer, then
// reconciles the session pool against the new node directory: opens
// sessions for nodes that are new, and drains+closes sessions for nodes
// that dropped out (spec.md §4.4's rebalance/failover handling).
func (b *Bucket) installConfig(next *clustermap.Config) {
	b.mu.Lock()
	if !next.NewerThan(b.current) {
		b.mu.Unlock()
		return
	}
	b.current = next
	toOpen, toClose := b.diffSessionsLocked(next)
	b.mu.Unlock()
	b.cfg.Stats.ConfigInstalls.Inc()

	for _, n := range toOpen {
		b.openNodeSession(n)
	}
	for _, s := range toClose {
		s.Close()
	}
	b.fireWaiters()
}

// diffSessionsLocked must be called with b.mu held; it returns the nodes
// that need a new session and the sessions that should be torn down,
// without itself opening or closing anything (those are slow operations
// that must not happen under the lock).
func (b *Bucket) diffSessionsLocked(next *clustermap.Config) (toOpen []*clustermap.NodeInfo, toClose []*session.Session) {
	wanted := make(map[uint64]*clustermap.NodeInfo, len(next.Nodes))
	for _, n := range next.Nodes {
		wanted[n.Digest()] = n
	}
	for digest, n := range wanted {
		if _, ok := b.sessions[digest]; !ok {
			toOpen = append(toOpen, n)
		}
	}
	for digest, s := range b.sessions {
		if _, ok := wanted[digest]; !ok {
			toClose = append(toClose, s)
			delete(b.sessions, digest)
		}
	}
	return
}

func (b *Bucket) openNodeSession(n *clustermap.NodeInfo) {
	s := b.newSession(n.KVEndpoint(b.cfg.TLS.Enabled))
	b.mu.Lock()
	b.sessions[n.Digest()] = s
	b.mu.Unlock()
	s.Open(context.Background(), func(res session.OpenResult) {
		if res.Err != nil {
			xlog.Warningf(logComponent, "session to %s failed to open: %v", n.Hostname, res.Err)
			b.mu.Lock()
			delete(b.sessions, n.Digest())
			b.mu.Unlock()
		}
	})
}

func (b *Bucket) fireWaiters() {
	b.waitersMu.Lock()
	waiters := b.waiters
	b.waiters = nil
	b.waitersMu.Unlock()
	for _, w := range waiters {
		w()
	}
}

// Snapshot returns the currently installed ClusterConfig. Callers must
// treat the result as immutable and re-fetch after every retry round
// rather than caching it across an operation's lifetime (spec.md §3).
func (b *Bucket) Snapshot() *clustermap.Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// sessionForPartition returns the Session owning partition's master node
// in snap, or nil if that node has no live session (mid-rebalance gap).
func (b *Bucket) sessionForPartition(snap *clustermap.Config, partition uint16) *session.Session {
	if int(partition) >= len(snap.Partitions) {
		return nil
	}
	idx := snap.Partitions[partition].Master()
	node := snap.NodeAt(idx)
	if node == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessions[node.Digest()]
}

// Close tears down every node session owned by this bucket.
func (b *Bucket) Close() {
	b.mu.Lock()
	sessions := b.sessions
	b.sessions = make(map[uint64]*session.Session)
	b.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

// Negotiated reports the feature set of an arbitrary live node session,
// used by operation encoders to decide whether to ask for snappy
// compression, preserve-expiry framing, or collection-qualified keys.
func (b *Bucket) Negotiated() wire.FeatureSet {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.sessions {
		return s.Negotiated()
	}
	return wire.FeatureSet{}
}
