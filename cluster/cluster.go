/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"context"
	"encoding/base64"
	"net"
	"sync"
	"time"

	"github.com/richardsmedley/cbcore/bucket"
	"github.com/richardsmedley/cbcore/cberr"
	"github.com/richardsmedley/cbcore/clustermap"
	"github.com/richardsmedley/cbcore/internal/xlog"
	"github.com/richardsmedley/cbcore/retry"
	"github.com/richardsmedley/cbcore/session"
	"github.com/richardsmedley/cbcore/stats"
	"github.com/richardsmedley/cbcore/transport"
	"golang.org/x/sync/errgroup"
)

const logComponent = "cluster"

// Config parameterises cluster bootstrap and every Bucket it opens.
type Config struct {
	Credentials        session.Credentials
	TLS                transport.TLSConfig
	AllowPlainOnNonTLS bool
	KeyValueTimeout    time.Duration
	HTTPTimeout        time.Duration
	QueueDepth         int
	RetryPolicy        retry.Policy
	Resolver           *net.Resolver
	Stats              *stats.Registry // nil uses a no-op Registry
}

// Cluster is the top-level coordinator of spec.md §4.5: it resolves seed
// nodes, owns Buckets opened on demand, and dispatches HTTP service
// requests to whichever eligible node is currently preferred.
type Cluster struct {
	cfg   Config
	cs    ConnectionString
	seeds []string

	mu      sync.RWMutex
	buckets map[string]*bucket.Bucket

	http *httpDispatcher
}

// Connect parses connStr, resolves seed nodes (expanding DNS-SRV when
// applicable), and, when the connection string names a bucket, races the
// seeds concurrently until one opens that bucket. When no bucket is named,
// Connect opens no session and contacts no node; HTTP service calls then
// fail with service_not_available until a Bucket has been opened.
func Connect(ctx context.Context, connStr string, cfg Config) (*Cluster, error) {
	cs, err := ParseConnectionString(connStr)
	if err != nil {
		return nil, err
	}
	seeds, err := ResolveSeeds(ctx, cs, cfg.Resolver)
	if err != nil {
		return nil, err
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.Noop()
	}
	c := &Cluster{
		cfg:     cfg,
		cs:      cs,
		seeds:   seeds,
		buckets: make(map[string]*bucket.Bucket),
	}
	c.http = newHTTPDispatcher(cfg.Credentials, cfg.HTTPTimeout, cfg.Stats)

	bucketName := cs.Bucket
	if bucketName == "" {
		return c, nil
	}
	if _, err := c.openBucketFromSeeds(ctx, bucketName); err != nil {
		return nil, err
	}
	return c, nil
}

// openBucketFromSeeds tries every resolved seed concurrently (errgroup),
// keeping the first Bucket that opens successfully and cancelling the
// rest, per spec.md §4.5 ("seed nodes are tried... until one produces a
// cluster config").
func (c *Cluster) openBucketFromSeeds(ctx context.Context, bucketName string) (*bucket.Bucket, error) {
	c.mu.RLock()
	if b, ok := c.buckets[bucketName]; ok {
		c.mu.RUnlock()
		return b, nil
	}
	c.mu.RUnlock()

	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(groupCtx)
	results := make(chan *bucket.Bucket, len(c.seeds))
	for _, seed := range c.seeds {
		seed := seed
		g.Go(func() error {
			b, err := bucket.Open(gctx, bucket.Config{
				Name:               bucketName,
				Credentials:        c.cfg.Credentials,
				TLS:                c.cfg.TLS,
				AllowPlainOnNonTLS: c.cfg.AllowPlainOnNonTLS,
				KeyValueTimeout:    c.cfg.KeyValueTimeout,
				QueueDepth:         c.cfg.QueueDepth,
				RetryPolicy:        c.cfg.RetryPolicy,
				Stats:              c.cfg.Stats,
			}, seed)
			if err != nil {
				xlog.Warningf(logComponent, "seed %s failed to bootstrap %s: %v", seed, bucketName, err)
				return nil
			}
			select {
			case results <- b:
			default:
				b.Close()
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()
	b, ok := <-results
	cancel()
	go func() {
		for extra := range results {
			extra.Close()
		}
	}()
	if !ok || b == nil {
		return nil, cberr.New(cberr.ErrServiceNotAvailable, "no seed produced a cluster config for bucket "+bucketName)
	}
	c.mu.Lock()
	if existing, already := c.buckets[bucketName]; already {
		c.mu.Unlock()
		b.Close()
		return existing, nil
	}
	c.buckets[bucketName] = b
	c.mu.Unlock()
	return b, nil
}

// Bucket returns the named Bucket, opening it against the cluster's seed
// list on first use.
func (c *Cluster) Bucket(ctx context.Context, name string) (*bucket.Bucket, error) {
	return c.openBucketFromSeeds(ctx, name)
}

// anyConfig returns a ClusterConfig snapshot from whichever open bucket
// has one, used to pick nodes for HTTP service dispatch (query/analytics/
// search/view/management aren't bucket-scoped the way KV is, but a config
// from any bucket lists every cluster node and its advertised services).
func (c *Cluster) anyConfig() *clustermap.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.buckets {
		if snap := b.Snapshot(); snap != nil {
			return snap
		}
	}
	return nil
}

// Close tears down every open bucket.
func (c *Cluster) Close() {
	c.mu.Lock()
	buckets := c.buckets
	c.buckets = make(map[string]*bucket.Bucket)
	c.mu.Unlock()
	for _, b := range buckets {
		b.Close()
	}
	c.http.close()
}

func basicAuthHeader(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}
