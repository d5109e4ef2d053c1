// Package clustermap defines the immutable ClusterConfig snapshot shared by
// cluster and bucket: node directory, partition map, and bucket
// capabilities, replaced atomically on every topology change per
// spec.md §3 ("ClusterConfig").
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package clustermap

import (
	"net"
	"strconv"

	"github.com/OneOfOne/xxhash"
	jsoniter "github.com/json-iterator/go"
)

// BucketType distinguishes the three server bucket kinds named in
// spec.md §3.
type BucketType string

const (
	BucketCouchbase BucketType = "couchbase"
	BucketEphemeral BucketType = "ephemeral"
	BucketMemcached BucketType = "memcached"
)

// Capabilities is the set of optional server-side behaviours advertised in
// a bucket's cluster config (collections, durable writes, xattrs, …).
type Capabilities struct {
	Collections   bool
	DurableWrites bool
	Xattr         bool
}

// NodeInfo is one cluster member: hostnames, service ports (plain and TLS),
// and a node uuid, per spec.md §3.
type NodeInfo struct {
	UUID        string
	Hostname    string
	KVPort      int
	KVPortTLS   int
	MgmtPort    int
	MgmtPortTLS int
	QueryPort   int
	QueryPortTLS int
	SearchPort  int
	SearchPortTLS int
	AnalyticsPort int
	AnalyticsPortTLS int
	Services    []string // "kv", "n1ql", "fts", "cbas", "index", "mgmt"

	// idDigest is a cheap xxhash-based identity, the Go analogue of
	// cluster.Snode.idDigest in the teacher, used by Bucket to diff node
	// sets on config change without string-comparing every field.
	idDigest uint64
}

// Digest returns (and memoizes) a stable identity hash for the node,
// computed over hostname+kv-port so two NodeInfos naming the same physical
// endpoint always compare equal even if capability lists differ in order.
func (n *NodeInfo) Digest() uint64 {
	if n.idDigest != 0 {
		return n.idDigest
	}
	h := xxhash.New64()
	h.WriteString(n.Hostname)
	h.WriteString(":")
	h.WriteString(strconv.Itoa(n.KVPort))
	n.idDigest = h.Sum64()
	return n.idDigest
}

// KVEndpoint returns the host:port to dial for the key/value service,
// using the TLS port when useTLS is set.
func (n *NodeInfo) KVEndpoint(useTLS bool) string {
	port := n.KVPort
	if useTLS {
		port = n.KVPortTLS
	}
	return net.JoinHostPort(n.Hostname, strconv.Itoa(port))
}

// HasService reports whether the node advertises svc ("n1ql", "fts", …).
func (n *NodeInfo) HasService(svc string) bool {
	for _, s := range n.Services {
		if s == svc {
			return true
		}
	}
	return false
}

// Partition is one vBucket's replica chain: index 0 is the master, 1..N
// are replicas, each an index into Config.Nodes.
type Partition struct {
	NodeIndexes []int
}

// Master returns the node index serving as this partition's master, or -1
// if the partition has no master (mid-rebalance/failed-over).
func (p Partition) Master() int {
	if len(p.NodeIndexes) == 0 {
		return -1
	}
	return p.NodeIndexes[0]
}

// Replica returns the node index of the nth replica (1-based: Replica(1)
// is the first replica), or -1 if there is no such replica.
func (p Partition) Replica(n int) int {
	if n <= 0 || n >= len(p.NodeIndexes) {
		return -1
	}
	return p.NodeIndexes[n]
}

// Config is the immutable ClusterConfig snapshot of spec.md §3: a revision
// number, the node directory, bucket type/capabilities, and the partition
// map. Replaced atomically by pointer swap (spec.md §5); once built, a
// Config value and everything reachable from it must never be mutated —
// readers hold the snapshot they started with for the life of one dispatch.
type Config struct {
	Revision   int64
	BucketName string
	BucketUUID string
	BucketType BucketType
	Caps       Capabilities
	Nodes      []*NodeInfo
	Partitions []Partition
}

// PartitionCount returns the number of partitions (vBuckets) in this
// config, typically 1024.
func (c *Config) PartitionCount() int { return len(c.Partitions) }

// NodeAt returns the NodeInfo for idx, or nil if idx is out of range
// (e.g. a partition whose master has been removed mid-rebalance).
func (c *Config) NodeAt(idx int) *NodeInfo {
	if idx < 0 || idx >= len(c.Nodes) {
		return nil
	}
	return c.Nodes[idx]
}

// NewerThan reports whether c has a strictly greater revision than other,
// the comparison spec.md §4.4 requires before installing a new snapshot
// ("only strictly newer revisions replace the current snapshot").
func (c *Config) NewerThan(other *Config) bool {
	if other == nil {
		return true
	}
	return c.Revision > other.Revision
}

// wireNode/wireConfig mirror the subset of the server's terse cluster-
// config JSON this driver actually consumes; unknown fields are ignored.
type wireNode struct {
	Hostname string            `json:"hostname"`
	UUID     string            `json:"nodeUUID"`
	Services map[string]int    `json:"services"`
	ServicesTLS map[string]int `json:"servicesTLS"`
}

type wireConfig struct {
	Rev       int64      `json:"rev"`
	Name      string     `json:"name"`
	UUID      string     `json:"uuid"`
	BucketType string    `json:"bucketType"`
	Nodes     []wireNode `json:"nodesExt"`
	VBucketMap [][]int   `json:"vBucketServerMap_vBucketMap"`
	Collections bool     `json:"collectionsManifestUid,omitempty"`
}

// Parse decodes a server cluster-config JSON payload (as returned by
// GET_CLUSTER_CONFIG or attached to a NOT_MY_VBUCKET reply) into a Config.
func Parse(raw []byte) (*Config, error) {
	var w wireConfig
	if err := jsoniter.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	cfg := &Config{
		Revision:   w.Rev,
		BucketName: w.Name,
		BucketUUID: w.UUID,
		BucketType: BucketType(w.BucketType),
	}
	for _, n := range w.Nodes {
		ni := &NodeInfo{Hostname: n.Hostname, UUID: n.UUID}
		for svc, port := range n.Services {
			ni.Services = append(ni.Services, svc)
			switch svc {
			case "kv":
				ni.KVPort = port
			case "mgmt":
				ni.MgmtPort = port
			case "n1ql":
				ni.QueryPort = port
			case "fts":
				ni.SearchPort = port
			case "cbas":
				ni.AnalyticsPort = port
			}
		}
		for svc, port := range n.ServicesTLS {
			switch svc {
			case "kv":
				ni.KVPortTLS = port
			case "mgmt":
				ni.MgmtPortTLS = port
			case "n1ql":
				ni.QueryPortTLS = port
			case "fts":
				ni.SearchPortTLS = port
			case "cbas":
				ni.AnalyticsPortTLS = port
			}
		}
		cfg.Nodes = append(cfg.Nodes, ni)
	}
	for _, row := range w.VBucketMap {
		cfg.Partitions = append(cfg.Partitions, Partition{NodeIndexes: row})
	}
	return cfg, nil
}
