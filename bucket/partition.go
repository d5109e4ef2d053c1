// Package bucket owns one data bucket's ClusterConfig snapshot and the
// per-node Sessions that carry KV traffic to it, routing every document by
// partition and retrying topology-driven failures against a fresh
// snapshot (spec.md §4.4).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package bucket

import "hash/crc32"

// DocumentId addresses one document: bucket is implicit (the Bucket this
// id is passed to), scope/collection default to "_default"/"_default" when
// empty, matching the server's implicit default-collection behaviour.
type DocumentId struct {
	Scope      string
	Collection string
	Key        []byte
}

func (d DocumentId) scope() string {
	if d.Scope == "" {
		return "_default"
	}
	return d.Scope
}

func (d DocumentId) collection() string {
	if d.Collection == "" {
		return "_default"
	}
	return d.Collection
}

// PartitionOf computes the vBucket id owning key, per spec.md §3:
// crc32(key) & 0xFFFF mod partitionCount. The server's vBucket hashing
// uses the low 16 bits of the CRC before the modulo, not the full 32-bit
// value, so dropping those high bits is required for wire compatibility.
func PartitionOf(key []byte, partitionCount int) uint16 {
	if partitionCount <= 0 {
		return 0
	}
	sum := crc32.ChecksumIEEE(key)
	masked := sum & 0xffff
	return uint16(int(masked) % partitionCount)
}
