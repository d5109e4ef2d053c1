/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package clustermap

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config revision gating and parsing", func() {
	var raw []byte

	BeforeEach(func() {
		raw = []byte(`{
			"rev": 3,
			"name": "travel-sample",
			"uuid": "abc-123",
			"bucketType": "couchbase",
			"nodesExt": [
				{"hostname": "node1", "nodeUUID": "n1", "services": {"kv": 11210, "n1ql": 8093}},
				{"hostname": "node2", "nodeUUID": "n2", "services": {"kv": 11210}}
			],
			"vBucketServerMap_vBucketMap": [[0, 1], [1, 0]]
		}`)
	})

	Describe("Parse", func() {
		It("decodes revision, nodes and the partition map", func() {
			cfg, err := Parse(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Revision).To(BeEquivalentTo(3))
			Expect(cfg.BucketName).To(Equal("travel-sample"))
			Expect(cfg.Nodes).To(HaveLen(2))
			Expect(cfg.Nodes[0].HasService("n1ql")).To(BeTrue())
			Expect(cfg.Nodes[1].HasService("n1ql")).To(BeFalse())
			Expect(cfg.PartitionCount()).To(Equal(2))
			Expect(cfg.Partitions[0].Master()).To(Equal(0))
			Expect(cfg.Partitions[1].Master()).To(Equal(1))
		})

		It("rejects malformed JSON", func() {
			_, err := Parse([]byte("{not json"))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("NewerThan", func() {
		It("treats any config as newer than a nil predecessor", func() {
			cfg, err := Parse(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.NewerThan(nil)).To(BeTrue())
		})

		It("only accepts strictly greater revisions", func() {
			older, err := Parse(raw)
			Expect(err).NotTo(HaveOccurred())

			same := &Config{Revision: older.Revision}
			Expect(same.NewerThan(older)).To(BeFalse())

			newer := &Config{Revision: older.Revision + 1}
			Expect(newer.NewerThan(older)).To(BeTrue())

			stale := &Config{Revision: older.Revision - 1}
			Expect(stale.NewerThan(older)).To(BeFalse())
		})
	})

	Describe("NodeInfo.Digest", func() {
		It("is stable across repeated calls and distinct per endpoint", func() {
			n1 := &NodeInfo{Hostname: "node1", KVPort: 11210}
			n2 := &NodeInfo{Hostname: "node2", KVPort: 11210}
			Expect(n1.Digest()).To(Equal(n1.Digest()))
			Expect(n1.Digest()).NotTo(Equal(n2.Digest()))
		})
	})
})
