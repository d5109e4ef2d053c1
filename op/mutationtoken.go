// Package op holds the per-operation request/response structs of
// spec.md §4.6: pure encode(request)->wire/HTTP and decode(reply)->typed
// response functions, free of I/O, driven by session (key/value) or
// cluster (HTTP services).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package op

// MutationToken is the opaque proof of a durable mutation described in
// spec.md §3, consumable by a query's scan_vectors for read-your-writes
// consistency.
type MutationToken struct {
	PartitionID   uint16
	PartitionUUID uint64
	SequenceNumber uint64
	BucketName    string
}

// MutationState accumulates MutationTokens from one or more mutations, to
// be attached to a subsequent query via ConsistentWith.
type MutationState struct {
	tokens map[uint16]MutationToken // keyed by partition id; last-write-wins
}

func NewMutationState() *MutationState {
	return &MutationState{tokens: make(map[uint16]MutationToken)}
}

// Add merges t into the state, keeping the token for each partition id.
func (m *MutationState) Add(t MutationToken) {
	if m.tokens == nil {
		m.tokens = make(map[uint16]MutationToken)
	}
	m.tokens[t.PartitionID] = t
}

// Tokens returns every token currently held, in no particular order.
func (m *MutationState) Tokens() []MutationToken {
	out := make([]MutationToken, 0, len(m.tokens))
	for _, t := range m.tokens {
		out = append(out, t)
	}
	return out
}
