package escrow

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// merkleIndexKey identifies one MerkleIndex entry: an order paired with the
// root_head of the multi-fill hashlock it is filling against.
type merkleIndexKey struct {
	orderHash common.Hash
	rootHead  RootHead
}

type merkleIndexEntry struct {
	nextExpectedIndex uint64
	lastSecretHash    common.Hash
}

// MerkleIndex tracks, per (order_hash, root_head), the last validated
// secret index across partial fills (SPEC_FULL.md §3, §4.4). Entries are
// append/overwrite with no cross-entry invariants, so a single mutex over
// the map is sufficient — unlike EscrowInstance there is no per-entry
// object to lock independently, and entries are small and short-lived.
type MerkleIndex struct {
	mu      sync.Mutex
	entries map[merkleIndexKey]merkleIndexEntry
}

// NewMerkleIndex returns an empty MerkleIndex.
func NewMerkleIndex() *MerkleIndex {
	return &MerkleIndex{entries: make(map[merkleIndexKey]merkleIndexEntry)}
}

// FillKind classifies a partial fill for the acceptance rule in §4.4.
type FillKind int

const (
	FillFirst FillKind = iota
	FillMiddle
	FillCompletion
)

// ClassifyFill determines whether a fill of thisFill against an order with
// orderMaking total size and remainingMaking left before the fill is a
// first, middle, or completion fill.
func ClassifyFill(orderMaking, remainingMaking, thisFill uint64) FillKind {
	switch {
	case remainingMaking == orderMaking:
		return FillFirst
	case thisFill == remainingMaking:
		return FillCompletion
	default:
		return FillMiddle
	}
}

// PartialFillIndices computes idx_prev and idx_now per the closed-form rule
// in SPEC_FULL.md §4.4. idx_prev is only meaningful when filledBefore > 0;
// callers must gate on the fill kind before reading it.
func PartialFillIndices(orderMaking, remainingMaking, thisFill, parts uint64) (idxPrev, idxNow uint64) {
	filledBefore := orderMaking - remainingMaking
	filledAfter := filledBefore + thisFill

	if filledBefore > 0 {
		idxPrev = ((filledBefore - 1) * parts) / orderMaking
	}
	idxNow = ((filledAfter - 1) * parts) / orderMaking
	return idxPrev, idxNow
}

// ExpectedIndex returns the validated_index the acceptance rule in §4.4
// requires for this fill, given its classification.
func ExpectedIndex(kind FillKind, idxPrev, idxNow uint64) (expected uint64, requireDistinct bool) {
	switch kind {
	case FillFirst:
		return idxNow + 1, false
	case FillCompletion:
		return idxNow + 2, false
	default: // FillMiddle
		return idxNow + 1, true
	}
}

// ValidateFillIndex checks the partial-fill acceptance rule in §4.4 without
// touching stored state — called by ValidateAndRecord before it verifies the
// proof and records the entry.
func ValidateFillIndex(orderMaking, remainingMaking, thisFill, parts, validatedIndex uint64) error {
	const op = "MerkleIndex.ValidateFillIndex"
	kind := ClassifyFill(orderMaking, remainingMaking, thisFill)
	idxPrev, idxNow := PartialFillIndices(orderMaking, remainingMaking, thisFill, parts)
	expected, requireDistinct := ExpectedIndex(kind, idxPrev, idxNow)

	if requireDistinct && idxNow == idxPrev {
		return newErr(op, KindInvalidSecretIndex, nil)
	}
	if validatedIndex != expected {
		return newErr(op, KindInvalidSecretIndex, nil)
	}
	return nil
}

// Lookup returns the last validated secret hash recorded for
// (orderHash, rootHead), if any.
func (m *MerkleIndex) Lookup(orderHash common.Hash, rootHead RootHead) (common.Hash, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[merkleIndexKey{orderHash, rootHead}]
	if !ok {
		return common.Hash{}, false
	}
	return e.lastSecretHash, true
}

// ValidateAndRecord verifies the Merkle proof for (idx, secretHash) against
// root, checks the partial-fill acceptance rule, then upserts
// (next_expected_index = idx+1, secretHash) keyed by (orderHash, root_head).
// Replays and stale indices fail with InvalidSecretIndex.
func (m *MerkleIndex) ValidateAndRecord(
	orderHash common.Hash,
	root common.Hash,
	proof MerkleProof,
	idx uint64,
	secretHash common.Hash,
	orderMaking, remainingMaking, thisFill, parts uint64,
) error {
	const op = "MerkleIndex.ValidateAndRecord"

	if err := ValidateFillIndex(orderMaking, remainingMaking, thisFill, parts, idx); err != nil {
		return err
	}

	leaf := MerkleLeaf(idx, secretHash)
	if !VerifyMerkle(proof, leaf, root) {
		return newErr(op, KindInvalidSecret, nil)
	}

	key := merkleIndexKey{orderHash, HeadOf(root)}

	m.mu.Lock()
	defer m.mu.Unlock()

	// A replay or stale index: this (order, root) already advanced past it.
	if existing, ok := m.entries[key]; ok && idx+1 <= existing.nextExpectedIndex {
		return newErr(op, KindInvalidSecretIndex, nil)
	}

	m.entries[key] = merkleIndexEntry{nextExpectedIndex: idx + 1, lastSecretHash: secretHash}
	return nil
}
