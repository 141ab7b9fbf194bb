package escrow

import (
	"bytes"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// MerkleProof is the sibling-hash path from a leaf to its root, ordered
// from the leaf's immediate sibling upward.
type MerkleProof []common.Hash

// RootHead is the first 30 bytes of a 32-byte Merkle root, the compact key
// stored in the hashlock field and used to key MerkleIndex entries.
type RootHead [30]byte

// HeadOf returns the root-head of a full 32-byte root.
func HeadOf(root common.Hash) RootHead {
	var h RootHead
	copy(h[:], root.Bytes()[:30])
	return h
}

// MerkleConfig describes a multi-fill hashlock: the Merkle root over the
// per-part secret hashes, and the number of parts. Rejects a root that
// isn't 32 bytes or parts < 2 (SPEC_FULL.md §4.3).
type MerkleConfig struct {
	Root  common.Hash
	Parts uint64
}

// Validate enforces the InvalidConfiguration checks from §4.3.
func (m MerkleConfig) Validate() error {
	const op = "HashLock.MerkleConfig.Validate"
	if len(m.Root.Bytes()) != 32 {
		return newErr(op, KindInvalidConfiguration, nil)
	}
	if m.Parts < 2 {
		return newErr(op, KindInvalidConfiguration, nil)
	}
	return nil
}

// ExtractPartsAmount reads the multi-fill parts count folded into a 32-byte
// hashlock_info blob. DESIGN.md resolves SPEC_FULL.md §9's flagged
// ambiguity (doc says first 2 bytes, reference reads the last 8) in favor
// of the reference's actual runtime behavior: the last 8 bytes,
// big-endian. FactoryRegistry.CreateSource reads it only for orders that
// attach MultiFillTakerData and rejects a value < 2 there with
// InvalidConfiguration; single-fill orders are recognised by the absence of
// MultiFillTakerData and use hashlock_info verbatim as the hashlock.
func ExtractPartsAmount(hashlockInfo common.Hash) uint64 {
	b := hashlockInfo.Bytes()
	return binary.BigEndian.Uint64(b[24:32])
}

// VerifySingle implements verify_single(secret, hashlock) := H(secret) ==
// hashlock, the single-fill hashlock check.
func VerifySingle(secret []byte, hashlock common.Hash) bool {
	return sum256(secret) == hashlock
}

// MerkleLeaf computes leaf = H(bcs(index) ‖ secret_hash), where bcs(index)
// is the index encoded as a little-endian u64 (this module's chosen BCS
// encoding for an unsigned integer index, matching the reference source's
// Move BCS convention).
func MerkleLeaf(index uint64, secretHash common.Hash) common.Hash {
	var idxBuf [8]byte
	binary.LittleEndian.PutUint64(idxBuf[:], index)
	return common.Hash(sum256(idxBuf[:], secretHash.Bytes()))
}

// VerifyMerkle folds proof from leaf upward, hashing each pair sorted
// lexicographically (commutative hashing, so proofs are tree-layout
// independent) and compares the result against root using the full 32
// bytes. Re-processing a valid proof reproduces root exactly (the
// soundness property in SPEC_FULL.md §8.7).
func VerifyMerkle(proof MerkleProof, leaf common.Hash, root common.Hash) bool {
	current := leaf
	for _, sibling := range proof {
		current = hashPairSorted(current, sibling)
	}
	return current == root
}

// ProcessMerkleProof returns the folded root for proof starting at leaf,
// without comparing it to anything — used by callers that want the
// resulting root (e.g. to re-derive a root_head) rather than a bool.
func ProcessMerkleProof(proof MerkleProof, leaf common.Hash) common.Hash {
	current := leaf
	for _, sibling := range proof {
		current = hashPairSorted(current, sibling)
	}
	return current
}

func hashPairSorted(a, b common.Hash) common.Hash {
	if bytes.Compare(a.Bytes(), b.Bytes()) <= 0 {
		return common.Hash(sum256(a.Bytes(), b.Bytes()))
	}
	return common.Hash(sum256(b.Bytes(), a.Bytes()))
}

// BuildMerkleTree is a test/tooling helper that builds a full commutative
// Merkle tree over leaves and returns the root plus the proof for each leaf
// index, using the same sorted-pair folding VerifyMerkle expects. Grounded
// on the teacher's internal/fusion/secrets.go CreateMerkleSecretTree, but
// replacing its naive "hash the concatenation of every hash" shortcut with
// an actual binary tree fold.
func BuildMerkleTree(leaves []common.Hash) (root common.Hash, proofs []MerkleProof) {
	n := len(leaves)
	if n == 0 {
		return common.Hash{}, nil
	}

	level := append([]common.Hash(nil), leaves...)
	pos := make([]int, n)
	for i := range pos {
		pos[i] = i
	}
	proofs = make([]MerkleProof, n)

	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		siblingOf := make([]int, len(level))
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				siblingOf[i] = -1
				next = append(next, level[i])
				continue
			}
			siblingOf[i] = i + 1
			siblingOf[i+1] = i
			next = append(next, hashPairSorted(level[i], level[i+1]))
		}

		for leafIdx := 0; leafIdx < n; leafIdx++ {
			p := pos[leafIdx]
			if sib := siblingOf[p]; sib != -1 {
				proofs[leafIdx] = append(proofs[leafIdx], level[sib])
			}
			pos[leafIdx] = p / 2
		}

		level = next
	}

	return level[0], proofs
}
