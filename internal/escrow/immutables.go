package escrow

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// Role distinguishes which side of the swap an EscrowInstance belongs to.
// The numeric value is the role_byte folded into address derivation.
type Role byte

const (
	RoleSource      Role = 0
	RoleDestination Role = 1
)

func (r Role) String() string {
	if r == RoleSource {
		return "Source"
	}
	return "Destination"
}

// Immutables is the frozen per-escrow parameter set. Its content hash
// determines the escrow's address; any mismatch between stored and
// caller-supplied Immutables fails every EscrowInstance transition.
type Immutables struct {
	OrderHash     common.Hash
	Hashlock      common.Hash
	Maker         common.Address
	Taker         common.Address
	TokenID       string
	Amount        uint64
	SafetyDeposit uint64
	Timelocks     Timelocks
}

// Encode produces the canonical, length-prefixed encoding from
// SPEC_FULL.md §6: order_hash ‖ hashlock ‖ maker ‖ taker ‖ token_id ‖
// u64_le(amount) ‖ u64_le(safety_deposit) ‖ timelocks_encoding. Every field
// is prefixed with its big-endian uint32 length so that no byte-boundary
// ambiguity exists between the variable-length token_id and its neighbors.
func (im Immutables) Encode() []byte {
	fields := [][]byte{
		im.OrderHash.Bytes(),
		im.Hashlock.Bytes(),
		im.Maker.Bytes(),
		im.Taker.Bytes(),
		[]byte(im.TokenID),
	}

	var amountLE, depositLE [8]byte
	binary.LittleEndian.PutUint64(amountLE[:], im.Amount)
	binary.LittleEndian.PutUint64(depositLE[:], im.SafetyDeposit)
	fields = append(fields, amountLE[:], depositLE[:])

	enc := im.Timelocks.Encode()
	fields = append(fields, enc[:])

	out := make([]byte, 0, 256)
	var lenBuf [4]byte
	for _, f := range fields {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f)))
		out = append(out, lenBuf[:]...)
		out = append(out, f...)
	}
	return out
}

// Hash is H(Immutables_canonical_encoding) with H = SHA3-256 — the content
// hash that both determines the escrow address (via AddressDeriver) and
// detects any single-field mutation (testable property 2 in SPEC_FULL.md §8).
func (im Immutables) Hash() common.Hash {
	return common.Hash(sum256(im.Encode()))
}

// Equal reports whether two Immutables encode identically. EscrowInstance
// uses this (rather than field-by-field comparison) to check caller-supplied
// Immutables against the stored copy, matching the content-addressing
// invariant in SPEC_FULL.md §3.
func (im Immutables) Equal(other Immutables) bool {
	return im.Hash() == other.Hash()
}
