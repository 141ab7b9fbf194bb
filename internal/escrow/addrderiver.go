package escrow

import "github.com/ethereum/go-ethereum/common"

// DeriveAddress computes the deterministic 32-byte escrow address both
// chains agree on for identical Immutables: addr = H(factory_id ‖ salt ‖
// role_byte), with salt = H(Immutables canonical encoding) already folded
// into immutablesHash by the caller. The function is pure, total, and
// sensitive to every Immutables field (SPEC_FULL.md §4.2, §8 properties 1-2).
func DeriveAddress(factoryID common.Hash, immutablesHash common.Hash, role Role) common.Hash {
	return common.Hash(sum256(factoryID.Bytes(), immutablesHash.Bytes(), []byte{byte(role)}))
}

// DeriveEscrowAddress is a convenience wrapper computing
// DeriveAddress(factoryID, im.Hash(), role) directly from Immutables.
func DeriveEscrowAddress(factoryID common.Hash, im Immutables, role Role) common.Hash {
	return DeriveAddress(factoryID, im.Hash(), role)
}
