package escrow

import "golang.org/x/crypto/sha3"

// sum256 is the SHA3-256 primitive every content hash in this package is
// built from. It is deliberately not go-ethereum's crypto.Keccak256 —
// Keccak-256 and standard SHA3-256 use different padding and are not
// interchangeable, and SPEC_FULL.md §4.2/§4.3/§6 require standard SHA3-256.
func sum256(b ...[]byte) [32]byte {
	h := sha3.New256()
	for _, part := range b {
		h.Write(part)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}
