package store

import (
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/1inch/fusion-escrow/internal/escrow"
)

// MerkleIndexRepository persists MerkleIndex entries so the multi-fill
// partial-fill progress an in-memory escrow.MerkleIndex tracks survives a
// daemon restart.
type MerkleIndexRepository struct {
	db *sql.DB
}

// NewMerkleIndexRepository creates a new Merkle-index repository.
func NewMerkleIndexRepository(db *sql.DB) *MerkleIndexRepository {
	return &MerkleIndexRepository{db: db}
}

// Upsert records the latest validated fill for (orderHash, rootHead),
// called immediately after escrow.MerkleIndex.ValidateAndRecord succeeds.
func (r *MerkleIndexRepository) Upsert(orderHash common.Hash, rootHead escrow.RootHead, nextExpectedIndex uint64, lastSecretHash common.Hash) error {
	query := `
		INSERT INTO merkle_index_entries (order_hash, root_head, next_expected_index, last_secret_hash, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (order_hash, root_head)
		DO UPDATE SET next_expected_index = $3, last_secret_hash = $4, updated_at = now()`

	_, err := r.db.Exec(query, orderHash.Bytes(), rootHead[:], nextExpectedIndex, lastSecretHash.Bytes())
	if err != nil {
		return fmt.Errorf("failed to upsert merkle index entry: %w", err)
	}
	return nil
}

// Get retrieves the last validated secret hash and next expected index for
// (orderHash, rootHead), if recorded.
func (r *MerkleIndexRepository) Get(orderHash common.Hash, rootHead escrow.RootHead) (nextExpectedIndex uint64, lastSecretHash common.Hash, found bool, err error) {
	query := `
		SELECT next_expected_index, last_secret_hash
		FROM merkle_index_entries WHERE order_hash = $1 AND root_head = $2`

	var idx int64
	var hashBytes []byte
	scanErr := r.db.QueryRow(query, orderHash.Bytes(), rootHead[:]).Scan(&idx, &hashBytes)
	if scanErr == sql.ErrNoRows {
		return 0, common.Hash{}, false, nil
	}
	if scanErr != nil {
		return 0, common.Hash{}, false, fmt.Errorf("failed to get merkle index entry: %w", scanErr)
	}

	return uint64(idx), common.BytesToHash(hashBytes), true, nil
}
