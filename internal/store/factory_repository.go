package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// FactoryRecord is the persisted projection of a FactoryRegistry: its
// one-time identity plus the monotonic creation counters.
type FactoryRecord struct {
	FactoryID      common.Hash
	Owner          common.Address
	SrcRescueDelay uint32
	DstRescueDelay uint32
	SrcCount       uint64
	DstCount       uint64
}

// FactoryRepository handles database operations for the single
// process-wide factory row.
type FactoryRepository struct {
	db *sql.DB
}

// NewFactoryRepository creates a new factory repository.
func NewFactoryRepository(db *sql.DB) *FactoryRepository {
	return &FactoryRepository{db: db}
}

// Insert persists a newly initialized factory's identity. Called once, from
// FactoryRegistry.Initialize's caller.
func (r *FactoryRepository) Insert(rec *FactoryRecord) error {
	query := `
		INSERT INTO factories (factory_id, owner, src_rescue_delay, dst_rescue_delay, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`

	now := time.Now()
	_, err := r.db.Exec(query, rec.FactoryID.Bytes(), rec.Owner.Bytes(), rec.SrcRescueDelay, rec.DstRescueDelay, now)
	if err != nil {
		return fmt.Errorf("failed to insert factory: %w", err)
	}
	return nil
}

// Get retrieves the factory row by its identity. Returns found=false, with
// a nil error, when no row exists yet rather than forcing callers to match
// on sql.ErrNoRows themselves.
func (r *FactoryRepository) Get(factoryID common.Hash) (rec *FactoryRecord, found bool, err error) {
	query := `
		SELECT factory_id, owner, src_rescue_delay, dst_rescue_delay, src_count, dst_count
		FROM factories WHERE factory_id = $1`

	rec = &FactoryRecord{}
	var factoryIDBytes, ownerBytes []byte
	var srcDelay, dstDelay, srcCount, dstCount int64

	err = r.db.QueryRow(query, factoryID.Bytes()).Scan(
		&factoryIDBytes, &ownerBytes, &srcDelay, &dstDelay, &srcCount, &dstCount,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get factory: %w", err)
	}

	rec.FactoryID = common.BytesToHash(factoryIDBytes)
	rec.Owner = common.BytesToAddress(ownerBytes)
	rec.SrcRescueDelay = uint32(srcDelay)
	rec.DstRescueDelay = uint32(dstDelay)
	rec.SrcCount = uint64(srcCount)
	rec.DstCount = uint64(dstCount)
	return rec, true, nil
}

// IncrementSrcCount bumps the persisted source-creation counter, called
// alongside EscrowRepository.Insert whenever FactoryRegistry.CreateSource
// succeeds.
func (r *FactoryRepository) IncrementSrcCount(factoryID common.Hash) error {
	query := `UPDATE factories SET src_count = src_count + 1, updated_at = $1 WHERE factory_id = $2`
	_, err := r.db.Exec(query, time.Now(), factoryID.Bytes())
	if err != nil {
		return fmt.Errorf("failed to increment src count: %w", err)
	}
	return nil
}

// IncrementDstCount is IncrementSrcCount's destination-side counterpart.
func (r *FactoryRepository) IncrementDstCount(factoryID common.Hash) error {
	query := `UPDATE factories SET dst_count = dst_count + 1, updated_at = $1 WHERE factory_id = $2`
	_, err := r.db.Exec(query, time.Now(), factoryID.Bytes())
	if err != nil {
		return fmt.Errorf("failed to increment dst count: %w", err)
	}
	return nil
}
