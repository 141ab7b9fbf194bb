// Package store provides Postgres persistence for escrow, factory, and
// Merkle-index state. Grounded on the teacher's internal/database/orders.go:
// raw database/sql + lib/pq, hand-written SQL, manual Scan via a small
// scanner interface, no ORM.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/1inch/fusion-escrow/internal/escrow"
)

// EscrowRecord is the persisted projection of an EscrowInstance: enough to
// reconstruct one via escrow.RestoreEscrowInstance, including its current
// lifecycle state, on daemon restart.
type EscrowRecord struct {
	Address       common.Hash
	FactoryID     common.Hash
	Role          escrow.Role
	OrderHash     common.Hash
	Hashlock      common.Hash
	Maker         common.Address
	Taker         common.Address
	TokenID       string
	Amount        uint64
	SafetyDeposit uint64
	Timelocks     [32]byte
	RescueDelay   uint32
	State         escrow.State
	Secret        []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EscrowRepository handles database operations for escrow records.
type EscrowRepository struct {
	db *sql.DB
}

// NewEscrowRepository creates a new escrow repository.
func NewEscrowRepository(db *sql.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

// Insert persists a newly materialized escrow. api.Service calls this
// immediately after a successful FactoryRegistry.CreateSource/
// CreateDestination has constructed the EscrowInstance in memory.
func (r *EscrowRepository) Insert(rec *EscrowRecord) error {
	query := `
		INSERT INTO escrows (
			address, factory_id, role, order_hash, hashlock, maker, taker,
			token_id, amount, safety_deposit, timelocks, rescue_delay,
			state, secret, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)`

	_, err := r.db.Exec(
		query,
		rec.Address.Bytes(),
		rec.FactoryID.Bytes(),
		int16(rec.Role),
		rec.OrderHash.Bytes(),
		rec.Hashlock.Bytes(),
		rec.Maker.Bytes(),
		rec.Taker.Bytes(),
		rec.TokenID,
		rec.Amount,
		rec.SafetyDeposit,
		rec.Timelocks[:],
		rec.RescueDelay,
		int16(rec.State),
		rec.Secret,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert escrow: %w", err)
	}
	return nil
}

// GetByAddress retrieves an escrow record by its derived address.
func (r *EscrowRepository) GetByAddress(addr common.Hash) (*EscrowRecord, error) {
	query := `
		SELECT address, factory_id, role, order_hash, hashlock, maker, taker,
		       token_id, amount, safety_deposit, timelocks, rescue_delay,
		       state, secret, created_at, updated_at
		FROM escrows WHERE address = $1`

	return r.scanEscrow(r.db.QueryRow(query, addr.Bytes()))
}

// ListActive returns every escrow record still in escrow.StateActive, used
// to rehydrate the in-memory FactoryRegistry on daemon restart.
func (r *EscrowRepository) ListActive() ([]*EscrowRecord, error) {
	query := `
		SELECT address, factory_id, role, order_hash, hashlock, maker, taker,
		       token_id, amount, safety_deposit, timelocks, rescue_delay,
		       state, secret, created_at, updated_at
		FROM escrows WHERE state = $1
		ORDER BY created_at ASC`

	rows, err := r.db.Query(query, int16(escrow.StateActive))
	if err != nil {
		return nil, fmt.Errorf("failed to query active escrows: %w", err)
	}
	defer rows.Close()

	var out []*EscrowRecord
	for rows.Next() {
		rec, err := r.scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// UpdateState persists a terminal (or still-active) state transition plus
// the revealed secret, if any, mirroring the in-memory EscrowInstance after
// Withdraw/PublicWithdraw/Cancel/PublicCancel settles it.
func (r *EscrowRepository) UpdateState(addr common.Hash, state escrow.State, secret []byte) error {
	query := `UPDATE escrows SET state = $1, secret = $2, updated_at = $3 WHERE address = $4`

	_, err := r.db.Exec(query, int16(state), secret, time.Now(), addr.Bytes())
	if err != nil {
		return fmt.Errorf("failed to update escrow state: %w", err)
	}
	return nil
}

func (r *EscrowRepository) scanEscrow(scanner interface {
	Scan(dest ...interface{}) error
}) (*EscrowRecord, error) {
	rec := &EscrowRecord{}
	var addrBytes, factoryIDBytes, orderHashBytes, hashlockBytes, makerBytes, takerBytes, timelocksBytes []byte
	var role, state int16
	var amount, safetyDeposit, rescueDelay int64

	err := scanner.Scan(
		&addrBytes,
		&factoryIDBytes,
		&role,
		&orderHashBytes,
		&hashlockBytes,
		&makerBytes,
		&takerBytes,
		&rec.TokenID,
		&amount,
		&safetyDeposit,
		&timelocksBytes,
		&rescueDelay,
		&state,
		&rec.Secret,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan escrow: %w", err)
	}

	rec.Address = common.BytesToHash(addrBytes)
	rec.FactoryID = common.BytesToHash(factoryIDBytes)
	rec.Role = escrow.Role(role)
	rec.OrderHash = common.BytesToHash(orderHashBytes)
	rec.Hashlock = common.BytesToHash(hashlockBytes)
	rec.Maker = common.BytesToAddress(makerBytes)
	rec.Taker = common.BytesToAddress(takerBytes)
	rec.Amount = uint64(amount)
	rec.SafetyDeposit = uint64(safetyDeposit)
	rec.RescueDelay = uint32(rescueDelay)
	rec.State = escrow.State(state)
	copy(rec.Timelocks[:], timelocksBytes)

	return rec, nil
}
