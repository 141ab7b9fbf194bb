package api

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/1inch/fusion-escrow/internal/escrow"
	"github.com/1inch/fusion-escrow/internal/store"
)

// EscrowService is the narrow capability Server depends on, mirroring the
// teacher's OrderService interface shape: a thin façade over the domain
// package so handlers never reach into escrow.FactoryRegistry directly.
type EscrowService interface {
	CreateSource(p escrow.SrcCreateParams) (common.Hash, error)
	CreateDestination(p escrow.DstCreateParams) (common.Hash, error)
	Withdraw(addr common.Hash, caller common.Address, secret []byte, im escrow.Immutables, recipient common.Address) error
	PublicWithdraw(addr common.Hash, caller common.Address, secret []byte, im escrow.Immutables, recipient common.Address) error
	Cancel(addr common.Hash, caller common.Address, im escrow.Immutables) error
	PublicCancel(addr common.Hash, caller common.Address, im escrow.Immutables) error
	Rescue(addr common.Hash, caller common.Address, tokenID string, amount uint64, im escrow.Immutables) error
	Get(addr common.Hash) (*escrow.EscrowInstance, bool)
}

// Service is the default EscrowService, wrapping a single process-wide
// FactoryRegistry. Grounded on the teacher's service.OrderService, which
// wraps a single database.OrderRepository the same way. When escrows is
// non-nil, every creation and settlement is mirrored into Postgres so a
// restarted daemon can rehydrate via escrows.ListActive. factories and
// merkle are likewise optional and track the same process-wide factory's
// creation counters and multi-fill progress respectively.
type Service struct {
	factory   *escrow.FactoryRegistry
	escrows   *store.EscrowRepository
	factories *store.FactoryRepository
	merkle    *store.MerkleIndexRepository
}

// NewService wires a Service to factory. Any of repo, factories, merkle
// may be nil, in which case the corresponding mirroring is skipped (the
// default for tests, which run in-memory only).
func NewService(factory *escrow.FactoryRegistry, repo *store.EscrowRepository, factories *store.FactoryRepository, merkle *store.MerkleIndexRepository) *Service {
	return &Service{factory: factory, escrows: repo, factories: factories, merkle: merkle}
}

func (s *Service) CreateSource(p escrow.SrcCreateParams) (common.Hash, error) {
	addr, err := s.factory.CreateSource(p)
	if err != nil {
		return common.Hash{}, err
	}
	s.persistNew(addr, escrow.RoleSource)
	s.incrementCount(escrow.RoleSource)
	s.persistMultiFill(p.OrderHash, p.Args.MultiFill)
	return addr, nil
}

func (s *Service) CreateDestination(p escrow.DstCreateParams) (common.Hash, error) {
	addr, err := s.factory.CreateDestination(p)
	if err != nil {
		return common.Hash{}, err
	}
	s.persistNew(addr, escrow.RoleDestination)
	s.incrementCount(escrow.RoleDestination)
	return addr, nil
}

// incrementCount mirrors FactoryRegistry's in-memory src/dst counters into
// the persisted factory row, matching FactoryRegistry.CreateSource/
// CreateDestination's own counter bump.
func (s *Service) incrementCount(role escrow.Role) {
	if s.factories == nil {
		return
	}
	var err error
	if role == escrow.RoleSource {
		err = s.factories.IncrementSrcCount(s.factory.FactoryID())
	} else {
		err = s.factories.IncrementDstCount(s.factory.FactoryID())
	}
	if err != nil {
		log.WithError(err).Error("failed to persist factory creation count")
	}
}

// persistMultiFill mirrors a successful multi-fill validation into
// Postgres, immediately after FactoryRegistry.CreateSource has already run
// MerkleIndex.ValidateAndRecord against the same (orderHash, root). md is
// nil for a non-multi-fill (single-secret) order, in which case there is
// no Merkle progress to persist.
func (s *Service) persistMultiFill(orderHash common.Hash, md *escrow.MultiFillTakerData) {
	if s.merkle == nil || md == nil {
		return
	}
	head := escrow.HeadOf(md.Root)
	if err := s.merkle.Upsert(orderHash, head, md.Index+1, md.SecretHash); err != nil {
		log.WithError(err).WithField("order_hash", orderHash).Error("failed to persist merkle index entry")
	}
}

// persistNew mirrors a freshly created escrow into Postgres. Logged but
// not propagated as a request failure: the escrow already exists in
// memory and is the source of truth for the running process, a failed
// mirror only risks losing it across a restart.
func (s *Service) persistNew(addr common.Hash, role escrow.Role) {
	if s.escrows == nil {
		return
	}
	inst, ok := s.factory.Escrow(addr)
	if !ok {
		return
	}
	im := inst.Immutables()
	rec := &store.EscrowRecord{
		Address:       addr,
		FactoryID:     s.factory.FactoryID(),
		Role:          role,
		OrderHash:     im.OrderHash,
		Hashlock:      im.Hashlock,
		Maker:         im.Maker,
		Taker:         im.Taker,
		TokenID:       im.TokenID,
		Amount:        im.Amount,
		SafetyDeposit: im.SafetyDeposit,
		Timelocks:     im.Timelocks.Encode(),
		RescueDelay:   inst.RescueDelay(),
		State:         inst.State(),
	}
	if err := s.escrows.Insert(rec); err != nil {
		log.WithError(err).WithField("escrow_addr", addr).Error("failed to persist new escrow")
	}
}

func (s *Service) persistState(addr common.Hash) {
	if s.escrows == nil {
		return
	}
	inst, ok := s.factory.Escrow(addr)
	if !ok {
		return
	}
	if err := s.escrows.UpdateState(addr, inst.State(), inst.Secret()); err != nil {
		log.WithError(err).WithField("escrow_addr", addr).Error("failed to persist escrow state")
	}
}

func (s *Service) lookup(op string, addr common.Hash) (*escrow.EscrowInstance, error) {
	inst, ok := s.factory.Escrow(addr)
	if !ok {
		return nil, escrow.NewError(op, escrow.KindNotFound, nil)
	}
	return inst, nil
}

func (s *Service) Withdraw(addr common.Hash, caller common.Address, secret []byte, im escrow.Immutables, recipient common.Address) error {
	inst, err := s.lookup("Service.Withdraw", addr)
	if err != nil {
		return err
	}
	if err := inst.Withdraw(caller, secret, im, recipient); err != nil {
		return err
	}
	s.persistState(addr)
	return nil
}

func (s *Service) PublicWithdraw(addr common.Hash, caller common.Address, secret []byte, im escrow.Immutables, recipient common.Address) error {
	inst, err := s.lookup("Service.PublicWithdraw", addr)
	if err != nil {
		return err
	}
	if err := inst.PublicWithdraw(caller, secret, im, recipient); err != nil {
		return err
	}
	s.persistState(addr)
	return nil
}

func (s *Service) Cancel(addr common.Hash, caller common.Address, im escrow.Immutables) error {
	inst, err := s.lookup("Service.Cancel", addr)
	if err != nil {
		return err
	}
	if err := inst.Cancel(caller, im); err != nil {
		return err
	}
	s.persistState(addr)
	return nil
}

func (s *Service) PublicCancel(addr common.Hash, caller common.Address, im escrow.Immutables) error {
	inst, err := s.lookup("Service.PublicCancel", addr)
	if err != nil {
		return err
	}
	if err := inst.PublicCancel(caller, im); err != nil {
		return err
	}
	s.persistState(addr)
	return nil
}

func (s *Service) Rescue(addr common.Hash, caller common.Address, tokenID string, amount uint64, im escrow.Immutables) error {
	inst, err := s.lookup("Service.Rescue", addr)
	if err != nil {
		return err
	}
	return inst.Rescue(caller, tokenID, amount, im)
}

func (s *Service) Get(addr common.Hash) (*escrow.EscrowInstance, bool) {
	return s.factory.Escrow(addr)
}
