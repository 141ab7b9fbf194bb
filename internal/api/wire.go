package api

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/1inch/fusion-escrow/internal/escrow"
)

// timelocksWire is the JSON-wire shape of an unbound Timelocks: the seven
// stage offsets a maker signs into an order, named rather than positional
// so a request body is self-documenting.
type timelocksWire struct {
	SrcWithdrawal         uint32 `json:"src_withdrawal"`
	SrcPublicWithdrawal   uint32 `json:"src_public_withdrawal"`
	SrcCancellation       uint32 `json:"src_cancellation"`
	SrcPublicCancellation uint32 `json:"src_public_cancellation"`
	DstWithdrawal         uint32 `json:"dst_withdrawal"`
	DstPublicWithdrawal   uint32 `json:"dst_public_withdrawal"`
	DstCancellation       uint32 `json:"dst_cancellation"`
}

func (w timelocksWire) toTimelocks() (escrow.Timelocks, error) {
	return escrow.NewTimelocks(
		w.SrcWithdrawal, w.SrcPublicWithdrawal, w.SrcCancellation, w.SrcPublicCancellation,
		w.DstWithdrawal, w.DstPublicWithdrawal, w.DstCancellation,
	)
}

// immutablesWire is the JSON-wire shape of a bound Immutables, the shape
// every withdraw/cancel/rescue request carries so the server can check it
// against the address-derivation-time copy before acting.
type immutablesWire struct {
	OrderHash     common.Hash    `json:"order_hash"`
	Hashlock      common.Hash    `json:"hashlock"`
	Maker         common.Address `json:"maker"`
	Taker         common.Address `json:"taker"`
	TokenID       string         `json:"token_id"`
	Amount        uint64         `json:"amount"`
	SafetyDeposit uint64         `json:"safety_deposit"`
	Timelocks     timelocksWire  `json:"timelocks"`
	DeployedAt    uint32         `json:"deployed_at"`
}

func (w immutablesWire) toImmutables() (escrow.Immutables, error) {
	tl, err := w.Timelocks.toTimelocks()
	if err != nil {
		return escrow.Immutables{}, err
	}
	return escrow.Immutables{
		OrderHash:     w.OrderHash,
		Hashlock:      w.Hashlock,
		Maker:         w.Maker,
		Taker:         w.Taker,
		TokenID:       w.TokenID,
		Amount:        w.Amount,
		SafetyDeposit: w.SafetyDeposit,
		Timelocks:     tl.Bind(w.DeployedAt),
	}, nil
}

func immutablesToWire(im escrow.Immutables) immutablesWire {
	return immutablesWire{
		OrderHash:     im.OrderHash,
		Hashlock:      im.Hashlock,
		Maker:         im.Maker,
		Taker:         im.Taker,
		TokenID:       im.TokenID,
		Amount:        im.Amount,
		SafetyDeposit: im.SafetyDeposit,
		Timelocks: timelocksWire{
			SrcWithdrawal:         offsetOf(im.Timelocks, escrow.StageSrcWithdrawal),
			SrcPublicWithdrawal:   offsetOf(im.Timelocks, escrow.StageSrcPublicWithdrawal),
			SrcCancellation:       offsetOf(im.Timelocks, escrow.StageSrcCancellation),
			SrcPublicCancellation: offsetOf(im.Timelocks, escrow.StageSrcPublicCancellation),
			DstWithdrawal:         offsetOf(im.Timelocks, escrow.StageDstWithdrawal),
			DstPublicWithdrawal:   offsetOf(im.Timelocks, escrow.StageDstPublicWithdrawal),
			DstCancellation:       offsetOf(im.Timelocks, escrow.StageDstCancellation),
		},
		DeployedAt: im.Timelocks.DeployedAt(),
	}
}

// offsetOf recovers a single stage's offset from a bound Timelocks via its
// absolute stage time, since Timelocks keeps its offsets unexported.
func offsetOf(t escrow.Timelocks, stage escrow.Stage) uint32 {
	abs, err := t.StageTime(stage)
	if err != nil {
		return 0
	}
	return abs - t.DeployedAt()
}

// multiFillWire is the Merkle membership material a partial-fill request
// carries against a multi-fill order.
type multiFillWire struct {
	Root       common.Hash   `json:"root"`
	Proof      []common.Hash `json:"proof"`
	Index      uint64        `json:"index"`
	SecretHash common.Hash   `json:"secret_hash"`
	Parts      uint64        `json:"parts"`
	ThisFill   uint64        `json:"this_fill"`
}

func (w *multiFillWire) toTakerData() *escrow.MultiFillTakerData {
	if w == nil {
		return nil
	}
	return &escrow.MultiFillTakerData{
		Root:       w.Root,
		Proof:      escrow.MerkleProof(w.Proof),
		Index:      w.Index,
		SecretHash: w.SecretHash,
		Parts:      w.Parts,
		ThisFill:   w.ThisFill,
	}
}

// createSourceRequest is the POST /escrows/source body, mirroring
// FactoryRegistry.SrcCreateParams/SrcEscrowArgs field-for-field.
type createSourceRequest struct {
	OrderHash             common.Hash      `json:"order_hash"`
	Maker                 common.Address   `json:"maker"`
	Taker                 common.Address   `json:"taker"`
	TokenID               string           `json:"token_id"`
	MakingAmount          uint64           `json:"making_amount"`
	TakingAmount          uint64           `json:"taking_amount"`
	RemainingMakingAmount uint64           `json:"remaining_making_amount"`
	HashlockInfo          common.Hash      `json:"hashlock_info"`
	Timelocks             timelocksWire    `json:"timelocks"`
	FeeEnabled            bool             `json:"fee_enabled"`
	ResolverFee           uint64           `json:"resolver_fee"`
	AccessTokenThreshold  uint64           `json:"access_token_threshold"`
	Whitelist             []common.Address `json:"whitelist"`
	AccessBalance         uint64           `json:"access_balance"`
	SrcSafetyDeposit      uint64           `json:"src_safety_deposit"`
	DstSafetyDeposit      uint64           `json:"dst_safety_deposit"`
	MultiFill             *multiFillWire   `json:"multi_fill,omitempty"`
	DstComplement         dstComplementWire `json:"dst_complement"`
}

type dstComplementWire struct {
	MakerOnDst       common.Address `json:"maker_on_dst"`
	TakingAmount     uint64         `json:"taking_amount"`
	DstTokenID       string         `json:"dst_token_id"`
	DstSafetyDeposit uint64         `json:"dst_safety_deposit"`
	DstChainID       uint64         `json:"dst_chain_id"`
}

func (r createSourceRequest) toParams(now uint32) (escrow.SrcCreateParams, error) {
	tl, err := r.Timelocks.toTimelocks()
	if err != nil {
		return escrow.SrcCreateParams{}, err
	}
	return escrow.SrcCreateParams{
		OrderHash:             r.OrderHash,
		Maker:                 r.Maker,
		Taker:                 r.Taker,
		TokenID:               r.TokenID,
		MakingAmount:          r.MakingAmount,
		TakingAmount:          r.TakingAmount,
		RemainingMakingAmount: r.RemainingMakingAmount,
		Now:                   now,
		Args: escrow.SrcEscrowArgs{
			HashlockInfo: r.HashlockInfo,
			Timelocks:    tl,
			FeeConfig: escrow.FeeConfig{
				Enabled:              r.FeeEnabled,
				ResolverFee:          r.ResolverFee,
				AccessTokenThreshold: r.AccessTokenThreshold,
			},
			Whitelist:     r.Whitelist,
			AccessBalance: r.AccessBalance,
			DepositsHi:    r.SrcSafetyDeposit,
			DepositsLo:    r.DstSafetyDeposit,
			MultiFill:     r.MultiFill.toTakerData(),
			DstComplement: escrow.DstComplement{
				MakerOnDst:       r.DstComplement.MakerOnDst,
				TakingAmount:     r.DstComplement.TakingAmount,
				DstTokenID:       r.DstComplement.DstTokenID,
				DstSafetyDeposit: r.DstComplement.DstSafetyDeposit,
				DstChainID:       r.DstComplement.DstChainID,
			},
		},
	}, nil
}

// createDestinationRequest is the POST /escrows/destination body.
type createDestinationRequest struct {
	Caller                   common.Address `json:"caller"`
	Immutables               immutablesWire `json:"immutables"`
	TokensProvided           uint64         `json:"tokens_provided"`
	SafetyDepositProvided    uint64         `json:"safety_deposit_provided"`
	SrcCancellationTimestamp uint32         `json:"src_cancellation_timestamp"`
}

func (r createDestinationRequest) toParams(now uint32) (escrow.DstCreateParams, error) {
	im, err := r.Immutables.toImmutables()
	if err != nil {
		return escrow.DstCreateParams{}, err
	}
	return escrow.DstCreateParams{
		Caller:                   r.Caller,
		Immutables:               im,
		TokensProvided:           r.TokensProvided,
		SafetyDepositProvided:    r.SafetyDepositProvided,
		SrcCancellationTimestamp: r.SrcCancellationTimestamp,
		Now:                      now,
	}, nil
}

// settlementRequest is the shared body shape for withdraw/public-withdraw/
// cancel/public-cancel/rescue: a caller identity plus the Immutables the
// caller believes govern this escrow, and the settlement-specific fields.
type settlementRequest struct {
	Caller     common.Address `json:"caller"`
	Secret     []byte         `json:"secret,omitempty"`
	Recipient  common.Address `json:"recipient,omitempty"`
	TokenID    string         `json:"token_id,omitempty"`
	Amount     uint64         `json:"amount,omitempty"`
	Immutables immutablesWire `json:"immutables"`
}

func (r settlementRequest) toImmutables() (escrow.Immutables, error) {
	return r.Immutables.toImmutables()
}

// escrowView is the GET /escrows/{addr} response: a JSON-friendly
// projection of an EscrowInstance's public fields.
type escrowView struct {
	Address    common.Hash    `json:"address"`
	Role       string         `json:"role"`
	State      string         `json:"state"`
	Immutables immutablesWire `json:"immutables"`
}

func newEscrowView(inst *escrow.EscrowInstance) escrowView {
	return escrowView{
		Address:    inst.Address(),
		Role:       inst.Role().String(),
		State:      inst.State().String(),
		Immutables: immutablesToWire(inst.Immutables()),
	}
}
