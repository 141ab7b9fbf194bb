package escrow

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// OrderInteraction is the callback adapter the external order-matching
// protocol invokes on fill (SPEC_FULL.md §4.7). It owns no state of its
// own beyond references to the collaborators it forwards into —
// FactoryRegistry for escrow creation, AuctionAdapter for the amount hooks.
type OrderInteraction struct {
	factory *FactoryRegistry
	auction AuctionAdapter
	events  Publisher
}

// NewOrderInteraction wires an OrderInteraction to its factory, pricing
// adapter, and event sink.
func NewOrderInteraction(factory *FactoryRegistry, auction AuctionAdapter, events Publisher) *OrderInteraction {
	return &OrderInteraction{factory: factory, auction: auction, events: events}
}

// PreInteraction is the advisory hook: it emits an observability event and
// mutates no escrow-layer state (SPEC_FULL.md §4.7).
func (o *OrderInteraction) PreInteraction(orderHash common.Hash, taker common.Address, making, taking, remaining uint64, now uint32) {
	o.events.Publish(Event{
		Type:      EventOrderFilled,
		OrderHash: orderHash,
		Timestamp: now,
	})
}

// PostInteractionParams is PostInteraction's argument set: the order-fill
// context plus the packed extra blob carrying SrcEscrowArgs.
type PostInteractionParams struct {
	OrderHash             common.Hash
	Maker                 common.Address
	Taker                 common.Address
	TokenID               string
	MakingAmount          uint64
	TakingAmount          uint64
	RemainingMakingAmount uint64
	Extra                 []byte
	Now                   uint32
}

// PostInteraction parses extra into SrcEscrowArgs and calls
// FactoryRegistry.CreateSource — the trigger that turns an order-protocol
// fill into a materialized source escrow (SPEC_FULL.md §4.7, data-flow
// step 2 in §2).
func (o *OrderInteraction) PostInteraction(p PostInteractionParams) (common.Hash, error) {
	const op = "OrderInteraction.PostInteraction"

	args, err := DecodeSrcEscrowArgs(p.Extra)
	if err != nil {
		return common.Hash{}, newErr(op, KindInvalidConfiguration, err)
	}

	addr, err := o.factory.CreateSource(SrcCreateParams{
		OrderHash:             p.OrderHash,
		Maker:                 p.Maker,
		Taker:                 p.Taker,
		TokenID:               p.TokenID,
		MakingAmount:          p.MakingAmount,
		TakingAmount:          p.TakingAmount,
		RemainingMakingAmount: p.RemainingMakingAmount,
		Args:                  args,
		Now:                   p.Now,
	})
	if err != nil {
		return common.Hash{}, err
	}

	o.events.Publish(Event{
		Type:      EventOrderFilled,
		OrderHash: p.OrderHash,
		Timestamp: p.Now,
	})
	return addr, nil
}

// GetMakingAmount and GetTakingAmount are the amount-calculation hooks from
// SPEC_FULL.md §4.7: pure passthroughs to AuctionAdapter, using the
// gas-price-compensated rate bump at now.
func (o *OrderInteraction) GetMakingAmount(cfg AuctionConfig, orderMaking, orderTaking, taking, gasPriceSignal uint64, now uint32) uint64 {
	rb := o.auction.RateBump(cfg, gasPriceSignal, now)
	return o.auction.AdjustedMaking(orderMaking, orderTaking, taking, rb)
}

func (o *OrderInteraction) GetTakingAmount(cfg AuctionConfig, orderMaking, orderTaking, making, gasPriceSignal uint64, now uint32) uint64 {
	rb := o.auction.RateBump(cfg, gasPriceSignal, now)
	return o.auction.AdjustedTaking(orderMaking, orderTaking, making, rb)
}

// --- extra blob codec ---
//
// The order protocol's `extra` blob is opaque to SPEC_FULL.md beyond
// naming its contents (hashlock_info, timelocks, auction config, fee
// config, whitelist, Merkle taker_data). This module fixes one concrete
// binary layout for it — big-endian, length-prefixed where variable —
// since something has to define the wire format the two sides of
// PostInteraction agree on, and no teacher/example file already does.
// Fixed-width header (bytes):
//   [0:32)   hashlock_info
//   [32:64)  timelocks, structured encoding (Timelocks.Encode)
//   [64:72)  deposits_hi (src_safety_deposit)
//   [72:80)  deposits_lo (dst_safety_deposit)
//   [80:88)  access_token_balance
//   [88)     fee_enabled (0/1)
//   [89:97)  resolver_fee
//   [97:105) access_token_threshold
//   [105:109) whitelist_count (u32)
//   ... whitelist_count * 20-byte addresses
//   [1)      multi_fill_present (0/1)
//   if present: 32(root) + 4(proof_count) + proof_count*32 + 8(index) +
//               32(secret_hash) + 8(parts) + 8(this_fill)
//   20(maker_on_dst) + 8(taking_amount) + 4(token_id_len) + token_id +
//   8(dst_safety_deposit) + 8(dst_chain_id)

const srcEscrowArgsHeaderLen = 109

// EncodeSrcEscrowArgs is DecodeSrcEscrowArgs's inverse, used by
// OrderInteraction callers (and tests) to build the extra blob.
func EncodeSrcEscrowArgs(a SrcEscrowArgs) []byte {
	out := make([]byte, 0, 256)
	out = append(out, a.HashlockInfo.Bytes()...)
	tl := a.Timelocks.Encode()
	out = append(out, tl[:]...)

	var u64buf [8]byte
	binary.BigEndian.PutUint64(u64buf[:], a.DepositsHi)
	out = append(out, u64buf[:]...)
	binary.BigEndian.PutUint64(u64buf[:], a.DepositsLo)
	out = append(out, u64buf[:]...)
	binary.BigEndian.PutUint64(u64buf[:], a.AccessBalance)
	out = append(out, u64buf[:]...)

	if a.FeeConfig.Enabled {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	binary.BigEndian.PutUint64(u64buf[:], a.FeeConfig.ResolverFee)
	out = append(out, u64buf[:]...)
	binary.BigEndian.PutUint64(u64buf[:], a.FeeConfig.AccessTokenThreshold)
	out = append(out, u64buf[:]...)

	var u32buf [4]byte
	binary.BigEndian.PutUint32(u32buf[:], uint32(len(a.Whitelist)))
	out = append(out, u32buf[:]...)
	for _, addr := range a.Whitelist {
		out = append(out, addr.Bytes()...)
	}

	if a.MultiFill != nil {
		out = append(out, 1)
		out = append(out, a.MultiFill.Root.Bytes()...)
		binary.BigEndian.PutUint32(u32buf[:], uint32(len(a.MultiFill.Proof)))
		out = append(out, u32buf[:]...)
		for _, h := range a.MultiFill.Proof {
			out = append(out, h.Bytes()...)
		}
		binary.BigEndian.PutUint64(u64buf[:], a.MultiFill.Index)
		out = append(out, u64buf[:]...)
		out = append(out, a.MultiFill.SecretHash.Bytes()...)
		binary.BigEndian.PutUint64(u64buf[:], a.MultiFill.Parts)
		out = append(out, u64buf[:]...)
		binary.BigEndian.PutUint64(u64buf[:], a.MultiFill.ThisFill)
		out = append(out, u64buf[:]...)
	} else {
		out = append(out, 0)
	}

	out = append(out, a.DstComplement.MakerOnDst.Bytes()...)
	binary.BigEndian.PutUint64(u64buf[:], a.DstComplement.TakingAmount)
	out = append(out, u64buf[:]...)
	binary.BigEndian.PutUint32(u32buf[:], uint32(len(a.DstComplement.DstTokenID)))
	out = append(out, u32buf[:]...)
	out = append(out, []byte(a.DstComplement.DstTokenID)...)
	binary.BigEndian.PutUint64(u64buf[:], a.DstComplement.DstSafetyDeposit)
	out = append(out, u64buf[:]...)
	binary.BigEndian.PutUint64(u64buf[:], a.DstComplement.DstChainID)
	out = append(out, u64buf[:]...)

	return out
}

// DecodeSrcEscrowArgs parses the extra blob OrderInteraction.PostInteraction
// receives into a SrcEscrowArgs. Returns InvalidConfiguration (via the
// caller, which wraps it) on a short or malformed buffer.
func DecodeSrcEscrowArgs(b []byte) (SrcEscrowArgs, error) {
	var a SrcEscrowArgs
	r := &byteReader{buf: b}

	a.HashlockInfo = common.BytesToHash(r.take(32))
	var tl [32]byte
	copy(tl[:], r.take(32))
	a.Timelocks = TimelocksFromEncoded(tl)

	a.DepositsHi = r.u64()
	a.DepositsLo = r.u64()
	a.AccessBalance = r.u64()

	a.FeeConfig.Enabled = r.take(1)[0] != 0
	a.FeeConfig.ResolverFee = r.u64()
	a.FeeConfig.AccessTokenThreshold = r.u64()

	wlCount := r.u32()
	a.Whitelist = make([]common.Address, wlCount)
	for i := range a.Whitelist {
		a.Whitelist[i] = common.BytesToAddress(r.take(20))
	}

	if r.take(1)[0] != 0 {
		md := &MultiFillTakerData{}
		md.Root = common.BytesToHash(r.take(32))
		proofCount := r.u32()
		md.Proof = make(MerkleProof, proofCount)
		for i := range md.Proof {
			md.Proof[i] = common.BytesToHash(r.take(32))
		}
		md.Index = r.u64()
		md.SecretHash = common.BytesToHash(r.take(32))
		md.Parts = r.u64()
		md.ThisFill = r.u64()
		a.MultiFill = md
	}

	a.DstComplement.MakerOnDst = common.BytesToAddress(r.take(20))
	a.DstComplement.TakingAmount = r.u64()
	tokenIDLen := r.u32()
	a.DstComplement.DstTokenID = string(r.take(int(tokenIDLen)))
	a.DstComplement.DstSafetyDeposit = r.u64()
	a.DstComplement.DstChainID = r.u64()

	if r.err != nil {
		return SrcEscrowArgs{}, r.err
	}
	return a, nil
}

// byteReader is a minimal sequential-read cursor over a byte slice,
// recording the first short-read error it hits rather than panicking —
// DecodeSrcEscrowArgs checks r.err once at the end.
type byteReader struct {
	buf []byte
	pos int
	err error
}

func (r *byteReader) take(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	if r.pos+n > len(r.buf) {
		r.err = newErr("DecodeSrcEscrowArgs", KindInvalidConfiguration, nil)
		return make([]byte, n)
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *byteReader) u64() uint64 { return binary.BigEndian.Uint64(r.take(8)) }
func (r *byteReader) u32() uint32 { return binary.BigEndian.Uint32(r.take(4)) }
