package escrow

import (
	"encoding/binary"

	"github.com/holiman/uint256"
)

// Stage indexes one of the seven time-gated permissions a Timelocks value
// schedules, in protocol order.
type Stage int

const (
	StageSrcWithdrawal Stage = iota + 1
	StageSrcPublicWithdrawal
	StageSrcCancellation
	StageSrcPublicCancellation
	StageDstWithdrawal
	StageDstPublicWithdrawal
	StageDstCancellation
)

const numStages = 7

// Timelocks packs the seven stage offsets plus the deployment time they are
// relative to. The zero value is never valid on its own; construct with
// NewTimelocks.
type Timelocks struct {
	offsets    [numStages]uint32
	deployedAt uint32
	bound      bool
}

// NewTimelocks validates the ordering invariant from SPEC_FULL.md §3 and
// returns an unbound Timelocks (deployedAt is fixed later via Bind).
func NewTimelocks(srcWithdrawal, srcPublicWithdrawal, srcCancellation, srcPublicCancellation,
	dstWithdrawal, dstPublicWithdrawal, dstCancellation uint32) (Timelocks, error) {

	const op = "Timelocks.New"
	if !(srcWithdrawal <= srcPublicWithdrawal &&
		srcPublicWithdrawal <= srcCancellation &&
		srcCancellation <= srcPublicCancellation) {
		return Timelocks{}, newErr(op, KindInvalidTimelock, nil)
	}
	if !(dstWithdrawal <= dstPublicWithdrawal && dstPublicWithdrawal <= dstCancellation) {
		return Timelocks{}, newErr(op, KindInvalidTimelock, nil)
	}

	return Timelocks{
		offsets: [numStages]uint32{
			srcWithdrawal, srcPublicWithdrawal, srcCancellation, srcPublicCancellation,
			dstWithdrawal, dstPublicWithdrawal, dstCancellation,
		},
	}, nil
}

// Bind fixes deployedAt to now. Re-binding always overwrites with the
// current wall time, matching the factory-creation path semantics in
// SPEC_FULL.md §4.1.
func (t Timelocks) Bind(now uint32) Timelocks {
	t.deployedAt = now
	t.bound = true
	return t
}

// Bound reports whether deployedAt has been fixed.
func (t Timelocks) Bound() bool { return t.bound }

// DeployedAt returns the bound deployment time, or 0 if unbound.
func (t Timelocks) DeployedAt() uint32 { return t.deployedAt }

func (t Timelocks) offset(stage Stage) uint32 {
	return t.offsets[stage-1]
}

// StageTime returns the absolute wall-clock second at which stage opens.
func (t Timelocks) StageTime(stage Stage) (uint32, error) {
	if !t.bound {
		return 0, newErr("Timelocks.StageTime", KindInvalidConfiguration, nil)
	}
	return t.deployedAt + t.offset(stage), nil
}

// IsAfter reports whether now is at or past stage's opening time.
func (t Timelocks) IsAfter(now uint32, stage Stage) bool {
	st, err := t.StageTime(stage)
	if err != nil {
		return false
	}
	return now >= st
}

// IsBefore reports whether now is strictly before stage's opening time.
func (t Timelocks) IsBefore(now uint32, stage Stage) bool {
	st, err := t.StageTime(stage)
	if err != nil {
		return false
	}
	return now < st
}

// InWindow reports now ∈ [stage_time(start), stage_time(end)).
func (t Timelocks) InWindow(now uint32, start, end Stage) bool {
	return t.IsAfter(now, start) && t.IsBefore(now, end)
}

// RescueTime returns deployed_at + rescueDelay, the opening of the
// per-role emergency-recovery window.
func (t Timelocks) RescueTime(rescueDelay uint32) (uint32, error) {
	if !t.bound {
		return 0, newErr("Timelocks.RescueTime", KindInvalidConfiguration, nil)
	}
	return t.deployedAt + rescueDelay, nil
}

// Encode produces the structured canonical encoding from SPEC_FULL.md §6:
// seven big-endian u32 stage offsets in stage order, followed by
// big-endian u32 deployedAt — 32 bytes total.
func (t Timelocks) Encode() [32]byte {
	var out [32]byte
	for i, v := range t.offsets {
		binary.BigEndian.PutUint32(out[i*4:i*4+4], v)
	}
	binary.BigEndian.PutUint32(out[28:32], t.deployedAt)
	return out
}

// TimelocksFromEncoded reconstructs a Timelocks from the structured
// encoding Encode produces, the inverse operation. Skips the ordering
// validation NewTimelocks performs since a value that round-trips through
// Encode already satisfied it once; a deployedAt of 0 decodes to unbound,
// matching NewTimelocks' zero value before Bind.
func TimelocksFromEncoded(b [32]byte) Timelocks {
	var t Timelocks
	for i := range t.offsets {
		t.offsets[i] = binary.BigEndian.Uint32(b[i*4 : i*4+4])
	}
	t.deployedAt = binary.BigEndian.Uint32(b[28:32])
	t.bound = t.deployedAt != 0
	return t
}

// PackedU256 produces the alternative bit-packed layout required for
// byte-identical cross-chain agreement with EVM counterparts: bits
// [0..32)=stage1, [32..64)=stage2, ..., [192..224)=stage7,
// [224..256)=deployed_at.
func (t Timelocks) PackedU256() *uint256.Int {
	out := new(uint256.Int)
	for i, v := range t.offsets {
		shifted := new(uint256.Int).Lsh(uint256.NewInt(uint64(v)), uint(i*32))
		out.Or(out, shifted)
	}
	shifted := new(uint256.Int).Lsh(uint256.NewInt(uint64(t.deployedAt)), uint(numStages*32))
	out.Or(out, shifted)
	return out
}

// TimelocksFromPackedU256 reconstructs a bound Timelocks from the packed
// layout, the inverse of PackedU256.
func TimelocksFromPackedU256(packed *uint256.Int) Timelocks {
	var t Timelocks
	mask := new(uint256.Int).SetUint64(0xffffffff)
	for i := range t.offsets {
		word := new(uint256.Int).Rsh(packed, uint(i*32))
		word.And(word, mask)
		t.offsets[i] = uint32(word.Uint64())
	}
	word := new(uint256.Int).Rsh(packed, uint(numStages*32))
	word.And(word, mask)
	t.deployedAt = uint32(word.Uint64())
	t.bound = t.deployedAt != 0
	return t
}
