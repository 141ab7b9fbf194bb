package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/1inch/fusion-escrow/internal/escrow"
)

func TestRateBumpBeforeStartIsInitial(t *testing.T) {
	d := New()
	cfg := escrow.AuctionConfig{StartTime: 1000, Duration: 500, InitialRateBump: 600}

	require.Equal(t, uint64(600), d.RateBump(cfg, 0, 500))
	require.Equal(t, uint64(600), d.RateBump(cfg, 0, 1000))
}

func TestRateBumpDecaysLinearlyDuringAuction(t *testing.T) {
	d := New()
	cfg := escrow.AuctionConfig{StartTime: 1000, Duration: 1000, InitialRateBump: 1000}

	require.Equal(t, uint64(1000), d.RateBump(cfg, 0, 1000))
	require.Equal(t, uint64(500), d.RateBump(cfg, 0, 1500))
	require.Equal(t, uint64(0), d.RateBump(cfg, 0, 2000))
}

func TestRateBumpAfterDurationIsFloor(t *testing.T) {
	d := New()
	cfg := escrow.AuctionConfig{StartTime: 1000, Duration: 500, InitialRateBump: 800}

	require.Equal(t, uint64(0), d.RateBump(cfg, 0, 1600))
}

func TestRateBumpAddsGasCompensation(t *testing.T) {
	d := New()
	cfg := escrow.AuctionConfig{StartTime: 1000, Duration: 500, InitialRateBump: 0}

	require.Equal(t, uint64(5), d.RateBump(cfg, 5_000, 2_000))
}

func TestAdjustedMakingShrinksAsRateBumpGrows(t *testing.T) {
	d := New()
	withoutBump := d.AdjustedMaking(1_000, 1_000, 1_000, 0)
	withBump := d.AdjustedMaking(1_000, 1_000, 1_000, 1_000) // +10%

	require.Equal(t, uint64(1_000), withoutBump)
	require.Less(t, withBump, withoutBump)
}

func TestAdjustedTakingGrowsAsRateBumpGrowsAndCeils(t *testing.T) {
	d := New()
	withoutBump := d.AdjustedTaking(1_000, 1_000, 1_000, 0)
	withBump := d.AdjustedTaking(1_000, 1_000, 1_000, 1_000)

	require.Equal(t, uint64(1_000), withoutBump)
	require.Greater(t, withBump, withoutBump)
}

func TestAdjustedMakingZeroOrderTakingIsZero(t *testing.T) {
	d := New()
	require.Equal(t, uint64(0), d.AdjustedMaking(1_000, 0, 500, 100))
}
