package escrow

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestDeriveAddressIsDeterministic(t *testing.T) {
	factoryID := common.HexToHash("0xf1")
	immHash := common.HexToHash("0xaa")

	a1 := DeriveAddress(factoryID, immHash, RoleSource)
	a2 := DeriveAddress(factoryID, immHash, RoleSource)
	require.Equal(t, a1, a2)
}

func TestDeriveAddressSeparatesRoles(t *testing.T) {
	factoryID := common.HexToHash("0xf1")
	immHash := common.HexToHash("0xaa")

	src := DeriveAddress(factoryID, immHash, RoleSource)
	dst := DeriveAddress(factoryID, immHash, RoleDestination)
	require.NotEqual(t, src, dst)
}

func TestDeriveAddressSeparatesFactories(t *testing.T) {
	immHash := common.HexToHash("0xaa")

	a1 := DeriveAddress(common.HexToHash("0xf1"), immHash, RoleSource)
	a2 := DeriveAddress(common.HexToHash("0xf2"), immHash, RoleSource)
	require.NotEqual(t, a1, a2)
}

func TestDeriveEscrowAddressSensitiveToAmountAndHashlock(t *testing.T) {
	factoryID := common.HexToHash("0xf1")
	im := sampleImmutables(t)

	base := DeriveEscrowAddress(factoryID, im, RoleSource)

	mutated := im
	mutated.Amount++
	require.NotEqual(t, base, DeriveEscrowAddress(factoryID, mutated, RoleSource))

	mutated = im
	mutated.Hashlock = common.HexToHash("0xff")
	require.NotEqual(t, base, DeriveEscrowAddress(factoryID, mutated, RoleSource))
}
