package evm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/planetarium/ncg-bridge/internal/amount"
)

func TestMintToEncodesExpectedSelector(t *testing.T) {
	recipient := common.HexToAddress("0x00000000000000000000000000000000000001")
	amt, _ := amount.ParseNCG("1.00")
	packed, err := parsedWrappedTokenABI.Pack("mintTo", recipient, amt.ToWNCG().Int().ToBig())
	require.NoError(t, err)
	require.True(t, len(packed) >= 4)

	method, err := parsedWrappedTokenABI.MethodById(packed[:4])
	require.NoError(t, err)
	require.Equal(t, "mintTo", method.Name)
}

func TestUnpackBurnEvent(t *testing.T) {
	var to [32]byte
	copy(to[:], []byte("planet-recipient-padding-bytes!"))
	data, err := parsedWrappedTokenABI.Events["Burn"].Inputs.NonIndexed().Pack(big.NewInt(1234), to)
	require.NoError(t, err)

	var decoded struct {
		Amount *big.Int
		To     [32]byte
	}
	require.NoError(t, parsedWrappedTokenABI.UnpackIntoInterface(&decoded, "Burn", data))
	require.Equal(t, int64(1234), decoded.Amount.Int64())
	require.Equal(t, to, decoded.To)
}

func TestBurnEventTopicIsStable(t *testing.T) {
	require.Equal(t, parsedWrappedTokenABI.Events["Burn"].ID, burnEventTopic)
}
