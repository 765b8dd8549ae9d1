// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package network_test

import (
	"testing"

	"github.com/NEILBATCHELOR/wallet-sub001/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnownNetworksValidate(t *testing.T) {
	ids := network.KnownIDs()
	require.NotEmpty(t, ids)
	for _, id := range ids {
		info, ok := network.Known(id)
		require.True(t, ok, id)
		assert.NoError(t, info.Validate(), id)
		assert.Equal(t, id, info.ID)
	}
}

func TestKnownReturnsCopy(t *testing.T) {
	info, ok := network.Known("ethereum")
	require.True(t, ok)
	info.Options[network.OptionSafeFactory] = "0x0"
	again, _ := network.Known("ethereum")
	assert.NotEqual(t, "0x0", again.Options[network.OptionSafeFactory])
}

func TestWithOptionDoesNotMutate(t *testing.T) {
	info, _ := network.Known("solana-devnet")
	updated := info.WithOption(network.OptionRelayerKey, "abc")
	assert.Equal(t, "abc", updated.Option(network.OptionRelayerKey, ""))
	assert.Empty(t, info.Option(network.OptionRelayerKey, ""))
}

func TestValidateErrors(t *testing.T) {
	assert.ErrorIs(t, network.Info{}.Validate(), network.ErrMissingID)
	assert.ErrorIs(
		t,
		network.Info{ID: "x", Family: "bogus"}.Validate(),
		network.ErrUnknownFamily,
	)
	assert.ErrorIs(
		t,
		network.Info{
			ID:       "x",
			Family:   network.FamilyUTXOScript,
			Currency: network.Currency{Decimals: 40},
		}.Validate(),
		network.ErrInvalidDecimal,
	)
}

func TestFamilyCurve(t *testing.T) {
	assert.Equal(t, network.CurveSecp256k1, network.FamilyUTXOScript.Curve())
	assert.Equal(t, network.CurveSecp256k1, network.FamilyEVMContractWallet.Curve())
	assert.Equal(t, network.CurveEd25519, network.FamilyAccountKeyList.Curve())
	assert.Equal(t, network.CurveEd25519, network.FamilyProgramDerivedAddress.Curve())
	assert.Equal(t, network.CurveEd25519, network.FamilyNativeScript.Curve())
}
