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

package cardano

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/NEILBATCHELOR/wallet-sub001/client"
)

var ErrTxNotFound = errors.New("transaction not found")

const unitLovelace = "lovelace"

type Amount struct {
	Unit     string `json:"unit"`
	Quantity string `json:"quantity"`
}

type UTxO struct {
	TxHash      string   `json:"tx_hash"`
	OutputIndex int      `json:"output_index"`
	Amount      []Amount `json:"amount"`
}

// Quantity returns the amount of unit held by the output
func (u UTxO) Quantity(unit string) uint64 {
	for _, a := range u.Amount {
		if a.Unit == unit {
			v, err := strconv.ParseUint(a.Quantity, 10, 64)
			if err != nil {
				return 0
			}
			return v
		}
	}
	return 0
}

type ProtocolParams struct {
	MinFeeA int `json:"min_fee_a"`
	MinFeeB int `json:"min_fee_b"`
}

type TxInfo struct {
	Hash          string `json:"hash"`
	Block         string `json:"block"`
	ValidContract bool   `json:"valid_contract"`
}

// Client is the subset of the Blockfrost API the adapter uses
type Client interface {
	AddressUTxOs(ctx context.Context, address string) ([]UTxO, error)
	ProtocolParams(ctx context.Context) (*ProtocolParams, error)
	LatestSlot(ctx context.Context) (uint64, error)
	Submit(ctx context.Context, tx []byte) (string, error)
	Transaction(ctx context.Context, hash string) (*TxInfo, error)
}

type blockfrost struct {
	rest *client.REST
}

func NewBlockfrostClient(rest *client.REST) Client {
	return &blockfrost{rest: rest}
}

func (b *blockfrost) AddressUTxOs(ctx context.Context, address string) ([]UTxO, error) {
	var ret []UTxO
	for page := 1; ; page++ {
		var batch []UTxO
		query := url.Values{
			"page":  {strconv.Itoa(page)},
			"count": {"100"},
		}
		err := b.rest.Get(ctx, "/addresses/"+url.PathEscape(address)+"/utxos", query, &batch)
		if err != nil {
			// Unused addresses are unknown to the indexer
			if client.IsNotFound(err) {
				return ret, nil
			}
			return nil, err
		}
		ret = append(ret, batch...)
		if len(batch) < 100 {
			return ret, nil
		}
	}
}

func (b *blockfrost) ProtocolParams(ctx context.Context) (*ProtocolParams, error) {
	var ret ProtocolParams
	if err := b.rest.Get(ctx, "/epochs/latest/parameters", nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (b *blockfrost) LatestSlot(ctx context.Context) (uint64, error) {
	var ret struct {
		Slot uint64 `json:"slot"`
	}
	if err := b.rest.Get(ctx, "/blocks/latest", nil, &ret); err != nil {
		return 0, err
	}
	return ret.Slot, nil
}

func (b *blockfrost) Submit(ctx context.Context, tx []byte) (string, error) {
	var hash string
	if err := b.rest.Post(ctx, "/tx/submit", "application/cbor", tx, &hash); err != nil {
		return "", err
	}
	return strings.TrimSpace(hash), nil
}

func (b *blockfrost) Transaction(ctx context.Context, hash string) (*TxInfo, error) {
	var ret TxInfo
	if err := b.rest.Get(ctx, "/txs/"+url.PathEscape(hash), nil, &ret); err != nil {
		if client.IsNotFound(err) {
			return nil, ErrTxNotFound
		}
		return nil, err
	}
	return &ret, nil
}
