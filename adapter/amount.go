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

package adapter

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToAtomic converts a human-unit decimal string to the network's smallest
// unit. Excess precision is truncated toward zero.
func ToAtomic(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidAmount, amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, amount)
	}
	return d.Shift(decimals).Truncate(0).BigInt(), nil
}

// FromAtomic converts an amount in the smallest unit to human units
func FromAtomic(value *big.Int, decimals int32) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -decimals).String()
}

// FromAtomicUint64 is FromAtomic for uint64 amounts
func FromAtomicUint64(value uint64, decimals int32) string {
	return FromAtomic(new(big.Int).SetUint64(value), decimals)
}
