// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package unit

import (
	"math"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// SatsPerKilo is the number of satoshis in a kilo-satoshi.
	SatsPerKilo = 1000

	// floatStringPrecision is the number of decimal places to use when
	// converting a fee rate to a string.
	floatStringPrecision = 2
)

// SatPerKVByte represents a fee rate in sat/kvb. The fee rate is encoded as a
// big.Rat to allow for fractional (sub-satoshi) fee rates.
type SatPerKVByte struct {
	*big.Rat
}

// NewSatPerKVByte creates a fee rate that charges fee for every kvb bytes.
func NewSatPerKVByte(fee btcutil.Amount, vb VByte) SatPerKVByte {
	if vb == 0 {
		return SatPerKVByte{big.NewRat(0, 1)}
	}

	return SatPerKVByte{
		big.NewRat(int64(fee)*SatsPerKilo, safeUint64ToInt64(uint64(vb))),
	}
}

// SatPerKVByteFromAmount returns the rate paying the given amount per
// kilo-vbyte, the unit used by bitcoind's fee estimator.
func SatPerKVByteFromAmount(perKVB btcutil.Amount) SatPerKVByte {
	return SatPerKVByte{big.NewRat(int64(perKVB), 1)}
}

// FeeForVSize calculates the fee resulting from this fee rate and the given
// vsize in vbytes.
func (s SatPerKVByte) FeeForVSize(vbytes VByte) btcutil.Amount {
	fee := new(big.Rat).Mul(
		s.Rat,
		big.NewRat(safeUint64ToInt64(uint64(vbytes)), SatsPerKilo),
	)

	return roundToAmount(fee)
}

// FeeForWeight calculates the fee for the given weight, pricing it as its
// rounded up virtual size.
func (s SatPerKVByte) FeeForWeight(wu WeightUnit) btcutil.Amount {
	return s.FeeForVSize(wu.ToVB())
}

// PerKVByte returns the rate as an amount per 1000 virtual bytes, rounded to
// the nearest satoshi.
func (s SatPerKVByte) PerKVByte() btcutil.Amount {
	return roundToAmount(s.Rat)
}

// String returns a human-readable string of the fee rate.
func (s SatPerKVByte) String() string {
	return s.FloatString(floatStringPrecision) + " sat/kvb"
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerKVByte) Equal(other SatPerKVByte) bool {
	return s.Cmp(other.Rat) == 0
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerKVByte) LessThan(other SatPerKVByte) bool {
	return s.Cmp(other.Rat) < 0
}

// roundToAmount rounds a big.Rat to the nearest btcutil.Amount (int64),
// with halves rounded away from zero. For example, 2.4 rounds to 2, 2.5
// rounds to 3, and -2.5 rounds to -3.
func roundToAmount(r *big.Rat) btcutil.Amount {
	f, _ := r.Float64()

	return btcutil.Amount(math.Round(f))
}

// safeUint64ToInt64 converts a uint64 to an int64, capping at math.MaxInt64.
func safeUint64ToInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(u)
}
