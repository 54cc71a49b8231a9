// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package unit provides the size and fee-rate units used when pricing the
// inputs and outputs of a coinjoin transaction.
package unit

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
)

// WeightUnit expresses a transaction size in weight units as defined by
// BIP141.
type WeightUnit uint64

// ToVB converts a weight to virtual bytes, rounding up.
func (wu WeightUnit) ToVB() VByte {
	return VByte((uint64(wu) + blockchain.WitnessScaleFactor - 1) /
		blockchain.WitnessScaleFactor)
}

// String returns the string representation of the weight unit.
func (wu WeightUnit) String() string {
	return fmt.Sprintf("%d wu", uint64(wu))
}

// VByte expresses a transaction size in virtual bytes.
type VByte uint64

// ToWU converts a value expressed in virtual bytes to weight units.
func (vb VByte) ToWU() WeightUnit {
	return WeightUnit(uint64(vb) * blockchain.WitnessScaleFactor)
}

// String returns the string representation of the virtual byte.
func (vb VByte) String() string {
	return fmt.Sprintf("%d vb", uint64(vb))
}
