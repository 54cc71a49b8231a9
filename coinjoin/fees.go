// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinjoin

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcjoin/pkg/unit"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

var (
	// InputVSize is the virtual size of a spent P2WPKH input, witness
	// included.
	InputVSize = unit.VByte(txsizes.RedeemP2WPKHInputSize) +
		unit.WeightUnit(txsizes.RedeemP2WPKHInputWitnessWeight).ToVB()

	// OutputVSize is the virtual size of a P2WPKH output.
	OutputVSize = unit.VByte(txsizes.P2WPKHOutputSize)
)

// FeeSchedule is the per-input and per-output fee a round charges its
// participants.
type FeeSchedule struct {
	FeePerInput  btcutil.Amount
	FeePerOutput btcutil.Amount
}

// NewFeeSchedule prices a P2WPKH input and output at the given rate.
func NewFeeSchedule(rate unit.SatPerKVByte) FeeSchedule {
	return FeeSchedule{
		FeePerInput:  rate.FeeForVSize(InputVSize),
		FeePerOutput: rate.FeeForVSize(OutputVSize),
	}
}

// RequiredAmount is the value a participant registering numInputs inputs must
// bring: the denomination plus the fee of its mixed and change outputs and of
// every input.
func (f FeeSchedule) RequiredAmount(denomination btcutil.Amount,
	numInputs int) btcutil.Amount {

	return denomination + 2*f.FeePerOutput +
		btcutil.Amount(numInputs)*f.FeePerInput
}

// Change is what a participant receives back on its change output after the
// denomination and its fees are deducted from its inputs. It is negative if
// the inputs do not cover RequiredAmount.
func (f FeeSchedule) Change(inputSum, denomination btcutil.Amount,
	numInputs int) btcutil.Amount {

	return inputSum - f.RequiredAmount(denomination, numInputs)
}
