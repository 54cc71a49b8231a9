// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/btcutil/txsort"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txrules"
)

// buildTransactionLocked assembles the joint transaction: every registered
// input, one denomination output per registered output and a change output
// per participant unless the change is dust.
func (r *Round) buildTransactionLocked() error {
	tx := wire.NewMsgTx(wire.TxVersion)
	prevOuts := txscript.NewMultiPrevOutFetcher(nil)

	var inputSum btcutil.Amount
	for _, a := range r.alices {
		for _, in := range a.Inputs {
			op := in.OutPoint
			tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
			prevOuts.AddPrevOut(op, in.TxOut)
		}
		inputSum += a.InputSum()
	}

	for _, script := range r.outputs {
		tx.AddTxOut(wire.NewTxOut(int64(r.params.Denomination), script))
	}

	for _, a := range r.alices {
		change := r.params.Fees.Change(
			a.InputSum(), r.params.Denomination, len(a.Inputs),
		)
		if change < 0 {
			return coordError(ErrInsufficientFunds,
				fmt.Sprintf("alice %v does not cover its "+
					"fees", a.ID), nil)
		}

		out := wire.NewTxOut(int64(change), a.ChangeScript)
		if change == 0 ||
			txrules.IsDustOutput(out, txrules.DefaultRelayFeePerKb) {

			continue
		}
		tx.AddTxOut(out)
	}

	outputSum := txauthor.SumOutputValues(tx.TxOut)
	if outputSum > inputSum {
		return coordError(ErrInsufficientFunds, fmt.Sprintf("outputs "+
			"%v exceed inputs %v", outputSum, inputSum), nil)
	}

	txsort.InPlaceSort(tx)

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return coordError(ErrBackend, "unable to create psbt", err)
	}
	for i, txIn := range tx.TxIn {
		prevOut := prevOuts.FetchPrevOutput(txIn.PreviousOutPoint)
		packet.Inputs[i].WitnessUtxo = prevOut
	}
	encoded, err := packet.B64Encode()
	if err != nil {
		return coordError(ErrBackend, "unable to encode psbt", err)
	}

	r.unsignedTx = tx
	r.signedTx = tx.Copy()
	r.packet = encoded
	r.prevOuts = prevOuts
	r.sigHashes = txscript.NewTxSigHashes(tx, prevOuts)

	log.Debugf("Round %d: built transaction %v (inputs %v, outputs %v, "+
		"fee %v)", r.params.ID, tx.TxHash(), inputSum, outputSum,
		inputSum-outputSum)

	return nil
}

// verifyInputLocked runs the script engine on input idx of the signed
// transaction.
func (r *Round) verifyInputLocked(idx int) error {
	txIn := r.signedTx.TxIn[idx]
	prevOut := r.prevOuts.FetchPrevOutput(txIn.PreviousOutPoint)
	if prevOut == nil {
		return fmt.Errorf("unknown prevout %v", txIn.PreviousOutPoint)
	}

	vm, err := txscript.NewEngine(
		prevOut.PkScript, r.signedTx, idx,
		txscript.StandardVerifyFlags, nil, r.sigHashes,
		prevOut.Value, r.prevOuts,
	)
	if err != nil {
		return err
	}

	return vm.Execute()
}
