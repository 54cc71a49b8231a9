// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain connects the coordinator to a bitcoin full node: it looks up
// unspent outputs, estimates fees, publishes coinjoin transactions and keeps
// a local view of the node's mempool.
package chain

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/pkg/unit"
)

// ErrNoFeeEstimate is returned when the node has no estimate for the
// requested confirmation target.
var ErrNoFeeEstimate = errors.New("no fee estimate available")

// UtxoInfo describes an unspent output as reported by the node.
type UtxoInfo struct {
	TxOut *wire.TxOut

	// Confirmations is zero for outputs of mempool transactions.
	Confirmations int64

	Coinbase bool
}

// Backend is the subset of full node functionality the coordinator needs.
type Backend interface {
	// GetTxOut returns the unspent output op, including outputs of
	// mempool transactions. A nil result without error means the output
	// is spent or never existed.
	GetTxOut(op wire.OutPoint) (*UtxoInfo, error)

	// RawMempool returns the txids of all mempool transactions.
	RawMempool() ([]chainhash.Hash, error)

	// GetRawTransaction returns a transaction from the mempool or the
	// transaction index.
	GetRawTransaction(hash chainhash.Hash) (*wire.MsgTx, error)

	// EstimateFeeRate returns a fee rate expected to confirm within
	// confTarget blocks.
	EstimateFeeRate(confTarget uint32) (unit.SatPerKVByte, error)

	// PublishTransaction broadcasts tx.
	PublishTransaction(tx *wire.MsgTx) error
}
