// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/pkg/unit"
)

// RPCConfig holds the connection settings of a bitcoind JSON-RPC endpoint.
type RPCConfig struct {
	Host       string
	User       string
	Pass       string
	DisableTLS bool
	Cert       []byte
}

// RPCBackend implements Backend over the JSON-RPC interface of bitcoind.
type RPCBackend struct {
	client *rpcclient.Client
}

// A compile-time assertion to ensure RPCBackend meets the Backend interface.
var _ Backend = (*RPCBackend)(nil)

// NewRPCBackend connects to the node in HTTP POST mode.
func NewRPCBackend(cfg *RPCConfig) (*RPCBackend, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:                 cfg.Host,
		User:                 cfg.User,
		Pass:                 cfg.Pass,
		Certificates:         cfg.Cert,
		DisableTLS:           cfg.DisableTLS,
		HTTPPostMode:         true,
		DisableAutoReconnect: false,
	}, nil)
	if err != nil {
		return nil, err
	}

	return &RPCBackend{client: client}, nil
}

// Stop shuts the client down.
func (b *RPCBackend) Stop() {
	b.client.Shutdown()
	b.client.WaitForShutdown()
}

// GetTxOut implements Backend.
func (b *RPCBackend) GetTxOut(op wire.OutPoint) (*UtxoInfo, error) {
	res, err := b.client.GetTxOut(&op.Hash, op.Index, true)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	pkScript, err := hex.DecodeString(res.ScriptPubKey.Hex)
	if err != nil {
		return nil, fmt.Errorf("decode script of %v: %w", op, err)
	}
	value, err := btcutil.NewAmount(res.Value)
	if err != nil {
		return nil, fmt.Errorf("value of %v: %w", op, err)
	}

	return &UtxoInfo{
		TxOut:         wire.NewTxOut(int64(value), pkScript),
		Confirmations: res.Confirmations,
		Coinbase:      res.Coinbase,
	}, nil
}

// RawMempool implements Backend.
func (b *RPCBackend) RawMempool() ([]chainhash.Hash, error) {
	hashes, err := b.client.GetRawMempool()
	if err != nil {
		return nil, err
	}

	txids := make([]chainhash.Hash, 0, len(hashes))
	for _, h := range hashes {
		txids = append(txids, *h)
	}
	return txids, nil
}

// GetRawTransaction implements Backend.
func (b *RPCBackend) GetRawTransaction(
	hash chainhash.Hash) (*wire.MsgTx, error) {

	tx, err := b.client.GetRawTransaction(&hash)
	if err != nil {
		return nil, err
	}
	return tx.MsgTx(), nil
}

// EstimateFeeRate implements Backend using conservative smart fee
// estimation.
func (b *RPCBackend) EstimateFeeRate(
	confTarget uint32) (unit.SatPerKVByte, error) {

	mode := btcjson.EstimateModeConservative
	res, err := b.client.EstimateSmartFee(int64(confTarget), &mode)
	if err != nil {
		return unit.SatPerKVByte{}, err
	}
	if res.FeeRate == nil || *res.FeeRate <= 0 {
		return unit.SatPerKVByte{}, fmt.Errorf("%w: %v",
			ErrNoFeeEstimate, res.Errors)
	}

	perKVB, err := btcutil.NewAmount(*res.FeeRate)
	if err != nil {
		return unit.SatPerKVByte{}, err
	}

	return unit.SatPerKVByteFromAmount(perKVB), nil
}

// PublishTransaction implements Backend.
func (b *RPCBackend) PublishTransaction(tx *wire.MsgTx) error {
	_, err := b.client.SendRawTransaction(tx, false)
	return err
}
