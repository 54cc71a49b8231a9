// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
)

// Input is a registered input together with the output it spends.
type Input struct {
	OutPoint wire.OutPoint
	TxOut    *wire.TxOut
}

// AliceRegistration is a validated input registration.
type AliceRegistration struct {
	Inputs        []Input
	ChangeScript  []byte
	BlindedOutput []byte
	Nonce         *btcec.PublicKey
}

// Alice is one participant of a round.
type Alice struct {
	ID uuid.UUID
	AliceRegistration

	lastSeen       time.Time
	confirmed      bool
	blindSignature []byte
	signed         bool
}

// InputSum returns the value of the participant's inputs.
func (a *Alice) InputSum() btcutil.Amount {
	var sum btcutil.Amount
	for _, in := range a.Inputs {
		sum += btcutil.Amount(in.TxOut.Value)
	}
	return sum
}

// OutPoints returns the outpoints of the participant's inputs.
func (a *Alice) OutPoints() []wire.OutPoint {
	ops := make([]wire.OutPoint, len(a.Inputs))
	for i, in := range a.Inputs {
		ops[i] = in.OutPoint
	}
	return ops
}
