// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package joinrpc

import (
	"github.com/btcsuite/btcjoin/coinjoin"
)

// RoundStatus describes one round to clients.
type RoundStatus struct {
	RoundID                    uint64         `json:"round_id"`
	Phase                      coinjoin.Phase `json:"phase"`
	Denomination               int64          `json:"denomination"`
	FeePerInput                int64          `json:"fee_per_input"`
	FeePerOutput               int64          `json:"fee_per_output"`
	MaximumInputsPerAlice      int            `json:"maximum_inputs_per_alice"`
	RegistrationTimeoutSeconds int64          `json:"registration_timeout_seconds"`
	SuccessfulRoundCount       uint64         `json:"successful_round_count"`

	AnonymitySet       int    `json:"anonymity_set"`
	RegisteredAlices   int    `json:"registered_alices"`
	ConfirmationTarget uint32 `json:"confirmation_target"`

	// SignerKey is the compressed key blind signatures of the round
	// verify under.
	SignerKey []byte `json:"signer_key"`

	AbortedIn   string `json:"aborted_in,omitempty"`
	AbortReason string `json:"abort_reason,omitempty"`
	TimedOut    bool   `json:"timed_out,omitempty"`
	TxID        string `json:"txid,omitempty"`
}

type StatusRequest struct{}

type StatusResponse struct {
	Rounds []*RoundStatus `json:"rounds"`
}

type RoundStatusRequest struct {
	RoundID uint64 `json:"round_id"`
}

type NonceRequest struct {
	RoundID uint64 `json:"round_id"`
}

type NonceResponse struct {
	Nonce []byte `json:"nonce"`
}

// InputProof pledges one output. OutPoint is in txid:index form.
type InputProof struct {
	OutPoint       string `json:"outpoint"`
	OwnershipProof []byte `json:"ownership_proof"`
}

type InputRegistrationRequest struct {
	RoundID             uint64        `json:"round_id"`
	BlindedOutput       []byte        `json:"blinded_output"`
	Nonce               []byte        `json:"nonce"`
	ChangeOutputAddress string        `json:"change_output_address"`
	Inputs              []*InputProof `json:"inputs"`
}

type InputRegistrationResponse struct {
	UniqueID string `json:"unique_id"`
}

type ConnectionConfirmationRequest struct {
	RoundID  uint64 `json:"round_id"`
	UniqueID string `json:"unique_id"`
}

type ConnectionConfirmationResponse struct {
	Phase coinjoin.Phase `json:"phase"`

	// BlindSignature is sent once the connection is confirmed in the
	// connection confirmation phase.
	BlindSignature []byte `json:"blind_signature,omitempty"`

	// RoundCommitmentHash is sent from output registration on.
	RoundCommitmentHash string `json:"round_commitment_hash,omitempty"`
}

type OutputRegistrationRequest struct {
	RoundID             uint64 `json:"round_id"`
	OutputAddress       string `json:"output_address"`
	UnblindedSignature  []byte `json:"unblinded_signature"`
	RoundCommitmentHash string `json:"round_commitment_hash"`
}

type OutputRegistrationResponse struct{}

type UnsignedTransactionRequest struct {
	RoundID  uint64 `json:"round_id"`
	UniqueID string `json:"unique_id"`
}

type UnsignedTransactionResponse struct {
	// Psbt is the base64 encoded joint transaction with the previous
	// outputs of every input.
	Psbt string `json:"psbt"`
}

// InputWitness is the witness of one input of the joint transaction.
type InputWitness struct {
	InputIndex int      `json:"input_index"`
	Witness    [][]byte `json:"witness"`
}

type SignatureSubmissionRequest struct {
	RoundID   uint64          `json:"round_id"`
	UniqueID  string          `json:"unique_id"`
	Witnesses []*InputWitness `json:"witnesses"`
}

type SignatureSubmissionResponse struct{}

type DisconnectionRequest struct {
	RoundID  uint64 `json:"round_id"`
	UniqueID string `json:"unique_id"`
}

type DisconnectionResponse struct{}
