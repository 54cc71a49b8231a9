// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"errors"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/blindsig"
	"github.com/btcsuite/btcjoin/coinjoin"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// RoundParams are the immutable parameters of a round.
type RoundParams struct {
	ID                 uint64
	Denomination       btcutil.Amount
	Fees               coinjoin.FeeSchedule
	ConfirmationTarget uint32

	AnonymitySet      int
	MinAnonymitySet   int
	MaxInputsPerAlice int

	Timeouts Timeouts

	// Signer blind-signs the outputs of the round's participants.
	Signer *blindsig.Signer

	// Publish broadcasts the fully signed transaction.
	Publish func(*wire.MsgTx) error

	Clock clock.Clock
}

// RoundState is a snapshot of a round.
type RoundState struct {
	ID                  uint64
	Phase               coinjoin.Phase
	Denomination        btcutil.Amount
	Fees                coinjoin.FeeSchedule
	ConfirmationTarget  uint32
	AnonymitySet        int
	MaxInputsPerAlice   int
	RegistrationTimeout time.Duration
	Registered          int
	PhaseStart          time.Time

	// SignerKey is the key unblinded output signatures verify under.
	SignerKey *btcec.PublicKey

	// AbortedIn and AbortReason are set for aborted rounds.
	AbortedIn   coinjoin.Phase
	AbortReason error

	// TxID is set once the round built its transaction.
	TxID fn.Option[chainhash.Hash]
}

// Confirmation is the answer to a connection confirmation.
type Confirmation struct {
	Phase coinjoin.Phase

	// BlindSignature is the signature over the participant's blinded
	// output, available once the participant confirmed.
	BlindSignature []byte

	// Commitment is available from output registration on.
	Commitment fn.Option[chainhash.Hash]
}

// Round is one instance of the coinjoin protocol. Its phase only moves
// forward, and every change is published to its subscribers.
type Round struct {
	params RoundParams

	mu           sync.Mutex
	phase        coinjoin.Phase
	anonymitySet int
	phaseStart   time.Time

	alices    []*Alice
	aliceByID map[uuid.UUID]*Alice
	inputs    map[wire.OutPoint]*Alice
	nonces    map[string]struct{}

	outputs   [][]byte
	outputSet map[string]struct{}

	commitment fn.Option[chainhash.Hash]

	unsignedTx *wire.MsgTx
	packet     string
	prevOuts   *txscript.MultiPrevOutFetcher
	sigHashes  *txscript.TxSigHashes
	signedTx   *wire.MsgTx

	abortedIn   coinjoin.Phase
	abortReason error

	subscribers map[uint64]*Subscription
	nextSubID   uint64
}

// NewRound creates a round in input registration.
func NewRound(params RoundParams) *Round {
	if params.Clock == nil {
		params.Clock = clock.NewDefaultClock()
	}

	return &Round{
		params:       params,
		phase:        coinjoin.PhaseInputRegistration,
		anonymitySet: params.AnonymitySet,
		phaseStart:   params.Clock.Now(),
		aliceByID:    make(map[uuid.UUID]*Alice),
		inputs:       make(map[wire.OutPoint]*Alice),
		nonces:       make(map[string]struct{}),
		outputSet:    make(map[string]struct{}),
		subscribers:  make(map[uint64]*Subscription),
	}
}

// ID returns the round id.
func (r *Round) ID() uint64 {
	return r.params.ID
}

// Params returns the immutable parameters of the round.
func (r *Round) Params() RoundParams {
	return r.params
}

// Phase returns the current phase.
func (r *Round) Phase() coinjoin.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.phase
}

// Status returns a snapshot of the round.
func (r *Round) Status() RoundState {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := RoundState{
		ID:                  r.params.ID,
		Phase:               r.phase,
		Denomination:        r.params.Denomination,
		Fees:                r.params.Fees,
		ConfirmationTarget:  r.params.ConfirmationTarget,
		AnonymitySet:        r.anonymitySet,
		MaxInputsPerAlice:   r.params.MaxInputsPerAlice,
		RegistrationTimeout: r.params.Timeouts.InputRegistration,
		Registered:          len(r.alices),
		PhaseStart:          r.phaseStart,
		SignerKey:           r.params.Signer.PubKey(),
		AbortedIn:           r.abortedIn,
		AbortReason:         r.abortReason,
		TxID:                fn.None[chainhash.Hash](),
	}
	if r.unsignedTx != nil {
		state.TxID = fn.Some(r.unsignedTx.TxHash())
	}

	return state
}

// RequestNonce issues a blind signing nonce for an upcoming registration.
func (r *Round) RequestNonce() (*btcec.PublicKey, error) {
	r.mu.Lock()
	phase := r.phase
	r.mu.Unlock()

	if phase != coinjoin.PhaseInputRegistration {
		return nil, wrongPhase("nonce request", phase)
	}

	nonce, err := r.params.Signer.NewNonce()
	if err != nil {
		return nil, coordError(ErrInvalidBlindSignature,
			"unable to issue nonce", err)
	}

	return nonce, nil
}

// RegisterAlice adds a participant whose inputs were validated by the
// coordinator. The round advances once the anonymity set is reached.
func (r *Round) RegisterAlice(reg *AliceRegistration) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != coinjoin.PhaseInputRegistration {
		return uuid.Nil, wrongPhase("input registration", r.phase)
	}

	n := len(reg.Inputs)
	if n == 0 || n > r.params.MaxInputsPerAlice {
		return uuid.Nil, coordError(ErrTooManyInputs,
			"number of inputs out of range", nil)
	}
	for _, in := range reg.Inputs {
		if _, ok := r.inputs[in.OutPoint]; ok {
			return uuid.Nil, coordError(ErrAlreadyRegistered,
				"input "+in.OutPoint.String()+" is already "+
					"registered", nil)
		}
	}

	if len(reg.BlindedOutput) != blindsig.ScalarSize || reg.Nonce == nil {
		return uuid.Nil, coordError(ErrInvalidBlindSignature,
			"malformed blinded output", nil)
	}
	nonceKey := string(reg.Nonce.SerializeCompressed())
	if _, ok := r.nonces[nonceKey]; ok {
		return uuid.Nil, coordError(ErrAlreadyRegistered,
			"nonce is already used", nil)
	}

	alice := &Alice{
		ID:                uuid.New(),
		AliceRegistration: *reg,
		lastSeen:          r.params.Clock.Now(),
	}

	r.alices = append(r.alices, alice)
	r.aliceByID[alice.ID] = alice
	for _, in := range reg.Inputs {
		r.inputs[in.OutPoint] = alice
	}
	r.nonces[nonceKey] = struct{}{}

	log.Debugf("Round %d: registered alice %v with %d inputs (%d/%d)",
		r.params.ID, alice.ID, n, len(r.alices), r.anonymitySet)

	r.notify(&ParticipantsChanged{
		RoundID: r.params.ID, Count: len(r.alices),
	})

	if len(r.alices) >= r.anonymitySet {
		r.advanceLocked(coinjoin.PhaseConnectionConfirmation)
	}

	return alice.ID, nil
}

// ConfirmConnection handles a participant's connection confirmation.
// During input registration it only refreshes the participant's liveness.
// During connection confirmation it confirms the participant and returns
// the blind signature over its output; the last confirmation moves the
// round to output registration. Confirmed participants can keep calling it
// to learn the round commitment.
func (r *Round) ConfirmConnection(id uuid.UUID) (*Confirmation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase == coinjoin.PhaseAborted {
		return nil, coordError(ErrRoundAborted, "round aborted",
			r.abortReason)
	}

	alice, ok := r.aliceByID[id]
	if !ok {
		return nil, coordError(ErrUnknownParticipant,
			"unknown participant "+id.String(), nil)
	}
	alice.lastSeen = r.params.Clock.Now()

	switch r.phase {
	case coinjoin.PhaseInputRegistration:
		return &Confirmation{Phase: r.phase}, nil

	case coinjoin.PhaseConnectionConfirmation:
		if !alice.confirmed {
			sig, err := r.params.Signer.Sign(
				alice.Nonce, alice.BlindedOutput,
			)
			if err != nil {
				return nil, coordError(
					ErrInvalidBlindSignature,
					"unable to sign blinded output", err,
				)
			}
			alice.blindSignature = sig
			alice.confirmed = true

			if r.allConfirmedLocked() {
				r.advanceLocked(
					coinjoin.PhaseOutputRegistration,
				)
			}
		}

	default:
		if !alice.confirmed {
			return nil, wrongPhase("connection confirmation",
				r.phase)
		}
	}

	return &Confirmation{
		Phase:          r.phase,
		BlindSignature: alice.blindSignature,
		Commitment:     r.commitment,
	}, nil
}

func (r *Round) allConfirmedLocked() bool {
	for _, a := range r.alices {
		if !a.confirmed {
			return false
		}
	}
	return true
}

// RegisterOutput registers an anonymous output carrying an unblinded
// signature by the round key. Once every participant's output is in, the
// joint transaction is built and the round moves to signing.
func (r *Round) RegisterOutput(pkScript, sig []byte,
	commitment chainhash.Hash) error {

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != coinjoin.PhaseOutputRegistration {
		return wrongPhase("output registration", r.phase)
	}

	if !r.commitment.IsSome() ||
		r.commitment.UnwrapOr(chainhash.Hash{}) != commitment {

		return coordError(ErrInvalidCommitment,
			"round commitment mismatch", nil)
	}
	if !coinjoin.IsSupportedScript(pkScript) {
		return coordError(ErrInvalidOutput,
			"output script is not p2wpkh", nil)
	}
	if !blindsig.Verify(r.params.Signer.PubKey(), sig, pkScript) {
		return coordError(ErrInvalidBlindSignature,
			"output signature does not verify", nil)
	}
	if _, ok := r.outputSet[string(pkScript)]; ok {
		return coordError(ErrAlreadyRegistered,
			"output is already registered", nil)
	}
	if len(r.outputs) >= len(r.alices) {
		return coordError(ErrInvalidOutput,
			"all outputs are registered", nil)
	}

	r.outputs = append(r.outputs, pkScript)
	r.outputSet[string(pkScript)] = struct{}{}

	log.Debugf("Round %d: registered output %d/%d", r.params.ID,
		len(r.outputs), len(r.alices))

	if len(r.outputs) == len(r.alices) {
		r.startSigningLocked()
	}

	return nil
}

// UnsignedTransaction returns the joint transaction as a base64 PSBT.
func (r *Round) UnsignedTransaction(id uuid.UUID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.aliceByID[id]; !ok {
		return "", coordError(ErrUnknownParticipant,
			"unknown participant "+id.String(), nil)
	}
	if r.phase == coinjoin.PhaseAborted {
		return "", coordError(ErrRoundAborted, "round aborted",
			r.abortReason)
	}
	if r.unsignedTx == nil {
		return "", wrongPhase("transaction request", r.phase)
	}

	return r.packet, nil
}

// SubmitSignatures records the witnesses of a participant's inputs, keyed
// by input index. A witness that fails script verification aborts the
// round. Once every input is signed the transaction is published.
func (r *Round) SubmitSignatures(id uuid.UUID,
	witnesses map[int]wire.TxWitness) error {

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != coinjoin.PhaseSigning {
		return wrongPhase("signature submission", r.phase)
	}

	alice, ok := r.aliceByID[id]
	if !ok {
		return coordError(ErrUnknownParticipant,
			"unknown participant "+id.String(), nil)
	}
	if alice.signed {
		return coordError(ErrAlreadyRegistered,
			"signatures already submitted", nil)
	}
	if len(witnesses) != len(alice.Inputs) {
		return coordError(ErrInvalidWitness, "expected a witness for "+
			"each input of the participant", nil)
	}

	for idx := range witnesses {
		if idx < 0 || idx >= len(r.signedTx.TxIn) {
			return coordError(ErrInvalidWitness,
				"input index out of range", nil)
		}
		op := r.signedTx.TxIn[idx].PreviousOutPoint
		if r.inputs[op] != alice {
			return coordError(ErrInvalidWitness,
				"input "+op.String()+" does not belong to the "+
					"participant", nil)
		}
	}

	for idx, witness := range witnesses {
		r.signedTx.TxIn[idx].Witness = witness

		if err := r.verifyInputLocked(idx); err != nil {
			for i := range witnesses {
				r.signedTx.TxIn[i].Witness = nil
			}

			err = coordError(ErrInvalidWitness,
				"invalid witness for input "+
					r.signedTx.TxIn[idx].PreviousOutPoint.String(),
				err)
			r.abortLocked(err)

			return err
		}
	}
	alice.signed = true

	for _, a := range r.alices {
		if !a.signed {
			return nil
		}
	}

	r.publishLocked()

	return nil
}

func (r *Round) publishLocked() {
	tx := r.signedTx

	if err := r.params.Publish(tx); err != nil {
		r.abortLocked(coordError(ErrBackend,
			"unable to publish transaction", err))
		return
	}

	log.Infof("Round %d: published coinjoin %v with %d inputs and "+
		"%d outputs", r.params.ID, tx.TxHash(), len(tx.TxIn),
		len(tx.TxOut))

	r.advanceLocked(coinjoin.PhaseSucceeded)
}

// SignedTransaction returns the published transaction of a succeeded
// round.
func (r *Round) SignedTransaction() fn.Option[*wire.MsgTx] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != coinjoin.PhaseSucceeded {
		return fn.None[*wire.MsgTx]()
	}
	return fn.Some(r.signedTx.Copy())
}

// RemoveAlice drops a participant that disconnected during input
// registration and returns its released inputs.
func (r *Round) RemoveAlice(id uuid.UUID) ([]wire.OutPoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != coinjoin.PhaseInputRegistration {
		return nil, wrongPhase("disconnection", r.phase)
	}

	alice, ok := r.aliceByID[id]
	if !ok {
		return nil, coordError(ErrUnknownParticipant,
			"unknown participant "+id.String(), nil)
	}

	return r.dropLocked([]*Alice{alice}, false), nil
}

// DropInputs removes the participants spending any of ops during input
// registration. It returns the released inputs.
func (r *Round) DropInputs(ops []wire.OutPoint) []wire.OutPoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != coinjoin.PhaseInputRegistration {
		return nil
	}

	var drop []*Alice
	seen := make(map[*Alice]struct{})
	for _, op := range ops {
		alice, ok := r.inputs[op]
		if !ok {
			continue
		}
		if _, ok := seen[alice]; ok {
			continue
		}
		seen[alice] = struct{}{}
		drop = append(drop, alice)
	}
	if len(drop) == 0 {
		return nil
	}

	return r.dropLocked(drop, false)
}

// dropLocked removes participants, preserving the registration order of
// the rest, and publishes the released inputs.
func (r *Round) dropLocked(drop []*Alice, noted bool) []wire.OutPoint {
	dropped := make(map[*Alice]struct{}, len(drop))
	var released []wire.OutPoint
	for _, a := range drop {
		dropped[a] = struct{}{}
		delete(r.aliceByID, a.ID)
		for _, op := range a.OutPoints() {
			delete(r.inputs, op)
			released = append(released, op)
		}
	}

	kept := r.alices[:0]
	for _, a := range r.alices {
		if _, ok := dropped[a]; !ok {
			kept = append(kept, a)
		}
	}
	r.alices = kept

	log.Debugf("Round %d: dropped %d alices, %d remain", r.params.ID,
		len(drop), len(r.alices))

	r.notify(&AlicesDropped{
		RoundID: r.params.ID, Inputs: released, Noted: noted,
	})
	r.notify(&ParticipantsChanged{
		RoundID: r.params.ID, Count: len(r.alices),
	})

	return released
}

// HasInput reports whether op is registered in the round.
func (r *Round) HasInput(op wire.OutPoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.inputs[op]
	return ok
}

// Inputs returns every registered input.
func (r *Round) Inputs() []wire.OutPoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	ops := make([]wire.OutPoint, 0, len(r.inputs))
	for _, a := range r.alices {
		ops = append(ops, a.OutPoints()...)
	}
	return ops
}

// NonSigners returns the inputs of participants that did not submit valid
// signatures, and the number of participants that did.
func (r *Round) NonSigners() ([]wire.OutPoint, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		ops     []wire.OutPoint
		signers int
	)
	for _, a := range r.alices {
		if a.signed {
			signers++
			continue
		}
		ops = append(ops, a.OutPoints()...)
	}

	return ops, signers
}

// Abort terminates the round. Only the first reason is kept, and aborting
// a terminated round has no effect.
func (r *Round) Abort(reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.abortLocked(reason)
}

func (r *Round) abortLocked(reason error) {
	if r.phase.IsTerminal() {
		return
	}

	r.abortedIn = r.phase
	r.abortReason = reason
	if reason == nil {
		r.abortReason = coordError(ErrRoundAborted, "round aborted",
			nil)
	}

	log.Infof("Round %d: aborted in %v: %v", r.params.ID, r.phase,
		r.abortReason)

	r.advanceLocked(coinjoin.PhaseAborted)
}

// UpdateAnonymitySet changes the number of participants a round in input
// registration waits for, advancing it if the new target is already met.
func (r *Round) UpdateAnonymitySet(n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != coinjoin.PhaseInputRegistration {
		return wrongPhase("anonymity set update", r.phase)
	}
	if n < 1 {
		return errors.New("anonymity set must be positive")
	}

	log.Infof("Round %d: anonymity set %d -> %d", r.params.ID,
		r.anonymitySet, n)

	r.anonymitySet = n
	if len(r.alices) >= n {
		r.advanceLocked(coinjoin.PhaseConnectionConfirmation)
	}

	return nil
}

// CheckTimeout applies the phase window of the round at now.
func (r *Round) CheckTimeout(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase.IsTerminal() {
		return
	}

	t := r.params.Timeouts
	if r.phase == coinjoin.PhaseInputRegistration {
		var stale []*Alice
		for _, a := range r.alices {
			if now.Sub(a.lastSeen) >= t.AliceLiveness {
				stale = append(stale, a)
			}
		}
		if len(stale) > 0 {
			r.dropLocked(stale, false)
		}
	}

	if now.Sub(r.phaseStart) < t.forPhase(r.phase) {
		return
	}

	switch r.phase {
	case coinjoin.PhaseInputRegistration:
		if len(r.alices) >= r.params.MinAnonymitySet {
			r.anonymitySet = len(r.alices)
			r.advanceLocked(coinjoin.PhaseConnectionConfirmation)
			return
		}

		log.Debugf("Round %d: %d/%d alices at registration "+
			"timeout, restarting window", r.params.ID,
			len(r.alices), r.params.MinAnonymitySet)
		r.phaseStart = now

	case coinjoin.PhaseConnectionConfirmation:
		var unconfirmed []*Alice
		for _, a := range r.alices {
			if !a.confirmed {
				unconfirmed = append(unconfirmed, a)
			}
		}
		if len(unconfirmed) > 0 {
			r.dropLocked(unconfirmed, true)
		}

		if len(r.alices) < r.params.MinAnonymitySet {
			r.abortLocked(coordError(ErrTimeout,
				"not enough confirmed participants", nil))
			return
		}
		r.anonymitySet = len(r.alices)
		r.advanceLocked(coinjoin.PhaseOutputRegistration)

	case coinjoin.PhaseOutputRegistration:
		if len(r.outputs) == 0 {
			r.abortLocked(coordError(ErrTimeout,
				"no outputs registered", nil))
			return
		}

		log.Infof("Round %d: output registration timed out with "+
			"%d/%d outputs", r.params.ID, len(r.outputs),
			len(r.alices))
		r.startSigningLocked()

	case coinjoin.PhaseSigning:
		r.abortLocked(coordError(ErrTimeout,
			"not every participant signed", nil))
	}
}

// startSigningLocked builds the joint transaction and moves to signing.
func (r *Round) startSigningLocked() {
	if err := r.buildTransactionLocked(); err != nil {
		r.abortLocked(err)
		return
	}
	r.advanceLocked(coinjoin.PhaseSigning)
}

// advanceLocked moves the round forward to phase.
func (r *Round) advanceLocked(phase coinjoin.Phase) {
	from := r.phase
	if phase <= from || from.IsTerminal() {
		log.Errorf("Round %d: refusing phase change %v -> %v",
			r.params.ID, from, phase)
		return
	}

	if phase == coinjoin.PhaseOutputRegistration {
		var ops []wire.OutPoint
		for _, a := range r.alices {
			ops = append(ops, a.OutPoints()...)
		}
		r.commitment = fn.Some(
			coinjoin.CommitmentHash(r.params.ID, ops),
		)
	}

	r.phase = phase
	r.phaseStart = r.params.Clock.Now()

	log.Infof("Round %d: %v -> %v", r.params.ID, from, phase)

	r.notify(&PhaseChanged{RoundID: r.params.ID, From: from, To: phase})
}
