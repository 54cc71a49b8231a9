// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/blindsig"
	"github.com/btcsuite/btcjoin/chain"
	"github.com/btcsuite/btcjoin/coinjoin"
	"github.com/btcsuite/btcjoin/rpc/joinrpc"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/lightningnetwork/lnd/fn/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	// DefaultPollInterval is the mean time between two status polls.
	DefaultPollInterval = 5 * time.Second

	// DefaultPollJitter randomizes the poll interval by +/-50%.
	DefaultPollJitter = 0.5

	// DefaultMaxRetries is how often a call failing with a transient
	// error is retried.
	DefaultMaxRetries = 3

	// DefaultRetryBackoff is the delay before the first retry. It
	// doubles with every further retry.
	DefaultRetryBackoff = time.Second

	// disconnectTimeout bounds the graceful disconnection of a cancelled
	// session.
	disconnectTimeout = 10 * time.Second
)

// SessionConfig configures a Session.
type SessionConfig struct {
	Client joinrpc.CoordinatorClient
	Pool   *CoinPool

	// Keys provides the private keys of the pool's coins.
	Keys txscript.KeyDB

	ChainParams *chaincfg.Params

	// OutputAddress receives the mixed output. ChangeAddress receives
	// the change. Both must be p2wpkh.
	OutputAddress btcutil.Address
	ChangeAddress btcutil.Address

	PollInterval time.Duration
	PollJitter   float64

	MaxRetries   int
	RetryBackoff time.Duration

	// CombinationBudget is passed to the coin selector.
	CombinationBudget int
}

// Registration is a snapshot of a session's participation in a round. A
// snapshot is never modified; the session replaces it as it advances.
type Registration struct {
	RoundID  uint64
	UniqueID string
	Phase    coinjoin.Phase

	Coins        []*Coin
	Denomination btcutil.Amount
	Fees         coinjoin.FeeSchedule

	// Signature is the unblinded signature over the output script.
	Signature []byte

	Commitment fn.Option[chainhash.Hash]

	OutputRegistered bool
	Signed           bool

	TxID fn.Option[chainhash.Hash]

	signerKey *btcec.PublicKey
	factor    *blindsig.BlindingFactor
}

// advance returns a copy of r changed by update.
func (r *Registration) advance(update func(*Registration)) *Registration {
	next := *r
	update(&next)
	return &next
}

// Session drives one registration of coins through a coinjoin round.
type Session struct {
	cfg SessionConfig

	outScript    []byte
	changeScript []byte

	state atomic.Pointer[Registration]
}

// NewSession validates cfg and creates a session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Client == nil || cfg.Pool == nil || cfg.Keys == nil {
		return nil, errors.New("client, pool and key source are " +
			"required")
	}
	if cfg.ChainParams == nil {
		cfg.ChainParams = &chaincfg.MainNetParams
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollJitter <= 0 {
		cfg.PollJitter = DefaultPollJitter
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}

	outScript, err := p2wpkhScript(cfg.OutputAddress, cfg.ChainParams)
	if err != nil {
		return nil, fmt.Errorf("output address: %w", err)
	}
	changeScript, err := p2wpkhScript(cfg.ChangeAddress, cfg.ChainParams)
	if err != nil {
		return nil, fmt.Errorf("change address: %w", err)
	}

	return &Session{
		cfg:          cfg,
		outScript:    outScript,
		changeScript: changeScript,
	}, nil
}

func p2wpkhScript(addr btcutil.Address, params *chaincfg.Params) ([]byte,
	error) {

	if addr == nil {
		return nil, errors.New("missing address")
	}
	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("%v is not a %s address", addr,
			params.Name)
	}

	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}
	if !coinjoin.IsSupportedScript(script) {
		return nil, coinjoin.ErrUnsupportedScript
	}

	return script, nil
}

// Snapshot returns the latest registration snapshot, or nil before the
// session registered.
func (s *Session) Snapshot() *Registration {
	return s.state.Load()
}

// Run registers coins of the pool in the oldest open round and takes part
// in the round until it terminates. It returns the txid of the broadcast
// coinjoin, or a SessionError. When ctx is cancelled while the round still
// accepts registrations, the session withdraws from the round first.
func (s *Session) Run(ctx context.Context) (chainhash.Hash, error) {
	round, err := s.openRound(ctx)
	if err != nil {
		return chainhash.Hash{}, err
	}

	reg, err := s.register(ctx, round)
	if err != nil {
		return chainhash.Hash{}, err
	}
	s.state.Store(reg)

	log.Infof("Registered %d coins in round %d", len(reg.Coins),
		reg.RoundID)

	ticker, err := chain.NewJitterTicker(
		s.cfg.PollInterval, s.cfg.PollJitter,
	)
	if err != nil {
		return chainhash.Hash{}, err
	}
	defer ticker.Stop()

	for {
		next, err := s.step(ctx, reg)
		if next != nil {
			reg = next
			s.state.Store(reg)
		}

		switch {
		case ctx.Err() != nil:
			return chainhash.Hash{}, s.abandon(reg, ctx.Err())

		case err != nil:
			return chainhash.Hash{}, s.fail(reg, err)
		}

		if txid, ok := s.finished(reg); ok {
			return txid, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return chainhash.Hash{}, s.abandon(reg, ctx.Err())
		}
	}
}

// finished reports whether the round of reg succeeded.
func (s *Session) finished(reg *Registration) (chainhash.Hash, bool) {
	if reg.Phase != coinjoin.PhaseSucceeded {
		return chainhash.Hash{}, false
	}

	s.cfg.Pool.OnRoundTerminated(reg.RoundID, RoundOutcome{Succeeded: true})

	txid := reg.TxID.UnwrapOr(chainhash.Hash{})
	log.Infof("Round %d succeeded: %v", reg.RoundID, txid)

	return txid, true
}

// fail releases the coins of a failed registration.
func (s *Session) fail(reg *Registration, err error) error {
	var sessionErr SessionError
	if !errors.As(err, &sessionErr) {
		sessionErr = classify(reg.RoundID, "round failed", err)
	}

	failedIn := reg.Phase
	if sessionErr.Reason == ReasonVerification {
		// The round cannot complete without our signatures.
		failedIn = coinjoin.PhaseSigning
	}
	s.cfg.Pool.OnRoundTerminated(
		reg.RoundID, RoundOutcome{FailedIn: failedIn},
	)

	log.Warnf("Leaving round %d: %v", reg.RoundID, sessionErr)

	return sessionErr
}

// abandon handles a cancelled session. Participants can only withdraw
// while the round accepts registrations; later the round goes on without
// the session and its coins are only released locally.
func (s *Session) abandon(reg *Registration, cause error) error {
	if reg.Phase == coinjoin.PhaseInputRegistration {
		ctx, cancel := context.WithTimeout(
			context.Background(), disconnectTimeout,
		)
		defer cancel()

		_, err := s.cfg.Client.Disconnect(ctx, &joinrpc.DisconnectionRequest{
			RoundID:  reg.RoundID,
			UniqueID: reg.UniqueID,
		})
		if err != nil {
			log.Warnf("Unable to disconnect from round %d: %v",
				reg.RoundID, err)
		}
	}

	s.cfg.Pool.OnRoundTerminated(
		reg.RoundID, RoundOutcome{FailedIn: reg.Phase},
	)

	return SessionError{
		Reason:      ReasonDisconnected,
		RoundID:     reg.RoundID,
		Description: "session cancelled in " + reg.Phase.String(),
		Err:         cause,
	}
}

// call runs a coordinator request, retrying transient failures with an
// exponential backoff.
func (s *Session) call(ctx context.Context, desc string,
	req func(context.Context) error) error {

	backoff := s.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := req(ctx)
		if err == nil || !isTransient(err) || attempt >= s.cfg.MaxRetries {
			return err
		}

		log.Debugf("%s failed (attempt %d), retrying in %v: %v", desc,
			attempt+1, backoff, err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
}

// openRound returns the oldest round accepting registrations.
func (s *Session) openRound(ctx context.Context) (*joinrpc.RoundStatus,
	error) {

	var resp *joinrpc.StatusResponse
	err := s.call(ctx, "status", func(ctx context.Context) error {
		var err error
		resp, err = s.cfg.Client.Status(ctx, &joinrpc.StatusRequest{})
		return err
	})
	if err != nil {
		return nil, classify(0, "status", err)
	}

	var open *joinrpc.RoundStatus
	for _, r := range resp.Rounds {
		if r.Phase != coinjoin.PhaseInputRegistration {
			continue
		}
		if open == nil || r.RoundID < open.RoundID {
			open = r
		}
	}
	if open == nil {
		return nil, ErrNoOpenRound
	}

	return open, nil
}

// register selects coins for round and registers them.
func (s *Session) register(ctx context.Context,
	round *joinrpc.RoundStatus) (*Registration, error) {

	fees := coinjoin.FeeSchedule{
		FeePerInput:  btcutil.Amount(round.FeePerInput),
		FeePerOutput: btcutil.Amount(round.FeePerOutput),
	}
	denomination := btcutil.Amount(round.Denomination)

	coins := s.cfg.Pool.SelectRegistrable(SelectionParams{
		Denomination:      denomination,
		Fees:              fees,
		MaxInputs:         round.MaximumInputsPerAlice,
		CombinationBudget: s.cfg.CombinationBudget,
	})
	if len(coins) == 0 {
		return nil, ErrNoEligibleCoins
	}
	if err := s.cfg.Pool.Register(round.RoundID, coins); err != nil {
		return nil, err
	}

	reg := &Registration{
		RoundID:      round.RoundID,
		Phase:        coinjoin.PhaseInputRegistration,
		Coins:        coins,
		Denomination: denomination,
		Fees:         fees,
		Commitment:   fn.None[chainhash.Hash](),
		TxID:         fn.None[chainhash.Hash](),
	}

	reg, err := s.registerInputs(ctx, round, reg)
	if err != nil {
		s.cfg.Pool.OnRoundTerminated(round.RoundID, RoundOutcome{
			FailedIn: coinjoin.PhaseInputRegistration,
		})
		return nil, err
	}

	return reg, nil
}

func (s *Session) registerInputs(ctx context.Context,
	round *joinrpc.RoundStatus, reg *Registration) (*Registration, error) {

	signerKey, err := btcec.ParsePubKey(round.SignerKey)
	if err != nil {
		return nil, SessionError{
			Reason: ReasonVerification, RoundID: reg.RoundID,
			Description: "invalid signer key", Err: err,
		}
	}

	var nonceResp *joinrpc.NonceResponse
	err = s.call(ctx, "nonce", func(ctx context.Context) error {
		nonceResp, err = s.cfg.Client.Nonce(ctx, &joinrpc.NonceRequest{
			RoundID: reg.RoundID,
		})
		return err
	})
	if err != nil {
		return nil, classify(reg.RoundID, "nonce", err)
	}
	nonce, err := btcec.ParsePubKey(nonceResp.Nonce)
	if err != nil {
		return nil, SessionError{
			Reason: ReasonVerification, RoundID: reg.RoundID,
			Description: "invalid nonce", Err: err,
		}
	}

	blinded, factor, err := blindsig.Blind(signerKey, nonce, s.outScript)
	if err != nil {
		return nil, err
	}

	changeAddr, err := s.address(s.changeScript)
	if err != nil {
		return nil, err
	}
	req := &joinrpc.InputRegistrationRequest{
		RoundID:             reg.RoundID,
		BlindedOutput:       blinded,
		Nonce:               nonceResp.Nonce,
		ChangeOutputAddress: changeAddr.EncodeAddress(),
	}
	for _, c := range reg.Coins {
		key, err := s.key(c.PkScript)
		if err != nil {
			return nil, err
		}

		op := c.OutPoint
		digest := coinjoin.OwnershipDigest(reg.RoundID, blinded, &op)
		req.Inputs = append(req.Inputs, &joinrpc.InputProof{
			OutPoint:       op.String(),
			OwnershipProof: coinjoin.SignOwnershipProof(key, digest),
		})
	}

	var (
		resp    *joinrpc.InputRegistrationResponse
		trailer metadata.MD
	)
	err = s.call(ctx, "input registration", func(ctx context.Context) error {
		resp, err = s.cfg.Client.RegisterInput(
			ctx, req, grpc.Trailer(&trailer),
		)
		return err
	})
	if err != nil {
		if status.Code(err) == codes.PermissionDenied {
			s.recordBans(trailer)
		}
		return nil, classify(reg.RoundID, "input registration", err)
	}

	return reg.advance(func(r *Registration) {
		r.UniqueID = resp.UniqueID
		r.signerKey = signerKey
		r.factor = factor
	}), nil
}

// recordBans excludes the coins the coordinator reported as banned.
func (s *Session) recordBans(trailer metadata.MD) {
	banned, err := joinrpc.ParseBannedInputs(trailer)
	if err != nil {
		log.Warnf("Unable to parse banned inputs: %v", err)
		return
	}

	for _, b := range banned {
		log.Infof("Coin %v is banned until %v", b.OutPoint,
			b.BannedUntil)
		s.cfg.Pool.Ban(b.OutPoint, b.BannedUntil)
	}
}

func (s *Session) address(pkScript []byte) (btcutil.Address, error) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(
		pkScript, s.cfg.ChainParams,
	)
	if err != nil {
		return nil, err
	}
	if len(addrs) != 1 {
		return nil, coinjoin.ErrUnsupportedScript
	}
	return addrs[0], nil
}

func (s *Session) key(pkScript []byte) (*btcec.PrivateKey, error) {
	addr, err := s.address(pkScript)
	if err != nil {
		return nil, err
	}

	key, _, err := s.cfg.Keys.GetKey(addr)
	if err != nil {
		return nil, fmt.Errorf("key of %v: %w", addr, err)
	}
	return key, nil
}

// step polls the round once and performs what its phase requires.
func (s *Session) step(ctx context.Context,
	reg *Registration) (*Registration, error) {

	var round *joinrpc.RoundStatus
	err := s.call(ctx, "round status", func(ctx context.Context) error {
		var err error
		round, err = s.cfg.Client.RoundStatus(
			ctx, &joinrpc.RoundStatusRequest{RoundID: reg.RoundID},
		)
		return err
	})
	if err != nil {
		return nil, classify(reg.RoundID, "round status", err)
	}

	if round.Phase < reg.Phase {
		return nil, SessionError{
			Reason: ReasonVerification, RoundID: reg.RoundID,
			Description: fmt.Sprintf("phase went back from %v to %v",
				reg.Phase, round.Phase),
		}
	}

	switch round.Phase {
	case coinjoin.PhaseInputRegistration,
		coinjoin.PhaseConnectionConfirmation:

		return s.confirm(ctx, reg)

	case coinjoin.PhaseOutputRegistration:
		return s.registerOutput(ctx, reg)

	case coinjoin.PhaseSigning:
		return s.sign(ctx, reg)

	case coinjoin.PhaseSucceeded:
		return reg.advance(func(r *Registration) {
			r.Phase = coinjoin.PhaseSucceeded
		}), nil

	default:
		reason := ReasonRoundAborted
		if round.TimedOut {
			reason = ReasonTimeout
		}

		var abortedIn coinjoin.Phase
		if err := abortedIn.UnmarshalText(
			[]byte(round.AbortedIn),
		); err != nil {
			abortedIn = reg.Phase
		}
		reg = reg.advance(func(r *Registration) {
			r.Phase = abortedIn
		})

		return reg, SessionError{
			Reason:      reason,
			RoundID:     reg.RoundID,
			Description: "aborted in " + round.AbortedIn,
			Err:         errors.New(round.AbortReason),
		}
	}
}

// confirm confirms the connection, collecting the blind signature and
// the commitment once the coordinator hands them out.
func (s *Session) confirm(ctx context.Context,
	reg *Registration) (*Registration, error) {

	var conf *joinrpc.ConnectionConfirmationResponse
	err := s.call(ctx, "connection confirmation",
		func(ctx context.Context) error {
			var err error
			conf, err = s.cfg.Client.ConfirmConnection(ctx,
				&joinrpc.ConnectionConfirmationRequest{
					RoundID:  reg.RoundID,
					UniqueID: reg.UniqueID,
				})
			return err
		})
	if err != nil {
		return nil, classify(reg.RoundID, "connection confirmation", err)
	}

	var sig []byte
	if len(conf.BlindSignature) > 0 && reg.Signature == nil {
		sig, err = blindsig.Unblind(conf.BlindSignature, reg.factor)
		if err == nil && !blindsig.Verify(reg.signerKey, sig, s.outScript) {
			err = blindsig.ErrInvalidBlindSignature
		}
		if err != nil {
			return nil, SessionError{
				Reason: ReasonVerification, RoundID: reg.RoundID,
				Description: "blind signature", Err: err,
			}
		}
	}

	commitment := reg.Commitment
	if conf.RoundCommitmentHash != "" {
		h, err := chainhash.NewHashFromStr(conf.RoundCommitmentHash)
		if err != nil {
			return nil, SessionError{
				Reason: ReasonVerification, RoundID: reg.RoundID,
				Description: "round commitment", Err: err,
			}
		}
		commitment = fn.Some(*h)
	}

	return reg.advance(func(r *Registration) {
		if conf.Phase > r.Phase {
			r.Phase = conf.Phase
		}
		if sig != nil {
			r.Signature = sig
		}
		r.Commitment = commitment
	}), nil
}

func (s *Session) registerOutput(ctx context.Context,
	reg *Registration) (*Registration, error) {

	if reg.OutputRegistered {
		return reg, nil
	}

	// The commitment is handed out once output registration started.
	if reg.Commitment.IsNone() || reg.Signature == nil {
		next, err := s.confirm(ctx, reg)
		if err != nil {
			return nil, err
		}
		reg = next
	}
	if reg.Signature == nil {
		return nil, SessionError{
			Reason: ReasonRejected, RoundID: reg.RoundID,
			Description: "connection was not confirmed in time",
		}
	}
	commitment := reg.Commitment.UnwrapOr(chainhash.Hash{})

	outAddr, err := s.address(s.outScript)
	if err != nil {
		return nil, err
	}

	err = s.call(ctx, "output registration", func(ctx context.Context) error {
		_, err := s.cfg.Client.RegisterOutput(ctx,
			&joinrpc.OutputRegistrationRequest{
				RoundID:             reg.RoundID,
				OutputAddress:       outAddr.EncodeAddress(),
				UnblindedSignature:  reg.Signature,
				RoundCommitmentHash: commitment.String(),
			})
		return err
	})

	// A retried registration may have been accepted the first time.
	if status.Code(err) == codes.AlreadyExists {
		err = nil
	}
	if err != nil {
		return nil, classify(reg.RoundID, "output registration", err)
	}

	return reg.advance(func(r *Registration) {
		r.Phase = coinjoin.PhaseOutputRegistration
		r.OutputRegistered = true
	}), nil
}

func (s *Session) sign(ctx context.Context,
	reg *Registration) (*Registration, error) {

	if reg.Signed {
		return reg, nil
	}

	var resp *joinrpc.UnsignedTransactionResponse
	err := s.call(ctx, "unsigned transaction",
		func(ctx context.Context) error {
			var err error
			resp, err = s.cfg.Client.UnsignedTransaction(ctx,
				&joinrpc.UnsignedTransactionRequest{
					RoundID:  reg.RoundID,
					UniqueID: reg.UniqueID,
				})
			return err
		})
	if err != nil {
		return nil, classify(reg.RoundID, "unsigned transaction", err)
	}

	packet, mine, err := s.verifyTransaction(reg, resp.Psbt)
	if err != nil {
		return nil, SessionError{
			Reason: ReasonVerification, RoundID: reg.RoundID,
			Description: "joint transaction", Err: err,
		}
	}

	witnesses, err := s.signInputs(packet, mine)
	if err != nil {
		return nil, SessionError{
			Reason: ReasonVerification, RoundID: reg.RoundID,
			Description: "signing", Err: err,
		}
	}

	req := &joinrpc.SignatureSubmissionRequest{
		RoundID:  reg.RoundID,
		UniqueID: reg.UniqueID,
	}
	for idx, w := range witnesses {
		req.Witnesses = append(req.Witnesses, &joinrpc.InputWitness{
			InputIndex: idx,
			Witness:    w,
		})
	}

	err = s.call(ctx, "signature submission", func(ctx context.Context) error {
		_, err := s.cfg.Client.SubmitSignatures(ctx, req)
		return err
	})
	if status.Code(err) == codes.AlreadyExists {
		err = nil
	}
	if err != nil {
		return nil, classify(reg.RoundID, "signature submission", err)
	}

	txid := packet.UnsignedTx.TxHash()
	log.Infof("Signed %d inputs of %v in round %d", len(witnesses), txid,
		reg.RoundID)

	return reg.advance(func(r *Registration) {
		r.Phase = coinjoin.PhaseSigning
		r.Signed = true
		r.TxID = fn.Some(txid)
	}), nil
}

// verifyTransaction checks that the joint transaction commits to the inputs
// announced by the round commitment, spends our coins as registered and
// pays our mixed output and change. It returns the decoded packet and the
// indices of our inputs.
func (s *Session) verifyTransaction(reg *Registration,
	b64 string) (*psbt.Packet, map[int]*Coin, error) {

	packet, err := psbt.NewFromRawBytes(strings.NewReader(b64), true)
	if err != nil {
		return nil, nil, err
	}
	tx := packet.UnsignedTx
	if len(packet.Inputs) != len(tx.TxIn) {
		return nil, nil, errors.New("malformed packet")
	}

	ops := make([]wire.OutPoint, len(tx.TxIn))
	for i, in := range tx.TxIn {
		ops[i] = in.PreviousOutPoint
	}
	commitment := reg.Commitment.UnwrapOr(chainhash.Hash{})
	if coinjoin.CommitmentHash(reg.RoundID, ops) != commitment {
		return nil, nil, errors.New("inputs do not match the round " +
			"commitment")
	}

	coins := make(map[wire.OutPoint]*Coin, len(reg.Coins))
	for _, c := range reg.Coins {
		coins[c.OutPoint] = c
	}

	mine := make(map[int]*Coin, len(reg.Coins))
	for i, op := range ops {
		c, ok := coins[op]
		if !ok {
			continue
		}

		utxo := packet.Inputs[i].WitnessUtxo
		if utxo == nil || utxo.Value != int64(c.Amount) ||
			!bytes.Equal(utxo.PkScript, c.PkScript) {

			return nil, nil, fmt.Errorf("input %v does not match "+
				"the registered coin", op)
		}
		mine[i] = c
	}
	if len(mine) != len(reg.Coins) {
		return nil, nil, fmt.Errorf("%d of %d coins spent", len(mine),
			len(reg.Coins))
	}

	if !paysAtLeast(tx, s.outScript, reg.Denomination) {
		return nil, nil, errors.New("mixed output missing")
	}

	change := reg.Fees.Change(
		sumCoins(reg.Coins), reg.Denomination, len(reg.Coins),
	)
	changeOut := wire.NewTxOut(int64(change), s.changeScript)
	if change > 0 &&
		!txrules.IsDustOutput(changeOut, txrules.DefaultRelayFeePerKb) &&
		!paysAtLeast(tx, s.changeScript, change) {

		return nil, nil, fmt.Errorf("change output of %v missing",
			change)
	}

	return packet, mine, nil
}

func paysAtLeast(tx *wire.MsgTx, pkScript []byte,
	value btcutil.Amount) bool {

	for _, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, pkScript) &&
			out.Value >= int64(value) {

			return true
		}
	}
	return false
}

// signInputs produces the witnesses of our inputs.
func (s *Session) signInputs(packet *psbt.Packet,
	mine map[int]*Coin) (map[int]wire.TxWitness, error) {

	tx := packet.UnsignedTx
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range packet.Inputs {
		if in.WitnessUtxo == nil {
			return nil, fmt.Errorf("input %d has no previous output",
				i)
		}
		fetcher.AddPrevOut(tx.TxIn[i].PreviousOutPoint, in.WitnessUtxo)
	}
	hashes := txscript.NewTxSigHashes(tx, fetcher)

	witnesses := make(map[int]wire.TxWitness, len(mine))
	for idx, c := range mine {
		key, err := s.key(c.PkScript)
		if err != nil {
			return nil, err
		}

		w, err := txscript.WitnessSignature(
			tx, hashes, idx, int64(c.Amount), c.PkScript,
			txscript.SigHashAll, key, true,
		)
		if err != nil {
			return nil, err
		}
		witnesses[idx] = w
	}

	return witnesses, nil
}
