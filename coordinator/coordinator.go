// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package coordinator runs coinjoin rounds.
//
// The Coordinator owns every active Round. It keeps two rounds open for
// registration at all times, guarantees that an output is registered in at
// most one round, and reacts to the events each round publishes: replacing
// rounds that leave input registration, banning the inputs of participants
// that failed to sign, and adapting the fee schedule and denomination of the
// next rounds.
package coordinator

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/banlist"
	"github.com/btcsuite/btcjoin/blindsig"
	"github.com/btcsuite/btcjoin/chain"
	"github.com/btcsuite/btcjoin/coinjoin"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
)

// DefaultStatusCacheSize is the number of terminated rounds whose status is
// kept for late pollers.
const DefaultStatusCacheSize = 100

// MempoolView provides the txids currently in the node's mempool.
type MempoolView interface {
	TxIDs() []chainhash.Hash
}

// Config holds the collaborators of a Coordinator.
type Config struct {
	Round RoundConfig

	// DB stores the round counter and the adjusted denomination.
	DB walletdb.DB

	BanList   *banlist.BanList
	Backend   chain.Backend
	Mempool   MempoolView
	CoinJoins *CoinJoinLog

	ChainParams *chaincfg.Params

	// Ticker drives phase timeouts and ban expiry.
	Ticker ticker.Ticker

	Clock clock.Clock

	StatusCacheSize int
}

// Coordinator runs concurrent coinjoin rounds.
type Coordinator struct {
	cfg   Config
	store *store

	// mu guards the round collection and everything derived from it.
	// It is taken before the mutex of any round.
	mu           sync.Mutex
	rounds       map[uint64]*Round
	coinIndex    map[wire.OutPoint]uint64
	denomination btcutil.Amount
	fees         coinjoin.FeeSchedule
	confTarget   uint32
	successes    uint64
	terminated   *lru.Cache

	started sync.Once
	stopped sync.Once
	quit    chan struct{}
	wg      sync.WaitGroup
}

// New creates a coordinator. Rounds are opened by Start.
func New(cfg Config) (*Coordinator, error) {
	if err := cfg.Round.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.StatusCacheSize <= 0 {
		cfg.StatusCacheSize = DefaultStatusCacheSize
	}
	if cfg.ChainParams == nil {
		cfg.ChainParams = &chaincfg.MainNetParams
	}

	s, err := newStore(cfg.DB)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New(cfg.StatusCacheSize)
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		cfg:          cfg,
		store:        s,
		rounds:       make(map[uint64]*Round),
		coinIndex:    make(map[wire.OutPoint]uint64),
		denomination: cfg.Round.Denomination,
		confTarget:   cfg.Round.ConfirmationTarget,
		terminated:   cache,
		quit:         make(chan struct{}),
	}, nil
}

// Start restores the persisted denomination, opens the first two rounds
// and starts the timeout loop.
func (c *Coordinator) Start() error {
	var err error
	c.started.Do(func() {
		err = c.start()
	})
	return err
}

func (c *Coordinator) start() error {
	denom, err := c.store.denomination()
	if err != nil {
		return err
	}
	denom.WhenSome(func(d btcutil.Amount) {
		if d > c.cfg.Round.MinDenomination &&
			d <= c.cfg.Round.Denomination {

			log.Infof("Restored denomination %v", d)
			c.denomination = d
		}
	})
	denominationGauge.Set(float64(c.denomination))

	fees, target := c.feeSchedule()

	c.mu.Lock()
	c.fees, c.confTarget = fees, target
	c.ensureTwoOpenRoundsLocked()
	c.mu.Unlock()

	c.cfg.Ticker.Resume()

	c.wg.Add(1)
	go c.timeoutLoop()

	log.Infof("Coordinator started: denomination %v, anonymity set %d",
		c.denomination, c.cfg.Round.AnonymitySet)

	return nil
}

// Stop halts the timeout loop and the round watchers. Active rounds are
// left as they are.
func (c *Coordinator) Stop() {
	c.stopped.Do(func() {
		close(c.quit)
		c.cfg.Ticker.Stop()
		c.wg.Wait()
	})
}

func (c *Coordinator) timeoutLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.cfg.Ticker.Ticks():
			now := c.cfg.Clock.Now()
			for _, r := range c.activeRounds() {
				r.CheckTimeout(now)
			}

			n, err := c.cfg.BanList.Refresh()
			if err != nil {
				log.Errorf("Unable to refresh ban list: %v",
					err)
			} else if n > 0 {
				log.Debugf("Removed %d expired bans", n)
			}

			c.mu.Lock()
			c.updateMetricsLocked()
			c.mu.Unlock()

		case <-c.quit:
			return
		}
	}
}

func (c *Coordinator) activeRounds() []*Round {
	c.mu.Lock()
	defer c.mu.Unlock()

	rounds := make([]*Round, 0, len(c.rounds))
	for _, r := range c.rounds {
		rounds = append(rounds, r)
	}
	return rounds
}

// ensureTwoOpenRounds tops the number of rounds in input registration up
// to two.
func (c *Coordinator) ensureTwoOpenRounds() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureTwoOpenRoundsLocked()
}

func (c *Coordinator) ensureTwoOpenRoundsLocked() {
	select {
	case <-c.quit:
		return
	default:
	}

	var open int
	for _, r := range c.rounds {
		if r.Phase() == coinjoin.PhaseInputRegistration {
			open++
		}
	}

	for ; open < 2; open++ {
		if err := c.newRoundLocked(); err != nil {
			log.Errorf("Unable to open round: %v", err)
			return
		}
	}

	c.updateMetricsLocked()
}

func (c *Coordinator) newRoundLocked() error {
	id, err := c.store.nextRoundID()
	if err != nil {
		return err
	}

	key, err := btcec.NewPrivateKey()
	if err != nil {
		return err
	}

	round := NewRound(RoundParams{
		ID:                 id,
		Denomination:       c.denomination,
		Fees:               c.fees,
		ConfirmationTarget: c.confTarget,
		AnonymitySet:       c.cfg.Round.AnonymitySet,
		MinAnonymitySet:    c.cfg.Round.MinAnonymitySet,
		MaxInputsPerAlice:  c.cfg.Round.MaxInputsPerAlice,
		Timeouts:           c.cfg.Round.Timeouts,
		Signer: blindsig.NewSigner(
			key, blindsig.DefaultMaxNonces,
		),
		Publish: c.cfg.Backend.PublishTransaction,
		Clock:   c.cfg.Clock,
	})
	sub := round.Subscribe()
	c.rounds[id] = round

	c.wg.Add(1)
	go c.watchRound(round, sub)

	log.Infof("Opened round %d: denomination %v, fee per input %v, fee "+
		"per output %v", id, c.denomination, c.fees.FeePerInput,
		c.fees.FeePerOutput)

	return nil
}

// watchRound reacts to the events of one round until it terminates.
func (c *Coordinator) watchRound(round *Round, sub *Subscription) {
	defer c.wg.Done()
	defer sub.Cancel()

	for {
		select {
		case update := <-sub.Updates():
			switch e := update.(type) {
			case *PhaseChanged:
				if e.From == coinjoin.PhaseInputRegistration {
					c.ensureTwoOpenRounds()
				}
				if e.To.IsTerminal() {
					c.onRoundTerminated(round)
					return
				}

			case *AlicesDropped:
				c.onAlicesDropped(e)

			case *ParticipantsChanged:
				log.Tracef("Round %d: %d participants",
					e.RoundID, e.Count)
			}

		case <-c.quit:
			return
		}
	}
}

func (c *Coordinator) onAlicesDropped(e *AlicesDropped) {
	c.mu.Lock()
	c.releaseDroppedLocked(e.RoundID, e.Inputs)
	registeredInputs.Set(float64(len(c.coinIndex)))
	c.mu.Unlock()

	if !e.Noted || !c.cfg.Round.NoteUnconfirmedAlices {
		return
	}
	if err := c.cfg.BanList.Ban(e.RoundID, true, e.Inputs...); err != nil {
		log.Errorf("Unable to note inputs of dropped alices in round "+
			"%d: %v", e.RoundID, err)
	}
}

// releaseLocked frees the index entries of ops held by roundID.
func (c *Coordinator) releaseLocked(roundID uint64, ops []wire.OutPoint) {
	for _, op := range ops {
		if id, ok := c.coinIndex[op]; ok && id == roundID {
			delete(c.coinIndex, op)
		}
	}
}

// releaseDroppedLocked frees the index entries of inputs dropped from an
// active round. An input registered to the round again after the drop
// keeps its entry.
func (c *Coordinator) releaseDroppedLocked(roundID uint64,
	ops []wire.OutPoint) {

	round, ok := c.rounds[roundID]
	if !ok {
		c.releaseLocked(roundID, ops)
		return
	}

	for _, op := range ops {
		id, ok := c.coinIndex[op]
		if !ok || id != roundID || round.HasInput(op) {
			continue
		}
		delete(c.coinIndex, op)
	}
}

// onRoundTerminated runs the bookkeeping of a terminated round. Each step
// is independent: a failing step is logged and the remaining steps still
// run, so a replacement round is always opened.
func (c *Coordinator) onRoundTerminated(round *Round) {
	state := round.Status()
	fees, target := c.feeSchedule()

	switch state.Phase {
	case coinjoin.PhaseSucceeded:
		roundsTerminated.WithLabelValues("succeeded",
			coinjoin.PhaseSigning.String()).Inc()

		denom, err := c.handleSuccess(round, fees).Unpack()
		if err != nil {
			log.Errorf("Round %d: success bookkeeping failed: %v",
				state.ID, err)
		} else {
			log.Debugf("Round %d: next denomination %v", state.ID,
				denom)
		}

	case coinjoin.PhaseAborted:
		roundsTerminated.WithLabelValues("aborted",
			state.AbortedIn.String()).Inc()

		if state.AbortedIn != coinjoin.PhaseSigning {
			break
		}

		banned, err := c.handleSigningAbort(round).Unpack()
		if err != nil {
			log.Errorf("Round %d: non-signer bookkeeping failed: %v",
				state.ID, err)
		} else {
			log.Infof("Round %d: banned %d inputs of non-signers",
				state.ID, banned)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.releaseLocked(state.ID, round.Inputs())
	delete(c.rounds, state.ID)
	c.terminated.Add(state.ID, round.Status())

	c.fees, c.confTarget = fees, target
	c.ensureTwoOpenRoundsLocked()
}

// handleSuccess logs the coinjoin and adjusts the denomination so that the
// outputs just created can register in the next rounds.
func (c *Coordinator) handleSuccess(round *Round,
	fees coinjoin.FeeSchedule) fn.Result[btcutil.Amount] {

	tx := round.SignedTransaction().UnwrapOr(nil)
	if tx == nil {
		return fn.Err[btcutil.Amount](
			errors.New("succeeded round has no transaction"),
		)
	}

	c.mu.Lock()
	c.successes++
	current := c.denomination
	c.mu.Unlock()

	if err := c.cfg.CoinJoins.Append(tx.TxHash()); err != nil {
		return fn.Err[btcutil.Amount](
			fmt.Errorf("log coinjoin %v: %w", tx.TxHash(), err),
		)
	}

	active := mostCommonOutputValue(tx)
	next := active - (fees.FeePerInput + 2*fees.FeePerOutput)
	if next >= current || next <= c.cfg.Round.MinDenomination {
		return fn.Ok(current)
	}

	if err := c.store.putDenomination(next); err != nil {
		return fn.Err[btcutil.Amount](err)
	}

	c.mu.Lock()
	c.denomination = next
	c.mu.Unlock()
	denominationGauge.Set(float64(next))

	log.Infof("Denomination lowered from %v to %v", current, next)

	return fn.Ok(next)
}

// mostCommonOutputValue returns the most frequent output value of tx,
// preferring the larger value on ties.
func mostCommonOutputValue(tx *wire.MsgTx) btcutil.Amount {
	counts := make(map[int64]int)
	var (
		best      int64
		bestCount int
	)
	for _, out := range tx.TxOut {
		counts[out.Value]++
		n := counts[out.Value]
		if n > bestCount || (n == bestCount && out.Value > best) {
			best, bestCount = out.Value, n
		}
	}

	return btcutil.Amount(best)
}

// handleSigningAbort bans the inputs of participants that did not sign and
// lowers the anonymity set of the next round to what the failed round
// proved reachable.
func (c *Coordinator) handleSigningAbort(round *Round) fn.Result[int] {
	nonSigners, signers := round.NonSigners()

	c.mu.Lock()
	var ban []wire.OutPoint
	for _, op := range nonSigners {
		if c.inOtherRoundLocked(round.ID(), op) {
			log.Infof("Round %d: not banning %v, it is registered "+
				"in another round", round.ID(), op)
			continue
		}
		ban = append(ban, op)
	}
	next := c.nextOpenRoundLocked()
	c.mu.Unlock()

	var banErr error
	if len(ban) > 0 {
		banErr = c.cfg.BanList.Ban(round.ID(), false, ban...)
		if banErr == nil {
			bannedOutputs.Add(float64(len(ban)))
		}
	}

	next.WhenSome(func(r *Round) {
		state := r.Status()

		set := signers
		if state.Registered > set {
			set = state.Registered
		}
		if set <= 1 || set >= state.AnonymitySet {
			return
		}
		if err := r.UpdateAnonymitySet(set); err != nil {
			log.Warnf("Unable to update anonymity set of round "+
				"%d: %v", r.ID(), err)
		}
	})

	if banErr != nil {
		return fn.Err[int](banErr)
	}
	return fn.Ok(len(ban))
}

func (c *Coordinator) inOtherRoundLocked(id uint64, op wire.OutPoint) bool {
	for rid, r := range c.rounds {
		if rid != id && r.HasInput(op) {
			return true
		}
	}
	return false
}

// nextOpenRoundLocked returns the oldest round in input registration.
func (c *Coordinator) nextOpenRoundLocked() fn.Option[*Round] {
	var next *Round
	for id, r := range c.rounds {
		if r.Phase() != coinjoin.PhaseInputRegistration {
			continue
		}
		if next == nil || id < next.ID() {
			next = r
		}
	}
	if next == nil {
		return fn.None[*Round]()
	}
	return fn.Some(next)
}

func (c *Coordinator) updateMetricsLocked() {
	var open int
	for _, r := range c.rounds {
		if r.Phase() == coinjoin.PhaseInputRegistration {
			open++
		}
	}
	openRounds.Set(float64(open))
	activeRounds.Set(float64(len(c.rounds)))
	registeredInputs.Set(float64(len(c.coinIndex)))
}

// Round returns the active round id.
func (c *Coordinator) Round(id uint64) (*Round, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rounds[id]
	if !ok {
		return nil, coordError(ErrUnknownRound,
			fmt.Sprintf("round %d is not active", id), nil)
	}
	return r, nil
}

// Rounds returns the status of every active round ordered by id.
func (c *Coordinator) Rounds() []RoundState {
	rounds := c.activeRounds()
	states := make([]RoundState, 0, len(rounds))
	for _, r := range rounds {
		states = append(states, r.Status())
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].ID < states[j].ID
	})
	return states
}

// OpenRounds returns the status of the rounds accepting registrations.
func (c *Coordinator) OpenRounds() []RoundState {
	var open []RoundState
	for _, s := range c.Rounds() {
		if s.Phase == coinjoin.PhaseInputRegistration {
			open = append(open, s)
		}
	}
	return open
}

// RoundStatus returns the status of an active or recently terminated
// round.
func (c *Coordinator) RoundStatus(id uint64) (RoundState, error) {
	c.mu.Lock()
	r, ok := c.rounds[id]
	cached, cachedOK := c.terminated.Get(id)
	c.mu.Unlock()

	switch {
	case ok:
		return r.Status(), nil
	case cachedOK:
		return cached.(RoundState), nil
	}

	return RoundState{}, coordError(ErrUnknownRound,
		fmt.Sprintf("round %d is unknown", id), nil)
}

// SuccessfulRounds returns the number of rounds that succeeded since
// start.
func (c *Coordinator) SuccessfulRounds() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.successes
}

// Denomination returns the denomination of new rounds.
func (c *Coordinator) Denomination() btcutil.Amount {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.denomination
}

// InputProof is a registered input with its ownership proof.
type InputProof struct {
	OutPoint wire.OutPoint
	Proof    []byte
}

// InputRegistration is a participant's registration request.
type InputRegistration struct {
	RoundID       uint64
	Inputs        []InputProof
	ChangeScript  []byte
	BlindedOutput []byte
	Nonce         *btcec.PublicKey
}

// RegisterInput validates a registration and adds it to its round. An
// output is accepted in at most one active round at a time.
func (c *Coordinator) RegisterInput(req *InputRegistration) (uuid.UUID,
	error) {

	round, err := c.Round(req.RoundID)
	if err != nil {
		return uuid.Nil, err
	}

	reg, err := c.validateRegistration(round.Params(), req)
	if err != nil {
		return uuid.Nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.rounds[req.RoundID]; !ok {
		return uuid.Nil, coordError(ErrUnknownRound,
			fmt.Sprintf("round %d is not active", req.RoundID), nil)
	}
	for _, in := range reg.Inputs {
		if rid, ok := c.coinIndex[in.OutPoint]; ok {
			return uuid.Nil, coordError(ErrAlreadyRegistered,
				fmt.Sprintf("input %v is registered in round "+
					"%d", in.OutPoint, rid), nil)
		}
	}
	for _, in := range reg.Inputs {
		c.coinIndex[in.OutPoint] = req.RoundID
	}

	id, err := round.RegisterAlice(reg)
	if err != nil {
		for _, in := range reg.Inputs {
			delete(c.coinIndex, in.OutPoint)
		}
		return uuid.Nil, err
	}
	registeredInputs.Set(float64(len(c.coinIndex)))

	return id, nil
}

// validateRegistration checks everything about a registration that does
// not depend on other registrations.
func (c *Coordinator) validateRegistration(params RoundParams,
	req *InputRegistration) (*AliceRegistration, error) {

	n := len(req.Inputs)
	if n == 0 || n > params.MaxInputsPerAlice {
		return nil, coordError(ErrTooManyInputs, fmt.Sprintf("%d "+
			"inputs, at most %d allowed", n,
			params.MaxInputsPerAlice), nil)
	}
	if !coinjoin.IsSupportedScript(req.ChangeScript) {
		return nil, coordError(ErrInvalidOutput,
			"change script is not p2wpkh", nil)
	}

	seen := make(map[wire.OutPoint]struct{}, n)
	var banned []BannedInput
	for _, in := range req.Inputs {
		if _, ok := seen[in.OutPoint]; ok {
			return nil, coordError(ErrAlreadyRegistered,
				"duplicate input "+in.OutPoint.String(), nil)
		}
		seen[in.OutPoint] = struct{}{}

		entry, isBanned, err := c.cfg.BanList.IsBanned(in.OutPoint)
		if err != nil {
			return nil, coordError(ErrBackend, "ban lookup", err)
		}
		if isBanned {
			banned = append(banned, BannedInput{
				OutPoint: in.OutPoint,
				BannedUntil: entry.BannedUntil(
					c.cfg.BanList.BanDuration(),
				),
			})
		}
	}
	if len(banned) > 0 {
		return nil, Error{
			ErrorCode:   ErrInputBanned,
			Description: fmt.Sprintf("%d inputs are banned", len(banned)),
			Banned:      banned,
		}
	}

	reg := &AliceRegistration{
		ChangeScript:  req.ChangeScript,
		BlindedOutput: req.BlindedOutput,
		Nonce:         req.Nonce,
	}

	var sum btcutil.Amount
	for _, in := range req.Inputs {
		op := in.OutPoint

		utxo, err := c.cfg.Backend.GetTxOut(op)
		if err != nil {
			return nil, coordError(ErrBackend, "lookup "+op.String(),
				err)
		}
		if utxo == nil {
			return nil, coordError(ErrInputNotFound,
				"input "+op.String()+" is spent or unknown", nil)
		}

		if utxo.Confirmations <= 0 &&
			!c.cfg.CoinJoins.Contains(op.Hash) {

			return nil, coordError(ErrInputUnconfirmed,
				"input "+op.String()+" is unconfirmed", nil)
		}
		maturity := int64(c.cfg.ChainParams.CoinbaseMaturity)
		if utxo.Coinbase && utxo.Confirmations < maturity {
			return nil, coordError(ErrInputUnconfirmed,
				"input "+op.String()+" is immature coinbase",
				nil)
		}

		digest := coinjoin.OwnershipDigest(
			params.ID, req.BlindedOutput, &op,
		)
		err = coinjoin.VerifyOwnershipProof(
			utxo.TxOut.PkScript, in.Proof, digest,
		)
		if err != nil {
			return nil, coordError(ErrInvalidInput,
				"input "+op.String(), err)
		}

		reg.Inputs = append(reg.Inputs, Input{
			OutPoint: op, TxOut: utxo.TxOut,
		})
		sum += btcutil.Amount(utxo.TxOut.Value)
	}

	required := params.Fees.RequiredAmount(params.Denomination, n)
	if sum < required {
		return nil, coordError(ErrInsufficientFunds, fmt.Sprintf(
			"inputs %v below required %v", sum, required), nil)
	}

	return reg, nil
}

// RequestNonce issues a blind signing nonce of a round.
func (c *Coordinator) RequestNonce(roundID uint64) (*btcec.PublicKey, error) {
	round, err := c.Round(roundID)
	if err != nil {
		return nil, err
	}
	return round.RequestNonce()
}

// ConfirmConnection forwards a connection confirmation to its round.
func (c *Coordinator) ConfirmConnection(roundID uint64,
	id uuid.UUID) (*Confirmation, error) {

	round, err := c.Round(roundID)
	if err != nil {
		return nil, err
	}
	return round.ConfirmConnection(id)
}

// RegisterOutput forwards an output registration to its round.
func (c *Coordinator) RegisterOutput(roundID uint64, pkScript, sig []byte,
	commitment chainhash.Hash) error {

	round, err := c.Round(roundID)
	if err != nil {
		return err
	}
	return round.RegisterOutput(pkScript, sig, commitment)
}

// UnsignedTransaction returns the joint transaction of a round.
func (c *Coordinator) UnsignedTransaction(roundID uint64,
	id uuid.UUID) (string, error) {

	round, err := c.Round(roundID)
	if err != nil {
		return "", err
	}
	return round.UnsignedTransaction(id)
}

// SubmitSignatures forwards a participant's witnesses to its round.
func (c *Coordinator) SubmitSignatures(roundID uint64, id uuid.UUID,
	witnesses map[int]wire.TxWitness) error {

	round, err := c.Round(roundID)
	if err != nil {
		return err
	}
	return round.SubmitSignatures(id, witnesses)
}

// RemoveAlice handles a graceful disconnection. Participants can only
// leave during input registration.
func (c *Coordinator) RemoveAlice(roundID uint64, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	round, ok := c.rounds[roundID]
	if !ok {
		return coordError(ErrUnknownRound,
			fmt.Sprintf("round %d is not active", roundID), nil)
	}

	released, err := round.RemoveAlice(id)
	if err != nil {
		return err
	}
	c.releaseDroppedLocked(roundID, released)
	registeredInputs.Set(float64(len(c.coinIndex)))

	return nil
}

// ProcessTransaction updates the ban list with a transaction seen by the
// node and drops participants whose inputs it spends.
func (c *Coordinator) ProcessTransaction(tx *wire.MsgTx) error {
	if err := c.cfg.BanList.ProcessTransaction(tx); err != nil {
		return err
	}

	spent := make([]wire.OutPoint, len(tx.TxIn))
	for i, txIn := range tx.TxIn {
		spent[i] = txIn.PreviousOutPoint
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, r := range c.rounds {
		released := r.DropInputs(spent)
		if len(released) > 0 {
			log.Infof("Round %d: dropped alices spending inputs "+
				"in %v", id, tx.TxHash())
			c.releaseDroppedLocked(id, released)
		}
	}

	return nil
}
