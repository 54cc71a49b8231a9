// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixclient

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/coinjoin"
	"github.com/lightningnetwork/lnd/clock"
)

// DefaultCooldown delays the reuse of coins of rounds that failed while or
// after signing.
const DefaultCooldown = 2 * time.Minute

var (
	// ErrCoinNotWaiting is returned when registering a coin that is not
	// in the waiting list.
	ErrCoinNotWaiting = errors.New("coin is not waiting")

	// ErrNoCoins is returned when registering an empty selection.
	ErrNoCoins = errors.New("no coins")
)

// RoundOutcome describes how a round ended for the pool.
type RoundOutcome struct {
	// Succeeded is set when the round's transaction was broadcast. The
	// registered coins are spent.
	Succeeded bool

	// FailedIn is the phase a failed round ended in.
	FailedIn coinjoin.Phase
}

type waitingCoin struct {
	coin    *Coin
	retryAt time.Time
}

type registeredCoin struct {
	coin    *Coin
	roundID uint64
}

// PoolConfig configures a CoinPool.
type PoolConfig struct {
	// Cooldown is how long coins of a round that failed while or after
	// signing wait before they are selected again.
	Cooldown time.Duration

	Clock clock.Clock
}

// CoinPool tracks which coins of a wallet wait for a round and which are
// registered in one. A coin is never both, and never registered in two
// rounds.
type CoinPool struct {
	cfg PoolConfig

	// mu covers every collection below.
	mu         sync.Mutex
	waiting    map[wire.OutPoint]*waitingCoin
	registered map[wire.OutPoint]*registeredCoin
	banned     map[wire.OutPoint]time.Time
}

// NewCoinPool creates an empty pool.
func NewCoinPool(cfg PoolConfig) *CoinPool {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}

	return &CoinPool{
		cfg:        cfg,
		waiting:    make(map[wire.OutPoint]*waitingCoin),
		registered: make(map[wire.OutPoint]*registeredCoin),
		banned:     make(map[wire.OutPoint]time.Time),
	}
}

// Enqueue adds a coin to the waiting list. It returns false if the coin is
// already waiting or registered.
func (p *CoinPool) Enqueue(coin *Coin) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.enqueueLocked(coin, p.cfg.Clock.Now())
}

func (p *CoinPool) enqueueLocked(coin *Coin, retryAt time.Time) bool {
	op := coin.OutPoint
	if _, ok := p.waiting[op]; ok {
		return false
	}
	if _, ok := p.registered[op]; ok {
		return false
	}

	p.waiting[op] = &waitingCoin{coin: coin, retryAt: retryAt}
	return true
}

// Dequeue removes a coin from the waiting list. It returns false if the
// coin was not waiting.
func (p *CoinPool) Dequeue(op wire.OutPoint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.waiting[op]; !ok {
		return false
	}
	delete(p.waiting, op)
	return true
}

// Remove forgets a spent coin, whether waiting or registered.
func (p *CoinPool) Remove(op wire.OutPoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.waiting, op)
	delete(p.registered, op)
	delete(p.banned, op)
}

// Ban excludes a coin from selection until the given time.
func (p *CoinPool) Ban(op wire.OutPoint, until time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.banned[op] = until
}

// SelectRegistrable selects the coins to register in a round among the
// waiting coins that are neither cooling down nor banned.
func (p *CoinPool) SelectRegistrable(params SelectionParams) []*Coin {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.cfg.Clock.Now()
	for op, until := range p.banned {
		if !now.Before(until) {
			delete(p.banned, op)
		}
	}

	candidates := make([]*Coin, 0, len(p.waiting))
	for op, w := range p.waiting {
		if now.Before(w.retryAt) {
			continue
		}
		if _, ok := p.banned[op]; ok {
			continue
		}
		candidates = append(candidates, w.coin)
	}

	return SelectCoins(candidates, params)
}

// Register moves coins from the waiting list to a round. Either all coins
// move or none do.
func (p *CoinPool) Register(roundID uint64, coins []*Coin) error {
	if len(coins) == 0 {
		return ErrNoCoins
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[wire.OutPoint]struct{}, len(coins))
	for _, c := range coins {
		if _, ok := seen[c.OutPoint]; ok {
			return fmt.Errorf("%v selected twice", c.OutPoint)
		}
		seen[c.OutPoint] = struct{}{}

		if _, ok := p.waiting[c.OutPoint]; !ok {
			return fmt.Errorf("%w: %v", ErrCoinNotWaiting, c.OutPoint)
		}
	}
	for _, c := range coins {
		w := p.waiting[c.OutPoint]
		delete(p.waiting, c.OutPoint)
		p.registered[c.OutPoint] = &registeredCoin{
			coin: w.coin, roundID: roundID,
		}
	}

	return nil
}

// OnRoundTerminated releases the coins registered in a round. Coins of a
// successful round are spent and forgotten. Coins of a failed round return
// to the waiting list, after the cooldown if the round failed while or after
// signing, since its transaction may already spend them. It returns the
// released coins.
func (p *CoinPool) OnRoundTerminated(roundID uint64,
	outcome RoundOutcome) []*Coin {

	p.mu.Lock()
	defer p.mu.Unlock()

	retryAt := p.cfg.Clock.Now()
	if !outcome.Succeeded && outcome.FailedIn >= coinjoin.PhaseSigning {
		retryAt = retryAt.Add(p.cfg.Cooldown)
	}

	var released []*Coin
	for op, r := range p.registered {
		if r.roundID != roundID {
			continue
		}

		delete(p.registered, op)
		released = append(released, r.coin)

		if !outcome.Succeeded {
			p.enqueueLocked(r.coin, retryAt)
		}
	}
	sortCoins(released)

	log.Debugf("Round %d terminated (succeeded %v): released %d coins",
		roundID, outcome.Succeeded, len(released))

	return released
}

// Waiting returns the waiting coins.
func (p *CoinPool) Waiting() []*Coin {
	p.mu.Lock()
	defer p.mu.Unlock()

	coins := make([]*Coin, 0, len(p.waiting))
	for _, w := range p.waiting {
		coins = append(coins, w.coin)
	}
	sortCoins(coins)
	return coins
}

// Registered returns the coins registered in any round.
func (p *CoinPool) Registered() []*Coin {
	p.mu.Lock()
	defer p.mu.Unlock()

	coins := make([]*Coin, 0, len(p.registered))
	for _, r := range p.registered {
		coins = append(coins, r.coin)
	}
	sortCoins(coins)
	return coins
}

// RoundOf returns the round a coin is registered in.
func (p *CoinPool) RoundOf(op wire.OutPoint) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.registered[op]
	if !ok {
		return 0, false
	}
	return r.roundID, true
}

func sortCoins(coins []*Coin) {
	sort.Slice(coins, func(i, j int) bool {
		return outPointLess(&coins[i].OutPoint, &coins[j].OutPoint)
	})
}
