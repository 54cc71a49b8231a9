// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixclient

import (
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/coinjoin"
)

// DefaultCombinationBudget is the number of combinations examined for one
// input count before the selector falls back to the largest coins.
const DefaultCombinationBudget = 10_000

// SelectionParams are the round parameters coins are selected for.
type SelectionParams struct {
	Denomination btcutil.Amount
	Fees         coinjoin.FeeSchedule
	MaxInputs    int

	// CombinationBudget bounds the exhaustive search per input count.
	// DefaultCombinationBudget is used when zero.
	CombinationBudget int
}

func (p *SelectionParams) required(numInputs int) btcutil.Amount {
	return p.Fees.RequiredAmount(p.Denomination, numInputs)
}

// SelectCoins picks the coins to register in a round. It tries one input,
// then two, up to MaxInputs, and returns the best combination of the first
// input count that covers the required amount, or nil if none does.
//
// The result only depends on the coins and the parameters: the same input
// always gives the same selection.
func SelectCoins(coins []*Coin, params SelectionParams) []*Coin {
	budget := params.CombinationBudget
	if budget <= 0 {
		budget = DefaultCombinationBudget
	}

	eligible := eligibleCoins(coins)
	for n := 1; n <= params.MaxInputs && n <= len(eligible); n++ {
		best := bestCombination(eligible, n, params.required(n), budget)
		if best == nil {
			continue
		}

		return consolidate(best, eligible, &params)
	}

	return nil
}

// eligibleCoins returns the coins that may be registered, largest first.
// Unconfirmed coins are only eligible if they are mixed outputs.
func eligibleCoins(coins []*Coin) []*Coin {
	eligible := make([]*Coin, 0, len(coins))
	for _, c := range coins {
		if !c.Confirmed && c.AnonymitySet <= 1 {
			continue
		}
		eligible = append(eligible, c)
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Amount != b.Amount {
			return a.Amount > b.Amount
		}
		return outPointLess(&a.OutPoint, &b.OutPoint)
	})

	return eligible
}

// bestCombination returns the preferred n-coin combination of coins worth
// at least required. Once budget combinations were examined the n largest
// coins are used instead.
func bestCombination(coins []*Coin, n int, required btcutil.Amount,
	budget int) []*Coin {

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	var (
		best     []*Coin
		examined int
	)
	for {
		examined++
		if examined > budget {
			log.Debugf("Combination budget of %d exhausted for %d "+
				"inputs, using the largest coins", budget, n)

			largest := coins[:n]
			if sumCoins(largest) < required {
				return nil
			}
			return append([]*Coin(nil), largest...)
		}

		candidate := make([]*Coin, n)
		for i, j := range idx {
			candidate[i] = coins[j]
		}
		if sumCoins(candidate) >= required &&
			(best == nil || preferred(candidate, best)) {

			best = candidate
		}

		if !nextCombination(idx, len(coins)) {
			return best
		}
	}
}

// nextCombination advances idx to the next n-of-size combination in
// lexicographic order. It returns false after the last one.
func nextCombination(idx []int, size int) bool {
	n := len(idx)
	i := n - 1
	for i >= 0 && idx[i] == size-n+i {
		i--
	}
	if i < 0 {
		return false
	}

	idx[i]++
	for j := i + 1; j < n; j++ {
		idx[j] = idx[j-1] + 1
	}
	return true
}

// preferred reports whether combination a is better than b. Both hold the
// same number of coins.
func preferred(a, b []*Coin) bool {
	if ua, ub := unconfirmed(a), unconfirmed(b); ua != ub {
		return ua < ub
	}

	sa, sb := sumCoins(a), sumCoins(b)

	// A single coin: the larger one, then the less mixed one.
	if len(a) == 1 {
		if sa != sb {
			return sa > sb
		}
		return a[0].AnonymitySet < b[0].AnonymitySet
	}

	// Several coins: the least change, then the best mixed weakest coin.
	if sa != sb {
		return sa < sb
	}
	return minAnonymitySet(a) > minAnonymitySet(b)
}

// consolidate folds one small mixed coin into the selection when the
// selection leaves change and has room for another input. The coin must be
// at least as mixed as the selection and must pay for its own input.
func consolidate(chosen, eligible []*Coin, params *SelectionParams) []*Coin {
	n := len(chosen)
	if n >= params.MaxInputs {
		return chosen
	}

	fees := params.Fees
	change := fees.Change(sumCoins(chosen), params.Denomination, n)
	if change <= fees.FeePerInput+fees.FeePerOutput {
		return chosen
	}

	selected := make(map[wire.OutPoint]struct{}, n)
	for _, c := range chosen {
		selected[c.OutPoint] = struct{}{}
	}

	minAnon := minAnonymitySet(chosen)
	required := params.required(n)

	var toxic *Coin
	for _, c := range eligible {
		if _, ok := selected[c.OutPoint]; ok {
			continue
		}

		switch {
		case c.AnonymitySet <= 1:
		case c.AnonymitySet < minAnon:
		case c.Amount >= required:
		case c.Amount <= fees.FeePerInput:

		// eligible is ordered largest first, so the last match is the
		// smallest coin.
		default:
			toxic = c
		}
	}
	if toxic == nil {
		return chosen
	}

	log.Debugf("Consolidating %v into the selection", toxic)

	return append(chosen[:n:n], toxic)
}
