// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixclient

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wtxmgr"
)

// Coin is a spendable output of the wallet.
type Coin struct {
	OutPoint wire.OutPoint
	Amount   btcutil.Amount
	PkScript []byte

	// Confirmed is false for outputs of mempool transactions.
	Confirmed bool

	// AnonymitySet is the number of indistinguishable outputs the coin
	// hides among. Fresh coins have an anonymity set of one.
	AnonymitySet int
}

// NewCoinFromCredit creates a coin from a wallet credit.
func NewCoinFromCredit(c *wtxmgr.Credit, anonymitySet int) *Coin {
	if anonymitySet < 1 {
		anonymitySet = 1
	}

	return &Coin{
		OutPoint:     c.OutPoint,
		Amount:       c.Amount,
		PkScript:     c.PkScript,
		Confirmed:    c.Height != -1,
		AnonymitySet: anonymitySet,
	}
}

func (c *Coin) String() string {
	return fmt.Sprintf("%v (%v, anonymity set %d)", c.OutPoint, c.Amount,
		c.AnonymitySet)
}

// outPointLess orders outpoints by txid bytes, then index.
func outPointLess(a, b *wire.OutPoint) bool {
	if cmp := bytes.Compare(a.Hash[:], b.Hash[:]); cmp != 0 {
		return cmp < 0
	}
	return a.Index < b.Index
}

// sumCoins returns the total value of coins.
func sumCoins(coins []*Coin) btcutil.Amount {
	var sum btcutil.Amount
	for _, c := range coins {
		sum += c.Amount
	}
	return sum
}

// minAnonymitySet returns the smallest anonymity set of coins.
func minAnonymitySet(coins []*Coin) int {
	lowest := 0
	for i, c := range coins {
		if i == 0 || c.AnonymitySet < lowest {
			lowest = c.AnonymitySet
		}
	}
	return lowest
}

// unconfirmed returns the number of unconfirmed coins.
func unconfirmed(coins []*Coin) int {
	var n int
	for _, c := range coins {
		if !c.Confirmed {
			n++
		}
	}
	return n
}
