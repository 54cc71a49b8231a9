// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcjoin/coinjoin"
)

// AdjustConfirmationTarget lowers the confirmation target by the reduction
// rate once for every one of our own coinjoins still in the mempool, never
// going below floor. The result only depends on the mempool txids and the
// log of our coinjoin txids.
func AdjustConfirmationTarget(mempool, coinjoins []chainhash.Hash,
	target, floor uint32, reductionRate float64) uint32 {

	own := make(map[chainhash.Hash]struct{}, len(coinjoins))
	for _, txid := range coinjoins {
		own[txid] = struct{}{}
	}

	var unconfirmed int
	for _, txid := range mempool {
		if _, ok := own[txid]; ok {
			unconfirmed++
		}
	}

	adjusted := math.Floor(
		float64(target) * math.Pow(reductionRate, float64(unconfirmed)),
	)
	switch {
	case adjusted < float64(floor):
		return floor
	case adjusted > float64(target):
		return target
	}

	return uint32(adjusted)
}

// feeSchedule derives the fee schedule of new rounds from the node's fee
// estimate at the adjusted confirmation target.
func (c *Coordinator) feeSchedule() (coinjoin.FeeSchedule, uint32) {
	target := AdjustConfirmationTarget(
		c.cfg.Mempool.TxIDs(), c.cfg.CoinJoins.TxIDs(),
		c.cfg.Round.ConfirmationTarget,
		c.cfg.Round.ConfirmationTargetFloor,
		c.cfg.Round.ConfirmationTargetReductionRate,
	)

	rate, err := c.cfg.Backend.EstimateFeeRate(target)
	if err != nil {
		log.Warnf("Unable to estimate fee for target %d, using "+
			"fallback %v: %v", target, c.cfg.Round.FallbackFeeRate,
			err)
		rate = c.cfg.Round.FallbackFeeRate
	}
	feeRateGauge.Set(float64(rate.PerKVByte()))

	log.Debugf("Fee rate %v at confirmation target %d", rate, target)

	return coinjoin.NewFeeSchedule(rate), target
}
