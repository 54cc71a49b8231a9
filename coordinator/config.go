// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcjoin/coinjoin"
	"github.com/btcsuite/btcjoin/pkg/unit"
)

const (
	// DefaultDenomination is the output value rounds mix toward.
	DefaultDenomination = btcutil.Amount(10_000_000)

	// DefaultMinDenomination is the floor a denomination adjustment
	// never crosses.
	DefaultMinDenomination = btcutil.Amount(1_000_000)

	// DefaultAnonymitySet is the number of participants a round waits
	// for.
	DefaultAnonymitySet = 100

	// DefaultMinAnonymitySet is the smallest number of participants a
	// round proceeds with after its registration window elapses.
	DefaultMinAnonymitySet = 2

	// DefaultMaxInputsPerAlice bounds the inputs of one registration.
	DefaultMaxInputsPerAlice = 7

	// DefaultConfirmationTarget is the confirmation target used while
	// none of our coinjoins are unconfirmed.
	DefaultConfirmationTarget = 144

	// DefaultConfirmationTargetFloor bounds the adjusted target from
	// below.
	DefaultConfirmationTargetFloor = 2

	// DefaultConfirmationTargetReductionRate is the factor the target is
	// multiplied by per unconfirmed coinjoin of ours in the mempool.
	DefaultConfirmationTargetReductionRate = 0.7
)

var (
	// DefaultFallbackFeeRate is used when the node has no fee estimate.
	DefaultFallbackFeeRate = unit.SatPerKVByteFromAmount(20_000)

	// DefaultTimeouts are the phase windows rounds run with.
	DefaultTimeouts = Timeouts{
		InputRegistration:      24 * time.Hour,
		ConnectionConfirmation: time.Minute,
		OutputRegistration:     time.Minute,
		Signing:                time.Minute,
		AliceLiveness:          2 * time.Minute,
	}
)

// Timeouts configures how long a round waits in each phase.
type Timeouts struct {
	InputRegistration      time.Duration
	ConnectionConfirmation time.Duration
	OutputRegistration     time.Duration
	Signing                time.Duration

	// AliceLiveness is how long a registered participant may stay
	// silent during input registration before it is dropped.
	AliceLiveness time.Duration
}

// forPhase returns the window of a non-terminal phase.
func (t Timeouts) forPhase(p coinjoin.Phase) time.Duration {
	switch p {
	case coinjoin.PhaseInputRegistration:
		return t.InputRegistration
	case coinjoin.PhaseConnectionConfirmation:
		return t.ConnectionConfirmation
	case coinjoin.PhaseOutputRegistration:
		return t.OutputRegistration
	case coinjoin.PhaseSigning:
		return t.Signing
	}
	return 0
}

// RoundConfig holds the coordinator's round parameters.
type RoundConfig struct {
	Denomination    btcutil.Amount
	MinDenomination btcutil.Amount

	AnonymitySet    int
	MinAnonymitySet int

	MaxInputsPerAlice int

	Timeouts Timeouts

	ConfirmationTarget              uint32
	ConfirmationTargetFloor         uint32
	ConfirmationTargetReductionRate float64
	FallbackFeeRate                 unit.SatPerKVByte

	// NoteUnconfirmedAlices soft-bans the inputs of participants that
	// miss connection confirmation.
	NoteUnconfirmedAlices bool
}

// DefaultRoundConfig returns a RoundConfig populated with the defaults.
func DefaultRoundConfig() RoundConfig {
	return RoundConfig{
		Denomination:                    DefaultDenomination,
		MinDenomination:                 DefaultMinDenomination,
		AnonymitySet:                    DefaultAnonymitySet,
		MinAnonymitySet:                 DefaultMinAnonymitySet,
		MaxInputsPerAlice:               DefaultMaxInputsPerAlice,
		Timeouts:                        DefaultTimeouts,
		ConfirmationTarget:              DefaultConfirmationTarget,
		ConfirmationTargetFloor:         DefaultConfirmationTargetFloor,
		ConfirmationTargetReductionRate: DefaultConfirmationTargetReductionRate,
		FallbackFeeRate:                 DefaultFallbackFeeRate,
		NoteUnconfirmedAlices:           true,
	}
}

// Validate checks the configuration for values rounds cannot run with.
func (c *RoundConfig) Validate() error {
	switch {
	case c.Denomination <= 0:
		return errors.New("denomination must be positive")
	case c.MinDenomination < 0 || c.MinDenomination > c.Denomination:
		return fmt.Errorf("min denomination %v must be between zero "+
			"and the denomination %v", c.MinDenomination,
			c.Denomination)
	case c.MinAnonymitySet < 1:
		return errors.New("min anonymity set must be at least 1")
	case c.AnonymitySet < c.MinAnonymitySet:
		return fmt.Errorf("anonymity set %d is below the minimum %d",
			c.AnonymitySet, c.MinAnonymitySet)
	case c.MaxInputsPerAlice < 1:
		return errors.New("max inputs per alice must be at least 1")
	case c.ConfirmationTargetFloor < 1 ||
		c.ConfirmationTarget < c.ConfirmationTargetFloor:

		return fmt.Errorf("confirmation target %d must be at least "+
			"the floor %d (>= 1)", c.ConfirmationTarget,
			c.ConfirmationTargetFloor)
	case c.ConfirmationTargetReductionRate <= 0 ||
		c.ConfirmationTargetReductionRate > 1:

		return errors.New("confirmation target reduction rate must " +
			"be in (0, 1]")
	case c.FallbackFeeRate.Rat == nil:
		return errors.New("fallback fee rate must be set")
	}

	for _, d := range []time.Duration{
		c.Timeouts.InputRegistration,
		c.Timeouts.ConnectionConfirmation,
		c.Timeouts.OutputRegistration, c.Timeouts.Signing,
		c.Timeouts.AliceLiveness,
	} {
		if d <= 0 {
			return errors.New("phase timeouts must be positive")
		}
	}

	return nil
}
