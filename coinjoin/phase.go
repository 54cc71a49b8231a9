// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package coinjoin holds the protocol primitives shared by the round
// coordinator and the mixing client: round phases, the fee schedule, the
// round commitment hash and input ownership proofs.
package coinjoin

import "fmt"

// Phase is a step of the round state machine. Phases are ordered and a round
// only ever moves to a higher phase.
type Phase uint8

const (
	// PhaseInputRegistration accepts new participants.
	PhaseInputRegistration Phase = iota

	// PhaseConnectionConfirmation waits for every registered participant
	// to confirm it is still online.
	PhaseConnectionConfirmation

	// PhaseOutputRegistration accepts anonymous outputs carrying an
	// unblinded signature.
	PhaseOutputRegistration

	// PhaseSigning collects witnesses for the joint transaction.
	PhaseSigning

	// PhaseSucceeded is the terminal phase of a broadcast round.
	PhaseSucceeded

	// PhaseAborted is the terminal phase of a failed round.
	PhaseAborted
)

var phaseStrings = map[Phase]string{
	PhaseInputRegistration:      "InputRegistration",
	PhaseConnectionConfirmation: "ConnectionConfirmation",
	PhaseOutputRegistration:     "OutputRegistration",
	PhaseSigning:                "Signing",
	PhaseSucceeded:              "Succeeded",
	PhaseAborted:                "Aborted",
}

// String returns the phase name.
func (p Phase) String() string {
	if s, ok := phaseStrings[p]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Phase (%d)", uint8(p))
}

// IsTerminal returns true for Succeeded and Aborted.
func (p Phase) IsTerminal() bool {
	return p == PhaseSucceeded || p == PhaseAborted
}

// Next returns the phase that follows p in a successful round. Terminal
// phases have no successor and are returned unchanged.
func (p Phase) Next() Phase {
	if p.IsTerminal() {
		return p
	}
	return p + 1
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	if _, ok := phaseStrings[p]; !ok {
		return nil, fmt.Errorf("unknown phase %d", uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	for phase, name := range phaseStrings {
		if name == string(text) {
			*p = phase
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}
