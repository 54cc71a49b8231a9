// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/coinjoin"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrUnknownRound indicates the round id is not an active round.
	ErrUnknownRound ErrorCode = iota

	// ErrWrongPhase indicates the request is not valid in the round's
	// current phase.
	ErrWrongPhase

	// ErrUnknownParticipant indicates the participant id is not
	// registered in the round.
	ErrUnknownParticipant

	// ErrInputBanned indicates one or more inputs are banned. The
	// Banned field of the Error lists them.
	ErrInputBanned

	// ErrInputNotFound indicates an input is spent or does not exist.
	ErrInputNotFound

	// ErrInputUnconfirmed indicates an unconfirmed input that is not an
	// output of one of our own coinjoins.
	ErrInputUnconfirmed

	// ErrInvalidInput indicates an input with an unsupported script or
	// an invalid ownership proof.
	ErrInvalidInput

	// ErrTooManyInputs indicates a registration outside the allowed
	// number of inputs.
	ErrTooManyInputs

	// ErrInsufficientFunds indicates the inputs do not cover the
	// denomination and fees.
	ErrInsufficientFunds

	// ErrAlreadyRegistered indicates an input, output or signature was
	// already registered.
	ErrAlreadyRegistered

	// ErrInvalidOutput indicates an unsupported output or change script.
	ErrInvalidOutput

	// ErrInvalidBlindSignature indicates an output whose unblinded
	// signature does not verify, or a blinded output that could not be
	// signed.
	ErrInvalidBlindSignature

	// ErrInvalidCommitment indicates a round commitment hash mismatch.
	ErrInvalidCommitment

	// ErrInvalidWitness indicates a witness that does not satisfy its
	// input script.
	ErrInvalidWitness

	// ErrTimeout indicates a phase did not complete within its window.
	ErrTimeout

	// ErrRoundAborted indicates the round was aborted.
	ErrRoundAborted

	// ErrBackend indicates a failure of the chain backend or database.
	ErrBackend
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrUnknownRound:          "ErrUnknownRound",
	ErrWrongPhase:            "ErrWrongPhase",
	ErrUnknownParticipant:    "ErrUnknownParticipant",
	ErrInputBanned:           "ErrInputBanned",
	ErrInputNotFound:         "ErrInputNotFound",
	ErrInputUnconfirmed:      "ErrInputUnconfirmed",
	ErrInvalidInput:          "ErrInvalidInput",
	ErrTooManyInputs:         "ErrTooManyInputs",
	ErrInsufficientFunds:     "ErrInsufficientFunds",
	ErrAlreadyRegistered:     "ErrAlreadyRegistered",
	ErrInvalidOutput:         "ErrInvalidOutput",
	ErrInvalidBlindSignature: "ErrInvalidBlindSignature",
	ErrInvalidCommitment:     "ErrInvalidCommitment",
	ErrInvalidWitness:        "ErrInvalidWitness",
	ErrTimeout:               "ErrTimeout",
	ErrRoundAborted:          "ErrRoundAborted",
	ErrBackend:               "ErrBackend",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// BannedInput is a rejected input together with the end of its ban.
type BannedInput struct {
	OutPoint    wire.OutPoint
	BannedUntil time.Time
}

// Error provides a single type for errors returned to participants.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error

	// Banned is set for ErrInputBanned.
	Banned []BannedInput
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// IsError returns whether err is an Error with a matching error code.
func IsError(err error, code ErrorCode) bool {
	var e Error
	return errors.As(err, &e) && e.ErrorCode == code
}

// IsTimeout reports whether err classifies a failure as a timeout rather
// than misbehavior.
func IsTimeout(err error) bool {
	return IsError(err, ErrTimeout)
}

func coordError(c ErrorCode, desc string, err error) Error {
	return Error{ErrorCode: c, Description: desc, Err: err}
}

func wrongPhase(op string, phase coinjoin.Phase) Error {
	return coordError(ErrWrongPhase,
		fmt.Sprintf("%s is not allowed in phase %v", op, phase), nil)
}
