// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixclient

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrNoOpenRound is returned when the coordinator has no round in
	// input registration.
	ErrNoOpenRound = errors.New("no round is open for registration")

	// ErrNoEligibleCoins is returned when no selection of waiting coins
	// covers the round's requirement.
	ErrNoEligibleCoins = errors.New("no eligible coins")
)

// Reason classifies why a session ended without a transaction.
type Reason uint8

const (
	// ReasonTimeout is a round or a step that ran out of time.
	ReasonTimeout Reason = iota

	// ReasonRejected is a request the coordinator refused.
	ReasonRejected

	// ReasonRoundAborted is a round that failed for another reason.
	ReasonRoundAborted

	// ReasonDisconnected is a session that was cancelled or lost its
	// connection to the coordinator.
	ReasonDisconnected

	// ReasonVerification is a joint transaction or signature that did not
	// check out. The session refuses to sign in that round.
	ReasonVerification
)

var reasonStrings = map[Reason]string{
	ReasonTimeout:      "timeout",
	ReasonRejected:     "rejected",
	ReasonRoundAborted: "round aborted",
	ReasonDisconnected: "disconnected",
	ReasonVerification: "verification failed",
}

func (r Reason) String() string {
	if s, ok := reasonStrings[r]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Reason (%d)", uint8(r))
}

// SessionError is the error a session ends with.
type SessionError struct {
	Reason      Reason
	RoundID     uint64
	Description string
	Err         error
}

func (e SessionError) Error() string {
	msg := fmt.Sprintf("round %d: %v: %s", e.RoundID, e.Reason,
		e.Description)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e SessionError) Unwrap() error {
	return e.Err
}

// IsReason reports whether err is a SessionError with the given reason.
func IsReason(err error, reason Reason) bool {
	var e SessionError
	return errors.As(err, &e) && e.Reason == reason
}

// isTransient reports whether a call failed in a way worth retrying.
func isTransient(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted:
		return true
	}
	return false
}

// classify converts a failed coordinator call to a SessionError.
func classify(roundID uint64, desc string, err error) SessionError {
	reason := ReasonRejected
	switch status.Code(err) {
	case codes.Aborted:
		reason = ReasonRoundAborted
	case codes.DeadlineExceeded:
		reason = ReasonTimeout
	case codes.Unavailable, codes.Canceled:
		reason = ReasonDisconnected
	}

	return SessionError{
		Reason:      reason,
		RoundID:     roundID,
		Description: desc,
		Err:         err,
	}
}
