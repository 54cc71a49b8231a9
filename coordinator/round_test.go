package coordinator

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/coinjoin"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

// collectPhases drains the phase changes a subscription received so far.
func collectPhases(t *testing.T, sub *Subscription) []coinjoin.Phase {
	t.Helper()

	var phases []coinjoin.Phase
	for {
		select {
		case update := <-sub.Updates():
			if e, ok := update.(*PhaseChanged); ok {
				phases = append(phases, e.To)
			}

		case <-time.After(100 * time.Millisecond):
			return phases
		}
	}
}

// TestRoundSuccess runs two participants through every phase and checks
// the published transaction.
func TestRoundSuccess(t *testing.T) {
	t.Parallel()

	var published *wire.MsgTx
	r := newTestRound(t, 2, 2, clock.NewTestClock(testStart),
		func(tx *wire.MsgTx) error {
			published = tx
			return nil
		},
	)
	sub := r.Subscribe()
	defer sub.Cancel()

	alice := newTestAlice(t, 1_100_000)
	bob := newTestAlice(t, 600_000, 500_000)

	alice.register(t, r)
	require.Equal(t, coinjoin.PhaseInputRegistration, r.Phase())
	bob.register(t, r)

	runToSigning(t, r, alice, bob)

	require.NoError(t, r.SubmitSignatures(alice.id, alice.sign(t, r)))
	require.Equal(t, coinjoin.PhaseSigning, r.Phase())
	require.NoError(t, r.SubmitSignatures(bob.id, bob.sign(t, r)))
	require.Equal(t, coinjoin.PhaseSucceeded, r.Phase())

	require.NotNil(t, published)
	require.Len(t, published.TxIn, 3)

	// Two mixed outputs and two change outputs.
	values := make(map[int64]int)
	for _, out := range published.TxOut {
		values[out.Value]++
	}
	aliceChange := testFees.Change(1_100_000, testDenomination, 1)
	bobChange := testFees.Change(1_100_000, testDenomination, 2)
	require.Equal(t, map[int64]int{
		int64(testDenomination): 2,
		int64(aliceChange):      1,
		int64(bobChange):        1,
	}, values, spew.Sdump(published))

	fee := btcutil.Amount(2_200_000) -
		txauthor.SumOutputValues(published.TxOut)
	require.Equal(t, 3*testFees.FeePerInput+4*testFees.FeePerOutput, fee)

	tx := r.SignedTransaction().UnwrapOr(nil)
	require.NotNil(t, tx)
	require.Equal(t, published.TxHash(), tx.TxHash())

	require.Equal(t, []coinjoin.Phase{
		coinjoin.PhaseConnectionConfirmation,
		coinjoin.PhaseOutputRegistration,
		coinjoin.PhaseSigning,
		coinjoin.PhaseSucceeded,
	}, collectPhases(t, sub))
}

// TestRoundRejectsLateRegistration checks registrations are only accepted
// during input registration.
func TestRoundRejectsLateRegistration(t *testing.T) {
	t.Parallel()

	r := newTestRound(t, 1, 1, clock.NewTestClock(testStart), nil)
	alice := newTestAlice(t, 1_100_000)
	alice.register(t, r)
	require.Equal(t, coinjoin.PhaseConnectionConfirmation, r.Phase())

	_, err := r.RequestNonce()
	require.True(t, IsError(err, ErrWrongPhase))

	late := newTestAlice(t, 1_100_000)
	_, err = r.RegisterAlice(late.registration())
	require.True(t, IsError(err, ErrWrongPhase))
}

// TestRoundRegisterAliceValidation covers the checks of the round itself.
func TestRoundRegisterAliceValidation(t *testing.T) {
	t.Parallel()

	r := newTestRound(t, 5, 2, clock.NewTestClock(testStart), nil)

	alice := newTestAlice(t, 1_100_000)
	alice.register(t, r)

	// The same inputs cannot register twice.
	dup := newTestAlice(t)
	dup.inputs = alice.inputs
	dup.blind(t, r)
	_, err := r.RegisterAlice(dup.registration())
	require.True(t, IsError(err, ErrAlreadyRegistered))

	// Nor can a nonce be reused.
	reuse := newTestAlice(t, 1_100_000)
	reuse.nonce, reuse.blinded = alice.nonce, alice.blinded
	_, err = r.RegisterAlice(reuse.registration())
	require.True(t, IsError(err, ErrAlreadyRegistered))

	many := newTestAlice(t, 1, 2, 3, 4)
	many.blind(t, r)
	_, err = r.RegisterAlice(many.registration())
	require.True(t, IsError(err, ErrTooManyInputs))

	malformed := newTestAlice(t, 1_100_000)
	malformed.blind(t, r)
	malformed.blinded = malformed.blinded[:10]
	_, err = r.RegisterAlice(malformed.registration())
	require.True(t, IsError(err, ErrInvalidBlindSignature))

	require.Equal(t, 1, r.Status().Registered)
}

// TestRoundOutputRegistration covers output validation.
func TestRoundOutputRegistration(t *testing.T) {
	t.Parallel()

	r := newTestRound(t, 2, 2, clock.NewTestClock(testStart), nil)
	alice := newTestAlice(t, 1_100_000)
	bob := newTestAlice(t, 1_100_000)
	alice.register(t, r)
	bob.register(t, r)

	// Outputs are not accepted before every participant confirmed.
	conf := alice.confirm(t, r)
	require.Equal(t, coinjoin.PhaseConnectionConfirmation, conf.Phase)
	require.False(t, conf.Commitment.IsSome())
	err := r.RegisterOutput(alice.outScript, alice.outputSig,
		chainhash.Hash{})
	require.True(t, IsError(err, ErrWrongPhase))

	conf = bob.confirm(t, r)
	require.Equal(t, coinjoin.PhaseOutputRegistration, conf.Phase)
	commitment := conf.Commitment.UnwrapOr(chainhash.Hash{})

	expected := coinjoin.CommitmentHash(
		1, append(alice.outPoints(), bob.outPoints()...),
	)
	require.Equal(t, expected, commitment)

	err = r.RegisterOutput(alice.outScript, alice.outputSig,
		chainhash.Hash{1})
	require.True(t, IsError(err, ErrInvalidCommitment))

	// A signature only verifies for the script it was made for.
	err = r.RegisterOutput(bob.outScript, alice.outputSig, commitment)
	require.True(t, IsError(err, ErrInvalidBlindSignature))

	err = r.RegisterOutput([]byte{0x51}, alice.outputSig, commitment)
	require.True(t, IsError(err, ErrInvalidOutput))

	require.NoError(t, r.RegisterOutput(
		alice.outScript, alice.outputSig, commitment,
	))
	err = r.RegisterOutput(alice.outScript, alice.outputSig, commitment)
	require.True(t, IsError(err, ErrAlreadyRegistered))

	require.Equal(t, coinjoin.PhaseOutputRegistration, r.Phase())
}

// TestRoundInvalidWitnessAborts checks that a bad witness aborts the
// round and that the offender is reported as a non-signer.
func TestRoundInvalidWitnessAborts(t *testing.T) {
	t.Parallel()

	r := newTestRound(t, 2, 2, clock.NewTestClock(testStart), nil)
	alice := newTestAlice(t, 1_100_000)
	bob := newTestAlice(t, 1_100_000)
	alice.register(t, r)
	bob.register(t, r)
	runToSigning(t, r, alice, bob)

	require.NoError(t, r.SubmitSignatures(alice.id, alice.sign(t, r)))

	// An index that belongs to somebody else is rejected without abort.
	aliceWitnesses := alice.sign(t, r)
	err := r.SubmitSignatures(bob.id, aliceWitnesses)
	require.True(t, IsError(err, ErrInvalidWitness))
	require.Equal(t, coinjoin.PhaseSigning, r.Phase())

	witnesses := bob.sign(t, r)
	for idx, w := range witnesses {
		sig := append([]byte(nil), w[0]...)
		sig[len(sig)/2] ^= 0xff
		witnesses[idx] = wire.TxWitness{sig, w[1]}
	}
	err = r.SubmitSignatures(bob.id, witnesses)
	require.True(t, IsError(err, ErrInvalidWitness))

	state := r.Status()
	require.Equal(t, coinjoin.PhaseAborted, state.Phase)
	require.Equal(t, coinjoin.PhaseSigning, state.AbortedIn)
	require.True(t, IsError(state.AbortReason, ErrInvalidWitness))

	nonSigners, signers := r.NonSigners()
	require.Equal(t, 1, signers)
	require.Equal(t, bob.outPoints(), nonSigners)
}

// TestRoundPublishFailure checks a failed broadcast aborts the round.
func TestRoundPublishFailure(t *testing.T) {
	t.Parallel()

	r := newTestRound(t, 1, 1, clock.NewTestClock(testStart),
		func(*wire.MsgTx) error { return errPublish },
	)
	alice := newTestAlice(t, 1_100_000)
	alice.register(t, r)
	runToSigning(t, r, alice)

	require.NoError(t, r.SubmitSignatures(alice.id, alice.sign(t, r)))

	state := r.Status()
	require.Equal(t, coinjoin.PhaseAborted, state.Phase)
	require.ErrorIs(t, state.AbortReason, errPublish)
	require.False(t, r.SignedTransaction().IsSome())
}

// TestRoundAbortOnce checks only the first abort reason is kept and that
// terminal rounds never change phase again.
func TestRoundAbortOnce(t *testing.T) {
	t.Parallel()

	r := newTestRound(t, 2, 2, clock.NewTestClock(testStart), nil)
	first := coordError(ErrTimeout, "first", nil)

	r.Abort(first)
	r.Abort(coordError(ErrRoundAborted, "second", nil))

	state := r.Status()
	require.Equal(t, coinjoin.PhaseAborted, state.Phase)
	require.Equal(t, coinjoin.PhaseInputRegistration, state.AbortedIn)
	require.Equal(t, first, state.AbortReason)

	require.Error(t, r.UpdateAnonymitySet(1))
	r.CheckTimeout(testStart.Add(24 * time.Hour))
	require.Equal(t, coinjoin.PhaseAborted, r.Phase())

	_, err := r.ConfirmConnection(newTestAlice(t).id)
	require.True(t, IsError(err, ErrRoundAborted))
}

// TestRoundInputRegistrationTimeout covers the registration window.
func TestRoundInputRegistrationTimeout(t *testing.T) {
	t.Parallel()

	clk := clock.NewTestClock(testStart)
	r := newTestRound(t, 5, 2, clk, nil)
	timeouts := testTimeouts()

	alice := newTestAlice(t, 1_100_000)
	alice.register(t, r)

	// One participant is below the minimum: the window restarts.
	restart := testStart.Add(timeouts.InputRegistration)
	clk.SetTime(restart)
	_, err := r.ConfirmConnection(alice.id)
	require.NoError(t, err)
	r.CheckTimeout(restart)
	require.Equal(t, coinjoin.PhaseInputRegistration, r.Phase())
	require.Equal(t, restart, r.Status().PhaseStart)

	bob := newTestAlice(t, 1_100_000)
	bob.register(t, r)

	// Two participants meet the minimum: the set shrinks and the round
	// advances.
	next := restart.Add(timeouts.InputRegistration)
	clk.SetTime(next.Add(-time.Minute))
	_, err = r.ConfirmConnection(alice.id)
	require.NoError(t, err)
	_, err = r.ConfirmConnection(bob.id)
	require.NoError(t, err)

	r.CheckTimeout(next)
	state := r.Status()
	require.Equal(t, coinjoin.PhaseConnectionConfirmation, state.Phase)
	require.Equal(t, 2, state.AnonymitySet)
}

// TestRoundDropsSilentAlices checks participants that stop confirming
// during input registration are dropped without being noted.
func TestRoundDropsSilentAlices(t *testing.T) {
	t.Parallel()

	clk := clock.NewTestClock(testStart)
	r := newTestRound(t, 5, 2, clk, nil)
	sub := r.Subscribe()
	defer sub.Cancel()

	alice := newTestAlice(t, 1_100_000)
	bob := newTestAlice(t, 1_100_000)
	alice.register(t, r)
	bob.register(t, r)

	later := testStart.Add(testTimeouts().AliceLiveness)
	clk.SetTime(later.Add(-time.Second))
	_, err := r.ConfirmConnection(alice.id)
	require.NoError(t, err)

	r.CheckTimeout(later)
	require.Equal(t, 1, r.Status().Registered)
	require.False(t, r.HasInput(bob.inputs[0].OutPoint))
	require.True(t, r.HasInput(alice.inputs[0].OutPoint))

	var dropped *AlicesDropped
	require.Eventually(t, func() bool {
		select {
		case update := <-sub.Updates():
			if e, ok := update.(*AlicesDropped); ok {
				dropped = e
				return true
			}
		default:
		}
		return false
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, bob.outPoints(), dropped.Inputs)
	require.False(t, dropped.Noted)
}

// TestRoundConnectionConfirmationTimeout checks unconfirmed participants
// are dropped and noted, and that the round aborts below the minimum.
func TestRoundConnectionConfirmationTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		confirmed int
		phase     coinjoin.Phase
	}{
		{
			name:      "enough confirmed",
			confirmed: 2,
			phase:     coinjoin.PhaseOutputRegistration,
		},
		{
			name:      "too few confirmed",
			confirmed: 1,
			phase:     coinjoin.PhaseAborted,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			clk := clock.NewTestClock(testStart)
			r := newTestRound(t, 3, 2, clk, nil)

			alices := []*testAlice{
				newTestAlice(t, 1_100_000),
				newTestAlice(t, 1_100_000),
				newTestAlice(t, 1_100_000),
			}
			for _, a := range alices {
				a.register(t, r)
			}
			for _, a := range alices[:tc.confirmed] {
				a.confirm(t, r)
			}

			r.CheckTimeout(testStart.Add(time.Minute))

			state := r.Status()
			require.Equal(t, tc.phase, state.Phase)
			require.Equal(t, tc.confirmed, state.Registered)
			if tc.phase == coinjoin.PhaseAborted {
				require.True(t, IsTimeout(state.AbortReason))
				return
			}

			require.Equal(t, tc.confirmed, state.AnonymitySet)
			conf := alices[0].confirm(t, r)
			require.Equal(t, coinjoin.CommitmentHash(
				1, append(alices[0].outPoints(),
					alices[1].outPoints()...),
			), conf.Commitment.UnwrapOr(chainhash.Hash{}))
		})
	}
}

// TestRoundOutputRegistrationTimeout checks the round signs with the
// outputs it has, or aborts without any.
func TestRoundOutputRegistrationTimeout(t *testing.T) {
	t.Parallel()

	for _, outputs := range []int{0, 1} {
		clk := clock.NewTestClock(testStart)
		r := newTestRound(t, 2, 2, clk, nil)

		alice := newTestAlice(t, 1_100_000)
		bob := newTestAlice(t, 1_100_000)
		alice.register(t, r)
		bob.register(t, r)
		alice.confirm(t, r)
		bob.confirm(t, r)

		if outputs == 1 {
			alice.registerOutput(t, r)
		}

		r.CheckTimeout(testStart.Add(time.Minute))

		if outputs == 0 {
			require.Equal(t, coinjoin.PhaseAborted, r.Phase())
			require.True(t, IsTimeout(r.Status().AbortReason))
			continue
		}

		require.Equal(t, coinjoin.PhaseSigning, r.Phase())

		require.True(t, r.Status().TxID.IsSome())
		require.NoError(t, r.SubmitSignatures(alice.id, alice.sign(t, r)))
		require.NoError(t, r.SubmitSignatures(bob.id, bob.sign(t, r)))
		require.Equal(t, coinjoin.PhaseSucceeded, r.Phase())

		// One mixed output plus both change outputs.
		signed := r.SignedTransaction().UnwrapOr(nil)
		require.Len(t, signed.TxOut, 3)
	}
}

// TestRoundSigningTimeout checks the round aborts and reports who did not
// sign.
func TestRoundSigningTimeout(t *testing.T) {
	t.Parallel()

	clk := clock.NewTestClock(testStart)
	r := newTestRound(t, 2, 2, clk, nil)
	alice := newTestAlice(t, 1_100_000)
	bob := newTestAlice(t, 1_100_000)
	alice.register(t, r)
	bob.register(t, r)
	runToSigning(t, r, alice, bob)

	require.NoError(t, r.SubmitSignatures(alice.id, alice.sign(t, r)))
	err := r.SubmitSignatures(alice.id, alice.sign(t, r))
	require.True(t, IsError(err, ErrAlreadyRegistered))

	r.CheckTimeout(testStart.Add(30 * time.Second))
	require.Equal(t, coinjoin.PhaseSigning, r.Phase())

	r.CheckTimeout(testStart.Add(time.Minute))
	state := r.Status()
	require.Equal(t, coinjoin.PhaseAborted, state.Phase)
	require.Equal(t, coinjoin.PhaseSigning, state.AbortedIn)
	require.True(t, IsTimeout(state.AbortReason))

	nonSigners, signers := r.NonSigners()
	require.Equal(t, 1, signers)
	require.Equal(t, bob.outPoints(), nonSigners)
}

// TestTimeoutsForPhase checks each phase is bounded by its own window and
// terminal phases by none.
func TestTimeoutsForPhase(t *testing.T) {
	t.Parallel()

	timeouts := Timeouts{
		InputRegistration:      time.Hour,
		ConnectionConfirmation: 2 * time.Minute,
		OutputRegistration:     3 * time.Minute,
		Signing:                4 * time.Minute,
		AliceLiveness:          5 * time.Minute,
	}

	tests := []struct {
		phase coinjoin.Phase
		want  time.Duration
	}{
		{coinjoin.PhaseInputRegistration, time.Hour},
		{coinjoin.PhaseConnectionConfirmation, 2 * time.Minute},
		{coinjoin.PhaseOutputRegistration, 3 * time.Minute},
		{coinjoin.PhaseSigning, 4 * time.Minute},
		{coinjoin.PhaseSucceeded, 0},
		{coinjoin.PhaseAborted, 0},
	}

	for _, test := range tests {
		require.Equal(t, test.want, timeouts.forPhase(test.phase),
			test.phase.String())
	}
}

// TestRoundUpdateAnonymitySet checks lowering the target advances a round
// that already has enough participants.
func TestRoundUpdateAnonymitySet(t *testing.T) {
	t.Parallel()

	r := newTestRound(t, 5, 2, clock.NewTestClock(testStart), nil)
	for i := 0; i < 3; i++ {
		newTestAlice(t, 1_100_000).register(t, r)
	}

	require.NoError(t, r.UpdateAnonymitySet(4))
	require.Equal(t, coinjoin.PhaseInputRegistration, r.Phase())

	require.NoError(t, r.UpdateAnonymitySet(3))
	require.Equal(t, coinjoin.PhaseConnectionConfirmation, r.Phase())
	require.True(t, IsError(r.UpdateAnonymitySet(2), ErrWrongPhase))
}

// TestRoundRemoveAlice checks disconnection releases inputs during input
// registration only.
func TestRoundRemoveAlice(t *testing.T) {
	t.Parallel()

	r := newTestRound(t, 2, 2, clock.NewTestClock(testStart), nil)
	alice := newTestAlice(t, 600_000, 600_000)
	alice.register(t, r)

	released, err := r.RemoveAlice(alice.id)
	require.NoError(t, err)
	require.ElementsMatch(t, alice.outPoints(), released)
	require.Zero(t, r.Status().Registered)

	_, err = r.RemoveAlice(alice.id)
	require.True(t, IsError(err, ErrUnknownParticipant))

	bob := newTestAlice(t, 1_100_000)
	carol := newTestAlice(t, 1_100_000)
	bob.register(t, r)
	carol.register(t, r)

	_, err = r.RemoveAlice(bob.id)
	require.True(t, IsError(err, ErrWrongPhase))
}

// TestRoundDropInputs checks participants spending their inputs elsewhere
// are removed.
func TestRoundDropInputs(t *testing.T) {
	t.Parallel()

	r := newTestRound(t, 5, 2, clock.NewTestClock(testStart), nil)
	alice := newTestAlice(t, 600_000, 600_000)
	bob := newTestAlice(t, 1_100_000)
	alice.register(t, r)
	bob.register(t, r)

	released := r.DropInputs([]wire.OutPoint{alice.inputs[1].OutPoint})
	require.ElementsMatch(t, alice.outPoints(), released)
	require.Equal(t, bob.outPoints(), r.Inputs())

	require.Nil(t, r.DropInputs([]wire.OutPoint{{Index: 9}}))
}
