package coinjoin

import (
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/pkg/unit"
	"github.com/stretchr/testify/require"
)

func p2wpkhScript(t *testing.T, key *btcec.PrivateKey) []byte {
	t.Helper()

	pkh := btcutil.Hash160(key.PubKey().SerializeCompressed())
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).AddData(pkh).Script()
	require.NoError(t, err)

	return script
}

// TestPhaseOrder checks that phases advance monotonically and terminal phases
// stay put.
func TestPhaseOrder(t *testing.T) {
	t.Parallel()

	seen := []Phase{PhaseInputRegistration}
	for p := PhaseInputRegistration; !p.IsTerminal(); p = p.Next() {
		require.Greater(t, uint8(p.Next()), uint8(p))
		seen = append(seen, p.Next())
	}
	require.Equal(t, []Phase{
		PhaseInputRegistration, PhaseConnectionConfirmation,
		PhaseOutputRegistration, PhaseSigning, PhaseSucceeded,
	}, seen)

	require.Equal(t, PhaseAborted, PhaseAborted.Next())
	require.Equal(t, PhaseSucceeded, PhaseSucceeded.Next())
}

// TestPhaseText checks the JSON form of a phase.
func TestPhaseText(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(PhaseOutputRegistration)
	require.NoError(t, err)
	require.Equal(t, `"OutputRegistration"`, string(b))

	var p Phase
	require.NoError(t, json.Unmarshal([]byte(`"Signing"`), &p))
	require.Equal(t, PhaseSigning, p)

	require.Error(t, json.Unmarshal([]byte(`"Mixing"`), &p))
	require.Equal(t, "Unknown Phase (9)", Phase(9).String())
}

// TestCommitmentHash checks the commitment is independent of the order the
// inputs are given in and binds the round id.
func TestCommitmentHash(t *testing.T) {
	t.Parallel()

	a := wire.OutPoint{Hash: chainhash.Hash{1}, Index: 3}
	b := wire.OutPoint{Hash: chainhash.Hash{1}, Index: 1}
	c := wire.OutPoint{Hash: chainhash.Hash{0, 9}, Index: 7}

	h1 := CommitmentHash(7, []wire.OutPoint{a, b, c})
	h2 := CommitmentHash(7, []wire.OutPoint{c, a, b})
	require.Equal(t, h1, h2)

	require.NotEqual(t, h1, CommitmentHash(8, []wire.OutPoint{a, b, c}))
	require.NotEqual(t, h1, CommitmentHash(7, []wire.OutPoint{a, b}))

	ops := []wire.OutPoint{a, b, c}
	SortOutPoints(ops)
	require.Equal(t, []wire.OutPoint{c, b, a}, ops)
}

// TestOwnershipProof checks proofs verify only against the prevout script of
// the signing key and the digest they were made for.
func TestOwnershipProof(t *testing.T) {
	t.Parallel()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	op := wire.OutPoint{Hash: chainhash.Hash{5}, Index: 2}
	digest := OwnershipDigest(11, []byte("blinded"), &op)
	proof := SignOwnershipProof(key, digest)

	require.NoError(t, VerifyOwnershipProof(
		p2wpkhScript(t, key), proof, digest,
	))

	err = VerifyOwnershipProof(p2wpkhScript(t, other), proof, digest)
	require.ErrorIs(t, err, ErrInvalidProof)

	wrong := OwnershipDigest(12, []byte("blinded"), &op)
	err = VerifyOwnershipProof(p2wpkhScript(t, key), proof, wrong)
	require.ErrorIs(t, err, ErrInvalidProof)

	err = VerifyOwnershipProof([]byte{txscript.OP_TRUE}, proof, digest)
	require.ErrorIs(t, err, ErrUnsupportedScript)

	err = VerifyOwnershipProof(p2wpkhScript(t, key), []byte{1}, digest)
	require.ErrorIs(t, err, ErrInvalidProof)
}

// TestOutPointEncoding checks the binary and string outpoint forms.
func TestOutPointEncoding(t *testing.T) {
	t.Parallel()

	op := wire.OutPoint{Hash: chainhash.Hash{0xaa, 0xbb}, Index: 513}

	decoded, err := DeserializeOutPoint(SerializeOutPoint(&op))
	require.NoError(t, err)
	require.Equal(t, op, decoded)

	_, err = DeserializeOutPoint([]byte{1, 2, 3})
	require.Error(t, err)

	parsed, err := ParseOutPoint(op.String())
	require.NoError(t, err)
	require.Equal(t, op, parsed)

	for _, bad := range []string{"", "abc", op.Hash.String() + ":x"} {
		_, err := ParseOutPoint(bad)
		require.Error(t, err, bad)
	}
}

// TestFeeSchedule checks the amounts derived from a fee schedule.
func TestFeeSchedule(t *testing.T) {
	t.Parallel()

	require.Equal(t, unit.VByte(69), InputVSize)
	require.Equal(t, unit.VByte(31), OutputVSize)

	fees := NewFeeSchedule(unit.SatPerKVByteFromAmount(10_000))
	require.Equal(t, btcutil.Amount(690), fees.FeePerInput)
	require.Equal(t, btcutil.Amount(310), fees.FeePerOutput)

	fees = FeeSchedule{FeePerInput: 10_000, FeePerOutput: 20_000}
	require.Equal(t, btcutil.Amount(10_050_000),
		fees.RequiredAmount(10_000_000, 1))
	require.Equal(t, btcutil.Amount(-50_000),
		fees.Change(10_000_000, 10_000_000, 1))
	require.Equal(t, btcutil.Amount(10_000),
		fees.Change(10_070_000, 10_000_000, 2))
}
