package coordinator

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/banlist"
	"github.com/btcsuite/btcjoin/blindsig"
	"github.com/btcsuite/btcjoin/chain"
	"github.com/btcsuite/btcjoin/coinjoin"
	"github.com/btcsuite/btcjoin/pkg/unit"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

var testStart = time.Unix(1_700_000_000, 0)

const testDenomination = btcutil.Amount(1_000_000)

// testFees are the fees of rounds created by newTestRound.
var testFees = coinjoin.FeeSchedule{FeePerInput: 1000, FeePerOutput: 500}

// testFeeRate is the node's fee estimate in coordinator tests. It prices a
// p2wpkh input at 690 and an output at 310 satoshis.
var testFeeRate = unit.SatPerKVByteFromAmount(10_000)

var errPublish = errors.New("publish failed")

// testBackend is an in-memory chain backend.
type testBackend struct {
	mu         sync.Mutex
	utxos      map[wire.OutPoint]*chain.UtxoInfo
	published  []*wire.MsgTx
	publishErr error
	targets    []uint32
}

var _ chain.Backend = (*testBackend)(nil)

func newTestBackend() *testBackend {
	return &testBackend{utxos: make(map[wire.OutPoint]*chain.UtxoInfo)}
}

func (b *testBackend) addUtxo(in Input, confs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.utxos[in.OutPoint] = &chain.UtxoInfo{
		TxOut: in.TxOut, Confirmations: confs,
	}
}

func (b *testBackend) GetTxOut(op wire.OutPoint) (*chain.UtxoInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.utxos[op], nil
}

func (b *testBackend) RawMempool() ([]chainhash.Hash, error) {
	return nil, nil
}

func (b *testBackend) GetRawTransaction(chainhash.Hash) (*wire.MsgTx, error) {
	return nil, errors.New("not found")
}

func (b *testBackend) EstimateFeeRate(target uint32) (unit.SatPerKVByte,
	error) {

	b.mu.Lock()
	defer b.mu.Unlock()

	b.targets = append(b.targets, target)
	return testFeeRate, nil
}

func (b *testBackend) PublishTransaction(tx *wire.MsgTx) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, tx)
	return nil
}

func (b *testBackend) publishedTxs() []*wire.MsgTx {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]*wire.MsgTx(nil), b.published...)
}

type testMempool struct {
	txids []chainhash.Hash
}

func (m *testMempool) TxIDs() []chainhash.Hash {
	return m.txids
}

func p2wpkhScript(t *testing.T, pub *btcec.PublicKey) []byte {
	t.Helper()

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pub.SerializeCompressed()),
		&chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	return script
}

// testAlice plays a client through the phases of a round.
type testAlice struct {
	key          *btcec.PrivateKey
	inputs       []Input
	changeScript []byte
	outScript    []byte

	nonce   *btcec.PublicKey
	blinded []byte
	factor  *blindsig.BlindingFactor

	id        uuid.UUID
	outputSig []byte
}

func newTestAlice(t *testing.T, values ...btcutil.Amount) *testAlice {
	t.Helper()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	changeKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	outKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	a := &testAlice{
		key:          key,
		changeScript: p2wpkhScript(t, changeKey.PubKey()),
		outScript:    p2wpkhScript(t, outKey.PubKey()),
	}

	pkScript := p2wpkhScript(t, key.PubKey())
	seed := key.PubKey().SerializeCompressed()
	for i, v := range values {
		a.inputs = append(a.inputs, Input{
			OutPoint: wire.OutPoint{
				Hash:  chainhash.HashH(append(seed, byte(i))),
				Index: uint32(i),
			},
			TxOut: wire.NewTxOut(int64(v), pkScript),
		})
	}

	return a
}

func (a *testAlice) outPoints() []wire.OutPoint {
	ops := make([]wire.OutPoint, len(a.inputs))
	for i, in := range a.inputs {
		ops[i] = in.OutPoint
	}
	return ops
}

// blind requests a nonce from r and blinds the output script.
func (a *testAlice) blind(t *testing.T, r *Round) {
	t.Helper()

	nonce, err := r.RequestNonce()
	require.NoError(t, err)

	blinded, factor, err := blindsig.Blind(
		r.Status().SignerKey, nonce, a.outScript,
	)
	require.NoError(t, err)

	a.nonce, a.blinded, a.factor = nonce, blinded, factor
}

func (a *testAlice) registration() *AliceRegistration {
	return &AliceRegistration{
		Inputs:        a.inputs,
		ChangeScript:  a.changeScript,
		BlindedOutput: a.blinded,
		Nonce:         a.nonce,
	}
}

// request builds a coordinator registration with ownership proofs.
func (a *testAlice) request(roundID uint64) *InputRegistration {
	req := &InputRegistration{
		RoundID:       roundID,
		ChangeScript:  a.changeScript,
		BlindedOutput: a.blinded,
		Nonce:         a.nonce,
	}
	for _, in := range a.inputs {
		op := in.OutPoint
		digest := coinjoin.OwnershipDigest(roundID, a.blinded, &op)
		req.Inputs = append(req.Inputs, InputProof{
			OutPoint: op,
			Proof:    coinjoin.SignOwnershipProof(a.key, digest),
		})
	}
	return req
}

func (a *testAlice) register(t *testing.T, r *Round) {
	t.Helper()

	a.blind(t, r)
	id, err := r.RegisterAlice(a.registration())
	require.NoError(t, err)
	a.id = id
}

// confirm confirms the connection and unblinds the output signature once
// the round hands it out.
func (a *testAlice) confirm(t *testing.T, r *Round) *Confirmation {
	t.Helper()

	conf, err := r.ConfirmConnection(a.id)
	require.NoError(t, err)

	if conf.BlindSignature != nil && a.outputSig == nil {
		sig, err := blindsig.Unblind(conf.BlindSignature, a.factor)
		require.NoError(t, err)
		a.outputSig = sig
	}

	return conf
}

func (a *testAlice) registerOutput(t *testing.T, r *Round) {
	t.Helper()

	conf := a.confirm(t, r)
	commitment := conf.Commitment.UnwrapOr(chainhash.Hash{})
	require.NoError(t, r.RegisterOutput(a.outScript, a.outputSig, commitment))
}

// sign signs the participant's inputs of the round's joint transaction.
func (a *testAlice) sign(t *testing.T, r *Round) map[int]wire.TxWitness {
	t.Helper()

	b64, err := r.UnsignedTransaction(a.id)
	require.NoError(t, err)

	packet, err := psbt.NewFromRawBytes(strings.NewReader(b64), true)
	require.NoError(t, err)

	tx := packet.UnsignedTx
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range packet.Inputs {
		fetcher.AddPrevOut(tx.TxIn[i].PreviousOutPoint, in.WitnessUtxo)
	}
	hashes := txscript.NewTxSigHashes(tx, fetcher)

	mine := make(map[wire.OutPoint]Input)
	for _, in := range a.inputs {
		mine[in.OutPoint] = in
	}

	witnesses := make(map[int]wire.TxWitness)
	for i, txIn := range tx.TxIn {
		in, ok := mine[txIn.PreviousOutPoint]
		if !ok {
			continue
		}

		w, err := txscript.WitnessSignature(
			tx, hashes, i, in.TxOut.Value, in.TxOut.PkScript,
			txscript.SigHashAll, a.key, true,
		)
		require.NoError(t, err)
		witnesses[i] = w
	}
	require.Len(t, witnesses, len(a.inputs))

	return witnesses
}

// runToSigning moves alices registered in r through connection
// confirmation and output registration.
func runToSigning(t *testing.T, r *Round, alices ...*testAlice) {
	t.Helper()

	require.Equal(t, coinjoin.PhaseConnectionConfirmation, r.Phase())
	for _, a := range alices {
		a.confirm(t, r)
	}
	require.Equal(t, coinjoin.PhaseOutputRegistration, r.Phase())

	for _, a := range alices {
		a.registerOutput(t, r)
	}
	require.Equal(t, coinjoin.PhaseSigning, r.Phase())
}

func newTestDB(t *testing.T) walletdb.DB {
	t.Helper()

	db, err := walletdb.Create(
		"bdb", filepath.Join(t.TempDir(), "coordinator.db"), true,
		10*time.Second, false,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	return db
}

func testTimeouts() Timeouts {
	return Timeouts{
		InputRegistration:      time.Hour,
		ConnectionConfirmation: time.Minute,
		OutputRegistration:     time.Minute,
		Signing:                time.Minute,
		AliceLiveness:          10 * time.Minute,
	}
}

// newTestRound creates a round with testFees and testDenomination.
func newTestRound(t *testing.T, anonSet, minAnonSet int,
	clk clock.Clock, publish func(*wire.MsgTx) error) *Round {

	t.Helper()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	if publish == nil {
		publish = func(*wire.MsgTx) error { return nil }
	}

	return NewRound(RoundParams{
		ID:                 1,
		Denomination:       testDenomination,
		Fees:               testFees,
		ConfirmationTarget: 6,
		AnonymitySet:       anonSet,
		MinAnonymitySet:    minAnonSet,
		MaxInputsPerAlice:  3,
		Timeouts:           testTimeouts(),
		Signer:             blindsig.NewSigner(key, 0),
		Publish:            publish,
		Clock:              clk,
	})
}

type testCoordinator struct {
	*Coordinator

	backend *testBackend
	mempool *testMempool
	bans    *banlist.BanList
	clock   *clock.TestClock
	ticker  *ticker.Force
}

func newTestCoordinator(t *testing.T,
	modify func(*RoundConfig)) *testCoordinator {

	t.Helper()

	db := newTestDB(t)
	clk := clock.NewTestClock(testStart)

	bans, err := banlist.New(db, banlist.Config{
		BanDuration: 24 * time.Hour, Clock: clk,
	})
	require.NoError(t, err)

	cjLog, err := OpenCoinJoinLog(filepath.Join(t.TempDir(), "cj.txt"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, cjLog.Close())
	})

	cfg := DefaultRoundConfig()
	cfg.Denomination = testDenomination
	cfg.MinDenomination = 100_000
	cfg.AnonymitySet = 2
	cfg.MinAnonymitySet = 2
	cfg.MaxInputsPerAlice = 3
	cfg.Timeouts = testTimeouts()
	if modify != nil {
		modify(&cfg)
	}

	backend := newTestBackend()
	mempool := &testMempool{}
	force := ticker.NewForce(time.Hour)

	c, err := New(Config{
		Round:       cfg,
		DB:          db,
		BanList:     bans,
		Backend:     backend,
		Mempool:     mempool,
		CoinJoins:   cjLog,
		ChainParams: &chaincfg.RegressionNetParams,
		Ticker:      force,
		Clock:       clk,
	})
	require.NoError(t, err)
	require.NoError(t, c.Start())
	t.Cleanup(c.Stop)

	return &testCoordinator{
		Coordinator: c,
		backend:     backend,
		mempool:     mempool,
		bans:        bans,
		clock:       clk,
		ticker:      force,
	}
}

// register funds a new alice on chain and registers it in roundID.
func (tc *testCoordinator) register(t *testing.T, roundID uint64,
	values ...btcutil.Amount) *testAlice {

	t.Helper()

	a := newTestAlice(t, values...)
	for _, in := range a.inputs {
		tc.backend.addUtxo(in, 6)
	}

	r, err := tc.Round(roundID)
	require.NoError(t, err)
	a.blind(t, r)

	id, err := tc.RegisterInput(a.request(roundID))
	require.NoError(t, err)
	a.id = id

	return a
}

// tick runs one iteration of the coordinator's timeout loop.
func (tc *testCoordinator) tick() {
	tc.ticker.Force <- tc.clock.Now()
}

func (tc *testCoordinator) openRoundIDs() []uint64 {
	var ids []uint64
	for _, s := range tc.OpenRounds() {
		ids = append(ids, s.ID)
	}
	return ids
}
