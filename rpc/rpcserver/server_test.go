package rpcserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/banlist"
	"github.com/btcsuite/btcjoin/blindsig"
	"github.com/btcsuite/btcjoin/chain"
	"github.com/btcsuite/btcjoin/coinjoin"
	"github.com/btcsuite/btcjoin/coordinator"
	"github.com/btcsuite/btcjoin/pkg/unit"
	"github.com/btcsuite/btcjoin/rpc/joinrpc"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

var (
	testStart  = time.Unix(1_700_000_000, 0)
	testParams = &chaincfg.RegressionNetParams
)

type fakeBackend struct {
	mu    sync.Mutex
	utxos map[wire.OutPoint]*chain.UtxoInfo
}

func (b *fakeBackend) GetTxOut(op wire.OutPoint) (*chain.UtxoInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.utxos[op], nil
}

func (b *fakeBackend) RawMempool() ([]chainhash.Hash, error) {
	return nil, nil
}

func (b *fakeBackend) GetRawTransaction(chainhash.Hash) (*wire.MsgTx, error) {
	return nil, errors.New("not found")
}

func (b *fakeBackend) EstimateFeeRate(uint32) (unit.SatPerKVByte, error) {
	return unit.SatPerKVByteFromAmount(10_000), nil
}

func (b *fakeBackend) PublishTransaction(*wire.MsgTx) error {
	return nil
}

type noMempool struct{}

func (noMempool) TxIDs() []chainhash.Hash {
	return nil
}

type testHarness struct {
	client  joinrpc.CoordinatorClient
	coord   *coordinator.Coordinator
	backend *fakeBackend
	bans    *banlist.BanList
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	dir := t.TempDir()
	db, err := walletdb.Create(
		"bdb", filepath.Join(dir, "coordinator.db"), true,
		10*time.Second, false,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	clk := clock.NewTestClock(testStart)
	bans, err := banlist.New(db, banlist.Config{
		BanDuration: 24 * time.Hour, Clock: clk,
	})
	require.NoError(t, err)

	cjLog, err := coordinator.OpenCoinJoinLog(
		filepath.Join(dir, "coinjoins.txt"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, cjLog.Close())
	})

	roundCfg := coordinator.DefaultRoundConfig()
	roundCfg.Denomination = 1_000_000
	roundCfg.MinDenomination = 100_000
	roundCfg.AnonymitySet = 3

	backend := &fakeBackend{utxos: make(map[wire.OutPoint]*chain.UtxoInfo)}
	coord, err := coordinator.New(coordinator.Config{
		Round:       roundCfg,
		DB:          db,
		BanList:     bans,
		Backend:     backend,
		Mempool:     noMempool{},
		CoinJoins:   cjLog,
		ChainParams: testParams,
		Ticker:      ticker.NewForce(time.Hour),
		Clock:       clk,
	})
	require.NoError(t, err)
	require.NoError(t, coord.Start())
	t.Cleanup(coord.Stop)

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	StartCoordinatorService(server, coord, testParams)
	go func() {
		_ = server.Serve(lis)
	}()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(
			func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			},
		),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})

	return &testHarness{
		client:  joinrpc.NewCoordinatorClient(conn),
		coord:   coord,
		backend: backend,
		bans:    bans,
	}
}

func newAddress(t *testing.T) (*btcec.PrivateKey, btcutil.Address) {
	t.Helper()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(key.PubKey().SerializeCompressed()), testParams,
	)
	require.NoError(t, err)

	return key, addr
}

// registration funds one coin and builds its registration in the first
// open round.
func (h *testHarness) registration(t *testing.T,
	value btcutil.Amount) (*joinrpc.InputRegistrationRequest, wire.OutPoint) {

	t.Helper()
	ctx := context.Background()

	key, addr := newAddress(t)
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	op := wire.OutPoint{
		Hash: chainhash.HashH(key.PubKey().SerializeCompressed()),
	}
	h.backend.mu.Lock()
	h.backend.utxos[op] = &chain.UtxoInfo{
		TxOut:         wire.NewTxOut(int64(value), pkScript),
		Confirmations: 3,
	}
	h.backend.mu.Unlock()

	resp, err := h.client.Status(ctx, &joinrpc.StatusRequest{})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Rounds)
	round := resp.Rounds[0]
	require.Equal(t, coinjoin.PhaseInputRegistration, round.Phase)

	nonceResp, err := h.client.Nonce(ctx, &joinrpc.NonceRequest{
		RoundID: round.RoundID,
	})
	require.NoError(t, err)

	signer, err := btcec.ParsePubKey(round.SignerKey)
	require.NoError(t, err)
	nonce, err := btcec.ParsePubKey(nonceResp.Nonce)
	require.NoError(t, err)

	_, outAddr := newAddress(t)
	outScript, err := txscript.PayToAddrScript(outAddr)
	require.NoError(t, err)
	blinded, _, err := blindsig.Blind(signer, nonce, outScript)
	require.NoError(t, err)

	_, changeAddr := newAddress(t)
	digest := coinjoin.OwnershipDigest(round.RoundID, blinded, &op)

	return &joinrpc.InputRegistrationRequest{
		RoundID:             round.RoundID,
		BlindedOutput:       blinded,
		Nonce:               nonceResp.Nonce,
		ChangeOutputAddress: changeAddr.EncodeAddress(),
		Inputs: []*joinrpc.InputProof{{
			OutPoint:       op.String(),
			OwnershipProof: coinjoin.SignOwnershipProof(key, digest),
		}},
	}, op
}

func TestErrorCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want codes.Code
	}{
		{coordinator.Error{ErrorCode: coordinator.ErrUnknownRound},
			codes.NotFound},
		{coordinator.Error{ErrorCode: coordinator.ErrWrongPhase},
			codes.FailedPrecondition},
		{coordinator.Error{ErrorCode: coordinator.ErrInputBanned},
			codes.PermissionDenied},
		{coordinator.Error{ErrorCode: coordinator.ErrAlreadyRegistered},
			codes.AlreadyExists},
		{coordinator.Error{ErrorCode: coordinator.ErrInvalidCommitment},
			codes.InvalidArgument},
		{coordinator.Error{ErrorCode: coordinator.ErrTimeout},
			codes.DeadlineExceeded},
		{coordinator.Error{ErrorCode: coordinator.ErrRoundAborted},
			codes.Aborted},
		{coordinator.Error{ErrorCode: coordinator.ErrBackend},
			codes.Unavailable},
		{fmt.Errorf("wrapped: %w", coordinator.Error{
			ErrorCode: coordinator.ErrInsufficientFunds,
		}), codes.InvalidArgument},
		{errors.New("other"), codes.Unknown},
	}

	for _, test := range tests {
		require.Equal(t, test.want, errorCode(test.err), test.err)
	}
}

func TestRegisterInput(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()

	req, _ := h.registration(t, 1_100_000)
	resp, err := h.client.RegisterInput(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, resp.UniqueID)

	// The same coin is refused a second time.
	_, err = h.client.RegisterInput(ctx, req)
	require.Equal(t, codes.AlreadyExists, status.Code(err))

	state, err := h.client.RoundStatus(ctx, &joinrpc.RoundStatusRequest{
		RoundID: req.RoundID,
	})
	require.NoError(t, err)
	require.Equal(t, 1, state.RegisteredAlices)
	require.EqualValues(t, 1_000_000, state.Denomination)
	require.EqualValues(t, 690, state.FeePerInput)
	require.EqualValues(t, 310, state.FeePerOutput)

	_, err = h.client.ConfirmConnection(ctx,
		&joinrpc.ConnectionConfirmationRequest{
			RoundID: req.RoundID, UniqueID: resp.UniqueID,
		})
	require.NoError(t, err)

	_, err = h.client.Disconnect(ctx, &joinrpc.DisconnectionRequest{
		RoundID: req.RoundID, UniqueID: resp.UniqueID,
	})
	require.NoError(t, err)

	state, err = h.client.RoundStatus(ctx, &joinrpc.RoundStatusRequest{
		RoundID: req.RoundID,
	})
	require.NoError(t, err)
	require.Zero(t, state.RegisteredAlices)

	_, err = h.client.Disconnect(ctx, &joinrpc.DisconnectionRequest{
		RoundID: req.RoundID, UniqueID: resp.UniqueID,
	})
	require.Equal(t, codes.NotFound, status.Code(err))
}

func TestRegisterInputBanned(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()

	req, op := h.registration(t, 1_100_000)
	require.NoError(t, h.bans.Ban(42, false, op))

	var trailer metadata.MD
	_, err := h.client.RegisterInput(ctx, req, grpc.Trailer(&trailer))
	require.Equal(t, codes.PermissionDenied, status.Code(err))

	banned, err := joinrpc.ParseBannedInputs(trailer)
	require.NoError(t, err)
	require.Equal(t, []joinrpc.BannedInput{{
		OutPoint:    op,
		BannedUntil: testStart.Add(24 * time.Hour),
	}}, banned)
}

func TestRegisterInputMalformed(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		modify func(*joinrpc.InputRegistrationRequest)
		code   codes.Code
	}{
		{
			name: "mainnet change address",
			modify: func(r *joinrpc.InputRegistrationRequest) {
				r.ChangeOutputAddress = "bc1qw508d6qejxtdg4y5r3" +
					"zarvary0c5xw7kv8f3t4"
			},
			code: codes.InvalidArgument,
		},
		{
			name: "bad nonce",
			modify: func(r *joinrpc.InputRegistrationRequest) {
				r.Nonce = []byte{1, 2, 3}
			},
			code: codes.InvalidArgument,
		},
		{
			name: "bad outpoint",
			modify: func(r *joinrpc.InputRegistrationRequest) {
				r.Inputs[0].OutPoint = "nope"
			},
			code: codes.InvalidArgument,
		},
		{
			name: "unknown round",
			modify: func(r *joinrpc.InputRegistrationRequest) {
				r.RoundID = 1_000
			},
			code: codes.NotFound,
		},
	}

	for _, test := range tests {
		req, _ := h.registration(t, 1_100_000)
		test.modify(req)

		_, err := h.client.RegisterInput(ctx, req)
		require.Equal(t, test.code, status.Code(err), test.name)
	}

	_, err := h.client.ConfirmConnection(ctx,
		&joinrpc.ConnectionConfirmationRequest{UniqueID: "not-a-uuid"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}
