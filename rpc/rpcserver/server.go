// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package rpcserver implements the coordinator's gRPC API and is used by the
// main package to start the gRPC service.
package rpcserver

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/coinjoin"
	"github.com/btcsuite/btcjoin/coordinator"
	"github.com/btcsuite/btcjoin/rpc/joinrpc"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// translateError creates a new gRPC error with an appropiate error code for
// recognized errors.
//
// Any RPC handler not returning a gRPC error (with status.Errorf) should
// return this result instead.
func translateError(err error) error {
	code := errorCode(err)
	return status.Errorf(code, "%s", err.Error())
}

func errorCode(err error) codes.Code {
	var e coordinator.Error
	if !errors.As(err, &e) {
		return codes.Unknown
	}

	switch e.ErrorCode {
	case coordinator.ErrUnknownRound, coordinator.ErrUnknownParticipant,
		coordinator.ErrInputNotFound:

		return codes.NotFound

	case coordinator.ErrWrongPhase, coordinator.ErrInputUnconfirmed:
		return codes.FailedPrecondition

	case coordinator.ErrRoundAborted:
		return codes.Aborted

	case coordinator.ErrInputBanned:
		return codes.PermissionDenied

	case coordinator.ErrAlreadyRegistered:
		return codes.AlreadyExists

	case coordinator.ErrInvalidInput, coordinator.ErrTooManyInputs,
		coordinator.ErrInsufficientFunds, coordinator.ErrInvalidOutput,
		coordinator.ErrInvalidBlindSignature,
		coordinator.ErrInvalidCommitment, coordinator.ErrInvalidWitness:

		return codes.InvalidArgument

	case coordinator.ErrTimeout:
		return codes.DeadlineExceeded

	case coordinator.ErrBackend:
		return codes.Unavailable
	}

	return codes.Unknown
}

// invalidArgument is returned for requests that could not be decoded.
func invalidArgument(format string, args ...interface{}) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

// coordinatorServer provides the coinjoin protocol to clients.
type coordinatorServer struct {
	coord  *coordinator.Coordinator
	params *chaincfg.Params
}

var _ joinrpc.CoordinatorServer = (*coordinatorServer)(nil)

// NewCoordinatorServer returns the gRPC service of coord. Addresses are
// decoded for params.
func NewCoordinatorServer(coord *coordinator.Coordinator,
	params *chaincfg.Params) joinrpc.CoordinatorServer {

	return &coordinatorServer{coord: coord, params: params}
}

// StartCoordinatorService creates an implementation of the coordinator
// service and registers it with the gRPC server.
func StartCoordinatorService(server *grpc.Server,
	coord *coordinator.Coordinator, params *chaincfg.Params) {

	joinrpc.RegisterCoordinatorServer(
		server, NewCoordinatorServer(coord, params),
	)
}

// marshalRoundStatus converts a round snapshot to its wire form.
func marshalRoundStatus(s coordinator.RoundState,
	successes uint64) *joinrpc.RoundStatus {

	rs := &joinrpc.RoundStatus{
		RoundID:               s.ID,
		Phase:                 s.Phase,
		Denomination:          int64(s.Denomination),
		FeePerInput:           int64(s.Fees.FeePerInput),
		FeePerOutput:          int64(s.Fees.FeePerOutput),
		MaximumInputsPerAlice: s.MaxInputsPerAlice,
		RegistrationTimeoutSeconds: int64(
			s.RegistrationTimeout.Seconds(),
		),
		SuccessfulRoundCount: successes,
		AnonymitySet:         s.AnonymitySet,
		RegisteredAlices:     s.Registered,
		ConfirmationTarget:   s.ConfirmationTarget,
	}
	if s.SignerKey != nil {
		rs.SignerKey = s.SignerKey.SerializeCompressed()
	}
	if s.Phase == coinjoin.PhaseAborted {
		rs.AbortedIn = s.AbortedIn.String()
		if s.AbortReason != nil {
			rs.AbortReason = s.AbortReason.Error()
		}
		rs.TimedOut = coordinator.IsTimeout(s.AbortReason)
	}
	s.TxID.WhenSome(func(txid chainhash.Hash) {
		rs.TxID = txid.String()
	})

	return rs
}

func (s *coordinatorServer) Status(ctx context.Context,
	req *joinrpc.StatusRequest) (*joinrpc.StatusResponse, error) {

	successes := s.coord.SuccessfulRounds()

	resp := &joinrpc.StatusResponse{}
	for _, state := range s.coord.Rounds() {
		resp.Rounds = append(
			resp.Rounds, marshalRoundStatus(state, successes),
		)
	}

	return resp, nil
}

func (s *coordinatorServer) RoundStatus(ctx context.Context,
	req *joinrpc.RoundStatusRequest) (*joinrpc.RoundStatus, error) {

	state, err := s.coord.RoundStatus(req.RoundID)
	if err != nil {
		return nil, translateError(err)
	}

	return marshalRoundStatus(state, s.coord.SuccessfulRounds()), nil
}

func (s *coordinatorServer) Nonce(ctx context.Context,
	req *joinrpc.NonceRequest) (*joinrpc.NonceResponse, error) {

	nonce, err := s.coord.RequestNonce(req.RoundID)
	if err != nil {
		return nil, translateError(err)
	}

	return &joinrpc.NonceResponse{
		Nonce: nonce.SerializeCompressed(),
	}, nil
}

// decodeScript decodes an address of the active network to its output
// script.
func (s *coordinatorServer) decodeScript(addr string) ([]byte, error) {
	a, err := btcutil.DecodeAddress(addr, s.params)
	if err != nil {
		return nil, invalidArgument("address %q: %v", addr, err)
	}
	if !a.IsForNet(s.params) {
		return nil, invalidArgument("address %q is not for %s", addr,
			s.params.Name)
	}

	script, err := txscript.PayToAddrScript(a)
	if err != nil {
		return nil, invalidArgument("address %q: %v", addr, err)
	}

	return script, nil
}

func parseUniqueID(id string) (uuid.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, invalidArgument("unique id: %v", err)
	}
	return u, nil
}

func (s *coordinatorServer) RegisterInput(ctx context.Context,
	req *joinrpc.InputRegistrationRequest) (
	*joinrpc.InputRegistrationResponse, error) {

	nonce, err := btcec.ParsePubKey(req.Nonce)
	if err != nil {
		return nil, invalidArgument("nonce: %v", err)
	}
	changeScript, err := s.decodeScript(req.ChangeOutputAddress)
	if err != nil {
		return nil, err
	}

	reg := &coordinator.InputRegistration{
		RoundID:       req.RoundID,
		ChangeScript:  changeScript,
		BlindedOutput: req.BlindedOutput,
		Nonce:         nonce,
	}
	for _, in := range req.Inputs {
		op, err := coinjoin.ParseOutPoint(in.OutPoint)
		if err != nil {
			return nil, invalidArgument("%v", err)
		}
		reg.Inputs = append(reg.Inputs, coordinator.InputProof{
			OutPoint: op,
			Proof:    in.OwnershipProof,
		})
	}

	id, err := s.coord.RegisterInput(reg)
	if err != nil {
		var e coordinator.Error
		if errors.As(err, &e) && len(e.Banned) > 0 {
			banned := make([]joinrpc.BannedInput, len(e.Banned))
			for i, b := range e.Banned {
				banned[i] = joinrpc.BannedInput(b)
			}
			trailer := joinrpc.BannedInputsTrailer(banned)
			if err := grpc.SetTrailer(ctx, trailer); err != nil {
				log.Warnf("Unable to set banned inputs trailer: "+
					"%v", err)
			}
		}
		return nil, translateError(err)
	}

	return &joinrpc.InputRegistrationResponse{UniqueID: id.String()}, nil
}

func (s *coordinatorServer) ConfirmConnection(ctx context.Context,
	req *joinrpc.ConnectionConfirmationRequest) (
	*joinrpc.ConnectionConfirmationResponse, error) {

	id, err := parseUniqueID(req.UniqueID)
	if err != nil {
		return nil, err
	}

	conf, err := s.coord.ConfirmConnection(req.RoundID, id)
	if err != nil {
		return nil, translateError(err)
	}

	resp := &joinrpc.ConnectionConfirmationResponse{
		Phase:          conf.Phase,
		BlindSignature: conf.BlindSignature,
	}
	conf.Commitment.WhenSome(func(h chainhash.Hash) {
		resp.RoundCommitmentHash = h.String()
	})

	return resp, nil
}

func (s *coordinatorServer) RegisterOutput(ctx context.Context,
	req *joinrpc.OutputRegistrationRequest) (
	*joinrpc.OutputRegistrationResponse, error) {

	script, err := s.decodeScript(req.OutputAddress)
	if err != nil {
		return nil, err
	}
	commitment, err := chainhash.NewHashFromStr(req.RoundCommitmentHash)
	if err != nil {
		return nil, invalidArgument("round commitment hash: %v", err)
	}

	err = s.coord.RegisterOutput(
		req.RoundID, script, req.UnblindedSignature, *commitment,
	)
	if err != nil {
		return nil, translateError(err)
	}

	return &joinrpc.OutputRegistrationResponse{}, nil
}

func (s *coordinatorServer) UnsignedTransaction(ctx context.Context,
	req *joinrpc.UnsignedTransactionRequest) (
	*joinrpc.UnsignedTransactionResponse, error) {

	id, err := parseUniqueID(req.UniqueID)
	if err != nil {
		return nil, err
	}

	packet, err := s.coord.UnsignedTransaction(req.RoundID, id)
	if err != nil {
		return nil, translateError(err)
	}

	return &joinrpc.UnsignedTransactionResponse{Psbt: packet}, nil
}

func (s *coordinatorServer) SubmitSignatures(ctx context.Context,
	req *joinrpc.SignatureSubmissionRequest) (
	*joinrpc.SignatureSubmissionResponse, error) {

	id, err := parseUniqueID(req.UniqueID)
	if err != nil {
		return nil, err
	}

	witnesses := make(map[int]wire.TxWitness, len(req.Witnesses))
	for _, w := range req.Witnesses {
		if _, ok := witnesses[w.InputIndex]; ok {
			return nil, invalidArgument("duplicate witness for "+
				"input %d", w.InputIndex)
		}
		witnesses[w.InputIndex] = wire.TxWitness(w.Witness)
	}

	err = s.coord.SubmitSignatures(req.RoundID, id, witnesses)
	if err != nil {
		return nil, translateError(err)
	}

	return &joinrpc.SignatureSubmissionResponse{}, nil
}

func (s *coordinatorServer) Disconnect(ctx context.Context,
	req *joinrpc.DisconnectionRequest) (*joinrpc.DisconnectionResponse,
	error) {

	id, err := parseUniqueID(req.UniqueID)
	if err != nil {
		return nil, err
	}

	if err := s.coord.RemoveAlice(req.RoundID, id); err != nil {
		return nil, translateError(err)
	}

	return &joinrpc.DisconnectionResponse{}, nil
}

