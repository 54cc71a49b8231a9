// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinjoin

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	commitmentTag = []byte("btcjoin/commitment")
	ownershipTag  = []byte("btcjoin/ownership")

	// ErrUnsupportedScript is returned for prevouts that are not P2WPKH.
	ErrUnsupportedScript = errors.New("only p2wpkh outputs are supported")

	// ErrInvalidProof is returned when an ownership proof does not
	// recover to the key committed to by the prevout script.
	ErrInvalidProof = errors.New("invalid ownership proof")
)

// SortOutPoints orders outpoints by txid bytes and then index, the order the
// commitment hash is computed over.
func SortOutPoints(ops []wire.OutPoint) {
	sort.Slice(ops, func(i, j int) bool {
		c := bytes.Compare(ops[i].Hash[:], ops[j].Hash[:])
		if c != 0 {
			return c < 0
		}
		return ops[i].Index < ops[j].Index
	})
}

// CommitmentHash commits to the full set of inputs registered in a round.
// Participants learn it after connection confirmation and check it against
// the inputs of the joint transaction, which stops the coordinator from
// showing different participants different input sets.
func CommitmentHash(roundID uint64, ops []wire.OutPoint) chainhash.Hash {
	sorted := make([]wire.OutPoint, len(ops))
	copy(sorted, ops)
	SortOutPoints(sorted)

	msgs := make([][]byte, 0, len(sorted)+1)
	msgs = append(msgs, uint64Bytes(roundID))
	for i := range sorted {
		msgs = append(msgs, SerializeOutPoint(&sorted[i]))
	}

	return *chainhash.TaggedHash(commitmentTag, msgs...)
}

// OwnershipDigest is the message an ownership proof signs. It binds the
// proof to the round and the blinded output so it cannot be replayed into
// another registration.
func OwnershipDigest(roundID uint64, blindedOutput []byte,
	op *wire.OutPoint) chainhash.Hash {

	return *chainhash.TaggedHash(
		ownershipTag, uint64Bytes(roundID), blindedOutput,
		SerializeOutPoint(op),
	)
}

// SignOwnershipProof produces a compact recoverable signature over digest.
func SignOwnershipProof(key *btcec.PrivateKey, digest chainhash.Hash) []byte {
	return ecdsa.SignCompact(key, digest[:], true)
}

// VerifyOwnershipProof checks that proof was made by the key whose hash is
// the witness program of pkScript.
func VerifyOwnershipProof(pkScript, proof []byte,
	digest chainhash.Hash) error {

	if !IsSupportedScript(pkScript) {
		return ErrUnsupportedScript
	}

	pub, compressed, err := ecdsa.RecoverCompact(proof, digest[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if !compressed {
		return ErrInvalidProof
	}

	hash := btcutil.Hash160(pub.SerializeCompressed())
	if !bytes.Equal(hash, pkScript[2:]) {
		return ErrInvalidProof
	}

	return nil
}

// IsSupportedScript reports whether coins locked by pkScript can be mixed.
func IsSupportedScript(pkScript []byte) bool {
	return txscript.IsPayToWitnessPubKeyHash(pkScript)
}

// SerializeOutPoint returns the 36 byte wire encoding of an outpoint.
func SerializeOutPoint(op *wire.OutPoint) []byte {
	var b [chainhash.HashSize + 4]byte
	copy(b[:], op.Hash[:])
	binary.LittleEndian.PutUint32(b[chainhash.HashSize:], op.Index)
	return b[:]
}

// DeserializeOutPoint is the inverse of SerializeOutPoint.
func DeserializeOutPoint(b []byte) (wire.OutPoint, error) {
	var op wire.OutPoint
	if len(b) != chainhash.HashSize+4 {
		return op, fmt.Errorf("outpoint must be %d bytes, got %d",
			chainhash.HashSize+4, len(b))
	}
	copy(op.Hash[:], b[:chainhash.HashSize])
	op.Index = binary.LittleEndian.Uint32(b[chainhash.HashSize:])
	return op, nil
}

// ParseOutPoint decodes the "txid:index" form produced by
// wire.OutPoint.String.
func ParseOutPoint(s string) (wire.OutPoint, error) {
	var op wire.OutPoint

	txid, index, ok := strings.Cut(s, ":")
	if !ok {
		return op, fmt.Errorf("outpoint %q is not txid:index", s)
	}

	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return op, err
	}
	idx, err := strconv.ParseUint(index, 10, 32)
	if err != nil {
		return op, fmt.Errorf("outpoint %q: %w", s, err)
	}

	op.Hash = *hash
	op.Index = uint32(idx)
	return op, nil
}

func uint64Bytes(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}
