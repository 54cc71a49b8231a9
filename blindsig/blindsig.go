// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package blindsig implements blind Schnorr signatures over secp256k1.
//
// The coordinator signs a participant's output script without learning it:
// the participant blinds a challenge derived from its output, the
// coordinator signs the blinded challenge with a one-time nonce, and the
// participant unblinds the result into a signature that verifies under the
// coordinator's key but cannot be linked to the signing session.
//
// With signer key x (P = xG) and nonce k (R = kG), a client picks random a
// and b and computes
//
//	R' = R + aG + bP
//	c' = H(R' || P || m)
//	c  = c' + b
//
// The signer returns s = k + cx and the client unblinds s' = s + a. The
// pair (R', s') satisfies s'G = R' + c'P.
package blindsig

import (
	"errors"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	// ScalarSize is the size of a serialized scalar.
	ScalarSize = 32

	// SignatureSize is the size of a serialized unblinded signature: the
	// compressed R' point followed by s'.
	SignatureSize = btcec.PubKeyBytesLenCompressed + ScalarSize

	// DefaultMaxNonces bounds the number of outstanding nonces a Signer
	// keeps.
	DefaultMaxNonces = 1024
)

var (
	challengeTag = []byte("btcjoin/blindsig")

	// ErrUnknownNonce is returned when signing with a nonce that was never
	// issued or has already been used.
	ErrUnknownNonce = errors.New("unknown or already used nonce")

	// ErrTooManyNonces is returned when the signer has too many
	// outstanding nonces.
	ErrTooManyNonces = errors.New("too many outstanding nonces")

	// ErrInvalidBlindSignature is returned by Unblind when the signer's
	// response does not verify against the blinded challenge.
	ErrInvalidBlindSignature = errors.New("invalid blind signature")

	// ErrMalformed is returned for encodings of the wrong size or out of
	// range values.
	ErrMalformed = errors.New("malformed blind signature data")
)

// Signer is the coordinator side of the scheme. Nonces are single use: a
// nonce is forgotten the moment it signs, so signing twice with one nonce,
// which would leak the key, is impossible.
type Signer struct {
	key       *btcec.PrivateKey
	maxNonces int

	mu     sync.Mutex
	nonces map[[btcec.PubKeyBytesLenCompressed]byte]*secp256k1.ModNScalar
}

// NewSigner returns a signer for key keeping at most maxNonces outstanding
// nonces. A non-positive maxNonces selects DefaultMaxNonces.
func NewSigner(key *btcec.PrivateKey, maxNonces int) *Signer {
	if maxNonces <= 0 {
		maxNonces = DefaultMaxNonces
	}
	return &Signer{
		key:       key,
		maxNonces: maxNonces,
		nonces: make(
			map[[btcec.PubKeyBytesLenCompressed]byte]*secp256k1.ModNScalar,
		),
	}
}

// PubKey returns the key unblinded signatures verify under.
func (s *Signer) PubKey() *btcec.PublicKey {
	return s.key.PubKey()
}

// NewNonce issues a fresh public nonce R.
func (s *Signer) NewNonce() (*btcec.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.nonces) >= s.maxNonces {
		return nil, ErrTooManyNonces
	}

	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	r := k.PubKey()
	var id [btcec.PubKeyBytesLenCompressed]byte
	copy(id[:], r.SerializeCompressed())
	s.nonces[id] = &k.Key

	return r, nil
}

// Sign answers a blinded challenge with the secret of nonce, consuming it.
func (s *Signer) Sign(nonce *btcec.PublicKey, blinded []byte) ([]byte, error) {
	var c secp256k1.ModNScalar
	if err := parseScalar(blinded, &c); err != nil {
		return nil, err
	}

	var id [btcec.PubKeyBytesLenCompressed]byte
	copy(id[:], nonce.SerializeCompressed())

	s.mu.Lock()
	k, ok := s.nonces[id]
	delete(s.nonces, id)
	s.mu.Unlock()

	if !ok {
		return nil, ErrUnknownNonce
	}

	// s = k + c*x
	var sig secp256k1.ModNScalar
	sig.Mul2(&c, &s.key.Key).Add(k)
	k.Zero()

	b := sig.Bytes()
	return b[:], nil
}

// Outstanding returns the number of issued, unused nonces.
func (s *Signer) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.nonces)
}

// BlindingFactor is the client secret needed to unblind a signature.
type BlindingFactor struct {
	a       secp256k1.ModNScalar
	c       secp256k1.ModNScalar
	rPrime  *btcec.PublicKey
	nonce   *btcec.PublicKey
	signer  *btcec.PublicKey
	blinded secp256k1.ModNScalar
}

// Blind derives the blinded challenge for msg under the signer's key and
// nonce.
func Blind(signer, nonce *btcec.PublicKey, msg []byte) ([]byte,
	*BlindingFactor, error) {

	aKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}
	bKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}

	var r, p, aG, bP, rPrime secp256k1.JacobianPoint
	nonce.AsJacobian(&r)
	signer.AsJacobian(&p)
	secp256k1.ScalarBaseMultNonConst(&aKey.Key, &aG)
	secp256k1.ScalarMultNonConst(&bKey.Key, &p, &bP)
	secp256k1.AddNonConst(&r, &aG, &rPrime)
	secp256k1.AddNonConst(&rPrime, &bP, &rPrime)

	rPrimeKey, ok := toPubKey(&rPrime)
	if !ok {
		return nil, nil, ErrMalformed
	}

	f := &BlindingFactor{
		rPrime: rPrimeKey,
		nonce:  nonce,
		signer: signer,
	}
	f.a.Set(&aKey.Key)
	f.c = challenge(rPrimeKey, signer, msg)
	f.blinded.Add2(&f.c, &bKey.Key)

	b := f.blinded.Bytes()
	return b[:], f, nil
}

// Unblind checks the signer's response against the blinded challenge and
// turns it into a signature over the original message.
func Unblind(blindSig []byte, f *BlindingFactor) ([]byte, error) {
	var s secp256k1.ModNScalar
	if err := parseScalar(blindSig, &s); err != nil {
		return nil, err
	}

	// sG must equal R + cP for the blinded challenge c.
	var r, p, cP, rhs, lhs secp256k1.JacobianPoint
	f.nonce.AsJacobian(&r)
	f.signer.AsJacobian(&p)
	secp256k1.ScalarMultNonConst(&f.blinded, &p, &cP)
	secp256k1.AddNonConst(&r, &cP, &rhs)
	secp256k1.ScalarBaseMultNonConst(&s, &lhs)
	if !pointsEqual(&lhs, &rhs) {
		return nil, ErrInvalidBlindSignature
	}

	s.Add(&f.a)

	sig := make([]byte, 0, SignatureSize)
	sig = append(sig, f.rPrime.SerializeCompressed()...)
	sBytes := s.Bytes()
	sig = append(sig, sBytes[:]...)

	return sig, nil
}

// Verify reports whether sig is a valid unblinded signature of msg under
// signer.
func Verify(signer *btcec.PublicKey, sig, msg []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}

	rPrime, err := btcec.ParsePubKey(sig[:btcec.PubKeyBytesLenCompressed])
	if err != nil {
		return false
	}
	var s secp256k1.ModNScalar
	if parseScalar(sig[btcec.PubKeyBytesLenCompressed:], &s) != nil {
		return false
	}

	c := challenge(rPrime, signer, msg)

	var r, p, cP, rhs, lhs secp256k1.JacobianPoint
	rPrime.AsJacobian(&r)
	signer.AsJacobian(&p)
	secp256k1.ScalarMultNonConst(&c, &p, &cP)
	secp256k1.AddNonConst(&r, &cP, &rhs)
	secp256k1.ScalarBaseMultNonConst(&s, &lhs)

	return pointsEqual(&lhs, &rhs)
}

func challenge(rPrime, signer *btcec.PublicKey,
	msg []byte) secp256k1.ModNScalar {

	h := chainhash.TaggedHash(
		challengeTag, rPrime.SerializeCompressed(),
		signer.SerializeCompressed(), msg,
	)

	var c secp256k1.ModNScalar
	c.SetBytes((*[32]byte)(h))
	return c
}

func parseScalar(b []byte, s *secp256k1.ModNScalar) error {
	if len(b) != ScalarSize {
		return ErrMalformed
	}
	if overflow := s.SetByteSlice(b); overflow {
		return ErrMalformed
	}
	return nil
}

func isInfinity(p *secp256k1.JacobianPoint) bool {
	return (p.X.IsZero() && p.Y.IsZero()) || p.Z.IsZero()
}

func toPubKey(p *secp256k1.JacobianPoint) (*btcec.PublicKey, bool) {
	if isInfinity(p) {
		return nil, false
	}
	p.ToAffine()
	return secp256k1.NewPublicKey(&p.X, &p.Y), true
}

func pointsEqual(a, b *secp256k1.JacobianPoint) bool {
	if isInfinity(a) || isInfinity(b) {
		return isInfinity(a) && isInfinity(b)
	}
	a.ToAffine()
	b.ToAffine()
	return a.X.Equals(&b.X) && a.Y.Equals(&b.Y)
}
