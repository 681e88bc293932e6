// Copyright 2025 Certen Protocol
//
// secp256k1 recoverable signing and address recovery for the consensus
// core. Grounded on loopchain's crypto/signature.py SignVerifier/Signer
// split: a Verifier only ever knows an address, a Signer additionally
// holds a private key and self-checks itself at construction.

package cryptosign

import (
	"crypto/ecdsa"
	"crypto/sha3"
	"errors"
	"fmt"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/certen/independant-validator/pkg/types"
)

// ErrBadSignature is returned when a signature fails to recover or the
// recovered address does not match the address the caller expected.
var ErrBadSignature = errors.New("cryptosign: bad signature")

// ErrKeyIntegrity is returned by NewSigner when the mandatory sign/recover
// self-test against a fixed probe fails.
var ErrKeyIntegrity = errors.New("cryptosign: key integrity self-test failed")

// selfTestProbe is the fixed message every fresh Signer must be able to
// sign and recover against itself, mirroring loopchain's `b"TEST"` probe.
var selfTestProbe = []byte("TEST")

// AddressFromPubkey derives an Address20 from an uncompressed public key
// (65 bytes, leading 0x04): SHA3-256(pubkey[1:])[-20:].
func AddressFromPubkey(pubkey []byte) (types.Address20, error) {
	if len(pubkey) != 65 || pubkey[0] != 0x04 {
		return types.Address20{}, fmt.Errorf("cryptosign: expected 65-byte uncompressed pubkey, got %d bytes", len(pubkey))
	}
	digest := sha3.Sum256(pubkey[1:])
	return types.AddressFromBytes(digest[len(digest)-types.Address20Size:])
}

// AddressFromPrikey derives the Address20 for a 32-byte secp256k1 private key.
func AddressFromPrikey(prikey []byte) (types.Address20, error) {
	priv, err := gethcrypto.ToECDSA(prikey)
	if err != nil {
		return types.Address20{}, fmt.Errorf("cryptosign: invalid private key: %w", err)
	}
	return AddressFromPubkey(gethcrypto.FromECDSAPub(&priv.PublicKey))
}

// Recover recovers the signer address from a digest and a recoverable
// signature.
func Recover(digest types.Hash32, sig types.Signature65) (types.Address20, error) {
	pub, err := gethcrypto.SigToPub(digest[:], sig[:])
	if err != nil {
		return types.Address20{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return AddressFromPubkey(gethcrypto.FromECDSAPub(pub))
}

// Verify fails with ErrBadSignature if sig does not recover to expected.
func Verify(expected types.Address20, digest types.Hash32, sig types.Signature65) error {
	recovered, err := Recover(digest, sig)
	if err != nil {
		return err
	}
	if recovered != expected {
		return fmt.Errorf("%w: recovered %s, expected %s", ErrBadSignature, recovered, expected)
	}
	return nil
}

// Verifier knows only an address; it can check signatures but cannot
// produce them. Mirrors loopchain's SignVerifier.from_address.
type Verifier struct {
	address types.Address20
}

// NewVerifier constructs a Verifier bound to a known address.
func NewVerifier(address types.Address20) *Verifier {
	return &Verifier{address: address}
}

// Address returns the bound address.
func (v *Verifier) Address() types.Address20 {
	return v.address
}

// VerifyHash checks that sig recovers to v's address over digest.
func (v *Verifier) VerifyHash(digest types.Hash32, sig types.Signature65) error {
	return Verify(v.address, digest, sig)
}

// Signer holds a private key and can sign digests. A Signer embeds a
// Verifier bound to its own derived address and self-checks at
// construction: loopchain raises "Invalid Signature(Peer Certificate load
// test)" if sign-then-recover against the fixed probe fails; NewSigner
// returns ErrKeyIntegrity for the same condition.
type Signer struct {
	Verifier
	priv *ecdsa.PrivateKey
}

// NewSigner constructs a Signer from a raw 32-byte secp256k1 private key,
// deriving its address and self-verifying against a fixed probe.
func NewSigner(prikey []byte) (*Signer, error) {
	priv, err := gethcrypto.ToECDSA(prikey)
	if err != nil {
		return nil, fmt.Errorf("cryptosign: invalid private key: %w", err)
	}

	addr, err := AddressFromPubkey(gethcrypto.FromECDSAPub(&priv.PublicKey))
	if err != nil {
		return nil, err
	}

	s := &Signer{Verifier: Verifier{address: addr}, priv: priv}

	probeDigest := sha3.Sum256(selfTestProbe)
	sig, err := s.SignHash(types.Hash32(probeDigest))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyIntegrity, err)
	}
	if err := s.VerifyHash(types.Hash32(probeDigest), sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyIntegrity, err)
	}

	return s, nil
}

// SignHash produces a 64-byte compact signature ‖ 1-byte recovery id over
// a 32-byte digest.
func (s *Signer) SignHash(digest types.Hash32) (types.Signature65, error) {
	raw, err := gethcrypto.Sign(digest[:], s.priv)
	if err != nil {
		return types.Signature65{}, fmt.Errorf("cryptosign: sign failed: %w", err)
	}
	return types.SignatureFromBytes(raw)
}
