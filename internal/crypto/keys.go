// Package crypto provides the primitive layer: typed wrappers over X25519,
// Ed25519, SHA-256, HKDF-SHA-256, and AES-256-GCM, plus secret zeroing.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

const (
	// KeySize is the byte length of every X25519/Ed25519 key type here.
	KeySize = 32
	// SignatureSize is the byte length of an Ed25519 signature.
	SignatureSize = 64
	// HashSize is the byte length of a SHA-256 digest.
	HashSize = 32
)

// ErrInvalidSignature is returned when a prekey bundle signature fails verification.
var ErrInvalidSignature = errors.New("crypto: invalid signature")

// PrivateKey is an X25519 scalar, clamped per RFC 7748.
type PrivateKey [KeySize]byte

// PublicKey is an X25519 curve point.
type PublicKey [KeySize]byte

// IdentityPrivateKey is the same 32 raw bytes as a PrivateKey, reused as an
// Ed25519 signing seed. Per spec, identity keys are "bijectively convertible
// to the X25519 types over the same byte representation" — this is a raw
// byte reinterpretation, not a birational point mapping: the teacher's
// security.KeyPair/IdentityKeyPair split inspired the distinct named types,
// but the teacher never implements dual-use conversion itself.
type IdentityPrivateKey [KeySize]byte

// IdentityPublicKey is an Ed25519 verifying key, and simultaneously, via the
// same bytes, an X25519 Diffie-Hellman public point.
type IdentityPublicKey [KeySize]byte

// Signature is a 64-byte Ed25519 signature.
type Signature [SignatureSize]byte

// SharedSecret is the output of a Diffie-Hellman or HKDF step. Call Wipe once
// the value is no longer needed.
type SharedSecret [KeySize]byte

// Sha256Hash is a content-addressable digest: equal byte content is equal.
type Sha256Hash [HashSize]byte

// NewPrivateKey generates a fresh, clamped X25519 private key.
func NewPrivateKey() (PrivateKey, error) {
	var sk PrivateKey
	if _, err := io.ReadFull(rand.Reader, sk[:]); err != nil {
		return PrivateKey{}, fmt.Errorf("crypto: generate private key: %w", err)
	}
	clamp(sk[:])
	return sk, nil
}

// clamp applies the RFC 7748 clamping operation in place.
func clamp(b []byte) {
	b[0] &= 248
	b[31] &= 127
	b[31] |= 64
}

// PublicFromPrivate derives the X25519 public key for sk via clamped
// base-point multiplication.
func PublicFromPrivate(sk PrivateKey) (PublicKey, error) {
	pub, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		return PublicKey{}, fmt.Errorf("crypto: derive public key: %w", err)
	}
	var out PublicKey
	copy(out[:], pub)
	return out, nil
}

// DiffieHellman computes the X25519 shared point between sk and pk.
func (sk PrivateKey) DiffieHellman(pk PublicKey) (SharedSecret, error) {
	out, err := curve25519.X25519(sk[:], pk[:])
	if err != nil {
		return SharedSecret{}, fmt.Errorf("crypto: diffie-hellman: %w", err)
	}
	var ss SharedSecret
	copy(ss[:], out)
	return ss, nil
}

// NewIdentityPrivateKey generates a fresh identity key pair's private half.
// The raw bytes double as an Ed25519 seed and an X25519 scalar.
func NewIdentityPrivateKey() (IdentityPrivateKey, error) {
	var sk IdentityPrivateKey
	if _, err := io.ReadFull(rand.Reader, sk[:]); err != nil {
		return IdentityPrivateKey{}, fmt.Errorf("crypto: generate identity key: %w", err)
	}
	return sk, nil
}

// Public derives the Ed25519 verifying key for this identity private key.
func (ik IdentityPrivateKey) Public() IdentityPublicKey {
	seed := ed25519.NewKeyFromSeed(ik[:])
	var pub IdentityPublicKey
	copy(pub[:], seed.Public().(ed25519.PublicKey))
	return pub
}

// AsX25519Private reinterprets the identity private key's raw bytes as a
// clamped X25519 scalar, for use in X3DH's DH(ik_a, ...) steps.
func (ik IdentityPrivateKey) AsX25519Private() PrivateKey {
	var sk PrivateKey
	copy(sk[:], ik[:])
	clamp(sk[:])
	return sk
}

// AsX25519Public reinterprets the identity public key's raw bytes as an
// X25519 curve point, for use in X3DH's DH(..., ik_b) steps.
func (ik IdentityPublicKey) AsX25519Public() PublicKey {
	var pk PublicKey
	copy(pk[:], ik[:])
	return pk
}

// Sign produces an Ed25519 signature over msg.
func (ik IdentityPrivateKey) Sign(msg []byte) Signature {
	priv := ed25519.NewKeyFromSeed(ik[:])
	sig := ed25519.Sign(priv, msg)
	var out Signature
	copy(out[:], sig)
	return out
}

// Verify checks an Ed25519 signature over msg, returning ErrInvalidSignature
// on mismatch.
func (ik IdentityPublicKey) Verify(msg []byte, sig Signature) error {
	if !ed25519.Verify(ed25519.PublicKey(ik[:]), msg, sig[:]) {
		return ErrInvalidSignature
	}
	return nil
}

// Hash returns the SHA-256 digest of b.
func Hash(b []byte) Sha256Hash {
	return Sha256Hash(sha256.Sum256(b))
}

// Equal reports whether two hashes have identical content.
func (h Sha256Hash) Equal(other Sha256Hash) bool {
	return h == other
}

// Wipe overwrites b with zeros. Call it once a secret-carrying buffer is no
// longer needed, mirroring the teacher's memzero-style cleanup in
// internal/security and the wbd2023 example's crypto.Wipe helper.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Wipe zeros the shared secret in place.
func (ss *SharedSecret) Wipe() { Wipe(ss[:]) }

// Wipe zeros the private key in place.
func (sk *PrivateKey) Wipe() { Wipe(sk[:]) }

// Wipe zeros the identity private key in place.
func (ik *IdentityPrivateKey) Wipe() { Wipe(ik[:]) }
