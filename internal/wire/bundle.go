// Package wire defines the serializable handshake types: PreKeyBundle,
// AssociatedData and InitialMessage, with the byte-exact layouts and
// base64 framing spec.md §6 requires. Modeled after the teacher's
// internal/models package, which defines wire structs with explicit
// encodings, generalized here to fixed-width binary layouts instead of JSON.
package wire

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/crypto"
)

// BaseBundleSize is the byte length of a PreKeyBundle with zero one-time
// prekeys: ik(32) || spk(32) || sig(64).
const BaseBundleSize = crypto.KeySize + crypto.KeySize + crypto.SignatureSize

// ErrInvalidPreKeyBundle is returned when bundle bytes are malformed.
var ErrInvalidPreKeyBundle = errors.New("wire: invalid prekey bundle")

// ErrBase64Decode wraps a failed base64 decode of a wire value.
var ErrBase64Decode = errors.New("wire: base64 decode failure")

// PreKeyBundle is a responder's published key material. VerifyingKey is not
// stored or serialized separately: per the dual-use identity key convention
// (spec.md §3), IK's raw bytes are the same bytes as the owner's Ed25519
// verifying key, only reinterpreted — see IdentityKey().
type PreKeyBundle struct {
	IK    crypto.PublicKey
	SPK   crypto.PublicKey
	Sig   crypto.Signature
	OTPKs []crypto.PublicKey
}

// IdentityKey reinterprets IK's raw bytes as the Ed25519 verifying key used
// to check Sig.
func (b PreKeyBundle) IdentityKey() crypto.IdentityPublicKey {
	return crypto.IdentityPublicKey(b.IK)
}

// Verify checks that Sig is a valid signature by the bundle's identity key
// over SPK's bytes, per spec.md §3's PreKeyBundle invariant.
func (b PreKeyBundle) Verify() error {
	if err := b.IdentityKey().Verify(b.SPK[:], b.Sig); err != nil {
		return fmt.Errorf("wire: %w", err)
	}
	return nil
}

// Size returns the bundle's serialized byte length: 128 + 32*k.
func (b PreKeyBundle) Size() int {
	return BaseBundleSize + len(b.OTPKs)*crypto.KeySize
}

// Bytes serializes the bundle as ik || spk || sig || otpk_0 || otpk_1 || ….
func (b PreKeyBundle) Bytes() []byte {
	out := make([]byte, 0, b.Size())
	out = append(out, b.IK[:]...)
	out = append(out, b.SPK[:]...)
	out = append(out, b.Sig[:]...)
	for _, o := range b.OTPKs {
		out = append(out, o[:]...)
	}
	return out
}

// ToBase64 base64-encodes the bundle's wire bytes.
func (b PreKeyBundle) ToBase64() string {
	return base64.StdEncoding.EncodeToString(b.Bytes())
}

// PreKeyBundleFromBase64 decodes and parses a bundle produced by ToBase64.
func PreKeyBundleFromBase64(s string) (PreKeyBundle, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return PreKeyBundle{}, fmt.Errorf("%w: %v", ErrBase64Decode, err)
	}
	return PreKeyBundleFromBytes(raw)
}

// PreKeyBundleFromBytes parses ik || spk || sig || otpk*. The one-time
// prekey count is inferred from the remaining length, per
// original_source/protocol/src/utils.rs's TryFrom<String> logic.
func PreKeyBundleFromBytes(raw []byte) (PreKeyBundle, error) {
	if len(raw) < BaseBundleSize {
		return PreKeyBundle{}, fmt.Errorf("%w: too short", ErrInvalidPreKeyBundle)
	}
	rem := len(raw) - BaseBundleSize
	if rem%crypto.KeySize != 0 {
		return PreKeyBundle{}, fmt.Errorf("%w: trailing bytes not a multiple of key size", ErrInvalidPreKeyBundle)
	}
	otpkCount := rem / crypto.KeySize

	var b PreKeyBundle
	off := 0
	copy(b.IK[:], raw[off:off+crypto.KeySize])
	off += crypto.KeySize
	copy(b.SPK[:], raw[off:off+crypto.KeySize])
	off += crypto.KeySize
	copy(b.Sig[:], raw[off:off+crypto.SignatureSize])
	off += crypto.SignatureSize

	b.OTPKs = make([]crypto.PublicKey, otpkCount)
	for i := 0; i < otpkCount; i++ {
		copy(b.OTPKs[i][:], raw[off:off+crypto.KeySize])
		off += crypto.KeySize
	}
	return b, nil
}

// PopOTPK removes and returns the first one-time prekey, if any, mutating
// the bundle in place. Bundles are immutable once published on the wire, but
// a server's in-memory copy pops OTPKs as they're consumed (spec.md §3: "one-
// time prekeys are consumed at most once per handshake").
func (b *PreKeyBundle) PopOTPK() (crypto.PublicKey, bool) {
	if len(b.OTPKs) == 0 {
		return crypto.PublicKey{}, false
	}
	otpk := b.OTPKs[0]
	b.OTPKs = b.OTPKs[1:]
	return otpk, true
}
