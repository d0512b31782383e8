// Package x3dh implements the Extended Triple Diffie-Hellman handshake:
// bundle generation, the initiator's process_prekey_bundle, and the
// responder's process_initial_message, per spec.md §4.2.
//
// Grounded on the teacher's security.SignalProtocol.X3DH for the DH1..DH4
// concatenation order and HKDF salt/info, and on
// other_examples/.../minimal-signal-protocol-go x3dh.go for the
// initiator/responder role split. The responder ek/dk naming follows
// spec.md §9's correction: SK is derived once, identically on both sides,
// and the two 32-byte halves are named by role rather than re-derived.
package x3dh

import (
	"errors"
	"fmt"

	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/crypto"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/wire"
)

// ErrInvalidSignature is returned when a peer's prekey bundle signature
// fails verification.
var ErrInvalidSignature = fmt.Errorf("x3dh: %w", crypto.ErrInvalidSignature)

// ErrInvalidInitialMessage is returned when an initial message's prekey
// hash (or one-time-key hash) doesn't match the responder's own keys.
var ErrInvalidInitialMessage = errors.New("x3dh: invalid initial message")

// skSize is the HKDF output length: 64 bytes, split into two 32-byte halves.
const skSize = 64

// Identity is the long-lived identity key pair used on either side of a
// handshake: the initiator's ik_a, or a responder's (static or per-session)
// ik_b.
type Identity struct {
	Private crypto.IdentityPrivateKey
	Public  crypto.IdentityPublicKey
}

// NewIdentity generates a fresh identity key pair.
func NewIdentity() (Identity, error) {
	priv, err := crypto.NewIdentityPrivateKey()
	if err != nil {
		return Identity{}, fmt.Errorf("x3dh: generate identity: %w", err)
	}
	return Identity{Private: priv, Public: priv.Public()}, nil
}

// PreKeys is a responder's ephemeral-lifetime key material: the signed
// prekey and zero or more one-time prekeys, plus their private halves
// (kept server/client-side, never transmitted).
type PreKeys struct {
	SPKPrivate  crypto.PrivateKey
	SPKPublic   crypto.PublicKey
	OTPKPrivate []crypto.PrivateKey
	OTPKPublic  []crypto.PublicKey
}

// GeneratePreKeys creates a fresh signed prekey and n one-time prekeys.
func GeneratePreKeys(n int) (PreKeys, error) {
	spkPriv, err := crypto.NewPrivateKey()
	if err != nil {
		return PreKeys{}, fmt.Errorf("x3dh: generate signed prekey: %w", err)
	}
	spkPub, err := crypto.PublicFromPrivate(spkPriv)
	if err != nil {
		return PreKeys{}, fmt.Errorf("x3dh: derive signed prekey public: %w", err)
	}

	pk := PreKeys{SPKPrivate: spkPriv, SPKPublic: spkPub}
	for i := 0; i < n; i++ {
		otPriv, err := crypto.NewPrivateKey()
		if err != nil {
			return PreKeys{}, fmt.Errorf("x3dh: generate one-time prekey: %w", err)
		}
		otPub, err := crypto.PublicFromPrivate(otPriv)
		if err != nil {
			return PreKeys{}, fmt.Errorf("x3dh: derive one-time prekey public: %w", err)
		}
		pk.OTPKPrivate = append(pk.OTPKPrivate, otPriv)
		pk.OTPKPublic = append(pk.OTPKPublic, otPub)
	}
	return pk, nil
}

// GenerateBundle signs the signed prekey with id and assembles the
// publishable PreKeyBundle.
func GenerateBundle(id Identity, pk PreKeys) wire.PreKeyBundle {
	sig := id.Private.Sign(pk.SPKPublic[:])
	return wire.PreKeyBundle{
		IK:    crypto.PublicKey(id.Public),
		SPK:   pk.SPKPublic,
		Sig:   sig,
		OTPKs: append([]crypto.PublicKey(nil), pk.OTPKPublic...),
	}
}

// HandshakeKeys are the handshake-time AEAD keys and the associated data
// produced by X3DH.
type HandshakeKeys struct {
	EK  crypto.EncryptionKey
	DK  crypto.DecryptionKey
	AAD wire.AssociatedData
}

// deriveSK runs the 4-DH composition and HKDF expansion shared by both
// roles: SK = HKDF(salt=0^32, ikm = 0xFF*32 || dh1 || dh2 || dh3 [|| dh4], info="", L=64).
func deriveSK(dh1, dh2, dh3 crypto.SharedSecret, dh4 *crypto.SharedSecret) ([]byte, error) {
	parts := [][]byte{dh1[:], dh2[:], dh3[:]}
	if dh4 != nil {
		parts = append(parts, dh4[:])
	}
	ikm := crypto.DomainSeparatedIKM(parts...)
	salt := make([]byte, crypto.KeySize)
	sk, err := crypto.Expand(salt, ikm, nil, skSize)
	crypto.Wipe(ikm)
	if err != nil {
		return nil, fmt.Errorf("x3dh: derive SK: %w", err)
	}
	return sk, nil
}

// ProcessPreKeyBundle runs the initiator path: verify bundle's signature,
// generate an ephemeral key pair, compute DH1..DH4, derive SK, and emit the
// InitialMessage plus this side's handshake keys (ek, dk).
func ProcessPreKeyBundle(ikA Identity, bundle wire.PreKeyBundle) (wire.InitialMessage, HandshakeKeys, error) {
	if err := bundle.Verify(); err != nil {
		return wire.InitialMessage{}, HandshakeKeys{}, ErrInvalidSignature
	}

	ekAPriv, err := crypto.NewPrivateKey()
	if err != nil {
		return wire.InitialMessage{}, HandshakeKeys{}, fmt.Errorf("x3dh: generate ephemeral key: %w", err)
	}
	ekAPub, err := crypto.PublicFromPrivate(ekAPriv)
	if err != nil {
		return wire.InitialMessage{}, HandshakeKeys{}, fmt.Errorf("x3dh: derive ephemeral public: %w", err)
	}

	ikAX25519 := ikA.Private.AsX25519Private()
	ikBX25519 := bundle.IdentityKey().AsX25519Public()

	dh1, err := ikAX25519.DiffieHellman(bundle.SPK)
	if err != nil {
		return wire.InitialMessage{}, HandshakeKeys{}, fmt.Errorf("x3dh: dh1: %w", err)
	}
	dh2, err := ekAPriv.DiffieHellman(ikBX25519)
	if err != nil {
		return wire.InitialMessage{}, HandshakeKeys{}, fmt.Errorf("x3dh: dh2: %w", err)
	}
	dh3, err := ekAPriv.DiffieHellman(bundle.SPK)
	if err != nil {
		return wire.InitialMessage{}, HandshakeKeys{}, fmt.Errorf("x3dh: dh3: %w", err)
	}

	var dh4 *crypto.SharedSecret
	var otpkUsed *crypto.PublicKey
	if len(bundle.OTPKs) > 0 {
		otpk := bundle.OTPKs[0]
		v, err := ekAPriv.DiffieHellman(otpk)
		if err != nil {
			return wire.InitialMessage{}, HandshakeKeys{}, fmt.Errorf("x3dh: dh4: %w", err)
		}
		dh4 = &v
		otpkUsed = &otpk
	}

	sk, err := deriveSK(dh1, dh2, dh3, dh4)
	defer func() {
		dh1.Wipe()
		dh2.Wipe()
		dh3.Wipe()
		if dh4 != nil {
			dh4.Wipe()
		}
	}()
	if err != nil {
		return wire.InitialMessage{}, HandshakeKeys{}, err
	}
	defer crypto.Wipe(sk)

	var keys HandshakeKeys
	copy(keys.EK[:], sk[0:crypto.KeySize])
	copy(keys.DK[:], sk[crypto.KeySize:skSize])
	keys.AAD = wire.AssociatedData{
		InitiatorIK: crypto.PublicKey(ikA.Public),
		ResponderIK: bundle.IK,
	}

	im := wire.InitialMessage{
		IdentityKey:    crypto.PublicKey(ikA.Public),
		EphemeralKey:   ekAPub,
		PreKeyHash:     crypto.Hash(bundle.SPK[:]),
		AssociatedData: keys.AAD,
	}
	if otpkUsed != nil {
		h := crypto.Hash(otpkUsed[:])
		im.OneTimeKeyHash = &h
	}
	return im, keys, nil
}

// ProcessInitialMessage runs the responder path: verify the initial
// message's hashes against the responder's own keys, recompute DH1..DH4 and
// SK, and return this side's handshake keys (dk, ek — role-swapped from the
// initiator's naming, same underlying bytes).
func ProcessInitialMessage(ikB Identity, spkPriv crypto.PrivateKey, spkPub crypto.PublicKey, otpkPriv *crypto.PrivateKey, im wire.InitialMessage) (HandshakeKeys, error) {
	if im.PreKeyHash != crypto.Hash(spkPub[:]) {
		return HandshakeKeys{}, fmt.Errorf("%w: prekey hash mismatch", ErrInvalidInitialMessage)
	}
	if im.OneTimeKeyHash != nil {
		if otpkPriv == nil {
			return HandshakeKeys{}, fmt.Errorf("%w: message references a one-time prekey we don't have", ErrInvalidInitialMessage)
		}
		otpkPub, err := crypto.PublicFromPrivate(*otpkPriv)
		if err != nil {
			return HandshakeKeys{}, fmt.Errorf("x3dh: derive one-time prekey public: %w", err)
		}
		if crypto.Hash(otpkPub[:]) != *im.OneTimeKeyHash {
			return HandshakeKeys{}, fmt.Errorf("%w: one-time prekey hash mismatch", ErrInvalidInitialMessage)
		}
	}

	ikBX25519 := ikB.Private.AsX25519Private()
	ikAX25519 := im.IdentityKey

	dh1, err := spkPriv.DiffieHellman(ikAX25519)
	if err != nil {
		return HandshakeKeys{}, fmt.Errorf("x3dh: dh1: %w", err)
	}
	dh2, err := ikBX25519.DiffieHellman(im.EphemeralKey)
	if err != nil {
		return HandshakeKeys{}, fmt.Errorf("x3dh: dh2: %w", err)
	}
	dh3, err := spkPriv.DiffieHellman(im.EphemeralKey)
	if err != nil {
		return HandshakeKeys{}, fmt.Errorf("x3dh: dh3: %w", err)
	}

	var dh4 *crypto.SharedSecret
	if im.OneTimeKeyHash != nil {
		v, err := otpkPriv.DiffieHellman(im.EphemeralKey)
		if err != nil {
			return HandshakeKeys{}, fmt.Errorf("x3dh: dh4: %w", err)
		}
		dh4 = &v
	}

	sk, err := deriveSK(dh1, dh2, dh3, dh4)
	defer func() {
		dh1.Wipe()
		dh2.Wipe()
		dh3.Wipe()
		if dh4 != nil {
			dh4.Wipe()
		}
	}()
	if err != nil {
		return HandshakeKeys{}, err
	}
	defer crypto.Wipe(sk)

	// Responder naming is swapped relative to the initiator: the first
	// SK half is the initiator's ek (what the responder must decrypt
	// with), the second half is the initiator's dk (what the responder
	// must encrypt replies with).
	var keys HandshakeKeys
	copy(keys.DK[:], sk[0:crypto.KeySize])
	copy(keys.EK[:], sk[crypto.KeySize:skSize])
	keys.AAD = im.AssociatedData
	return keys, nil
}
