package wire

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/crypto"
)

// AssociatedDataSize is the fixed 64-byte length of an AssociatedData value.
const AssociatedDataSize = 2 * crypto.KeySize

// ErrInvalidAssociatedData is returned when associated-data bytes are malformed.
var ErrInvalidAssociatedData = errors.New("wire: invalid associated data")

// ErrInvalidInitialMessage is returned when initial-message bytes are malformed.
var ErrInvalidInitialMessage = errors.New("wire: invalid initial message")

// AssociatedData binds a session to both parties' identity keys; it is
// appended verbatim to every AEAD operation in that session.
type AssociatedData struct {
	InitiatorIK crypto.PublicKey
	ResponderIK crypto.PublicKey
}

// Bytes serializes as initiator_ik || responder_ik.
func (a AssociatedData) Bytes() []byte {
	out := make([]byte, 0, AssociatedDataSize)
	out = append(out, a.InitiatorIK[:]...)
	out = append(out, a.ResponderIK[:]...)
	return out
}

// AssociatedDataFromBytes parses a 64-byte associated-data value.
func AssociatedDataFromBytes(raw []byte) (AssociatedData, error) {
	if len(raw) != AssociatedDataSize {
		return AssociatedData{}, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidAssociatedData, AssociatedDataSize, len(raw))
	}
	var a AssociatedData
	copy(a.InitiatorIK[:], raw[:crypto.KeySize])
	copy(a.ResponderIK[:], raw[crypto.KeySize:])
	return a, nil
}

// InitialMessageBaseSize is the byte length without a one-time-key hash:
// ik(32) + ek(32) + prekey_hash(32) + associated_data(64).
const InitialMessageBaseSize = crypto.KeySize + crypto.KeySize + crypto.HashSize + AssociatedDataSize

// InitialMessageWithOTPKSize is the byte length when a one-time-key hash is
// present: base + 32.
const InitialMessageWithOTPKSize = InitialMessageBaseSize + crypto.HashSize

// InitialMessage is the first handshake message from initiator to
// responder, per spec.md §3. It carries key material and hashes only, no
// ciphertext.
type InitialMessage struct {
	IdentityKey    crypto.PublicKey
	EphemeralKey   crypto.PublicKey
	PreKeyHash     crypto.Sha256Hash
	OneTimeKeyHash *crypto.Sha256Hash // nil if no one-time prekey was used
	AssociatedData AssociatedData
}

// Size returns the serialized byte length: 160 or 192.
func (m InitialMessage) Size() int {
	if m.OneTimeKeyHash != nil {
		return InitialMessageWithOTPKSize
	}
	return InitialMessageBaseSize
}

// Bytes serializes as ik || ek || H(spk) || [H(otpk)] || initiator_ik || responder_ik.
func (m InitialMessage) Bytes() []byte {
	out := make([]byte, 0, m.Size())
	out = append(out, m.IdentityKey[:]...)
	out = append(out, m.EphemeralKey[:]...)
	out = append(out, m.PreKeyHash[:]...)
	if m.OneTimeKeyHash != nil {
		out = append(out, m.OneTimeKeyHash[:]...)
	}
	out = append(out, m.AssociatedData.Bytes()...)
	return out
}

// ToBase64 base64-encodes the message's wire bytes.
func (m InitialMessage) ToBase64() string {
	return base64.StdEncoding.EncodeToString(m.Bytes())
}

// InitialMessageFromBase64 decodes and parses a message produced by ToBase64.
func InitialMessageFromBase64(s string) (InitialMessage, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return InitialMessage{}, fmt.Errorf("%w: %v", ErrBase64Decode, err)
	}
	return InitialMessageFromBytes(raw)
}

// InitialMessageFromBytes parses either the 160-byte or 192-byte layout.
func InitialMessageFromBytes(raw []byte) (InitialMessage, error) {
	var m InitialMessage
	var adOffset int

	switch len(raw) {
	case InitialMessageBaseSize:
		adOffset = crypto.KeySize + crypto.KeySize + crypto.HashSize
	case InitialMessageWithOTPKSize:
		adOffset = crypto.KeySize + crypto.KeySize + crypto.HashSize + crypto.HashSize
	default:
		return InitialMessage{}, fmt.Errorf("%w: unexpected length %d", ErrInvalidInitialMessage, len(raw))
	}

	off := 0
	copy(m.IdentityKey[:], raw[off:off+crypto.KeySize])
	off += crypto.KeySize
	copy(m.EphemeralKey[:], raw[off:off+crypto.KeySize])
	off += crypto.KeySize
	copy(m.PreKeyHash[:], raw[off:off+crypto.HashSize])
	off += crypto.HashSize

	if adOffset != off {
		var h crypto.Sha256Hash
		copy(h[:], raw[off:off+crypto.HashSize])
		m.OneTimeKeyHash = &h
		off += crypto.HashSize
	}

	ad, err := AssociatedDataFromBytes(raw[off:])
	if err != nil {
		return InitialMessage{}, fmt.Errorf("%w: %v", ErrInvalidInitialMessage, err)
	}
	m.AssociatedData = ad
	return m, nil
}
