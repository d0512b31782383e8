// Package ratchet implements the Double Ratchet state machine: symmetric
// chain-key advance, Diffie-Hellman ratchet step, skipped-message-key
// cache, bounded look-ahead, and AEAD framing of each payload, per
// spec.md §4.3.
//
// Grounded on the teacher's DoubleRatchetState/RatchetStep/DeriveMessageKey
// (internal/security/signal.go) for the overall shape — root key plus
// send/recv chain keys plus a DH key pair — and on
// other_examples/.../wbd2023-UNSW-COMP6841-Ciphera's ratchet.go for the
// skip-then-ratchet control flow and the skipped-key map keyed by
// (peer_dh_pub, n), which the teacher's own version lacks entirely. AEAD is
// AES-256-GCM throughout (spec.md §4.1), not that reference's
// ChaCha20-Poly1305.
package ratchet

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/crypto"
)

// HeaderSize is the fixed 48-byte ratchet header length: dh_send_pub(32) ||
// pn(8) || n_send(8), little-endian.
const HeaderSize = crypto.KeySize + 8 + 8

// MaxSkips is the most message keys a single skip may derive ahead of the
// receive counter on one chain. The total number of cached skipped keys
// across calls is not capped.
const MaxSkips = 1000

// ErrAeadFailure is returned on ratchet frame decryption/tag mismatch.
var ErrAeadFailure = crypto.ErrAeadFailure

// ErrMaxSkipsExceeded is returned when a header requests skipping more than
// MaxSkips keys ahead of the current receive counter.
var ErrMaxSkipsExceeded = errors.New("ratchet: max skips exceeded")

// ErrInvalidHeader is returned for malformed or undersized frame headers.
var ErrInvalidHeader = errors.New("ratchet: invalid header")

// ErrChainUninitialized is returned when Encrypt/Decrypt is attempted
// before the corresponding chain key exists.
var ErrChainUninitialized = errors.New("ratchet: chain key not yet initialized")

// skippedKey identifies a cached message key: the sender's ratchet public
// key at the time, plus the message index within that chain.
type skippedKey struct {
	dhPub [crypto.KeySize]byte
	index uint64
}

// Header is the 48-byte per-message ratchet header.
type Header struct {
	DHPub crypto.PublicKey
	PN    uint64
	N     uint64
}

// Bytes serializes the header as dh_send_pub || pn || n_send, little-endian.
func (h Header) Bytes() []byte {
	out := make([]byte, HeaderSize)
	copy(out[:crypto.KeySize], h.DHPub[:])
	binary.LittleEndian.PutUint64(out[crypto.KeySize:crypto.KeySize+8], h.PN)
	binary.LittleEndian.PutUint64(out[crypto.KeySize+8:], h.N)
	return out
}

// HeaderFromBytes parses a 48-byte header.
func HeaderFromBytes(raw []byte) (Header, error) {
	if len(raw) != HeaderSize {
		return Header{}, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidHeader, HeaderSize, len(raw))
	}
	var h Header
	copy(h.DHPub[:], raw[:crypto.KeySize])
	h.PN = binary.LittleEndian.Uint64(raw[crypto.KeySize : crypto.KeySize+8])
	h.N = binary.LittleEndian.Uint64(raw[crypto.KeySize+8:])
	return h, nil
}

// State is a per-peer Double Ratchet session, owned exclusively by
// whichever side uses it (spec.md §3's RatchetState).
type State struct {
	dhSendingPriv crypto.PrivateKey
	dhSendingPub  crypto.PublicKey
	dhReceiving   *crypto.PublicKey

	rootKey crypto.SharedSecret

	sendingChainKey   *crypto.SharedSecret
	receivingChainKey *crypto.SharedSecret

	nSend uint64
	nRecv uint64
	pn    uint64

	mkSkipped map[skippedKey]crypto.SharedSecret
}

// InitAsInitiator sets up the ratchet for Alice, who has already run X3DH.
// A fresh sending key pair is generated; root_key'/sending_chain_key are
// derived via KDF_RK(SK, DH(dh_send, bobPK)).
func InitAsInitiator(sk crypto.SharedSecret, bobPK crypto.PublicKey) (*State, error) {
	priv, err := crypto.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("ratchet: generate sending key: %w", err)
	}
	pub, err := crypto.PublicFromPrivate(priv)
	if err != nil {
		return nil, fmt.Errorf("ratchet: derive sending public key: %w", err)
	}
	dh, err := priv.DiffieHellman(bobPK)
	if err != nil {
		return nil, fmt.Errorf("ratchet: initial dh: %w", err)
	}
	newRoot, sendCK, err := kdfRK(sk, dh)
	dh.Wipe()
	if err != nil {
		return nil, err
	}

	st := &State{
		dhSendingPriv:   priv,
		dhSendingPub:    pub,
		dhReceiving:     &bobPK,
		rootKey:         newRoot,
		sendingChainKey: &sendCK,
		mkSkipped:       make(map[skippedKey]crypto.SharedSecret),
	}
	return st, nil
}

// InitAsResponder sets up the ratchet for Bob: root_key = SK, dh_sending is
// Bob's own X3DH-time key pair, both chain keys are absent until the first
// inbound message performs the first DH ratchet step.
func InitAsResponder(sk crypto.SharedSecret, myPriv crypto.PrivateKey, myPub crypto.PublicKey) (*State, error) {
	return &State{
		dhSendingPriv: myPriv,
		dhSendingPub:  myPub,
		rootKey:       sk,
		mkSkipped:     make(map[skippedKey]crypto.SharedSecret),
	}, nil
}

// kdfRK derives (new_rk, chain_key) = HKDF(ikm = 0xFF*32 || rk || dh_out, L=64).
func kdfRK(rk, dh crypto.SharedSecret) (newRK, chainKey crypto.SharedSecret, err error) {
	ikm := crypto.DomainSeparatedIKM(rk[:], dh[:])
	out, err := crypto.Expand(make([]byte, crypto.KeySize), ikm, nil, 64)
	crypto.Wipe(ikm)
	if err != nil {
		return crypto.SharedSecret{}, crypto.SharedSecret{}, fmt.Errorf("ratchet: kdf_rk: %w", err)
	}
	copy(newRK[:], out[:32])
	copy(chainKey[:], out[32:64])
	crypto.Wipe(out)
	return newRK, chainKey, nil
}

// kdfCK derives (new_ck, message_key) = HKDF(ikm = 0xFF*32 || ck, L=64).
func kdfCK(ck crypto.SharedSecret) (newCK, messageKey crypto.SharedSecret, err error) {
	ikm := crypto.DomainSeparatedIKM(ck[:])
	out, err := crypto.Expand(make([]byte, crypto.KeySize), ikm, nil, 64)
	crypto.Wipe(ikm)
	if err != nil {
		return crypto.SharedSecret{}, crypto.SharedSecret{}, fmt.Errorf("ratchet: kdf_ck: %w", err)
	}
	copy(newCK[:], out[:32])
	copy(messageKey[:], out[32:64])
	crypto.Wipe(out)
	return newCK, messageKey, nil
}

// Encrypt advances the sending chain, producing a header and an AEAD-sealed
// frame: nonce || header || aad || ciphertext||tag.
func (st *State) Encrypt(plaintext, aad []byte) (Header, []byte, error) {
	if st.sendingChainKey == nil {
		return Header{}, nil, ErrChainUninitialized
	}
	newCK, mk, err := kdfCK(*st.sendingChainKey)
	if err != nil {
		return Header{}, nil, err
	}
	st.sendingChainKey = &newCK

	header := Header{DHPub: st.dhSendingPub, PN: st.pn, N: st.nSend}
	frame, err := seal(mk, header, aad, plaintext)
	mk.Wipe()
	if err != nil {
		return Header{}, nil, err
	}
	st.nSend++
	return header, frame, nil
}

// Decrypt parses a ratchet frame, consulting the skipped-key cache and
// performing a DH ratchet step if the header announces a new sending key,
// per spec.md §4.3's Decrypt algorithm. State is not mutated on failure:
// all chain advances happen on local copies that are only committed once
// the AEAD open succeeds.
func (st *State) Decrypt(frame, aad []byte) ([]byte, error) {
	header, ciphertext, err := parseFrame(frame)
	if err != nil {
		return nil, err
	}

	key := skippedKey{dhPub: header.DHPub, index: header.N}
	if mk, ok := st.mkSkipped[key]; ok {
		pt, err := open(mk, header, aad, ciphertext)
		mk.Wipe()
		if err != nil {
			return nil, err
		}
		delete(st.mkSkipped, key)
		return pt, nil
	}

	// Work out whether a DH ratchet step is needed, and if so compute its
	// results without mutating st until the final AEAD open succeeds.
	needsRatchet := st.dhReceiving == nil || *st.dhReceiving != header.DHPub
	pending := make(map[skippedKey]crypto.SharedSecret)

	if !needsRatchet {
		staged := *st
		staged.mkSkipped = pending
		if err := staged.skipUntil(header.N); err != nil {
			return nil, err
		}
		newCK, mk, err := kdfCK(*staged.receivingChainKey)
		if err != nil {
			return nil, err
		}
		pt, err := open(mk, header, aad, ciphertext)
		mk.Wipe()
		if err != nil {
			return nil, err
		}
		for k, v := range pending {
			st.mkSkipped[k] = v
		}
		st.receivingChainKey = &newCK
		st.nRecv = header.N + 1
		return pt, nil
	}

	// Skip remaining keys on the current receiving chain (if any) up to
	// header.PN before ratcheting.
	if st.receivingChainKey != nil {
		prev := *st
		prev.mkSkipped = pending
		if err := prev.skipUntil(header.PN); err != nil {
			return nil, err
		}
	}

	dh1, err := st.dhSendingPriv.DiffieHellman(header.DHPub)
	if err != nil {
		return nil, fmt.Errorf("ratchet: dh ratchet step: %w", err)
	}
	newRoot1, recvCK, err := kdfRK(st.rootKey, dh1)
	dh1.Wipe()
	if err != nil {
		return nil, err
	}

	newPriv, err := crypto.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("ratchet: generate new sending key: %w", err)
	}
	newPub, err := crypto.PublicFromPrivate(newPriv)
	if err != nil {
		return nil, fmt.Errorf("ratchet: derive new sending public key: %w", err)
	}
	dh2, err := newPriv.DiffieHellman(header.DHPub)
	if err != nil {
		return nil, fmt.Errorf("ratchet: dh ratchet step: %w", err)
	}
	newRoot2, sendCK, err := kdfRK(newRoot1, dh2)
	dh2.Wipe()
	if err != nil {
		return nil, err
	}

	// Decrypt under the freshly derived receiving chain before committing
	// any state, so a failed open leaves the ratchet untouched.
	stagingState := &State{
		dhSendingPriv:     newPriv,
		dhSendingPub:      newPub,
		dhReceiving:       &header.DHPub,
		rootKey:           newRoot2,
		sendingChainKey:   &sendCK,
		receivingChainKey: &recvCK,
		nSend:             0,
		nRecv:             0,
		pn:                st.nSend,
		mkSkipped:         pending,
	}
	if err := stagingState.skipUntil(header.N); err != nil {
		return nil, err
	}
	newCK, mk, err := kdfCK(*stagingState.receivingChainKey)
	if err != nil {
		return nil, err
	}
	pt, err := open(mk, header, aad, ciphertext)
	mk.Wipe()
	if err != nil {
		return nil, err
	}
	for k, v := range pending {
		st.mkSkipped[k] = v
	}
	stagingState.mkSkipped = st.mkSkipped
	stagingState.receivingChainKey = &newCK
	stagingState.nRecv = header.N + 1
	*st = *stagingState
	return pt, nil
}

// skipUntil derives and stores receiving-chain message keys for every
// index up to (but not including) target, bounded by MaxSkips.
func (st *State) skipUntil(target uint64) error {
	if st.receivingChainKey == nil {
		return nil
	}
	if target < st.nRecv {
		return nil
	}
	if target-st.nRecv > MaxSkips {
		return ErrMaxSkipsExceeded
	}
	dhPub := *st.dhReceiving
	for st.nRecv < target {
		newCK, mk, err := kdfCK(*st.receivingChainKey)
		if err != nil {
			return err
		}
		st.receivingChainKey = &newCK
		st.mkSkipped[skippedKey{dhPub: dhPub, index: st.nRecv}] = mk
		st.nRecv++
	}
	return nil
}

// seal AES-256-GCM-encrypts plaintext under mk, binding header||aad as the
// AEAD associated data. crypto.EncryptionKey.Encrypt already frames its
// output as nonce || ad || ciphertext||tag, which is exactly
// nonce || header || aad || ciphertext||tag once ad = header.Bytes() || aad.
func seal(mk crypto.SharedSecret, header Header, aad, plaintext []byte) ([]byte, error) {
	var ek crypto.EncryptionKey
	copy(ek[:], mk[:])
	fullAD := append(header.Bytes(), aad...)
	frame, err := ek.Encrypt(plaintext, fullAD)
	if err != nil {
		return nil, fmt.Errorf("ratchet: seal: %w", err)
	}
	return frame, nil
}

// open decrypts a frame's ciphertext section given the parsed header and aad.
// The header and aad bytes carried in the frame must equal header||aad.
func open(mk crypto.SharedSecret, header Header, aad []byte, frame []byte) ([]byte, error) {
	var dk crypto.DecryptionKey
	copy(dk[:], mk[:])
	fullAD := append(header.Bytes(), aad...)
	adEnd := crypto.NonceSize + len(fullAD)
	if len(frame) < adEnd || !bytes.Equal(frame[crypto.NonceSize:adEnd], fullAD) {
		return nil, ErrAeadFailure
	}
	nonce := frame[:crypto.NonceSize]
	ciphertext := frame[adEnd:]
	pt, err := dk.Decrypt(ciphertext, nonce, fullAD)
	if err != nil {
		return nil, err
	}
	return pt, nil
}

// parseFrame validates the frame is at least long enough to contain a nonce
// and header, and parses the header. The full frame (not just the
// ciphertext) is passed through to open, which re-slices it once the
// associated data length (header+aad) is known.
func parseFrame(frame []byte) (Header, []byte, error) {
	minLen := crypto.NonceSize + HeaderSize
	if len(frame) < minLen {
		return Header{}, nil, fmt.Errorf("%w: frame too short", ErrInvalidHeader)
	}
	headerRaw := frame[crypto.NonceSize : crypto.NonceSize+HeaderSize]
	header, err := HeaderFromBytes(headerRaw)
	if err != nil {
		return Header{}, nil, err
	}
	return header, frame, nil
}

// ToBase64 is a convenience wrapper for transporting a ratchet frame.
func ToBase64(frame []byte) string { return base64.StdEncoding.EncodeToString(frame) }

// FromBase64 decodes a base64-framed ratchet frame.
func FromBase64(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("ratchet: base64 decode: %w", err)
	}
	return raw, nil
}
