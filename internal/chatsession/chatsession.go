// Package chatsession manages the per-peer Double Ratchet sessions a
// client maintains once it has fetched a peer's published bundle, per
// spec.md's Lifecycle note: "Ratchet state lives for the duration of a
// peer relationship and is re-derived if both parties rerun X3DH." The
// relay server only ever sees these frames as opaque send_message text.
//
// No direct teacher equivalent exists (the teacher's chat model persists
// plaintext-adjacent message rows in Postgres); grounded on spec.md §3/§4.3
// directly, built on internal/x3dh and internal/ratchet.
package chatsession

import (
	"fmt"
	"strings"
	"sync"

	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/crypto"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/ratchet"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/wire"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/x3dh"
)

// handshakePrefix marks a send_message payload as carrying an X3DH
// InitialMessage rather than a ratchet-encrypted chat frame.
const handshakePrefix = "x3dh-init:"

// session is one peer relationship's ratchet state plus the associated
// data bound into every frame for that relationship.
type session struct {
	state *ratchet.State
	aad   []byte
}

// Manager holds every peer session a client has open, keyed by peer
// username. One Manager per client connection.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session

	identity         x3dh.Identity
	directoryPreKeys x3dh.PreKeys
}

// NewManager builds a Manager around the client's long-lived identity and
// the prekeys published in its own directory bundle (used to answer
// incoming handshakes as X3DH responder).
func NewManager(identity x3dh.Identity, directoryPreKeys x3dh.PreKeys) *Manager {
	return &Manager{
		sessions:         make(map[string]*session),
		identity:         identity,
		directoryPreKeys: directoryPreKeys,
	}
}

// StartChat runs the X3DH initiator step against peerBundle and opens a
// ratchet session for peerUsername. It returns the handshake payload to
// send as this chat's first send_message text.
func (m *Manager) StartChat(peerUsername string, peerBundle wire.PreKeyBundle) (string, error) {
	im, keys, err := x3dh.ProcessPreKeyBundle(m.identity, peerBundle)
	if err != nil {
		return "", fmt.Errorf("chatsession: x3dh initiator step: %w", err)
	}
	state, err := ratchet.InitAsInitiator(crypto.SharedSecret(keys.EK), peerBundle.SPK)
	if err != nil {
		return "", fmt.Errorf("chatsession: init ratchet: %w", err)
	}

	m.mu.Lock()
	m.sessions[peerUsername] = &session{state: state, aad: keys.AAD.Bytes()}
	m.mu.Unlock()

	return handshakePrefix + im.ToBase64(), nil
}

// HasSession reports whether a ratchet session is already open with peer.
func (m *Manager) HasSession(peer string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[peer]
	return ok
}

// Encrypt seals plaintext under peer's ratchet session, returning the
// base64 frame to send as this chat's send_message text.
func (m *Manager) Encrypt(peer string, plaintext []byte) (string, error) {
	m.mu.Lock()
	s, ok := m.sessions[peer]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("chatsession: no open session with %s", peer)
	}
	_, frame, err := s.state.Encrypt(plaintext, s.aad)
	if err != nil {
		return "", fmt.Errorf("chatsession: encrypt: %w", err)
	}
	return ratchet.ToBase64(frame), nil
}

// HandleIncoming processes one send_message payload from peer: either it
// completes the responder half of a handshake (opening a new session), or
// it is a ratchet frame to decrypt against an existing session.
func (m *Manager) HandleIncoming(peer, text string) (plaintext []byte, established bool, err error) {
	if rest, ok := strings.CutPrefix(text, handshakePrefix); ok {
		if err := m.acceptHandshake(peer, rest); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}

	m.mu.Lock()
	s, ok := m.sessions[peer]
	m.mu.Unlock()
	if !ok {
		return nil, false, fmt.Errorf("chatsession: no open session with %s", peer)
	}
	frame, err := ratchet.FromBase64(text)
	if err != nil {
		return nil, false, fmt.Errorf("chatsession: decode frame: %w", err)
	}
	pt, err := s.state.Decrypt(frame, s.aad)
	if err != nil {
		return nil, false, fmt.Errorf("chatsession: decrypt: %w", err)
	}
	return pt, false, nil
}

func (m *Manager) acceptHandshake(peer, imB64 string) error {
	im, err := wire.InitialMessageFromBase64(imB64)
	if err != nil {
		return fmt.Errorf("chatsession: parse initial message: %w", err)
	}
	m.mu.Lock()
	otpkPriv := m.matchOneTimePreKey(im)
	m.mu.Unlock()
	keys, err := x3dh.ProcessInitialMessage(
		m.identity,
		m.directoryPreKeys.SPKPrivate,
		m.directoryPreKeys.SPKPublic,
		otpkPriv,
		im,
	)
	if err != nil {
		return fmt.Errorf("chatsession: x3dh responder step: %w", err)
	}
	state, err := ratchet.InitAsResponder(
		crypto.SharedSecret(keys.DK),
		m.directoryPreKeys.SPKPrivate,
		m.directoryPreKeys.SPKPublic,
	)
	if err != nil {
		return fmt.Errorf("chatsession: init ratchet: %w", err)
	}

	m.mu.Lock()
	m.sessions[peer] = &session{state: state, aad: keys.AAD.Bytes()}
	m.mu.Unlock()
	return nil
}

// matchOneTimePreKey finds and removes the one-time prekey (if any) the
// incoming InitialMessage references, so a replayed hash is rejected by
// x3dh.ProcessInitialMessage's otpkPriv == nil branch (spec.md's Data
// Model invariant: "one-time prekeys are consumed at most once per
// handshake").
func (m *Manager) matchOneTimePreKey(im wire.InitialMessage) *crypto.PrivateKey {
	if im.OneTimeKeyHash == nil {
		return nil
	}
	for i, pub := range m.directoryPreKeys.OTPKPublic {
		if crypto.Hash(pub[:]) == *im.OneTimeKeyHash {
			priv := m.directoryPreKeys.OTPKPrivate[i]
			m.directoryPreKeys.OTPKPrivate = append(m.directoryPreKeys.OTPKPrivate[:i], m.directoryPreKeys.OTPKPrivate[i+1:]...)
			m.directoryPreKeys.OTPKPublic = append(m.directoryPreKeys.OTPKPublic[:i], m.directoryPreKeys.OTPKPublic[i+1:]...)
			return &priv
		}
	}
	return nil
}

// DecodeBundle parses a base64-encoded PreKeyBundle, as returned by a
// get_prekey_bundle response.
func DecodeBundle(b64 string) (wire.PreKeyBundle, error) {
	return wire.PreKeyBundleFromBase64(b64)
}
