// Package session implements the {ek, dk, aad} triple spec.md §4.5 calls
// Session: independently-settable fields with set-once semantics, used by
// the relay's control channel (client<->server). Chat channels do not use
// it; internal/chatsession seeds a Double Ratchet directly from X3DH.
//
// Grounded on the teacher's SignalSession (internal/security/signal.go),
// trimmed of its key-rotation/multi-device fields — those are Non-goals
// per spec.md §1 (see DESIGN.md for the drop justification).
package session

import (
	"errors"
	"sync"

	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/crypto"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/wire"
)

// ErrAlreadySet is returned when a caller attempts to replace an
// already-set encryption or decryption key, violating spec.md §4.5's
// invariant that ek/dk are immutable once set.
var ErrAlreadySet = errors.New("session: key already set for this session")

// Keys bundles an encryption key, a decryption key, and an associated-data
// value. Each field is independently settable exactly once; reads are safe
// from any goroutine once set (spec.md §5: "session is read-only from the
// hot path after initialization").
type Keys struct {
	mu  sync.RWMutex
	ek  *crypto.EncryptionKey
	dk  *crypto.DecryptionKey
	aad *wire.AssociatedData
}

// New returns an empty session with no keys set.
func New() *Keys { return &Keys{} }

// SetEncryptionKey sets ek exactly once.
func (s *Keys) SetEncryptionKey(ek crypto.EncryptionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ek != nil {
		return ErrAlreadySet
	}
	s.ek = &ek
	return nil
}

// SetDecryptionKey sets dk exactly once.
func (s *Keys) SetDecryptionKey(dk crypto.DecryptionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dk != nil {
		return ErrAlreadySet
	}
	s.dk = &dk
	return nil
}

// SetAssociatedData sets aad exactly once.
func (s *Keys) SetAssociatedData(aad wire.AssociatedData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aad != nil {
		return ErrAlreadySet
	}
	s.aad = &aad
	return nil
}

// EncryptionKey returns (ek, true) if set.
func (s *Keys) EncryptionKey() (crypto.EncryptionKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ek == nil {
		return crypto.EncryptionKey{}, false
	}
	return *s.ek, true
}

// DecryptionKey returns (dk, true) if set.
func (s *Keys) DecryptionKey() (crypto.DecryptionKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dk == nil {
		return crypto.DecryptionKey{}, false
	}
	return *s.dk, true
}

// AssociatedData returns (aad, true) if set.
func (s *Keys) AssociatedData() (wire.AssociatedData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.aad == nil {
		return wire.AssociatedData{}, false
	}
	return *s.aad, true
}

// Ready reports whether all three fields have been set, i.e. the session is
// usable for encrypt/decrypt.
func (s *Keys) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ek != nil && s.dk != nil && s.aad != nil
}

// Encrypt seals plaintext under the session's encryption key and
// associated data. Returns an error if the session isn't fully established.
func (s *Keys) Encrypt(plaintext []byte) ([]byte, error) {
	ek, ok := s.EncryptionKey()
	if !ok {
		return nil, errors.New("session: encryption key not set")
	}
	aad, ok := s.AssociatedData()
	if !ok {
		return nil, errors.New("session: associated data not set")
	}
	return ek.Encrypt(plaintext, aad.Bytes())
}

// Decrypt opens ciphertext (the raw GCM output) with the given nonce, using
// the session's decryption key and associated data.
func (s *Keys) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	dk, ok := s.DecryptionKey()
	if !ok {
		return nil, errors.New("session: decryption key not set")
	}
	aad, ok := s.AssociatedData()
	if !ok {
		return nil, errors.New("session: associated data not set")
	}
	return dk.Decrypt(ciphertext, nonce, aad.Bytes())
}
