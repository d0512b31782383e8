// Package directory implements the server-side username -> Peer mapping of
// spec.md §3/§4.6: read-heavy concurrent access, check-then-insert
// registration, removal on disconnect.
//
// Grounded on the teacher's Hub.clients map[uuid.UUID]map[*Client]bool
// guarded by sync.RWMutex (internal/websocket/hub.go), narrowed from
// multi-device (many connections per user) to exactly one delivery channel
// per username, since multi-device is a Non-goal. The cross-server Redis
// fan-out the teacher layers on top (internal/pubsub) is dropped — see
// DESIGN.md.
package directory

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/wire"
)

// ErrInvalidUsername is returned for empty or non-alphanumeric usernames.
var ErrInvalidUsername = errors.New("directory: username must be non-empty and alphanumeric")

// ErrAlreadyRegistered is returned when a registration names a username
// already present in the directory.
var ErrAlreadyRegistered = errors.New("directory: username already registered")

// ErrNotFound is returned when a lookup names a username not in the directory.
var ErrNotFound = errors.New("directory: username not found")

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Username is a validated directory key: non-empty and purely [A-Za-z0-9].
type Username string

// NewUsername validates raw against the directory's username policy.
func NewUsername(raw string) (Username, error) {
	if !usernamePattern.MatchString(raw) {
		return "", ErrInvalidUsername
	}
	return Username(raw), nil
}

// OutboundChannel is the one-producer queue a Peer uses to receive
// server-pushed deliveries (e.g. relayed chat messages).
type OutboundChannel chan []byte

// Peer is the server-side record for a registered, connected client:
// its delivery channel and its published prekey bundle (spec.md §3).
// PublishedBundle's one-time prekeys are mutated as they're handed out
// (see ConsumeBundle), so access to it is guarded by mu.
type Peer struct {
	Outbound        OutboundChannel
	mu              sync.Mutex
	PublishedBundle wire.PreKeyBundle
}

// ConsumeBundle returns a snapshot of the peer's published bundle with at
// most one one-time prekey attached, popping that prekey from the peer's
// live bundle under lock so the same one-time prekey is never handed out
// to two lookups (spec.md's Data Model invariant: "one-time prekeys are
// consumed at most once per handshake").
func (p *Peer) ConsumeBundle() wire.PreKeyBundle {
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot := p.PublishedBundle
	snapshot.OTPKs = nil
	if otpk, ok := p.PublishedBundle.PopOTPK(); ok {
		snapshot.OTPKs = append(snapshot.OTPKs, otpk)
	}
	return snapshot
}

// Directory is the in-memory username -> Peer map. Zero value is usable.
type Directory struct {
	mu    sync.RWMutex
	peers map[Username]*Peer
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{peers: make(map[Username]*Peer)}
}

// Register inserts peer under name iff name is absent (check-then-insert,
// spec.md §4.6). Bundles are immutable once published: a repeat
// registration of the same name is rejected with ErrAlreadyRegistered.
func (d *Directory) Register(name Username, peer *Peer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.peers[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	d.peers[name] = peer
	return nil
}

// Lookup returns the Peer registered under name.
func (d *Directory) Lookup(name Username) (*Peer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p, nil
}

// Remove deletes name from the directory, e.g. on client disconnect.
func (d *Directory) Remove(name Username) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, name)
}

// Len returns the number of registered peers, mainly for tests/metrics.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}
