// Package pending implements the client-side request_id -> one-shot reply
// slot demultiplexer of spec.md §3/§4.6: insertion precedes transmission,
// removal happens exactly once (reply arrival, or a timeout/cancel), and
// all outstanding slots are failed atomically on connection loss.
//
// New package (spec.md §2 names it but the teacher has no equivalent
// primitive); grounded on the teacher's request-scoped correlation idiom in
// internal/handlers/common.go and the "oneshot reply" pattern spec.md §9
// describes generically as "any single-use signaling channel".
package pending

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrClosed is returned by Register once FailAll has closed the map
// (connection loss).
var ErrClosed = errors.New("pending: connection closed, request abandoned")

// ErrUnknownRequestID is returned by Resolve when request_id has no
// matching slot (already resolved, timed out, or never registered).
var ErrUnknownRequestID = errors.New("pending: unknown request_id")

// Reply is whatever the relay's decrypted response body resolves to; the
// relay package supplies the concrete type.
type Reply struct {
	Body []byte
	Err  error
}

// Map is a mutex-guarded request_id -> one-shot reply channel table. The
// lock is held only for insert/remove, never across an await on the reply
// channel itself (spec.md §5).
type Map struct {
	mu     sync.Mutex
	slots  map[string]chan Reply
	closed bool
}

// New returns an empty, open pending map.
func New() *Map {
	return &Map{slots: make(map[string]chan Reply)}
}

// Register creates a fresh request_id and its one-shot reply channel,
// inserting it before the caller transmits the request.
func (m *Map) Register() (requestID string, wait <-chan Reply, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", nil, ErrClosed
	}
	id := uuid.NewString()
	ch := make(chan Reply, 1)
	m.slots[id] = ch
	return id, ch, nil
}

// Resolve delivers reply to the slot named by requestID and removes it.
// Returns ErrUnknownRequestID if no such slot exists (e.g. the frame is an
// unsolicited server push, which the relay layer routes elsewhere instead
// of calling Resolve).
func (m *Map) Resolve(requestID string, reply Reply) error {
	m.mu.Lock()
	ch, ok := m.slots[requestID]
	if ok {
		delete(m.slots, requestID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequestID, requestID)
	}
	ch <- reply
	close(ch)
	return nil
}

// Cancel removes and discards requestID's slot without resolving it, e.g.
// on a caller-side timeout. A no-op if the slot is already gone.
func (m *Map) Cancel(requestID string) {
	m.mu.Lock()
	ch, ok := m.slots[requestID]
	if ok {
		delete(m.slots, requestID)
	}
	m.mu.Unlock()
	if ok {
		close(ch)
	}
}

// FailAll resolves every outstanding slot with err and marks the map
// closed, so subsequent Register calls fail fast. Called on transport loss
// (spec.md §5's Cancellation: "flushes the send task ... zeroes all secret
// material"; here, fails every pending caller instead of leaving them
// blocked forever).
func (m *Map) FailAll(err error) {
	m.mu.Lock()
	slots := m.slots
	m.slots = make(map[string]chan Reply)
	m.closed = true
	m.mu.Unlock()

	for _, ch := range slots {
		ch <- Reply{Err: err}
		close(ch)
	}
}

// Len reports the number of outstanding slots, mainly for tests.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
