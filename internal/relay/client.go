package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/crypto"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/pending"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/session"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/wire"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/x3dh"
)

// requestRateLimit bounds how fast this client issues new requests to the
// relay, replacing the teacher's hand-rolled token bucket
// (internal/websocket/client.go's canSendMessage) with the equivalent
// golang.org/x/time/rate limiter: 50 requests/second, burst of 200.
const (
	requestRateLimit = 50
	requestRateBurst = 200
)

// PushHandler receives an unsolicited server-pushed chat frame (a
// SendMessageAction decoded from the relayed delivery), per spec.md §4.4's
// "Server-push message (to recipient)".
type PushHandler func(SendMessageAction)

// Client is the relay protocol's client side: it owns the session
// negotiated with the server, the pending-request demultiplexer, and the
// underlying WebSocket connection. Grounded on the teacher's
// internal/websocket.Client for the "one struct owning conn + outbound
// plumbing" shape, trimmed of its multi-device fields; outbound requests
// are rate-limited by limiter (spec.md §5 names three client tasks: receive
// loop, send loop, foreground driver — see ReceiveLoop/SendLoop below).
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	Session *session.Keys
	Pending *pending.Map

	onPush  PushHandler
	limiter *rate.Limiter

	sendCh chan []byte
	done   chan struct{}
}

// NewClient wraps an already-dialed WebSocket connection.
func NewClient(conn *websocket.Conn, onPush PushHandler) *Client {
	return &Client{
		conn:    conn,
		Session: session.New(),
		Pending: pending.New(),
		onPush:  onPush,
		limiter: rate.NewLimiter(rate.Limit(requestRateLimit), requestRateBurst),
		sendCh:  make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

// EstablishConnection runs the bootstrap handshake: build a prekey bundle
// from the caller's identity and one-shot prekeys, send it plaintext, and
// finish the responder side of X3DH against the server's InitialMessage
// reply. The server's identity key in that reply is not checked against a
// known value.
func (c *Client) EstablishConnection(identity x3dh.Identity, preKeys x3dh.PreKeys) error {
	bundle := x3dh.GenerateBundle(identity, preKeys)
	req := EstablishConnectionRequest{RequestType: "EstablishConnection", Bundle: bundle.ToBase64()}
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("relay: marshal establish_connection: %w", err)
	}
	if err := c.writeText(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	var resp EstablishConnectionResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		return fmt.Errorf("relay: parse establish_connection response: %w", err)
	}
	if resp.Code != CodeOK {
		return fmt.Errorf("relay: establish_connection rejected: %s", resp.Message)
	}

	im, err := wire.InitialMessageFromBase64(resp.Message)
	if err != nil {
		return fmt.Errorf("relay: parse initial message: %w", err)
	}

	otpkPriv := matchOneTimePreKey(&preKeys, im)
	keys, err := x3dh.ProcessInitialMessage(identity, preKeys.SPKPrivate, preKeys.SPKPublic, otpkPriv, im)
	if err != nil {
		return fmt.Errorf("relay: x3dh responder step: %w", err)
	}
	if err := c.Session.SetEncryptionKey(keys.EK); err != nil {
		return err
	}
	if err := c.Session.SetDecryptionKey(keys.DK); err != nil {
		return err
	}
	if err := c.Session.SetAssociatedData(keys.AAD); err != nil {
		return err
	}
	return nil
}

// Request sends an AEAD-sealed action and waits for the matching reply,
// per spec.md §4.6's PendingMap: insertion precedes transmission, removal
// happens when the matching id arrives.
func (c *Client) Request(action any) (ResponseBody, error) {
	if err := c.limiter.Wait(context.Background()); err != nil {
		return ResponseBody{}, fmt.Errorf("relay: rate limit: %w", err)
	}
	body, err := json.Marshal(action)
	if err != nil {
		return ResponseBody{}, fmt.Errorf("relay: marshal action: %w", err)
	}
	requestID, wait, err := c.Pending.Register()
	if err != nil {
		return ResponseBody{}, err
	}
	env := RequestEnvelope{RequestID: requestID, Body: body}
	envBytes, err := env.Marshal()
	if err != nil {
		c.Pending.Cancel(requestID)
		return ResponseBody{}, err
	}
	frame, err := c.Session.Encrypt(envBytes)
	if err != nil {
		c.Pending.Cancel(requestID)
		return ResponseBody{}, err
	}
	if err := c.writeText([]byte(EncodeBase64Frame(frame))); err != nil {
		c.Pending.Cancel(requestID)
		return ResponseBody{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	reply := <-wait
	if reply.Err != nil {
		return ResponseBody{}, reply.Err
	}
	respEnv, err := ParseResponseEnvelope(reply.Body)
	if err != nil {
		return ResponseBody{}, err
	}
	return respEnv.Body, nil
}

// RequestWithTimeout is Request bounded by a deadline (spec.md §5:
// "implementation SHOULD provide a bounded wait on pending replies").
func (c *Client) RequestWithTimeout(action any, timeout time.Duration) (ResponseBody, error) {
	type result struct {
		body ResponseBody
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		b, err := c.Request(action)
		resCh <- result{b, err}
	}()
	select {
	case r := <-resCh:
		return r.body, r.err
	case <-time.After(timeout):
		return ResponseBody{}, fmt.Errorf("relay: request timed out after %s", timeout)
	}
}

// ReceiveLoop reads frames until the connection closes, routing replies
// through Pending and pushes through onPush. Run this in its own goroutine
// (spec.md §5's "receive loop" task).
func (c *Client) ReceiveLoop() error {
	defer close(c.done)
	defer c.Pending.FailAll(ErrTransport)

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
		frame, err := DecodeBase64Frame(string(msg))
		if err != nil {
			log.Printf("[relay] dropping malformed frame: %v", err)
			continue
		}
		plaintext, err := decryptSessionFrame(c.Session, frame)
		if err != nil {
			log.Printf("[relay] dropping undecryptable frame: %v", err)
			continue
		}

		c.routeFrame(plaintext)
	}
}

func (c *Client) routeFrame(plaintext []byte) {
	env, err := ParseResponseEnvelope(plaintext)
	if err == nil && env.RequestID != "" {
		if resolveErr := c.Pending.Resolve(env.RequestID, pending.Reply{Body: plaintext}); resolveErr == nil {
			return
		}
	}
	// No matching request_id: this is an unsolicited server push, per
	// spec.md §4.4's "Server-push message (to recipient)".
	var action SendMessageAction
	if err := json.Unmarshal(plaintext, &action); err != nil {
		log.Printf("[relay] dropping unroutable frame: %v", err)
		return
	}
	if c.onPush != nil {
		c.onPush(action)
	}
}

// SendLoop drains queued outbound frames onto the WebSocket connection
// (spec.md §5's "send loop" task, for push-originated outbound traffic).
func (c *Client) SendLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.sendCh:
			if err := c.writeText(frame); err != nil {
				log.Printf("[relay] send loop write failed: %v", err)
				return
			}
		}
	}
}

// Close closes the transport. A running ReceiveLoop then ends with a
// transport error, failing every pending request, and SendLoop stops;
// frames still queued for SendLoop are not written.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) writeText(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// matchOneTimePreKey finds which of our own one-time prekeys (if any) the
// server's InitialMessage consumed, by comparing hashes, and removes it
// from preKeys so a replayed hash can never be matched again (spec.md's
// Data Model invariant: "one-time prekeys are consumed at most once per
// handshake").
func matchOneTimePreKey(preKeys *x3dh.PreKeys, im wire.InitialMessage) *crypto.PrivateKey {
	if im.OneTimeKeyHash == nil {
		return nil
	}
	for i, pub := range preKeys.OTPKPublic {
		if crypto.Hash(pub[:]) == *im.OneTimeKeyHash {
			priv := preKeys.OTPKPrivate[i]
			preKeys.OTPKPrivate = append(preKeys.OTPKPrivate[:i], preKeys.OTPKPrivate[i+1:]...)
			preKeys.OTPKPublic = append(preKeys.OTPKPublic[:i], preKeys.OTPKPublic[i+1:]...)
			return &priv
		}
	}
	return nil
}
