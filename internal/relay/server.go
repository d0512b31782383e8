package relay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/crypto"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/directory"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/metrics"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/session"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/wire"
	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/x3dh"
)

// Server holds the relay's shared state: the directory of registered
// peers and the server's static X3DH identity. One Server is shared across
// all connections; per-connection state (session, registered username) is
// held by Conn.
//
// Grounded on the teacher's Hub (internal/websocket/hub.go) for the
// "shared state object that connections register/unregister against"
// shape; here no goroutine owns it, and the directory guards itself with
// its own lock.
type Server struct {
	Directory *directory.Directory
	Identity  x3dh.Identity
}

// NewServer builds a Server around a fresh directory and the given static
// server identity (loaded from config per spec.md §6).
func NewServer(identity x3dh.Identity) *Server {
	return &Server{Directory: directory.New(), Identity: identity}
}

// Conn is the per-connection relay state: the session keys negotiated
// during EstablishConnection, and (once registered) the username claimed
// on this connection.
type Conn struct {
	server   *Server
	Session  *session.Keys
	username directory.Username
	outbound directory.OutboundChannel
}

// NewConn returns a fresh, unestablished connection bound to server.
func NewConn(server *Server) *Conn {
	return &Conn{server: server, Session: session.New(), outbound: make(directory.OutboundChannel, 64)}
}

// HandleEstablishConnection runs the bootstrap X3DH handshake: the client
// ships its own one-shot PreKeyBundle as the
// bootstrap payload; the server plays the X3DH initiator role against it
// using its static identity key, and the client (holding the bundle's
// private half) finishes the handshake as the X3DH responder. This mirrors
// original_source/server/src/main.rs's establish_connection, which calls
// process_prekey_bundle(server_private_key, client_bundle).
func (c *Conn) HandleEstablishConnection(req EstablishConnectionRequest) EstablishConnectionResponse {
	start := time.Now()
	bundle, err := wire.PreKeyBundleFromBase64(req.Bundle)
	if err != nil {
		log.Printf("[relay] establish_connection: bad bundle: %v", err)
		metrics.RecordHandshake("bad_bundle", time.Since(start))
		return EstablishConnectionResponse{Code: CodeBadRequest, Message: "invalid prekey bundle"}
	}
	im, keys, err := x3dh.ProcessPreKeyBundle(c.server.Identity, bundle)
	if err != nil {
		log.Printf("[relay] establish_connection: x3dh failed: %v", err)
		metrics.RecordHandshake("bad_signature", time.Since(start))
		return EstablishConnectionResponse{Code: CodeBadRequest, Message: "handshake failed"}
	}

	if err := c.Session.SetEncryptionKey(keys.EK); err != nil {
		return EstablishConnectionResponse{Code: CodeInternalServerError, Message: "session already established"}
	}
	if err := c.Session.SetDecryptionKey(keys.DK); err != nil {
		return EstablishConnectionResponse{Code: CodeInternalServerError, Message: "session already established"}
	}
	if err := c.Session.SetAssociatedData(keys.AAD); err != nil {
		return EstablishConnectionResponse{Code: CodeInternalServerError, Message: "session already established"}
	}

	metrics.RecordHandshake("ok", time.Since(start))
	return EstablishConnectionResponse{Code: CodeOK, Message: im.ToBase64()}
}

// HandleEncryptedFrame decrypts an AEAD frame (nonce || aad || ciphertext||tag),
// parses the request envelope, dispatches the action, and returns the
// AEAD-sealed reply frame ready to transmit.
func (c *Conn) HandleEncryptedFrame(frame []byte) ([]byte, error) {
	plaintext, err := decryptSessionFrame(c.Session, frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	env, err := ParseRequestEnvelope(plaintext)
	if err != nil {
		return c.sealResponse("", CodeBadRequest, "malformed envelope")
	}

	action, err := ParseAction(env.Body)
	if err != nil {
		return c.sealResponse(env.RequestID, CodeBadRequest, "malformed action")
	}

	switch action.Kind {
	case ActionRegister:
		return c.handleRegister(env.RequestID, *action.Register)
	case ActionGetPreKeyBundle:
		return c.handleGetPreKeyBundle(env.RequestID, *action.GetPreKeyBundle)
	case ActionSendMessage:
		return c.handleSendMessage(env.RequestID, *action.SendMessage)
	default:
		return c.sealResponse(env.RequestID, CodeBadRequest, "unknown action")
	}
}

func (c *Conn) handleRegister(requestID string, req RegisterAction) ([]byte, error) {
	name, err := directory.NewUsername(req.Username)
	if err != nil {
		metrics.RecordRegistration("bad_username")
		return c.sealResponse(requestID, CodeBadRequest, "the username must be alphanumeric")
	}
	bundle, err := wire.PreKeyBundleFromBase64(req.Bundle)
	if err != nil {
		metrics.RecordRegistration("bad_username")
		return c.sealResponse(requestID, CodeBadRequest, "invalid prekey bundle")
	}
	peer := &directory.Peer{Outbound: c.outbound, PublishedBundle: bundle}
	if err := c.server.Directory.Register(name, peer); err != nil {
		metrics.RecordRegistration("conflict")
		return c.sealResponse(requestID, CodeConflict, "user already exists")
	}
	c.username = name
	metrics.RecordRegistration("ok")
	metrics.DirectoryPeers.Set(float64(c.server.Directory.Len()))
	return c.sealResponse(requestID, CodeOK, "user registered successfully")
}

func (c *Conn) handleGetPreKeyBundle(requestID string, req GetPreKeyBundleAction) ([]byte, error) {
	who, err := directory.NewUsername(req.Who)
	if err != nil {
		metrics.RecordBundleLookup("not_found")
		return c.sealResponse(requestID, CodeBadRequest, "invalid username")
	}
	if who == c.username {
		return c.sealResponse(requestID, CodeBadRequest, "you can't ask for your own bundle")
	}
	peer, err := c.server.Directory.Lookup(who)
	if err != nil {
		metrics.RecordBundleLookup("not_found")
		return c.sealResponse(requestID, CodeNotFound, "user not found")
	}
	metrics.RecordBundleLookup("ok")
	return c.sealResponse(requestID, CodeOK, peer.ConsumeBundle().ToBase64())
}

func (c *Conn) handleSendMessage(requestID string, req SendMessageAction) ([]byte, error) {
	to, err := directory.NewUsername(req.To)
	if err != nil {
		metrics.RecordMessageRelayed("not_found")
		return c.sealResponse(requestID, CodeBadRequest, "invalid recipient")
	}
	peer, err := c.server.Directory.Lookup(to)
	if err != nil {
		metrics.RecordMessageRelayed("not_found")
		return c.sealResponse(requestID, CodeNotFound, "user not found")
	}
	payload, _ := json.Marshal(req)
	select {
	case peer.Outbound <- payload:
		metrics.RecordMessageRelayed("ok")
	default:
		log.Printf("[relay] outbound channel full for %s, dropping delivery", to)
		metrics.RecordMessageRelayed("outbound_full")
	}
	return c.sealResponse(requestID, CodeOK, "sent")
}

// sealResponse builds and AEAD-seals a response envelope under the
// connection's session keys.
func (c *Conn) sealResponse(requestID string, code ResponseCode, message string) ([]byte, error) {
	env := NewResponseEnvelope(requestID, code, message)
	body, err := env.Marshal()
	if err != nil {
		return nil, err
	}
	return c.Session.Encrypt(body)
}

// decryptSessionFrame opens a session-framed AEAD frame:
// nonce(12) || associated_data(64) || ciphertext||tag.
func decryptSessionFrame(s *session.Keys, frame []byte) ([]byte, error) {
	aad, ok := s.AssociatedData()
	if !ok {
		return nil, fmt.Errorf("session not established")
	}
	adSize := len(aad.Bytes())
	if len(frame) < crypto.NonceSize+adSize {
		return nil, fmt.Errorf("frame too short")
	}
	nonce := frame[:crypto.NonceSize]
	ciphertext := frame[crypto.NonceSize+adSize:]
	return s.Decrypt(ciphertext, nonce)
}

// DecodeBase64Frame is a convenience for transports that carry AEAD frames
// as base64 strings.
func DecodeBase64Frame(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return raw, nil
}

// EncodeBase64Frame is the inverse of DecodeBase64Frame.
func EncodeBase64Frame(frame []byte) string {
	return base64.StdEncoding.EncodeToString(frame)
}

// Disconnect removes this connection's registered username (if any) from
// the directory, per spec.md §5's Cancellation rule: "a disconnected peer
// is removed from the directory."
func (c *Conn) Disconnect() {
	if c.username != "" {
		c.server.Directory.Remove(c.username)
		metrics.DirectoryPeers.Set(float64(c.server.Directory.Len()))
	}
}

// Outbound exposes the connection's delivery channel so a transport-layer
// send loop can drain it, mirroring the teacher's Client.send channel.
func (c *Conn) Outbound() directory.OutboundChannel { return c.outbound }
