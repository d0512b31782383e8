// Package relay implements the request/response envelope protocol of
// spec.md §4.4: a plaintext EstablishConnection bootstrap followed by
// AEAD-sealed JSON envelopes carrying register/get_prekey_bundle/
// send_message actions and unsolicited delivery pushes.
//
// Grounded on the teacher's internal/websocket Hub/Client split and
// internal/handlers/websocket_handlers.go envelope dispatch, narrowed to
// the five message kinds spec.md §4.4 names, transported the way the
// teacher transports models.WebSocketMessage frames over
// github.com/gorilla/websocket. Wire shapes cross-checked against
// original_source/common/src/lib.rs and original_source/server/src/utils.rs.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ResponseCode is one of the five decimal-string response codes spec.md
// §4.4 defines.
type ResponseCode string

const (
	CodeOK                  ResponseCode = "200"
	CodeBadRequest          ResponseCode = "400"
	CodeNotFound            ResponseCode = "404"
	CodeConflict            ResponseCode = "409"
	CodeInternalServerError ResponseCode = "500"
)

// ErrBadRequest is returned by server-side handlers for malformed actions.
var ErrBadRequest = errors.New("relay: bad request")

// ErrTransport is returned when the underlying connection is lost; all
// pending replies on that connection must be failed.
var ErrTransport = errors.New("relay: transport error")

// EstablishConnectionRequest is the bootstrap's plaintext bundle frame.
type EstablishConnectionRequest struct {
	RequestType string `json:"request_type"`
	Bundle      string `json:"bundle"`
}

// EstablishConnectionResponse is the bootstrap's plaintext reply: either
// the responder's base64 InitialMessage (code 200) or an error code/message.
type EstablishConnectionResponse struct {
	Code    ResponseCode `json:"code"`
	Message string       `json:"message"`
}

// RequestEnvelope is the AEAD-sealed client->server request shape:
// { request_id, body }.
type RequestEnvelope struct {
	RequestID string          `json:"request_id"`
	Body      json.RawMessage `json:"body"`
}

// ResponseEnvelope is the AEAD-sealed server->client reply shape, mirroring
// RequestEnvelope: { request_id, body } where body is { code, message }.
type ResponseEnvelope struct {
	RequestID string       `json:"request_id"`
	Body      ResponseBody `json:"body"`
}

// ResponseBody is a coded server reply.
type ResponseBody struct {
	Code    ResponseCode `json:"code"`
	Message string       `json:"message"`
}

// NewResponseEnvelope builds a response envelope for requestID.
func NewResponseEnvelope(requestID string, code ResponseCode, message string) ResponseEnvelope {
	return ResponseEnvelope{RequestID: requestID, Body: ResponseBody{Code: code, Message: message}}
}

// Marshal serializes the envelope to JSON bytes, ready for AEAD sealing.
func (r ResponseEnvelope) Marshal() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("relay: marshal response envelope: %w", err)
	}
	return b, nil
}

// Marshal serializes the request envelope to JSON bytes.
func (r RequestEnvelope) Marshal() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("relay: marshal request envelope: %w", err)
	}
	return b, nil
}

// ParseResponseEnvelope parses a decrypted response envelope's JSON bytes.
func ParseResponseEnvelope(raw []byte) (ResponseEnvelope, error) {
	var r ResponseEnvelope
	if err := json.Unmarshal(raw, &r); err != nil {
		return ResponseEnvelope{}, fmt.Errorf("relay: parse response envelope: %w", err)
	}
	return r, nil
}

// ParseRequestEnvelope parses a decrypted request envelope's JSON bytes.
func ParseRequestEnvelope(raw []byte) (RequestEnvelope, error) {
	var r RequestEnvelope
	if err := json.Unmarshal(raw, &r); err != nil {
		return RequestEnvelope{}, fmt.Errorf("relay: parse request envelope: %w", err)
	}
	return r, nil
}
