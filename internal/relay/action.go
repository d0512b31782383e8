package relay

import (
	"encoding/json"
	"fmt"
)

// ActionKind names one of the three client-originated actions spec.md
// §4.4 tabulates. Unknown actions yield 400 (spec.md §9: "Dynamic message
// dispatch over JSON actions ... expressed as a tagged union with a single
// parse step at the envelope boundary").
type ActionKind string

const (
	ActionRegister         ActionKind = "register"
	ActionGetPreKeyBundle  ActionKind = "get_prekey_bundle"
	ActionSendMessage      ActionKind = "send_message"
)

// actionTag is used only to sniff the "action" discriminator field.
type actionTag struct {
	Action ActionKind `json:"action"`
}

// RegisterAction publishes a username and prekey bundle.
type RegisterAction struct {
	Username string `json:"username"`
	Bundle   string `json:"bundle"`
}

// GetPreKeyBundleAction requests a peer's published bundle.
type GetPreKeyBundleAction struct {
	Who string `json:"who"`
}

// SendMessageAction forwards an opaque chat payload to a peer.
type SendMessageAction struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Action is the parsed, tagged result of decoding a request envelope's body.
type Action struct {
	Kind           ActionKind
	Register       *RegisterAction
	GetPreKeyBundle *GetPreKeyBundleAction
	SendMessage    *SendMessageAction
}

// ParseAction decodes body.action and the matching fields, per
// original_source/server/src/utils.rs's Action::from_json.
func ParseAction(body []byte) (Action, error) {
	var tag actionTag
	if err := json.Unmarshal(body, &tag); err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	switch tag.Action {
	case ActionRegister:
		var a RegisterAction
		if err := json.Unmarshal(body, &a); err != nil {
			return Action{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		return Action{Kind: ActionRegister, Register: &a}, nil
	case ActionGetPreKeyBundle:
		var a GetPreKeyBundleAction
		if err := json.Unmarshal(body, &a); err != nil {
			return Action{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		return Action{Kind: ActionGetPreKeyBundle, GetPreKeyBundle: &a}, nil
	case ActionSendMessage:
		var a SendMessageAction
		if err := json.Unmarshal(body, &a); err != nil {
			return Action{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		return Action{Kind: ActionSendMessage, SendMessage: &a}, nil
	default:
		return Action{}, fmt.Errorf("%w: unknown action %q", ErrBadRequest, tag.Action)
	}
}
