// Package protocol models the JSON frames exchanged over a call connection.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/pion/webrtc/v4"
)

type MessageType string

const (
	TypeIdentify  MessageType = "identify"
	TypeOffer     MessageType = "offer"
	TypeAnswer    MessageType = "answer"
	TypeCandidate MessageType = "candidate"
	TypeChat      MessageType = "chat"
	TypeHangup    MessageType = "hangup"
	TypePing      MessageType = "ping"
	TypePong      MessageType = "pong"
	TypeSystem    MessageType = "system"
)

const ActionPeerLeft = "peer_left"

// ErrNoType marks a frame that is a JSON object without a string type.
var ErrNoType = errors.New("frame has no type")

// Envelope is the part of every frame the relay looks at. Other fields,
// whatever their JSON type, are never decoded.
type Envelope struct {
	Type MessageType
	Text json.RawMessage
}

// Peek decodes only the envelope fields.
func Peek(raw []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	var env Envelope
	if t, ok := fields["type"]; ok {
		_ = json.Unmarshal(t, &env.Type)
	}
	if env.Type == "" {
		return Envelope{}, ErrNoType
	}
	env.Text = fields["text"]
	return env, nil
}

// ChatText is the text to audit. Non-string values are kept as their raw
// JSON; absent, null and empty text report false.
func (e Envelope) ChatText() (string, bool) {
	if len(e.Text) == 0 || string(e.Text) == "null" {
		return "", false
	}
	var text string
	if err := json.Unmarshal(e.Text, &text); err != nil {
		return string(e.Text), true
	}
	return text, text != ""
}

type Identify struct {
	Type        MessageType `json:"type"`
	Role        string      `json:"role"`
	DisplayName string      `json:"displayName,omitempty"`
	Mode        domain.Mode `json:"mode,omitempty"`
}

// ObserverRole is the role announced by observer identify packets.
const ObserverRole = "observer"

// NewIdentify builds the mode-aware handshake frame.
func NewIdentify(role domain.Role, mode domain.Mode, displayName string) Identify {
	r := string(role)
	if mode == domain.ModeObserver {
		r = ObserverRole
	}
	return Identify{Type: TypeIdentify, Role: r, DisplayName: displayName, Mode: mode}
}

// Description carries an SDP offer or answer.
type Description struct {
	Type            MessageType               `json:"type"`
	SDP             webrtc.SessionDescription `json:"sdp"`
	TargetSessionID string                    `json:"targetSessionId,omitempty"`
}

func NewOffer(sdp string, target string) Description {
	return Description{
		Type:            TypeOffer,
		SDP:             webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp},
		TargetSessionID: target,
	}
}

func NewAnswer(sdp string, target string) Description {
	return Description{
		Type:            TypeAnswer,
		SDP:             webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp},
		TargetSessionID: target,
	}
}

// Candidate flattens a trickled ICE candidate into the frame.
type Candidate struct {
	Type MessageType `json:"type"`
	webrtc.ICECandidateInit
	TargetSessionID string `json:"targetSessionId,omitempty"`
}

func NewCandidate(c webrtc.ICECandidateInit, target string) Candidate {
	return Candidate{Type: TypeCandidate, ICECandidateInit: c, TargetSessionID: target}
}

type Chat struct {
	Type            MessageType `json:"type"`
	Text            string      `json:"text"`
	TargetSessionID string      `json:"targetSessionId,omitempty"`
}

func NewChat(text, target string) Chat {
	return Chat{Type: TypeChat, Text: text, TargetSessionID: target}
}

type Hangup struct {
	Type MessageType `json:"type"`
}

func NewHangup() Hangup { return Hangup{Type: TypeHangup} }

type Ping struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

func NewPing(now time.Time) Ping {
	return Ping{Type: TypePing, Timestamp: now.UnixMilli()}
}

type Pong struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

// PeerLeft is the departure notice the coordinator emits.
type PeerLeft struct {
	Type   MessageType   `json:"type"`
	Action string        `json:"action"`
	UserID domain.UserID `json:"userId"`
	Role   domain.Role   `json:"role"`
}

func NewPeerLeft(user domain.UserID, role domain.Role) PeerLeft {
	return PeerLeft{Type: TypeSystem, Action: ActionPeerLeft, UserID: user, Role: role}
}

// Rejection is the JSON body of a refused connect.
type Rejection struct {
	Error   domain.Code `json:"error"`
	Message string      `json:"message"`
}
