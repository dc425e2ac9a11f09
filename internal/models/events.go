package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type EventKind string

// sent by clients
const (
	EventJoinChannel  EventKind = "joinChannel"
	EventLeaveChannel EventKind = "leaveChannel"
	EventSetStatus    EventKind = "setStatus"
	EventPing         EventKind = "ping"
)

// sent in both directions
const (
	EventTyping     EventKind = "typing"
	EventStopTyping EventKind = "stopTyping"
)

// sent by the server
const (
	EventReady             EventKind = "ready"
	EventPong              EventKind = "pong"
	EventError             EventKind = "error"
	EventMessageCreate     EventKind = "messageCreate"
	EventMessageUpdate     EventKind = "messageUpdate"
	EventMessageDelete     EventKind = "messageDelete"
	EventReactionAdd       EventKind = "reactionAdd"
	EventReactionRemove    EventKind = "reactionRemove"
	EventUserStatusUpdate  EventKind = "userStatusUpdate"
	EventChannelCreate     EventKind = "channelCreate"
	EventChannelDelete     EventKind = "channelDelete"
	EventServerMemberJoin  EventKind = "serverMemberJoin"
	EventServerMemberLeave EventKind = "serverMemberLeave"
)

var inboundKinds = map[EventKind]bool{
	EventJoinChannel:  true,
	EventLeaveChannel: true,
	EventSetStatus:    true,
	EventPing:         true,
	EventTyping:       true,
	EventStopTyping:   true,
}

var outboundKinds = map[EventKind]bool{
	EventTyping:            true,
	EventStopTyping:        true,
	EventReady:             true,
	EventPong:              true,
	EventError:             true,
	EventMessageCreate:     true,
	EventMessageUpdate:     true,
	EventMessageDelete:     true,
	EventReactionAdd:       true,
	EventReactionRemove:    true,
	EventUserStatusUpdate:  true,
	EventChannelCreate:     true,
	EventChannelDelete:     true,
	EventServerMemberJoin:  true,
	EventServerMemberLeave: true,
}

func (k EventKind) Inbound() bool {
	return inboundKinds[k]
}

func (k EventKind) Outbound() bool {
	return outboundKinds[k]
}

// Event is one canonical occurrence scoped to a room.
type Event struct {
	Kind    EventKind
	Room    RoomID
	Payload any
}

// Frame encodes the event as "<kind>\n<json payload>".
func (e Event) Frame() ([]byte, error) {
	return EncodeFrame(e.Kind, e.Payload)
}

func EncodeFrame(kind EventKind, payload any) ([]byte, error) {
	if !kind.Outbound() {
		return nil, fmt.Errorf("event kind [%s] can't be sent to clients", kind)
	}

	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(kind) + 1 + len(jsonBytes))
	buf.WriteString(string(kind))
	buf.WriteByte('\n')
	buf.Write(jsonBytes)

	return buf.Bytes(), nil
}

// ParseFrame splits an inbound frame and rejects kinds clients may not send.
func ParseFrame(frame []byte) (EventKind, json.RawMessage, error) {
	rawKind, body, found := bytes.Cut(frame, []byte{'\n'})
	if !found {
		return "", nil, fmt.Errorf("frame has no kind separator")
	}

	kind := EventKind(bytes.TrimSpace(rawKind))
	if !kind.Inbound() {
		return "", nil, fmt.Errorf("unknown inbound event kind [%s]", kind)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	return kind, json.RawMessage(body), nil
}

type MessageDeletePayload struct {
	ChannelID int64 `json:"channelID,string"`
	MessageID int64 `json:"messageID,string"`
	Seq       int64 `json:"seq"`
	Version   int64 `json:"version"`
}

type ReactionPayload struct {
	ChannelID int64  `json:"channelID,string"`
	MessageID int64  `json:"messageID,string"`
	Emoji     string `json:"emoji"`
	UserID    int64  `json:"userID,string"`
	Seq       int64  `json:"seq"`
	Version   int64  `json:"version"`
}

type TypingPayload struct {
	ChannelID int64  `json:"channelID,string"`
	UserID    int64  `json:"userID,string"`
	Username  string `json:"username"`
}

type StatusPayload struct {
	UserID       int64  `json:"userID,string"`
	Status       Status `json:"status"`
	CustomStatus string `json:"customStatus,omitempty"`
}

type ChannelDeletePayload struct {
	ServerID  int64 `json:"serverID,string"`
	ChannelID int64 `json:"channelID,string"`
}

type MemberPayload struct {
	ServerID int64 `json:"serverID,string"`
	UserID   int64 `json:"userID,string"`
}

type ReadyPayload struct {
	ConnectionID string  `json:"connectionID"`
	SessionID    string  `json:"sessionID"`
	UserID       int64   `json:"userID,string"`
	Status       Status  `json:"status"`
	Servers      []int64 `json:"servers"`
}

type ErrorPayload struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Ref     EventKind `json:"ref,omitempty"`
}

// ChannelRequest is the body of joinChannel, leaveChannel, typing and stopTyping.
type ChannelRequest struct {
	ChannelID int64 `json:"channelID,string" validate:"required,gt=0"`
}

type StatusRequest struct {
	Status       Status `json:"status" validate:"required,presence_status"`
	CustomStatus string `json:"customStatus" validate:"max=128"`
}
