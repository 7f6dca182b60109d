package models

import (
	"encoding/json"
	"time"
)

// SignalType represents the type of WebRTC signaling message
type SignalType string

const (
	SignalTypeOffer              SignalType = "offer"
	SignalTypeAnswer             SignalType = "answer"
	SignalTypeICECandidate       SignalType = "ice-candidate"
	SignalTypeViewerConnected    SignalType = "viewer-connected"
	SignalTypeViewerDisconnected SignalType = "viewer-disconnected"
)

// Valid reports whether t is one of the relayed message kinds.
func (t SignalType) Valid() bool {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeICECandidate,
		SignalTypeViewerConnected, SignalTypeViewerDisconnected:
		return true
	}
	return false
}

// SignalMessage represents a WebRTC signaling message. Data is never
// interpreted by the relay.
type SignalMessage struct {
	Type     SignalType      `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	StreamID string          `json:"streamId"`
	ViewerID string          `json:"viewerId,omitempty"`
}

// DisconnectReason is the data payload of a host-initiated viewer-disconnected.
type DisconnectReason struct {
	Reason string `json:"reason"`
}

// ChatType distinguishes user messages from relay announcements.
type ChatType string

const (
	ChatTypeChat   ChatType = "chat"
	ChatTypeSystem ChatType = "system"
)

// ChatMessage represents a chat frame.
type ChatMessage struct {
	UserID    string   `json:"userId"`
	Username  string   `json:"username"`
	Content   string   `json:"content"`
	Timestamp string   `json:"timestamp"`
	Type      ChatType `json:"type"`
	StreamID  string   `json:"streamId"`
}

// TimestampFormat matches the millisecond ISO-8601 form browsers produce.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in UTC using TimestampFormat.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}
