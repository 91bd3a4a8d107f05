package ws

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"
)

// Inbound message types accepted from clients.
const (
	TypePing            = "ping"
	TypeClaimCustomer   = "claim_customer"
	TypeReleaseCustomer = "release_customer"
	TypeTypingStart     = "chat_typing_start"
	TypeTypingStop      = "chat_typing_stop"
)

// Outbound message types pushed to clients. Typing starts are broadcast
// as "chat_typing"; stops reuse the inbound type name.
const (
	TypeConnected        = "connected"
	TypePong             = "pong"
	TypeCustomerClaimed  = "customer_claimed"
	TypeCustomerReleased = "customer_released"
	TypeUserOffline      = "user_offline"
	TypeTyping           = "chat_typing"
)

// Inbound is the decoded client message. Field presence depends on Type;
// Decode enforces the per-type requirements.
type Inbound struct {
	Type           string `json:"type"`
	KundeID        int64  `json:"kundeId,omitempty"`
	ConversationID int64  `json:"conversationId,omitempty"`
	UserName       string `json:"userName,omitempty"`
}

// Decode parses and validates a raw client frame. Malformed frames and
// unknown types return ErrBadMessage so the caller can drop them.
func Decode(data []byte) (*Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, ErrBadMessage
	}
	switch msg.Type {
	case TypePing:
	case TypeClaimCustomer, TypeReleaseCustomer:
		if msg.KundeID <= 0 {
			return nil, ErrBadMessage
		}
	case TypeTypingStart, TypeTypingStop:
		if msg.ConversationID <= 0 {
			return nil, ErrBadMessage
		}
	default:
		return nil, ErrBadMessage
	}
	return &msg, nil
}

// Outbound is the server-to-client envelope. Every push carries a type
// and a type-specific data object; only the handshake sets Message.
type Outbound struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// connectedData is the handshake payload: who the session belongs to
// plus the tenant's current presence claims.
type connectedData struct {
	UserID   int64       `json:"userId"`
	UserName string      `json:"userName"`
	Initials string      `json:"initials"`
	Presence []claimData `json:"presence"`
}

// claimData is the wire form of a presence claim, used both in the
// handshake snapshot and in customer_claimed broadcasts.
type claimData struct {
	KundeID   int64     `json:"kundeId"`
	UserID    int64     `json:"userId"`
	UserName  string    `json:"userName"`
	Initials  string    `json:"initials"`
	ClaimedAt time.Time `json:"claimedAt"`
}

type releaseData struct {
	KundeID int64 `json:"kundeId"`
	UserID  int64 `json:"userId"`
}

type offlineData struct {
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
}

type typingData struct {
	ConversationID int64  `json:"conversationId"`
	UserID         int64  `json:"userId"`
	UserName       string `json:"userName,omitempty"`
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// envelope marshals a {type, data} push. Only used for payload types the
// package owns, so a marshal failure is a programming error.
func envelope(msgType string, data any) []byte {
	return mustMarshal(Outbound{Type: msgType, Data: data})
}

// Initials derives up to two uppercase initials from a display name. The
// name is split on whitespace and on the separators common in email local
// parts; a single-part name yields its first two characters.
func Initials(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || r == '.' || r == '-' || r == '_'
	})
	switch {
	case len(parts) >= 2:
		return strings.ToUpper(firstRune(parts[0]) + firstRune(parts[1]))
	case len(parts) == 1:
		runes := []rune(parts[0])
		if len(runes) >= 2 {
			return strings.ToUpper(string(runes[:2]))
		}
		return strings.ToUpper(string(runes))
	default:
		return ""
	}
}

func firstRune(s string) string {
	for _, r := range s {
		return string(r)
	}
	return ""
}
