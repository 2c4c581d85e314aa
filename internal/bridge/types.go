// Package bridge defines the canonical model shared by every messaging
// provider adapter, the capability interfaces adapters implement, and the
// registry through which the rest of the system reaches them.
package bridge

import (
	"strings"
	"time"
)

// ProviderID identifies a bridged messaging network (e.g. "telegram", "slack").
type ProviderID string

// String returns the provider id as a plain string.
func (p ProviderID) String() string {
	return string(p)
}

// AuthFlow names the credential exchange a provider requires.
type AuthFlow string

const (
	// AuthFlowPhoneCode is phone number, confirmation code, optional 2FA password.
	AuthFlowPhoneCode AuthFlow = "phone_code"
	// AuthFlowQR is pairing by scanning a QR code from an already-linked device.
	AuthFlowQR AuthFlow = "qr"
	// AuthFlowToken is a static API token validated once.
	AuthFlowToken AuthFlow = "token"
)

// AuthState is the session lifecycle state of one provider.
type AuthState string

const (
	StateUnconfigured   AuthState = "unconfigured"
	StateAwaitingInput  AuthState = "awaiting_credential_input"
	StateAuthenticating AuthState = "authenticating"
	StateReady          AuthState = "ready"
	StateDisconnected   AuthState = "disconnected"
	StateLoggedOut      AuthState = "logged_out"
)

// ConversationKind distinguishes the three thread shapes providers expose.
type ConversationKind string

const (
	KindDirect  ConversationKind = "direct"
	KindGroup   ConversationKind = "group"
	KindChannel ConversationKind = "channel"
)

// Conversation is a provider thread as shown in a conversation listing.
// Read-mostly; refreshed on each list call.
type Conversation struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Kind          ConversationKind `json:"kind"`
	Unread        int              `json:"unread"`
	LastMessage   string           `json:"last_message,omitempty"`
	LastMessageAt int64            `json:"last_message_at,omitempty"`
}

// Direction marks whether a message was sent or received by the bridged account.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// MediaKind is a coarse classification used for placeholder text and
// mimetype correction.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaVoice    MediaKind = "voice"
	MediaDocument MediaKind = "document"
	MediaSticker  MediaKind = "sticker"
)

// MediaDescriptor is the metadata recorded at ingestion time for a message
// attachment. Bytes are never fetched eagerly; a descriptor is enough to
// render a placeholder and to serve the media endpoint later.
type MediaDescriptor struct {
	Kind     MediaKind `json:"kind"`
	Mime     string    `json:"mime,omitempty"`
	Filename string    `json:"filename,omitempty"`
	Size     int64     `json:"size,omitempty"`
}

// Placeholder returns the body text shown for a media message without a caption.
func (d MediaDescriptor) Placeholder() string {
	switch d.Kind {
	case MediaPhoto:
		return "[Photo]"
	case MediaVideo:
		return "[Video]"
	case MediaVoice:
		return "[Voice Message]"
	case MediaSticker:
		return "[Sticker]"
	default:
		if name := strings.TrimSpace(d.Filename); name != "" {
			return "[File: " + name + "]"
		}
		return "[File]"
	}
}

// Message is the canonical message record. Immutable once created except for
// the two permitted mutations: edit replaces Body under the same ID, delete
// tombstones the record. The ID is unique and stable within its conversation.
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	SenderID       string           `json:"sender_id,omitempty"`
	SenderName     string           `json:"sender_name,omitempty"`
	Direction      Direction        `json:"direction"`
	Body           string           `json:"body"`
	Timestamp      int64            `json:"timestamp"`
	HasMedia       bool             `json:"has_media,omitempty"`
	Media          *MediaDescriptor `json:"media,omitempty"`
	ReplyToID      string           `json:"reply_to_id,omitempty"`
	FromSelf       bool             `json:"from_self,omitempty"`
	Deleted        bool             `json:"deleted,omitempty"`
}

// Entity is a resolved contact, user, or channel record. Looked up by id,
// never owned by a Message; staleness is acceptable.
type Entity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// EventKind names the push events delivered to UI subscribers.
type EventKind string

const (
	EventMessage        EventKind = "message"
	EventMessageUpdated EventKind = "message_updated"
	EventMessageDeleted EventKind = "message_deleted"
	EventSessionStatus  EventKind = "session_status"
)

// Event is one normalized item flowing from ingestion (or a gateway echo)
// to subscribed UI sessions. Exactly one of Message / MessageID / State is
// meaningful depending on Kind.
type Event struct {
	Kind           EventKind  `json:"type"`
	Provider       ProviderID `json:"provider"`
	ConversationID string     `json:"conversation_id,omitempty"`
	Message        *Message   `json:"message,omitempty"`
	MessageID      string     `json:"message_id,omitempty"`
	State          AuthState  `json:"state,omitempty"`
}

// SessionStatus is the externally visible auth snapshot of one provider.
type SessionStatus struct {
	Provider            ProviderID `json:"provider"`
	DisplayName         string     `json:"display_name"`
	Flow                AuthFlow   `json:"auth_flow"`
	State               AuthState  `json:"state"`
	LastAuthenticatedAt time.Time  `json:"last_authenticated_at,omitzero"`
}
