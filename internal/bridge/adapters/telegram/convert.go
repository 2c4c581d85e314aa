package telegram

import (
	"fmt"
	"strconv"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/loomchat/loom/internal/bridge"
)

func (a *Adapter) convertMessage(m *tg.Message, conversationID string, selfID int64) bridge.Message {
	direction := bridge.DirectionIn
	if m.Out {
		direction = bridge.DirectionOut
	}
	msg := bridge.Message{
		ID:             strconv.Itoa(m.ID),
		ConversationID: conversationID,
		Direction:      direction,
		FromSelf:       m.Out,
		Body:           m.Message,
		Timestamp:      int64(m.Date),
	}
	if from, ok := m.FromID.(*tg.PeerUser); ok {
		msg.SenderID = strconv.FormatInt(from.UserID, 10)
		if user, found := a.peers.user(from.UserID); found {
			msg.SenderName = displayName(user)
		}
	} else if m.Out {
		msg.SenderID = strconv.FormatInt(selfID, 10)
	}
	if reply, ok := m.ReplyTo.(*tg.MessageReplyHeader); ok && reply.ReplyToMsgID != 0 {
		msg.ReplyToID = strconv.Itoa(reply.ReplyToMsgID)
	}
	if desc := describeMedia(m.Media); desc != nil {
		msg.HasMedia = true
		msg.Media = desc
	}
	return msg
}

func describeMedia(media tg.MessageMediaClass) *bridge.MediaDescriptor {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		return &bridge.MediaDescriptor{Kind: bridge.MediaPhoto, Mime: "image/jpeg"}
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil
		}
		desc := &bridge.MediaDescriptor{
			Kind: bridge.MediaDocument,
			Mime: doc.MimeType,
			Size: doc.Size,
		}
		for _, attr := range doc.Attributes {
			switch at := attr.(type) {
			case *tg.DocumentAttributeFilename:
				desc.Filename = at.FileName
			case *tg.DocumentAttributeAudio:
				if at.Voice {
					desc.Kind = bridge.MediaVoice
				}
			case *tg.DocumentAttributeVideo:
				desc.Kind = bridge.MediaVideo
			case *tg.DocumentAttributeSticker:
				desc.Kind = bridge.MediaSticker
			}
		}
		return desc
	default:
		return nil
	}
}

func displayName(u *tg.User) string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		name = u.Username
	}
	return name
}

// classifyError maps MTProto failures to the bridge error taxonomy.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &bridge.RateLimitError{RetryAfter: wait}
	}
	if tgerr.Is(err,
		"AUTH_KEY_UNREGISTERED",
		"SESSION_REVOKED",
		"SESSION_EXPIRED",
		"USER_DEACTIVATED",
		"PHONE_CODE_INVALID",
		"PHONE_CODE_EXPIRED",
		"PASSWORD_HASH_INVALID",
		"PHONE_NUMBER_INVALID",
	) {
		return bridge.ErrInvalidCredential
	}
	return fmt.Errorf("telegram api: %w", err)
}
