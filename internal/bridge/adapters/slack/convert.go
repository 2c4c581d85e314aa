package slack

import (
	"strconv"
	"strings"

	slackapi "github.com/slack-go/slack"

	"github.com/loomchat/loom/internal/bridge"
)

func convertConversation(ch slackapi.Channel) bridge.Conversation {
	kind := bridge.KindChannel
	name := ch.Name
	switch {
	case ch.IsIM:
		kind = bridge.KindDirect
		if name == "" {
			name = ch.User
		}
	case ch.IsMpIM, ch.IsGroup:
		kind = bridge.KindGroup
	}
	conv := bridge.Conversation{
		ID:     ch.ID,
		Name:   name,
		Kind:   kind,
		Unread: ch.UnreadCountDisplay,
	}
	if ch.Latest != nil {
		conv.LastMessage = previewText(ch.Latest.Msg)
		conv.LastMessageAt = tsToUnix(ch.Latest.Timestamp)
	}
	return conv
}

func convertMessage(m slackapi.Message, conversationID, selfID string) bridge.Message {
	fromSelf := selfID != "" && m.User == selfID
	direction := bridge.DirectionIn
	if fromSelf {
		direction = bridge.DirectionOut
	}
	msg := bridge.Message{
		ID:             m.Timestamp,
		ConversationID: conversationID,
		SenderID:       m.User,
		SenderName:     m.Username,
		Direction:      direction,
		FromSelf:       fromSelf,
		Body:           m.Text,
		Timestamp:      tsToUnix(m.Timestamp),
		Deleted:        m.SubType == "tombstone",
	}
	if m.ThreadTimestamp != "" && m.ThreadTimestamp != m.Timestamp {
		msg.ReplyToID = m.ThreadTimestamp
	}
	if len(m.Files) > 0 {
		f := m.Files[0]
		msg.HasMedia = true
		msg.Media = &bridge.MediaDescriptor{
			Kind:     mediaKindForMime(f.Mimetype),
			Mime:     f.Mimetype,
			Filename: f.Name,
			Size:     int64(f.Size),
		}
	}
	return msg
}

func previewText(m slackapi.Msg) string {
	if m.Text != "" {
		return m.Text
	}
	if len(m.Files) > 0 {
		return (&bridge.MediaDescriptor{Kind: mediaKindForMime(m.Files[0].Mimetype)}).Placeholder()
	}
	return ""
}

func mediaKindForMime(mime string) bridge.MediaKind {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return bridge.MediaPhoto
	case strings.HasPrefix(mime, "video/"):
		return bridge.MediaVideo
	case strings.HasPrefix(mime, "audio/"):
		return bridge.MediaVoice
	default:
		return bridge.MediaDocument
	}
}

// tsToUnix converts a Slack "seconds.sequence" timestamp to unix seconds.
func tsToUnix(ts string) int64 {
	head, _, _ := strings.Cut(ts, ".")
	secs, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0
	}
	return secs
}
