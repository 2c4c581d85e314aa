package whatsapp

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/loomchat/loom/internal/bridge"
)

// convertEvent maps a live message event to the bridge model, also returning
// the raw payload so media can be downloaded later.
func (a *Adapter) convertEvent(evt *events.Message) (bridge.Message, *waE2E.Message) {
	raw := evt.Message
	if raw == nil {
		return bridge.Message{}, nil
	}
	direction := bridge.DirectionIn
	if evt.Info.IsFromMe {
		direction = bridge.DirectionOut
	}
	msg := bridge.Message{
		ID:             evt.Info.ID,
		ConversationID: evt.Info.Chat.String(),
		SenderID:       evt.Info.Sender.String(),
		SenderName:     evt.Info.PushName,
		Direction:      direction,
		FromSelf:       evt.Info.IsFromMe,
		Body:           textOf(raw),
		Timestamp:      evt.Info.Timestamp.Unix(),
	}
	if ext := raw.GetExtendedTextMessage(); ext != nil {
		if ctx := ext.GetContextInfo(); ctx != nil && ctx.GetStanzaID() != "" {
			msg.ReplyToID = ctx.GetStanzaID()
		}
	}
	if desc := describeMedia(raw); desc != nil {
		msg.HasMedia = true
		msg.Media = desc
		if msg.Body == "" {
			msg.Body = captionOf(raw)
		}
	}
	return msg, raw
}

func textOf(m *waE2E.Message) string {
	if text := m.GetConversation(); text != "" {
		return text
	}
	if ext := m.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

func captionOf(m *waE2E.Message) string {
	switch {
	case m.GetImageMessage() != nil:
		return m.GetImageMessage().GetCaption()
	case m.GetVideoMessage() != nil:
		return m.GetVideoMessage().GetCaption()
	case m.GetDocumentMessage() != nil:
		return m.GetDocumentMessage().GetCaption()
	}
	return ""
}

func describeMedia(m *waE2E.Message) *bridge.MediaDescriptor {
	switch {
	case m.GetImageMessage() != nil:
		img := m.GetImageMessage()
		return &bridge.MediaDescriptor{
			Kind: bridge.MediaPhoto,
			Mime: img.GetMimetype(),
			Size: int64(img.GetFileLength()),
		}
	case m.GetVideoMessage() != nil:
		vid := m.GetVideoMessage()
		return &bridge.MediaDescriptor{
			Kind: bridge.MediaVideo,
			Mime: vid.GetMimetype(),
			Size: int64(vid.GetFileLength()),
		}
	case m.GetAudioMessage() != nil:
		aud := m.GetAudioMessage()
		kind := bridge.MediaDocument
		if aud.GetPTT() {
			kind = bridge.MediaVoice
		}
		return &bridge.MediaDescriptor{
			Kind: kind,
			Mime: aud.GetMimetype(),
			Size: int64(aud.GetFileLength()),
		}
	case m.GetDocumentMessage() != nil:
		doc := m.GetDocumentMessage()
		return &bridge.MediaDescriptor{
			Kind:     bridge.MediaDocument,
			Mime:     doc.GetMimetype(),
			Filename: doc.GetFileName(),
			Size:     int64(doc.GetFileLength()),
		}
	case m.GetStickerMessage() != nil:
		stk := m.GetStickerMessage()
		return &bridge.MediaDescriptor{
			Kind: bridge.MediaSticker,
			Mime: stk.GetMimetype(),
			Size: int64(stk.GetFileLength()),
		}
	}
	return nil
}
