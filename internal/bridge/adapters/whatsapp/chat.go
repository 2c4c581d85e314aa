package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/loomchat/loom/internal/bridge"
)

// ListConversations merges the contact store, joined groups and the recent
// message log into a conversation list, most recently active first.
func (a *Adapter) ListConversations(ctx context.Context, limit int) ([]bridge.Conversation, error) {
	client, err := a.api()
	if err != nil {
		return nil, err
	}

	convs := make(map[string]bridge.Conversation)

	contacts, err := client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load contacts: %w", err)
	}
	for jid, info := range contacts {
		convs[jid.String()] = bridge.Conversation{
			ID:   jid.String(),
			Name: contactName(info, jid),
			Kind: bridge.KindDirect,
		}
	}

	groups, err := client.GetJoinedGroups(ctx)
	if err != nil {
		a.logger.Warn("list groups failed", slog.Any("error", err))
	}
	for _, g := range groups {
		convs[g.JID.String()] = bridge.Conversation{
			ID:   g.JID.String(),
			Name: g.Name,
			Kind: bridge.KindGroup,
		}
	}

	// conversations only seen in live traffic
	for _, id := range a.messages.conversationIDs() {
		if _, ok := convs[id]; !ok {
			kind := bridge.KindDirect
			if strings.HasSuffix(id, "@"+types.GroupServer) {
				kind = bridge.KindGroup
			}
			convs[id] = bridge.Conversation{ID: id, Name: id, Kind: kind}
		}
	}

	out := make([]bridge.Conversation, 0, len(convs))
	for id, conv := range convs {
		if last, unread, ok := a.messages.summary(id); ok {
			conv.LastMessage = previewText(last)
			conv.LastMessageAt = last.Timestamp
			conv.Unread = unread
		}
		out = append(out, conv)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastMessageAt != out[j].LastMessageAt {
			return out[i].LastMessageAt > out[j].LastMessageAt
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func previewText(m bridge.Message) string {
	if m.Body != "" {
		return m.Body
	}
	if m.Media != nil {
		return m.Media.Placeholder()
	}
	return ""
}

func contactName(info types.ContactInfo, jid types.JID) string {
	switch {
	case info.FullName != "":
		return info.FullName
	case info.FirstName != "":
		return info.FirstName
	case info.PushName != "":
		return info.PushName
	case info.BusinessName != "":
		return info.BusinessName
	}
	return jid.User
}

// ListMessages serves history from the adapter's recent message log.
func (a *Adapter) ListMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]bridge.Message, bool, error) {
	if _, err := a.api(); err != nil {
		return nil, false, err
	}
	msgs, more := a.messages.list(conversationID, limit, beforeID)
	return msgs, more, nil
}

// SendMessage sends a text message, optionally quoting another message.
func (a *Adapter) SendMessage(ctx context.Context, conversationID, body, replyToID string) (bridge.Message, error) {
	client, err := a.api()
	if err != nil {
		return bridge.Message{}, err
	}
	to, err := types.ParseJID(conversationID)
	if err != nil {
		return bridge.Message{}, bridge.ErrEntityNotResolved
	}

	var payload *waE2E.Message
	if replyToID != "" {
		ext := &waE2E.ExtendedTextMessage{
			Text:        proto.String(body),
			ContextInfo: &waE2E.ContextInfo{StanzaID: proto.String(replyToID)},
		}
		if quoted, ok := a.messages.raw(conversationID, replyToID); ok {
			ext.ContextInfo.QuotedMessage = quoted
		}
		payload = &waE2E.Message{ExtendedTextMessage: ext}
	} else {
		payload = &waE2E.Message{Conversation: proto.String(body)}
	}

	resp, err := client.SendMessage(ctx, to, payload)
	if err != nil {
		return bridge.Message{}, fmt.Errorf("send message: %w", err)
	}
	msg := bridge.Message{
		ID:             string(resp.ID),
		ConversationID: conversationID,
		SenderID:       a.selfJID().String(),
		Direction:      bridge.DirectionOut,
		FromSelf:       true,
		Body:           body,
		ReplyToID:      replyToID,
		Timestamp:      resp.Timestamp.Unix(),
	}
	a.messages.add(msg, payload)
	return msg, nil
}

// SendFile uploads media and sends it in a matching message envelope.
func (a *Adapter) SendFile(ctx context.Context, conversationID string, file bridge.FileUpload) (bridge.Message, error) {
	client, err := a.api()
	if err != nil {
		return bridge.Message{}, err
	}
	to, err := types.ParseJID(conversationID)
	if err != nil {
		return bridge.Message{}, bridge.ErrEntityNotResolved
	}
	data, err := io.ReadAll(file.Reader)
	if err != nil {
		return bridge.Message{}, fmt.Errorf("read upload: %w", err)
	}

	payload, desc, err := a.buildMediaMessage(ctx, client, data, file)
	if err != nil {
		return bridge.Message{}, err
	}
	resp, err := client.SendMessage(ctx, to, payload)
	if err != nil {
		return bridge.Message{}, fmt.Errorf("send file: %w", err)
	}
	msg := bridge.Message{
		ID:             string(resp.ID),
		ConversationID: conversationID,
		SenderID:       a.selfJID().String(),
		Direction:      bridge.DirectionOut,
		FromSelf:       true,
		Body:           file.Caption,
		HasMedia:       true,
		Media:          desc,
		Timestamp:      resp.Timestamp.Unix(),
	}
	a.messages.add(msg, payload)
	return msg, nil
}

func (a *Adapter) buildMediaMessage(ctx context.Context, client *whatsmeow.Client, data []byte, file bridge.FileUpload) (*waE2E.Message, *bridge.MediaDescriptor, error) {
	mediaType := whatsmeow.MediaDocument
	kind := bridge.MediaDocument
	switch {
	case strings.HasPrefix(file.Mime, "image/"):
		mediaType, kind = whatsmeow.MediaImage, bridge.MediaPhoto
	case strings.HasPrefix(file.Mime, "video/"):
		mediaType, kind = whatsmeow.MediaVideo, bridge.MediaVideo
	case strings.HasPrefix(file.Mime, "audio/"):
		mediaType, kind = whatsmeow.MediaAudio, bridge.MediaVoice
	}
	up, err := client.Upload(ctx, data, mediaType)
	if err != nil {
		return nil, nil, fmt.Errorf("upload media: %w", err)
	}

	desc := &bridge.MediaDescriptor{
		Kind:     kind,
		Mime:     file.Mime,
		Filename: file.Name,
		Size:     int64(len(data)),
	}
	var payload *waE2E.Message
	switch mediaType {
	case whatsmeow.MediaImage:
		payload = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(file.Caption),
			Mimetype:      proto.String(file.Mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case whatsmeow.MediaVideo:
		payload = &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(file.Caption),
			Mimetype:      proto.String(file.Mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case whatsmeow.MediaAudio:
		payload = &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(file.Mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	default:
		payload = &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       proto.String(file.Caption),
			FileName:      proto.String(file.Name),
			Mimetype:      proto.String(file.Mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	}
	return payload, desc, nil
}

// EditMessage sends a protocol edit for a previously sent message.
func (a *Adapter) EditMessage(ctx context.Context, conversationID, messageID, body string) (bridge.Message, error) {
	client, err := a.api()
	if err != nil {
		return bridge.Message{}, err
	}
	to, err := types.ParseJID(conversationID)
	if err != nil {
		return bridge.Message{}, bridge.ErrEntityNotResolved
	}
	edit := client.BuildEdit(to, types.MessageID(messageID), &waE2E.Message{
		Conversation: proto.String(body),
	})
	if _, err := client.SendMessage(ctx, to, edit); err != nil {
		return bridge.Message{}, fmt.Errorf("edit message: %w", err)
	}
	msg := bridge.Message{
		ID:             messageID,
		ConversationID: conversationID,
		SenderID:       a.selfJID().String(),
		Direction:      bridge.DirectionOut,
		FromSelf:       true,
		Body:           body,
		Timestamp:      time.Now().Unix(),
	}
	a.messages.add(msg, &waE2E.Message{Conversation: proto.String(body)})
	return msg, nil
}

// DeleteMessage revokes a message for everyone.
func (a *Adapter) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	client, err := a.api()
	if err != nil {
		return err
	}
	to, err := types.ParseJID(conversationID)
	if err != nil {
		return bridge.ErrEntityNotResolved
	}
	revoke := client.BuildRevoke(to, types.EmptyJID, types.MessageID(messageID))
	if _, err := client.SendMessage(ctx, to, revoke); err != nil {
		return fmt.Errorf("revoke message: %w", err)
	}
	return nil
}

// FetchMedia downloads the media payload of a message seen by this device.
func (a *Adapter) FetchMedia(ctx context.Context, conversationID, messageID string) (bridge.MediaContent, error) {
	client, err := a.api()
	if err != nil {
		return bridge.MediaContent{}, err
	}
	raw, ok := a.messages.raw(conversationID, messageID)
	if !ok {
		return bridge.MediaContent{}, bridge.ErrMediaNotFound
	}
	downloadable := downloadableOf(raw)
	if downloadable == nil {
		return bridge.MediaContent{}, bridge.ErrMediaNotFound
	}
	data, err := client.Download(ctx, downloadable)
	if err != nil {
		return bridge.MediaContent{}, fmt.Errorf("download media: %w", err)
	}
	desc := describeMedia(raw)
	content := bridge.MediaContent{Data: data}
	if desc != nil {
		content.Mime = desc.Mime
		content.Filename = desc.Filename
		content.Kind = desc.Kind
	}
	return content, nil
}

func downloadableOf(m *waE2E.Message) whatsmeow.DownloadableMessage {
	switch {
	case m.GetImageMessage() != nil:
		return m.GetImageMessage()
	case m.GetVideoMessage() != nil:
		return m.GetVideoMessage()
	case m.GetAudioMessage() != nil:
		return m.GetAudioMessage()
	case m.GetDocumentMessage() != nil:
		return m.GetDocumentMessage()
	case m.GetStickerMessage() != nil:
		return m.GetStickerMessage()
	}
	return nil
}

// FetchEntity resolves a JID through the contact store.
func (a *Adapter) FetchEntity(ctx context.Context, id string) (bridge.Entity, error) {
	client, err := a.api()
	if err != nil {
		return bridge.Entity{}, err
	}
	jid, err := types.ParseJID(id)
	if err != nil {
		return bridge.Entity{}, bridge.ErrEntityNotResolved
	}
	info, err := client.Store.Contacts.GetContact(ctx, jid)
	if err != nil || !info.Found {
		return bridge.Entity{}, bridge.ErrEntityNotResolved
	}
	return bridge.Entity{ID: id, DisplayName: contactName(info, jid)}, nil
}

// FetchAvatar downloads a contact's profile picture.
func (a *Adapter) FetchAvatar(ctx context.Context, id string) ([]byte, string, error) {
	client, err := a.api()
	if err != nil {
		return nil, "", err
	}
	jid, err := types.ParseJID(id)
	if err != nil {
		return nil, "", bridge.ErrEntityNotResolved
	}
	pic, err := client.GetProfilePictureInfo(ctx, jid, &whatsmeow.GetProfilePictureParams{})
	if err != nil || pic == nil || pic.URL == "" {
		return nil, "", bridge.ErrMediaNotFound
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pic.URL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download avatar: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", bridge.ErrMediaNotFound
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}
