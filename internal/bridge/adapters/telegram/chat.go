package telegram

import (
	"bytes"
	"context"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"github.com/loomchat/loom/internal/bridge"
)

// ListConversations returns the dialog list, most recent first.
func (a *Adapter) ListConversations(ctx context.Context, limit int) ([]bridge.Conversation, error) {
	api, selfID, err := a.clientAPI()
	if err != nil {
		return nil, err
	}
	raw, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		Limit:      limit,
		OffsetPeer: &tg.InputPeerEmpty{},
	})
	if err != nil {
		return nil, classifyError(err)
	}

	var dialogs []tg.DialogClass
	var messages []tg.MessageClass
	switch d := raw.(type) {
	case *tg.MessagesDialogs:
		dialogs, messages = d.Dialogs, d.Messages
		a.peers.noteUsers(d.Users)
		a.peers.noteChats(d.Chats)
	case *tg.MessagesDialogsSlice:
		dialogs, messages = d.Dialogs, d.Messages
		a.peers.noteUsers(d.Users)
		a.peers.noteChats(d.Chats)
	default:
		return nil, nil
	}

	// top message per conversation, for previews
	tops := make(map[string]*tg.Message, len(messages))
	for _, mc := range messages {
		if m, ok := mc.(*tg.Message); ok {
			convID := conversationIDForPeer(m.PeerID)
			if cur, seen := tops[convID]; !seen || m.ID > cur.ID {
				tops[convID] = m
			}
		}
	}

	convs := make([]bridge.Conversation, 0, len(dialogs))
	for _, dc := range dialogs {
		d, ok := dc.(*tg.Dialog)
		if !ok {
			continue
		}
		convID := conversationIDForPeer(d.Peer)
		if convID == "" {
			continue
		}
		conv := bridge.Conversation{
			ID:     convID,
			Name:   a.conversationName(d.Peer),
			Kind:   conversationKind(d.Peer),
			Unread: d.UnreadCount,
		}
		if top, seen := tops[convID]; seen {
			converted := a.convertMessage(top, convID, selfID)
			conv.LastMessage = previewText(converted)
			conv.LastMessageAt = converted.Timestamp
		}
		convs = append(convs, conv)
	}
	return convs, nil
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

func (a *Adapter) conversationName(peer tg.PeerClass) string {
	switch p := peer.(type) {
	case *tg.PeerUser:
		if u, ok := a.peers.user(p.UserID); ok {
			return displayName(u)
		}
	case *tg.PeerChat:
		a.peers.mu.RLock()
		defer a.peers.mu.RUnlock()
		if c, ok := a.peers.chats[p.ChatID]; ok {
			return c.Title
		}
	case *tg.PeerChannel:
		a.peers.mu.RLock()
		defer a.peers.mu.RUnlock()
		if c, ok := a.peers.channels[p.ChannelID]; ok {
			return c.Title
		}
	}
	return ""
}

func conversationKind(peer tg.PeerClass) bridge.ConversationKind {
	switch peer.(type) {
	case *tg.PeerUser:
		return bridge.KindDirect
	case *tg.PeerChat:
		return bridge.KindGroup
	default:
		return bridge.KindChannel
	}
}

// ListMessages returns a page of history, newest first. beforeID is a message
// id; only strictly older messages are returned.
func (a *Adapter) ListMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]bridge.Message, bool, error) {
	api, selfID, err := a.clientAPI()
	if err != nil {
		return nil, false, err
	}
	peer, err := a.peers.inputPeer(conversationID)
	if err != nil {
		return nil, false, err
	}
	offsetID := 0
	if beforeID != "" {
		offsetID, err = strconv.Atoi(beforeID)
		if err != nil {
			return nil, false, bridge.ErrEntityNotResolved
		}
	}
	raw, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:     peer,
		Limit:    limit,
		OffsetID: offsetID,
	})
	if err != nil {
		return nil, false, classifyError(err)
	}
	history := a.extractMessages(raw)
	msgs := make([]bridge.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, a.convertMessage(m, conversationID, selfID))
	}
	return msgs, len(history) >= limit && limit > 0, nil
}

func (a *Adapter) extractMessages(raw tg.MessagesMessagesClass) []*tg.Message {
	var list []tg.MessageClass
	switch m := raw.(type) {
	case *tg.MessagesMessages:
		list = m.Messages
		a.peers.noteUsers(m.Users)
		a.peers.noteChats(m.Chats)
	case *tg.MessagesMessagesSlice:
		list = m.Messages
		a.peers.noteUsers(m.Users)
		a.peers.noteChats(m.Chats)
	case *tg.MessagesChannelMessages:
		list = m.Messages
		a.peers.noteUsers(m.Users)
		a.peers.noteChats(m.Chats)
	}
	out := make([]*tg.Message, 0, len(list))
	for _, mc := range list {
		if m, ok := mc.(*tg.Message); ok {
			out = append(out, m)
		}
	}
	return out
}

// SendMessage sends a text message, optionally as a reply.
func (a *Adapter) SendMessage(ctx context.Context, conversationID, body, replyToID string) (bridge.Message, error) {
	api, selfID, err := a.clientAPI()
	if err != nil {
		return bridge.Message{}, err
	}
	peer, err := a.peers.inputPeer(conversationID)
	if err != nil {
		return bridge.Message{}, err
	}
	req := &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  body,
		RandomID: rand.Int64(),
	}
	if replyToID != "" {
		replyID, convErr := strconv.Atoi(replyToID)
		if convErr != nil {
			return bridge.Message{}, bridge.ErrEntityNotResolved
		}
		req.SetReplyTo(&tg.InputReplyToMessage{ReplyToMsgID: replyID})
	}
	updates, err := api.MessagesSendMessage(ctx, req)
	if err != nil {
		return bridge.Message{}, classifyError(err)
	}
	id, ts := sentMessageInfo(updates)
	return bridge.Message{
		ID:             strconv.Itoa(id),
		ConversationID: conversationID,
		SenderID:       strconv.FormatInt(selfID, 10),
		Direction:      bridge.DirectionOut,
		FromSelf:       true,
		Body:           body,
		ReplyToID:      replyToID,
		Timestamp:      ts,
	}, nil
}

// SendFile uploads and sends a document.
func (a *Adapter) SendFile(ctx context.Context, conversationID string, file bridge.FileUpload) (bridge.Message, error) {
	api, selfID, err := a.clientAPI()
	if err != nil {
		return bridge.Message{}, err
	}
	peer, err := a.peers.inputPeer(conversationID)
	if err != nil {
		return bridge.Message{}, err
	}
	up, err := uploader.NewUploader(api).FromReader(ctx, file.Name, file.Reader)
	if err != nil {
		return bridge.Message{}, classifyError(err)
	}
	media := &tg.InputMediaUploadedDocument{
		File:     up,
		MimeType: file.Mime,
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeFilename{FileName: file.Name},
		},
	}
	updates, err := api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
		Peer:     peer,
		Media:    media,
		Message:  file.Caption,
		RandomID: rand.Int64(),
	})
	if err != nil {
		return bridge.Message{}, classifyError(err)
	}
	id, ts := sentMessageInfo(updates)
	return bridge.Message{
		ID:             strconv.Itoa(id),
		ConversationID: conversationID,
		SenderID:       strconv.FormatInt(selfID, 10),
		Direction:      bridge.DirectionOut,
		FromSelf:       true,
		Body:           file.Caption,
		HasMedia:       true,
		Media: &bridge.MediaDescriptor{
			Kind:     bridge.MediaDocument,
			Mime:     file.Mime,
			Filename: file.Name,
			Size:     file.Size,
		},
		Timestamp: ts,
	}, nil
}

// EditMessage replaces the text of a previously sent message.
func (a *Adapter) EditMessage(ctx context.Context, conversationID, messageID, body string) (bridge.Message, error) {
	api, selfID, err := a.clientAPI()
	if err != nil {
		return bridge.Message{}, err
	}
	peer, err := a.peers.inputPeer(conversationID)
	if err != nil {
		return bridge.Message{}, err
	}
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return bridge.Message{}, bridge.ErrEntityNotResolved
	}
	req := &tg.MessagesEditMessageRequest{Peer: peer, ID: id}
	req.SetMessage(body)
	if _, err := api.MessagesEditMessage(ctx, req); err != nil {
		return bridge.Message{}, classifyError(err)
	}
	return bridge.Message{
		ID:             messageID,
		ConversationID: conversationID,
		SenderID:       strconv.FormatInt(selfID, 10),
		Direction:      bridge.DirectionOut,
		FromSelf:       true,
		Body:           body,
		Timestamp:      time.Now().Unix(),
	}, nil
}

// DeleteMessage revokes a message for all participants.
func (a *Adapter) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	api, _, err := a.clientAPI()
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return bridge.ErrEntityNotResolved
	}
	if channel, ok := a.peers.inputChannel(conversationID); ok {
		_, err = api.ChannelsDeleteMessages(ctx, &tg.ChannelsDeleteMessagesRequest{
			Channel: channel,
			ID:      []int{id},
		})
	} else {
		_, err = api.MessagesDeleteMessages(ctx, &tg.MessagesDeleteMessagesRequest{
			ID:     []int{id},
			Revoke: true,
		})
	}
	if err != nil {
		return classifyError(err)
	}
	return nil
}

// FetchMedia downloads the photo or document attached to a message.
func (a *Adapter) FetchMedia(ctx context.Context, conversationID, messageID string) (bridge.MediaContent, error) {
	api, _, err := a.clientAPI()
	if err != nil {
		return bridge.MediaContent{}, err
	}
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return bridge.MediaContent{}, bridge.ErrMediaNotFound
	}

	var raw tg.MessagesMessagesClass
	if channel, ok := a.peers.inputChannel(conversationID); ok {
		raw, err = api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: channel,
			ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: id}},
		})
	} else {
		raw, err = api.MessagesGetMessages(ctx, []tg.InputMessageClass{&tg.InputMessageID{ID: id}})
	}
	if err != nil {
		return bridge.MediaContent{}, classifyError(err)
	}
	msgs := a.extractMessages(raw)
	if len(msgs) == 0 || msgs[0].ID != id {
		return bridge.MediaContent{}, bridge.ErrMediaNotFound
	}

	location, desc, err := mediaLocation(msgs[0].Media)
	if err != nil {
		return bridge.MediaContent{}, err
	}
	var buf bytes.Buffer
	if _, err := downloader.NewDownloader().Download(api, location).Stream(ctx, &buf); err != nil {
		return bridge.MediaContent{}, classifyError(err)
	}
	return bridge.MediaContent{
		Data:     buf.Bytes(),
		Mime:     desc.Mime,
		Filename: desc.Filename,
		Kind:     desc.Kind,
	}, nil
}

func mediaLocation(media tg.MessageMediaClass) (tg.InputFileLocationClass, *bridge.MediaDescriptor, error) {
	desc := describeMedia(media)
	if desc == nil {
		return nil, nil, bridge.ErrMediaNotFound
	}
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil, nil, bridge.ErrMediaNotFound
		}
		thumb := largestPhotoSize(photo.Sizes)
		if thumb == "" {
			return nil, nil, bridge.ErrMediaNotFound
		}
		return &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     thumb,
		}, desc, nil
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil, nil, bridge.ErrMediaNotFound
		}
		return &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}, desc, nil
	}
	return nil, nil, bridge.ErrMediaNotFound
}

func largestPhotoSize(sizes []tg.PhotoSizeClass) string {
	best := ""
	bestArea := 0
	for _, sc := range sizes {
		if s, ok := sc.(*tg.PhotoSize); ok {
			if area := s.W * s.H; area > bestArea {
				bestArea = area
				best = s.Type
			}
		}
	}
	return best
}

// FetchEntity resolves a numeric user id seen in prior listings.
func (a *Adapter) FetchEntity(ctx context.Context, id string) (bridge.Entity, error) {
	userID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return bridge.Entity{}, bridge.ErrEntityNotResolved
	}
	user, ok := a.peers.user(userID)
	if !ok {
		return bridge.Entity{}, bridge.ErrEntityNotResolved
	}
	entity := bridge.Entity{ID: id, DisplayName: displayName(user)}
	if photo, hasPhoto := user.Photo.(*tg.UserProfilePhoto); hasPhoto {
		entity.AvatarRef = strconv.FormatInt(photo.PhotoID, 10)
	}
	return entity, nil
}

// FetchAvatar downloads a user's profile photo.
func (a *Adapter) FetchAvatar(ctx context.Context, id string) ([]byte, string, error) {
	api, _, err := a.clientAPI()
	if err != nil {
		return nil, "", err
	}
	userID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, "", bridge.ErrEntityNotResolved
	}
	user, ok := a.peers.user(userID)
	if !ok {
		return nil, "", bridge.ErrEntityNotResolved
	}
	photo, hasPhoto := user.Photo.(*tg.UserProfilePhoto)
	if !hasPhoto {
		return nil, "", bridge.ErrMediaNotFound
	}
	location := &tg.InputPeerPhotoFileLocation{
		Peer:    &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash},
		PhotoID: photo.PhotoID,
		Big:     true,
	}
	var buf bytes.Buffer
	if _, err := downloader.NewDownloader().Download(api, location).Stream(ctx, &buf); err != nil {
		return nil, "", classifyError(err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

// sentMessageInfo digs the id and date of a just-sent message out of the
// update set the send call returned.
func sentMessageInfo(updates tg.UpdatesClass) (int, int64) {
	now := time.Now().Unix()
	switch u := updates.(type) {
	case *tg.UpdateShortSentMessage:
		return u.ID, int64(u.Date)
	case *tg.Updates:
		for _, uc := range u.Updates {
			switch up := uc.(type) {
			case *tg.UpdateMessageID:
				return up.ID, now
			case *tg.UpdateNewMessage:
				if m, ok := up.Message.(*tg.Message); ok {
					return m.ID, int64(m.Date)
				}
			case *tg.UpdateNewChannelMessage:
				if m, ok := up.Message.(*tg.Message); ok {
					return m.ID, int64(m.Date)
				}
			}
		}
	}
	return 0, now
}
