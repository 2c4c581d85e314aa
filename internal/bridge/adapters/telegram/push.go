package telegram

import (
	"context"
	"strconv"

	"github.com/gotd/td/tg"

	"github.com/loomchat/loom/internal/bridge"
)

// Subscribe attaches an emitter to the MTProto update stream. The session is
// dropped when the underlying client loop dies, which sends ingest back to
// polling until the next Subscribe.
func (a *Adapter) Subscribe(ctx context.Context, emit bridge.EmitFunc) (bridge.PushSession, error) {
	a.mu.Lock()
	running := a.api != nil
	a.mu.Unlock()
	if !running {
		return nil, bridge.ErrNotConnected
	}

	a.pushMu.Lock()
	defer a.pushMu.Unlock()
	sess := bridge.NewPushSession(func() {
		a.pushMu.Lock()
		a.pushEmit = nil
		a.pushSess = nil
		a.pushMu.Unlock()
	})
	a.pushEmit = emit
	a.pushSess = sess
	return sess, nil
}

func (a *Adapter) closePushSession(err error) {
	a.pushMu.Lock()
	sess := a.pushSess
	a.pushEmit = nil
	a.pushSess = nil
	a.pushMu.Unlock()
	if sess != nil {
		sess.Close(err)
	}
}

func (a *Adapter) emitEvent(ev bridge.Event) {
	a.pushMu.Lock()
	emit := a.pushEmit
	a.pushMu.Unlock()
	if emit != nil {
		ev.Provider = Type
		emit(ev)
	}
}

func (a *Adapter) registerUpdateHandlers() {
	a.dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		a.noteEntities(e)
		a.handleMessageUpdate(u.Message, bridge.EventMessage)
		return nil
	})
	a.dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		a.noteEntities(e)
		a.handleMessageUpdate(u.Message, bridge.EventMessage)
		return nil
	})
	a.dispatcher.OnEditMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateEditMessage) error {
		a.noteEntities(e)
		a.handleMessageUpdate(u.Message, bridge.EventMessageUpdated)
		return nil
	})
	a.dispatcher.OnEditChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateEditChannelMessage) error {
		a.noteEntities(e)
		a.handleMessageUpdate(u.Message, bridge.EventMessageUpdated)
		return nil
	})
	// Plain chat deletions carry no peer, so only channel deletions can be
	// routed to a conversation. The rest surface when history is re-listed.
	a.dispatcher.OnDeleteChannelMessages(func(ctx context.Context, e tg.Entities, u *tg.UpdateDeleteChannelMessages) error {
		convID := "channel:" + strconv.FormatInt(u.ChannelID, 10)
		for _, id := range u.Messages {
			a.emitEvent(bridge.Event{
				Kind:           bridge.EventMessageDeleted,
				ConversationID: convID,
				MessageID:      strconv.Itoa(id),
			})
		}
		return nil
	})
}

func (a *Adapter) handleMessageUpdate(mc tg.MessageClass, kind bridge.EventKind) {
	m, ok := mc.(*tg.Message)
	if !ok {
		return
	}
	convID := conversationIDForPeer(m.PeerID)
	if convID == "" {
		return
	}
	a.mu.Lock()
	selfID := a.selfID
	a.mu.Unlock()
	msg := a.convertMessage(m, convID, selfID)
	a.emitEvent(bridge.Event{
		Kind:           kind,
		ConversationID: convID,
		Message:        &msg,
	})
}

func (a *Adapter) noteEntities(e tg.Entities) {
	users := make([]tg.UserClass, 0, len(e.Users))
	for _, u := range e.Users {
		users = append(users, u)
	}
	a.peers.noteUsers(users)

	chats := make([]tg.ChatClass, 0, len(e.Chats)+len(e.Channels))
	for _, c := range e.Chats {
		chats = append(chats, c)
	}
	for _, c := range e.Channels {
		chats = append(chats, c)
	}
	a.peers.noteChats(chats)
}
