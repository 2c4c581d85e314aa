package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gotd/td/tg"

	"github.com/loomchat/loom/internal/bridge"
)

// peerIndex remembers access hashes for every user, chat and channel seen in
// API responses. Conversation ids are "user:<id>", "chat:<id>" or
// "channel:<id>"; MTProto calls need the matching input peer with its access
// hash, which Telegram only hands out alongside dialog and message listings.
type peerIndex struct {
	mu       sync.RWMutex
	users    map[int64]*tg.User
	chats    map[int64]*tg.Chat
	channels map[int64]*tg.Channel
}

func newPeerIndex() *peerIndex {
	return &peerIndex{
		users:    make(map[int64]*tg.User),
		chats:    make(map[int64]*tg.Chat),
		channels: make(map[int64]*tg.Channel),
	}
}

func (p *peerIndex) noteUsers(users []tg.UserClass) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			p.users[user.ID] = user
		}
	}
}

func (p *peerIndex) noteChats(chats []tg.ChatClass) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range chats {
		switch chat := c.(type) {
		case *tg.Chat:
			p.chats[chat.ID] = chat
		case *tg.Channel:
			p.channels[chat.ID] = chat
		}
	}
}

func (p *peerIndex) user(id int64) (*tg.User, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[id]
	return u, ok
}

// inputPeer resolves a conversation id to an input peer.
func (p *peerIndex) inputPeer(conversationID string) (tg.InputPeerClass, error) {
	kind, id, err := splitConversationID(conversationID)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch kind {
	case "user":
		if u, ok := p.users[id]; ok {
			return &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash}, nil
		}
	case "chat":
		return &tg.InputPeerChat{ChatID: id}, nil
	case "channel":
		if ch, ok := p.channels[id]; ok {
			return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}, nil
		}
	}
	return nil, bridge.ErrEntityNotResolved
}

// inputChannel resolves a channel conversation for channel-scoped calls.
func (p *peerIndex) inputChannel(conversationID string) (*tg.InputChannel, bool) {
	kind, id, err := splitConversationID(conversationID)
	if err != nil || kind != "channel" {
		return nil, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	ch, ok := p.channels[id]
	if !ok {
		return nil, false
	}
	return &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}, true
}

func conversationIDForPeer(peer tg.PeerClass) string {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return "user:" + strconv.FormatInt(p.UserID, 10)
	case *tg.PeerChat:
		return "chat:" + strconv.FormatInt(p.ChatID, 10)
	case *tg.PeerChannel:
		return "channel:" + strconv.FormatInt(p.ChannelID, 10)
	}
	return ""
}

func splitConversationID(conversationID string) (string, int64, error) {
	kind, raw, ok := strings.Cut(conversationID, ":")
	if !ok {
		return "", 0, fmt.Errorf("malformed conversation id %q: %w", conversationID, bridge.ErrEntityNotResolved)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed conversation id %q: %w", conversationID, bridge.ErrEntityNotResolved)
	}
	return kind, id, nil
}
