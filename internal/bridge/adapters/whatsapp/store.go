package whatsapp

import (
	"sort"
	"sync"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"

	"github.com/loomchat/loom/internal/bridge"
)

const maxMessagesPerConversation = 200

type storedMessage struct {
	msg bridge.Message
	raw *waE2E.Message
}

// recentStore is the adapter's bounded message log. Linked devices cannot ask
// the server for arbitrary history, so listing serves whatever this store has
// accumulated from live events, oldest entries dropping off per conversation.
type recentStore struct {
	mu     sync.Mutex
	byConv map[string][]storedMessage
	unread map[string]int
}

func newRecentStore() *recentStore {
	return &recentStore{
		byConv: make(map[string][]storedMessage),
		unread: make(map[string]int),
	}
}

func (s *recentStore) add(msg bridge.Message, raw *waE2E.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.byConv[msg.ConversationID]
	for i := range entries {
		if entries[i].msg.ID == msg.ID {
			entries[i] = storedMessage{msg: msg, raw: raw}
			return
		}
	}
	entries = append(entries, storedMessage{msg: msg, raw: raw})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].msg.Timestamp < entries[j].msg.Timestamp
	})
	if len(entries) > maxMessagesPerConversation {
		entries = entries[len(entries)-maxMessagesPerConversation:]
	}
	s.byConv[msg.ConversationID] = entries
	if !msg.FromSelf {
		s.unread[msg.ConversationID]++
	}
}

// list returns up to limit messages, newest first, strictly older than
// beforeID when given. Listing marks the conversation read.
func (s *recentStore) list(conversationID string, limit int, beforeID string) ([]bridge.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unread[conversationID] = 0
	entries := s.byConv[conversationID]

	end := len(entries)
	if beforeID != "" {
		end = 0
		for i := range entries {
			if entries[i].msg.ID == beforeID {
				end = i
				break
			}
		}
	}
	start := end - limit
	if limit <= 0 || start < 0 {
		start = 0
	}
	out := make([]bridge.Message, 0, end-start)
	for i := end - 1; i >= start; i-- {
		out = append(out, entries[i].msg)
	}
	return out, start > 0
}

func (s *recentStore) raw(conversationID, messageID string) (*waE2E.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.byConv[conversationID] {
		if entry.msg.ID == messageID {
			return entry.raw, entry.raw != nil
		}
	}
	return nil, false
}

// summary reports the newest message and unread count for a conversation.
func (s *recentStore) summary(conversationID string) (bridge.Message, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.byConv[conversationID]
	if len(entries) == 0 {
		return bridge.Message{}, s.unread[conversationID], false
	}
	return entries[len(entries)-1].msg, s.unread[conversationID], true
}

func (s *recentStore) conversationIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.byConv))
	for id := range s.byConv {
		ids = append(ids, id)
	}
	return ids
}
