// Package gateway exposes the chat operations of the bridge: listing
// conversations and history, sending, editing and deleting messages. Every
// operation requires a ready session and every successful mutation is echoed
// to subscribers immediately, without waiting for the provider to deliver the
// change back through ingest.
package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/loomchat/loom/internal/bridge"
	"github.com/loomchat/loom/internal/hub"
	"github.com/loomchat/loom/internal/ingest"
	"github.com/loomchat/loom/internal/session"
)

const authorshipCapacity = 1024

// boundedSet remembers up to a fixed number of string keys, evicting the
// oldest insertion once full.
type boundedSet struct {
	mu      sync.Mutex
	members map[string]struct{}
	ring    []string
	next    int
}

func newBoundedSet(capacity int) *boundedSet {
	return &boundedSet{
		members: make(map[string]struct{}, capacity),
		ring:    make([]string, capacity),
	}
}

func (s *boundedSet) Add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[key]; ok {
		return
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.members, old)
	}
	s.members[key] = struct{}{}
	s.ring[s.next] = key
	s.next = (s.next + 1) % len(s.ring)
}

func (s *boundedSet) Remove(key string) {
	s.mu.Lock()
	delete(s.members, key)
	s.mu.Unlock()
}

func (s *boundedSet) Has(key string) bool {
	s.mu.Lock()
	_, ok := s.members[key]
	s.mu.Unlock()
	return ok
}

// Gateway mediates between the HTTP and WebSocket surfaces and the provider
// adapters.
type Gateway struct {
	logger   *slog.Logger
	registry *bridge.Registry
	sessions *session.Manager
	engine   *ingest.Engine
	hub      *hub.Hub

	// Authorship of recently observed messages. Foreign messages fail edit
	// and delete up front; anything outside the record goes to the provider,
	// which enforces ownership anyway.
	self    *boundedSet
	foreign *boundedSet
}

// New creates a gateway.
func New(log *slog.Logger, registry *bridge.Registry, sessions *session.Manager, engine *ingest.Engine, h *hub.Hub) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		logger:   log.With(slog.String("component", "gateway")),
		registry: registry,
		sessions: sessions,
		engine:   engine,
		hub:      h,
		self:     newBoundedSet(authorshipCapacity),
		foreign:  newBoundedSet(authorshipCapacity),
	}
}

// ListConversations returns the newest conversations for a provider.
func (g *Gateway) ListConversations(ctx context.Context, provider bridge.ProviderID, limit int) ([]bridge.Conversation, error) {
	if err := g.sessions.RequireReady(provider); err != nil {
		return nil, err
	}
	lister, ok := g.registry.GetLister(provider)
	if !ok {
		return nil, bridge.ErrNotConnected
	}
	convs, err := lister.ListConversations(ctx, limit)
	if err != nil {
		return nil, bridge.WrapProvider(provider, "list conversations", err)
	}
	return convs, nil
}

// ListMessages returns a page of history for a conversation. A non-empty
// beforeID requests the page preceding that message. The returned bool
// reports whether older messages remain.
func (g *Gateway) ListMessages(ctx context.Context, provider bridge.ProviderID, conversationID string, limit int, beforeID string) ([]bridge.Message, bool, error) {
	if err := g.sessions.RequireReady(provider); err != nil {
		return nil, false, err
	}
	lister, ok := g.registry.GetLister(provider)
	if !ok {
		return nil, false, bridge.ErrNotConnected
	}
	msgs, more, err := lister.ListMessages(ctx, conversationID, limit, beforeID)
	if err != nil {
		return nil, false, bridge.WrapProvider(provider, "list messages", err)
	}
	return msgs, more, nil
}

// SendMessage sends a text message and echoes it to subscribers.
func (g *Gateway) SendMessage(ctx context.Context, provider bridge.ProviderID, conversationID, body, replyToID string) (bridge.Message, error) {
	if err := g.sessions.RequireReady(provider); err != nil {
		return bridge.Message{}, err
	}
	sender, ok := g.registry.GetSender(provider)
	if !ok {
		return bridge.Message{}, bridge.ErrNotConnected
	}
	msg, err := sender.SendMessage(ctx, conversationID, body, replyToID)
	if err != nil {
		return bridge.Message{}, bridge.WrapProvider(provider, "send message", err)
	}
	g.recordSent(provider, msg)
	g.publish(bridge.Event{
		Kind:           bridge.EventMessage,
		Provider:       provider,
		ConversationID: msg.ConversationID,
		Message:        &msg,
	})
	return msg, nil
}

// SendFile uploads a file to a conversation and echoes the resulting message.
func (g *Gateway) SendFile(ctx context.Context, provider bridge.ProviderID, conversationID string, file bridge.FileUpload) (bridge.Message, error) {
	if err := g.sessions.RequireReady(provider); err != nil {
		return bridge.Message{}, err
	}
	sender, ok := g.registry.GetSender(provider)
	if !ok {
		return bridge.Message{}, bridge.ErrNotConnected
	}
	msg, err := sender.SendFile(ctx, conversationID, file)
	if err != nil {
		return bridge.Message{}, bridge.WrapProvider(provider, "send file", err)
	}
	g.recordSent(provider, msg)
	g.publish(bridge.Event{
		Kind:           bridge.EventMessage,
		Provider:       provider,
		ConversationID: msg.ConversationID,
		Message:        &msg,
	})
	return msg, nil
}

// EditMessage replaces the body of a previously sent message.
func (g *Gateway) EditMessage(ctx context.Context, provider bridge.ProviderID, conversationID, messageID, body string) (bridge.Message, error) {
	if err := g.sessions.RequireReady(provider); err != nil {
		return bridge.Message{}, err
	}
	editor, ok := g.registry.GetEditor(provider)
	if !ok {
		return bridge.Message{}, bridge.ErrNotConnected
	}
	if g.knownForeign(provider, conversationID, messageID) {
		return bridge.Message{}, bridge.ErrPermissionDenied
	}
	msg, err := editor.EditMessage(ctx, conversationID, messageID, body)
	if err != nil {
		return bridge.Message{}, bridge.WrapProvider(provider, "edit message", err)
	}
	g.recordSent(provider, msg)
	g.publish(bridge.Event{
		Kind:           bridge.EventMessageUpdated,
		Provider:       provider,
		ConversationID: msg.ConversationID,
		Message:        &msg,
	})
	return msg, nil
}

// DeleteMessage removes a message for all participants.
func (g *Gateway) DeleteMessage(ctx context.Context, provider bridge.ProviderID, conversationID, messageID string) error {
	if err := g.sessions.RequireReady(provider); err != nil {
		return err
	}
	editor, ok := g.registry.GetEditor(provider)
	if !ok {
		return bridge.ErrNotConnected
	}
	if g.knownForeign(provider, conversationID, messageID) {
		return bridge.ErrPermissionDenied
	}
	if err := editor.DeleteMessage(ctx, conversationID, messageID); err != nil {
		return bridge.WrapProvider(provider, "delete message", err)
	}
	g.publish(bridge.Event{
		Kind:           bridge.EventMessageDeleted,
		Provider:       provider,
		ConversationID: conversationID,
		MessageID:      messageID,
	})
	return nil
}

// ObserveInbound tracks authorship of delivered messages. The event relay
// feeds every message event through here before fan-out.
func (g *Gateway) ObserveInbound(ev bridge.Event) {
	if ev.Kind != bridge.EventMessage || ev.Message == nil {
		return
	}
	key := authorshipKey(ev.Provider, ev.Message.ConversationID, ev.Message.ID)
	if ev.Message.FromSelf {
		g.self.Add(key)
		g.foreign.Remove(key)
		return
	}
	g.foreign.Add(key)
}

// recordSent remembers a message we authored, so ingest does not re-deliver
// the provider's echo and later edit attempts are not refused as foreign.
func (g *Gateway) recordSent(provider bridge.ProviderID, msg bridge.Message) {
	if g.engine != nil {
		g.engine.RecordOutbound(provider, msg)
	}
	key := authorshipKey(provider, msg.ConversationID, msg.ID)
	g.self.Add(key)
	g.foreign.Remove(key)
}

func (g *Gateway) knownForeign(provider bridge.ProviderID, conversationID, messageID string) bool {
	key := authorshipKey(provider, conversationID, messageID)
	if g.self.Has(key) {
		return false
	}
	return g.foreign.Has(key)
}

func (g *Gateway) publish(ev bridge.Event) {
	if g.hub != nil {
		g.hub.Publish(ev)
	}
}

func authorshipKey(provider bridge.ProviderID, conversationID, messageID string) string {
	return string(provider) + ":" + conversationID + ":" + messageID
}
