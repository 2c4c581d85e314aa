// Package ingest continuously turns raw provider activity into normalized
// events: push subscriptions where a provider offers one, watermark-diffed
// polling of actively-viewed conversations everywhere else.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loomchat/loom/internal/bridge"
	"github.com/loomchat/loom/internal/session"
)

// Config tunes the polling and push-retry cadence.
type Config struct {
	PollInterval time.Duration
	// CallDelay spaces the provider calls within one poll cycle.
	CallDelay time.Duration
	// PushRetry is how long to poll after a dropped push subscription before
	// push is attempted again.
	PushRetry time.Duration
	PageSize  int
}

// Engine runs one ingestion loop per provider. Push and poll are mutually
// exclusive per provider at any time: a live push subscription stops
// polling, a dropped one resumes it. Poll failures are never fatal; a
// rate-limited conversation is skipped for the cycle and retried the next.
type Engine struct {
	logger   *slog.Logger
	registry *bridge.Registry
	sessions *session.Manager
	sink     bridge.EmitFunc
	cfg      Config
	marks    *Watermarks

	mu     sync.Mutex
	active map[bridge.ProviderID]map[string]struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Engine publishing into sink.
func New(log *slog.Logger, registry *bridge.Registry, sessions *session.Manager, cfg Config, sink bridge.EmitFunc) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.PushRetry <= 0 {
		cfg.PushRetry = 30 * time.Second
	}
	return &Engine{
		logger:   log.With(slog.String("component", "ingest")),
		registry: registry,
		sessions: sessions,
		sink:     sink,
		cfg:      cfg,
		marks:    NewWatermarks(),
		active:   map[bridge.ProviderID]map[string]struct{}{},
	}
}

// Start launches the per-provider ingestion loops.
func (e *Engine) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	for _, id := range e.registry.IDs() {
		e.wg.Add(1)
		go func(id bridge.ProviderID) {
			defer e.wg.Done()
			e.runProvider(runCtx, id)
		}(id)
	}
}

// Stop cancels the loops and waits for them to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// ConversationActivated adds the conversation to the provider's active
// polling set and seeds its watermark from the most recent known page, so
// history already obtained via listing is not re-delivered.
func (e *Engine) ConversationActivated(provider bridge.ProviderID, conversationID string) {
	e.mu.Lock()
	if e.active[provider] == nil {
		e.active[provider] = map[string]struct{}{}
	}
	e.active[provider][conversationID] = struct{}{}
	e.mu.Unlock()

	if e.marks.Seeded(provider, conversationID) {
		return
	}
	go e.seed(provider, conversationID)
}

// ConversationDeactivated removes the conversation from the active polling
// set. The watermark is retained for a later re-join.
func (e *Engine) ConversationDeactivated(provider bridge.ProviderID, conversationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.active[provider]
	if set == nil {
		return
	}
	delete(set, conversationID)
	if len(set) == 0 {
		delete(e.active, provider)
	}
}

func (e *Engine) seed(provider bridge.ProviderID, conversationID string) {
	if e.sessions.RequireReady(provider) != nil {
		return
	}
	lister, ok := e.registry.GetLister(provider)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	msgs, _, err := lister.ListMessages(ctx, conversationID, e.cfg.PageSize, "")
	if err != nil {
		e.logger.Warn("watermark seed failed",
			slog.String("provider", provider.String()),
			slog.String("conversation", conversationID),
			slog.Any("error", err))
		return
	}
	e.marks.Seed(provider, conversationID, msgs)
}

func (e *Engine) activeConversations(provider bridge.ProviderID) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.active[provider]
	out := make([]string, 0, len(set))
	for conv := range set {
		out = append(out, conv)
	}
	sort.Strings(out)
	return out
}

// runProvider alternates between push and poll for one provider. Polling is
// the fallback: it runs while no push subscription is live, and for the
// configured retry window after one drops.
func (e *Engine) runProvider(ctx context.Context, provider bridge.ProviderID) {
	log := e.logger.With(slog.String("provider", provider.String()))
	for {
		if ctx.Err() != nil {
			return
		}
		if e.sessions.RequireReady(provider) != nil {
			if !sleepCtx(ctx, e.cfg.PollInterval) {
				return
			}
			continue
		}

		sub, ok := e.registry.GetPushSubscriber(provider)
		if !ok {
			e.pollUntil(ctx, provider, nil)
			continue
		}

		sess, err := sub.Subscribe(ctx, e.pushEmitter(provider))
		if err != nil {
			if !errors.Is(err, bridge.ErrPushUnsupported) {
				log.Warn("push subscribe failed, polling", slog.Any("error", err))
			}
			deadline := time.Now().Add(e.cfg.PushRetry)
			if !e.pollUntil(ctx, provider, &deadline) {
				return
			}
			continue
		}

		log.Info("push subscription established")
		select {
		case <-ctx.Done():
			sess.Stop()
			return
		case <-sess.Done():
			log.Warn("push subscription dropped, resuming poll", slog.Any("error", sess.Err()))
		}

		deadline := time.Now().Add(e.cfg.PushRetry)
		if !e.pollUntil(ctx, provider, &deadline) {
			return
		}
	}
}

// pollUntil polls the active set every PollInterval until the deadline
// passes (nil means forever), the session leaves ready, or ctx ends.
// It returns false when ctx ended.
func (e *Engine) pollUntil(ctx context.Context, provider bridge.ProviderID, deadline *time.Time) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		if deadline != nil && time.Now().After(*deadline) {
			return true
		}
		if e.sessions.RequireReady(provider) != nil {
			return true
		}
		e.pollCycle(ctx, provider)
		if !sleepCtx(ctx, e.cfg.PollInterval) {
			return false
		}
	}
}

// pollCycle fetches the latest page of every actively-viewed conversation
// and emits what the watermark has not seen. One conversation's failure
// never aborts the cycle.
func (e *Engine) pollCycle(ctx context.Context, provider bridge.ProviderID) {
	lister, ok := e.registry.GetLister(provider)
	if !ok {
		return
	}
	log := e.logger.With(slog.String("provider", provider.String()))

	for i, conv := range e.activeConversations(provider) {
		if i > 0 && e.cfg.CallDelay > 0 {
			if !sleepCtx(ctx, e.cfg.CallDelay) {
				return
			}
		}
		msgs, _, err := lister.ListMessages(ctx, conv, e.cfg.PageSize, "")
		if err != nil {
			if errors.Is(err, bridge.ErrRateLimited) {
				log.Debug("rate limited, skipping conversation this cycle",
					slog.String("conversation", conv))
				continue
			}
			log.Warn("poll failed, skipping conversation",
				slog.String("conversation", conv), slog.Any("error", err))
			continue
		}
		for _, msg := range e.marks.Advance(provider, conv, msgs) {
			m := msg
			e.sink(bridge.Event{
				Kind:           bridge.EventMessage,
				Provider:       provider,
				ConversationID: m.ConversationID,
				Message:        &m,
			})
		}
	}
}

// pushEmitter normalizes push callbacks: new messages pass through the
// watermark so a replayed raw event never duplicates, edits and deletes
// pass through as-is since they reference an existing id.
func (e *Engine) pushEmitter(provider bridge.ProviderID) bridge.EmitFunc {
	return func(ev bridge.Event) {
		ev.Provider = provider
		switch ev.Kind {
		case bridge.EventMessage:
			if ev.Message == nil {
				return
			}
			if !e.marks.Seeded(provider, ev.ConversationID) {
				e.marks.Seed(provider, ev.ConversationID, nil)
			}
			for _, msg := range e.marks.Advance(provider, ev.ConversationID, []bridge.Message{*ev.Message}) {
				m := msg
				e.sink(bridge.Event{
					Kind:           bridge.EventMessage,
					Provider:       provider,
					ConversationID: m.ConversationID,
					Message:        &m,
				})
			}
		case bridge.EventMessageUpdated, bridge.EventMessageDeleted:
			e.sink(ev)
		}
	}
}

// RecordOutbound notes a message the gateway already echoed to its room, so
// the next poll or push cycle does not deliver it a second time. It must not
// move the watermark: a foreign message with a slightly older timestamp that
// has not been polled yet would otherwise be lost.
func (e *Engine) RecordOutbound(provider bridge.ProviderID, msg bridge.Message) {
	e.marks.RecordEcho(provider, msg.ConversationID, msg.ID)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
