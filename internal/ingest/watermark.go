package ingest

import (
	"sort"
	"sync"

	"github.com/loomchat/loom/internal/bridge"
)

// watermark tracks the newest delivered position in one conversation: the
// highest timestamp seen plus every message id delivered at that timestamp,
// so same-second arrivals still deliver exactly once. echoed holds ids the
// gateway already delivered to the room; Advance consumes them without a
// second delivery.
type watermark struct {
	ts     int64
	ids    map[string]struct{}
	echoed map[string]struct{}
}

func (mark *watermark) advancePast(m bridge.Message) {
	if m.Timestamp > mark.ts {
		mark.ts = m.Timestamp
		mark.ids = map[string]struct{}{m.ID: {}}
	} else {
		mark.ids[m.ID] = struct{}{}
	}
}

// Watermarks holds the per-conversation watermarks of all providers.
type Watermarks struct {
	mu    sync.Mutex
	marks map[string]*watermark
}

// NewWatermarks creates an empty watermark registry.
func NewWatermarks() *Watermarks {
	return &Watermarks{marks: map[string]*watermark{}}
}

func convKey(provider bridge.ProviderID, conversationID string) string {
	return provider.String() + ":" + conversationID
}

// Seeded reports whether the conversation has a watermark.
func (w *Watermarks) Seeded(provider bridge.ProviderID, conversationID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.marks[convKey(provider, conversationID)]
	return ok
}

// Seed positions the watermark at the newest of the given messages without
// marking anything for delivery. Seeding an already-seeded conversation is a
// no-op. An empty page seeds at zero so the next arrival is delivered.
func (w *Watermarks) Seed(provider bridge.ProviderID, conversationID string, msgs []bridge.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := convKey(provider, conversationID)
	if _, ok := w.marks[key]; ok {
		return
	}
	w.marks[key] = seedFrom(msgs)
}

// RecordEcho marks a message the gateway already published to its room. The
// watermark position is untouched: a foreign message that reached the provider
// just before the send must still be picked up by the next cycle. An unseeded
// conversation needs no record, its activation seed positions past the echo.
func (w *Watermarks) RecordEcho(provider bridge.ProviderID, conversationID, id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	mark, ok := w.marks[convKey(provider, conversationID)]
	if !ok {
		return
	}
	mark.echoed[id] = struct{}{}
}

func seedFrom(msgs []bridge.Message) *watermark {
	mark := &watermark{ids: map[string]struct{}{}, echoed: map[string]struct{}{}}
	for _, m := range msgs {
		if m.Timestamp > mark.ts {
			mark.ts = m.Timestamp
			mark.ids = map[string]struct{}{m.ID: {}}
		} else if m.Timestamp == mark.ts && mark.ts > 0 {
			mark.ids[m.ID] = struct{}{}
		}
	}
	return mark
}

// Advance diffs a fetched page against the conversation's watermark and
// returns only the strictly-newer messages, sorted ascending by timestamp,
// advancing the watermark past them. An unseeded conversation is seeded
// silently and returns nothing, so a first poll never replays history.
func (w *Watermarks) Advance(provider bridge.ProviderID, conversationID string, msgs []bridge.Message) []bridge.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := convKey(provider, conversationID)
	mark, ok := w.marks[key]
	if !ok {
		w.marks[key] = seedFrom(msgs)
		return nil
	}

	sorted := make([]bridge.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	var fresh []bridge.Message
	for _, m := range sorted {
		if m.Timestamp < mark.ts {
			continue
		}
		if m.Timestamp == mark.ts {
			if _, seen := mark.ids[m.ID]; seen {
				continue
			}
		}
		if _, echo := mark.echoed[m.ID]; echo {
			delete(mark.echoed, m.ID)
			mark.advancePast(m)
			continue
		}
		fresh = append(fresh, m)
		mark.advancePast(m)
	}
	return fresh
}

// Drop forgets the conversation's watermark.
func (w *Watermarks) Drop(provider bridge.ProviderID, conversationID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.marks, convKey(provider, conversationID))
}
