package hub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomchat/loom/internal/bridge"
)

type recordingListener struct {
	mu          sync.Mutex
	activated   []string
	deactivated []string
}

func (l *recordingListener) ConversationActivated(p bridge.ProviderID, conv string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.activated = append(l.activated, p.String()+":"+conv)
}

func (l *recordingListener) ConversationDeactivated(p bridge.ProviderID, conv string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deactivated = append(l.deactivated, p.String()+":"+conv)
}

func msgEvent(conv, id string) bridge.Event {
	return bridge.Event{
		Kind:           bridge.EventMessage,
		Provider:       "telegram",
		ConversationID: conv,
		Message:        &bridge.Message{ID: id, ConversationID: conv},
	}
}

func TestHub_RoomScopedDelivery(t *testing.T) {
	t.Parallel()

	h := New(nil)
	subA := h.NewSubscriber(8)
	subB := h.NewSubscriber(8)
	h.Join(subA, "telegram", "c1")
	h.Join(subB, "telegram", "c2")

	h.Publish(msgEvent("c1", "m1"))

	ev := <-subA.Events()
	assert.Equal(t, "m1", ev.Message.ID)
	select {
	case ev := <-subB.Events():
		t.Fatalf("subscriber of another room received %+v", ev)
	default:
	}
}

func TestHub_SessionStatusReachesEveryone(t *testing.T) {
	t.Parallel()

	h := New(nil)
	subA := h.NewSubscriber(8)
	subB := h.NewSubscriber(8)
	h.Join(subA, "telegram", "c1")
	// subB joined no room at all

	h.Publish(bridge.Event{Kind: bridge.EventSessionStatus, Provider: "slack", State: bridge.StateReady})

	for _, sub := range []*Subscriber{subA, subB} {
		ev := <-sub.Events()
		assert.Equal(t, bridge.EventSessionStatus, ev.Kind)
		assert.Equal(t, bridge.StateReady, ev.State)
	}
}

func TestHub_FirstJoinLastLeaveHooks(t *testing.T) {
	t.Parallel()

	h := New(nil)
	listener := &recordingListener{}
	h.SetActivityListener(listener)

	subA := h.NewSubscriber(8)
	subB := h.NewSubscriber(8)

	h.Join(subA, "telegram", "c1")
	h.Join(subB, "telegram", "c1")
	listener.mu.Lock()
	require.Equal(t, []string{"telegram:c1"}, listener.activated, "only the first join activates")
	listener.mu.Unlock()

	h.Leave(subA, "telegram", "c1")
	listener.mu.Lock()
	assert.Empty(t, listener.deactivated, "room still has a subscriber")
	listener.mu.Unlock()

	h.Leave(subB, "telegram", "c1")
	listener.mu.Lock()
	assert.Equal(t, []string{"telegram:c1"}, listener.deactivated)
	listener.mu.Unlock()

	// leave of a never-joined room must not fire the hook
	h.Leave(subB, "telegram", "ghost")
	listener.mu.Lock()
	assert.Len(t, listener.deactivated, 1)
	listener.mu.Unlock()
}

func TestHub_UnsubscribeClosesAndDeactivates(t *testing.T) {
	t.Parallel()

	h := New(nil)
	listener := &recordingListener{}
	h.SetActivityListener(listener)

	sub := h.NewSubscriber(8)
	h.Join(sub, "telegram", "c1")
	h.Join(sub, "slack", "c9")

	h.Unsubscribe(sub)

	_, open := <-sub.Events()
	assert.False(t, open, "event channel must be closed")
	listener.mu.Lock()
	assert.ElementsMatch(t, []string{"telegram:c1", "slack:c9"}, listener.deactivated)
	listener.mu.Unlock()
	assert.Zero(t, h.SubscriberCount("telegram", "c1"))
}

func TestHub_UnsubscribeTwiceIsNoop(t *testing.T) {
	t.Parallel()

	h := New(nil)
	sub := h.NewSubscriber(8)
	h.Join(sub, "telegram", "c1")

	h.Unsubscribe(sub)
	assert.NotPanics(t, func() { h.Unsubscribe(sub) })

	// a disconnecting client races the slow-subscriber drop in Publish;
	// both paths may unsubscribe the same subscriber
	slow := h.NewSubscriber(1)
	h.Join(slow, "telegram", "c2")
	h.Publish(msgEvent("c2", "m1"))
	h.Publish(msgEvent("c2", "m2")) // overflows, Publish drops slow
	assert.NotPanics(t, func() { h.Unsubscribe(slow) })
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	t.Parallel()

	h := New(nil)
	slow := h.NewSubscriber(1)
	h.Join(slow, "telegram", "c1")

	h.Publish(msgEvent("c1", "m1"))
	h.Publish(msgEvent("c1", "m2")) // buffer full, slow gets dropped

	ev, open := <-slow.Events()
	require.True(t, open)
	assert.Equal(t, "m1", ev.Message.ID)
	_, open = <-slow.Events()
	assert.False(t, open, "dropped subscriber channel must be closed")
	assert.Zero(t, h.SubscriberCount("telegram", "c1"))
}
