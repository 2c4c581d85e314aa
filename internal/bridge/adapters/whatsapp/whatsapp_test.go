package whatsapp

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/loomchat/loom/internal/bridge"
)

func storedMsg(conv, id string, ts int64, fromSelf bool) bridge.Message {
	return bridge.Message{
		ID:             id,
		ConversationID: conv,
		FromSelf:       fromSelf,
		Timestamp:      ts,
		Body:           "body " + id,
	}
}

func TestRecentStore_ListNewestFirst(t *testing.T) {
	t.Parallel()

	s := newRecentStore()
	s.add(storedMsg("c1", "m1", 10, false), nil)
	s.add(storedMsg("c1", "m3", 30, false), nil)
	s.add(storedMsg("c1", "m2", 20, false), nil)

	msgs, more := s.list("c1", 2, "")
	require.Len(t, msgs, 2)
	assert.Equal(t, "m3", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.True(t, more)

	older, more := s.list("c1", 10, "m2")
	require.Len(t, older, 1)
	assert.Equal(t, "m1", older[0].ID)
	assert.False(t, more)
}

func TestRecentStore_DuplicateReplaces(t *testing.T) {
	t.Parallel()

	s := newRecentStore()
	s.add(storedMsg("c1", "m1", 10, false), nil)
	edited := storedMsg("c1", "m1", 10, false)
	edited.Body = "edited"
	s.add(edited, nil)

	msgs, _ := s.list("c1", 10, "")
	require.Len(t, msgs, 1)
	assert.Equal(t, "edited", msgs[0].Body)
}

func TestRecentStore_Bounded(t *testing.T) {
	t.Parallel()

	s := newRecentStore()
	for i := 0; i < maxMessagesPerConversation+25; i++ {
		s.add(storedMsg("c1", fmt.Sprintf("m%04d", i), int64(i), false), nil)
	}
	msgs, more := s.list("c1", maxMessagesPerConversation*2, "")
	assert.Len(t, msgs, maxMessagesPerConversation)
	assert.False(t, more)
	// oldest entries dropped
	assert.Equal(t, "m0224", msgs[0].ID)
	assert.Equal(t, "m0025", msgs[len(msgs)-1].ID)
}

func TestRecentStore_UnreadResetOnList(t *testing.T) {
	t.Parallel()

	s := newRecentStore()
	s.add(storedMsg("c1", "m1", 10, false), nil)
	s.add(storedMsg("c1", "m2", 20, false), nil)
	s.add(storedMsg("c1", "m3", 30, true), nil)

	last, unread, ok := s.summary("c1")
	require.True(t, ok)
	assert.Equal(t, "m3", last.ID)
	assert.Equal(t, 2, unread, "own messages do not count as unread")

	s.list("c1", 10, "")
	_, unread, _ = s.summary("c1")
	assert.Zero(t, unread)
}

func TestRecentStore_Raw(t *testing.T) {
	t.Parallel()

	s := newRecentStore()
	raw := &waE2E.Message{Conversation: proto.String("hi")}
	s.add(storedMsg("c1", "m1", 10, false), raw)
	s.add(storedMsg("c1", "m2", 20, false), nil)

	got, ok := s.raw("c1", "m1")
	require.True(t, ok)
	assert.Same(t, raw, got)

	_, ok = s.raw("c1", "m2")
	assert.False(t, ok)
	_, ok = s.raw("c1", "missing")
	assert.False(t, ok)
}

func TestDescribeMedia(t *testing.T) {
	t.Parallel()

	assert.Nil(t, describeMedia(&waE2E.Message{Conversation: proto.String("text")}))

	photo := describeMedia(&waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		Mimetype:   proto.String("image/jpeg"),
		FileLength: proto.Uint64(1000),
	}})
	require.NotNil(t, photo)
	assert.Equal(t, bridge.MediaPhoto, photo.Kind)
	assert.Equal(t, int64(1000), photo.Size)

	voice := describeMedia(&waE2E.Message{AudioMessage: &waE2E.AudioMessage{
		Mimetype: proto.String("audio/ogg; codecs=opus"),
		PTT:      proto.Bool(true),
	}})
	require.NotNil(t, voice)
	assert.Equal(t, bridge.MediaVoice, voice.Kind)

	audio := describeMedia(&waE2E.Message{AudioMessage: &waE2E.AudioMessage{
		Mimetype: proto.String("audio/mpeg"),
	}})
	require.NotNil(t, audio)
	assert.Equal(t, bridge.MediaDocument, audio.Kind, "non push-to-talk audio is a plain file")

	doc := describeMedia(&waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		FileName: proto.String("notes.txt"),
		Mimetype: proto.String("text/plain"),
	}})
	require.NotNil(t, doc)
	assert.Equal(t, "notes.txt", doc.Filename)
}

func TestTextOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "plain", textOf(&waE2E.Message{Conversation: proto.String("plain")}))
	assert.Equal(t, "extended", textOf(&waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("extended")},
	}))
	assert.Empty(t, textOf(&waE2E.Message{}))
}

func TestContactName(t *testing.T) {
	t.Parallel()

	jid := types.NewJID("15551234567", types.DefaultUserServer)
	assert.Equal(t, "Ada Lovelace", contactName(types.ContactInfo{FullName: "Ada Lovelace", PushName: "ada"}, jid))
	assert.Equal(t, "ada", contactName(types.ContactInfo{PushName: "ada"}, jid))
	assert.Equal(t, "15551234567", contactName(types.ContactInfo{}, jid))
}
