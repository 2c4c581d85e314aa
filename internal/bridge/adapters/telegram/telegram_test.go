package telegram

import (
	"testing"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomchat/loom/internal/bridge"
)

func testAdapter() *Adapter {
	return New(nil, 12345, "hash")
}

func TestSplitConversationID(t *testing.T) {
	t.Parallel()

	kind, id, err := splitConversationID("user:42")
	require.NoError(t, err)
	assert.Equal(t, "user", kind)
	assert.Equal(t, int64(42), id)

	_, _, err = splitConversationID("42")
	assert.ErrorIs(t, err, bridge.ErrEntityNotResolved)
	_, _, err = splitConversationID("user:abc")
	assert.ErrorIs(t, err, bridge.ErrEntityNotResolved)
}

func TestPeerIndex_InputPeer(t *testing.T) {
	t.Parallel()

	idx := newPeerIndex()
	idx.noteUsers([]tg.UserClass{&tg.User{ID: 42, AccessHash: 7, FirstName: "Ada"}})
	idx.noteChats([]tg.ChatClass{
		&tg.Chat{ID: 10, Title: "friends"},
		&tg.Channel{ID: 20, AccessHash: 9, Title: "news"},
	})

	peer, err := idx.inputPeer("user:42")
	require.NoError(t, err)
	user, ok := peer.(*tg.InputPeerUser)
	require.True(t, ok)
	assert.Equal(t, int64(7), user.AccessHash)

	peer, err = idx.inputPeer("chat:10")
	require.NoError(t, err)
	_, ok = peer.(*tg.InputPeerChat)
	assert.True(t, ok)

	peer, err = idx.inputPeer("channel:20")
	require.NoError(t, err)
	channel, ok := peer.(*tg.InputPeerChannel)
	require.True(t, ok)
	assert.Equal(t, int64(9), channel.AccessHash)

	_, err = idx.inputPeer("user:999")
	assert.ErrorIs(t, err, bridge.ErrEntityNotResolved)
}

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	a := testAdapter()
	a.peers.noteUsers([]tg.UserClass{&tg.User{ID: 42, FirstName: "Ada", LastName: "Lovelace"}})

	m := &tg.Message{
		ID:      100,
		Message: "hello",
		Date:    1700000000,
		FromID:  &tg.PeerUser{UserID: 42},
		PeerID:  &tg.PeerUser{UserID: 42},
	}
	m.ReplyTo = &tg.MessageReplyHeader{ReplyToMsgID: 90}

	got := a.convertMessage(m, "user:42", 1)
	assert.Equal(t, "100", got.ID)
	assert.Equal(t, "42", got.SenderID)
	assert.Equal(t, "Ada Lovelace", got.SenderName)
	assert.Equal(t, "90", got.ReplyToID)
	assert.Equal(t, bridge.DirectionIn, got.Direction)
	assert.False(t, got.FromSelf)
	assert.Equal(t, int64(1700000000), got.Timestamp)

	m.Out = true
	m.FromID = nil
	own := a.convertMessage(m, "user:42", 1)
	assert.True(t, own.FromSelf)
	assert.Equal(t, "1", own.SenderID)
}

func TestDescribeMedia(t *testing.T) {
	t.Parallel()

	assert.Nil(t, describeMedia(nil))
	assert.Nil(t, describeMedia(&tg.MessageMediaGeo{}))

	photo := describeMedia(&tg.MessageMediaPhoto{})
	require.NotNil(t, photo)
	assert.Equal(t, bridge.MediaPhoto, photo.Kind)

	voice := describeMedia(&tg.MessageMediaDocument{Document: &tg.Document{
		MimeType: "audio/ogg",
		Size:     4096,
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeAudio{Voice: true},
		},
	}})
	require.NotNil(t, voice)
	assert.Equal(t, bridge.MediaVoice, voice.Kind)
	assert.Equal(t, int64(4096), voice.Size)

	doc := describeMedia(&tg.MessageMediaDocument{Document: &tg.Document{
		MimeType: "application/pdf",
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeFilename{FileName: "report.pdf"},
		},
	}})
	require.NotNil(t, doc)
	assert.Equal(t, bridge.MediaDocument, doc.Kind)
	assert.Equal(t, "report.pdf", doc.Filename)
}

func TestSentMessageInfo(t *testing.T) {
	t.Parallel()

	id, ts := sentMessageInfo(&tg.UpdateShortSentMessage{ID: 7, Date: 1700000000})
	assert.Equal(t, 7, id)
	assert.Equal(t, int64(1700000000), ts)

	id, _ = sentMessageInfo(&tg.Updates{Updates: []tg.UpdateClass{
		&tg.UpdateMessageID{ID: 11},
	}})
	assert.Equal(t, 11, id)

	id, _ = sentMessageInfo(&tg.UpdatesCombined{})
	assert.Zero(t, id)
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, classifyError(nil))

	flood := classifyError(tgerr.New(420, "FLOOD_WAIT_5"))
	assert.ErrorIs(t, flood, bridge.ErrRateLimited)

	assert.ErrorIs(t, classifyError(tgerr.New(401, "AUTH_KEY_UNREGISTERED")), bridge.ErrInvalidCredential)
	assert.ErrorIs(t, classifyError(tgerr.New(400, "PHONE_CODE_INVALID")), bridge.ErrInvalidCredential)
	assert.NotErrorIs(t, classifyError(tgerr.New(400, "PEER_ID_INVALID")), bridge.ErrInvalidCredential)
}

func TestLargestPhotoSize(t *testing.T) {
	t.Parallel()

	assert.Empty(t, largestPhotoSize(nil))
	best := largestPhotoSize([]tg.PhotoSizeClass{
		&tg.PhotoSize{Type: "s", W: 90, H: 90},
		&tg.PhotoSize{Type: "y", W: 1280, H: 720},
		&tg.PhotoSize{Type: "m", W: 320, H: 320},
	})
	assert.Equal(t, "y", best)
}
