package slack

import (
	"errors"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomchat/loom/internal/bridge"
)

func TestTsToUnix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(1700000000), tsToUnix("1700000000.123456"))
	assert.Equal(t, int64(1700000000), tsToUnix("1700000000"))
	assert.Equal(t, int64(0), tsToUnix("not-a-ts"))
	assert.Equal(t, int64(0), tsToUnix(""))
}

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	m := slackapi.Message{Msg: slackapi.Msg{
		Timestamp: "1700000000.000100",
		User:      "U123",
		Text:      "hello",
	}}

	got := convertMessage(m, "C1", "U999")
	assert.Equal(t, "1700000000.000100", got.ID)
	assert.Equal(t, "C1", got.ConversationID)
	assert.Equal(t, bridge.DirectionIn, got.Direction)
	assert.False(t, got.FromSelf)
	assert.Equal(t, int64(1700000000), got.Timestamp)

	own := convertMessage(m, "C1", "U123")
	assert.True(t, own.FromSelf)
	assert.Equal(t, bridge.DirectionOut, own.Direction)
}

func TestConvertMessage_ThreadAndFiles(t *testing.T) {
	t.Parallel()

	m := slackapi.Message{Msg: slackapi.Msg{
		Timestamp:       "1700000010.000200",
		ThreadTimestamp: "1700000000.000100",
		User:            "U123",
		Files: []slackapi.File{{
			Name:     "report.pdf",
			Mimetype: "application/pdf",
			Size:     2048,
		}},
	}}

	got := convertMessage(m, "C1", "")
	assert.Equal(t, "1700000000.000100", got.ReplyToID)
	require.True(t, got.HasMedia)
	require.NotNil(t, got.Media)
	assert.Equal(t, bridge.MediaDocument, got.Media.Kind)
	assert.Equal(t, int64(2048), got.Media.Size)

	// thread parents are not replies to themselves
	parent := slackapi.Message{Msg: slackapi.Msg{
		Timestamp:       "1700000000.000100",
		ThreadTimestamp: "1700000000.000100",
	}}
	assert.Empty(t, convertMessage(parent, "C1", "").ReplyToID)
}

func TestConvertConversation(t *testing.T) {
	t.Parallel()

	channel := slackapi.Channel{}
	channel.ID = "C1"
	channel.Name = "general"
	got := convertConversation(channel)
	assert.Equal(t, bridge.KindChannel, got.Kind)
	assert.Equal(t, "general", got.Name)

	im := slackapi.Channel{}
	im.ID = "D1"
	im.IsIM = true
	im.User = "U42"
	got = convertConversation(im)
	assert.Equal(t, bridge.KindDirect, got.Kind)
	assert.Equal(t, "U42", got.Name)

	mpim := slackapi.Channel{}
	mpim.ID = "G1"
	mpim.IsMpIM = true
	assert.Equal(t, bridge.KindGroup, convertConversation(mpim).Kind)
}

func TestMediaKindForMime(t *testing.T) {
	t.Parallel()

	assert.Equal(t, bridge.MediaPhoto, mediaKindForMime("image/png"))
	assert.Equal(t, bridge.MediaVideo, mediaKindForMime("video/mp4"))
	assert.Equal(t, bridge.MediaVoice, mediaKindForMime("audio/ogg"))
	assert.Equal(t, bridge.MediaDocument, mediaKindForMime("application/zip"))
	assert.Equal(t, bridge.MediaDocument, mediaKindForMime(""))
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, classifyError(nil))
	assert.ErrorIs(t, classifyError(errors.New("invalid_auth")), bridge.ErrInvalidCredential)
	assert.ErrorIs(t, classifyError(errors.New("token_revoked")), bridge.ErrInvalidCredential)

	limited := classifyError(&slackapi.RateLimitedError{RetryAfter: 5 * time.Second})
	assert.ErrorIs(t, limited, bridge.ErrRateLimited)
	var rl *bridge.RateLimitError
	require.ErrorAs(t, limited, &rl)
	assert.Equal(t, 5*time.Second, rl.RetryAfter)

	other := classifyError(errors.New("channel_not_found"))
	assert.NotErrorIs(t, other, bridge.ErrInvalidCredential)
}
