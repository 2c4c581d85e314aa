package bridge_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomchat/loom/internal/bridge"
)

func TestWrapProvider_PassesThroughTaxonomy(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("list messages: %w", bridge.ErrRateLimited)
	err := bridge.WrapProvider("slack", "listMessages", wrapped)
	require.ErrorIs(t, err, bridge.ErrRateLimited)

	var perr *bridge.ProviderError
	assert.False(t, errors.As(err, &perr), "taxonomy errors must not be re-wrapped")
}

func TestWrapProvider_WrapsUnknown(t *testing.T) {
	t.Parallel()

	cause := errors.New("socket closed")
	err := bridge.WrapProvider("telegram", "sendMessage", cause)

	var perr *bridge.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, bridge.ProviderID("telegram"), perr.Provider)
	assert.Equal(t, "sendMessage", perr.Op)
	assert.ErrorIs(t, err, cause)
}

func TestWrapProvider_Nil(t *testing.T) {
	t.Parallel()
	assert.NoError(t, bridge.WrapProvider("slack", "op", nil))
}

func TestRateLimitError_MatchesSentinel(t *testing.T) {
	t.Parallel()

	err := &bridge.RateLimitError{RetryAfter: 3 * time.Second}
	assert.ErrorIs(t, err, bridge.ErrRateLimited)
	assert.Contains(t, err.Error(), "3s")
}

func TestMediaDescriptor_Placeholder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		desc bridge.MediaDescriptor
		want string
	}{
		{bridge.MediaDescriptor{Kind: bridge.MediaPhoto}, "[Photo]"},
		{bridge.MediaDescriptor{Kind: bridge.MediaVoice}, "[Voice Message]"},
		{bridge.MediaDescriptor{Kind: bridge.MediaDocument, Filename: "report.pdf"}, "[File: report.pdf]"},
		{bridge.MediaDescriptor{Kind: bridge.MediaDocument}, "[File]"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.desc.Placeholder())
	}
}
