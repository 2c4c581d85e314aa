package media

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loomchat/loom/internal/bridge"
)

func TestResolveMime_DeclaredWins(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "image/png", ResolveMime("image/png", "whatever.jpg", bridge.MediaPhoto))
}

func TestResolveMime_GenericFallsBackToExtension(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "application/pdf", ResolveMime("application/octet-stream", "report.pdf", bridge.MediaDocument))
	assert.Equal(t, "image/jpeg", ResolveMime("", "photo.jpg", bridge.MediaPhoto))
	assert.Equal(t, "application/octet-stream", ResolveMime("", "no-extension", bridge.MediaDocument))
}

func TestResolveMime_VoiceNoteCorrection(t *testing.T) {
	t.Parallel()

	// misreported container type, extension is authoritative
	assert.Equal(t, "audio/ogg", ResolveMime("audio/mpeg", "note.oga", bridge.MediaVoice))
	assert.Equal(t, "audio/ogg", ResolveMime("application/octet-stream", "note.opus", bridge.MediaVoice))
	// a voice note without extension still defaults sensibly
	assert.Equal(t, "audio/ogg", ResolveMime("", "note", bridge.MediaVoice))
	// a plausible declared type without a telltale extension passes through
	assert.Equal(t, "audio/mp4", ResolveMime("audio/mp4", "note.m4a", bridge.MediaVoice))
}

func TestExtensionForMime(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".jpg", ExtensionForMime("image/jpeg"))
	assert.Equal(t, ".ogg", ExtensionForMime("audio/ogg"))
	assert.Equal(t, ".pdf", ExtensionForMime("application/pdf; name=x"))
	assert.Equal(t, ".bin", ExtensionForMime("application/x-nonexistent-type"))
}
