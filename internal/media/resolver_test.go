package media_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomchat/loom/internal/bridge"
	"github.com/loomchat/loom/internal/media"
)

// blobAdapter implements Adapter, MediaFetcher, and EntityFetcher over a map.
type blobAdapter struct {
	mu      sync.Mutex
	calls   atomic.Int64
	delay   time.Duration
	blobs   map[string]bridge.MediaContent
	avatars map[string][]byte
}

func (a *blobAdapter) ID() bridge.ProviderID { return "blob" }

func (a *blobAdapter) Descriptor() bridge.Descriptor {
	return bridge.Descriptor{ID: "blob", DisplayName: "Blob", Flow: bridge.AuthFlowToken}
}

func (a *blobAdapter) FetchMedia(ctx context.Context, conversationID, messageID string) (bridge.MediaContent, error) {
	a.calls.Add(1)
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if blob, ok := a.blobs[conversationID+":"+messageID]; ok {
		return blob, nil
	}
	return bridge.MediaContent{}, bridge.ErrMediaNotFound
}

func (a *blobAdapter) FetchEntity(ctx context.Context, id string) (bridge.Entity, error) {
	return bridge.Entity{ID: id}, nil
}

func (a *blobAdapter) FetchAvatar(ctx context.Context, id string) ([]byte, string, error) {
	a.calls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	if data, ok := a.avatars[id]; ok {
		return data, "image/png", nil
	}
	return nil, "", bridge.ErrEntityNotResolved
}

func newBlobResolver(t *testing.T, adapter *blobAdapter, capacity int) *media.Resolver {
	t.Helper()
	registry := bridge.NewRegistry()
	registry.MustRegister(adapter)
	avatars, err := media.NewAvatarCache(t.TempDir())
	require.NoError(t, err)
	return media.NewResolver(nil, registry, avatars, capacity)
}

func TestResolver_FetchCachesBlob(t *testing.T) {
	t.Parallel()

	adapter := &blobAdapter{blobs: map[string]bridge.MediaContent{
		"c1:m1": {Data: []byte("bytes"), Mime: "image/png", Filename: "pic.png"},
	}}
	resolver := newBlobResolver(t, adapter, 4)

	content, err := resolver.Fetch(context.Background(), "blob", "c1", "m1")
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), content.Data)

	_, err = resolver.Fetch(context.Background(), "blob", "c1", "m1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, adapter.calls.Load(), "second fetch must come from cache")
}

func TestResolver_ConcurrentFetchesShareOneCall(t *testing.T) {
	t.Parallel()

	adapter := &blobAdapter{
		delay: 20 * time.Millisecond,
		blobs: map[string]bridge.MediaContent{
			"c1:m1": {Data: []byte("bytes"), Mime: "image/png", Filename: "pic.png"},
		},
	}
	resolver := newBlobResolver(t, adapter, 4)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := resolver.Fetch(context.Background(), "blob", "c1", "m1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, adapter.calls.Load())
}

func TestResolver_OldestEvicted(t *testing.T) {
	t.Parallel()

	blobs := map[string]bridge.MediaContent{}
	for i := 0; i < 6; i++ {
		blobs[fmt.Sprintf("c1:m%d", i)] = bridge.MediaContent{Data: []byte{byte(i)}, Mime: "image/png", Filename: "p.png"}
	}
	adapter := &blobAdapter{blobs: blobs}
	resolver := newBlobResolver(t, adapter, 2)

	for i := 0; i < 6; i++ {
		_, err := resolver.Fetch(context.Background(), "blob", "c1", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}
	before := adapter.calls.Load()

	// m0 fell out of the two-slot cache long ago
	_, err := resolver.Fetch(context.Background(), "blob", "c1", "m0")
	require.NoError(t, err)
	assert.EqualValues(t, before+1, adapter.calls.Load())
}

func TestResolver_FillsMissingMetadata(t *testing.T) {
	t.Parallel()

	adapter := &blobAdapter{blobs: map[string]bridge.MediaContent{
		"c1:m1": {Data: []byte("x")},
	}}
	resolver := newBlobResolver(t, adapter, 4)

	content, err := resolver.Fetch(context.Background(), "blob", "c1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", content.Mime)
	assert.Equal(t, "file-m1.bin", content.Filename)
}

func TestResolver_CorrectsMisreportedVoiceNote(t *testing.T) {
	t.Parallel()

	// some providers declare a concrete but wrong mimetype for voice notes
	adapter := &blobAdapter{blobs: map[string]bridge.MediaContent{
		"c1:m1": {Data: []byte("OggS"), Mime: "audio/mpeg", Filename: "voice.oga", Kind: bridge.MediaVoice},
		"c1:m2": {Data: []byte("ID3"), Mime: "audio/mpeg", Filename: "song.mp3"},
	}}
	resolver := newBlobResolver(t, adapter, 4)

	content, err := resolver.Fetch(context.Background(), "blob", "c1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "audio/ogg", content.Mime)

	// a plain audio file keeps its declared type
	content, err = resolver.Fetch(context.Background(), "blob", "c1", "m2")
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", content.Mime)
}

func TestResolver_MediaNotFound(t *testing.T) {
	t.Parallel()

	resolver := newBlobResolver(t, &blobAdapter{blobs: map[string]bridge.MediaContent{}}, 4)
	_, err := resolver.Fetch(context.Background(), "blob", "c1", "ghost")
	assert.ErrorIs(t, err, bridge.ErrMediaNotFound)
}

func TestResolver_AvatarDiskCache(t *testing.T) {
	t.Parallel()

	adapter := &blobAdapter{avatars: map[string][]byte{"u1": []byte("\x89PNG\r\n\x1a\nfake")}}
	registry := bridge.NewRegistry()
	registry.MustRegister(adapter)
	dir := t.TempDir()
	avatars, err := media.NewAvatarCache(dir)
	require.NoError(t, err)
	resolver := media.NewResolver(nil, registry, avatars, 4)

	data, _, err := resolver.Avatar(context.Background(), "blob", "u1", false)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	require.EqualValues(t, 1, adapter.calls.Load())

	// second read comes from disk, a fresh resolver over the same dir still hits
	resolver2 := media.NewResolver(nil, registry, avatars, 4)
	_, _, err = resolver2.Avatar(context.Background(), "blob", "u1", false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, adapter.calls.Load(), "disk cache must serve the repeat lookup")

	// refresh bypasses the cache
	_, _, err = resolver2.Avatar(context.Background(), "blob", "u1", true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, adapter.calls.Load())
}
