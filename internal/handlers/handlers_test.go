package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomchat/loom/internal/bridge"
	"github.com/loomchat/loom/internal/entity"
	"github.com/loomchat/loom/internal/gateway"
	"github.com/loomchat/loom/internal/handlers"
	"github.com/loomchat/loom/internal/hub"
	"github.com/loomchat/loom/internal/media"
	"github.com/loomchat/loom/internal/session"
)

// fakeProvider implements every capability interface with canned data.
type fakeProvider struct {
	mu       sync.Mutex
	seq      int
	messages []bridge.Message
	mediaErr error
}

func (p *fakeProvider) ID() bridge.ProviderID { return "fake" }

func (p *fakeProvider) Descriptor() bridge.Descriptor {
	return bridge.Descriptor{ID: "fake", DisplayName: "Fake", Flow: bridge.AuthFlowToken}
}

func (p *fakeProvider) Restore(ctx context.Context, token []byte) error { return nil }

func (p *fakeProvider) SubmitCredentials(ctx context.Context, creds bridge.Credentials) (bridge.LoginStep, error) {
	if creds.Token == "" {
		return "", bridge.ErrInvalidCredential
	}
	return bridge.StepDone, nil
}

func (p *fakeProvider) SessionToken(ctx context.Context) ([]byte, error) {
	return []byte("tok"), nil
}

func (p *fakeProvider) Logout(ctx context.Context) error { return nil }

func (p *fakeProvider) ListConversations(ctx context.Context, limit int) ([]bridge.Conversation, error) {
	return []bridge.Conversation{{ID: "c1", Name: "General", Kind: bridge.KindGroup, Unread: 2}}, nil
}

func (p *fakeProvider) ListMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]bridge.Message, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]bridge.Message, len(p.messages))
	copy(out, p.messages)
	return out, false, nil
}

func (p *fakeProvider) SendMessage(ctx context.Context, conversationID, body, replyToID string) (bridge.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	msg := bridge.Message{
		ID:             "m" + strconv.Itoa(p.seq),
		ConversationID: conversationID,
		Body:           body,
		ReplyToID:      replyToID,
		Direction:      bridge.DirectionOut,
		FromSelf:       true,
		Timestamp:      time.Now().Unix(),
	}
	p.messages = append(p.messages, msg)
	return msg, nil
}

func (p *fakeProvider) SendFile(ctx context.Context, conversationID string, file bridge.FileUpload) (bridge.Message, error) {
	return p.SendMessage(ctx, conversationID, "[File: "+file.Name+"]", "")
}

func (p *fakeProvider) EditMessage(ctx context.Context, conversationID, messageID, body string) (bridge.Message, error) {
	return bridge.Message{ID: messageID, ConversationID: conversationID, Body: body, FromSelf: true}, nil
}

func (p *fakeProvider) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	return nil
}

func (p *fakeProvider) FetchMedia(ctx context.Context, conversationID, messageID string) (bridge.MediaContent, error) {
	if p.mediaErr != nil {
		return bridge.MediaContent{}, p.mediaErr
	}
	return bridge.MediaContent{Data: []byte("0123456789"), Mime: "audio/ogg", Filename: "voice.ogg"}, nil
}

func (p *fakeProvider) FetchEntity(ctx context.Context, id string) (bridge.Entity, error) {
	return bridge.Entity{ID: id, DisplayName: "Fake User", AvatarRef: "ref"}, nil
}

func (p *fakeProvider) FetchAvatar(ctx context.Context, id string) ([]byte, string, error) {
	return []byte("png-bytes"), "image/png", nil
}

type testEnv struct {
	echo     *echo.Echo
	provider *fakeProvider
	sessions *session.Manager
	hub      *hub.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	provider := &fakeProvider{}
	registry := bridge.NewRegistry()
	registry.MustRegister(provider)

	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	sessions := session.NewManager(nil, registry, store, time.Second, time.Millisecond)

	h := hub.New(nil)
	gw := gateway.New(nil, registry, sessions, nil, h)

	avatars, err := media.NewAvatarCache(t.TempDir())
	require.NoError(t, err)
	resolver := media.NewResolver(nil, registry, avatars, 8)
	entities := entity.NewService(nil, registry, 8)

	e := echo.New()
	handlers.NewPingHandler(nil).Register(e)
	handlers.NewProvidersHandler(nil, sessions).Register(e)
	handlers.NewChatHandler(nil, gw, 50).Register(e)
	handlers.NewMediaHandler(nil, resolver, entities).Register(e)
	handlers.NewWSHandler(nil, h).Register(e)

	return &testEnv{echo: e, provider: provider, sessions: sessions, hub: h}
}

func (env *testEnv) login(t *testing.T) {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/providers/fake/login", `{"token":"xoxb-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (env *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func TestProvidersLoginAndStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/providers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var statuses []bridge.SessionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, bridge.StateUnconfigured, statuses[0].State)

	env.login(t)

	rec = env.do(t, http.MethodGet, "/providers", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	assert.Equal(t, bridge.StateReady, statuses[0].State)
}

func TestProvidersLoginRejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/providers/fake/login", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatRequiresReadySession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/providers/fake/conversations/c1/messages", `{"body":"hi"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/providers/fake/conversations", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestChatSendAndList(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.login(t)

	rec := env.do(t, http.MethodPost, "/providers/fake/conversations/c1/messages", `{"body":"hello there"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sent bridge.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sent))
	assert.Equal(t, "hello there", sent.Body)
	assert.True(t, sent.FromSelf)

	rec = env.do(t, http.MethodGet, "/providers/fake/conversations/c1/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Messages []bridge.Message `json:"messages"`
		HasMore  bool             `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Messages, 1)
	assert.Equal(t, sent.ID, page.Messages[0].ID)
}

func TestChatSendValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.login(t)

	rec := env.do(t, http.MethodPost, "/providers/fake/conversations/c1/messages", `{"body":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatEditAndDelete(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.login(t)

	rec := env.do(t, http.MethodPost, "/providers/fake/conversations/c1/messages", `{"body":"original"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var sent bridge.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sent))

	rec = env.do(t, http.MethodPut, "/providers/fake/conversations/c1/messages/"+sent.ID, `{"body":"edited"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var edited bridge.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &edited))
	assert.Equal(t, "edited", edited.Body)

	rec = env.do(t, http.MethodDelete, "/providers/fake/conversations/c1/messages/"+sent.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMediaFullAndRange(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.login(t)

	rec := env.do(t, http.MethodGet, "/providers/fake/conversations/c1/messages/m1/media", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789", rec.Body.String())
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "voice.ogg")

	req := httptest.NewRequest(http.MethodGet, "/providers/fake/conversations/c1/messages/m1/media", nil)
	req.Header.Set("Range", "bytes=2-5")
	rangeRec := httptest.NewRecorder()
	env.echo.ServeHTTP(rangeRec, req)
	require.Equal(t, http.StatusPartialContent, rangeRec.Code)
	assert.Equal(t, "2345", rangeRec.Body.String())
	assert.Equal(t, "bytes 2-5/10", rangeRec.Header().Get("Content-Range"))
}

func TestMediaBadRange(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.login(t)

	req := httptest.NewRequest(http.MethodGet, "/providers/fake/conversations/c1/messages/m1/media", nil)
	req.Header.Set("Range", "bytes=99-")
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */10", rec.Header().Get("Content-Range"))
}

func TestMediaNotFound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.provider.mediaErr = bridge.ErrMediaNotFound
	env.login(t)

	rec := env.do(t, http.MethodGet, "/providers/fake/conversations/c1/messages/m1/media", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEntityAndAvatar(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.login(t)

	rec := env.do(t, http.MethodGet, "/providers/fake/entities/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ent bridge.Entity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ent))
	assert.Equal(t, "Fake User", ent.DisplayName)

	rec = env.do(t, http.MethodGet, "/providers/fake/entities/u1/avatar", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png-bytes", rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
}

func TestRateLimitSetsRetryAfter(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.provider.mediaErr = &bridge.RateLimitError{RetryAfter: 7 * time.Second}
	env.login(t)

	rec := env.do(t, http.MethodGet, "/providers/fake/conversations/c1/messages/m1/media", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "7", rec.Header().Get("Retry-After"))
}

func TestWebSocketJoinReceivesRoomEvents(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	srv := httptest.NewServer(env.echo)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{
		"action":          "join",
		"provider":        "fake",
		"conversation_id": "c1",
	}))

	// wait for the join to land before publishing
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.SubscriberCount("fake", "c1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("join was not processed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.hub.Publish(bridge.Event{
		Kind:           bridge.EventMessage,
		Provider:       "fake",
		ConversationID: "c1",
		Message:        &bridge.Message{ID: "m1", ConversationID: "c1", Body: "incoming"},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev bridge.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, bridge.EventMessage, ev.Kind)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "incoming", ev.Message.Body)
}

func TestSendFileMultipart(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.login(t)

	var buf bytes.Buffer
	boundary := "testboundary"
	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Disposition: form-data; name=\"file\"; filename=\"notes.txt\"\r\n")
	fmt.Fprintf(&buf, "Content-Type: text/plain\r\n\r\n")
	buf.WriteString("file payload")
	fmt.Fprintf(&buf, "\r\n--%s--\r\n", boundary)

	req := httptest.NewRequest(http.MethodPost, "/providers/fake/conversations/c1/files", &buf)
	req.Header.Set(echo.HeaderContentType, "multipart/form-data; boundary="+boundary)
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var msg bridge.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "[File: notes.txt]", msg.Body)
}
