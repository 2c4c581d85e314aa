// Package slack bridges Slack workspaces over the Web API. Authentication is
// a single user or bot token; Slack has no push transport here, so ingest
// polls conversation history.
package slack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	slackapi "github.com/slack-go/slack"

	"github.com/loomchat/loom/internal/bridge"
)

// Type is the provider identifier for Slack.
const Type = bridge.ProviderID("slack")

const historyProbeLimit = 1

// Adapter implements the Slack provider. It satisfies bridge.Authenticator,
// bridge.Lister, bridge.Sender, bridge.Editor, bridge.MediaFetcher and
// bridge.EntityFetcher.
type Adapter struct {
	logger *slog.Logger

	mu     sync.RWMutex
	client *slackapi.Client
	token  string
	selfID string
}

// New creates a Slack adapter.
func New(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", "slack")),
	}
}

// ID returns the Slack provider identifier.
func (a *Adapter) ID() bridge.ProviderID { return Type }

// Descriptor returns the Slack provider metadata.
func (a *Adapter) Descriptor() bridge.Descriptor {
	return bridge.Descriptor{
		ID:          Type,
		DisplayName: "Slack",
		Flow:        bridge.AuthFlowToken,
	}
}

// Restore validates a previously stored token against auth.test.
func (a *Adapter) Restore(ctx context.Context, token []byte) error {
	return a.connect(ctx, string(token))
}

// SubmitCredentials logs in with a workspace token.
func (a *Adapter) SubmitCredentials(ctx context.Context, creds bridge.Credentials) (bridge.LoginStep, error) {
	if creds.Token == "" {
		return "", bridge.ErrInvalidCredential
	}
	if err := a.connect(ctx, creds.Token); err != nil {
		return "", err
	}
	return bridge.StepDone, nil
}

func (a *Adapter) connect(ctx context.Context, token string) error {
	client := slackapi.New(token)
	identity, err := client.AuthTestContext(ctx)
	if err != nil {
		return classifyError(err)
	}
	a.mu.Lock()
	a.client = client
	a.token = token
	a.selfID = identity.UserID
	a.mu.Unlock()
	a.logger.Info("authenticated", slog.String("team", identity.Team), slog.String("user", identity.User))
	return nil
}

// SessionToken returns the workspace token for persistence.
func (a *Adapter) SessionToken(ctx context.Context) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.token == "" {
		return nil, bridge.ErrNotConnected
	}
	return []byte(a.token), nil
}

// Logout drops the client. Slack tokens are revoked from the workspace
// settings, not the API, so this only forgets the local copy.
func (a *Adapter) Logout(ctx context.Context) error {
	a.mu.Lock()
	a.client = nil
	a.token = ""
	a.selfID = ""
	a.mu.Unlock()
	return nil
}

func (a *Adapter) api() (*slackapi.Client, string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client == nil {
		return nil, "", bridge.ErrNotConnected
	}
	return a.client, a.selfID, nil
}

// ListConversations returns channels, groups and DMs the user is a member of.
func (a *Adapter) ListConversations(ctx context.Context, limit int) ([]bridge.Conversation, error) {
	client, _, err := a.api()
	if err != nil {
		return nil, err
	}
	channels, _, err := client.GetConversationsContext(ctx, &slackapi.GetConversationsParameters{
		Limit:           limit,
		ExcludeArchived: true,
		Types:           []string{"public_channel", "private_channel", "im", "mpim"},
	})
	if err != nil {
		return nil, classifyError(err)
	}
	convs := make([]bridge.Conversation, 0, len(channels))
	for _, ch := range channels {
		convs = append(convs, convertConversation(ch))
	}
	return convs, nil
}

// ListMessages returns a page of channel history, newest first. beforeID is a
// message timestamp; messages strictly older than it are returned.
func (a *Adapter) ListMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]bridge.Message, bool, error) {
	client, selfID, err := a.api()
	if err != nil {
		return nil, false, err
	}
	resp, err := client.GetConversationHistoryContext(ctx, &slackapi.GetConversationHistoryParameters{
		ChannelID: conversationID,
		Limit:     limit,
		Latest:    beforeID,
		Inclusive: false,
	})
	if err != nil {
		return nil, false, classifyError(err)
	}
	msgs := make([]bridge.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		msgs = append(msgs, convertMessage(m, conversationID, selfID))
	}
	return msgs, resp.HasMore, nil
}

// SendMessage posts a text message. A non-empty replyToID threads the message
// under that timestamp.
func (a *Adapter) SendMessage(ctx context.Context, conversationID, body, replyToID string) (bridge.Message, error) {
	client, selfID, err := a.api()
	if err != nil {
		return bridge.Message{}, err
	}
	opts := []slackapi.MsgOption{slackapi.MsgOptionText(body, false)}
	if replyToID != "" {
		opts = append(opts, slackapi.MsgOptionTS(replyToID))
	}
	_, ts, err := client.PostMessageContext(ctx, conversationID, opts...)
	if err != nil {
		return bridge.Message{}, classifyError(err)
	}
	return bridge.Message{
		ID:             ts,
		ConversationID: conversationID,
		SenderID:       selfID,
		Direction:      bridge.DirectionOut,
		FromSelf:       true,
		Body:           body,
		ReplyToID:      replyToID,
		Timestamp:      tsToUnix(ts),
	}, nil
}

// SendFile uploads a file to a conversation.
func (a *Adapter) SendFile(ctx context.Context, conversationID string, file bridge.FileUpload) (bridge.Message, error) {
	client, selfID, err := a.api()
	if err != nil {
		return bridge.Message{}, err
	}
	summary, err := client.UploadFileV2Context(ctx, slackapi.UploadFileV2Parameters{
		Reader:         file.Reader,
		Filename:       file.Name,
		FileSize:       int(file.Size),
		Channel:        conversationID,
		InitialComment: file.Caption,
	})
	if err != nil {
		return bridge.Message{}, classifyError(err)
	}
	return bridge.Message{
		ID:             summary.ID,
		ConversationID: conversationID,
		SenderID:       selfID,
		Direction:      bridge.DirectionOut,
		FromSelf:       true,
		Body:           file.Caption,
		HasMedia:       true,
		Media: &bridge.MediaDescriptor{
			Kind:     mediaKindForMime(file.Mime),
			Mime:     file.Mime,
			Filename: file.Name,
			Size:     file.Size,
		},
	}, nil
}

// EditMessage updates a previously posted message.
func (a *Adapter) EditMessage(ctx context.Context, conversationID, messageID, body string) (bridge.Message, error) {
	client, selfID, err := a.api()
	if err != nil {
		return bridge.Message{}, err
	}
	_, ts, _, err := client.UpdateMessageContext(ctx, conversationID, messageID, slackapi.MsgOptionText(body, false))
	if err != nil {
		return bridge.Message{}, classifyError(err)
	}
	return bridge.Message{
		ID:             ts,
		ConversationID: conversationID,
		SenderID:       selfID,
		Direction:      bridge.DirectionOut,
		FromSelf:       true,
		Body:           body,
		Timestamp:      tsToUnix(ts),
	}, nil
}

// DeleteMessage removes a message.
func (a *Adapter) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	client, _, err := a.api()
	if err != nil {
		return err
	}
	if _, _, err := client.DeleteMessageContext(ctx, conversationID, messageID); err != nil {
		return classifyError(err)
	}
	return nil
}

// FetchMedia downloads the first file attached to a message.
func (a *Adapter) FetchMedia(ctx context.Context, conversationID, messageID string) (bridge.MediaContent, error) {
	client, _, err := a.api()
	if err != nil {
		return bridge.MediaContent{}, err
	}
	resp, err := client.GetConversationHistoryContext(ctx, &slackapi.GetConversationHistoryParameters{
		ChannelID: conversationID,
		Latest:    messageID,
		Inclusive: true,
		Limit:     historyProbeLimit,
	})
	if err != nil {
		return bridge.MediaContent{}, classifyError(err)
	}
	if len(resp.Messages) == 0 || resp.Messages[0].Timestamp != messageID || len(resp.Messages[0].Files) == 0 {
		return bridge.MediaContent{}, bridge.ErrMediaNotFound
	}
	f := resp.Messages[0].Files[0]
	url := f.URLPrivateDownload
	if url == "" {
		url = f.URLPrivate
	}
	if url == "" {
		return bridge.MediaContent{}, bridge.ErrMediaNotFound
	}
	var buf bytes.Buffer
	if err := client.GetFileContext(ctx, url, &buf); err != nil {
		return bridge.MediaContent{}, classifyError(err)
	}
	return bridge.MediaContent{
		Data:     buf.Bytes(),
		Mime:     f.Mimetype,
		Filename: f.Name,
		Kind:     mediaKindForMime(f.Mimetype),
	}, nil
}

// FetchEntity resolves a user id to a display name and avatar reference.
func (a *Adapter) FetchEntity(ctx context.Context, id string) (bridge.Entity, error) {
	client, _, err := a.api()
	if err != nil {
		return bridge.Entity{}, err
	}
	user, err := client.GetUserInfoContext(ctx, id)
	if err != nil {
		return bridge.Entity{}, entityError(err)
	}
	name := user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	if name == "" {
		name = user.Name
	}
	return bridge.Entity{
		ID:          user.ID,
		DisplayName: name,
		AvatarRef:   user.Profile.Image192,
	}, nil
}

// FetchAvatar downloads a user's profile image.
func (a *Adapter) FetchAvatar(ctx context.Context, id string) ([]byte, string, error) {
	entity, err := a.FetchEntity(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if entity.AvatarRef == "" {
		return nil, "", bridge.ErrMediaNotFound
	}
	client, _, err := a.api()
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	if err := client.GetFileContext(ctx, entity.AvatarRef, &buf); err != nil {
		return nil, "", classifyError(err)
	}
	return buf.Bytes(), "", nil
}

func entityError(err error) error {
	if err == nil {
		return nil
	}
	if err.Error() == "user_not_found" {
		return bridge.ErrEntityNotResolved
	}
	return classifyError(err)
}

// classifyError maps Slack API failures to the bridge error taxonomy.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var limited *slackapi.RateLimitedError
	if errors.As(err, &limited) {
		return &bridge.RateLimitError{RetryAfter: limited.RetryAfter}
	}
	switch err.Error() {
	case "invalid_auth", "account_inactive", "token_revoked", "token_expired", "not_authed":
		return bridge.ErrInvalidCredential
	}
	return fmt.Errorf("slack api: %w", err)
}
