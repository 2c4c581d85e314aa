package bridge

import (
	"context"
	"io"
	"sync"
)

// Adapter is the base interface every provider adapter must implement.
// All behavior beyond identification is expressed through the optional
// capability interfaces below, discovered via type assertion.
type Adapter interface {
	ID() ProviderID
	Descriptor() Descriptor
}

// Descriptor holds read-only metadata for a registered provider.
type Descriptor struct {
	ID          ProviderID
	DisplayName string
	Flow        AuthFlow
}

// Credentials carries whatever input the current login step needs. Fields not
// relevant to the provider's flow are ignored.
type Credentials struct {
	Phone    string `json:"phone,omitempty"`
	Code     string `json:"code,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

// LoginStep reports where a multi-step login flow stands after a
// SubmitCredentials call.
type LoginStep string

const (
	// StepDone means the session is established.
	StepDone LoginStep = "done"
	// StepCodeRequired means a confirmation code was sent and must be submitted.
	StepCodeRequired LoginStep = "code_required"
	// StepPasswordRequired means the account has 2FA and needs its password.
	StepPasswordRequired LoginStep = "password_required"
	// StepQRPending means a QR code is ready to be scanned.
	StepQRPending LoginStep = "qr_pending"
)

// Authenticator drives a provider's session lifecycle. Implementations map
// their native login flow onto SubmitCredentials: each call advances the flow
// with the supplied input and reports the next step.
type Authenticator interface {
	// Restore validates a persisted session token and reconnects. A nil or
	// empty token means no session was persisted.
	Restore(ctx context.Context, token []byte) error
	// SubmitCredentials advances the login flow with the supplied input.
	SubmitCredentials(ctx context.Context, creds Credentials) (LoginStep, error)
	// SessionToken snapshots the opaque session for persistence once ready.
	SessionToken(ctx context.Context) ([]byte, error)
	// Logout invalidates the provider session.
	Logout(ctx context.Context) error
}

// QRAuthenticator is implemented by adapters whose login is a QR pairing.
type QRAuthenticator interface {
	// QRCode returns the current pairing payload to render as a QR image.
	QRCode(ctx context.Context) (string, error)
	// WaitLogin blocks until the pending QR pairing completes or ctx ends.
	WaitLogin(ctx context.Context) error
}

// Lister reads conversation and message history.
type Lister interface {
	ListConversations(ctx context.Context, limit int) ([]Conversation, error)
	// ListMessages pages backward from beforeID (empty means newest).
	// The bool result reports whether older messages remain before the page.
	ListMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]Message, bool, error)
}

// FileUpload is an outbound attachment.
type FileUpload struct {
	Name    string
	Mime    string
	Size    int64
	Caption string
	Reader  io.Reader
}

// Sender posts new messages and files.
type Sender interface {
	SendMessage(ctx context.Context, conversationID, body, replyToID string) (Message, error)
	SendFile(ctx context.Context, conversationID string, file FileUpload) (Message, error)
}

// Editor mutates already-sent messages. The provider's own accept/reject is
// the authority on whether the caller may edit or delete.
type Editor interface {
	EditMessage(ctx context.Context, conversationID, messageID, body string) (Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
}

// MediaContent is a fully resolved attachment payload. Kind carries the
// descriptor's classification so the declared mimetype can be corrected for
// kinds that providers routinely misreport.
type MediaContent struct {
	Data     []byte
	Mime     string
	Filename string
	Kind     MediaKind
}

// MediaFetcher retrieves attachment bytes on demand.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, conversationID, messageID string) (MediaContent, error)
}

// EntityFetcher resolves contact/channel/user records and avatars upstream.
type EntityFetcher interface {
	FetchEntity(ctx context.Context, id string) (Entity, error)
	// FetchAvatar returns the avatar bytes and mimetype for an entity.
	FetchAvatar(ctx context.Context, id string) ([]byte, string, error)
}

// EmitFunc receives normalized events from a push subscription.
type EmitFunc func(Event)

// PushSession is a live push subscription.
type PushSession interface {
	// Done is closed when the push channel drops.
	Done() <-chan struct{}
	// Err returns the drop cause after Done is closed.
	Err() error
	// Stop tears the subscription down. Safe to call more than once.
	Stop()
}

// PushSubscriber is implemented by adapters with a native event stream.
// Adapters without a push channel return ErrPushUnsupported and get polled
// instead.
type PushSubscriber interface {
	Subscribe(ctx context.Context, emit EmitFunc) (PushSession, error)
}

// BasePushSession is a default PushSession implementation backed by a stop
// function. Adapters close it with the drop cause when their stream ends.
type BasePushSession struct {
	done     chan struct{}
	stopOnce sync.Once
	stop     func()

	mu  sync.Mutex
	err error
}

// NewPushSession creates a BasePushSession for the given stop function.
func NewPushSession(stop func()) *BasePushSession {
	return &BasePushSession{
		done: make(chan struct{}),
		stop: stop,
	}
}

// Done reports when the subscription dropped.
func (s *BasePushSession) Done() <-chan struct{} { return s.done }

// Err returns the drop cause, if any.
func (s *BasePushSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop tears the subscription down.
func (s *BasePushSession) Stop() {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		s.Close(nil)
	})
}

// Close marks the subscription dropped with the given cause. Safe to call
// more than once; the first cause wins.
func (s *BasePushSession) Close(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	select {
	case <-s.done:
		s.mu.Unlock()
		return
	default:
	}
	close(s.done)
	s.mu.Unlock()
}
