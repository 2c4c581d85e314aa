// Package telegram bridges Telegram over MTProto using gotd. Login is the
// phone plus confirmation code flow, with an optional cloud password as the
// second step. The MTProto connection itself delivers updates, so this
// adapter also acts as the push source for ingest.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	"github.com/loomchat/loom/internal/bridge"
)

// Type is the provider identifier for Telegram.
const Type = bridge.ProviderID("telegram")

const startTimeout = 15 * time.Second

// Adapter implements the Telegram provider. It satisfies bridge.Authenticator,
// bridge.Lister, bridge.Sender, bridge.Editor, bridge.MediaFetcher,
// bridge.EntityFetcher and bridge.PushSubscriber.
type Adapter struct {
	logger  *slog.Logger
	apiID   int
	apiHash string

	mu         sync.Mutex
	storage    *tokenStorage
	client     *telegram.Client
	api        *tg.Client
	dispatcher tg.UpdateDispatcher
	runCancel  context.CancelFunc
	runDone    chan struct{}
	peers      *peerIndex
	selfID     int64

	// pending phone login state between SendCode and SignIn
	phone    string
	codeHash string

	pushMu   sync.Mutex
	pushEmit bridge.EmitFunc
	pushSess *bridge.BasePushSession
}

// New creates a Telegram adapter with the given application credentials.
func New(log *slog.Logger, apiID int, apiHash string) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:  log.With(slog.String("adapter", "telegram")),
		apiID:   apiID,
		apiHash: apiHash,
		storage: newTokenStorage(nil),
		peers:   newPeerIndex(),
	}
}

// ID returns the Telegram provider identifier.
func (a *Adapter) ID() bridge.ProviderID { return Type }

// Descriptor returns the Telegram provider metadata.
func (a *Adapter) Descriptor() bridge.Descriptor {
	return bridge.Descriptor{
		ID:          Type,
		DisplayName: "Telegram",
		Flow:        bridge.AuthFlowPhoneCode,
	}
}

// start brings up the MTProto client if it is not already running. Callers
// must hold a.mu.
func (a *Adapter) startLocked() error {
	if a.client != nil {
		return nil
	}
	a.dispatcher = tg.NewUpdateDispatcher()
	a.registerUpdateHandlers()
	client := telegram.NewClient(a.apiID, a.apiHash, telegram.Options{
		SessionStorage: a.storage,
		UpdateHandler:  a.dispatcher,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan struct{})
	var runErr error
	go func() {
		defer close(done)
		runErr = client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			a.logger.Warn("mtproto loop ended", slog.Any("error", runErr))
		}
		a.closePushSession(runErr)
	}()

	select {
	case <-ready:
	case <-done:
		cancel()
		if runErr == nil {
			runErr = errors.New("mtproto client exited before init")
		}
		return fmt.Errorf("telegram connect: %w", runErr)
	case <-time.After(startTimeout):
		cancel()
		return errors.New("telegram connect: timeout")
	}

	a.client = client
	a.api = client.API()
	a.runCancel = cancel
	a.runDone = done
	return nil
}

func (a *Adapter) stopLocked() {
	if a.runCancel != nil {
		a.runCancel()
		<-a.runDone
	}
	a.client = nil
	a.api = nil
	a.runCancel = nil
	a.runDone = nil
	a.selfID = 0
}

// Restore resumes a previously exported MTProto session.
func (a *Adapter) Restore(ctx context.Context, token []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
	a.storage = newTokenStorage(token)
	if err := a.startLocked(); err != nil {
		return err
	}
	status, err := a.client.Auth().Status(ctx)
	if err != nil {
		return classifyError(err)
	}
	if !status.Authorized {
		a.stopLocked()
		return bridge.ErrInvalidCredential
	}
	return a.noteSelfLocked(ctx)
}

// SubmitCredentials drives the phone login flow. A phone number alone
// requests a confirmation code, phone plus code signs in, and a password
// completes two-step verification when Telegram demands it.
func (a *Adapter) SubmitCredentials(ctx context.Context, creds bridge.Credentials) (bridge.LoginStep, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.startLocked(); err != nil {
		return "", err
	}

	switch {
	case creds.Password != "":
		if _, err := a.client.Auth().Password(ctx, creds.Password); err != nil {
			return "", classifyError(err)
		}
	case creds.Phone != "" && creds.Code != "":
		if a.codeHash == "" || a.phone != creds.Phone {
			return "", bridge.ErrInvalidCredential
		}
		_, err := a.client.Auth().SignIn(ctx, creds.Phone, creds.Code, a.codeHash)
		if errors.Is(err, auth.ErrPasswordAuthNeeded) {
			return bridge.StepPasswordRequired, nil
		}
		if err != nil {
			return "", classifyError(err)
		}
	case creds.Phone != "":
		sent, err := a.client.Auth().SendCode(ctx, creds.Phone, auth.SendCodeOptions{})
		if err != nil {
			return "", classifyError(err)
		}
		code, ok := sent.(*tg.AuthSentCode)
		if !ok {
			return "", fmt.Errorf("telegram: unexpected sent code %T", sent)
		}
		a.phone = creds.Phone
		a.codeHash = code.PhoneCodeHash
		return bridge.StepCodeRequired, nil
	default:
		return "", bridge.ErrInvalidCredential
	}

	a.phone = ""
	a.codeHash = ""
	if err := a.noteSelfLocked(ctx); err != nil {
		return "", err
	}
	return bridge.StepDone, nil
}

func (a *Adapter) noteSelfLocked(ctx context.Context) error {
	self, err := a.client.Self(ctx)
	if err != nil {
		return classifyError(err)
	}
	a.selfID = self.ID
	a.peers.noteUsers([]tg.UserClass{self})
	a.logger.Info("authenticated", slog.Int64("user_id", self.ID))
	return nil
}

// SessionToken exports the MTProto session for persistence.
func (a *Adapter) SessionToken(ctx context.Context) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data := a.storage.bytes()
	if len(data) == 0 {
		return nil, bridge.ErrNotConnected
	}
	return data, nil
}

// Logout terminates the Telegram session server side and stops the client.
func (a *Adapter) Logout(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.api != nil {
		if _, err := a.api.AuthLogOut(ctx); err != nil {
			a.logger.Warn("remote logout failed", slog.Any("error", err))
		}
	}
	a.stopLocked()
	a.storage = newTokenStorage(nil)
	return nil
}

// clientAPI returns the raw API client, or ErrNotConnected before login.
func (a *Adapter) clientAPI() (*tg.Client, int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.api == nil {
		return nil, 0, bridge.ErrNotConnected
	}
	return a.api, a.selfID, nil
}
