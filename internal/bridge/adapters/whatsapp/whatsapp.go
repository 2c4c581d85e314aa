// Package whatsapp bridges WhatsApp through whatsmeow as a linked device.
// Login is a QR code scanned from the phone; the device credentials live in a
// whatsmeow sqlite store, so the session token is just the device JID used to
// find them again. WhatsApp has no history API for linked devices, so the
// adapter keeps a bounded in-memory log of the messages it has seen and
// serves history from that.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	_ "github.com/mattn/go-sqlite3"

	"github.com/loomchat/loom/internal/bridge"
)

// Type is the provider identifier for WhatsApp.
const Type = bridge.ProviderID("whatsapp")

const qrWaitTimeout = 30 * time.Second

// Adapter implements the WhatsApp provider. It satisfies bridge.Authenticator,
// bridge.QRAuthenticator, bridge.Lister, bridge.Sender, bridge.Editor,
// bridge.MediaFetcher, bridge.EntityFetcher and bridge.PushSubscriber.
type Adapter struct {
	logger    *slog.Logger
	storePath string
	messages  *recentStore

	mu        sync.Mutex
	container *sqlstore.Container
	client    *whatsmeow.Client

	qrMu     sync.Mutex
	qrCode   string
	loggedIn chan struct{}

	pushMu   sync.Mutex
	pushEmit bridge.EmitFunc
	pushSess *bridge.BasePushSession
}

// New creates a WhatsApp adapter storing device credentials at storePath.
func New(log *slog.Logger, storePath string) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:    log.With(slog.String("adapter", "whatsapp")),
		storePath: storePath,
		messages:  newRecentStore(),
	}
}

// ID returns the WhatsApp provider identifier.
func (a *Adapter) ID() bridge.ProviderID { return Type }

// Descriptor returns the WhatsApp provider metadata.
func (a *Adapter) Descriptor() bridge.Descriptor {
	return bridge.Descriptor{
		ID:          Type,
		DisplayName: "WhatsApp",
		Flow:        bridge.AuthFlowQR,
	}
}

func (a *Adapter) containerLocked(ctx context.Context) (*sqlstore.Container, error) {
	if a.container != nil {
		return a.container, nil
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", a.storePath)
	container, err := sqlstore.New(ctx, "sqlite3", dsn, newWALogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	a.container = container
	return container, nil
}

// Restore reconnects a previously paired device. The token is the device JID
// recorded at pairing time; the credentials themselves live in the sqlite
// store.
func (a *Adapter) Restore(ctx context.Context, token []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	container, err := a.containerLocked(ctx)
	if err != nil {
		return err
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("load device: %w", err)
	}
	if device.ID == nil {
		return bridge.ErrInvalidCredential
	}
	if want, parseErr := types.ParseJID(string(token)); parseErr == nil && !want.IsEmpty() {
		if device.ID.User != want.User {
			return bridge.ErrInvalidCredential
		}
	}
	return a.connectLocked(device, false)
}

// SubmitCredentials starts the QR pairing flow. WhatsApp takes no typed
// credentials; the caller polls QRCode and the login completes when the phone
// scans it.
func (a *Adapter) SubmitCredentials(ctx context.Context, creds bridge.Credentials) (bridge.LoginStep, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	container, err := a.containerLocked(ctx)
	if err != nil {
		return "", err
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return "", fmt.Errorf("load device: %w", err)
	}
	if device.ID != nil {
		// already paired, just reconnect
		if err := a.connectLocked(device, false); err != nil {
			return "", err
		}
		return bridge.StepDone, nil
	}
	if err := a.connectLocked(device, true); err != nil {
		return "", err
	}
	return bridge.StepQRPending, nil
}

// connectLocked builds the client and opens the socket. With wantQR the QR
// channel is drained into qrCode for the pairing flow; whatsmeow requires the
// channel to be obtained before Connect.
func (a *Adapter) connectLocked(device *store.Device, wantQR bool) error {
	if a.client != nil {
		a.client.RemoveEventHandlers()
		a.client.Disconnect()
	}
	client := whatsmeow.NewClient(device, newWALogger(a.logger))
	client.AddEventHandler(a.handleEvent)
	a.client = client
	a.loggedIn = make(chan struct{})

	if wantQR {
		qrChan, err := client.GetQRChannel(context.Background())
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		go a.consumeQR(qrChan)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (a *Adapter) consumeQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			a.qrMu.Lock()
			a.qrCode = item.Code
			a.qrMu.Unlock()
		case "success":
			a.qrMu.Lock()
			a.qrCode = ""
			a.qrMu.Unlock()
		case "timeout":
			a.qrMu.Lock()
			a.qrCode = ""
			a.qrMu.Unlock()
			a.logger.Warn("qr code expired before scan")
		}
	}
}

// QRCode returns the current pairing code, waiting briefly for the first one
// to arrive.
func (a *Adapter) QRCode(ctx context.Context) (string, error) {
	deadline := time.NewTimer(qrWaitTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		a.qrMu.Lock()
		code := a.qrCode
		a.qrMu.Unlock()
		if code != "" {
			return code, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", errors.New("no qr code available")
		case <-tick.C:
		}
	}
}

// WaitLogin blocks until the phone confirms the pairing.
func (a *Adapter) WaitLogin(ctx context.Context) error {
	a.mu.Lock()
	done := a.loggedIn
	a.mu.Unlock()
	if done == nil {
		return bridge.ErrNotConnected
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionToken returns the paired device JID.
func (a *Adapter) SessionToken(ctx context.Context) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil || a.client.Store.ID == nil {
		return nil, bridge.ErrNotConnected
	}
	return []byte(a.client.Store.ID.String()), nil
}

// Logout unpairs the device and wipes its credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}
	if err := a.client.Logout(ctx); err != nil {
		a.logger.Warn("remote logout failed", slog.Any("error", err))
		a.client.Disconnect()
	}
	a.client = nil
	return nil
}

// api returns the connected client or ErrNotConnected.
func (a *Adapter) api() (*whatsmeow.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil || a.client.Store.ID == nil {
		return nil, bridge.ErrNotConnected
	}
	return a.client, nil
}

func (a *Adapter) selfJID() types.JID {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil || a.client.Store.ID == nil {
		return types.EmptyJID
	}
	return *a.client.Store.ID
}

// Subscribe attaches an emitter to the live event stream.
func (a *Adapter) Subscribe(ctx context.Context, emit bridge.EmitFunc) (bridge.PushSession, error) {
	if _, err := a.api(); err != nil {
		return nil, err
	}
	a.pushMu.Lock()
	defer a.pushMu.Unlock()
	sess := bridge.NewPushSession(func() {
		a.pushMu.Lock()
		a.pushEmit = nil
		a.pushSess = nil
		a.pushMu.Unlock()
	})
	a.pushEmit = emit
	a.pushSess = sess
	return sess, nil
}

func (a *Adapter) closePushSession(err error) {
	a.pushMu.Lock()
	sess := a.pushSess
	a.pushEmit = nil
	a.pushSess = nil
	a.pushMu.Unlock()
	if sess != nil {
		sess.Close(err)
	}
}

func (a *Adapter) emitEvent(ev bridge.Event) {
	a.pushMu.Lock()
	emit := a.pushEmit
	a.pushMu.Unlock()
	if emit != nil {
		ev.Provider = Type
		emit(ev)
	}
}

// handleEvent is the whatsmeow event hook.
func (a *Adapter) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		msg, raw := a.convertEvent(v)
		if msg.ID == "" {
			return
		}
		a.messages.add(msg, raw)
		a.emitEvent(bridge.Event{
			Kind:           bridge.EventMessage,
			ConversationID: msg.ConversationID,
			Message:        &msg,
		})
	case *events.Connected:
		a.logger.Info("connected")
		a.mu.Lock()
		done := a.loggedIn
		loggedIn := a.client != nil && a.client.Store.ID != nil
		a.mu.Unlock()
		if loggedIn && done != nil {
			select {
			case <-done:
			default:
				close(done)
			}
		}
	case *events.Disconnected:
		a.logger.Warn("disconnected")
		a.closePushSession(errors.New("whatsapp socket disconnected"))
	case *events.LoggedOut:
		a.logger.Warn("logged out by phone")
		a.closePushSession(bridge.ErrInvalidCredential)
	case *events.StreamError:
		a.logger.Warn("stream error", slog.String("code", v.Code))
	}
}
