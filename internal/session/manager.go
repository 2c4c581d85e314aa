package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loomchat/loom/internal/bridge"
)

const restoreAttempts = 3

type sessionState struct {
	state    bridge.AuthState
	lastAuth time.Time
}

// Manager owns the auth state machine of every registered provider. Only the
// ready state permits ingestion and gateway operations; every transition is
// published as a session_status event.
type Manager struct {
	logger   *slog.Logger
	registry *bridge.Registry
	store    *Store
	grace    time.Duration
	backoff  time.Duration

	mu       sync.Mutex
	sessions map[bridge.ProviderID]*sessionState
	notify   bridge.EmitFunc
}

// NewManager creates a Manager with every registered provider in the
// unconfigured state.
func NewManager(log *slog.Logger, registry *bridge.Registry, store *Store, grace, backoff time.Duration) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		logger:   log.With(slog.String("component", "session")),
		registry: registry,
		store:    store,
		grace:    grace,
		backoff:  backoff,
		sessions: map[bridge.ProviderID]*sessionState{},
	}
	for _, id := range registry.IDs() {
		m.sessions[id] = &sessionState{state: bridge.StateUnconfigured}
	}
	return m
}

// SetNotifier installs the sink for session_status events.
func (m *Manager) SetNotifier(notify bridge.EmitFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify = notify
}

// State returns the current auth state for the provider.
func (m *Manager) State(provider bridge.ProviderID) bridge.AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.sessions[provider]; ok {
		return st.state
	}
	return bridge.StateUnconfigured
}

// RequireReady fails with ErrNotConnected unless the provider session is ready.
func (m *Manager) RequireReady(provider bridge.ProviderID) error {
	if m.State(provider) != bridge.StateReady {
		return bridge.ErrNotConnected
	}
	return nil
}

// Statuses returns the auth snapshot of every registered provider.
func (m *Manager) Statuses() []bridge.SessionStatus {
	out := make([]bridge.SessionStatus, 0, len(m.registry.IDs()))
	for _, adapter := range m.registry.List() {
		desc := adapter.Descriptor()
		m.mu.Lock()
		st := m.sessions[desc.ID]
		status := bridge.SessionStatus{
			Provider:    desc.ID,
			DisplayName: desc.DisplayName,
			Flow:        desc.Flow,
		}
		if st != nil {
			status.State = st.state
			status.LastAuthenticatedAt = st.lastAuth
		} else {
			status.State = bridge.StateUnconfigured
		}
		m.mu.Unlock()
		out = append(out, status)
	}
	return out
}

func (m *Manager) setState(provider bridge.ProviderID, state bridge.AuthState) {
	m.mu.Lock()
	st, ok := m.sessions[provider]
	if !ok {
		st = &sessionState{}
		m.sessions[provider] = st
	}
	if st.state == state {
		m.mu.Unlock()
		return
	}
	st.state = state
	if state == bridge.StateReady {
		st.lastAuth = time.Now().UTC()
	}
	notify := m.notify
	m.mu.Unlock()

	m.logger.Info("session state changed",
		slog.String("provider", provider.String()),
		slog.String("state", string(state)),
	)
	if notify != nil {
		notify(bridge.Event{
			Kind:     bridge.EventSessionStatus,
			Provider: provider,
			State:    state,
		})
	}
}

// RestoreAll attempts a silent restore of every provider that supports
// authentication, concurrently. It returns once all attempts finished.
func (m *Manager) RestoreAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, id := range m.registry.IDs() {
		authn, ok := m.registry.GetAuthenticator(id)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(id bridge.ProviderID, authn bridge.Authenticator) {
			defer wg.Done()
			m.restore(ctx, id, authn)
		}(id, authn)
	}
	wg.Wait()
}

func (m *Manager) restore(ctx context.Context, provider bridge.ProviderID, authn bridge.Authenticator) {
	token, err := m.store.Load(provider)
	if err != nil {
		m.logger.Warn("session token load failed",
			slog.String("provider", provider.String()), slog.Any("error", err))
	}
	if len(token) == 0 {
		m.setState(provider, bridge.StateAwaitingInput)
		return
	}

	m.setState(provider, bridge.StateAuthenticating)
	// The grace window covers the whole restore, handshake included, so a
	// slow reconnect is not mistaken for an expired session.
	restoreCtx, cancel := context.WithTimeout(ctx, m.grace)
	defer cancel()

	delay := m.backoff
	for attempt := 1; ; attempt++ {
		err = authn.Restore(restoreCtx, token)
		if err == nil {
			m.persist(ctx, provider, authn)
			m.setState(provider, bridge.StateReady)
			return
		}
		if errors.Is(err, bridge.ErrInvalidCredential) {
			m.logger.Info("persisted session rejected, archiving",
				slog.String("provider", provider.String()))
			_ = m.store.Archive(provider)
			m.setState(provider, bridge.StateAwaitingInput)
			return
		}
		if attempt >= restoreAttempts || restoreCtx.Err() != nil {
			break
		}
		m.logger.Warn("session restore failed, retrying",
			slog.String("provider", provider.String()),
			slog.Int("attempt", attempt), slog.Any("error", err))
		select {
		case <-restoreCtx.Done():
		case <-time.After(delay):
		}
		delay *= 2
	}

	// Token kept: the failure looked transient, a later login or restart may
	// still succeed with it.
	m.logger.Warn("session restore gave up",
		slog.String("provider", provider.String()), slog.Any("error", err))
	m.setState(provider, bridge.StateDisconnected)
}

// Login advances the provider's login flow with the supplied credentials and
// returns the next step. QR flows complete asynchronously; the manager waits
// for the scan in the background and publishes the resulting state change.
func (m *Manager) Login(ctx context.Context, provider bridge.ProviderID, creds bridge.Credentials) (bridge.LoginStep, error) {
	authn, ok := m.registry.GetAuthenticator(provider)
	if !ok {
		return "", bridge.ErrNotConnected
	}

	m.setState(provider, bridge.StateAuthenticating)
	step, err := authn.SubmitCredentials(ctx, creds)
	if err != nil {
		m.setState(provider, bridge.StateAwaitingInput)
		return "", err
	}

	switch step {
	case bridge.StepDone:
		m.persist(ctx, provider, authn)
		m.setState(provider, bridge.StateReady)
	case bridge.StepQRPending:
		qr, ok := authn.(bridge.QRAuthenticator)
		if !ok {
			m.setState(provider, bridge.StateAwaitingInput)
			return "", bridge.WrapProvider(provider, "login", errors.New("qr step from non-qr adapter"))
		}
		go m.awaitQRLogin(provider, authn, qr)
	default:
		// More input pending, stay in authenticating so the UI knows the
		// flow is mid-way.
	}
	return step, nil
}

func (m *Manager) awaitQRLogin(provider bridge.ProviderID, authn bridge.Authenticator, qr bridge.QRAuthenticator) {
	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := qr.WaitLogin(waitCtx); err != nil {
		m.logger.Warn("qr login did not complete",
			slog.String("provider", provider.String()), slog.Any("error", err))
		m.setState(provider, bridge.StateAwaitingInput)
		return
	}
	m.persist(waitCtx, provider, authn)
	m.setState(provider, bridge.StateReady)
}

// QRCode returns the current QR pairing payload for the provider.
func (m *Manager) QRCode(ctx context.Context, provider bridge.ProviderID) (string, error) {
	qr, ok := m.registry.GetQRAuthenticator(provider)
	if !ok {
		return "", bridge.ErrNotConnected
	}
	return qr.QRCode(ctx)
}

// Logout invalidates the provider session and deletes the persisted token.
// Full re-authentication is required afterwards.
func (m *Manager) Logout(ctx context.Context, provider bridge.ProviderID) error {
	authn, ok := m.registry.GetAuthenticator(provider)
	if !ok {
		return bridge.ErrNotConnected
	}
	if err := authn.Logout(ctx); err != nil {
		m.logger.Warn("provider logout failed",
			slog.String("provider", provider.String()), slog.Any("error", err))
	}
	if err := m.store.Delete(provider); err != nil {
		return err
	}
	m.setState(provider, bridge.StateLoggedOut)
	return nil
}

// MarkDisconnected records a provider-reported connection loss.
func (m *Manager) MarkDisconnected(provider bridge.ProviderID) {
	if m.State(provider) == bridge.StateReady {
		m.setState(provider, bridge.StateDisconnected)
	}
}

// MarkReady records a provider-reported reconnect.
func (m *Manager) MarkReady(provider bridge.ProviderID) {
	m.setState(provider, bridge.StateReady)
}

// PersistAll snapshots the session token of every ready provider. Called on
// shutdown before outstanding provider calls are cancelled.
func (m *Manager) PersistAll(ctx context.Context) {
	for _, id := range m.registry.IDs() {
		if m.State(id) != bridge.StateReady {
			continue
		}
		authn, ok := m.registry.GetAuthenticator(id)
		if !ok {
			continue
		}
		m.persist(ctx, id, authn)
	}
}

func (m *Manager) persist(ctx context.Context, provider bridge.ProviderID, authn bridge.Authenticator) {
	token, err := authn.SessionToken(ctx)
	if err != nil || len(token) == 0 {
		if err != nil {
			m.logger.Warn("session token snapshot failed",
				slog.String("provider", provider.String()), slog.Any("error", err))
		}
		return
	}
	if err := m.store.Save(provider, token); err != nil {
		m.logger.Warn("session token persist failed",
			slog.String("provider", provider.String()), slog.Any("error", err))
	}
}
