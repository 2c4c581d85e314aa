package bridge

import (
	"fmt"
	"strings"
	"sync"
)

// Registry holds all registered provider adapters and exposes capability
// accessors. It must be created via NewRegistry and passed explicitly to
// components that need it.
type Registry struct {
	mu       sync.RWMutex
	adapters map[ProviderID]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: map[ProviderID]Adapter{},
	}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}
	id := normalizeProviderID(adapter.ID().String())
	if id == "" {
		return fmt.Errorf("provider id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[id]; exists {
		return fmt.Errorf("provider already registered: %s", id)
	}
	r.adapters[id] = adapter
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

// Get returns the adapter for the given provider id.
func (r *Registry) Get(provider ProviderID) (Adapter, bool) {
	id := normalizeProviderID(provider.String())
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[id]
	return adapter, ok
}

// List returns all registered adapters.
func (r *Registry) List() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		items = append(items, a)
	}
	return items
}

// IDs returns all registered provider ids.
func (r *Registry) IDs() []ProviderID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]ProviderID, 0, len(r.adapters))
	for id := range r.adapters {
		items = append(items, id)
	}
	return items
}

// ParseProviderID validates and normalizes a raw string into a registered id.
func (r *Registry) ParseProviderID(raw string) (ProviderID, error) {
	id := normalizeProviderID(raw)
	if id == "" {
		return "", fmt.Errorf("unsupported provider: %s", raw)
	}
	if _, ok := r.Get(id); !ok {
		return "", fmt.Errorf("unsupported provider: %s", raw)
	}
	return id, nil
}

// GetDescriptor returns the descriptor for the given provider.
func (r *Registry) GetDescriptor(provider ProviderID) (Descriptor, bool) {
	adapter, ok := r.Get(provider)
	if !ok {
		return Descriptor{}, false
	}
	return adapter.Descriptor(), true
}

// GetAuthenticator returns the Authenticator for the given provider, or nil if unsupported.
func (r *Registry) GetAuthenticator(provider ProviderID) (Authenticator, bool) {
	adapter, ok := r.Get(provider)
	if !ok {
		return nil, false
	}
	authn, ok := adapter.(Authenticator)
	return authn, ok
}

// GetQRAuthenticator returns the QRAuthenticator for the given provider, or nil if unsupported.
func (r *Registry) GetQRAuthenticator(provider ProviderID) (QRAuthenticator, bool) {
	adapter, ok := r.Get(provider)
	if !ok {
		return nil, false
	}
	qr, ok := adapter.(QRAuthenticator)
	return qr, ok
}

// GetLister returns the Lister for the given provider, or nil if unsupported.
func (r *Registry) GetLister(provider ProviderID) (Lister, bool) {
	adapter, ok := r.Get(provider)
	if !ok {
		return nil, false
	}
	lister, ok := adapter.(Lister)
	return lister, ok
}

// GetSender returns the Sender for the given provider, or nil if unsupported.
func (r *Registry) GetSender(provider ProviderID) (Sender, bool) {
	adapter, ok := r.Get(provider)
	if !ok {
		return nil, false
	}
	sender, ok := adapter.(Sender)
	return sender, ok
}

// GetEditor returns the Editor for the given provider, or nil if unsupported.
func (r *Registry) GetEditor(provider ProviderID) (Editor, bool) {
	adapter, ok := r.Get(provider)
	if !ok {
		return nil, false
	}
	editor, ok := adapter.(Editor)
	return editor, ok
}

// GetMediaFetcher returns the MediaFetcher for the given provider, or nil if unsupported.
func (r *Registry) GetMediaFetcher(provider ProviderID) (MediaFetcher, bool) {
	adapter, ok := r.Get(provider)
	if !ok {
		return nil, false
	}
	fetcher, ok := adapter.(MediaFetcher)
	return fetcher, ok
}

// GetEntityFetcher returns the EntityFetcher for the given provider, or nil if unsupported.
func (r *Registry) GetEntityFetcher(provider ProviderID) (EntityFetcher, bool) {
	adapter, ok := r.Get(provider)
	if !ok {
		return nil, false
	}
	fetcher, ok := adapter.(EntityFetcher)
	return fetcher, ok
}

// GetPushSubscriber returns the PushSubscriber for the given provider, or nil if unsupported.
func (r *Registry) GetPushSubscriber(provider ProviderID) (PushSubscriber, bool) {
	adapter, ok := r.Get(provider)
	if !ok {
		return nil, false
	}
	sub, ok := adapter.(PushSubscriber)
	return sub, ok
}

func normalizeProviderID(raw string) ProviderID {
	normalized := strings.TrimSpace(strings.ToLower(raw))
	if normalized == "" {
		return ""
	}
	return ProviderID(normalized)
}
