package credentials

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"atlasauth/internal/auth"
	"atlasauth/internal/events"
	"atlasauth/pkg/logging"
)

// AuthChangeKind distinguishes the two credential change notifications.
type AuthChangeKind int

const (
	AuthChangeUpdated AuthChangeKind = iota
	AuthChangeRemoved
)

func (k AuthChangeKind) String() string {
	switch k {
	case AuthChangeUpdated:
		return "updated"
	case AuthChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// AuthChangeEvent is fired after a credential is saved or removed. Updated
// events carry the site; removed events carry the credential id and product
// so listeners can react without holding a site reference.
type AuthChangeEvent struct {
	Kind         AuthChangeKind
	Site         auth.DetailedSiteInfo
	CredentialID string
	Product      auth.Product
}

var errNoCredentialID = errors.New("site has no credential id")

// Manager stores credentials by product and credential id.
type Manager struct {
	store SecretStore

	mu    sync.RWMutex
	cache map[string][]byte

	changes *events.Emitter[AuthChangeEvent]
}

// NewManager creates a Manager on top of store.
func NewManager(store SecretStore) *Manager {
	return &Manager{
		store:   store,
		cache:   make(map[string][]byte),
		changes: events.NewEmitter[AuthChangeEvent]("auth change"),
	}
}

// OnDidChange registers fn for credential changes.
func (m *Manager) OnDidChange(fn func(AuthChangeEvent)) (unsubscribe func()) {
	return m.changes.On(fn)
}

func secretKey(product auth.Product, credentialID string) string {
	return product.Key + "/" + credentialID
}

// Save stores info for site and fires an updated event.
func (m *Manager) Save(ctx context.Context, site auth.DetailedSiteInfo, info auth.AuthInfo) error {
	if site.CredentialID == "" {
		return &StoreError{Operation: "save", Cause: errNoCredentialID}
	}

	data, err := auth.MarshalAuthInfo(info)
	if err != nil {
		return &StoreError{Operation: "save", CredentialID: site.CredentialID, Cause: err}
	}

	key := secretKey(site.Product, site.CredentialID)
	if err := m.store.Set(ctx, key, string(data)); err != nil {
		return &StoreError{Operation: "save", CredentialID: site.CredentialID, Cause: err}
	}

	m.mu.Lock()
	m.cache[key] = data
	m.mu.Unlock()

	logging.Audit("Credentials", "credential_saved",
		slog.String("credential_id", site.CredentialID),
		slog.String("product", site.Product.Key),
		slog.String("host", site.Host),
		slog.String("type", auth.Kind(info)),
	)

	m.changes.Fire(AuthChangeEvent{
		Kind:         AuthChangeUpdated,
		Site:         site,
		CredentialID: site.CredentialID,
		Product:      site.Product,
	})
	return nil
}

// Get returns the stored credential for site, or nil when there is none.
// With allowCache the in-memory copy from a previous Save or Get is used.
func (m *Manager) Get(ctx context.Context, site auth.DetailedSiteInfo, allowCache bool) (auth.AuthInfo, error) {
	if site.CredentialID == "" {
		return nil, nil
	}

	key := secretKey(site.Product, site.CredentialID)
	if allowCache {
		m.mu.RLock()
		data, ok := m.cache[key]
		m.mu.RUnlock()
		if ok {
			info, err := auth.UnmarshalAuthInfo(data)
			if err == nil {
				return info, nil
			}
		}
	}

	value, found, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, &StoreError{Operation: "get", CredentialID: site.CredentialID, Cause: err}
	}
	if !found {
		m.mu.Lock()
		delete(m.cache, key)
		m.mu.Unlock()
		return nil, nil
	}

	info, err := auth.UnmarshalAuthInfo([]byte(value))
	if err != nil {
		return nil, &StoreError{Operation: "get", CredentialID: site.CredentialID, Cause: err}
	}

	m.mu.Lock()
	m.cache[key] = []byte(value)
	m.mu.Unlock()

	return info, nil
}

// Remove deletes the credential for site. A removed event is fired only
// when something was actually deleted.
func (m *Manager) Remove(ctx context.Context, site auth.DetailedSiteInfo) (bool, error) {
	if site.CredentialID == "" {
		return false, nil
	}

	key := secretKey(site.Product, site.CredentialID)
	removed, err := m.store.Delete(ctx, key)
	if err != nil {
		return false, &StoreError{Operation: "remove", CredentialID: site.CredentialID, Cause: err}
	}

	m.mu.Lock()
	_, cached := m.cache[key]
	delete(m.cache, key)
	m.mu.Unlock()

	if !removed && !cached {
		return false, nil
	}

	logging.Audit("Credentials", "credential_removed",
		slog.String("credential_id", site.CredentialID),
		slog.String("product", site.Product.Key),
	)

	m.changes.Fire(AuthChangeEvent{
		Kind:         AuthChangeRemoved,
		CredentialID: site.CredentialID,
		Product:      site.Product,
	})
	return true, nil
}

// UpdateState flips the state of the stored credential for site and saves
// it. It does nothing when no credential is stored.
func (m *Manager) UpdateState(ctx context.Context, site auth.DetailedSiteInfo, state auth.AuthInfoState) error {
	info, err := m.Get(ctx, site, false)
	if err != nil {
		return err
	}
	if info == nil || info.Base().State == state {
		return nil
	}

	logging.Info("Credentials", "Marking credential %s for %s as %s", site.CredentialID, site.Host, state)
	info.Base().State = state
	return m.Save(ctx, site, info)
}
