package sites

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"atlasauth/internal/auth"
	"atlasauth/internal/credentials"
	"atlasauth/internal/events"
	"atlasauth/internal/kvstore"
	"atlasauth/pkg/logging"
)

// SitesChangeEvent is fired after a product's site collection changes.
// NewSites is non-empty only when AddSites actually appended sites.
type SitesChangeEvent struct {
	Product  auth.Product
	Sites    []auth.DetailedSiteInfo
	NewSites []auth.DetailedSiteInfo
}

// CredentialRemover is the part of the credential store the registry
// cascades into when a site is removed.
type CredentialRemover interface {
	Remove(ctx context.Context, site auth.DetailedSiteInfo) (bool, error)
}

// MirrorsFunc returns the mirror hostnames serving the same content as
// site, for example Bitbucket smart mirrors.
type MirrorsFunc func(site auth.DetailedSiteInfo) []string

// Option configures a Registry.
type Option func(*Registry)

// WithMirrors sets the mirror lookup used by SiteForHostname for product.
func WithMirrors(product auth.Product, fn MirrorsFunc) Option {
	return func(r *Registry) {
		r.mirrors[product.Key] = fn
	}
}

// Registry is the durable list of known sites per product.
//
// Mutations hold one lock across read, merge and write, write to the store
// before updating the cache, and fire events after the lock is released.
type Registry struct {
	store kvstore.Store
	creds CredentialRemover

	mu      sync.Mutex
	cache   map[string][]auth.DetailedSiteInfo
	mirrors map[string]MirrorsFunc

	changes *events.Emitter[SitesChangeEvent]
}

// NewRegistry creates a registry persisted in store.
func NewRegistry(store kvstore.Store, creds CredentialRemover, opts ...Option) *Registry {
	r := &Registry{
		store:   store,
		creds:   creds,
		cache:   make(map[string][]auth.DetailedSiteInfo),
		mirrors: make(map[string]MirrorsFunc),
		changes: events.NewEmitter[SitesChangeEvent]("sites change"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sitesKey(product auth.Product) string {
	return product.Key + ".sites"
}

func defaultSiteKey(product auth.Product) string {
	return product.Key + ".defaultSite"
}

// OnDidChange registers fn for site collection changes.
func (r *Registry) OnDidChange(fn func(SitesChangeEvent)) (unsubscribe func()) {
	return r.changes.On(fn)
}

// loadLocked returns the cached collection for product, hydrating it from
// the store on first access. The caller must hold r.mu.
func (r *Registry) loadLocked(product auth.Product) ([]auth.DetailedSiteInfo, error) {
	if sites, ok := r.cache[product.Key]; ok {
		return sites, nil
	}

	var sites []auth.DetailedSiteInfo
	if _, err := r.store.Get(sitesKey(product), &sites); err != nil {
		return nil, fmt.Errorf("failed to load %s sites: %w", product.Key, err)
	}
	r.cache[product.Key] = sites
	return sites, nil
}

// saveLocked writes sites through to the store and then to the cache.
func (r *Registry) saveLocked(product auth.Product, sites []auth.DetailedSiteInfo) error {
	if sites == nil {
		sites = []auth.DetailedSiteInfo{}
	}
	if err := r.store.Set(sitesKey(product), sites); err != nil {
		return fmt.Errorf("failed to save %s sites: %w", product.Key, err)
	}
	r.cache[product.Key] = sites
	return nil
}

func cloneSites(sites []auth.DetailedSiteInfo) []auth.DetailedSiteInfo {
	out := make([]auth.DetailedSiteInfo, len(sites))
	copy(out, sites)
	return out
}

func indexOfIdentity(sites []auth.DetailedSiteInfo, site auth.DetailedSiteInfo) int {
	for i, s := range sites {
		if s.SameIdentity(site) {
			return i
		}
	}
	return -1
}

// AddSites appends the sites not already known by (id, userId). A change
// event is fired per product only when at least one site was added.
func (r *Registry) AddSites(sites []auth.DetailedSiteInfo) error {
	byProduct := make(map[string][]auth.DetailedSiteInfo)
	var order []auth.Product
	for _, s := range sites {
		if _, ok := byProduct[s.Product.Key]; !ok {
			order = append(order, s.Product)
		}
		byProduct[s.Product.Key] = append(byProduct[s.Product.Key], s)
	}

	for _, product := range order {
		if err := r.addProductSites(product, byProduct[product.Key]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) addProductSites(product auth.Product, candidates []auth.DetailedSiteInfo) error {
	r.mu.Lock()
	existing, err := r.loadLocked(product)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	merged := cloneSites(existing)
	var added []auth.DetailedSiteInfo
	for _, s := range candidates {
		if indexOfIdentity(merged, s) >= 0 {
			continue
		}
		merged = append(merged, s)
		added = append(added, s)
	}

	if len(added) == 0 {
		r.mu.Unlock()
		return nil
	}

	if err := r.saveLocked(product, merged); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	logging.Info("Sites", "Added %d %s site(s)", len(added), product.Name)
	r.changes.Fire(SitesChangeEvent{Product: product, Sites: cloneSites(merged), NewSites: added})
	return nil
}

// UpdateSite replaces the entry matching old by (id, userId) with updated.
// It reports whether an entry was replaced.
func (r *Registry) UpdateSite(old, updated auth.DetailedSiteInfo) (bool, error) {
	product := updated.Product

	r.mu.Lock()
	existing, err := r.loadLocked(product)
	if err != nil {
		r.mu.Unlock()
		return false, err
	}

	idx := indexOfIdentity(existing, old)
	if idx < 0 {
		r.mu.Unlock()
		logging.Debug("Sites", "No %s site %s for user %s to update", product.Name, old.ID, old.UserID)
		return false, nil
	}

	merged := cloneSites(existing)
	merged[idx] = updated
	if err := r.saveLocked(product, merged); err != nil {
		r.mu.Unlock()
		return false, err
	}
	r.mu.Unlock()

	logging.Debug("Sites", "Updated %s site %s", product.Name, updated.Host)
	r.changes.Fire(SitesChangeEvent{Product: product, Sites: cloneSites(merged)})
	return true, nil
}

// AddOrUpdateSite updates site in place when its identity is already known
// and adds it otherwise.
func (r *Registry) AddOrUpdateSite(site auth.DetailedSiteInfo) error {
	updated, err := r.UpdateSite(site, site)
	if err != nil || updated {
		return err
	}
	return r.AddSites([]auth.DetailedSiteInfo{site})
}

// RemoveSite removes the site with the same host, removes its credential
// and clears the default-site preference if it pointed at it. It reports
// false when no site matched.
func (r *Registry) RemoveSite(ctx context.Context, site auth.DetailedSiteInfo) (bool, error) {
	product := site.Product

	r.mu.Lock()
	existing, err := r.loadLocked(product)
	if err != nil {
		r.mu.Unlock()
		return false, err
	}

	idx := -1
	for i, s := range existing {
		if s.Host == site.Host {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return false, nil
	}

	removed := existing[idx]
	remaining := make([]auth.DetailedSiteInfo, 0, len(existing)-1)
	remaining = append(remaining, existing[:idx]...)
	remaining = append(remaining, existing[idx+1:]...)

	if err := r.saveLocked(product, remaining); err != nil {
		r.mu.Unlock()
		return false, err
	}
	r.mu.Unlock()

	logging.Info("Sites", "Removed %s site %s", product.Name, removed.Host)
	r.changes.Fire(SitesChangeEvent{Product: product, Sites: cloneSites(remaining)})

	r.clearDefaultIf(product, []auth.DetailedSiteInfo{removed})

	if r.creds != nil {
		if _, err := r.creds.Remove(ctx, removed); err != nil {
			return true, fmt.Errorf("site removed but credential removal failed: %w", err)
		}
	}
	return true, nil
}

// HandleCredentialChange removes every site whose credential was removed
// and fires one aggregated change event. Register it on the credential
// manager's change events.
func (r *Registry) HandleCredentialChange(e credentials.AuthChangeEvent) {
	if e.Kind != credentials.AuthChangeRemoved {
		return
	}

	r.mu.Lock()
	existing, err := r.loadLocked(e.Product)
	if err != nil {
		r.mu.Unlock()
		logging.Error("Sites", err, "Failed to load sites for removed credential %s", e.CredentialID)
		return
	}

	var dead, remaining []auth.DetailedSiteInfo
	for _, s := range existing {
		if s.CredentialID == e.CredentialID {
			dead = append(dead, s)
		} else {
			remaining = append(remaining, s)
		}
	}
	if len(dead) == 0 {
		r.mu.Unlock()
		return
	}

	if err := r.saveLocked(e.Product, remaining); err != nil {
		r.mu.Unlock()
		logging.Error("Sites", err, "Failed to remove sites for credential %s", e.CredentialID)
		return
	}
	r.mu.Unlock()

	logging.Info("Sites", "Removed %d %s site(s) after credential %s was removed", len(dead), e.Product.Name, e.CredentialID)
	r.clearDefaultIf(e.Product, dead)
	r.changes.Fire(SitesChangeEvent{Product: e.Product, Sites: cloneSites(remaining)})
}

func (r *Registry) clearDefaultIf(product auth.Product, removed []auth.DetailedSiteInfo) {
	current, ok := r.DefaultSite(product)
	if !ok {
		return
	}
	for _, s := range removed {
		if s.ID == current {
			if err := r.store.Delete(defaultSiteKey(product)); err != nil {
				logging.Warn("Sites", "Failed to clear default %s site: %v", product.Name, err)
			}
			return
		}
	}
}

// SitesAvailable returns a copy of the known sites for product.
func (r *Registry) SitesAvailable(product auth.Product) []auth.DetailedSiteInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	sites, err := r.loadLocked(product)
	if err != nil {
		logging.Error("Sites", err, "Failed to read %s sites", product.Name)
		return nil
	}
	return cloneSites(sites)
}

// ProductHasSites reports whether any site is known for product.
func (r *Registry) ProductHasSites(product auth.Product) bool {
	return len(r.SitesAvailable(product)) > 0
}

// SiteForID returns the site with the given id.
func (r *Registry) SiteForID(product auth.Product, id string) (auth.DetailedSiteInfo, bool) {
	for _, s := range r.SitesAvailable(product) {
		if s.ID == id {
			return s, true
		}
	}
	return auth.DetailedSiteInfo{}, false
}

// SiteForHostname finds a site by host, falling back to a partial host
// match and then to the product's mirror hosts.
func (r *Registry) SiteForHostname(product auth.Product, hostname string) (auth.DetailedSiteInfo, bool) {
	hostname = strings.ToLower(hostname)
	sites := r.SitesAvailable(product)

	for _, s := range sites {
		if strings.EqualFold(s.Host, hostname) {
			return s, true
		}
	}
	for _, s := range sites {
		if strings.Contains(strings.ToLower(s.Host), hostname) {
			return s, true
		}
	}

	r.mu.Lock()
	mirrors := r.mirrors[product.Key]
	r.mu.Unlock()
	if mirrors == nil {
		return auth.DetailedSiteInfo{}, false
	}
	for _, s := range sites {
		for _, m := range mirrors(s) {
			if strings.EqualFold(m, hostname) {
				return s, true
			}
		}
	}
	return auth.DetailedSiteInfo{}, false
}

// FirstSite returns the first known site for product.
func (r *Registry) FirstSite(product auth.Product) (auth.DetailedSiteInfo, bool) {
	sites := r.SitesAvailable(product)
	if len(sites) == 0 {
		return auth.DetailedSiteInfo{}, false
	}
	return sites[0], true
}

// FirstAAID returns the user id of the first cloud site. Without arguments
// Jira is consulted before Bitbucket.
func (r *Registry) FirstAAID(products ...auth.Product) string {
	if len(products) == 0 {
		products = auth.Products
	}
	for _, p := range products {
		for _, s := range r.SitesAvailable(p) {
			if s.IsCloud && s.UserID != "" {
				return s.UserID
			}
		}
	}
	return ""
}

// SetDefaultSite records the last used site for product.
func (r *Registry) SetDefaultSite(product auth.Product, siteID string) error {
	if err := r.store.Set(defaultSiteKey(product), siteID); err != nil {
		return fmt.Errorf("failed to save default %s site: %w", product.Key, err)
	}
	return nil
}

// DefaultSite returns the last used site id for product.
func (r *Registry) DefaultSite(product auth.Product) (string, bool) {
	var id string
	found, err := r.store.Get(defaultSiteKey(product), &id)
	if err != nil {
		logging.Warn("Sites", "Failed to read default %s site: %v", product.Name, err)
		return "", false
	}
	return id, found && id != ""
}

// Reload drops the cache and re-announces every product's sites. It is
// used when the backing store was changed by another process.
func (r *Registry) Reload() {
	r.mu.Lock()
	r.cache = make(map[string][]auth.DetailedSiteInfo)
	r.mu.Unlock()

	logging.Debug("Sites", "Reloading sites from store")
	for _, p := range auth.Products {
		r.changes.Fire(SitesChangeEvent{Product: p, Sites: r.SitesAvailable(p)})
	}
}
