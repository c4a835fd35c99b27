package login

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"atlasauth/internal/auth"
	"atlasauth/internal/authenticator"
	"atlasauth/internal/strategy"
	"atlasauth/pkg/logging"
)

// RemoteSite is the placeholder site used by the remote OAuth flow, whose
// real sites are only known from the accessible resources.
var RemoteSite = auth.SiteInfo{Host: "remote.atlassian.net", Product: auth.ProductJira}

// Config holds the collaborators of a Manager. Notifier, Analytics and
// Tokens are optional.
type Config struct {
	Catalog        authenticator.PropsSource
	Dancer         Dancer
	Authenticators AuthenticatorFactory
	Credentials    CredentialStore
	Sites          SiteRegistry
	HTTPClients    HTTPClientSource
	Tokens         TokenSource
	Notifier       Notifier
	Analytics      Analytics

	// TokenRefreshSchedule is the cron spec of the git token refresh.
	// Defaults to DefaultTokenRefreshSchedule.
	TokenRefreshSchedule string
}

// Manager runs login attempts.
type Manager struct {
	catalog        authenticator.PropsSource
	dancer         Dancer
	authenticators AuthenticatorFactory
	creds          CredentialStore
	sites          SiteRegistry
	httpClients    HTTPClientSource
	tokens         TokenSource
	notifier       Notifier
	analytics      Analytics

	mu            sync.Mutex
	seq           uint64
	last          *attempt
	stateCallback StateChangeCallback

	tokenGroup      singleflight.Group
	cron            *cron.Cron
	refreshSchedule string
	refreshEntry    cron.EntryID
	cronStarted     bool
	closed          bool
}

// NewManager creates a login manager.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		catalog:         cfg.Catalog,
		dancer:          cfg.Dancer,
		authenticators:  cfg.Authenticators,
		creds:           cfg.Credentials,
		sites:           cfg.Sites,
		httpClients:     cfg.HTTPClients,
		tokens:          cfg.Tokens,
		notifier:        cfg.Notifier,
		analytics:       cfg.Analytics,
		cron:            cron.New(),
		refreshSchedule: cfg.TokenRefreshSchedule,
	}
	if m.notifier == nil {
		m.notifier = nopNotifier{}
	}
	if m.analytics == nil {
		m.analytics = nopAnalytics{}
	}
	if m.refreshSchedule == "" {
		m.refreshSchedule = DefaultTokenRefreshSchedule
	}
	return m
}

// SetStateChangeCallback registers fn for attempt transitions.
func (m *Manager) SetStateChangeCallback(fn StateChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateCallback = fn
}

// LastAttempt returns the most recent login attempt.
func (m *Manager) LastAttempt() (Attempt, bool) {
	m.mu.Lock()
	last := m.last
	m.mu.Unlock()
	if last == nil {
		return Attempt{}, false
	}
	return last.get(), true
}

func (m *Manager) startAttempt(kind AttemptKind, host string) *attempt {
	m.mu.Lock()
	m.seq++
	a := &attempt{
		snapshot: Attempt{
			ID:        m.seq,
			Kind:      kind,
			Host:      host,
			State:     StateIdle,
			History:   []LoginState{StateIdle},
			StartedAt: time.Now(),
		},
		callback: m.stateCallback,
	}
	m.last = a
	m.mu.Unlock()
	return a
}

// UserInitiatedOAuthLogin runs the interactive OAuth login for site and
// saves every site the grant gives access to. callback, when set, is
// where the browser goes after success.
func (m *Manager) UserInitiatedOAuthLogin(ctx context.Context, site auth.SiteInfo, callback string, opts LoginOptions) error {
	a := m.startAttempt(AttemptOAuth, site.Host)

	provider, ok := strategy.ProviderForSite(site)
	if !ok {
		err := &NoProviderError{Host: site.Host}
		logging.Error("Login", err, "Cannot start OAuth login")
		m.notifier.ShowError(err.Error())
		return a.fail(err)
	}

	a.transition(StateDancingOAuth, nil)

	resp, err := m.dancer.DoDance(ctx, provider, site, callback)
	if err != nil {
		logging.Error("Login", err, "OAuth dance with %s failed", provider)
		m.notifier.ShowError(fmt.Sprintf("Error authenticating with %s: %v", site.Product.Name, err))
		return a.fail(err)
	}

	_, err = m.saveDetails(ctx, a, provider, resp, opts)
	return err
}

// InitRemoteAuth starts a remote OAuth flow and returns the URL the user
// must visit together with the flow state.
func (m *Manager) InitRemoteAuth(ctx context.Context, state string) (authURL, flowState string, err error) {
	authURL, flowState, err = m.dancer.DoInitRemoteDance(ctx, state)
	if err != nil {
		logging.Error("Login", err, "Failed to start remote OAuth flow")
		return "", "", err
	}
	return authURL, flowState, nil
}

// FinishRemoteAuth completes the remote flow identified by state with
// the authorization code the redirect delivered.
func (m *Manager) FinishRemoteAuth(ctx context.Context, code, state string) ([]auth.DetailedSiteInfo, error) {
	a := m.startAttempt(AttemptRemoteOAuth, RemoteSite.Host)
	a.transition(StateDancingOAuth, nil)

	resp, err := m.dancer.DoFinishRemoteDance(ctx, strategy.JiraCloudRemote, RemoteSite, code, state)
	if err != nil {
		logging.Error("Login", err, "Remote OAuth flow failed")
		m.notifier.ShowError(fmt.Sprintf("Error authenticating with %s: %v", RemoteSite.Product.Name, err))
		return nil, a.fail(err)
	}

	return m.saveDetails(ctx, a, strategy.JiraCloudRemote, resp, LoginOptions{IsOnboarding: false})
}

// SaveDetails resolves the sites of resp and persists their credentials
// and registrations.
func (m *Manager) SaveDetails(ctx context.Context, provider strategy.OAuthProvider, resp *auth.OAuthResponse, opts LoginOptions) ([]auth.DetailedSiteInfo, error) {
	a := m.startAttempt(AttemptOAuth, string(provider))
	return m.saveDetails(ctx, a, provider, resp, opts)
}

func (m *Manager) saveDetails(ctx context.Context, a *attempt, provider strategy.OAuthProvider, resp *auth.OAuthResponse, opts LoginOptions) ([]auth.DetailedSiteInfo, error) {
	a.transition(StateResourceEnrichment, nil)

	product, sites, err := m.resolveSites(ctx, provider, resp)
	if err != nil {
		logging.Error("Login", err, "Failed to resolve sites for %s", provider)
		m.notifier.ShowError(fmt.Sprintf("Error authenticating with %s: %v", product.Name, err))
		return nil, a.fail(err)
	}

	a.transition(StatePersisting, nil)

	info := oauthInfo(resp)
	var g errgroup.Group
	for _, site := range sites {
		g.Go(func() error {
			if err := m.creds.Save(ctx, site, info); err != nil {
				return err
			}
			if err := m.sites.AddSites([]auth.DetailedSiteInfo{site}); err != nil {
				return err
			}
			m.analytics.Authenticated(site, opts.IsOnboarding, opts.Source)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logging.Error("Login", err, "Failed to save %s sites", provider)
		m.notifier.ShowError(fmt.Sprintf("Error authenticating with %s: %v", product.Name, err))
		return nil, a.fail(err)
	}

	a.transition(StateDone, nil)
	logging.Info("Login", "Authenticated %d %s site(s) for user %s", len(sites), product.Name, resp.User.ID)
	return sites, nil
}

func (m *Manager) resolveSites(ctx context.Context, provider strategy.OAuthProvider, resp *auth.OAuthResponse) (auth.Product, []auth.DetailedSiteInfo, error) {
	props, err := m.catalog.Props(provider)
	if err != nil {
		return auth.Product{}, nil, err
	}
	authn, err := m.authenticators(props.Product)
	if err != nil {
		return props.Product, nil, err
	}
	sites, err := authn.GetOAuthSiteDetails(ctx, provider, resp.User.ID, resp.Access, resp.AccessibleResources)
	return props.Product, sites, err
}

func oauthInfo(resp *auth.OAuthResponse) *auth.OAuthInfo {
	return &auth.OAuthInfo{
		AuthInfoBase: auth.AuthInfoBase{
			State: auth.StateValid,
			User:  resp.User,
		},
		Access:         resp.Access,
		Refresh:        resp.Refresh,
		IssuedAt:       resp.IssuedAt,
		ExpirationDate: resp.ExpirationDate,
		ReceivedAt:     resp.ReceivedAt,
	}
}

// Logout removes site and its credential. Logging out of the Bitbucket
// cloud site also stops the git token refresh.
func (m *Manager) Logout(ctx context.Context, site auth.DetailedSiteInfo) (bool, error) {
	removed, err := m.sites.RemoveSite(ctx, site)
	if err != nil {
		return false, err
	}

	if site.Product.Key == auth.ProductBitbucket.Key && site.IsCloud {
		m.stopTokenRefresh()
	}

	if removed {
		logging.Info("Login", "Logged out of %s (%s)", site.Host, site.Product.Name)
	}
	return removed, nil
}

// Close stops scheduled work and waits for a running job to finish.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.cronStarted
	m.mu.Unlock()

	if started {
		<-m.cron.Stop().Done()
	}
	logging.Debug("Login", "Login manager closed")
	return nil
}
